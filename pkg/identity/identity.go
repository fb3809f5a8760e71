// Package identity derives session, application, and thread identity from
// call-room names and carries the one-time relink from the local session id
// to the gateway-assigned external record id.
package identity

import (
	"strings"
	"sync"

	"github.com/google/uuid"
)

// RoomPrefix is the naming convention marker for interview rooms.
const RoomPrefix = "interview-"

// SessionIdentity links a transient call session to a durable external
// record. ThreadID starts equal to SessionID and is replaced exactly once,
// by Relink, when recording linkage succeeds.
type SessionIdentity struct {
	RoomID        string
	ApplicationID string
	SessionID     string

	mu       sync.Mutex
	threadID string
	linked   bool
}

// NewSessionIdentity builds an identity with a fresh session id. The thread
// id starts equal to the session id.
func NewSessionIdentity(roomID, applicationID string) *SessionIdentity {
	sid := uuid.NewString()
	return &SessionIdentity{
		RoomID:        roomID,
		ApplicationID: applicationID,
		SessionID:     sid,
		threadID:      sid,
	}
}

// ThreadID returns the current persistence/linkage key.
func (s *SessionIdentity) ThreadID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.threadID
}

// Linked reports whether the thread id has been replaced by an external
// record id.
func (s *SessionIdentity) Linked() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.linked
}

// Relink replaces the thread id with the external record id. Only the first
// call takes effect; it returns true when the replacement happened. Empty
// record ids are ignored.
func (s *SessionIdentity) Relink(externalRecordID string) bool {
	if externalRecordID == "" {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.linked {
		return false
	}
	s.threadID = externalRecordID
	s.linked = true
	return true
}

// ExtractApplicationID parses the application UUID out of a room name
// following the interview-{uuid}-{suffix} convention. The five
// hyphen-delimited groups after the prefix form the UUID (8-4-4-4-12).
// Non-matching names return ok=false.
func ExtractApplicationID(roomName string) (string, bool) {
	if !strings.HasPrefix(roomName, RoomPrefix) {
		return "", false
	}
	parts := strings.Split(roomName[len(RoomPrefix):], "-")
	if len(parts) < 5 {
		return "", false
	}
	candidate := strings.Join(parts[:5], "-")
	if _, err := uuid.Parse(candidate); err != nil {
		return "", false
	}
	return candidate, true
}
