// Package state holds the durable conversation checkpoint model and its
// store backends. One snapshot is kept per thread id; commits merge an
// explicit delta so fields never vanish by omission.
package state

import (
	"encoding/json"
	"time"

	"github.com/husainf4l/rolevatev7/pkg/core"
)

// Status is the lifecycle state of a conversation.
type Status string

const (
	StatusActive     Status = "active"
	StatusCompleted  Status = "completed"
	StatusPaused     Status = "paused"
	StatusTerminated Status = "terminated"
)

// ErrorState records the most recent turn failure without blocking later
// turns.
type ErrorState struct {
	Stage   string    `json:"stage"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

// ConversationState is the full checkpoint for one thread. Messages are
// append-only; every scalar survives a commit unless the delta explicitly
// replaces it.
type ConversationState struct {
	ThreadID           string          `json:"thread_id"`
	Messages           []core.Message  `json:"messages"`
	TurnIndex          int             `json:"turn_index"`
	Status             Status          `json:"status"`
	ParticipantName    string          `json:"participant_name,omitempty"`
	StartTime          time.Time       `json:"start_time"`
	LastUpdated        time.Time       `json:"last_updated"`
	LanguagePreference string          `json:"language_preference,omitempty"`
	ApplicationContext json.RawMessage `json:"application_context,omitempty"`
	LastError          *ErrorState     `json:"last_error,omitempty"`
}

// NewConversation builds the initial snapshot for a thread.
func NewConversation(threadID string) *ConversationState {
	now := time.Now().UTC()
	return &ConversationState{
		ThreadID:    threadID,
		Messages:    []core.Message{},
		Status:      StatusActive,
		StartTime:   now,
		LastUpdated: now,
	}
}

// Clone returns a deep copy. Stores hand out and accept copies only, so
// callers can never mutate a stored snapshot in place.
func (s *ConversationState) Clone() *ConversationState {
	if s == nil {
		return nil
	}
	out := *s
	out.Messages = make([]core.Message, len(s.Messages))
	copy(out.Messages, s.Messages)
	if s.ApplicationContext != nil {
		out.ApplicationContext = make(json.RawMessage, len(s.ApplicationContext))
		copy(out.ApplicationContext, s.ApplicationContext)
	}
	if s.LastError != nil {
		le := *s.LastError
		out.LastError = &le
	}
	return &out
}

// Delta is one commit's worth of changes. AppendMessages concatenates onto
// the stored history; nil pointer fields preserve the prior value, non-nil
// fields overwrite it. This shape exists so a turn can never silently drop
// a field it did not mean to touch.
type Delta struct {
	AppendMessages     []core.Message
	TurnIndex          *int
	Status             *Status
	ParticipantName    *string
	LanguagePreference *string
	ApplicationContext json.RawMessage
	LastError          *ErrorState
}

// merge applies delta on top of prev and stamps LastUpdated.
func merge(prev *ConversationState, delta Delta, now time.Time) *ConversationState {
	next := prev.Clone()
	next.Messages = append(next.Messages, delta.AppendMessages...)
	if delta.TurnIndex != nil {
		next.TurnIndex = *delta.TurnIndex
	}
	if delta.Status != nil {
		next.Status = *delta.Status
	}
	if delta.ParticipantName != nil {
		next.ParticipantName = *delta.ParticipantName
	}
	if delta.LanguagePreference != nil {
		next.LanguagePreference = *delta.LanguagePreference
	}
	if delta.ApplicationContext != nil {
		next.ApplicationContext = make(json.RawMessage, len(delta.ApplicationContext))
		copy(next.ApplicationContext, delta.ApplicationContext)
	}
	if delta.LastError != nil {
		le := *delta.LastError
		next.LastError = &le
	}
	next.LastUpdated = now
	return next
}

// notFound builds the error every backend returns for commits against an
// unknown thread.
func notFound(threadID string) error {
	return core.NewNotFoundError("no conversation state for thread " + threadID)
}
