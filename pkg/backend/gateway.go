// Package backend wraps the backend of record. The Gateway interface is the
// collaborator contract the session layer consumes; Client implements it
// over the backend's GraphQL API.
package backend

import (
	"context"
	"time"

	"github.com/husainf4l/rolevatev7/pkg/identity"
)

// Speaker identifies who produced a transcript entry.
type Speaker string

const (
	SpeakerAI        Speaker = "AI"
	SpeakerCandidate Speaker = "CANDIDATE"
	SpeakerSystem    Speaker = "SYSTEM"
)

// TranscriptEntry is one utterance logged against an external record.
// Sequence numbers are strictly increasing per record; gaps are allowed,
// duplicates are not.
type TranscriptEntry struct {
	Content        string
	Speaker        Speaker
	Timestamp      time.Time
	SequenceNumber int64
}

// Gateway is the slice of the backend of record this system consumes.
// Implementations map transport failures onto the core error taxonomy.
type Gateway interface {
	// FindRecordByRoom returns the id of the record already registered for
	// the room, or "" when none exists.
	FindRecordByRoom(ctx context.Context, roomID string) (string, error)

	// CreateRecordWithMedia registers a new record for the room carrying the
	// media URL and returns its id.
	CreateRecordWithMedia(ctx context.Context, roomID, mediaURL, jobID string) (string, error)

	// UpdateRecordMedia refreshes the media URL on an existing record.
	UpdateRecordMedia(ctx context.Context, recordID, mediaURL, roomID string) (bool, error)

	// CompleteRecord marks the record finished.
	CompleteRecord(ctx context.Context, recordID string) (bool, error)

	// AppendTranscript logs one utterance and returns the created entry id.
	AppendTranscript(ctx context.Context, recordID string, entry TranscriptEntry) (string, error)

	// AppendTranscriptsBulk logs a batch of utterances in one call.
	AppendTranscriptsBulk(ctx context.Context, recordID string, entries []TranscriptEntry) (bool, error)

	// FetchApplicationContext loads candidate/job/scoring context for an
	// application.
	FetchApplicationContext(ctx context.Context, applicationID string) (*identity.ApplicationContext, error)
}
