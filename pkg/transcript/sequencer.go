// Package transcript assigns sequence numbers to interview utterances and
// delivers them to the backend of record. A per-session queue decouples the
// turn loop from delivery; the sequencer guarantees per-record ordering.
package transcript

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/husainf4l/rolevatev7/pkg/backend"
	"github.com/husainf4l/rolevatev7/pkg/core"
)

// Entry is one utterance bound for the transcript log.
type Entry struct {
	Content   string
	Speaker   backend.Speaker
	Timestamp time.Time
}

// Sequencer assigns per-record sequence numbers and posts entries to the
// gateway. Numbers start at 1, are strictly increasing per record, and are
// never reissued. A failed post consumes its number anyway, so the record
// keeps a gap instead of ever seeing a duplicate.
type Sequencer struct {
	gateway backend.Gateway
	logger  *slog.Logger

	mu   sync.Mutex
	next map[string]int64
}

// NewSequencer creates a sequencer delivering through gw.
func NewSequencer(gw backend.Gateway, logger *slog.Logger) *Sequencer {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Sequencer{
		gateway: gw,
		logger:  logger,
		next:    make(map[string]int64),
	}
}

// claim returns the next sequence number for recordID.
func (s *Sequencer) claim(recordID string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next[recordID]++
	return s.next[recordID]
}

// Publish assigns the next sequence number to the entry and posts it.
// Entries with empty content are skipped without consuming a number.
func (s *Sequencer) Publish(ctx context.Context, recordID string, e Entry) error {
	if recordID == "" {
		return core.NewValidationError("no record linked for transcript")
	}
	if strings.TrimSpace(e.Content) == "" {
		return nil
	}

	seq := s.claim(recordID)
	_, err := s.gateway.AppendTranscript(ctx, recordID, backend.TranscriptEntry{
		Content:        e.Content,
		Speaker:        e.Speaker,
		Timestamp:      e.Timestamp,
		SequenceNumber: seq,
	})
	if err != nil {
		s.logger.Warn("transcript append failed",
			"record_id", recordID,
			"sequence", seq,
			"error", err)
		return err
	}
	return nil
}

// PublishBulk assigns sequence numbers to all non-empty entries and posts
// them in one call.
func (s *Sequencer) PublishBulk(ctx context.Context, recordID string, entries []Entry) error {
	if recordID == "" {
		return core.NewValidationError("no record linked for transcript")
	}

	batch := make([]backend.TranscriptEntry, 0, len(entries))
	for _, e := range entries {
		if strings.TrimSpace(e.Content) == "" {
			continue
		}
		batch = append(batch, backend.TranscriptEntry{
			Content:        e.Content,
			Speaker:        e.Speaker,
			Timestamp:      e.Timestamp,
			SequenceNumber: s.claim(recordID),
		})
	}
	if len(batch) == 0 {
		return nil
	}

	if _, err := s.gateway.AppendTranscriptsBulk(ctx, recordID, batch); err != nil {
		s.logger.Warn("bulk transcript append failed",
			"record_id", recordID,
			"count", len(batch),
			"error", err)
		return err
	}
	return nil
}
