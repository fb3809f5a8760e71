// Package recording manages the media lifecycle of an interview session:
// starting capture under a hard budget, registering the media URL with the
// backend of record exactly once, and completing the record at teardown.
package recording

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/husainf4l/rolevatev7/pkg/backend"
	"github.com/husainf4l/rolevatev7/pkg/capture"
	"github.com/husainf4l/rolevatev7/pkg/core"
	"github.com/husainf4l/rolevatev7/pkg/identity"
)

const (
	// DefaultBucket is the media bucket when none is configured.
	DefaultBucket = "4wk-garage-media"

	// DefaultRegion is the media bucket region when none is configured.
	DefaultRegion = "me-central-1"

	// DefaultStartTimeout bounds how long session setup waits for capture.
	DefaultStartTimeout = 12 * time.Second

	mediaTimestampLayout = "20060102_150405"
)

// objectKey is the bucket path capture writes to for a session started at
// the given instant.
func objectKey(sessionID string, at time.Time) string {
	return fmt.Sprintf("interviews/%s/%s/recording.mp4", sessionID, at.UTC().Format(mediaTimestampLayout))
}

// FallbackURL is the deterministic media location for a session started at
// the given instant. The output path is chosen client-side, so this URL
// stays valid even when the capture start call itself never answered.
func FallbackURL(bucket, region, sessionID string, at time.Time) string {
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", bucket, region, objectKey(sessionID, at))
}

// Config carries the media settings for a session.
type Config struct {
	Bucket string
	Region string

	// StartTimeout is the hard budget for starting capture. Zero selects
	// DefaultStartTimeout.
	StartTimeout time.Duration
}

func (c Config) bucket() string {
	if c.Bucket == "" {
		return DefaultBucket
	}
	return c.Bucket
}

func (c Config) region() string {
	if c.Region == "" {
		return DefaultRegion
	}
	return c.Region
}

func (c Config) startTimeout() time.Duration {
	if c.StartTimeout <= 0 {
		return DefaultStartTimeout
	}
	return c.StartTimeout
}

// Dependencies are the collaborators a Manager needs.
type Dependencies struct {
	Capture  capture.Client
	Gateway  backend.Gateway
	Identity *identity.SessionIdentity
	Logger   *slog.Logger
}

// Manager owns one session's recording lifecycle. Start never fails the
// session: when capture cannot be started inside the budget the manager
// settles on the fallback URL. Save is idempotent against records another
// party already registered for the room.
type Manager struct {
	capture  capture.Client
	gateway  backend.Gateway
	identity *identity.SessionIdentity
	cfg      Config
	logger   *slog.Logger

	mu       sync.Mutex
	handle   *capture.Handle
	mediaURL string
	recordID string
	saved    bool
}

// NewManager creates a recording manager for one session.
func NewManager(deps Dependencies, cfg Config) *Manager {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Manager{
		capture:  deps.Capture,
		gateway:  deps.Gateway,
		identity: deps.Identity,
		cfg:      cfg,
		logger:   logger,
	}
}

type startResult struct {
	handle *capture.Handle
	err    error
}

// Start begins capture and returns the media URL the session will report.
// The call returns within the configured budget no matter how the capture
// service behaves; on timeout or failure the deterministic fallback URL is
// used and the session proceeds without a confirmed capture job.
func (m *Manager) Start(ctx context.Context) string {
	startedAt := time.Now().UTC()
	key := objectKey(m.identity.SessionID, startedAt)
	fallback := FallbackURL(m.cfg.bucket(), m.cfg.region(), m.identity.SessionID, startedAt)

	cctx, cancel := context.WithTimeout(ctx, m.cfg.startTimeout())
	defer cancel()

	results := make(chan startResult, 1)
	go func() {
		handle, err := m.capture.StartCapture(cctx, m.identity.RoomID, key)
		results <- startResult{handle: handle, err: err}
	}()

	select {
	case res := <-results:
		if res.err != nil {
			m.logger.Warn("capture start failed, using fallback media url",
				"room", m.identity.RoomID,
				"error", res.err)
			m.setMedia(nil, fallback)
			return fallback
		}
		url := res.handle.URL
		if url == "" {
			url = fallback
		}
		m.setMedia(res.handle, url)
		m.logger.Info("capture started", "room", m.identity.RoomID, "job_id", res.handle.JobID)
		return url
	case <-cctx.Done():
		m.logger.Warn("capture start exceeded budget, using fallback media url",
			"room", m.identity.RoomID,
			"budget", m.cfg.startTimeout())
		m.setMedia(nil, fallback)
		return fallback
	}
}

func (m *Manager) setMedia(handle *capture.Handle, url string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handle = handle
	m.mediaURL = url
}

// MediaURL returns the URL Start settled on, or "" before Start.
func (m *Manager) MediaURL() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mediaURL
}

// ExternalRecordID returns the backend record id once Save succeeded, or "".
func (m *Manager) ExternalRecordID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.recordID
}

// Saved reports whether the record registration succeeded.
func (m *Manager) Saved() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saved
}

// Save registers the session's media with the backend of record. A record
// already registered for the room is adopted rather than duplicated; its
// media URL gets refreshed best-effort. Repeat calls are no-ops. Save never
// touches the session identity: the record id is published through
// ExternalRecordID and the session applies the thread relink between turns.
func (m *Manager) Save(ctx context.Context) error {
	m.mu.Lock()
	if m.saved {
		m.mu.Unlock()
		return nil
	}
	mediaURL := m.mediaURL
	var jobID string
	if m.handle != nil {
		jobID = m.handle.JobID
	}
	m.mu.Unlock()

	roomID := m.identity.RoomID

	existing, err := m.gateway.FindRecordByRoom(ctx, roomID)
	if err != nil {
		return fmt.Errorf("find record for room %s: %w", roomID, err)
	}

	if existing != "" {
		m.adopt(existing)
		if _, err := m.gateway.UpdateRecordMedia(ctx, existing, mediaURL, roomID); err != nil {
			m.logger.Warn("media refresh on existing record failed",
				"record_id", existing,
				"error", err)
		}
		m.logger.Info("adopted existing record", "record_id", existing, "room", roomID)
		return nil
	}

	recordID, err := m.gateway.CreateRecordWithMedia(ctx, roomID, mediaURL, jobID)
	if err != nil {
		return fmt.Errorf("create record for room %s: %w", roomID, err)
	}
	m.adopt(recordID)
	m.logger.Info("record created", "record_id", recordID, "room", roomID)
	return nil
}

func (m *Manager) adopt(recordID string) {
	m.mu.Lock()
	m.recordID = recordID
	m.saved = true
	m.mu.Unlock()
}

// BackupSave retries registration once during teardown when the primary
// save never succeeded.
func (m *Manager) BackupSave(ctx context.Context) error {
	m.mu.Lock()
	saved := m.saved
	m.mu.Unlock()
	if saved {
		return nil
	}

	m.logger.Warn("record not saved during session, attempting backup save",
		"room", m.identity.RoomID)
	return m.Save(ctx)
}

// Complete marks the record finished. Requires a successful Save first.
func (m *Manager) Complete(ctx context.Context) error {
	recordID := m.ExternalRecordID()
	if recordID == "" {
		return core.NewValidationError("no record to complete")
	}
	if _, err := m.gateway.CompleteRecord(ctx, recordID); err != nil {
		return fmt.Errorf("complete record %s: %w", recordID, err)
	}
	m.logger.Info("record completed", "record_id", recordID)
	return nil
}

// Stop ends the capture job if one was confirmed.
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	handle := m.handle
	m.mu.Unlock()
	if handle == nil {
		return nil
	}

	if _, err := m.capture.StopCapture(ctx, handle); err != nil {
		return fmt.Errorf("stop capture %s: %w", handle.JobID, err)
	}
	m.logger.Info("capture stopped", "job_id", handle.JobID)
	return nil
}
