// Package session runs the main loop of one live interview connection. A
// reader goroutine decodes inbound frames into a channel, an outbound writer
// goroutine owns every socket write, and the loop serializes conversation
// turns against the state machine, feeding the transcript queue only after
// each turn has committed. Recording linkage runs alongside the loop and
// never blocks a turn.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/husainf4l/rolevatev7/pkg/agent/live/protocol"
	"github.com/husainf4l/rolevatev7/pkg/agent/metrics"
	"github.com/husainf4l/rolevatev7/pkg/backend"
	"github.com/husainf4l/rolevatev7/pkg/core"
	"github.com/husainf4l/rolevatev7/pkg/identity"
	"github.com/husainf4l/rolevatev7/pkg/interview"
	"github.com/husainf4l/rolevatev7/pkg/recording"
	"github.com/husainf4l/rolevatev7/pkg/state"
	"github.com/husainf4l/rolevatev7/pkg/transcript"
)

const (
	defaultPingInterval      = 20 * time.Second
	defaultWriteTimeout      = 5 * time.Second
	defaultTurnTimeout       = 30 * time.Second
	defaultOutboundQueueSize = 128
	priorityQueueSize        = 16

	// teardownBudget bounds the whole teardown sequence; each step inside
	// it is additionally bounded by its own client timeouts.
	teardownBudget = 15 * time.Second

	linkageBudget = 5 * time.Second
)

// Session outcomes reported to metrics.
const (
	outcomeCompleted    = "completed"
	outcomeDisconnected = "disconnected"
	outcomeCanceled     = "canceled"
	outcomeError        = "error"
)

const (
	turnGreeting  = "greeting"
	turnUtterance = "utterance"
)

var errBackpressure = errors.New("outbound queue full")

// Config tunes one session's transport behavior. Zero values select the
// defaults above; a zero ReadTimeout disables the idle read deadline.
type Config struct {
	PingInterval      time.Duration
	WriteTimeout      time.Duration
	ReadTimeout       time.Duration
	MaxMessageBytes   int64
	TurnTimeout       time.Duration
	OutboundQueueSize int
}

// Dependencies wires a session to its collaborators. Conn, Machine, Store,
// and Identity are required. Recorder, Queue, and Metrics are optional: a
// session without them skips the recording lifecycle, transcript delivery,
// or counters.
type Dependencies struct {
	Conn     *websocket.Conn
	Logger   *slog.Logger
	Machine  *interview.Machine
	Store    state.Store
	Identity *identity.SessionIdentity

	Recorder *recording.Manager
	Queue    *transcript.Queue
	Metrics  *metrics.Metrics

	RequestID string

	// Resumed marks a session restored from a checkpoint: the greeting turn
	// is skipped and StartTurnIndex seeds turn numbering.
	Resumed        bool
	StartTurnIndex int

	Config Config
}

// LiveSession owns one interview connection from handshake acknowledgment
// to teardown.
type LiveSession struct {
	conn           *websocket.Conn
	logger         *slog.Logger
	machine        *interview.Machine
	store          state.Store
	id             *identity.SessionIdentity
	recorder       *recording.Manager
	queue          *transcript.Queue
	metrics        *metrics.Metrics
	requestID      string
	resumed        bool
	startTurnIndex int
	cfg            Config

	ctx    context.Context
	cancel context.CancelFunc

	outboundPriority chan outboundFrame
	outboundNormal   chan outboundFrame
	linkedCh         chan linkEvent
}

type outboundFrame struct {
	payload []byte
}

type inboundFrame struct {
	messageType int
	data        []byte
	err         error
}

type turnResult struct {
	turnID   int
	kind     string
	userText string
	reply    core.Message
	err      error
}

// linkEvent reports a successful linkage save: the thread id commits have
// been landing on, and the record id they should move to.
type linkEvent struct {
	oldThreadID string
	newThreadID string
}

func New(deps Dependencies) (*LiveSession, error) {
	if deps.Conn == nil {
		return nil, fmt.Errorf("connection is required")
	}
	if deps.Machine == nil {
		return nil, fmt.Errorf("state machine is required")
	}
	if deps.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if deps.Identity == nil {
		return nil, fmt.Errorf("session identity is required")
	}
	if deps.Logger == nil {
		deps.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if deps.Config.OutboundQueueSize <= 0 {
		deps.Config.OutboundQueueSize = defaultOutboundQueueSize
	}
	if deps.Config.TurnTimeout <= 0 {
		deps.Config.TurnTimeout = defaultTurnTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &LiveSession{
		conn:             deps.Conn,
		logger:           deps.Logger,
		machine:          deps.Machine,
		store:            deps.Store,
		id:               deps.Identity,
		recorder:         deps.Recorder,
		queue:            deps.Queue,
		metrics:          deps.Metrics,
		requestID:        deps.RequestID,
		resumed:          deps.Resumed,
		startTurnIndex:   deps.StartTurnIndex,
		cfg:              deps.Config,
		ctx:              ctx,
		cancel:           cancel,
		outboundPriority: make(chan outboundFrame, max(1, min(deps.Config.OutboundQueueSize, priorityQueueSize))),
		outboundNormal:   make(chan outboundFrame, deps.Config.OutboundQueueSize),
		linkedCh:         make(chan linkEvent, 1),
	}, nil
}

// Run drives the session until the client leaves, the connection drops, or
// the session is canceled, then tears it down. Teardown always runs, and
// every step in it is isolated so one failure never prevents the rest.
func (s *LiveSession) Run() error {
	defer s.cancel()

	if s.metrics != nil {
		s.metrics.SessionStarted()
	}

	if s.cfg.MaxMessageBytes > 0 {
		s.conn.SetReadLimit(s.cfg.MaxMessageBytes)
	}
	if s.cfg.ReadTimeout > 0 {
		_ = s.conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
		s.conn.SetPongHandler(func(string) error {
			return s.conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
		})
	}

	readCh := make(chan inboundFrame, 64)
	writerErrCh := make(chan error, 1)
	go s.readLoop(readCh)
	go func() {
		w := outboundWriter{
			ws:       s.conn,
			ctx:      s.ctx,
			cfg:      s.cfg,
			priority: s.outboundPriority,
			normal:   s.outboundNormal,
		}
		writerErrCh <- w.Run()
		close(writerErrCh)
	}()

	var wg sync.WaitGroup
	if s.recorder != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.runRecording()
		}()
	}

	outcome, runErr := s.loop(&wg, readCh, writerErrCh)

	s.flushAndClose(writerErrCh)
	wg.Wait()
	s.teardown(outcome)
	return runErr
}

func (s *LiveSession) loop(wg *sync.WaitGroup, readCh <-chan inboundFrame, writerErrCh <-chan error) (string, error) {
	turnResults := make(chan turnResult, 2)
	turnIndex := s.startTurnIndex
	turnID := 0
	turnActive := false
	var turnStarted time.Time
	var pendingLink *linkEvent

	startTurn := func(kind, text string) {
		turnID++
		turnActive = true
		turnStarted = time.Now()
		id := turnID
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.executeTurn(id, kind, text, turnResults)
		}()
	}

	if !s.resumed {
		startTurn(turnGreeting, "")
	}

	for {
		// Linkage waits for the in-flight turn: its commit must land on the
		// old key before the snapshot moves and the identity relinks.
		if pendingLink != nil && !turnActive {
			s.completeLinkage(s.ctx, *pendingLink)
			pendingLink = nil
		}

		select {
		case <-s.ctx.Done():
			_ = s.sendBye("server closed the session")
			return outcomeCanceled, nil

		case err := <-writerErrCh:
			if err == nil {
				return outcomeDisconnected, nil
			}
			return outcomeError, fmt.Errorf("outbound writer: %w", err)

		case ev := <-s.linkedCh:
			pendingLink = &ev

		case res := <-turnResults:
			if res.turnID != turnID {
				continue
			}
			turnActive = false
			duration := time.Since(turnStarted)
			if res.err != nil {
				if errors.Is(res.err, context.Canceled) {
					continue
				}
				s.recordTurn("error", duration)
				s.logger.Warn("turn failed",
					"kind", res.kind,
					"thread_id", s.id.ThreadID(),
					"error", res.err)
				if err := s.sendTurnError(res.err); err != nil {
					return outcomeError, fmt.Errorf("send turn error: %w", err)
				}
				continue
			}
			frameTurn := 0
			if res.kind == turnUtterance {
				turnIndex++
				frameTurn = turnIndex
			}
			if err := s.sendJSON(protocol.ServerAssistant{Type: "assistant", Text: res.reply.Content, Turn: frameTurn}); err != nil {
				return outcomeError, fmt.Errorf("send assistant frame: %w", err)
			}
			if res.kind == turnUtterance {
				s.enqueueTranscript(backend.SpeakerCandidate, res.userText, turnStarted)
			}
			s.enqueueTranscript(backend.SpeakerAI, res.reply.Content, res.reply.Timestamp)
			s.recordTurn("ok", duration)

		case frame, ok := <-readCh:
			if !ok {
				return outcomeDisconnected, nil
			}
			if frame.err != nil {
				if websocket.IsUnexpectedCloseError(frame.err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					s.logger.Warn("connection closed unexpectedly", "error", frame.err)
				}
				return outcomeDisconnected, nil
			}
			if frame.messageType != websocket.TextMessage {
				_ = s.sendSessionError("bad_request", "only text frames are supported", "", true)
				return outcomeError, nil
			}
			msg, decErr := protocol.DecodeClientMessage(frame.data)
			if decErr != nil {
				code, param := "bad_request", ""
				var de *protocol.DecodeError
				if errors.As(decErr, &de) {
					code, param = de.Code, de.Param
				}
				_ = s.sendSessionError(code, decErr.Error(), param, true)
				return outcomeError, nil
			}
			switch m := msg.(type) {
			case protocol.ClientUtterance:
				if !m.Final {
					continue
				}
				if turnActive {
					_ = s.sendJSON(protocol.ServerError{Type: "error", Scope: "turn", Code: "turn_in_progress", Message: "a turn is already in progress"})
					continue
				}
				startTurn(turnUtterance, m.Text)
			case protocol.ClientPing:
				_ = s.sendJSON(protocol.ServerPong{Type: "pong"})
			case protocol.ClientControl:
				_ = s.sendBye("session ended by client")
				return outcomeCompleted, nil
			case protocol.ClientHello:
				_ = s.sendSessionError("bad_request", "hello is only valid as the first frame", "type", true)
				return outcomeError, nil
			}
		}
	}
}

// executeTurn runs one machine turn off the loop goroutine. The result is
// delivered back unless the session is already shutting down.
func (s *LiveSession) executeTurn(turnID int, kind, text string, results chan<- turnResult) {
	ctx, cancel := s.newTurnContext()
	defer cancel()

	var reply core.Message
	var err error
	switch kind {
	case turnGreeting:
		reply, err = s.machine.Greet(ctx)
	default:
		reply, err = s.machine.HandleUtterance(ctx, text)
	}

	res := turnResult{turnID: turnID, kind: kind, userText: text, reply: reply, err: err}
	select {
	case results <- res:
	case <-s.ctx.Done():
	}
}

// runRecording drives the media lifecycle beside the loop: start capture
// under its budget, then register the record. A successful save hands the
// loop a link event; a failed one is retried once at teardown.
func (s *LiveSession) runRecording() {
	startedAt := time.Now()
	s.recorder.Start(s.ctx)
	if s.metrics != nil {
		s.metrics.ObserveCaptureStart(time.Since(startedAt))
	}
	_ = s.sendJSON(protocol.ServerStatus{Type: "status", Event: protocol.StatusRecordingStarted})

	oldThread := s.id.ThreadID()
	if err := s.recorder.Save(s.ctx); err != nil {
		if s.metrics != nil {
			s.metrics.RecordRecordingSave("error")
		}
		s.logger.Warn("recording linkage failed, will retry at teardown",
			"room", s.id.RoomID,
			"error", err)
		_ = s.sendJSON(protocol.ServerStatus{Type: "status", Event: protocol.StatusRecordingFailed})
		return
	}
	if s.metrics != nil {
		s.metrics.RecordRecordingSave("ok")
	}

	select {
	case s.linkedCh <- linkEvent{oldThreadID: oldThread, newThreadID: s.recorder.ExternalRecordID()}:
	case <-s.ctx.Done():
	}
}

// completeLinkage moves the conversation onto the record id: copy the
// snapshot to the new thread key, relink the identity so later commits land
// there, and tell the client. The snapshot is seeded before the identity
// moves, so a commit never races an empty key. Sessions that were linked
// before they started have nothing to move.
func (s *LiveSession) completeLinkage(parent context.Context, ev linkEvent) {
	if ev.newThreadID == "" || ev.newThreadID == ev.oldThreadID {
		return
	}

	ctx, cancel := context.WithTimeout(parent, linkageBudget)
	defer cancel()

	snap, err := s.store.Get(ctx, ev.oldThreadID)
	if err != nil || snap == nil {
		s.logger.Warn("copy-forward could not load snapshot",
			"thread_id", ev.oldThreadID,
			"error", err)
		return
	}
	snap.ThreadID = ev.newThreadID
	if err := s.store.Init(ctx, ev.newThreadID, snap); err != nil {
		s.logger.Warn("copy-forward could not seed new thread",
			"thread_id", ev.newThreadID,
			"error", err)
		return
	}
	s.id.Relink(ev.newThreadID)
	s.logger.Info("conversation relinked",
		"old_thread_id", ev.oldThreadID,
		"thread_id", ev.newThreadID)
	_ = s.sendJSON(protocol.ServerStatus{Type: "status", Event: protocol.StatusLinked, ThreadID: ev.newThreadID})
}

// teardown finalizes the session: commit the final status, retry linkage if
// it never succeeded, flush queued transcripts, notify completion, and stop
// capture. Steps are isolated; each failure is logged and the next step
// still runs.
func (s *LiveSession) teardown(outcome string) {
	ctx, cancel := context.WithTimeout(context.Background(), teardownBudget)
	defer cancel()

	final := state.StatusTerminated
	if outcome == outcomeCompleted {
		final = state.StatusCompleted
	}
	if err := s.machine.Terminate(ctx, final); err != nil {
		s.logger.Warn("final status commit failed", "error", err)
	}

	if s.recorder != nil {
		wasSaved := s.recorder.Saved()
		if err := s.recorder.BackupSave(ctx); err != nil {
			if s.metrics != nil {
				s.metrics.RecordRecordingSave("error")
			}
			s.logger.Warn("backup linkage save failed, linkage abandoned", "error", err)
		} else if !wasSaved && s.recorder.Saved() {
			if s.metrics != nil {
				s.metrics.RecordRecordingSave("ok")
			}
		}
		// Linkage the loop never applied, either because the save only
		// landed at backup time or because the session ended first. Move
		// the snapshot now so a future resume finds it under the record id.
		if recordID := s.recorder.ExternalRecordID(); recordID != "" && !s.id.Linked() {
			s.completeLinkage(ctx, linkEvent{oldThreadID: s.id.ThreadID(), newThreadID: recordID})
		}
	}

	if s.queue != nil {
		if err := s.queue.Flush(ctx); err != nil {
			s.logger.Warn("transcript flush failed", "error", err)
		}
	}

	if s.recorder != nil {
		if err := s.recorder.Complete(ctx); err != nil {
			if core.IsType(err, core.ErrValidation) {
				s.logger.Info("no record linked, skipping completion notice")
			} else {
				s.logger.Warn("completion notice failed", "error", err)
			}
		}
		if err := s.recorder.Stop(ctx); err != nil {
			s.logger.Warn("capture stop failed", "error", err)
		}
	}

	if s.metrics != nil {
		s.metrics.SessionEnded(outcome)
	}
	s.logger.Info("session ended",
		"outcome", outcome,
		"session_id", s.id.SessionID,
		"thread_id", s.id.ThreadID(),
		"request_id", s.requestID)
}

// flushAndClose cancels the session and gives the writer a short window to
// flush priority frames and emit the close message.
func (s *LiveSession) flushAndClose(writerErrCh <-chan error) {
	s.cancel()
	wait := 100 * time.Millisecond
	if s.cfg.WriteTimeout > 0 && s.cfg.WriteTimeout < wait {
		wait = s.cfg.WriteTimeout
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-writerErrCh:
	case <-timer.C:
	}
}

func (s *LiveSession) readLoop(out chan<- inboundFrame) {
	defer close(out)
	for {
		messageType, data, err := s.conn.ReadMessage()
		if err != nil {
			select {
			case out <- inboundFrame{err: err}:
			case <-s.ctx.Done():
			}
			return
		}
		select {
		case out <- inboundFrame{messageType: messageType, data: data}:
		case <-s.ctx.Done():
			return
		}
	}
}

// Cancel aborts the session from outside the loop, typically at shutdown.
func (s *LiveSession) Cancel() {
	if s == nil || s.cancel == nil {
		return
	}
	s.cancel()
}

// SendWarning queues a non-fatal session error frame; shutdown uses it to
// tell clients the server is draining before their session is canceled.
func (s *LiveSession) SendWarning(code, message string) error {
	if s == nil {
		return nil
	}
	return s.sendSessionError(code, message, "", false)
}

func (s *LiveSession) newTurnContext() (context.Context, context.CancelFunc) {
	if s.cfg.TurnTimeout > 0 {
		return context.WithTimeout(s.ctx, s.cfg.TurnTimeout)
	}
	return context.WithCancel(s.ctx)
}

func (s *LiveSession) enqueueTranscript(speaker backend.Speaker, content string, at time.Time) {
	if s.queue == nil {
		return
	}
	s.queue.Enqueue(transcript.Entry{Content: content, Speaker: speaker, Timestamp: at})
}

func (s *LiveSession) recordTurn(result string, duration time.Duration) {
	if s.metrics != nil {
		s.metrics.RecordTurn(result, duration)
	}
}

// sendTurnError reports a failed turn without closing the session. Codes
// follow the error taxonomy so clients can distinguish a timed-out turn
// from a rejected one.
func (s *LiveSession) sendTurnError(turnErr error) error {
	code, message := classifyTurnError(turnErr)
	return s.sendJSON(protocol.ServerError{Type: "error", Scope: "turn", Code: code, Message: message})
}

func classifyTurnError(err error) (code, message string) {
	if errors.Is(err, context.DeadlineExceeded) {
		return string(core.ErrTimeout), "turn timed out"
	}
	var coreErr *core.Error
	if errors.As(err, &coreErr) {
		return string(coreErr.Type), coreErr.Message
	}
	// Unknown errors become opaque so backend details stay out of client
	// frames.
	return string(core.ErrInternal), "turn failed"
}

func (s *LiveSession) sendSessionError(code, message, param string, fatal bool) error {
	frame := protocol.ServerError{Type: "error", Scope: "session", Code: code, Message: message, Param: param, Fatal: fatal}
	if fatal {
		return s.sendJSONPriority(frame)
	}
	return s.sendJSON(frame)
}

func (s *LiveSession) sendBye(reason string) error {
	return s.sendJSONPriority(protocol.ServerBye{Type: "bye", Reason: reason})
}

func (s *LiveSession) sendJSON(v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.enqueueNormal(outboundFrame{payload: payload})
}

func (s *LiveSession) sendJSONPriority(v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.enqueuePriority(outboundFrame{payload: payload})
}

func (s *LiveSession) enqueueNormal(frame outboundFrame) error {
	select {
	case s.outboundNormal <- frame:
		return nil
	default:
		return errBackpressure
	}
}

// enqueuePriority evicts queued priority frames rather than fail: the
// newest fatal frame is the one worth delivering.
func (s *LiveSession) enqueuePriority(frame outboundFrame) error {
	for i := 0; i < 4; i++ {
		select {
		case s.outboundPriority <- frame:
			return nil
		default:
		}
		select {
		case <-s.outboundPriority:
		default:
		}
	}
	select {
	case s.outboundPriority <- frame:
		return nil
	default:
		return errBackpressure
	}
}
