package handlers

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/husainf4l/rolevatev7/pkg/agent/apierror"
	"github.com/husainf4l/rolevatev7/pkg/agent/config"
	"github.com/husainf4l/rolevatev7/pkg/agent/lifecycle"
	"github.com/husainf4l/rolevatev7/pkg/agent/live/protocol"
	"github.com/husainf4l/rolevatev7/pkg/agent/live/session"
	"github.com/husainf4l/rolevatev7/pkg/agent/live/sessions"
	"github.com/husainf4l/rolevatev7/pkg/agent/metrics"
	"github.com/husainf4l/rolevatev7/pkg/agent/mw"
	"github.com/husainf4l/rolevatev7/pkg/backend"
	"github.com/husainf4l/rolevatev7/pkg/capture"
	"github.com/husainf4l/rolevatev7/pkg/core"
	"github.com/husainf4l/rolevatev7/pkg/generation"
	"github.com/husainf4l/rolevatev7/pkg/identity"
	"github.com/husainf4l/rolevatev7/pkg/interview"
	"github.com/husainf4l/rolevatev7/pkg/recording"
	"github.com/husainf4l/rolevatev7/pkg/state"
	"github.com/husainf4l/rolevatev7/pkg/transcript"
)

const handshakeTimeout = 5 * time.Second

// LiveHandler handles /v1/interview websocket sessions: it upgrades the
// connection, runs the hello handshake, assembles the session's
// collaborators, and hands the connection to the session loop.
type LiveHandler struct {
	Config config.Config
	Logger *slog.Logger

	Store    state.Store
	Gateway  backend.Gateway
	Capture  capture.Client
	Provider generation.Provider

	Metrics   *metrics.Metrics
	Lifecycle *lifecycle.Lifecycle
	Sessions  *sessions.Tracker
}

func (h LiveHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	reqID, _ := mw.RequestIDFrom(r.Context())
	if r.Method != http.MethodGet {
		apierror.Write(w, http.StatusMethodNotAllowed, &core.Error{
			Type: core.ErrValidation, Message: "method not allowed", Code: "method_not_allowed", RequestID: reqID,
		})
		return
	}
	if h.Lifecycle != nil && h.Lifecycle.IsDraining() {
		apierror.Write(w, http.StatusServiceUnavailable, &core.Error{
			Type: core.ErrConnectivity, Message: "agent is draining", Code: "draining", RequestID: reqID,
		})
		return
	}
	if !h.originAllowed(r) {
		apierror.Write(w, http.StatusForbidden, &core.Error{
			Type: core.ErrUnauthorized, Message: "origin is not allowed", Param: "Origin", RequestID: reqID,
		})
		return
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: func(*http.Request) bool { return true },
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	logger := h.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	if h.Config.WSMaxMessageBytes > 0 {
		conn.SetReadLimit(h.Config.WSMaxMessageBytes)
	}

	_ = conn.SetReadDeadline(time.Now().Add(handshakeTimeout))
	messageType, firstFrame, err := conn.ReadMessage()
	if err != nil {
		h.writeWSError(conn, "bad_request", "failed to read hello", "")
		return
	}
	if messageType != websocket.TextMessage {
		h.writeWSError(conn, "bad_request", "first frame must be hello", "")
		return
	}

	decoded, err := protocol.DecodeClientMessage(firstFrame)
	if err != nil {
		var de *protocol.DecodeError
		if errors.As(err, &de) {
			h.writeWSError(conn, de.Code, de.Message, de.Param)
		} else {
			h.writeWSError(conn, "bad_request", "invalid hello frame", "")
		}
		return
	}
	hello, ok := decoded.(protocol.ClientHello)
	if !ok {
		h.writeWSError(conn, "bad_request", "first frame must be hello", "type")
		return
	}
	if strings.TrimSpace(hello.ProtocolVersion) != protocol.ProtocolVersion1 {
		h.writeWSError(conn, "unsupported_version", "unsupported protocol_version", "protocol_version")
		return
	}

	ctx := r.Context()
	resolver := identity.NewResolver(identity.Dependencies{Fetcher: h.Gateway, Logger: logger})
	id, appCtx := resolver.Resolve(ctx, hello.Room)

	machine := interview.NewMachine(interview.Config{
		Store:           h.Store,
		Provider:        h.Provider,
		Identity:        id,
		Context:         appCtx,
		ParticipantName: participantName(hello, appCtx),
		Language:        hello.Language,
		Logger:          logger,
	})

	resumed := false
	restored := 0
	startTurn := 0
	if hello.Resume {
		// An existing record means prior sessions already linked this room;
		// adopting its id up front lets Resume find their checkpoint.
		if recordID, err := h.Gateway.FindRecordByRoom(ctx, hello.Room); err != nil {
			logger.Warn("record lookup for resume failed, starting fresh",
				"room", hello.Room, "request_id", reqID, "error", err)
		} else if recordID != "" {
			id.Relink(recordID)
		}

		snap, err := machine.Resume(ctx)
		switch {
		case err == nil:
			resumed = true
			restored = len(snap.Messages)
			startTurn = snap.TurnIndex
		case core.IsType(err, core.ErrNotFound):
			logger.Info("no checkpoint for this room, starting fresh",
				"room", hello.Room, "thread_id", id.ThreadID())
		default:
			logger.Warn("resume failed", "room", hello.Room, "request_id", reqID, "error", err)
			h.writeWSError(conn, "internal_error", "failed to restore session", "")
			return
		}
	}
	if !resumed {
		if err := machine.Begin(ctx); err != nil {
			logger.Warn("session init failed", "room", hello.Room, "request_id", reqID, "error", err)
			h.writeWSError(conn, "internal_error", "failed to initialize session", "")
			return
		}
	}

	captureClient := h.Capture
	if captureClient == nil {
		captureClient = capture.Disabled{}
	}
	recorder := recording.NewManager(recording.Dependencies{
		Capture:  captureClient,
		Gateway:  h.Gateway,
		Identity: id,
		Logger:   logger,
	}, recording.Config{
		Bucket:       h.Config.MediaBucket,
		Region:       h.Config.MediaRegion,
		StartTimeout: h.Config.CaptureStartTimeout,
	})

	queueCfg := transcript.QueueConfig{
		Sequencer: transcript.NewSequencer(h.Gateway, logger),
		// The transcript target is the record id. The recorder publishes it
		// as soon as the save lands; resumed sessions carry it from the
		// handshake on the linked identity.
		RecordID: func() string {
			if recordID := recorder.ExternalRecordID(); recordID != "" {
				return recordID
			}
			if id.Linked() {
				return id.ThreadID()
			}
			return ""
		},
		Capacity: h.Config.TranscriptQueueCapacity,
		Logger:   logger,
	}
	if h.Metrics != nil {
		queueCfg.Drops = h.Metrics.TranscriptDrops()
		queueCfg.Observer = h.Metrics
	}
	queue := transcript.NewQueue(queueCfg)

	// The queue's consumer goroutine is running from here on; every exit
	// path that never reaches Run must stop it.
	ran := false
	defer func() {
		if !ran {
			_ = queue.Flush(context.Background())
		}
	}()

	s, err := session.New(session.Dependencies{
		Conn:           conn,
		Logger:         logger,
		Machine:        machine,
		Store:          h.Store,
		Identity:       id,
		Recorder:       recorder,
		Queue:          queue,
		Metrics:        h.Metrics,
		RequestID:      reqID,
		Resumed:        resumed,
		StartTurnIndex: startTurn,
		Config: session.Config{
			PingInterval:    h.Config.WSPingInterval,
			WriteTimeout:    h.Config.WSWriteTimeout,
			ReadTimeout:     h.Config.WSReadTimeout,
			MaxMessageBytes: h.Config.WSMaxMessageBytes,
			TurnTimeout:     h.Config.TurnTimeout,
		},
	})
	if err != nil {
		h.writeWSError(conn, "internal_error", "failed to initialize session", "")
		return
	}

	unregister, ok := h.Sessions.Register(id.SessionID, sessions.Handle{
		Cancel: s.Cancel,
		Warn:   s.SendWarning,
	})
	if !ok {
		h.writeWSError(conn, "busy", "too many active sessions", "")
		return
	}
	defer unregister()

	if err := conn.WriteJSON(protocol.ServerHelloAck{
		Type:             "hello_ack",
		ProtocolVersion:  protocol.ProtocolVersion1,
		SessionID:        id.SessionID,
		ThreadID:         id.ThreadID(),
		ApplicationID:    id.ApplicationID,
		Resumed:          resumed,
		RestoredMessages: restored,
	}); err != nil {
		return
	}
	_ = conn.SetReadDeadline(time.Time{})

	ran = true
	if err := s.Run(); err != nil {
		logger.Warn("live session ended with error",
			"session_id", id.SessionID, "request_id", reqID, "error", err)
	}
}

func (h LiveHandler) originAllowed(r *http.Request) bool {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return true
	}
	if len(h.Config.CORSAllowedOrigins) == 0 {
		return false
	}
	_, ok := h.Config.CORSAllowedOrigins[origin]
	return ok
}

// participantName picks the display name for prompts: the client's own
// claim wins, then the application's candidate, then the applicant field.
func participantName(hello protocol.ClientHello, appCtx *identity.ApplicationContext) string {
	if name := strings.TrimSpace(hello.ParticipantName); name != "" {
		return name
	}
	if appCtx != nil {
		if appCtx.Candidate != nil && strings.TrimSpace(appCtx.Candidate.Name) != "" {
			return strings.TrimSpace(appCtx.Candidate.Name)
		}
		if strings.TrimSpace(appCtx.ApplicantName) != "" {
			return strings.TrimSpace(appCtx.ApplicantName)
		}
	}
	return ""
}

// writeWSError reports a fatal handshake failure and closes the socket.
// Session-scope frames here go out directly: the writer goroutine does not
// exist until the session loop starts.
func (h LiveHandler) writeWSError(conn *websocket.Conn, code, message, param string) {
	_ = conn.WriteJSON(protocol.ServerError{
		Type: "error", Scope: "session", Code: code, Message: message, Param: param, Fatal: true,
	})
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.ClosePolicyViolation, message),
		time.Now().Add(2*time.Second))
}
