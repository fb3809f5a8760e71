// Package interview drives the conversational turn loop for one session:
// assemble the system context, call the generation provider, and commit the
// resulting state delta before any side effect sees the turn.
package interview

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/husainf4l/rolevatev7/pkg/core"
	"github.com/husainf4l/rolevatev7/pkg/generation"
	"github.com/husainf4l/rolevatev7/pkg/identity"
	"github.com/husainf4l/rolevatev7/pkg/state"
)

// Phase is the position of a session in the turn cycle. Committed is
// transient: a successful turn passes through it on the way back to
// awaiting_input.
type Phase string

const (
	PhaseAwaitingInput Phase = "awaiting_input"
	PhaseGenerating    Phase = "generating"
	PhaseCommitted     Phase = "committed"
	PhaseTerminated    Phase = "terminated"
)

// greetingInstructions holds the synthesized opening instruction per
// language, parameterized by the candidate's first name. The instruction is
// fed to the provider as a user message but never persisted; only the
// assistant's greeting enters the history.
var greetingInstructions = map[string]string{
	DefaultLanguage: "Say a simple hello: 'Hello %s'",
	LanguageArabic:  "قل مرحباً بسيطاً: 'مرحباً %s'",
}

// Config wires a Machine to its collaborators.
type Config struct {
	Store    state.Store
	Provider generation.Provider

	// Identity supplies the persistence key per operation, so commits follow
	// the thread id across a relink.
	Identity *identity.SessionIdentity

	// Context is the application context, nil when resolution failed or the
	// room carried no application id. Prompts degrade to generic defaults.
	Context *identity.ApplicationContext

	ParticipantName string

	// Language is the client's language preference. The job's configured
	// interview language wins when both are present.
	Language string

	Logger *slog.Logger
}

// Machine serializes the turn loop for one session. Methods are safe for
// concurrent use; a second turn started while one is generating is rejected
// rather than queued.
type Machine struct {
	store           state.Store
	provider        generation.Provider
	id              *identity.SessionIdentity
	appCtx          *identity.ApplicationContext
	participantName string
	language        string
	logger          *slog.Logger

	mu    sync.Mutex
	phase Phase
}

// NewMachine builds a Machine in the awaiting_input phase. The interview
// language comes from the job context, then the client preference,
// defaulting to english.
func NewMachine(cfg Config) *Machine {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	lang := NormalizeLanguage(cfg.Language)
	if cfg.Context != nil && cfg.Context.Job != nil && strings.TrimSpace(cfg.Context.Job.InterviewLanguage) != "" {
		lang = NormalizeLanguage(cfg.Context.Job.InterviewLanguage)
	}
	return &Machine{
		store:           cfg.Store,
		provider:        cfg.Provider,
		id:              cfg.Identity,
		appCtx:          cfg.Context,
		participantName: cfg.ParticipantName,
		language:        lang,
		logger:          logger,
		phase:           PhaseAwaitingInput,
	}
}

// Phase returns the current phase.
func (m *Machine) Phase() Phase {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.phase
}

// Language returns the normalized interview language.
func (m *Machine) Language() string { return m.language }

// Begin writes the initial conversation snapshot for the session's thread.
// Init never overwrites, so calling Begin against an existing thread is
// harmless.
func (m *Machine) Begin(ctx context.Context) error {
	threadID := m.id.ThreadID()
	initial := state.NewConversation(threadID)
	initial.ParticipantName = m.participantName
	initial.LanguagePreference = m.language
	if m.appCtx != nil {
		if b, err := json.Marshal(m.appCtx); err == nil {
			initial.ApplicationContext = b
		}
	}
	if err := m.store.Init(ctx, threadID, initial); err != nil {
		return fmt.Errorf("init conversation %s: %w", threadID, err)
	}
	m.logger.Info("conversation initialized",
		"thread_id", threadID,
		"language", m.language,
		"backend", m.store.Backend())
	return nil
}

// Resume loads the existing snapshot for the thread so the session continues
// from its history instead of starting over. Unknown threads return a
// not_found error; terminal snapshots put the machine straight into the
// terminated phase.
func (m *Machine) Resume(ctx context.Context) (*state.ConversationState, error) {
	threadID := m.id.ThreadID()
	snap, err := m.store.Get(ctx, threadID)
	if err != nil {
		return nil, fmt.Errorf("load conversation %s: %w", threadID, err)
	}
	if snap == nil {
		return nil, core.NewNotFoundError("no conversation state for thread " + threadID)
	}
	m.mu.Lock()
	if snap.Status == state.StatusCompleted || snap.Status == state.StatusTerminated {
		m.phase = PhaseTerminated
	} else {
		m.phase = PhaseAwaitingInput
	}
	m.mu.Unlock()
	m.logger.Info("conversation resumed",
		"thread_id", threadID,
		"messages", len(snap.Messages),
		"turn_index", snap.TurnIndex,
		"status", snap.Status)
	return snap, nil
}

// Greet runs the proactive opening turn: no user input, a synthesized
// instruction prompts the provider for a short greeting, and only the
// assistant message is committed. TurnIndex is left untouched.
func (m *Machine) Greet(ctx context.Context) (core.Message, error) {
	if err := m.beginTurn(); err != nil {
		return core.Message{}, err
	}

	threadID := m.id.ThreadID()
	snap, err := m.snapshot(ctx, threadID)
	if err != nil {
		m.endTurn(PhaseAwaitingInput)
		return core.Message{}, err
	}

	instruction := greetingInstructions[DefaultLanguage]
	if inst, ok := greetingInstructions[m.language]; ok {
		instruction = inst
	}
	trigger := core.NewMessage(core.RoleUser, fmt.Sprintf(instruction, firstName(snap.ParticipantName)))

	reply, err := m.provider.Generate(ctx, SystemPrompt(m.appCtx), []core.Message{trigger})
	if err != nil {
		m.recordFailure(ctx, threadID, "greet", err)
		m.endTurn(PhaseAwaitingInput)
		return core.Message{}, fmt.Errorf("generate greeting: %w", err)
	}

	if _, err := m.store.Commit(ctx, threadID, state.Delta{
		AppendMessages: []core.Message{reply},
	}); err != nil {
		m.endTurn(PhaseAwaitingInput)
		return core.Message{}, fmt.Errorf("commit greeting %s: %w", threadID, err)
	}

	m.endTurn(PhaseCommitted)
	m.logger.Info("greeting committed", "thread_id", threadID, "language", m.language)
	m.endTurn(PhaseAwaitingInput)
	return reply, nil
}

// HandleUtterance runs one full turn for a finalized candidate utterance.
// On success the committed delta appends the user and assistant messages and
// advances TurnIndex; every other scalar rides along unchanged. The turn is
// complete only once Commit returns, so callers may hand the messages to
// side-effect components as soon as this returns.
func (m *Machine) HandleUtterance(ctx context.Context, text string) (core.Message, error) {
	if strings.TrimSpace(text) == "" {
		return core.Message{}, core.NewValidationError("empty utterance")
	}
	if err := m.beginTurn(); err != nil {
		return core.Message{}, err
	}

	threadID := m.id.ThreadID()
	snap, err := m.snapshot(ctx, threadID)
	if err != nil {
		m.endTurn(PhaseAwaitingInput)
		return core.Message{}, err
	}

	userMsg := core.NewMessage(core.RoleUser, text)
	history := append(snap.Messages, userMsg)

	reply, err := m.provider.Generate(ctx, SystemPrompt(m.appCtx), history)
	if err != nil {
		m.recordFailure(ctx, threadID, "generate", err)
		m.endTurn(PhaseAwaitingInput)
		return core.Message{}, fmt.Errorf("generate turn: %w", err)
	}

	nextTurn := snap.TurnIndex + 1
	if _, err := m.store.Commit(ctx, threadID, state.Delta{
		AppendMessages: []core.Message{userMsg, reply},
		TurnIndex:      &nextTurn,
	}); err != nil {
		m.endTurn(PhaseAwaitingInput)
		return core.Message{}, fmt.Errorf("commit turn %s: %w", threadID, err)
	}

	m.endTurn(PhaseCommitted)
	m.logger.Debug("turn committed", "thread_id", threadID, "turn_index", nextTurn)
	m.endTurn(PhaseAwaitingInput)
	return reply, nil
}

// Terminate commits the final status and stops accepting input. The phase
// flips to terminated before the commit, so input is rejected even when the
// final write fails. Repeated calls are no-ops.
func (m *Machine) Terminate(ctx context.Context, final state.Status) error {
	if final != state.StatusCompleted && final != state.StatusTerminated {
		return core.NewValidationError("final status must be completed or terminated")
	}

	m.mu.Lock()
	if m.phase == PhaseTerminated {
		m.mu.Unlock()
		return nil
	}
	m.phase = PhaseTerminated
	m.mu.Unlock()

	threadID := m.id.ThreadID()
	if _, err := m.store.Commit(ctx, threadID, state.Delta{Status: &final}); err != nil {
		return fmt.Errorf("commit final status %s: %w", threadID, err)
	}
	m.logger.Info("conversation terminated", "thread_id", threadID, "status", final)
	return nil
}

// beginTurn claims the generating phase or rejects the caller.
func (m *Machine) beginTurn() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch m.phase {
	case PhaseTerminated:
		return core.NewValidationError("session is terminated")
	case PhaseGenerating:
		return core.NewValidationError("a turn is already in progress")
	}
	m.phase = PhaseGenerating
	return nil
}

// endTurn moves to next unless a concurrent Terminate already won.
func (m *Machine) endTurn(next Phase) {
	m.mu.Lock()
	if m.phase != PhaseTerminated {
		m.phase = next
	}
	m.mu.Unlock()
}

// snapshot loads the current state, mapping an unknown thread to not_found.
func (m *Machine) snapshot(ctx context.Context, threadID string) (*state.ConversationState, error) {
	snap, err := m.store.Get(ctx, threadID)
	if err != nil {
		return nil, fmt.Errorf("load conversation %s: %w", threadID, err)
	}
	if snap == nil {
		return nil, core.NewNotFoundError("no conversation state for thread " + threadID)
	}
	return snap, nil
}

// recordFailure commits a LastError-only delta so the failure is visible in
// the snapshot without blocking later turns. The write itself is
// best-effort bookkeeping.
func (m *Machine) recordFailure(ctx context.Context, threadID, stage string, cause error) {
	_, err := m.store.Commit(ctx, threadID, state.Delta{
		LastError: &state.ErrorState{
			Stage:   stage,
			Message: cause.Error(),
			At:      time.Now().UTC(),
		},
	})
	if err != nil {
		m.logger.Warn("failed to record turn error", "thread_id", threadID, "error", err)
	}
}

// firstName reduces a full participant name to its first word, falling back
// to a neutral greeting target.
func firstName(name string) string {
	if fields := strings.Fields(name); len(fields) > 0 {
		return fields[0]
	}
	return "there"
}
