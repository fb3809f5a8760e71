package interview

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/husainf4l/rolevatev7/pkg/core"
	"github.com/husainf4l/rolevatev7/pkg/identity"
	"github.com/husainf4l/rolevatev7/pkg/state"
)

const testRoom = "interview-11111111-2222-3333-4444-555555555555-7"

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type generateCall struct {
	system  string
	history []core.Message
}

// fakeProvider records every Generate call and answers with a fixed reply or
// error. A non-nil block channel holds Generate open until closed.
type fakeProvider struct {
	mu      sync.Mutex
	reply   string
	err     error
	block   chan struct{}
	entered chan struct{}
	calls   []generateCall
}

func (p *fakeProvider) Name() string { return "fake" }

func (p *fakeProvider) Generate(_ context.Context, systemPrompt string, history []core.Message) (core.Message, error) {
	p.mu.Lock()
	p.calls = append(p.calls, generateCall{
		system:  systemPrompt,
		history: append([]core.Message(nil), history...),
	})
	block, entered := p.block, p.entered
	reply, err := p.reply, p.err
	p.mu.Unlock()

	if entered != nil {
		select {
		case entered <- struct{}{}:
		default:
		}
	}
	if block != nil {
		<-block
	}
	if err != nil {
		return core.Message{}, err
	}
	return core.NewMessage(core.RoleAssistant, reply), nil
}

func (p *fakeProvider) setErr(err error) {
	p.mu.Lock()
	p.err = err
	p.mu.Unlock()
}

func (p *fakeProvider) lastCall() generateCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.calls) == 0 {
		return generateCall{}
	}
	return p.calls[len(p.calls)-1]
}

// flakyStore fails a set number of commits before delegating to the real
// backend underneath.
type flakyStore struct {
	state.Store
	mu          sync.Mutex
	failCommits int
}

func (s *flakyStore) Commit(ctx context.Context, threadID string, delta state.Delta) (*state.ConversationState, error) {
	s.mu.Lock()
	fail := s.failCommits > 0
	if fail {
		s.failCommits--
	}
	s.mu.Unlock()
	if fail {
		return nil, core.NewConnectivityError("state backend unreachable", nil)
	}
	return s.Store.Commit(ctx, threadID, delta)
}

func newTestMachine(store state.Store, p *fakeProvider, appCtx *identity.ApplicationContext) (*Machine, *identity.SessionIdentity) {
	id := identity.NewSessionIdentity(testRoom, "11111111-2222-3333-4444-555555555555")
	m := NewMachine(Config{
		Store:           store,
		Provider:        p,
		Identity:        id,
		Context:         appCtx,
		ParticipantName: "Layla Haddad",
		Logger:          discardLogger(),
	})
	return m, id
}

func TestMachine_BeginWritesInitialSnapshot(t *testing.T) {
	store := state.NewMemoryStore()
	app := &identity.ApplicationContext{Job: &identity.Job{InterviewLanguage: "Arabic"}}
	m, id := newTestMachine(store, &fakeProvider{reply: "hi"}, app)

	if err := m.Begin(t.Context()); err != nil {
		t.Fatalf("Begin: %v", err)
	}

	snap, err := store.Get(t.Context(), id.ThreadID())
	if err != nil || snap == nil {
		t.Fatalf("Get after Begin: snap=%v err=%v", snap, err)
	}
	if snap.ParticipantName != "Layla Haddad" {
		t.Errorf("ParticipantName = %q", snap.ParticipantName)
	}
	if snap.LanguagePreference != "arabic" {
		t.Errorf("LanguagePreference = %q", snap.LanguagePreference)
	}
	if snap.Status != state.StatusActive {
		t.Errorf("Status = %q", snap.Status)
	}
	if len(snap.ApplicationContext) == 0 {
		t.Error("ApplicationContext not persisted")
	}
	if m.Phase() != PhaseAwaitingInput {
		t.Errorf("Phase = %q", m.Phase())
	}
}

func TestMachine_GreetCommitsOnlyAssistant(t *testing.T) {
	store := state.NewMemoryStore()
	p := &fakeProvider{reply: "Hello Layla, welcome."}
	m, id := newTestMachine(store, p, nil)
	if err := m.Begin(t.Context()); err != nil {
		t.Fatalf("Begin: %v", err)
	}

	reply, err := m.Greet(t.Context())
	if err != nil {
		t.Fatalf("Greet: %v", err)
	}
	if reply.Role != core.RoleAssistant || reply.Content != "Hello Layla, welcome." {
		t.Errorf("reply = %+v", reply)
	}

	call := p.lastCall()
	if call.system != "You are a helpful AI assistant." {
		t.Errorf("system prompt = %q", call.system)
	}
	if len(call.history) != 1 || call.history[0].Role != core.RoleUser {
		t.Fatalf("provider history = %+v", call.history)
	}
	if call.history[0].Content != "Say a simple hello: 'Hello Layla'" {
		t.Errorf("greeting instruction = %q", call.history[0].Content)
	}

	snap, _ := store.Get(t.Context(), id.ThreadID())
	if len(snap.Messages) != 1 {
		t.Fatalf("stored messages = %d, want 1 (trigger must not persist)", len(snap.Messages))
	}
	if snap.Messages[0].Role != core.RoleAssistant {
		t.Errorf("stored role = %q", snap.Messages[0].Role)
	}
	if snap.TurnIndex != 0 {
		t.Errorf("TurnIndex = %d, want 0", snap.TurnIndex)
	}
	if snap.Status != state.StatusActive {
		t.Errorf("Status = %q", snap.Status)
	}
}

func TestMachine_GreetUsesArabicInstruction(t *testing.T) {
	store := state.NewMemoryStore()
	p := &fakeProvider{reply: "مرحباً"}
	app := &identity.ApplicationContext{Job: &identity.Job{InterviewLanguage: "arabic"}}
	m, _ := newTestMachine(store, p, app)
	if err := m.Begin(t.Context()); err != nil {
		t.Fatalf("Begin: %v", err)
	}

	if _, err := m.Greet(t.Context()); err != nil {
		t.Fatalf("Greet: %v", err)
	}

	got := p.lastCall().history[0].Content
	if got != "قل مرحباً بسيطاً: 'مرحباً Layla'" {
		t.Errorf("greeting instruction = %q", got)
	}
}

func TestMachine_LanguagePreferencePrecedence(t *testing.T) {
	withJob := &identity.ApplicationContext{Job: &identity.Job{InterviewLanguage: "Arabic"}}
	m := NewMachine(Config{Context: withJob, Language: "english", Logger: discardLogger()})
	if m.Language() != "arabic" {
		t.Errorf("job-configured language lost to the preference: %q", m.Language())
	}

	m = NewMachine(Config{Language: "Arabic", Logger: discardLogger()})
	if m.Language() != "arabic" {
		t.Errorf("client preference ignored without a job: %q", m.Language())
	}

	blankJob := &identity.ApplicationContext{Job: &identity.Job{}}
	m = NewMachine(Config{Context: blankJob, Language: "arabic", Logger: discardLogger()})
	if m.Language() != "arabic" {
		t.Errorf("blank job language should defer to the preference: %q", m.Language())
	}

	m = NewMachine(Config{Logger: discardLogger()})
	if m.Language() != DefaultLanguage {
		t.Errorf("language with nothing configured = %q", m.Language())
	}
}

func TestMachine_TurnAppendsAndAdvances(t *testing.T) {
	store := state.NewMemoryStore()
	p := &fakeProvider{reply: "Tell me about your last project."}
	m, id := newTestMachine(store, p, nil)
	if err := m.Begin(t.Context()); err != nil {
		t.Fatalf("Begin: %v", err)
	}

	reply, err := m.HandleUtterance(t.Context(), "I have five years of Go experience.")
	if err != nil {
		t.Fatalf("HandleUtterance: %v", err)
	}
	if reply.Content != "Tell me about your last project." {
		t.Errorf("reply = %q", reply.Content)
	}

	call := p.lastCall()
	if len(call.history) != 1 || call.history[0].Content != "I have five years of Go experience." {
		t.Errorf("provider history = %+v", call.history)
	}

	snap, _ := store.Get(t.Context(), id.ThreadID())
	if len(snap.Messages) != 2 {
		t.Fatalf("stored messages = %d, want 2", len(snap.Messages))
	}
	if snap.Messages[0].Role != core.RoleUser || snap.Messages[1].Role != core.RoleAssistant {
		t.Errorf("message roles = %q, %q", snap.Messages[0].Role, snap.Messages[1].Role)
	}
	if snap.TurnIndex != 1 {
		t.Errorf("TurnIndex = %d, want 1", snap.TurnIndex)
	}
	if snap.ParticipantName != "Layla Haddad" {
		t.Errorf("ParticipantName lost: %q", snap.ParticipantName)
	}
}

func TestMachine_ScalarsSurviveManyTurns(t *testing.T) {
	store := state.NewMemoryStore()
	p := &fakeProvider{reply: "Noted."}
	m, id := newTestMachine(store, p, nil)
	if err := m.Begin(t.Context()); err != nil {
		t.Fatalf("Begin: %v", err)
	}

	first, _ := store.Get(t.Context(), id.ThreadID())

	for i := 1; i <= 3; i++ {
		if _, err := m.HandleUtterance(t.Context(), "answer"); err != nil {
			t.Fatalf("turn %d: %v", i, err)
		}
		snap, _ := store.Get(t.Context(), id.ThreadID())
		if len(snap.Messages) != 2*i {
			t.Fatalf("after turn %d: messages = %d, want %d", i, len(snap.Messages), 2*i)
		}
		if snap.TurnIndex != i {
			t.Errorf("after turn %d: TurnIndex = %d", i, snap.TurnIndex)
		}
	}

	last, _ := store.Get(t.Context(), id.ThreadID())
	if last.ParticipantName != first.ParticipantName {
		t.Errorf("ParticipantName changed: %q -> %q", first.ParticipantName, last.ParticipantName)
	}
	if last.LanguagePreference != first.LanguagePreference {
		t.Errorf("LanguagePreference changed: %q -> %q", first.LanguagePreference, last.LanguagePreference)
	}
	if !last.StartTime.Equal(first.StartTime) {
		t.Errorf("StartTime changed: %v -> %v", first.StartTime, last.StartTime)
	}
	if last.Status != state.StatusActive {
		t.Errorf("Status = %q", last.Status)
	}
}

func TestMachine_SecondTurnRejectedWhileGenerating(t *testing.T) {
	store := state.NewMemoryStore()
	p := &fakeProvider{
		reply:   "slow answer",
		block:   make(chan struct{}),
		entered: make(chan struct{}, 1),
	}
	m, _ := newTestMachine(store, p, nil)
	if err := m.Begin(t.Context()); err != nil {
		t.Fatalf("Begin: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		_, err := m.HandleUtterance(t.Context(), "first")
		done <- err
	}()
	<-p.entered

	if m.Phase() != PhaseGenerating {
		t.Errorf("Phase = %q, want %q", m.Phase(), PhaseGenerating)
	}
	_, err := m.HandleUtterance(t.Context(), "second")
	if !core.IsType(err, core.ErrValidation) {
		t.Fatalf("concurrent turn error = %v, want validation", err)
	}

	close(p.block)
	if err := <-done; err != nil {
		t.Fatalf("first turn: %v", err)
	}
	if m.Phase() != PhaseAwaitingInput {
		t.Errorf("Phase after turn = %q", m.Phase())
	}
}

func TestMachine_GenerationFailureRecordsErrorState(t *testing.T) {
	store := state.NewMemoryStore()
	p := &fakeProvider{err: core.NewConnectivityError("provider down", nil)}
	m, id := newTestMachine(store, p, nil)
	if err := m.Begin(t.Context()); err != nil {
		t.Fatalf("Begin: %v", err)
	}

	if _, err := m.HandleUtterance(t.Context(), "hello"); err == nil {
		t.Fatal("expected turn error")
	}
	if m.Phase() != PhaseAwaitingInput {
		t.Errorf("Phase = %q, want retry to stay open", m.Phase())
	}

	snap, _ := store.Get(t.Context(), id.ThreadID())
	if len(snap.Messages) != 0 {
		t.Errorf("messages = %d, want 0 after failed generation", len(snap.Messages))
	}
	if snap.LastError == nil || snap.LastError.Stage != "generate" {
		t.Fatalf("LastError = %+v", snap.LastError)
	}

	// The session stays open for retry, and the old failure rides along as a
	// preserved scalar.
	p.setErr(nil)
	if _, err := m.HandleUtterance(t.Context(), "hello again"); err != nil {
		t.Fatalf("retry: %v", err)
	}
	snap, _ = store.Get(t.Context(), id.ThreadID())
	if len(snap.Messages) != 2 {
		t.Errorf("messages after retry = %d, want 2", len(snap.Messages))
	}
	if snap.LastError == nil {
		t.Error("LastError dropped by unrelated commit")
	}
}

func TestMachine_CommitFailureKeepsStateUntouched(t *testing.T) {
	store := &flakyStore{Store: state.NewMemoryStore(), failCommits: 1}
	p := &fakeProvider{reply: "answer"}
	m, id := newTestMachine(store, p, nil)
	if err := m.Begin(t.Context()); err != nil {
		t.Fatalf("Begin: %v", err)
	}

	_, err := m.HandleUtterance(t.Context(), "hello")
	if err == nil {
		t.Fatal("expected commit failure to surface")
	}
	if !strings.Contains(err.Error(), "commit turn") {
		t.Errorf("error = %v", err)
	}

	snap, _ := store.Get(t.Context(), id.ThreadID())
	if len(snap.Messages) != 0 || snap.TurnIndex != 0 {
		t.Errorf("state mutated by incomplete turn: messages=%d turn=%d", len(snap.Messages), snap.TurnIndex)
	}

	// Session stays open; the next attempt lands.
	if _, err := m.HandleUtterance(t.Context(), "hello"); err != nil {
		t.Fatalf("retry: %v", err)
	}
	snap, _ = store.Get(t.Context(), id.ThreadID())
	if len(snap.Messages) != 2 || snap.TurnIndex != 1 {
		t.Errorf("retry not committed: messages=%d turn=%d", len(snap.Messages), snap.TurnIndex)
	}
}

func TestMachine_EmptyUtteranceRejected(t *testing.T) {
	m, _ := newTestMachine(state.NewMemoryStore(), &fakeProvider{reply: "x"}, nil)
	if err := m.Begin(t.Context()); err != nil {
		t.Fatalf("Begin: %v", err)
	}

	_, err := m.HandleUtterance(t.Context(), "   ")
	if !core.IsType(err, core.ErrValidation) {
		t.Fatalf("error = %v, want validation", err)
	}
}

func TestMachine_TerminateStopsInput(t *testing.T) {
	store := state.NewMemoryStore()
	m, id := newTestMachine(store, &fakeProvider{reply: "x"}, nil)
	if err := m.Begin(t.Context()); err != nil {
		t.Fatalf("Begin: %v", err)
	}

	if err := m.Terminate(t.Context(), state.StatusCompleted); err != nil {
		t.Fatalf("Terminate: %v", err)
	}
	if m.Phase() != PhaseTerminated {
		t.Errorf("Phase = %q", m.Phase())
	}

	snap, _ := store.Get(t.Context(), id.ThreadID())
	if snap.Status != state.StatusCompleted {
		t.Errorf("Status = %q", snap.Status)
	}

	if _, err := m.HandleUtterance(t.Context(), "anyone there?"); !core.IsType(err, core.ErrValidation) {
		t.Errorf("input after terminate = %v, want validation", err)
	}
	if _, err := m.Greet(t.Context()); !core.IsType(err, core.ErrValidation) {
		t.Errorf("greet after terminate = %v, want validation", err)
	}

	// Repeat calls are no-ops.
	if err := m.Terminate(t.Context(), state.StatusTerminated); err != nil {
		t.Fatalf("second Terminate: %v", err)
	}
	snap, _ = store.Get(t.Context(), id.ThreadID())
	if snap.Status != state.StatusCompleted {
		t.Errorf("Status overwritten by no-op terminate: %q", snap.Status)
	}
}

func TestMachine_TerminateRejectsNonTerminalStatus(t *testing.T) {
	m, _ := newTestMachine(state.NewMemoryStore(), &fakeProvider{}, nil)
	if err := m.Terminate(t.Context(), state.StatusActive); !core.IsType(err, core.ErrValidation) {
		t.Fatalf("error = %v, want validation", err)
	}
}

func TestMachine_ResumeContinuesFromSnapshot(t *testing.T) {
	store := state.NewMemoryStore()
	p := &fakeProvider{reply: "answer"}
	m, id := newTestMachine(store, p, nil)
	if err := m.Begin(t.Context()); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if _, err := m.HandleUtterance(t.Context(), "hello"); err != nil {
		t.Fatalf("turn: %v", err)
	}

	// A new machine for the same thread picks up where the old one stopped.
	m2 := NewMachine(Config{
		Store:    store,
		Provider: p,
		Identity: id,
		Logger:   discardLogger(),
	})
	snap, err := m2.Resume(t.Context())
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if len(snap.Messages) != 2 || snap.TurnIndex != 1 {
		t.Fatalf("resumed snapshot: messages=%d turn=%d", len(snap.Messages), snap.TurnIndex)
	}
	if m2.Phase() != PhaseAwaitingInput {
		t.Errorf("Phase = %q", m2.Phase())
	}

	if _, err := m2.HandleUtterance(t.Context(), "continuing"); err != nil {
		t.Fatalf("turn after resume: %v", err)
	}
	snap, _ = store.Get(t.Context(), id.ThreadID())
	if len(snap.Messages) != 4 || snap.TurnIndex != 2 {
		t.Errorf("after resumed turn: messages=%d turn=%d", len(snap.Messages), snap.TurnIndex)
	}
	// Generation saw the full prior history plus the new input.
	if got := len(p.lastCall().history); got != 3 {
		t.Errorf("provider history = %d messages, want 3", got)
	}
}

func TestMachine_ResumeTerminatedSession(t *testing.T) {
	store := state.NewMemoryStore()
	m, id := newTestMachine(store, &fakeProvider{reply: "x"}, nil)
	if err := m.Begin(t.Context()); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if err := m.Terminate(t.Context(), state.StatusCompleted); err != nil {
		t.Fatalf("Terminate: %v", err)
	}

	m2 := NewMachine(Config{
		Store:    store,
		Provider: &fakeProvider{reply: "x"},
		Identity: id,
		Logger:   discardLogger(),
	})
	if _, err := m2.Resume(t.Context()); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if m2.Phase() != PhaseTerminated {
		t.Errorf("Phase = %q, want terminated", m2.Phase())
	}
	if _, err := m2.HandleUtterance(t.Context(), "hi"); !core.IsType(err, core.ErrValidation) {
		t.Errorf("input on terminal session = %v, want validation", err)
	}
}

func TestMachine_ResumeUnknownThread(t *testing.T) {
	m, _ := newTestMachine(state.NewMemoryStore(), &fakeProvider{}, nil)
	if _, err := m.Resume(t.Context()); !core.IsType(err, core.ErrNotFound) {
		t.Fatalf("error = %v, want not_found", err)
	}
}

func TestMachine_CommitsFollowRelink(t *testing.T) {
	store := state.NewMemoryStore()
	p := &fakeProvider{reply: "welcome"}
	m, id := newTestMachine(store, p, nil)
	if err := m.Begin(t.Context()); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if _, err := m.Greet(t.Context()); err != nil {
		t.Fatalf("Greet: %v", err)
	}

	// Linkage: the orchestrator seeds the snapshot under the record id and
	// then relinks the identity.
	oldThread := id.ThreadID()
	snap, _ := store.Get(t.Context(), oldThread)
	if err := store.Init(t.Context(), "rec_42", snap); err != nil {
		t.Fatalf("copy forward: %v", err)
	}
	if !id.Relink("rec_42") {
		t.Fatal("Relink refused")
	}

	if _, err := m.HandleUtterance(t.Context(), "hello"); err != nil {
		t.Fatalf("turn after relink: %v", err)
	}

	linked, _ := store.Get(t.Context(), "rec_42")
	if len(linked.Messages) != 3 || linked.TurnIndex != 1 {
		t.Errorf("linked thread: messages=%d turn=%d", len(linked.Messages), linked.TurnIndex)
	}
	orphan, _ := store.Get(t.Context(), oldThread)
	if len(orphan.Messages) != 1 {
		t.Errorf("orphaned thread mutated: messages=%d", len(orphan.Messages))
	}
}
