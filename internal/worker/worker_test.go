package worker

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shaiso/composer/internal/compiler"
	"github.com/shaiso/composer/internal/domain"
	"github.com/shaiso/composer/internal/mq"
	"github.com/shaiso/composer/internal/repo"
)

// --- Fakes ---

type memStore struct {
	mu    sync.Mutex
	items map[uuid.UUID]*domain.Compilation
	order []uuid.UUID
}

func newMemStore(cs ...*domain.Compilation) *memStore {
	s := &memStore{items: make(map[uuid.UUID]*domain.Compilation)}
	for _, c := range cs {
		cp := *c
		s.items[c.ID] = &cp
		s.order = append(s.order, c.ID)
	}
	return s
}

func (s *memStore) GetByID(_ context.Context, id uuid.UUID) (*domain.Compilation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.items[id]
	if !ok {
		return nil, repo.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (s *memStore) ListQueued(_ context.Context, limit int) ([]domain.Compilation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Compilation
	for _, id := range s.order {
		if c := s.items[id]; c.Status == domain.CompilationStatusQueued && len(out) < limit {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (s *memStore) MarkRunning(_ context.Context, c *domain.Compilation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.items[c.ID]
	if !ok {
		return repo.ErrNotFound
	}
	if stored.Status != domain.CompilationStatusQueued {
		return repo.ErrInvalidState
	}
	c.MarkRunning()
	cp := *c
	s.items[c.ID] = &cp
	return nil
}

func (s *memStore) Update(_ context.Context, c *domain.Compilation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[c.ID]; !ok {
		return repo.ErrNotFound
	}
	cp := *c
	s.items[c.ID] = &cp
	return nil
}

func (s *memStore) get(id uuid.UUID) domain.Compilation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.items[id]
}

type recordingPublisher struct {
	mu       sync.Mutex
	payloads []mq.CompilationCompletedPayload
	err      error
}

func (p *recordingPublisher) PublishCompilationCompleted(_ context.Context, payload mq.CompilationCompletedPayload) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.payloads = append(p.payloads, payload)
	return p.err
}

func (p *recordingPublisher) published() []mq.CompilationCompletedPayload {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]mq.CompilationCompletedPayload(nil), p.payloads...)
}

type stubCompiler struct {
	res *compiler.Result
}

func (s stubCompiler) CompileDocument(context.Context, domain.SourceDocument, compiler.CompileOptions) (*compiler.Result, error) {
	return s.res, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestWorker(store Store, pub Publisher) *Worker {
	return New(Config{
		Store:     store,
		Publisher: pub,
		Compiler:  compiler.New(compiler.Config{Logger: discardLogger()}),
		Logger:    discardLogger(),
	})
}

const okSource = `const composer = require("composer");
module.exports = composer.sequence("a", "b");
`

// --- Worker Tests ---

func TestNew_DefaultConfig(t *testing.T) {
	w := New(Config{})

	assert.Equal(t, defaultPollInterval, w.pollInterval)
	assert.Equal(t, defaultBatchSize, w.batchSize)
	assert.Equal(t, defaultPrefetch, w.prefetch)
	assert.NotNil(t, w.logger)
}

func TestNew_CustomConfig(t *testing.T) {
	w := New(Config{
		PollInterval: 5 * time.Second,
		BatchSize:    25,
		Prefetch:     2,
	})

	assert.Equal(t, 5*time.Second, w.pollInterval)
	assert.Equal(t, 25, w.batchSize)
	assert.Equal(t, 2, w.prefetch)
}

func TestWorker_IsStopped(t *testing.T) {
	w := New(Config{})
	assert.False(t, w.IsStopped())

	w.stoppedMu.Lock()
	w.stopped = true
	w.stoppedMu.Unlock()

	assert.True(t, w.IsStopped())
}

func TestProcessCompilation_Succeeded(t *testing.T) {
	c := domain.NewCompilation("flow.js", okSource, false)
	store := newMemStore(c)
	pub := &recordingPublisher{}
	w := newTestWorker(store, pub)

	require.NoError(t, w.processCompilation(context.Background(), c.ID))

	got := store.get(c.ID)
	assert.Equal(t, domain.CompilationStatusSucceeded, got.Status)
	assert.Equal(t, "default", got.Strategy)
	assert.Equal(t, string(compiler.SourceReturn), got.CandidateSource)
	assert.NotEmpty(t, got.FSM.Entry())
	assert.Empty(t, got.Diagnostic)
	require.NotNil(t, got.StartedAt)
	require.NotNil(t, got.FinishedAt)

	payloads := pub.published()
	require.Len(t, payloads, 1)
	assert.Equal(t, c.ID, payloads[0].CompilationID)
	assert.Equal(t, "SUCCEEDED", payloads[0].Status)
	assert.NotNil(t, payloads[0].FSM)
}

func TestProcessCompilation_StoresOwnFSMCopy(t *testing.T) {
	shared := domain.FSM{"Entry": "a", "States": map[string]any{"a": map[string]any{"Type": "Pass"}}}
	c := domain.NewCompilation("flow.js", okSource, false)
	store := newMemStore(c)
	w := New(Config{
		Store:    store,
		Compiler: stubCompiler{res: &compiler.Result{FSM: shared, Strategy: "default", Source: compiler.SourceReturn}},
		Logger:   discardLogger(),
	})

	require.NoError(t, w.processCompilation(context.Background(), c.ID))
	shared["States"].(map[string]any)["a"] = "changed"

	got := store.get(c.ID)
	assert.Equal(t, domain.CompilationStatusSucceeded, got.Status)
	assert.Equal(t, map[string]any{"Type": "Pass"}, got.FSM["States"].(map[string]any)["a"])
}

func TestProcessCompilation_UnserializableFSM(t *testing.T) {
	c := domain.NewCompilation("flow.js", okSource, false)
	store := newMemStore(c)
	w := New(Config{
		Store:    store,
		Compiler: stubCompiler{res: &compiler.Result{FSM: domain.FSM{"Entry": "a", "bad": func() {}}}},
		Logger:   discardLogger(),
	})

	require.NoError(t, w.processCompilation(context.Background(), c.ID))

	got := store.get(c.ID)
	assert.Equal(t, domain.CompilationStatusFailed, got.Status)
	assert.Contains(t, got.Diagnostic, "marshal fsm")
	assert.Nil(t, got.FSM)
}

func TestProcessCompilation_Failed(t *testing.T) {
	c := domain.NewCompilation("broken.js", "const composer = require(\"composer\");\nnull.x;\n", false)
	store := newMemStore(c)
	pub := &recordingPublisher{}
	w := newTestWorker(store, pub)

	require.NoError(t, w.processCompilation(context.Background(), c.ID))

	got := store.get(c.ID)
	assert.Equal(t, domain.CompilationStatusFailed, got.Status)
	assert.Contains(t, got.Diagnostic, "broken.js")
	assert.Nil(t, got.FSM)

	payloads := pub.published()
	require.Len(t, payloads, 1)
	assert.Equal(t, "FAILED", payloads[0].Status)
	assert.Equal(t, got.Diagnostic, payloads[0].Diagnostic)
	assert.Nil(t, payloads[0].FSM)
}

func TestProcessCompilation_EmptySource(t *testing.T) {
	c := domain.NewCompilation("empty.js", "   \n", false)
	store := newMemStore(c)
	w := newTestWorker(store, nil)

	require.NoError(t, w.processCompilation(context.Background(), c.ID))

	got := store.get(c.ID)
	assert.Equal(t, domain.CompilationStatusFailed, got.Status)
	assert.NotEmpty(t, got.Diagnostic)
}

func TestProcessCompilation_NotFound(t *testing.T) {
	w := newTestWorker(newMemStore(), nil)

	err := w.processCompilation(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ErrCompilationNotFound)
}

func TestProcessCompilation_NotQueued(t *testing.T) {
	c := domain.NewCompilation("flow.js", okSource, false)
	c.MarkRunning()
	store := newMemStore(c)
	pub := &recordingPublisher{}
	w := newTestWorker(store, pub)

	err := w.processCompilation(context.Background(), c.ID)
	assert.ErrorIs(t, err, ErrCompilationNotQueued)
	assert.Empty(t, pub.published())
}

func TestProcessCompilation_PublishErrorIgnored(t *testing.T) {
	c := domain.NewCompilation("flow.js", okSource, false)
	store := newMemStore(c)
	pub := &recordingPublisher{err: errors.New("channel closed")}
	w := newTestWorker(store, pub)

	require.NoError(t, w.processCompilation(context.Background(), c.ID))
	assert.Equal(t, domain.CompilationStatusSucceeded, store.get(c.ID).Status)
}

func TestHandleCompilationRequested(t *testing.T) {
	c := domain.NewCompilation("flow.js", okSource, true)
	store := newMemStore(c)
	pub := &recordingPublisher{}
	w := newTestWorker(store, pub)

	msg := mq.NewMessage(mq.MessageTypeCompilationRequested, mq.CompilationRequestedPayload{CompilationID: c.ID})
	require.NoError(t, w.handleCompilationRequested(context.Background(), &mq.Delivery{Message: *msg}))
	assert.Equal(t, domain.CompilationStatusSucceeded, store.get(c.ID).Status)

	// Повторная доставка уже обработанной компиляции подтверждается без ошибки.
	require.NoError(t, w.handleCompilationRequested(context.Background(), &mq.Delivery{Message: *msg, Redelivered: true}))
	assert.Len(t, pub.published(), 1)
}

func TestHandleCompilationRequested_UnknownID(t *testing.T) {
	w := newTestWorker(newMemStore(), nil)

	msg := mq.NewMessage(mq.MessageTypeCompilationRequested, mq.CompilationRequestedPayload{CompilationID: uuid.New()})
	assert.NoError(t, w.handleCompilationRequested(context.Background(), &mq.Delivery{Message: *msg}))
}

func TestHandleCompilationRequested_BadPayload(t *testing.T) {
	w := newTestWorker(newMemStore(), nil)

	msg := mq.NewMessage(mq.MessageTypeCompilationRequested, "not an object")
	assert.Error(t, w.handleCompilationRequested(context.Background(), &mq.Delivery{Message: *msg}))
}

func TestPoll_ProcessesQueued(t *testing.T) {
	a := domain.NewCompilation("a.js", okSource, false)
	b := domain.NewCompilation("b.js", "throw new Error('boom');", false)
	done := domain.NewCompilation("c.js", okSource, false)
	done.MarkFailed("old")

	store := newMemStore(a, b, done)
	pub := &recordingPublisher{}
	w := newTestWorker(store, pub)

	w.poll(context.Background())

	assert.Equal(t, domain.CompilationStatusSucceeded, store.get(a.ID).Status)
	assert.Equal(t, domain.CompilationStatusFailed, store.get(b.ID).Status)
	assert.Equal(t, "old", store.get(done.ID).Diagnostic)
	assert.Len(t, pub.published(), 2)
}

func TestWorker_StartStopPollingOnly(t *testing.T) {
	c := domain.NewCompilation("flow.js", okSource, false)
	store := newMemStore(c)
	w := newTestWorker(store, nil)
	w.pollInterval = 10 * time.Millisecond

	require.NoError(t, w.Start(context.Background()))

	assert.Eventually(t, func() bool {
		return store.get(c.ID).Status == domain.CompilationStatusSucceeded
	}, 5*time.Second, 10*time.Millisecond)

	w.Stop()
	assert.True(t, w.IsStopped())
}

func TestDiagnosticMessage(t *testing.T) {
	d := &compiler.Diagnostic{Message: "boom\n    at flow.js:1:1"}
	assert.Equal(t, d.Message, diagnosticMessage(d))
	assert.Equal(t, "plain", diagnosticMessage(errors.New("plain")))
}
