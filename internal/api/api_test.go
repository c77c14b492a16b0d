package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shaiso/composer/internal/compiler"
	"github.com/shaiso/composer/internal/domain"
	"github.com/shaiso/composer/internal/repo"
)

// --- Fakes ---

type memStore struct {
	mu        sync.Mutex
	items     []domain.Compilation
	createErr error
}

func (s *memStore) Create(_ context.Context, c *domain.Compilation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.createErr != nil {
		return s.createErr
	}
	s.items = append(s.items, *c)
	return nil
}

func (s *memStore) GetByID(_ context.Context, id uuid.UUID) (*domain.Compilation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.items {
		if s.items[i].ID == id {
			c := s.items[i]
			return &c, nil
		}
	}
	return nil, repo.ErrNotFound
}

func (s *memStore) List(_ context.Context, limit int) ([]domain.Compilation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.items) > limit {
		return append([]domain.Compilation(nil), s.items[:limit]...), nil
	}
	return append([]domain.Compilation(nil), s.items...), nil
}

type recordingPublisher struct {
	ids []uuid.UUID
	err error
}

func (p *recordingPublisher) PublishCompilationRequested(_ context.Context, id uuid.UUID) error {
	p.ids = append(p.ids, id)
	return p.err
}

func newTestServer(store Store, pub Publisher) *httptest.Server {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := NewHandler(Config{
		Store:     store,
		Publisher: pub,
		Compiler:  compiler.New(compiler.Config{Logger: logger}),
		Logger:    logger,
	})
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)
	return httptest.NewServer(mux)
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

const okSource = `const composer = require("composer");
module.exports = composer.sequence("a", "b");
`

// --- /compile ---

func TestCompile_Success(t *testing.T) {
	srv := newTestServer(&memStore{}, nil)
	defer srv.Close()

	resp := postJSON(t, srv.URL+"/api/v1/compile", CompileRequest{Filename: "flow.js", Source: okSource})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	data := decode(t, resp)["data"].(map[string]any)
	assert.Equal(t, compiler.StrategyDefault, data["strategy"])
	assert.Equal(t, string(compiler.SourceReturn), data["candidate_source"])
	assert.EqualValues(t, 1, data["attempts"])

	result := data["result"].(map[string]any)
	assert.NotEmpty(t, result["Entry"])
	assert.NotContains(t, result, "code")
}

func TestCompile_IncludeSource(t *testing.T) {
	srv := newTestServer(&memStore{}, nil)
	defer srv.Close()

	resp := postJSON(t, srv.URL+"/api/v1/compile", CompileRequest{Filename: "flow.js", Source: okSource, IncludeSource: true})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	result := decode(t, resp)["data"].(map[string]any)["result"].(map[string]any)
	assert.Equal(t, okSource, result["code"])
	assert.Contains(t, result["fsm"], "Entry")
}

func TestCompile_Diagnostic(t *testing.T) {
	srv := newTestServer(&memStore{}, nil)
	defer srv.Close()

	src := "const composer = require(\"composer\");\nthrow new Error(\"boom\");\n"
	resp := postJSON(t, srv.URL+"/api/v1/compile", CompileRequest{Filename: "flow.js", Source: src})
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	body := decode(t, resp)
	errBody := body["error"].(map[string]any)
	assert.Equal(t, string(ErrCodeCompileFailed), errBody["code"])
	assert.Contains(t, errBody["message"], "boom")
	assert.Equal(t, errBody["message"], body["fsm"])
	assert.Equal(t, src, body["code"])
}

func TestCompile_NoCandidate(t *testing.T) {
	srv := newTestServer(&memStore{}, nil)
	defer srv.Close()

	resp := postJSON(t, srv.URL+"/api/v1/compile", CompileRequest{Source: `({not: "an fsm"})`})
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	errBody := decode(t, resp)["error"].(map[string]any)
	assert.Equal(t, string(ErrCodeNoCandidate), errBody["code"])
	assert.Equal(t, compiler.MessageNoCandidate, errBody["message"])
}

func TestCompile_EmptySource(t *testing.T) {
	srv := newTestServer(&memStore{}, nil)
	defer srv.Close()

	resp := postJSON(t, srv.URL+"/api/v1/compile", CompileRequest{Source: "  \n"})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, string(ErrCodeEmptySource), decode(t, resp)["error"].(map[string]any)["code"])
}

func TestCompile_InvalidBody(t *testing.T) {
	srv := newTestServer(&memStore{}, nil)
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/api/v1/compile", "application/json", bytes.NewBufferString("{"))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

// --- /compilations ---

func TestSubmitCompilation(t *testing.T) {
	store := &memStore{}
	pub := &recordingPublisher{}
	srv := newTestServer(store, pub)
	defer srv.Close()

	resp := postJSON(t, srv.URL+"/api/v1/compilations", CompileRequest{Filename: "flow.js", Source: okSource})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	data := decode(t, resp)["data"].(map[string]any)
	assert.Equal(t, "QUEUED", data["status"])
	assert.Equal(t, "flow.js", data["filename"])

	require.Len(t, store.items, 1)
	require.Len(t, pub.ids, 1)
	assert.Equal(t, store.items[0].ID, pub.ids[0])
	assert.Equal(t, store.items[0].ID.String(), data["id"])
}

func TestSubmitCompilation_PublishFailureStillAccepted(t *testing.T) {
	store := &memStore{}
	srv := newTestServer(store, &recordingPublisher{err: errors.New("no channel")})
	defer srv.Close()

	resp := postJSON(t, srv.URL+"/api/v1/compilations", CompileRequest{Source: okSource})
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Len(t, store.items, 1)
}

func TestSubmitCompilation_WithoutPublisher(t *testing.T) {
	store := &memStore{}
	srv := newTestServer(store, nil)
	defer srv.Close()

	resp := postJSON(t, srv.URL+"/api/v1/compilations", CompileRequest{Source: okSource})
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	require.Len(t, store.items, 1)
	assert.Equal(t, "composition.js", store.items[0].Filename)
}

func TestSubmitCompilation_EmptySource(t *testing.T) {
	store := &memStore{}
	srv := newTestServer(store, nil)
	defer srv.Close()

	resp := postJSON(t, srv.URL+"/api/v1/compilations", CompileRequest{Source: ""})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Empty(t, store.items)
}

func TestSubmitCompilation_StoreError(t *testing.T) {
	srv := newTestServer(&memStore{createErr: errors.New("db down")}, nil)
	defer srv.Close()

	resp := postJSON(t, srv.URL+"/api/v1/compilations", CompileRequest{Source: okSource})
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, string(ErrCodeInternalError), decode(t, resp)["error"].(map[string]any)["code"])
}

func TestSubmitCompilation_AlreadyExists(t *testing.T) {
	srv := newTestServer(&memStore{createErr: fmt.Errorf("%w: compilation x", repo.ErrAlreadyExists)}, nil)
	defer srv.Close()

	resp := postJSON(t, srv.URL+"/api/v1/compilations", CompileRequest{Source: okSource})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, string(ErrCodeConflict), decode(t, resp)["error"].(map[string]any)["code"])
}

func TestGetCompilation(t *testing.T) {
	c := domain.NewCompilation("flow.js", okSource, true)
	c.MarkRunning()
	c.MarkSucceeded(domain.FSM{"Entry": "s1"}, "default", "return")
	srv := newTestServer(&memStore{items: []domain.Compilation{*c}}, nil)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/v1/compilations/" + c.ID.String())
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	data := decode(t, resp)["data"].(map[string]any)
	assert.Equal(t, "SUCCEEDED", data["status"])
	assert.Equal(t, "default", data["strategy"])
	assert.Equal(t, okSource, data["source"])
	assert.Equal(t, map[string]any{"Entry": "s1"}, data["fsm"])
}

func TestGetCompilation_Errors(t *testing.T) {
	srv := newTestServer(&memStore{}, nil)
	defer srv.Close()

	tests := []struct {
		name   string
		id     string
		status int
	}{
		{name: "invalid id", id: "not-a-uuid", status: http.StatusBadRequest},
		{name: "unknown id", id: uuid.NewString(), status: http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := http.Get(srv.URL + "/api/v1/compilations/" + tt.id)
			require.NoError(t, err)
			defer resp.Body.Close()
			assert.Equal(t, tt.status, resp.StatusCode)
		})
	}
}

func TestListCompilations(t *testing.T) {
	store := &memStore{}
	for range 3 {
		store.items = append(store.items, *domain.NewCompilation("flow.js", okSource, false))
	}
	srv := newTestServer(store, nil)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/v1/compilations?limit=2")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := decode(t, resp)
	assert.Len(t, body["data"], 2)
	assert.EqualValues(t, 2, body["total"])
	// Исходник не отдаётся без include_source
	assert.NotContains(t, body["data"].([]any)[0], "source")
}

func TestListCompilations_InvalidLimit(t *testing.T) {
	srv := newTestServer(&memStore{}, nil)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/v1/compilations?limit=-1")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

// --- Middleware ---

func TestChain_Order(t *testing.T) {
	var order []string
	mw := func(name string) Middleware {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}

	h := Chain(mw("a"), mw("b"))(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		order = append(order, "handler")
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, []string{"a", "b", "handler"}, order)
}

func TestRecovery(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := Recovery(logger)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestLogging_CapturesStatus(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	h := Logging(logger)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/x", nil))
	assert.Contains(t, buf.String(), "status=418")
	assert.Contains(t, buf.String(), "request_id=")
}
