package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shaiso/composer/internal/compiler"
	"github.com/shaiso/composer/internal/config"
	"github.com/shaiso/composer/internal/source"
)

const okSource = `const composer = require("composer");
module.exports = composer.sequence("a", "b");
`

func writeScript(t *testing.T, text string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "app.js")
	require.NoError(t, os.WriteFile(path, []byte(text), 0o644))
	return path
}

func runCmd(cmd *cobra.Command, args ...string) error {
	cmd.SetArgs(args)
	cmd.SetOut(new(bytes.Buffer))
	cmd.SetErr(new(bytes.Buffer))
	return cmd.ExecuteContext(context.Background())
}

func newTestCompileCmd(stdout, stderr *bytes.Buffer) *cobra.Command {
	return NewCompileCmd(
		func() (*config.Config, error) { return config.Default(), nil },
		func() *Output { return newOutput(false, stdout, stderr) },
	)
}

// --- compile ---

func TestCompileCmd_PrintsFSM(t *testing.T) {
	var stdout, stderr bytes.Buffer
	path := writeScript(t, okSource)

	require.NoError(t, runCmd(newTestCompileCmd(&stdout, &stderr), path))

	var fsm map[string]any
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &fsm))
	assert.Contains(t, fsm, "Entry")
	assert.NotContains(t, fsm, "code")
	assert.Contains(t, stdout.String(), "\n  \"")
}

func TestCompileCmd_Code(t *testing.T) {
	var stdout, stderr bytes.Buffer
	path := writeScript(t, okSource)

	require.NoError(t, runCmd(newTestCompileCmd(&stdout, &stderr), path, "--code"))

	var env map[string]any
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &env))
	assert.Equal(t, okSource, env["code"])
	assert.Contains(t, env["fsm"], "Entry")
}

func TestCompileCmd_Diagnostic(t *testing.T) {
	var stdout, stderr bytes.Buffer
	src := "const composer = require(\"composer\");\nthrow new Error(\"boom\");\n"
	path := writeScript(t, src)

	err := runCmd(newTestCompileCmd(&stdout, &stderr), path)
	require.ErrorIs(t, err, compiler.ErrCompilation)
	assert.Contains(t, err.Error(), "boom")
	assert.Empty(t, stdout.String())
}

func TestCompileCmd_DiagnosticWithCode(t *testing.T) {
	var stdout, stderr bytes.Buffer
	src := "throw new Error(\"boom\");\n"
	path := writeScript(t, src)

	err := runCmd(newTestCompileCmd(&stdout, &stderr), path, "--code")
	require.Error(t, err)

	var env map[string]any
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &env))
	assert.Equal(t, err.Error(), env["fsm"])
	assert.Equal(t, src, env["code"])
}

func TestCompileCmd_MissingFile(t *testing.T) {
	var stdout, stderr bytes.Buffer

	err := runCmd(newTestCompileCmd(&stdout, &stderr), filepath.Join(t.TempDir(), "nope.js"))
	assert.ErrorIs(t, err, source.ErrNotFound)
}

func TestCompileCmd_Timeout(t *testing.T) {
	var stdout, stderr bytes.Buffer
	path := writeScript(t, "for (;;) {}")

	err := runCmd(newTestCompileCmd(&stdout, &stderr), path, "--timeout", "50ms")
	assert.ErrorIs(t, err, compiler.ErrTimeout)
}

func TestCompileCmd_RequiresFile(t *testing.T) {
	var stdout, stderr bytes.Buffer
	assert.Error(t, runCmd(newTestCompileCmd(&stdout, &stderr)))
}

func TestWatchFile_Debounces(t *testing.T) {
	path := writeScript(t, okSource)

	var calls atomic.Int32
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- watchFile(ctx, path, 50*time.Millisecond, func() { calls.Add(1) })
	}()

	// Даём watcher'у подписаться на директорию.
	time.Sleep(100 * time.Millisecond)
	for range 3 {
		require.NoError(t, os.WriteFile(path, []byte(okSource+"\n"), 0o644))
	}

	assert.Eventually(t, func() bool { return calls.Load() >= 1 }, 5*time.Second, 10*time.Millisecond)
	time.Sleep(150 * time.Millisecond)
	assert.LessOrEqual(t, calls.Load(), int32(2))

	// Изменения других файлов игнорируются.
	before := calls.Load()
	require.NoError(t, os.WriteFile(filepath.Join(filepath.Dir(path), "other.js"), []byte("1"), 0o644))
	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, before, calls.Load())

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("watchFile did not stop")
	}
}

// --- Client ---

func fakeAPI(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/compilations", func(w http.ResponseWriter, r *http.Request) {
		var req SubmitCompilationRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(map[string]any{"data": CompilationResponse{
			ID: "c1", Filename: req.Filename, Status: "QUEUED", IncludeSource: req.IncludeSource,
		}})
	})
	mux.HandleFunc("GET /api/v1/compilations/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if r.PathValue("id") != "c1" {
			w.WriteHeader(http.StatusNotFound)
			json.NewEncoder(w).Encode(map[string]any{"error": map[string]string{"code": "NOT_FOUND", "message": "compilation not found"}})
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"data": CompilationResponse{
			ID: "c1", Filename: "app.js", Status: "SUCCEEDED", Strategy: "default",
			FSM: map[string]any{"Entry": "s1"},
		}})
	})
	mux.HandleFunc("GET /api/v1/compilations", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "5", r.URL.Query().Get("limit"))
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"data":  []CompilationResponse{{ID: "c1", Status: "QUEUED"}, {ID: "c2", Status: "FAILED"}},
			"total": 2,
		})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestClient_Compilations(t *testing.T) {
	client := NewClient(fakeAPI(t).URL)

	c, err := client.SubmitCompilation(SubmitCompilationRequest{Filename: "app.js", Source: okSource, IncludeSource: true})
	require.NoError(t, err)
	assert.Equal(t, "c1", c.ID)
	assert.Equal(t, "QUEUED", c.Status)
	assert.True(t, c.IncludeSource)

	got, err := client.GetCompilation("c1")
	require.NoError(t, err)
	assert.Equal(t, "SUCCEEDED", got.Status)
	assert.Equal(t, "s1", got.FSM["Entry"])

	items, err := client.ListCompilations(5)
	require.NoError(t, err)
	assert.Len(t, items, 2)

	_, err = client.GetCompilation("missing")
	require.Error(t, err)
	assert.Equal(t, "NOT_FOUND: compilation not found", err.Error())
}

func TestCompilationCmd(t *testing.T) {
	srv := fakeAPI(t)
	clientFn := func() *Client { return NewClient(srv.URL) }

	t.Run("submit", func(t *testing.T) {
		var stdout, stderr bytes.Buffer
		cmd := NewCompilationCmd(clientFn, func() *Output { return newOutput(false, &stdout, &stderr) })

		require.NoError(t, runCmd(cmd, "submit", writeScript(t, okSource)))
		assert.Contains(t, stderr.String(), "Compilation queued: c1")
		assert.Contains(t, stdout.String(), "app.js")
		assert.Contains(t, stdout.String(), "QUEUED")
	})

	t.Run("show", func(t *testing.T) {
		var stdout, stderr bytes.Buffer
		cmd := NewCompilationCmd(clientFn, func() *Output { return newOutput(false, &stdout, &stderr) })

		require.NoError(t, runCmd(cmd, "show", "c1"))
		assert.Contains(t, stdout.String(), "SUCCEEDED")
		assert.Contains(t, stdout.String(), `"Entry": "s1"`)
	})

	t.Run("list json", func(t *testing.T) {
		var stdout, stderr bytes.Buffer
		cmd := NewCompilationCmd(clientFn, func() *Output { return newOutput(true, &stdout, &stderr) })

		require.NoError(t, runCmd(cmd, "list", "--limit", "5"))
		var items []CompilationResponse
		require.NoError(t, json.Unmarshal(stdout.Bytes(), &items))
		assert.Len(t, items, 2)
	})
}

func TestOutput_Table(t *testing.T) {
	var stdout bytes.Buffer
	out := newOutput(false, &stdout, new(bytes.Buffer))

	out.Table([]string{"ID", "STATUS"}, [][]string{{"c1", "QUEUED"}})
	assert.Equal(t, "ID  STATUS\n--  ------\nc1  QUEUED\n", stdout.String())
}
