package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bamsammich/warren/internal/indexer"
	"github.com/bamsammich/warren/internal/linkerr"
	"github.com/bamsammich/warren/internal/links"
	"github.com/bamsammich/warren/internal/metrics"
	"github.com/bamsammich/warren/internal/sandbox"
)

type testEnv struct {
	handler http.Handler
	root    string
}

func newEnv(t *testing.T) *testEnv {
	t.Helper()
	sb, err := sandbox.New(t.TempDir())
	require.NoError(t, err)

	reg := prometheus.NewRegistry()
	svc := links.New(sb, indexer.New(sb, indexer.Config{}), links.WithMetrics(metrics.New(reg)))
	return &testEnv{handler: NewRouter(svc, reg, Config{}), root: sb.Root()}
}

func (e *testEnv) write(t *testing.T, rel, content string) {
	t.Helper()
	abs := filepath.Join(e.root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(abs), 0o755))
	require.NoError(t, os.WriteFile(abs, []byte(content), 0o644))
}

func (e *testEnv) do(t *testing.T, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		r = strings.NewReader(b)
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		r = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, target, r)
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

func requireProblem(t *testing.T, rec *httptest.ResponseRecorder, status int) Problem {
	t.Helper()
	require.Equal(t, status, rec.Code, rec.Body.String())
	assert.Equal(t, ContentTypeProblemJSON, rec.Header().Get("Content-Type"))
	p := decode[Problem](t, rec)
	assert.Equal(t, status, p.Status)
	return p
}

func TestHealth(t *testing.T) {
	t.Parallel()
	env := newEnv(t)

	rec := env.do(t, http.MethodGet, "/api/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decode[map[string]any](t, rec)["status"])
}

func TestSystem(t *testing.T) {
	t.Parallel()
	env := newEnv(t)

	rec := env.do(t, http.MethodGet, "/api/system", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[map[string]any](t, rec)
	assert.Equal(t, env.root, body["basePath"])
	assert.Contains(t, body, "memoryUsage")
	assert.Contains(t, body, "goroutines")
}

func TestUnknownAPIRoute(t *testing.T) {
	t.Parallel()
	env := newEnv(t)

	p := requireProblem(t, env.do(t, http.MethodGet, "/api/nope", nil), http.StatusNotFound)
	assert.Equal(t, "API endpoint not found", p.Detail)
}

func TestResolve(t *testing.T) {
	t.Parallel()
	env := newEnv(t)

	rec := env.do(t, http.MethodGet, "/api/resolve?path=/a/b", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[map[string]string](t, rec)
	assert.Equal(t, "a/b", body["path"])
	assert.Equal(t, filepath.Join(env.root, "a", "b"), body["absolutePath"])

	p := requireProblem(t, env.do(t, http.MethodGet, "/api/resolve?path=../../etc/passwd", nil), http.StatusForbidden)
	assert.Equal(t, "AccessDenied", p.Code)
	assert.NotContains(t, p.Detail, env.root)

	requireProblem(t, env.do(t, http.MethodGet, "/api/resolve", nil), http.StatusBadRequest)
}

func TestSymlinkLifecycle(t *testing.T) {
	t.Parallel()
	env := newEnv(t)
	env.write(t, "docs/a.txt", "a")
	env.write(t, "docs/b.txt", "b")

	rec := env.do(t, http.MethodPost, "/api/links/symlink", map[string]string{"source": "docs/a.txt", "target": "links/a"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[map[string]any](t, rec)
	assert.Equal(t, true, created["success"])
	assert.Equal(t, "symbolic", created["type"])

	rec = env.do(t, http.MethodGet, "/api/links/symlink-target?path=links/a", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	target := decode[map[string]any](t, rec)
	assert.Equal(t, "links/a", target["source"])
	assert.Equal(t, "docs/a.txt", target["target"])
	assert.Equal(t, false, target["broken"])

	rec = env.do(t, http.MethodPut, "/api/links/update-symlink", map[string]string{"link": "links/a", "newTarget": "docs/b.txt"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "docs/b.txt", decode[map[string]any](t, rec)["newTarget"])

	require.NoError(t, os.Remove(filepath.Join(env.root, "docs", "b.txt")))
	rec = env.do(t, http.MethodGet, "/api/links/symlink-target?path=links/a", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decode[map[string]any](t, rec)["broken"])

	rec = env.do(t, http.MethodDelete, "/api/links/delete-hardlink?path=links/a", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	_, err := os.Lstat(filepath.Join(env.root, "links", "a"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestHardLinkLifecycle(t *testing.T) {
	t.Parallel()
	env := newEnv(t)
	env.write(t, "f.txt", "f")

	for _, dst := range []string{"g.txt", "sub/h.txt"} {
		rec := env.do(t, http.MethodPost, "/api/links/hardlink", map[string]string{"source": "f.txt", "target": dst})
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
		assert.Equal(t, "hard", decode[map[string]any](t, rec)["type"])
	}

	rec := env.do(t, http.MethodGet, "/api/links/find-hardlinks?path=/f.txt", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	found := decode[findResponse](t, rec)
	assert.Equal(t, "f.txt", found.SourcePath)
	assert.Equal(t, uint64(3), found.LinkCount)
	assert.Equal(t, 2, found.Discovered)
	assert.False(t, found.Partial)
	require.Len(t, found.Hardlinks, 2)
	assert.Equal(t, "g.txt", found.Hardlinks[0].Path)
	assert.Equal(t, "sub/h.txt", found.Hardlinks[1].Path)

	rec = env.do(t, http.MethodDelete, "/api/links/delete-all-hardlinks?path=f.txt", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	deleted := decode[deleteAllResponse](t, rec)
	assert.True(t, deleted.Success)
	assert.Equal(t, 2, deleted.DeletedCount)

	rec = env.do(t, http.MethodGet, "/api/links/find-hardlinks?path=f.txt", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[findResponse](t, rec).Hardlinks)
}

func TestErrorMapping(t *testing.T) {
	t.Parallel()
	env := newEnv(t)
	env.write(t, "file.txt", "x")
	env.write(t, "taken.txt", "y")
	require.NoError(t, os.Mkdir(filepath.Join(env.root, "dir"), 0o755))

	tests := []struct {
		body   any
		name   string
		method string
		target string
		code   string
		status int
	}{
		{name: "bad json", method: http.MethodPost, target: "/api/links/symlink", body: "{", status: http.StatusBadRequest},
		{name: "missing fields", method: http.MethodPost, target: "/api/links/hardlink", body: map[string]string{"source": "file.txt"}, status: http.StatusBadRequest},
		{name: "traversal", method: http.MethodPost, target: "/api/links/symlink", body: map[string]string{"source": "../x", "target": "y"}, status: http.StatusForbidden, code: "AccessDenied"},
		{name: "source missing", method: http.MethodPost, target: "/api/links/symlink", body: map[string]string{"source": "nope", "target": "y"}, status: http.StatusNotFound, code: "SourceNotFound"},
		{name: "destination exists", method: http.MethodPost, target: "/api/links/symlink", body: map[string]string{"source": "file.txt", "target": "taken.txt"}, status: http.StatusConflict, code: "DestinationExists"},
		{name: "hard link to dir", method: http.MethodPost, target: "/api/links/hardlink", body: map[string]string{"source": "dir", "target": "d2"}, status: http.StatusBadRequest, code: "NotAFile"},
		{name: "not a symlink", method: http.MethodGet, target: "/api/links/symlink-target?path=file.txt", status: http.StatusBadRequest, code: "NotASymlink"},
		{name: "link missing", method: http.MethodGet, target: "/api/links/symlink-target?path=gone", status: http.StatusNotFound, code: "NotFound"},
		{name: "missing query", method: http.MethodGet, target: "/api/links/find-hardlinks", status: http.StatusBadRequest},
		{name: "find on dir", method: http.MethodGet, target: "/api/links/find-hardlinks?path=dir", status: http.StatusBadRequest, code: "NotAFile"},
		{name: "delete dir", method: http.MethodDelete, target: "/api/links/delete-hardlink?path=dir", status: http.StatusBadRequest, code: "NotAFile"},
		{name: "delete all missing", method: http.MethodDelete, target: "/api/links/delete-all-hardlinks?path=gone", status: http.StatusNotFound, code: "NotFound"},
		{name: "update traversal", method: http.MethodPut, target: "/api/links/update-symlink", body: map[string]string{"link": "../../l", "newTarget": "x"}, status: http.StatusForbidden, code: "AccessDenied"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := requireProblem(t, env.do(t, tt.method, tt.target, tt.body), tt.status)
			assert.Equal(t, tt.code, p.Code)
			assert.NotEmpty(t, p.Detail)
			assert.NotContains(t, p.Detail, env.root)
		})
	}
}

func TestStatusOfUpdateIncomplete(t *testing.T) {
	status, title := statusOf(linkerr.UpdateIncomplete)
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Equal(t, "Update Incomplete", title)
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()
	env := newEnv(t)
	env.do(t, http.MethodGet, "/api/resolve?path=a", nil)

	rec := env.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `warren_link_operations_total{operation="resolvePath",outcome="ok"} 1`)
}

func TestServerStartStop(t *testing.T) {
	t.Parallel()
	sb, err := sandbox.New(t.TempDir())
	require.NoError(t, err)
	svc := links.New(sb, indexer.New(sb, indexer.Config{}))
	srv := New(Config{Listen: "127.0.0.1:0"}, svc, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Start(ctx) }()

	require.Eventually(t, func() bool { return srv.Addr() != nil }, 5*time.Second, 10*time.Millisecond)
	resp, err := http.Get(fmt.Sprintf("http://%s/api/health", srv.Addr()))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("server did not stop")
	}
	assert.NoError(t, srv.Stop(context.Background()))
}
