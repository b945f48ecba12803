package app

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"edit-text-server/internal/config"
	"edit-text-server/internal/validator"
)

const testSecret = "app-test-secret"

func newTestApp(t *testing.T, env map[string]string) (*ServerApp, http.Handler) {
	t.Helper()

	environ := map[string]string{
		"DIR":          t.TempDir(),
		"SCRIPT_NAME":  "/editor",
		"DISABLE_AUTH": "true",
		"WATCH":        "false",
	}
	for k, v := range env {
		environ[k] = v
	}

	cfg, err := config.LoadFrom(environ)
	require.NoError(t, err)

	a, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(a.Close)

	router, err := a.Router()
	require.NoError(t, err)
	return a, a.withPanicRecovery(router)
}

func serve(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestRouter_ListAndEdit(t *testing.T) {
	a, h := newTestApp(t, nil)
	require.NoError(t, os.WriteFile(filepath.Join(a.Config.Dir, "notes.txt"), []byte("hello"), 0644))

	w := serve(h, httptest.NewRequest(http.MethodGet, "/editor/", nil))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), "/editor/edit?filename=notes.txt")

	w = serve(h, httptest.NewRequest(http.MethodGet, "/editor/edit?filename=notes.txt", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "hello")

	form := url.Values{"content": {"updated"}}.Encode()
	req := httptest.NewRequest(http.MethodPost, "/editor/edit?filename=notes.txt", strings.NewReader(form))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w = serve(h, req)
	require.Equal(t, http.StatusOK, w.Code)

	data, err := os.ReadFile(filepath.Join(a.Config.Dir, "notes.txt"))
	require.NoError(t, err)
	assert.Equal(t, "updated", string(data))
}

func TestRouter_TraversalIsBadRequest(t *testing.T) {
	_, h := newTestApp(t, nil)

	w := serve(h, httptest.NewRequest(http.MethodGet, "/editor/edit?filename="+url.QueryEscape("../../etc/passwd"), nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRouter_StaticAndNotFound(t *testing.T) {
	_, h := newTestApp(t, nil)

	w := serve(h, httptest.NewRequest(http.MethodGet, "/editor/static/editor.css", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "text/css")

	w = serve(h, httptest.NewRequest(http.MethodGet, "/editor/static/missing.js", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = serve(h, httptest.NewRequest(http.MethodGet, "/elsewhere", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRouter_HealthAndMetrics(t *testing.T) {
	a, h := newTestApp(t, nil)

	w := serve(h, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var status HealthStatus
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
	assert.Equal(t, "ok", status.Status)
	assert.True(t, status.RootAccessible)

	serve(h, httptest.NewRequest(http.MethodGet, "/editor/edit?filename=a.txt", nil))

	w = serve(h, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.Contains(t, body, `edit_text_edits_total{method="GET",outcome="loaded"} 1`)
	assert.Contains(t, body, `route="/editor/edit"`)

	require.NoError(t, os.RemoveAll(a.Config.Dir))
	w = serve(h, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestRouter_Gzip(t *testing.T) {
	_, h := newTestApp(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/editor/", nil)
	req.Header.Set("Accept-Encoding", "gzip")
	w := serve(h, req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "gzip", w.Header().Get("Content-Encoding"))
}

func TestRouter_WithoutScriptName(t *testing.T) {
	_, h := newTestApp(t, map[string]string{"SCRIPT_NAME": ""})

	w := serve(h, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	w = serve(h, httptest.NewRequest(http.MethodGet, "/edit?filename=x.txt", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func signedCookie(t *testing.T, claims jwt.MapClaims) *http.Cookie {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return &http.Cookie{Name: "jwt", Value: token}
}

func TestRouter_AuthGate(t *testing.T) {
	_, h := newTestApp(t, map[string]string{
		"DISABLE_AUTH": "false",
		"SECRET":       testSecret,
		"SIGN_IN_URL":  "https://auth.example.com/signin",
	})
	exp := time.Now().Add(time.Hour).Unix()

	w := serve(h, httptest.NewRequest(http.MethodGet, "/editor/", nil))
	require.Equal(t, http.StatusSeeOther, w.Code)
	assert.Equal(t, "https://auth.example.com/signin?redirect=%2Feditor%2F", w.Header().Get("Location"))

	req := httptest.NewRequest(http.MethodPost, "/editor/edit?filename=a.txt", strings.NewReader("content=x"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w = serve(h, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req = httptest.NewRequest(http.MethodGet, "/editor/", nil)
	req.AddCookie(signedCookie(t, jwt.MapClaims{"sub": "reader", "exp": exp}))
	w = serve(h, req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "reader")

	req = httptest.NewRequest(http.MethodGet, "/editor/edit?filename=a.txt", nil)
	req.AddCookie(signedCookie(t, jwt.MapClaims{"sub": "reader", "exp": exp}))
	w = serve(h, req)
	assert.Equal(t, http.StatusForbidden, w.Code)

	req = httptest.NewRequest(http.MethodGet, "/editor/edit?filename=a.txt", nil)
	req.AddCookie(signedCookie(t, jwt.MapClaims{"sub": "admin", "admin": true, "exp": exp}))
	w = serve(h, req)
	assert.Equal(t, http.StatusOK, w.Code)

	// Health and metrics stay public.
	w = serve(h, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRouter_LockoutKeyedOnSocketPeer(t *testing.T) {
	_, h := newTestApp(t, map[string]string{
		"DISABLE_AUTH":      "false",
		"SECRET":            testSecret,
		"SIGN_IN_URL":       "https://auth.example.com/signin",
		"AUTH_MAX_FAILURES": "3",
	})

	var codes []int
	for i := 0; i < 5; i++ {
		req := httptest.NewRequest(http.MethodPost, "/editor/edit?filename=a.txt", nil)
		req.Header.Set("X-Forwarded-For", fmt.Sprintf("203.0.113.%d", i))
		req.Header.Set("True-Client-IP", fmt.Sprintf("198.51.100.%d", i))
		req.Header.Set("Authorization", "Bearer not-a-token")
		codes = append(codes, serve(h, req).Code)
	}
	assert.Equal(t, []int{401, 401, 401, 429, 429}, codes)
}

func TestPanicRecovery(t *testing.T) {
	a, _ := newTestApp(t, nil)
	h := a.withPanicRecovery(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	w := serve(h, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestBuildValidator(t *testing.T) {
	dir := t.TempDir()
	script := filepath.Join(dir, "check.lua")
	require.NoError(t, os.WriteFile(script, []byte(`
function validate(filename, content, root)
  if string.find(content, "TODO", 1, true) then
    return "no TODOs allowed"
  end
end
`), 0644))

	cfg := &config.AppConfig{
		Validator:             script,
		ValidatorTimeout:      time.Second,
		ValidatorRejectPrefix: "Invalid",
	}
	v, closeFn, err := BuildValidator(cfg)
	require.NoError(t, err)
	defer closeFn()

	ctx := context.Background()
	assert.NoError(t, v.Validate(ctx, "a.txt", "fine", dir))

	msg, ok := validator.Message(v.Validate(ctx, "a.txt", "Invalid start", dir))
	assert.True(t, ok)
	assert.Contains(t, msg, "starts with the text 'Invalid'")

	msg, ok = validator.Message(v.Validate(ctx, "a.txt", "has a TODO", dir))
	assert.True(t, ok)
	assert.Equal(t, "no TODOs allowed", msg)

	v, _, err = BuildValidator(&config.AppConfig{})
	require.NoError(t, err)
	assert.IsType(t, validator.Noop{}, v)

	_, _, err = BuildValidator(&config.AppConfig{Validator: filepath.Join(dir, "missing.js")})
	assert.Error(t, err)
}

func TestServe_StopsOnContextCancel(t *testing.T) {
	a, _ := newTestApp(t, map[string]string{"WATCH": "true"})

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Serve(ctx, ln) }()

	base := "http://" + ln.Addr().String()
	require.Eventually(t, func() bool {
		resp, err := http.Get(base + "/health")
		if err != nil {
			return false
		}
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("server did not stop")
	}
}
