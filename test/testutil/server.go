package testutil

import (
	"context"
	"crypto/tls"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"edit-text-server/internal/app"
	"edit-text-server/internal/config"
	"edit-text-server/internal/logger"
)

const (
	// ScriptName is the prefix the test server is mounted under.
	ScriptName = "/editor"
	// Secret signs the tokens minted by Login.
	Secret    = "e2e-test-secret"
	SignInURL = "https://auth.example.test/signin"
)

// TestServer holds the in-memory test server and dependencies.
type TestServer struct {
	Server *httptest.Server
	App    *app.ServerApp
	Config *config.AppConfig
	Root   string
}

// Setup creates a fully wired test server with auth and the change feed
// enabled. env overrides individual variables.
func Setup(t testing.TB, env map[string]string) *TestServer {
	t.Helper()

	logger.Init(logger.Config{Output: io.Discard, MinLevel: logger.ERROR, UseColor: false})

	root := t.TempDir()
	environ := map[string]string{
		"APP_ENV":     "test",
		"DIR":         root,
		"SCRIPT_NAME": ScriptName,
		"SECRET":      Secret,
		"SIGN_IN_URL": SignInURL,
		"WATCH":       "true",
	}
	for k, v := range env {
		environ[k] = v
	}

	cfg, err := config.LoadFrom(environ)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}

	a, err := app.New(cfg)
	if err != nil {
		t.Fatalf("build app: %v", err)
	}
	srv, err := a.Server()
	if err != nil {
		a.Close()
		t.Fatalf("build server: %v", err)
	}

	ts := &TestServer{
		Server: httptest.NewTLSServer(srv.Handler),
		App:    a,
		Config: cfg,
		Root:   cfg.Dir,
	}
	t.Cleanup(ts.Cleanup)
	return ts
}

// Cleanup stops server resources.
func (ts *TestServer) Cleanup() {
	if ts.App != nil && ts.App.WSHandler != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		ts.App.WSHandler.Shutdown(ctx)
		cancel()
	}
	if ts.Server != nil {
		ts.Server.Close()
	}
	if ts.App != nil {
		ts.App.Close()
	}
}

// Token mints a token for claims, expiring in an hour unless claims say
// otherwise.
func Token(t testing.TB, claims jwt.MapClaims) string {
	t.Helper()
	if _, ok := claims["exp"]; !ok {
		claims["exp"] = time.Now().Add(time.Hour).Unix()
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(Secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return token
}

// Login returns a cookie jar holding a token for claims.
func (ts *TestServer) Login(t testing.TB, claims jwt.MapClaims) *cookiejar.Jar {
	t.Helper()

	jar, _ := cookiejar.New(nil)
	serverURL, _ := url.Parse(ts.Server.URL)
	jar.SetCookies(serverURL, []*http.Cookie{{Name: ts.Config.JWTCookie, Value: Token(t, claims), Path: "/"}})
	return jar
}

// LoginAdmin signs in a user allowed to edit.
func (ts *TestServer) LoginAdmin(t testing.TB) *cookiejar.Jar {
	t.Helper()
	return ts.Login(t, jwt.MapClaims{"sub": "admin@example.test", "admin": true})
}

// NewHTTPClient returns a client that trusts the test certificate and does
// not follow redirects.
func (ts *TestServer) NewHTTPClient(jar *cookiejar.Jar) *http.Client {
	client := &http.Client{
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		},
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	if jar != nil {
		client.Jar = jar
	}
	return client
}

// URL returns the absolute URL of path under the script name.
func (ts *TestServer) URL(path string) string {
	return ts.Server.URL + ScriptName + path
}

// EditURL returns the edit page URL for filename.
func (ts *TestServer) EditURL(filename string) string {
	return ts.URL("/edit?filename=" + url.QueryEscape(filename))
}

func (ts *TestServer) WebSocketURL(path string) string {
	return strings.Replace(ts.Server.URL, "https://", "wss://", 1) + ScriptName + path
}

// WriteFile creates name under the editable root.
func (ts *TestServer) WriteFile(t testing.TB, name, content string) string {
	t.Helper()
	path := filepath.Join(ts.Root, filepath.FromSlash(name))
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("create dir for %s: %v", name, err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

// ReadFile returns the content of name under the editable root.
func (ts *TestServer) ReadFile(t testing.TB, name string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(ts.Root, filepath.FromSlash(name)))
	if err != nil {
		t.Fatalf("read %s: %v", name, err)
	}
	return string(data)
}
