package e2e

import (
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"edit-text-server/test/testutil"
)

func TestE2E_AuthGate(t *testing.T) {
	ts := testutil.Setup(t, nil)
	ts.WriteFile(t, "a.txt", "secret contents")

	t.Run("anonymous browser is sent to sign in", func(t *testing.T) {
		resp, err := ts.NewHTTPClient(nil).Get(ts.EditURL("a.txt"))
		if err != nil {
			t.Fatalf("GET: %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusSeeOther {
			t.Fatalf("expected 303, got %d", resp.StatusCode)
		}
		loc := resp.Header.Get("Location")
		if !strings.HasPrefix(loc, testutil.SignInURL+"?redirect=") {
			t.Fatalf("unexpected redirect %q", loc)
		}
	})

	t.Run("anonymous post is unauthorized", func(t *testing.T) {
		resp, err := ts.NewHTTPClient(nil).Post(ts.EditURL("a.txt"), "application/x-www-form-urlencoded", strings.NewReader("content=pwned"))
		if err != nil {
			t.Fatalf("POST: %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("expected 401, got %d", resp.StatusCode)
		}
		if got := ts.ReadFile(t, "a.txt"); got != "secret contents" {
			t.Fatalf("file changed: %q", got)
		}
	})

	t.Run("expired token is rejected", func(t *testing.T) {
		jar := ts.Login(t, jwt.MapClaims{"sub": "x", "admin": true, "exp": time.Now().Add(-time.Minute).Unix()})
		resp, err := ts.NewHTTPClient(jar).Get(ts.URL("/"))
		if err != nil {
			t.Fatalf("GET: %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusSeeOther {
			t.Fatalf("expected 303, got %d", resp.StatusCode)
		}
	})

	t.Run("non admin can list but not edit", func(t *testing.T) {
		client := ts.NewHTTPClient(ts.Login(t, jwt.MapClaims{"sub": "reader"}))

		if code := getJSON(t, client, ts.URL("/"), nil); code != http.StatusOK {
			t.Fatalf("expected 200 for listing, got %d", code)
		}
		if code := getJSON(t, client, ts.EditURL("a.txt"), nil); code != http.StatusForbidden {
			t.Fatalf("expected 403 for edit, got %d", code)
		}
	})

	t.Run("bearer token works", func(t *testing.T) {
		req, _ := http.NewRequest(http.MethodGet, ts.EditURL("a.txt"), nil)
		req.Header.Set("Authorization", "Bearer "+testutil.Token(t, jwt.MapClaims{"sub": "ci", "admin": true}))
		resp, err := ts.NewHTTPClient(nil).Do(req)
		if err != nil {
			t.Fatalf("GET: %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("expected 200, got %d", resp.StatusCode)
		}
	})

	t.Run("health stays public", func(t *testing.T) {
		resp, err := ts.NewHTTPClient(nil).Get(ts.Server.URL + "/health")
		if err != nil {
			t.Fatalf("GET: %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("expected 200, got %d", resp.StatusCode)
		}
	})
}
