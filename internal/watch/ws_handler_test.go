package watch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsAllowedOrigin(t *testing.T) {
	tests := []struct {
		name   string
		origin string
		host   string
		want   bool
	}{
		{"allows empty origin", "", "edit.example.com", true},
		{"rejects malformed origin", "://bad", "edit.example.com", false},
		{"allows same host origin", "https://edit.example.com", "edit.example.com", true},
		{"allows same host with port", "http://edit.example.com:8080", "edit.example.com:8080", true},
		{"allows localhost origin", "http://localhost:3000", "edit.example.com", true},
		{"allows loopback origin", "http://127.0.0.1:3000", "edit.example.com", true},
		{"rejects unrelated domain", "https://evil.example", "edit.example.com", false},
		{"rejects lookalike domain", "https://edit.example.com.evil.example", "edit.example.com", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/ws/changes", nil)
			r.Host = tt.host
			if tt.origin != "" {
				r.Header.Set("Origin", tt.origin)
			}
			if got := isAllowedOrigin(r); got != tt.want {
				t.Fatalf("isAllowedOrigin(%q, %q) = %v, want %v", tt.origin, tt.host, got, tt.want)
			}
		})
	}
}

func TestWSHandler_StreamsEvents(t *testing.T) {
	hub := NewHub()
	h := NewWSHandler(hub)
	srv := httptest.NewServer(http.HandlerFunc(h.Handle))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return hub.Subscribers() == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, h.ActiveConnections())

	hub.Publish(Event{Type: EventChanged, Filename: "notes/a.txt"})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got Event
	require.NoError(t, conn.ReadJSON(&got))
	assert.Equal(t, Event{Type: EventChanged, Filename: "notes/a.txt"}, got)

	conn.Close()
	assert.Eventually(t, func() bool { return hub.Subscribers() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestWSHandler_Shutdown(t *testing.T) {
	hub := NewHub()
	h := NewWSHandler(hub)
	srv := httptest.NewServer(http.HandlerFunc(h.Handle))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return h.ActiveConnections() == 1 }, 2*time.Second, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	h.Shutdown(ctx)
	assert.Equal(t, 0, h.ActiveConnections())

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "got %v", err)

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}
