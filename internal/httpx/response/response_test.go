package response

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestErrorEnvelope(t *testing.T) {
	tests := []struct {
		name   string
		write  func(http.ResponseWriter)
		status int
		msg    string
	}{
		{"unauthorized", Unauthorized, http.StatusUnauthorized, "Unauthorized"},
		{"forbidden", Forbidden, http.StatusForbidden, "Forbidden"},
		{"custom", func(w http.ResponseWriter) { Error(w, http.StatusTooManyRequests, "slow down") }, http.StatusTooManyRequests, "slow down"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			tt.write(w)

			if w.Code != tt.status {
				t.Fatalf("expected %d, got %d", tt.status, w.Code)
			}
			if ct := w.Header().Get("Content-Type"); ct != "application/json" {
				t.Fatalf("unexpected content type %q", ct)
			}
			var body map[string]string
			if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if body["error"] != tt.msg {
				t.Fatalf("unexpected body %v", body)
			}
		})
	}
}
