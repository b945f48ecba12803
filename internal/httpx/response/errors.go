package response

import (
	"net/http"

	"github.com/getsentry/sentry-go"

	"edit-text-server/internal/sentryx"
)

// Error writes a standard JSON error envelope. Server errors are also
// reported.
func Error(w http.ResponseWriter, statusCode int, message string) {
	if statusCode >= http.StatusInternalServerError {
		sentryx.CaptureMessage(sentry.LevelError, "http_error status=%d message=%s", statusCode, message)
	}
	JSON(w, statusCode, map[string]string{"error": message})
}

func Unauthorized(w http.ResponseWriter) {
	Error(w, http.StatusUnauthorized, "Unauthorized")
}

func Forbidden(w http.ResponseWriter) {
	Error(w, http.StatusForbidden, "Forbidden")
}
