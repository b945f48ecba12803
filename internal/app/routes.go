package app

import (
	"errors"
	"net/http"
	"os"
	"runtime"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"edit-text-server/internal/auth"
	httpxmiddleware "edit-text-server/internal/httpx/middleware"
	"edit-text-server/internal/httpx/response"
)

// Router builds the full HTTP routing tree.
func (a *ServerApp) Router() (http.Handler, error) {
	if a == nil {
		return nil, errors.New("server app is nil")
	}
	if a.EditorHandler == nil || a.Views == nil {
		return nil, errors.New("editor is not configured")
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(a.Metrics.Middleware)
	r.Use(httpxmiddleware.Gzip)

	r.Get("/health", a.health)
	r.Method(http.MethodGet, "/metrics", a.Metrics.Handler())

	mount := func(r chi.Router) {
		r.Handle("/static/*", http.StripPrefix(a.Config.Path("/static"), a.Views.Static()))

		r.Group(func(r chi.Router) {
			r.Use(a.Gate.SignedIn)
			r.Get("/", a.EditorHandler.List)
			if a.WSHandler != nil {
				r.Get("/ws/changes", a.WSHandler.Handle)
			}

			r.Group(func(r chi.Router) {
				r.Use(a.Gate.HasClaims(auth.IsAdmin))
				r.HandleFunc("/edit", a.EditorHandler.Edit)
			})
		})
	}
	if a.Config.ScriptName == "" {
		mount(r)
	} else {
		r.Route(a.Config.ScriptName, mount)
	}

	r.NotFound(a.Views.NotFound)
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		a.Views.Error(w, req, http.StatusMethodNotAllowed, "Method not allowed", nil)
	})
	return r, nil
}

// HealthStatus is the /health payload.
type HealthStatus struct {
	Status         string `json:"status"`
	Uptime         string `json:"uptime"`
	Goroutines     int    `json:"goroutines"`
	MemoryMB       uint64 `json:"memoryMB"`
	Environment    string `json:"environment"`
	RootAccessible bool   `json:"rootAccessible"`
}

var serverStartTime = time.Now()

func (a *ServerApp) health(w http.ResponseWriter, _ *http.Request) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	status := HealthStatus{
		Status:      "ok",
		Uptime:      time.Since(serverStartTime).Round(time.Second).String(),
		Goroutines:  runtime.NumGoroutine(),
		MemoryMB:    memStats.Alloc / 1024 / 1024,
		Environment: a.Config.Env,
	}
	if info, err := os.Stat(a.Config.Dir); err == nil && info.IsDir() {
		status.RootAccessible = true
	}

	code := http.StatusOK
	if !status.RootAccessible {
		status.Status = "degraded"
		code = http.StatusServiceUnavailable
	}
	response.JSON(w, code, status)
}
