package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"

	"edit-text-server/internal/sentryx"
)

const (
	ShutdownTimeout = 30 * time.Second
	ReadTimeout     = 30 * time.Second
	WriteTimeout    = 60 * time.Second
	IdleTimeout     = 120 * time.Second
)

// Server returns the configured http.Server without starting it.
func (a *ServerApp) Server() (*http.Server, error) {
	router, err := a.Router()
	if err != nil {
		return nil, err
	}
	return &http.Server{
		Addr:         fmt.Sprintf(":%d", a.Config.Port),
		Handler:      a.withPanicRecovery(router),
		ReadTimeout:  ReadTimeout,
		WriteTimeout: WriteTimeout,
		IdleTimeout:  IdleTimeout,
	}, nil
}

// Run starts serving HTTP traffic and handles graceful shutdown on SIGINT or
// SIGTERM.
func (a *ServerApp) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", a.Config.Port))
	if err != nil {
		a.cleanup()
		return err
	}
	return a.Serve(ctx, ln)
}

// Serve handles connections on ln until ctx is done, then shuts down.
func (a *ServerApp) Serve(ctx context.Context, ln net.Listener) error {
	server, err := a.Server()
	if err != nil {
		ln.Close()
		a.cleanup()
		return err
	}

	serverErr := make(chan error, 1)
	go func() {
		a.Logger.Info("Editor server starting on http://%s%s/", ln.Addr(), a.Config.ScriptName)
		if serveErr := server.Serve(ln); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			serverErr <- serveErr
		}
	}()

	var runErr error
	select {
	case runErr = <-serverErr:
		a.Logger.Error("Server error: %v", runErr)
		sentryx.CaptureError(runErr, "server listen error")
	case <-ctx.Done():
		a.Logger.Info("Shutdown requested, initiating graceful shutdown...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()

	if a.WSHandler != nil {
		a.Logger.Info("Closing WebSocket connections...")
		a.WSHandler.Shutdown(shutdownCtx)
	}

	a.Logger.Info("Shutting down HTTP server...")
	if shutdownErr := server.Shutdown(shutdownCtx); shutdownErr != nil {
		a.Logger.Error("Server shutdown error: %v", shutdownErr)
		sentryx.CaptureError(shutdownErr, "server shutdown error")
		if runErr == nil {
			runErr = shutdownErr
		}
	}

	a.cleanup()
	sentryx.Flush(2 * time.Second)
	if runErr == nil {
		a.Logger.Info("Server stopped gracefully")
	}
	return runErr
}

func (a *ServerApp) withPanicRecovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				sentryx.CaptureMessage(
					sentry.LevelFatal,
					"http panic method=%s path=%s panic=%v stack=%s",
					r.Method,
					r.URL.Path,
					rec,
					string(debug.Stack()),
				)
				a.Logger.Error("Panic serving %s %s: %v", r.Method, r.URL.Path, rec)
				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// Close releases the watcher and validator without serving.
func (a *ServerApp) Close() {
	a.cleanup()
}

func (a *ServerApp) cleanup() {
	if a == nil {
		return
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.Logger.Warn("Cleanup failed: %v", err)
		}
	}
	a.closers = nil
}
