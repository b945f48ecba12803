package app

import (
	"errors"
	"fmt"
	"net/http"

	"edit-text-server/internal/auth"
	"edit-text-server/internal/config"
	"edit-text-server/internal/editor"
	"edit-text-server/internal/logger"
	"edit-text-server/internal/observability"
	"edit-text-server/internal/ratelimit"
	"edit-text-server/internal/validator"
	"edit-text-server/internal/views"
	"edit-text-server/internal/watch"
)

// ServerApp holds all runtime dependencies for the editor server.
type ServerApp struct {
	Config        *config.AppConfig
	Gate          *auth.Gate
	Views         *views.Renderer
	Service       *editor.Service
	EditorHandler *editor.Handler
	Metrics       *observability.Metrics
	Validator     validator.Validator
	Hub           *watch.Hub
	Watcher       *watch.Watcher
	WSHandler     *watch.WSHandler
	Logger        *logger.Logger

	closers []func() error
}

// New builds a fully wired server application from cfg.
func New(cfg *config.AppConfig) (*ServerApp, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}

	log := logger.WithComponent("MAIN")
	a := &ServerApp{Config: cfg, Logger: log}

	log.Info("Environment: %s", cfg.Env)
	log.Info("Port: %d", cfg.Port)
	log.Info("Editable directory: %s", cfg.Dir)
	if cfg.ScriptName != "" {
		log.Info("Mounted under: %s", cfg.ScriptName)
	}

	gateOpts := auth.Options{
		Secret:     []byte(cfg.Secret),
		CookieName: cfg.JWTCookie,
		SignInURL:  cfg.SignInURL,
		Disabled:   cfg.DisableAuth,
	}
	if !cfg.DisableAuth && cfg.AuthMaxFailures > 0 {
		limiter := ratelimit.NewLimiter(ratelimit.Options{
			MaxAttempts:     cfg.AuthMaxFailures,
			LockoutDuration: cfg.AuthLockout,
		})
		a.closers = append(a.closers, func() error {
			limiter.Stop()
			return nil
		})
		gateOpts.Limiter = limiter
	}
	gate, err := auth.NewGate(gateOpts)
	if err != nil {
		a.cleanup()
		return nil, fmt.Errorf("auth: %w", err)
	}
	if gate.Disabled() {
		log.Warn("Authentication is disabled")
	}
	a.Gate = gate

	a.Metrics = observability.NewMetrics()

	v, err := a.buildValidator()
	if err != nil {
		a.cleanup()
		return nil, err
	}
	a.Validator = v

	a.Service, err = editor.NewService(editor.Options{
		Root:       cfg.Dir,
		LinkPrefix: cfg.LinkPrefix(),
		Exclude:    cfg.ListExclude,
		TextOnly:   cfg.ListTextOnly,
		Validator:  v,
		Metrics:    a.Metrics,
	})
	if err != nil {
		a.cleanup()
		return nil, fmt.Errorf("editor: %w", err)
	}

	a.Views, err = views.New(views.Options{
		OverlayDirs: views.ExistingDirs(cfg.TemplateDirs),
		Page:        a.page,
	})
	if err != nil {
		a.cleanup()
		return nil, fmt.Errorf("views: %w", err)
	}

	watchURL := ""
	if cfg.Watch {
		if err := a.startWatch(); err != nil {
			a.cleanup()
			return nil, err
		}
		watchURL = cfg.Path("/ws/changes")
	}

	a.EditorHandler = editor.NewHandler(a.Service, a.Views, editor.HandlerOptions{
		ListTitle:       cfg.ListTitle,
		EditTitle:       cfg.EditTitle,
		MaxContentBytes: cfg.MaxContentBytes,
		WatchURL:        watchURL,
	})

	return a, nil
}

// BuildValidator assembles the validator chain described by cfg: the optional
// prefix rule first, then the optional script.
func BuildValidator(cfg *config.AppConfig) (validator.Validator, func() error, error) {
	var chain validator.Chain
	closeFn := func() error { return nil }

	if cfg.ValidatorRejectPrefix != "" {
		chain = append(chain, validator.PrefixRejector{Prefix: cfg.ValidatorRejectPrefix})
	}

	if cfg.Validator != "" {
		opts := validator.Options{Timeout: cfg.ValidatorTimeout}
		if cfg.ValidatorReload {
			r, err := validator.NewReloading(cfg.Validator, opts)
			if err != nil {
				return nil, nil, fmt.Errorf("validator: %w", err)
			}
			chain = append(chain, r)
			closeFn = r.Close
		} else {
			s, err := validator.Load(cfg.Validator, opts)
			if err != nil {
				return nil, nil, fmt.Errorf("validator: %w", err)
			}
			chain = append(chain, s)
		}
	}

	switch len(chain) {
	case 0:
		return validator.Noop{}, closeFn, nil
	case 1:
		return chain[0], closeFn, nil
	}
	return chain, closeFn, nil
}

func (a *ServerApp) buildValidator() (validator.Validator, error) {
	v, closeFn, err := BuildValidator(a.Config)
	if err != nil {
		a.Metrics.ValidatorReady.Set(0)
		return nil, err
	}
	a.closers = append(a.closers, closeFn)
	if a.Config.Validator != "" {
		a.Metrics.ValidatorReady.Set(1)
		a.Logger.Info("Validator: %s (reload=%v)", a.Config.Validator, a.Config.ValidatorReload)
	}
	return v, nil
}

func (a *ServerApp) startWatch() error {
	a.Hub = watch.NewHub()
	w, err := watch.New(a.Config.Dir, a.Hub)
	if err != nil {
		return fmt.Errorf("watch: %w", err)
	}
	a.Watcher = w
	a.WSHandler = watch.NewWSHandler(a.Hub)
	a.closers = append(a.closers, w.Close, func() error {
		a.Hub.Close()
		return nil
	})

	a.Metrics.GaugeFunc("ws_connections", "Open change feed connections.", func() float64 {
		return float64(a.WSHandler.ActiveConnections())
	})
	return nil
}

func (a *ServerApp) page(r *http.Request) views.Page {
	return views.Page{
		ScriptName: a.Config.ScriptName,
		User:       auth.User(r.Context()),
		SignOutURL: a.Config.SignOutURL,
	}
}

// Run builds the app from cfg and serves until shutdown.
func Run(cfg *config.AppConfig) error {
	a, err := New(cfg)
	if err != nil {
		return err
	}
	return a.Run()
}
