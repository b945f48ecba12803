package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/caarlos0/env/v11"

	"edit-text-server/internal/logger"
)

var log = logger.WithComponent("CONFIG")

// AppConfig holds the resolved application configuration.
type AppConfig struct {
	Env  string `env:"APP_ENV" envDefault:"development"`
	Port int    `env:"PORT" envDefault:"80"`

	// Dir is the editable root. Made absolute by Load.
	Dir        string `env:"DIR"`
	ScriptName string `env:"SCRIPT_NAME"`

	ListTitle string `env:"LIST_TITLE" envDefault:"Edit Text Files"`
	EditTitle string `env:"EDIT_TITLE" envDefault:"Editing"`

	TemplateDirs []string `env:"TEMPLATE_DIRS" envSeparator:":"`
	ListExclude  []string `env:"LIST_EXCLUDE" envSeparator:","`
	ListTextOnly bool     `env:"LIST_TEXT_ONLY"`

	MaxContentBytes int64 `env:"MAX_CONTENT_BYTES" envDefault:"2097152"`

	Validator             string        `env:"VALIDATOR"`
	ValidatorTimeout      time.Duration `env:"VALIDATOR_TIMEOUT" envDefault:"5s"`
	ValidatorRejectPrefix string        `env:"VALIDATOR_REJECT_PREFIX"`
	ValidatorReload       bool          `env:"VALIDATOR_RELOAD" envDefault:"true"`

	DisableAuth bool   `env:"DISABLE_AUTH"`
	Secret      string `env:"SECRET"`
	SignInURL   string `env:"SIGN_IN_URL"`
	SignOutURL  string `env:"SIGN_OUT_URL"`
	JWTCookie   string `env:"JWT_COOKIE" envDefault:"jwt"`

	// AuthMaxFailures rejected tokens from one client within ten minutes lock
	// it out for AuthLockout. Zero disables the lockout.
	AuthMaxFailures int           `env:"AUTH_MAX_FAILURES" envDefault:"40"`
	AuthLockout     time.Duration `env:"AUTH_LOCKOUT" envDefault:"15m"`

	Watch bool `env:"WATCH" envDefault:"true"`

	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
	LogColor bool   `env:"LOG_COLOR" envDefault:"true"`
	LogJSON  bool   `env:"LOG_JSON"`

	SentryDSN string `env:"SENTRY_DSN"`
}

// Common configuration errors
var (
	ErrMissingDir    = errors.New("DIR environment variable is required")
	ErrInvalidConfig = errors.New("invalid configuration")
)

// ValidationError contains details about a configuration validation failure
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("config validation error: %s - %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	if len(e) == 1 {
		return e[0].Error()
	}
	return fmt.Sprintf("%d config validation errors: %s (and %d more)", len(e), e[0].Error(), len(e)-1)
}

// Validate checks the configuration for errors
func (c *AppConfig) Validate() ValidationErrors {
	return c.validate(true)
}

func (c *AppConfig) validate(checkAuth bool) ValidationErrors {
	var errs ValidationErrors

	if c.Port < 1 || c.Port > 65535 {
		errs = append(errs, ValidationError{Field: "PORT", Message: fmt.Sprintf("invalid port %d, must be 1-65535", c.Port)})
	}

	if c.Dir == "" {
		errs = append(errs, ValidationError{Field: "DIR", Message: "editable directory is required"})
	} else if info, err := os.Stat(c.Dir); err != nil {
		if !os.IsNotExist(err) {
			errs = append(errs, ValidationError{Field: "DIR", Message: fmt.Sprintf("cannot access: %v", err)})
		}
		// Not existing is OK - we create it
	} else if !info.IsDir() {
		errs = append(errs, ValidationError{Field: "DIR", Message: "path exists but is not a directory"})
	}

	if strings.HasSuffix(c.ScriptName, "/") {
		errs = append(errs, ValidationError{Field: "SCRIPT_NAME", Message: "must not end with /"})
	}
	if c.ScriptName != "" && !strings.HasPrefix(c.ScriptName, "/") {
		errs = append(errs, ValidationError{Field: "SCRIPT_NAME", Message: "must start with /"})
	}

	if checkAuth && !c.DisableAuth {
		if len(c.Secret) < 8 {
			errs = append(errs, ValidationError{Field: "SECRET", Message: "must be at least 8 characters when auth is enabled"})
		}
		if c.SignInURL == "" {
			errs = append(errs, ValidationError{Field: "SIGN_IN_URL", Message: "is required when auth is enabled"})
		}
	}

	if c.AuthMaxFailures < 0 {
		errs = append(errs, ValidationError{Field: "AUTH_MAX_FAILURES", Message: "must not be negative"})
	}
	if c.AuthMaxFailures > 0 && c.AuthLockout <= 0 {
		errs = append(errs, ValidationError{Field: "AUTH_LOCKOUT", Message: "must be positive"})
	}

	if c.MaxContentBytes <= 0 {
		errs = append(errs, ValidationError{Field: "MAX_CONTENT_BYTES", Message: "must be positive"})
	}
	if c.ValidatorTimeout <= 0 {
		errs = append(errs, ValidationError{Field: "VALIDATOR_TIMEOUT", Message: "must be positive"})
	}

	if c.Validator != "" {
		switch strings.ToLower(filepath.Ext(c.Validator)) {
		case ".js", ".cjs", ".lua":
		default:
			errs = append(errs, ValidationError{Field: "VALIDATOR", Message: "must be a .js or .lua script"})
		}
		if _, err := os.Stat(c.Validator); err != nil {
			errs = append(errs, ValidationError{Field: "VALIDATOR", Message: fmt.Sprintf("cannot access: %v", err)})
		}
	}

	for i, pattern := range c.ListExclude {
		if !doublestar.ValidatePattern(pattern) {
			errs = append(errs, ValidationError{Field: fmt.Sprintf("LIST_EXCLUDE[%d]", i), Message: fmt.Sprintf("invalid pattern %q", pattern)})
		}
	}

	return errs
}

// Load reads the configuration from the environment.
func Load() (*AppConfig, error) {
	return load(nil, true)
}

// LoadOffline is Load for one-shot commands that never serve requests. The
// sign-in settings are not required.
func LoadOffline() (*AppConfig, error) {
	return load(nil, false)
}

// LoadFrom reads the configuration from environ, or from the process
// environment when environ is nil.
func LoadFrom(environ map[string]string) (*AppConfig, error) {
	return load(environ, true)
}

func load(environ map[string]string, checkAuth bool) (*AppConfig, error) {
	var cfg AppConfig
	opts := env.Options{}
	if environ != nil {
		opts.Environment = environ
	}
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}

	if cfg.Dir == "" {
		return nil, ErrMissingDir
	}
	abs, err := filepath.Abs(cfg.Dir)
	if err != nil {
		return nil, fmt.Errorf("resolve DIR: %w", err)
	}
	cfg.Dir = abs

	if errs := cfg.validate(checkAuth); len(errs) > 0 {
		for _, err := range errs {
			log.Error("Validation error: %s", err.Error())
		}
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, errs)
	}

	if err := os.MkdirAll(cfg.Dir, 0755); err != nil {
		return nil, fmt.Errorf("create DIR %s: %w", cfg.Dir, err)
	}

	log.Info("Configuration loaded successfully | env=%s port=%d dir=%s", cfg.Env, cfg.Port, cfg.Dir)
	return &cfg, nil
}

// LinkPrefix is the prefix of edit links in the listing.
func (c *AppConfig) LinkPrefix() string {
	return c.ScriptName + "/edit?filename="
}

// Path joins p onto the script name.
func (c *AppConfig) Path(p string) string {
	return c.ScriptName + p
}
