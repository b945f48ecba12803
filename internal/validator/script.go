package validator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"edit-text-server/internal/logger"
)

var log = logger.WithComponent("VALIDATOR")

// DefaultTimeout bounds a single script invocation.
const DefaultTimeout = 5 * time.Second

var ErrUnsupportedScript = errors.New("unsupported validator script")

// Options tune script validators.
type Options struct {
	// Timeout bounds each Validate call. Zero means DefaultTimeout.
	Timeout time.Duration
}

func (o Options) timeout() time.Duration {
	if o.Timeout <= 0 {
		return DefaultTimeout
	}
	return o.Timeout
}

// Load compiles the validator script at path. The engine is chosen by file
// extension: .js runs on goja, .lua on gopher-lua.
func Load(path string, opts Options) (Validator, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read validator %s: %w", path, err)
	}

	name := filepath.Base(path)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".js", ".cjs":
		return newJSValidator(name, string(data), opts)
	case ".lua":
		return newLuaValidator(name, string(data), opts)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedScript, path)
	}
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithTimeout(ctx, d)
}
