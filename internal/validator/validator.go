// Package validator holds the pre-save content checks. A validator either
// accepts content or rejects it; a rejection carrying a human-readable message
// is a *ValidationError, anything else is a failure without one.
package validator

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Validator checks content before it is written under root.
type Validator interface {
	Validate(ctx context.Context, filename, content, root string) error
}

// ValidationError is a rejection with a message meant for the operator.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return "validation failed: " + e.Message
}

// Reject returns a *ValidationError with the formatted message.
func Reject(format string, args ...any) error {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// Message extracts the operator-facing message from err. It reports false when
// err carries no such message.
func Message(err error) (string, bool) {
	var verr *ValidationError
	if errors.As(err, &verr) && verr.Message != "" {
		return verr.Message, true
	}
	return "", false
}

// Func adapts a plain function to Validator.
type Func func(ctx context.Context, filename, content, root string) error

func (f Func) Validate(ctx context.Context, filename, content, root string) error {
	return f(ctx, filename, content, root)
}

// Noop accepts everything. It is the default when nothing is configured.
type Noop struct{}

func (Noop) Validate(context.Context, string, string, string) error { return nil }

// PrefixRejector rejects content that starts with Prefix.
type PrefixRejector struct {
	Prefix string
}

func (p PrefixRejector) Validate(_ context.Context, _, content, _ string) error {
	if p.Prefix != "" && strings.HasPrefix(content, p.Prefix) {
		return Reject("The content is invalid because it starts with the text '%s'.", p.Prefix)
	}
	return nil
}

// Chain runs validators in order and stops at the first failure.
type Chain []Validator

func (c Chain) Validate(ctx context.Context, filename, content, root string) error {
	for _, v := range c {
		if v == nil {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := v.Validate(ctx, filename, content, root); err != nil {
			return err
		}
	}
	return nil
}
