package editor

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"github.com/bmatcuk/doublestar/v4"

	"edit-text-server/internal/logger"
	"edit-text-server/internal/pathsec"
	"edit-text-server/internal/validator"
)

var log = logger.WithComponent("EDITOR")

var (
	ErrListingFailed         = errors.New("could not list the editable directory")
	ErrDirectoryCreateFailed = errors.New("could not create directories for the file")
	ErrMethodNotAllowed      = errors.New("method not allowed")
)

// Metrics receives per-operation observations. The observability package
// provides the Prometheus implementation.
type Metrics interface {
	ObserveEdit(method string, kind OutcomeKind)
	ObserveListing(files int, err error)
}

type nopMetrics struct{}

func (nopMetrics) ObserveEdit(string, OutcomeKind) {}
func (nopMetrics) ObserveListing(int, error)       {}

// Options configures a Service.
type Options struct {
	// Root is the editable directory. It is made absolute by NewService.
	Root string
	// LinkPrefix is prepended to the escaped name to build listing URLs.
	LinkPrefix string
	// Exclude holds doublestar patterns matched against relative names. Matching
	// files are hidden from listings but stay editable.
	Exclude []string
	// TextOnly hides files that look binary from listings.
	TextOnly bool
	// Validator runs before every save. Nil accepts everything.
	Validator validator.Validator
	Metrics   Metrics
}

// Service lists and edits text files under one root directory.
type Service struct {
	root       string
	linkPrefix string
	exclude    []string
	textOnly   bool
	resolver   *pathsec.Resolver
	validator  validator.Validator
	metrics    Metrics
}

// NewService creates an editor service for opts.Root.
func NewService(opts Options) (*Service, error) {
	if opts.Root == "" {
		return nil, errors.New("editor root is required")
	}
	root, err := filepath.Abs(opts.Root)
	if err != nil {
		return nil, fmt.Errorf("resolve editor root: %w", err)
	}

	for _, pattern := range opts.Exclude {
		if !doublestar.ValidatePattern(pattern) {
			return nil, fmt.Errorf("invalid exclude pattern %q", pattern)
		}
	}

	s := &Service{
		root:       root,
		linkPrefix: opts.LinkPrefix,
		exclude:    opts.Exclude,
		textOnly:   opts.TextOnly,
		resolver:   pathsec.NewResolver(),
		validator:  opts.Validator,
		metrics:    opts.Metrics,
	}
	if s.validator == nil {
		s.validator = validator.Noop{}
	}
	if s.metrics == nil {
		s.metrics = nopMetrics{}
	}
	return s, nil
}

// Root returns the absolute editable directory.
func (s *Service) Root() string {
	return s.root
}

// EditRequest is one view or save of a file.
type EditRequest struct {
	Filename string
	Method   string
	// Content is the submitted text. Only used for POST.
	Content string
}

// Edit views (GET) or validates and saves (POST) one file.
//
// Form-level failures come back as an Outcome with a nil error so the caller
// can re-render the form. Path rejections, directory creation failures and
// unsupported methods are returned as errors.
func (s *Service) Edit(ctx context.Context, req EditRequest) (Outcome, error) {
	if req.Method != http.MethodGet && req.Method != http.MethodPost {
		return Outcome{}, fmt.Errorf("%w: %s", ErrMethodNotAllowed, req.Method)
	}

	ref, err := s.resolver.Resolve(s.root, req.Filename)
	if err != nil {
		log.Warn("Rejected filename %q: %v", req.Filename, err)
		return Outcome{}, err
	}

	if err := os.MkdirAll(filepath.Dir(ref.Path), 0755); err != nil {
		return Outcome{}, fmt.Errorf("%w: %s: %w", ErrDirectoryCreateFailed, ref.Name, err)
	}

	kind := Loaded
	if req.Method == http.MethodPost {
		if out, failed := s.save(ctx, ref, req.Content); failed {
			s.metrics.ObserveEdit(req.Method, out.Kind)
			return out, nil
		}
		kind = Saved
	}

	out := Outcome{Kind: kind, Content: s.read(ref)}
	s.metrics.ObserveEdit(req.Method, out.Kind)
	return out, nil
}

// save validates content and writes it. It reports failed=true with the
// form-level outcome when nothing was written.
func (s *Service) save(ctx context.Context, ref pathsec.FileRef, content string) (Outcome, bool) {
	flog := log.WithField("file", ref.Name)
	if err := s.validator.Validate(ctx, ref.Name, content, s.root); err != nil {
		if msg, ok := validator.Message(err); ok {
			flog.Info("Validation rejected: %s", msg)
			return Outcome{Kind: ValidationFailed, Content: content, Message: msg}, true
		}
		flog.Error("Validator failed: %v", err)
		return Outcome{Kind: SaveFailed, Content: content, Message: GenericSaveMessage}, true
	}

	if err := writeFileAtomic(ref.Path, []byte(content), 0644); err != nil {
		flog.Error("Failed to save: %v", err)
		return Outcome{Kind: SaveFailed, Content: content, Message: GenericSaveMessage}, true
	}

	flog.Info("Saved %d bytes", len(content))
	return Outcome{}, false
}

// read returns the file contents, or "" when the file cannot be read.
func (s *Service) read(ref pathsec.FileRef) string {
	data, err := os.ReadFile(ref.Path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			log.Warn("Could not read %s: %v", ref.Name, err)
		}
		return ""
	}
	return string(data)
}
