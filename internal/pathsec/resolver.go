package pathsec

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// Path security errors.
var (
	ErrPathTraversal = errors.New("path traversal detected")
	ErrInvalidPath   = errors.New("invalid path")
)

// PathSecurityError wraps path security errors with context.
type PathSecurityError struct {
	Op      string // operation that failed
	Path    string // the problematic path
	Wrapped error  // underlying error
}

func (e *PathSecurityError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Path, e.Wrapped)
}

func (e *PathSecurityError) Unwrap() error {
	return e.Wrapped
}

// IsPathTraversal checks if the error is a path traversal error
func IsPathTraversal(err error) bool {
	return errors.Is(err, ErrPathTraversal)
}

// FileRef names one file under the editable root.
type FileRef struct {
	// Name is the cleaned, slash-separated path relative to the root.
	Name string
	// Path is the absolute path on disk.
	Path string
}

// Resolver turns user-supplied names into paths confined to a root.
// It never touches the filesystem.
type Resolver struct{}

// NewResolver creates a new path resolver.
func NewResolver() *Resolver {
	return &Resolver{}
}

// Resolve joins name onto root and accepts the result only if it is a strict
// descendant of root. The root itself is rejected.
func (p *Resolver) Resolve(root, name string) (FileRef, error) {
	if root == "" {
		return FileRef{}, &PathSecurityError{Op: "resolve_root", Path: root, Wrapped: ErrInvalidPath}
	}
	if strings.ContainsRune(name, 0) {
		return FileRef{}, &PathSecurityError{Op: "check_name", Path: name, Wrapped: ErrInvalidPath}
	}

	cleanRoot := filepath.Clean(root)
	joined := filepath.Join(cleanRoot, name)

	rel, ok := relativeWithin(joined, cleanRoot)
	if !ok {
		return FileRef{}, &PathSecurityError{Op: "check_traversal", Path: name, Wrapped: ErrPathTraversal}
	}

	return FileRef{Name: filepath.ToSlash(rel), Path: joined}, nil
}

// IsWithin reports whether path is a strict descendant of root, comparing
// whole path components so that "/srv/rootX" is not inside "/srv/root".
func IsWithin(path, root string) bool {
	_, ok := relativeWithin(filepath.Clean(path), filepath.Clean(root))
	return ok
}

func relativeWithin(path, root string) (string, bool) {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return "", false
	}
	if rel == "." || rel == ".." {
		return "", false
	}
	if strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	if filepath.IsAbs(rel) {
		return "", false
	}
	return rel, true
}
