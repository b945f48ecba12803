package editor

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/charlievieth/fastwalk"
)

// ListingEntry is one editable file.
type ListingEntry struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

// List returns every regular file under the root, sorted by name. Directories
// are descended into but not listed; symlinks are neither followed nor listed.
// Any error while walking fails the whole listing. With TextOnly set, files
// whose content does not sniff as text are left out too.
func (s *Service) List(ctx context.Context) ([]ListingEntry, error) {
	info, err := os.Stat(s.root)
	if err != nil {
		s.metrics.ObserveListing(0, err)
		return nil, fmt.Errorf("%w: %w", ErrListingFailed, err)
	}
	if !info.IsDir() {
		err := fmt.Errorf("%w: %s is not a directory", ErrListingFailed, s.root)
		s.metrics.ObserveListing(0, err)
		return nil, err
	}

	var (
		mu      sync.Mutex
		entries []ListingEntry
	)

	conf := fastwalk.Config{Follow: false}
	err = fastwalk.Walk(&conf, s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}

		rel, err := filepath.Rel(s.root, path)
		if err != nil {
			return err
		}
		name := filepath.ToSlash(rel)
		if s.excluded(name) {
			return nil
		}
		if s.textOnly {
			text, mime, err := isTextFile(path)
			if err != nil {
				log.Warn("Skipping %s: %v", name, err)
				return nil
			}
			if !text {
				log.Debug("Skipping %s: %s is not text", name, mime)
				return nil
			}
		}

		entry := ListingEntry{Name: name, URL: s.linkPrefix + encodeURIComponent(name)}
		mu.Lock()
		entries = append(entries, entry)
		mu.Unlock()
		return nil
	})
	if err != nil {
		s.metrics.ObserveListing(0, err)
		return nil, fmt.Errorf("%w: %w", ErrListingFailed, err)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name < entries[j].Name
	})

	s.metrics.ObserveListing(len(entries), nil)
	return entries, nil
}

func (s *Service) excluded(name string) bool {
	for _, pattern := range s.exclude {
		if ok, _ := doublestar.Match(pattern, name); ok {
			return true
		}
	}
	return false
}

// encodeURIComponent escapes everything except A-Z a-z 0-9 - _ . ! ~ * ' ( )
// so links match what browsers produce for the same name.
func encodeURIComponent(s string) string {
	const hex = "0123456789ABCDEF"
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if isUnreservedComponent(c) {
			b.WriteByte(c)
			continue
		}
		b.WriteByte('%')
		b.WriteByte(hex[c>>4])
		b.WriteByte(hex[c&0x0f])
	}
	return b.String()
}

func isUnreservedComponent(c byte) bool {
	switch {
	case 'a' <= c && c <= 'z', 'A' <= c && c <= 'Z', '0' <= c && c <= '9':
		return true
	}
	switch c {
	case '-', '_', '.', '!', '~', '*', '\'', '(', ')':
		return true
	}
	return false
}
