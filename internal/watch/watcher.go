// Package watch reports changes to files under the editable root so open
// edit pages can warn about edits made elsewhere.
package watch

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sync"

	"github.com/charlievieth/fastwalk"
	"github.com/fsnotify/fsnotify"

	"edit-text-server/internal/logger"
	"edit-text-server/internal/pathsec"
)

var log = logger.WithComponent("WATCH")

// Watcher publishes a changed event to its hub whenever a file under root is
// created, written, removed or renamed. New subdirectories are picked up as
// they appear.
type Watcher struct {
	root    string
	hub     *Hub
	watcher *fsnotify.Watcher
	closed  chan struct{}
	done    chan struct{}
	once    sync.Once
}

// New starts watching root recursively.
func New(root string, hub *Hub) (*Watcher, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve watch root: %w", err)
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}

	w := &Watcher{
		root:    abs,
		hub:     hub,
		watcher: fw,
		closed:  make(chan struct{}),
		done:    make(chan struct{}),
	}
	if err := w.addTree(abs); err != nil {
		fw.Close()
		return nil, err
	}

	go w.watchLoop()
	log.Info("Watching %s for changes", abs)
	return w, nil
}

// addTree watches dir and every directory below it. Symlinked directories are
// not followed.
func (w *Watcher) addTree(dir string) error {
	var mu sync.Mutex
	conf := fastwalk.Config{Follow: false}
	return fastwalk.Walk(&conf, dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path != dir && errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if !d.IsDir() {
			return nil
		}
		mu.Lock()
		defer mu.Unlock()
		if err := w.watcher.Add(path); err != nil {
			return fmt.Errorf("watch %s: %w", path, err)
		}
		return nil
	})
}

// Close stops watching.
func (w *Watcher) Close() error {
	var err error
	w.once.Do(func() {
		close(w.closed)
		err = w.watcher.Close()
		<-w.done
	})
	return err
}

func (w *Watcher) watchLoop() {
	defer close(w.done)
	for {
		select {
		case <-w.closed:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handle(event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Warn("watcher error: %v", err)
		}
	}
}

func (w *Watcher) handle(event fsnotify.Event) {
	if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
		return
	}
	if isTempFile(event.Name) {
		return
	}

	if event.Op&fsnotify.Create != 0 {
		if info, err := os.Lstat(event.Name); err == nil && info.IsDir() {
			if err := w.addTree(event.Name); err != nil {
				log.Warn("Could not watch new directory %s: %v", event.Name, err)
			}
			return
		}
	}

	if !pathsec.IsWithin(event.Name, w.root) {
		return
	}
	rel, err := filepath.Rel(w.root, event.Name)
	if err != nil {
		return
	}
	w.hub.Publish(Event{Type: EventChanged, Filename: filepath.ToSlash(rel)})
}

// tempFilePattern is the ".<name>-<random digits>.tmp" shape os.CreateTemp
// produces for an atomic save of <name>.
var tempFilePattern = regexp.MustCompile(`^\..+-[0-9]+\.tmp$`)

// isTempFile matches the temp files written during an atomic save.
func isTempFile(path string) bool {
	return tempFilePattern.MatchString(filepath.Base(path))
}
