package validator

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Reloading serves a script validator and recompiles it whenever the script
// changes on disk. A script that fails to compile leaves the previous version
// in place.
type Reloading struct {
	path string
	opts Options

	mu      sync.RWMutex
	current Validator

	watcher *fsnotify.Watcher
	closed  chan struct{}
	done    chan struct{}
	once    sync.Once
}

// NewReloading loads the script at path and starts watching it.
func NewReloading(path string, opts Options) (*Reloading, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve validator path: %w", err)
	}

	v, err := Load(abs, opts)
	if err != nil {
		return nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}
	// Editors commonly replace files by rename, so watch the directory.
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
	}

	r := &Reloading{
		path:    abs,
		opts:    opts,
		current: v,
		watcher: watcher,
		closed:  make(chan struct{}),
		done:    make(chan struct{}),
	}
	go r.watchLoop()
	return r, nil
}

func (r *Reloading) Validate(ctx context.Context, filename, content, root string) error {
	r.mu.RLock()
	v := r.current
	r.mu.RUnlock()
	return v.Validate(ctx, filename, content, root)
}

// Close stops watching.
func (r *Reloading) Close() error {
	var err error
	r.once.Do(func() {
		close(r.closed)
		err = r.watcher.Close()
		<-r.done
	})
	return err
}

func (r *Reloading) watchLoop() {
	defer close(r.done)
	for {
		select {
		case <-r.closed:
			return
		case event, ok := <-r.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != r.path {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) != 0 {
				r.reload()
			}
		case err, ok := <-r.watcher.Errors:
			if !ok {
				return
			}
			log.Warn("watcher error: %v", err)
		}
	}
}

func (r *Reloading) reload() {
	v, err := Load(r.path, r.opts)
	if err != nil {
		log.Warn("hot reload failed for %s, keeping previous version: %v", r.path, err)
		return
	}
	r.mu.Lock()
	r.current = v
	r.mu.Unlock()
	log.Info("Reloaded validator %s", r.path)
}
