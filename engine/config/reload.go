package config

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Change is delivered on a successful, validated configuration reload.
type Change struct {
	Config           *Config
	PreviousChecksum string
	Checksum         string
}

// HotReloader watches a config file for writes and re-parses it, emitting a
// Change only when the parsed document's checksum actually differs from the
// last one observed.
type HotReloader struct {
	path    string
	watcher *fsnotify.Watcher

	mu         sync.Mutex
	isWatching bool
	lastSum    string
}

// NewHotReloader builds a watcher rooted at path's parent directory, since
// fsnotify on most platforms only reports events for watched directories,
// not individual files.
func NewHotReloader(path string) (*HotReloader, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("config: create file watcher: %w", err)
	}
	return &HotReloader{path: path, watcher: watcher}, nil
}

// Watch starts watching and returns channels of validated Changes and
// errors (parse/validate failures; the bad file is never published as a
// Change). Closing ctx stops the watch and closes both channels.
func (r *HotReloader) Watch(ctx context.Context) (<-chan *Change, <-chan error) {
	changes := make(chan *Change, 8)
	errs := make(chan error, 8)

	r.mu.Lock()
	if r.isWatching {
		r.mu.Unlock()
		close(changes)
		close(errs)
		return changes, errs
	}
	dir := filepath.Dir(r.path)
	if err := r.watcher.Add(dir); err != nil {
		r.mu.Unlock()
		errs <- fmt.Errorf("config: watch dir %s: %w", dir, err)
		close(changes)
		close(errs)
		return changes, errs
	}
	r.isWatching = true
	r.mu.Unlock()

	go func() {
		defer close(changes)
		defer close(errs)
		for {
			select {
			case ev, ok := <-r.watcher.Events:
				if !ok {
					return
				}
				if ev.Name != r.path {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				r.handleWrite(changes, errs)
			case err, ok := <-r.watcher.Errors:
				if !ok {
					return
				}
				errs <- err
			case <-ctx.Done():
				return
			}
		}
	}()
	return changes, errs
}

func (r *HotReloader) handleWrite(changes chan<- *Change, errs chan<- error) {
	cfg, err := Load(r.path)
	if err != nil {
		errs <- err
		return
	}
	sum := checksum(cfg)

	r.mu.Lock()
	prev := r.lastSum
	if sum == prev {
		r.mu.Unlock()
		return
	}
	r.lastSum = sum
	r.mu.Unlock()

	changes <- &Change{Config: cfg, PreviousChecksum: prev, Checksum: sum}
}

// Stop closes the underlying file watcher.
func (r *HotReloader) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.isWatching {
		return nil
	}
	r.isWatching = false
	return r.watcher.Close()
}

func checksum(cfg *Config) string {
	data, err := json.Marshal(cfg)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(data)
	return fmt.Sprintf("%x", sum)
}
