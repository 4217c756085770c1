package wtconfig

import (
	"fmt"
	"os"
	"sync"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
)

// Reloadable watches a config file for changes and atomically swaps in
// the parsed result, without dropping whatever session is already using
// the previous value.
type Reloadable struct {
	path string

	current atomic.Value // *Config

	mu        sync.RWMutex
	watchers  []func(old, new *Config)
	watcher   *fsnotify.Watcher
	stopCh    chan struct{}
	reloading int32
}

// NewReloadable loads path once, then starts watching it for writes.
func NewReloadable(path string) (*Reloadable, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, fmt.Errorf("wtconfig: initial load: %w", err)
	}

	r := &Reloadable{path: path, stopCh: make(chan struct{})}
	r.current.Store(cfg)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("wtconfig: create watcher: %w", err)
	}
	if err := watcher.Add(path); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("wtconfig: watch %s: %w", path, err)
	}
	r.watcher = watcher
	go r.watchLoop()

	return r, nil
}

// Get returns the current configuration. Safe to call concurrently with
// Reload.
func (r *Reloadable) Get() *Config {
	return r.current.Load().(*Config)
}

// Watch registers fn to run, on its own goroutine, after every
// successful reload.
func (r *Reloadable) Watch(fn func(old, new *Config)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.watchers = append(r.watchers, fn)
}

// Reload re-reads the config file, rejecting the new value (and keeping
// the old one live) if it changes a field that can't be changed without
// restarting the process.
func (r *Reloadable) Reload() error {
	if !atomic.CompareAndSwapInt32(&r.reloading, 0, 1) {
		return fmt.Errorf("wtconfig: reload already in progress")
	}
	defer atomic.StoreInt32(&r.reloading, 0)

	newCfg, err := Load(r.path)
	if err != nil {
		return fmt.Errorf("wtconfig: reload: %w", err)
	}

	oldCfg := r.Get()
	if err := validateTransition(oldCfg, newCfg); err != nil {
		return fmt.Errorf("wtconfig: reload rejected: %w", err)
	}

	r.current.Store(newCfg)

	r.mu.RLock()
	watchers := make([]func(old, new *Config), len(r.watchers))
	copy(watchers, r.watchers)
	r.mu.RUnlock()

	for _, fn := range watchers {
		go fn(oldCfg, newCfg)
	}
	return nil
}

// validateTransition rejects changes to fields a running endpoint can't
// apply without re-dialing or re-listening.
func validateTransition(old, new *Config) error {
	if old.Role != new.Role {
		return fmt.Errorf("role change requires restart: %s -> %s", old.Role, new.Role)
	}
	if old.Listen != new.Listen {
		return fmt.Errorf("listen address change requires restart")
	}
	return nil
}

func (r *Reloadable) watchLoop() {
	for {
		select {
		case event, ok := <-r.watcher.Events:
			if !ok {
				return
			}
			if event.Op&fsnotify.Write == fsnotify.Write {
				if err := r.Reload(); err != nil {
					fmt.Fprintf(os.Stderr, "wtconfig: reload failed: %v\n", err)
				}
			}
		case err, ok := <-r.watcher.Errors:
			if !ok {
				return
			}
			fmt.Fprintf(os.Stderr, "wtconfig: watcher error: %v\n", err)
		case <-r.stopCh:
			return
		}
	}
}

// Close stops the watch loop.
func (r *Reloadable) Close() error {
	close(r.stopCh)
	return r.watcher.Close()
}
