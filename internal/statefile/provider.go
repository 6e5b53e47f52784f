// Package statefile provides the host state accessor as a watched JSON file.
// The watcher feeds saves in the CLI's watch mode and the auto-backup timer;
// WriteState applies realtime updates back to disk.
package statefile

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const (
	defaultDebounce     = 200 * time.Millisecond
	defaultPollInterval = 10 * time.Second
)

// Provider watches one JSON state file. It prefers fsnotify and falls back
// to polling when the watcher cannot be set up.
type Provider struct {
	path         string
	logger       *log.Logger
	debounce     time.Duration
	pollInterval time.Duration
	onChange     func(state json.RawMessage)

	mu            sync.Mutex
	last          json.RawMessage
	debounceTimer *time.Timer
	watcher       *fsnotify.Watcher
	useFsnotify   bool
	stopOnce      sync.Once
	stopCh        chan struct{}
	doneCh        chan struct{}
}

// Option configures the provider.
type Option func(*Provider)

// WithOnChange sets the callback invoked (debounced) when the file content
// changes on disk. Self-writes through WriteState do not fire it.
func WithOnChange(fn func(state json.RawMessage)) Option {
	return func(p *Provider) { p.onChange = fn }
}

// WithPollInterval sets the fallback poll interval (default 10s).
func WithPollInterval(d time.Duration) Option {
	return func(p *Provider) { p.pollInterval = d }
}

// WithDebounce sets the change debounce window (default 200ms).
func WithDebounce(d time.Duration) Option {
	return func(p *Provider) { p.debounce = d }
}

// New creates a provider for the state file at path. The file does not have
// to exist yet.
func New(path string, logger *log.Logger, opts ...Option) *Provider {
	p := &Provider{
		path:         path,
		logger:       logger,
		debounce:     defaultDebounce,
		pollInterval: defaultPollInterval,
		stopCh:       make(chan struct{}),
		doneCh:       make(chan struct{}),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// State returns the last known file content, reading the file on first use.
// Nil when the file does not exist or holds invalid JSON.
func (p *Provider) State() json.RawMessage {
	p.mu.Lock()
	last := p.last
	p.mu.Unlock()
	if last != nil {
		return last
	}
	return p.reload(false)
}

// WriteState writes state to the file atomically (temp file + rename) and
// primes the cache so the watcher does not report the write back as a change.
func (p *Provider) WriteState(state json.RawMessage) error {
	dir := filepath.Dir(p.path)
	tmp, err := os.CreateTemp(dir, ".statebridge-*")
	if err != nil {
		return fmt.Errorf("statefile temp: %w", err)
	}
	if _, err := tmp.Write(state); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("statefile write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("statefile close: %w", err)
	}

	p.mu.Lock()
	p.last = state
	p.mu.Unlock()

	if err := os.Rename(tmp.Name(), p.path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("statefile rename: %w", err)
	}
	return nil
}

// Start begins watching. Returns when ctx is cancelled or Stop is called.
func (p *Provider) Start(ctx context.Context) {
	defer close(p.doneCh)

	watchDir := filepath.Dir(p.path)
	fileName := filepath.Base(p.path)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		p.logger.Printf("Statefile: fsnotify init failed (%v), using poll-only", err)
		p.useFsnotify = false
	} else {
		p.watcher = watcher
		p.useFsnotify = true
		if err := watcher.Add(watchDir); err != nil {
			p.logger.Printf("Statefile: fsnotify add %s failed (%v), using poll-only", watchDir, err)
			_ = watcher.Close()
			p.watcher = nil
			p.useFsnotify = false
		}
	}

	if p.useFsnotify {
		defer p.watcher.Close()
		go p.watchLoop(ctx, fileName)
	}

	p.pollLoop(ctx)
}

// Stop signals the provider to stop and waits for Start to return. Safe to
// call more than once; must not be called unless Start has been called.
func (p *Provider) Stop() {
	p.stopOnce.Do(func() { close(p.stopCh) })
	<-p.doneCh
}

// CheckOnce runs one reload cycle (for testing or manual trigger).
func (p *Provider) CheckOnce() {
	p.check()
}

func (p *Provider) watchLoop(ctx context.Context, fileName string) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopCh:
			return
		case event, ok := <-p.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != fileName {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			p.checkDebounced()
		case _, ok := <-p.watcher.Errors:
			if !ok {
				return
			}
		}
	}
}

func (p *Provider) checkDebounced() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.debounceTimer != nil {
		p.debounceTimer.Stop()
	}
	p.debounceTimer = time.AfterFunc(p.debounce, p.check)
}

func (p *Provider) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.check()
		}
	}
}

// check reloads the file and fires onChange when the content differs from
// the cached copy.
func (p *Provider) check() {
	state := p.reload(true)
	if state == nil {
		return
	}
	if p.onChange != nil {
		p.onChange(state)
	}
}

// reload reads the file. When fireOnDiff is true, a read that matches the
// cache returns nil so callers can skip duplicate notifications.
func (p *Provider) reload(fireOnDiff bool) json.RawMessage {
	data, err := os.ReadFile(p.path)
	if err != nil {
		if !os.IsNotExist(err) {
			p.logger.Printf("Warning: statefile read failed: %v", err)
		}
		return nil
	}
	if !json.Valid(data) {
		p.logger.Printf("Warning: statefile %s is not valid JSON, ignoring", p.path)
		return nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if fireOnDiff && bytes.Equal(data, p.last) {
		return nil
	}
	p.last = data
	return data
}
