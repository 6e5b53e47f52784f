package session

import (
	"context"
	"encoding/json"
	"time"
)

// autoBackup runs periodic snapshots of the current state. Only one runs
// per session; starting a new one stops the previous timer. Stopping the
// timer never cancels an in-flight backup request.
type autoBackup struct {
	s        *Session
	interval time.Duration
	accessor func() json.RawMessage
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// StartAutoBackup starts (or restarts) the periodic backup timer. accessor
// supplies the current full application state on each tick; when it is nil
// or returns nothing, the tick falls back to the last-known-state cache.
// A tick with no state available at all is skipped with a warning.
func (s *Session) StartAutoBackup(interval time.Duration, accessor func() json.RawMessage) {
	s.mu.Lock()
	prev := s.ab
	ab := &autoBackup{
		s:        s,
		interval: interval,
		accessor: accessor,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
	s.ab = ab
	s.mu.Unlock()

	if prev != nil {
		prev.stop()
	}
	go ab.run()
	s.logger.Printf("AutoBackup: scheduled every %s", interval)
}

// StopAutoBackup stops the timer if one is running.
func (s *Session) StopAutoBackup() {
	s.mu.Lock()
	ab := s.ab
	s.ab = nil
	s.mu.Unlock()
	if ab != nil {
		ab.stop()
		s.logger.Println("AutoBackup: stopped")
	}
}

// TickOnce runs one auto-backup cycle immediately (for testing or manual
// trigger). Uses the accessor/cache rules of a normal tick.
func (s *Session) TickOnce() {
	s.mu.Lock()
	ab := s.ab
	s.mu.Unlock()
	if ab != nil {
		ab.tick()
	}
}

func (a *autoBackup) run() {
	defer close(a.doneCh)
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()
	for {
		select {
		case <-a.stopCh:
			return
		case <-ticker.C:
			a.tick()
		}
	}
}

func (a *autoBackup) stop() {
	close(a.stopCh)
	<-a.doneCh
}

func (a *autoBackup) tick() {
	state := json.RawMessage(nil)
	if a.accessor != nil {
		state = a.accessor()
	}
	if len(state) == 0 {
		state = a.s.Cached()
	}
	if len(state) == 0 {
		a.s.logger.Println("Warning: auto-backup tick skipped, no state available")
		return
	}
	// CreateBackup swallows its own failures; a failed tick must never
	// escape the timer goroutine.
	a.s.CreateBackup(context.Background(), state)
}
