package queue

import (
	"context"
	"sync"
	"time"

	"github.com/charmbracelet/log"
)

// saver coalesces bursts of rapid mutations into one storage write. Schedule
// arms (or re-arms) a timer; Flush forces any pending write to complete now,
// which is the deterministic join point for tests and shutdown.
type saver struct {
	mu      sync.Mutex
	delay   time.Duration
	timer   *time.Timer
	pending bool

	save   func(ctx context.Context) error
	logger *log.Logger
}

func newSaver(delay time.Duration, save func(ctx context.Context) error, logger *log.Logger) *saver {
	if logger == nil {
		logger = log.Default()
	}
	return &saver{
		delay:  delay,
		save:   save,
		logger: logger,
	}
}

// Schedule arms a debounced write. Repeated calls within the delay window
// collapse into a single write.
func (s *saver) Schedule() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.pending = true
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = time.AfterFunc(s.delay, s.fire)
}

// Cancel drops any pending write without running it.
func (s *saver) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.pending = false
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

// Flush runs the pending write immediately, if any.
func (s *saver) Flush(ctx context.Context) error {
	s.mu.Lock()
	if !s.pending {
		s.mu.Unlock()
		return nil
	}
	s.pending = false
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.mu.Unlock()

	return s.save(ctx)
}

// Pending reports whether a write is scheduled.
func (s *saver) Pending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending
}

func (s *saver) fire() {
	s.mu.Lock()
	if !s.pending {
		s.mu.Unlock()
		return
	}
	s.pending = false
	s.timer = nil
	s.mu.Unlock()

	if err := s.save(context.Background()); err != nil {
		// Best effort: the next mutation schedules another attempt.
		s.logger.Warn("debounced queue save failed", "error", err)
	}
}
