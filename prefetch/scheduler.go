package prefetch

import (
	"context"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/dgnsrekt/tabreader/queue"
)

const (
	// DefaultLookahead is how many tabs past the current one are prepared.
	DefaultLookahead = 2
	// DefaultCooldown is how long a finished tab stays off the schedule,
	// so settings churn cannot re-run jobs back to back.
	DefaultCooldown = 5 * time.Second
)

// JobSink accepts scheduling decisions. The worker satisfies it.
type JobSink interface {
	Enqueue(ctx context.Context, tabID int64, priority int)
	Cancel(tabID int64)
}

// Scheduler reconciles queue snapshots into a target set of prefetch jobs:
// the current tab first, then the next few readable tabs. Tabs leaving the
// target set have their queued jobs cancelled.
type Scheduler struct {
	mu            sync.Mutex
	scheduled     map[int64]int
	cooldownUntil map[int64]time.Time

	sink      JobSink
	lookahead int
	cooldown  time.Duration
	now       func() time.Time
	logger    *log.Logger
}

// SchedulerOptions configures a Scheduler.
type SchedulerOptions struct {
	Sink      JobSink
	Lookahead int
	Cooldown  time.Duration
	Clock     func() time.Time
	Logger    *log.Logger
}

// NewScheduler builds a scheduler feeding the given sink.
func NewScheduler(opts SchedulerOptions) *Scheduler {
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	lookahead := opts.Lookahead
	if lookahead <= 0 {
		lookahead = DefaultLookahead
	}
	cooldown := opts.Cooldown
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	now := opts.Clock
	if now == nil {
		now = time.Now
	}

	return &Scheduler{
		scheduled:     make(map[int64]int),
		cooldownUntil: make(map[int64]time.Time),
		sink:          opts.Sink,
		lookahead:     lookahead,
		cooldown:      cooldown,
		now:           now,
		logger:        logger,
	}
}

// Reconcile aligns queued jobs with a fresh queue snapshot.
func (s *Scheduler) Reconcile(ctx context.Context, snap queue.Snapshot) {
	target := targetSet(snap, s.lookahead)

	s.mu.Lock()
	now := s.now()
	for tabID, until := range s.cooldownUntil {
		if now.After(until) {
			delete(s.cooldownUntil, tabID)
		}
	}

	var enqueue []job
	for tabID, priority := range target {
		if _, cooling := s.cooldownUntil[tabID]; cooling {
			continue
		}
		if prev, ok := s.scheduled[tabID]; ok && prev == priority {
			continue
		}
		s.scheduled[tabID] = priority
		enqueue = append(enqueue, job{tabID: tabID, priority: priority})
	}

	var cancel []int64
	for tabID := range s.scheduled {
		if _, ok := target[tabID]; !ok {
			delete(s.scheduled, tabID)
			cancel = append(cancel, tabID)
		}
	}
	s.mu.Unlock()

	for _, tabID := range cancel {
		s.sink.Cancel(tabID)
	}
	for _, j := range enqueue {
		s.sink.Enqueue(ctx, j.tabID, j.priority)
	}
}

// Clear marks a tab's job finished and starts its cooldown.
func (s *Scheduler) Clear(tabID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.scheduled, tabID)
	s.cooldownUntil[tabID] = s.now().Add(s.cooldown)
}

// Retry forces a tab back onto the schedule, bypassing any cooldown.
func (s *Scheduler) Retry(ctx context.Context, tabID int64) {
	s.mu.Lock()
	delete(s.cooldownUntil, tabID)
	s.scheduled[tabID] = 0
	s.mu.Unlock()

	s.sink.Enqueue(ctx, tabID, 0)
}

// Scheduled returns the tab IDs currently on the schedule.
func (s *Scheduler) Scheduled() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]int64, 0, len(s.scheduled))
	for tabID := range s.scheduled {
		out = append(out, tabID)
	}
	return out
}

// targetSet picks the tabs worth preparing for a snapshot: priority 0 is the
// tab about to be read, higher numbers follow queue order.
func targetSet(snap queue.Snapshot, lookahead int) map[int64]int {
	target := make(map[int64]int)

	if snap.Status == queue.StatusError || len(snap.Tabs) == 0 {
		return target
	}
	if !wantsDerivedText(snap.Settings) {
		return target
	}

	start := snap.CurrentIndex
	budget := lookahead + 1
	if snap.Status == queue.StatusIdle {
		// Nothing is being read; only warm the head of the queue.
		start = 0
		budget = 1
	}

	priority := 0
	for i := start; i < len(snap.Tabs) && priority < budget; i++ {
		tab := snap.Tabs[i]
		if tab.Ignored {
			continue
		}
		if !needsWork(tab, snap.Settings) {
			continue
		}
		target[tab.ID] = priority
		priority++
	}
	return target
}

func wantsDerivedText(settings queue.Settings) bool {
	return settings.SummaryEnabled || settings.TranslationEnabled
}

// needsWork reports whether a tab is missing derived text the settings call
// for.
func needsWork(tab queue.Tab, settings queue.Settings) bool {
	if settings.SummaryEnabled && tab.Summary == "" {
		return true
	}
	if settings.TranslationEnabled && tab.Translation == "" {
		return true
	}
	return false
}
