package prefetch

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/dgnsrekt/tabreader/queue"
)

// DefaultRetryDelay is how long a job waits for page text before it is
// re-queued.
const DefaultRetryDelay = 3 * time.Second

// errNoCredential marks jobs failed because no AI key is configured.
var errNoCredential = errors.New("no AI credential configured")

// TabSource is the slice of the queue manager the worker needs. The manager
// satisfies it directly.
type TabSource interface {
	TabByID(tabID int64) (queue.Tab, bool)
	OnTabUpdated(ctx context.Context, update queue.TabUpdate) error
	RequestContent(tabID int64, reason queue.ContentRequestReason)
}

// AIClient produces derived text. The ai package's client satisfies it.
type AIClient interface {
	HasCredential() bool
	Summarize(ctx context.Context, text string) (string, error)
	Translate(ctx context.Context, text, targetLanguage string) (string, error)
}

type job struct {
	tabID    int64
	priority int
	seq      int64
}

// Worker drains prefetch jobs strictly one at a time, lowest priority number
// first, insertion order breaking ties. Serial execution keeps the AI request
// rate predictable.
type Worker struct {
	mu         sync.Mutex
	pending    []job
	queued     map[int64]int // tabID -> index into pending
	timers     map[int64]*time.Timer
	processing int64
	seq        int64
	wake       chan struct{}

	tabs      TabSource
	ai        AIClient
	settings  func() queue.Settings
	board     *Board
	results   *Store
	onCleared func(tabID int64)

	retryDelay time.Duration
	logger     *log.Logger
}

// WorkerOptions configures a Worker.
type WorkerOptions struct {
	Tabs     TabSource
	AI       AIClient
	Settings func() queue.Settings
	Board    *Board
	Results  *Store

	// OnCleared fires after a job reaches a terminal state, so the
	// scheduler can start that tab's cooldown.
	OnCleared func(tabID int64)

	RetryDelay time.Duration
	Logger     *log.Logger
}

// NewWorker builds a worker; call Run to start draining.
func NewWorker(opts WorkerOptions) *Worker {
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	retryDelay := opts.RetryDelay
	if retryDelay <= 0 {
		retryDelay = DefaultRetryDelay
	}
	onCleared := opts.OnCleared
	if onCleared == nil {
		onCleared = func(int64) {}
	}
	settings := opts.Settings
	if settings == nil {
		settings = func() queue.Settings { return queue.DefaultSettings() }
	}

	return &Worker{
		queued:     make(map[int64]int),
		timers:     make(map[int64]*time.Timer),
		wake:       make(chan struct{}, 1),
		tabs:       opts.Tabs,
		ai:         opts.AI,
		settings:   settings,
		board:      opts.Board,
		results:    opts.Results,
		onCleared:  onCleared,
		retryDelay: retryDelay,
		logger:     logger,
	}
}

// Enqueue queues a prefetch job for a tab. Re-enqueueing an already queued
// tab keeps it queued once at the better (lower) priority; a tab currently
// in flight is left alone.
func (w *Worker) Enqueue(ctx context.Context, tabID int64, priority int) {
	w.mu.Lock()
	if w.processing == tabID && tabID != 0 {
		w.mu.Unlock()
		return
	}
	if idx, ok := w.queued[tabID]; ok {
		if priority < w.pending[idx].priority {
			w.pending[idx].priority = priority
		}
		w.mu.Unlock()
		return
	}

	w.seq++
	w.pending = append(w.pending, job{tabID: tabID, priority: priority, seq: w.seq})
	w.reindexLocked()
	w.mu.Unlock()

	if w.board != nil {
		w.board.SetPending(ctx, tabID)
	}

	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// Cancel drops a tab's queued job and any retry timer. A job already in
// flight is not interrupted.
func (w *Worker) Cancel(tabID int64) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if timer, ok := w.timers[tabID]; ok {
		timer.Stop()
		delete(w.timers, tabID)
	}
	if idx, ok := w.queued[tabID]; ok {
		w.pending = append(w.pending[:idx], w.pending[idx+1:]...)
		w.reindexLocked()
	}
}

// Run drains jobs until the context is cancelled.
func (w *Worker) Run(ctx context.Context) {
	for {
		j, ok := w.pop()
		if !ok {
			select {
			case <-ctx.Done():
				w.stopTimers()
				return
			case <-w.wake:
				continue
			}
		}

		w.process(ctx, j)

		select {
		case <-ctx.Done():
			w.stopTimers()
			return
		default:
		}
	}
}

// Pending returns the queued tab IDs in drain order.
func (w *Worker) Pending() []int64 {
	w.mu.Lock()
	defer w.mu.Unlock()

	out := make([]int64, len(w.pending))
	for i, j := range w.pending {
		out[i] = j.tabID
	}
	return out
}

func (w *Worker) pop() (job, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if len(w.pending) == 0 {
		return job{}, false
	}
	j := w.pending[0]
	w.pending = w.pending[1:]
	w.reindexLocked()
	w.processing = j.tabID
	return j, true
}

// reindexLocked restores drain order and the tabID index after a mutation.
func (w *Worker) reindexLocked() {
	sort.SliceStable(w.pending, func(i, j int) bool {
		if w.pending[i].priority != w.pending[j].priority {
			return w.pending[i].priority < w.pending[j].priority
		}
		return w.pending[i].seq < w.pending[j].seq
	})
	w.queued = make(map[int64]int, len(w.pending))
	for i, j := range w.pending {
		w.queued[j.tabID] = i
	}
}

func (w *Worker) clearProcessing() {
	w.mu.Lock()
	w.processing = 0
	w.mu.Unlock()
}

// process runs one job to a terminal state, or parks it waiting for content.
func (w *Worker) process(ctx context.Context, j job) {
	defer w.clearProcessing()

	tab, ok := w.tabs.TabByID(j.tabID)
	if !ok || tab.Ignored {
		// The tab left the queue or is excluded from reading; nothing
		// to produce.
		w.board.Remove(ctx, j.tabID)
		w.results.Delete(j.tabID)
		return
	}

	w.board.SetProcessing(ctx, j.tabID)

	if !w.ai.HasCredential() {
		w.logger.Debug("prefetch skipped, no AI credential", "tabID", j.tabID)
		w.fail(ctx, j.tabID, errNoCredential)
		return
	}

	content := strings.TrimSpace(tab.Content)
	if content == "" {
		// Ask the extraction layer for page text and park the job.
		w.tabs.RequestContent(j.tabID, queue.ReasonMissing)
		w.board.SetPending(ctx, j.tabID)
		w.scheduleRetry(ctx, j)
		return
	}

	settings := w.settings()
	result := Result{TabID: j.tabID}

	if settings.SummaryEnabled {
		summary, err := w.ai.Summarize(ctx, content)
		if err != nil {
			w.logger.Warn("summarize failed", "tabID", j.tabID, "error", err)
			w.fail(ctx, j.tabID, err)
			return
		}
		result.Summary = summary
	}

	if settings.TranslationEnabled {
		// Translating the summary instead of the full text keeps the
		// second request small and the spoken result consistent.
		source := content
		if result.Summary != "" {
			source = result.Summary
		}
		translation, err := w.ai.Translate(ctx, source, settings.TargetLanguage)
		if err != nil {
			w.logger.Warn("translate failed", "tabID", j.tabID, "error", err)
			w.fail(ctx, j.tabID, err)
			return
		}
		result.Translation = translation
	}

	w.results.Put(result)

	update := queue.TabUpdate{TabID: j.tabID}
	if result.Summary != "" {
		update.Summary = &result.Summary
	}
	if result.Translation != "" {
		update.Translation = &result.Translation
	}
	if update.Summary != nil || update.Translation != nil {
		if err := w.tabs.OnTabUpdated(ctx, update); err != nil {
			// The tab can leave the queue between lookup and merge;
			// the result store still holds the output.
			w.logger.Debug("prefetch result merge skipped", "tabID", j.tabID, "error", err)
		}
	}

	w.board.SetCompleted(ctx, j.tabID)
	w.results.Prune()
	w.onCleared(j.tabID)
}

func (w *Worker) fail(ctx context.Context, tabID int64, cause error) {
	w.board.SetFailed(ctx, tabID, cause)
	w.onCleared(tabID)
}

// scheduleRetry re-enqueues the job after the retry delay, unless it was
// cancelled in the meantime.
func (w *Worker) scheduleRetry(ctx context.Context, j job) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if timer, ok := w.timers[j.tabID]; ok {
		timer.Stop()
	}
	w.timers[j.tabID] = time.AfterFunc(w.retryDelay, func() {
		w.mu.Lock()
		if _, ok := w.timers[j.tabID]; !ok {
			w.mu.Unlock()
			return
		}
		delete(w.timers, j.tabID)
		w.mu.Unlock()

		w.Enqueue(ctx, j.tabID, j.priority)
	})
}

func (w *Worker) stopTimers() {
	w.mu.Lock()
	defer w.mu.Unlock()

	for tabID, timer := range w.timers {
		timer.Stop()
		delete(w.timers, tabID)
	}
}
