package prefetch

import (
	"context"
	"sync"

	"github.com/charmbracelet/log"

	"github.com/dgnsrekt/tabreader/queue"
)

// QueueEvents is the slice of the queue manager the coordinator observes.
type QueueEvents interface {
	Subscribe(fn queue.Listener) func()
	Snapshot() queue.Snapshot
}

// Coordinator connects the queue to the prefetch pipeline: every status
// change reconciles the schedule and prunes board entries for departed tabs.
type Coordinator struct {
	manager   QueueEvents
	scheduler *Scheduler
	worker    *Worker
	board     *Board
	logger    *log.Logger

	mu          sync.Mutex
	unsubscribe func()
	cancel      context.CancelFunc
	done        chan struct{}
}

// NewCoordinator wires the pieces together; call Start to begin.
func NewCoordinator(manager QueueEvents, scheduler *Scheduler, worker *Worker, board *Board, logger *log.Logger) *Coordinator {
	if logger == nil {
		logger = log.Default()
	}
	return &Coordinator{
		manager:   manager,
		scheduler: scheduler,
		worker:    worker,
		board:     board,
		logger:    logger,
	}
}

// Start launches the worker and begins following queue events. Calling Start
// twice is a no-op.
func (c *Coordinator) Start(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})

	c.board.Load(ctx)

	go func() {
		defer close(c.done)
		c.worker.Run(ctx)
	}()

	c.unsubscribe = c.manager.Subscribe(func(e queue.Event) {
		status, ok := e.(queue.StatusEvent)
		if !ok {
			return
		}
		c.onStatus(ctx, status.Snapshot)
	})

	// Catch up with whatever the queue held before we subscribed.
	c.onStatus(ctx, c.manager.Snapshot())
	c.logger.Debug("prefetch coordinator started")
}

// Stop unsubscribes and waits for the worker to drain its current job.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	unsubscribe := c.unsubscribe
	cancel := c.cancel
	done := c.done
	c.unsubscribe = nil
	c.cancel = nil
	c.done = nil
	c.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

// Retry forces a failed tab's job to run again, bypassing its cooldown.
func (c *Coordinator) Retry(ctx context.Context, tabID int64) {
	c.scheduler.Retry(ctx, tabID)
}

// Status returns the current prefetch board.
func (c *Coordinator) Status() StatusSnapshot {
	return c.board.Snapshot()
}

func (c *Coordinator) onStatus(ctx context.Context, snap queue.Snapshot) {
	c.scheduler.Reconcile(ctx, snap)

	live := make(map[int64]bool, len(snap.Tabs))
	for _, tab := range snap.Tabs {
		live[tab.ID] = true
	}
	c.board.Prune(ctx, live)
}
