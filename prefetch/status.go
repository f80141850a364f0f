package prefetch

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/dgnsrekt/tabreader/internal/storage"
)

// StatusStorageKey is the store key the serialized board lives under.
const StatusStorageKey = "prefetch-status"

// JobState is the lifecycle position of one prefetch job.
type JobState string

const (
	StatePending    JobState = "pending"
	StateProcessing JobState = "processing"
	StateCompleted  JobState = "completed"
	StateFailed     JobState = "failed"
)

// StatusEntry describes the prefetch state of one tab.
type StatusEntry struct {
	TabID     int64     `json:"tabId"`
	State     JobState  `json:"state"`
	Error     string    `json:"error,omitempty"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// StatusSnapshot is the full board at a moment, newest entries first.
type StatusSnapshot struct {
	ID        string        `json:"id"`
	Statuses  []StatusEntry `json:"statuses"`
	UpdatedAt time.Time     `json:"updatedAt"`
}

// Board tracks per-tab prefetch job states, persists them, and notifies
// subscribers on every change.
type Board struct {
	mu        sync.Mutex
	entries   map[int64]StatusEntry
	listeners map[int]func(StatusSnapshot)
	nextID    int

	store  storage.KV
	key    string
	now    func() time.Time
	logger *log.Logger
}

// NewBoard creates a board backed by the given store. A nil store keeps the
// board memory-only.
func NewBoard(store storage.KV, logger *log.Logger) *Board {
	if logger == nil {
		logger = log.Default()
	}
	return &Board{
		entries:   make(map[int64]StatusEntry),
		listeners: make(map[int]func(StatusSnapshot)),
		store:     store,
		key:       StatusStorageKey,
		now:       time.Now,
		logger:    logger,
	}
}

// Load restores the persisted board. Missing or corrupt records start empty.
func (b *Board) Load(ctx context.Context) {
	if b.store == nil {
		return
	}

	data, err := b.store.Get(ctx, b.key)
	if errors.Is(err, storage.ErrNotFound) {
		return
	}
	if err != nil {
		b.logger.Warn("failed to load prefetch status", "error", err)
		return
	}

	var entries []StatusEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		b.logger.Warn("corrupt prefetch status record", "error", err)
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for _, entry := range entries {
		// A job caught mid-flight by a shutdown starts over.
		if entry.State == StateProcessing {
			entry.State = StatePending
		}
		b.entries[entry.TabID] = entry
	}
}

// Subscribe registers a snapshot listener; the returned handle unsubscribes.
func (b *Board) Subscribe(fn func(StatusSnapshot)) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	b.listeners[id] = fn

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.listeners, id)
	}
}

// SetPending marks a tab's job queued.
func (b *Board) SetPending(ctx context.Context, tabID int64) {
	b.set(ctx, tabID, StatePending, "")
}

// SetProcessing marks a tab's job in flight.
func (b *Board) SetProcessing(ctx context.Context, tabID int64) {
	b.set(ctx, tabID, StateProcessing, "")
}

// SetCompleted marks a tab's job done.
func (b *Board) SetCompleted(ctx context.Context, tabID int64) {
	b.set(ctx, tabID, StateCompleted, "")
}

// SetFailed marks a tab's job failed with a reason.
func (b *Board) SetFailed(ctx context.Context, tabID int64, cause error) {
	msg := "prefetch failed"
	if cause != nil {
		msg = cause.Error()
	}
	b.set(ctx, tabID, StateFailed, msg)
}

func (b *Board) set(ctx context.Context, tabID int64, state JobState, errMsg string) {
	b.mu.Lock()
	b.entries[tabID] = StatusEntry{
		TabID:     tabID,
		State:     state,
		Error:     errMsg,
		UpdatedAt: b.now(),
	}
	b.afterChangeLocked(ctx)
}

// Remove drops a tab's entry.
func (b *Board) Remove(ctx context.Context, tabID int64) {
	b.mu.Lock()
	if _, ok := b.entries[tabID]; !ok {
		b.mu.Unlock()
		return
	}
	delete(b.entries, tabID)
	b.afterChangeLocked(ctx)
}

// Prune drops entries for tabs no longer in the queue.
func (b *Board) Prune(ctx context.Context, live map[int64]bool) {
	b.mu.Lock()
	changed := false
	for tabID := range b.entries {
		if !live[tabID] {
			delete(b.entries, tabID)
			changed = true
		}
	}
	if !changed {
		b.mu.Unlock()
		return
	}
	b.afterChangeLocked(ctx)
}

// Snapshot returns the current board, newest entries first.
func (b *Board) Snapshot() StatusSnapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.snapshotLocked()
}

// Entry returns the entry for a tab, if any.
func (b *Board) Entry(tabID int64) (StatusEntry, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	entry, ok := b.entries[tabID]
	return entry, ok
}

func (b *Board) snapshotLocked() StatusSnapshot {
	statuses := make([]StatusEntry, 0, len(b.entries))
	for _, entry := range b.entries {
		statuses = append(statuses, entry)
	}
	sort.Slice(statuses, func(i, j int) bool {
		if !statuses[i].UpdatedAt.Equal(statuses[j].UpdatedAt) {
			return statuses[i].UpdatedAt.After(statuses[j].UpdatedAt)
		}
		return statuses[i].TabID < statuses[j].TabID
	})

	return StatusSnapshot{
		ID:        uuid.NewString(),
		Statuses:  statuses,
		UpdatedAt: b.now(),
	}
}

// afterChangeLocked persists and broadcasts the new snapshot. It unlocks.
func (b *Board) afterChangeLocked(ctx context.Context) {
	snap := b.snapshotLocked()
	fns := make([]func(StatusSnapshot), 0, len(b.listeners))
	ids := make([]int, 0, len(b.listeners))
	for id := range b.listeners {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	for _, id := range ids {
		fns = append(fns, b.listeners[id])
	}
	entries := snap.Statuses
	b.mu.Unlock()

	if b.store != nil {
		data, err := json.Marshal(entries)
		if err == nil {
			err = b.store.Set(ctx, b.key, data)
		}
		if err != nil {
			b.logger.Warn("failed to persist prefetch status", "error", err)
		}
	}

	for _, fn := range fns {
		fn(snap)
	}
}
