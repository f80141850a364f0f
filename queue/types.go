// Package queue implements the read-aloud tab queue: an ordered list of
// browser tabs, the playback state machine that walks it, and the persistence
// discipline that keeps it durable across host restarts.
package queue

import "time"

// Tab is one entry in the reading queue. Identity is the tab ID, never the
// position; exactly one record exists per ID at any time.
type Tab struct {
	ID          int64     `json:"tabId"`
	URL         string    `json:"url"`
	Title       string    `json:"title"`
	Content     string    `json:"content,omitempty"`
	Summary     string    `json:"summary,omitempty"`
	Translation string    `json:"translation,omitempty"`
	Ignored     bool      `json:"isIgnored"`
	Reloading   bool      `json:"reloading,omitempty"`
	ExtractedAt time.Time `json:"extractedAt"`

	// ProcessedContent is the pre-split derived text field from schema
	// version 1. Kept for migration; new writes leave it empty.
	ProcessedContent string `json:"processedContent,omitempty"`
}

// TabUpdate carries a partial merge into an existing tab record. Nil fields
// are left untouched. This is the only path by which collaborators outside
// the manager mutate queue state.
type TabUpdate struct {
	TabID       int64      `json:"tabId"`
	Title       *string    `json:"title,omitempty"`
	URL         *string    `json:"url,omitempty"`
	Content     *string    `json:"content,omitempty"`
	Summary     *string    `json:"summary,omitempty"`
	Translation *string    `json:"translation,omitempty"`
	ExtractedAt *time.Time `json:"extractedAt,omitempty"`
}

// Snapshot is an immutable, fully-copied view of the queue, safe to hand to
// listeners and across goroutines.
type Snapshot struct {
	Status       Status            `json:"status"`
	CurrentIndex int               `json:"currentIndex"`
	TotalCount   int               `json:"totalCount"`
	ActiveTabID  int64             `json:"activeTabId,omitempty"`
	PausedByUser bool              `json:"pausedByUser"`
	Tabs         []Tab             `json:"tabs"`
	Settings     Settings          `json:"settings"`
	Progress     map[int64]float64 `json:"progress,omitempty"`
	Timestamp    time.Time         `json:"timestamp"`
}

// SchemaVersion tags the persisted queue record. Version 1 records carried
// derived text in processedContent; version 2 splits summary and translation.
const SchemaVersion = 2

// persistedQueue is the on-store shape of the reading queue.
type persistedQueue struct {
	Version      int               `json:"version"`
	Tabs         []Tab             `json:"tabs"`
	CurrentIndex int               `json:"currentIndex"`
	Status       Status            `json:"status"`
	PausedByUser bool              `json:"pausedByUser"`
	Settings     Settings          `json:"settings"`
	Progress     map[int64]float64 `json:"progress,omitempty"`
	PersistedAt  time.Time         `json:"persistedAt"`
}
