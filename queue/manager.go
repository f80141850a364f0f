package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"github.com/dgnsrekt/tabreader/internal/storage"
)

const (
	// StorageKey is the store key the serialized queue lives under.
	StorageKey = "reading-queue"

	// DefaultContentBudget caps the total raw content characters retained
	// across queued tabs, the active tab excluded. Summaries and
	// translations are cheap and never evicted.
	DefaultContentBudget = 100_000

	// DefaultSaveDelay is the debounce window for persistence writes.
	DefaultSaveDelay = 500 * time.Millisecond
)

// Options configures a Manager. Store, Resolver and Player are required;
// everything else has a usable default.
type Options struct {
	Store    storage.KV
	Resolver ContentResolver
	Player   PlaybackController
	Ignores  IgnoreList
	Clock    Clock
	Logger   *log.Logger

	SaveDelay     time.Duration
	ContentBudget int
	StorageKey    string
}

// Manager owns the reading queue and its playback state machine. It is the
// single writer of queue state: collaborators observe snapshots and feed
// changes back through OnTabUpdated.
type Manager struct {
	mu sync.Mutex

	tabs         []Tab
	current      int
	status       Status
	pausedByUser bool
	progress     map[int64]float64
	settings     Settings
	token        int64
	initialized  bool

	resolver ContentResolver
	player   PlaybackController
	store    storage.KV
	ignores  IgnoreList
	clock    Clock
	logger   *log.Logger

	events *Broadcaster
	saver  *saver
	outbox []Event

	contentBudget int
	storageKey    string
}

// allowAll is the IgnoreList used when none is injected.
type allowAll struct{}

func (allowAll) IsIgnored(string) bool { return false }

// NewManager builds a Manager from options.
func NewManager(opts Options) (*Manager, error) {
	if opts.Store == nil {
		return nil, errors.New("queue: Store is required")
	}
	if opts.Resolver == nil {
		return nil, errors.New("queue: Resolver is required")
	}
	if opts.Player == nil {
		return nil, errors.New("queue: Player is required")
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	clock := opts.Clock
	if clock == nil {
		clock = systemClock{}
	}
	ignores := opts.Ignores
	if ignores == nil {
		ignores = allowAll{}
	}

	saveDelay := opts.SaveDelay
	if saveDelay <= 0 {
		saveDelay = DefaultSaveDelay
	}
	budget := opts.ContentBudget
	if budget <= 0 {
		budget = DefaultContentBudget
	}
	key := opts.StorageKey
	if key == "" {
		key = StorageKey
	}

	m := &Manager{
		progress:      make(map[int64]float64),
		settings:      DefaultSettings(),
		resolver:      opts.Resolver,
		player:        opts.Player,
		store:         opts.Store,
		ignores:       ignores,
		clock:         clock,
		logger:        logger,
		events:        NewBroadcaster(logger),
		contentBudget: budget,
		storageKey:    key,
	}
	m.saver = newSaver(saveDelay, m.persistNow, logger)
	return m, nil
}

// Subscribe registers an event listener; the returned handle unsubscribes.
func (m *Manager) Subscribe(fn Listener) func() {
	return m.events.Subscribe(fn)
}

// Initialize loads the persisted queue, normalizes it and emits the initial
// status snapshot. Calling it again is a no-op.
func (m *Manager) Initialize(ctx context.Context) error {
	m.mu.Lock()
	defer m.publishAfter()

	if m.initialized {
		return nil
	}
	m.initialized = true

	record := m.loadRecord(ctx)
	m.tabs = record.Tabs
	m.current = record.CurrentIndex
	m.settings = record.Settings
	m.settings.clamp()
	m.pausedByUser = record.PausedByUser
	m.progress = record.Progress
	if m.progress == nil {
		m.progress = make(map[int64]float64)
	}

	// Playback does not survive a restart; anything mid-flight resumes as
	// a system pause that auto-recovers when content arrives.
	switch record.Status {
	case StatusReading, StatusProcessing:
		m.status = StatusPaused
		m.pausedByUser = false
	case StatusError:
		m.status = StatusIdle
	default:
		m.status = record.Status
	}

	now := m.clock.Now()
	for i := range m.tabs {
		m.tabs[i].Ignored = m.ignores.IsIgnored(m.tabs[i].URL)
		if m.tabs[i].ExtractedAt.IsZero() {
			m.tabs[i].ExtractedAt = now
		}
	}
	m.clampCurrentLocked()
	m.enforceBudgetLocked()

	if err := m.persistLocked(ctx); err != nil {
		m.logger.Warn("initial queue persist failed", "error", err)
	}
	m.emitStatusLocked()

	m.logger.Info("queue initialized", "tabs", len(m.tabs), "status", m.status)
	return nil
}

// AddOptions controls placement and autostart behavior for AddTab.
type AddOptions struct {
	// Position: PlaceEnd (default), PlaceStart or PlaceAt with Index.
	Position Placement
	Index    int
	// AutoStart begins playback of the current tab after insertion.
	AutoStart bool
}

// Placement selects where an added tab is inserted.
type Placement int

const (
	// PlaceEnd appends to the queue.
	PlaceEnd Placement = iota
	// PlaceStart prepends to the queue.
	PlaceStart
	// PlaceAt inserts at AddOptions.Index, clamped to the valid range.
	PlaceAt
)

// AddTab inserts a tab, de-duplicating by ID. The current tab keeps its
// logical position unless the new tab is the queue's only entry.
func (m *Manager) AddTab(ctx context.Context, tab Tab, opts AddOptions) error {
	m.mu.Lock()
	defer m.publishAfter()

	if !m.initialized {
		return ErrNotInitialized
	}

	tab.Ignored = m.ignores.IsIgnored(tab.URL)
	if tab.ExtractedAt.IsZero() {
		tab.ExtractedAt = m.clock.Now()
	}

	activeID := m.activeTabIDLocked()

	// Re-adding an existing tab replaces its record: drop the old entry
	// first, keeping the current pointer on the same logical tab.
	if idx := m.indexOfLocked(tab.ID); idx >= 0 {
		m.removeAtLocked(idx)
	}

	insert := len(m.tabs)
	switch opts.Position {
	case PlaceStart:
		insert = 0
	case PlaceAt:
		insert = clampInt(opts.Index, 0, len(m.tabs))
	}

	m.tabs = append(m.tabs, Tab{})
	copy(m.tabs[insert+1:], m.tabs[insert:])
	m.tabs[insert] = tab

	if len(m.tabs) == 1 {
		m.current = 0
	} else if activeID != 0 && activeID != tab.ID {
		if idx := m.indexOfLocked(activeID); idx >= 0 {
			m.current = idx
		}
	} else if activeID == tab.ID {
		m.current = insert
	} else if insert <= m.current {
		m.current++
	}
	m.clampCurrentLocked()

	m.enforceBudgetLocked()
	m.saver.Schedule()
	m.emitStatusLocked()

	if opts.AutoStart {
		return m.processNextLocked(ctx, -1)
	}
	return nil
}

// RemoveTab removes a tab by identity. Removing the current tab re-selects
// and starts the next readable tab; removing the last entry goes idle.
func (m *Manager) RemoveTab(ctx context.Context, tabID int64) error {
	m.mu.Lock()
	defer m.publishAfter()

	if !m.initialized {
		return ErrNotInitialized
	}
	idx := m.indexOfLocked(tabID)
	if idx < 0 {
		return ErrTabNotFound
	}
	return m.removeTabLocked(ctx, idx)
}

func (m *Manager) removeTabLocked(ctx context.Context, idx int) error {
	wasCurrent := idx == m.current
	sole := len(m.tabs) == 1

	m.removeAtLocked(idx)

	if sole {
		m.haltPlaybackLocked()
		m.status = StatusIdle
		m.pausedByUser = false
		if err := m.persistLocked(ctx); err != nil {
			m.logger.Warn("queue persist failed", "error", err)
		}
		m.emitStatusLocked()
		return nil
	}

	if wasCurrent {
		m.haltPlaybackLocked()
		m.clampCurrentLocked()
		return m.processNextLocked(ctx, m.current)
	}

	m.clampCurrentLocked()
	m.saver.Schedule()
	m.emitStatusLocked()
	return nil
}

// ClearQueue stops playback and empties the queue. No-op when already empty
// and idle.
func (m *Manager) ClearQueue(ctx context.Context) error {
	m.mu.Lock()
	defer m.publishAfter()

	if !m.initialized {
		return ErrNotInitialized
	}
	if len(m.tabs) == 0 && m.status == StatusIdle {
		return nil
	}

	m.haltPlaybackLocked()
	m.tabs = nil
	m.current = 0
	m.status = StatusIdle
	m.pausedByUser = false
	m.progress = make(map[int64]float64)

	if err := m.persistLocked(ctx); err != nil {
		m.logger.Warn("queue persist failed", "error", err)
	}
	m.emitStatusLocked()
	return nil
}

// ReorderTabs moves the entry at from to position to, keeping the current
// pointer on the same logical tab.
func (m *Manager) ReorderTabs(from, to int) error {
	m.mu.Lock()
	defer m.publishAfter()

	if !m.initialized {
		return ErrNotInitialized
	}
	if from < 0 || from >= len(m.tabs) || to < 0 || to >= len(m.tabs) {
		return ErrInvalidIndex
	}
	if from == to {
		return nil
	}

	activeID := m.activeTabIDLocked()

	moved := m.tabs[from]
	m.tabs = append(m.tabs[:from], m.tabs[from+1:]...)
	m.tabs = append(m.tabs, Tab{})
	copy(m.tabs[to+1:], m.tabs[to:])
	m.tabs[to] = moved

	if activeID != 0 {
		if idx := m.indexOfLocked(activeID); idx >= 0 {
			m.current = idx
		}
	}
	m.clampCurrentLocked()

	m.saver.Schedule()
	m.emitStatusLocked()
	return nil
}

// SkipTab advances to the next (direction > 0) or previous (direction < 0)
// tab that is not ignore-listed. With no candidate it stops and goes idle.
func (m *Manager) SkipTab(ctx context.Context, direction int) error {
	m.mu.Lock()
	defer m.publishAfter()

	if !m.initialized {
		return ErrNotInitialized
	}
	if len(m.tabs) == 0 {
		return ErrEmptyQueue
	}

	step := 1
	if direction < 0 {
		step = -1
	}

	for idx := m.current + step; idx >= 0 && idx < len(m.tabs); idx += step {
		if !m.tabs[idx].Ignored {
			m.haltPlaybackLocked()
			return m.processNextLocked(ctx, idx)
		}
	}

	m.stopLocked(ctx)
	return nil
}

// ProcessNext selects and starts the next readable tab. A negative
// startIndex means "from the current position"; a valid, readable
// startIndex is preferred.
func (m *Manager) ProcessNext(ctx context.Context, startIndex int) error {
	m.mu.Lock()
	defer m.publishAfter()

	if !m.initialized {
		return ErrNotInitialized
	}
	return m.processNextLocked(ctx, startIndex)
}

// processNextLocked is the central transition of the state machine.
func (m *Manager) processNextLocked(ctx context.Context, startIndex int) error {
	if len(m.tabs) == 0 {
		m.stopLocked(ctx)
		return nil
	}

	idx := -1
	if startIndex >= 0 && startIndex < len(m.tabs) && !m.tabs[startIndex].Ignored {
		idx = startIndex
	} else {
		idx = m.nextReadableLocked(m.current)
	}
	if idx < 0 {
		m.stopLocked(ctx)
		return nil
	}

	m.current = idx
	m.status = StatusProcessing
	if err := m.persistLocked(ctx); err != nil {
		m.logger.Warn("queue persist failed", "error", err)
	}
	m.emitStatusLocked()

	tab := m.tabs[idx]
	resolved, err := m.resolver.Resolve(ctx, tab)
	if err != nil {
		m.logger.Debug("content resolve failed", "tabID", tab.ID, "error", err)
	}
	if err != nil || resolved == nil {
		m.pauseForContentLocked(tab)
		return nil
	}

	// Fold the resolved fields back into the record so readiness and
	// future snapshots agree.
	if resolved.Content != "" {
		m.tabs[idx].Content = resolved.Content
	}
	if resolved.Summary != "" {
		m.tabs[idx].Summary = resolved.Summary
	}
	if resolved.Translation != "" {
		m.tabs[idx].Translation = resolved.Translation
	}
	if !resolved.ExtractedAt.IsZero() {
		m.tabs[idx].ExtractedAt = resolved.ExtractedAt
	}
	tab = m.tabs[idx]

	readiness := readinessOf(tab.Content, tab.Summary, tab.Translation)
	if !readiness.Ready() {
		m.pauseForContentLocked(tab)
		return nil
	}

	m.status = StatusReading
	m.pausedByUser = false
	m.token++
	token := m.token

	hooks := PlaybackHooks{
		OnEnd:      func() { m.HandlePlaybackEnd(token) },
		OnError:    func(err error) { m.HandlePlaybackError(token, err) },
		OnProgress: func(pct float64) { m.HandleProgress(token, pct) },
	}

	m.logger.Debug("starting playback", "tabID", tab.ID, "source", readiness.Source, "chars", len(readiness.Text))
	if err := m.player.Start(ctx, tab, readiness.Text, m.settings, hooks); err != nil {
		m.status = StatusError
		m.token++ // invalidate the attempt
		m.emitErrorLocked(ErrCodePlaybackStart, err.Error(), tab.ID)
		m.saver.Schedule()
		m.emitStatusLocked()
		return fmt.Errorf("failed to start playback for tab %d: %w", tab.ID, err)
	}

	m.saver.Schedule()
	m.emitStatusLocked()
	return nil
}

// pauseForContentLocked parks the queue waiting for fresh page text. This is
// the pause that auto-resumes on OnTabUpdated.
func (m *Manager) pauseForContentLocked(tab Tab) {
	m.status = StatusPaused
	m.pausedByUser = false

	reason := ReasonMissing
	if tab.Content != "" {
		reason = ReasonStale
	}
	m.emitLocked(ContentRequestEvent{TabID: tab.ID, Reason: reason})

	m.saver.Schedule()
	m.emitStatusLocked()
}

// Pause suspends playback at the user's request. Only legal while reading.
func (m *Manager) Pause(ctx context.Context) error {
	m.mu.Lock()
	defer m.publishAfter()

	if m.status != StatusReading {
		return fmt.Errorf("%w: cannot pause while %s", ErrInvalidState, m.status)
	}

	m.status = StatusPaused
	m.pausedByUser = true
	err := m.player.Pause()

	m.saver.Schedule()
	m.emitStatusLocked()
	return err
}

// Resume continues playback. Only legal while paused.
func (m *Manager) Resume(ctx context.Context) error {
	m.mu.Lock()
	defer m.publishAfter()

	if m.status != StatusPaused {
		return fmt.Errorf("%w: cannot resume while %s", ErrInvalidState, m.status)
	}

	m.status = StatusReading
	m.pausedByUser = false
	err := m.player.Resume()

	m.saver.Schedule()
	m.emitStatusLocked()
	return err
}

// Stop unconditionally halts playback and returns to idle.
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	defer m.publishAfter()

	if !m.initialized {
		return ErrNotInitialized
	}
	if m.status == StatusIdle {
		return nil
	}
	m.stopLocked(ctx)
	return nil
}

func (m *Manager) stopLocked(ctx context.Context) {
	m.haltPlaybackLocked()
	m.status = StatusIdle
	m.pausedByUser = false
	if err := m.persistLocked(ctx); err != nil {
		m.logger.Warn("queue persist failed", "error", err)
	}
	m.emitStatusLocked()
}

// haltPlaybackLocked stops the player and invalidates in-flight callbacks.
func (m *Manager) haltPlaybackLocked() {
	m.token++
	if err := m.player.Stop(); err != nil {
		m.logger.Debug("player stop failed", "error", err)
	}
}

// OnTabClosed reacts to the host closing a tab. Unknown tabs are ignored.
func (m *Manager) OnTabClosed(ctx context.Context, tabID int64) error {
	m.mu.Lock()
	defer m.publishAfter()

	if !m.initialized {
		return ErrNotInitialized
	}
	idx := m.indexOfLocked(tabID)
	if idx < 0 {
		return nil
	}
	return m.removeTabLocked(ctx, idx)
}

// OnTabLoading reacts to a tab starting to reload: cached content and derived
// text are invalid, and playback of that tab pauses until content returns.
func (m *Manager) OnTabLoading(ctx context.Context, tabID int64) error {
	m.mu.Lock()
	defer m.publishAfter()

	if !m.initialized {
		return ErrNotInitialized
	}
	idx := m.indexOfLocked(tabID)
	if idx < 0 {
		return nil
	}

	m.tabs[idx].Content = ""
	m.tabs[idx].Summary = ""
	m.tabs[idx].Translation = ""
	m.tabs[idx].ProcessedContent = ""
	m.tabs[idx].Reloading = true

	if idx == m.current && (m.status == StatusReading || m.status == StatusProcessing) {
		m.haltPlaybackLocked()
		m.status = StatusPaused
		m.pausedByUser = false
	}

	m.saver.Schedule()
	m.emitStatusLocked()
	return nil
}

// OnTabUpdated merges partial fields into the matching tab record. When the
// current tab gains content while the queue sits in a system pause, playback
// resumes automatically; a user pause never auto-resumes.
func (m *Manager) OnTabUpdated(ctx context.Context, update TabUpdate) error {
	m.mu.Lock()
	defer m.publishAfter()

	if !m.initialized {
		return ErrNotInitialized
	}
	idx := m.indexOfLocked(update.TabID)
	if idx < 0 {
		return ErrTabNotFound
	}

	tab := &m.tabs[idx]
	if update.Title != nil {
		tab.Title = *update.Title
	}
	if update.URL != nil && *update.URL != tab.URL {
		tab.URL = *update.URL
		tab.Ignored = m.ignores.IsIgnored(tab.URL)
	}
	contentArrived := false
	if update.Content != nil {
		tab.Content = *update.Content
		tab.Reloading = false
		contentArrived = true
	}
	if update.Summary != nil {
		tab.Summary = *update.Summary
	}
	if update.Translation != nil {
		tab.Translation = *update.Translation
	}
	switch {
	case update.ExtractedAt != nil:
		tab.ExtractedAt = *update.ExtractedAt
	case contentArrived:
		tab.ExtractedAt = m.clock.Now()
	}

	m.enforceBudgetLocked()
	m.saver.Schedule()
	m.emitStatusLocked()

	if idx == m.current && m.status == StatusPaused && !m.pausedByUser {
		return m.processNextLocked(ctx, m.current)
	}
	return nil
}

// UpdateSettings merges a settings patch. Derived text cached on every tab is
// invalidated, and active playback demotes to paused so the controller can
// restart with the new parameters.
func (m *Manager) UpdateSettings(ctx context.Context, patch SettingsPatch) error {
	m.mu.Lock()
	defer m.publishAfter()

	if !m.initialized {
		return ErrNotInitialized
	}

	m.settings = m.settings.merged(patch)

	for i := range m.tabs {
		m.tabs[i].Summary = ""
		m.tabs[i].Translation = ""
		m.tabs[i].ProcessedContent = ""
	}

	var err error
	if m.status == StatusReading {
		err = m.player.UpdateSettings(m.settings)
		m.status = StatusPaused
		m.pausedByUser = false
	}

	m.saver.Schedule()
	m.emitStatusLocked()
	return err
}

// Snapshot returns an immutable copy of the queue state.
func (m *Manager) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

// TabByID returns a copy of the tab record with the given ID.
func (m *Manager) TabByID(tabID int64) (Tab, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	idx := m.indexOfLocked(tabID)
	if idx < 0 {
		return Tab{}, false
	}
	return m.tabs[idx], true
}

// Settings returns the current settings.
func (m *Manager) Settings() Settings {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.settings
}

// RequestContent broadcasts a content-request for a tab on behalf of a
// collaborator (the prefetch worker uses this when a job finds no content).
func (m *Manager) RequestContent(tabID int64, reason ContentRequestReason) {
	m.events.Publish(ContentRequestEvent{TabID: tabID, Reason: reason})
}

// FlushPersistence forces any pending debounced write to complete.
func (m *Manager) FlushPersistence(ctx context.Context) error {
	return m.saver.Flush(ctx)
}

// HandlePlaybackEnd is the completion hook for a playback attempt. Stale
// tokens from superseded attempts are dropped.
func (m *Manager) HandlePlaybackEnd(token int64) {
	m.mu.Lock()
	defer m.publishAfter()

	if token != m.token {
		m.logger.Debug("dropping stale playback end", "token", token)
		return
	}
	if len(m.tabs) == 0 {
		return
	}

	finished := m.tabs[m.current]
	delete(m.progress, finished.ID)
	m.removeAtLocked(m.current)
	m.logger.Debug("tab finished", "tabID", finished.ID, "remaining", len(m.tabs))

	ctx := context.Background()
	if len(m.tabs) == 0 {
		m.current = 0
		m.status = StatusIdle
		m.pausedByUser = false
		if err := m.persistLocked(ctx); err != nil {
			m.logger.Warn("queue persist failed", "error", err)
		}
		m.emitStatusLocked()
		return
	}

	m.clampCurrentLocked()
	if err := m.processNextLocked(ctx, m.current); err != nil {
		m.logger.Warn("failed to start next tab", "error", err)
	}
}

// HandlePlaybackError is the error hook for a playback attempt.
func (m *Manager) HandlePlaybackError(token int64, playErr error) {
	m.mu.Lock()
	defer m.publishAfter()

	if token != m.token {
		m.logger.Debug("dropping stale playback error", "token", token, "error", playErr)
		return
	}

	m.status = StatusError
	m.token++ // invalidate remaining callbacks from this attempt

	msg := "playback failed"
	if playErr != nil {
		msg = playErr.Error()
	}
	m.emitErrorLocked(ErrCodePlayback, msg, m.activeTabIDLocked())

	m.saver.Schedule()
	m.emitStatusLocked()
}

// HandleProgress is the progress hook for a playback attempt.
func (m *Manager) HandleProgress(token int64, percent float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if token != m.token {
		return
	}
	id := m.activeTabIDLocked()
	if id == 0 {
		return
	}
	m.progress[id] = clampFloat(percent, 0, 100)
}

// --- internals ---

func (m *Manager) indexOfLocked(tabID int64) int {
	for i := range m.tabs {
		if m.tabs[i].ID == tabID {
			return i
		}
	}
	return -1
}

func (m *Manager) activeTabIDLocked() int64 {
	if m.current < 0 || m.current >= len(m.tabs) {
		return 0
	}
	return m.tabs[m.current].ID
}

// removeAtLocked drops the entry at idx and keeps the current pointer on the
// same logical tab where possible.
func (m *Manager) removeAtLocked(idx int) {
	m.tabs = append(m.tabs[:idx], m.tabs[idx+1:]...)
	if idx < m.current {
		m.current--
	}
	m.clampCurrentLocked()
}

func (m *Manager) clampCurrentLocked() {
	if len(m.tabs) == 0 {
		m.current = 0
		return
	}
	m.current = clampInt(m.current, 0, len(m.tabs)-1)
}

// nextReadableLocked scans forward from idx for a tab not on the ignore list.
func (m *Manager) nextReadableLocked(idx int) int {
	for i := clampInt(idx, 0, len(m.tabs)); i < len(m.tabs); i++ {
		if !m.tabs[i].Ignored {
			return i
		}
	}
	return -1
}

// enforceBudgetLocked clears raw content from the oldest tabs once the total
// exceeds the character budget. The active tab is reserved; summaries and
// translations survive so evicted tabs stay playable.
func (m *Manager) enforceBudgetLocked() {
	total := 0
	freed := 0
	for i := len(m.tabs) - 1; i >= 0; i-- {
		if i == m.current {
			continue
		}
		total += len(m.tabs[i].Content)
		if total > m.contentBudget && m.tabs[i].Content != "" {
			freed += len(m.tabs[i].Content)
			m.tabs[i].Content = ""
		}
	}
	if freed > 0 {
		m.logger.Debug("content budget enforced",
			"freed", humanize.Bytes(uint64(freed)), "budget", humanize.Comma(int64(m.contentBudget)))
	}
}

func (m *Manager) snapshotLocked() Snapshot {
	tabs := make([]Tab, len(m.tabs))
	copy(tabs, m.tabs)

	progress := make(map[int64]float64, len(m.progress))
	for id, pct := range m.progress {
		progress[id] = pct
	}

	return Snapshot{
		Status:       m.status,
		CurrentIndex: m.current,
		TotalCount:   len(m.tabs),
		ActiveTabID:  m.activeTabIDLocked(),
		PausedByUser: m.pausedByUser,
		Tabs:         tabs,
		Settings:     m.settings,
		Progress:     progress,
		Timestamp:    m.clock.Now(),
	}
}

func (m *Manager) recordLocked() persistedQueue {
	tabs := make([]Tab, len(m.tabs))
	copy(tabs, m.tabs)

	progress := make(map[int64]float64, len(m.progress))
	for id, pct := range m.progress {
		progress[id] = pct
	}

	return persistedQueue{
		Version:      SchemaVersion,
		Tabs:         tabs,
		CurrentIndex: m.current,
		Status:       m.status,
		PausedByUser: m.pausedByUser,
		Settings:     m.settings,
		Progress:     progress,
		PersistedAt:  m.clock.Now(),
	}
}

// persistLocked writes the queue immediately, superseding any pending
// debounced write.
func (m *Manager) persistLocked(ctx context.Context) error {
	m.saver.Cancel()

	data, err := json.Marshal(m.recordLocked())
	if err != nil {
		return fmt.Errorf("failed to serialize queue: %w", err)
	}
	if err := m.store.Set(ctx, m.storageKey, data); err != nil {
		return fmt.Errorf("failed to persist queue: %w", err)
	}
	return nil
}

// persistNow is the saver's write callback; it takes the lock itself.
func (m *Manager) persistNow(ctx context.Context) error {
	m.mu.Lock()
	data, err := json.Marshal(m.recordLocked())
	m.mu.Unlock()
	if err != nil {
		return fmt.Errorf("failed to serialize queue: %w", err)
	}
	if err := m.store.Set(ctx, m.storageKey, data); err != nil {
		return fmt.Errorf("failed to persist queue: %w", err)
	}
	return nil
}

// loadRecord reads the persisted queue, migrating older schema versions. Any
// failure falls back to an empty default; loading never raises.
func (m *Manager) loadRecord(ctx context.Context) persistedQueue {
	empty := persistedQueue{
		Version:  SchemaVersion,
		Settings: DefaultSettings(),
		Status:   StatusIdle,
	}

	data, err := m.store.Get(ctx, m.storageKey)
	if errors.Is(err, storage.ErrNotFound) {
		return empty
	}
	if err != nil {
		m.logger.Warn("failed to load persisted queue, starting empty", "error", err)
		return empty
	}

	var record persistedQueue
	if err := json.Unmarshal(data, &record); err != nil {
		m.logger.Warn("corrupt persisted queue, starting empty", "error", err)
		return empty
	}

	if record.Version < SchemaVersion {
		migratePersistedQueue(&record)
	}
	if record.Settings == (Settings{}) {
		record.Settings = DefaultSettings()
	}
	return record
}

// migratePersistedQueue upgrades version 1 records in place: derived text
// stored in processedContent becomes the summary when no summary exists.
func migratePersistedQueue(record *persistedQueue) {
	for i := range record.Tabs {
		if record.Tabs[i].Summary == "" && record.Tabs[i].ProcessedContent != "" {
			record.Tabs[i].Summary = record.Tabs[i].ProcessedContent
		}
	}
	record.Version = SchemaVersion
}

func (m *Manager) emitLocked(e Event) {
	m.outbox = append(m.outbox, e)
}

func (m *Manager) emitStatusLocked() {
	m.emitLocked(StatusEvent{Snapshot: m.snapshotLocked()})
}

func (m *Manager) emitErrorLocked(code, message string, tabID int64) {
	m.emitLocked(ErrorEvent{
		ID:         uuid.NewString(),
		Code:       code,
		Message:    message,
		TabID:      tabID,
		OccurredAt: m.clock.Now(),
	})
}

// publishAfter unlocks the manager and delivers any events queued during the
// operation. Listeners run outside the lock and may call back in.
func (m *Manager) publishAfter() {
	out := m.outbox
	m.outbox = nil
	m.mu.Unlock()

	for _, e := range out {
		m.events.Publish(e)
	}
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
