package queue

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/charmbracelet/log"

	"github.com/dgnsrekt/tabreader/internal/storage"
)

// --- fakes ---

type startCall struct {
	tab      Tab
	text     string
	settings Settings
	hooks    PlaybackHooks
}

type fakePlayer struct {
	mu       sync.Mutex
	starts   []startCall
	startErr error
	pauses   int
	resumes  int
	stops    int
	updates  []Settings
}

func (p *fakePlayer) Start(_ context.Context, tab Tab, text string, settings Settings, hooks PlaybackHooks) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.startErr != nil {
		return p.startErr
	}
	p.starts = append(p.starts, startCall{tab: tab, text: text, settings: settings, hooks: hooks})
	return nil
}

func (p *fakePlayer) Pause() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pauses++
	return nil
}

func (p *fakePlayer) Resume() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.resumes++
	return nil
}

func (p *fakePlayer) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stops++
	return nil
}

func (p *fakePlayer) UpdateSettings(settings Settings) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.updates = append(p.updates, settings)
	return nil
}

func (p *fakePlayer) startCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.starts)
}

func (p *fakePlayer) lastStart() startCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.starts) == 0 {
		return startCall{}
	}
	return p.starts[len(p.starts)-1]
}

// fakeResolver echoes the tab's own fields back; override fn to change that.
type fakeResolver struct {
	fn func(tab Tab) (*ResolvedContent, error)
}

func (r *fakeResolver) Resolve(_ context.Context, tab Tab) (*ResolvedContent, error) {
	if r.fn != nil {
		return r.fn(tab)
	}
	return &ResolvedContent{}, nil
}

type ignoreFunc func(string) bool

func (f ignoreFunc) IsIgnored(url string) bool { return f(url) }

type eventCollector struct {
	mu     sync.Mutex
	events []Event
}

func (c *eventCollector) collect(e Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
}

func (c *eventCollector) contentRequests() []ContentRequestEvent {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []ContentRequestEvent
	for _, e := range c.events {
		if req, ok := e.(ContentRequestEvent); ok {
			out = append(out, req)
		}
	}
	return out
}

func (c *eventCollector) errors() []ErrorEvent {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []ErrorEvent
	for _, e := range c.events {
		if ev, ok := e.(ErrorEvent); ok {
			out = append(out, ev)
		}
	}
	return out
}

type countingStore struct {
	storage.KV
	sets atomic.Int32
}

func (c *countingStore) Set(ctx context.Context, key string, value []byte) error {
	c.sets.Add(1)
	return c.KV.Set(ctx, key, value)
}

// --- helpers ---

func contentTab(id int64, content string) Tab {
	return Tab{
		ID:      id,
		URL:     "https://example.com/article",
		Title:   "Article",
		Content: content,
	}
}

func newTestManager(t *testing.T, mutate ...func(*Options)) (*Manager, *fakePlayer) {
	t.Helper()

	player := &fakePlayer{}
	opts := Options{
		Store:     storage.NewMemoryStore(),
		Resolver:  &fakeResolver{},
		Player:    player,
		Clock:     ClockFunc(func() time.Time { return time.Unix(1700000000, 0) }),
		Logger:    log.New(io.Discard),
		SaveDelay: time.Hour, // tests flush explicitly
	}
	for _, fn := range mutate {
		fn(&opts)
	}

	m, err := NewManager(opts)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	if err := m.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	return m, player
}

func mustAdd(t *testing.T, m *Manager, tab Tab, opts AddOptions) {
	t.Helper()
	if err := m.AddTab(context.Background(), tab, opts); err != nil {
		t.Fatalf("AddTab(%d): %v", tab.ID, err)
	}
}

func checkInvariants(t *testing.T, snap Snapshot) {
	t.Helper()

	if snap.TotalCount != len(snap.Tabs) {
		t.Errorf("TotalCount = %d, tabs = %d", snap.TotalCount, len(snap.Tabs))
	}
	if len(snap.Tabs) > 0 {
		if snap.CurrentIndex < 0 || snap.CurrentIndex >= len(snap.Tabs) {
			t.Errorf("CurrentIndex %d out of range for %d tabs", snap.CurrentIndex, len(snap.Tabs))
		}
	} else if snap.CurrentIndex != 0 {
		t.Errorf("CurrentIndex = %d on empty queue", snap.CurrentIndex)
	}

	seen := make(map[int64]bool, len(snap.Tabs))
	for _, tab := range snap.Tabs {
		if seen[tab.ID] {
			t.Errorf("duplicate tab ID %d", tab.ID)
		}
		seen[tab.ID] = true
	}
}

// --- tests ---

func TestManagerRequiresInitialize(t *testing.T) {
	m, err := NewManager(Options{
		Store:    storage.NewMemoryStore(),
		Resolver: &fakeResolver{},
		Player:   &fakePlayer{},
		Logger:   log.New(io.Discard),
	})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	ctx := context.Background()
	if err := m.AddTab(ctx, contentTab(1, "x"), AddOptions{}); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("AddTab before Initialize = %v, want ErrNotInitialized", err)
	}
	if err := m.ClearQueue(ctx); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("ClearQueue before Initialize = %v, want ErrNotInitialized", err)
	}
}

func TestAddTabPlacementAndDedupe(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	mustAdd(t, m, contentTab(1, "one"), AddOptions{})
	mustAdd(t, m, contentTab(2, "two"), AddOptions{})
	mustAdd(t, m, contentTab(3, "three"), AddOptions{Position: PlaceStart})
	mustAdd(t, m, contentTab(4, "four"), AddOptions{Position: PlaceAt, Index: 2})

	snap := m.Snapshot()
	checkInvariants(t, snap)

	wantOrder := []int64{3, 1, 4, 2}
	for i, id := range wantOrder {
		if snap.Tabs[i].ID != id {
			t.Fatalf("order[%d] = %d, want %d (full: %+v)", i, snap.Tabs[i].ID, id, snap.Tabs)
		}
	}

	// Re-adding tab 2 replaces its record instead of duplicating it.
	updated := contentTab(2, "two again")
	updated.Title = "Updated"
	if err := m.AddTab(ctx, updated, AddOptions{Position: PlaceStart}); err != nil {
		t.Fatalf("re-add: %v", err)
	}

	snap = m.Snapshot()
	checkInvariants(t, snap)
	if snap.TotalCount != 4 {
		t.Fatalf("TotalCount = %d after re-add, want 4", snap.TotalCount)
	}
	if snap.Tabs[0].ID != 2 || snap.Tabs[0].Title != "Updated" {
		t.Errorf("re-added tab not replaced at front: %+v", snap.Tabs[0])
	}
}

func TestAddTabKeepsCurrentOnSameLogicalTab(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	mustAdd(t, m, contentTab(1, "one"), AddOptions{})
	mustAdd(t, m, contentTab(2, "two"), AddOptions{})
	if err := m.ProcessNext(ctx, 1); err != nil {
		t.Fatalf("ProcessNext: %v", err)
	}
	if got := m.Snapshot().ActiveTabID; got != 2 {
		t.Fatalf("active = %d, want 2", got)
	}

	// Prepending must not shift the active tab away.
	mustAdd(t, m, contentTab(3, "three"), AddOptions{Position: PlaceStart})

	snap := m.Snapshot()
	checkInvariants(t, snap)
	if snap.ActiveTabID != 2 {
		t.Errorf("active = %d after prepend, want 2", snap.ActiveTabID)
	}
	if snap.CurrentIndex != 2 {
		t.Errorf("CurrentIndex = %d, want 2", snap.CurrentIndex)
	}
}

func TestAddTabAutoStart(t *testing.T) {
	m, player := newTestManager(t)

	mustAdd(t, m, contentTab(1, "read me aloud"), AddOptions{AutoStart: true})

	snap := m.Snapshot()
	if snap.Status != StatusReading {
		t.Fatalf("status = %v, want reading", snap.Status)
	}
	if player.startCount() != 1 {
		t.Fatalf("player started %d times, want 1", player.startCount())
	}
	if got := player.lastStart().text; got != "read me aloud" {
		t.Errorf("played text = %q", got)
	}
}

func TestContentBudgetEvictsOldest(t *testing.T) {
	m, _ := newTestManager(t)

	big := strings.Repeat("a", 60_000)
	mustAdd(t, m, contentTab(1, big), AddOptions{})
	mustAdd(t, m, contentTab(2, big), AddOptions{})
	mustAdd(t, m, contentTab(3, big), AddOptions{})

	snap := m.Snapshot()
	checkInvariants(t, snap)

	withContent := 0
	for _, tab := range snap.Tabs {
		if tab.Content != "" {
			withContent++
		}
	}
	if withContent > 2 {
		t.Errorf("%d tabs retain content, want at most 2", withContent)
	}
	if snap.Tabs[snap.CurrentIndex].Content == "" {
		t.Error("active tab lost its content to the budget")
	}
}

func TestProcessNextWithoutContentPauses(t *testing.T) {
	m, player := newTestManager(t, func(o *Options) {
		o.Resolver = &fakeResolver{fn: func(Tab) (*ResolvedContent, error) { return nil, nil }}
	})

	events := &eventCollector{}
	m.Subscribe(events.collect)

	mustAdd(t, m, contentTab(1, ""), AddOptions{AutoStart: true})

	snap := m.Snapshot()
	if snap.Status != StatusPaused {
		t.Fatalf("status = %v, want paused", snap.Status)
	}
	if snap.PausedByUser {
		t.Error("content pause must not count as a user pause")
	}
	if player.startCount() != 0 {
		t.Errorf("player started %d times, want 0", player.startCount())
	}

	reqs := events.contentRequests()
	if len(reqs) != 1 {
		t.Fatalf("content requests = %d, want 1", len(reqs))
	}
	if reqs[0].TabID != 1 || reqs[0].Reason != ReasonMissing {
		t.Errorf("request = %+v, want tab 1 reason missing", reqs[0])
	}
}

func TestAutoResumeWhenContentArrives(t *testing.T) {
	m, player := newTestManager(t, func(o *Options) {
		o.Resolver = &fakeResolver{fn: func(tab Tab) (*ResolvedContent, error) {
			if tab.Content == "" {
				return nil, nil
			}
			return &ResolvedContent{}, nil
		}}
	})
	ctx := context.Background()

	mustAdd(t, m, contentTab(1, ""), AddOptions{AutoStart: true})
	if got := m.Snapshot().Status; got != StatusPaused {
		t.Fatalf("status = %v, want paused", got)
	}

	content := "fresh page text"
	if err := m.OnTabUpdated(ctx, TabUpdate{TabID: 1, Content: &content}); err != nil {
		t.Fatalf("OnTabUpdated: %v", err)
	}

	if got := m.Snapshot().Status; got != StatusReading {
		t.Fatalf("status = %v after content arrived, want reading", got)
	}
	if player.startCount() != 1 {
		t.Errorf("player started %d times, want 1", player.startCount())
	}
}

func TestUserPauseBlocksAutoResume(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	mustAdd(t, m, contentTab(1, "text"), AddOptions{AutoStart: true})
	if err := m.Pause(ctx); err != nil {
		t.Fatalf("Pause: %v", err)
	}

	content := "even fresher text"
	if err := m.OnTabUpdated(ctx, TabUpdate{TabID: 1, Content: &content}); err != nil {
		t.Fatalf("OnTabUpdated: %v", err)
	}

	snap := m.Snapshot()
	if snap.Status != StatusPaused {
		t.Errorf("status = %v, want paused to stick", snap.Status)
	}
	if !snap.PausedByUser {
		t.Error("PausedByUser lost across a tab update")
	}
}

func TestPauseResumeStateGates(t *testing.T) {
	m, player := newTestManager(t)
	ctx := context.Background()

	if err := m.Pause(ctx); !errors.Is(err, ErrInvalidState) {
		t.Errorf("Pause while idle = %v, want ErrInvalidState", err)
	}
	if err := m.Resume(ctx); !errors.Is(err, ErrInvalidState) {
		t.Errorf("Resume while idle = %v, want ErrInvalidState", err)
	}

	mustAdd(t, m, contentTab(1, "text"), AddOptions{AutoStart: true})
	if err := m.Resume(ctx); !errors.Is(err, ErrInvalidState) {
		t.Errorf("Resume while reading = %v, want ErrInvalidState", err)
	}

	if err := m.Pause(ctx); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	if err := m.Resume(ctx); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if player.pauses != 1 || player.resumes != 1 {
		t.Errorf("player pauses/resumes = %d/%d, want 1/1", player.pauses, player.resumes)
	}
	if got := m.Snapshot().Status; got != StatusReading {
		t.Errorf("status = %v after resume, want reading", got)
	}
}

func TestPlaybackEndAdvances(t *testing.T) {
	m, player := newTestManager(t)

	mustAdd(t, m, contentTab(1, "first"), AddOptions{})
	mustAdd(t, m, contentTab(2, "second"), AddOptions{})
	if err := m.ProcessNext(context.Background(), -1); err != nil {
		t.Fatalf("ProcessNext: %v", err)
	}

	player.lastStart().hooks.OnEnd()

	snap := m.Snapshot()
	checkInvariants(t, snap)
	if snap.TotalCount != 1 || snap.ActiveTabID != 2 {
		t.Fatalf("after first end: count=%d active=%d, want 1/2", snap.TotalCount, snap.ActiveTabID)
	}
	if snap.Status != StatusReading {
		t.Fatalf("status = %v, want reading the next tab", snap.Status)
	}

	player.lastStart().hooks.OnEnd()

	snap = m.Snapshot()
	checkInvariants(t, snap)
	if snap.TotalCount != 0 || snap.Status != StatusIdle {
		t.Errorf("after last end: count=%d status=%v, want empty idle", snap.TotalCount, snap.Status)
	}
}

func TestStaleHooksAreDropped(t *testing.T) {
	m, player := newTestManager(t)
	ctx := context.Background()

	mustAdd(t, m, contentTab(1, "text"), AddOptions{AutoStart: true})
	stale := player.lastStart().hooks

	if err := m.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	stale.OnEnd()
	stale.OnError(errors.New("late failure"))
	stale.OnProgress(50)

	snap := m.Snapshot()
	if snap.Status != StatusIdle {
		t.Errorf("status = %v, stale hooks must not move the machine", snap.Status)
	}
	if snap.TotalCount != 1 {
		t.Errorf("stale OnEnd removed a tab: count = %d", snap.TotalCount)
	}
	if len(snap.Progress) != 0 {
		t.Errorf("stale OnProgress recorded: %v", snap.Progress)
	}
}

func TestPlaybackErrorHook(t *testing.T) {
	m, player := newTestManager(t)

	events := &eventCollector{}
	m.Subscribe(events.collect)

	mustAdd(t, m, contentTab(1, "text"), AddOptions{AutoStart: true})
	player.lastStart().hooks.OnError(errors.New("speech engine died"))

	snap := m.Snapshot()
	if snap.Status != StatusError {
		t.Fatalf("status = %v, want error", snap.Status)
	}

	errs := events.errors()
	if len(errs) != 1 {
		t.Fatalf("error events = %d, want 1", len(errs))
	}
	if errs[0].Code != ErrCodePlayback || errs[0].TabID != 1 || errs[0].ID == "" {
		t.Errorf("error event = %+v", errs[0])
	}
}

func TestStartFailure(t *testing.T) {
	m, player := newTestManager(t)
	player.startErr = errors.New("no audio device")

	events := &eventCollector{}
	m.Subscribe(events.collect)

	mustAdd(t, m, contentTab(1, "text"), AddOptions{})
	if err := m.ProcessNext(context.Background(), -1); err == nil {
		t.Fatal("expected an error from ProcessNext")
	}

	if got := m.Snapshot().Status; got != StatusError {
		t.Fatalf("status = %v, want error", got)
	}
	errs := events.errors()
	if len(errs) != 1 || errs[0].Code != ErrCodePlaybackStart {
		t.Errorf("error events = %+v, want one %s", errs, ErrCodePlaybackStart)
	}
}

func TestProgressIsClamped(t *testing.T) {
	m, player := newTestManager(t)

	mustAdd(t, m, contentTab(1, "text"), AddOptions{AutoStart: true})
	hooks := player.lastStart().hooks

	hooks.OnProgress(150)
	if got := m.Snapshot().Progress[1]; got != 100 {
		t.Errorf("progress = %v, want clamp to 100", got)
	}

	hooks.OnProgress(-5)
	if got := m.Snapshot().Progress[1]; got != 0 {
		t.Errorf("progress = %v, want clamp to 0", got)
	}
}

func TestRemoveTab(t *testing.T) {
	ctx := context.Background()

	t.Run("missing tab", func(t *testing.T) {
		m, _ := newTestManager(t)
		if err := m.RemoveTab(ctx, 42); !errors.Is(err, ErrTabNotFound) {
			t.Errorf("RemoveTab = %v, want ErrTabNotFound", err)
		}
	})

	t.Run("non-current reindexes", func(t *testing.T) {
		m, _ := newTestManager(t)
		mustAdd(t, m, contentTab(1, "one"), AddOptions{})
		mustAdd(t, m, contentTab(2, "two"), AddOptions{})
		mustAdd(t, m, contentTab(3, "three"), AddOptions{})
		if err := m.ProcessNext(ctx, 1); err != nil {
			t.Fatalf("ProcessNext: %v", err)
		}

		if err := m.RemoveTab(ctx, 1); err != nil {
			t.Fatalf("RemoveTab: %v", err)
		}

		snap := m.Snapshot()
		checkInvariants(t, snap)
		if snap.ActiveTabID != 2 {
			t.Errorf("active = %d, want the same logical tab 2", snap.ActiveTabID)
		}
	})

	t.Run("current starts the next readable", func(t *testing.T) {
		m, player := newTestManager(t)
		mustAdd(t, m, contentTab(1, "one"), AddOptions{AutoStart: true})
		mustAdd(t, m, contentTab(2, "two"), AddOptions{})

		if err := m.RemoveTab(ctx, 1); err != nil {
			t.Fatalf("RemoveTab: %v", err)
		}

		snap := m.Snapshot()
		if snap.ActiveTabID != 2 || snap.Status != StatusReading {
			t.Errorf("active=%d status=%v, want tab 2 reading", snap.ActiveTabID, snap.Status)
		}
		if got := player.lastStart().tab.ID; got != 2 {
			t.Errorf("player reading tab %d, want 2", got)
		}
	})

	t.Run("sole tab goes idle", func(t *testing.T) {
		m, player := newTestManager(t)
		mustAdd(t, m, contentTab(1, "one"), AddOptions{AutoStart: true})

		if err := m.RemoveTab(ctx, 1); err != nil {
			t.Fatalf("RemoveTab: %v", err)
		}

		snap := m.Snapshot()
		checkInvariants(t, snap)
		if snap.TotalCount != 0 || snap.Status != StatusIdle {
			t.Errorf("count=%d status=%v, want empty idle", snap.TotalCount, snap.Status)
		}
		if player.stops == 0 {
			t.Error("player was never stopped")
		}
	})
}

func TestClearQueue(t *testing.T) {
	m, player := newTestManager(t)
	ctx := context.Background()

	if err := m.ClearQueue(ctx); err != nil {
		t.Fatalf("ClearQueue on empty idle queue: %v", err)
	}

	mustAdd(t, m, contentTab(1, "one"), AddOptions{AutoStart: true})
	mustAdd(t, m, contentTab(2, "two"), AddOptions{})

	if err := m.ClearQueue(ctx); err != nil {
		t.Fatalf("ClearQueue: %v", err)
	}

	snap := m.Snapshot()
	checkInvariants(t, snap)
	if snap.TotalCount != 0 || snap.Status != StatusIdle || snap.CurrentIndex != 0 {
		t.Errorf("snapshot after clear: %+v", snap)
	}
	if player.stops == 0 {
		t.Error("player was never stopped")
	}
}

func TestReorderKeepsActiveTab(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	mustAdd(t, m, contentTab(1, "one"), AddOptions{})
	mustAdd(t, m, contentTab(2, "two"), AddOptions{})
	mustAdd(t, m, contentTab(3, "three"), AddOptions{})
	if err := m.ProcessNext(ctx, 1); err != nil {
		t.Fatalf("ProcessNext: %v", err)
	}

	if err := m.ReorderTabs(2, 0); err != nil {
		t.Fatalf("ReorderTabs: %v", err)
	}

	snap := m.Snapshot()
	checkInvariants(t, snap)
	wantOrder := []int64{3, 1, 2}
	for i, id := range wantOrder {
		if snap.Tabs[i].ID != id {
			t.Fatalf("order[%d] = %d, want %d", i, snap.Tabs[i].ID, id)
		}
	}
	if snap.ActiveTabID != 2 {
		t.Errorf("active = %d after reorder, want 2", snap.ActiveTabID)
	}

	if err := m.ReorderTabs(0, 5); !errors.Is(err, ErrInvalidIndex) {
		t.Errorf("out of range reorder = %v, want ErrInvalidIndex", err)
	}
}

func TestSkipTab(t *testing.T) {
	ctx := context.Background()

	t.Run("skips over ignored tabs", func(t *testing.T) {
		m, player := newTestManager(t, func(o *Options) {
			o.Ignores = ignoreFunc(func(url string) bool {
				return strings.Contains(url, "ignored.example")
			})
		})

		mustAdd(t, m, contentTab(1, "one"), AddOptions{AutoStart: true})
		blocked := contentTab(2, "two")
		blocked.URL = "https://ignored.example/post"
		mustAdd(t, m, blocked, AddOptions{})
		mustAdd(t, m, contentTab(3, "three"), AddOptions{})

		if err := m.SkipTab(ctx, 1); err != nil {
			t.Fatalf("SkipTab: %v", err)
		}

		snap := m.Snapshot()
		if snap.ActiveTabID != 3 {
			t.Errorf("active = %d, want 3", snap.ActiveTabID)
		}
		if got := player.lastStart().tab.ID; got != 3 {
			t.Errorf("player reading tab %d, want 3", got)
		}
	})

	t.Run("no candidate goes idle", func(t *testing.T) {
		m, _ := newTestManager(t)
		mustAdd(t, m, contentTab(1, "one"), AddOptions{AutoStart: true})

		if err := m.SkipTab(ctx, 1); err != nil {
			t.Fatalf("SkipTab: %v", err)
		}
		if got := m.Snapshot().Status; got != StatusIdle {
			t.Errorf("status = %v, want idle", got)
		}
	})

	t.Run("empty queue", func(t *testing.T) {
		m, _ := newTestManager(t)
		if err := m.SkipTab(ctx, 1); !errors.Is(err, ErrEmptyQueue) {
			t.Errorf("SkipTab = %v, want ErrEmptyQueue", err)
		}
	})
}

func TestUpdateSettingsInvalidatesDerivedText(t *testing.T) {
	m, player := newTestManager(t)
	ctx := context.Background()

	tab := contentTab(1, "raw content")
	tab.Summary = "old summary"
	tab.Translation = "old translation"
	mustAdd(t, m, tab, AddOptions{AutoStart: true})

	rate := 2.0
	if err := m.UpdateSettings(ctx, SettingsPatch{Rate: &rate}); err != nil {
		t.Fatalf("UpdateSettings: %v", err)
	}

	snap := m.Snapshot()
	if snap.Settings.Rate != 2.0 {
		t.Errorf("Rate = %v, want 2.0", snap.Settings.Rate)
	}
	if snap.Tabs[0].Summary != "" || snap.Tabs[0].Translation != "" {
		t.Errorf("derived text survived a settings change: %+v", snap.Tabs[0])
	}
	if snap.Tabs[0].Content != "raw content" {
		t.Error("raw content must survive a settings change")
	}
	if snap.Status != StatusPaused || snap.PausedByUser {
		t.Errorf("status=%v pausedByUser=%v, want system pause", snap.Status, snap.PausedByUser)
	}
	if len(player.updates) != 1 || player.updates[0].Rate != 2.0 {
		t.Errorf("player.UpdateSettings calls = %+v", player.updates)
	}
}

func TestOnTabLoadingPausesCurrent(t *testing.T) {
	m, player := newTestManager(t)
	ctx := context.Background()

	mustAdd(t, m, contentTab(1, "text"), AddOptions{AutoStart: true})
	if err := m.OnTabLoading(ctx, 1); err != nil {
		t.Fatalf("OnTabLoading: %v", err)
	}

	snap := m.Snapshot()
	if snap.Status != StatusPaused || snap.PausedByUser {
		t.Fatalf("status=%v pausedByUser=%v, want system pause", snap.Status, snap.PausedByUser)
	}
	if snap.Tabs[0].Content != "" || !snap.Tabs[0].Reloading {
		t.Errorf("tab after loading: %+v", snap.Tabs[0])
	}
	if player.stops == 0 {
		t.Error("player was never stopped")
	}
}

func TestOnTabClosed(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	if err := m.OnTabClosed(ctx, 99); err != nil {
		t.Errorf("closing an unknown tab = %v, want nil", err)
	}

	mustAdd(t, m, contentTab(1, "one"), AddOptions{})
	if err := m.OnTabClosed(ctx, 1); err != nil {
		t.Fatalf("OnTabClosed: %v", err)
	}
	if got := m.Snapshot().TotalCount; got != 0 {
		t.Errorf("count = %d after close, want 0", got)
	}
}

func TestInitializeMigratesVersionOne(t *testing.T) {
	store := storage.NewMemoryStore()

	record := map[string]any{
		"version":      1,
		"currentIndex": 0,
		"status":       "reading",
		"tabs": []map[string]any{
			{
				"tabId":            int64(7),
				"url":              "https://example.com/old",
				"title":            "Old",
				"content":          "raw",
				"processedContent": "derived text from v1",
			},
		},
	}
	data, err := json.Marshal(record)
	if err != nil {
		t.Fatalf("marshal seed: %v", err)
	}
	if err := store.Set(context.Background(), StorageKey, data); err != nil {
		t.Fatalf("seed store: %v", err)
	}

	m, _ := newTestManager(t, func(o *Options) { o.Store = store })

	snap := m.Snapshot()
	checkInvariants(t, snap)
	if snap.TotalCount != 1 {
		t.Fatalf("count = %d, want 1", snap.TotalCount)
	}
	if got := snap.Tabs[0].Summary; got != "derived text from v1" {
		t.Errorf("Summary = %q, processedContent was not migrated", got)
	}
	if snap.Status != StatusPaused || snap.PausedByUser {
		t.Errorf("status=%v pausedByUser=%v, restore must demote reading to a system pause",
			snap.Status, snap.PausedByUser)
	}
}

func TestInitializeSurvivesCorruptRecord(t *testing.T) {
	store := storage.NewMemoryStore()
	if err := store.Set(context.Background(), StorageKey, []byte("{not json")); err != nil {
		t.Fatalf("seed store: %v", err)
	}

	m, _ := newTestManager(t, func(o *Options) { o.Store = store })

	snap := m.Snapshot()
	if snap.TotalCount != 0 || snap.Status != StatusIdle {
		t.Errorf("corrupt record did not fall back to empty: %+v", snap)
	}
}

func TestDebouncedPersistence(t *testing.T) {
	store := &countingStore{KV: storage.NewMemoryStore()}
	m, _ := newTestManager(t, func(o *Options) { o.Store = store })
	ctx := context.Background()

	after := store.sets.Load() // Initialize persists once

	mustAdd(t, m, contentTab(1, "one"), AddOptions{})
	mustAdd(t, m, contentTab(2, "two"), AddOptions{})
	mustAdd(t, m, contentTab(3, "three"), AddOptions{})

	if got := store.sets.Load(); got != after {
		t.Fatalf("adds wrote %d times before flush, want 0", got-after)
	}

	if err := m.FlushPersistence(ctx); err != nil {
		t.Fatalf("FlushPersistence: %v", err)
	}
	if got := store.sets.Load(); got != after+1 {
		t.Fatalf("flush wrote %d times, want exactly 1", got-after)
	}

	data, err := store.Get(ctx, StorageKey)
	if err != nil {
		t.Fatalf("read persisted queue: %v", err)
	}
	var persisted struct {
		Version int   `json:"version"`
		Tabs    []Tab `json:"tabs"`
	}
	if err := json.Unmarshal(data, &persisted); err != nil {
		t.Fatalf("decode persisted queue: %v", err)
	}
	if persisted.Version != SchemaVersion || len(persisted.Tabs) != 3 {
		t.Errorf("persisted version=%d tabs=%d, want %d/3", persisted.Version, len(persisted.Tabs), SchemaVersion)
	}
}
