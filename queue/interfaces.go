package queue

import (
	"context"
	"time"
)

// ResolvedContent is what a ContentResolver produced for a tab.
type ResolvedContent struct {
	Content     string
	Summary     string
	Translation string
	ExtractedAt time.Time
}

// ContentResolver turns a tab into ready-to-read text. Returning (nil, nil)
// or any error both mean "not ready yet"; the manager does not distinguish.
type ContentResolver interface {
	Resolve(ctx context.Context, tab Tab) (*ResolvedContent, error)
}

// PlaybackHooks receive terminal and progress events for one Start call.
// Hooks are invoked asynchronously and at most once per terminal event.
type PlaybackHooks struct {
	OnEnd      func()
	OnError    func(err error)
	OnProgress func(percent float64)
}

// PlaybackController is the narrow surface of the audio engine.
type PlaybackController interface {
	Start(ctx context.Context, tab Tab, text string, settings Settings, hooks PlaybackHooks) error
	Pause() error
	Resume() error
	Stop() error
	UpdateSettings(settings Settings) error
}

// IgnoreList answers whether a URL's domain is excluded from reading.
type IgnoreList interface {
	IsIgnored(url string) bool
}

// Clock abstracts time for deterministic tests.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to the Clock interface.
type ClockFunc func() time.Time

// Now implements Clock.
func (f ClockFunc) Now() time.Time { return f() }

// systemClock is the default Clock.
type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }
