package queue

import "errors"

// Common errors for queue operations.
var (
	ErrNotInitialized = errors.New("queue is not initialized")
	ErrTabNotFound    = errors.New("tab not found in queue")
	ErrEmptyQueue     = errors.New("queue is empty")
	ErrInvalidIndex   = errors.New("index out of range")
	ErrInvalidState   = errors.New("operation not valid in current state")
	ErrNoReadableTab  = errors.New("no readable tab available")
)

// Error codes carried on structured error events.
const (
	ErrCodePlaybackStart = "playback_start_failed"
	ErrCodePlayback      = "playback_failed"
)
