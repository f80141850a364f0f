package queue

import (
	"encoding/json"
	"fmt"
)

// Status represents the playback state of the queue.
type Status int

const (
	// StatusIdle indicates no active reading target.
	StatusIdle Status = iota
	// StatusProcessing indicates a tab is selected and being prepared.
	StatusProcessing
	// StatusReading indicates audio is actively playing.
	StatusReading
	// StatusPaused indicates playback is suspended, by the user or because
	// content was not ready.
	StatusPaused
	// StatusError indicates the last playback attempt failed.
	StatusError
)

// String returns the string representation of the status.
func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusProcessing:
		return "processing"
	case StatusReading:
		return "reading"
	case StatusPaused:
		return "paused"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}

// Active returns true while the queue has a live playback target.
func (s Status) Active() bool {
	return s == StatusProcessing || s == StatusReading || s == StatusPaused
}

// MarshalJSON encodes the status as its string name.
func (s Status) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON decodes a status from its string name.
func (s *Status) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}

	switch name {
	case "idle":
		*s = StatusIdle
	case "processing":
		*s = StatusProcessing
	case "reading":
		*s = StatusReading
	case "paused":
		*s = StatusPaused
	case "error":
		*s = StatusError
	default:
		return fmt.Errorf("unknown queue status %q", name)
	}
	return nil
}
