package queue

import (
	"context"
	"fmt"
)

// Command operations accepted by Execute.
const (
	OpAdd      = "add"
	OpRemove   = "remove"
	OpReorder  = "reorder"
	OpSkip     = "skip"
	OpClear    = "clear"
	OpControl  = "control"
	OpSettings = "settings"
	OpSnapshot = "snapshot"
)

// Control actions for OpControl.
const (
	ActionStart  = "start"
	ActionPause  = "pause"
	ActionResume = "resume"
	ActionStop   = "stop"
)

// Command is a single queue instruction, typically decoded off the wire.
// Fields beyond Op are read per operation and otherwise ignored.
type Command struct {
	Op string `json:"op"`

	Tab       *Tab   `json:"tab,omitempty"`
	Position  string `json:"position,omitempty"` // "", "start", "end" or "at"
	Index     int    `json:"index,omitempty"`
	AutoStart bool   `json:"autoStart,omitempty"`

	TabID     int64 `json:"tabId,omitempty"`
	From      int   `json:"from,omitempty"`
	To        int   `json:"to,omitempty"`
	Direction int   `json:"direction,omitempty"`

	Action   string         `json:"action,omitempty"`
	Settings *SettingsPatch `json:"settings,omitempty"`
}

// Result is the reply to a Command. Snapshot is filled for every successful
// operation so callers need no follow-up read.
type Result struct {
	OK       bool      `json:"ok"`
	Error    string    `json:"error,omitempty"`
	Snapshot *Snapshot `json:"snapshot,omitempty"`
}

// Execute dispatches a command against the manager.
func (m *Manager) Execute(ctx context.Context, cmd Command) Result {
	err := m.execute(ctx, cmd)
	if err != nil {
		return Result{Error: err.Error()}
	}
	snap := m.Snapshot()
	return Result{OK: true, Snapshot: &snap}
}

func (m *Manager) execute(ctx context.Context, cmd Command) error {
	switch cmd.Op {
	case OpAdd:
		if cmd.Tab == nil {
			return fmt.Errorf("add: missing tab")
		}
		opts := AddOptions{AutoStart: cmd.AutoStart}
		switch cmd.Position {
		case "", "end":
			opts.Position = PlaceEnd
		case "start":
			opts.Position = PlaceStart
		case "at":
			opts.Position = PlaceAt
			opts.Index = cmd.Index
		default:
			return fmt.Errorf("add: unknown position %q", cmd.Position)
		}
		return m.AddTab(ctx, *cmd.Tab, opts)

	case OpRemove:
		return m.RemoveTab(ctx, cmd.TabID)

	case OpReorder:
		return m.ReorderTabs(cmd.From, cmd.To)

	case OpSkip:
		return m.SkipTab(ctx, cmd.Direction)

	case OpClear:
		return m.ClearQueue(ctx)

	case OpControl:
		switch cmd.Action {
		case ActionStart:
			return m.ProcessNext(ctx, -1)
		case ActionPause:
			return m.Pause(ctx)
		case ActionResume:
			return m.Resume(ctx)
		case ActionStop:
			return m.Stop(ctx)
		default:
			return fmt.Errorf("control: unknown action %q", cmd.Action)
		}

	case OpSettings:
		if cmd.Settings == nil {
			return fmt.Errorf("settings: missing patch")
		}
		return m.UpdateSettings(ctx, *cmd.Settings)

	case OpSnapshot:
		return nil

	default:
		return fmt.Errorf("unknown op %q", cmd.Op)
	}
}
