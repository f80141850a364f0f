package host

import (
	"context"
	"sync"

	"github.com/charmbracelet/log"

	"github.com/dgnsrekt/tabreader/queue"
)

// Sender is the outbound half of the transport.
type Sender interface {
	Send(msg OutboundMessage) error
}

// BridgePlayer implements queue.PlaybackController by delegating to the
// front end's speech engine over the transport. Terminal events come back as
// playback.* messages and are forwarded to the hooks of the latest Start.
type BridgePlayer struct {
	mu     sync.Mutex
	hooks  queue.PlaybackHooks
	sender Sender
	logger *log.Logger
}

// NewBridgePlayer creates a player speaking through the given sender.
func NewBridgePlayer(sender Sender, logger *log.Logger) *BridgePlayer {
	if logger == nil {
		logger = log.Default()
	}
	return &BridgePlayer{sender: sender, logger: logger}
}

// Start asks the front end to speak the text and remembers the hooks for the
// playback events that follow.
func (p *BridgePlayer) Start(_ context.Context, tab queue.Tab, text string, settings queue.Settings, hooks queue.PlaybackHooks) error {
	p.mu.Lock()
	p.hooks = hooks
	p.mu.Unlock()

	return p.sender.Send(OutboundMessage{
		Type: MsgPlayback,
		Playback: &PlaybackInstruction{
			Action:   ActionStart,
			TabID:    tab.ID,
			Text:     text,
			Settings: &settings,
		},
	})
}

// Pause suspends the front end's speech engine.
func (p *BridgePlayer) Pause() error {
	return p.sender.Send(OutboundMessage{
		Type:     MsgPlayback,
		Playback: &PlaybackInstruction{Action: ActionPause},
	})
}

// Resume continues the front end's speech engine.
func (p *BridgePlayer) Resume() error {
	return p.sender.Send(OutboundMessage{
		Type:     MsgPlayback,
		Playback: &PlaybackInstruction{Action: ActionResume},
	})
}

// Stop halts the front end's speech engine.
func (p *BridgePlayer) Stop() error {
	return p.sender.Send(OutboundMessage{
		Type:     MsgPlayback,
		Playback: &PlaybackInstruction{Action: ActionStop},
	})
}

// UpdateSettings pushes new speech parameters to the front end.
func (p *BridgePlayer) UpdateSettings(settings queue.Settings) error {
	return p.sender.Send(OutboundMessage{
		Type: MsgPlayback,
		Playback: &PlaybackInstruction{
			Action:   ActionUpdateSettings,
			Settings: &settings,
		},
	})
}

// HandleEnded forwards a playback.ended frame to the active hooks.
func (p *BridgePlayer) HandleEnded() {
	if fn := p.currentHooks().OnEnd; fn != nil {
		fn()
	}
}

// HandleError forwards a playback.error frame to the active hooks.
func (p *BridgePlayer) HandleError(err error) {
	if fn := p.currentHooks().OnError; fn != nil {
		fn(err)
	}
}

// HandleProgress forwards a playback.progress frame to the active hooks.
func (p *BridgePlayer) HandleProgress(percent float64) {
	if fn := p.currentHooks().OnProgress; fn != nil {
		fn(percent)
	}
}

func (p *BridgePlayer) currentHooks() queue.PlaybackHooks {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.hooks
}
