package host

import (
	"context"
	"errors"
	"io"

	"github.com/charmbracelet/log"

	"github.com/dgnsrekt/tabreader/prefetch"
	"github.com/dgnsrekt/tabreader/queue"
)

// Prefetcher is the slice of the prefetch coordinator the host needs.
type Prefetcher interface {
	Retry(ctx context.Context, tabID int64)
}

// Host runs the stdio protocol: inbound frames drive the queue manager and
// the bridge player, queue and prefetch events flow back out.
type Host struct {
	transport *Transport
	manager   *queue.Manager
	player    *BridgePlayer
	prefetch  Prefetcher
	board     *prefetch.Board
	logger    *log.Logger
}

// New wires a host. The board may be nil when prefetching is disabled.
func New(transport *Transport, manager *queue.Manager, player *BridgePlayer, prefetcher Prefetcher, board *prefetch.Board, logger *log.Logger) *Host {
	if logger == nil {
		logger = log.Default()
	}
	return &Host{
		transport: transport,
		manager:   manager,
		player:    player,
		prefetch:  prefetcher,
		board:     board,
		logger:    logger,
	}
}

// Run forwards events outward and dispatches inbound frames until the peer
// closes the stream or the context is cancelled.
func (h *Host) Run(ctx context.Context) error {
	unsubManager := h.manager.Subscribe(h.forwardQueueEvent)
	defer unsubManager()

	if h.board != nil {
		unsubBoard := h.board.Subscribe(func(snap prefetch.StatusSnapshot) {
			h.send(OutboundMessage{Type: MsgPrefetchStatus, Prefetch: &snap})
		})
		defer unsubBoard()
	}

	frames := make(chan InboundMessage)
	readErr := make(chan error, 1)
	go func() {
		defer close(frames)
		for {
			msg, err := h.transport.Receive()
			if err != nil {
				readErr <- err
				return
			}
			select {
			case frames <- msg:
			case <-ctx.Done():
				// The main loop blocks on readErr once frames closes, so
				// this path must report too. Buffered, single write, never
				// blocks.
				readErr <- ctx.Err()
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-frames:
			if !ok {
				err := <-readErr
				if errors.Is(err, io.EOF) {
					h.logger.Info("front end disconnected")
					return nil
				}
				return err
			}
			h.dispatch(ctx, msg)
		}
	}
}

func (h *Host) dispatch(ctx context.Context, msg InboundMessage) {
	switch msg.Type {
	case MsgCommand:
		if msg.Command == nil {
			h.send(OutboundMessage{Type: MsgResult, ID: msg.ID, Result: &queue.Result{Error: "missing command"}})
			return
		}
		result := h.manager.Execute(ctx, *msg.Command)
		h.send(OutboundMessage{Type: MsgResult, ID: msg.ID, Result: &result})

	case MsgPlaybackEnded:
		h.player.HandleEnded()

	case MsgPlaybackError:
		cause := msg.Error
		if cause == "" {
			cause = "playback failed"
		}
		h.player.HandleError(errors.New(cause))

	case MsgPlaybackProgress:
		h.player.HandleProgress(msg.Percent)

	case MsgTabUpdated:
		if msg.Update == nil {
			return
		}
		if err := h.manager.OnTabUpdated(ctx, *msg.Update); err != nil {
			h.logger.Debug("tab update dropped", "tabID", msg.Update.TabID, "error", err)
		}

	case MsgTabClosed:
		if err := h.manager.OnTabClosed(ctx, msg.TabID); err != nil {
			h.logger.Debug("tab close dropped", "tabID", msg.TabID, "error", err)
		}

	case MsgTabLoading:
		if err := h.manager.OnTabLoading(ctx, msg.TabID); err != nil {
			h.logger.Debug("tab loading dropped", "tabID", msg.TabID, "error", err)
		}

	case MsgPrefetchRetry:
		if h.prefetch != nil {
			h.prefetch.Retry(ctx, msg.TabID)
		}

	default:
		h.logger.Warn("unknown message type", "type", msg.Type)
	}
}

func (h *Host) forwardQueueEvent(e queue.Event) {
	switch ev := e.(type) {
	case queue.StatusEvent:
		snap := ev.Snapshot
		h.send(OutboundMessage{Type: MsgStatus, Snapshot: &snap})
	case queue.ContentRequestEvent:
		h.send(OutboundMessage{Type: MsgContentRequest, Request: &ev})
	case queue.ErrorEvent:
		h.send(OutboundMessage{Type: MsgError, Error: &ev})
	}
}

func (h *Host) send(msg OutboundMessage) {
	if err := h.transport.Send(msg); err != nil {
		h.logger.Warn("failed to send message", "type", msg.Type, "error", err)
	}
}
