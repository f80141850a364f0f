// Package host speaks the stdio protocol between the reading host and its
// front end: newline-delimited JSON messages in both directions.
package host

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/dgnsrekt/tabreader/prefetch"
	"github.com/dgnsrekt/tabreader/queue"
)

// Inbound message types.
const (
	MsgCommand          = "command"
	MsgPlaybackEnded    = "playback.ended"
	MsgPlaybackError    = "playback.error"
	MsgPlaybackProgress = "playback.progress"
	MsgTabUpdated       = "tab.updated"
	MsgTabClosed        = "tab.closed"
	MsgTabLoading       = "tab.loading"
	MsgPrefetchRetry    = "prefetch.retry"
)

// Outbound message types.
const (
	MsgStatus         = "status"
	MsgResult         = "result"
	MsgError          = "error"
	MsgContentRequest = "content.request"
	MsgPrefetchStatus = "prefetch.status"
	MsgPlayback       = "playback"
)

// InboundMessage is one frame from the front end.
type InboundMessage struct {
	Type string `json:"type"`
	ID   string `json:"id,omitempty"`

	Command *queue.Command   `json:"command,omitempty"`
	Update  *queue.TabUpdate `json:"update,omitempty"`
	TabID   int64            `json:"tabId,omitempty"`

	Percent float64 `json:"percent,omitempty"`
	Error   string  `json:"error,omitempty"`
}

// OutboundMessage is one frame to the front end.
type OutboundMessage struct {
	Type string `json:"type"`
	ID   string `json:"id,omitempty"`

	Result   *queue.Result            `json:"result,omitempty"`
	Snapshot *queue.Snapshot          `json:"snapshot,omitempty"`
	Request  *queue.ContentRequestEvent `json:"request,omitempty"`
	Error    *queue.ErrorEvent        `json:"error,omitempty"`
	Prefetch *prefetch.StatusSnapshot `json:"prefetch,omitempty"`
	Playback *PlaybackInstruction     `json:"playback,omitempty"`
}

// PlaybackInstruction tells the front end's speech engine what to do.
type PlaybackInstruction struct {
	Action   string          `json:"action"`
	TabID    int64           `json:"tabId,omitempty"`
	Text     string          `json:"text,omitempty"`
	Settings *queue.Settings `json:"settings,omitempty"`
}

// Playback actions.
const (
	ActionStart          = "start"
	ActionPause          = "pause"
	ActionResume         = "resume"
	ActionStop           = "stop"
	ActionUpdateSettings = "updateSettings"
)

// Transport frames messages over a reader/writer pair. Sends are serialized
// so concurrent writers cannot interleave frames.
type Transport struct {
	mu  sync.Mutex
	enc *json.Encoder
	dec *json.Decoder
}

// NewTransport wraps the given streams.
func NewTransport(r io.Reader, w io.Writer) *Transport {
	return &Transport{
		enc: json.NewEncoder(w),
		dec: json.NewDecoder(r),
	}
}

// Send writes one frame.
func (t *Transport) Send(msg OutboundMessage) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.enc.Encode(msg); err != nil {
		return fmt.Errorf("failed to send %s message: %w", msg.Type, err)
	}
	return nil
}

// Receive reads the next frame. It returns io.EOF when the peer closes the
// stream.
func (t *Transport) Receive() (InboundMessage, error) {
	var msg InboundMessage
	if err := t.dec.Decode(&msg); err != nil {
		return InboundMessage{}, err
	}
	return msg, nil
}
