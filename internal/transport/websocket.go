package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/coder/websocket"
)

// ErrMalformed marks an inbound message that could not be parsed. The reader
// should log it and move on; it never terminates the session.
var ErrMalformed = errors.New("transport: malformed message")

// Adapter frames the wire protocol over a websocket connection. All writes
// share one mutex: the egress pacer, the barge-in path and the transcript
// emitter may write concurrently, and the peer must see their messages in
// mutex-acquisition order.
type Adapter struct {
	conn *websocket.Conn

	writeMu sync.Mutex
}

// NewAdapter wraps an accepted websocket connection.
func NewAdapter(conn *websocket.Conn) *Adapter {
	return &Adapter{conn: conn}
}

// ReadEnvelope blocks for the next inbound message. A failed read is a
// transport error and ends the session; a message that is not valid JSON
// returns an error wrapping [ErrMalformed] and should be skipped.
func (a *Adapter) ReadEnvelope(ctx context.Context) (Envelope, error) {
	_, data, err := a.conn.Read(ctx)
	if err != nil {
		return Envelope{}, fmt.Errorf("transport: read: %w", err)
	}

	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return env, nil
}

// WriteMedia sends one outbound audio frame.
func (a *Adapter) WriteMedia(ctx context.Context, frame []byte) error {
	return a.write(ctx, mediaEnvelope(frame))
}

// WriteState announces a turn transition to the peer.
func (a *Adapter) WriteState(ctx context.Context, state string) error {
	return a.write(ctx, Envelope{Event: EventState, State: state})
}

// WriteTranscript sends a finished transcript line.
func (a *Adapter) WriteTranscript(ctx context.Context, role, text string) error {
	return a.write(ctx, Envelope{Event: EventTranscript, Role: role, Text: text})
}

// WriteClear tells the peer to flush its playback buffer immediately.
func (a *Adapter) WriteClear(ctx context.Context) error {
	return a.write(ctx, Envelope{Event: EventClear})
}

func (a *Adapter) write(ctx context.Context, env Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("transport: marshal %s: %w", env.Event, err)
	}

	a.writeMu.Lock()
	defer a.writeMu.Unlock()
	if err := a.conn.Write(ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("transport: write %s: %w", env.Event, err)
	}
	return nil
}

// Close performs a normal websocket closure.
func (a *Adapter) Close() error {
	return a.conn.Close(websocket.StatusNormalClosure, "session ended")
}

// CloseWithError closes the connection with an internal-error status, used
// when a state invariant is violated and the session cannot continue.
func (a *Adapter) CloseWithError(reason string) error {
	return a.conn.Close(websocket.StatusInternalError, reason)
}

// IsNormalClose reports whether a read or write failed because the peer ended
// the stream the ordinary way: a normal or going-away close frame, or the
// underlying connection shutting down cleanly.
func IsNormalClose(err error) bool {
	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway:
		return true
	}
	return errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed)
}
