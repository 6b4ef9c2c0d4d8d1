package notify

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/creatorpass/creatorpass/internal/auth"
	"github.com/creatorpass/creatorpass/internal/metrics"
)

const (
	DefaultStreamPath     = "/notifications/stream"
	DefaultReconnectDelay = 5 * time.Second

	readBufferSize = 4096
)

var errStreamClosed = errors.New("notify: stream closed by server")

// Opener issues the long-lived, credentialed stream request.
type Opener interface {
	OpenStream(ctx context.Context, path string) (*http.Response, error)
}

// StreamState is the connection state of a StreamClient.
type StreamState string

const (
	StateDisconnected StreamState = "disconnected"
	StateConnecting   StreamState = "connecting"
	StateConnected    StreamState = "connected"
)

// StreamClient reads notification frames from a long-lived HTTP response and
// reconnects after a fixed delay whenever the stream fails, until its context
// is cancelled. Delivery is at-least-once: frames replayed by the server after
// a reconnect are handed to the handler again.
type StreamClient struct {
	opener  Opener
	path    string
	delay   time.Duration
	decoder *Decoder

	running   atomic.Bool
	connected atomic.Bool
	onState   func(StreamState)
}

type StreamOption func(*StreamClient)

func WithStreamPath(path string) StreamOption {
	return func(c *StreamClient) { c.path = path }
}

func WithReconnectDelay(d time.Duration) StreamOption {
	return func(c *StreamClient) {
		if d > 0 {
			c.delay = d
		}
	}
}

func WithMaxFrameBytes(n int) StreamOption {
	return func(c *StreamClient) { c.decoder = NewDecoder(n) }
}

// WithStateHook registers fn to observe connection state changes. fn runs on
// the read goroutine and must not block.
func WithStateHook(fn func(StreamState)) StreamOption {
	return func(c *StreamClient) { c.onState = fn }
}

func NewStreamClient(opener Opener, opts ...StreamOption) *StreamClient {
	c := &StreamClient{
		opener:  opener,
		path:    DefaultStreamPath,
		delay:   DefaultReconnectDelay,
		decoder: NewDecoder(DefaultMaxFrameBytes),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Connected reports whether the stream currently has an open response.
func (c *StreamClient) Connected() bool {
	return c.connected.Load()
}

// Run connects and delivers events to handle until ctx is cancelled, then
// returns ctx.Err(). It returns auth.ErrNoCredential without retrying when
// there is no credential to connect with. Only one Run may be active per
// client.
func (c *StreamClient) Run(ctx context.Context, handle func(Event)) error {
	if !c.running.CompareAndSwap(false, true) {
		return fmt.Errorf("notify: stream client already running")
	}
	defer c.running.Store(false)

	for {
		err := c.connectOnce(ctx, handle)
		c.setState(StateDisconnected)

		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errors.Is(err, auth.ErrNoCredential) {
			return err
		}

		slog.Warn("notify: stream interrupted, reconnecting", "error", err, "delay", c.delay)
		metrics.IncStreamReconnect()

		timer := time.NewTimer(c.delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}
}

// Events runs the client in a goroutine and returns a channel of events that
// is closed once ctx is cancelled or Run gives up.
func (c *StreamClient) Events(ctx context.Context) <-chan Event {
	out := make(chan Event, 16)
	go func() {
		defer close(out)
		err := c.Run(ctx, func(ev Event) {
			select {
			case out <- ev:
			case <-ctx.Done():
			}
		})
		if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			slog.Error("notify: stream stopped", "error", err)
		}
	}()
	return out
}

func (c *StreamClient) connectOnce(ctx context.Context, handle func(Event)) error {
	c.decoder.Reset()
	c.setState(StateConnecting)

	resp, err := c.opener.OpenStream(ctx, c.path)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	c.setState(StateConnected)
	slog.Info("notify: stream connected", "path", c.path)

	buf := make([]byte, readBufferSize)
	for {
		n, err := resp.Body.Read(buf)
		if n > 0 {
			c.deliver(buf[:n], handle)
		}
		if errors.Is(err, io.EOF) {
			return errStreamClosed
		}
		if err != nil {
			return fmt.Errorf("read stream: %w", err)
		}
	}
}

func (c *StreamClient) deliver(chunk []byte, handle func(Event)) {
	frames, err := c.decoder.Feed(chunk)
	if err != nil {
		slog.Warn("notify: dropping oversized frame", "error", err)
		metrics.IncStreamFrame("oversized")
	}
	for _, frame := range frames {
		ev, err := ParseEvent(frame.Data)
		if err != nil {
			slog.Warn("notify: dropping malformed frame", "error", err)
			metrics.IncStreamFrame("malformed")
			continue
		}
		metrics.IncStreamFrame("delivered")
		handle(ev)
	}
}

func (c *StreamClient) setState(state StreamState) {
	connected := state == StateConnected
	if c.connected.Swap(connected) != connected {
		metrics.SetStreamConnected(connected)
	}
	if c.onState != nil {
		c.onState(state)
	}
}
