package notify

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/creatorpass/creatorpass/internal/auth"
	"go.uber.org/goleak"
)

type httpOpener struct {
	base      string
	client    *http.Client
	transport *http.Transport
}

func newHTTPOpener(base string) *httpOpener {
	tr := &http.Transport{}
	return &httpOpener{base: base, client: &http.Client{Transport: tr}, transport: tr}
}

func (o *httpOpener) OpenStream(ctx context.Context, path string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.base+path, nil)
	if err != nil {
		return nil, err
	}
	resp, err := o.client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return resp, nil
}

type funcOpener func(ctx context.Context, path string) (*http.Response, error)

func (f funcOpener) OpenStream(ctx context.Context, path string) (*http.Response, error) {
	return f(ctx, path)
}

func writeAndFlush(w http.ResponseWriter, s string) {
	_, _ = w.Write([]byte(s))
	w.(http.Flusher).Flush()
}

func collect(cancel context.CancelFunc, want int) (func(Event), func() []Event) {
	var mu sync.Mutex
	var got []Event
	handle := func(ev Event) {
		mu.Lock()
		got = append(got, ev)
		n := len(got)
		mu.Unlock()
		if n >= want {
			cancel()
		}
	}
	return handle, func() []Event {
		mu.Lock()
		defer mu.Unlock()
		return append([]Event(nil), got...)
	}
}

func TestStreamClient_ReconnectsAfterDropMidFrame(t *testing.T) {
	var connections atomic.Int32
	var reconnectedAt atomic.Int64
	var droppedAt atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch connections.Add(1) {
		case 1:
			writeAndFlush(w, "data: {\"id\":\"1\"}\n\ndata: {\"id\":\"trunc")
			droppedAt.Store(time.Now().UnixNano())
		default:
			reconnectedAt.Store(time.Now().UnixNano())
			writeAndFlush(w, "data: {\"id\":\"2\"}\n\n")
			<-r.Context().Done()
		}
	}))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	handle, events := collect(cancel, 2)

	const delay = 50 * time.Millisecond
	client := NewStreamClient(newHTTPOpener(server.URL), WithReconnectDelay(delay))
	err := client.Run(ctx, handle)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}

	got := events()
	if len(got) != 2 || got[0].ID != "1" || got[1].ID != "2" {
		t.Fatalf("expected events 1 then 2, got %+v", got)
	}
	if n := connections.Load(); n != 2 {
		t.Errorf("expected 2 connections, got %d", n)
	}
	if gap := time.Duration(reconnectedAt.Load() - droppedAt.Load()); gap < delay {
		t.Errorf("expected reconnect after at least %v, got %v", delay, gap)
	}
}

func TestStreamClient_MalformedFrameDoesNotStopStream(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeAndFlush(w, "data: {oops}\n\n")
		writeAndFlush(w, "data: {\"id\":\"ok\"}\n\n")
		<-r.Context().Done()
	}))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	handle, events := collect(cancel, 1)

	_ = NewStreamClient(newHTTPOpener(server.URL)).Run(ctx, handle)

	got := events()
	if len(got) != 1 || got[0].ID != "ok" {
		t.Fatalf("expected only the valid event, got %+v", got)
	}
}

func TestStreamClient_CancelInterruptsPendingRead(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	connected := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeAndFlush(w, ": hello\n\n")
		close(connected)
		<-r.Context().Done()
	}))
	defer server.Close()

	opener := newHTTPOpener(server.URL)
	defer opener.transport.CloseIdleConnections()

	var states []StreamState
	var mu sync.Mutex
	client := NewStreamClient(opener, WithStateHook(func(s StreamState) {
		mu.Lock()
		states = append(states, s)
		mu.Unlock()
	}))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- client.Run(ctx, func(Event) {}) }()

	select {
	case <-connected:
	case <-time.After(5 * time.Second):
		t.Fatal("stream never connected")
	}
	deadline := time.Now().Add(time.Second)
	for !client.Connected() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if !client.Connected() {
		t.Fatal("expected Connected() to be true")
	}

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("cancellation did not interrupt the pending read")
	}

	if client.Connected() {
		t.Error("expected Connected() to be false after cancellation")
	}
	mu.Lock()
	defer mu.Unlock()
	want := []StreamState{StateConnecting, StateConnected, StateDisconnected}
	if fmt.Sprint(states) != fmt.Sprint(want) {
		t.Errorf("expected states %v, got %v", want, states)
	}
}

func TestStreamClient_NoCredentialIsTerminal(t *testing.T) {
	var calls atomic.Int32
	opener := funcOpener(func(ctx context.Context, path string) (*http.Response, error) {
		calls.Add(1)
		return nil, auth.ErrNoCredential
	})

	err := NewStreamClient(opener, WithReconnectDelay(time.Millisecond)).Run(context.Background(), func(Event) {})

	if !errors.Is(err, auth.ErrNoCredential) {
		t.Fatalf("expected ErrNoCredential, got %v", err)
	}
	if calls.Load() != 1 {
		t.Errorf("expected a single attempt, got %d", calls.Load())
	}
}

func TestStreamClient_RetriesConnectFailures(t *testing.T) {
	var calls atomic.Int32
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	opener := funcOpener(func(ctx context.Context, path string) (*http.Response, error) {
		if calls.Add(1) == 3 {
			cancel()
		}
		return nil, errors.New("connection refused")
	})

	err := NewStreamClient(opener, WithReconnectDelay(time.Millisecond)).Run(ctx, func(Event) {})

	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if calls.Load() != 3 {
		t.Errorf("expected 3 attempts, got %d", calls.Load())
	}
}

func TestStreamClient_RejectsConcurrentRun(t *testing.T) {
	block := make(chan struct{})
	opener := funcOpener(func(ctx context.Context, path string) (*http.Response, error) {
		<-block
		return nil, ctx.Err()
	})
	client := NewStreamClient(opener)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = client.Run(ctx, func(Event) {})
		close(done)
	}()
	for !client.running.Load() {
		time.Sleep(time.Millisecond)
	}

	if err := client.Run(context.Background(), func(Event) {}); err == nil {
		t.Error("expected second Run to be rejected")
	}

	cancel()
	close(block)
	<-done
}

func TestStreamClient_EventsChannel(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeAndFlush(w, "data: {\"id\":\"1\"}\n\ndata: {\"id\":\"2\"}\n\n")
		<-r.Context().Done()
	}))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	events := NewStreamClient(newHTTPOpener(server.URL)).Events(ctx)
	var ids []string
	for ev := range events {
		ids = append(ids, ev.ID)
		if len(ids) == 2 {
			cancel()
		}
	}

	if fmt.Sprint(ids) != "[1 2]" {
		t.Errorf("expected [1 2], got %v", ids)
	}
}
