package server

import (
	"testing"

	"github.com/creatorpass/creatorpass/internal/notify"
)

func TestHubPublishesToUserStreams(t *testing.T) {
	hub := NewHub()
	a, cancelA := hub.Subscribe("u1")
	b, cancelB := hub.Subscribe("u1")
	other, cancelOther := hub.Subscribe("u2")
	defer cancelA()
	defer cancelB()
	defer cancelOther()

	if n := hub.Publish("u1", notify.Event{ID: "n1"}); n != 2 {
		t.Errorf("Publish delivered %d, want 2", n)
	}
	for _, ch := range []<-chan notify.Event{a, b} {
		if ev := <-ch; ev.ID != "n1" {
			t.Errorf("got %+v", ev)
		}
	}
	select {
	case ev := <-other:
		t.Errorf("other user received %+v", ev)
	default:
	}
}

func TestHubCancelRemovesStream(t *testing.T) {
	hub := NewHub()
	_, cancel := hub.Subscribe("u1")
	if n := hub.Subscribers("u1"); n != 1 {
		t.Fatalf("Subscribers = %d", n)
	}
	cancel()
	cancel()
	if n := hub.Subscribers("u1"); n != 0 {
		t.Errorf("Subscribers after cancel = %d", n)
	}
	if n := hub.Publish("u1", notify.Event{ID: "n1"}); n != 0 {
		t.Errorf("Publish delivered %d after cancel", n)
	}
}

func TestHubDropsWhenBufferFull(t *testing.T) {
	hub := NewHub()
	ch, cancel := hub.Subscribe("u1")
	defer cancel()

	for i := 0; i < subscriberBuffer; i++ {
		hub.Publish("u1", notify.Event{ID: "fill"})
	}
	if n := hub.Publish("u1", notify.Event{ID: "overflow"}); n != 0 {
		t.Errorf("Publish into full buffer delivered %d", n)
	}
	if len(ch) != subscriberBuffer {
		t.Errorf("buffered %d events", len(ch))
	}
}
