package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// FeedAPI is the REST side of notifications: the initial snapshot and the
// mark-read call.
type FeedAPI interface {
	Notifications(ctx context.Context) ([]Event, error)
	MarkNotificationRead(ctx context.Context, id string) error
}

// Feed is the in-memory, newest-first list of notifications shown to the user.
type Feed struct {
	api   FeedAPI
	dedup bool
	onNew func(Event)

	mu    sync.Mutex
	items []Event
}

type FeedOption func(*Feed)

// WithDedup controls whether events whose ID is already in the feed are
// dropped. Enabled by default; disable to keep the raw at-least-once
// behaviour of the stream.
func WithDedup(enabled bool) FeedOption {
	return func(f *Feed) { f.dedup = enabled }
}

// WithNewEventHook registers fn to be called for every event added by Add,
// e.g. to raise a toast.
func WithNewEventHook(fn func(Event)) FeedOption {
	return func(f *Feed) { f.onNew = fn }
}

func NewFeed(api FeedAPI, opts ...FeedOption) *Feed {
	f := &Feed{api: api, dedup: true}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Load replaces the feed with the server snapshot. Events that arrived over
// the stream and are not part of the snapshot stay on top. An event already
// marked read locally stays read even when the snapshot predates the
// server-side mark.
func (f *Feed) Load(ctx context.Context) error {
	snapshot, err := f.api.Notifications(ctx)
	if err != nil {
		return fmt.Errorf("load notifications: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	readLocally := make(map[string]bool, len(f.items))
	for _, ev := range f.items {
		if ev.IsRead {
			readLocally[ev.ID] = true
		}
	}
	inSnapshot := make(map[string]struct{}, len(snapshot))
	for _, ev := range snapshot {
		inSnapshot[ev.ID] = struct{}{}
	}
	merged := make([]Event, 0, len(snapshot)+len(f.items))
	for _, ev := range f.items {
		if _, ok := inSnapshot[ev.ID]; !ok {
			merged = append(merged, ev)
		}
	}
	for _, ev := range snapshot {
		if readLocally[ev.ID] {
			ev.IsRead = true
		}
		merged = append(merged, ev)
	}
	f.items = merged
	return nil
}

// Add prepends ev. It reports false when ev was dropped as a duplicate.
func (f *Feed) Add(ev Event) bool {
	f.mu.Lock()
	if f.dedup && f.indexLocked(ev.ID) >= 0 {
		f.mu.Unlock()
		return false
	}
	f.items = append([]Event{ev}, f.items...)
	f.mu.Unlock()

	if f.onNew != nil {
		f.onNew(ev)
	}
	return true
}

// MarkRead sets the read flag locally before telling the server. A failed
// server call is returned but the local flag stays set.
func (f *Feed) MarkRead(ctx context.Context, id string) error {
	f.mu.Lock()
	idx := f.indexLocked(id)
	if idx >= 0 {
		f.items[idx].IsRead = true
	}
	f.mu.Unlock()

	if idx < 0 {
		return fmt.Errorf("notification %q not in feed", id)
	}
	if err := f.api.MarkNotificationRead(ctx, id); err != nil {
		slog.Warn("notify: mark read failed", "notification_id", id, "error", err)
		return fmt.Errorf("mark notification %s read: %w", id, err)
	}
	return nil
}

// Items returns a copy of the feed, newest first.
func (f *Feed) Items() []Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Event, len(f.items))
	copy(out, f.items)
	return out
}

func (f *Feed) UnreadCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, ev := range f.items {
		if !ev.IsRead {
			n++
		}
	}
	return n
}

func (f *Feed) HasUnread() bool {
	return f.UnreadCount() > 0
}

func (f *Feed) indexLocked(id string) int {
	for i, ev := range f.items {
		if ev.ID == id {
			return i
		}
	}
	return -1
}
