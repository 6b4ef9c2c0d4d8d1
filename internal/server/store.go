package server

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/creatorpass/creatorpass/internal/notify"
)

var (
	ErrMediaNotFound        = errors.New("media not found")
	ErrNotificationNotFound = errors.New("notification not found")
)

// Media is one playable item in the catalog.
type Media struct {
	ID                   string
	Title                string
	CreatorID            string
	ManifestKey          string
	RequiresSubscription bool
}

// Catalog answers the entitlement questions behind playback token issuance.
type Catalog interface {
	Media(ctx context.Context, id string) (Media, error)
	Subscribed(ctx context.Context, userID, creatorID string) (bool, error)
}

// NotificationStore persists per-user notifications.
type NotificationStore interface {
	ListNotifications(ctx context.Context, userID string, limit int) ([]notify.Event, error)
	CreateNotification(ctx context.Context, userID string, ev notify.Event) (notify.Event, error)
	MarkNotificationRead(ctx context.Context, userID, id string) error
}

// MemoryStore implements Catalog and NotificationStore in process memory.
type MemoryStore struct {
	mu            sync.Mutex
	media         map[string]Media
	subscriptions map[string]map[string]bool
	notifications map[string][]storedNotification
	now           func() time.Time
}

type storedNotification struct {
	event   notify.Event
	created time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		media:         make(map[string]Media),
		subscriptions: make(map[string]map[string]bool),
		notifications: make(map[string][]storedNotification),
		now:           time.Now,
	}
}

func (m *MemoryStore) AddMedia(media Media) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.media[media.ID] = media
}

func (m *MemoryStore) AddSubscription(userID, creatorID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.subscriptions[userID] == nil {
		m.subscriptions[userID] = make(map[string]bool)
	}
	m.subscriptions[userID][creatorID] = true
}

func (m *MemoryStore) Media(ctx context.Context, id string) (Media, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	media, ok := m.media[id]
	if !ok {
		return Media{}, ErrMediaNotFound
	}
	return media, nil
}

func (m *MemoryStore) Subscribed(ctx context.Context, userID, creatorID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.subscriptions[userID][creatorID], nil
}

func (m *MemoryStore) ListNotifications(ctx context.Context, userID string, limit int) ([]notify.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored := append([]storedNotification(nil), m.notifications[userID]...)
	sort.SliceStable(stored, func(i, j int) bool { return stored[i].created.After(stored[j].created) })
	if limit > 0 && len(stored) > limit {
		stored = stored[:limit]
	}
	out := make([]notify.Event, 0, len(stored))
	for _, n := range stored {
		out = append(out, n.event)
	}
	return out, nil
}

func (m *MemoryStore) CreateNotification(ctx context.Context, userID string, ev notify.Event) (notify.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	created := m.now().UTC()
	ev.ID = uuid.NewString()
	ev.IsRead = false
	ev.CreatedAt = created.Format(time.RFC3339Nano)
	m.notifications[userID] = append(m.notifications[userID], storedNotification{event: ev, created: created})
	return ev, nil
}

func (m *MemoryStore) MarkNotificationRead(ctx context.Context, userID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.notifications[userID] {
		if m.notifications[userID][i].event.ID == id {
			m.notifications[userID][i].event.IsRead = true
			return nil
		}
	}
	return ErrNotificationNotFound
}
