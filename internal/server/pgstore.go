package server

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/creatorpass/creatorpass/internal/database"
	"github.com/creatorpass/creatorpass/internal/notify"
)

// PGStore implements Catalog and NotificationStore on Postgres.
type PGStore struct {
	db database.DBTX
}

func NewPGStore(db database.DBTX) *PGStore {
	return &PGStore{db: db}
}

func (s *PGStore) Media(ctx context.Context, id string) (Media, error) {
	var m Media
	err := s.db.QueryRow(ctx,
		`SELECT id, title, creator_id, manifest_key, requires_subscription FROM media WHERE id = $1`,
		id,
	).Scan(&m.ID, &m.Title, &m.CreatorID, &m.ManifestKey, &m.RequiresSubscription)
	if errors.Is(err, pgx.ErrNoRows) {
		return Media{}, ErrMediaNotFound
	}
	if err != nil {
		return Media{}, fmt.Errorf("query media: %w", err)
	}
	return m, nil
}

func (s *PGStore) Subscribed(ctx context.Context, userID, creatorID string) (bool, error) {
	var exists bool
	err := s.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM subscriptions WHERE user_id = $1 AND creator_id = $2)`,
		userID, creatorID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("query subscription: %w", err)
	}
	return exists, nil
}

func (s *PGStore) ListNotifications(ctx context.Context, userID string, limit int) ([]notify.Event, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(ctx,
		`SELECT id, title, message, resource_type, resource_id, is_read, created_at
		 FROM notifications WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2`,
		userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query notifications: %w", err)
	}
	defer rows.Close()

	out := []notify.Event{}
	for rows.Next() {
		var ev notify.Event
		var created time.Time
		if err := rows.Scan(&ev.ID, &ev.Title, &ev.Message, &ev.ResourceType, &ev.ResourceID, &ev.IsRead, &created); err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		ev.CreatedAt = created.UTC().Format(time.RFC3339Nano)
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate notifications: %w", err)
	}
	return out, nil
}

func (s *PGStore) CreateNotification(ctx context.Context, userID string, ev notify.Event) (notify.Event, error) {
	ev.ID = uuid.NewString()
	ev.IsRead = false
	var created time.Time
	err := s.db.QueryRow(ctx,
		`INSERT INTO notifications (id, user_id, title, message, resource_type, resource_id)
		 VALUES ($1, $2, $3, $4, $5, $6) RETURNING created_at`,
		ev.ID, userID, ev.Title, ev.Message, ev.ResourceType, ev.ResourceID,
	).Scan(&created)
	if err != nil {
		return notify.Event{}, fmt.Errorf("insert notification: %w", err)
	}
	ev.CreatedAt = created.UTC().Format(time.RFC3339Nano)
	return ev, nil
}

func (s *PGStore) MarkNotificationRead(ctx context.Context, userID, id string) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE notifications SET is_read = TRUE WHERE id = $1 AND user_id = $2`,
		id, userID,
	)
	if err != nil {
		return fmt.Errorf("mark notification read: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotificationNotFound
	}
	return nil
}
