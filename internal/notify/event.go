package notify

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Event is one notification pushed by the backend or returned by the snapshot endpoint.
type Event struct {
	ID           string `json:"id"`
	Title        string `json:"title"`
	Message      string `json:"message"`
	IsRead       bool   `json:"is_read"`
	ResourceType string `json:"resource_type,omitempty"`
	ResourceID   string `json:"resource_id,omitempty"`
	CreatedAt    string `json:"created_at,omitempty"`
}

var createdAtLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// Created parses CreatedAt. Backends differ on whether they emit a zone, so
// naive timestamps are read as UTC.
func (e Event) Created() (time.Time, bool) {
	if e.CreatedAt == "" {
		return time.Time{}, false
	}
	for _, layout := range createdAtLayouts {
		if t, err := time.Parse(layout, e.CreatedAt); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// ParseEvent decodes a frame payload into an Event.
func ParseEvent(data string) (Event, error) {
	var ev Event
	if err := json.Unmarshal([]byte(strings.TrimSpace(data)), &ev); err != nil {
		return Event{}, fmt.Errorf("decode event: %w", err)
	}
	return ev, nil
}
