package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/creatorpass/creatorpass/internal/auth"
	"github.com/creatorpass/creatorpass/internal/httputil"
	"github.com/creatorpass/creatorpass/internal/notify"
	"github.com/creatorpass/creatorpass/internal/validate"
)

const defaultNotificationLimit = 50

type createNotificationRequest struct {
	Title        string `json:"title"`
	Message      string `json:"message"`
	ResourceType string `json:"resource_type"`
	ResourceID   string `json:"resource_id"`
}

func (s *Server) handleListNotifications(w http.ResponseWriter, r *http.Request) {
	limit := defaultNotificationLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 200 {
			httputil.WriteError(w, http.StatusBadRequest, "limit must be between 1 and 200")
			return
		}
		limit = n
	}

	events, err := s.notes.ListNotifications(r.Context(), auth.UserIDFromContext(r.Context()), limit)
	if err != nil {
		slog.Error("server: list notifications", "error", err)
		httputil.WriteError(w, http.StatusInternalServerError, "could not list notifications")
		return
	}
	if events == nil {
		events = []notify.Event{}
	}
	httputil.WriteJSON(w, http.StatusOK, events)
}

// handleCreateNotification stores a notification for the caller and pushes
// it to the caller's open streams.
func (s *Server) handleCreateNotification(w http.ResponseWriter, r *http.Request) {
	var req createNotificationRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 16*1024)).Decode(&req); err != nil || req.Title == "" {
		httputil.WriteError(w, http.StatusBadRequest, "title is required")
		return
	}
	if msg := validate.First(
		validate.NotificationTitle(req.Title),
		validate.NotificationMessage(req.Message),
		validate.ResourceType(req.ResourceType),
		validate.ResourceID(req.ResourceID),
	); msg != "" {
		httputil.WriteError(w, http.StatusBadRequest, msg)
		return
	}

	userID := auth.UserIDFromContext(r.Context())
	ev, err := s.notes.CreateNotification(r.Context(), userID, notify.Event{
		Title:        req.Title,
		Message:      req.Message,
		ResourceType: req.ResourceType,
		ResourceID:   req.ResourceID,
	})
	if err != nil {
		slog.Error("server: create notification", "error", err)
		httputil.WriteError(w, http.StatusInternalServerError, "could not create notification")
		return
	}

	delivered := s.hub.Publish(userID, ev)
	slog.Debug("server: notification published", "id", ev.ID, "streams", delivered)
	httputil.WriteJSON(w, http.StatusCreated, ev)
}

func (s *Server) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	err := s.notes.MarkNotificationRead(r.Context(), auth.UserIDFromContext(r.Context()), id)
	if errors.Is(err, ErrNotificationNotFound) {
		httputil.WriteError(w, http.StatusNotFound, "notification not found")
		return
	}
	if err != nil {
		slog.Error("server: mark notification read", "id", id, "error", err)
		httputil.WriteError(w, http.StatusInternalServerError, "could not update notification")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleNotificationStream holds the response open and writes one
// "data: <json>" frame per notification, with comment heartbeats between.
func (s *Server) handleNotificationStream(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserIDFromContext(r.Context())
	events, cancel := s.hub.Subscribe(userID)
	defer cancel()

	flusher, err := httputil.StartEventStream(w)
	if err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	slog.Info("server: notification stream opened", "user_id", userID)
	defer slog.Info("server: notification stream closed", "user_id", userID)

	heartbeat := time.NewTicker(s.heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case ev := <-events:
			if err := httputil.WriteEvent(w, flusher, ev); err != nil {
				return
			}
		case <-heartbeat.C:
			if err := httputil.WriteComment(w, flusher, "keep-alive"); err != nil {
				return
			}
		case <-r.Context().Done():
			return
		}
	}
}
