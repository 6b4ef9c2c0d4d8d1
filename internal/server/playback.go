package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/creatorpass/creatorpass/internal/auth"
	"github.com/creatorpass/creatorpass/internal/httputil"
	"github.com/creatorpass/creatorpass/internal/metrics"
	"github.com/creatorpass/creatorpass/internal/validate"
)

type playbackTokenRequest struct {
	MediaID string `json:"media_id"`
}

type playbackTokenResponse struct {
	Token string `json:"token"`
}

type secureURLResponse struct {
	URL string `json:"url"`
}

func (s *Server) handlePlaybackToken(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserIDFromContext(r.Context())

	var req playbackTokenRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4096)).Decode(&req); err != nil || req.MediaID == "" {
		httputil.WriteError(w, http.StatusBadRequest, "media_id is required")
		return
	}
	if msg := validate.MediaID(req.MediaID); msg != "" {
		httputil.WriteError(w, http.StatusBadRequest, msg)
		return
	}

	media, ok := s.lookupMedia(w, r, req.MediaID)
	if !ok {
		return
	}

	if media.RequiresSubscription && media.CreatorID != userID {
		subscribed, err := s.catalog.Subscribed(r.Context(), userID, media.CreatorID)
		if err != nil {
			slog.Error("server: check subscription", "media_id", media.ID, "user_id", userID, "error", err)
			httputil.WriteError(w, http.StatusInternalServerError, "could not check subscription")
			return
		}
		if !subscribed {
			metrics.IncPlaybackToken("denied")
			httputil.WriteError(w, http.StatusForbidden, "subscription required")
			return
		}
	}

	if s.objects != nil {
		exists, err := s.objects.Exists(r.Context(), media.ManifestKey)
		if err != nil {
			slog.Error("server: check manifest", "media_id", media.ID, "key", media.ManifestKey, "error", err)
			httputil.WriteError(w, http.StatusBadGateway, "storage unavailable")
			return
		}
		if !exists {
			metrics.IncPlaybackToken("missing")
			httputil.WriteError(w, http.StatusNotFound, "media not ready")
			return
		}
	}

	token, err := auth.GeneratePlaybackToken(s.jwtSecret, userID, media.ID, s.tokenTTL)
	if err != nil {
		slog.Error("server: sign playback token", "error", err)
		httputil.WriteError(w, http.StatusInternalServerError, "could not issue token")
		return
	}
	metrics.IncPlaybackToken("issued")
	httputil.WriteJSON(w, http.StatusOK, playbackTokenResponse{Token: token})
}

// handleSecureURL exchanges a playback token for the signed delivery URL.
// With noredirect=true the URL is returned in the body; otherwise the client
// is redirected to it.
func (s *Server) handleSecureURL(w http.ResponseWriter, r *http.Request) {
	mediaID := chi.URLParam(r, "media_id")
	claims, err := auth.ValidatePlaybackToken(s.jwtSecret, r.URL.Query().Get("token"), mediaID)
	if err != nil || claims.UserID != auth.UserIDFromContext(r.Context()) {
		httputil.WriteError(w, http.StatusForbidden, "invalid playback token")
		return
	}

	media, ok := s.lookupMedia(w, r, mediaID)
	if !ok {
		return
	}
	if s.signer == nil {
		httputil.WriteError(w, http.StatusServiceUnavailable, "media delivery not configured")
		return
	}

	signed := s.signer.SignedURL(s.baseURL, media.ManifestKey)
	if r.URL.Query().Get("noredirect") == "true" {
		httputil.WriteJSON(w, http.StatusOK, secureURLResponse{URL: signed})
		return
	}
	http.Redirect(w, r, signed, http.StatusTemporaryRedirect)
}

func (s *Server) lookupMedia(w http.ResponseWriter, r *http.Request, id string) (Media, bool) {
	media, err := s.catalog.Media(r.Context(), id)
	if errors.Is(err, ErrMediaNotFound) {
		httputil.WriteError(w, http.StatusNotFound, "media not found")
		return Media{}, false
	}
	if err != nil {
		slog.Error("server: load media", "media_id", id, "error", err)
		httputil.WriteError(w, http.StatusInternalServerError, "could not load media")
		return Media{}, false
	}
	return media, true
}
