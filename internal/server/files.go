package server

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/creatorpass/creatorpass/internal/httputil"
	"github.com/creatorpass/creatorpass/internal/storage"
)

// handleFile serves stored media the way a B2-style provider does: every
// object request must carry an Authorization query parameter whose prefix
// covers the key.
func (s *Server) handleFile(w http.ResponseWriter, r *http.Request) {
	key, err := url.PathUnescape(chi.URLParam(r, "*"))
	if err != nil || key == "" {
		httputil.WriteError(w, http.StatusNotFound, "not found")
		return
	}
	// Prefix checks only hold for canonical keys; ".." would climb out of
	// the authorized directory.
	if !storage.ValidKey(key) {
		httputil.WriteError(w, http.StatusBadRequest, "invalid object key")
		return
	}

	if err := s.signer.Verify(key, r.URL.Query().Get("Authorization")); err != nil {
		status := http.StatusForbidden
		message := "download authorization required"
		if errors.Is(err, storage.ErrTokenExpired) {
			message = "download authorization expired"
		}
		httputil.WriteError(w, status, message)
		return
	}

	body, info, err := s.objects.Open(r.Context(), key)
	if errors.Is(err, storage.ErrObjectNotFound) {
		httputil.WriteError(w, http.StatusNotFound, "not found")
		return
	}
	if err != nil {
		slog.Error("server: open object", "key", key, "error", err)
		httputil.WriteError(w, http.StatusBadGateway, "storage unavailable")
		return
	}
	defer func() { _ = body.Close() }()

	contentType := info.ContentType
	if contentType == "" {
		contentType = storage.ContentType(key)
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", "private, max-age=60")
	if info.Size > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(info.Size, 10))
	}
	w.WriteHeader(http.StatusOK)
	if r.Method == http.MethodHead {
		return
	}
	if _, err := io.Copy(w, body); err != nil {
		slog.Debug("server: copy object", "key", key, "error", err)
	}
}
