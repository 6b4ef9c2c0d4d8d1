package httputil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestWriteJSONSetsContentTypeHeader(t *testing.T) {
	recorder := httptest.NewRecorder()

	WriteJSON(recorder, http.StatusOK, map[string]string{"key": "value"})

	contentType := recorder.Header().Get("Content-Type")
	if contentType != "application/json" {
		t.Errorf("expected Content-Type application/json, got %s", contentType)
	}
}

func TestWriteJSONSetsStatusCode(t *testing.T) {
	tests := []struct {
		name       string
		statusCode int
	}{
		{"OK", http.StatusOK},
		{"Created", http.StatusCreated},
		{"Forbidden", http.StatusForbidden},
		{"InternalServerError", http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			recorder := httptest.NewRecorder()

			WriteJSON(recorder, tt.statusCode, map[string]string{"key": "value"})

			if recorder.Code != tt.statusCode {
				t.Errorf("expected status %d, got %d", tt.statusCode, recorder.Code)
			}
		})
	}
}

func TestWriteErrorEncodesMessage(t *testing.T) {
	recorder := httptest.NewRecorder()

	WriteError(recorder, http.StatusForbidden, "subscription required")

	var body ErrorBody
	if err := json.NewDecoder(recorder.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response body: %v", err)
	}
	if body.Error != "subscription required" {
		t.Errorf("expected error message, got %q", body.Error)
	}
}

func TestStartEventStreamSetsHeaders(t *testing.T) {
	recorder := httptest.NewRecorder()

	if _, err := StartEventStream(recorder); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if ct := recorder.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("expected text/event-stream, got %q", ct)
	}
	if cc := recorder.Header().Get("Cache-Control"); cc != "no-cache" {
		t.Errorf("expected no-cache, got %q", cc)
	}
	if !recorder.Flushed {
		t.Error("expected headers to be flushed")
	}
}

func TestWriteEventFramesPayload(t *testing.T) {
	recorder := httptest.NewRecorder()
	flusher, _ := StartEventStream(recorder)

	if err := WriteEvent(recorder, flusher, map[string]string{"id": "1"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := WriteComment(recorder, flusher, "ping"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := "data: {\"id\":\"1\"}\n\n: ping\n\n"
	if recorder.Body.String() != want {
		t.Errorf("expected %q, got %q", want, recorder.Body.String())
	}
}
