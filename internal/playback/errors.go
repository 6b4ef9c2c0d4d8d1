package playback

import (
	"errors"
	"fmt"
)

// ErrorKind classifies playback failures so callers can choose between an
// upsell, a retry affordance, or a static message.
type ErrorKind string

const (
	KindAccessDenied      ErrorKind = "access_denied"
	KindNotFound          ErrorKind = "not_found"
	KindNetwork           ErrorKind = "network"
	KindTimeout           ErrorKind = "timeout"
	KindStreamFatal       ErrorKind = "stream_fatal"
	KindUnsupportedFormat ErrorKind = "unsupported_format"
)

var (
	ErrUnsupportedFormat = errors.New("playback: format unsupported")
	ErrEngineLoaded      = errors.New("playback: engine already loaded")
)

// Error is a classified playback failure.
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("playback: %s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("playback: %s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Retryable reports whether re-entering Loading can succeed without the user
// changing anything first.
func (k ErrorKind) Retryable() bool {
	switch k {
	case KindNetwork, KindTimeout, KindStreamFatal:
		return true
	default:
		return false
	}
}

// KindOf returns the kind carried by err, or KindNetwork for unclassified errors.
func KindOf(err error) ErrorKind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	if errors.Is(err, ErrUnsupportedFormat) {
		return KindUnsupportedFormat
	}
	return KindNetwork
}
