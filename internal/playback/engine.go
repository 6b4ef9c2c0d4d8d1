package playback

import (
	"context"
)

// EngineKind names an engine implementation for logs and metrics.
type EngineKind string

const (
	EngineAdaptive EngineKind = "adaptive"
	EngineNative   EngineKind = "native"
)

// EventType is the type of an engine lifecycle event.
type EventType string

const (
	EventManifestParsed EventType = "manifest_parsed"
	EventFatal          EventType = "fatal"
	EventEnded          EventType = "ended"
)

// EngineEvent is delivered on Engine.Events.
type EngineEvent struct {
	Type     EventType
	Variants int
	Segments int
	Err      error
}

// Engine is the capability surface shared by every playback engine.
type Engine interface {
	Kind() EngineKind
	// Load starts fetching src. hook, when non-nil, must be applied to every
	// sub-request the engine issues. Progress is reported on Events.
	Load(ctx context.Context, src string, hook RequestHook) error
	// Events delivers lifecycle events until the engine is disposed.
	Events() <-chan EngineEvent
	// Play starts playback after the manifest was parsed. An error means
	// autoplay was refused; the engine stays usable.
	Play(ctx context.Context) error
	// Dispose releases every resource held by the engine. It is safe to call
	// at any point after construction.
	Dispose()
}

// EngineProvider selects the engine for one play attempt.
type EngineProvider struct {
	Capabilities Capabilities
	// NewAdaptive builds an adaptive engine; nil disables that path.
	NewAdaptive func() Engine
	// Native plays manifests without sub-request interception; nil disables.
	Native NativePlayer
}

// Select applies the engine policy: adaptive engine when supported, native
// playback when the runtime can play the manifest type, otherwise
// ErrUnsupportedFormat.
func (p EngineProvider) Select() (Engine, error) {
	if p.Capabilities.Adaptive && p.NewAdaptive != nil {
		return p.NewAdaptive(), nil
	}
	if p.Capabilities.NativeHLS && p.Native != nil && p.Native.CanPlayType(HLSMimeType) {
		return NewNativeEngine(p.Native), nil
	}
	return nil, ErrUnsupportedFormat
}
