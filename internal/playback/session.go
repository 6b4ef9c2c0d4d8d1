package playback

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/creatorpass/creatorpass/internal/metrics"
)

// State is the externally visible state of a Session.
type State string

const (
	StateLocked  State = "locked"
	StateIdle    State = "idle"
	StateLoading State = "loading"
	StatePlaying State = "playing"
	StateError   State = "error"
)

const (
	msgLocked      = "This content requires a subscription."
	msgDenied      = "Access Denied. Please subscribe to watch."
	msgLoadFailed  = "Failed to load video."
	msgTimeout     = "Video took too long to load."
	msgUnsupported = "HLS playback is not supported on this device."
	msgStreamError = "Playback failed (Stream Error)."
	msgNativeError = "Playback failed (Native)."
)

// Status is what a Session exposes to its caller. Kind and Message are only
// set in StateError and StateLocked.
type Status struct {
	State   State
	Kind    ErrorKind
	Message string
}

// CanRetry reports whether a "try again" affordance applies.
func (s Status) CanRetry() bool {
	return s.State == StateError && s.Kind.Retryable()
}

// ShowUpsell reports whether the caller should offer a subscription instead
// of an error.
func (s Status) ShowUpsell() bool {
	return s.State == StateLocked || (s.State == StateError && s.Kind == KindAccessDenied)
}

// SessionOption configures a Session.
type SessionOption func(*Session)

// WithLocked starts the session in StateLocked: the caller lacks the
// entitlement, so Play shows the upsell and never resolves.
func WithLocked(locked bool) SessionOption {
	return func(s *Session) {
		if locked {
			s.status = Status{State: StateLocked, Message: msgLocked}
		}
	}
}

// WithManifestTimeout bounds the wait for the engine's manifest-parsed event.
func WithManifestTimeout(d time.Duration) SessionOption {
	return func(s *Session) {
		if d > 0 {
			s.manifestTimeout = d
		}
	}
}

// Session is one playback of one media item. It owns its engine handle and
// authorization value; two sessions never share either.
type Session struct {
	id              string
	mediaID         string
	resolver        Resolver
	engines         EngineProvider
	manifestTimeout time.Duration
	logger          *slog.Logger

	mu     sync.Mutex
	status Status
	gen    uint64
	engine Engine
	auth   string
	cancel context.CancelFunc
	closed bool
	subs   map[int]chan Status
	nextID int

	wg sync.WaitGroup
}

func NewSession(mediaID string, resolver Resolver, engines EngineProvider, opts ...SessionOption) *Session {
	s := &Session{
		id:              uuid.NewString(),
		mediaID:         mediaID,
		resolver:        resolver,
		engines:         engines,
		manifestTimeout: DefaultManifestTimeout,
		status:          Status{State: StateIdle},
		subs:            make(map[int]chan Status),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = slog.With("session", s.id, "media_id", mediaID)
	return s
}

func (s *Session) ID() string { return s.id }

func (s *Session) MediaID() string { return s.mediaID }

func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Authorization returns the authorization value of the current attempt.
func (s *Session) Authorization() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.auth
}

// Subscribe returns a channel of status changes. Slow subscribers miss
// intermediate states; Status always has the latest.
func (s *Session) Subscribe() (<-chan Status, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch := make(chan Status, 8)
	if s.closed {
		close(ch)
		return ch, func() {}
	}
	id := s.nextID
	s.nextID++
	s.subs[id] = ch
	return ch, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if c, ok := s.subs[id]; ok {
			delete(s.subs, id)
			close(c)
		}
	}
}

// Unlock moves a locked session to idle once the caller holds the entitlement.
func (s *Session) Unlock() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status.State == StateLocked {
		s.setStatusLocked(Status{State: StateIdle})
	}
}

// Play starts a play attempt and blocks until it reaches playing or error,
// or until ctx is done. Cancelling ctx abandons the attempt, releases its
// engine and returns the session to idle. Playback continues after Play
// returns; Close stops it.
func (s *Session) Play(ctx context.Context) Status {
	s.mu.Lock()
	switch {
	case s.closed:
		st := s.status
		s.mu.Unlock()
		return st
	case s.status.State == StateLocked:
		st := s.status
		s.mu.Unlock()
		s.logger.Debug("playback: content locked")
		return st
	case s.status.State == StateLoading || s.status.State == StatePlaying:
		st := s.status
		s.mu.Unlock()
		return st
	case s.status.State == StateError && s.status.Kind == KindUnsupportedFormat:
		st := s.status
		s.mu.Unlock()
		return st
	}

	s.gen++
	gen := s.gen
	attemptCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel
	s.setStatusLocked(Status{State: StateLoading})
	ready := make(chan struct{})
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		s.attempt(attemptCtx, gen, ready)
	}()

	select {
	case <-ready:
	case <-ctx.Done():
		s.abandon(gen)
	}
	return s.Status()
}

// Retry fully resets the session and starts a fresh attempt with a new
// resolution and a new engine. Unsupported format is terminal.
func (s *Session) Retry(ctx context.Context) Status {
	s.mu.Lock()
	if s.closed || s.status.State != StateError || s.status.Kind == KindUnsupportedFormat {
		st := s.status
		s.mu.Unlock()
		return st
	}
	s.gen++
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	engine := s.engine
	s.engine = nil
	s.auth = ""
	s.setStatusLocked(Status{State: StateIdle})
	s.mu.Unlock()

	s.dispose(engine)
	return s.Play(ctx)
}

// Close tears the session down. The active engine is released whether the
// attempt was loading or playing.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.gen++
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	engine := s.engine
	s.engine = nil
	s.auth = ""
	if s.status.State != StateLocked {
		s.setStatusLocked(Status{State: StateIdle})
	}
	s.closed = true
	for id, ch := range s.subs {
		delete(s.subs, id)
		close(ch)
	}
	s.mu.Unlock()

	s.dispose(engine)
	s.wg.Wait()
}

func (s *Session) attempt(ctx context.Context, gen uint64, ready chan struct{}) {
	var once sync.Once
	signal := func() { once.Do(func() { close(ready) }) }
	defer signal()

	desc, err := s.resolver.Resolve(ctx, s.mediaID)
	if err != nil {
		kind := KindOf(err)
		s.fail(gen, nil, kind, resolveMessage(kind), err)
		return
	}

	engine, err := s.engines.Select()
	if err != nil {
		s.fail(gen, nil, KindUnsupportedFormat, msgUnsupported, err)
		return
	}

	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		s.dispose(engine)
		return
	}
	s.engine = engine
	s.auth = desc.Authorization
	s.mu.Unlock()

	if err := engine.Load(ctx, desc.URL, NewRequestHook(desc.Authorization)); err != nil {
		s.release(engine)
		s.fail(gen, engine, KindStreamFatal, engineMessage(engine), err)
		return
	}

	timer := time.NewTimer(s.manifestTimeout)
	defer timer.Stop()
	events := engine.Events()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			switch ev.Type {
			case EventManifestParsed:
				timer.Stop()
				if err := engine.Play(ctx); err != nil {
					s.logger.Info("playback: autoplay refused", "error", err)
				}
				if s.transition(gen, Status{State: StatePlaying}) {
					metrics.ObservePlaybackAttempt(string(engine.Kind()), "playing")
					s.logger.Info("playback: playing", "engine", engine.Kind(), "variants", ev.Variants, "segments", ev.Segments)
				}
				signal()
			case EventFatal:
				s.release(engine)
				s.fail(gen, engine, KindStreamFatal, engineMessage(engine), ev.Err)
				return
			case EventEnded:
				s.release(engine)
				s.transition(gen, Status{State: StateIdle})
				return
			}
		case <-timer.C:
			s.release(engine)
			s.fail(gen, engine, KindTimeout, msgTimeout, errors.New("manifest load timed out"))
			return
		case <-ctx.Done():
			return
		}
	}
}

func (s *Session) abandon(gen uint64) {
	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		return
	}
	s.gen++
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	engine := s.engine
	s.engine = nil
	s.auth = ""
	s.setStatusLocked(Status{State: StateIdle})
	s.mu.Unlock()

	s.logger.Debug("playback: attempt abandoned")
	s.dispose(engine)
}

// transition applies st only if gen is still the current attempt.
func (s *Session) transition(gen uint64, st Status) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen != gen || s.closed {
		return false
	}
	s.setStatusLocked(st)
	return true
}

func (s *Session) fail(gen uint64, engine Engine, kind ErrorKind, msg string, err error) {
	if !s.transition(gen, Status{State: StateError, Kind: kind, Message: msg}) {
		return
	}
	engineKind := ""
	if engine != nil {
		engineKind = string(engine.Kind())
	}
	metrics.ObservePlaybackAttempt(engineKind, string(kind))
	s.logger.Warn("playback: attempt failed", "kind", kind, "engine", engineKind, "error", err)
}

// release disposes engine if it is still the session's active engine.
func (s *Session) release(engine Engine) {
	s.mu.Lock()
	if s.engine != engine {
		s.mu.Unlock()
		return
	}
	s.engine = nil
	s.auth = ""
	s.mu.Unlock()
	s.dispose(engine)
}

func (s *Session) dispose(engine Engine) {
	if engine == nil {
		return
	}
	engine.Dispose()
	metrics.IncEngineRelease(string(engine.Kind()))
}

func (s *Session) setStatusLocked(st Status) {
	if s.status == st {
		return
	}
	s.status = st
	for _, ch := range s.subs {
		select {
		case ch <- st:
		default:
		}
	}
}

func resolveMessage(kind ErrorKind) string {
	switch kind {
	case KindAccessDenied:
		return msgDenied
	case KindTimeout:
		return msgTimeout
	default:
		return msgLoadFailed
	}
}

func engineMessage(e Engine) string {
	if e.Kind() == EngineNative {
		return msgNativeError
	}
	return msgStreamError
}
