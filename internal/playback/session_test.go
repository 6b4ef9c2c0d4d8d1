package playback

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"
)

type fakeEngine struct {
	kind      EngineKind
	events    chan EngineEvent
	autoParse bool
	loadErr   error
	playErr   error

	mu       sync.Mutex
	src      string
	hook     RequestHook
	disposed atomic.Int32
}

func newFakeEngine(kind EngineKind, autoParse bool) *fakeEngine {
	return &fakeEngine{kind: kind, events: make(chan EngineEvent, 4), autoParse: autoParse}
}

func (e *fakeEngine) Kind() EngineKind           { return e.kind }
func (e *fakeEngine) Events() <-chan EngineEvent { return e.events }
func (e *fakeEngine) Play(ctx context.Context) error {
	return e.playErr
}

func (e *fakeEngine) Load(ctx context.Context, src string, hook RequestHook) error {
	e.mu.Lock()
	e.src, e.hook = src, hook
	e.mu.Unlock()
	if e.loadErr != nil {
		return e.loadErr
	}
	if e.autoParse {
		e.events <- EngineEvent{Type: EventManifestParsed, Segments: 3}
	}
	return nil
}

func (e *fakeEngine) Dispose() { e.disposed.Add(1) }

func (e *fakeEngine) Hook() RequestHook {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.hook
}

// engineFactory hands out fake engines and remembers them.
type engineFactory struct {
	mu        sync.Mutex
	autoParse bool
	loadErr   error
	playErr   error
	engines   []*fakeEngine
}

func (f *engineFactory) New() Engine {
	f.mu.Lock()
	defer f.mu.Unlock()
	e := newFakeEngine(EngineAdaptive, f.autoParse)
	e.loadErr, e.playErr = f.loadErr, f.playErr
	f.engines = append(f.engines, e)
	return e
}

func (f *engineFactory) All() []*fakeEngine {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*fakeEngine(nil), f.engines...)
}

func (f *engineFactory) provider() EngineProvider {
	return EngineProvider{Capabilities: Capabilities{Adaptive: true}, NewAdaptive: f.New}
}

type resolverFunc func(ctx context.Context, contentID string) (DeliveryDescriptor, error)

func (f resolverFunc) Resolve(ctx context.Context, contentID string) (DeliveryDescriptor, error) {
	return f(ctx, contentID)
}

func signedResolver(auth string, calls *atomic.Int32) Resolver {
	return resolverFunc(func(ctx context.Context, id string) (DeliveryDescriptor, error) {
		if calls != nil {
			calls.Add(1)
		}
		return NewDeliveryDescriptor("https://store.example/file/" + id + "/master.m3u8?Authorization=" + auth), nil
	})
}

func waitForState(t *testing.T, s *Session, want State) Status {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if st := s.Status(); st.State == want {
			return st
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("state = %q, want %q", s.Status().State, want)
	return Status{}
}

func assertDisposedOnce(t *testing.T, engines []*fakeEngine) {
	t.Helper()
	for i, e := range engines {
		if n := e.disposed.Load(); n != 1 {
			t.Errorf("engine %d disposed %d times, want 1", i, n)
		}
	}
}

func TestSessionLocked(t *testing.T) {
	var calls atomic.Int32
	factory := &engineFactory{autoParse: true}
	s := NewSession("m1", signedResolver("A", &calls), factory.provider(), WithLocked(true))
	defer s.Close()

	st := s.Play(context.Background())
	if st.State != StateLocked || !st.ShowUpsell() {
		t.Errorf("status = %+v, want locked with upsell", st)
	}
	if st.Message != msgLocked {
		t.Errorf("message = %q", st.Message)
	}
	if calls.Load() != 0 {
		t.Error("resolver called for locked content")
	}
	if len(factory.All()) != 0 {
		t.Error("engine created for locked content")
	}

	s.Unlock()
	if st := s.Play(context.Background()); st.State != StatePlaying {
		t.Errorf("after unlock status = %+v, want playing", st)
	}
}

func TestSessionPlayAndClose(t *testing.T) {
	defer goleak.VerifyNone(t)

	factory := &engineFactory{autoParse: true}
	s := NewSession("m1", signedResolver("ABC123", nil), factory.provider())

	updates, unsubscribe := s.Subscribe()
	defer unsubscribe()

	st := s.Play(context.Background())
	if st.State != StatePlaying {
		t.Fatalf("status = %+v, want playing", st)
	}
	if s.Authorization() != "ABC123" {
		t.Errorf("authorization = %q", s.Authorization())
	}

	engines := factory.All()
	if len(engines) != 1 {
		t.Fatalf("engines = %d, want 1", len(engines))
	}
	hook := engines[0].Hook()
	if hook == nil {
		t.Fatal("engine loaded without request hook")
	}
	if got := hook("https://store.example/seg1.ts"); got != "https://store.example/seg1.ts?Authorization=ABC123" {
		t.Errorf("hook(segment) = %q", got)
	}

	if got := (<-updates).State; got != StateLoading {
		t.Errorf("first update = %q, want loading", got)
	}
	if got := (<-updates).State; got != StatePlaying {
		t.Errorf("second update = %q, want playing", got)
	}

	// Playing again is a no-op.
	if st := s.Play(context.Background()); st.State != StatePlaying || len(factory.All()) != 1 {
		t.Errorf("second Play started a new attempt: %+v", st)
	}

	s.Close()
	s.Close()
	assertDisposedOnce(t, engines)
	if s.Status().State != StateIdle {
		t.Errorf("state after close = %q", s.Status().State)
	}
	if s.Authorization() != "" {
		t.Error("authorization kept after close")
	}
}

func TestSessionPublicContentHasNoHook(t *testing.T) {
	factory := &engineFactory{autoParse: true}
	resolver := resolverFunc(func(ctx context.Context, id string) (DeliveryDescriptor, error) {
		return NewDeliveryDescriptor("https://cdn.example/public/master.m3u8"), nil
	})
	s := NewSession("m1", resolver, factory.provider())
	defer s.Close()

	if st := s.Play(context.Background()); st.State != StatePlaying {
		t.Fatalf("status = %+v", st)
	}
	if factory.All()[0].Hook() != nil {
		t.Error("hook installed for public content")
	}
}

func TestSessionResolveFailures(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		kind    ErrorKind
		message string
		retry   bool
		upsell  bool
	}{
		{"access denied", &Error{Kind: KindAccessDenied, Op: "request token"}, KindAccessDenied, msgDenied, false, true},
		{"network", &Error{Kind: KindNetwork, Op: "request token"}, KindNetwork, msgLoadFailed, true, false},
		{"not found", &Error{Kind: KindNotFound, Op: "resolve url"}, KindNotFound, msgLoadFailed, false, false},
		{"timeout", &Error{Kind: KindTimeout, Op: "request token"}, KindTimeout, msgTimeout, true, false},
		{"unclassified", errors.New("boom"), KindNetwork, msgLoadFailed, true, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			factory := &engineFactory{autoParse: true}
			resolver := resolverFunc(func(ctx context.Context, id string) (DeliveryDescriptor, error) {
				return DeliveryDescriptor{}, tt.err
			})
			s := NewSession("m1", resolver, factory.provider())
			defer s.Close()

			st := s.Play(context.Background())
			if st.State != StateError || st.Kind != tt.kind || st.Message != tt.message {
				t.Errorf("status = %+v, want error %q %q", st, tt.kind, tt.message)
			}
			if st.CanRetry() != tt.retry || st.ShowUpsell() != tt.upsell {
				t.Errorf("retry %v upsell %v, want %v %v", st.CanRetry(), st.ShowUpsell(), tt.retry, tt.upsell)
			}
			if len(factory.All()) != 0 {
				t.Error("engine created after failed resolution")
			}
		})
	}
}

func TestSessionUnsupportedIsTerminal(t *testing.T) {
	var calls atomic.Int32
	s := NewSession("m1", signedResolver("A", &calls), EngineProvider{})
	defer s.Close()

	st := s.Play(context.Background())
	if st.State != StateError || st.Kind != KindUnsupportedFormat || st.Message != msgUnsupported {
		t.Fatalf("status = %+v", st)
	}
	if st.CanRetry() {
		t.Error("unsupported format offered retry")
	}
	if st := s.Retry(context.Background()); st.Kind != KindUnsupportedFormat {
		t.Errorf("retry changed status to %+v", st)
	}
	if st := s.Play(context.Background()); st.Kind != KindUnsupportedFormat {
		t.Errorf("play changed status to %+v", st)
	}
	if calls.Load() != 1 {
		t.Errorf("resolver called %d times, want 1", calls.Load())
	}
}

func TestSessionStreamFatalAndRetry(t *testing.T) {
	defer goleak.VerifyNone(t)

	var calls atomic.Int32
	factory := &engineFactory{autoParse: true}
	s := NewSession("m1", signedResolver("A", &calls), factory.provider())

	if st := s.Play(context.Background()); st.State != StatePlaying {
		t.Fatalf("status = %+v", st)
	}
	first := factory.All()[0]
	first.events <- EngineEvent{Type: EventFatal, Err: errors.New("segment 403")}

	st := waitForState(t, s, StateError)
	if st.Kind != KindStreamFatal || st.Message != msgStreamError || !st.CanRetry() {
		t.Errorf("status = %+v", st)
	}
	if n := first.disposed.Load(); n != 1 {
		t.Errorf("failed engine disposed %d times, want 1", n)
	}

	if st := s.Retry(context.Background()); st.State != StatePlaying {
		t.Fatalf("retry status = %+v", st)
	}
	engines := factory.All()
	if len(engines) != 2 || engines[1] == first {
		t.Fatalf("retry reused engine: %d engines", len(engines))
	}
	if calls.Load() != 2 {
		t.Errorf("resolver called %d times, want fresh resolution on retry", calls.Load())
	}

	s.Close()
	assertDisposedOnce(t, engines)
}

func TestSessionNativeFatalMessage(t *testing.T) {
	engine := newFakeEngine(EngineNative, true)
	provider := EngineProvider{Capabilities: Capabilities{Adaptive: true}, NewAdaptive: func() Engine { return engine }}
	s := NewSession("m1", signedResolver("A", nil), provider)
	defer s.Close()

	s.Play(context.Background())
	engine.events <- EngineEvent{Type: EventFatal, Err: errors.New("decode")}
	if st := waitForState(t, s, StateError); st.Message != msgNativeError {
		t.Errorf("message = %q, want %q", st.Message, msgNativeError)
	}
}

func TestSessionEndedReturnsToIdle(t *testing.T) {
	factory := &engineFactory{autoParse: true}
	s := NewSession("m1", signedResolver("A", nil), factory.provider())
	defer s.Close()

	s.Play(context.Background())
	factory.All()[0].events <- EngineEvent{Type: EventEnded}
	waitForState(t, s, StateIdle)
	assertDisposedOnce(t, factory.All())
}

func TestSessionAutoplayRefusedIsNotFatal(t *testing.T) {
	factory := &engineFactory{autoParse: true, playErr: ErrAutoplayBlocked}
	s := NewSession("m1", signedResolver("A", nil), factory.provider())
	defer s.Close()

	if st := s.Play(context.Background()); st.State != StatePlaying {
		t.Errorf("status = %+v, want playing", st)
	}
}

func TestSessionLoadError(t *testing.T) {
	factory := &engineFactory{loadErr: errors.New("bad source")}
	s := NewSession("m1", signedResolver("A", nil), factory.provider())
	defer s.Close()

	st := s.Play(context.Background())
	if st.State != StateError || st.Kind != KindStreamFatal {
		t.Errorf("status = %+v", st)
	}
	assertDisposedOnce(t, factory.All())
}

func TestSessionManifestTimeout(t *testing.T) {
	factory := &engineFactory{}
	s := NewSession("m1", signedResolver("A", nil), factory.provider(), WithManifestTimeout(30*time.Millisecond))
	defer s.Close()

	st := s.Play(context.Background())
	if st.State != StateError || st.Kind != KindTimeout || st.Message != msgTimeout {
		t.Errorf("status = %+v", st)
	}
	assertDisposedOnce(t, factory.All())
}

func TestSessionCancelWhileLoading(t *testing.T) {
	defer goleak.VerifyNone(t)

	factory := &engineFactory{}
	s := NewSession("m1", signedResolver("A", nil), factory.provider())

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	st := s.Play(ctx)
	if st.State != StateIdle {
		t.Errorf("status = %+v, want idle after abandon", st)
	}
	assertDisposedOnce(t, factory.All())

	s.Close()
	assertDisposedOnce(t, factory.All())
}

func TestSessionCloseWhileLoading(t *testing.T) {
	factory := &engineFactory{}
	s := NewSession("m1", signedResolver("A", nil), factory.provider())

	done := make(chan Status, 1)
	go func() { done <- s.Play(context.Background()) }()

	deadline := time.Now().Add(2 * time.Second)
	for len(factory.All()) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	s.Close()

	select {
	case st := <-done:
		if st.State == StatePlaying {
			t.Errorf("status = %+v after close", st)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Play did not return after Close")
	}
	assertDisposedOnce(t, factory.All())
}

func TestSessionLateResolutionIsDiscarded(t *testing.T) {
	release := make(chan struct{})
	resolver := resolverFunc(func(ctx context.Context, id string) (DeliveryDescriptor, error) {
		<-release
		return NewDeliveryDescriptor("https://store.example/file?Authorization=LATE"), nil
	})
	factory := &engineFactory{autoParse: true}
	s := NewSession("m1", resolver, factory.provider())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if st := s.Play(ctx); st.State != StateIdle {
		t.Fatalf("status = %+v, want idle", st)
	}

	close(release)
	time.Sleep(50 * time.Millisecond)
	if st := s.Status(); st.State != StateIdle {
		t.Errorf("late resolution changed state to %+v", st)
	}
	if s.Authorization() != "" {
		t.Errorf("late resolution set authorization %q", s.Authorization())
	}
	s.Close()
	assertDisposedOnce(t, factory.All())
}

func TestSessionsAreIsolated(t *testing.T) {
	factoryA := &engineFactory{autoParse: true}
	factoryB := &engineFactory{autoParse: true}
	a := NewSession("a", signedResolver("AAA", nil), factoryA.provider())
	b := NewSession("b", signedResolver("BBB", nil), factoryB.provider())
	defer b.Close()

	var wg sync.WaitGroup
	for _, s := range []*Session{a, b} {
		wg.Add(1)
		go func(s *Session) {
			defer wg.Done()
			s.Play(context.Background())
		}(s)
	}
	wg.Wait()

	if a.ID() == b.ID() {
		t.Error("sessions share an id")
	}
	if a.Authorization() != "AAA" || b.Authorization() != "BBB" {
		t.Errorf("authorization a=%q b=%q", a.Authorization(), b.Authorization())
	}
	if got := factoryB.All()[0].Hook()("https://store.example/seg.ts"); got != "https://store.example/seg.ts?Authorization=BBB" {
		t.Errorf("b hook = %q", got)
	}

	a.Close()
	if n := factoryB.All()[0].disposed.Load(); n != 0 {
		t.Errorf("closing a disposed b's engine %d times", n)
	}
	if b.Status().State != StatePlaying {
		t.Errorf("b state = %q after closing a", b.Status().State)
	}
}
