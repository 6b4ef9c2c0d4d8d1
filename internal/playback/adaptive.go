package playback

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/avast/retry-go/v4"
)

const (
	DefaultManifestTimeout = 15 * time.Second
	defaultSegmentRetries  = 2
	defaultRetryDelay      = 500 * time.Millisecond
	defaultLiveReload      = 6 * time.Second
	maxPlaylistBytes       = 4 << 20
	maxSegmentBytes        = 64 << 20
)

// AdaptiveConfig configures an AdaptiveEngine.
type AdaptiveConfig struct {
	// Client is the base HTTP client; its transport is wrapped with the
	// request hook on Load.
	Client  *http.Client
	Surface Surface
	// MaxBandwidth caps variant selection in bits per second; 0 picks the best.
	MaxBandwidth int
	// ManifestTimeout bounds loading the manifest and the selected variant.
	ManifestTimeout time.Duration
	SegmentRetries  int
	RetryDelay      time.Duration
}

// AdaptiveEngine is an in-process HLS engine. Every manifest, playlist and
// segment request goes through the transport hook installed by Load.
type AdaptiveEngine struct {
	cfg    AdaptiveConfig
	events chan EngineEvent
	play   chan struct{}

	playOnce    sync.Once
	disposeOnce sync.Once
	wg          sync.WaitGroup

	mu        sync.Mutex
	loaded    bool
	disposed  bool
	cancel    context.CancelFunc
	transport *HookTransport
}

func NewAdaptiveEngine(cfg AdaptiveConfig) *AdaptiveEngine {
	if cfg.Client == nil {
		cfg.Client = &http.Client{}
	}
	if cfg.Surface == nil {
		cfg.Surface = &DiscardSurface{}
	}
	if cfg.ManifestTimeout <= 0 {
		cfg.ManifestTimeout = DefaultManifestTimeout
	}
	if cfg.SegmentRetries < 0 {
		cfg.SegmentRetries = 0
	} else if cfg.SegmentRetries == 0 {
		cfg.SegmentRetries = defaultSegmentRetries
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = defaultRetryDelay
	}
	return &AdaptiveEngine{
		cfg:    cfg,
		events: make(chan EngineEvent, 4),
		play:   make(chan struct{}),
	}
}

func (e *AdaptiveEngine) Kind() EngineKind { return EngineAdaptive }

func (e *AdaptiveEngine) Events() <-chan EngineEvent { return e.events }

func (e *AdaptiveEngine) Load(ctx context.Context, src string, hook RequestHook) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.disposed {
		return fmt.Errorf("playback: load on disposed engine")
	}
	if e.loaded {
		return ErrEngineLoaded
	}
	e.loaded = true

	runCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.transport = NewHookTransport(e.cfg.Client.Transport, hook)
	client := &http.Client{
		Transport:     e.transport,
		CheckRedirect: e.cfg.Client.CheckRedirect,
		Jar:           e.cfg.Client.Jar,
		Timeout:       e.cfg.Client.Timeout,
	}

	e.wg.Add(1)
	go e.run(runCtx, client, src)
	return nil
}

func (e *AdaptiveEngine) Play(ctx context.Context) error {
	err := e.cfg.Surface.Autoplay()
	e.playOnce.Do(func() { close(e.play) })
	return err
}

func (e *AdaptiveEngine) Dispose() {
	e.disposeOnce.Do(func() {
		e.mu.Lock()
		e.disposed = true
		cancel := e.cancel
		transport := e.transport
		e.mu.Unlock()

		if cancel != nil {
			cancel()
		}
		e.wg.Wait()
		if transport != nil {
			transport.CloseIdleConnections()
		}
	})
}

func (e *AdaptiveEngine) run(ctx context.Context, client *http.Client, src string) {
	defer e.wg.Done()
	defer close(e.events)

	media, err := e.loadManifest(ctx, client, src)
	if err != nil {
		if ctx.Err() == nil {
			e.emit(ctx, EngineEvent{Type: EventFatal, Err: err})
		}
		return
	}
	e.emit(ctx, EngineEvent{Type: EventManifestParsed, Variants: media.variants, Segments: len(media.playlist.Segments)})

	select {
	case <-e.play:
	case <-ctx.Done():
		return
	}

	if err := e.stream(ctx, client, media); err != nil {
		if ctx.Err() == nil {
			e.emit(ctx, EngineEvent{Type: EventFatal, Err: err})
		}
		return
	}
	e.emit(ctx, EngineEvent{Type: EventEnded})
}

func (e *AdaptiveEngine) emit(ctx context.Context, ev EngineEvent) {
	select {
	case e.events <- ev:
	case <-ctx.Done():
	}
}

type mediaSource struct {
	playlist *Playlist
	url      string
	variants int
}

func (e *AdaptiveEngine) loadManifest(ctx context.Context, client *http.Client, src string) (*mediaSource, error) {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.ManifestTimeout)
	defer cancel()

	pl, plURL, err := fetchPlaylist(ctx, client, src)
	if err != nil {
		return nil, fmt.Errorf("load manifest: %w", err)
	}
	if !pl.Master {
		return &mediaSource{playlist: pl, url: plURL}, nil
	}

	variant, _ := pl.PickVariant(e.cfg.MaxBandwidth)
	slog.Debug("playback: selected variant", "bandwidth", variant.Bandwidth, "resolution", variant.Resolution)
	media, mediaURL, err := fetchPlaylist(ctx, client, variant.URI.String())
	if err != nil {
		return nil, fmt.Errorf("load variant playlist: %w", err)
	}
	if media.Master {
		return nil, fmt.Errorf("load variant playlist: nested master playlist")
	}
	return &mediaSource{playlist: media, url: mediaURL, variants: len(pl.Variants)}, nil
}

func (e *AdaptiveEngine) stream(ctx context.Context, client *http.Client, media *mediaSource) error {
	pl := media.playlist
	if pl.Init != nil {
		if err := e.fetchSegment(ctx, client, *pl.Init); err != nil {
			return err
		}
	}

	next := 0
	for {
		for _, seg := range pl.Segments {
			if seg.Sequence < next {
				continue
			}
			if err := e.fetchSegment(ctx, client, seg); err != nil {
				return err
			}
			next = seg.Sequence + 1
		}
		if pl.Ended {
			return nil
		}

		reload := time.Duration(pl.TargetDuration * float64(time.Second))
		if reload <= 0 {
			reload = defaultLiveReload
		}
		timer := time.NewTimer(reload)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}

		reloaded, err := e.reloadPlaylist(ctx, client, media.url)
		if err != nil {
			return fmt.Errorf("reload playlist: %w", err)
		}
		pl = reloaded
	}
}

func (e *AdaptiveEngine) reloadPlaylist(ctx context.Context, client *http.Client, u string) (*Playlist, error) {
	var pl *Playlist
	err := e.retry(ctx, func() error {
		var err error
		pl, _, err = fetchPlaylist(ctx, client, u)
		return err
	}, func(n uint, err error) {
		slog.Debug("playback: retrying playlist", "attempt", n+1, "error", err)
	})
	if err != nil {
		return nil, err
	}
	return pl, nil
}

func (e *AdaptiveEngine) fetchSegment(ctx context.Context, client *http.Client, seg Segment) error {
	var body []byte
	err := e.retry(ctx, func() error {
		var err error
		body, err = fetch(ctx, client, seg.URI.String(), maxSegmentBytes)
		return err
	}, func(n uint, err error) {
		slog.Debug("playback: retrying segment", "sequence", seg.Sequence, "attempt", n+1, "error", err)
	})
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("load segment %d: %w", seg.Sequence, err)
	}
	if err := e.cfg.Surface.WriteSegment(seg, bytes.NewReader(body)); err != nil {
		return fmt.Errorf("render segment %d: %w", seg.Sequence, err)
	}
	return nil
}

// retry runs op up to SegmentRetries+1 times with a fixed delay, stopping
// early on permanent errors or cancellation.
func (e *AdaptiveEngine) retry(ctx context.Context, op func() error, onRetry func(n uint, err error)) error {
	return retry.Do(op,
		retry.Context(ctx),
		retry.Attempts(uint(e.cfg.SegmentRetries)+1),
		retry.Delay(e.cfg.RetryDelay),
		retry.DelayType(retry.FixedDelay),
		retry.RetryIf(func(err error) bool { return !isPermanent(err) }),
		retry.OnRetry(onRetry),
		retry.LastErrorOnly(true),
	)
}

// StatusError is returned when the storage backend answers a sub-request
// with a non-200 status.
type StatusError struct {
	Status int
	URL    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d", e.Status)
}

// isPermanent reports whether retrying err cannot help. Client errors such as
// a rejected authorization won't fix themselves.
func isPermanent(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Status >= 400 && se.Status < 500 && se.Status != http.StatusTooManyRequests && se.Status != http.StatusRequestTimeout
	}
	return false
}

func fetchPlaylist(ctx context.Context, client *http.Client, u string) (*Playlist, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, "", fmt.Errorf("create request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, "", &StatusError{Status: resp.StatusCode, URL: u}
	}

	// The final request URL is the base for relative references.
	base := resp.Request.URL
	pl, err := ParsePlaylist(io.LimitReader(resp.Body, maxPlaylistBytes), base)
	if err != nil {
		return nil, "", err
	}
	return pl, u, nil
}

func fetch(ctx context.Context, client *http.Client, u string, limit int64) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, &StatusError{Status: resp.StatusCode, URL: u}
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if int64(len(body)) > limit {
		return nil, fmt.Errorf("segment exceeds %d bytes", limit)
	}
	return body, nil
}
