package playback

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
)

// NativePlayer is a platform player that dereferences manifests itself.
type NativePlayer interface {
	CanPlayType(mimeType string) bool
	Open(ctx context.Context, src string) (NativeMedia, error)
}

// NativeMedia is one source opened on a NativePlayer.
type NativeMedia interface {
	// Loaded is closed once the player has parsed the manifest.
	Loaded() <-chan struct{}
	// Done receives the terminal result of playback: nil on normal end.
	Done() <-chan error
	Play() error
	Close() error
}

// NativeEngine hands the signed manifest URL to a NativePlayer.
//
// A native player issues its own segment requests, so the request hook cannot
// be installed. Segment URLs resolved relative to the manifest lose its query
// string, which means private content whose storage backend requires
// per-segment authorization will fail on this path unless the backend also
// honors another credential such as a cookie.
type NativeEngine struct {
	player NativePlayer
	events chan EngineEvent

	disposeOnce sync.Once
	wg          sync.WaitGroup

	mu       sync.Mutex
	media    NativeMedia
	cancel   context.CancelFunc
	disposed bool
}

func NewNativeEngine(player NativePlayer) *NativeEngine {
	return &NativeEngine{
		player: player,
		events: make(chan EngineEvent, 4),
	}
}

func (e *NativeEngine) Kind() EngineKind { return EngineNative }

func (e *NativeEngine) Events() <-chan EngineEvent { return e.events }

func (e *NativeEngine) Load(ctx context.Context, src string, hook RequestHook) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.disposed {
		return fmt.Errorf("playback: load on disposed engine")
	}
	if e.media != nil {
		return ErrEngineLoaded
	}
	if hook != nil {
		slog.Warn("playback: native engine cannot authorize segment requests; private content may fail to play")
	}

	runCtx, cancel := context.WithCancel(ctx)
	media, err := e.player.Open(runCtx, src)
	if err != nil {
		cancel()
		return fmt.Errorf("open native source: %w", err)
	}
	e.media = media
	e.cancel = cancel

	e.wg.Add(1)
	go e.watch(runCtx, media)
	return nil
}

func (e *NativeEngine) watch(ctx context.Context, media NativeMedia) {
	defer e.wg.Done()
	defer close(e.events)

	select {
	case <-media.Loaded():
		e.emit(ctx, EngineEvent{Type: EventManifestParsed})
	case err := <-media.Done():
		if err == nil {
			err = errors.New("native player exited before loading")
		}
		e.emit(ctx, EngineEvent{Type: EventFatal, Err: err})
		return
	case <-ctx.Done():
		return
	}

	select {
	case err := <-media.Done():
		if err != nil {
			e.emit(ctx, EngineEvent{Type: EventFatal, Err: err})
			return
		}
		e.emit(ctx, EngineEvent{Type: EventEnded})
	case <-ctx.Done():
	}
}

func (e *NativeEngine) emit(ctx context.Context, ev EngineEvent) {
	select {
	case e.events <- ev:
	case <-ctx.Done():
	}
}

func (e *NativeEngine) Play(ctx context.Context) error {
	e.mu.Lock()
	media := e.media
	e.mu.Unlock()
	if media == nil {
		return errors.New("playback: play before load")
	}
	return media.Play()
}

func (e *NativeEngine) Dispose() {
	e.disposeOnce.Do(func() {
		e.mu.Lock()
		e.disposed = true
		media, cancel := e.media, e.cancel
		e.mu.Unlock()

		if cancel != nil {
			cancel()
		}
		if media != nil {
			if err := media.Close(); err != nil {
				slog.Debug("playback: close native media", "error", err)
			}
		}
		e.wg.Wait()
	})
}

// ExecPlayer runs an external media player binary with the manifest URL as
// its last argument, for example "mpv" or "ffplay".
type ExecPlayer struct {
	Command string
	Args    []string
	Stdout  io.Writer
	Stderr  io.Writer
}

func NewExecPlayer(command string, args ...string) *ExecPlayer {
	return &ExecPlayer{Command: command, Args: args}
}

// CanPlayType reports whether the command is installed and the type is HLS.
func (p *ExecPlayer) CanPlayType(mimeType string) bool {
	if mimeType != HLSMimeType || p.Command == "" {
		return false
	}
	_, err := exec.LookPath(p.Command)
	return err == nil
}

func (p *ExecPlayer) Open(ctx context.Context, src string) (NativeMedia, error) {
	path, err := exec.LookPath(p.Command)
	if err != nil {
		return nil, fmt.Errorf("find player: %w", err)
	}
	args := append(append([]string{}, p.Args...), src)
	cmd := exec.CommandContext(ctx, path, args...)
	cmd.Stdout = p.Stdout
	cmd.Stderr = p.Stderr
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start player: %w", err)
	}

	m := &execMedia{
		cmd:    cmd,
		loaded: make(chan struct{}),
		done:   make(chan error, 1),
	}
	// The process owns manifest loading; a successful start is all we observe.
	close(m.loaded)
	go func() {
		m.done <- cmd.Wait()
	}()
	return m, nil
}

type execMedia struct {
	cmd       *exec.Cmd
	loaded    chan struct{}
	done      chan error
	closeOnce sync.Once
}

func (m *execMedia) Loaded() <-chan struct{} { return m.loaded }

func (m *execMedia) Done() <-chan error { return m.done }

// Play is a no-op: external players start on their own.
func (m *execMedia) Play() error { return nil }

func (m *execMedia) Close() error {
	var err error
	m.closeOnce.Do(func() {
		if m.cmd.Process == nil {
			return
		}
		if killErr := m.cmd.Process.Kill(); killErr != nil && !errors.Is(killErr, os.ErrProcessDone) {
			err = killErr
		}
	})
	return err
}
