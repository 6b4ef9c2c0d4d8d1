package playback

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"sync"
)

// ErrAutoplayBlocked is returned by surfaces that refuse to start on their own.
var ErrAutoplayBlocked = errors.New("playback: autoplay blocked")

// Surface is where an adaptive engine renders media.
type Surface interface {
	// Autoplay starts rendering. Refusal is not fatal to the engine.
	Autoplay() error
	// WriteSegment consumes one media segment.
	WriteSegment(seg Segment, body io.Reader) error
}

// DiscardSurface drops media and counts what it was given.
type DiscardSurface struct {
	mu       sync.Mutex
	segments int
	bytes    int64
}

func (s *DiscardSurface) Autoplay() error { return nil }

func (s *DiscardSurface) WriteSegment(seg Segment, body io.Reader) error {
	n, err := io.Copy(io.Discard, body)
	s.mu.Lock()
	s.bytes += n
	if err == nil {
		s.segments++
	}
	s.mu.Unlock()
	return err
}

// Stats returns the number of complete segments and bytes consumed.
func (s *DiscardSurface) Stats() (segments int, bytes int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.segments, s.bytes
}

// DirSurface writes each segment to a file in Dir, named by sequence number.
type DirSurface struct {
	Dir string
}

func (s DirSurface) Autoplay() error {
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	return nil
}

func (s DirSurface) WriteSegment(seg Segment, body io.Reader) error {
	name := "init" + path.Ext(seg.URI.Path)
	if !seg.Init {
		name = strconv.Itoa(seg.Sequence) + path.Ext(seg.URI.Path)
	}
	dest := filepath.Join(s.Dir, name)

	f, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("create segment file %s: %w", dest, err)
	}
	if _, err := io.Copy(f, body); err != nil {
		_ = f.Close()
		return fmt.Errorf("write segment file %s: %w", dest, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close segment file %s: %w", dest, err)
	}
	return nil
}
