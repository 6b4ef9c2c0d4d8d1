package playback

import (
	"bytes"
	"fmt"
	"io"
	"net/url"
	"sort"

	"github.com/Eyevinn/hls-m3u8/m3u8"
)

// HLSMimeType is the MIME type of an adaptive HLS manifest.
const HLSMimeType = "application/vnd.apple.mpegurl"

// Variant is one bitrate rendition listed by a master playlist.
type Variant struct {
	URI        *url.URL
	Bandwidth  int
	Resolution string
	Codecs     string
}

// Segment is one media chunk listed by a media playlist.
type Segment struct {
	URI      *url.URL
	Duration float64
	Sequence int
	Init     bool
}

// Playlist is a parsed HLS playlist. Master playlists carry Variants; media
// playlists carry Segments.
type Playlist struct {
	Master         bool
	Variants       []Variant
	TargetDuration float64
	MediaSequence  int
	Segments       []Segment
	Init           *Segment
	Ended          bool
}

var m3uHeader = []byte("#EXTM3U")

// ParsePlaylist reads an M3U8 playlist, resolving every URI against base.
// Relative references drop base's query, so resolved segment URIs no longer
// carry the manifest's signature.
func ParsePlaylist(r io.Reader, base *url.URL) (*Playlist, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("parse playlist: %w", err)
	}
	data = bytes.TrimLeft(bytes.TrimPrefix(data, []byte("\xef\xbb\xbf")), " \t\r\n")
	if len(data) == 0 {
		return nil, fmt.Errorf("parse playlist: empty playlist")
	}
	if !bytes.HasPrefix(data, m3uHeader) {
		return nil, fmt.Errorf("parse playlist: missing #EXTM3U header")
	}

	decoded, listType, err := m3u8.DecodeFrom(bytes.NewReader(data), false)
	if err != nil {
		return nil, fmt.Errorf("parse playlist: %w", err)
	}

	switch listType {
	case m3u8.MASTER:
		master, ok := decoded.(*m3u8.MasterPlaylist)
		if !ok {
			return nil, fmt.Errorf("parse playlist: unexpected master type %T", decoded)
		}
		return fromMaster(master, base)
	case m3u8.MEDIA:
		media, ok := decoded.(*m3u8.MediaPlaylist)
		if !ok {
			return nil, fmt.Errorf("parse playlist: unexpected media type %T", decoded)
		}
		return fromMedia(media, base)
	}
	return nil, fmt.Errorf("parse playlist: unknown playlist type")
}

func fromMaster(master *m3u8.MasterPlaylist, base *url.URL) (*Playlist, error) {
	pl := &Playlist{Master: true}
	for _, v := range master.Variants {
		if v == nil || v.URI == "" {
			continue
		}
		ref, err := resolveRef(base, v.URI)
		if err != nil {
			return nil, err
		}
		pl.Variants = append(pl.Variants, Variant{
			URI:        ref,
			Bandwidth:  int(v.Bandwidth),
			Resolution: v.Resolution,
			Codecs:     v.Codecs,
		})
	}
	if len(pl.Variants) == 0 {
		return nil, fmt.Errorf("parse playlist: master playlist without variants")
	}
	return pl, nil
}

func fromMedia(media *m3u8.MediaPlaylist, base *url.URL) (*Playlist, error) {
	pl := &Playlist{
		TargetDuration: float64(media.TargetDuration),
		MediaSequence:  int(media.SeqNo),
		Ended:          media.Closed,
	}

	initMap := media.Map
	for _, seg := range media.Segments {
		// Segments is a ring buffer; unused slots are nil.
		if seg == nil {
			continue
		}
		if initMap == nil && seg.Map != nil {
			initMap = seg.Map
		}
		ref, err := resolveRef(base, seg.URI)
		if err != nil {
			return nil, err
		}
		pl.Segments = append(pl.Segments, Segment{
			URI:      ref,
			Duration: seg.Duration,
			Sequence: pl.MediaSequence + len(pl.Segments),
		})
	}

	if len(pl.Segments) == 0 {
		return nil, fmt.Errorf("parse playlist: media playlist without segments")
	}
	if initMap != nil && initMap.URI != "" {
		ref, err := resolveRef(base, initMap.URI)
		if err != nil {
			return nil, err
		}
		pl.Init = &Segment{URI: ref, Init: true, Sequence: -1}
	}
	return pl, nil
}

// PickVariant returns the highest-bandwidth variant not above maxBandwidth,
// falling back to the lowest one when every variant exceeds it. A
// maxBandwidth of 0 means no cap.
func (p *Playlist) PickVariant(maxBandwidth int) (Variant, bool) {
	if len(p.Variants) == 0 {
		return Variant{}, false
	}
	sorted := make([]Variant, len(p.Variants))
	copy(sorted, p.Variants)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Bandwidth < sorted[j].Bandwidth })

	if maxBandwidth <= 0 {
		return sorted[len(sorted)-1], true
	}
	best := sorted[0]
	for _, v := range sorted {
		if v.Bandwidth <= maxBandwidth {
			best = v
		}
	}
	return best, true
}

func resolveRef(base *url.URL, ref string) (*url.URL, error) {
	u, err := url.Parse(ref)
	if err != nil {
		return nil, fmt.Errorf("parse playlist uri %q: %w", ref, err)
	}
	if base == nil {
		return u, nil
	}
	return base.ResolveReference(u), nil
}
