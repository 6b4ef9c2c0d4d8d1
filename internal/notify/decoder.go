package notify

import (
	"bytes"
	"errors"
	"strings"
	"unicode/utf8"
)

// DefaultMaxFrameBytes bounds how much undelimited data the decoder keeps.
const DefaultMaxFrameBytes = 1 << 20

var (
	ErrFrameTooLarge = errors.New("notify: frame exceeds size limit")

	frameDelimiter = []byte("\n\n")
)

// Frame is one decoded server-push message unit.
type Frame struct {
	ID    string
	Event string
	Data  string
}

// Decoder turns a raw byte stream into frames. Bytes after the last
// delimiter are kept until the next Feed call, so frames may span reads.
// A Decoder is not safe for concurrent use.
type Decoder struct {
	buf      []byte
	maxBytes int
}

func NewDecoder(maxBytes int) *Decoder {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxFrameBytes
	}
	return &Decoder{maxBytes: maxBytes}
}

// Feed appends p and returns every frame completed by it. Frames that carry
// no data lines (keep-alive comments) are skipped. When the pending buffer
// grows past the size limit it is discarded and ErrFrameTooLarge returned
// alongside any frames completed before that point.
func (d *Decoder) Feed(p []byte) ([]Frame, error) {
	d.buf = append(d.buf, p...)
	if bytes.IndexByte(d.buf, '\r') >= 0 {
		d.buf = normalizeNewlines(d.buf)
	}

	var frames []Frame
	for {
		idx := bytes.Index(d.buf, frameDelimiter)
		if idx < 0 {
			break
		}
		raw := d.buf[:idx]
		d.buf = d.buf[idx+len(frameDelimiter):]
		if frame, ok := parseFrame(raw); ok {
			frames = append(frames, frame)
		}
	}

	if len(d.buf) == 0 {
		d.buf = nil
	} else if len(d.buf) > d.maxBytes {
		d.buf = nil
		return frames, ErrFrameTooLarge
	}
	return frames, nil
}

// Pending reports how many bytes are buffered awaiting a delimiter.
func (d *Decoder) Pending() int {
	return len(d.buf)
}

// Reset drops any partial frame.
func (d *Decoder) Reset() {
	d.buf = nil
}

// normalizeNewlines rewrites CRLF to LF. A trailing CR is kept so that a CRLF
// split across two reads still collapses once the LF arrives.
func normalizeNewlines(b []byte) []byte {
	trailingCR := len(b) > 0 && b[len(b)-1] == '\r'
	if trailingCR {
		b = b[:len(b)-1]
	}
	b = bytes.ReplaceAll(b, []byte("\r\n"), []byte("\n"))
	if trailingCR {
		b = append(b, '\r')
	}
	return b
}

func parseFrame(raw []byte) (Frame, bool) {
	text := string(raw)
	if !utf8.ValidString(text) {
		text = strings.ToValidUTF8(text, "�")
	}

	var frame Frame
	var data []string
	for _, line := range strings.Split(text, "\n") {
		if line == "" || strings.HasPrefix(line, ":") {
			continue
		}
		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "data":
			data = append(data, value)
		case "id":
			frame.ID = value
		case "event":
			frame.Event = value
		}
	}
	if len(data) == 0 {
		return Frame{}, false
	}
	frame.Data = strings.Join(data, "\n")
	return frame, true
}
