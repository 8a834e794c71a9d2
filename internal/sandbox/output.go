package sandbox

import (
	"bytes"
	"unicode/utf8"
)

// cappedBuffer keeps the first limit bytes written to it and silently drops
// the rest. Write never fails, so the child is never blocked on a full pipe.
type cappedBuffer struct {
	buf     bytes.Buffer
	limit   int
	dropped int64
}

func newCappedBuffer(limit int) *cappedBuffer {
	return &cappedBuffer{limit: limit}
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	n := len(p)
	if b.limit <= 0 {
		b.buf.Write(p)
		return n, nil
	}
	room := b.limit - b.buf.Len()
	if room < len(p) {
		if room < 0 {
			room = 0
		}
		b.dropped += int64(len(p) - room)
		p = p[:room]
	}
	b.buf.Write(p)
	return n, nil
}

func (b *cappedBuffer) Truncated() bool {
	return b.dropped > 0
}

// String returns the captured text. When the cut landed inside a multi-byte
// sequence the partial rune is dropped.
func (b *cappedBuffer) String() string {
	data := b.buf.Bytes()
	if b.Truncated() {
		data = trimPartialRune(data)
	}
	return string(data)
}

func trimPartialRune(data []byte) []byte {
	for i := 1; i < utf8.UTFMax && i <= len(data); i++ {
		start := len(data) - i
		if !utf8.RuneStart(data[start]) {
			continue
		}
		if !utf8.FullRune(data[start:]) {
			return data[:start]
		}
		break
	}
	return data
}

// LimitString cuts s to at most limit bytes on a rune boundary.
func LimitString(s string, limit int) (string, bool) {
	if limit <= 0 || len(s) <= limit {
		return s, false
	}
	return string(trimPartialRune([]byte(s[:limit]))), true
}
