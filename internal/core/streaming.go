package core

// streaming.go wraps source streams before they reach the row parser:
//
//   - NewBOMSkippingReader drops a leading UTF-8 byte-order mark
//   - NewUTF8Sanitizer replaces invalid UTF-8 bytes with '?'
//   - CountingReader tracks bytes consumed
//
// Memory use is bounded by one read buffer per wrapper.

import (
	"bufio"
	"bytes"
	"io"
	"sync/atomic"
	"unicode/utf8"
)

var bomBytes = []byte{0xEF, 0xBB, 0xBF}

const sanitizerBufSize = 32 * 1024

// BOMSkippingReader removes a UTF-8 BOM from the start of a stream.
type BOMSkippingReader struct {
	br      *bufio.Reader
	checked bool
}

// NewBOMSkippingReader creates a BOM-skipping reader over r.
func NewBOMSkippingReader(r io.Reader) *BOMSkippingReader {
	return &BOMSkippingReader{br: bufio.NewReader(r)}
}

func (r *BOMSkippingReader) Read(p []byte) (int, error) {
	if !r.checked {
		r.checked = true
		if b, _ := r.br.Peek(len(bomBytes)); bytes.Equal(b, bomBytes) {
			_, _ = r.br.Discard(len(bomBytes))
		}
	}
	return r.br.Read(p)
}

// UTF8Sanitizer replaces each invalid UTF-8 byte with '?'. A multi-byte
// sequence split across reads is carried over rather than replaced.
type UTF8Sanitizer struct {
	r    io.Reader
	raw  []byte
	out  []byte
	tail []byte
	err  error
}

// NewUTF8Sanitizer creates a sanitizing reader over r.
func NewUTF8Sanitizer(r io.Reader) *UTF8Sanitizer {
	return &UTF8Sanitizer{r: r, raw: make([]byte, sanitizerBufSize)}
}

func (s *UTF8Sanitizer) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	for len(s.out) == 0 {
		if s.err != nil {
			return 0, s.err
		}
		n, err := s.r.Read(s.raw)
		if err != nil {
			s.err = err
		}

		chunk := s.raw[:n]
		if len(s.tail) > 0 {
			chunk = append(s.tail, chunk...)
			s.tail = nil
		}
		s.out = s.sanitize(chunk, s.err != nil)
	}

	n := copy(p, s.out)
	s.out = s.out[n:]
	return n, nil
}

// sanitize rewrites chunk in place. Unless final, an incomplete sequence at
// the end is moved to s.tail.
func (s *UTF8Sanitizer) sanitize(chunk []byte, final bool) []byte {
	if utf8.Valid(chunk) {
		return chunk
	}

	w := 0
	for i := 0; i < len(chunk); {
		r, size := utf8.DecodeRune(chunk[i:])
		if r == utf8.RuneError && size == 1 {
			if !final && !utf8.FullRune(chunk[i:]) {
				s.tail = append([]byte(nil), chunk[i:]...)
				break
			}
			chunk[w] = '?'
			w++
			i++
			continue
		}
		w += copy(chunk[w:], chunk[i:i+size])
		i += size
	}
	return chunk[:w]
}

// CountingReader counts the bytes read through it.
type CountingReader struct {
	r     io.Reader
	n     atomic.Int64
	Total int64 // 0 when unknown
}

// NewCountingReader wraps r. total may be 0 when the size is unknown.
func NewCountingReader(r io.Reader, total int64) *CountingReader {
	return &CountingReader{r: r, Total: total}
}

func (c *CountingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n.Add(int64(n))
	return n, err
}

// BytesRead returns the number of bytes read so far.
func (c *CountingReader) BytesRead() int64 {
	return c.n.Load()
}

// Progress returns read progress as 0-100, or 0 when the total is unknown.
func (c *CountingReader) Progress() int {
	if c.Total <= 0 {
		return 0
	}
	p := int(c.n.Load() * 100 / c.Total)
	return min(p, 100)
}

// WrapForStreaming strips a BOM, sanitizes UTF-8 and counts bytes, in that order.
func WrapForStreaming(r io.Reader, total int64) *CountingReader {
	return NewCountingReader(NewUTF8Sanitizer(NewBOMSkippingReader(r)), total)
}
