// Package framing finds top-level JSON object boundaries in a byte stream that
// arrives in arbitrary pieces.
//
// The scanner keeps a rolling window over the unconsumed bytes and remembers
// how far it has already looked, so each byte is inspected once no matter how
// the stream is split. It does no I/O and no JSON decoding.
package framing

import "errors"

// ErrFrameTooLarge is returned once a single frame grows past the limit.
var ErrFrameTooLarge = errors.New("framing: frame exceeds size limit")

type Kind int

const (
	// Object is a balanced {...} span.
	Object Kind = iota
	// Junk is a run of bytes outside any object that is not whitespace or
	// array punctuation.
	Junk
)

func (k Kind) String() string {
	switch k {
	case Object:
		return "object"
	case Junk:
		return "junk"
	default:
		return "unknown"
	}
}

// Frame is one delimited span. Data is owned by the caller.
type Frame struct {
	Kind Kind
	Data []byte
}

// Scanner splits a byte stream into frames.
//
// Bytes between objects that are whitespace, ',' '[' or ']' are dropped, which
// lets the same scanner handle concatenated objects, NDJSON and a streamed
// JSON array of objects.
type Scanner struct {
	limit int

	buf []byte
	pos int // next byte to inspect

	// start is the offset of the frame being assembled, -1 when between frames.
	start int
	junk  bool
	depth int
	inStr bool
	esc   bool

	err  error
	over int // frame size that tripped the limit
}

// NewScanner returns a scanner that rejects frames longer than limit bytes.
// A limit <= 0 disables the check.
func NewScanner(limit int) *Scanner {
	return &Scanner{limit: limit, start: -1}
}

// Limit reports the configured frame size limit.
func (s *Scanner) Limit() int { return s.limit }

// Write appends p to the window. Consumed bytes are discarded first.
func (s *Scanner) Write(p []byte) {
	if len(p) == 0 || s.err != nil {
		return
	}
	s.compact()
	s.buf = append(s.buf, p...)
}

// Next returns the next complete frame. ok is false when more input is needed.
// After ErrFrameTooLarge the scanner is unusable and keeps returning it.
func (s *Scanner) Next() (f Frame, ok bool, err error) {
	if s.err != nil {
		return Frame{}, false, s.err
	}
	for s.pos < len(s.buf) {
		c := s.buf[s.pos]

		if s.start < 0 {
			switch {
			case isSeparator(c):
				s.pos++
				continue
			case c == '{':
				s.start = s.pos
				s.depth = 1
			default:
				s.start = s.pos
				s.junk = true
			}
			s.pos++
			if err := s.checkLimit(); err != nil {
				return Frame{}, false, err
			}
			continue
		}

		if s.junk {
			if c == '{' || isSeparator(c) {
				return s.emit(Junk), true, nil
			}
			s.pos++
			if err := s.checkLimit(); err != nil {
				return Frame{}, false, err
			}
			continue
		}

		s.pos++
		if s.inStr {
			switch {
			case s.esc:
				s.esc = false
			case c == '\\':
				s.esc = true
			case c == '"':
				s.inStr = false
			}
		} else {
			switch c {
			case '"':
				s.inStr = true
			case '{', '[':
				s.depth++
			case '}', ']':
				s.depth--
			}
		}
		if err := s.checkLimit(); err != nil {
			return Frame{}, false, err
		}
		if !s.inStr && s.depth == 0 {
			return s.emit(Object), true, nil
		}
	}
	return Frame{}, false, nil
}

// Flush hands back a trailing junk run once the input has ended. Junk is only
// terminated by the next delimiter, so without Flush it would stay pending.
func (s *Scanner) Flush() (Frame, bool) {
	if s.err != nil || s.start < 0 || !s.junk || s.pos < len(s.buf) {
		return Frame{}, false
	}
	return s.emit(Junk), true
}

// Pending reports how many bytes of an unfinished frame are buffered. After
// ErrFrameTooLarge it reports the size at which the limit was exceeded.
func (s *Scanner) Pending() int {
	if s.err != nil {
		return s.over
	}
	if s.start < 0 {
		return 0
	}
	return len(s.buf) - s.start
}

// Buffered reports the size of the window, consumed bytes excluded.
func (s *Scanner) Buffered() int {
	if s.err != nil {
		return 0
	}
	if s.start >= 0 {
		return len(s.buf) - s.start
	}
	return len(s.buf) - s.pos
}

// Reset drops all buffered state and releases the window.
func (s *Scanner) Reset() {
	*s = Scanner{limit: s.limit, start: -1}
}

func (s *Scanner) emit(k Kind) Frame {
	data := make([]byte, s.pos-s.start)
	copy(data, s.buf[s.start:s.pos])
	s.start = -1
	s.junk = false
	s.depth = 0
	s.inStr = false
	s.esc = false
	return Frame{Kind: k, Data: data}
}

func (s *Scanner) checkLimit() error {
	if s.limit > 0 && s.pos-s.start > s.limit {
		s.err = ErrFrameTooLarge
		s.over = s.pos - s.start
		s.buf = nil
		return s.err
	}
	return nil
}

func (s *Scanner) compact() {
	keep := s.pos
	if s.start >= 0 {
		keep = s.start
	}
	if keep == 0 {
		return
	}
	n := copy(s.buf, s.buf[keep:])
	s.buf = s.buf[:n]
	s.pos -= keep
	if s.start >= 0 {
		s.start -= keep
	}
}

func isSeparator(c byte) bool {
	switch c {
	case ' ', '\t', '\r', '\n', ',', '[', ']':
		return true
	}
	return false
}
