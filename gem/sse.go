package gem

import (
	"bufio"
	"bytes"
	"errors"
	"io"
)

// chunkReader yields the raw bytes a stream feeds into its scanner.
type chunkReader interface {
	next() ([]byte, error)
}

// bodyReader hands out whatever each Read of the body returned.
type bodyReader struct {
	r   io.Reader
	buf []byte
}

func newBodyReader(r io.Reader) *bodyReader {
	return &bodyReader{r: r, buf: make([]byte, 32<<10)}
}

func (b *bodyReader) next() ([]byte, error) {
	n, err := b.r.Read(b.buf)
	return b.buf[:n], err
}

// errEventTooLarge ends an SSE stream whose event, or any single line, does
// not fit the frame limit. Nothing past the offending line is read.
var errEventTooLarge = errors.New("sse event too large")

// sseReader extracts the data payload of each server-sent event. Payloads
// are JSON objects, so a newline after each keeps them apart for the scanner.
type sseReader struct {
	r     *bufio.Reader
	limit int
}

func newSSEReader(r io.Reader, limit int) *sseReader {
	size := min(max(limit+len("data: \r\n"), 4<<10), 64<<10)
	return &sseReader{r: bufio.NewReaderSize(r, size), limit: limit}
}

func (d *sseReader) next() ([]byte, error) {
	for {
		data, err := d.event()
		if errors.Is(err, errEventTooLarge) {
			return data, err
		}
		if len(data) > 0 {
			if bytes.Equal(bytes.TrimSpace(data), []byte("[DONE]")) {
				return nil, io.EOF
			}
			return append(data, '\n'), err
		}
		if err != nil {
			return nil, err
		}
	}
}

// event returns the next event's data lines joined with '\n'. With
// errEventTooLarge it returns the bytes read so far instead.
func (d *sseReader) event() ([]byte, error) {
	var (
		data []byte
		has  bool
	)
	add := func(line []byte) error {
		val, ok := dataField(line)
		if !ok {
			return nil
		}
		if has {
			data = append(data, '\n')
		}
		data = append(data, val...)
		has = true
		if len(data) > d.limit {
			return errEventTooLarge
		}
		return nil
	}

	for {
		line, err := d.line(d.limit + len("data: "))
		if errors.Is(err, errEventTooLarge) {
			return append(data, line...), err
		}
		if err != nil {
			// Keep an event cut short by EOF.
			if len(line) > 0 {
				if aerr := add(line); aerr != nil {
					return data, aerr
				}
			}
			return data, err
		}

		if len(line) == 0 {
			if !has {
				continue
			}
			return data, nil
		}
		if line[0] == ':' {
			continue
		}
		if err := add(line); err != nil {
			return data, err
		}
	}
}

// line reads one line without its terminator. A line longer than limit is
// not read past limit: the bytes read so far come back with errEventTooLarge.
func (d *sseReader) line(limit int) ([]byte, error) {
	var buf []byte
	for {
		frag, err := d.r.ReadSlice('\n')
		buf = append(buf, frag...)
		if errors.Is(err, bufio.ErrBufferFull) {
			if len(buf) > limit {
				return buf, errEventTooLarge
			}
			continue
		}
		buf = bytes.TrimRight(buf, "\r\n")
		if len(buf) > limit {
			return buf, errEventTooLarge
		}
		return buf, err
	}
}

func dataField(line []byte) ([]byte, bool) {
	if !bytes.HasPrefix(line, []byte("data:")) {
		return nil, false
	}
	val := line[len("data:"):]
	if len(val) > 0 && val[0] == ' ' {
		val = val[1:]
	}
	return val, true
}
