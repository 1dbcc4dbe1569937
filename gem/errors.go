package gem

import (
	"errors"
	"fmt"
	"strings"

	"github.com/lgc202/gemkit/httpx"
)

var (
	// ErrFrameTooLarge matches a *StreamError of kind FrameTooLarge.
	ErrFrameTooLarge = errors.New("gem: stream frame exceeds stream_max_json_size")
	// ErrUnexpectedEOF matches a *StreamError of kind UnexpectedEOF.
	ErrUnexpectedEOF = errors.New("gem: stream ended inside a JSON object")
	// ErrStreamClosed is returned by Recv after Close.
	ErrStreamClosed = errors.New("gem: stream closed")

	errJunk = errors.New("bytes outside a JSON object")
)

// ConfigError reports invalid builder or settings input.
type ConfigError struct {
	Field string
	Value any
	Err   error
}

func (e *ConfigError) Error() string {
	if e.Value == nil {
		return fmt.Sprintf("gem: invalid %s: %v", e.Field, e.Err)
	}
	return fmt.Sprintf("gem: invalid %s %q: %v", e.Field, fmt.Sprint(e.Value), e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// TransportError reports a request that produced no usable response: dial,
// TLS, timeout, socket or cancellation failures. It is never retried.
type TransportError struct {
	Op  string
	URL string
	Err error
}

func (e *TransportError) Error() string {
	var b strings.Builder
	b.WriteString("gem: ")
	b.WriteString(e.Op)
	if e.URL != "" {
		b.WriteString(" ")
		b.WriteString(e.URL)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *TransportError) Unwrap() error { return e.Err }

// Timeout reports whether a connect, read or total timeout ended the request.
func (e *TransportError) Timeout() bool { return httpx.IsTimeout(e.Err) }

// DecodeError reports a response body, or one streamed fragment, that is not
// a valid response object.
type DecodeError struct {
	// Fragment is the zero-based index of the streamed fragment, -1 for a
	// non-streaming response.
	Fragment int
	Raw      []byte
	Err      error
}

func (e *DecodeError) Error() string {
	if e.Fragment < 0 {
		return fmt.Sprintf("gem: decode response: %v", e.Err)
	}
	return fmt.Sprintf("gem: decode fragment %d: %v", e.Fragment, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

type StreamErrorKind int

const (
	FrameTooLarge StreamErrorKind = iota + 1
	UnexpectedEOF
)

func (k StreamErrorKind) String() string {
	switch k {
	case FrameTooLarge:
		return "frame too large"
	case UnexpectedEOF:
		return "unexpected eof"
	default:
		return "unknown"
	}
}

// StreamError ends a stream. Match it with errors.Is against
// ErrFrameTooLarge or ErrUnexpectedEOF.
type StreamError struct {
	Kind StreamErrorKind
	// Limit is the frame limit in effect.
	Limit int
	// Buffered is the size of the unfinished frame when the stream ended.
	Buffered int
}

func (e *StreamError) Error() string {
	switch e.Kind {
	case FrameTooLarge:
		return fmt.Sprintf("%v (%d > %d bytes)", ErrFrameTooLarge, e.Buffered, e.Limit)
	case UnexpectedEOF:
		return fmt.Sprintf("%v (%d bytes pending)", ErrUnexpectedEOF, e.Buffered)
	default:
		return "gem: stream error"
	}
}

func (e *StreamError) Unwrap() error {
	switch e.Kind {
	case FrameTooLarge:
		return ErrFrameTooLarge
	case UnexpectedEOF:
		return ErrUnexpectedEOF
	default:
		return nil
	}
}
