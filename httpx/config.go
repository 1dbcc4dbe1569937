package httpx

import (
	"net/http"
	"time"
)

// Config configures a Client. Use DefaultConfig() as a baseline.
type Config struct {
	// BaseURL is optional. If set, relative paths passed to NewRequest are resolved against it.
	BaseURL string

	// ConnectTimeout bounds connection establishment (dial + TLS handshake).
	// It is applied to the default transport, or to Transport when that is an *http.Transport.
	ConnectTimeout time.Duration

	// ReadTimeout bounds inactivity: the wait for response headers and the
	// wait inside each body read. Time spent between reads is not counted.
	// It is ignored when Timeout is set.
	ReadTimeout time.Duration

	// Timeout sets an upper bound for the whole request, body reads included.
	// If the request context already has a deadline, the earlier one wins.
	Timeout time.Duration

	// Transport is the underlying RoundTripper. If nil, a tuned default is used.
	Transport http.RoundTripper

	// DefaultHeaders are copied into every request (caller headers win).
	DefaultHeaders http.Header

	// UserAgent is set when the request does not already have a User-Agent header.
	UserAgent string

	// MaxErrorBodyBytes limits how many bytes are read into Error.RawBody for non-2xx responses.
	// If zero, DefaultMaxErrorBodyBytes is used.
	MaxErrorBodyBytes int64

	// RequestID configures correlation id propagation.
	RequestID RequestIDConfig
}

const DefaultMaxErrorBodyBytes int64 = 64 << 10 // 64KiB

// DefaultConfig returns a baseline suited to long-lived streaming responses:
// no total deadline, a bounded connect and a bounded idle gap.
func DefaultConfig() Config {
	return Config{
		ConnectTimeout:    10 * time.Second,
		ReadTimeout:       60 * time.Second,
		DefaultHeaders:    make(http.Header),
		MaxErrorBodyBytes: DefaultMaxErrorBodyBytes,
		RequestID:         DefaultRequestIDConfig(),
	}
}
