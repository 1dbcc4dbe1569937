package httpx

import (
	"net"
	"net/http"
	"net/url"
	"time"
)

// TransportConfig captures the http.Transport knobs a streaming API client cares about.
type TransportConfig struct {
	Proxy func(*http.Request) (*url.URL, error)

	// ConnectTimeout bounds the TCP dial and, unless TLSHandshakeTimeout is set, the TLS handshake.
	ConnectTimeout      time.Duration
	DialKeepAlive       time.Duration
	TLSHandshakeTimeout time.Duration
	IdleConnTimeout     time.Duration

	MaxIdleConns        int
	MaxIdleConnsPerHost int
	MaxConnsPerHost     int
}

// NewTransport builds an *http.Transport starting from DefaultTransport() and applying overrides.
func NewTransport(cfg TransportConfig) *http.Transport {
	t := DefaultTransport()
	applyTransportConfig(t, cfg)
	return t
}

func applyTransportConfig(t *http.Transport, cfg TransportConfig) {
	if cfg.Proxy != nil {
		t.Proxy = cfg.Proxy
	}
	if cfg.ConnectTimeout > 0 || cfg.DialKeepAlive > 0 {
		keepAlive := cfg.DialKeepAlive
		if keepAlive <= 0 {
			keepAlive = 30 * time.Second
		}
		d := &net.Dialer{
			Timeout:   cfg.ConnectTimeout,
			KeepAlive: keepAlive,
		}
		t.DialContext = d.DialContext
	}
	switch {
	case cfg.TLSHandshakeTimeout > 0:
		t.TLSHandshakeTimeout = cfg.TLSHandshakeTimeout
	case cfg.ConnectTimeout > 0:
		t.TLSHandshakeTimeout = cfg.ConnectTimeout
	}
	if cfg.IdleConnTimeout > 0 {
		t.IdleConnTimeout = cfg.IdleConnTimeout
	}
	if cfg.MaxIdleConns > 0 {
		t.MaxIdleConns = cfg.MaxIdleConns
	}
	if cfg.MaxIdleConnsPerHost > 0 {
		t.MaxIdleConnsPerHost = cfg.MaxIdleConnsPerHost
	}
	if cfg.MaxConnsPerHost > 0 {
		t.MaxConnsPerHost = cfg.MaxConnsPerHost
	}
}

// DefaultTransport returns a tuned clone of http.DefaultTransport.
//
// ResponseHeaderTimeout is left unset: a non-streaming generation only sends
// headers once the whole answer exists. The client's read/total timeouts cover it.
func DefaultTransport() *http.Transport {
	base, _ := http.DefaultTransport.(*http.Transport)
	if base == nil {
		return &http.Transport{}
	}
	t := base.Clone()

	t.DialContext = (&net.Dialer{
		Timeout:   10 * time.Second,
		KeepAlive: 30 * time.Second,
	}).DialContext
	t.TLSHandshakeTimeout = 10 * time.Second
	t.ResponseHeaderTimeout = 0
	t.ExpectContinueTimeout = 1 * time.Second
	t.IdleConnTimeout = 90 * time.Second
	if t.MaxIdleConns == 0 {
		t.MaxIdleConns = 100
	}
	if t.MaxIdleConnsPerHost == 0 {
		t.MaxIdleConnsPerHost = 16
	}
	t.ForceAttemptHTTP2 = true
	return t
}
