package httpx

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

type Client struct {
	httpClient *http.Client

	baseURL *url.URL

	timeout        time.Duration
	readTimeout    time.Duration
	defaultHeaders http.Header
	userAgent      string

	maxErrBody int64

	requestID RequestIDConfig

	rateLimiter RateLimiter
	before      []BeforeHook
	after       []AfterHook
}

// New constructs a Client from DefaultConfig() plus the provided options.
func New(opts ...Option) (*Client, error) {
	cfg := DefaultConfig()
	for _, o := range opts {
		if o != nil {
			o.apply(&cfg)
		}
	}
	return newClient(cfg)
}

func newClient(cfg Config) (*Client, error) {
	var bu *url.URL
	if strings.TrimSpace(cfg.BaseURL) != "" {
		u, err := url.Parse(strings.TrimSpace(cfg.BaseURL))
		if err != nil {
			return nil, err
		}
		if u.Scheme == "" || u.Host == "" {
			return nil, &url.Error{Op: "parse", URL: cfg.BaseURL, Err: errors.New("base url must be absolute")}
		}
		// Treat the BaseURL path as a prefix so relative paths resolve under it.
		if u.Path != "" && !strings.HasSuffix(u.Path, "/") {
			u.Path += "/"
		}
		bu = u
	}
	if cfg.Timeout < 0 || cfg.ReadTimeout < 0 || cfg.ConnectTimeout < 0 {
		return nil, errors.New("httpx: timeouts must not be negative")
	}

	rt := cfg.Transport
	switch t := rt.(type) {
	case nil:
		rt = NewTransport(TransportConfig{ConnectTimeout: cfg.ConnectTimeout})
	case *http.Transport:
		if cfg.ConnectTimeout > 0 {
			t = t.Clone()
			applyTransportConfig(t, TransportConfig{ConnectTimeout: cfg.ConnectTimeout})
			rt = t
		}
	}

	maxErrBody := cfg.MaxErrorBodyBytes
	if maxErrBody == 0 {
		maxErrBody = DefaultMaxErrorBodyBytes
	}

	// Clone headers to avoid caller mutation.
	hdr := make(http.Header)
	for k, vv := range cfg.DefaultHeaders {
		for _, v := range vv {
			hdr.Add(k, v)
		}
	}

	c := &Client{
		httpClient:     &http.Client{Transport: rt},
		baseURL:        bu,
		timeout:        cfg.Timeout,
		readTimeout:    cfg.ReadTimeout,
		defaultHeaders: hdr,
		userAgent:      cfg.UserAgent,
		maxErrBody:     maxErrBody,
		requestID:      cfg.RequestID,
	}
	if c.requestID.New == nil && c.requestID.Header != "" {
		c.requestID.New = DefaultRequestID
	}
	return c, nil
}

// WithRateLimiter installs a client-wide rate limiter.
// Call this during initialization (before the client is used concurrently).
func (c *Client) WithRateLimiter(rl RateLimiter) *Client {
	c.rateLimiter = rl
	return c
}

// WithHooks adds hooks executed around every round trip.
// Call this during initialization (before the client is used concurrently).
func (c *Client) WithHooks(before []BeforeHook, after []AfterHook) *Client {
	c.before = append(c.before, before...)
	c.after = append(c.after, after...)
	return c
}

// BaseURL returns the normalized base URL, or "" when none was configured.
func (c *Client) BaseURL() string {
	if c.baseURL == nil {
		return ""
	}
	return c.baseURL.String()
}

func (c *Client) resolveURL(path string, q url.Values) (*url.URL, error) {
	p := strings.TrimSpace(path)
	if p == "" {
		return nil, errors.New("empty url/path")
	}
	u, err := url.Parse(p)
	if err != nil {
		return nil, err
	}
	if !u.IsAbs() {
		if c.baseURL == nil {
			return nil, errors.New("relative path requires BaseURL")
		}
		// A leading "/" is relative to BaseURL, so https://host/api + "/v1beta/x" keeps the /api prefix.
		if strings.HasPrefix(u.Path, "/") {
			u2 := *u
			u2.Path = strings.TrimPrefix(u2.Path, "/")
			u2.RawPath = strings.TrimPrefix(u2.RawPath, "/")
			u = &u2
		}
		u = c.baseURL.ResolveReference(u)
	} else {
		u2 := *u
		u = &u2
	}
	if q != nil {
		qq := u.Query()
		for k, vv := range q {
			for _, v := range vv {
				qq.Add(k, v)
			}
		}
		u.RawQuery = qq.Encode()
	}
	return u, nil
}

func earliestDeadline(base context.Context, timeouts ...time.Duration) (time.Time, bool) {
	now := time.Now()
	var earliest time.Time
	for _, d := range timeouts {
		if d <= 0 {
			continue
		}
		dd := now.Add(d)
		if earliest.IsZero() || dd.Before(earliest) {
			earliest = dd
		}
	}
	if dl, ok := base.Deadline(); ok {
		if earliest.IsZero() || dl.Before(earliest) {
			earliest = dl
		}
	}
	if earliest.IsZero() {
		return time.Time{}, false
	}
	return earliest, true
}

// Do executes the request once. It mirrors net/http semantics:
// - transport errors are returned as error
// - non-2xx responses are returned as resp with nil error
//
// The returned body enforces the client's timeouts; closing it releases them.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	return c.do(req, false)
}

// DoStatus executes the request and converts failures into *Error: transport
// errors get StatusCode 0, non-2xx responses carry up to MaxErrorBodyBytes of
// the body, which is then closed.
func (c *Client) DoStatus(req *http.Request) (*http.Response, error) {
	return c.do(req, true)
}

func (c *Client) do(req *http.Request, statusAsError bool) (*http.Response, error) {
	if req == nil {
		return nil, errors.New("nil request")
	}
	ctx := req.Context()

	// The cancel funcs outlive this call when a body is returned: they are
	// handed to the body wrapper and run on Close.
	ctx, cancel := context.WithCancelCause(ctx)
	release := func() { cancel(context.Canceled) }
	var idle *idleTimer
	if dl, ok := earliestDeadline(ctx, c.timeout, requestTimeout(ctx)); ok && (c.timeout > 0 || requestTimeout(ctx) > 0) {
		dctx, dcancel := context.WithDeadline(ctx, dl)
		ctx = dctx
		release = func() {
			dcancel()
			cancel(context.Canceled)
		}
	} else if c.readTimeout > 0 {
		idle = newIdleTimer(c.readTimeout, func() { cancel(ErrReadTimeout) })
	}
	req = req.Clone(ctx)

	fail := func(err error) (*http.Response, error) {
		if idle != nil {
			idle.stop()
		}
		err = timeoutCause(ctx, err)
		release()
		if !statusAsError {
			return nil, err
		}
		return nil, &Error{
			Method:    req.Method,
			URL:       req.URL.String(),
			RequestID: strings.TrimSpace(req.Header.Get(c.requestID.Header)),
			Cause:     err,
		}
	}

	if c.rateLimiter != nil {
		if err := c.rateLimiter.Wait(ctx); err != nil {
			return fail(err)
		}
	}
	for _, h := range c.before {
		if h == nil {
			continue
		}
		if err := h(req); err != nil {
			return fail(err)
		}
	}

	t0 := time.Now()
	resp, err := c.httpClient.Do(req)
	dur := time.Since(t0)

	for _, h := range c.after {
		if h != nil {
			h(req, resp, err, dur)
		}
	}

	if err != nil {
		// http.Client may return a non-nil resp alongside an error (e.g. redirect issues).
		if resp != nil && resp.Body != nil {
			_ = resp.Body.Close()
		}
		return fail(err)
	}
	if idle != nil {
		idle.stop()
	}

	resp.Body = &timedBody{ctx: ctx, rc: resp.Body, idle: idle, release: release}
	if statusAsError && resp.StatusCode >= 400 {
		return responseToError(req, resp, c.requestID.Header, c.maxErrBody)
	}
	return resp, nil
}

func responseToError(req *http.Request, resp *http.Response, requestIDHeader string, maxErrBody int64) (*http.Response, error) {
	defer resp.Body.Close()

	var raw []byte
	if maxErrBody > 0 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrBody))
		raw = b
	}

	// Expose the captured bytes to the caller (debuggability) but avoid holding open sockets.
	resp.Body = io.NopCloser(bytes.NewReader(raw))

	rid := ""
	if requestIDHeader != "" {
		rid = strings.TrimSpace(resp.Header.Get(requestIDHeader))
		if rid == "" {
			rid = strings.TrimSpace(req.Header.Get(requestIDHeader))
		}
	}
	ra, _ := parseRetryAfter(resp, time.Now())

	return resp, &Error{
		Method:     req.Method,
		URL:        req.URL.String(),
		StatusCode: resp.StatusCode,
		RequestID:  rid,
		RetryAfter: ra,
		RawBody:    raw,
		Cause:      errors.New(http.StatusText(resp.StatusCode)),
	}
}
