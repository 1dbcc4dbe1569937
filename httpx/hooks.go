package httpx

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter can be used to throttle outgoing requests.
// It should block until a token is available or ctx is canceled.
type RateLimiter interface {
	Wait(ctx context.Context) error
}

// NewRateLimiter returns a token bucket allowing rps requests per second with the given burst.
// A burst below 1 is raised to 1.
func NewRateLimiter(rps float64, burst int) RateLimiter {
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(rps), burst)
}

// BeforeHook runs before the request is sent. Returning an error aborts the request.
type BeforeHook func(req *http.Request) error

// AfterHook runs once response headers arrived or the round trip failed.
// dur covers the round trip only, not the body.
type AfterHook func(req *http.Request, resp *http.Response, err error, dur time.Duration)

// LogHook logs every round trip at debug level (failures at warn).
func LogHook(logger *slog.Logger) AfterHook {
	return func(req *http.Request, resp *http.Response, err error, dur time.Duration) {
		if logger == nil {
			return
		}
		attrs := []any{
			"method", req.Method,
			"path", req.URL.Path,
			"duration", dur,
		}
		if id := req.Header.Get("X-Request-ID"); id != "" {
			attrs = append(attrs, "request_id", id)
		}
		if err != nil {
			logger.Warn("http round trip failed", append(attrs, "error", err)...)
			return
		}
		logger.Debug("http round trip", append(attrs, "status", resp.StatusCode)...)
	}
}
