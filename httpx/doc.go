// Package httpx is the HTTP transport used by the gem client:
// - a tuned transport whose dialer enforces the connect timeout
// - base URL resolution + default headers + request id injection
// - a whole-request deadline (Timeout) or, when none is set, an idle read
//   timeout that only runs while waiting for headers or a body read (ReadTimeout)
// - an error type carrying status, request id, retry-after and a limited body
// - hook points for logging/metrics and an optional rate limiter
//
// Requests are never retried.
package httpx
