package gem

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// APIError is an error reported by the API itself: a non-2xx response, or an
// error object inside a stream.
type APIError struct {
	StatusCode int

	// Status is the canonical status name, e.g. "RESOURCE_EXHAUSTED".
	Status string

	Message string

	// RequestID is the X-Request-ID of the failed request.
	RequestID string

	// RetryAfter is informational; requests are never retried.
	RetryAfter time.Duration

	// Raw is the response body, truncated.
	Raw []byte
}

func (e *APIError) Error() string {
	if e == nil {
		return "<nil>"
	}

	var b strings.Builder
	b.WriteString("gem: ")
	if e.StatusCode != 0 {
		b.WriteString(fmt.Sprintf("http %d", e.StatusCode))
	} else {
		b.WriteString("api error")
	}

	msg := strings.TrimSpace(e.Message)
	if msg == "" && e.StatusCode != 0 {
		msg = http.StatusText(e.StatusCode)
	}
	if msg != "" {
		b.WriteString(": ")
		b.WriteString(msg)
	}
	if e.Status != "" {
		b.WriteString(" (")
		b.WriteString(e.Status)
		b.WriteString(")")
	}
	if e.RequestID != "" {
		b.WriteString(" request_id=")
		b.WriteString(e.RequestID)
	}
	return b.String()
}

func AsAPIError(err error) (*APIError, bool) {
	var ae *APIError
	if errors.As(err, &ae) {
		return ae, true
	}
	return nil, false
}

// IsRateLimit reports a quota or rate-limit rejection.
func IsRateLimit(err error) bool {
	ae, ok := AsAPIError(err)
	if !ok {
		return false
	}
	return ae.StatusCode == http.StatusTooManyRequests || ae.Status == "RESOURCE_EXHAUSTED"
}

// IsAuth reports a missing, invalid or under-privileged API key.
func IsAuth(err error) bool {
	ae, ok := AsAPIError(err)
	if !ok {
		return false
	}
	switch {
	case ae.StatusCode == http.StatusUnauthorized, ae.StatusCode == http.StatusForbidden:
		return true
	case ae.Status == "UNAUTHENTICATED", ae.Status == "PERMISSION_DENIED":
		return true
	}
	return false
}

// IsTemporary reports errors a caller may choose to retry.
func IsTemporary(err error) bool {
	ae, ok := AsAPIError(err)
	if !ok {
		return false
	}
	switch ae.StatusCode {
	case http.StatusRequestTimeout, http.StatusTooManyRequests:
		return true
	case http.StatusInternalServerError, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return ae.Status == "UNAVAILABLE" || ae.Status == "RESOURCE_EXHAUSTED"
}

// apiErrorFromBody fills message and status from a Google error envelope:
// {"error":{"code":429,"message":"...","status":"RESOURCE_EXHAUSTED"}}.
// Bodies that are not an envelope leave Message empty.
func apiErrorFromBody(status int, raw []byte) *APIError {
	ae := &APIError{StatusCode: status, Raw: raw}
	var env errorEnvelope
	if err := json.Unmarshal(raw, &env); err == nil && env.Error != nil {
		ae.Message = env.Error.Message
		ae.Status = env.Error.Status
		if ae.StatusCode == 0 {
			ae.StatusCode = env.Error.Code
		}
	}
	return ae
}
