package gem

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/lgc202/gemkit/httpx"
)

// Session sends prompts to one model. Its configuration is fixed at Build;
// a Session may be used by many goroutines at once, except that requests
// sharing one Context must not overlap.
type Session struct {
	http        *httpx.Client
	model       Model
	sse         bool
	sendTimeout time.Duration
	history     *Context
	logger      *slog.Logger
	tracer      trace.Tracer
}

func (s *Session) Model() Model { return s.model }

// Context returns the attached history, or nil.
func (s *Session) Context() *Context { return s.history }

// WithContext returns a session with the same configuration bound to c.
func (s *Session) WithContext(c *Context) *Session {
	cp := *s
	cp.history = c
	return &cp
}

// unaryOptions apply to requests whose body is read in one go.
func (s *Session) unaryOptions() []httpx.RequestOption {
	if s.sendTimeout <= 0 {
		return nil
	}
	return []httpx.RequestOption{httpx.WithRequestTimeout(s.sendTimeout)}
}

func (s *Session) endpoint(method string) string {
	return "/v1beta/models/" + url.PathEscape(string(s.model)) + ":" + method
}

// Send sends prompt and waits for the complete answer. On success the
// prompt turn and the answer turn are appended to the session Context.
func (s *Session) Send(ctx context.Context, prompt string, role Role, settings *Settings) (*Response, error) {
	ctx, span := s.tracer.Start(ctx, "gem.Session.Send", trace.WithAttributes(
		attribute.String("gem.model", string(s.model)),
		attribute.String("gem.role", string(role)),
	))
	defer span.End()

	resp, err := s.send(ctx, prompt, role, settings)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	if resp.Usage != nil {
		span.SetAttributes(attribute.Int("gem.usage.total_tokens", resp.Usage.TotalTokens))
	}
	return resp, nil
}

func (s *Session) send(ctx context.Context, prompt string, role Role, settings *Settings) (*Response, error) {
	if !role.Valid() {
		return nil, &ConfigError{Field: "role", Value: role, Err: errors.New("unknown role")}
	}
	const op = "generateContent"
	body := buildRequest(s.history.Turns(), prompt, role, settings)
	req, err := s.http.NewJSONRequest(ctx, http.MethodPost, s.endpoint(op), body, s.unaryOptions()...)
	if err != nil {
		return nil, &TransportError{Op: op, Err: err}
	}

	start := time.Now()
	s.logger.DebugContext(ctx, "gem request", "op", op, "model", s.model, "turns", s.history.Len()+1)
	hresp, err := s.http.DoStatus(req)
	if err != nil {
		return nil, s.mapError(op, req, err)
	}
	defer hresp.Body.Close()

	raw, err := io.ReadAll(hresp.Body)
	if err != nil {
		return nil, &TransportError{Op: op, URL: req.URL.String(), Err: err}
	}
	out, err := decodeResponse(raw, -1)
	if err != nil {
		var ae *APIError
		if errors.As(err, &ae) {
			ae.RequestID = req.Header.Get("X-Request-ID")
		}
		return nil, err
	}
	s.logger.DebugContext(ctx, "gem response", "op", op, "duration", time.Since(start), "results", len(out.results))

	if s.history != nil {
		s.history.Append(role, prompt)
		s.history.Append(RoleModel, out.Text())
	}
	return out, nil
}

// mapError splits httpx failures into API errors (a response arrived) and
// transport errors (none did).
func (s *Session) mapError(op string, req *http.Request, err error) error {
	if he, ok := httpx.AsError(err); ok && he.StatusCode != 0 {
		ae := apiErrorFromBody(he.StatusCode, he.RawBody)
		ae.RequestID = he.RequestID
		ae.RetryAfter = he.RetryAfter
		return ae
	}
	return &TransportError{Op: op, URL: req.URL.String(), Err: err}
}
