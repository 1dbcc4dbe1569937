package gem

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/lgc202/gemkit/httpx"
	"github.com/lgc202/gemkit/version"
)

// DefaultBaseURL is the public Generative Language API endpoint.
const DefaultBaseURL = "https://generativelanguage.googleapis.com"

const (
	apiKeyHeader = "x-goog-api-key"
	tracerName   = "github.com/lgc202/gemkit/gem"
)

type sessionConfig struct {
	BaseURL        string        `name:"base_url" validate:"required,url"`
	Model          Model         `name:"model" validate:"required,gemini_model"`
	ConnectTimeout time.Duration `name:"connect_timeout" validate:"gte=0"`
	ReadTimeout    time.Duration `name:"read_timeout" validate:"gte=0"`
	Timeout        time.Duration `name:"timeout" validate:"gte=0"`
	SendTimeout    time.Duration `name:"send_timeout" validate:"gte=0"`
	RateLimit      float64       `name:"rate_limit" validate:"gte=0"`
	Burst          int           `name:"burst" validate:"gte=0"`
	UserAgent      string        `name:"user_agent"`

	MaxErrorBodyBytes int64 `name:"max_error_body_bytes" validate:"gte=0"`
}

var validate = sync.OnceValue(func() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		return f.Tag.Get("name")
	})
	_ = v.RegisterValidation("gemini_model", func(fl validator.FieldLevel) bool {
		return Model(fl.Field().String()).Valid()
	})
	return v
})

// Builder collects session configuration. Every setter returns the builder;
// nothing is checked until Build.
type Builder struct {
	cfg sessionConfig

	apiKey    string
	history   *Context
	logger    *slog.Logger
	transport http.RoundTripper
	registry  prometheus.Registerer
	tracing   trace.TracerProvider
	before    []httpx.BeforeHook
	after     []httpx.AfterHook
	sse       bool
}

// NewBuilder starts from the public endpoint, DefaultModel, a 10s connect
// timeout, a 60s read timeout and no total timeout.
func NewBuilder() *Builder {
	d := httpx.DefaultConfig()
	return &Builder{cfg: sessionConfig{
		BaseURL:        DefaultBaseURL,
		Model:          DefaultModel,
		ConnectTimeout: d.ConnectTimeout,
		ReadTimeout:    d.ReadTimeout,
		UserAgent:      version.UserAgent("gemkit"),

		MaxErrorBodyBytes: d.MaxErrorBodyBytes,
	}}
}

func (b *Builder) ConnectTimeout(d time.Duration) *Builder {
	b.cfg.ConnectTimeout = d
	return b
}

// ReadTimeout bounds the wait for the next bytes of a response while a read
// is pending. It has no effect when Timeout is set.
func (b *Builder) ReadTimeout(d time.Duration) *Builder {
	b.cfg.ReadTimeout = d
	return b
}

// Timeout bounds whole requests, body included, and overrides ReadTimeout.
// 0 removes it.
func (b *Builder) Timeout(d time.Duration) *Builder {
	b.cfg.Timeout = d
	return b
}

// SendTimeout bounds each Send and file request, body included, without
// touching streams. It overrides ReadTimeout for those calls; the earlier of
// it and Timeout wins.
func (b *Builder) SendTimeout(d time.Duration) *Builder {
	b.cfg.SendTimeout = d
	return b
}

// BaseURL replaces the API endpoint, e.g. with a proxy or a relay.
func (b *Builder) BaseURL(u string) *Builder {
	b.cfg.BaseURL = strings.TrimSpace(u)
	return b
}

func (b *Builder) Model(m Model) *Builder {
	b.cfg.Model = m
	return b
}

// Context attaches the caller-owned history the session reads and appends to.
func (b *Builder) Context(c *Context) *Builder {
	b.history = c
	return b
}

func (b *Builder) APIKey(key string) *Builder {
	b.apiKey = strings.TrimSpace(key)
	return b
}

// Logger receives request logs. The default discards them.
func (b *Builder) Logger(l *slog.Logger) *Builder {
	b.logger = l
	return b
}

// Transport replaces the HTTP transport. ConnectTimeout only applies when it
// is an *http.Transport.
func (b *Builder) Transport(rt http.RoundTripper) *Builder {
	b.transport = rt
	return b
}

func (b *Builder) UserAgent(ua string) *Builder {
	b.cfg.UserAgent = ua
	return b
}

// RateLimit throttles the session to rps requests per second. 0 disables it.
func (b *Builder) RateLimit(rps float64, burst int) *Builder {
	b.cfg.RateLimit = rps
	b.cfg.Burst = burst
	return b
}

// Metrics registers request counters and latency histograms on reg.
func (b *Builder) Metrics(reg prometheus.Registerer) *Builder {
	b.registry = reg
	return b
}

// TracerProvider sets where spans go. The default is the global provider.
func (b *Builder) TracerProvider(tp trace.TracerProvider) *Builder {
	b.tracing = tp
	return b
}

// Hooks run around every HTTP round trip.
func (b *Builder) Hooks(before []httpx.BeforeHook, after []httpx.AfterHook) *Builder {
	b.before = append(b.before, before...)
	b.after = append(b.after, after...)
	return b
}

// MaxErrorBodyBytes caps how much of a failed response is read into
// APIError.Raw. An error body cut short keeps its status code but loses the
// message. 0 restores the default.
func (b *Builder) MaxErrorBodyBytes(n int64) *Builder {
	b.cfg.MaxErrorBodyBytes = n
	return b
}

// SSE asks for server-sent events instead of a streamed JSON array.
func (b *Builder) SSE(on bool) *Builder {
	b.sse = on
	return b
}

// Build validates the configuration and returns an immutable Session. All
// failures are *ConfigError.
func (b *Builder) Build() (*Session, error) {
	cfg := b.cfg
	if err := validate().Struct(cfg); err != nil {
		return nil, configErrorFrom(err)
	}

	logger := b.logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	opts := []httpx.Option{
		httpx.WithBaseURL(cfg.BaseURL),
		httpx.WithConnectTimeout(cfg.ConnectTimeout),
		httpx.WithReadTimeout(cfg.ReadTimeout),
		httpx.WithTimeout(cfg.Timeout),
		httpx.WithUserAgent(cfg.UserAgent),
		httpx.WithMaxErrorBodyBytes(cfg.MaxErrorBodyBytes),
	}
	if b.transport != nil {
		opts = append(opts, httpx.WithTransport(b.transport))
	}
	if b.apiKey != "" {
		opts = append(opts, httpx.WithDefaultHeader(apiKeyHeader, b.apiKey))
	}
	hc, err := httpx.New(opts...)
	if err != nil {
		return nil, &ConfigError{Field: "base_url", Value: cfg.BaseURL, Err: err}
	}

	after := append([]httpx.AfterHook{httpx.LogHook(logger)}, b.after...)
	if b.registry != nil {
		m, err := httpx.NewMetrics(b.registry, "gem")
		if err != nil {
			return nil, &ConfigError{Field: "metrics", Err: err}
		}
		after = append(after, m.Hook())
	}
	hc.WithHooks(b.before, after)
	if cfg.RateLimit > 0 {
		hc.WithRateLimiter(httpx.NewRateLimiter(cfg.RateLimit, cfg.Burst))
	}

	tp := b.tracing
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	return &Session{
		http:        hc,
		model:       cfg.Model,
		sse:         b.sse,
		sendTimeout: cfg.SendTimeout,
		history:     b.history,
		logger:      logger,
		tracer:      tp.Tracer(tracerName),
	}, nil
}

func configErrorFrom(err error) error {
	var ve validator.ValidationErrors
	if errors.As(err, &ve) && len(ve) > 0 {
		fe := ve[0]
		return &ConfigError{
			Field: fe.Field(),
			Value: fe.Value(),
			Err:   fmt.Errorf("failed %q check", fe.Tag()),
		}
	}
	return &ConfigError{Field: "session", Err: err}
}
