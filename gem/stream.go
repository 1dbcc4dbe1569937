package gem

import (
	"context"
	"errors"
	"io"
	"iter"
	"log/slog"
	"net/http"
	"runtime"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/lgc202/gemkit/gem/internal/framing"
	"github.com/lgc202/gemkit/httpx"
)

// SendStream sends prompt and returns a Stream of the answer's fragments.
// The prompt and answer turns are appended to the session Context together
// when the stream ends cleanly; a stream that fails or is closed early leaves
// the Context as it was.
//
// Errors returned here mean no stream was started. The caller must Close the
// stream, or range over All, which closes it.
func (s *Session) SendStream(ctx context.Context, prompt string, role Role, settings *Settings) (*Stream, error) {
	ctx, span := s.tracer.Start(ctx, "gem.Session.SendStream", trace.WithAttributes(
		attribute.String("gem.model", string(s.model)),
		attribute.String("gem.role", string(role)),
		attribute.Int("gem.stream_max_json_size", settings.StreamMaxJSONSize()),
	))

	st, err := s.sendStream(ctx, prompt, role, settings, span)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		span.End()
		return nil, err
	}
	return st, nil
}

func (s *Session) sendStream(ctx context.Context, prompt string, role Role, settings *Settings, span trace.Span) (*Stream, error) {
	if !role.Valid() {
		return nil, &ConfigError{Field: "role", Value: role, Err: errors.New("unknown role")}
	}
	const op = "streamGenerateContent"
	opts := []httpx.RequestOption{}
	if s.sse {
		opts = append(opts, httpx.WithQueryParam("alt", "sse"))
	}
	body := buildRequest(s.history.Turns(), prompt, role, settings)
	req, err := s.http.NewJSONRequest(ctx, http.MethodPost, s.endpoint(op), body, opts...)
	if err != nil {
		return nil, &TransportError{Op: op, Err: err}
	}

	s.logger.DebugContext(ctx, "gem request", "op", op, "model", s.model, "turns", s.history.Len()+1, "sse", s.sse)
	hresp, err := s.http.DoStatus(req)
	if err != nil {
		return nil, s.mapError(op, req, err)
	}

	var src chunkReader = newBodyReader(hresp.Body)
	if s.sse {
		src = newSSEReader(hresp.Body, settings.StreamMaxJSONSize())
	}
	st := &Stream{
		body:   hresp.Body,
		src:    src,
		sc:     framing.NewScanner(settings.StreamMaxJSONSize()),
		url:    req.URL.String(),
		span:   span,
		logger: s.logger,
	}
	if h := s.history; h != nil {
		st.onDone = func(text string) {
			h.Append(role, prompt)
			h.Append(RoleModel, text)
		}
	}
	runtime.AddCleanup(st, func(l leaked) {
		_ = l.body.Close()
		l.span.End()
	}, leaked{body: hresp.Body, span: span})
	return st, nil
}

// leaked is what a Stream dropped without Close still holds open.
type leaked struct {
	body io.ReadCloser
	span trace.Span
}

// Stream is a forward-only sequence of response fragments decoded as the
// response body arrives.
//
// Recv returns fragments in arrival order and io.EOF after the last one.
// A fragment that cannot be decoded, or an error object sent by the server,
// comes back as an error for that fragment only and Recv may be called
// again. A *StreamError or a *TransportError ends the stream and is returned
// from then on.
//
// A Stream is not safe for concurrent use.
type Stream struct {
	body io.ReadCloser
	src  chunkReader
	sc   *framing.Scanner
	url  string

	eof     bool
	readErr error
	fatal   error
	done    bool
	closed  bool

	fragments int
	text      strings.Builder
	onDone    func(text string)

	span   trace.Span
	logger *slog.Logger
}

func (st *Stream) Recv() (*Response, error) {
	if st.closed {
		return nil, ErrStreamClosed
	}
	if st.fatal != nil {
		return nil, st.fatal
	}
	if st.done {
		return nil, io.EOF
	}

	for {
		f, ok, err := st.sc.Next()
		if err != nil {
			return nil, st.fail(&StreamError{Kind: FrameTooLarge, Limit: st.sc.Limit(), Buffered: st.sc.Pending()})
		}
		if ok {
			return st.decode(f)
		}

		if st.eof {
			if f, ok := st.sc.Flush(); ok {
				return st.decode(f)
			}
			if n := st.sc.Pending(); n > 0 {
				return nil, st.fail(&StreamError{Kind: UnexpectedEOF, Limit: st.sc.Limit(), Buffered: n})
			}
			st.finish()
			return nil, io.EOF
		}
		if st.readErr != nil {
			return nil, st.fail(&TransportError{Op: "read stream", URL: st.url, Err: st.readErr})
		}

		chunk, err := st.src.next()
		if errors.Is(err, errEventTooLarge) {
			return nil, st.fail(&StreamError{Kind: FrameTooLarge, Limit: st.sc.Limit(), Buffered: st.sc.Pending() + len(chunk)})
		}
		if len(chunk) > 0 {
			st.sc.Write(chunk)
		}
		switch {
		case err == nil:
		case errors.Is(err, io.EOF):
			st.eof = true
		default:
			st.readErr = err
		}
	}
}

func (st *Stream) decode(f framing.Frame) (*Response, error) {
	idx := st.fragments
	st.fragments++
	if f.Kind == framing.Junk {
		return nil, &DecodeError{Fragment: idx, Raw: f.Data, Err: errJunk}
	}
	r, err := decodeResponse(f.Data, idx)
	if err != nil {
		st.logger.Debug("gem stream fragment rejected", "fragment", idx, "error", err)
		return nil, err
	}
	st.text.WriteString(r.Text())
	return r, nil
}

// fail ends the stream: the connection is closed so no further bytes are read.
func (st *Stream) fail(err error) error {
	st.fatal = err
	st.logger.Warn("gem stream failed", "fragments", st.fragments, "error", err)
	if st.span != nil {
		st.span.RecordError(err)
		st.span.SetStatus(codes.Error, err.Error())
	}
	st.release()
	return err
}

func (st *Stream) finish() {
	st.done = true
	if st.onDone != nil {
		st.onDone(st.text.String())
		st.onDone = nil
	}
	st.release()
}

func (st *Stream) release() {
	if st.body != nil {
		_ = st.body.Close()
		st.body = nil
	}
	st.sc.Reset()
	if st.span != nil {
		st.span.SetAttributes(attribute.Int("gem.fragments", st.fragments))
		st.span.End()
		st.span = nil
	}
}

// Close closes the connection and drops buffered bytes. A stream closed
// before io.EOF leaves the session Context unchanged.
func (st *Stream) Close() error {
	if st.closed {
		return nil
	}
	st.closed = true
	var err error
	if st.body != nil {
		err = st.body.Close()
		st.body = nil
	}
	st.release()
	return err
}

// All ranges over the remaining fragments. Non-fatal errors are yielded
// with a nil response and iteration goes on; a fatal error is yielded last.
// The stream is closed when the loop ends, including on break.
func (st *Stream) All() iter.Seq2[*Response, error] {
	return func(yield func(*Response, error) bool) {
		defer st.Close()
		for {
			r, err := st.Recv()
			if errors.Is(err, io.EOF) {
				return
			}
			if !yield(r, err) || st.fatal != nil {
				return
			}
		}
	}
}

// Collect reads the stream to the end and merges the fragments: texts are
// concatenated per candidate, the last usage and finish reason win. It stops
// at the first error and returns what was merged so far along with it.
func (st *Stream) Collect() (*Response, error) {
	defer st.Close()

	var acc accumulator
	for {
		r, err := st.Recv()
		if errors.Is(err, io.EOF) {
			return acc.response(), nil
		}
		if err != nil {
			return acc.response(), err
		}
		acc.apply(r)
	}
}

type accumulator struct {
	result    *strings.Builder
	cands     []Candidate
	positions map[int]int

	usage        *Usage
	modelVersion string
	responseID   string
}

func (a *accumulator) apply(r *Response) {
	if r.result != nil {
		if a.result == nil {
			a.result = &strings.Builder{}
		}
		a.result.WriteString(*r.result)
	}
	for _, c := range r.Candidates {
		pos, ok := a.positions[c.Index]
		if !ok {
			if a.positions == nil {
				a.positions = make(map[int]int)
			}
			pos = len(a.cands)
			a.positions[c.Index] = pos
			a.cands = append(a.cands, Candidate{Index: c.Index})
		}
		a.cands[pos].Text += c.Text
		if c.FinishReason != "" {
			a.cands[pos].FinishReason = c.FinishReason
		}
	}
	if r.Usage != nil {
		u := *r.Usage
		a.usage = &u
	}
	if r.ModelVersion != "" {
		a.modelVersion = r.ModelVersion
	}
	if r.ResponseID != "" {
		a.responseID = r.ResponseID
	}
}

func (a *accumulator) response() *Response {
	out := &Response{
		Usage:        a.usage,
		ModelVersion: a.modelVersion,
		ResponseID:   a.responseID,
	}
	if a.result != nil {
		res := a.result.String()
		out.result = &res
		out.results = append(out.results, res)
	}
	for _, c := range a.cands {
		out.Candidates = append(out.Candidates, c)
		if c.Text != "" {
			out.results = append(out.results, c.Text)
		}
	}
	return out
}
