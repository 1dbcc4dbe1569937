package gem

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lgc202/gemkit/httpx"
)

const helloResponse = `{
	"candidates": [{
		"content": {"role": "model", "parts": [{"text": "I am "}, {"text": "Gemini"}]},
		"finishReason": "STOP",
		"index": 0
	}],
	"usageMetadata": {"promptTokenCount": 5, "candidatesTokenCount": 3, "totalTokenCount": 8},
	"modelVersion": "gemini-2.5-flash",
	"responseId": "resp-1"
}`

func newTestSession(t *testing.T, h http.HandlerFunc, configure ...func(*Builder)) (*Session, *Context) {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	hist := NewContext()
	b := NewBuilder().BaseURL(srv.URL).APIKey("test-key").Context(hist)
	for _, f := range configure {
		f(b)
	}
	s, err := b.Build()
	require.NoError(t, err)
	return s, hist
}

func decodeBody(t *testing.T, r *http.Request) generateContentRequest {
	t.Helper()
	var req generateContentRequest
	assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
	return req
}

func TestSend(t *testing.T) {
	var calls int
	s, hist := newTestSession(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1beta/models/gemini-2.5-pro:generateContent", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("x-goog-api-key"))
		assert.Contains(t, r.Header.Get("User-Agent"), "gemkit/")
		assert.NotEmpty(t, r.Header.Get("X-Request-ID"))

		req := decodeBody(t, r)
		if assert.Len(t, req.Contents, 2*calls-1) {
			assert.Equal(t, "user", req.Contents[len(req.Contents)-1].Role)
		}
		if assert.NotNil(t, req.GenerationConfig) && assert.NotNil(t, req.GenerationConfig.ThinkingConfig) {
			assert.Equal(t, 4000, *req.GenerationConfig.ThinkingConfig.ThinkingBudget)
		}
		assert.Len(t, req.SafetySettings, len(HarmCategories()))

		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, helloResponse)
	}, func(b *Builder) { b.Model(Gemini25Pro).Timeout(5 * time.Second) })

	settings := NewSettings()
	require.NoError(t, settings.SetAllSafetySettings(BlockNone))
	require.NoError(t, settings.SetThinkingBudget(4000))

	resp, err := s.Send(context.Background(), "Hello! What is your name?", RoleUser, settings)
	require.NoError(t, err)
	assert.Equal(t, []string{"I am Gemini"}, resp.Results())
	assert.Equal(t, "STOP", resp.FinishReason())
	assert.Equal(t, 8, resp.Usage.TotalTokens)
	assert.Equal(t, "resp-1", resp.ResponseID)

	assert.Equal(t, []Turn{
		{Role: RoleUser, Text: "Hello! What is your name?"},
		{Role: RoleModel, Text: "I am Gemini"},
	}, hist.Turns())

	_, err = s.Send(context.Background(), "And again?", RoleUser, settings)
	require.NoError(t, err)
	assert.Equal(t, 4, hist.Len())
}

func TestSend_WithoutContextKeepsNoHistory(t *testing.T) {
	s, _ := newTestSession(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Len(t, decodeBody(t, r).Contents, 1)
		_, _ = io.WriteString(w, `{"result":"ok"}`)
	})
	s = s.WithContext(nil)

	for range 2 {
		resp, err := s.Send(context.Background(), "ping", RoleUser, nil)
		require.NoError(t, err)
		assert.Equal(t, "ok", resp.Text())
	}
}

func TestSend_APIError(t *testing.T) {
	s, hist := newTestSession(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "7")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = io.WriteString(w, `{"error":{"code":429,"message":"Quota exceeded","status":"RESOURCE_EXHAUSTED"}}`)
	})

	_, err := s.Send(context.Background(), "hi", RoleUser, nil)
	var ae *APIError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, http.StatusTooManyRequests, ae.StatusCode)
	assert.Equal(t, "Quota exceeded", ae.Message)
	assert.Equal(t, 7*time.Second, ae.RetryAfter)
	assert.NotEmpty(t, ae.RequestID)
	assert.True(t, IsRateLimit(err))
	assert.True(t, IsTemporary(err))
	assert.False(t, IsAuth(err))
	assert.Zero(t, hist.Len(), "failed exchanges are not recorded")
}

func TestSend_AuthError(t *testing.T) {
	s, _ := newTestSession(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = io.WriteString(w, `{"error":{"code":403,"message":"API key not valid","status":"PERMISSION_DENIED"}}`)
	})
	_, err := s.Send(context.Background(), "hi", RoleUser, nil)
	assert.True(t, IsAuth(err))
	assert.Contains(t, err.Error(), "API key not valid")
}

func TestSend_ErrorBodyCap(t *testing.T) {
	body := `{"error":{"code":403,"message":"API key not valid","status":"PERMISSION_DENIED"}}`
	s, _ := newTestSession(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = io.WriteString(w, body)
	}, func(b *Builder) { b.MaxErrorBodyBytes(16) })

	_, err := s.Send(context.Background(), "hi", RoleUser, nil)
	ae, ok := AsAPIError(err)
	require.True(t, ok)
	assert.Equal(t, http.StatusForbidden, ae.StatusCode)
	assert.Equal(t, body[:16], string(ae.Raw))
	assert.Empty(t, ae.Message)
	assert.True(t, IsAuth(err))
}

func TestSend_MalformedBody(t *testing.T) {
	s, hist := newTestSession(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"candidates": [`)
	})

	_, err := s.Send(context.Background(), "hi", RoleUser, nil)
	var de *DecodeError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, -1, de.Fragment)
	assert.Equal(t, `{"candidates": [`, string(de.Raw))
	assert.Zero(t, hist.Len())
}

func TestSend_TransportError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	s, err := NewBuilder().BaseURL(url).ConnectTimeout(time.Second).Build()
	require.NoError(t, err)

	_, err = s.Send(context.Background(), "hi", RoleUser, nil)
	var te *TransportError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, "generateContent", te.Op)
	assert.False(t, te.Timeout())
}

func TestSend_TotalTimeout(t *testing.T) {
	s, _ := newTestSession(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(2 * time.Second):
		case <-r.Context().Done():
		}
	}, func(b *Builder) { b.Timeout(50 * time.Millisecond) })

	_, err := s.Send(context.Background(), "hi", RoleUser, nil)
	var te *TransportError
	require.ErrorAs(t, err, &te)
	assert.True(t, te.Timeout())
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSend_InvalidRole(t *testing.T) {
	s, _ := newTestSession(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected")
	})
	_, err := s.Send(context.Background(), "hi", Role("assistant"), nil)
	var ce *ConfigError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "role", ce.Field)
}

func streamHandler(t *testing.T, chunks ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1beta/models/gemini-2.5-flash:streamGenerateContent", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		f := w.(http.Flusher)
		for _, c := range chunks {
			_, _ = io.WriteString(w, c)
			f.Flush()
		}
	}
}

func TestSendStream(t *testing.T) {
	s, hist := newTestSession(t, streamHandler(t,
		`[{"candidates":[{"content":{"role":"model","parts":[{"text":"Once upon"}]},"index":0}]}`,
		"\r\n,",
		`{"candidates":[{"content":{"role":"model","parts":[{"text":" a time"}]},"finishReason":"STOP","index":0}]}`,
		"]",
	))

	settings := NewSettings()
	require.NoError(t, settings.SetStreamMaxJSONSize(16384))

	st, err := s.SendStream(context.Background(), "tell me a story", RoleUser, settings)
	require.NoError(t, err)
	assert.Zero(t, hist.Len(), "turns are recorded when the stream ends")

	var texts []string
	for r, err := range st.All() {
		require.NoError(t, err)
		texts = append(texts, r.Text())
	}
	assert.Equal(t, []string{"Once upon", " a time"}, texts)
	assert.Equal(t, []Turn{
		{Role: RoleUser, Text: "tell me a story"},
		{Role: RoleModel, Text: "Once upon a time"},
	}, hist.Turns())
}

func TestSendStream_FailedStreamLeavesContext(t *testing.T) {
	var calls int
	s, hist := newTestSession(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		req := decodeBody(t, r)
		if calls == 1 {
			_, _ = io.WriteString(w, `[{"result":"par`)
			return
		}
		if assert.Len(t, req.Contents, 1) {
			assert.Len(t, req.Contents[0].Parts, 1, "a failed prompt must not be merged into the next one")
		}
		_, _ = io.WriteString(w, `[{"result":"ok"}]`)
	})

	st, err := s.SendStream(context.Background(), "first", RoleUser, nil)
	require.NoError(t, err)
	_, err = st.Collect()
	require.ErrorIs(t, err, ErrUnexpectedEOF)
	assert.Zero(t, hist.Len())

	st, err = s.SendStream(context.Background(), "second", RoleUser, nil)
	require.NoError(t, err)
	r, err := st.Collect()
	require.NoError(t, err)
	assert.Equal(t, "ok", r.Text())
	assert.Equal(t, []Turn{
		{Role: RoleUser, Text: "second"},
		{Role: RoleModel, Text: "ok"},
	}, hist.Turns())
}

func TestSendStream_FrameTooLarge(t *testing.T) {
	s, _ := newTestSession(t, streamHandler(t, `{"result":"toolong"}`))
	settings := NewSettings()
	require.NoError(t, settings.SetStreamMaxJSONSize(5))

	st, err := s.SendStream(context.Background(), "hi", RoleUser, settings)
	require.NoError(t, err)
	defer st.Close()

	_, err = st.Recv()
	assert.ErrorIs(t, err, ErrFrameTooLarge)
}

func TestSendStream_SSE(t *testing.T) {
	s, hist := newTestSession(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "sse", r.URL.Query().Get("alt"))
		w.Header().Set("Content-Type", "text/event-stream")
		f := w.(http.Flusher)
		for _, ev := range []string{
			"data: {\"candidates\":[{\"content\":{\"parts\":[{\"text\":\"Hel\"}]},\"index\":0}]}\r\n\r\n",
			"data: {\"candidates\":[{\"content\":{\"parts\":[{\"text\":\"lo\"}]},\"index\":0}]}\r\n\r\n",
		} {
			_, _ = io.WriteString(w, ev)
			f.Flush()
		}
	}, func(b *Builder) { b.SSE(true) })

	st, err := s.SendStream(context.Background(), "hi", RoleUser, nil)
	require.NoError(t, err)
	r, err := st.Collect()
	require.NoError(t, err)
	assert.Equal(t, "Hello", r.Text())
	last, _ := hist.Last()
	assert.Equal(t, Turn{Role: RoleModel, Text: "Hello"}, last)
}

func TestSendStream_SSEFrameTooLarge(t *testing.T) {
	s, hist := newTestSession(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = io.WriteString(w, "data: {\"result\":\""+strings.Repeat("x", 1<<20)+"\"}\n\n")
	}, func(b *Builder) { b.SSE(true) })
	settings := NewSettings()
	require.NoError(t, settings.SetStreamMaxJSONSize(100))

	st, err := s.SendStream(context.Background(), "hi", RoleUser, settings)
	require.NoError(t, err)
	defer st.Close()

	_, err = st.Recv()
	require.ErrorIs(t, err, ErrFrameTooLarge)
	var se *StreamError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, 100, se.Limit)
	assert.Less(t, se.Buffered, 64<<10)
	assert.Zero(t, hist.Len())
}

func TestSendStream_APIErrorBeforeStream(t *testing.T) {
	s, hist := newTestSession(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"error":{"code":400,"message":"bad","status":"INVALID_ARGUMENT"}}`)
	})
	_, err := s.SendStream(context.Background(), "hi", RoleUser, nil)
	ae, ok := AsAPIError(err)
	require.True(t, ok)
	assert.Equal(t, "INVALID_ARGUMENT", ae.Status)
	assert.Zero(t, hist.Len())
}

func TestSendStream_CloseReleasesConnection(t *testing.T) {
	gone := make(chan struct{})
	s, hist := newTestSession(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `[{"result":"first"}`)
		w.(http.Flusher).Flush()
		<-r.Context().Done()
		close(gone)
	})

	st, err := s.SendStream(context.Background(), "hi", RoleUser, nil)
	require.NoError(t, err)
	r, err := st.Recv()
	require.NoError(t, err)
	assert.Equal(t, "first", r.Text())

	require.NoError(t, st.Close())
	select {
	case <-gone:
	case <-time.After(2 * time.Second):
		t.Fatal("server still connected after Close")
	}
	_, err = st.Recv()
	assert.ErrorIs(t, err, ErrStreamClosed)
	assert.Zero(t, hist.Len(), "abandoned exchanges are not recorded")
}

func TestSendStream_ReadTimeout(t *testing.T) {
	s, _ := newTestSession(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `[{"result":"a"}`)
		w.(http.Flusher).Flush()
		select {
		case <-time.After(2 * time.Second):
		case <-r.Context().Done():
		}
	}, func(b *Builder) { b.ReadTimeout(100 * time.Millisecond) })

	st, err := s.SendStream(context.Background(), "hi", RoleUser, nil)
	require.NoError(t, err)
	defer st.Close()

	_, err = st.Recv()
	require.NoError(t, err)
	_, err = st.Recv()
	var te *TransportError
	require.ErrorAs(t, err, &te)
	assert.True(t, te.Timeout())
	assert.ErrorIs(t, err, httpx.ErrReadTimeout)
}

func TestSendStream_SlowConsumerKeepsStream(t *testing.T) {
	s, hist := newTestSession(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"result":"a"}`)
		w.(http.Flusher).Flush()
		time.Sleep(20 * time.Millisecond)
		_, _ = io.WriteString(w, `{"result":"b"}`)
	}, func(b *Builder) { b.ReadTimeout(150 * time.Millisecond) })

	st, err := s.SendStream(context.Background(), "hi", RoleUser, nil)
	require.NoError(t, err)
	defer st.Close()

	r, err := st.Recv()
	require.NoError(t, err)
	assert.Equal(t, "a", r.Text())

	time.Sleep(400 * time.Millisecond)
	r, err = st.Recv()
	require.NoError(t, err)
	assert.Equal(t, "b", r.Text())
	_, err = st.Recv()
	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, 2, hist.Len())
}

func TestSendStream_TotalTimeoutOverridesReadTimeout(t *testing.T) {
	s, _ := newTestSession(t, func(w http.ResponseWriter, r *http.Request) {
		f := w.(http.Flusher)
		_, _ = io.WriteString(w, `{"result":"a"}`)
		f.Flush()
		time.Sleep(200 * time.Millisecond)
		_, _ = io.WriteString(w, `{"result":"b"}`)
	}, func(b *Builder) { b.ReadTimeout(50 * time.Millisecond).Timeout(5 * time.Second) })

	st, err := s.SendStream(context.Background(), "hi", RoleUser, nil)
	require.NoError(t, err)
	r, err := st.Collect()
	require.NoError(t, err)
	assert.Equal(t, "ab", r.Text())
}

func TestSendStream_CallerCancel(t *testing.T) {
	s, _ := newTestSession(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"result":"a"}`)
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	})

	ctx, cancel := context.WithCancel(context.Background())
	st, err := s.SendStream(ctx, "hi", RoleUser, nil)
	require.NoError(t, err)
	defer st.Close()

	_, err = st.Recv()
	require.NoError(t, err)
	cancel()
	_, err = st.Recv()
	var te *TransportError
	require.ErrorAs(t, err, &te)
	assert.False(t, te.Timeout(), "cancellation is not a timeout")
}

func TestSession_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	s, _ := newTestSession(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"result":"ok"}`)
	}, func(b *Builder) { b.Metrics(reg) })

	_, err := s.Send(context.Background(), "hi", RoleUser, nil)
	require.NoError(t, err)

	n, err := testutil.GatherAndCount(reg, "gem_http_requests_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = NewBuilder().Metrics(reg).Build()
	var ce *ConfigError
	require.ErrorAs(t, err, &ce, "collectors cannot be registered twice")
	assert.Equal(t, "metrics", ce.Field)
}

func TestSendTimeout_BoundsSendButNotStreams(t *testing.T) {
	s, _ := newTestSession(t, func(w http.ResponseWriter, r *http.Request) {
		f := w.(http.Flusher)
		_, _ = io.WriteString(w, `[{"result":"a"}`)
		f.Flush()
		select {
		case <-time.After(150 * time.Millisecond):
		case <-r.Context().Done():
			return
		}
		_, _ = io.WriteString(w, `,{"result":"b"}]`)
	}, func(b *Builder) { b.SendTimeout(50 * time.Millisecond) })

	_, err := s.Send(context.Background(), "hi", RoleUser, nil)
	var te *TransportError
	require.ErrorAs(t, err, &te)
	assert.True(t, te.Timeout())

	st, err := s.SendStream(context.Background(), "hi", RoleUser, nil)
	require.NoError(t, err)
	r, err := st.Collect()
	require.NoError(t, err)
	assert.Equal(t, "ab", r.Text())
}
