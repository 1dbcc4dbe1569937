package framing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// drain feeds chunks one by one and collects every frame.
func drain(t *testing.T, limit int, chunks ...string) ([]Frame, *Scanner, error) {
	t.Helper()
	s := NewScanner(limit)
	var out []Frame
	for _, c := range chunks {
		s.Write([]byte(c))
		for {
			f, ok, err := s.Next()
			if err != nil {
				return out, s, err
			}
			if !ok {
				break
			}
			out = append(out, f)
		}
	}
	if f, ok := s.Flush(); ok {
		out = append(out, f)
	}
	return out, s, nil
}

func texts(frames []Frame) []string {
	out := make([]string, len(frames))
	for i, f := range frames {
		out[i] = f.Kind.String() + ":" + string(f.Data)
	}
	return out
}

func TestScanner_SplitObject(t *testing.T) {
	frames, s, err := drain(t, 100, `{"result":"Hel`, `lo"}{"result":"World"}`)
	require.NoError(t, err)
	assert.Equal(t, []string{`object:{"result":"Hello"}`, `object:{"result":"World"}`}, texts(frames))
	assert.Zero(t, s.Pending())
}

func TestScanner_JSONArrayBody(t *testing.T) {
	body := "[{\"a\":1}\n,\r\n{\"b\":[1,{\"c\":\"]\"}]}\n]"
	frames, s, err := drain(t, 0, body)
	require.NoError(t, err)
	assert.Equal(t, []string{`object:{"a":1}`, `object:{"b":[1,{"c":"]"}]}`}, texts(frames))
	assert.Zero(t, s.Pending())
	assert.Zero(t, s.Buffered())
}

func TestScanner_StringsHideDelimiters(t *testing.T) {
	obj := `{"t":"{not} \"quoted\" \\","u":"\\\""}`
	frames, _, err := drain(t, 0, obj)
	require.NoError(t, err)
	require.Len(t, frames, 1)
	assert.Equal(t, obj, string(frames[0].Data))
}

func TestScanner_EveryFragmentationIsEquivalent(t *testing.T) {
	body := `[{"text":"héllo ✓ wörld"},{"text":"a\"}b\\"},` + "\n" + `{"n":{"x":[1,2,{"y":"}"}]}}]`
	want, _, err := drain(t, 0, body)
	require.NoError(t, err)
	require.Len(t, want, 3)

	for i := 0; i <= len(body); i++ {
		for j := i; j <= len(body); j++ {
			got, s, err := drain(t, 0, body[:i], body[i:j], body[j:])
			require.NoError(t, err)
			require.Equal(t, texts(want), texts(got), "split at %d/%d", i, j)
			require.Zero(t, s.Pending())
		}
	}
}

func TestScanner_ByteAtATime(t *testing.T) {
	body := `{"result":"Hello"}{"result":"World"}`
	chunks := make([]string, len(body))
	for i := range body {
		chunks[i] = body[i : i+1]
	}
	frames, _, err := drain(t, 100, chunks...)
	require.NoError(t, err)
	assert.Equal(t, []string{`object:{"result":"Hello"}`, `object:{"result":"World"}`}, texts(frames))
}

func TestScanner_IncompleteObjectStaysPending(t *testing.T) {
	frames, s, err := drain(t, 100, `{"result":"ab`)
	require.NoError(t, err)
	assert.Empty(t, frames)
	assert.Equal(t, len(`{"result":"ab`), s.Pending())
}

func TestScanner_FrameTooLarge(t *testing.T) {
	frames, s, err := drain(t, 5, `{"result":"toolong"}`)
	require.ErrorIs(t, err, ErrFrameTooLarge)
	assert.Empty(t, frames)
	assert.Equal(t, 6, s.Pending())
	assert.Zero(t, s.Buffered())

	// sticky
	s.Write([]byte(`{}`))
	_, ok, err := s.Next()
	assert.False(t, ok)
	assert.ErrorIs(t, err, ErrFrameTooLarge)
}

func TestScanner_LimitIsPerFrame(t *testing.T) {
	// Each object fits; the window as a whole does not.
	frames, _, err := drain(t, 8, `{"a":1}{"b":2}{"c":3}`)
	require.NoError(t, err)
	assert.Len(t, frames, 3)

	frames, _, err = drain(t, 7, `{"a":1}`)
	require.NoError(t, err)
	assert.Len(t, frames, 1)
}

func TestScanner_PartialFrameOverLimit(t *testing.T) {
	_, _, err := drain(t, 10, `{"result":`, `"still going`)
	assert.ErrorIs(t, err, ErrFrameTooLarge)
}

func TestScanner_JunkBetweenObjects(t *testing.T) {
	frames, _, err := drain(t, 0, `{"a":1} oops {"b":2}tail`)
	require.NoError(t, err)
	assert.Equal(t, []string{`object:{"a":1}`, `junk:oops`, `object:{"b":2}`, `junk:tail`}, texts(frames))
}

func TestScanner_CompactsConsumedBytes(t *testing.T) {
	s := NewScanner(0)
	s.Write([]byte(`{"a":1}{"b":`))
	_, ok, err := s.Next()
	require.NoError(t, err)
	require.True(t, ok)
	_, ok, err = s.Next()
	require.NoError(t, err)
	require.False(t, ok)

	s.Write([]byte(`2}`))
	assert.Equal(t, `{"b":2}`, string(s.buf), "consumed object should be discarded")
	f, ok, err := s.Next()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, `{"b":2}`, string(f.Data))
}

func TestScanner_Reset(t *testing.T) {
	s := NewScanner(3)
	s.Write([]byte(`{"abc"`))
	_, _, err := s.Next()
	require.ErrorIs(t, err, ErrFrameTooLarge)

	s.Reset()
	assert.Equal(t, 3, s.Limit())
	s.Write([]byte(`{}`))
	f, ok, err := s.Next()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "{}", string(f.Data))
}
