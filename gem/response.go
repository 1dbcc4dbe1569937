package gem

import (
	"encoding/json"
	"strings"
)

// Usage is the token accounting of a response.
type Usage struct {
	PromptTokens     int `json:"promptTokens" yaml:"promptTokens"`
	CandidatesTokens int `json:"candidatesTokens" yaml:"candidatesTokens"`
	ThoughtsTokens   int `json:"thoughtsTokens,omitempty" yaml:"thoughtsTokens,omitempty"`
	TotalTokens      int `json:"totalTokens" yaml:"totalTokens"`
}

// Candidate is one alternative answer. Text excludes thought parts.
type Candidate struct {
	Index        int    `json:"index" yaml:"index"`
	Text         string `json:"text" yaml:"text"`
	FinishReason string `json:"finishReason,omitempty" yaml:"finishReason,omitempty"`
}

// Response is a complete answer, or one fragment of a streamed answer.
type Response struct {
	Candidates   []Candidate `json:"candidates" yaml:"candidates"`
	Usage        *Usage      `json:"usage,omitempty" yaml:"usage,omitempty"`
	ModelVersion string      `json:"modelVersion,omitempty" yaml:"modelVersion,omitempty"`
	ResponseID   string      `json:"responseId,omitempty" yaml:"responseId,omitempty"`

	// Raw is the decoded JSON object.
	Raw json.RawMessage `json:"-" yaml:"-"`

	result  *string
	results []string
}

// Results returns the extracted texts in candidate order. It may be empty,
// e.g. for a fragment that only carries usage.
func (r *Response) Results() []string {
	if r == nil {
		return nil
	}
	return append([]string(nil), r.results...)
}

// Text returns the first result, or "".
func (r *Response) Text() string {
	if r == nil || len(r.results) == 0 {
		return ""
	}
	return r.results[0]
}

// FinishReason of the first candidate that has one.
func (r *Response) FinishReason() string {
	if r == nil {
		return ""
	}
	for _, c := range r.Candidates {
		if c.FinishReason != "" {
			return c.FinishReason
		}
	}
	return ""
}

func newResponse(w *generateContentResponse, raw []byte) *Response {
	r := &Response{
		ModelVersion: w.ModelVersion,
		ResponseID:   w.ResponseID,
		Raw:          json.RawMessage(raw),
	}
	if w.Result != nil {
		r.result = w.Result
		r.results = append(r.results, *w.Result)
	}
	for _, c := range w.Candidates {
		var b strings.Builder
		hasText := false
		for _, p := range c.Content.Parts {
			if p.Thought || p.Text == "" {
				continue
			}
			b.WriteString(p.Text)
			hasText = true
		}
		r.Candidates = append(r.Candidates, Candidate{Index: c.Index, Text: b.String(), FinishReason: c.FinishReason})
		if hasText {
			r.results = append(r.results, b.String())
		}
	}
	if u := w.UsageMetadata; u != nil {
		r.Usage = &Usage{
			PromptTokens:     u.PromptTokenCount,
			CandidatesTokens: u.CandidatesTokenCount,
			ThoughtsTokens:   u.ThoughtsTokenCount,
			TotalTokens:      u.TotalTokenCount,
		}
	}
	return r
}

// decodeResponse decodes one JSON object. An error object becomes an
// *APIError; anything undecodable a *DecodeError tagged with fragment.
func decodeResponse(raw []byte, fragment int) (*Response, error) {
	var w generateContentResponse
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, &DecodeError{Fragment: fragment, Raw: raw, Err: err}
	}
	if w.Error != nil {
		return nil, &APIError{
			StatusCode: w.Error.Code,
			Status:     w.Error.Status,
			Message:    w.Error.Message,
			Raw:        raw,
		}
	}
	return newResponse(&w, raw), nil
}
