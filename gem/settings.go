package gem

import (
	"errors"
	"strings"
)

// HarmCategory is a safety category understood by the API.
type HarmCategory string

const (
	HarmCategoryHarassment       HarmCategory = "HARM_CATEGORY_HARASSMENT"
	HarmCategoryHateSpeech       HarmCategory = "HARM_CATEGORY_HATE_SPEECH"
	HarmCategorySexuallyExplicit HarmCategory = "HARM_CATEGORY_SEXUALLY_EXPLICIT"
	HarmCategoryDangerousContent HarmCategory = "HARM_CATEGORY_DANGEROUS_CONTENT"
	HarmCategoryCivicIntegrity   HarmCategory = "HARM_CATEGORY_CIVIC_INTEGRITY"
)

var harmCategories = []HarmCategory{
	HarmCategoryHarassment,
	HarmCategoryHateSpeech,
	HarmCategorySexuallyExplicit,
	HarmCategoryDangerousContent,
	HarmCategoryCivicIntegrity,
}

// HarmCategories lists every category in request order.
func HarmCategories() []HarmCategory {
	return append([]HarmCategory(nil), harmCategories...)
}

func (c HarmCategory) Valid() bool {
	for _, k := range harmCategories {
		if c == k {
			return true
		}
	}
	return false
}

// HarmBlockThreshold is the severity from which content is blocked.
type HarmBlockThreshold string

const (
	HarmBlockThresholdUnspecified HarmBlockThreshold = "HARM_BLOCK_THRESHOLD_UNSPECIFIED"
	BlockLowAndAbove              HarmBlockThreshold = "BLOCK_LOW_AND_ABOVE"
	BlockMediumAndAbove           HarmBlockThreshold = "BLOCK_MEDIUM_AND_ABOVE"
	BlockOnlyHigh                 HarmBlockThreshold = "BLOCK_ONLY_HIGH"
	BlockNone                     HarmBlockThreshold = "BLOCK_NONE"
	// BlockOff turns the safety filter off for the category.
	BlockOff HarmBlockThreshold = "OFF"
)

var thresholdAliases = map[string]HarmBlockThreshold{
	"unspecified": HarmBlockThresholdUnspecified,
	"low":         BlockLowAndAbove,
	"medium":      BlockMediumAndAbove,
	"high":        BlockOnlyHigh,
	"none":        BlockNone,
	"off":         BlockOff,
}

func (t HarmBlockThreshold) Valid() bool {
	for _, v := range thresholdAliases {
		if t == v {
			return true
		}
	}
	return false
}

// ParseHarmBlockThreshold accepts the wire name in any case or one of the
// short forms unspecified, low, medium, high, none and off.
func ParseHarmBlockThreshold(s string) (HarmBlockThreshold, error) {
	s = strings.TrimSpace(s)
	if t, ok := thresholdAliases[strings.ToLower(s)]; ok {
		return t, nil
	}
	t := HarmBlockThreshold(strings.ToUpper(s))
	if !t.Valid() {
		return "", &ConfigError{Field: "safety_threshold", Value: s, Err: errUnknownThreshold}
	}
	return t, nil
}

// DefaultStreamMaxJSONSize is the default frame limit of a stream, in bytes.
const DefaultStreamMaxJSONSize = 16384

var (
	errUnknownCategory  = errors.New("unknown harm category")
	errUnknownThreshold = errors.New("unknown harm block threshold")
	errNegative         = errors.New("must not be negative")
	errNotPositive      = errors.New("must be positive")
	errOutOfRange       = errors.New("out of range")
)

// Settings are the per-request generation options.
//
// The zero value is usable: no safety overrides, no thinking budget and the
// default stream frame limit. Mutators reject invalid input with a
// *ConfigError and leave the settings unchanged. A Settings value may be
// shared by concurrent requests as long as nobody mutates it meanwhile.
type Settings struct {
	safety map[HarmCategory]HarmBlockThreshold

	thinkingBudget    *int
	streamMaxJSONSize int

	systemInstruction string
	temperature       *float64
	topP              *float64
	topK              *int
	maxOutputTokens   *int
	responseMIMEType  string
}

func NewSettings() *Settings {
	return &Settings{streamMaxJSONSize: DefaultStreamMaxJSONSize}
}

// SetSafetySetting sets the threshold of one category.
func (s *Settings) SetSafetySetting(c HarmCategory, t HarmBlockThreshold) error {
	if !c.Valid() {
		return &ConfigError{Field: "safety_category", Value: c, Err: errUnknownCategory}
	}
	if !t.Valid() {
		return &ConfigError{Field: "safety_threshold", Value: t, Err: errUnknownThreshold}
	}
	if s.safety == nil {
		s.safety = make(map[HarmCategory]HarmBlockThreshold, len(harmCategories))
	}
	s.safety[c] = t
	return nil
}

// SetAllSafetySettings sets every category to t.
func (s *Settings) SetAllSafetySettings(t HarmBlockThreshold) error {
	if !t.Valid() {
		return &ConfigError{Field: "safety_threshold", Value: t, Err: errUnknownThreshold}
	}
	for _, c := range harmCategories {
		_ = s.SetSafetySetting(c, t)
	}
	return nil
}

// SafetySetting returns the threshold of c, or HarmBlockThresholdUnspecified
// when it was never set.
func (s *Settings) SafetySetting(c HarmCategory) HarmBlockThreshold {
	if s == nil {
		return HarmBlockThresholdUnspecified
	}
	if t, ok := s.safety[c]; ok {
		return t
	}
	return HarmBlockThresholdUnspecified
}

// SetThinkingBudget is a hint for how many tokens the model may spend
// thinking. 0 asks the model not to think.
func (s *Settings) SetThinkingBudget(n int) error {
	if n < 0 {
		return &ConfigError{Field: "thinking_budget", Value: n, Err: errNegative}
	}
	s.thinkingBudget = &n
	return nil
}

func (s *Settings) ThinkingBudget() (int, bool) {
	if s == nil || s.thinkingBudget == nil {
		return 0, false
	}
	return *s.thinkingBudget, true
}

// SetStreamMaxJSONSize sets how large one streamed JSON object may grow
// before the stream fails with ErrFrameTooLarge.
func (s *Settings) SetStreamMaxJSONSize(n int) error {
	if n <= 0 {
		return &ConfigError{Field: "stream_max_json_size", Value: n, Err: errNotPositive}
	}
	s.streamMaxJSONSize = n
	return nil
}

func (s *Settings) StreamMaxJSONSize() int {
	if s == nil || s.streamMaxJSONSize <= 0 {
		return DefaultStreamMaxJSONSize
	}
	return s.streamMaxJSONSize
}

func (s *Settings) SetSystemInstruction(text string) {
	s.systemInstruction = text
}

func (s *Settings) SystemInstruction() string {
	if s == nil {
		return ""
	}
	return s.systemInstruction
}

// SetTemperature accepts values in [0, 2].
func (s *Settings) SetTemperature(v float64) error {
	if v < 0 || v > 2 {
		return &ConfigError{Field: "temperature", Value: v, Err: errOutOfRange}
	}
	s.temperature = &v
	return nil
}

// SetTopP accepts values in [0, 1].
func (s *Settings) SetTopP(v float64) error {
	if v < 0 || v > 1 {
		return &ConfigError{Field: "top_p", Value: v, Err: errOutOfRange}
	}
	s.topP = &v
	return nil
}

func (s *Settings) SetTopK(k int) error {
	if k <= 0 {
		return &ConfigError{Field: "top_k", Value: k, Err: errNotPositive}
	}
	s.topK = &k
	return nil
}

func (s *Settings) SetMaxOutputTokens(n int) error {
	if n <= 0 {
		return &ConfigError{Field: "max_output_tokens", Value: n, Err: errNotPositive}
	}
	s.maxOutputTokens = &n
	return nil
}

// SetResponseMIMEType asks for a response format, e.g. "application/json".
// An empty string restores the default.
func (s *Settings) SetResponseMIMEType(mime string) {
	s.responseMIMEType = strings.TrimSpace(mime)
}

// Clone returns an independent copy.
func (s *Settings) Clone() *Settings {
	if s == nil {
		return NewSettings()
	}
	out := *s
	if s.safety != nil {
		out.safety = make(map[HarmCategory]HarmBlockThreshold, len(s.safety))
		for k, v := range s.safety {
			out.safety[k] = v
		}
	}
	out.thinkingBudget = clonePtr(s.thinkingBudget)
	out.temperature = clonePtr(s.temperature)
	out.topP = clonePtr(s.topP)
	out.topK = clonePtr(s.topK)
	out.maxOutputTokens = clonePtr(s.maxOutputTokens)
	return &out
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
