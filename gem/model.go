package gem

import (
	"errors"
	"strings"
)

// Model names a Gemini model as it appears in the request path.
type Model string

const (
	Gemini25Pro       Model = "gemini-2.5-pro"
	Gemini25Flash     Model = "gemini-2.5-flash"
	Gemini25FlashLite Model = "gemini-2.5-flash-lite"
	Gemini20Flash     Model = "gemini-2.0-flash"
	Gemini20FlashLite Model = "gemini-2.0-flash-lite"
)

var errUnknownModel = errors.New("unknown model")

// DefaultModel is used when the builder is not given one.
const DefaultModel = Gemini25Flash

var knownModels = []Model{
	Gemini25Pro,
	Gemini25Flash,
	Gemini25FlashLite,
	Gemini20Flash,
	Gemini20FlashLite,
}

// Models lists the supported models.
func Models() []Model {
	return append([]Model(nil), knownModels...)
}

func (m Model) String() string { return string(m) }

func (m Model) Valid() bool {
	for _, k := range knownModels {
		if m == k {
			return true
		}
	}
	return false
}

// ParseModel accepts a model name with or without the "models/" prefix.
func ParseModel(s string) (Model, error) {
	m := Model(strings.TrimPrefix(strings.ToLower(strings.TrimSpace(s)), "models/"))
	if !m.Valid() {
		return "", &ConfigError{Field: "model", Value: s, Err: errUnknownModel}
	}
	return m, nil
}
