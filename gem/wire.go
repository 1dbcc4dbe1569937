package gem

import "strings"

// Request and response bodies of models.generateContent and
// models.streamGenerateContent.

type part struct {
	Text    string `json:"text,omitempty"`
	Thought bool   `json:"thought,omitempty"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type safetySetting struct {
	Category  HarmCategory       `json:"category"`
	Threshold HarmBlockThreshold `json:"threshold"`
}

type thinkingConfig struct {
	ThinkingBudget *int `json:"thinkingBudget,omitempty"`
}

type generationConfig struct {
	ThinkingConfig   *thinkingConfig `json:"thinkingConfig,omitempty"`
	ResponseMIMEType string          `json:"responseMimeType,omitempty"`
	Temperature      *float64        `json:"temperature,omitempty"`
	TopP             *float64        `json:"topP,omitempty"`
	TopK             *int            `json:"topK,omitempty"`
	MaxOutputTokens  *int            `json:"maxOutputTokens,omitempty"`
}

type generateContentRequest struct {
	Contents          []content         `json:"contents"`
	SystemInstruction *content          `json:"systemInstruction,omitempty"`
	SafetySettings    []safetySetting   `json:"safetySettings,omitempty"`
	GenerationConfig  *generationConfig `json:"generationConfig,omitempty"`
}

type candidate struct {
	Content      content `json:"content"`
	FinishReason string  `json:"finishReason,omitempty"`
	Index        int     `json:"index"`
}

type usageMetadata struct {
	PromptTokenCount     int `json:"promptTokenCount"`
	CandidatesTokenCount int `json:"candidatesTokenCount"`
	ThoughtsTokenCount   int `json:"thoughtsTokenCount"`
	TotalTokenCount      int `json:"totalTokenCount"`
}

type apiErrorBody struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status"`
}

type errorEnvelope struct {
	Error *apiErrorBody `json:"error"`
}

type generateContentResponse struct {
	Candidates    []candidate    `json:"candidates"`
	UsageMetadata *usageMetadata `json:"usageMetadata"`
	ModelVersion  string         `json:"modelVersion"`
	ResponseID    string         `json:"responseId"`

	// Result is sent by simple relays instead of candidates.
	Result *string `json:"result"`

	Error *apiErrorBody `json:"error"`
}

// buildRequest turns history, the new prompt and settings into a request
// body. System turns are folded into the system instruction.
func buildRequest(history []Turn, prompt string, role Role, s *Settings) generateContentRequest {
	var req generateContentRequest
	var system []part
	if si := strings.TrimSpace(s.SystemInstruction()); si != "" {
		system = append(system, part{Text: si})
	}

	turns := append(history[:len(history):len(history)], Turn{Role: role, Text: prompt})
	for _, t := range turns {
		if t.Role == RoleSystem {
			system = append(system, part{Text: t.Text})
			continue
		}
		// Consecutive turns of one role are merged into one content.
		if n := len(req.Contents); n > 0 && req.Contents[n-1].Role == string(t.Role) {
			req.Contents[n-1].Parts = append(req.Contents[n-1].Parts, part{Text: t.Text})
			continue
		}
		req.Contents = append(req.Contents, content{Role: string(t.Role), Parts: []part{{Text: t.Text}}})
	}
	if req.Contents == nil {
		req.Contents = []content{}
	}
	if len(system) > 0 {
		req.SystemInstruction = &content{Parts: system}
	}

	if s == nil {
		return req
	}
	for _, c := range harmCategories {
		if t, ok := s.safety[c]; ok {
			req.SafetySettings = append(req.SafetySettings, safetySetting{Category: c, Threshold: t})
		}
	}

	gc := generationConfig{
		ResponseMIMEType: s.responseMIMEType,
		Temperature:      s.temperature,
		TopP:             s.topP,
		TopK:             s.topK,
		MaxOutputTokens:  s.maxOutputTokens,
	}
	if s.thinkingBudget != nil {
		gc.ThinkingConfig = &thinkingConfig{ThinkingBudget: s.thinkingBudget}
	}
	if gc != (generationConfig{}) {
		req.GenerationConfig = &gc
	}
	return req
}
