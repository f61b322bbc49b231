package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// DefaultGeminiBaseURL is the public Generative Language API endpoint.
const DefaultGeminiBaseURL = "https://generativelanguage.googleapis.com"

// GeminiProvider calls the Gemini generateContent REST endpoint.
type GeminiProvider struct {
	httpClient *http.Client
	baseURL    string
	name       string
}

// NewGemini creates a Gemini provider. The API key is supplied per call.
func NewGemini(baseURL string, client *http.Client) *GeminiProvider {
	if baseURL == "" {
		baseURL = DefaultGeminiBaseURL
	}
	if client == nil {
		client = &http.Client{}
	}
	return &GeminiProvider{
		httpClient: client,
		baseURL:    strings.TrimRight(baseURL, "/"),
		name:       "gemini",
	}
}

// Name returns the provider identifier.
func (p *GeminiProvider) Name() string { return p.name }

// SupportedModels returns the models the content profiles are tuned for.
func (p *GeminiProvider) SupportedModels() []string {
	return []string{
		"gemini-2.5-flash",
		"gemini-2.0-flash",
		"gemini-2.0-flash-lite",
		"gemini-1.5-flash",
	}
}

type geminiInlineData struct {
	MIMEType string `json:"mimeType"`
	Data     []byte `json:"data"`
}

type geminiPart struct {
	Text       string            `json:"text,omitempty"`
	InlineData *geminiInlineData `json:"inlineData,omitempty"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiGenerationConfig struct {
	Temperature      *float64 `json:"temperature,omitempty"`
	TopP             *float64 `json:"topP,omitempty"`
	MaxOutputTokens  *int     `json:"maxOutputTokens,omitempty"`
	ResponseMIMEType string   `json:"responseMimeType,omitempty"`
}

type geminiRequest struct {
	Contents          []geminiContent         `json:"contents"`
	SystemInstruction *geminiContent          `json:"systemInstruction,omitempty"`
	GenerationConfig  *geminiGenerationConfig `json:"generationConfig,omitempty"`
}

type geminiResponse struct {
	Candidates []struct {
		Content struct {
			Parts []geminiPart `json:"parts"`
			Role  string       `json:"role"`
		} `json:"content"`
		FinishReason string `json:"finishReason"`
	} `json:"candidates"`
	PromptFeedback struct {
		BlockReason string `json:"blockReason"`
	} `json:"promptFeedback"`
}

type geminiErrorResponse struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

func buildGeminiRequest(req Request) geminiRequest {
	parts := []geminiPart{}
	if req.Prompt != "" {
		parts = append(parts, geminiPart{Text: req.Prompt})
	}
	if len(req.Input) > 0 {
		mime := req.MIMEType
		if mime == "" {
			mime = http.DetectContentType(req.Input)
		}
		parts = append(parts, geminiPart{InlineData: &geminiInlineData{MIMEType: mime, Data: req.Input}})
	}

	gr := geminiRequest{Contents: []geminiContent{{Role: "user", Parts: parts}}}
	if req.System != "" {
		gr.SystemInstruction = &geminiContent{Parts: []geminiPart{{Text: req.System}}}
	}
	c := req.Config
	if c.Temperature != nil || c.TopP != nil || c.MaxOutputTokens != nil || c.ResponseMIMEType != "" {
		gr.GenerationConfig = &geminiGenerationConfig{
			Temperature:      c.Temperature,
			TopP:             c.TopP,
			MaxOutputTokens:  c.MaxOutputTokens,
			ResponseMIMEType: c.ResponseMIMEType,
		}
	}
	return gr
}

// Generate issues one generateContent call. Inline image parts win over text;
// otherwise the concatenated text of the first candidate is returned.
func (p *GeminiProvider) Generate(ctx context.Context, credential, model string, req Request) (Result, error) {
	if model == "" {
		return nil, fmt.Errorf("gemini: model is required")
	}
	body, err := json.Marshal(buildGeminiRequest(req))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/v1beta/models/%s:generateContent", p.baseURL, url.PathEscape(model))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", credential)

	httpResp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = httpResp.Body.Close() }()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if httpResp.StatusCode < 200 || httpResp.StatusCode > 299 {
		var errResp geminiErrorResponse
		msg := ""
		if json.Unmarshal(respBody, &errResp) == nil && errResp.Error.Message != "" {
			msg = errResp.Error.Message
			if errResp.Error.Status != "" {
				msg = errResp.Error.Status + ": " + msg
			}
		}
		return nil, statusError(p.name, httpResp.StatusCode, respBody, msg)
	}

	var gr geminiResponse
	if err := json.Unmarshal(respBody, &gr); err != nil {
		return nil, &ParseError{Provider: p.name, Reason: "decode response", Err: err}
	}
	if gr.PromptFeedback.BlockReason != "" {
		return nil, &ParseError{Provider: p.name, Reason: "prompt blocked: " + gr.PromptFeedback.BlockReason}
	}
	if len(gr.Candidates) == 0 {
		return nil, &ParseError{Provider: p.name, Reason: "no candidates"}
	}

	cand := gr.Candidates[0]
	var text strings.Builder
	for _, part := range cand.Content.Parts {
		if part.InlineData != nil && len(part.InlineData.Data) > 0 {
			return ImageResult{Data: part.InlineData.Data, MIMEType: part.InlineData.MIMEType}, nil
		}
		text.WriteString(part.Text)
	}
	if strings.TrimSpace(text.String()) == "" {
		return nil, &ParseError{Provider: p.name, Reason: "empty candidate (finish reason " + cand.FinishReason + ")"}
	}
	return TextResult{Text: text.String()}, nil
}
