package providers

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// OpenAIProvider talks to any OpenAI-compatible chat completions endpoint
// (OpenAI itself, DeepSeek, Groq, Together, a local Ollama...).
type OpenAIProvider struct {
	name    string
	baseURL string
	client  openai.Client
}

// NewOpenAI creates an OpenAI-compatible provider registered under name.
// Pass "" as baseURL for api.openai.com. The SDK's own retry loop is
// disabled: moving to the next key is the fallback invoker's job.
func NewOpenAI(name, baseURL string) *OpenAIProvider {
	if name == "" {
		name = "openai"
	}
	opts := []option.RequestOption{option.WithMaxRetries(0)}
	resolvedBase := "https://api.openai.com/v1"
	if baseURL != "" {
		resolvedBase = strings.TrimRight(baseURL, "/") + "/"
		opts = append(opts, option.WithBaseURL(resolvedBase))
	}
	return &OpenAIProvider{
		name:    name,
		baseURL: resolvedBase,
		client:  openai.NewClient(opts...),
	}
}

// Name returns the provider identifier.
func (p *OpenAIProvider) Name() string { return p.name }

// SupportedModels returns a static list of known OpenAI models.
func (p *OpenAIProvider) SupportedModels() []string {
	return []string{
		"gpt-4o-mini",
		"gpt-4o",
		"gpt-4.1-mini",
	}
}

// Generate sends one chat completion with credential as the bearer token.
func (p *OpenAIProvider) Generate(ctx context.Context, credential, model string, req Request) (Result, error) {
	if model == "" {
		return nil, fmt.Errorf("%s: model is required", p.name)
	}
	params := openai.ChatCompletionNewParams{
		Messages: buildOpenAIMessages(req),
		Model:    model,
	}
	applyOpenAIParams(&params, req.Config)

	completion, err := p.client.Chat.Completions.New(ctx, params, option.WithAPIKey(credential))
	if err != nil {
		return nil, p.mapError(err)
	}
	if len(completion.Choices) == 0 {
		return nil, &ParseError{Provider: p.name, Reason: "no choices"}
	}
	text := completion.Choices[0].Message.Content
	if strings.TrimSpace(text) == "" {
		return nil, &ParseError{Provider: p.name, Reason: "empty completion (finish reason " + string(completion.Choices[0].FinishReason) + ")"}
	}
	return TextResult{Text: text}, nil
}

func (p *OpenAIProvider) mapError(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		msg := apiErr.Message
		if msg == "" {
			msg = apiErr.Error()
		}
		return &StatusError{Provider: p.name, StatusCode: apiErr.StatusCode, Message: msg}
	}
	return fmt.Errorf("%s request failed: %w", p.name, err)
}

func buildOpenAIMessages(req Request) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, 2)
	if req.System != "" {
		out = append(out, openai.SystemMessage(req.System))
	}
	prompt := req.Prompt
	if prompt == "" && len(req.Body) > 0 {
		prompt = string(req.Body)
	}
	out = append(out, openai.UserMessage(prompt))
	return out
}

func applyOpenAIParams(params *openai.ChatCompletionNewParams, c GenerationConfig) {
	if c.Temperature != nil {
		params.Temperature = openai.Float(*c.Temperature)
	}
	if c.TopP != nil {
		params.TopP = openai.Float(*c.TopP)
	}
	if c.MaxOutputTokens != nil {
		params.MaxTokens = openai.Int(int64(*c.MaxOutputTokens))
	}
	if c.ResponseMIMEType == "application/json" {
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &openai.ResponseFormatJSONObjectParam{},
		}
	}
}
