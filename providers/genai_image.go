package providers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"google.golang.org/genai"
)

// GenAIImageProvider generates illustrations (book covers, flashcard art)
// through the Gemini image models using the official genai SDK.
type GenAIImageProvider struct {
	baseURL    string
	httpClient *http.Client

	mu      sync.Mutex
	clients map[string]*genai.Client
}

// NewGenAIImage creates the image provider. baseURL may be empty.
func NewGenAIImage(baseURL string, httpClient *http.Client) *GenAIImageProvider {
	return &GenAIImageProvider{
		baseURL:    baseURL,
		httpClient: httpClient,
		clients:    make(map[string]*genai.Client),
	}
}

// Name returns the provider identifier.
func (p *GenAIImageProvider) Name() string { return "genai-image" }

// SupportedModels returns the image-capable Gemini models.
func (p *GenAIImageProvider) SupportedModels() []string {
	return []string{
		"gemini-2.5-flash-image",
		"gemini-2.0-flash-preview-image-generation",
	}
}

// client returns the SDK client bound to credential, creating it once.
func (p *GenAIImageProvider) client(ctx context.Context, credential string) (*genai.Client, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if c, ok := p.clients[credential]; ok {
		return c, nil
	}
	cfg := &genai.ClientConfig{
		APIKey:     credential,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: p.httpClient,
	}
	if p.baseURL != "" {
		cfg.HTTPOptions = genai.HTTPOptions{BaseURL: p.baseURL}
	}
	c, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	p.clients[credential] = c
	return c, nil
}

func genaiConfig(req Request) *genai.GenerateContentConfig {
	cfg := &genai.GenerateContentConfig{}
	cfg.ResponseModalities = append(cfg.ResponseModalities, "TEXT", "IMAGE")
	if req.System != "" {
		cfg.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
	}
	if req.Config.Temperature != nil {
		cfg.Temperature = genai.Ptr(float32(*req.Config.Temperature))
	}
	if req.Config.TopP != nil {
		cfg.TopP = genai.Ptr(float32(*req.Config.TopP))
	}
	if req.Config.MaxOutputTokens != nil {
		cfg.MaxOutputTokens = int32(*req.Config.MaxOutputTokens)
	}
	return cfg
}

// Generate requests an image for req.Prompt and returns the first inline
// image part of the first candidate.
func (p *GenAIImageProvider) Generate(ctx context.Context, credential, model string, req Request) (Result, error) {
	c, err := p.client(ctx, credential)
	if err != nil {
		return nil, err
	}
	resp, err := c.Models.GenerateContent(ctx, model, genai.Text(req.Prompt), genaiConfig(req))
	if err != nil {
		return nil, mapGenAIError(err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil, &ParseError{Provider: p.Name(), Reason: "no candidates"}
	}
	for _, part := range resp.Candidates[0].Content.Parts {
		if part != nil && part.InlineData != nil && len(part.InlineData.Data) > 0 {
			return ImageResult{Data: part.InlineData.Data, MIMEType: part.InlineData.MIMEType}, nil
		}
	}
	return nil, &ParseError{Provider: p.Name(), Reason: "response carried no image part"}
}

func mapGenAIError(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return &StatusError{Provider: "genai-image", StatusCode: apiErr.Code, Message: apiErr.Status + ": " + apiErr.Message}
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) && apiErrPtr != nil {
		return &StatusError{Provider: "genai-image", StatusCode: apiErrPtr.Code, Message: apiErrPtr.Status + ": " + apiErrPtr.Message}
	}
	return fmt.Errorf("genai request failed: %w", err)
}
