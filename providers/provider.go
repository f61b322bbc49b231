// Package providers defines the Provider interface and the shared request and
// result types used by every upstream integration (generative text and image
// models, places search, video metadata, image compression).
//
// A Provider performs exactly one call with exactly one credential. Choosing
// which credential and which model to try next is the job of the fallback
// invoker; providers only report what happened, as a Result or as an error
// that Classify can interpret.
//
// Core types: Request, Result (TextResult, ImageResult, StructuredResult),
// StatusError, ParseError.
package providers

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
)

// Provider defines the interface that all upstream integrations implement.
type Provider interface {
	// Name returns the provider identifier used in config and provenance.
	Name() string
	// Generate performs a single call using credential and model. model may be
	// empty for providers that have no model dimension.
	Generate(ctx context.Context, credential, model string, req Request) (Result, error)
}

// ModelLister is implemented by providers that advertise known model names.
type ModelLister interface {
	Provider
	SupportedModels() []string
}

// GenerationConfig carries sampling parameters forwarded to generative models.
type GenerationConfig struct {
	Temperature     *float64 `json:"temperature,omitempty" yaml:"temperature,omitempty" toml:"temperature,omitempty"`
	TopP            *float64 `json:"top_p,omitempty" yaml:"top_p,omitempty" toml:"top_p,omitempty"`
	MaxOutputTokens *int     `json:"max_output_tokens,omitempty" yaml:"max_output_tokens,omitempty" toml:"max_output_tokens,omitempty"`
	// ResponseMIMEType asks the model for a specific output encoding, e.g.
	// "application/json" for structured generations.
	ResponseMIMEType string `json:"response_mime_type,omitempty" yaml:"response_mime_type,omitempty" toml:"response_mime_type,omitempty"`
}

// Request is the provider-neutral input of a single call.
//
// Generative providers read Prompt and System; data providers (places,
// youtube) read Body; the compression provider reads Input.
type Request struct {
	Prompt   string           `json:"prompt,omitempty"`
	System   string           `json:"system,omitempty"`
	Body     json.RawMessage  `json:"body,omitempty"`
	Input    []byte           `json:"-"`
	MIMEType string           `json:"mime_type,omitempty"`
	Config   GenerationConfig `json:"generation_config"`
}

// Validate reports requests that no provider could serve.
func (r Request) Validate() error {
	if strings.TrimSpace(r.Prompt) == "" && len(r.Body) == 0 && len(r.Input) == 0 {
		return errors.New("request needs a prompt, a body or an input payload")
	}
	if r.Config.Temperature != nil && (*r.Config.Temperature < 0 || *r.Config.Temperature > 2) {
		return errors.New("temperature must be between 0 and 2")
	}
	if r.Config.TopP != nil && (*r.Config.TopP < 0 || *r.Config.TopP > 1) {
		return errors.New("top_p must be between 0 and 1")
	}
	if r.Config.MaxOutputTokens != nil && *r.Config.MaxOutputTokens <= 0 {
		return errors.New("max_output_tokens must be positive")
	}
	if len(r.Body) > 0 && !json.Valid(r.Body) {
		return errors.New("body must be valid JSON")
	}
	return nil
}
