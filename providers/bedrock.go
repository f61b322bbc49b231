package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
)

// BedrockProvider implements the Provider interface for AWS Bedrock.
// Supports Anthropic Claude, Amazon Titan and Meta Llama text models via
// the Bedrock runtime InvokeModel API.
//
// Credentials are passed per call as "ACCESS_KEY_ID:SECRET_ACCESS_KEY" with
// an optional ":SESSION_TOKEN" suffix, so several AWS accounts can sit in the
// same fallback list as plain API keys do for other providers.
type BedrockProvider struct {
	client   *bedrockruntime.Client
	region   string
	endpoint string
}

// NewBedrock creates a new AWS Bedrock provider. region defaults to
// us-east-1; endpoint overrides the service URL when non-empty.
func NewBedrock(ctx context.Context, region, endpoint string) (*BedrockProvider, error) {
	if region == "" {
		region = "us-east-1"
	}

	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := bedrockruntime.NewFromConfig(cfg, func(o *bedrockruntime.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
		o.Retryer = aws.NopRetryer{}
	})
	return &BedrockProvider{client: client, region: region, endpoint: endpoint}, nil
}

// Name returns the provider identifier.
func (p *BedrockProvider) Name() string { return "bedrock" }

// SupportedModels returns well-known Bedrock text model IDs.
func (p *BedrockProvider) SupportedModels() []string {
	return []string{
		"anthropic.claude-3-5-haiku-20241022-v1:0",
		"anthropic.claude-3-5-sonnet-20241022-v2:0",
		"amazon.titan-text-premier-v1:0",
		"meta.llama3-1-70b-instruct-v1:0",
	}
}

// ParseBedrockCredential splits "ACCESS:SECRET[:SESSION]".
func ParseBedrockCredential(cred string) (aws.CredentialsProvider, error) {
	parts := strings.SplitN(strings.TrimSpace(cred), ":", 3)
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return nil, errors.New("bedrock credential must be ACCESS_KEY_ID:SECRET_ACCESS_KEY[:SESSION_TOKEN]")
	}
	session := ""
	if len(parts) == 3 {
		session = parts[2]
	}
	return credentials.NewStaticCredentialsProvider(parts[0], parts[1], session), nil
}

type bedrockAnthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type bedrockAnthropicRequest struct {
	AnthropicVersion string                    `json:"anthropic_version"`
	MaxTokens        int                       `json:"max_tokens"`
	Messages         []bedrockAnthropicMessage `json:"messages"`
	Temperature      *float64                  `json:"temperature,omitempty"`
	TopP             *float64                  `json:"top_p,omitempty"`
	System           string                    `json:"system,omitempty"`
}

type bedrockAnthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
}

type bedrockTitanRequest struct {
	InputText            string `json:"inputText"`
	TextGenerationConfig struct {
		MaxTokenCount int      `json:"maxTokenCount,omitempty"`
		Temperature   float64  `json:"temperature,omitempty"`
		TopP          *float64 `json:"topP,omitempty"`
	} `json:"textGenerationConfig"`
}

type bedrockTitanResponse struct {
	Results []struct {
		OutputText string `json:"outputText"`
	} `json:"results"`
}

type bedrockLlamaRequest struct {
	Prompt      string   `json:"prompt"`
	MaxGenLen   int      `json:"max_gen_len,omitempty"`
	Temperature *float64 `json:"temperature,omitempty"`
	TopP        *float64 `json:"top_p,omitempty"`
}

type bedrockLlamaResponse struct {
	Generation string `json:"generation"`
}

// bedrockBody builds the model-family specific request body.
func bedrockBody(model string, req Request) ([]byte, error) {
	maxTokens := 2048
	if req.Config.MaxOutputTokens != nil {
		maxTokens = *req.Config.MaxOutputTokens
	}
	switch {
	case strings.HasPrefix(model, "anthropic."):
		return json.Marshal(bedrockAnthropicRequest{
			AnthropicVersion: "bedrock-2023-05-31",
			MaxTokens:        maxTokens,
			Messages:         []bedrockAnthropicMessage{{Role: "user", Content: req.Prompt}},
			Temperature:      req.Config.Temperature,
			TopP:             req.Config.TopP,
			System:           req.System,
		})
	case strings.HasPrefix(model, "amazon.titan"):
		tr := bedrockTitanRequest{InputText: joinSystem(req)}
		tr.TextGenerationConfig.MaxTokenCount = maxTokens
		if req.Config.Temperature != nil {
			tr.TextGenerationConfig.Temperature = *req.Config.Temperature
		}
		tr.TextGenerationConfig.TopP = req.Config.TopP
		return json.Marshal(tr)
	case strings.HasPrefix(model, "meta.llama"):
		return json.Marshal(bedrockLlamaRequest{
			Prompt:      joinSystem(req),
			MaxGenLen:   maxTokens,
			Temperature: req.Config.Temperature,
			TopP:        req.Config.TopP,
		})
	}
	return nil, fmt.Errorf("unsupported Bedrock model prefix for model: %s", model)
}

func joinSystem(req Request) string {
	if req.System == "" {
		return req.Prompt
	}
	return req.System + "\n\n" + req.Prompt
}

func bedrockText(model string, body []byte) (string, error) {
	switch {
	case strings.HasPrefix(model, "anthropic."):
		var r bedrockAnthropicResponse
		if err := json.Unmarshal(body, &r); err != nil {
			return "", err
		}
		var sb strings.Builder
		for _, c := range r.Content {
			if c.Type == "text" {
				sb.WriteString(c.Text)
			}
		}
		return sb.String(), nil
	case strings.HasPrefix(model, "amazon.titan"):
		var r bedrockTitanResponse
		if err := json.Unmarshal(body, &r); err != nil {
			return "", err
		}
		if len(r.Results) == 0 {
			return "", nil
		}
		return r.Results[0].OutputText, nil
	default:
		var r bedrockLlamaResponse
		if err := json.Unmarshal(body, &r); err != nil {
			return "", err
		}
		return r.Generation, nil
	}
}

// Generate invokes model once with the static credentials in credential.
func (p *BedrockProvider) Generate(ctx context.Context, credential, model string, req Request) (Result, error) {
	creds, err := ParseBedrockCredential(credential)
	if err != nil {
		return nil, err
	}
	body, err := bedrockBody(model, req)
	if err != nil {
		return nil, err
	}

	output, err := p.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(model),
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
		Body:        body,
	}, func(o *bedrockruntime.Options) {
		o.Credentials = creds
	})
	if err != nil {
		var re *awshttp.ResponseError
		if errors.As(err, &re) {
			return nil, &StatusError{Provider: "bedrock", StatusCode: re.HTTPStatusCode(), Message: re.Error()}
		}
		return nil, fmt.Errorf("bedrock invoke failed: %w", err)
	}

	text, err := bedrockText(model, output.Body)
	if err != nil {
		return nil, &ParseError{Provider: "bedrock", Reason: "decode response", Err: err}
	}
	if strings.TrimSpace(text) == "" {
		return nil, &ParseError{Provider: "bedrock", Reason: "empty completion"}
	}
	return TextResult{Text: text}, nil
}
