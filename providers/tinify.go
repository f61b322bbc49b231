package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// DefaultTinifyBaseURL is the TinyPNG API endpoint.
const DefaultTinifyBaseURL = "https://api.tinify.com"

type tinifyShrinkResponse struct {
	Input struct {
		Size int64  `json:"size"`
		Type string `json:"type"`
	} `json:"input"`
	Output struct {
		Size int64  `json:"size"`
		Type string `json:"type"`
		URL  string `json:"url"`
	} `json:"output"`
}

// TinifyProvider compresses an uploaded image and re-encodes it as WebP.
// The credential is the TinyPNG API key, sent as basic auth "api:KEY".
type TinifyProvider struct {
	Base
	targetType string
}

// NewTinify creates the compression provider.
func NewTinify(baseURL string, client *http.Client) *TinifyProvider {
	return &TinifyProvider{
		Base:       newBase("tinify", baseURL, DefaultTinifyBaseURL, client),
		targetType: "image/webp",
	}
}

// Generate shrinks req.Input, then asks TinyPNG to convert the compressed
// output and returns the converted bytes.
func (p *TinifyProvider) Generate(ctx context.Context, credential, _ string, req Request) (Result, error) {
	if len(req.Input) == 0 {
		return nil, errors.New("tinify: input image is empty")
	}

	shrinkReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/shrink", bytes.NewReader(req.Input))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	shrinkReq.SetBasicAuth("api", credential)
	if req.MIMEType != "" {
		shrinkReq.Header.Set("Content-Type", req.MIMEType)
	}
	body, resp, err := p.send(shrinkReq)
	if err != nil {
		return nil, err
	}

	var shrink tinifyShrinkResponse
	if err := json.Unmarshal(body, &shrink); err != nil {
		return nil, &ParseError{Provider: p.name, Reason: "decode shrink response", Err: err}
	}
	location := resp.Header.Get("Location")
	if location == "" {
		location = shrink.Output.URL
	}
	if location == "" {
		return nil, &ParseError{Provider: p.name, Reason: "shrink response carried no output location"}
	}
	if strings.HasPrefix(location, "/") {
		location = p.baseURL + location
	}

	convBody, _ := json.Marshal(map[string]map[string]string{"convert": {"type": p.targetType}})
	convReq, err := http.NewRequestWithContext(ctx, http.MethodPost, location, bytes.NewReader(convBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	convReq.SetBasicAuth("api", credential)
	convReq.Header.Set("Content-Type", "application/json")
	data, convResp, err := p.send(convReq)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, &ParseError{Provider: p.name, Reason: "empty converted image"}
	}
	mime := convResp.Header.Get("Content-Type")
	if mime == "" {
		mime = p.targetType
	}
	return ImageResult{Data: data, MIMEType: mime}, nil
}
