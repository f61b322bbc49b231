package providers

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// Base provides common fields and methods shared by REST-based provider
// implementations. Embed this struct to avoid repeating name, baseURL and
// HTTP client handling across providers.
type Base struct {
	name       string
	baseURL    string
	httpClient *http.Client
}

func newBase(name, baseURL, defaultURL string, client *http.Client) Base {
	if baseURL == "" {
		baseURL = defaultURL
	}
	if client == nil {
		client = &http.Client{}
	}
	return Base{name: name, baseURL: strings.TrimRight(baseURL, "/"), httpClient: client}
}

// Name returns the provider name.
func (b *Base) Name() string { return b.name }

// BaseURL returns the provider base URL.
func (b *Base) BaseURL() string { return b.baseURL }

// upstreamError matches the error envelopes of the Google APIs
// ({"error":{"message":...}}) and of TinyPNG ({"error":"...","message":...}).
type upstreamError struct {
	Error   json.RawMessage `json:"error"`
	Message string          `json:"message"`
}

func (u upstreamError) text() string {
	if len(u.Error) > 0 && u.Error[0] == '{' {
		var inner struct {
			Message string `json:"message"`
			Status  string `json:"status"`
		}
		if json.Unmarshal(u.Error, &inner) == nil && inner.Message != "" {
			if inner.Status != "" {
				return inner.Status + ": " + inner.Message
			}
			return inner.Message
		}
	}
	var code string
	_ = json.Unmarshal(u.Error, &code)
	switch {
	case code != "" && u.Message != "":
		return code + ": " + u.Message
	case u.Message != "":
		return u.Message
	}
	return code
}

// send executes req and returns the body of a 2xx response. Non-2xx
// answers become *StatusError.
func (b *Base) send(req *http.Request) ([]byte, *http.Response, error) {
	resp, err := b.httpClient.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("%s request failed: %w", b.name, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp, fmt.Errorf("%s: failed to read response: %w", b.name, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var ue upstreamError
		msg := ""
		if json.Unmarshal(body, &ue) == nil {
			msg = ue.text()
		}
		return nil, resp, statusError(b.name, resp.StatusCode, body, msg)
	}
	return body, resp, nil
}
