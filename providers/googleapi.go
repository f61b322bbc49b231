package providers

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// googleAPIOptions builds client options for the generated Google API
// clients. The credential is sent per call, so the client carries none.
func googleAPIOptions(baseURL string, client *http.Client) []option.ClientOption {
	if client == nil {
		client = &http.Client{}
	}
	opts := []option.ClientOption{option.WithHTTPClient(client)}
	if baseURL != "" {
		opts = append(opts, option.WithEndpoint(strings.TrimRight(baseURL, "/")+"/"))
	}
	return opts
}

// googleAPIError maps a *googleapi.Error onto *StatusError.
func googleAPIError(provider string, err error) error {
	var ge *googleapi.Error
	if errors.As(err, &ge) {
		return statusError(provider, ge.Code, []byte(ge.Body), ge.Message)
	}
	return fmt.Errorf("%s request failed: %w", provider, err)
}
