package providers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"unicode/utf8"
)

// StatusError is returned by providers when the upstream answered with a
// non-2xx status. SDK-backed providers map their own error types onto it.
type StatusError struct {
	Provider   string
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s API error (%d): %s", e.Provider, e.StatusCode, e.Message)
}

// ParseError is returned when the upstream answered 2xx but the payload could
// not be turned into the expected Result variant.
type ParseError struct {
	Provider string
	Reason   string
	Err      error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: unusable payload: %s: %v", e.Provider, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s: unusable payload: %s", e.Provider, e.Reason)
}

func (e *ParseError) Unwrap() error { return e.Err }

// Outcome is how the fallback invoker should react to a failed attempt.
type Outcome int

const (
	// OutcomePermanent means the credential/request pair will never work:
	// move to the next credential and do not retry this one.
	OutcomePermanent Outcome = iota
	// OutcomeTransient covers rate limits, exhausted quota, 5xx and network
	// failures: move to the next credential, optionally after a backoff.
	OutcomeTransient
	// OutcomeModelUnavailable means the model does not exist for this
	// provider: skip the remaining credentials for the model.
	OutcomeModelUnavailable
)

// String implements fmt.Stringer; values are used as metric labels.
func (o Outcome) String() string {
	switch o {
	case OutcomeTransient:
		return "transient"
	case OutcomeModelUnavailable:
		return "model_unavailable"
	default:
		return "permanent"
	}
}

var quotaMarkers = []string{
	"quota",
	"rate limit",
	"rate_limit",
	"ratelimit",
	"resource_exhausted",
	"resource exhausted",
	"too many requests",
}

// IsQuotaMessage reports whether an upstream error message describes a quota
// or rate-limit condition.
func IsQuotaMessage(msg string) bool {
	msg = strings.ToLower(msg)
	for _, m := range quotaMarkers {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}

// Classify maps an attempt error to an Outcome.
func Classify(err error) Outcome {
	if err == nil {
		return OutcomePermanent
	}

	var pe *ParseError
	if errors.As(err, &pe) {
		return OutcomePermanent
	}

	var se *StatusError
	if errors.As(err, &se) {
		switch {
		case se.StatusCode == http.StatusNotFound:
			return OutcomeModelUnavailable
		case se.StatusCode == http.StatusTooManyRequests:
			return OutcomeTransient
		case se.StatusCode >= 500:
			return OutcomeTransient
		case IsQuotaMessage(se.Message):
			return OutcomeTransient
		default:
			return OutcomePermanent
		}
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, io.ErrUnexpectedEOF) {
		return OutcomeTransient
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return OutcomeTransient
	}
	if IsQuotaMessage(err.Error()) {
		return OutcomeTransient
	}
	return OutcomePermanent
}

// maxErrorMessage bounds StatusError.Message in bytes.
const maxErrorMessage = 512

// statusError builds a StatusError from a raw body, preferring the upstream
// message when the body is a Google-style {"error":{"message":...}} envelope.
func statusError(provider string, status int, body []byte, msg string) *StatusError {
	msg = strings.TrimSpace(msg)
	if msg == "" {
		msg = strings.TrimSpace(string(body))
	}
	if len(msg) > maxErrorMessage {
		n := maxErrorMessage
		for n > 0 && !utf8.RuneStart(msg[n]) {
			n--
		}
		msg = msg[:n]
	}
	return &StatusError{Provider: provider, StatusCode: status, Message: msg}
}
