package providers

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"unicode/utf8"
)

type fakeNetErr struct{}

func (fakeNetErr) Error() string   { return "dial tcp: connection refused" }
func (fakeNetErr) Timeout() bool   { return false }
func (fakeNetErr) Temporary() bool { return true }

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Outcome
	}{
		{"404 model", &StatusError{Provider: "gemini", StatusCode: 404, Message: "models/x is not found"}, OutcomeModelUnavailable},
		{"429", &StatusError{Provider: "gemini", StatusCode: 429, Message: "slow down"}, OutcomeTransient},
		{"500", &StatusError{Provider: "gemini", StatusCode: 500, Message: "internal"}, OutcomeTransient},
		{"503", &StatusError{Provider: "gemini", StatusCode: 503, Message: "overloaded"}, OutcomeTransient},
		{"400 quota", &StatusError{Provider: "gemini", StatusCode: 400, Message: "Quota exceeded for metric"}, OutcomeTransient},
		{"403 resource exhausted", &StatusError{Provider: "gemini", StatusCode: 403, Message: "RESOURCE_EXHAUSTED"}, OutcomeTransient},
		{"400 malformed", &StatusError{Provider: "gemini", StatusCode: 400, Message: "Invalid JSON payload"}, OutcomePermanent},
		{"401 invalid key", &StatusError{Provider: "openai", StatusCode: 401, Message: "Incorrect API key"}, OutcomePermanent},
		{"wrapped 429", fmt.Errorf("attempt 2: %w", &StatusError{Provider: "x", StatusCode: 429}), OutcomeTransient},
		{"parse error", &ParseError{Provider: "gemini", Reason: "no candidates"}, OutcomePermanent},
		{"deadline", fmt.Errorf("call: %w", context.DeadlineExceeded), OutcomeTransient},
		{"net error", fakeNetErr{}, OutcomeTransient},
		{"plain quota text", errors.New("rate limit reached"), OutcomeTransient},
		{"plain other", errors.New("boom"), OutcomePermanent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.err); got != tt.want {
				t.Errorf("Classify() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestParseError_Unwrap(t *testing.T) {
	inner := errors.New("unexpected end of JSON input")
	err := &ParseError{Provider: "gemini", Reason: "decode", Err: inner}
	if !errors.Is(err, inner) {
		t.Error("ParseError should unwrap to its cause")
	}
}

func TestStatusError_TruncatesOnRuneBoundary(t *testing.T) {
	msg := strings.Repeat("a", maxErrorMessage-1) + "ção inválida"
	se := statusError("gemini", 400, nil, msg)
	if !utf8.ValidString(se.Message) {
		t.Fatalf("message is not valid UTF-8: %q", se.Message[len(se.Message)-4:])
	}
	if len(se.Message) != maxErrorMessage-1 {
		t.Errorf("len = %d, want %d", len(se.Message), maxErrorMessage-1)
	}

	short := statusError("gemini", 400, []byte("  Requisição inválida  "), "")
	if short.Message != "Requisição inválida" {
		t.Errorf("message = %q", short.Message)
	}
}
