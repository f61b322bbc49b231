package fallback

import (
	"context"
	"errors"
	"testing"

	"github.com/direitopremium/lexgen/providers"
)

func TestChain_MovesOnExhaustion(t *testing.T) {
	gemini := newScripted("gemini").fail("", "G1", 429).fail("", "G2", 429)
	openai := newScripted("openai")

	g, _ := New(gemini, []string{"G1", "G2"}, nil)
	o, _ := New(openai, []string{"O1"}, []string{"gpt-4o-mini"})
	chain, err := NewChain(g, o)
	if err != nil {
		t.Fatal(err)
	}

	res, prov, err := chain.Invoke(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	if prov.Provider != "openai" || prov.Model != "gpt-4o-mini" {
		t.Errorf("provenance = %+v", prov)
	}
	if prov.Attempts != 3 {
		t.Errorf("attempts = %d, want 3 across the chain", prov.Attempts)
	}
	if res.(providers.TextResult).Text != "ok from gpt-4o-mini/O1" {
		t.Errorf("text = %q", res.(providers.TextResult).Text)
	}
}

func TestChain_SuccessStopsChain(t *testing.T) {
	gemini := newScripted("gemini")
	openai := newScripted("openai")
	g, _ := New(gemini, []string{"G1"}, nil)
	o, _ := New(openai, []string{"O1"}, nil)
	chain, _ := NewChain(g, o)

	if _, _, err := chain.Invoke(context.Background(), req); err != nil {
		t.Fatal(err)
	}
	if openai.callCount() != 0 {
		t.Error("second invoker must not run after success")
	}
}

func TestChain_AggregatedExhaustion(t *testing.T) {
	gemini := newScripted("gemini").fail("", "G1", 500)
	openai := newScripted("openai").fail("", "O1", 503).fail("", "O2", 401)
	g, _ := New(gemini, []string{"G1"}, nil)
	o, _ := New(openai, []string{"O1", "O2"}, nil)
	chain, _ := NewChain(g, o)

	_, prov, err := chain.Invoke(context.Background(), req)
	var ex *ExhaustedError
	if !errors.As(err, &ex) {
		t.Fatalf("err = %v", err)
	}
	if ex.Attempts != 3 || prov.Attempts != 3 || chain.MaxAttempts() != 3 {
		t.Errorf("attempts = %d/%d, max %d", ex.Attempts, prov.Attempts, chain.MaxAttempts())
	}
	var se *providers.StatusError
	if !errors.As(err, &se) || se.StatusCode != 401 {
		t.Errorf("last error should be the 401 from O2, got %v", ex.Last)
	}
	if ex.Provider != "gemini,openai" {
		t.Errorf("provider = %q", ex.Provider)
	}
}

func TestChain_CancellationStops(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	g, _ := New(newScripted("gemini"), []string{"G1"}, nil)
	openai := newScripted("openai")
	o, _ := New(openai, []string{"O1"}, nil)
	chain, _ := NewChain(g, o)

	if _, _, err := chain.Invoke(ctx, req); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
	if openai.callCount() != 0 {
		t.Error("chain must stop on cancellation")
	}
}

func TestNewChain_Empty(t *testing.T) {
	if _, err := NewChain(); err == nil {
		t.Error("expected error for empty chain")
	}
}
