package fallback

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/direitopremium/lexgen/internal/circuitbreaker"
	"github.com/direitopremium/lexgen/providers"
)

type call struct {
	cred  string
	model string
}

// scriptedProvider answers from a table keyed "model/cred"; missing entries
// succeed with a text naming the pair.
type scriptedProvider struct {
	name   string
	mu     sync.Mutex
	calls  []call
	script map[string]func(ctx context.Context) (providers.Result, error)
}

func newScripted(name string) *scriptedProvider {
	return &scriptedProvider{name: name, script: map[string]func(context.Context) (providers.Result, error){}}
}

func (s *scriptedProvider) on(model, cred string, fn func(ctx context.Context) (providers.Result, error)) *scriptedProvider {
	s.script[model+"/"+cred] = fn
	return s
}

func (s *scriptedProvider) fail(model, cred string, status int) *scriptedProvider {
	return s.on(model, cred, func(context.Context) (providers.Result, error) {
		return nil, &providers.StatusError{Provider: s.name, StatusCode: status, Message: "scripted"}
	})
}

func (s *scriptedProvider) Name() string { return s.name }

func (s *scriptedProvider) Generate(ctx context.Context, cred, model string, _ providers.Request) (providers.Result, error) {
	s.mu.Lock()
	s.calls = append(s.calls, call{cred: cred, model: model})
	fn := s.script[model+"/"+cred]
	s.mu.Unlock()
	if fn != nil {
		return fn(ctx)
	}
	return providers.TextResult{Text: "ok from " + model + "/" + cred}, nil
}

func (s *scriptedProvider) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

var req = providers.Request{Prompt: "Explique o crime de furto"}

func TestInvoke_S1_RateLimitedKeysFallThrough(t *testing.T) {
	p := newScripted("gemini").fail("", "A", 429).fail("", "B", 429)
	inv, err := New(p, []string{"A", "B", "C"}, nil)
	if err != nil {
		t.Fatal(err)
	}

	res, prov, err := inv.Invoke(context.Background(), req)
	if err != nil {
		t.Fatalf("Invoke() error: %v", err)
	}
	if res.(providers.TextResult).Text != "ok from /C" {
		t.Errorf("text = %q", res.(providers.TextResult).Text)
	}
	if prov.Attempts != 3 || p.callCount() != 3 {
		t.Errorf("attempts = %d, calls = %d, want 3", prov.Attempts, p.callCount())
	}
	if prov.CredentialIndex != 2 {
		t.Errorf("credential index = %d, want 2", prov.CredentialIndex)
	}
	if prov.Fingerprint == "" || prov.Fingerprint == "C" {
		t.Errorf("fingerprint = %q, must be a hash of the key", prov.Fingerprint)
	}
}

func TestInvoke_S2_ModelNotFoundAdvancesModel(t *testing.T) {
	p := newScripted("gemini").fail("m1", "A", 404)
	inv, _ := New(p, []string{"A"}, []string{"m1", "m2"})

	_, prov, err := inv.Invoke(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	if prov.Attempts != 2 || prov.Model != "m2" {
		t.Errorf("provenance = %+v, want m2 after 2 attempts", prov)
	}
}

func TestInvoke_ModelNotFoundSkipsRemainingCredentials(t *testing.T) {
	p := newScripted("gemini").fail("m1", "A", 404)
	inv, _ := New(p, []string{"A", "B"}, []string{"m1", "m2"})

	_, prov, err := inv.Invoke(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	want := []call{{"A", "m1"}, {"A", "m2"}}
	if len(p.calls) != len(want) {
		t.Fatalf("calls = %v, want %v", p.calls, want)
	}
	for i := range want {
		if p.calls[i] != want[i] {
			t.Errorf("call %d = %v, want %v", i, p.calls[i], want[i])
		}
	}
	if prov.Model != "m2" || prov.CredentialIndex != 0 {
		t.Errorf("provenance = %+v", prov)
	}
}

func TestInvoke_ModelsOuterCredentialsInner(t *testing.T) {
	p := newScripted("gemini")
	for _, m := range []string{"m1", "m2"} {
		for _, c := range []string{"A", "B"} {
			p.fail(m, c, 500)
		}
	}
	inv, _ := New(p, []string{"A", "B"}, []string{"m1", "m2"})
	_, _, _ = inv.Invoke(context.Background(), req)

	want := []call{{"A", "m1"}, {"B", "m1"}, {"A", "m2"}, {"B", "m2"}}
	for i := range want {
		if p.calls[i] != want[i] {
			t.Errorf("call %d = %v, want %v", i, p.calls[i], want[i])
		}
	}
}

func TestInvoke_ExhaustionBoundsAttempts(t *testing.T) {
	tests := []struct {
		name   string
		creds  []string
		models []string
		status int
	}{
		{"one key one model", []string{"A"}, nil, 429},
		{"three keys", []string{"A", "B", "C"}, nil, 500},
		{"two keys two models", []string{"A", "B"}, []string{"m1", "m2"}, 401},
		{"three keys three models", []string{"A", "B", "C"}, []string{"m1", "m2", "m3"}, 503},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newScripted("gemini")
			models := tt.models
			if len(models) == 0 {
				models = []string{""}
			}
			for _, m := range models {
				for _, c := range tt.creds {
					p.fail(m, c, tt.status)
				}
			}
			inv, _ := New(p, tt.creds, tt.models)

			res, prov, err := inv.Invoke(context.Background(), req)
			if res != nil {
				t.Error("expected no result")
			}
			if !errors.Is(err, ErrAllProvidersExhausted) {
				t.Fatalf("err = %v, want ErrAllProvidersExhausted", err)
			}
			var ex *ExhaustedError
			if !errors.As(err, &ex) {
				t.Fatalf("err is %T, want *ExhaustedError", err)
			}
			bound := len(models) * len(tt.creds)
			if ex.Attempts != bound || prov.Attempts != bound || p.callCount() != bound {
				t.Errorf("attempts = %d/%d/%d, want %d", ex.Attempts, prov.Attempts, p.callCount(), bound)
			}
			if ex.Last == nil || !strings.Contains(err.Error(), "scripted") {
				t.Errorf("exhausted error should carry the last message: %v", err)
			}
			if inv.MaxAttempts() != bound {
				t.Errorf("MaxAttempts() = %d, want %d", inv.MaxAttempts(), bound)
			}
		})
	}
}

func TestInvoke_NoAttemptsAfterSuccess(t *testing.T) {
	p := newScripted("gemini")
	inv, _ := New(p, []string{"A", "B", "C"}, []string{"m1", "m2"})
	if _, _, err := inv.Invoke(context.Background(), req); err != nil {
		t.Fatal(err)
	}
	if p.callCount() != 1 {
		t.Errorf("calls = %d, want 1", p.callCount())
	}
}

func TestNew_NoCredentials(t *testing.T) {
	for _, creds := range [][]string{nil, {}, {"", "  "}} {
		if _, err := New(newScripted("gemini"), creds, nil); !errors.Is(err, ErrNoCredentials) {
			t.Errorf("New(%q) err = %v, want ErrNoCredentials", creds, err)
		}
	}
}

func TestInvoke_ZeroValueInvokerIsConfigurationError(t *testing.T) {
	p := newScripted("gemini")
	inv := &Invoker{provider: p, models: []string{""}}
	if _, _, err := inv.Invoke(context.Background(), req); !errors.Is(err, ErrNoCredentials) {
		t.Errorf("err = %v, want ErrNoCredentials", err)
	}
	if p.callCount() != 0 {
		t.Error("no attempt may be made without credentials")
	}
}

func TestInvoke_ParseErrorMovesToNextCredential(t *testing.T) {
	p := newScripted("gemini").on("", "A", func(context.Context) (providers.Result, error) {
		return nil, &providers.ParseError{Provider: "gemini", Reason: "no candidates"}
	})
	inv, _ := New(p, []string{"A", "B"}, nil)
	_, prov, err := inv.Invoke(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	if prov.CredentialIndex != 1 {
		t.Errorf("credential index = %d, want 1", prov.CredentialIndex)
	}
}

func TestInvoke_ValidatorRejectsAndReplaces(t *testing.T) {
	p := newScripted("gemini").on("", "A", func(context.Context) (providers.Result, error) {
		return providers.TextResult{Text: "not json"}, nil
	}).on("", "B", func(context.Context) (providers.Result, error) {
		return providers.TextResult{Text: `[{"a":1}]`}, nil
	})
	validate := func(r providers.Result) (providers.Result, error) {
		txt := r.(providers.TextResult).Text
		if !strings.HasPrefix(txt, "[") {
			return nil, &providers.ParseError{Provider: "gemini", Reason: "not a JSON array"}
		}
		return providers.StructuredResult{JSON: []byte(txt)}, nil
	}
	inv, _ := New(p, []string{"A", "B"}, nil, WithValidator(validate))

	res, prov, err := inv.Invoke(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	if res.Kind() != providers.KindStructured || prov.Attempts != 2 {
		t.Errorf("kind = %s attempts = %d", res.Kind(), prov.Attempts)
	}
}

func TestInvoke_BackoffOnlyAfterTransient(t *testing.T) {
	p := newScripted("gemini").fail("", "A", 429).fail("", "B", 401)
	var slept []time.Duration
	inv, _ := New(p, []string{"A", "B", "C"}, nil,
		WithBackoff(250*time.Millisecond),
		WithSleeper(func(_ context.Context, d time.Duration) error {
			slept = append(slept, d)
			return nil
		}),
	)
	if _, _, err := inv.Invoke(context.Background(), req); err != nil {
		t.Fatal(err)
	}
	// 429 on A → sleep before B; 401 on B → no sleep before C.
	if len(slept) != 1 || slept[0] != 250*time.Millisecond {
		t.Errorf("slept = %v, want one 250ms pause", slept)
	}
}

func TestInvoke_AttemptTimeoutIsTransient(t *testing.T) {
	p := newScripted("gemini").on("", "A", func(ctx context.Context) (providers.Result, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	inv, _ := New(p, []string{"A", "B"}, nil, WithAttemptTimeout(20*time.Millisecond))

	_, prov, err := inv.Invoke(context.Background(), req)
	if err != nil {
		t.Fatalf("Invoke() error: %v", err)
	}
	if prov.CredentialIndex != 1 || prov.Attempts != 2 {
		t.Errorf("provenance = %+v", prov)
	}
}

func TestInvoke_CallerCancellationStops(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := newScripted("gemini").on("", "A", func(context.Context) (providers.Result, error) {
		cancel()
		return nil, context.Canceled
	})
	inv, _ := New(p, []string{"A", "B", "C"}, nil)

	_, _, err := inv.Invoke(ctx, req)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if errors.Is(err, ErrAllProvidersExhausted) {
		t.Error("cancellation must not be reported as exhaustion")
	}
	if p.callCount() != 1 {
		t.Errorf("calls = %d, want 1", p.callCount())
	}
}

func TestInvoke_OpenBreakerSkipsCredential(t *testing.T) {
	p := newScripted("gemini-cb").fail("", "A", 401)
	set := circuitbreaker.NewSet(circuitbreaker.Config{FailureThreshold: 1, Timeout: time.Hour})
	inv, _ := New(p, []string{"A", "B"}, nil, WithBreakers(set))

	if _, _, err := inv.Invoke(context.Background(), req); err != nil {
		t.Fatal(err)
	}
	if _, prov, err := inv.Invoke(context.Background(), req); err != nil || prov.Attempts != 1 || prov.CredentialIndex != 1 {
		t.Errorf("second invoke: prov = %+v err = %v, want A skipped", prov, err)
	}
	// A: once; B: twice.
	if p.callCount() != 3 {
		t.Errorf("calls = %d, want 3", p.callCount())
	}
}

func TestInvoke_AllBreakersOpen(t *testing.T) {
	p := newScripted("gemini-cb2").fail("", "A", 500)
	set := circuitbreaker.NewSet(circuitbreaker.Config{FailureThreshold: 1, Timeout: time.Hour})
	inv, _ := New(p, []string{"A"}, nil, WithBreakers(set))

	_, _, _ = inv.Invoke(context.Background(), req)
	_, prov, err := inv.Invoke(context.Background(), req)
	if !errors.Is(err, ErrAllProvidersExhausted) || !errors.Is(err, circuitbreaker.ErrCircuitOpen) {
		t.Errorf("err = %v", err)
	}
	if prov.Attempts != 0 {
		t.Errorf("attempts = %d, want 0", prov.Attempts)
	}
}

func TestInvoke_MissingModelReleasesHalfOpenTrial(t *testing.T) {
	clock := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	p := newScripted("gemini-cb3").fail("m1", "A", 500)
	set := circuitbreaker.NewSet(circuitbreaker.Config{FailureThreshold: 1, Timeout: time.Minute}).
		WithClock(func() time.Time { return clock })
	inv, _ := New(p, []string{"A"}, []string{"m1"}, WithBreakers(set))

	_, _, _ = inv.Invoke(context.Background(), req)
	clock = clock.Add(2 * time.Minute)

	// Half-open now; the trial only learns that the model is gone.
	p.fail("m1", "A", 404)
	if _, prov, _ := inv.Invoke(context.Background(), req); prov.Attempts != 1 {
		t.Fatalf("trial attempts = %d, want 1", prov.Attempts)
	}
	_, prov, err := inv.Invoke(context.Background(), req)
	if prov.Attempts != 1 {
		t.Errorf("after a 404 the credential must stay usable, attempts = %d err = %v", prov.Attempts, err)
	}
	if errors.Is(err, circuitbreaker.ErrCircuitOpen) {
		t.Errorf("err = %v, breaker left holding the trial", err)
	}
}

func TestInvoke_CancelledTrialIsReleased(t *testing.T) {
	clock := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	p := newScripted("gemini-cb4").fail("", "A", 500)
	set := circuitbreaker.NewSet(circuitbreaker.Config{FailureThreshold: 1, Timeout: time.Minute}).
		WithClock(func() time.Time { return clock })
	inv, _ := New(p, []string{"A"}, nil, WithBreakers(set))

	_, _, _ = inv.Invoke(context.Background(), req)
	clock = clock.Add(2 * time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	p.on("", "A", func(context.Context) (providers.Result, error) {
		cancel()
		return nil, context.Canceled
	})
	if _, _, err := inv.Invoke(ctx, req); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}

	p.on("", "A", nil)
	if _, prov, err := inv.Invoke(context.Background(), req); err != nil || prov.Attempts != 1 {
		t.Errorf("prov = %+v err = %v, want the next trial admitted", prov, err)
	}
}
