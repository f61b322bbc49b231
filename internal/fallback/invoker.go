// Package fallback implements the multi-credential, multi-model invoker that
// every generation function goes through.
//
// An Invoker walks its models in order and, for each model, its credentials
// in order (models outer, credentials inner). Attempts are strictly
// sequential: keys of one provider usually share a quota pool, so racing
// them only burns quota. The first accepted payload wins; a 404 abandons the
// model for every remaining credential; anything else moves to the next
// credential. When nothing is left the caller gets one *ExhaustedError.
package fallback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/direitopremium/lexgen/internal/circuitbreaker"
	"github.com/direitopremium/lexgen/internal/logging"
	"github.com/direitopremium/lexgen/internal/metrics"
	"github.com/direitopremium/lexgen/providers"
)

// DefaultAttemptTimeout bounds a single provider call.
const DefaultAttemptTimeout = 60 * time.Second

var (
	// ErrNoCredentials is a configuration error: an invoker needs at least one key.
	ErrNoCredentials = errors.New("no credentials configured")
	// ErrAllProvidersExhausted matches every *ExhaustedError via errors.Is.
	ErrAllProvidersExhausted = errors.New("all providers exhausted")
)

// ExhaustedError is returned when every (model, credential) pair failed.
type ExhaustedError struct {
	Provider string
	Attempts int
	Last     error
}

func (e *ExhaustedError) Error() string {
	last := "no attempt was made"
	if e.Last != nil {
		last = e.Last.Error()
	}
	return fmt.Sprintf("%s: all providers exhausted after %d attempts: %s", e.Provider, e.Attempts, last)
}

// Is reports ErrAllProvidersExhausted as a match.
func (e *ExhaustedError) Is(target error) bool { return target == ErrAllProvidersExhausted }

// Unwrap exposes the last observed attempt error.
func (e *ExhaustedError) Unwrap() error { return e.Last }

// Provenance records which attempt produced a result.
type Provenance struct {
	Provider        string `json:"provider"`
	Model           string `json:"model,omitempty"`
	CredentialIndex int    `json:"credential_index"`
	Fingerprint     string `json:"credential"`
	Attempts        int    `json:"attempts"`
}

// Validator inspects a 2xx result and may replace it (e.g. a repaired JSON
// document) or reject it. Rejections should be *providers.ParseError.
type Validator func(providers.Result) (providers.Result, error)

// Sleeper waits d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// Option configures an Invoker.
type Option func(*Invoker)

// WithBackoff sets the fixed pause taken after a transient failure before the
// next attempt. Zero (the default) disables it.
func WithBackoff(d time.Duration) Option { return func(i *Invoker) { i.backoff = d } }

// WithAttemptTimeout overrides DefaultAttemptTimeout.
func WithAttemptTimeout(d time.Duration) Option {
	return func(i *Invoker) {
		if d > 0 {
			i.attemptTimeout = d
		}
	}
}

// WithSleeper replaces the backoff sleeper, for tests.
func WithSleeper(s Sleeper) Option { return func(i *Invoker) { i.sleep = s } }

// WithValidator installs a payload validator run on every 2xx result.
func WithValidator(v Validator) Option { return func(i *Invoker) { i.validate = v } }

// WithBreakers enables per-credential circuit breakers.
func WithBreakers(s *circuitbreaker.Set) Option { return func(i *Invoker) { i.breakers = s } }

// Invoker calls one provider across an explicit list of credentials and models.
type Invoker struct {
	provider       providers.Provider
	credentials    []string
	models         []string
	backoff        time.Duration
	attemptTimeout time.Duration
	sleep          Sleeper
	validate       Validator
	breakers       *circuitbreaker.Set
}

// New builds an Invoker. Blank credentials are dropped; if none remain New
// returns ErrNoCredentials. An empty model list means one implicit model,
// passed to the provider as "".
func New(p providers.Provider, credentials, models []string, opts ...Option) (*Invoker, error) {
	if p == nil {
		return nil, errors.New("fallback: provider is nil")
	}
	creds := make([]string, 0, len(credentials))
	for _, c := range credentials {
		if c = strings.TrimSpace(c); c != "" {
			creds = append(creds, c)
		}
	}
	if len(creds) == 0 {
		return nil, fmt.Errorf("%s: %w", p.Name(), ErrNoCredentials)
	}
	ms := append([]string(nil), models...)
	if len(ms) == 0 {
		ms = []string{""}
	}

	inv := &Invoker{
		provider:       p,
		credentials:    creds,
		models:         ms,
		attemptTimeout: DefaultAttemptTimeout,
		sleep:          sleepContext,
	}
	for _, o := range opts {
		o(inv)
	}
	return inv, nil
}

// Name returns the wrapped provider's name.
func (inv *Invoker) Name() string { return inv.provider.Name() }

// MaxAttempts is |models| × |credentials|.
func (inv *Invoker) MaxAttempts() int { return len(inv.models) * len(inv.credentials) }

// Models returns the configured model order.
func (inv *Invoker) Models() []string { return append([]string(nil), inv.models...) }

// Invoke runs the fallback loop for req.
func (inv *Invoker) Invoke(ctx context.Context, req providers.Request) (providers.Result, Provenance, error) {
	name := inv.provider.Name()
	prov := Provenance{Provider: name, CredentialIndex: -1}
	if len(inv.credentials) == 0 {
		return nil, prov, fmt.Errorf("%s: %w", name, ErrNoCredentials)
	}

	log := logging.FromContext(ctx).With("provider", name)
	var lastErr error
	pendingBackoff := false

models:
	for _, model := range inv.models {
		for idx, cred := range inv.credentials {
			if err := ctx.Err(); err != nil {
				return nil, prov, err
			}
			fp := logging.Fingerprint(cred)

			var cb *circuitbreaker.CircuitBreaker
			if inv.breakers != nil {
				cb = inv.breakers.For(name, fp)
				if !cb.Allow() {
					metrics.Attempts.WithLabelValues(name, model, "circuit_open").Inc()
					log.Debug("credential skipped, circuit open", "model", model, "credential", fp)
					if lastErr == nil {
						lastErr = fmt.Errorf("credential %s: %w", fp, circuitbreaker.ErrCircuitOpen)
					}
					continue
				}
			}

			if pendingBackoff && inv.backoff > 0 {
				if err := inv.sleep(ctx, inv.backoff); err != nil {
					return nil, prov, err
				}
			}
			pendingBackoff = false

			prov.Attempts++
			res, err := inv.attempt(ctx, cred, model, req)
			if err == nil {
				metrics.Attempts.WithLabelValues(name, model, "success").Inc()
				if cb != nil {
					cb.RecordSuccess()
				}
				prov.Model = model
				prov.CredentialIndex = idx
				prov.Fingerprint = fp
				log.Info("provider attempt succeeded",
					"model", model, "credential", fp, "attempt", prov.Attempts)
				return res, prov, nil
			}

			// The attempt context is derived from ctx; a cancelled caller is
			// not a provider failure.
			if ctxErr := ctx.Err(); ctxErr != nil {
				if cb != nil {
					cb.Release()
				}
				return nil, prov, ctxErr
			}

			outcome := providers.Classify(err)
			metrics.Attempts.WithLabelValues(name, model, outcome.String()).Inc()
			lastErr = err
			log.Warn("provider attempt failed",
				"model", model,
				"credential", fp,
				"attempt", prov.Attempts,
				"outcome", outcome.String(),
				"error", err,
			)

			switch outcome {
			case providers.OutcomeModelUnavailable:
				if cb != nil {
					cb.Release()
				}
				continue models
			case providers.OutcomeTransient:
				if cb != nil {
					cb.RecordFailure()
				}
				pendingBackoff = true
			default:
				if cb != nil {
					cb.RecordFailure()
				}
			}
		}
	}

	metrics.Exhausted.WithLabelValues(name).Inc()
	log.Error("all providers exhausted", "attempts", prov.Attempts, slog.Any("error", lastErr))
	return nil, prov, &ExhaustedError{Provider: name, Attempts: prov.Attempts, Last: lastErr}
}

func (inv *Invoker) attempt(ctx context.Context, cred, model string, req providers.Request) (providers.Result, error) {
	actx, cancel := context.WithTimeout(ctx, inv.attemptTimeout)
	defer cancel()

	start := time.Now()
	res, err := inv.provider.Generate(actx, cred, model, req)
	metrics.AttemptDuration.WithLabelValues(inv.provider.Name(), model).Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, err
	}
	if res == nil {
		return nil, &providers.ParseError{Provider: inv.provider.Name(), Reason: "provider returned no result"}
	}
	if inv.validate != nil {
		return inv.validate(res)
	}
	return res, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
