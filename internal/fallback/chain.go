package fallback

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/direitopremium/lexgen/internal/logging"
	"github.com/direitopremium/lexgen/providers"
)

// Chain tries each invoker in order, moving to the next only when the
// current one is exhausted. Each invoker runs its full model × credential
// loop first.
type Chain struct {
	invokers []*Invoker
}

// NewChain creates a chain; at least one invoker is required.
func NewChain(invokers ...*Invoker) (*Chain, error) {
	if len(invokers) == 0 {
		return nil, fmt.Errorf("no invokers configured for fallback chain: %w", ErrNoCredentials)
	}
	return &Chain{invokers: invokers}, nil
}

// Names returns the provider names in chain order.
func (c *Chain) Names() []string {
	out := make([]string, len(c.invokers))
	for i, inv := range c.invokers {
		out[i] = inv.Name()
	}
	return out
}

// MaxAttempts sums the invokers' bounds.
func (c *Chain) MaxAttempts() int {
	n := 0
	for _, inv := range c.invokers {
		n += inv.MaxAttempts()
	}
	return n
}

// Invoke runs the chain. Provenance.Attempts counts attempts across every
// invoker that ran. Errors other than exhaustion (cancellation,
// configuration) stop the chain immediately.
func (c *Chain) Invoke(ctx context.Context, req providers.Request) (providers.Result, Provenance, error) {
	total := 0
	var last *ExhaustedError
	for i, inv := range c.invokers {
		res, prov, err := inv.Invoke(ctx, req)
		total += prov.Attempts
		prov.Attempts = total
		if err == nil {
			return res, prov, nil
		}
		var ex *ExhaustedError
		if !errors.As(err, &ex) {
			return nil, prov, err
		}
		last = ex
		if i < len(c.invokers)-1 {
			logging.FromContext(ctx).Warn("provider exhausted, moving to next in chain",
				"provider", inv.Name(), "next", c.invokers[i+1].Name(), "attempts", ex.Attempts)
		}
	}
	return nil, Provenance{Provider: strings.Join(c.Names(), ","), CredentialIndex: -1, Attempts: total},
		&ExhaustedError{Provider: strings.Join(c.Names(), ","), Attempts: total, Last: last.Last}
}
