package cache

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/direitopremium/lexgen/internal/logging"
	"github.com/direitopremium/lexgen/internal/metrics"
	"github.com/direitopremium/lexgen/providers"
)

// Common expiry horizons.
const (
	TextTTL = 30 * 24 * time.Hour
	GeoTTL  = 7 * 24 * time.Hour
)

// Generated is what a generate callback hands back to ReadThrough.
type Generated struct {
	Kind    providers.ResultKind
	Payload []byte
	Source  Source
}

// GenerateFunc performs the expensive call on a miss.
type GenerateFunc func(ctx context.Context) (Generated, error)

// Options control a single lookup.
type Options struct {
	// ForceRegenerate skips the lookup and overwrites whatever is stored.
	ForceRegenerate bool
	// TTL sets ExpiresAt = now + TTL on the written row. Zero means TextTTL.
	TTL time.Duration
	// Accept, when set, must approve a fresh row before it is served. A
	// rejected row is regenerated and overwritten.
	Accept func(Entry) bool
}

// ReadThrough memoizes a generate callback behind a Store.
//
// The check-then-write is not locked: two concurrent misses for one key both
// generate, and the later upsert wins.
type ReadThrough struct {
	store  Store
	now    func() time.Time
	hits   atomic.Int64
	misses atomic.Int64
}

// ReadThroughOption configures a ReadThrough.
type ReadThroughOption func(*ReadThrough)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) ReadThroughOption {
	return func(r *ReadThrough) { r.now = now }
}

// NewReadThrough wraps store.
func NewReadThrough(store Store, opts ...ReadThroughOption) *ReadThrough {
	r := &ReadThrough{store: store, now: time.Now}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Store returns the underlying store.
func (r *ReadThrough) Store() Store { return r.store }

// Counters returns the hit and miss counts since construction.
func (r *ReadThrough) Counters() (hits, misses int64) {
	return r.hits.Load(), r.misses.Load()
}

// Get returns the fresh row for key, or runs generate and upserts its result.
// fromCache is true only when generate was not called. A generate error is
// returned unchanged and nothing is written. A failed write is logged and the
// generated entry is still returned.
func (r *ReadThrough) Get(ctx context.Context, key string, opts Options, generate GenerateFunc) (Entry, bool, error) {
	if key == "" {
		return Entry{}, false, errors.New("cache: empty key")
	}
	if generate == nil {
		return Entry{}, false, errors.New("cache: nil generate func")
	}
	log := logging.Component(ctx, "cache").With("cache_key", key)

	outcome := "forced"
	if !opts.ForceRegenerate {
		outcome = "miss"
		e, found, err := r.store.Get(ctx, key)
		switch {
		case err != nil:
			// An unreadable store degrades to a miss rather than failing the request.
			log.Warn("cache lookup failed", "error", err)
		case found && e.Expired(r.now()):
			outcome = "stale"
		case found && opts.Accept != nil && !opts.Accept(e):
			outcome = "rejected"
			log.Warn("cache row rejected", "kind", e.Kind)
		case found:
			metrics.CacheLookups.WithLabelValues("hit").Inc()
			r.hits.Add(1)
			return e, true, nil
		}
	}
	metrics.CacheLookups.WithLabelValues(outcome).Inc()
	r.misses.Add(1)

	g, err := generate(ctx)
	if err != nil {
		return Entry{}, false, err
	}

	ttl := opts.TTL
	if ttl <= 0 {
		ttl = TextTTL
	}
	now := r.now()
	e := Entry{
		Key:        key,
		Kind:       g.Kind,
		Payload:    g.Payload,
		ProducedAt: now,
		ExpiresAt:  now.Add(ttl),
		Source:     g.Source,
	}
	if err := r.store.Put(ctx, e); err != nil {
		metrics.CacheWriteErrors.Inc()
		log.Warn("cache write failed", "error", fmt.Errorf("upsert %q: %w", key, err))
	} else {
		log.Debug("cache row written", "lookup", outcome, "expires_at", e.ExpiresAt)
	}
	return e, false, nil
}
