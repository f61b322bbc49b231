// Package cache stores generated payloads keyed by the semantic inputs that
// produced them, and wraps an expensive generation call in a read-through
// lookup (see ReadThrough).
//
// Stores hold raw rows; deciding whether a row is fresh is the read-through
// wrapper's job, so every backend answers staleness the same way.
package cache

import (
	"context"
	"time"

	"github.com/direitopremium/lexgen/providers"
)

// Source records which attempt produced a payload. Diagnostics only.
type Source struct {
	Provider   string `json:"provider,omitempty"`
	Model      string `json:"model,omitempty"`
	Credential string `json:"credential,omitempty"`
	Attempts   int    `json:"attempts,omitempty"`
}

// Entry is one cached generation result. There is at most one current Entry
// per Key; writes replace the whole row.
type Entry struct {
	Key        string               `json:"key"`
	Kind       providers.ResultKind `json:"kind"`
	Payload    []byte               `json:"payload"`
	ProducedAt time.Time            `json:"produced_at"`
	ExpiresAt  time.Time            `json:"expires_at"`
	Source     Source               `json:"source"`
}

// Expired reports whether the entry is stale at now.
func (e Entry) Expired(now time.Time) bool { return now.After(e.ExpiresAt) }

// Result rebuilds the typed provider result from the stored payload.
func (e Entry) Result() (providers.Result, error) {
	return providers.ResultFromBytes(e.Kind, e.Payload)
}

// Stats describes a store's contents.
type Stats struct {
	Backend string `json:"backend"`
	Entries int64  `json:"entries"`
	// Expired is -1 when the backend cannot tell (Redis evicts stale rows itself).
	Expired int64 `json:"expired"`
}

// Store persists entries. Get returns found=false and a nil error for a
// missing key. Implementations must be safe for concurrent use.
type Store interface {
	Get(ctx context.Context, key string) (Entry, bool, error)
	Put(ctx context.Context, e Entry) error
	Stats(ctx context.Context) (Stats, error)
	Close() error
}
