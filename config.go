package lexgen

import (
	"fmt"
	"time"

	"github.com/direitopremium/lexgen/providers"
)

// Config holds the configuration for the generation service.
type Config struct {
	// Providers lists the upstream integrations and their credentials.
	Providers []ProviderConfig `json:"providers" yaml:"providers" toml:"providers"`
	// Profiles are the generation functions exposed by the service.
	Profiles []Profile `json:"profiles" yaml:"profiles" toml:"profiles"`
	// Cache selects the store behind the read-through wrapper.
	Cache CacheConfig `json:"cache" yaml:"cache" toml:"cache"`
	// CircuitBreaker enables per-credential breakers (optional).
	CircuitBreaker *CircuitBreakerConfig `json:"circuit_breaker,omitempty" yaml:"circuit_breaker,omitempty" toml:"circuit_breaker,omitempty"`
	// Storage is the bucket image profiles upload to (optional).
	Storage *StorageConfig `json:"storage,omitempty" yaml:"storage,omitempty" toml:"storage,omitempty"`
	// GenerationLog persists one row per request (optional).
	GenerationLog *GenerationLogConfig `json:"generation_log,omitempty" yaml:"generation_log,omitempty" toml:"generation_log,omitempty"`
}

// ProviderConfig describes one upstream and its ordered credential list.
type ProviderConfig struct {
	Name    string `json:"name" yaml:"name" toml:"name"`
	Type    string `json:"type" yaml:"type" toml:"type"`
	BaseURL string `json:"base_url,omitempty" yaml:"base_url,omitempty" toml:"base_url,omitempty"`
	Region  string `json:"region,omitempty" yaml:"region,omitempty" toml:"region,omitempty"`
	// CredentialsEnv names environment variables holding keys, tried in
	// order. A variable may hold several comma-separated keys.
	CredentialsEnv []string `json:"credentials_env,omitempty" yaml:"credentials_env,omitempty" toml:"credentials_env,omitempty"`
	// Credentials are literal keys, appended after the resolved env keys.
	Credentials []string `json:"credentials,omitempty" yaml:"credentials,omitempty" toml:"credentials,omitempty"`
	// Models is the default model order for profiles that name none.
	Models []string `json:"models,omitempty" yaml:"models,omitempty" toml:"models,omitempty"`
}

// Profile is one named generation function.
type Profile struct {
	Name string `json:"name" yaml:"name" toml:"name"`
	// Kind is the result the profile produces: text, image or structured.
	Kind providers.ResultKind `json:"kind" yaml:"kind" toml:"kind"`
	// Providers is the fallback chain, by provider name.
	Providers []string `json:"providers" yaml:"providers" toml:"providers"`
	// Models overrides the providers' default model order.
	Models []string `json:"models,omitempty" yaml:"models,omitempty" toml:"models,omitempty"`
	// Namespace is the first cache key segment; defaults to Name.
	Namespace string `json:"namespace,omitempty" yaml:"namespace,omitempty" toml:"namespace,omitempty"`
	// TTL is how long generated rows stay fresh; defaults to 30 days.
	TTL Duration `json:"ttl,omitempty" yaml:"ttl,omitempty" toml:"ttl,omitempty"`
	// Prompt is a text/template rendered with .Prompt and .Parts.
	Prompt string `json:"prompt,omitempty" yaml:"prompt,omitempty" toml:"prompt,omitempty"`
	System string `json:"system,omitempty" yaml:"system,omitempty" toml:"system,omitempty"`
	// FormatLegalText runs the legal-text formatting pass on text results.
	FormatLegalText bool `json:"format_legal_text,omitempty" yaml:"format_legal_text,omitempty" toml:"format_legal_text,omitempty"`
	// Schema is an inline JSON Schema checked against structured results.
	Schema string `json:"schema,omitempty" yaml:"schema,omitempty" toml:"schema,omitempty"`
	// UploadPrefix is the bucket folder for image results.
	UploadPrefix   string                     `json:"upload_prefix,omitempty" yaml:"upload_prefix,omitempty" toml:"upload_prefix,omitempty"`
	Backoff        Duration                   `json:"backoff,omitempty" yaml:"backoff,omitempty" toml:"backoff,omitempty"`
	AttemptTimeout Duration                   `json:"attempt_timeout,omitempty" yaml:"attempt_timeout,omitempty" toml:"attempt_timeout,omitempty"`
	Generation     providers.GenerationConfig `json:"generation,omitempty" yaml:"generation,omitempty" toml:"generation,omitempty"`
}

// KeyNamespace returns the cache key namespace.
func (p Profile) KeyNamespace() string {
	if p.Namespace != "" {
		return p.Namespace
	}
	return p.Name
}

// CacheBackend names a cache store implementation.
type CacheBackend string

// CacheBackend constants.
const (
	CacheMemory   CacheBackend = "memory"
	CacheSQLite   CacheBackend = "sqlite"
	CachePostgres CacheBackend = "postgres"
	CacheRedis    CacheBackend = "redis"
)

// CacheConfig selects the cache store.
type CacheConfig struct {
	// Backend defaults to memory.
	Backend CacheBackend `json:"backend,omitempty" yaml:"backend,omitempty" toml:"backend,omitempty"`
	// DSN is the database DSN or redis:// URL.
	DSN string `json:"dsn,omitempty" yaml:"dsn,omitempty" toml:"dsn,omitempty"`
	// Capacity bounds the memory backend.
	Capacity int `json:"capacity,omitempty" yaml:"capacity,omitempty" toml:"capacity,omitempty"`
}

// CircuitBreakerConfig configures every per-credential breaker.
type CircuitBreakerConfig struct {
	FailureThreshold int      `json:"failure_threshold" yaml:"failure_threshold" toml:"failure_threshold"`
	SuccessThreshold int      `json:"success_threshold" yaml:"success_threshold" toml:"success_threshold"`
	Timeout          Duration `json:"timeout" yaml:"timeout" toml:"timeout"`
}

// StorageConfig points at a Supabase-style storage API.
type StorageConfig struct {
	BaseURL string `json:"base_url" yaml:"base_url" toml:"base_url"`
	Bucket  string `json:"bucket" yaml:"bucket" toml:"bucket"`
	// ServiceKeyEnv names the variable holding the service key.
	ServiceKeyEnv string `json:"service_key_env,omitempty" yaml:"service_key_env,omitempty" toml:"service_key_env,omitempty"`
	ServiceKey    string `json:"service_key,omitempty" yaml:"service_key,omitempty" toml:"service_key,omitempty"`
}

// GenerationLogConfig selects where generation log rows go.
type GenerationLogConfig struct {
	// Backend is sqlite or postgres.
	Backend string `json:"backend" yaml:"backend" toml:"backend"`
	DSN     string `json:"dsn,omitempty" yaml:"dsn,omitempty" toml:"dsn,omitempty"`
}

// Duration is a time.Duration written as "30s" or "720h" in config files.
type Duration time.Duration

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	if len(text) == 0 {
		*d = 0
		return nil
	}
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	*d = Duration(v)
	return nil
}
