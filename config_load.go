package lexgen

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"text/template"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/direitopremium/lexgen/internal/jsonrepair"
	"github.com/direitopremium/lexgen/providers"
)

// LoadConfig reads and parses a config file from the given path.
// Supported formats: JSON (.json), YAML (.yaml, .yml), TOML (.toml).
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path) //nolint:gosec
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Config
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing YAML config: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing JSON config: %w", err)
		}
	case ".toml":
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing TOML config: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config file extension %q: use .json, .yaml, .yml or .toml", ext)
	}

	return &cfg, nil
}

// ValidateConfig validates a Config for correctness. Credentials are not
// checked here; they are resolved from the environment at start-up.
func ValidateConfig(cfg Config) error {
	if len(cfg.Profiles) == 0 {
		return fmt.Errorf("at least one profile is required")
	}

	known := make(map[string]bool, len(cfg.Providers))
	hasModels := make(map[string]bool, len(cfg.Providers))
	for i, p := range cfg.Providers {
		if p.Name == "" {
			return fmt.Errorf("provider %d: name is required", i)
		}
		if known[p.Name] {
			return fmt.Errorf("provider %q is defined twice", p.Name)
		}
		if !slices.Contains(providers.Types(), p.Type) {
			return fmt.Errorf("provider %q: unknown type %q", p.Name, p.Type)
		}
		known[p.Name] = true
		hasModels[p.Name] = len(p.Models) > 0 || !providers.RequiresModel(p.Type)
	}

	seen := make(map[string]bool, len(cfg.Profiles))
	for _, p := range cfg.Profiles {
		if p.Name == "" {
			return fmt.Errorf("profile name is required")
		}
		if seen[p.Name] {
			return fmt.Errorf("profile %q is defined twice", p.Name)
		}
		seen[p.Name] = true
		if !p.Kind.Valid() {
			return fmt.Errorf("profile %q: unknown kind %q", p.Name, p.Kind)
		}
		if len(p.Providers) == 0 {
			return fmt.Errorf("profile %q: at least one provider is required", p.Name)
		}
		for _, name := range p.Providers {
			if !known[name] {
				return fmt.Errorf("profile %q: unknown provider %q", p.Name, name)
			}
			if !hasModels[name] && len(p.Models) == 0 {
				return fmt.Errorf("profile %q: provider %q needs models, set them on the provider or the profile", p.Name, name)
			}
		}
		if p.TTL < 0 || p.Backoff < 0 || p.AttemptTimeout < 0 {
			return fmt.Errorf("profile %q: durations must not be negative", p.Name)
		}
		if p.Schema != "" {
			if p.Kind != providers.KindStructured {
				return fmt.Errorf("profile %q: schema requires kind %q", p.Name, providers.KindStructured)
			}
			if _, err := jsonrepair.CompileSchema(p.Name, p.Schema); err != nil {
				return fmt.Errorf("profile %q: %w", p.Name, err)
			}
		}
		if p.FormatLegalText && p.Kind != providers.KindText {
			return fmt.Errorf("profile %q: format_legal_text requires kind %q", p.Name, providers.KindText)
		}
		if p.Prompt != "" {
			if _, err := template.New(p.Name).Parse(p.Prompt); err != nil {
				return fmt.Errorf("profile %q: prompt template: %w", p.Name, err)
			}
		}
	}

	switch cfg.Cache.Backend {
	case "", CacheMemory, CacheSQLite:
	case CachePostgres, CacheRedis:
		if cfg.Cache.DSN == "" {
			return fmt.Errorf("cache backend %q requires a dsn", cfg.Cache.Backend)
		}
	default:
		return fmt.Errorf("unknown cache backend %q", cfg.Cache.Backend)
	}
	if cfg.Cache.Capacity < 0 {
		return fmt.Errorf("cache capacity must not be negative")
	}

	if cb := cfg.CircuitBreaker; cb != nil {
		if cb.FailureThreshold <= 0 || cb.SuccessThreshold <= 0 || cb.Timeout <= 0 {
			return fmt.Errorf("circuit_breaker thresholds and timeout must be positive")
		}
	}

	if st := cfg.Storage; st != nil {
		if st.BaseURL == "" || st.Bucket == "" {
			return fmt.Errorf("storage requires base_url and bucket")
		}
	}

	if gl := cfg.GenerationLog; gl != nil {
		switch gl.Backend {
		case "sqlite":
		case "postgres":
			if gl.DSN == "" {
				return fmt.Errorf("generation_log backend postgres requires a dsn")
			}
		default:
			return fmt.Errorf("unknown generation_log backend %q", gl.Backend)
		}
	}

	return nil
}

// ResolveCredentials fills each provider's credential list from the
// variables it names, keeping literal credentials after the resolved ones.
// lookup is usually os.LookupEnv. Unset variables are skipped.
func ResolveCredentials(cfg *Config, lookup func(string) (string, bool)) {
	for i := range cfg.Providers {
		p := &cfg.Providers[i]
		var keys []string
		for _, name := range p.CredentialsEnv {
			v, ok := lookup(name)
			if !ok {
				continue
			}
			for _, k := range strings.Split(v, ",") {
				if k = strings.TrimSpace(k); k != "" {
					keys = append(keys, k)
				}
			}
		}
		p.Credentials = append(keys, p.Credentials...)
		p.CredentialsEnv = nil
	}
	if st := cfg.Storage; st != nil && st.ServiceKey == "" && st.ServiceKeyEnv != "" {
		if v, ok := lookup(st.ServiceKeyEnv); ok {
			st.ServiceKey = strings.TrimSpace(v)
		}
	}
}
