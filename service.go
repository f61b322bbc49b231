// Package lexgen is the generation-function gateway of a legal-education
// platform: every expensive call (text, image, places, video metadata, image
// compression) goes through a read-through cache and, on a miss, through a
// multi-provider, multi-credential fallback chain.
//
// The Service type is the main entry point: create one with New, register
// providers with RegisterProvider or LoadProviders, and run a named profile
// with Generate. Profiles and providers are configured via [Config], which can
// be loaded from a YAML, JSON or TOML file using [LoadConfig].
package lexgen

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"text/template"
	"time"

	"github.com/direitopremium/lexgen/internal/cache"
	"github.com/direitopremium/lexgen/internal/circuitbreaker"
	"github.com/direitopremium/lexgen/internal/fallback"
	"github.com/direitopremium/lexgen/internal/genlog"
	"github.com/direitopremium/lexgen/internal/jsonrepair"
	"github.com/direitopremium/lexgen/internal/legaltext"
	"github.com/direitopremium/lexgen/internal/logging"
	"github.com/direitopremium/lexgen/internal/metrics"
	"github.com/direitopremium/lexgen/internal/storage"
	"github.com/direitopremium/lexgen/providers"
)

var (
	// ErrUnknownProfile is returned for a profile name not in the config.
	ErrUnknownProfile = errors.New("unknown profile")
	// ErrInvalidRequest wraps caller mistakes (no key material, bad template input).
	ErrInvalidRequest = errors.New("invalid request")
	// ErrMisconfigured wraps configuration problems found while building a chain.
	ErrMisconfigured = errors.New("service misconfigured")
)

// EventHookFunc is called asynchronously after every generation request.
type EventHookFunc func(ctx context.Context, subject string, data map[string]interface{})

// Event subject constants used when invoking hooks.
const (
	SubjectGenerationCompleted = "lexgen.generation.completed"
	SubjectGenerationFailed    = "lexgen.generation.failed"
)

// Uploader stores binary results and returns their public URL.
// *storage.Bucket implements it.
type Uploader interface {
	Upload(ctx context.Context, path, contentType string, data []byte) (string, error)
}

// GenerateRequest is one call to a profile. Exactly one source of key
// material is used, in this order: Key, KeyParts, Input, Body, Prompt.
type GenerateRequest struct {
	Profile string
	// Key is a ready-made cache key (e.g. cache.GeoKey) used verbatim.
	Key string
	// KeyParts are the semantic inputs; the key is cache.Key(namespace, parts...).
	KeyParts        []string
	Prompt          string
	System          string
	Body            json.RawMessage
	Input           []byte
	MIMEType        string
	ForceRegenerate bool
}

// Generation is the outcome of Generate.
type Generation struct {
	Profile string               `json:"profile"`
	Key     string               `json:"key"`
	Kind    providers.ResultKind `json:"kind"`
	Payload []byte               `json:"-"`
	// URL is set for image profiles whose result was uploaded to the bucket.
	URL        string       `json:"url,omitempty"`
	FromCache  bool         `json:"from_cache"`
	Source     cache.Source `json:"source"`
	ProducedAt time.Time    `json:"produced_at"`
	ExpiresAt  time.Time    `json:"expires_at"`
}

// Result decodes the payload into its typed form.
func (g *Generation) Result() (providers.Result, error) {
	return providers.ResultFromBytes(g.Kind, g.Payload)
}

// uploadedImage is the structured payload cached for an uploaded image.
type uploadedImage struct {
	URL      string `json:"url"`
	MIMEType string `json:"mime_type"`
	Size     int    `json:"size"`
}

// Option configures a Service.
type Option func(*Service)

// WithStore replaces the default in-memory cache store.
func WithStore(store cache.Store) Option { return func(s *Service) { s.store = store } }

// WithGenerationLog records every request to w.
func WithGenerationLog(w genlog.Writer) Option { return func(s *Service) { s.genlog = w } }

// WithUploader makes image profiles upload their results.
func WithUploader(u Uploader) Option { return func(s *Service) { s.uploader = u } }

// WithClock replaces time.Now for cache timestamps and breakers.
func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

// WithSleeper replaces the fallback backoff sleeper, for tests.
func WithSleeper(sl fallback.Sleeper) Option { return func(s *Service) { s.sleep = sl } }

// Service runs generation profiles.
type Service struct {
	mu        sync.RWMutex
	config    Config
	profiles  map[string]*profileState
	registry  *providers.Registry
	chains    map[string]*fallback.Chain
	breakers  *circuitbreaker.Set
	hooks     []EventHookFunc

	store    cache.Store
	cache    *cache.ReadThrough
	uploader Uploader
	genlog   genlog.Writer
	now      func() time.Time
	sleep    fallback.Sleeper
}

type profileState struct {
	Profile
	schema *jsonrepair.Schema
	prompt *template.Template
}

// New validates cfg and creates a Service. Providers are registered
// separately; chains are built on first use.
func New(cfg Config, opts ...Option) (*Service, error) {
	if err := ValidateConfig(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	s := &Service{
		registry:  providers.NewRegistry(),
		genlog:    genlog.NoopWriter{},
		now:       time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	if s.store == nil {
		s.store = cache.NewMemory(cfg.Cache.Capacity)
	}
	s.cache = cache.NewReadThrough(s.store, cache.WithClock(s.now))
	if err := s.apply(cfg); err != nil {
		return nil, err
	}
	return s, nil
}

// apply installs cfg. Callers hold s.mu or own s exclusively.
func (s *Service) apply(cfg Config) error {
	profiles := make(map[string]*profileState, len(cfg.Profiles))
	for _, p := range cfg.Profiles {
		ps := &profileState{Profile: p}
		if p.Schema != "" {
			sc, err := jsonrepair.CompileSchema(p.Name, p.Schema)
			if err != nil {
				return fmt.Errorf("profile %q: %w", p.Name, err)
			}
			ps.schema = sc
		}
		if p.Prompt != "" {
			t, err := template.New(p.Name).Option("missingkey=error").Parse(p.Prompt)
			if err != nil {
				return fmt.Errorf("profile %q: prompt template: %w", p.Name, err)
			}
			ps.prompt = t
		}
		profiles[p.Name] = ps
	}
	s.config = cfg
	s.profiles = profiles
	s.chains = make(map[string]*fallback.Chain)
	s.breakers = nil
	if cb := cfg.CircuitBreaker; cb != nil {
		s.breakers = circuitbreaker.NewSet(circuitbreaker.Config{
			FailureThreshold: cb.FailureThreshold,
			SuccessThreshold: cb.SuccessThreshold,
			Timeout:          cb.Timeout.Std(),
		}).WithClock(s.now)
	}
	return nil
}

// RegisterProvider registers a provider under its Name, replacing any
// earlier instance of that name.
func (s *Service) RegisterProvider(p providers.Provider) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.registry.Register(p) {
		logging.Logger.Debug("provider replaced", "provider", p.Name())
	}
	s.chains = make(map[string]*fallback.Chain) // force chain rebuild
}

// LoadProviders builds and registers every configured provider that has not
// been registered already.
func (s *Service) LoadProviders(ctx context.Context, client *http.Client) error {
	s.mu.RLock()
	cfgs := append([]ProviderConfig(nil), s.config.Providers...)
	s.mu.RUnlock()
	for _, pc := range cfgs {
		if _, ok := s.Provider(pc.Name); ok {
			continue
		}
		p, err := providers.New(ctx, providers.Spec{
			Name:    pc.Name,
			Type:    pc.Type,
			BaseURL: pc.BaseURL,
			Region:  pc.Region,
		}, client)
		if err != nil {
			return fmt.Errorf("provider %q: %w", pc.Name, err)
		}
		s.RegisterProvider(p)
	}
	return nil
}

// Provider returns a registered provider.
func (s *Service) Provider(name string) (providers.Provider, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.registry.Lookup(name)
}

// ProviderNames returns the registered provider names, sorted.
func (s *Service) ProviderNames() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.registry.Names()
}

// AddHook registers an EventHookFunc called asynchronously on every
// completed or failed generation.
func (s *Service) AddHook(fn EventHookFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hooks = append(s.hooks, fn)
}

// ReloadConfig validates and applies a new configuration. Chains and
// breakers are rebuilt on the next request; the cache is kept.
func (s *Service) ReloadConfig(cfg Config) error {
	if err := ValidateConfig(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.apply(cfg)
}

// GetConfig returns a copy of the current configuration.
func (s *Service) GetConfig() Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.config
}

// Profile returns the named profile.
func (s *Service) Profile(name string) (Profile, bool) {
	ps, ok := s.profile(name)
	if !ok {
		return Profile{}, false
	}
	return ps.Profile, true
}

func (s *Service) profile(name string) (*profileState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ps, ok := s.profiles[name]
	return ps, ok
}

// Generate runs a profile through the read-through cache. On a miss the
// profile's provider chain is invoked, the result post-processed and the
// row upserted; a failed generation writes nothing.
func (s *Service) Generate(ctx context.Context, req GenerateRequest) (*Generation, error) {
	start := time.Now()
	log := logging.FromContext(ctx).With("profile", req.Profile)

	ps, ok := s.profile(req.Profile)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProfile, req.Profile)
	}
	key, err := cacheKey(ps, req)
	if err != nil {
		return nil, err
	}
	preq, err := buildRequest(ps, req)
	if err != nil {
		return nil, err
	}

	var prov fallback.Provenance
	entry, fromCache, err := s.cache.Get(ctx, key, cache.Options{
		ForceRegenerate: req.ForceRegenerate,
		TTL:             ps.TTL.Std(),
		Accept:          func(e cache.Entry) bool { return storedKindMatches(ps.Kind, e.Kind) },
	}, func(ctx context.Context) (cache.Generated, error) {
		chain, err := s.chainFor(ctx, ps)
		if err != nil {
			return cache.Generated{}, err
		}
		res, pv, err := chain.Invoke(ctx, preq)
		prov = pv
		if err != nil {
			return cache.Generated{}, err
		}
		if res, err = s.finish(ctx, ps, key, res); err != nil {
			return cache.Generated{}, err
		}
		return cache.Generated{
			Kind:    res.Kind(),
			Payload: res.Bytes(),
			Source: cache.Source{
				Provider:   pv.Provider,
				Model:      pv.Model,
				Credential: pv.Fingerprint,
				Attempts:   pv.Attempts,
			},
		}, nil
	})
	latency := time.Since(start)

	if err != nil {
		metrics.GenerationsTotal.WithLabelValues(ps.Name, "error").Inc()
		log.Error("generation failed",
			"cache_key", key,
			"attempts", prov.Attempts,
			"latency_ms", latency.Milliseconds(),
			"error", err.Error(),
		)
		s.record(ctx, genlog.Entry{
			Profile:      ps.Name,
			CacheKey:     key,
			Outcome:      genlog.OutcomeFailed,
			Provider:     prov.Provider,
			Attempts:     prov.Attempts,
			ErrorMessage: err.Error(),
		})
		s.publishEvent(ctx, SubjectGenerationFailed, map[string]interface{}{
			"trace_id":   logging.TraceIDFromContext(ctx),
			"profile":    ps.Name,
			"cache_key":  key,
			"error":      err.Error(),
			"attempts":   prov.Attempts,
			"latency_ms": latency.Milliseconds(),
			"timestamp":  time.Now(),
		})
		return nil, err
	}

	gen := &Generation{
		Profile:    ps.Name,
		Key:        entry.Key,
		Kind:       entry.Kind,
		Payload:    entry.Payload,
		FromCache:  fromCache,
		Source:     entry.Source,
		ProducedAt: entry.ProducedAt,
		ExpiresAt:  entry.ExpiresAt,
	}
	if ps.Kind == providers.KindImage && entry.Kind == providers.KindStructured {
		var img uploadedImage
		if err := json.Unmarshal(entry.Payload, &img); err == nil {
			gen.URL = img.URL
		}
	}

	status, outcome := "generated", genlog.OutcomeGenerated
	if fromCache {
		status, outcome = "cached", genlog.OutcomeHit
	}
	metrics.GenerationsTotal.WithLabelValues(ps.Name, status).Inc()
	log.Info("generation completed",
		"cache_key", key,
		"from_cache", fromCache,
		"provider", entry.Source.Provider,
		"model", entry.Source.Model,
		"latency_ms", latency.Milliseconds(),
	)
	s.record(ctx, genlog.Entry{
		Profile:  ps.Name,
		CacheKey: key,
		Outcome:  outcome,
		Provider: entry.Source.Provider,
		Model:    entry.Source.Model,
		Attempts: prov.Attempts,
	})
	s.publishEvent(ctx, SubjectGenerationCompleted, map[string]interface{}{
		"trace_id":   logging.TraceIDFromContext(ctx),
		"profile":    ps.Name,
		"cache_key":  key,
		"from_cache": fromCache,
		"provider":   entry.Source.Provider,
		"model":      entry.Source.Model,
		"latency_ms": latency.Milliseconds(),
		"timestamp":  time.Now(),
	})
	return gen, nil
}

// storedKindMatches reports whether a row of kind stored can be served by a
// profile of kind want. Uploaded images are stored as URL documents.
func storedKindMatches(want, stored providers.ResultKind) bool {
	return stored == want || (want == providers.KindImage && stored == providers.KindStructured)
}

// cacheKey derives the row key from the request's semantic inputs only.
// Every key lives under the profile namespace; a verbatim key gets the
// prefix unless it already carries it.
func cacheKey(ps *profileState, req GenerateRequest) (string, error) {
	ns := ps.KeyNamespace()
	switch {
	case strings.TrimSpace(req.Key) != "":
		key := strings.TrimSpace(req.Key)
		if len(key) > cache.MaxKeyLength {
			return "", fmt.Errorf("%w: key longer than %d bytes", ErrInvalidRequest, cache.MaxKeyLength)
		}
		if !strings.HasPrefix(key, ns+":") {
			key = ns + ":" + key
		}
		if len(key) > cache.MaxKeyLength {
			return ns + ":" + digest([]byte(key)), nil
		}
		return key, nil
	case len(req.KeyParts) > 0:
		return cache.Key(ns, req.KeyParts...), nil
	case len(req.Input) > 0:
		return cache.Key(ns, digest(req.Input)), nil
	case len(req.Body) > 0:
		return cache.Key(ns, digest(req.Body)), nil
	case strings.TrimSpace(req.Prompt) != "":
		return cache.Key(ns, req.Prompt), nil
	}
	return "", fmt.Errorf("%w: a key, key parts, prompt, body or input is required", ErrInvalidRequest)
}

func digest(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

type promptData struct {
	Prompt string
	Parts  []string
}

func buildRequest(ps *profileState, req GenerateRequest) (providers.Request, error) {
	prompt := req.Prompt
	if ps.prompt != nil {
		var b strings.Builder
		if err := ps.prompt.Execute(&b, promptData{Prompt: req.Prompt, Parts: req.KeyParts}); err != nil {
			return providers.Request{}, fmt.Errorf("%w: prompt: %v", ErrInvalidRequest, err)
		}
		prompt = b.String()
	}
	system := req.System
	if system == "" {
		system = ps.System
	}
	preq := providers.Request{
		Prompt:   prompt,
		System:   system,
		Body:     req.Body,
		Input:    req.Input,
		MIMEType: req.MIMEType,
		Config:   ps.Generation,
	}
	if err := preq.Validate(); err != nil {
		return providers.Request{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	return preq, nil
}

// chainFor lazily builds the profile's chain from the registered providers.
// Providers without credentials are skipped; a chain with none left is a
// configuration error.
func (s *Service) chainFor(ctx context.Context, ps *profileState) (*fallback.Chain, error) {
	s.mu.RLock()
	c := s.chains[ps.Name]
	s.mu.RUnlock()
	if c != nil {
		return c, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if c := s.chains[ps.Name]; c != nil {
		return c, nil
	}
	log := logging.FromContext(ctx)

	if missing := s.registry.Missing(ps.Providers); len(missing) > 0 {
		return nil, fmt.Errorf("%w: profile %q: providers not registered: %s", ErrMisconfigured, ps.Name, strings.Join(missing, ", "))
	}
	invokers := make([]*fallback.Invoker, 0, len(ps.Providers))
	for _, name := range ps.Providers {
		p, _ := s.registry.Lookup(name)
		pc := s.providerConfig(name)
		models := ps.Models
		if len(models) == 0 {
			models = pc.Models
		}
		opts := []fallback.Option{
			fallback.WithValidator(ps.validator(name)),
			fallback.WithBackoff(ps.Backoff.Std()),
			fallback.WithAttemptTimeout(ps.AttemptTimeout.Std()),
		}
		if s.breakers != nil {
			opts = append(opts, fallback.WithBreakers(s.breakers))
		}
		if s.sleep != nil {
			opts = append(opts, fallback.WithSleeper(s.sleep))
		}
		inv, err := fallback.New(p, pc.Credentials, models, opts...)
		if errors.Is(err, fallback.ErrNoCredentials) {
			log.Warn("provider has no credentials, left out of chain", "profile", ps.Name, "provider", name)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("%w: profile %q: %v", ErrMisconfigured, ps.Name, err)
		}
		invokers = append(invokers, inv)
	}
	chain, err := fallback.NewChain(invokers...)
	if err != nil {
		return nil, fmt.Errorf("%w: profile %q: %w", ErrMisconfigured, ps.Name, err)
	}
	s.chains[ps.Name] = chain
	return chain, nil
}

func (s *Service) providerConfig(name string) ProviderConfig {
	for _, pc := range s.config.Providers {
		if pc.Name == name {
			return pc
		}
	}
	return ProviderConfig{Name: name}
}

// validator rejects results of the wrong kind and turns model text into
// schema-checked JSON for structured profiles. A rejection moves the invoker
// to the next credential.
func (ps *profileState) validator(provider string) fallback.Validator {
	return func(res providers.Result) (providers.Result, error) {
		switch ps.Kind {
		case providers.KindText:
			t, ok := res.(providers.TextResult)
			if !ok || strings.TrimSpace(t.Text) == "" {
				return nil, &providers.ParseError{Provider: provider, Reason: "expected non-empty text"}
			}
			return t, nil
		case providers.KindImage:
			img, ok := res.(providers.ImageResult)
			if !ok || len(img.Data) == 0 {
				return nil, &providers.ParseError{Provider: provider, Reason: "expected image data"}
			}
			return img, nil
		case providers.KindStructured:
			var raw json.RawMessage
			switch r := res.(type) {
			case providers.StructuredResult:
				raw = r.JSON
			case providers.TextResult:
				rec, method, err := jsonrepair.Recover(r.Text)
				if err != nil {
					return nil, &providers.ParseError{Provider: provider, Reason: "no JSON in model output", Err: err}
				}
				if method != jsonrepair.MethodExact {
					logging.Logger.Debug("structured payload recovered", "provider", provider, "method", string(method))
				}
				raw = rec
			default:
				return nil, &providers.ParseError{Provider: provider, Reason: "expected JSON"}
			}
			if ps.schema != nil {
				if err := ps.schema.Validate(raw); err != nil {
					return nil, &providers.ParseError{Provider: provider, Reason: "schema mismatch", Err: err}
				}
			}
			return providers.StructuredResult{JSON: raw}, nil
		}
		return res, nil
	}
}

// finish applies the post-generation steps that are not provider
// validation: legal-text formatting and image upload.
func (s *Service) finish(ctx context.Context, ps *profileState, key string, res providers.Result) (providers.Result, error) {
	switch r := res.(type) {
	case providers.TextResult:
		if ps.FormatLegalText {
			return providers.TextResult{Text: legaltext.Format(r.Text)}, nil
		}
	case providers.ImageResult:
		if s.uploader == nil {
			return r, nil
		}
		mime := r.MIMEType
		if mime == "" {
			mime = "application/octet-stream"
		}
		path := storage.ObjectPath(ps.UploadPrefix, key, storage.ExtensionFor(mime))
		url, err := s.uploader.Upload(ctx, path, mime, r.Data)
		if err != nil {
			return nil, fmt.Errorf("upload %s: %w", path, err)
		}
		doc, err := json.Marshal(uploadedImage{URL: url, MIMEType: mime, Size: len(r.Data)})
		if err != nil {
			return nil, err
		}
		return providers.StructuredResult{JSON: doc}, nil
	}
	return res, nil
}

func (s *Service) record(ctx context.Context, e genlog.Entry) {
	e.TraceID = logging.TraceIDFromContext(ctx)
	if err := s.genlog.Write(ctx, e); err != nil {
		logging.FromContext(ctx).Warn("generation log write failed", "error", err)
	}
}

// publishEvent calls all registered hooks asynchronously.
func (s *Service) publishEvent(ctx context.Context, subject string, data map[string]interface{}) {
	s.mu.RLock()
	hooks := make([]EventHookFunc, len(s.hooks))
	copy(hooks, s.hooks)
	s.mu.RUnlock()

	for _, h := range hooks {
		fn := h
		go fn(context.WithoutCancel(ctx), subject, data)
	}
}

// FormatArticle runs the legal-text formatting pass on one article.
func (s *Service) FormatArticle(text string) (formatted string, changed bool) {
	formatted = legaltext.Format(text)
	return formatted, formatted != text
}

// FormatArticles formats a batch concurrently, keeping input order.
func (s *Service) FormatArticles(ctx context.Context, articles []legaltext.Article) ([]legaltext.Result, error) {
	return legaltext.FormatBatch(ctx, articles, 0)
}

// CacheStats reports the cache store's contents.
func (s *Service) CacheStats(ctx context.Context) (cache.Stats, error) {
	return s.store.Stats(ctx)
}

// Stats implements the admin stats source.
func (s *Service) Stats(ctx context.Context) (cache.Stats, error) { return s.CacheStats(ctx) }

// BreakerStates returns every credential breaker's state, keyed
// "provider/fingerprint". Empty when breakers are disabled.
func (s *Service) BreakerStates() map[string]string {
	s.mu.RLock()
	set := s.breakers
	s.mu.RUnlock()
	out := make(map[string]string)
	if set == nil {
		return out
	}
	for k, st := range set.Snapshot() {
		out[k] = st.String()
	}
	return out
}

// ProfileNames returns the configured profile names, sorted.
func (s *Service) ProfileNames() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.profiles))
	for n := range s.profiles {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Close releases the cache store and the generation log.
func (s *Service) Close() error {
	var errs []error
	if err := s.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close cache store: %w", err))
	}
	if c, ok := s.genlog.(interface{ Close() error }); ok {
		if err := c.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close generation log: %w", err))
		}
	}
	return errors.Join(errs...)
}
