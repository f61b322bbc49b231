package providers

import (
	"context"
	"fmt"
	"net/http"
	"sort"
)

// Provider type names accepted in configuration.
const (
	TypeGemini     = "gemini"
	TypeGenAIImage = "genai-image"
	TypeOpenAI     = "openai"
	TypeBedrock    = "bedrock"
	TypePlaces     = "places"
	TypeYouTube    = "youtube"
	TypeTinify     = "tinify"
)

// Types lists every provider type the factory can build.
func Types() []string {
	return []string{TypeGemini, TypeGenAIImage, TypeOpenAI, TypeBedrock, TypePlaces, TypeYouTube, TypeTinify}
}

// RequiresModel reports whether providers of typ need a model name on every
// call. Data providers have no model dimension.
func RequiresModel(typ string) bool {
	switch typ {
	case TypeGemini, TypeGenAIImage, TypeOpenAI, TypeBedrock:
		return true
	}
	return false
}

// Spec describes one provider instance to build.
type Spec struct {
	Name    string
	Type    string
	BaseURL string
	Region  string
}

// New builds a provider from spec. The returned provider is registered under
// spec.Name, which defaults to the type name.
func New(ctx context.Context, spec Spec, client *http.Client) (Provider, error) {
	var p Provider
	switch spec.Type {
	case TypeGemini:
		p = NewGemini(spec.BaseURL, client)
	case TypeGenAIImage:
		p = NewGenAIImage(spec.BaseURL, client)
	case TypeOpenAI:
		p = NewOpenAI(spec.Name, spec.BaseURL)
	case TypeBedrock:
		b, err := NewBedrock(ctx, spec.Region, spec.BaseURL)
		if err != nil {
			return nil, err
		}
		p = b
	case TypePlaces:
		pl, err := NewPlaces(ctx, spec.BaseURL, client)
		if err != nil {
			return nil, err
		}
		p = pl
	case TypeYouTube:
		yt, err := NewYouTube(ctx, spec.BaseURL, client)
		if err != nil {
			return nil, err
		}
		p = yt
	case TypeTinify:
		p = NewTinify(spec.BaseURL, client)
	default:
		return nil, fmt.Errorf("unknown provider type %q", spec.Type)
	}
	if spec.Name != "" && spec.Name != p.Name() {
		p = named{Provider: p, name: spec.Name}
	}
	return p, nil
}

// named renames a provider so two instances of one type can coexist.
type named struct {
	Provider
	name string
}

func (n named) Name() string { return n.name }

// Registry holds the provider instances a service can chain, keyed by the
// name profiles refer to. It is not safe for concurrent use; callers guard it.
type Registry struct {
	byName map[string]Provider
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]Provider)}
}

// Register stores p under p.Name() and reports whether it replaced an
// earlier instance.
func (r *Registry) Register(p Provider) (replaced bool) {
	_, replaced = r.byName[p.Name()]
	r.byName[p.Name()] = p
	return replaced
}

// Lookup returns the provider registered under name.
func (r *Registry) Lookup(name string) (Provider, bool) {
	p, ok := r.byName[name]
	return p, ok
}

// Missing returns the names in chain that have no registered provider, in
// chain order.
func (r *Registry) Missing(chain []string) []string {
	var out []string
	for _, name := range chain {
		if _, ok := r.byName[name]; !ok {
			out = append(out, name)
		}
	}
	return out
}

// Names returns the registered names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.byName))
	for name := range r.byName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
