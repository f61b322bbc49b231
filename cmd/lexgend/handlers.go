package main

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/direitopremium/lexgen"
	"github.com/direitopremium/lexgen/internal/cache"
	"github.com/direitopremium/lexgen/internal/legaltext"
	"github.com/direitopremium/lexgen/providers"
)

const (
	maxJSONBody  = 1 << 20
	maxImageBody = 10 << 20
	maxBatchSize = 500
)

// functions serves the /functions/v1 endpoints.
type functions struct {
	svc *lexgen.Service
	// placesProfile and imageProfile name the profiles behind the fixed
	// places and compression endpoints.
	placesProfile string
	imageProfile  string
}

func (f *functions) routes(r chi.Router) {
	r.Post("/generate/{profile}", f.generate)
	r.Post("/format-article", f.formatArticle)
	r.Post("/format-articles", f.formatArticles)
	r.Post("/places/nearby", f.placesNearby)
	r.Post("/compress-image", f.compressImage)
}

type generateBody struct {
	Key             string          `json:"key,omitempty"`
	KeyParts        []string        `json:"key_parts,omitempty"`
	Prompt          string          `json:"prompt,omitempty"`
	System          string          `json:"system,omitempty"`
	Body            json.RawMessage `json:"body,omitempty"`
	ForceRegenerate bool            `json:"force_regenerate,omitempty"`
}

// generationView is the client-facing form of a Generation. Exactly one of
// Content, JSON and Data is set, by kind.
type generationView struct {
	Key        string               `json:"key"`
	Kind       providers.ResultKind `json:"kind"`
	Content    string               `json:"content,omitempty"`
	JSON       json.RawMessage      `json:"json,omitempty"`
	Data       []byte               `json:"data,omitempty"`
	URL        string               `json:"url,omitempty"`
	FromCache  bool                 `json:"from_cache"`
	Source     cache.Source         `json:"source"`
	ProducedAt time.Time            `json:"produced_at"`
	ExpiresAt  time.Time            `json:"expires_at"`
}

func viewOf(g *lexgen.Generation) generationView {
	v := generationView{
		Key:        g.Key,
		Kind:       g.Kind,
		URL:        g.URL,
		FromCache:  g.FromCache,
		Source:     g.Source,
		ProducedAt: g.ProducedAt,
		ExpiresAt:  g.ExpiresAt,
	}
	switch g.Kind {
	case providers.KindText:
		v.Content = string(g.Payload)
	case providers.KindStructured:
		v.JSON = json.RawMessage(g.Payload)
	case providers.KindImage:
		v.Data = g.Payload
	}
	return v
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}

func (f *functions) generate(w http.ResponseWriter, r *http.Request) {
	var body generateBody
	if !decodeJSON(w, r, &body) {
		return
	}
	gen, err := f.svc.Generate(r.Context(), lexgen.GenerateRequest{
		Profile:         chi.URLParam(r, "profile"),
		Key:             body.Key,
		KeyParts:        body.KeyParts,
		Prompt:          body.Prompt,
		System:          body.System,
		Body:            body.Body,
		ForceRegenerate: body.ForceRegenerate,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(gen))
}

func (f *functions) formatArticle(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Text *string `json:"text"`
	}
	if !decodeJSON(w, r, &body) {
		return
	}
	if body.Text == nil {
		writeError(w, http.StatusBadRequest, "text is required")
		return
	}
	formatted, changed := f.svc.FormatArticle(*body.Text)
	writeJSON(w, http.StatusOK, map[string]any{"formatted": formatted, "changed": changed})
}

func (f *functions) formatArticles(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Articles []legaltext.Article `json:"articles"`
	}
	if !decodeJSON(w, r, &body) {
		return
	}
	if len(body.Articles) > maxBatchSize {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("at most %d articles per request", maxBatchSize))
		return
	}
	results, err := f.svc.FormatArticles(r.Context(), body.Articles)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	changed := 0
	for _, res := range results {
		if res.Changed {
			changed++
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": results, "changed": changed})
}

func (f *functions) placesNearby(w http.ResponseWriter, r *http.Request) {
	var body struct {
		providers.NearbyQuery
		ForceRegenerate bool `json:"force_regenerate,omitempty"`
	}
	if !decodeJSON(w, r, &body) {
		return
	}
	q := body.NearbyQuery.Effective()
	if err := q.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	raw, err := json.Marshal(q)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	gen, err := f.svc.Generate(r.Context(), lexgen.GenerateRequest{
		Profile:         f.placesProfile,
		Key:             cache.GeoKey(q.Lat, q.Lng, q.Radius),
		Body:            raw,
		ForceRegenerate: body.ForceRegenerate,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(gen))
}

var defaultNearby = providers.NearbyQuery{}.Effective()

// nearbyKey keys a search by its rounded circle. Searches for other place
// types or another result count get their own row.
func nearbyKey(q providers.NearbyQuery) string {
	key := cache.GeoKey(q.Lat, q.Lng, q.Radius)
	if slices.Equal(q.Types, defaultNearby.Types) && q.MaxCount == defaultNearby.MaxCount {
		return key
	}
	types := strings.Join(q.Types, ",")
	if len(types) > 64 {
		sum := sha256.Sum256([]byte(types))
		types = hex.EncodeToString(sum[:8])
	}
	return fmt.Sprintf("%s:%s:%d", key, types, q.MaxCount)
}

func (f *functions) compressImage(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxImageBody))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "image too large")
		return
	}
	if len(data) == 0 {
		writeError(w, http.StatusBadRequest, "request body must be the image bytes")
		return
	}
	gen, err := f.svc.Generate(r.Context(), lexgen.GenerateRequest{
		Profile:         f.imageProfile,
		Input:           data,
		MIMEType:        r.Header.Get("Content-Type"),
		ForceRegenerate: r.URL.Query().Get("force_regenerate") == "true",
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(gen))
}
