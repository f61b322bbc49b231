package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"slices"

	placesapi "google.golang.org/api/places/v1"
)

// DefaultPlaceTypes are searched when the request names none: the places a
// law student looks for around them.
var DefaultPlaceTypes = []string{"courthouse", "lawyer", "city_hall", "police", "library"}

const placesFieldMask = "places.id,places.displayName,places.formattedAddress,places.location,places.rating,places.types,places.nationalPhoneNumber,places.websiteUri"

// NearbyQuery is the Body accepted by the places provider.
type NearbyQuery struct {
	Lat      float64  `json:"lat"`
	Lng      float64  `json:"lng"`
	Radius   int      `json:"radius"`
	Types    []string `json:"types,omitempty"`
	MaxCount int      `json:"max_count,omitempty"`
}

// Validate checks coordinates and radius bounds accepted by the API.
func (q NearbyQuery) Validate() error {
	if q.Lat < -90 || q.Lat > 90 || q.Lng < -180 || q.Lng > 180 {
		return errors.New("lat/lng out of range")
	}
	if q.Radius <= 0 || q.Radius > 50000 {
		return errors.New("radius must be between 1 and 50000 meters")
	}
	return nil
}

// MaxPlaceResults is the largest result count the API returns per search.
const MaxPlaceResults = 20

// Effective returns q as it is sent upstream: default types when none are
// given, types sorted and deduplicated, and the result count clamped.
func (q NearbyQuery) Effective() NearbyQuery {
	types := q.Types
	if len(types) == 0 {
		types = DefaultPlaceTypes
	}
	types = slices.Clone(types)
	slices.Sort(types)
	q.Types = slices.Compact(types)
	if q.MaxCount <= 0 || q.MaxCount > MaxPlaceResults {
		q.MaxCount = MaxPlaceResults
	}
	return q
}

// Place is one entry of the structured places result.
type Place struct {
	ID      string   `json:"id"`
	Name    string   `json:"name"`
	Address string   `json:"address"`
	Lat     float64  `json:"lat"`
	Lng     float64  `json:"lng"`
	Rating  float64  `json:"rating,omitempty"`
	Types   []string `json:"types,omitempty"`
	Phone   string   `json:"phone,omitempty"`
	Website string   `json:"website,omitempty"`
}

// PlacesProvider searches nearby places through the Places API (New). It has
// no model dimension.
type PlacesProvider struct {
	name string
	svc  *placesapi.Service
}

// NewPlaces creates a Places provider. baseURL overrides the API endpoint.
func NewPlaces(ctx context.Context, baseURL string, client *http.Client) (*PlacesProvider, error) {
	svc, err := placesapi.NewService(ctx, googleAPIOptions(baseURL, client)...)
	if err != nil {
		return nil, fmt.Errorf("places: %w", err)
	}
	return &PlacesProvider{name: "places", svc: svc}, nil
}

// Name returns the provider name.
func (p *PlacesProvider) Name() string { return p.name }

// Generate runs one searchNearby call for the NearbyQuery in req.Body.
func (p *PlacesProvider) Generate(ctx context.Context, credential, _ string, req Request) (Result, error) {
	var q NearbyQuery
	if err := json.Unmarshal(req.Body, &q); err != nil {
		return nil, fmt.Errorf("places: invalid query: %w", err)
	}
	if err := q.Validate(); err != nil {
		return nil, fmt.Errorf("places: %w", err)
	}

	q = q.Effective()
	call := p.svc.Places.SearchNearby(&placesapi.GoogleMapsPlacesV1SearchNearbyRequest{
		IncludedTypes:  q.Types,
		MaxResultCount: int64(q.MaxCount),
		LanguageCode:   "pt-BR",
		LocationRestriction: &placesapi.GoogleMapsPlacesV1SearchNearbyRequestLocationRestriction{
			Circle: &placesapi.GoogleMapsPlacesV1Circle{
				Center: &placesapi.GoogleTypeLatLng{Latitude: q.Lat, Longitude: q.Lng},
				Radius: float64(q.Radius),
			},
		},
	}).Context(ctx)
	call.Header().Set("X-Goog-Api-Key", credential)
	call.Header().Set("X-Goog-FieldMask", placesFieldMask)

	resp, err := call.Do()
	if err != nil {
		return nil, googleAPIError(p.name, err)
	}

	places := make([]Place, 0, len(resp.Places))
	for _, pl := range resp.Places {
		if pl == nil {
			continue
		}
		place := Place{
			ID:      pl.Id,
			Address: pl.FormattedAddress,
			Rating:  pl.Rating,
			Types:   pl.Types,
			Phone:   pl.NationalPhoneNumber,
			Website: pl.WebsiteUri,
		}
		if pl.DisplayName != nil {
			place.Name = pl.DisplayName.Text
		}
		if pl.Location != nil {
			place.Lat, place.Lng = pl.Location.Latitude, pl.Location.Longitude
		}
		places = append(places, place)
	}
	out, err := json.Marshal(places)
	if err != nil {
		return nil, err
	}
	return StructuredResult{JSON: out}, nil
}
