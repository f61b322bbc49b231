package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"google.golang.org/api/googleapi"
	"google.golang.org/api/youtube/v3"
)

// DefaultYouTubePageCap bounds how many pages one playlist import follows.
const DefaultYouTubePageCap = 10

// PlaylistQuery is the Body accepted by the youtube provider.
type PlaylistQuery struct {
	PlaylistID string `json:"playlist_id"`
	MaxPages   int    `json:"max_pages,omitempty"`
}

// Video is one entry of the structured playlist result.
type Video struct {
	VideoID     string `json:"video_id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Thumbnail   string `json:"thumbnail,omitempty"`
	PublishedAt string `json:"published_at,omitempty"`
	Position    int    `json:"position"`
}

// YouTubeProvider lists the videos of a playlist through the YouTube Data
// API v3. It has no model dimension.
type YouTubeProvider struct {
	name string
	svc  *youtube.Service
}

// NewYouTube creates a YouTube provider. baseURL overrides the API endpoint.
func NewYouTube(ctx context.Context, baseURL string, client *http.Client) (*YouTubeProvider, error) {
	svc, err := youtube.NewService(ctx, googleAPIOptions(baseURL, client)...)
	if err != nil {
		return nil, fmt.Errorf("youtube: %w", err)
	}
	return &YouTubeProvider{name: "youtube", svc: svc}, nil
}

// Name returns the provider name.
func (p *YouTubeProvider) Name() string { return p.name }

// Generate pages through playlistItems until nextPageToken is empty or the
// page cap is reached. Private and deleted videos are skipped.
func (p *YouTubeProvider) Generate(ctx context.Context, credential, _ string, req Request) (Result, error) {
	var q PlaylistQuery
	if err := json.Unmarshal(req.Body, &q); err != nil {
		return nil, fmt.Errorf("youtube: invalid query: %w", err)
	}
	if q.PlaylistID == "" {
		return nil, errors.New("youtube: playlist_id is required")
	}
	maxPages := q.MaxPages
	if maxPages <= 0 || maxPages > DefaultYouTubePageCap {
		maxPages = DefaultYouTubePageCap
	}

	videos := []Video{}
	pageToken := ""
	for page := 0; page < maxPages; page++ {
		call := p.svc.PlaylistItems.List([]string{"snippet"}).
			PlaylistId(q.PlaylistID).
			MaxResults(50).
			Context(ctx)
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}
		resp, err := call.Do(googleapi.QueryParameter("key", credential))
		if err != nil {
			return nil, googleAPIError(p.name, err)
		}
		for _, it := range resp.Items {
			if v, ok := videoOf(it); ok {
				videos = append(videos, v)
			}
		}
		if resp.NextPageToken == "" {
			break
		}
		pageToken = resp.NextPageToken
	}

	out, err := json.Marshal(videos)
	if err != nil {
		return nil, err
	}
	return StructuredResult{JSON: out}, nil
}

func videoOf(it *youtube.PlaylistItem) (Video, bool) {
	if it == nil || it.Snippet == nil || it.Snippet.ResourceId == nil {
		return Video{}, false
	}
	s := it.Snippet
	if s.ResourceId.VideoId == "" || s.Title == "Private video" || s.Title == "Deleted video" {
		return Video{}, false
	}
	v := Video{
		VideoID:     s.ResourceId.VideoId,
		Title:       s.Title,
		Description: s.Description,
		PublishedAt: s.PublishedAt,
		Position:    int(s.Position),
	}
	if th := s.Thumbnails; th != nil {
		for _, t := range []*youtube.Thumbnail{th.High, th.Medium, th.Default} {
			if t != nil && t.Url != "" {
				v.Thumbnail = t.Url
				break
			}
		}
	}
	return v, true
}
