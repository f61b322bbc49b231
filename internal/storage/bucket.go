// Package storage uploads generated binaries to a public object bucket and
// hands back the URL that gets cached in place of the bytes.
package storage

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// Bucket talks to a Supabase-style storage REST API:
//
//	POST {base}/storage/v1/object/{bucket}/{path}         upload (x-upsert)
//	GET  {base}/storage/v1/object/public/{bucket}/{path}  public read
type Bucket struct {
	baseURL    string
	bucket     string
	serviceKey string
	httpClient *http.Client
}

// NewBucket validates the settings and returns a Bucket.
func NewBucket(baseURL, bucket, serviceKey string, client *http.Client) (*Bucket, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.New("storage: base url is required")
	}
	if strings.TrimSpace(bucket) == "" {
		return nil, errors.New("storage: bucket name is required")
	}
	if serviceKey == "" {
		return nil, errors.New("storage: service key is required")
	}
	if client == nil {
		client = &http.Client{}
	}
	return &Bucket{baseURL: baseURL, bucket: bucket, serviceKey: serviceKey, httpClient: client}, nil
}

// Name returns the bucket name.
func (b *Bucket) Name() string { return b.bucket }

// PublicURL is where an uploaded object can be read without credentials.
func (b *Bucket) PublicURL(path string) string {
	return b.baseURL + "/storage/v1/object/public/" + url.PathEscape(b.bucket) + "/" + escapePath(path)
}

// Upload stores data at path, replacing any existing object, and returns
// its public URL.
func (b *Bucket) Upload(ctx context.Context, path, contentType string, data []byte) (string, error) {
	path = strings.Trim(path, "/")
	if path == "" {
		return "", errors.New("storage: object path is required")
	}
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}
	endpoint := b.baseURL + "/storage/v1/object/" + url.PathEscape(b.bucket) + "/" + escapePath(path)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("storage: create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+b.serviceKey)
	req.Header.Set("apikey", b.serviceKey)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("x-upsert", "true")

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("storage: upload %s: %w", path, err)
	}
	defer func() { _ = resp.Body.Close() }()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var e struct {
			Error   string `json:"error"`
			Message string `json:"message"`
		}
		msg := strings.TrimSpace(string(body))
		if json.Unmarshal(body, &e) == nil && e.Message != "" {
			msg = e.Message
		}
		return "", fmt.Errorf("storage: upload %s: status %d: %s", path, resp.StatusCode, msg)
	}
	return b.PublicURL(path), nil
}

// ObjectPath derives a stable object path for a cache key, so regenerating
// an entry overwrites the same object.
//
//	ObjectPath("capas", "livros:codigo-penal", "webp") == "capas/<sha256[:16]>.webp"
func ObjectPath(prefix, key, ext string) string {
	sum := sha256.Sum256([]byte(key))
	name := hex.EncodeToString(sum[:8])
	if ext = strings.TrimPrefix(ext, "."); ext != "" {
		name += "." + ext
	}
	if prefix = strings.Trim(prefix, "/"); prefix != "" {
		return prefix + "/" + name
	}
	return name
}

// ExtensionFor maps an image MIME type to a file extension.
func ExtensionFor(mimeType string) string {
	switch strings.ToLower(strings.TrimSpace(mimeType)) {
	case "image/webp":
		return "webp"
	case "image/png":
		return "png"
	case "image/jpeg", "image/jpg":
		return "jpg"
	case "image/gif":
		return "gif"
	default:
		return "bin"
	}
}

func escapePath(p string) string {
	segs := strings.Split(p, "/")
	for i, s := range segs {
		segs[i] = url.PathEscape(s)
	}
	return strings.Join(segs, "/")
}
