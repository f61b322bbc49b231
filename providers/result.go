package providers

import (
	"encoding/json"
	"fmt"
)

// ResultKind discriminates the Result variants.
type ResultKind string

// ResultKind constants.
const (
	KindText       ResultKind = "text"
	KindImage      ResultKind = "image"
	KindStructured ResultKind = "structured"
)

// Valid reports whether k is a known kind.
func (k ResultKind) Valid() bool {
	switch k {
	case KindText, KindImage, KindStructured:
		return true
	}
	return false
}

// Result is the tagged union returned by providers.
type Result interface {
	Kind() ResultKind
	// Bytes returns the canonical payload bytes stored in the cache.
	Bytes() []byte
}

// TextResult carries plain generated text.
type TextResult struct {
	Text string
}

// Kind implements Result.
func (TextResult) Kind() ResultKind { return KindText }

// Bytes implements Result.
func (r TextResult) Bytes() []byte { return []byte(r.Text) }

// ImageResult carries decoded binary image data.
type ImageResult struct {
	Data     []byte
	MIMEType string
}

// Kind implements Result.
func (ImageResult) Kind() ResultKind { return KindImage }

// Bytes implements Result.
func (r ImageResult) Bytes() []byte { return r.Data }

// StructuredResult carries a JSON document.
type StructuredResult struct {
	JSON json.RawMessage
}

// Kind implements Result.
func (StructuredResult) Kind() ResultKind { return KindStructured }

// Bytes implements Result.
func (r StructuredResult) Bytes() []byte { return r.JSON }

// ResultFromBytes rebuilds a Result from cached payload bytes.
func ResultFromBytes(kind ResultKind, payload []byte) (Result, error) {
	switch kind {
	case KindText:
		return TextResult{Text: string(payload)}, nil
	case KindImage:
		return ImageResult{Data: payload}, nil
	case KindStructured:
		if !json.Valid(payload) {
			return nil, &ParseError{Provider: "cache", Reason: "stored structured payload is not valid JSON"}
		}
		return StructuredResult{JSON: json.RawMessage(payload)}, nil
	default:
		return nil, fmt.Errorf("unknown result kind %q", kind)
	}
}
