// Package jsonrepair turns the structured text a language model returns into
// usable JSON. Models wrap payloads in markdown fences, add chatter around
// them, or stop mid-array when they hit the output limit; calling the model
// again is expensive, so Recover degrades to the best payload it can build
// and reports which method it used.
package jsonrepair

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrEmpty is returned when nothing usable can be recovered.
var ErrEmpty = errors.New("jsonrepair: empty payload")

// ErrNotArray is returned by DecodeArrayPrefix when the text holds no array.
var ErrNotArray = errors.New("jsonrepair: no JSON array found")

// Method names how Recover produced its output.
type Method string

const (
	// MethodExact: the (unfenced) text was valid JSON as-is.
	MethodExact Method = "exact"
	// MethodExtract: valid JSON was found between surrounding prose.
	MethodExtract Method = "extract"
	// MethodPrefix: a truncated array was cut back to its complete elements.
	MethodPrefix Method = "prefix"
	// MethodLines: each non-empty line became {"text": line}.
	MethodLines Method = "lines"
)

// StripCodeFence removes a surrounding ``` or ```json fence.
func StripCodeFence(content string) string {
	trimmed := strings.TrimSpace(content)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	body := strings.TrimLeft(trimmed[3:], " \t\r\n")
	if len(body) >= 4 && strings.EqualFold(body[:4], "json") {
		body = strings.TrimLeft(body[4:], " \t\r\n")
	}
	if idx := strings.LastIndex(body, "```"); idx >= 0 {
		body = body[:idx]
	}
	return strings.TrimSpace(body)
}

// DecodeArrayPrefix decodes the longest run of complete elements from a
// JSON array that may be cut off or followed by garbage. truncated reports
// whether the closing bracket was missing or unreachable.
//
//	DecodeArrayPrefix(`[{"a":1},{"b":2},{"c":`) // two elements, truncated
func DecodeArrayPrefix(text string) (items []json.RawMessage, truncated bool, err error) {
	s := StripCodeFence(text)
	start := strings.IndexByte(s, '[')
	if start < 0 {
		return nil, false, ErrNotArray
	}
	dec := json.NewDecoder(strings.NewReader(s[start:]))
	if _, err := dec.Token(); err != nil {
		return nil, false, fmt.Errorf("jsonrepair: %w", err)
	}
	for dec.More() {
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return items, true, nil
		}
		items = append(items, raw)
	}
	if tok, err := dec.Token(); err != nil || tok != json.Delim(']') {
		return items, true, nil
	}
	return items, false, nil
}

// Recover returns valid JSON built from text, trying in order: the text
// itself, the outermost object or array inside it, the complete prefix of a
// truncated array, and finally one {"text": line} object per line.
func Recover(text string) (json.RawMessage, Method, error) {
	s := StripCodeFence(text)
	if s == "" {
		return nil, "", ErrEmpty
	}
	if json.Valid([]byte(s)) {
		return json.RawMessage(s), MethodExact, nil
	}
	if inner := extract(s); inner != "" && json.Valid([]byte(inner)) {
		return json.RawMessage(inner), MethodExtract, nil
	}
	if items, _, err := DecodeArrayPrefix(s); err == nil && len(items) > 0 {
		out, err := json.Marshal(items)
		if err != nil {
			return nil, "", fmt.Errorf("jsonrepair: %w", err)
		}
		return out, MethodPrefix, nil
	}
	if out := fromLines(s); out != nil {
		return out, MethodLines, nil
	}
	return nil, "", ErrEmpty
}

func extract(s string) string {
	for _, pair := range [][2]string{{"[", "]"}, {"{", "}"}} {
		start := strings.Index(s, pair[0])
		end := strings.LastIndex(s, pair[1])
		if start >= 0 && end > start {
			return strings.TrimSpace(s[start : end+1])
		}
	}
	return ""
}

type lineItem struct {
	Text string `json:"text"`
}

func fromLines(s string) json.RawMessage {
	var items []lineItem
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimSpace(strings.TrimLeft(strings.TrimSpace(line), "-*•"))
		if line == "" || line == "[" || line == "]" {
			continue
		}
		items = append(items, lineItem{Text: line})
	}
	if len(items) == 0 {
		return nil
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(items); err != nil {
		return nil
	}
	return bytes.TrimSpace(buf.Bytes())
}
