// Package content flattens chat message content into plain text or ordered
// content parts. Content arrives either as a JSON string or as an array of
// typed parts; anything else degrades to a best-effort string.
package content

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strconv"
	"strings"
)

// PartType identifies the kind of a Part.
type PartType string

const (
	PartText  PartType = "text"
	PartImage PartType = "image"
)

// Part is one normalized content part. Image parts always carry an inline
// base64 payload.
type Part struct {
	Type      PartType
	Text      string
	MediaType string
	Data      string
}

// TextPart returns a text Part.
func TextPart(text string) Part {
	return Part{Type: PartText, Text: text}
}

// rawPart covers the part shapes seen in chat requests.
type rawPart struct {
	Type     string          `json:"type"`
	Text     *string         `json:"text"`
	ImageURL json.RawMessage `json:"image_url"`
}

// Normalize returns the text of message content, joining multiple text
// parts with a newline.
func Normalize(raw json.RawMessage) string {
	return flatten(raw, "\n")
}

// NormalizeInline returns the text of content used as a single line of
// request text. Text parts are concatenated without a separator.
func NormalizeInline(raw json.RawMessage) string {
	return flatten(raw, "")
}

func flatten(raw json.RawMessage, sep string) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}

	switch raw[0] {
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			slog.Warn("undecodable string content", "error", err)
			return ""
		}
		return s
	case '[':
		parts, err := decodeParts(raw)
		if err != nil {
			slog.Warn("unexpected content array", "error", err)
			return ""
		}
		texts := make([]string, 0, len(parts))
		for _, p := range parts {
			if isTextType(p.Type) && p.Text != nil {
				texts = append(texts, *p.Text)
			}
		}
		return strings.Join(texts, sep)
	default:
		slog.Warn("unexpected content shape", "shape", shapeOf(raw))
		return bestEffort(raw)
	}
}

// ToBlocks converts content into ordered parts. Image parts that are not
// data URIs are dropped with a warning.
func ToBlocks(raw json.RawMessage) []Part {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil
	}

	if raw[0] != '[' {
		text := flatten(raw, "\n")
		if text == "" {
			return nil
		}
		return []Part{TextPart(text)}
	}

	parts, err := decodeParts(raw)
	if err != nil {
		slog.Warn("unexpected content array", "error", err)
		return nil
	}

	out := make([]Part, 0, len(parts))
	for i, p := range parts {
		switch {
		case isTextType(p.Type):
			if p.Text != nil && *p.Text != "" {
				out = append(out, TextPart(*p.Text))
			}
		case isImageType(p.Type):
			url := imageURL(p.ImageURL)
			mediaType, data, ok := ParseDataURI(url)
			if !ok {
				slog.Warn("dropping image part without inline data", "index", i, "source", truncate(url, 64))
				continue
			}
			out = append(out, Part{Type: PartImage, MediaType: mediaType, Data: data})
		default:
			slog.Warn("ignoring unknown content part", "index", i, "type", p.Type)
		}
	}
	return out
}

// HasImage reports whether any part is an image.
func HasImage(parts []Part) bool {
	for _, p := range parts {
		if p.Type == PartImage {
			return true
		}
	}
	return false
}

// ParseDataURI splits a data:<media-type>;base64,<payload> URI.
func ParseDataURI(uri string) (mediaType, data string, ok bool) {
	rest, found := strings.CutPrefix(uri, "data:")
	if !found {
		return "", "", false
	}
	header, payload, found := strings.Cut(rest, ",")
	if !found || payload == "" {
		return "", "", false
	}
	mediaType, found = strings.CutSuffix(header, ";base64")
	if !found || !strings.Contains(mediaType, "/") {
		return "", "", false
	}
	return mediaType, payload, true
}

func decodeParts(raw json.RawMessage) ([]rawPart, error) {
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, err
	}
	parts := make([]rawPart, 0, len(items))
	for _, item := range items {
		var p rawPart
		item = bytes.TrimSpace(item)
		if len(item) > 0 && item[0] == '"' {
			// Bare strings inside the array are treated as text parts.
			var s string
			if json.Unmarshal(item, &s) == nil {
				p = rawPart{Type: "text", Text: &s}
			}
		} else if err := json.Unmarshal(item, &p); err != nil {
			slog.Warn("skipping malformed content part", "error", err)
			continue
		}
		parts = append(parts, p)
	}
	return parts, nil
}

func imageURL(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return ""
	}
	var s string
	if raw[0] == '"' {
		_ = json.Unmarshal(raw, &s)
		return s
	}
	var obj struct {
		URL string `json:"url"`
	}
	_ = json.Unmarshal(raw, &obj)
	return obj.URL
}

func isTextType(t string) bool {
	return t == "text" || t == "input_text"
}

func isImageType(t string) bool {
	return t == "image_url" || t == "input_image"
}

// bestEffort renders scalars literally and objects by their text field.
func bestEffort(raw json.RawMessage) string {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return ""
	}
	switch val := v.(type) {
	case string:
		return val
	case bool:
		return strconv.FormatBool(val)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case map[string]any:
		if text, ok := val["text"].(string); ok {
			return text
		}
	}
	return ""
}

func shapeOf(raw json.RawMessage) string {
	switch raw[0] {
	case '{':
		return "object"
	case 't', 'f':
		return "bool"
	default:
		return "scalar"
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
