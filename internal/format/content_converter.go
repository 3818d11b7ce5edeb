package format

import (
	"encoding/base64"
	"fmt"
	"regexp"
	"strings"
)

// PartKind tags a decoded content part
type PartKind int

const (
	PartText PartKind = iota
	PartInlineImage
)

// ContentPart is the tagged form message content is decoded into before
// conversion. Text carries the text; inline images carry decoded bytes and
// their mime type.
type ContentPart struct {
	Kind     PartKind
	Text     string
	MimeType string
	Data     []byte
}

// dataURLPattern matches data:<mime>;base64,<payload>
var dataURLPattern = regexp.MustCompile(`^data:([a-zA-Z0-9.+/-]+);base64,(.*)$`)

// markdownImagePattern matches inline markdown images carrying a data URL
var markdownImagePattern = regexp.MustCompile(`!\[[^\]]*\]\((data:[a-zA-Z0-9.+/-]+;base64,[A-Za-z0-9+/=]+)\)`)

// DecodeContent normalises OpenAI message content, which may be a plain
// string or a heterogeneous array of typed parts, into tagged parts.
// Markdown-style inline images embedded in text are extracted into separate
// inline-data parts with the marker removed from the surrounding text.
func DecodeContent(content interface{}) ([]ContentPart, error) {
	switch v := content.(type) {
	case nil:
		return nil, nil
	case string:
		return splitMarkdownImages(v)
	case []interface{}:
		var parts []ContentPart
		for _, raw := range v {
			m, ok := raw.(map[string]interface{})
			if !ok {
				return nil, fmt.Errorf("unsupported content part %T", raw)
			}
			decoded, err := decodeTypedPart(m)
			if err != nil {
				return nil, err
			}
			parts = append(parts, decoded...)
		}
		return parts, nil
	default:
		return nil, fmt.Errorf("unsupported content type %T", content)
	}
}

func decodeTypedPart(m map[string]interface{}) ([]ContentPart, error) {
	partType, _ := m["type"].(string)
	switch partType {
	case "text":
		text, _ := m["text"].(string)
		return splitMarkdownImages(text)

	case "image_url":
		urlObj, _ := m["image_url"].(map[string]interface{})
		url, _ := urlObj["url"].(string)
		part, err := decodeDataURL(url)
		if err != nil {
			return nil, err
		}
		return []ContentPart{part}, nil

	default:
		return nil, fmt.Errorf("unsupported content part type %q", partType)
	}
}

// decodeDataURL decodes a data:<mime>;base64,<b64> URL into an inline image
// part. Plain HTTPS image URLs are not supported inbound.
func decodeDataURL(url string) (ContentPart, error) {
	match := dataURLPattern.FindStringSubmatch(url)
	if match == nil {
		return ContentPart{}, fmt.Errorf("image_url must be a base64 data URL")
	}
	data, err := base64.StdEncoding.DecodeString(match[2])
	if err != nil {
		return ContentPart{}, fmt.Errorf("invalid base64 image payload: %w", err)
	}
	return ContentPart{Kind: PartInlineImage, MimeType: match[1], Data: data}, nil
}

// splitMarkdownImages extracts markdown inline data-URL images out of text,
// preserving the surrounding text as separate parts.
func splitMarkdownImages(text string) ([]ContentPart, error) {
	if text == "" {
		return nil, nil
	}

	locs := markdownImagePattern.FindAllStringSubmatchIndex(text, -1)
	if locs == nil {
		return []ContentPart{{Kind: PartText, Text: text}}, nil
	}

	var parts []ContentPart
	last := 0
	for _, loc := range locs {
		if before := text[last:loc[0]]; before != "" {
			parts = append(parts, ContentPart{Kind: PartText, Text: before})
		}
		img, err := decodeDataURL(text[loc[2]:loc[3]])
		if err != nil {
			return nil, err
		}
		parts = append(parts, img)
		last = loc[1]
	}
	if after := text[last:]; after != "" {
		parts = append(parts, ContentPart{Kind: PartText, Text: after})
	}
	return parts, nil
}

// toGeminiParts converts tagged parts into the Gemini part shape
func toGeminiParts(parts []ContentPart) []GeminiPart {
	out := make([]GeminiPart, 0, len(parts))
	for _, p := range parts {
		switch p.Kind {
		case PartText:
			out = append(out, GeminiPart{Text: p.Text})
		case PartInlineImage:
			out = append(out, GeminiPart{InlineData: &InlineData{
				MimeType: p.MimeType,
				Data:     base64.StdEncoding.EncodeToString(p.Data),
			}})
		}
	}
	return out
}

// textOnly concatenates the text of tagged parts, used for system messages
func textOnly(parts []ContentPart) string {
	var sb strings.Builder
	for _, p := range parts {
		if p.Kind == PartText {
			sb.WriteString(p.Text)
		}
	}
	return sb.String()
}
