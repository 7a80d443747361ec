package pipeline

import (
	"encoding/json"
	"strings"

	"github.com/docscan-ai/docscan/pkg/vision"
)

// parseFailedMessage is the user-visible error in the degraded result shape.
const parseFailedMessage = "Failed to parse structured data"

// extractText concatenates all text content blocks from a message response.
func extractText(resp *vision.MessageResponse) string {
	if resp == nil {
		return ""
	}
	var parts []string
	for _, block := range resp.Content {
		if block.Text != "" {
			parts = append(parts, block.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// cleanJSON attempts to extract JSON from text that may contain markdown
// code fences or other wrapping the model added despite instructions.
func cleanJSON(text string) string {
	text = strings.TrimSpace(text)

	if strings.HasPrefix(text, "```json") {
		text = strings.TrimPrefix(text, "```json")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	} else if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	}
	text = strings.TrimSpace(text)

	// Already parseable, objects and arrays alike.
	if json.Valid([]byte(text)) {
		return text
	}

	// Otherwise narrow to the outermost object in case the reply wraps
	// it in prose: find first { and last }.
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		text = text[start : end+1]
	}

	return strings.TrimSpace(text)
}

// parseExtraction turns the model's raw reply into the result payload.
// Anything that parses as JSON is the result, arrays included. Unparseable
// output degrades to {rawText, error} rather than failing the request: the
// upstream cost was already incurred.
func parseExtraction(raw string) (json.RawMessage, bool) {
	cleaned := cleanJSON(raw)

	if cleaned != "" && json.Valid([]byte(cleaned)) {
		return json.RawMessage(cleaned), false
	}

	fallback, _ := json.Marshal(map[string]string{
		"rawText": raw,
		"error":   parseFailedMessage,
	})
	return fallback, true
}
