package assistant

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ParseJSONReply decodes a reply that may be wrapped in a Markdown code
// fence, with or without a language tag.
func ParseJSONReply(reply string, out any) error {
	text := strings.TrimSpace(reply)
	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```")
		if nl := strings.IndexByte(text, '\n'); nl >= 0 {
			text = text[nl+1:]
		} else {
			text = strings.TrimPrefix(text, "json")
		}
		text = strings.TrimSuffix(strings.TrimSpace(text), "```")
	}
	if err := json.Unmarshal([]byte(strings.TrimSpace(text)), out); err != nil {
		return fmt.Errorf("parse assistant reply: %w", err)
	}
	return nil
}
