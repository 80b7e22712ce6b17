package gemini

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spigell/mock-interviewer/internal/ai"
)

// extractJSON strips markdown fences and any prose around the outermost object.
func extractJSON(raw string) string {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "```") {
		raw = strings.TrimPrefix(raw, "```json")
		raw = strings.TrimPrefix(raw, "```")
		raw = strings.TrimSpace(raw)
		if idx := strings.LastIndex(raw, "```"); idx != -1 {
			raw = raw[:idx]
		}
	}
	raw = strings.Trim(raw, "`")
	raw = strings.TrimSpace(raw)

	start, end := strings.Index(raw, "{"), strings.LastIndex(raw, "}")
	if start > 0 && end > start {
		raw = raw[start : end+1]
	}
	return raw
}

func decodeJSON(raw string, v any) error {
	if err := json.Unmarshal([]byte(extractJSON(raw)), v); err != nil {
		return fmt.Errorf("%w: %v", ai.ErrInvalidOutput, err)
	}
	return nil
}
