package gateway

import (
	"encoding/json"
	"regexp"
	"strings"
)

// listMarker matches bullet and numbering prefixes such as "- ", "* ",
// "• ", "3. " and "3) ".
var listMarker = regexp.MustCompile(`^\s*(?:[-*•]+|\d+[.)])\s*`)

// ParseList extracts list items from provider output. A JSON array of
// strings is preferred; otherwise every non-empty line is an item with any
// bullet or number prefix removed.
func ParseList(content string) []string {
	trimmed := strings.TrimSpace(content)
	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimSuffix(trimmed, "```")
	trimmed = strings.TrimSpace(trimmed)

	if strings.HasPrefix(trimmed, "[") {
		var arr []string
		if err := json.Unmarshal([]byte(trimmed), &arr); err == nil {
			return compact(arr)
		}
	}

	lines := strings.Split(trimmed, "\n")
	items := make([]string, 0, len(lines))
	for _, line := range lines {
		items = append(items, listMarker.ReplaceAllString(line, ""))
	}
	return compact(items)
}

// compact trims items and drops empty ones and duplicates, keeping order.
func compact(items []string) []string {
	out := make([]string, 0, len(items))
	seen := make(map[string]struct{}, len(items))
	for _, it := range items {
		it = strings.TrimSpace(it)
		if it == "" {
			continue
		}
		if _, dup := seen[it]; dup {
			continue
		}
		seen[it] = struct{}{}
		out = append(out, it)
	}
	return out
}
