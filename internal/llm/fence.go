package llm

import "strings"

// UnwrapFence strips a Markdown code fence from a model response. Models
// sometimes wrap the requested JSON in ```json ... ``` despite instructions.
func UnwrapFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
