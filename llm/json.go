package llm

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

var thinkRegex = regexp.MustCompile(`(?s)<think>.*?</think>`) //nolint:gochecknoglobals

// StripThinkBlocks removes <think>...</think> blocks from model output.
// Some models (like qwen3) emit their reasoning in these blocks.
func StripThinkBlocks(s string) string {
	return strings.TrimSpace(thinkRegex.ReplaceAllString(s, ""))
}

// ExtractJSON returns the first syntactically valid top-level JSON object
// or array found in s. Markdown code fences and think blocks are ignored.
func ExtractJSON(s string) (string, error) {
	content := StripThinkBlocks(s)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	content = strings.TrimSpace(content)

	inString, escaped := false, false
	depth, start := 0, -1
	for i := 0; i < len(content); i++ {
		c := content[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			if depth > 0 {
				inString = true
			}
		case '{', '[':
			if depth == 0 {
				start = i
			}
			depth++
		case '}', ']':
			if depth == 0 {
				continue
			}
			depth--
			if depth == 0 && start >= 0 {
				raw := strings.TrimSpace(content[start : i+1])
				if json.Valid([]byte(raw)) {
					return raw, nil
				}
				start = -1
			}
		}
	}
	return "", ErrNoJSON
}

// Decode extracts JSON from model text and unmarshals it into v.
func Decode(text string, v any) error {
	raw, err := ExtractJSON(text)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return fmt.Errorf("llm: decode model output: %w", err)
	}
	return nil
}
