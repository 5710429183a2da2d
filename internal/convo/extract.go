package convo

import (
	"encoding/json"
	"regexp"
	"strings"
)

var fencedBlockRe = regexp.MustCompile("(?is)```(?:json)?\\s*(.*?)\\s*```")

// ExtractJSONObject recovers a JSON object from arbitrary model output.
// Strategies, first success wins: direct parse, fenced code block, the
// substring from the first '{' to the last '}'. Returns nil when no
// strategy yields an object; malformed input is a normal case, never an
// error.
func ExtractJSONObject(text string) map[string]any {
	if obj := parseObject(text); obj != nil {
		return obj
	}
	if m := fencedBlockRe.FindStringSubmatch(text); len(m) == 2 {
		if obj := parseObject(m[1]); obj != nil {
			return obj
		}
	}
	first := strings.Index(text, "{")
	last := strings.LastIndex(text, "}")
	if first != -1 && last > first {
		if obj := parseObject(text[first : last+1]); obj != nil {
			return obj
		}
	}
	return nil
}

func parseObject(s string) map[string]any {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	var obj map[string]any
	if err := json.Unmarshal([]byte(s), &obj); err != nil {
		return nil
	}
	return obj
}
