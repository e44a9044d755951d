package llm

import "github.com/tidwall/gjson"

// ExtractJSONObject locates the outermost balanced {...} span in model output
// that may be wrapped in prose or markdown fences. Returns false when no
// valid object is present.
func ExtractJSONObject(s string) (string, bool) {
	start := -1
	depth := 0
	inString := false
	escaped := false

	for i := 0; i < len(s); i++ {
		c := s[i]
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
		case '{':
			if depth == 0 {
				start = i
			}
			depth++
		case '}':
			if depth == 0 {
				continue
			}
			depth--
			if depth == 0 {
				candidate := s[start : i+1]
				if gjson.Valid(candidate) {
					return candidate, true
				}
				// Keep scanning; the model may emit a broken object before a
				// well-formed one.
				start = -1
			}
		}
	}
	return "", false
}
