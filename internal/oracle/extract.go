package oracle

import (
	"fmt"
	"strings"
)

// ExtractObject returns the first balanced {...} span in raw. String literals
// and escapes are honored so braces inside quoted text do not confuse the
// scan.
func ExtractObject(raw string) (string, error) {
	return extractBalanced(raw, '{', '}')
}

// ExtractArray returns the first balanced [...] span in raw.
func ExtractArray(raw string) (string, error) {
	return extractBalanced(raw, '[', ']')
}

func extractBalanced(raw string, open, close byte) (string, error) {
	start := strings.IndexByte(raw, open)
	if start < 0 {
		return "", fmt.Errorf("no %q found in response: %w", string(open), ErrMalformed)
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(raw); i++ {
		c := raw[i]
		if escaped {
			escaped = false
			continue
		}
		switch {
		case inString && c == '\\':
			escaped = true
		case c == '"':
			inString = !inString
		case inString:
			// Brackets inside strings don't count.
		case c == open:
			depth++
		case c == close:
			depth--
			if depth == 0 {
				return raw[start : i+1], nil
			}
		}
	}
	return "", fmt.Errorf("unbalanced %q span in response: %w", string(open), ErrMalformed)
}

// RepairArray re-synthesizes a canonical JSON array from a broken response by
// collecting every balanced top-level object it can find and wrapping them in
// a fresh container. This recovers the common failure where the model drops a
// comma or truncates the closing bracket.
func RepairArray(raw string) (string, error) {
	var objects []string
	rest := raw
	for {
		obj, err := ExtractObject(rest)
		if err != nil {
			break
		}
		objects = append(objects, obj)
		idx := strings.Index(rest, obj)
		rest = rest[idx+len(obj):]
	}
	if len(objects) == 0 {
		return "", fmt.Errorf("repair found no objects: %w", ErrMalformed)
	}
	return "[" + strings.Join(objects, ",") + "]", nil
}
