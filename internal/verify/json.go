package verify

import (
	"encoding/json"
	"strings"
)

type claimsEnvelope struct {
	Claims []Claim `json:"claims"`
}

// ParseClaims decodes the model's claims JSON tolerantly: code fences are
// stripped, and when the whole reply does not parse the largest {...}
// substring gets one more try. Unparsable input yields an empty list.
func ParseClaims(raw string) []Claim {
	var env claimsEnvelope
	if err := DecodeLoose(raw, &env); err != nil {
		return nil
	}
	return env.Claims
}

// DecodeLoose unmarshals a model reply that may be wrapped in fences or
// surrounded by prose. The single parse-then-validate entry point for every
// JSON-contract model call.
func DecodeLoose(raw string, v any) error {
	s := stripFences(raw)
	if err := json.Unmarshal([]byte(s), v); err == nil {
		return nil
	}
	if inner, ok := largestObject(s); ok {
		return json.Unmarshal([]byte(inner), v)
	}
	return json.Unmarshal([]byte(s), v)
}

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:] // drop the language tag line
	}
	if i := strings.LastIndex(s, "```"); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}

// largestObject returns the widest balanced {...} span, tracking strings so
// braces inside quoted text do not count.
func largestObject(s string) (string, bool) {
	depth := 0
	inString := false
	escaped := false
	spanStart := -1
	bestStart, bestEnd := -1, -1
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
			inString = true
		case '{':
			if depth == 0 {
				spanStart = i
			}
			depth++
		case '}':
			if depth > 0 {
				depth--
				if depth == 0 && spanStart >= 0 && i-spanStart > bestEnd-bestStart {
					bestStart, bestEnd = spanStart, i
				}
			}
		}
	}
	if bestStart < 0 {
		return "", false
	}
	return s[bestStart : bestEnd+1], true
}
