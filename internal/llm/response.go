package llm

import (
	"bytes"
	"encoding/json"
	"errors"
	"regexp"
	"strings"
)

// ErrNoJSON means no strategy found a JSON object in a model response.
var ErrNoJSON = errors.New("llm: no json object in response")

// Strategy pulls a candidate JSON object out of raw model text.
type Strategy struct {
	Name string
	Find func(content string) (string, bool)
}

var fenceRe = regexp.MustCompile("(?s)```(?:json|JSON)?\\s*(.*?)```")

// Strategies are tried in order; the first candidate that decodes to an object wins.
var Strategies = []Strategy{
	{Name: "direct", Find: func(s string) (string, bool) {
		s = strings.TrimSpace(s)
		return s, strings.HasPrefix(s, "{")
	}},
	{Name: "fenced", Find: func(s string) (string, bool) {
		m := fenceRe.FindStringSubmatch(s)
		if m == nil {
			return "", false
		}
		return strings.TrimSpace(m[1]), true
	}},
	{Name: "balanced", Find: firstBalancedObject},
}

// ExtractJSONObject returns the first JSON object found by Strategies and the strategy name.
func ExtractJSONObject(content string) ([]byte, string, error) {
	for _, st := range Strategies {
		cand, ok := st.Find(content)
		if !ok || cand == "" {
			continue
		}
		var obj map[string]any
		dec := json.NewDecoder(strings.NewReader(cand))
		dec.UseNumber()
		if err := dec.Decode(&obj); err != nil || obj == nil {
			continue
		}
		if dec.More() {
			continue
		}
		return []byte(cand), st.Name, nil
	}
	return nil, "", ErrNoJSON
}

// firstBalancedObject scans for the first {...} span with balanced braces outside strings.
func firstBalancedObject(s string) (string, bool) {
	start := strings.IndexByte(s, '{')
	for start >= 0 {
		depth := 0
		inStr, esc := false, false
		for i := start; i < len(s); i++ {
			c := s[i]
			if inStr {
				switch {
				case esc:
					esc = false
				case c == '\\':
					esc = true
				case c == '"':
					inStr = false
				}
				continue
			}
			switch c {
			case '"':
				inStr = true
			case '{':
				depth++
			case '}':
				depth--
				if depth == 0 {
					cand := s[start : i+1]
					if json.Valid([]byte(cand)) {
						return cand, true
					}
					i = len(s)
				}
			}
		}
		next := strings.IndexByte(s[start+1:], '{')
		if next < 0 {
			break
		}
		start += next + 1
	}
	return "", false
}

// Compact re-encodes an object without insignificant whitespace.
func Compact(raw []byte) []byte {
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return raw
	}
	return buf.Bytes()
}
