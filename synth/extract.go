package synth

import (
	"encoding/json"
	"strings"
)

// FailureReason explains why no JSON could be extracted.
type FailureReason string

const (
	ReasonNone    FailureReason = ""
	ReasonEmpty   FailureReason = "empty"
	ReasonNoJSON  FailureReason = "no_json"
	ReasonInvalid FailureReason = "invalid_json"
)

// ExtractResult is the outcome of ExtractJSON. Value is a []any or
// map[string]any when Reason is ReasonNone.
type ExtractResult struct {
	Value  any
	Reason FailureReason
}

// OK reports whether a value was extracted.
func (r ExtractResult) OK() bool { return r.Reason == ReasonNone }

// ExtractJSON finds the outermost JSON array or object in a model reply,
// ignoring markdown fences and surrounding prose.
func ExtractJSON(raw string) ExtractResult {
	s := stripFences(strings.TrimSpace(raw))
	if s == "" {
		return ExtractResult{Reason: ReasonEmpty}
	}

	var (
		fallback any
		found    bool
		tries    int
	)
	for i := 0; i < len(s) && tries < maxExtractAttempts; i++ {
		if s[i] != '[' && s[i] != '{' {
			continue
		}
		tries++
		v, ok := decodeAt(s, i)
		if !ok {
			continue
		}
		if plausible(v) {
			return ExtractResult{Value: v}
		}
		if !found {
			fallback, found = v, true
		}
	}
	switch {
	case found:
		return ExtractResult{Value: fallback}
	case tries == 0:
		return ExtractResult{Reason: ReasonNoJSON}
	default:
		return ExtractResult{Reason: ReasonInvalid}
	}
}

// maxExtractAttempts bounds how many bracket positions are tried.
const maxExtractAttempts = 64

// decodeAt decodes the first complete JSON value starting at s[start],
// ignoring trailing prose, and falls back to the widest bracketed span.
func decodeAt(s string, start int) (any, bool) {
	var v any
	if err := json.NewDecoder(strings.NewReader(s[start:])).Decode(&v); err == nil {
		return v, true
	}
	closer := "]"
	if s[start] == '{' {
		closer = "}"
	}
	if end := strings.LastIndex(s, closer); end > start {
		if err := json.Unmarshal([]byte(s[start:end+1]), &v); err == nil {
			return v, true
		}
	}
	return nil, false
}

// plausible reports whether v looks like card output: an object, or an
// array holding at least one object.
func plausible(v any) bool {
	switch t := v.(type) {
	case map[string]any:
		return true
	case []any:
		for _, e := range t {
			if _, ok := e.(map[string]any); ok {
				return true
			}
		}
	}
	return false
}

func stripFences(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 && !strings.ContainsAny(s[:nl], "[{") {
		s = s[nl+1:]
	}
	if end := strings.LastIndex(s, "```"); end >= 0 {
		s = s[:end]
	}
	return strings.TrimSpace(s)
}
