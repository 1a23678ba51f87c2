package validator

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/tidwall/gjson"
)

// confidenceRe matches a number shortly after the word "confidence" so a
// verdict embedded in prose ("my confidence is about 72 out of 100") still
// parses.
var confidenceRe = regexp.MustCompile(`(?i)confidence[^0-9]{0,16}(\d{1,3}(?:\.\d+)?)`)

// ParseVerdict extracts a verdict from raw model output. The model is asked
// for a JSON object but is not trusted to produce one: the first balanced
// object is cut out of the surrounding prose and each field is read
// defensively. A verdict without a parseable confidence is an error; the
// caller fails closed.
func ParseVerdict(content string) (Verdict, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return Verdict{}, fmt.Errorf("empty validator response")
	}
	obj, hasObj := extractJSONObject(content)

	var v Verdict
	approvedSet := false
	confidenceSet := false
	if hasObj {
		if res := gjson.Get(obj, "approved"); res.Exists() {
			v.Approved, approvedSet = parseBool(res)
		}
		if res := gjson.Get(obj, "confidence"); res.Exists() {
			if c, ok := parseConfidence(res); ok {
				v.Confidence = c
				confidenceSet = true
			}
		}
		for _, key := range []string{"reason", "rationale", "explanation"} {
			if res := gjson.Get(obj, key); res.Exists() {
				v.Rationale = strings.TrimSpace(res.String())
				break
			}
		}
	}
	if !approvedSet {
		return Verdict{}, fmt.Errorf("no parseable approved flag in validator response")
	}
	if !confidenceSet {
		if m := confidenceRe.FindStringSubmatch(content); m != nil {
			if c, ok := parseConfidence(gjson.Parse(m[1])); ok {
				v.Confidence = c
				confidenceSet = true
			}
		}
	}
	if !confidenceSet {
		return Verdict{}, fmt.Errorf("no parseable confidence in validator response")
	}
	if v.Rationale == "" {
		v.Rationale = content
	}
	return v, nil
}

func parseBool(res gjson.Result) (bool, bool) {
	switch res.Type {
	case gjson.True:
		return true, true
	case gjson.False:
		return false, true
	case gjson.String:
		switch strings.ToLower(strings.TrimSpace(res.String())) {
		case "true", "yes", "approve", "approved":
			return true, true
		case "false", "no", "reject", "rejected":
			return false, true
		}
	}
	return false, false
}

func parseConfidence(res gjson.Result) (float64, bool) {
	var c float64
	switch res.Type {
	case gjson.Number:
		c = res.Float()
	case gjson.String:
		s := strings.TrimSuffix(strings.TrimSpace(res.String()), "%")
		parsed := gjson.Parse(s)
		if parsed.Type != gjson.Number {
			return 0, false
		}
		c = parsed.Float()
	default:
		return 0, false
	}
	if c < 0 || c > 100 {
		return 0, false
	}
	return c, true
}

// extractJSONObject returns the first balanced {...} block in s.
func extractJSONObject(s string) (string, bool) {
	start := strings.Index(s, "{")
	if start == -1 {
		return "", false
	}
	depth := 0
	for i := start; i < len(s); i++ {
		switch s[i] {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return strings.TrimSpace(s[start : i+1]), true
			}
		}
	}
	return "", false
}
