package review

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Severity ranks an issue raised by a reviewer.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityMinor    Severity = "minor"
	SeverityMajor    Severity = "major"
	SeverityBlocking Severity = "blocking"
)

var severityRank = map[Severity]int{
	SeverityInfo:     0,
	SeverityMinor:    1,
	SeverityMajor:    2,
	SeverityBlocking: 3,
}

// Rank returns the numeric rank of a severity; unknown severities rank lowest.
func (s Severity) Rank() int { return severityRank[s] }

// Valid reports whether s is a known severity value.
func (s Severity) Valid() bool {
	_, ok := severityRank[s]
	return ok
}

// Issue is one problem a reviewer found in a draft.
type Issue struct {
	Severity     Severity `json:"severity"`
	Description  string   `json:"description"`
	SuggestedFix string   `json:"suggested_fix,omitempty"`
}

// Finding is a reviewer's structured critique of a draft.
type Finding struct {
	Score   float64 `json:"score"`
	Issues  []Issue `json:"issues"`
	RawText string  `json:"raw_text"`
}

// ParseFinding extracts a structured critique from reviewer output.
// Reviewers are instructed to emit a JSON object, but models wrap it in prose
// often enough that the first balanced JSON object in the text is taken.
// Anything that does not validate against the critique schema is an error —
// a malformed critique must never pass as a partially-trusted finding.
func ParseFinding(raw string) (*Finding, error) {
	obj, err := firstJSONObject(raw)
	if err != nil {
		return nil, err
	}

	var parsed struct {
		Score  *float64 `json:"score"`
		Issues []Issue  `json:"issues"`
	}
	if err := json.Unmarshal([]byte(obj), &parsed); err != nil {
		return nil, fmt.Errorf("critique is not valid JSON: %w", err)
	}
	if parsed.Score == nil {
		return nil, fmt.Errorf("critique is missing a score")
	}
	if *parsed.Score < 0 || *parsed.Score > 10 {
		return nil, fmt.Errorf("critique score %.2f out of range [0,10]", *parsed.Score)
	}
	for i, issue := range parsed.Issues {
		if !issue.Severity.Valid() {
			return nil, fmt.Errorf("issue %d has unknown severity %q", i, issue.Severity)
		}
		if strings.TrimSpace(issue.Description) == "" {
			return nil, fmt.Errorf("issue %d has an empty description", i)
		}
	}

	return &Finding{
		Score:   *parsed.Score,
		Issues:  parsed.Issues,
		RawText: raw,
	}, nil
}

// firstJSONObject returns the first balanced top-level {...} in s.
// Brace counting ignores braces inside JSON strings.
func firstJSONObject(s string) (string, error) {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", fmt.Errorf("no JSON object in critique")
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
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
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1], nil
			}
		}
	}
	return "", fmt.Errorf("unterminated JSON object in critique")
}
