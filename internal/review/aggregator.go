package review

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// Action is the aggregator's verdict on a draft.
type Action string

const (
	ActionAccept             Action = "accept"
	ActionCorrect            Action = "correct"
	ActionAcceptWithWarnings Action = "accept_with_warnings"
)

// Decision is the consensus outcome computed from all successful reviews.
type Decision struct {
	Action         Action   `json:"action"`
	MergedIssues   []Issue  `json:"merged_issues"`
	AggregateScore *float64 `json:"aggregate_score"` // nil when no reviewer succeeded
}

// InvariantError signals an internally inconsistent decision. It should not
// occur; it exists as a defensive guard and is fatal to the run.
type InvariantError struct {
	Reason string
}

func (e *InvariantError) Error() string {
	return "aggregation invariant violated: " + e.Reason
}

// Aggregator merges reviewer findings into one Decision.
type Aggregator struct {
	scoreThreshold float64 // correct below this mean score
	similarityMin  float64 // Jaccard overlap at which two issues collapse
	logger         *zap.Logger
}

// NewAggregator creates an aggregator with the given consensus thresholds.
func NewAggregator(scoreThreshold, similarityMin float64, logger *zap.Logger) *Aggregator {
	if scoreThreshold <= 0 {
		scoreThreshold = 6.0
	}
	if similarityMin <= 0 {
		similarityMin = 0.6
	}
	return &Aggregator{
		scoreThreshold: scoreThreshold,
		similarityMin:  similarityMin,
		logger:         logger,
	}
}

// Decide computes the consensus decision from the findings of reviewers that
// completed successfully. Findings must be passed in reviewer dispatch order;
// that order is the dedup tie-breaker. An empty slice (every reviewer failed
// or none ran under review) degrades to accept_with_warnings.
func (a *Aggregator) Decide(findings []*Finding) (*Decision, error) {
	if len(findings) == 0 {
		return &Decision{
			Action:       ActionAcceptWithWarnings,
			MergedIssues: []Issue{},
		}, nil
	}

	sum := 0.0
	for _, f := range findings {
		sum += f.Score
	}
	mean := sum / float64(len(findings))

	merged := a.mergeIssues(findings)

	action := ActionAccept
	switch {
	case mean < a.scoreThreshold || hasBlocking(merged):
		action = ActionCorrect
	case len(merged) > 0:
		action = ActionAcceptWithWarnings
	}

	if action == ActionCorrect && len(merged) == 0 && mean >= a.scoreThreshold {
		return nil, &InvariantError{Reason: fmt.Sprintf(
			"correct decided with score %.2f above threshold and no issues", mean)}
	}

	a.logger.Debug("consensus computed",
		zap.Float64("aggregate_score", mean),
		zap.Int("merged_issues", len(merged)),
		zap.String("action", string(action)))

	return &Decision{
		Action:         action,
		MergedIssues:   merged,
		AggregateScore: &mean,
	}, nil
}

// mergeIssues deduplicates near-identical complaints across reviewers.
// On collapse the higher-severity instance wins; ties keep the first seen.
func (a *Aggregator) mergeIssues(findings []*Finding) []Issue {
	merged := []Issue{}
	var tokens []map[string]bool

	for _, f := range findings {
		for _, issue := range f.Issues {
			ts := tokenSet(issue.Description)
			dup := -1
			for i := range merged {
				if jaccard(tokens[i], ts) >= a.similarityMin {
					dup = i
					break
				}
			}
			if dup < 0 {
				merged = append(merged, issue)
				tokens = append(tokens, ts)
				continue
			}
			if issue.Severity.Rank() > merged[dup].Severity.Rank() {
				merged[dup] = issue
				tokens[dup] = ts
			}
		}
	}
	return merged
}

func hasBlocking(issues []Issue) bool {
	for _, i := range issues {
		if i.Severity == SeverityBlocking {
			return true
		}
	}
	return false
}

// tokenSet normalizes a description into a lowercase token set,
// stripping punctuation.
func tokenSet(s string) map[string]bool {
	words := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !((r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r > 127)
	})
	set := make(map[string]bool, len(words))
	for _, w := range words {
		set[w] = true
	}
	return set
}

func jaccard(a, b map[string]bool) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1
	}
	inter := 0
	for w := range a {
		if b[w] {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}
