package review

import (
	"strings"
	"testing"
)

func TestParseFindingClean(t *testing.T) {
	raw := `{"score": 8.5, "issues": [{"severity": "minor", "description": "Clause 4 repeats clause 2.", "suggested_fix": "Remove clause 4."}]}`

	f, err := ParseFinding(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.Score != 8.5 {
		t.Errorf("got score %v, want 8.5", f.Score)
	}
	if len(f.Issues) != 1 {
		t.Fatalf("got %d issues, want 1", len(f.Issues))
	}
	if f.Issues[0].Severity != SeverityMinor {
		t.Errorf("got severity %q, want minor", f.Issues[0].Severity)
	}
	if f.RawText != raw {
		t.Error("raw text not preserved")
	}
}

func TestParseFindingProseWrapped(t *testing.T) {
	raw := "Here is my assessment of the draft:\n" +
		`{"score": 4, "issues": [{"severity": "blocking", "description": "The governing law clause is missing."}]}` +
		"\nLet me know if you need anything else."

	f, err := ParseFinding(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.Score != 4 {
		t.Errorf("got score %v, want 4", f.Score)
	}
	if f.Issues[0].Severity != SeverityBlocking {
		t.Errorf("got severity %q, want blocking", f.Issues[0].Severity)
	}
}

func TestParseFindingBracesInStrings(t *testing.T) {
	raw := `{"score": 7, "issues": [{"severity": "info", "description": "The placeholder {party} is never substituted."}]}`

	f, err := ParseFinding(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(f.Issues[0].Description, "{party}") {
		t.Errorf("description mangled: %q", f.Issues[0].Description)
	}
}

func TestParseFindingNoIssues(t *testing.T) {
	f, err := ParseFinding(`{"score": 10, "issues": []}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.Score != 10 || len(f.Issues) != 0 {
		t.Errorf("got score %v with %d issues, want 10 with none", f.Score, len(f.Issues))
	}
}

func TestParseFindingRejects(t *testing.T) {
	cases := []struct {
		name string
		raw  string
	}{
		{"no json", "The draft looks fine to me."},
		{"unterminated", `{"score": 5, "issues": [`},
		{"missing score", `{"issues": []}`},
		{"score too high", `{"score": 11, "issues": []}`},
		{"score negative", `{"score": -1, "issues": []}`},
		{"unknown severity", `{"score": 5, "issues": [{"severity": "catastrophic", "description": "x"}]}`},
		{"empty description", `{"score": 5, "issues": [{"severity": "minor", "description": "  "}]}`},
		{"score wrong type", `{"score": "high", "issues": []}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := ParseFinding(tc.raw); err == nil {
				t.Errorf("expected error for %q", tc.raw)
			}
		})
	}
}

func TestSeverityRank(t *testing.T) {
	if SeverityBlocking.Rank() <= SeverityMajor.Rank() {
		t.Error("blocking should outrank major")
	}
	if SeverityMajor.Rank() <= SeverityMinor.Rank() {
		t.Error("major should outrank minor")
	}
	if SeverityMinor.Rank() <= SeverityInfo.Rank() {
		t.Error("minor should outrank info")
	}
	if Severity("bogus").Valid() {
		t.Error("unknown severity should not be valid")
	}
}
