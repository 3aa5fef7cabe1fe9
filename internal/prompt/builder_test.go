package prompt

import (
	"strings"
	"testing"

	"github.com/lexforge/lexforge/internal/agent"
	"github.com/lexforge/lexforge/internal/review"
)

func TestDocumentTypeValid(t *testing.T) {
	for _, d := range []DocumentType{DocPetition, DocContract, DocOpinion, DocAppeal, DocDefense, DocOther} {
		if !d.Valid() {
			t.Errorf("%q should be valid", d)
		}
	}
	if DocumentType("memo").Valid() {
		t.Error("unknown document type should not be valid")
	}
}

func TestGenerationDeterministic(t *testing.T) {
	refs := []string{"model clause A"}
	hist := []string{"previous request about the same parties"}

	s1, u1 := Generation(DocContract, "lease agreement for an office", refs, hist)
	s2, u2 := Generation(DocContract, "lease agreement for an office", refs, hist)
	if s1 != s2 || u1 != u2 {
		t.Error("identical inputs must produce identical prompts")
	}
}

func TestGenerationIncludesInputs(t *testing.T) {
	_, user := Generation(DocPetition, "eviction petition against tenant X",
		[]string{"statute excerpt"}, []string{"earlier draft discussion"})

	for _, want := range []string{"eviction petition against tenant X", "statute excerpt", "earlier draft discussion"} {
		if !strings.Contains(user, want) {
			t.Errorf("user prompt missing %q", want)
		}
	}
}

func TestGenerationOmitsEmptySections(t *testing.T) {
	_, user := Generation(DocOpinion, "liability question", nil, nil)
	if strings.Contains(user, "Reference material") {
		t.Error("reference section should be absent without references")
	}
	if strings.Contains(user, "Prior conversation") {
		t.Error("history section should be absent without history")
	}
}

func TestReviewPromptsPerRole(t *testing.T) {
	legalSys, legalUser, err := Review(agent.RoleLegalReviewer, DocContract, "DRAFT TEXT")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	textSys, textUser, err := Review(agent.RoleTextualReviewer, DocContract, "DRAFT TEXT")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if legalSys == textSys {
		t.Error("reviewer roles must get distinct system prompts")
	}
	for _, user := range []string{legalUser, textUser} {
		if !strings.Contains(user, "DRAFT TEXT") {
			t.Error("review prompt missing the draft")
		}
		if !strings.Contains(user, `"score"`) {
			t.Error("review prompt missing the critique schema")
		}
	}
}

func TestReviewRejectsNonReviewerRole(t *testing.T) {
	if _, _, err := Review(agent.RoleGenerator, DocContract, "draft"); err == nil {
		t.Error("expected error for a role without a rubric")
	}
}

func TestCorrectionIncludesIssues(t *testing.T) {
	issues := []review.Issue{
		{Severity: review.SeverityBlocking, Description: "wrong jurisdiction cited", SuggestedFix: "cite the commercial court"},
		{Severity: review.SeverityMinor, Description: "clause numbering skips 7"},
	}
	_, user := Correction(DocContract, "supply agreement", "THE DRAFT", issues)

	for _, want := range []string{"THE DRAFT", "supply agreement", "wrong jurisdiction cited", "cite the commercial court", "clause numbering skips 7"} {
		if !strings.Contains(user, want) {
			t.Errorf("correction prompt missing %q", want)
		}
	}
	if !strings.Contains(user, "complete revised document") {
		t.Error("correction prompt must demand a full rewrite, not a diff")
	}
}
