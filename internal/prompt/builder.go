// Package prompt assembles role-specific instructions for agent invocations.
// Every builder is a pure function of its inputs so prompt construction can
// be tested without any model in the loop.
package prompt

import (
	"fmt"
	"strings"

	"github.com/lexforge/lexforge/internal/agent"
	"github.com/lexforge/lexforge/internal/review"
)

// DocumentType is the kind of legal document being generated.
type DocumentType string

const (
	DocPetition DocumentType = "petition"
	DocContract DocumentType = "contract"
	DocOpinion  DocumentType = "opinion"
	DocAppeal   DocumentType = "appeal"
	DocDefense  DocumentType = "defense"
	DocOther    DocumentType = "other"
)

// Valid reports whether d is a known document type.
func (d DocumentType) Valid() bool {
	switch d {
	case DocPetition, DocContract, DocOpinion, DocAppeal, DocDefense, DocOther:
		return true
	}
	return false
}

var docTemplates = map[DocumentType]string{
	DocPetition: "Draft a formal petition. Structure it with an addressed court heading, a statement of facts, the legal grounds, and numbered requests for relief.",
	DocContract: "Draft a contract. Structure it with identified parties, recitals, numbered clauses covering obligations, payment, term, termination and dispute resolution, and a signature block.",
	DocOpinion:  "Draft a legal opinion. Structure it with the question presented, a short answer, the analysis with cited legal grounds, and a conclusion.",
	DocAppeal:   "Draft an appeal brief. Structure it with the decision under appeal, the grounds for reversal, supporting arguments, and the relief requested.",
	DocDefense:  "Draft a statement of defense. Structure it with an answer to each allegation, affirmative defenses, and the dismissal requested.",
	DocOther:    "Draft the legal document the request describes, using the structure conventional for that kind of document.",
}

const generatorSystem = "You are a senior legal drafter. You produce complete, formally structured legal documents in plain professional language. You never invent facts that were not provided; where a required fact is missing, leave an explicit [TO BE COMPLETED] placeholder."

// Generation builds the system and user prompts for the generator role.
func Generation(doc DocumentType, userPrompt string, references, history []string) (system, user string) {
	var b strings.Builder
	b.WriteString(docTemplates[doc])
	b.WriteString("\n\nRequest:\n")
	b.WriteString(userPrompt)

	if len(history) > 0 {
		b.WriteString("\n\nPrior conversation for context:\n")
		for _, h := range history {
			b.WriteString("- ")
			b.WriteString(h)
			b.WriteString("\n")
		}
	}
	if len(references) > 0 {
		b.WriteString("\nReference material:\n")
		for i, r := range references {
			fmt.Fprintf(&b, "[ref %d] %s\n", i+1, r)
		}
	}
	return generatorSystem, b.String()
}

const critiqueSchema = `Respond with a single JSON object and nothing else:
{"score": <0-10>, "issues": [{"severity": "info|minor|major|blocking", "description": "...", "suggested_fix": "..."}]}
Score 10 means the draft needs no changes. Use severity "blocking" only for defects that make the document unusable as-is.`

var reviewerRubrics = map[agent.Role]struct {
	system string
	rubric string
}{
	agent.RoleLegalReviewer: {
		system: "You are a legal reviewer. You evaluate drafts strictly for legal soundness and say nothing about style.",
		rubric: "Evaluate the draft for legal accuracy: correctness of the legal grounds invoked, internal consistency of obligations and claims, missing mandatory elements for this kind of document, and statements that could expose the client to liability.",
	},
	agent.RoleTextualReviewer: {
		system: "You are a textual reviewer. You evaluate drafts strictly for writing quality and say nothing about legal substance.",
		rubric: "Evaluate the draft for textual quality: grammar, clarity, ambiguous phrasing, inconsistent terminology or party names, and structural completeness of sections.",
	},
}

// Review builds the system and user prompts for a reviewer role.
func Review(role agent.Role, doc DocumentType, draft string) (system, user string, err error) {
	r, ok := reviewerRubrics[role]
	if !ok {
		return "", "", fmt.Errorf("no review rubric for role %s", role)
	}

	var b strings.Builder
	b.WriteString(r.rubric)
	fmt.Fprintf(&b, "\n\nThe draft is a %s.\n\nDraft:\n%s\n\n", doc, draft)
	b.WriteString(critiqueSchema)
	return r.system, b.String(), nil
}

// Correction builds the system and user prompts for the corrective
// regeneration pass. The output must be a full revised document, not a diff.
func Correction(doc DocumentType, userPrompt, draft string, issues []review.Issue) (system, user string) {
	var b strings.Builder
	b.WriteString(docTemplates[doc])
	b.WriteString("\n\nOriginal request:\n")
	b.WriteString(userPrompt)
	b.WriteString("\n\nA draft was produced and reviewed. Rewrite it addressing every issue below. Output the complete revised document, not a list of changes.\n\nDraft:\n")
	b.WriteString(draft)
	b.WriteString("\n\nIssues to address:\n")
	for i, issue := range issues {
		fmt.Fprintf(&b, "%d. [%s] %s", i+1, issue.Severity, issue.Description)
		if issue.SuggestedFix != "" {
			fmt.Fprintf(&b, " (suggested fix: %s)", issue.SuggestedFix)
		}
		b.WriteString("\n")
	}
	return generatorSystem, b.String()
}
