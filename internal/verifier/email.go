package verifier

import (
	"path/filepath"
	"strings"

	"github.com/fieldnote-ai/homeagent/internal/plan"
)

// CheckEmailComposition implements the email-composition special case (spec
// §4.7): before the terminal send, verify that the composed message body
// mentions every attachment the trace has accumulated so far (the inventory
// of files the plan has promised to attach or link). It is deterministic,
// not an LLM call, because the check is a simple substring containment over
// a closed, already-known list.
//
// Missing items produce a "warn" verdict (never "fail": a forgotten mention
// in prose is not itself proof the attachment won't be sent) with a
// suggested_parameters patch that adds the missing paths to the "attachments"
// parameter, additive only.
func CheckEmailComposition(body string, existingAttachments []any, inventory []plan.FileRef) *Result {
	if len(inventory) == 0 {
		return &Result{Verdict: VerdictOK}
	}

	lowerBody := strings.ToLower(body)
	present := make(map[string]bool, len(existingAttachments))
	for _, a := range existingAttachments {
		if s, ok := a.(string); ok {
			present[s] = true
		}
	}

	var issues []string
	var missing []any
	for _, f := range inventory {
		name := filepath.Base(f.Path)
		mentioned := strings.Contains(lowerBody, strings.ToLower(name)) || strings.Contains(lowerBody, strings.ToLower(f.Path))
		if !mentioned && !present[f.Path] {
			issues = append(issues, "composed message does not mention or attach "+name)
			missing = append(missing, f.Path)
		}
	}

	if len(issues) == 0 {
		return &Result{Verdict: VerdictOK}
	}

	merged := append(append([]any(nil), existingAttachments...), missing...)
	return &Result{
		Verdict: VerdictWarn,
		Issues:  issues,
		SuggestedParameters: map[string]any{
			"attachments": merged,
		},
	}
}
