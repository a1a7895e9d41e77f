package trace

import "strings"

// deliveryVerbs and attachmentNouns implement the deterministic verb/noun
// scan cross-check described in spec §4.3: a delivery verb anywhere in the
// text implies its commitment, and a noun like "report"/"slides"/"link"
// together with an email/send/share verb implies attach_documents, even if
// the LLM's candidate tags missed it. The scan does not check how close the
// verb and the noun are to each other.
var deliveryVerbs = []string{"email", "send", "share", "post", "publish", "schedule", "play", "attach"}

var verbToTag = map[string]CommitmentTag{
	"email": CommitSendEmail,
	"send":  CommitSendEmail,
	"share": CommitSendEmail,
	"post":  CommitPostSocial,
	"publish": CommitPostSocial,
	"schedule": CommitScheduleEvent,
	"play":  CommitPlayMusic,
	"attach": CommitAttachDocuments,
}

var attachmentNouns = []string{"report", "slides", "link", "links", "document", "file", "presentation", "keynote", "pages"}

// ScanCommitments runs the deterministic verb/noun scan over free-form user
// request text and returns candidate commitment tags. It is a pure,
// independently testable unit per spec §9 Open Questions.
func ScanCommitments(text string) []CommitmentTag {
	lower := strings.ToLower(text)
	seen := make(map[CommitmentTag]struct{})
	var out []CommitmentTag
	add := func(tag CommitmentTag) {
		if _, ok := seen[tag]; ok {
			return
		}
		seen[tag] = struct{}{}
		out = append(out, tag)
	}

	for _, verb := range deliveryVerbs {
		if !strings.Contains(lower, verb) {
			continue
		}
		if tag, ok := verbToTag[verb]; ok {
			add(tag)
		}
	}

	if strings.Contains(lower, "attach") || strings.Contains(lower, "attachment") {
		add(CommitAttachDocuments)
	} else {
		for _, noun := range attachmentNouns {
			if strings.Contains(lower, noun) && (strings.Contains(lower, "email") || strings.Contains(lower, "send") || strings.Contains(lower, "share")) {
				add(CommitAttachDocuments)
				break
			}
		}
	}

	if strings.Contains(lower, "presentation") || strings.Contains(lower, "slideshow") || strings.Contains(lower, "keynote") || strings.Contains(lower, "document") {
		add(CommitCreateDocument)
	}

	return out
}

// MergeCommitments unions LLM-proposed tags with deterministically scanned
// ones, deduplicating while preserving first-seen order (spec §4.3: "Union
// is recorded").
func MergeCommitments(llmTags, scanned []CommitmentTag) []CommitmentTag {
	seen := make(map[CommitmentTag]struct{})
	var out []CommitmentTag
	for _, group := range [][]CommitmentTag{llmTags, scanned} {
		for _, tag := range group {
			if _, ok := seen[tag]; ok {
				continue
			}
			seen[tag] = struct{}{}
			out = append(out, tag)
		}
	}
	return out
}
