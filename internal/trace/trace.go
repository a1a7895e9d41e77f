// Package trace implements the per-interaction Reasoning Trace and its
// session-scoped memory operations (C3, spec §4.3): append-only entries,
// commitment tracking, and the summary view the Planner consumes.
package trace

import (
	"sync"
	"time"

	"github.com/fieldnote-ai/homeagent/internal/plan"
	"github.com/google/uuid"
)

// CommitmentTag is an element of the fixed closed set of promised side
// effects. New tags require a code change (spec §3: "intentional —
// commitments are safety-relevant").
type CommitmentTag string

const (
	CommitSendEmail        CommitmentTag = "send_email"
	CommitAttachDocuments  CommitmentTag = "attach_documents"
	CommitPlayMusic        CommitmentTag = "play_music"
	CommitPostSocial       CommitmentTag = "post_social"
	CommitCreateDocument   CommitmentTag = "create_document"
	CommitScheduleEvent    CommitmentTag = "schedule_event"
)

// AllCommitmentTags lists the closed set, for validation and scanning.
var AllCommitmentTags = []CommitmentTag{
	CommitSendEmail, CommitAttachDocuments, CommitPlayMusic,
	CommitPostSocial, CommitCreateDocument, CommitScheduleEvent,
}

// Stage is the pipeline stage a ReasoningEntry was recorded at.
type Stage string

const (
	StagePlanning     Stage = "planning"
	StageExecution    Stage = "execution"
	StageVerification Stage = "verification"
	StageCorrection   Stage = "correction"
	StageFinalization Stage = "finalization"
)

// Outcome is the resolution of a ReasoningEntry.
type Outcome string

const (
	OutcomePending Outcome = "pending"
	OutcomeSuccess Outcome = "success"
	OutcomePartial Outcome = "partial"
	OutcomeFailed  Outcome = "failed"
)

// Entry is one append-only record in a ReasoningTrace.
type Entry struct {
	ID            string
	InteractionID string
	Stage         Stage
	Thought       string
	Action        string
	Parameters    map[string]any
	Outcome       Outcome
	Evidence      []string
	Commitments   []CommitmentTag
	Corrections   []string
	Attachments   []plan.FileRef
	Timestamp     time.Time
}

// Summary is the read-only digest the Planner consumes instead of raw trace
// strings (spec §4.3, spec §9 "memory quality is testable").
type Summary struct {
	Commitments         []CommitmentTag
	PastAttempts        int
	RecentCorrections   []string
	AttachmentInventory []plan.FileRef
}

// Trace is the append-only log scoped to one Interaction. Entries may only
// be updated to resolve pending -> success|failed and to attach late
// evidence/attachments; once the Interaction finalizes, the trace is frozen.
type Trace struct {
	mu            sync.Mutex
	interactionID string
	entries       []*Entry
	frozen        bool
}

// New starts an empty trace for interactionID.
func New(interactionID string) *Trace {
	return &Trace{interactionID: interactionID}
}

// AddEntry appends a new entry and returns its id.
func (t *Trace) AddEntry(stage Stage, thought, action string, params map[string]any, commitments []CommitmentTag, evidence []string) string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.frozen {
		return ""
	}
	e := &Entry{
		ID:            uuid.NewString(),
		InteractionID: t.interactionID,
		Stage:         stage,
		Thought:       thought,
		Action:        action,
		Parameters:    params,
		Outcome:       OutcomePending,
		Evidence:      evidence,
		Commitments:   commitments,
		Timestamp:     time.Now().UTC(),
	}
	t.entries = append(t.entries, e)
	return e.ID
}

// UpdateEntry resolves outcome and optionally appends attachments, evidence,
// and corrections. A no-op if the trace is frozen or entryID is unknown.
func (t *Trace) UpdateEntry(entryID string, outcome Outcome, attachments []plan.FileRef, evidence []string, corrections []string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.frozen {
		return
	}
	for _, e := range t.entries {
		if e.ID != entryID {
			continue
		}
		e.Outcome = outcome
		e.Attachments = append(e.Attachments, attachments...)
		e.Evidence = append(e.Evidence, evidence...)
		e.Corrections = append(e.Corrections, corrections...)
		return
	}
}

// Freeze marks the trace immutable; called once its Interaction finalizes.
func (t *Trace) Freeze() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.frozen = true
}

// Entries returns a snapshot copy of the trace's entries, so callers holding
// it don't block future writers (spec §5 shared resource policy). Each Entry
// is copied by value; its slice and map fields share storage with the trace,
// which only ever appends to them.
func (t *Trace) Entries() []*Entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*Entry, len(t.entries))
	for i, e := range t.entries {
		cp := *e
		out[i] = &cp
	}
	return out
}

// Summarize produces the Planner-facing digest.
func (t *Trace) Summarize() Summary {
	t.mu.Lock()
	defer t.mu.Unlock()

	seen := make(map[CommitmentTag]struct{})
	var commitments []CommitmentTag
	var corrections []string
	var attachments []plan.FileRef
	attempts := 0
	for _, e := range t.entries {
		if e.Stage == StageExecution {
			attempts++
		}
		for _, c := range e.Commitments {
			if _, ok := seen[c]; ok {
				continue
			}
			seen[c] = struct{}{}
			commitments = append(commitments, c)
		}
		corrections = append(corrections, e.Corrections...)
		attachments = append(attachments, e.Attachments...)
	}
	return Summary{
		Commitments:         commitments,
		PastAttempts:        attempts,
		RecentCorrections:   corrections,
		AttachmentInventory: attachments,
	}
}
