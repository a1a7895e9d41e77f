// Package finalizer implements the Finalizer (C9): it composes the
// user-facing reply from the terminal step's result and runs commitment
// verification against the trace's recorded commitments (spec §4.9). It is
// grounded on the teacher's workflow_finish.go, which translates a
// terminal planner result into a user-visible RunOutput by reading the
// final message off the last step and publishing a terminal hook event;
// here that becomes reading the terminal Step's StepResult and running a
// declarative commitment check table instead of a single final-message
// extraction.
package finalizer

import (
	"context"
	"fmt"

	"github.com/fieldnote-ai/homeagent/internal/plan"
	"github.com/fieldnote-ai/homeagent/internal/telemetry"
	"github.com/fieldnote-ai/homeagent/internal/trace"
)

// Status is the interaction's terminal disposition (spec §4.9).
type Status string

const (
	StatusSuccess        Status = "success"
	StatusPartialSuccess Status = "partial_success"
)

// Reply is the user-facing message assembled from the terminal step.
type Reply struct {
	Message     string
	Details     map[string]any
	Attachments []plan.FileRef
}

// CommitmentStatus records whether one recorded commitment was fulfilled.
type CommitmentStatus struct {
	Tag       trace.CommitmentTag
	Fulfilled bool
	Reason    string
}

// Result is the Finalizer's output.
type Result struct {
	Reply       Reply
	Status      Status
	Commitments []CommitmentStatus
}

// ActionCommitments resolves which CommitmentTags a successful invocation
// of a tool fulfills. tools.Registry implements it.
type ActionCommitments interface {
	Commitments(action string) []trace.CommitmentTag
}

// Finalizer assembles replies and verifies commitments.
type Finalizer struct {
	logger telemetry.Logger
}

// Option configures a Finalizer.
type Option func(*Finalizer)

func WithLogger(l telemetry.Logger) Option { return func(f *Finalizer) { f.logger = l } }

// New constructs a Finalizer.
func New(opts ...Option) *Finalizer {
	f := &Finalizer{logger: telemetry.NewNoopLogger()}
	for _, o := range opts {
		o(f)
	}
	return f
}

// tagCheck decides whether a single step's result fulfills tag, given the
// declarative rules in spec §4.9.
type tagCheck func(step *plan.Step, result *plan.StepResult) bool

var tagChecks = map[trace.CommitmentTag]tagCheck{
	trace.CommitSendEmail: func(step *plan.Step, result *plan.StepResult) bool {
		if result.Status != plan.StatusSuccess {
			return false
		}
		send, ok := step.Parameters["send"]
		if !ok {
			return false
		}
		b, ok := send.(bool)
		return !ok || b
	},
	trace.CommitAttachDocuments: func(step *plan.Step, result *plan.StepResult) bool {
		return result.Status == plan.StatusSuccess && len(result.Attachments) > 0
	},
	trace.CommitPlayMusic: func(step *plan.Step, result *plan.StepResult) bool {
		return result.Status == plan.StatusSuccess
	},
	trace.CommitPostSocial: func(step *plan.Step, result *plan.StepResult) bool {
		return result.Status == plan.StatusSuccess
	},
	trace.CommitCreateDocument: func(step *plan.Step, result *plan.StepResult) bool {
		return result.Status == plan.StatusSuccess && len(result.Attachments) > 0
	},
	trace.CommitScheduleEvent: func(step *plan.Step, result *plan.StepResult) bool {
		return result.Status == plan.StatusSuccess
	},
}

// Finalize composes the reply from p's terminal step and checks every
// commitment tr recorded during planning against registry's declared
// per-tool commitments. Unfulfilled commitments are appended to tr as
// corrective guidance for future interactions (spec §4.9), and tr is frozen
// before Finalize returns (the interaction is complete either way).
func (f *Finalizer) Finalize(ctx context.Context, p *plan.Plan, results plan.StepResults, tr *trace.Trace, registry ActionCommitments) (*Result, error) {
	terminal := p.Terminal()
	if terminal == nil {
		return nil, fmt.Errorf("finalizer: plan has no terminal step")
	}

	summary := tr.Summarize()
	reply := buildReply(results[terminal.ID], summary.AttachmentInventory)
	statuses, allFulfilled := checkCommitments(p, results, summary.Commitments, registry)

	for _, cs := range statuses {
		if cs.Fulfilled {
			continue
		}
		id := tr.AddEntry(trace.StageFinalization, "commitment not fulfilled: "+string(cs.Tag), "", nil, nil, nil)
		if id != "" {
			tr.UpdateEntry(id, trace.OutcomePartial, nil, nil, []string{cs.Reason})
		}
	}

	status := StatusSuccess
	if !allFulfilled {
		status = StatusPartialSuccess
	}

	tr.Freeze()
	return &Result{Reply: reply, Status: status, Commitments: statuses}, nil
}

// checkCommitments decides, for each tag in committed, whether any step in
// p whose registry-declared commitments include tag actually satisfied that
// tag's declarative rule (spec §4.9: "send_email ⇒ ... a truthy send
// parameter", "attach_documents ⇒ ... attachments list non-empty", etc).
func checkCommitments(p *plan.Plan, results plan.StepResults, committed []trace.CommitmentTag, registry ActionCommitments) ([]CommitmentStatus, bool) {
	fulfilled := make(map[trace.CommitmentTag]bool)
	for _, s := range p.Steps {
		result := results[s.ID]
		if result == nil || registry == nil {
			continue
		}
		for _, tag := range registry.Commitments(s.Action) {
			check, ok := tagChecks[tag]
			if ok && check(s, result) {
				fulfilled[tag] = true
			}
		}
	}

	all := true
	statuses := make([]CommitmentStatus, 0, len(committed))
	for _, tag := range committed {
		ok := fulfilled[tag]
		cs := CommitmentStatus{Tag: tag, Fulfilled: ok}
		if !ok {
			cs.Reason = fmt.Sprintf(
				"commitment %q was recorded during planning but no step's result satisfies it; verify the relevant tool call actually ran and succeeded next time",
				tag,
			)
			all = false
		}
		statuses = append(statuses, cs)
	}
	return statuses, all
}

func buildReply(result *plan.StepResult, inventory []plan.FileRef) Reply {
	if result == nil {
		return Reply{Message: "the plan did not produce a final reply", Attachments: inventory}
	}

	message := ""
	switch {
	case isString(result.Value["message"]):
		message = result.Value["message"].(string)
	case isString(result.Value["reply"]):
		message = result.Value["reply"].(string)
	case result.Status != plan.StatusSuccess:
		message = result.ErrorMessage
	}

	details := make(map[string]any, len(result.Value))
	for k, v := range result.Value {
		if k == "message" || k == "reply" {
			continue
		}
		details[k] = v
	}

	all := append(append([]plan.FileRef(nil), inventory...), result.Attachments...)
	return Reply{Message: message, Details: details, Attachments: dedupeFileRefs(all)}
}

func isString(v any) bool {
	_, ok := v.(string)
	return ok
}

func dedupeFileRefs(refs []plan.FileRef) []plan.FileRef {
	seen := make(map[string]bool, len(refs))
	out := make([]plan.FileRef, 0, len(refs))
	for _, r := range refs {
		if seen[r.Path] {
			continue
		}
		seen[r.Path] = true
		out = append(out, r)
	}
	return out
}
