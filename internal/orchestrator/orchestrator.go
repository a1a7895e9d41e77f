// Package orchestrator implements the Orchestrator State Machine (C10): it
// drives Planner -> Validator -> Executor -> Verifier -> (Replanner or
// Finalizer), owns cancellation, and publishes progress events (spec
// §4.10). It is grounded on the teacher's workflowLoop.run() in
// runtime/agent/runtime/workflow_loop.go, an explicit per-iteration state
// struct with a single driving loop deciding what happens next; here the
// iteration variable is the kernel's own typed state enum instead of an
// awaiting-tool-calls check.
package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/fieldnote-ai/homeagent/internal/errs"
	"github.com/fieldnote-ai/homeagent/internal/executor"
	"github.com/fieldnote-ai/homeagent/internal/finalizer"
	"github.com/fieldnote-ai/homeagent/internal/plan"
	"github.com/fieldnote-ai/homeagent/internal/planner"
	"github.com/fieldnote-ai/homeagent/internal/replanner"
	"github.com/fieldnote-ai/homeagent/internal/stream"
	"github.com/fieldnote-ai/homeagent/internal/telemetry"
	"github.com/fieldnote-ai/homeagent/internal/trace"
	"github.com/fieldnote-ai/homeagent/internal/verifier"
)

// State is one node of the state machine in spec §4.10.
type State string

const (
	StateIdle        State = "idle"
	StatePlanning    State = "planning"
	StateValidating  State = "validating"
	StateExecuting   State = "executing"
	StateVerifying   State = "verifying"
	StateReplanning  State = "replanning"
	StateFinalizing  State = "finalizing"
	StateDone        State = "done"
)

// Request is one user turn.
type Request struct {
	SessionID     string
	InteractionID string
	Text          string
	RecentSummary string
}

// Outcome is the terminal result of Run, published through the result
// capture as soon as it is available (spec §4.6 "Streaming result
// capture").
type Outcome struct {
	Status       string
	Reply        finalizer.Reply
	Commitments  []finalizer.CommitmentStatus
	ErrorKind    errs.Kind
	ErrorMessage string
}

// registryView is the subset of tools.Registry the orchestrator depends on
// directly; it is satisfied structurally by *tools.Registry.
type registryView interface {
	plan.ActionLookup
	finalizer.ActionCommitments
	CatalogText() (string, string)
}

// safetyFallback bounds the result-capture handoff (spec §4.6: "a large
// upper timeout (e.g., 5 minutes)").
const safetyFallback = 5 * time.Minute

// maxValidationReplans caps structural-reject replanning independently of
// the Replanner's own execution-failure budget (spec §4.10: "structural
// reject → REPLAN once with the validator's reasons").
const maxValidationReplans = 1

// Orchestrator wires the pipeline components together.
type Orchestrator struct {
	planner   *planner.Planner
	executor  *executor.Executor
	verifier  *verifier.Verifier
	replanner *replanner.Replanner
	finalizer *finalizer.Finalizer
	registry  registryView
	sink      stream.Sink
	logger    telemetry.Logger
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

func WithSink(s stream.Sink) Option         { return func(o *Orchestrator) { o.sink = s } }
func WithLogger(l telemetry.Logger) Option  { return func(o *Orchestrator) { o.logger = l } }

// New constructs an Orchestrator from its component parts.
func New(p *planner.Planner, e *executor.Executor, v *verifier.Verifier, r *replanner.Replanner, f *finalizer.Finalizer, registry registryView, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		planner:   p,
		executor:  e,
		verifier:  v,
		replanner: r,
		finalizer: f,
		registry:  registry,
		sink:      stream.NoopSink{},
		logger:    telemetry.NewNoopLogger(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Run drives one interaction to completion. It returns as soon as the
// result-capture fires (the Finalizer produced a reply, or the pipeline
// ended in cancellation/error), never later than safetyFallback.
func (o *Orchestrator) Run(ctx context.Context, req Request) (*Outcome, error) {
	capture := make(chan *Outcome, 1)

	go o.runPipeline(ctx, req, capture)

	select {
	case out := <-capture:
		return out, nil
	case <-time.After(safetyFallback):
		return nil, errs.New(errs.Unrecoverable, "orchestrator: safety fallback timeout waiting for pipeline completion")
	}
}

// runPipeline executes the PLANNING -> VALIDATING -> EXECUTING -> VERIFYING
// -> (REPLAN | FINALIZING) -> DONE state machine, publishing into capture
// exactly once.
func (o *Orchestrator) runPipeline(ctx context.Context, req Request, capture chan<- *Outcome) {
	tr := trace.New(req.InteractionID)
	scannedCommitments := trace.ScanCommitments(req.Text)
	catalogText, _ := o.registry.CatalogText()

	var (
		currentPlan          *plan.Plan
		results              plan.StepResults
		state                = StatePlanning
		validationReplans    = 0
		executionReplans     = 0
		lastFailedStepID     int
		lastIssues           []string
	)

	finish := func(out *Outcome) {
		tr.Freeze()
		capture <- out
	}

	for {
		if ctx.Err() != nil {
			finish(&Outcome{Status: "cancelled"})
			return
		}

		switch state {
		case StatePlanning:
			o.emitStatus(ctx, req, "planning")
			out, err := o.planner.Plan(ctx, req.Text, catalogText, tr.Summarize(), req.RecentSummary)
			if err != nil {
				o.emitErrorAndFinish(ctx, req, tr, finish, errs.FromError(err))
				return
			}
			commitments := trace.MergeCommitments(out.Commitments, scannedCommitments)
			id := tr.AddEntry(trace.StagePlanning, "planner produced a candidate plan", "", nil, commitments, nil)
			tr.UpdateEntry(id, trace.OutcomeSuccess, nil, nil, nil)
			currentPlan = out.Plan
			state = StateValidating

		case StateValidating:
			o.emitStatus(ctx, req, "validating")
			validated, repairs, err := plan.Validate(currentPlan, o.registry, req.Text)
			if err != nil {
				if validationReplans >= maxValidationReplans {
					o.emitErrorAndFinish(ctx, req, tr, finish, errs.Wrap(errs.PlanStructuralInvalid, "validator rejected the plan and the replan budget is exhausted", err))
					return
				}
				validationReplans++
				out, rerr := o.replanner.Replan(ctx, currentPlan, 0, []string{"validator: " + err.Error()}, nil, catalogText, validationReplans)
				if rerr != nil {
					o.emitErrorAndFinish(ctx, req, tr, finish, errs.FromError(rerr))
					return
				}
				currentPlan = out.Plan
				continue
			}
			currentPlan = validated
			for _, r := range repairs {
				tr.AddEntry(trace.StageCorrection, string(r.Kind)+": "+r.Detail, "", nil, nil, nil)
			}
			o.sink.Send(ctx, stream.PlanReady{Base: o.base(stream.EventPlanReady, req), Goal: currentPlan.Goal, Steps: planStepRefs(currentPlan)})
			state = StateExecuting

		case StateExecuting:
			o.emitStatus(ctx, req, "executing")
			r, err := o.executor.Run(ctx, currentPlan, tr, executor.RunContext{SessionID: req.SessionID, InteractionID: req.InteractionID, RunID: req.InteractionID})
			if err != nil {
				o.emitErrorAndFinish(ctx, req, tr, finish, errs.Wrap(errs.Unrecoverable, "executor could not schedule the plan", err))
				return
			}
			results = r
			state = StateVerifying

		case StateVerifying:
			o.emitStatus(ctx, req, "verifying")
			failedStepID, issues := o.verifyAll(ctx, currentPlan, results, tr, req.Text)
			if failedStepID == 0 {
				state = StateFinalizing
				continue
			}
			if executionReplans >= o.replanner.MaxRetries() {
				tr.AddEntry(trace.StageCorrection, fmt.Sprintf("reflection budget exhausted after step %d failed", failedStepID), "", nil, nil, issues)
				state = StateFinalizing
				continue
			}
			lastFailedStepID, lastIssues = failedStepID, issues
			state = StateReplanning

		case StateReplanning:
			o.emitStatus(ctx, req, "replanning")
			executionReplans++
			corrections := append(append([]string(nil), tr.Summarize().RecentCorrections...), lastIssues...)
			out, err := o.replanner.Replan(ctx, currentPlan, lastFailedStepID, corrections, lastIssues, catalogText, executionReplans)
			if err != nil {
				tr.AddEntry(trace.StageCorrection, "replanner could not recover: "+err.Error(), "", nil, nil, nil)
				state = StateFinalizing
				continue
			}
			currentPlan = out.Plan
			state = StateValidating

		case StateFinalizing:
			o.emitStatus(ctx, req, "finalizing")
			result, err := o.finalizer.Finalize(ctx, currentPlan, results, tr, o.registry)
			if err != nil {
				finish(&Outcome{Status: "error", ErrorKind: errs.Unrecoverable, ErrorMessage: err.Error()})
				return
			}
			o.sink.Send(ctx, stream.Reply{
				Base:        o.base(stream.EventReply, req),
				Message:     result.Reply.Message,
				Details:     result.Reply.Details,
				Attachments: fileRefPaths(result.Reply.Attachments),
			})
			finish(&Outcome{Status: string(result.Status), Reply: result.Reply, Commitments: result.Commitments})
			return
		}
	}
}

// verifyAll runs the Step Verifier over every verifiable step in p (default
// policy: steps tagged "delivery" or "produces_file", spec §4.7) plus the
// email-composition special case for steps that declare the send_email
// commitment. It returns the id of the first step whose verdict is "fail",
// or 0 if none failed.
func (o *Orchestrator) verifyAll(ctx context.Context, p *plan.Plan, results plan.StepResults, tr *trace.Trace, userRequest string) (int, []string) {
	inventory := tr.Summarize().AttachmentInventory
	for _, s := range p.Steps {
		result := results[s.ID]
		if result == nil || result.Status != plan.StatusSuccess {
			continue
		}
		if !o.isVerifiable(s.Action) {
			continue
		}

		res, err := o.verifier.Verify(ctx, s, result, userRequest)
		if err != nil {
			o.logger.Warn(ctx, "orchestrator: verifier call failed, treating as warn", "step_id", s.ID, "error", err.Error())
			continue
		}

		if sendsEmail(o.registry.Commitments(s.Action)) {
			if body, ok := result.Value["body"].(string); ok {
				emailRes := verifier.CheckEmailComposition(body, asAnySlice(result.Value["attachments"]), inventory)
				if emailRes.Verdict != verifier.VerdictOK {
					res.Issues = append(res.Issues, emailRes.Issues...)
					if res.Verdict == verifier.VerdictOK {
						res.Verdict = emailRes.Verdict
					}
					o.applySuggestedParameters(s, result, emailRes.SuggestedParameters)
				}
			}
		}

		id := tr.AddEntry(trace.StageVerification, fmt.Sprintf("verifier verdict %s for step %d", res.Verdict, s.ID), s.Action, nil, nil, res.Issues)
		outcome := trace.OutcomeSuccess
		if res.Verdict == verifier.VerdictFail {
			outcome = trace.OutcomeFailed
		} else if res.Verdict == verifier.VerdictWarn {
			outcome = trace.OutcomePartial
		}
		tr.UpdateEntry(id, outcome, nil, nil, nil)

		if res.Verdict == verifier.VerdictFail {
			return s.ID, res.Issues
		}
	}
	return 0, nil
}

// applySuggestedParameters wires a verifier's additive suggestion onto both
// the plan (so a later replan/continuation reuses the corrected
// parameters) and the already-published StepResult (so Finalization's
// commitment check and the persisted attachments reflect the fix), per
// spec §4.7: "the executor merges suggestions only for additive fields ...
// never empties attachments."
func (o *Orchestrator) applySuggestedParameters(s *plan.Step, result *plan.StepResult, suggested map[string]any) {
	if len(suggested) == 0 {
		return
	}
	s.Parameters = executor.MergeSuggestedParameters(s.Parameters, suggested)

	attachments, ok := suggested["attachments"].([]any)
	if !ok {
		return
	}
	existing := make(map[string]bool, len(result.Attachments))
	for _, a := range result.Attachments {
		existing[a.Path] = true
	}
	for _, a := range attachments {
		path, ok := a.(string)
		if !ok || path == "" || existing[path] {
			continue
		}
		result.Attachments = append(result.Attachments, plan.FileRef{Path: path, Kind: "file"})
		existing[path] = true
	}
}

func (o *Orchestrator) isVerifiable(action string) bool {
	for _, t := range o.registry.Tags(action) {
		if t == "delivery" || t == "produces_file" {
			return true
		}
	}
	return false
}

func sendsEmail(tags []trace.CommitmentTag) bool {
	for _, t := range tags {
		if t == trace.CommitSendEmail {
			return true
		}
	}
	return false
}

func asAnySlice(v any) []any {
	s, _ := v.([]any)
	return s
}

func (o *Orchestrator) emitStatus(ctx context.Context, req Request, phase string) {
	o.sink.Send(ctx, stream.Status{Base: o.base(stream.EventStatus, req), Phase: phase})
}

func (o *Orchestrator) emitErrorAndFinish(ctx context.Context, req Request, tr *trace.Trace, finish func(*Outcome), kerr *errs.KernelError) {
	o.sink.Send(ctx, stream.Error{Base: o.base(stream.EventError, req), Kind: string(kerr.Kind), Message: kerr.Error()})
	finish(&Outcome{Status: "error", ErrorKind: kerr.Kind, ErrorMessage: kerr.Error()})
}

func (o *Orchestrator) base(t stream.EventType, req Request) stream.Base {
	return stream.Base{EventType: t, SessionID: req.SessionID, InteractionID: req.InteractionID}
}

func planStepRefs(p *plan.Plan) []stream.PlanStepRef {
	out := make([]stream.PlanStepRef, len(p.Steps))
	for i, s := range p.Steps {
		out[i] = stream.PlanStepRef{ID: s.ID, Action: s.Action}
	}
	return out
}

func fileRefPaths(refs []plan.FileRef) []string {
	out := make([]string, len(refs))
	for i, r := range refs {
		out[i] = r.Path
	}
	return out
}
