// Package executor implements the Step Executor (C6): DAG-scheduled tool
// invocation over topological generations, with a single dispatcher
// goroutine as the sole mutator of the step-id -> StepResult map and one
// worker goroutine per ready step, grounded on the teacher's
// dispatcher-owns-map pattern in runtime/agent/runtime/tool_calls.go and
// engine/inmem/engine.go's future/handle goroutine split (spec §4.6, §5).
package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/fieldnote-ai/homeagent/internal/plan"
	"github.com/fieldnote-ai/homeagent/internal/ratelimit"
	"github.com/fieldnote-ai/homeagent/internal/stream"
	"github.com/fieldnote-ai/homeagent/internal/telemetry"
	"github.com/fieldnote-ai/homeagent/internal/template"
	"github.com/fieldnote-ai/homeagent/internal/tools"
	"github.com/fieldnote-ai/homeagent/internal/trace"
)

// Config tunes the scheduler (config keys executor.max_parallel_steps,
// executor.step_timeout_default, executor.notify_on_repair). NotifyOnRepair
// is carried here from the config file; the executor does not read it.
type Config struct {
	MaxParallelSteps   int
	StepTimeoutDefault time.Duration
	NotifyOnRepair     bool
}

// Executor runs a validated Plan to completion.
type Executor struct {
	registry *tools.Registry
	limiter  *ratelimit.Limiter
	sink     stream.Sink
	cfg      Config
	logger   telemetry.Logger
	tracer   telemetry.Tracer
	metrics  telemetry.Metrics
}

// Option configures an Executor.
type Option func(*Executor)

func WithRateLimiter(l *ratelimit.Limiter) Option { return func(e *Executor) { e.limiter = l } }
func WithSink(s stream.Sink) Option               { return func(e *Executor) { e.sink = s } }
func WithLogger(l telemetry.Logger) Option         { return func(e *Executor) { e.logger = l } }
func WithTracer(t telemetry.Tracer) Option         { return func(e *Executor) { e.tracer = t } }
func WithMetrics(m telemetry.Metrics) Option       { return func(e *Executor) { e.metrics = m } }

// New constructs an Executor bound to registry.
func New(registry *tools.Registry, cfg Config, opts ...Option) *Executor {
	if cfg.MaxParallelSteps <= 0 {
		cfg.MaxParallelSteps = 4
	}
	if cfg.StepTimeoutDefault <= 0 {
		cfg.StepTimeoutDefault = 30 * time.Second
	}
	e := &Executor{
		registry: registry,
		sink:     stream.NoopSink{},
		cfg:      cfg,
		logger:   telemetry.NewNoopLogger(),
		tracer:   telemetry.NewNoopTracer(),
		metrics:  telemetry.NewNoopMetrics(),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// RunContext identifies the interaction an execution belongs to, for
// trace entries and outbound events.
type RunContext struct {
	SessionID     string
	InteractionID string
	RunID         string
}

type stepOutcome struct {
	id     int
	result *plan.StepResult
}

// Run schedules p's steps over topological generations and executes each to
// completion, returning the published StepResults. Run itself never returns
// a non-nil error for step-level failures: those are recorded as data on
// individual StepResults (spec §7 "errors are data"). A non-nil error here
// means the plan could not be scheduled at all (e.g. a cycle slipped past
// validation).
func (e *Executor) Run(ctx context.Context, p *plan.Plan, tr *trace.Trace, rc RunContext) (plan.StepResults, error) {
	generations, err := plan.Toposort(p)
	if err != nil {
		return nil, fmt.Errorf("executor: cannot schedule plan: %w", err)
	}

	results := make(plan.StepResults, len(p.Steps))
	failed := make(map[int]bool)
	cancelled := ctx.Err() != nil

	for _, gen := range generations {
		if cancelled || ctx.Err() != nil {
			for _, id := range gen {
				results[id] = &plan.StepResult{Status: plan.StatusCancelled, ErrorKind: string(errKindCancelled)}
				e.emitStepComplete(ctx, rc, id, plan.StatusCancelled, "cancelled before start")
			}
			cancelled = true
			continue
		}

		var ready []int
		for _, id := range gen {
			step := p.ByID(id)
			if e.dependencyFailed(step, failed) {
				res := &plan.StepResult{
					Status:       plan.StatusSkipped,
					ErrorKind:    "dependency_failed",
					ErrorMessage: "a dependency of this step did not succeed",
				}
				results[id] = res
				failed[id] = true
				e.emitStepComplete(ctx, rc, id, res.Status, res.ErrorMessage)
				continue
			}
			ready = append(ready, id)
		}
		if len(ready) == 0 {
			continue
		}

		sem := make(chan struct{}, e.cfg.MaxParallelSteps)
		out := make(chan stepOutcome, len(ready))
		for _, id := range ready {
			step := p.ByID(id)

			// Resolve cross-step references here, in the dispatcher, while it
			// is still the map's sole reader and writer: every step in this
			// generation can only reference earlier generations, already
			// fully published to results, so resolving before the worker is
			// launched avoids handing a live, concurrently-mutated map to a
			// goroutine (spec §5: "reads by resolver ... under the
			// dispatcher's supervision").
			resolved, warnings := template.Resolve(step.Parameters, results)
			for _, w := range warnings {
				e.logger.Warn(ctx, "executor: template resolution defect", "step_id", step.ID, "kind", w.Kind, "detail", w.Detail)
			}
			params, ok := resolved.(map[string]any)
			if !ok {
				params = map[string]any{}
			}

			sem <- struct{}{}
			go func(step *plan.Step, params map[string]any) {
				defer func() { <-sem }()
				e.emitStepStart(ctx, rc, step)
				res := e.runStep(ctx, step, params, tr, rc)
				out <- stepOutcome{id: step.ID, result: res}
			}(step, params)
		}

		for range ready {
			o := <-out
			results[o.id] = o.result
			if o.result.Status != plan.StatusSuccess {
				failed[o.id] = true
			}
			e.emitStepComplete(ctx, rc, o.id, o.result.Status, summarizeResult(o.result))
		}
	}

	status := "success"
	if cancelled {
		status = "cancelled"
	} else if len(failed) > 0 {
		status = "failed"
	}
	e.sink.Send(ctx, stream.ExecutionComplete{
		Base:   eventBase(stream.EventExecutionComplete, rc),
		Status: status,
	})

	return results, nil
}

const errKindCancelled = "cancelled"

func (e *Executor) dependencyFailed(step *plan.Step, failed map[int]bool) bool {
	for _, dep := range step.Dependencies {
		if failed[dep] {
			return true
		}
	}
	return false
}

// runStep performs the single-step lifecycle of spec §4.6 step 3: inject
// reasoning context -> record pending trace entry -> invoke -> extract
// attachments -> update trace -> return the StepResult for publication by
// the dispatcher. params is already resolved against prior results by the
// dispatcher before this function runs in its own goroutine.
func (e *Executor) runStep(ctx context.Context, step *plan.Step, params map[string]any, tr *trace.Trace, rc RunContext) *plan.StepResult {
	descriptor, _ := e.registry.Descriptor(tools.Ident(step.Action))

	var reasoningCtx *tools.ReasoningContext
	if descriptor.MemoryEnabled && tr != nil {
		summary := tr.Summarize()
		reasoningCtx = &tools.ReasoningContext{
			PastAttempts:   summary.PastAttempts,
			Commitments:    summary.Commitments,
			TraceAvailable: true,
		}
		params[tools.ReasoningContextParam] = reasoningCtx
	}

	var entryID string
	if tr != nil {
		entryID = tr.AddEntry(trace.StageExecution, step.Reasoning, step.Action, params, nil, nil)
	}

	if e.limiter != nil {
		if err := e.limiter.Wait(ctx, step.Action); err != nil {
			res := &plan.StepResult{Status: plan.StatusError, ErrorKind: "cancelled", ErrorMessage: err.Error()}
			e.updateTrace(tr, entryID, trace.OutcomeFailed, res)
			return res
		}
	}

	timeout := e.cfg.StepTimeoutDefault
	if descriptor.Timeout > 0 {
		timeout = time.Duration(descriptor.Timeout) * time.Second
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result, err := e.registry.Invoke(callCtx, tools.Ident(step.Action), params, tools.CallContext{
		SessionID:        rc.SessionID,
		RunID:            rc.RunID,
		StepID:           step.ID,
		ReasoningContext: reasoningCtx,
	})
	if err != nil {
		result = &plan.StepResult{Status: plan.StatusError, ErrorKind: "tool_invocation_error", ErrorMessage: err.Error()}
	}
	if result == nil {
		result = &plan.StepResult{Status: plan.StatusError, ErrorKind: "tool_invocation_error", ErrorMessage: "tool returned no result"}
	}
	if callCtx.Err() == context.DeadlineExceeded {
		result = &plan.StepResult{Status: plan.StatusError, ErrorKind: "tool_timeout", ErrorMessage: fmt.Sprintf("step %d exceeded %s timeout", step.ID, timeout)}
	}

	if result.Status == plan.StatusError && result.RetryAfterSeconds > 0 && e.limiter != nil {
		e.limiter.ApplyRetryAfter(step.Action, result.RetryAfterSeconds)
	}

	result.Attachments = append(result.Attachments, extractAttachments(result.Value)...)

	outcome := trace.OutcomeSuccess
	if result.Status != plan.StatusSuccess {
		outcome = trace.OutcomeFailed
	}
	e.updateTrace(tr, entryID, outcome, result)

	return result
}

func (e *Executor) updateTrace(tr *trace.Trace, entryID string, outcome trace.Outcome, result *plan.StepResult) {
	if tr == nil || entryID == "" {
		return
	}
	var evidence []string
	if result.ErrorMessage != "" {
		evidence = append(evidence, result.ErrorMessage)
	}
	tr.UpdateEntry(entryID, outcome, result.Attachments, evidence, nil)
}

// attachmentFields lists the known scalar file-path fields the executor
// inspects on every StepResult.Value (spec §4.6 step 3e).
var attachmentFields = map[string]string{
	"file_path":    "file",
	"keynote_path": "keynote",
	"pages_path":   "pages",
	"report_path":  "report",
}

func extractAttachments(value map[string]any) []plan.FileRef {
	var out []plan.FileRef
	for field, kind := range attachmentFields {
		if s, ok := value[field].(string); ok && s != "" {
			out = append(out, plan.FileRef{Path: s, Kind: kind})
		}
	}
	if items, ok := value["file_list"].([]any); ok {
		for _, item := range items {
			m, ok := item.(map[string]any)
			if !ok {
				continue
			}
			if s, ok := m["path"].(string); ok && s != "" {
				out = append(out, plan.FileRef{Path: s, Kind: "file"})
			}
		}
	}
	// A delivery tool (e.g. compose_email) that merely relays the attachment
	// paths it was given reports them as a flat string list rather than one
	// of the producer-style fields above.
	if items, ok := value["attachments"].([]any); ok {
		for _, item := range items {
			if s, ok := item.(string); ok && s != "" {
				out = append(out, plan.FileRef{Path: s, Kind: "file"})
			}
		}
	}
	return out
}

func summarizeResult(r *plan.StepResult) string {
	if r.Status == plan.StatusSuccess {
		return "completed successfully"
	}
	if r.ErrorMessage != "" {
		return r.ErrorMessage
	}
	return string(r.Status)
}

func eventBase(t stream.EventType, rc RunContext) stream.Base {
	return stream.Base{EventType: t, SessionID: rc.SessionID, InteractionID: rc.InteractionID}
}

func (e *Executor) emitStepStart(ctx context.Context, rc RunContext, step *plan.Step) {
	e.sink.Send(ctx, stream.StepStart{
		Base:   eventBase(stream.EventStepStart, rc),
		StepID: step.ID,
		Action: step.Action,
	})
}

func (e *Executor) emitStepComplete(ctx context.Context, rc RunContext, stepID int, status plan.Status, summary string) {
	e.sink.Send(ctx, stream.StepComplete{
		Base:    eventBase(stream.EventStepComplete, rc),
		StepID:  stepID,
		Status:  string(status),
		Summary: summary,
	})
}
