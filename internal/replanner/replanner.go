// Package replanner implements Reflection / Replanning (C8): on step
// failure, verifier fail, or a post-finalization commitment-unfulfilled
// detection, it asks the model to either extend the existing plan with a
// continuation or produce a full replacement plan, reusing the
// text-in/structured-JSON-out call shape the Planner uses (spec §4.8). It
// is grounded on the teacher's retry-hint/runtime-policy decision points in
// runtime/agent/runtime/workflow_policy.go (a bounded, policy-driven
// decision about whether and how to keep going after a setback),
// generalized from tool-call filtering to plan-level continuation/replace.
package replanner

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/fieldnote-ai/homeagent/internal/errs"
	"github.com/fieldnote-ai/homeagent/internal/model"
	"github.com/fieldnote-ai/homeagent/internal/plan"
	"github.com/fieldnote-ai/homeagent/internal/telemetry"
)

// Mode identifies which of the two replanner outputs was produced.
type Mode string

const (
	ModeContinuation Mode = "continuation"
	ModeFullReplan   Mode = "full_replan"
)

// Outcome is the Replanner's result: either a continuation (new steps to
// append) or a full replacement plan requiring re-validation.
type Outcome struct {
	Mode Mode
	Plan *plan.Plan
}

// Replanner produces continuation/replacement plans, bounded by a per-
// interaction retry count (config key reflector.max_retries, default 2).
type Replanner struct {
	client     model.Client
	maxRetries int
	logger     telemetry.Logger
}

// Option configures a Replanner.
type Option func(*Replanner)

func WithMaxRetries(n int) Option          { return func(r *Replanner) { r.maxRetries = n } }
func WithLogger(l telemetry.Logger) Option { return func(r *Replanner) { r.logger = l } }

// New constructs a Replanner calling client for reflection.
func New(client model.Client, opts ...Option) *Replanner {
	r := &Replanner{client: client, maxRetries: 2, logger: telemetry.NewNoopLogger()}
	for _, o := range opts {
		o(r)
	}
	return r
}

// MaxRetries returns the configured bound, for the orchestrator's own
// attempt counter.
func (r *Replanner) MaxRetries() int { return r.maxRetries }

const replannerRules = `A step in an automation plan failed, or a verifier flagged a problem, or a
commitment was left unfulfilled. You must decide how to recover. Respond
with JSON only, exactly:

{
  "mode": "continuation" | "full_replan",
  "goal": "<restated goal, unchanged for continuation>",
  "steps": [
    {
      "id": <integer>,
      "action": "<tool name from the catalog>",
      "parameters": { ... },
      "dependencies": [<step ids>],
      "reasoning": "<why>",
      "expected_output": "<what this step should produce>"
    }
  ]
}

For "continuation": steps must have ids strictly greater than the existing
plan's highest id, and every dependency must point into an id that already
exists in the plan or into one of the new steps, never forward. Only list
the NEW steps, not the existing ones.

For "full_replan": steps is the complete replacement plan from scratch,
renumbered starting at 1, including a terminal reply step last.

Prefer "continuation" whenever the existing plan's completed work is still
valid and only the failed tail needs fixing. Use "full_replan" only when the
approach itself was wrong.`

// Replan asks the model to recover from a failure against p (the plan in
// flight). attempt is the caller's 1-based reflection counter for this
// interaction; once it exceeds MaxRetries, Replan returns an
// errs.Unrecoverable error without calling the model (spec §4.8: "exceeding
// it surfaces error_kind=unrecoverable").
func (r *Replanner) Replan(ctx context.Context, p *plan.Plan, failedStepID int, corrections []string, verifierIssues []string, catalogText string, attempt int) (*Outcome, error) {
	if attempt > r.maxRetries {
		return nil, errs.New(errs.Unrecoverable, fmt.Sprintf("replanner: exceeded max retries (%d)", r.maxRetries))
	}

	user := r.render(p, failedStepID, corrections, verifierIssues, catalogText)
	resp, err := r.client.Complete(ctx, model.Request{
		Messages: []model.Message{
			{Role: "system", Content: replannerRules + "\n\nAvailable tools:\n" + catalogText},
			{Role: "user", Content: user},
		},
		JSONMode: true,
	})
	if err != nil {
		return nil, errs.Wrap(errs.Unrecoverable, "replanner: model call failed", err)
	}

	out, perr := parseOutcome(resp.Text, p)
	if perr != nil {
		return nil, errs.Wrap(errs.Unrecoverable, "replanner: unparseable reflection output", perr)
	}
	return out, nil
}

func (r *Replanner) render(p *plan.Plan, failedStepID int, corrections, verifierIssues []string, catalogText string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Goal: %s\n", p.Goal)
	if failedStepID > 0 {
		fmt.Fprintf(&b, "Failed step id: %d\n", failedStepID)
	} else {
		fmt.Fprintln(&b, "No single step failed; the plan itself was rejected structurally (see corrections).")
	}
	planJSON, _ := json.Marshal(p)
	fmt.Fprintf(&b, "Current plan:\n%s\n", string(planJSON))
	if len(corrections) > 0 {
		fmt.Fprintf(&b, "Trace corrections so far: %s\n", strings.Join(corrections, "; "))
	}
	if len(verifierIssues) > 0 {
		fmt.Fprintf(&b, "Verifier issues: %s\n", strings.Join(verifierIssues, "; "))
	}
	return b.String()
}

type rawOutcome struct {
	Mode  Mode   `json:"mode"`
	Goal  string `json:"goal"`
	Steps []struct {
		ID             int            `json:"id"`
		Action         string         `json:"action"`
		Parameters     map[string]any `json:"parameters"`
		Dependencies   []int          `json:"dependencies"`
		Reasoning      string         `json:"reasoning"`
		ExpectedOutput string         `json:"expected_output"`
	} `json:"steps"`
}

func parseOutcome(text string, current *plan.Plan) (*Outcome, error) {
	text = extractJSONObject(text)
	var raw rawOutcome
	if err := json.Unmarshal([]byte(text), &raw); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}
	if raw.Mode != ModeContinuation && raw.Mode != ModeFullReplan {
		return nil, fmt.Errorf("unrecognized mode %q", raw.Mode)
	}
	if len(raw.Steps) == 0 {
		return nil, fmt.Errorf("reflection produced no steps")
	}

	var steps []*plan.Step
	for _, s := range raw.Steps {
		if s.Action == "" {
			return nil, fmt.Errorf("step %d has no action", s.ID)
		}
		steps = append(steps, &plan.Step{
			ID:             s.ID,
			Action:         s.Action,
			Parameters:     s.Parameters,
			Dependencies:   s.Dependencies,
			Reasoning:      s.Reasoning,
			ExpectedOutput: s.ExpectedOutput,
		})
	}

	switch raw.Mode {
	case ModeFullReplan:
		return &Outcome{Mode: ModeFullReplan, Plan: &plan.Plan{Goal: raw.Goal, Steps: steps}}, nil
	default:
		maxID := current.MaxID()
		merged := &plan.Plan{Goal: current.Goal}
		merged.Steps = append(merged.Steps, current.Steps...)
		for _, s := range steps {
			if s.ID <= maxID {
				return nil, fmt.Errorf("continuation step id %d must exceed existing max id %d", s.ID, maxID)
			}
			merged.Steps = append(merged.Steps, s)
		}
		return &Outcome{Mode: ModeContinuation, Plan: merged}, nil
	}
}

func extractJSONObject(text string) string {
	start := strings.IndexByte(text, '{')
	end := strings.LastIndexByte(text, '}')
	if start == -1 || end == -1 || end < start {
		return text
	}
	return text[start : end+1]
}
