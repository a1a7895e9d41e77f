// Package verifier implements the Step Verifier (C7): a post-hoc LLM check
// of a step's actual result against its declared expected_output, shaped as
// a single structured-JSON call in the same text-in/structured-JSON-out
// style as the Planner (spec §4.7), grounded on the teacher's
// reminder-injection decision point in
// runtime/agent/runtime/tool_result_reminders.go (a tool result is
// inspected and, if it signals a problem, feeds guidance back into the
// loop) generalized from a template-rendered reminder into an explicit
// verdict contract.
package verifier

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/fieldnote-ai/homeagent/internal/model"
	"github.com/fieldnote-ai/homeagent/internal/plan"
	"github.com/fieldnote-ai/homeagent/internal/telemetry"
)

// Verdict is the closed outcome set of a verification (spec §4.7).
type Verdict string

const (
	VerdictOK   Verdict = "ok"
	VerdictWarn Verdict = "warn"
	VerdictFail Verdict = "fail"
)

// Result is the Verifier's output contract.
type Result struct {
	Verdict             Verdict        `json:"verdict"`
	Issues              []string       `json:"issues"`
	SuggestedParameters map[string]any `json:"suggested_parameters,omitempty"`
}

// Verifier checks a single step's actual StepResult against what the
// planner expected of it.
type Verifier struct {
	client model.Client
	logger telemetry.Logger
}

// Option configures a Verifier.
type Option func(*Verifier)

func WithLogger(l telemetry.Logger) Option { return func(v *Verifier) { v.logger = l } }

// New constructs a Verifier calling client for judgement.
func New(client model.Client, opts ...Option) *Verifier {
	v := &Verifier{client: client, logger: telemetry.NewNoopLogger()}
	for _, o := range opts {
		o(v)
	}
	return v
}

const verifierRules = `You check whether a single automation step actually accomplished what it
was meant to. You are given the step's action, its stated expected_output,
the user's original request, and the step's actual result. Respond with
JSON only, exactly:

{
  "verdict": "ok" | "warn" | "fail",
  "issues": ["<short description of each problem found, empty if none>"],
  "suggested_parameters": { "<param name>": <value> }
}

Use "fail" only when the step's side effect clearly did not happen or
actively contradicts the request. Use "warn" for minor mismatches worth
recording but not worth re-running. suggested_parameters should only ever
ADD or correct fields (never suggest removing one), and must never suggest
an empty attachments list when the actual result already has attachments.`

// Verify asks the model to judge step's actual result against its declared
// expected_output (spec §4.7). Verifiable steps are those whose descriptor
// or plan marks them for verification; callers decide that upstream
// (default policy: any step producing a user-visible artifact or affecting
// the outside world).
func (v *Verifier) Verify(ctx context.Context, step *plan.Step, result *plan.StepResult, userRequest string) (*Result, error) {
	user := fmt.Sprintf(
		"User request: %s\n\nStep action: %s\nExpected output: %s\nActual result status: %s\nActual result value: %s",
		userRequest, step.Action, step.ExpectedOutput, result.Status, stringifyValue(result.Value),
	)
	if result.ErrorMessage != "" {
		user += "\nError: " + result.ErrorMessage
	}

	resp, err := v.client.Complete(ctx, model.Request{
		Messages: []model.Message{
			{Role: "system", Content: verifierRules},
			{Role: "user", Content: user},
		},
		JSONMode: true,
	})
	if err != nil {
		return nil, fmt.Errorf("verifier: model call failed: %w", err)
	}

	res, perr := parseResult(resp.Text)
	if perr != nil {
		v.logger.Warn(ctx, "verifier: unparseable verdict, defaulting to warn", "step_id", step.ID, "error", perr.Error())
		return &Result{Verdict: VerdictWarn, Issues: []string{"verifier output was not parseable: " + perr.Error()}}, nil
	}
	return res, nil
}

func parseResult(text string) (*Result, error) {
	text = extractJSONObject(text)
	var r Result
	if err := json.Unmarshal([]byte(text), &r); err != nil {
		return nil, err
	}
	switch r.Verdict {
	case VerdictOK, VerdictWarn, VerdictFail:
	default:
		return nil, fmt.Errorf("verifier: unrecognized verdict %q", r.Verdict)
	}
	return &r, nil
}

func extractJSONObject(text string) string {
	start := strings.IndexByte(text, '{')
	end := strings.LastIndexByte(text, '}')
	if start == -1 || end == -1 || end < start {
		return text
	}
	return text[start : end+1]
}

func stringifyValue(value map[string]any) string {
	b, err := json.Marshal(value)
	if err != nil {
		return fmt.Sprintf("%v", value)
	}
	return string(b)
}
