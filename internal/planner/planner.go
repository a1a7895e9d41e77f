package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/fieldnote-ai/homeagent/internal/errs"
	"github.com/fieldnote-ai/homeagent/internal/model"
	"github.com/fieldnote-ai/homeagent/internal/plan"
	"github.com/fieldnote-ai/homeagent/internal/telemetry"
	"github.com/fieldnote-ai/homeagent/internal/tools"
	"github.com/fieldnote-ai/homeagent/internal/trace"
)

// Planner turns a user request, the tool catalog, and trace context into a
// Plan via a single LLM call (spec §4.5). It is stateless: session state
// lives in trace.Summary and the recent-interactions slice passed in.
type Planner struct {
	client           model.Client
	corpus           []Exemplar
	exemplarBudget   int
	maxParseRetries  int
	logger           telemetry.Logger
}

// Option configures a Planner.
type Option func(*Planner)

// WithExemplarCorpus sets the indexed few-shot corpus to select from.
func WithExemplarCorpus(corpus []Exemplar) Option {
	return func(p *Planner) { p.corpus = corpus }
}

// WithExemplarBudget sets the token budget for exemplar selection (config
// key planner.exemplar_token_budget, default ~2000 per spec §4.5).
func WithExemplarBudget(budget int) Option {
	return func(p *Planner) { p.exemplarBudget = budget }
}

// WithMaxParseRetries sets the bounded retry count for unparseable output
// (config key planner.max_parse_retries).
func WithMaxParseRetries(n int) Option {
	return func(p *Planner) { p.maxParseRetries = n }
}

// WithLogger sets the planner's logger.
func WithLogger(l telemetry.Logger) Option {
	return func(p *Planner) { p.logger = l }
}

// New constructs a Planner calling client for reasoning.
func New(client model.Client, opts ...Option) *Planner {
	p := &Planner{
		client:          client,
		exemplarBudget:  2000,
		maxParseRetries: 2,
		logger:          telemetry.NewNoopLogger(),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Output is the Planner's result: the structural Plan plus the model's
// candidate commitment tags, the LLM side of spec §4.3's commitment
// detection cross-check (the caller unions these with trace.ScanCommitments
// over the same user request).
type Output struct {
	Plan        *plan.Plan
	Commitments []trace.CommitmentTag
}

// rawPlan mirrors the JSON shape the model is instructed to emit, decoded
// before conversion into plan.Plan's stricter types.
type rawPlan struct {
	Goal        string   `json:"goal"`
	Commitments []string `json:"commitments"`
	Steps       []struct {
		ID             int            `json:"id"`
		Action         string         `json:"action"`
		Parameters     map[string]any `json:"parameters"`
		Dependencies   []int          `json:"dependencies"`
		Reasoning      string         `json:"reasoning"`
		ExpectedOutput string         `json:"expected_output"`
	} `json:"steps"`
}

// Plan produces a Plan for userRequest. catalogText is the cached catalog
// rendering from tools.Registry.CatalogText. recentSummary is a short
// digest of recent interactions in this session.
func (p *Planner) Plan(ctx context.Context, userRequest, catalogText string, traceSummary trace.Summary, recentSummary string) (*Output, error) {
	class := Classify(userRequest)
	exemplars := SelectExemplars(p.corpus, class, p.exemplarBudget)

	prompt := Prompt{
		CoreRules:     coreRules,
		CatalogText:   catalogText,
		Exemplars:     exemplars,
		TraceDigest:   summarizeTrace(traceSummary),
		RecentSummary: recentSummary,
		UserRequest:   userRequest,
	}

	var lastErr error
	for attempt := 0; attempt <= p.maxParseRetries; attempt++ {
		system, user := prompt.Render()
		resp, err := p.client.Complete(ctx, model.Request{
			Messages: []model.Message{
				{Role: "system", Content: system},
				{Role: "user", Content: user},
			},
			JSONMode: true,
		})
		if err != nil {
			return nil, errs.Wrap(errs.PlannerUnparseable, "planner: model call failed", err)
		}

		parsed, perr := parsePlan(resp.Text)
		if perr == nil {
			return parsed, nil
		}
		lastErr = perr
		p.logger.Warn(ctx, "planner: unparseable plan output, retrying", "attempt", attempt, "error", perr.Error())
		prompt.ParseError = perr.Error()
	}

	return nil, errs.Wrap(errs.PlannerUnparseable, "planner: exceeded max parse retries", lastErr)
}

func parsePlan(text string) (*Output, error) {
	text = extractJSONObject(text)
	var raw rawPlan
	if err := json.Unmarshal([]byte(text), &raw); err != nil {
		return nil, fmt.Errorf("planner: invalid JSON: %w", err)
	}
	if raw.Goal == "" || len(raw.Steps) == 0 {
		return nil, fmt.Errorf("planner: plan missing goal or steps")
	}

	out := &plan.Plan{Goal: raw.Goal}
	for _, s := range raw.Steps {
		if s.Action == "" {
			return nil, fmt.Errorf("planner: step %d has no action", s.ID)
		}
		out.Steps = append(out.Steps, &plan.Step{
			ID:             s.ID,
			Action:         s.Action,
			Parameters:     s.Parameters,
			Dependencies:   s.Dependencies,
			Reasoning:      s.Reasoning,
			ExpectedOutput: s.ExpectedOutput,
		})
	}

	var commitments []trace.CommitmentTag
	for _, c := range raw.Commitments {
		tag := trace.CommitmentTag(c)
		if validCommitmentTag(tag) {
			commitments = append(commitments, tag)
		}
	}
	return &Output{Plan: out, Commitments: commitments}, nil
}

func validCommitmentTag(tag trace.CommitmentTag) bool {
	for _, t := range trace.AllCommitmentTags {
		if t == tag {
			return true
		}
	}
	return false
}

// extractJSONObject trims leading/trailing prose the model might emit
// despite instructions, by locating the outermost { ... } span.
func extractJSONObject(text string) string {
	start := strings.IndexByte(text, '{')
	end := strings.LastIndexByte(text, '}')
	if start == -1 || end == -1 || end < start {
		return text
	}
	return text[start : end+1]
}

func summarizeTrace(s trace.Summary) string {
	if len(s.Commitments) == 0 && s.PastAttempts == 0 && len(s.RecentCorrections) == 0 {
		return ""
	}
	var b strings.Builder
	fmt.Fprintf(&b, "past_attempts=%d", s.PastAttempts)
	if len(s.Commitments) > 0 {
		fmt.Fprintf(&b, " commitments=%v", s.Commitments)
	}
	if len(s.RecentCorrections) > 0 {
		fmt.Fprintf(&b, " corrections=%v", s.RecentCorrections)
	}
	return b.String()
}

// CatalogFromRegistry is a small helper so callers don't need to import
// tools in addition to planner just to render the cached catalog text.
func CatalogFromRegistry(r *tools.Registry) string {
	text, _ := r.CatalogText()
	return text
}
