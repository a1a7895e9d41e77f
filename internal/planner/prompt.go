// Package planner implements the Planner (C5): a pure function of
// (user_request, tool_catalog, trace_summary, session_recent_interactions)
// that produces a Plan as structured JSON via a single LLM call, with
// bounded retry on malformed output (spec §4.5).
package planner

// coreRules is always included in the assembled prompt, ahead of the
// catalog, exemplars, and trace digest (spec §4.5).
const coreRules = `You are the planning stage of a personal-automation agent.
Given a user request, a catalog of available tools, a summary of the
current reasoning trace, and recent interactions from this session, produce
a JSON plan with this exact shape:

{
  "goal": "<one-line statement of what the plan accomplishes>",
  "commitments": ["<zero or more of: send_email, attach_documents, play_music, post_social, create_document, schedule_event>"],
  "steps": [
    {
      "id": <positive integer, unique>,
      "action": "<tool name from the catalog>",
      "parameters": { ... },
      "dependencies": [<step ids that must succeed first>],
      "reasoning": "<why this step>",
      "expected_output": "<what this step should produce>"
    }
  ]
}

Rules:
- Step ids must be unique positive integers.
- Every dependency id must name a step that appears earlier in the plan.
- Reference a prior step's result with "$step<N>.<path>" or "{$step<N>.<path>}".
- The last step must be the terminal reply step that responds to the user.
- "commitments" lists every observable side effect the plan promises the user, drawn only from the closed tag set above; list none if the plan makes no such promise.
- Respond with JSON only. No prose before or after the JSON object.`

// Prompt assembles the full message set sent to the model.
type Prompt struct {
	CoreRules      string
	CatalogText    string
	Exemplars      []Exemplar
	TraceDigest    string
	RecentSummary  string
	UserRequest    string
	ParseError     string // set on retry after an unparseable response
}

// Render flattens the prompt into a single system/user turn pair suitable
// for model.Request.Messages.
func (p Prompt) Render() (system string, user string) {
	system = p.CoreRules + "\n\nAvailable tools:\n" + p.CatalogText
	if len(p.Exemplars) > 0 {
		system += "\n\nExamples:\n"
		for _, ex := range p.Exemplars {
			system += "User: " + ex.Request + "\nPlan: " + ex.PlanJSON + "\n\n"
		}
	}
	user = ""
	if p.RecentSummary != "" {
		user += "Recent session activity:\n" + p.RecentSummary + "\n\n"
	}
	if p.TraceDigest != "" {
		user += "Current reasoning trace summary:\n" + p.TraceDigest + "\n\n"
	}
	user += "User request: " + p.UserRequest
	if p.ParseError != "" {
		user += "\n\nYour previous response could not be parsed as the required JSON shape: " + p.ParseError + "\nRespond again with valid JSON only."
	}
	return system, user
}
