package plan

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// ActionLookup is the subset of the tool registry the validator needs. It is
// defined here, not in package tools, so plan has no dependency on tools;
// tools.Registry satisfies this interface structurally.
type ActionLookup interface {
	// Exists reports whether action names a registered tool.
	Exists(action string) bool
	// Tags returns the capability tags declared for action (e.g.
	// "produces_file", "delivery", "terminal", "fetch", "writer").
	Tags(action string) []string
	// ListResultField returns the name of a declared array-typed result
	// field for action, if the tool's result schema has exactly one
	// obvious candidate (used to repair invalid placeholder patterns).
	ListResultField(action string) (string, bool)
}

// RepairKind identifies which auto-repair (or warning) was applied.
type RepairKind string

const (
	RepairInvalidPlaceholder    RepairKind = "invalid_placeholder"
	RepairMissingAttachment     RepairKind = "missing_attachment"
	RepairInsertedTerminal      RepairKind = "inserted_terminal"
	WarnMissingWriterStep       RepairKind = "missing_writer_step"
)

// Repair records one validator-applied modification or warning, for logging
// into the reasoning trace (spec §4.4).
type Repair struct {
	Kind    RepairKind
	StepID  int
	Detail  string
}

const terminalAction = "reply_to_user"

var invalidPlaceholderRE = regexp.MustCompile(`\{([A-Za-z_][A-Za-z0-9_]*(?:\d+)?)\.([A-Za-z0-9_.]+)\}`)

// Validate runs the structural checks and enumerated auto-repairs of
// spec §4.4 over p, modifying it in place. It returns the (possibly
// modified) plan, the list of repairs/warnings applied, and a non-nil error
// when a fatal structural defect was found (unknown action, duplicate or
// unresolved step id, dependency cycle, out-of-closure reference). Auto-repair
// runs at most one pass and only ever appends a single terminal step, so the
// result remains acyclic and bounded (spec §4.4 "Termination guarantee").
func Validate(p *Plan, lookup ActionLookup, userRequest string) (*Plan, []Repair, error) {
	if p == nil {
		return nil, nil, fmt.Errorf("plan: nil plan")
	}

	if err := checkUniqueIDs(p); err != nil {
		return p, nil, err
	}
	if err := checkActionsExist(p, lookup); err != nil {
		return p, nil, err
	}
	if err := checkDependenciesResolve(p); err != nil {
		return p, nil, err
	}
	if _, err := Toposort(p); err != nil {
		return p, nil, err
	}
	if err := checkReferenceClosure(p); err != nil {
		return p, nil, err
	}
	if err := checkSingleTerminal(p, lookup); err != nil {
		return p, nil, err
	}

	var repairs []Repair

	if r := repairInvalidPlaceholders(p, lookup); r != nil {
		repairs = append(repairs, *r)
	}
	repairs = append(repairs, repairMissingAttachments(p, lookup)...)
	if r := ensureTerminalStep(p, lookup); r != nil {
		repairs = append(repairs, *r)
	}
	if w := warnMissingWriterStep(p, lookup, userRequest); w != nil {
		repairs = append(repairs, *w)
	}

	return p, repairs, nil
}

func checkUniqueIDs(p *Plan) error {
	seen := make(map[int]struct{}, len(p.Steps))
	for _, s := range p.Steps {
		if s.ID <= 0 {
			return fmt.Errorf("plan: step id %d must be a positive integer", s.ID)
		}
		if _, dup := seen[s.ID]; dup {
			return fmt.Errorf("plan: duplicate step id %d", s.ID)
		}
		seen[s.ID] = struct{}{}
	}
	return nil
}

// checkSingleTerminal rejects a plan declaring more than one terminal-tagged
// step (spec §3 invariant: "exactly one step's action is the terminal reply
// action"). A missing terminal step is not an error here: ensureTerminalStep
// repairs that case by appending one.
func checkSingleTerminal(p *Plan, lookup ActionLookup) error {
	if lookup == nil {
		return nil
	}
	var found []int
	for _, s := range p.Steps {
		if hasTag(lookup.Tags(s.Action), "terminal") {
			found = append(found, s.ID)
		}
	}
	if len(found) > 1 {
		return fmt.Errorf("plan: more than one terminal step declared: %v", found)
	}
	return nil
}

func checkActionsExist(p *Plan, lookup ActionLookup) error {
	if lookup == nil {
		return nil
	}
	for _, s := range p.Steps {
		if !lookup.Exists(s.Action) {
			return fmt.Errorf("plan: step %d: unknown action %q", s.ID, s.Action)
		}
	}
	return nil
}

func checkDependenciesResolve(p *Plan) error {
	ids := make(map[int]struct{}, len(p.Steps))
	for _, s := range p.Steps {
		ids[s.ID] = struct{}{}
	}
	for _, s := range p.Steps {
		for _, dep := range s.Dependencies {
			if _, ok := ids[dep]; !ok {
				return fmt.Errorf("plan: step %d depends on unknown step %d", s.ID, dep)
			}
			if dep == s.ID {
				return fmt.Errorf("plan: step %d depends on itself", s.ID)
			}
		}
	}
	return nil
}

// referenceRE matches both the braced ({$stepN.path}) and bare ($stepN.path)
// reference forms so the validator can check closure before execution.
var referenceRE = regexp.MustCompile(`\$step(\d+)(\.[A-Za-z0-9_.]+)?`)

func checkReferenceClosure(p *Plan) error {
	for _, s := range p.Steps {
		closure := p.DependencyClosure(s)
		refs := collectReferences(s.Parameters)
		for _, stepID := range refs {
			if stepID == s.ID {
				return fmt.Errorf("plan: step %d references itself", s.ID)
			}
			if _, ok := closure[stepID]; !ok {
				return fmt.Errorf("plan: step %d references step %d which is not in its dependency closure", s.ID, stepID)
			}
		}
	}
	return nil
}

func collectReferences(v any) []int {
	var out []int
	var walk func(any)
	walk = func(v any) {
		switch t := v.(type) {
		case string:
			for _, m := range referenceRE.FindAllStringSubmatch(t, -1) {
				var id int
				fmt.Sscanf(m[1], "%d", &id)
				out = append(out, id)
			}
		case map[string]any:
			for _, vv := range t {
				walk(vv)
			}
		case []any:
			for _, vv := range t {
				walk(vv)
			}
		}
	}
	walk(v)
	return out
}

// repairInvalidPlaceholders fixes {file1.name}-shaped placeholders (not
// starting with $step) found in any string parameter of the terminal step
// by substituting a bare reference to the most recent upstream
// step whose result declares a list-typed field (spec §4.4 repair #1).
func repairInvalidPlaceholders(p *Plan, lookup ActionLookup) *Repair {
	terminal := p.Terminal()
	if terminal == nil {
		return nil
	}
	found := false
	for key, v := range terminal.Parameters {
		s, ok := v.(string)
		if !ok || !invalidPlaceholderRE.MatchString(s) {
			continue
		}
		replacement, repStep, ok := findListProducingUpstream(p, terminal, lookup)
		if !ok {
			continue
		}
		terminal.Parameters[key] = replacement
		found = true
		_ = repStep
	}
	if !found {
		return nil
	}
	return &Repair{Kind: RepairInvalidPlaceholder, StepID: terminal.ID, Detail: "replaced invalid {fileN.*} placeholder with bare upstream list reference"}
}

func findListProducingUpstream(p *Plan, terminal *Step, lookup ActionLookup) (string, int, bool) {
	deps := append([]int(nil), terminal.Dependencies...)
	sort.Sort(sort.Reverse(sort.IntSlice(deps)))
	for _, dep := range deps {
		step := p.ByID(dep)
		if step == nil || lookup == nil {
			continue
		}
		field, ok := lookup.ListResultField(step.Action)
		if !ok {
			continue
		}
		return fmt.Sprintf("$step%d.%s", dep, field), dep, true
	}
	return "", 0, false
}

// repairMissingAttachments injects a reference to a producer step's
// file_path result into any delivery step's attachments list when the
// producer has no attachment reference yet (spec §4.4 repair #2).
func repairMissingAttachments(p *Plan, lookup ActionLookup) []Repair {
	if lookup == nil {
		return nil
	}
	var repairs []Repair
	var producers []*Step
	for _, s := range p.Steps {
		if hasTag(lookup.Tags(s.Action), "produces_file") {
			producers = append(producers, s)
		}
	}
	if len(producers) == 0 {
		return nil
	}
	for _, s := range p.Steps {
		if !hasTag(lookup.Tags(s.Action), "delivery") {
			continue
		}
		for _, producer := range producers {
			if producer.ID == s.ID {
				continue
			}
			// Never make the sender depend on a producer that already
			// depends on it: that would introduce a cycle.
			if _, dependsOnSender := p.DependencyClosure(producer)[s.ID]; dependsOnSender {
				continue
			}
			ref := fmt.Sprintf("$step%d.file_path", producer.ID)
			if attachmentsReference(s.Parameters, producer.ID) {
				continue
			}
			if s.Parameters == nil {
				s.Parameters = map[string]any{}
			}
			existing, _ := s.Parameters["attachments"].([]any)
			s.Parameters["attachments"] = append(existing, ref)
			if !containsInt(s.Dependencies, producer.ID) {
				s.Dependencies = append(s.Dependencies, producer.ID)
			}
			repairs = append(repairs, Repair{
				Kind:   RepairMissingAttachment,
				StepID: s.ID,
				Detail: fmt.Sprintf("injected attachment reference to step %d's file_path and added it as a dependency", producer.ID),
			})
		}
	}
	return repairs
}

func attachmentsReference(params map[string]any, producerID int) bool {
	atts, _ := params["attachments"].([]any)
	prefix := fmt.Sprintf("$step%d.", producerID)
	braced := fmt.Sprintf("{$step%d.", producerID)
	for _, a := range atts {
		s, ok := a.(string)
		if !ok {
			continue
		}
		if strings.HasPrefix(s, prefix) || strings.Contains(s, braced) {
			return true
		}
	}
	return false
}

func containsInt(xs []int, v int) bool {
	for _, x := range xs {
		if x == v {
			return true
		}
	}
	return false
}

func hasTag(tags []string, want string) bool {
	for _, t := range tags {
		if t == want {
			return true
		}
	}
	return false
}

// ensureTerminalStep appends a synthetic reply step if none of p's steps is
// tagged terminal, or reorders so the existing terminal step is last
// (spec §4.4 repair #3 / structural requirement: "exactly one terminal
// step, last in the list; if zero, insert one").
func ensureTerminalStep(p *Plan, lookup ActionLookup) *Repair {
	idx := -1
	for i, s := range p.Steps {
		if lookup != nil && hasTag(lookup.Tags(s.Action), "terminal") {
			idx = i
			break
		}
	}
	if idx == len(p.Steps)-1 {
		return nil
	}
	if idx >= 0 {
		s := p.Steps[idx]
		p.Steps = append(append(p.Steps[:idx], p.Steps[idx+1:]...), s)
		return nil
	}

	var deps []int
	for _, s := range p.Steps {
		deps = append(deps, s.ID)
	}
	newID := p.MaxID() + 1
	p.Steps = append(p.Steps, &Step{
		ID:             newID,
		Action:         terminalAction,
		Dependencies:   deps,
		Parameters:     map[string]any{"message": "Here is a summary of what was done."},
		Reasoning:      "auto-inserted by validator: plan had no terminal reply step",
		ExpectedOutput: "a final reply summarizing the plan's outcome",
	})
	return &Repair{Kind: RepairInsertedTerminal, StepID: newID, Detail: "appended a synthetic reply_to_user terminal step"}
}

var writerIntentWords = []string{"report", "summary", "summarize", "digest", "analysis"}

// warnMissingWriterStep emits a non-blocking warning (never an
// auto-insertion, per spec §9 Open Questions) when the user's request
// implies a report/summary and the plan chains a fetch/search tool
// directly into a delivery tool with no writer/synthesize tool between.
func warnMissingWriterStep(p *Plan, lookup ActionLookup, userRequest string) *Repair {
	if lookup == nil || !containsAny(strings.ToLower(userRequest), writerIntentWords) {
		return nil
	}
	for _, s := range p.Steps {
		if !hasTag(lookup.Tags(s.Action), "delivery") {
			continue
		}
		for _, depID := range s.Dependencies {
			dep := p.ByID(depID)
			if dep == nil {
				continue
			}
			tags := lookup.Tags(dep.Action)
			if (hasTag(tags, "fetch") || hasTag(tags, "search")) && !hasTag(tags, "writer") {
				terminal := p.Terminal()
				if terminal != nil {
					terminal.Reasoning += " [validator warning: request implies a report/summary but no writer/synthesize step runs between the fetch and the delivery step]"
				}
				return &Repair{
					Kind:   WarnMissingWriterStep,
					StepID: s.ID,
					Detail: fmt.Sprintf("delivery step %d is fed directly by fetch/search step %d with no writer step between them", s.ID, dep.ID),
				}
			}
		}
	}
	return nil
}

func containsAny(haystack string, words []string) bool {
	for _, w := range words {
		if strings.Contains(haystack, w) {
			return true
		}
	}
	return false
}
