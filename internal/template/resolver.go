// Package template implements the cross-step reference resolver (C1). It is
// the single shared substitution utility every executor path uses (spec §9:
// prior ad-hoc templating left orphaned braces, so this package is now
// authoritative).
package template

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/fieldnote-ai/homeagent/internal/plan"
)

// Warning records a defect the resolver detected while walking a parameter
// tree (spec §4.1 "Failure / defect modes"), for logging into the reasoning
// trace as a regression signal.
type Warning struct {
	Kind   string // "missing_segment" | "orphaned_brace" | "invalid_placeholder"
	Detail string
}

var (
	bracedRefRE  = regexp.MustCompile(`\{\$step(\d+)((?:\.[A-Za-z0-9_]+)*)\}`)
	bareRefRE    = regexp.MustCompile(`\$step(\d+)((?:\.[A-Za-z0-9_]+)*)`)
	orphanedRE   = regexp.MustCompile(`\{[^{}$]*\}`)
	invalidPHRE  = regexp.MustCompile(`\{(?:[A-Za-z_][A-Za-z0-9_]*)\.[A-Za-z0-9_.]+\}`)
)

// Resolve walks tree (a parameter value that may be a literal, list, map, or
// reference string) and substitutes every `{$step<N>.<path>}` and bare
// `$step<N>.<path>` reference against results. Resolution is single-pass:
// braced references resolve first, then bare, then a final scan flags
// anything left unresolved. When a whole string value is exactly one bare
// reference, the underlying value (list/map/scalar) is returned instead of
// its stringified form, per spec §4.1.
func Resolve(tree any, results plan.StepResults) (any, []Warning) {
	var warnings []Warning
	out := resolveValue(tree, results, &warnings)
	return out, warnings
}

func resolveValue(v any, results plan.StepResults, warnings *[]Warning) any {
	switch t := v.(type) {
	case string:
		return resolveString(t, results, warnings)
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, vv := range t {
			out[k] = resolveValue(vv, results, warnings)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, vv := range t {
			out[i] = resolveValue(vv, results, warnings)
		}
		return out
	default:
		return v
	}
}

// resolveString resolves a single string value. If it is exactly one bare
// reference, the underlying object is returned (not its string form).
func resolveString(s string, results plan.StepResults, warnings *[]Warning) any {
	// unresolved records references already reported, so the bare pass does
	// not navigate (and warn about) the same reference a second time.
	unresolved := make(map[string]bool)
	if m := bareRefRE.FindStringSubmatch(s); m != nil && m[0] == s {
		val, ok := navigate(results, m[1], m[2], warnings)
		if ok {
			return val
		}
		unresolved[s] = true
	}

	out := bracedRefRE.ReplaceAllStringFunc(s, func(match string) string {
		m := bracedRefRE.FindStringSubmatch(match)
		val, ok := navigate(results, m[1], m[2], warnings)
		if !ok {
			// Leave the placeholder unchanged per spec §4.1.
			unresolved[match[1:len(match)-1]] = true
			return match
		}
		return stringify(val)
	})

	out = bareRefRE.ReplaceAllStringFunc(out, func(match string) string {
		if unresolved[match] {
			return match
		}
		m := bareRefRE.FindStringSubmatch(match)
		val, ok := navigate(results, m[1], m[2], warnings)
		if !ok {
			return match
		}
		return stringify(val)
	})

	scanForDefects(out, warnings)
	return out
}

// navigate resolves $step<idStr><dotPath> against results. dotPath includes
// its leading dot, if any (e.g. ".files.0.name").
func navigate(results plan.StepResults, idStr, dotPath string, warnings *[]Warning) (any, bool) {
	id, err := strconv.Atoi(idStr)
	if err != nil {
		return nil, false
	}
	res, ok := results[id]
	if !ok || res == nil {
		*warnings = append(*warnings, Warning{Kind: "missing_segment", Detail: fmt.Sprintf("step %d has no published result", id)})
		return nil, false
	}
	var cur any = map[string]any(res.Value)
	path := strings.TrimPrefix(dotPath, ".")
	if path == "" {
		return cur, true
	}
	for _, seg := range strings.Split(path, ".") {
		switch node := cur.(type) {
		case map[string]any:
			v, ok := node[seg]
			if !ok {
				*warnings = append(*warnings, Warning{Kind: "missing_segment", Detail: fmt.Sprintf("step %d has no field %q", id, seg)})
				return nil, false
			}
			cur = v
		case []any:
			idx, err := strconv.Atoi(seg)
			if err != nil || idx < 0 || idx >= len(node) {
				*warnings = append(*warnings, Warning{Kind: "missing_segment", Detail: fmt.Sprintf("step %d: index %q out of range", id, seg)})
				return nil, false
			}
			cur = node[idx]
		default:
			*warnings = append(*warnings, Warning{Kind: "missing_segment", Detail: fmt.Sprintf("step %d: cannot navigate into scalar at %q", id, seg)})
			return nil, false
		}
	}
	return cur, true
}

// stringify renders a resolved value for interpolation into a larger string.
// Numeric, boolean, and null values are stringified as JSON scalars (spec
// §4.1); maps/lists are JSON-encoded as a fallback (they should normally
// only appear via the whole-value bare-reference path).
func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return "null"
	case string:
		return t
	case bool, float64, int, int64:
		b, _ := json.Marshal(t)
		return string(b)
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprintf("%v", t)
		}
		return string(b)
	}
}

// scanForDefects flags orphaned braces and invalid placeholder shapes left
// over after substitution (spec §4.1 "Failure / defect modes"). It never
// mutates the string; defects are logged as regression signals only.
func scanForDefects(s string, warnings *[]Warning) {
	for _, m := range invalidPHRE.FindAllString(s, -1) {
		*warnings = append(*warnings, Warning{Kind: "invalid_placeholder", Detail: fmt.Sprintf("placeholder %q does not start with $step and will never resolve", m)})
	}
	for _, m := range orphanedRE.FindAllString(s, -1) {
		if invalidPHRE.MatchString(m) {
			continue
		}
		if bareRefRE.MatchString(strings.Trim(m, "{}")) {
			continue
		}
		*warnings = append(*warnings, Warning{Kind: "orphaned_brace", Detail: fmt.Sprintf("orphaned brace pair %q left in resolved string", m)})
	}
}
