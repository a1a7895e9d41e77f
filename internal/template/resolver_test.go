package template

import (
	"testing"

	"github.com/fieldnote-ai/homeagent/internal/plan"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleResults() plan.StepResults {
	return plan.StepResults{
		1: {
			Status: plan.StatusSuccess,
			Value: map[string]any{
				"total_duplicate_groups": 2,
				"wasted_space_mb":        0.38,
				"duplicates": []any{
					map[string]any{"name": "a.txt"},
					map[string]any{"name": "b.txt"},
				},
			},
		},
	}
}

func TestResolveIdempotenceOnPlainStrings(t *testing.T) {
	s := "no references here at all"
	out, warns := Resolve(s, sampleResults())
	assert.Equal(t, s, out)
	assert.Empty(t, warns)
}

func TestResolveBracedTemplate(t *testing.T) {
	out, warns := Resolve("Found {$step1.total_duplicate_groups} group(s), wasting {$step1.wasted_space_mb} MB", sampleResults())
	assert.Equal(t, "Found 2 group(s), wasting 0.38 MB", out)
	assert.Empty(t, warns)
}

func TestResolveWholeValueBareReferenceReturnsObject(t *testing.T) {
	out, warns := Resolve("$step1.duplicates", sampleResults())
	list, ok := out.([]any)
	require.True(t, ok, "expected list value, got %T", out)
	assert.Len(t, list, 2)
	assert.Empty(t, warns)
}

func TestResolveMissingSegmentLeavesPlaceholderAndWarns(t *testing.T) {
	out, warns := Resolve("{$step1.nonexistent}", sampleResults())
	assert.Equal(t, "{$step1.nonexistent}", out)
	require.Len(t, warns, 1)
	assert.Equal(t, "missing_segment", warns[0].Kind)
}

func TestResolveInvalidPlaceholderDetectedAsRegression(t *testing.T) {
	_, warns := Resolve("- {file1.name}\n- {file2.name}", sampleResults())
	var kinds []string
	for _, w := range warns {
		kinds = append(kinds, w.Kind)
	}
	assert.Contains(t, kinds, "invalid_placeholder")
}

func TestResolveNestedMapsAndLists(t *testing.T) {
	tree := map[string]any{
		"a": []any{"{$step1.total_duplicate_groups} groups", 42},
		"b": map[string]any{"c": "$step1.duplicates"},
	}
	out, _ := Resolve(tree, sampleResults())
	m, ok := out.(map[string]any)
	require.True(t, ok)
	arr := m["a"].([]any)
	assert.Equal(t, "2 groups", arr[0])
	inner := m["b"].(map[string]any)
	list, ok := inner["c"].([]any)
	require.True(t, ok)
	assert.Len(t, list, 2)
}

func TestResolveTotalityOverClosureNoResidualTokens(t *testing.T) {
	out, _ := Resolve("Found {$step1.total_duplicate_groups} - $step1.wasted_space_mb", sampleResults())
	s := out.(string)
	assert.NotContains(t, s, "{$step")
	assert.NotRegexp(t, `\$step\d+\.\w+`, s)
}
