package finalizer

import (
	"context"
	"testing"

	"github.com/fieldnote-ai/homeagent/internal/plan"
	"github.com/fieldnote-ai/homeagent/internal/trace"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRegistry struct {
	commitments map[string][]trace.CommitmentTag
}

func (f *fakeRegistry) Commitments(action string) []trace.CommitmentTag {
	return f.commitments[action]
}

func TestFinalizeStampsSuccessWhenAllCommitmentsFulfilled(t *testing.T) {
	p := &plan.Plan{
		Goal: "email the report",
		Steps: []*plan.Step{
			{ID: 1, Action: "fetch_report", Parameters: map[string]any{}},
			{ID: 2, Action: "send_email", Parameters: map[string]any{"send": true}, Dependencies: []int{1}},
		},
	}
	results := plan.StepResults{
		1: {Status: plan.StatusSuccess, Value: map[string]any{}, Attachments: []plan.FileRef{{Path: "/tmp/report.pdf", Kind: "report"}}},
		2: {Status: plan.StatusSuccess, Value: map[string]any{"message": "Sent the report to your boss."}},
	}
	tr := trace.New("i1")
	id := tr.AddEntry(trace.StagePlanning, "plan", "", nil, []trace.CommitmentTag{trace.CommitSendEmail}, nil)
	tr.UpdateEntry(id, trace.OutcomeSuccess, nil, nil, nil)

	registry := &fakeRegistry{commitments: map[string][]trace.CommitmentTag{"send_email": {trace.CommitSendEmail}}}

	f := New()
	out, err := f.Finalize(context.Background(), p, results, tr, registry)
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, out.Status)
	require.Len(t, out.Commitments, 1)
	assert.True(t, out.Commitments[0].Fulfilled)
	assert.Equal(t, "Sent the report to your boss.", out.Reply.Message)
}

func TestFinalizeStampsPartialSuccessWhenCommitmentUnfulfilled(t *testing.T) {
	p := &plan.Plan{
		Goal: "email the report",
		Steps: []*plan.Step{
			{ID: 1, Action: "send_email", Parameters: map[string]any{"send": false}},
		},
	}
	results := plan.StepResults{
		1: {Status: plan.StatusSuccess, Value: map[string]any{"message": "done"}},
	}
	tr := trace.New("i1")
	id := tr.AddEntry(trace.StagePlanning, "plan", "", nil, []trace.CommitmentTag{trace.CommitSendEmail}, nil)
	tr.UpdateEntry(id, trace.OutcomeSuccess, nil, nil, nil)

	registry := &fakeRegistry{commitments: map[string][]trace.CommitmentTag{"send_email": {trace.CommitSendEmail}}}

	f := New()
	out, err := f.Finalize(context.Background(), p, results, tr, registry)
	require.NoError(t, err)
	assert.Equal(t, StatusPartialSuccess, out.Status)
	require.Len(t, out.Commitments, 1)
	assert.False(t, out.Commitments[0].Fulfilled)
	assert.NotEmpty(t, out.Commitments[0].Reason)
}

func TestFinalizeAttachDocumentsRequiresNonEmptyAttachments(t *testing.T) {
	p := &plan.Plan{
		Goal: "attach the slides",
		Steps: []*plan.Step{
			{ID: 1, Action: "compose_email", Parameters: map[string]any{}},
		},
	}
	results := plan.StepResults{
		1: {Status: plan.StatusSuccess, Value: map[string]any{"message": "sent"}},
	}
	tr := trace.New("i1")
	id := tr.AddEntry(trace.StagePlanning, "plan", "", nil, []trace.CommitmentTag{trace.CommitAttachDocuments}, nil)
	tr.UpdateEntry(id, trace.OutcomeSuccess, nil, nil, nil)

	registry := &fakeRegistry{commitments: map[string][]trace.CommitmentTag{"compose_email": {trace.CommitAttachDocuments}}}

	f := New()
	out, err := f.Finalize(context.Background(), p, results, tr, registry)
	require.NoError(t, err)
	assert.Equal(t, StatusPartialSuccess, out.Status)
	assert.False(t, out.Commitments[0].Fulfilled)
}

func TestFinalizeFreezesTrace(t *testing.T) {
	p := &plan.Plan{Goal: "x", Steps: []*plan.Step{{ID: 1, Action: "reply"}}}
	results := plan.StepResults{1: {Status: plan.StatusSuccess, Value: map[string]any{"message": "ok"}}}
	tr := trace.New("i1")

	f := New()
	_, err := f.Finalize(context.Background(), p, results, tr, &fakeRegistry{})
	require.NoError(t, err)
	assert.Equal(t, "", tr.AddEntry(trace.StagePlanning, "should be dropped", "", nil, nil, nil))
}

func TestFinalizeErrorsOnEmptyPlan(t *testing.T) {
	f := New()
	_, err := f.Finalize(context.Background(), &plan.Plan{}, plan.StepResults{}, trace.New("i1"), &fakeRegistry{})
	assert.Error(t, err)
}
