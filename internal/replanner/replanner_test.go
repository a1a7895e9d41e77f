package replanner

import (
	"context"
	"testing"

	"github.com/fieldnote-ai/homeagent/internal/errs"
	"github.com/fieldnote-ai/homeagent/internal/model"
	"github.com/fieldnote-ai/homeagent/internal/plan"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClient struct {
	text string
	err  error
}

func (f *fakeClient) Complete(ctx context.Context, req model.Request) (model.Response, error) {
	if f.err != nil {
		return model.Response{}, f.err
	}
	return model.Response{Text: f.text}, nil
}

func basePlan() *plan.Plan {
	return &plan.Plan{
		Goal: "email the weekly report",
		Steps: []*plan.Step{
			{ID: 1, Action: "fetch_report", Parameters: map[string]any{}},
			{ID: 2, Action: "send_email", Parameters: map[string]any{}, Dependencies: []int{1}},
		},
	}
}

func TestReplanProducesContinuationAppendedAfterMaxID(t *testing.T) {
	raw := `{"mode":"continuation","goal":"email the weekly report","steps":[
		{"id":3,"action":"retry_fetch_report","parameters":{},"dependencies":[],"reasoning":"retry with backoff","expected_output":"report fetched"},
		{"id":4,"action":"send_email","parameters":{},"dependencies":[3],"reasoning":"resend once fetch succeeds","expected_output":"email sent"}
	]}`
	r := New(&fakeClient{text: raw})

	out, err := r.Replan(context.Background(), basePlan(), 1, []string{"fetch failed once before"}, nil, "catalog", 1)
	require.NoError(t, err)
	assert.Equal(t, ModeContinuation, out.Mode)
	require.Len(t, out.Plan.Steps, 4)
	assert.Equal(t, 3, out.Plan.Steps[2].ID)
	assert.Equal(t, 4, out.Plan.Steps[3].ID)
}

func TestReplanRejectsContinuationStepIDNotExceedingMaxID(t *testing.T) {
	raw := `{"mode":"continuation","goal":"g","steps":[{"id":2,"action":"x","parameters":{},"dependencies":[]}]}`
	r := New(&fakeClient{text: raw})

	_, err := r.Replan(context.Background(), basePlan(), 2, nil, []string{"send failed"}, "catalog", 1)
	assert.Error(t, err)
}

func TestReplanProducesFullReplan(t *testing.T) {
	raw := `{"mode":"full_replan","goal":"email the weekly report, differently","steps":[
		{"id":1,"action":"compose_reply","parameters":{},"dependencies":[],"reasoning":"approach was wrong, just reply","expected_output":"reply sent"}
	]}`
	r := New(&fakeClient{text: raw})

	out, err := r.Replan(context.Background(), basePlan(), 1, nil, []string{"report source permanently gone"}, "catalog", 1)
	require.NoError(t, err)
	assert.Equal(t, ModeFullReplan, out.Mode)
	require.Len(t, out.Plan.Steps, 1)
	assert.Equal(t, "compose_reply", out.Plan.Steps[0].Action)
}

func TestReplanSurfacesUnrecoverableOnceRetriesExhausted(t *testing.T) {
	r := New(&fakeClient{text: `{"mode":"full_replan","goal":"g","steps":[{"id":1,"action":"x"}]}`}, WithMaxRetries(2))

	_, err := r.Replan(context.Background(), basePlan(), 1, nil, nil, "catalog", 3)
	require.Error(t, err)
	var kerr *errs.KernelError
	require.ErrorAs(t, err, &kerr)
	assert.Equal(t, errs.Unrecoverable, kerr.Kind)
}

func TestReplanPropagatesModelError(t *testing.T) {
	r := New(&fakeClient{err: assert.AnError})
	_, err := r.Replan(context.Background(), basePlan(), 1, nil, nil, "catalog", 1)
	assert.Error(t, err)
}

func TestReplanRejectsUnparseableOutput(t *testing.T) {
	r := New(&fakeClient{text: "not json"})
	_, err := r.Replan(context.Background(), basePlan(), 1, nil, nil, "catalog", 1)
	assert.Error(t, err)
}
