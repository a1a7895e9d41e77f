package planner

import (
	"context"
	"testing"

	"github.com/fieldnote-ai/homeagent/internal/model"
	"github.com/fieldnote-ai/homeagent/internal/trace"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scriptedClient struct {
	responses []string
	calls     int
}

func (s *scriptedClient) Complete(ctx context.Context, req model.Request) (model.Response, error) {
	idx := s.calls
	if idx >= len(s.responses) {
		idx = len(s.responses) - 1
	}
	s.calls++
	return model.Response{Text: s.responses[idx]}, nil
}

func TestPlanParsesStepsAndCommitments(t *testing.T) {
	raw := `{"goal":"email the report","commitments":["send_email","attach_documents"],"steps":[
		{"id":1,"action":"create_detailed_report","parameters":{},"dependencies":[],"reasoning":"r","expected_output":"a report file"},
		{"id":2,"action":"compose_email","parameters":{"attachments":["$step1.file_path"],"send":true},"dependencies":[1],"reasoning":"r","expected_output":"email sent"}
	]}`
	p := New(&scriptedClient{responses: []string{raw}})

	out, err := p.Plan(context.Background(), "summarize and email the report", "catalog", trace.Summary{}, "")
	require.NoError(t, err)
	require.Len(t, out.Plan.Steps, 2)
	assert.ElementsMatch(t, []trace.CommitmentTag{trace.CommitSendEmail, trace.CommitAttachDocuments}, out.Commitments)
}

func TestPlanDropsUnrecognizedCommitmentTags(t *testing.T) {
	raw := `{"goal":"g","commitments":["send_email","made_up_tag"],"steps":[{"id":1,"action":"reply_to_user","parameters":{},"dependencies":[],"reasoning":"r","expected_output":"o"}]}`
	p := New(&scriptedClient{responses: []string{raw}})

	out, err := p.Plan(context.Background(), "x", "catalog", trace.Summary{}, "")
	require.NoError(t, err)
	assert.Equal(t, []trace.CommitmentTag{trace.CommitSendEmail}, out.Commitments)
}

func TestPlanRetriesOnUnparseableOutputThenSucceeds(t *testing.T) {
	good := `{"goal":"g","steps":[{"id":1,"action":"reply_to_user","parameters":{},"dependencies":[],"reasoning":"r","expected_output":"o"}]}`
	client := &scriptedClient{responses: []string{"not json", good}}
	p := New(client, WithMaxParseRetries(2))

	out, err := p.Plan(context.Background(), "x", "catalog", trace.Summary{}, "")
	require.NoError(t, err)
	assert.Equal(t, 2, client.calls)
	assert.Equal(t, "g", out.Plan.Goal)
}

func TestPlanSurfacesPlannerUnparseableAfterExhaustingRetries(t *testing.T) {
	client := &scriptedClient{responses: []string{"not json", "still not json", "nope"}}
	p := New(client, WithMaxParseRetries(1))

	_, err := p.Plan(context.Background(), "x", "catalog", trace.Summary{}, "")
	require.Error(t, err)
	assert.Equal(t, 2, client.calls)
}

func TestSelectExemplarsRanksSameClassFirstAndCapsByBudget(t *testing.T) {
	corpus := []Exemplar{
		{Request: "send an email to bob", PlanJSON: `{"x":1}`, Class: TaskEmail},
		{Request: "play my favorite song", PlanJSON: `{"y":2}`, Class: TaskMusic},
		{Request: "email the weekly digest", PlanJSON: `{"z":3}`, Class: TaskEmail},
	}
	out := SelectExemplars(corpus, TaskEmail, 1000)
	require.Len(t, out, 3)
	assert.Equal(t, TaskEmail, out[0].Class)
	assert.Equal(t, TaskEmail, out[1].Class)
}

func TestSelectExemplarsDropsLeastRelevantWhenOverBudget(t *testing.T) {
	corpus := []Exemplar{
		{Request: "email the weekly digest to my team please", PlanJSON: `{"steps":[{"id":1}]}`, Class: TaskEmail},
		{Request: "play some music", PlanJSON: `{"steps":[{"id":1}]}`, Class: TaskMusic},
	}
	out := SelectExemplars(corpus, TaskEmail, 20)
	require.Len(t, out, 1)
	assert.Equal(t, TaskEmail, out[0].Class)
}

func TestClassifyBucketsByKeyword(t *testing.T) {
	assert.Equal(t, TaskEmail, Classify("send this email to my boss"))
	assert.Equal(t, TaskMusic, Classify("play my workout playlist"))
	assert.Equal(t, TaskGeneral, Classify("do the thing"))
}
