package executor

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/fieldnote-ai/homeagent/internal/plan"
	"github.com/fieldnote-ai/homeagent/internal/tools"
	"github.com/fieldnote-ai/homeagent/internal/trace"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func registerEcho(t *testing.T, r *tools.Registry, name string) {
	t.Helper()
	require.NoError(t, r.Register(tools.ToolDescriptor{Name: tools.Ident(name), Description: "echo"},
		func(ctx context.Context, params map[string]any, call tools.CallContext) (*plan.StepResult, error) {
			return &plan.StepResult{Status: plan.StatusSuccess, Value: map[string]any{"file_path": "/tmp/out.txt", "seen": params}}, nil
		}))
}

func registerFailing(t *testing.T, r *tools.Registry, name string) {
	t.Helper()
	require.NoError(t, r.Register(tools.ToolDescriptor{Name: tools.Ident(name), Description: "always fails"},
		func(ctx context.Context, params map[string]any, call tools.CallContext) (*plan.StepResult, error) {
			return &plan.StepResult{Status: plan.StatusError, ErrorKind: "tool_invocation_error", ErrorMessage: "boom"}, nil
		}))
}

func TestExecutorRunsLinearPlanAndExtractsAttachments(t *testing.T) {
	r := tools.NewRegistry()
	registerEcho(t, r, "write_file")
	registerEcho(t, r, "reply_to_user")
	r.Freeze()

	p := &plan.Plan{
		Goal: "write then reply",
		Steps: []*plan.Step{
			{ID: 1, Action: "write_file", Parameters: map[string]any{"name": "a"}},
			{ID: 2, Action: "reply_to_user", Dependencies: []int{1}, Parameters: map[string]any{"message": "$step1.file_path"}},
		},
	}

	ex := New(r, Config{MaxParallelSteps: 2, StepTimeoutDefault: time.Second})
	tr := trace.New("interaction-1")
	results, err := ex.Run(context.Background(), p, tr, RunContext{SessionID: "s1", InteractionID: "interaction-1", RunID: "r1"})
	require.NoError(t, err)

	require.Contains(t, results, 1)
	require.Contains(t, results, 2)
	assert.Equal(t, plan.StatusSuccess, results[1].Status)
	assert.Equal(t, plan.StatusSuccess, results[2].Status)
	require.Len(t, results[1].Attachments, 1)
	assert.Equal(t, "/tmp/out.txt", results[1].Attachments[0].Path)
}

func TestExecutorPropagatesDependencyFailure(t *testing.T) {
	r := tools.NewRegistry()
	registerFailing(t, r, "flaky")
	registerEcho(t, r, "reply_to_user")
	r.Freeze()

	p := &plan.Plan{
		Steps: []*plan.Step{
			{ID: 1, Action: "flaky"},
			{ID: 2, Action: "reply_to_user", Dependencies: []int{1}},
		},
	}

	ex := New(r, Config{MaxParallelSteps: 2, StepTimeoutDefault: time.Second})
	results, err := ex.Run(context.Background(), p, trace.New("i2"), RunContext{SessionID: "s1", InteractionID: "i2"})
	require.NoError(t, err)

	assert.Equal(t, plan.StatusError, results[1].Status)
	assert.Equal(t, plan.StatusSkipped, results[2].Status)
	assert.Equal(t, "dependency_failed", results[2].ErrorKind)
}

func TestExecutorHonorsPerToolTimeout(t *testing.T) {
	r := tools.NewRegistry()
	require.NoError(t, r.Register(tools.ToolDescriptor{Name: "slow", Description: "never returns in time", Timeout: 0},
		func(ctx context.Context, params map[string]any, call tools.CallContext) (*plan.StepResult, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		}))
	r.Freeze()

	p := &plan.Plan{Steps: []*plan.Step{{ID: 1, Action: "slow"}}}
	ex := New(r, Config{MaxParallelSteps: 1, StepTimeoutDefault: 10 * time.Millisecond})
	results, err := ex.Run(context.Background(), p, trace.New("i3"), RunContext{SessionID: "s1", InteractionID: "i3"})
	require.NoError(t, err)
	assert.Equal(t, "tool_timeout", results[1].ErrorKind)
}

func TestExecutorResolvesParallelGenerationSafely(t *testing.T) {
	r := tools.NewRegistry()
	registerEcho(t, r, "producer")
	for i := 0; i < 8; i++ {
		registerEcho(t, r, fmt.Sprintf("consumer%d", i))
	}
	r.Freeze()

	steps := []*plan.Step{{ID: 1, Action: "producer"}}
	for i := 0; i < 8; i++ {
		steps = append(steps, &plan.Step{
			ID:           i + 2,
			Action:       fmt.Sprintf("consumer%d", i),
			Dependencies: []int{1},
			Parameters:   map[string]any{"input": "$step1.file_path"},
		})
	}
	p := &plan.Plan{Steps: steps}

	// A generation of several parallel steps all resolving a reference into
	// the same prior-generation result: run under `go test -race` to catch
	// any concurrent map read/write between the dispatcher's result
	// publication and a sibling worker's parameter resolution.
	ex := New(r, Config{MaxParallelSteps: 8, StepTimeoutDefault: time.Second})
	results, err := ex.Run(context.Background(), p, trace.New("i5"), RunContext{SessionID: "s1", InteractionID: "i5"})
	require.NoError(t, err)
	for i := 0; i < 8; i++ {
		require.Equal(t, plan.StatusSuccess, results[i+2].Status)
	}
}

func TestExecutorMarksRemainingCancelled(t *testing.T) {
	r := tools.NewRegistry()
	registerEcho(t, r, "a")
	registerEcho(t, r, "b")
	r.Freeze()

	p := &plan.Plan{
		Steps: []*plan.Step{
			{ID: 1, Action: "a"},
			{ID: 2, Action: "b", Dependencies: []int{1}},
		},
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ex := New(r, Config{MaxParallelSteps: 1, StepTimeoutDefault: time.Second})
	results, err := ex.Run(ctx, p, trace.New("i4"), RunContext{SessionID: "s1", InteractionID: "i4"})
	require.NoError(t, err)
	assert.Equal(t, plan.StatusCancelled, results[1].Status)
	assert.Equal(t, plan.StatusCancelled, results[2].Status)
}
