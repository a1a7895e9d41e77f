// Package builtin registers the tools the kernel itself requires to be
// present regardless of which domain tools a deployment wires in: the
// terminal reply action every valid plan must end with (spec §3 "exactly
// one step's action is the terminal reply action"). Domain tool
// implementations (file operations, email, calendars, and so on) are out of
// scope for this kernel (spec §1 Non-goals: "tool-internal logic") and are
// registered by the process embedding it.
package builtin

import (
	"context"

	"github.com/fieldnote-ai/homeagent/internal/plan"
	"github.com/fieldnote-ai/homeagent/internal/tools"
)

// ReplyToUser is the canonical terminal action name the validator's
// terminal-step repair inserts when a plan has none (plan.validator.go's
// terminalAction constant).
const ReplyToUser tools.Ident = "reply_to_user"

// RegisterReplyToUser adds the terminal reply tool to r. It simply echoes
// its message/details parameters back as the step's Value, since the
// user-facing text has already been composed by the planner or the
// validator's synthetic-terminal-step repair; the Finalizer reads it off
// this step's StepResult.
func RegisterReplyToUser(r *tools.Registry) error {
	return r.Register(tools.ToolDescriptor{
		Name:        ReplyToUser,
		Description: "Deliver the final reply to the user for this interaction.",
		Tags:        []string{"terminal"},
		Terminal:    true,
	}, replyInvocable)
}

func replyInvocable(ctx context.Context, params map[string]any, call tools.CallContext) (*plan.StepResult, error) {
	value := map[string]any{
		"message": params["message"],
	}
	if details, ok := params["details"]; ok {
		value["details"] = details
	}
	return &plan.StepResult{Status: plan.StatusSuccess, Value: value}, nil
}
