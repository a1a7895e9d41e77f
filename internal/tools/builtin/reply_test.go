package builtin

import (
	"context"
	"testing"

	"github.com/fieldnote-ai/homeagent/internal/tools"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterReplyToUserEchoesMessageAndDetails(t *testing.T) {
	r := tools.NewRegistry()
	require.NoError(t, RegisterReplyToUser(r))

	res, err := r.Invoke(context.Background(), ReplyToUser, map[string]any{
		"message": "done",
		"details": map[string]any{"count": 2},
	}, tools.CallContext{})
	require.NoError(t, err)
	assert.Equal(t, "done", res.Value["message"])
	assert.Equal(t, map[string]any{"count": 2}, res.Value["details"])
}

func TestRegisterReplyToUserDeclaresTerminalTag(t *testing.T) {
	r := tools.NewRegistry()
	require.NoError(t, RegisterReplyToUser(r))
	assert.Contains(t, r.Tags(string(ReplyToUser)), "terminal")
}
