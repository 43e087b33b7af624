package prompts

import (
	"context"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func promptReq(args map[string]string) mcp.GetPromptRequest {
	req := mcp.GetPromptRequest{}
	req.Params.Arguments = args
	return req
}

func promptText(t *testing.T, res *mcp.GetPromptResult) string {
	t.Helper()
	require.Len(t, res.Messages, 1)
	tc, ok := res.Messages[0].Content.(mcp.TextContent)
	require.True(t, ok)
	return tc.Text
}

func TestStatusPrompt(t *testing.T) {
	p := NewStatusPrompt()
	assert.Equal(t, "kanban-status", p.Definition().Name)

	res, err := p.Handle(context.Background(), promptReq(nil))
	require.NoError(t, err)
	assert.Contains(t, promptText(t, res), "the configured project")

	res, err = p.Handle(context.Background(), promptReq(map[string]string{"project_id": "p9"}))
	require.NoError(t, err)
	assert.Contains(t, promptText(t, res), "project_id='p9'")
}

func TestDelegatePrompt(t *testing.T) {
	p := NewDelegatePrompt()
	assert.Equal(t, "delegate-task", p.Definition().Name)

	res, err := p.Handle(context.Background(), promptReq(map[string]string{"work": "Fix the flaky login test"}))
	require.NoError(t, err)
	text := promptText(t, res)
	assert.Contains(t, text, "Fix the flaky login test")
	assert.Contains(t, text, "executor='claude-code'")

	res, err = p.Handle(context.Background(), promptReq(map[string]string{"work": "x", "executor": "codex"}))
	require.NoError(t, err)
	assert.Contains(t, promptText(t, res), "executor='codex'")

	_, err = p.Handle(context.Background(), promptReq(nil))
	assert.Error(t, err)
}
