package prompts

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
)

// DelegatePrompt handles the delegate-task MCP prompt.
// It walks the AI from a task idea to a running coding agent.
type DelegatePrompt struct{}

// NewDelegatePrompt creates a DelegatePrompt.
func NewDelegatePrompt() *DelegatePrompt {
	return &DelegatePrompt{}
}

// Definition returns the MCP prompt definition for registration.
func (p *DelegatePrompt) Definition() mcp.Prompt {
	return mcp.NewPrompt("delegate-task",
		mcp.WithPromptDescription(
			"Hand a piece of work to a coding agent: create (or reuse) a task, start a "+
				"workspace session for it and follow the agent until it finishes.",
		),
		mcp.WithArgument("work",
			mcp.ArgumentDescription("What the agent should do, or the id of an existing task."),
			mcp.RequiredArgument(),
		),
		mcp.WithArgument("executor",
			mcp.ArgumentDescription("Coding agent to use. Default: claude-code"),
		),
	)
}

// Handle processes the delegate-task prompt request.
func (p *DelegatePrompt) Handle(ctx context.Context, req mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	work := req.Params.Arguments["work"]
	if work == "" {
		return nil, fmt.Errorf("argument 'work' is required")
	}
	executor := req.Params.Arguments["executor"]
	if executor == "" {
		executor = "claude-code"
	}

	return &mcp.GetPromptResult{
		Description: "Delegate to " + executor,
		Messages: []mcp.PromptMessage{
			{
				Role: mcp.RoleUser,
				Content: mcp.NewTextContent(fmt.Sprintf(
					"I want a coding agent to take on this work:\n\n%s\n\n"+
						"Please:\n"+
						"1. If that is a task id, fetch it with `get_task`. Otherwise run `create_task` with a short title "+
						"and the work as the description (keep any @tag references as written)\n"+
						"2. Run `start_workspace_session` for the task with executor='%s'\n"+
						"3. Find the new session with `list_sessions`\n"+
						"4. Follow it with `get_session` (include_processes) or subscribe to its resource, and tell me when the agent finishes\n"+
						"5. If I send more instructions, use `send_message`; it queues them when the agent is busy",
					work, executor,
				)),
			},
		},
	}, nil
}
