// Package prompts implements MCP prompt handlers for kanban workflows.
//
// MCP prompts are user-triggered workflows (like slash commands) that
// instruct the AI to execute a specific sequence. Unlike tools (which
// the AI calls), prompts are initiated by the user.
package prompts

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
)

// StatusPrompt handles the kanban-status MCP prompt.
// It instructs the AI to summarize the board and any running agents.
type StatusPrompt struct{}

// NewStatusPrompt creates a StatusPrompt.
func NewStatusPrompt() *StatusPrompt {
	return &StatusPrompt{}
}

// Definition returns the MCP prompt definition for registration.
func (p *StatusPrompt) Definition() mcp.Prompt {
	return mcp.NewPrompt("kanban-status",
		mcp.WithPromptDescription(
			"Summarize the kanban board: what is in progress, what is waiting for review, "+
				"and which coding agents are still running.",
		),
		mcp.WithArgument("project_id",
			mcp.ArgumentDescription("Project to summarize. Defaults to the configured project."),
		),
	)
}

// Handle processes the kanban-status prompt request.
func (p *StatusPrompt) Handle(ctx context.Context, req mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	scope := "the configured project"
	listCall := "`list_tasks`"
	if id := req.Params.Arguments["project_id"]; id != "" {
		scope = fmt.Sprintf("project `%s`", id)
		listCall = fmt.Sprintf("`list_tasks` with project_id='%s'", id)
	}

	return &mcp.GetPromptResult{
		Description: "Kanban status for " + scope,
		Messages: []mcp.PromptMessage{
			{
				Role: mcp.RoleUser,
				Content: mcp.NewTextContent(fmt.Sprintf(
					"Please give me a status report for %s.\n\n"+
						"1. Run %s and group the tasks by status\n"+
						"2. For every task with a running attempt, say so and ask whether I want details\n"+
						"3. Call out tasks whose last attempt failed\n"+
						"4. List what is waiting in review, since that needs me\n"+
						"5. Finish with the one or two things I should look at next\n\n"+
						"Keep it short. If I want to follow the board live, subscribe to `kanban://tasks`.",
					scope, listCall,
				)),
			},
		},
	}, nil
}
