package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/HendryAvila/kanbridge/internal/gateway"
	"github.com/HendryAvila/kanbridge/internal/messaging"
)

const defaultBaseBranch = "main"

// ─── start_workspace_session ────────────────────────────────────────────────

// StartWorkspaceSessionTool handles the start_workspace_session MCP tool.
// It creates a workspace (git worktree plus coding-agent session) for a task.
type StartWorkspaceSessionTool struct {
	gw *gateway.Client
}

// NewStartWorkspaceSessionTool creates a StartWorkspaceSessionTool.
func NewStartWorkspaceSessionTool(gw *gateway.Client) *StartWorkspaceSessionTool {
	return &StartWorkspaceSessionTool{gw: gw}
}

// Definition returns the MCP tool definition for registration.
func (t *StartWorkspaceSessionTool) Definition() mcp.Tool {
	return mcp.NewTool("start_workspace_session",
		mcp.WithDescription(
			"Start a coding agent on a task. Creates a workspace branched from base_branch "+
				"in the project's repository and launches the executor in it. "+
				"The repository is detected automatically when the project has exactly one.",
		),
		mcp.WithString("task_id", mcp.Required(), mcp.Description("Task to work on.")),
		mcp.WithString("executor",
			mcp.Required(),
			mcp.Description("Coding agent to run, e.g. claude-code, codex, gemini."),
		),
		mcp.WithString("variant", mcp.Description("Executor variant, e.g. PLAN.")),
		mcp.WithString("repo_id", mcp.Description("Repository to use when the project has several.")),
		mcp.WithString("base_branch",
			mcp.Description(fmt.Sprintf("Branch to start from (default %s).", defaultBaseBranch)),
		),
	)
}

// Handle processes the start_workspace_session tool call.
func (t *StartWorkspaceSessionTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	taskID, bad := requiredString(req, "task_id")
	if bad != nil {
		return bad, nil
	}
	executor := messaging.NormalizeExecutor(req.GetString("executor", ""))
	if executor == "" {
		return mcp.NewToolResultError("'executor' is required (e.g. claude-code)"), nil
	}
	variant := strings.TrimSpace(req.GetString("variant", ""))
	branch := strings.TrimSpace(req.GetString("base_branch", ""))
	if branch == "" {
		branch = defaultBaseBranch
	}

	task, err := t.gw.GetTask(ctx, taskID)
	if err != nil {
		return failure("look up task "+taskID, err, "", "the task does not exist; find the right id with list_tasks"), nil
	}

	repoID := strings.TrimSpace(req.GetString("repo_id", ""))
	if repoID == "" {
		repoID, err = t.gw.ResolveRepoID(ctx, task.ProjectID)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Cannot choose a repository for task %s: %v", taskID, err)), nil
		}
	}

	profile := gateway.ExecutorProfile{Executor: executor, Variant: variant}
	ws, err := t.gw.CreateWorkspace(ctx, gateway.CreateWorkspaceRequest{
		TaskID:          taskID,
		ExecutorProfile: profile,
		Repos:           []gateway.WorkspaceRepoInput{{RepoID: repoID, TargetBranch: branch}},
	})
	if err != nil {
		return failure(fmt.Sprintf("start %s on task %s", executor, taskID), err,
			"check the executor name and that base_branch exists in the repository", ""), nil
	}

	var sb strings.Builder
	sb.WriteString("# Workspace session started\n\n")
	fmt.Fprintf(&sb, "- **Task**: %s (`%s`)\n", task.Title, task.ID)
	fmt.Fprintf(&sb, "- **Workspace**: `%s`\n", ws.ID)
	if ws.Branch != "" {
		fmt.Fprintf(&sb, "- **Branch**: %s\n", ws.Branch)
	}
	fmt.Fprintf(&sb, "- **Executor**: %s\n", profileString(profile))
	fmt.Fprintf(&sb, "- **Repository**: `%s` from %s\n", repoID, branch)
	fmt.Fprintf(&sb, "\nFind the session with `list_sessions` (workspace_id `%s`), then talk to it with `send_message`.\n", ws.ID)
	return mcp.NewToolResultText(sb.String()), nil
}

// ─── get_context ────────────────────────────────────────────────────────────

// GetContextTool handles the get_context MCP tool.
type GetContextTool struct {
	gw *gateway.Client
}

// NewGetContextTool creates a GetContextTool.
func NewGetContextTool(gw *gateway.Client) *GetContextTool {
	return &GetContextTool{gw: gw}
}

// Definition returns the MCP tool definition for registration.
func (t *GetContextTool) Definition() mcp.Tool {
	return mcp.NewTool("get_context",
		mcp.WithDescription(
			"Show the project, task and workspace the current attempt runs in. "+
				"Useful when running inside a workspace to learn which task you are working on.",
		),
		mcp.WithReadOnlyHintAnnotation(true),
	)
}

// Handle processes the get_context tool call.
func (t *GetContextTool) Handle(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	c, err := t.gw.GetContext(ctx, "")
	if err != nil {
		return failure("get attempt context", err,
			"set workspace_ref in the config, or run from inside a workspace", ""), nil
	}

	var sb strings.Builder
	sb.WriteString("# Attempt context\n\n")
	fmt.Fprintf(&sb, "- **Project**: %s (`%s`)\n", c.Project.Name, c.Project.ID)
	fmt.Fprintf(&sb, "- **Workspace**: `%s` on branch %s, created %s\n", c.Workspace.ID, c.Workspace.Branch, when(c.Workspace.CreatedAt))
	for _, r := range c.Repos {
		name := r.DisplayName
		if name == "" {
			name = r.Name
		}
		fmt.Fprintf(&sb, "- **Repository**: %s (`%s`) at %s\n", name, r.ID, r.Path)
	}
	sb.WriteString("\n")
	writeTask(&sb, &c.Task)
	return mcp.NewToolResultText(sb.String()), nil
}
