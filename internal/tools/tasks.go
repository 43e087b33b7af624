package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/HendryAvila/kanbridge/internal/gateway"
	"github.com/HendryAvila/kanbridge/internal/resources"
)

const (
	defaultTaskLimit = 50
	maxTaskLimit     = 500
)

// ─── list_tasks ─────────────────────────────────────────────────────────────

// ListTasksTool handles the list_tasks MCP tool.
type ListTasksTool struct {
	gw *gateway.Client
}

// NewListTasksTool creates a ListTasksTool.
func NewListTasksTool(gw *gateway.Client) *ListTasksTool {
	return &ListTasksTool{gw: gw}
}

// Definition returns the MCP tool definition for registration.
func (t *ListTasksTool) Definition() mcp.Tool {
	return mcp.NewTool("list_tasks",
		mcp.WithDescription(
			"List tasks on the kanban board of a project, newest first. "+
				"Filter by status to see only one column.",
		),
		mcp.WithString("project_id",
			mcp.Description("Project to list. Optional when the server is locked to a project."),
		),
		mcp.WithString("status",
			mcp.Description("Only return tasks in this status."),
			mcp.Enum(gateway.TaskStatuses...),
		),
		mcp.WithNumber("limit",
			mcp.Description(fmt.Sprintf("Maximum tasks to return (default %d, max %d).", defaultTaskLimit, maxTaskLimit)),
		),
		mcp.WithReadOnlyHintAnnotation(true),
	)
}

// Handle processes the list_tasks tool call.
func (t *ListTasksTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	projectID, err := t.gw.RequireProject(req.GetString("project_id", ""))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	status := strings.TrimSpace(req.GetString("status", ""))
	if status != "" && !validTaskStatus(status) {
		return mcp.NewToolResultError(fmt.Sprintf("invalid status %q; use one of: %s",
			status, strings.Join(gateway.TaskStatuses, ", "))), nil
	}
	limit := req.GetInt("limit", defaultTaskLimit)
	if limit <= 0 || limit > maxTaskLimit {
		limit = defaultTaskLimit
	}

	tasks, err := t.gw.ListTasks(ctx, gateway.ListTasksOptions{ProjectID: projectID, Status: status, Limit: limit})
	if err != nil {
		return failure(fmt.Sprintf("list tasks for project %s", projectID), err,
			"check the Gateway is reachable and the project id is correct", ""), nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "# Tasks in project `%s`", projectID)
	if status != "" {
		fmt.Fprintf(&sb, " (%s)", status)
	}
	sb.WriteString("\n\n")

	if len(tasks) == 0 {
		sb.WriteString("_No tasks found._\n")
		return mcp.NewToolResultText(sb.String()), nil
	}
	if len(tasks) > limit {
		tasks = tasks[:limit]
	}
	for _, task := range tasks {
		fmt.Fprintf(&sb, "- **%s** `%s` [%s], updated %s", task.Title, task.ID, task.Status, when(task.UpdatedAt))
		if task.HasInProgressAttempt {
			sb.WriteString(", attempt running")
		}
		if task.LastAttemptFailed {
			sb.WriteString(", last attempt failed")
		}
		sb.WriteString("\n")
	}
	fmt.Fprintf(&sb, "\n%d task(s). Subscribe to `%s` to be notified of board changes.\n", len(tasks), "kanban://tasks")
	return mcp.NewToolResultText(sb.String()), nil
}

// ─── create_task ────────────────────────────────────────────────────────────

// CreateTaskTool handles the create_task MCP tool.
type CreateTaskTool struct {
	gw   *gateway.Client
	tags Expander
}

// NewCreateTaskTool creates a CreateTaskTool. tags may be nil.
func NewCreateTaskTool(gw *gateway.Client, tags Expander) *CreateTaskTool {
	return &CreateTaskTool{gw: gw, tags: tags}
}

// Definition returns the MCP tool definition for registration.
func (t *CreateTaskTool) Definition() mcp.Tool {
	return mcp.NewTool("create_task",
		mcp.WithDescription(
			"Create a task in the todo column. @tag references in the description "+
				"are replaced with the tag's content.",
		),
		mcp.WithString("project_id",
			mcp.Description("Project to create the task in. Optional when the server is locked to a project."),
		),
		mcp.WithString("title", mcp.Required(), mcp.Description("Short task title.")),
		mcp.WithString("description", mcp.Description("Task details. Supports @tag expansion.")),
	)
}

// Handle processes the create_task tool call.
func (t *CreateTaskTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	title, bad := requiredString(req, "title")
	if bad != nil {
		return bad, nil
	}
	projectID, err := t.gw.RequireProject(req.GetString("project_id", ""))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	body := gateway.CreateTaskRequest{ProjectID: projectID, Title: title}
	if d := optionalString(req, "description"); d != nil && strings.TrimSpace(*d) != "" {
		expanded := expand(ctx, t.tags, *d)
		body.Description = &expanded
	}

	task, err := t.gw.CreateTask(ctx, body)
	if err != nil {
		return failure(fmt.Sprintf("create task %q in project %s", title, projectID), err,
			"verify the project id with list_tasks", ""), nil
	}

	var sb strings.Builder
	sb.WriteString("# Task created\n\n")
	writeTask(&sb, task)
	fmt.Fprintf(&sb, "\nStart work with `start_workspace_session` (task_id `%s`).\n", task.ID)
	return mcp.NewToolResultText(sb.String()), nil
}

// ─── get_task ───────────────────────────────────────────────────────────────

// GetTaskTool handles the get_task MCP tool.
type GetTaskTool struct {
	gw *gateway.Client
}

// NewGetTaskTool creates a GetTaskTool.
func NewGetTaskTool(gw *gateway.Client) *GetTaskTool {
	return &GetTaskTool{gw: gw}
}

// Definition returns the MCP tool definition for registration.
func (t *GetTaskTool) Definition() mcp.Tool {
	return mcp.NewTool("get_task",
		mcp.WithDescription("Show one task with its full description."),
		mcp.WithString("task_id", mcp.Required(), mcp.Description("Task id.")),
		mcp.WithReadOnlyHintAnnotation(true),
	)
}

// Handle processes the get_task tool call.
func (t *GetTaskTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, bad := requiredString(req, "task_id")
	if bad != nil {
		return bad, nil
	}
	task, err := t.gw.GetTask(ctx, id)
	if err != nil {
		return failure("get task "+id, err, "", "the task does not exist; find the right id with list_tasks"), nil
	}

	var sb strings.Builder
	writeTask(&sb, task)
	fmt.Fprintf(&sb, "\nResource: `%s`\n", resources.TaskURI(task.ID))
	return mcp.NewToolResultText(sb.String()), nil
}

// ─── update_task ────────────────────────────────────────────────────────────

// UpdateTaskTool handles the update_task MCP tool.
type UpdateTaskTool struct {
	gw   *gateway.Client
	tags Expander
}

// NewUpdateTaskTool creates an UpdateTaskTool. tags may be nil.
func NewUpdateTaskTool(gw *gateway.Client, tags Expander) *UpdateTaskTool {
	return &UpdateTaskTool{gw: gw, tags: tags}
}

// Definition returns the MCP tool definition for registration.
func (t *UpdateTaskTool) Definition() mcp.Tool {
	return mcp.NewTool("update_task",
		mcp.WithDescription(
			"Change a task's title, description or status. Only the fields passed are changed. "+
				"@tag references in the description are expanded.",
		),
		mcp.WithString("task_id", mcp.Required(), mcp.Description("Task id.")),
		mcp.WithString("title", mcp.Description("New title.")),
		mcp.WithString("description", mcp.Description("New description. Supports @tag expansion.")),
		mcp.WithString("status",
			mcp.Description("New status (moves the card)."),
			mcp.Enum(gateway.TaskStatuses...),
		),
	)
}

// Handle processes the update_task tool call.
func (t *UpdateTaskTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, bad := requiredString(req, "task_id")
	if bad != nil {
		return bad, nil
	}

	var body gateway.UpdateTaskRequest
	if v := optionalString(req, "title"); v != nil {
		title := strings.TrimSpace(*v)
		if title == "" {
			return mcp.NewToolResultError("'title' cannot be blank"), nil
		}
		body.Title = &title
	}
	if v := optionalString(req, "description"); v != nil {
		desc := expand(ctx, t.tags, *v)
		body.Description = &desc
	}
	if v := optionalString(req, "status"); v != nil {
		status := strings.TrimSpace(*v)
		if !validTaskStatus(status) {
			return mcp.NewToolResultError(fmt.Sprintf("invalid status %q; use one of: %s",
				status, strings.Join(gateway.TaskStatuses, ", "))), nil
		}
		body.Status = &status
	}
	if body.Title == nil && body.Description == nil && body.Status == nil {
		return mcp.NewToolResultError("nothing to update: pass at least one of title, description, status"), nil
	}

	task, err := t.gw.UpdateTask(ctx, id, body)
	if err != nil {
		return failure("update task "+id, err, "", "the task does not exist; find the right id with list_tasks"), nil
	}

	var sb strings.Builder
	sb.WriteString("# Task updated\n\n")
	writeTask(&sb, task)
	return mcp.NewToolResultText(sb.String()), nil
}

// ─── delete_task ────────────────────────────────────────────────────────────

// DeleteTaskTool handles the delete_task MCP tool.
type DeleteTaskTool struct {
	gw *gateway.Client
}

// NewDeleteTaskTool creates a DeleteTaskTool.
func NewDeleteTaskTool(gw *gateway.Client) *DeleteTaskTool {
	return &DeleteTaskTool{gw: gw}
}

// Definition returns the MCP tool definition for registration.
func (t *DeleteTaskTool) Definition() mcp.Tool {
	return mcp.NewTool("delete_task",
		mcp.WithDescription("Delete a task and its workspaces. This cannot be undone."),
		mcp.WithString("task_id", mcp.Required(), mcp.Description("Task id.")),
		mcp.WithDestructiveHintAnnotation(true),
	)
}

// Handle processes the delete_task tool call.
func (t *DeleteTaskTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, bad := requiredString(req, "task_id")
	if bad != nil {
		return bad, nil
	}
	if err := t.gw.DeleteTask(ctx, id); err != nil {
		return failure("delete task "+id, err,
			"a task with a running attempt may need its session stopped first",
			"the task does not exist or was already deleted"), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Deleted task `%s`.", id)), nil
}

func expand(ctx context.Context, tags Expander, text string) string {
	if tags == nil {
		return text
	}
	return tags.Expand(ctx, text)
}
