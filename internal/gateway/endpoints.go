package gateway

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
)

// ─── Tasks ──────────────────────────────────────────────────────────────────

func (c *Client) ListTasks(ctx context.Context, opts ListTasksOptions) ([]Task, error) {
	q := url.Values{}
	q.Set("project_id", opts.ProjectID)
	if opts.Status != "" {
		q.Set("status", opts.Status)
	}
	if opts.Limit > 0 {
		q.Set("limit", strconv.Itoa(opts.Limit))
	}
	var tasks []Task
	if err := c.Do(ctx, http.MethodGet, "/api/tasks", q, nil, &tasks); err != nil {
		return nil, err
	}
	return tasks, nil
}

func (c *Client) CreateTask(ctx context.Context, req CreateTaskRequest) (*Task, error) {
	var task Task
	if err := c.Do(ctx, http.MethodPost, "/api/tasks", nil, req, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

func (c *Client) GetTask(ctx context.Context, id string) (*Task, error) {
	var task Task
	if err := c.Do(ctx, http.MethodGet, "/api/tasks/"+escape(id), nil, nil, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

func (c *Client) UpdateTask(ctx context.Context, id string, req UpdateTaskRequest) (*Task, error) {
	var task Task
	if err := c.Do(ctx, http.MethodPut, "/api/tasks/"+escape(id), nil, req, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

func (c *Client) DeleteTask(ctx context.Context, id string) error {
	return c.Do(ctx, http.MethodDelete, "/api/tasks/"+escape(id), nil, nil, nil)
}

// ─── Repositories & workspaces ──────────────────────────────────────────────

func (c *Client) ListRepos(ctx context.Context, projectID string) ([]Repo, error) {
	var repos []Repo
	if err := c.Do(ctx, http.MethodGet, "/api/projects/"+escape(projectID)+"/repositories", nil, nil, &repos); err != nil {
		return nil, err
	}
	return repos, nil
}

func (c *Client) CreateWorkspace(ctx context.Context, req CreateWorkspaceRequest) (*Workspace, error) {
	var ws Workspace
	if err := c.Do(ctx, http.MethodPost, "/api/task-attempts", nil, req, &ws); err != nil {
		return nil, err
	}
	return &ws, nil
}

// GetContext fetches the attempt context for ref, or for the configured
// workspace ref when ref is empty.
func (c *Client) GetContext(ctx context.Context, ref string) (*Context, error) {
	if ref == "" {
		ref = c.workspaceRef
	}
	var q url.Values
	if ref != "" {
		q = url.Values{"ref": {ref}}
	}
	var out Context
	if err := c.Do(ctx, http.MethodGet, "/api/containers/attempt-context", q, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ─── Sessions & execution processes ─────────────────────────────────────────

func (c *Client) ListSessions(ctx context.Context, workspaceID string) ([]Session, error) {
	var sessions []Session
	q := url.Values{"workspace_id": {workspaceID}}
	if err := c.Do(ctx, http.MethodGet, "/api/sessions", q, nil, &sessions); err != nil {
		return nil, err
	}
	return sessions, nil
}

func (c *Client) GetSession(ctx context.Context, id string) (*Session, error) {
	var s Session
	if err := c.Do(ctx, http.MethodGet, "/api/sessions/"+escape(id), nil, nil, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// SendFollowUp starts a new execution process in the session. The Gateway
// rejects it while another process is still running.
func (c *Client) SendFollowUp(ctx context.Context, sessionID string, req FollowUpRequest) (*ExecutionProcess, error) {
	var p ExecutionProcess
	if err := c.Do(ctx, http.MethodPost, "/api/sessions/"+escape(sessionID)+"/follow-up", nil, req, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (c *Client) GetProcess(ctx context.Context, id string) (*ExecutionProcess, error) {
	var p ExecutionProcess
	if err := c.Do(ctx, http.MethodGet, "/api/execution-processes/"+escape(id), nil, nil, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (c *Client) ListProcesses(ctx context.Context, sessionID string) ([]ExecutionProcess, error) {
	var ps []ExecutionProcess
	q := url.Values{"session_id": {sessionID}}
	if err := c.Do(ctx, http.MethodGet, "/api/execution-processes", q, nil, &ps); err != nil {
		return nil, err
	}
	return ps, nil
}

// ─── Queue ──────────────────────────────────────────────────────────────────

func queuePath(sessionID string) string { return "/api/sessions/" + escape(sessionID) + "/queue" }

func (c *Client) QueueMessage(ctx context.Context, sessionID string, req QueueRequest) (*QueueStatus, error) {
	var qs QueueStatus
	if err := c.Do(ctx, http.MethodPost, queuePath(sessionID), nil, req, &qs); err != nil {
		return nil, err
	}
	return &qs, nil
}

func (c *Client) GetQueue(ctx context.Context, sessionID string) (*QueueStatus, error) {
	var qs QueueStatus
	if err := c.Do(ctx, http.MethodGet, queuePath(sessionID), nil, nil, &qs); err != nil {
		return nil, err
	}
	return &qs, nil
}

func (c *Client) CancelQueue(ctx context.Context, sessionID string) (*QueueStatus, error) {
	var qs QueueStatus
	if err := c.Do(ctx, http.MethodDelete, queuePath(sessionID), nil, nil, &qs); err != nil {
		return nil, err
	}
	return &qs, nil
}

// ─── Tags ───────────────────────────────────────────────────────────────────

func (c *Client) ListTags(ctx context.Context) ([]Tag, error) {
	var tags []Tag
	if err := c.Do(ctx, http.MethodGet, "/api/tags", nil, nil, &tags); err != nil {
		return nil, err
	}
	return tags, nil
}
