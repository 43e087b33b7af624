package gateway

import "time"

// Task statuses accepted by the Gateway.
const (
	TaskTodo       = "todo"
	TaskInProgress = "inprogress"
	TaskInReview   = "inreview"
	TaskDone       = "done"
	TaskCancelled  = "cancelled"
)

// TaskStatuses lists every valid task status.
var TaskStatuses = []string{TaskTodo, TaskInProgress, TaskInReview, TaskDone, TaskCancelled}

// Execution process statuses reported by the Gateway.
const (
	ProcessRunning   = "running"
	ProcessCompleted = "completed"
	ProcessFailed    = "failed"
	ProcessKilled    = "killed"
)

// Queue statuses.
const (
	QueueEmpty  = "empty"
	QueueQueued = "queued"
)

type Task struct {
	ID                   string    `json:"id"`
	ProjectID            string    `json:"project_id"`
	Title                string    `json:"title"`
	Description          *string   `json:"description,omitempty"`
	Status               string    `json:"status"`
	HasInProgressAttempt bool      `json:"has_in_progress_attempt,omitempty"`
	LastAttemptFailed    bool      `json:"last_attempt_failed,omitempty"`
	CreatedAt            time.Time `json:"created_at"`
	UpdatedAt            time.Time `json:"updated_at"`
}

type ListTasksOptions struct {
	ProjectID string
	Status    string
	Limit     int
}

type CreateTaskRequest struct {
	ProjectID   string  `json:"project_id"`
	Title       string  `json:"title"`
	Description *string `json:"description,omitempty"`
}

// UpdateTaskRequest carries only the fields being changed.
type UpdateTaskRequest struct {
	Title       *string `json:"title,omitempty"`
	Description *string `json:"description,omitempty"`
	Status      *string `json:"status,omitempty"`
}

type Project struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

type Repo struct {
	ID          string `json:"id"`
	Path        string `json:"path"`
	Name        string `json:"name"`
	DisplayName string `json:"display_name,omitempty"`
}

// ExecutorProfile names a coding agent and an optional variant of it.
type ExecutorProfile struct {
	Executor string `json:"executor"`
	Variant  string `json:"variant,omitempty"`
}

type WorkspaceRepoInput struct {
	RepoID       string `json:"repo_id"`
	TargetBranch string `json:"target_branch"`
}

type CreateWorkspaceRequest struct {
	TaskID          string               `json:"task_id"`
	ExecutorProfile ExecutorProfile      `json:"executor_profile_id"`
	Repos           []WorkspaceRepoInput `json:"repos"`
}

type Workspace struct {
	ID           string    `json:"id"`
	TaskID       string    `json:"task_id"`
	Branch       string    `json:"branch"`
	ContainerRef *string   `json:"container_ref,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Context bundles the project, task and workspace an attempt runs in.
type Context struct {
	Project   Project   `json:"project"`
	Task      Task      `json:"task"`
	Workspace Workspace `json:"workspace"`
	Repos     []Repo    `json:"workspace_repos,omitempty"`
}

type Session struct {
	ID          string    `json:"id"`
	WorkspaceID string    `json:"workspace_id"`
	Executor    *string   `json:"executor,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// ExecutionProcess is one coding-agent run inside a session.
type ExecutionProcess struct {
	ID          string     `json:"id"`
	SessionID   string     `json:"session_id"`
	RunReason   string     `json:"run_reason,omitempty"`
	Status      string     `json:"status"`
	ExitCode    *int64     `json:"exit_code,omitempty"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

type FollowUpRequest struct {
	Prompt          string          `json:"prompt"`
	ExecutorProfile ExecutorProfile `json:"executor_profile_id"`
}

type QueueRequest struct {
	Message         string          `json:"message"`
	ExecutorProfile ExecutorProfile `json:"executor_profile_id"`
}

// QueueStatus is either {status: empty} or {status: queued, message: ...}.
type QueueStatus struct {
	Status  string         `json:"status"`
	Message *QueuedMessage `json:"message,omitempty"`
}

// Queued reports whether a message is waiting.
func (q *QueueStatus) Queued() bool {
	return q != nil && q.Status == QueueQueued && q.Message != nil
}

type QueuedMessage struct {
	SessionID string       `json:"session_id"`
	Data      QueueRequest `json:"data"`
	QueuedAt  time.Time    `json:"queued_at"`
}

type Tag struct {
	ID      string `json:"id"`
	TagName string `json:"tag_name"`
	Content string `json:"content"`
}
