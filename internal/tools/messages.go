package tools

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/HendryAvila/kanbridge/internal/gateway"
	"github.com/HendryAvila/kanbridge/internal/messaging"
	"github.com/HendryAvila/kanbridge/internal/resources"
	"github.com/HendryAvila/kanbridge/internal/tracker"
)

const methodProgress = "notifications/progress"

// ─── send_message ───────────────────────────────────────────────────────────

// SendMessageTool handles the send_message MCP tool.
//
// Called normally it sends (or queues) the message and returns at once.
// Called as an MCP task it also follows the started execution process to a
// terminal status, reporting progress on the way, and the task's outcome
// mirrors the execution's.
type SendMessageTool struct {
	sender  *messaging.Sender
	tracker *tracker.Tracker // nullable: task calls then behave like plain ones
}

// NewSendMessageTool creates a SendMessageTool.
func NewSendMessageTool(sender *messaging.Sender, tr *tracker.Tracker) *SendMessageTool {
	return &SendMessageTool{sender: sender, tracker: tr}
}

// Definition returns the MCP tool definition for registration.
func (t *SendMessageTool) Definition() mcp.Tool {
	return mcp.NewTool("send_message",
		mcp.WithDescription(
			"Send a follow-up message to a coding-agent session. If the agent is busy the "+
				"message is queued and runs when the current execution finishes, unless "+
				"auto_queue is false. @tag references are expanded. Call as a task to be "+
				"notified when the resulting execution finishes.",
		),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("Session to message.")),
		mcp.WithString("message", mcp.Required(), mcp.Description("Prompt for the agent. Supports @tag expansion.")),
		mcp.WithString("executor",
			mcp.Description("Executor to run the message with. Defaults to the session's executor."),
		),
		mcp.WithString("variant", mcp.Description("Executor variant, e.g. PLAN.")),
		mcp.WithBoolean("auto_queue",
			mcp.Description("Queue the message when the session is busy (default true)."),
			mcp.DefaultBool(true),
		),
		mcp.WithTaskSupport(mcp.TaskSupportOptional),
	)
}

// Handle processes the send_message tool call.
func (t *SendMessageTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID, bad := requiredString(req, "session_id")
	if bad != nil {
		return bad, nil
	}
	message, bad := requiredString(req, "message")
	if bad != nil {
		return bad, nil
	}

	out := t.sender.Send(ctx, messaging.Request{
		SessionID: sessionID,
		Message:   message,
		Executor:  req.GetString("executor", ""),
		Variant:   req.GetString("variant", ""),
		AutoQueue: optionalBool(req, "auto_queue"),
	})

	switch out.State {
	case messaging.StateDoneQueued:
		return mcp.NewToolResultText(queuedText(sessionID, out)), nil
	case messaging.StateDoneSent:
		if req.Params.Task != nil && t.tracker != nil && out.Process != nil {
			return t.track(ctx, req, sessionID, out)
		}
		return mcp.NewToolResultText(sentText(sessionID, out)), nil
	default:
		return sendFailure(sessionID, out), nil
	}
}

// track follows the execution process until it is terminal. Failure and
// cancellation are returned as Go errors because mcp-go turns them into the
// task's failed and cancelled states.
func (t *SendMessageTool) track(ctx context.Context, req mcp.CallToolRequest, sessionID string, out *messaging.Outcome) (*mcp.CallToolResult, error) {
	rec := t.tracker.Track(ctx, sessionID, out.Process.ID, out.Message, progressEmitter(req))
	<-rec.Done()
	snap := rec.Snapshot()

	switch snap.Status {
	case tracker.StatusCompleted:
		var sb strings.Builder
		sb.WriteString(sentText(sessionID, out))
		fmt.Fprintf(&sb, "\nExecution `%s` **completed** in %s", snap.ProcessID, snap.Elapsed.Round(time.Second))
		if snap.ExitCode != nil {
			fmt.Fprintf(&sb, " with exit code %d", *snap.ExitCode)
		}
		sb.WriteString(".\n")
		return mcp.NewToolResultText(sb.String()), nil
	case tracker.StatusCancelled:
		return nil, fmt.Errorf("execution %s: %s: %w", snap.ProcessID, snap.Reason, context.Canceled)
	default:
		return nil, fmt.Errorf("execution %s: %s", snap.ProcessID, snap.Reason)
	}
}

// progressEmitter publishes tracker progress as notifications/progress when
// the caller supplied a progress token.
func progressEmitter(req mcp.CallToolRequest) tracker.ProgressFunc {
	if req.Params.Meta == nil || req.Params.Meta.ProgressToken == nil {
		return nil
	}
	token := req.Params.Meta.ProgressToken
	return func(ctx context.Context, p tracker.Progress) error {
		srv := server.ServerFromContext(ctx)
		if srv == nil {
			return errors.New("no MCP server in context")
		}
		return srv.SendNotificationToClient(ctx, methodProgress, map[string]any{
			"progressToken": token,
			"progress":      p.Iteration,
			"total":         p.Total,
			"message":       p.Message,
		})
	}
}

func sentText(sessionID string, out *messaging.Outcome) string {
	var sb strings.Builder
	sb.WriteString("# Message sent\n\n")
	fmt.Fprintf(&sb, "- **Session**: `%s`\n", sessionID)
	fmt.Fprintf(&sb, "- **Executor**: %s\n", profileString(out.Executor))
	if out.Process != nil {
		fmt.Fprintf(&sb, "- **Execution**: `%s` (%s)\n", out.Process.ID, out.Process.Status)
	}
	fmt.Fprintf(&sb, "\nFollow progress with `get_session` (include_processes) or subscribe to `%s`.\n",
		resources.SessionURI(sessionID))
	return sb.String()
}

func queuedText(sessionID string, out *messaging.Outcome) string {
	var sb strings.Builder
	sb.WriteString("# Message queued\n\n")
	fmt.Fprintf(&sb, "Session `%s` is busy, so the message was queued and will run when the current execution finishes.\n\n", sessionID)
	fmt.Fprintf(&sb, "- **Executor**: %s\n", profileString(out.Executor))
	if out.SendErr != nil {
		fmt.Fprintf(&sb, "- **Busy signal**: %v\n", out.SendErr)
	}
	if out.Queue.Queued() {
		fmt.Fprintf(&sb, "- **Queued**: %s\n", when(out.Queue.Message.QueuedAt))
	}
	fmt.Fprintf(&sb, "\nCheck it with `get_queue_status`, withdraw it with `cancel_queued_message`, or subscribe to `%s`.\n",
		resources.SessionQueueURI(sessionID))
	return sb.String()
}

func sendFailure(sessionID string, out *messaging.Outcome) *mcp.CallToolResult {
	var from messaging.State
	if n := len(out.Path); n >= 2 {
		from = out.Path[n-2]
	}
	switch {
	case from == messaging.StateResolvingExecutor:
		return failure("resolve an executor for session "+sessionID, out.Err,
			"pass executor explicitly (e.g. claude-code)",
			"the session does not exist; find it with list_sessions")
	case from == messaging.StateQueueing:
		return failure("queue the message for busy session "+sessionID, out.Err,
			"check get_queue_status; only one message can be queued per session", "")
	case messaging.IsBusySignal(out.Err):
		return failure("send to session "+sessionID, out.Err,
			"the session is busy; retry with auto_queue true or wait for the execution to finish", "")
	default:
		return failure("send to session "+sessionID, out.Err, "check the session id and executor",
			"the session does not exist; find it with list_sessions")
	}
}

// ─── get_queue_status ───────────────────────────────────────────────────────

// GetQueueStatusTool handles the get_queue_status MCP tool.
type GetQueueStatusTool struct {
	gw *gateway.Client
}

// NewGetQueueStatusTool creates a GetQueueStatusTool.
func NewGetQueueStatusTool(gw *gateway.Client) *GetQueueStatusTool {
	return &GetQueueStatusTool{gw: gw}
}

// Definition returns the MCP tool definition for registration.
func (t *GetQueueStatusTool) Definition() mcp.Tool {
	return mcp.NewTool("get_queue_status",
		mcp.WithDescription("Show whether a message is queued for a session."),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("Session id.")),
		mcp.WithReadOnlyHintAnnotation(true),
	)
}

// Handle processes the get_queue_status tool call.
func (t *GetQueueStatusTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, bad := requiredString(req, "session_id")
	if bad != nil {
		return bad, nil
	}
	q, err := t.gw.GetQueue(ctx, id)
	if err != nil {
		return failure("get the queue of session "+id, err, "", "the session does not exist; find it with list_sessions"), nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "# Queue for session `%s`\n\n", id)
	writeQueue(&sb, q)
	return mcp.NewToolResultText(sb.String()), nil
}

// ─── cancel_queued_message ──────────────────────────────────────────────────

// CancelQueuedMessageTool handles the cancel_queued_message MCP tool.
type CancelQueuedMessageTool struct {
	gw *gateway.Client
}

// NewCancelQueuedMessageTool creates a CancelQueuedMessageTool.
func NewCancelQueuedMessageTool(gw *gateway.Client) *CancelQueuedMessageTool {
	return &CancelQueuedMessageTool{gw: gw}
}

// Definition returns the MCP tool definition for registration.
func (t *CancelQueuedMessageTool) Definition() mcp.Tool {
	return mcp.NewTool("cancel_queued_message",
		mcp.WithDescription("Withdraw the message queued for a session before it runs."),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("Session id.")),
		mcp.WithDestructiveHintAnnotation(true),
	)
}

// Handle processes the cancel_queued_message tool call.
func (t *CancelQueuedMessageTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, bad := requiredString(req, "session_id")
	if bad != nil {
		return bad, nil
	}
	q, err := t.gw.CancelQueue(ctx, id)
	if err != nil {
		return failure("cancel the queued message of session "+id, err,
			"the message may already have started; check get_session",
			"the session does not exist; find it with list_sessions"), nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Cancelled the queued message for session `%s`.\n\n", id)
	writeQueue(&sb, q)
	return mcp.NewToolResultText(sb.String()), nil
}
