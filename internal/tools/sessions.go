package tools

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/HendryAvila/kanbridge/internal/gateway"
	"github.com/HendryAvila/kanbridge/internal/history"
	"github.com/HendryAvila/kanbridge/internal/resources"
	"github.com/HendryAvila/kanbridge/internal/tracker"
)

// historyLimit is how many tracked sends get_session shows.
const historyLimit = 10

// ─── list_sessions ──────────────────────────────────────────────────────────

// ListSessionsTool handles the list_sessions MCP tool.
type ListSessionsTool struct {
	gw *gateway.Client
}

// NewListSessionsTool creates a ListSessionsTool.
func NewListSessionsTool(gw *gateway.Client) *ListSessionsTool {
	return &ListSessionsTool{gw: gw}
}

// Definition returns the MCP tool definition for registration.
func (t *ListSessionsTool) Definition() mcp.Tool {
	return mcp.NewTool("list_sessions",
		mcp.WithDescription("List the coding-agent sessions of a workspace."),
		mcp.WithString("workspace_id", mcp.Required(), mcp.Description("Workspace id from start_workspace_session.")),
		mcp.WithReadOnlyHintAnnotation(true),
	)
}

// Handle processes the list_sessions tool call.
func (t *ListSessionsTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	wsID, bad := requiredString(req, "workspace_id")
	if bad != nil {
		return bad, nil
	}
	sessions, err := t.gw.ListSessions(ctx, wsID)
	if err != nil {
		return failure("list sessions of workspace "+wsID, err, "", "the workspace does not exist"), nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "# Sessions in workspace `%s`\n\n", wsID)
	if len(sessions) == 0 {
		sb.WriteString("_No sessions yet. The workspace may still be starting._\n")
		return mcp.NewToolResultText(sb.String()), nil
	}
	for _, s := range sessions {
		fmt.Fprintf(&sb, "- `%s` executor %s, started %s\n", s.ID, deref(s.Executor, "unknown"), when(s.CreatedAt))
	}
	return mcp.NewToolResultText(sb.String()), nil
}

// ─── get_session ────────────────────────────────────────────────────────────

// SessionHistory looks up past tracked sends. history.Store satisfies it.
type SessionHistory interface {
	BySession(ctx context.Context, sessionID string, limit int) ([]history.Record, error)
}

// ActiveTracking lists in-flight tracked sends. tracker.Tracker satisfies it.
type ActiveTracking interface {
	Active(sessionID string) []tracker.Snapshot
}

// GetSessionTool handles the get_session MCP tool.
type GetSessionTool struct {
	gw      *gateway.Client
	active  ActiveTracking // nullable
	history SessionHistory // nullable
}

// NewGetSessionTool creates a GetSessionTool. active and hist may be nil;
// the matching report sections are then skipped.
func NewGetSessionTool(gw *gateway.Client, active ActiveTracking, hist SessionHistory) *GetSessionTool {
	return &GetSessionTool{gw: gw, active: active, history: hist}
}

// Definition returns the MCP tool definition for registration.
func (t *GetSessionTool) Definition() mcp.Tool {
	return mcp.NewTool("get_session",
		mcp.WithDescription(
			"Show a coding-agent session. With include_processes, also lists its execution "+
				"processes and the messages this server is tracking for it.",
		),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("Session id.")),
		mcp.WithBoolean("include_processes",
			mcp.Description("Also list execution processes and tracked messages (default false)."),
			mcp.DefaultBool(false),
		),
		mcp.WithReadOnlyHintAnnotation(true),
	)
}

// Handle processes the get_session tool call.
func (t *GetSessionTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, bad := requiredString(req, "session_id")
	if bad != nil {
		return bad, nil
	}
	s, err := t.gw.GetSession(ctx, id)
	if err != nil {
		return failure("get session "+id, err, "", "the session does not exist; find it with list_sessions"), nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "# Session `%s`\n\n", s.ID)
	fmt.Fprintf(&sb, "- **Workspace**: `%s`\n", s.WorkspaceID)
	fmt.Fprintf(&sb, "- **Executor**: %s\n", deref(s.Executor, "unknown"))
	fmt.Fprintf(&sb, "- **Started**: %s\n", when(s.CreatedAt))
	fmt.Fprintf(&sb, "- **Updated**: %s\n", when(s.UpdatedAt))
	fmt.Fprintf(&sb, "- **Resources**: `%s`, `%s`\n", resources.SessionURI(s.ID), resources.SessionQueueURI(s.ID))

	if !req.GetBool("include_processes", false) {
		return mcp.NewToolResultText(sb.String()), nil
	}

	sb.WriteString("\n## Execution processes\n\n")
	procs, err := t.gw.ListProcesses(ctx, id)
	switch {
	case err != nil:
		fmt.Fprintf(&sb, "_Could not list processes: %v_\n", err)
	case len(procs) == 0:
		sb.WriteString("_None yet._\n")
	default:
		for i := range procs {
			writeProcess(&sb, &procs[i])
		}
	}

	t.writeTracking(ctx, &sb, id)
	return mcp.NewToolResultText(sb.String()), nil
}

func (t *GetSessionTool) writeTracking(ctx context.Context, sb *strings.Builder, sessionID string) {
	if t.active != nil {
		if active := t.active.Active(sessionID); len(active) > 0 {
			sb.WriteString("\n## Messages being tracked\n\n")
			for _, a := range active {
				fmt.Fprintf(sb, "- `%s` process `%s`: %s after %d poll(s), sent %s: %s\n",
					a.ID, a.ProcessID, a.Status, a.Iterations, when(a.CreatedAt), truncate(a.Message, 80))
			}
		}
	}

	if t.history == nil {
		return
	}
	records, err := t.history.BySession(ctx, sessionID, historyLimit)
	if err != nil {
		fmt.Fprintf(sb, "\n_Could not read tracking history: %v_\n", err)
		return
	}
	if len(records) == 0 {
		return
	}
	sb.WriteString("\n## Tracking history\n\n")
	for _, r := range records {
		fmt.Fprintf(sb, "- `%s` %s", r.ProcessID, r.Status)
		if r.ExitCode != nil {
			fmt.Fprintf(sb, " (exit %d)", *r.ExitCode)
		}
		if r.Elapsed > 0 {
			fmt.Fprintf(sb, " in %s", r.Elapsed.Round(time.Second))
		}
		fmt.Fprintf(sb, ", sent %s", when(r.CreatedAt))
		if r.Reason != "" {
			fmt.Fprintf(sb, ": %s", r.Reason)
		}
		sb.WriteString("\n")
	}
}
