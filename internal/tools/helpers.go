// Package tools implements the MCP tool handlers that front the Gateway.
//
// Each tool is a struct that receives its dependencies through its
// constructor and exposes Definition (for registration) and Handle (the
// mcp-go handler). Handlers never let a Gateway failure escape as a Go
// error: they return a tool error result naming the ids involved, the raw
// Gateway message and a suggested next step. Go errors are reserved for
// programming faults.
package tools

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/HendryAvila/kanbridge/internal/gateway"
)

// Expander rewrites @tag references in free text. tags.Expander satisfies it.
type Expander interface {
	Expand(ctx context.Context, text string) string
}

// failure builds a tool error for a failed Gateway call. hint is the
// suggested next step; a 404 gets a more specific one when notFound is set.
func failure(action string, err error, hint, notFound string) *mcp.CallToolResult {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Failed to %s: %v", action, err)

	var gerr *gateway.Error
	if errors.As(err, &gerr) && gerr.Status == http.StatusNotFound && notFound != "" {
		hint = notFound
	}
	if hint != "" {
		fmt.Fprintf(&sb, "\n\nNext step: %s", hint)
	}
	return mcp.NewToolResultError(sb.String())
}

// requiredString reads a non-blank string argument.
func requiredString(req mcp.CallToolRequest, key string) (string, *mcp.CallToolResult) {
	v := strings.TrimSpace(req.GetString(key, ""))
	if v == "" {
		return "", mcp.NewToolResultError(fmt.Sprintf("'%s' is required", key))
	}
	return v, nil
}

// optionalString returns a pointer to the argument when the caller passed
// it, even as an empty string, and nil when it was omitted.
func optionalString(req mcp.CallToolRequest, key string) *string {
	args := req.GetArguments()
	if args == nil {
		return nil
	}
	raw, ok := args[key]
	if !ok || raw == nil {
		return nil
	}
	s, ok := raw.(string)
	if !ok {
		return nil
	}
	return &s
}

// optionalBool is like optionalString for booleans.
func optionalBool(req mcp.CallToolRequest, key string) *bool {
	args := req.GetArguments()
	if args == nil {
		return nil
	}
	if v, ok := args[key]; !ok || v == nil {
		return nil
	}
	b := req.GetBool(key, true)
	return &b
}

func validTaskStatus(s string) bool {
	for _, v := range gateway.TaskStatuses {
		if s == v {
			return true
		}
	}
	return false
}

// ─── Formatting ─────────────────────────────────────────────────────────────

func when(t time.Time) string {
	if t.IsZero() {
		return "unknown"
	}
	return humanize.Time(t)
}

func deref(s *string, fallback string) string {
	if s == nil || *s == "" {
		return fallback
	}
	return *s
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

func writeTask(sb *strings.Builder, t *gateway.Task) {
	fmt.Fprintf(sb, "## %s\n\n", t.Title)
	fmt.Fprintf(sb, "- **ID**: `%s`\n", t.ID)
	fmt.Fprintf(sb, "- **Status**: %s\n", t.Status)
	fmt.Fprintf(sb, "- **Project**: `%s`\n", t.ProjectID)
	if t.HasInProgressAttempt {
		sb.WriteString("- **Attempt**: in progress\n")
	}
	if t.LastAttemptFailed {
		sb.WriteString("- **Last attempt**: failed\n")
	}
	fmt.Fprintf(sb, "- **Created**: %s\n", when(t.CreatedAt))
	fmt.Fprintf(sb, "- **Updated**: %s\n", when(t.UpdatedAt))
	if t.Description != nil && strings.TrimSpace(*t.Description) != "" {
		fmt.Fprintf(sb, "\n### Description\n\n%s\n", strings.TrimSpace(*t.Description))
	}
}

func writeProcess(sb *strings.Builder, p *gateway.ExecutionProcess) {
	fmt.Fprintf(sb, "- `%s` %s", p.ID, p.Status)
	if p.RunReason != "" {
		fmt.Fprintf(sb, " (%s)", p.RunReason)
	}
	if p.ExitCode != nil {
		fmt.Fprintf(sb, ", exit code %d", *p.ExitCode)
	}
	fmt.Fprintf(sb, ", started %s", when(p.StartedAt))
	if p.CompletedAt != nil {
		fmt.Fprintf(sb, ", finished %s", when(*p.CompletedAt))
	}
	sb.WriteString("\n")
}

func writeQueue(sb *strings.Builder, q *gateway.QueueStatus) {
	if !q.Queued() {
		sb.WriteString("Queue is **empty**.\n")
		return
	}
	m := q.Message
	sb.WriteString("A message is **queued** and will run when the current execution finishes.\n\n")
	fmt.Fprintf(sb, "- **Executor**: %s\n", profileString(m.Data.ExecutorProfile))
	fmt.Fprintf(sb, "- **Queued**: %s\n", when(m.QueuedAt))
	fmt.Fprintf(sb, "- **Message**: %s\n", truncate(m.Data.Message, 500))
}

func profileString(p gateway.ExecutorProfile) string {
	if p.Variant == "" {
		return p.Executor
	}
	return p.Executor + " / " + p.Variant
}
