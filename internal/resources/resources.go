// Package resources implements the kanban:// MCP resources.
//
// Two static resources (kanban://tasks, kanban://context) and three
// templates (task, session, session queue) all resolve through Reader, which
// is also what the subscription poller fingerprints. Payloads are the
// Gateway entities rendered as indented JSON.
package resources

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
)

const mimeJSON = "application/json"

// Handler serves resource reads for mcp-go.
type Handler struct {
	reader *Reader
}

// NewHandler creates a resource Handler.
func NewHandler(reader *Reader) *Handler {
	return &Handler{reader: reader}
}

// TasksResource lists the locked project's tasks.
func (h *Handler) TasksResource() mcp.Resource {
	return mcp.NewResource(
		Scheme+"tasks",
		"Project tasks",
		mcp.WithResourceDescription("All tasks in the configured project. Subscribe to be notified when any task changes."),
		mcp.WithMIMEType(mimeJSON),
	)
}

// ContextResource is the project/task/workspace bundle for the current workspace.
func (h *Handler) ContextResource() mcp.Resource {
	return mcp.NewResource(
		Scheme+"context",
		"Workspace context",
		mcp.WithResourceDescription("Project, task and workspace for the configured workspace ref."),
		mcp.WithMIMEType(mimeJSON),
	)
}

func (h *Handler) TaskTemplate() mcp.ResourceTemplate {
	return mcp.NewResourceTemplate(
		Scheme+"tasks/{taskId}",
		"Task",
		mcp.WithTemplateDescription("A single task by id."),
		mcp.WithTemplateMIMEType(mimeJSON),
	)
}

func (h *Handler) SessionTemplate() mcp.ResourceTemplate {
	return mcp.NewResourceTemplate(
		Scheme+"sessions/{sessionId}",
		"Session",
		mcp.WithTemplateDescription("A coding-agent session by id."),
		mcp.WithTemplateMIMEType(mimeJSON),
	)
}

func (h *Handler) SessionQueueTemplate() mcp.ResourceTemplate {
	return mcp.NewResourceTemplate(
		Scheme+"sessions/{sessionId}/queue",
		"Session queue",
		mcp.WithTemplateDescription("The follow-up message queued for a session, if any."),
		mcp.WithTemplateMIMEType(mimeJSON),
	)
}

// Handle reads any kanban:// resource. Unknown URIs fail the request;
// Gateway failures come back as a text/plain error body.
func (h *Handler) Handle(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	uri := req.Params.URI

	value, err := h.reader.Read(ctx, uri)
	if err != nil {
		if errors.Is(err, ErrUnknownResource) {
			return nil, err
		}
		return errorResource(uri, err.Error()), nil
	}

	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshaling %s: %w", uri, err)
	}

	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      uri,
			MIMEType: mimeJSON,
			Text:     string(data),
		},
	}, nil
}

// errorResource returns a resource with an error message.
func errorResource(uri, message string) []mcp.ResourceContents {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      uri,
			MIMEType: "text/plain",
			Text:     fmt.Sprintf("Error: %s", message),
		},
	}
}
