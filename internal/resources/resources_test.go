package resources

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HendryAvila/kanbridge/internal/gateway"
	"github.com/HendryAvila/kanbridge/internal/gateway/gatewaytest"
)

func TestParse(t *testing.T) {
	tests := []struct {
		raw  string
		want URI
		ok   bool
	}{
		{"kanban://tasks", URI{Kind: KindAllTasks}, true},
		{"kanban://context", URI{Kind: KindContext}, true},
		{"kanban://tasks/t-1", URI{Kind: KindTask, TaskID: "t-1"}, true},
		{"kanban://sessions/s-1", URI{Kind: KindSession, SessionID: "s-1"}, true},
		{"kanban://sessions/s-1/queue", URI{Kind: KindSessionQueue, SessionID: "s-1"}, true},

		{"", URI{}, false},
		{"kanban://", URI{}, false},
		{"kanban://tasks/", URI{}, false},
		{"kanban://tasks/a/b", URI{}, false},
		{"kanban://sessions", URI{}, false},
		{"kanban://sessions//queue", URI{}, false},
		{"kanban://sessions/s-1/logs", URI{}, false},
		{"kanban://projects/p", URI{}, false},
		{"board://tasks", URI{}, false},
		{"KANBAN://tasks", URI{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, ok := Parse(tt.raw)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
			if ok {
				assert.Equal(t, tt.raw, got.String(), "parse/String round trip")
			}
		})
	}
}

func TestURIHelpers(t *testing.T) {
	assert.Equal(t, "kanban://tasks/t1", TaskURI("t1"))
	assert.Equal(t, "kanban://sessions/s1", SessionURI("s1"))
	assert.Equal(t, "kanban://sessions/s1/queue", SessionQueueURI("s1"))
	assert.Equal(t, "", URI{}.String())
}

func newReader(t *testing.T, srv *gatewaytest.Server, project string) *Reader {
	t.Helper()
	c, err := gateway.New(gateway.Options{BaseURL: srv.URL, ProjectID: project})
	require.NoError(t, err)
	return NewReader(c)
}

func TestReader_Dispatch(t *testing.T) {
	srv := gatewaytest.New(t)
	srv.OK(http.MethodGet, "/api/tasks", []map[string]any{{"id": "t1"}})
	srv.OK(http.MethodGet, "/api/tasks/t1", map[string]any{"id": "t1"})
	srv.OK(http.MethodGet, "/api/containers/attempt-context", map[string]any{"project": map[string]any{"id": "p1"}})
	srv.OK(http.MethodGet, "/api/sessions/s1", map[string]any{"id": "s1"})
	srv.OK(http.MethodGet, "/api/sessions/s1/queue", map[string]any{"status": "empty"})
	r := newReader(t, srv, "p1")
	ctx := context.Background()

	v, err := r.Read(ctx, "kanban://tasks")
	require.NoError(t, err)
	assert.Len(t, v, 1)
	assert.Contains(t, srv.Calls(http.MethodGet, "/api/tasks")[0].Query, "project_id=p1")

	v, err = r.Read(ctx, "kanban://tasks/t1")
	require.NoError(t, err)
	assert.Equal(t, "t1", v.(*gateway.Task).ID)

	v, err = r.Read(ctx, "kanban://context")
	require.NoError(t, err)
	assert.Equal(t, "p1", v.(*gateway.Context).Project.ID)

	v, err = r.Read(ctx, "kanban://sessions/s1")
	require.NoError(t, err)
	assert.Equal(t, "s1", v.(*gateway.Session).ID)

	v, err = r.Read(ctx, "kanban://sessions/s1/queue")
	require.NoError(t, err)
	assert.Equal(t, gateway.QueueEmpty, v.(*gateway.QueueStatus).Status)
}

func TestReader_UnknownAndUnlocked(t *testing.T) {
	srv := gatewaytest.New(t)
	r := newReader(t, srv, "")

	_, err := r.Read(context.Background(), "kanban://nope")
	assert.True(t, errors.Is(err, ErrUnknownResource))

	_, err = r.Read(context.Background(), "kanban://tasks")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "project_id")
}

func TestHandler_Handle(t *testing.T) {
	srv := gatewaytest.New(t)
	srv.OK(http.MethodGet, "/api/tasks/t1", map[string]any{"id": "t1", "title": "Ship it"})
	srv.Fail(http.MethodGet, "/api/tasks/gone", http.StatusNotFound, "task not found")
	h := NewHandler(newReader(t, srv, "p1"))

	read := func(uri string) mcp.ReadResourceRequest {
		var req mcp.ReadResourceRequest
		req.Params.URI = uri
		return req
	}

	contents, err := h.Handle(context.Background(), read("kanban://tasks/t1"))
	require.NoError(t, err)
	require.Len(t, contents, 1)
	text := contents[0].(mcp.TextResourceContents)
	assert.Equal(t, "application/json", text.MIMEType)
	assert.Contains(t, text.Text, `"title": "Ship it"`)

	contents, err = h.Handle(context.Background(), read("kanban://tasks/gone"))
	require.NoError(t, err)
	text = contents[0].(mcp.TextResourceContents)
	assert.Equal(t, "text/plain", text.MIMEType)
	assert.Contains(t, text.Text, "task not found")

	_, err = h.Handle(context.Background(), read("kanban://bogus"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown resource")
}

func TestHandler_Definitions(t *testing.T) {
	h := NewHandler(nil)
	assert.Equal(t, "kanban://tasks", h.TasksResource().URI)
	assert.Equal(t, "kanban://context", h.ContextResource().URI)
	assert.NotNil(t, h.TaskTemplate().URITemplate)
	assert.NotNil(t, h.SessionTemplate().URITemplate)
	assert.NotNil(t, h.SessionQueueTemplate().URITemplate)
}
