package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HendryAvila/kanbridge/internal/config"
	"github.com/HendryAvila/kanbridge/internal/gateway"
	"github.com/HendryAvila/kanbridge/internal/gateway/gatewaytest"
	"github.com/HendryAvila/kanbridge/internal/transport"
)

func testConfig(t *testing.T, gw *gatewaytest.Server) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.APIURL = gw.URL
	cfg.ProjectID = "p1"
	cfg.DataDir = t.TempDir()
	cfg.Subscriptions.PollInterval = 10 * time.Millisecond
	cfg.Tracker.PollInterval = 10 * time.Millisecond
	cfg.Tracker.MaxDuration = time.Second
	return &cfg
}

func newApp(t *testing.T, gw *gatewaytest.Server) *App {
	t.Helper()
	app, err := New(testConfig(t, gw), nil)
	require.NoError(t, err)
	t.Cleanup(app.Close)
	return app
}

// rpc sends one JSON-RPC request straight to the MCP server.
func rpc(t *testing.T, app *App, method string, params any) map[string]any {
	t.Helper()
	raw, err := json.Marshal(map[string]any{"jsonrpc": "2.0", "id": 1, "method": method, "params": params})
	require.NoError(t, err)
	resp := app.MCP.HandleMessage(context.Background(), raw)
	b, err := json.Marshal(resp)
	require.NoError(t, err)
	var out map[string]any
	require.NoError(t, json.Unmarshal(b, &out), string(b))
	require.Nil(t, out["error"], string(b))
	return out["result"].(map[string]any)
}

func initializeParams() map[string]any {
	return map[string]any{
		"protocolVersion": mcp.LATEST_PROTOCOL_VERSION,
		"capabilities":    map[string]any{},
		"clientInfo":      map[string]any{"name": "test", "version": "1.0"},
	}
}

func names(items []any, key string) []string {
	var out []string
	for _, it := range items {
		out = append(out, it.(map[string]any)[key].(string))
	}
	return out
}

func TestNew_RegistersSurface(t *testing.T) {
	app := newApp(t, gatewaytest.New(t))
	require.NotNil(t, app.History)
	assert.FileExists(t, app.cfg.HistoryPath())

	init := rpc(t, app, "initialize", initializeParams())
	caps := init["capabilities"].(map[string]any)
	assert.Equal(t, true, caps["resources"].(map[string]any)["subscribe"])
	assert.Contains(t, caps, "tasks")
	assert.Contains(t, caps, "prompts")
	assert.NotEmpty(t, init["instructions"])

	tools := rpc(t, app, "tools/list", map[string]any{})["tools"].([]any)
	assert.ElementsMatch(t, []string{
		"list_tasks", "create_task", "get_task", "update_task", "delete_task",
		"start_workspace_session", "get_context", "list_sessions", "get_session",
		"send_message", "get_queue_status", "cancel_queued_message",
	}, names(tools, "name"))

	prompts := rpc(t, app, "prompts/list", map[string]any{})["prompts"].([]any)
	assert.ElementsMatch(t, []string{"kanban-status", "delegate-task"}, names(prompts, "name"))

	res := rpc(t, app, "resources/list", map[string]any{})["resources"].([]any)
	assert.ElementsMatch(t, []string{"kanban://tasks", "kanban://context"}, names(res, "uri"))

	tmpl := rpc(t, app, "resources/templates/list", map[string]any{})["resourceTemplates"].([]any)
	assert.Len(t, tmpl, 3)
}

func TestNew_HistoryDisabled(t *testing.T) {
	gw := gatewaytest.New(t)
	cfg := testConfig(t, gw)
	cfg.History.Enabled = false

	app, err := New(cfg, nil)
	require.NoError(t, err)
	defer app.Close()
	assert.Nil(t, app.History)
}

func TestNew_InvalidGatewayURL(t *testing.T) {
	cfg := config.Default()
	cfg.APIURL = ""
	_, err := New(&cfg, nil)
	assert.Error(t, err)
}

// ─── stdio ───────────────────────────────────────────────────────────────────

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// boardGateway serves a task list whose title changes when bump is called.
func boardGateway(t *testing.T) (*gatewaytest.Server, func()) {
	gw := gatewaytest.New(t)
	var version atomic.Int32
	gw.Handle(http.MethodGet, "/api/tasks", func(*http.Request, []byte) gatewaytest.Reply {
		title := "Write docs"
		if version.Load() > 0 {
			title = "Write docs (revised)"
		}
		return gatewaytest.Reply{Data: []gateway.Task{{ID: "t1", ProjectID: "p1", Title: title, Status: gateway.TaskTodo}}}
	})
	return gw, func() { version.Add(1) }
}

func TestServeStdio_SubscribeNotifyForget(t *testing.T) {
	gw, bump := boardGateway(t)
	app := newApp(t, gw)

	inR, inW := io.Pipe()
	out := &syncBuffer{}
	done := make(chan error, 1)
	go func() { done <- app.ServeStdio(context.Background(), inR, out) }()

	send := func(msg string) {
		_, err := io.WriteString(inW, msg+"\n")
		require.NoError(t, err)
	}
	initRaw, _ := json.Marshal(map[string]any{"jsonrpc": "2.0", "id": 1, "method": "initialize", "params": initializeParams()})
	send(string(initRaw))
	send(`{"jsonrpc":"2.0","method":"notifications/initialized"}`)
	send(`{"jsonrpc":"2.0","id":2,"method":"resources/subscribe","params":{"uri":"kanban://tasks"}}`)

	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), `{"jsonrpc":"2.0","id":2,"result":{}}`)
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{transport.StdioSubscriber}, app.Subscriptions.Subscribers("kanban://tasks"))

	// Let the first cycle record a baseline, then change the board.
	require.Eventually(t, func() bool { return gw.CallCount(http.MethodGet, "/api/tasks") >= 2 },
		2*time.Second, 5*time.Millisecond)
	bump()

	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), `"method":"notifications/resources/updated"`)
	}, 2*time.Second, 5*time.Millisecond)
	assert.Contains(t, out.String(), `"uri":"kanban://tasks"`)

	require.NoError(t, inW.Close())
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("ServeStdio did not return after stdin closed")
	}
	assert.Empty(t, app.Subscriptions.URIs(), "closing the session forgets its subscriptions")
}

// ─── streamable HTTP ─────────────────────────────────────────────────────────

func post(t *testing.T, url, session string, body any) *http.Response {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(raw))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/event-stream")
	if session != "" {
		req.Header.Set("Mcp-Session-Id", session)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func TestHandler_SubscribeOverHTTP(t *testing.T) {
	gw, _ := boardGateway(t)
	app := newApp(t, gw)
	handler, _ := app.Handler()
	srv := httptest.NewServer(handler)
	defer srv.Close()

	resp := post(t, srv.URL+mcpPath, "", map[string]any{
		"jsonrpc": "2.0", "id": 1, "method": "initialize", "params": initializeParams(),
	})
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	session := resp.Header.Get("Mcp-Session-Id")
	require.NotEmpty(t, session, "stateful sessions carry an id")
	// mcp-go registers the session after writing the initialize reply.
	require.Eventually(t, func() bool { return app.Sessions.Known(session) }, 2*time.Second, 5*time.Millisecond)

	resp = post(t, srv.URL+mcpPath, "made-up-session", map[string]any{
		"jsonrpc": "2.0", "id": 9, "method": "resources/subscribe", "params": map[string]any{"uri": "kanban://tasks"},
	})
	var rejected struct {
		Error *struct {
			Code int `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&rejected))
	resp.Body.Close()
	require.NotNil(t, rejected.Error, "unregistered session ids are refused")
	assert.Equal(t, mcp.INVALID_REQUEST, rejected.Error.Code)
	assert.Empty(t, app.Subscriptions.URIs())
	assert.False(t, app.Subscriptions.Polling())

	resp = post(t, srv.URL+mcpPath, session, map[string]any{
		"jsonrpc": "2.0", "id": 2, "method": "resources/subscribe", "params": map[string]any{"uri": "kanban://tasks"},
	})
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"jsonrpc":"2.0","id":2,"result":{}}`, string(body))
	assert.Equal(t, []string{session}, app.Subscriptions.Subscribers("kanban://tasks"))

	req, err := http.NewRequest(http.MethodDelete, srv.URL+mcpPath, nil)
	require.NoError(t, err)
	req.Header.Set("Mcp-Session-Id", session)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Empty(t, app.Subscriptions.URIs())
	assert.False(t, app.Sessions.Known(session))
}

func TestHandler_Metrics(t *testing.T) {
	app := newApp(t, gatewaytest.New(t))
	handler, _ := app.Handler()

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, metricsPath, nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}
