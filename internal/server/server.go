// Package server wires all MCP components and creates the server instance.
//
// This is the composition root: it creates concrete implementations and
// injects them into the tools, prompts and resources that depend on them.
// No business logic lives here, only wiring and transport lifecycles.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/HendryAvila/kanbridge/internal/config"
	"github.com/HendryAvila/kanbridge/internal/gateway"
	"github.com/HendryAvila/kanbridge/internal/history"
	"github.com/HendryAvila/kanbridge/internal/logging"
	"github.com/HendryAvila/kanbridge/internal/messaging"
	"github.com/HendryAvila/kanbridge/internal/metrics"
	"github.com/HendryAvila/kanbridge/internal/prompts"
	"github.com/HendryAvila/kanbridge/internal/resources"
	"github.com/HendryAvila/kanbridge/internal/subscription"
	"github.com/HendryAvila/kanbridge/internal/tags"
	"github.com/HendryAvila/kanbridge/internal/tools"
	"github.com/HendryAvila/kanbridge/internal/tracker"
	"github.com/HendryAvila/kanbridge/internal/transport"
)

// Version is set at build time via ldflags.
var Version = "dev"

const (
	serverName      = "kanbridge"
	mcpPath         = "/mcp"
	metricsPath     = "/metrics"
	shutdownTimeout = 5 * time.Second
)

// App is a fully wired kanbridge server.
type App struct {
	MCP           *server.MCPServer
	Gateway       *gateway.Client
	Router        *transport.Router
	Subscriptions *subscription.Manager
	Sessions      *transport.Sessions
	Tracker       *tracker.Tracker
	Metrics       *metrics.Metrics
	History       *history.Store // nil when history is disabled or failed to open

	cfg *config.Config
	log *zap.Logger
}

// New creates the MCP server with all tools, prompts and resources
// registered. This is the single place where all dependencies are resolved.
//
// Close must be called on shutdown. A history store that fails to open is
// logged and skipped; everything else still works without it.
func New(cfg *config.Config, log *zap.Logger) (*App, error) {
	if log == nil {
		log = zap.NewNop()
	}
	app := &App{cfg: cfg, log: log}

	// --- Create shared dependencies ---

	m, err := metrics.New()
	if err != nil {
		return nil, fmt.Errorf("creating metrics: %w", err)
	}
	app.Metrics = m

	gw, err := gateway.New(gateway.Options{
		BaseURL:      cfg.APIURL,
		ProjectID:    cfg.ProjectID,
		RepoID:       cfg.RepoID,
		WorkspaceRef: cfg.WorkspaceRef,
		Doer:         newDoer(cfg.Gateway),
		Logger:       logging.Component(log, "gateway"),
		Metrics:      m,
	})
	if err != nil {
		return nil, fmt.Errorf("creating gateway client: %w", err)
	}
	app.Gateway = gw

	trackerOpts := tracker.Options{
		PollInterval:  cfg.Tracker.PollInterval,
		MaxIterations: cfg.TrackerIterations(),
		Logger:        logging.Component(log, "tracker"),
		Metrics:       m,
	}
	if cfg.History.Enabled {
		app.History = openHistory(cfg, log)
		if app.History != nil {
			trackerOpts.Store = app.History
		}
	}
	app.Tracker = tracker.New(gw, trackerOpts)

	expander := tags.NewExpander(gw, logging.Component(log, "tags"))
	sender := messaging.NewSender(gw, expander, logging.Component(log, "messaging"), m)
	reader := resources.NewReader(gw)

	// --- Create the MCP server ---

	app.Sessions = transport.NewSessions()
	hooks := &server.Hooks{}
	hooks.AddOnRegisterSession(func(_ context.Context, session server.ClientSession) {
		app.Sessions.Add(session.SessionID())
	})
	hooks.AddOnUnregisterSession(func(_ context.Context, session server.ClientSession) {
		app.Sessions.Remove(session.SessionID())
		app.Subscriptions.Forget(session.SessionID())
	})

	s := server.NewMCPServer(
		serverName,
		Version,
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(true, false),
		server.WithPromptCapabilities(false),
		server.WithTaskCapabilities(true, true, true),
		server.WithHooks(hooks),
		server.WithRecovery(),
		server.WithInstructions(serverInstructions()),
	)
	app.MCP = s

	app.Subscriptions = subscription.NewManager(reader, app.notifier(), subscription.Options{
		Interval:    cfg.Subscriptions.PollInterval,
		Concurrency: cfg.Subscriptions.Concurrency,
		Logger:      logging.Component(log, "subscriptions"),
		Metrics:     m,
	})
	app.Router = transport.NewRouter(app.Subscriptions, logging.Component(log, "router"),
		transport.WithSessions(app.Sessions))

	// --- Register task tools ---

	listTasks := tools.NewListTasksTool(gw)
	s.AddTool(listTasks.Definition(), listTasks.Handle)

	createTask := tools.NewCreateTaskTool(gw, expander)
	s.AddTool(createTask.Definition(), createTask.Handle)

	getTask := tools.NewGetTaskTool(gw)
	s.AddTool(getTask.Definition(), getTask.Handle)

	updateTask := tools.NewUpdateTaskTool(gw, expander)
	s.AddTool(updateTask.Definition(), updateTask.Handle)

	deleteTask := tools.NewDeleteTaskTool(gw)
	s.AddTool(deleteTask.Definition(), deleteTask.Handle)

	// --- Register workspace and session tools ---

	startSession := tools.NewStartWorkspaceSessionTool(gw)
	s.AddTool(startSession.Definition(), startSession.Handle)

	getContext := tools.NewGetContextTool(gw)
	s.AddTool(getContext.Definition(), getContext.Handle)

	listSessions := tools.NewListSessionsTool(gw)
	s.AddTool(listSessions.Definition(), listSessions.Handle)

	// A nil *history.Store must not become a non-nil interface.
	var hist tools.SessionHistory
	if app.History != nil {
		hist = app.History
	}
	getSession := tools.NewGetSessionTool(gw, app.Tracker, hist)
	s.AddTool(getSession.Definition(), getSession.Handle)

	// --- Register messaging tools ---
	//
	// send_message supports task augmentation: as an MCP task it follows
	// the execution process it started until it is terminal.

	sendMessage := tools.NewSendMessageTool(sender, app.Tracker)
	s.AddTool(sendMessage.Definition(), sendMessage.Handle)

	queueStatus := tools.NewGetQueueStatusTool(gw)
	s.AddTool(queueStatus.Definition(), queueStatus.Handle)

	cancelQueued := tools.NewCancelQueuedMessageTool(gw)
	s.AddTool(cancelQueued.Definition(), cancelQueued.Handle)

	// --- Register prompts ---

	statusPrompt := prompts.NewStatusPrompt()
	s.AddPrompt(statusPrompt.Definition(), statusPrompt.Handle)

	delegatePrompt := prompts.NewDelegatePrompt()
	s.AddPrompt(delegatePrompt.Definition(), delegatePrompt.Handle)

	// --- Register resources ---

	rh := resources.NewHandler(reader)
	s.AddResource(rh.TasksResource(), rh.Handle)
	s.AddResource(rh.ContextResource(), rh.Handle)
	s.AddResourceTemplate(rh.TaskTemplate(), rh.Handle)
	s.AddResourceTemplate(rh.SessionTemplate(), rh.Handle)
	s.AddResourceTemplate(rh.SessionQueueTemplate(), rh.Handle)

	return app, nil
}

// newDoer picks the Gateway transport strategy.
func newDoer(cfg config.GatewayConfig) gateway.Doer {
	if cfg.Transport == config.TransportCurl {
		return &gateway.CurlDoer{Path: cfg.CurlPath, Timeout: cfg.Timeout}
	}
	return gateway.NewHTTPDoer(cfg.Timeout)
}

// openHistory opens the history store and fails any record a previous
// process left in "working". It returns nil when the store is unusable.
func openHistory(cfg *config.Config, log *zap.Logger) *history.Store {
	path := cfg.HistoryPath()
	store, err := history.New(history.Config{DataDir: filepath.Dir(path), DBName: filepath.Base(path)})
	if err != nil {
		log.Warn("tracking history disabled", zap.String("path", path), zap.Error(err))
		return nil
	}
	n, err := store.MarkInterrupted(context.Background())
	switch {
	case err != nil:
		log.Warn("mark interrupted tracking records", zap.Error(err))
	case n > 0:
		log.Info("marked interrupted tracking records", zap.Int64("count", n))
	}
	return store
}

// notifier delivers resources/updated to the session that subscribed.
func (a *App) notifier() subscription.NotifierFunc {
	return func(subscriber, uri string) error {
		return a.MCP.SendNotificationToSpecificClient(subscriber, mcp.MethodNotificationResourceUpdated,
			map[string]any{"uri": uri})
	}
}

// Close stops the poll loop and closes the history store.
func (a *App) Close() {
	a.Subscriptions.StopPolling()
	if a.History != nil {
		if err := a.History.Close(); err != nil {
			a.log.Warn("history store close", zap.Error(err))
		}
	}
}

// ─── Transports ──────────────────────────────────────────────────────────────

// ServeStdio serves MCP over in/out until ctx is cancelled or in is closed.
// Subscription requests are answered by the router before mcp-go sees the
// stream; both write through one locked writer.
func (a *App) ServeStdio(ctx context.Context, in io.Reader, out io.Writer) error {
	if addr := a.cfg.Metrics.Addr; addr != "" {
		stop := a.serveMetrics(addr)
		defer stop()
	}

	stdio := server.NewStdioServer(a.MCP)
	stdio.SetErrorLogger(zap.NewStdLog(logging.Component(a.log, "stdio")))

	lw := transport.NewLockedWriter(out)
	err := stdio.Listen(ctx, a.Router.Filter(transport.StdioSubscriber, in, lw), lw)
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// Handler returns the HTTP surface: streamable MCP on /mcp behind the
// subscription middleware, and Prometheus metrics on /metrics.
func (a *App) Handler() (http.Handler, *server.StreamableHTTPServer) {
	streamable := server.NewStreamableHTTPServer(a.MCP,
		server.WithEndpointPath(mcpPath),
		server.WithStateful(true),
	)
	mux := http.NewServeMux()
	mux.Handle(mcpPath, a.Router.Middleware(streamable))
	mux.Handle(metricsPath, a.Metrics.Handler())
	return mux, streamable
}

// ServeHTTP serves streamable HTTP on addr until ctx is cancelled.
func (a *App) ServeHTTP(ctx context.Context, addr string) error {
	handler, streamable := a.Handler()
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.log.Info("serving streamable HTTP", zap.String("addr", addr), zap.String("path", mcpPath))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := streamable.Shutdown(shutdownCtx); err != nil {
		a.log.Warn("streamable shutdown", zap.Error(err))
	}
	return srv.Shutdown(shutdownCtx)
}

// serveMetrics exposes /metrics on its own listener, for stdio mode.
func (a *App) serveMetrics(addr string) (stop func()) {
	mux := http.NewServeMux()
	mux.Handle(metricsPath, a.Metrics.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Warn("metrics listener", zap.String("addr", addr), zap.Error(err))
		}
	}()
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}

// serverInstructions returns the system instructions that tell the AI
// how to use kanbridge effectively.
func serverInstructions() string {
	return `You have access to kanbridge, an MCP bridge to a kanban board whose tasks are
worked on by coding agents (Claude Code, Codex, Gemini and others).

## Board
- list_tasks, get_task, create_task, update_task, delete_task manage tasks.
- Descriptions and messages may reference saved snippets as @tag_name; they are
  expanded before they reach the board.
- Subscribe to kanban://tasks to be told when the board changes, then re-read it.

## Delegating work
1. create_task (or pick an existing task)
2. start_workspace_session with an executor such as claude-code
3. list_sessions with the returned workspace_id to find the session
4. send_message to give the agent follow-up instructions

## Busy agents
A session runs one execution at a time. send_message queues the message when the
agent is busy (auto_queue defaults to true). Only one message can wait per session;
inspect it with get_queue_status and withdraw it with cancel_queued_message.

## Following an execution
- Call send_message as a task to have it finish only when the execution does,
  with progress notifications on the way. A killed execution cancels the task.
- Without tasks, subscribe to kanban://sessions/{id} or poll get_session with
  include_processes.

## Inside a workspace
get_context tells you which project, task and workspace you are running in.`
}
