// Package gateway is the client for the kanban Gateway REST API.
//
// Every endpoint answers with a {success, data, message} envelope. Client.Do
// unwraps it into the caller's type or returns a *Error carrying the method,
// path, HTTP status and Gateway message. A single Client is built at startup
// and injected into every component; its only mutable state is the cache of
// auto-resolved repository ids.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/HendryAvila/kanbridge/internal/metrics"
)

// Options configures a Client.
type Options struct {
	BaseURL      string
	ProjectID    string // locks the server to one project when set
	RepoID       string // skips repository auto-resolution when set
	WorkspaceRef string // default ref for the attempt-context endpoint
	Doer         Doer
	Logger       *zap.Logger
	Metrics      *metrics.Metrics
}

// Client issues Gateway requests.
type Client struct {
	baseURL      string
	projectID    string
	repoID       string
	workspaceRef string
	doer         Doer
	log          *zap.Logger
	metrics      *metrics.Metrics

	mu        sync.Mutex
	repoCache map[string]string // project id -> resolved repo id
}

// New validates opts and returns a Client.
func New(opts Options) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if base == "" {
		return nil, errors.New("gateway: base URL is required")
	}
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("gateway: parse base URL: %w", err)
	}

	doer := opts.Doer
	if doer == nil {
		doer = NewHTTPDoer(30 * time.Second)
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}

	return &Client{
		baseURL:      base,
		projectID:    opts.ProjectID,
		repoID:       opts.RepoID,
		workspaceRef: opts.WorkspaceRef,
		doer:         doer,
		log:          log,
		metrics:      opts.Metrics,
		repoCache:    make(map[string]string),
	}, nil
}

// ProjectID is the locked project id, or "" when the server is unlocked.
func (c *Client) ProjectID() string { return c.projectID }

// RequireProject picks the project for a call: the explicit argument, else
// the locked project. A locked server refuses other projects.
func (c *Client) RequireProject(explicit string) (string, error) {
	explicit = strings.TrimSpace(explicit)
	switch {
	case c.projectID != "" && explicit != "" && explicit != c.projectID:
		return "", fmt.Errorf("server is locked to project %s; got project_id %s", c.projectID, explicit)
	case explicit != "":
		return explicit, nil
	case c.projectID != "":
		return c.projectID, nil
	default:
		return "", errors.New("project_id is required: no project is configured for this server")
	}
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
}

// Do sends one request and decodes the envelope's data into out (which may
// be nil). in, when non-nil, is sent as the JSON body.
func (c *Client) Do(ctx context.Context, method, path string, query url.Values, in, out any) error {
	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var body []byte
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return &Error{Method: method, Path: path, Err: fmt.Errorf("encode request: %w", err)}
		}
		body = b
	}

	start := time.Now()
	resp, err := c.doer.Do(ctx, Request{Method: method, URL: target, Body: body})
	err = decode(method, path, resp, err, out)
	c.metrics.ObserveRequest(method, time.Since(start), err)
	if err != nil {
		c.log.Debug("gateway request failed",
			zap.String("method", method),
			zap.String("path", path),
			zap.Error(err),
		)
	}
	return err
}

func decode(method, path string, resp Response, transportErr error, out any) error {
	if transportErr != nil {
		return &Error{Method: method, Path: path, Err: transportErr}
	}

	var env envelope
	envErr := json.Unmarshal(resp.Body, &env)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := env.Message
		if envErr != nil || msg == "" {
			msg = excerpt(resp.Body)
		}
		return &Error{Method: method, Path: path, Status: resp.StatusCode, Message: msg}
	}
	if envErr != nil {
		return &Error{Method: method, Path: path, Status: resp.StatusCode,
			Message: "invalid response envelope", Err: envErr}
	}
	if !env.Success {
		msg := env.Message
		if msg == "" {
			msg = "request failed"
		}
		return &Error{Method: method, Path: path, Status: resp.StatusCode, Message: msg}
	}

	if out == nil || len(env.Data) == 0 || bytes.Equal(env.Data, []byte("null")) {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return &Error{Method: method, Path: path, Status: resp.StatusCode,
			Err: fmt.Errorf("decode data: %w", err)}
	}
	return nil
}

// excerpt trims a raw body for error messages.
func excerpt(body []byte) string {
	s := strings.TrimSpace(string(body))
	const max = 200
	if len(s) > max {
		return s[:max] + "..."
	}
	return s
}

// ResolveRepoID returns the repository to run workspaces against: the
// configured id when set, else the single repository of the project. The
// lookup result is cached per project; failures are not cached.
func (c *Client) ResolveRepoID(ctx context.Context, projectID string) (string, error) {
	if c.repoID != "" {
		return c.repoID, nil
	}

	c.mu.Lock()
	cached, ok := c.repoCache[projectID]
	c.mu.Unlock()
	if ok {
		return cached, nil
	}

	repos, err := c.ListRepos(ctx, projectID)
	if err != nil {
		return "", fmt.Errorf("list repositories for project %s: %w", projectID, err)
	}
	switch len(repos) {
	case 0:
		return "", fmt.Errorf("project %s has no repositories; add one or pass repo_id", projectID)
	case 1:
	default:
		return "", fmt.Errorf("project %s has %d repositories; pass repo_id to choose one", projectID, len(repos))
	}

	id := repos[0].ID
	c.mu.Lock()
	c.repoCache[projectID] = id
	c.mu.Unlock()
	return id, nil
}

func escape(id string) string { return url.PathEscape(id) }
