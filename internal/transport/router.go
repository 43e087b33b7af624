// Package transport routes resources/subscribe and resources/unsubscribe
// ahead of the MCP server.
//
// mcp-go answers both methods with "method not found", so the Router reads
// each inbound JSON-RPC message first. Subscription requests are answered
// here and fed to the subscription manager; everything else passes through
// untouched. Filter wraps the stdio channel, Middleware wraps the streamable
// HTTP handler.
package transport

import (
	"encoding/json"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"go.uber.org/zap"
)

const (
	MethodSubscribe   = "resources/subscribe"
	MethodUnsubscribe = "resources/unsubscribe"
)

// Subscriptions is the slice of subscription.Manager the router drives.
type Subscriptions interface {
	Subscribe(subscriber, uri string)
	Unsubscribe(subscriber, uri string)
}

// Router answers subscription requests for one MCP server.
type Router struct {
	subs     Subscriptions
	sessions SessionSet
	log      *zap.Logger
}

// Option configures a Router.
type Option func(*Router)

// WithSessions makes the router reject subscription requests from
// subscribers that are not live in set. Without it any non-empty
// subscriber is accepted.
func WithSessions(set SessionSet) Option {
	return func(r *Router) { r.sessions = set }
}

// NewRouter returns a Router feeding subs.
func NewRouter(subs Subscriptions, log *zap.Logger, opts ...Option) *Router {
	if log == nil {
		log = zap.NewNop()
	}
	r := &Router{subs: subs, log: log}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

type envelope struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type uriParams struct {
	URI string `json:"uri"`
}

// Intercept inspects one raw JSON-RPC message from subscriber. handled is
// false for anything that is not a subscription request; the caller then
// forwards raw unchanged. A handled notification (no id) yields a nil
// response.
func (r *Router) Intercept(subscriber string, raw []byte) (resp []byte, handled bool) {
	trimmed := strings.TrimSpace(string(raw))
	if !strings.HasPrefix(trimmed, "{") || !strings.Contains(trimmed, "resources/") {
		return nil, false
	}

	var msg envelope
	if err := json.Unmarshal([]byte(trimmed), &msg); err != nil {
		return nil, false
	}
	if msg.Method != MethodSubscribe && msg.Method != MethodUnsubscribe {
		return nil, false
	}

	var id mcp.RequestId
	hasID := len(msg.ID) > 0 && string(msg.ID) != "null"
	if hasID {
		if err := json.Unmarshal(msg.ID, &id); err != nil {
			return r.errorReply(mcp.RequestId{}, mcp.INVALID_REQUEST, "invalid request id"), true
		}
	}

	var p uriParams
	if len(msg.Params) > 0 {
		if err := json.Unmarshal(msg.Params, &p); err != nil {
			return r.reply(hasID, id, mcp.INVALID_PARAMS, "invalid params: "+err.Error()), true
		}
	}
	p.URI = strings.TrimSpace(p.URI)
	if p.URI == "" {
		return r.reply(hasID, id, mcp.INVALID_PARAMS, "uri is required"), true
	}
	if subscriber == "" {
		return r.reply(hasID, id, mcp.INVALID_REQUEST, "subscriptions require an MCP session"), true
	}

	apply := func() {
		switch msg.Method {
		case MethodSubscribe:
			r.subs.Subscribe(subscriber, p.URI)
		case MethodUnsubscribe:
			r.subs.Unsubscribe(subscriber, p.URI)
		}
	}
	if r.sessions == nil {
		apply()
	} else if !r.sessions.Live(subscriber, apply) {
		return r.reply(hasID, id, mcp.INVALID_REQUEST, "unknown MCP session "+subscriber), true
	}
	r.log.Debug("subscription request",
		zap.String("method", msg.Method),
		zap.String("subscriber", subscriber),
		zap.String("uri", p.URI),
	)

	if !hasID {
		return nil, true
	}
	return r.marshal(mcp.NewJSONRPCResultResponse(id, mcp.EmptyResult{})), true
}

func (r *Router) reply(hasID bool, id mcp.RequestId, code int, message string) []byte {
	if !hasID {
		r.log.Debug("dropping invalid subscription notification", zap.String("reason", message))
		return nil
	}
	return r.errorReply(id, code, message)
}

func (r *Router) errorReply(id mcp.RequestId, code int, message string) []byte {
	return r.marshal(mcp.NewJSONRPCError(id, code, message, nil))
}

func (r *Router) marshal(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		r.log.Error("marshal subscription reply", zap.Error(err))
		return nil
	}
	return b
}
