package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type call struct {
	op         string
	subscriber string
	uri        string
}

type fakeSubs struct {
	mu    sync.Mutex
	calls []call
}

func (f *fakeSubs) Subscribe(subscriber, uri string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call{"subscribe", subscriber, uri})
}

func (f *fakeSubs) Unsubscribe(subscriber, uri string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call{"unsubscribe", subscriber, uri})
}

func (f *fakeSubs) all() []call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]call(nil), f.calls...)
}

type rpcReply struct {
	ID     any             `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func decodeReply(t *testing.T, b []byte) rpcReply {
	t.Helper()
	var r rpcReply
	require.NoError(t, json.Unmarshal(b, &r), string(b))
	return r
}

func TestIntercept_Subscribe(t *testing.T) {
	subs := &fakeSubs{}
	r := NewRouter(subs, nil)

	resp, handled := r.Intercept("s1", []byte(`{"jsonrpc":"2.0","id":7,"method":"resources/subscribe","params":{"uri":"kanban://tasks"}}`))
	require.True(t, handled)

	reply := decodeReply(t, resp)
	assert.Equal(t, float64(7), reply.ID)
	assert.Nil(t, reply.Error)
	assert.JSONEq(t, `{}`, string(reply.Result))
	assert.Equal(t, []call{{"subscribe", "s1", "kanban://tasks"}}, subs.all())
}

func TestIntercept_UnsubscribeWithStringID(t *testing.T) {
	subs := &fakeSubs{}
	r := NewRouter(subs, nil)

	resp, handled := r.Intercept("s1", []byte(`{"jsonrpc":"2.0","id":"abc","method":"resources/unsubscribe","params":{"uri":"kanban://sessions/x"}}`))
	require.True(t, handled)
	assert.Equal(t, "abc", decodeReply(t, resp).ID)
	assert.Equal(t, []call{{"unsubscribe", "s1", "kanban://sessions/x"}}, subs.all())
}

func TestIntercept_InvalidParams(t *testing.T) {
	tests := map[string]string{
		"missing params": `{"jsonrpc":"2.0","id":1,"method":"resources/subscribe"}`,
		"empty uri":      `{"jsonrpc":"2.0","id":1,"method":"resources/subscribe","params":{"uri":"  "}}`,
		"params not obj": `{"jsonrpc":"2.0","id":1,"method":"resources/subscribe","params":[1]}`,
	}
	for name, raw := range tests {
		t.Run(name, func(t *testing.T) {
			subs := &fakeSubs{}
			resp, handled := NewRouter(subs, nil).Intercept("s1", []byte(raw))
			require.True(t, handled)
			reply := decodeReply(t, resp)
			require.NotNil(t, reply.Error)
			assert.Equal(t, mcp.INVALID_PARAMS, reply.Error.Code)
			assert.Empty(t, subs.all())
		})
	}
}

func TestIntercept_RequiresSubscriber(t *testing.T) {
	subs := &fakeSubs{}
	resp, handled := NewRouter(subs, nil).Intercept("", []byte(`{"jsonrpc":"2.0","id":1,"method":"resources/subscribe","params":{"uri":"kanban://tasks"}}`))
	require.True(t, handled)
	reply := decodeReply(t, resp)
	require.NotNil(t, reply.Error)
	assert.Equal(t, mcp.INVALID_REQUEST, reply.Error.Code)
	assert.Empty(t, subs.all())
}

func TestIntercept_RejectsUnknownSession(t *testing.T) {
	subs := &fakeSubs{}
	sessions := NewSessions()
	sessions.Add("live")
	r := NewRouter(subs, nil, WithSessions(sessions))
	subscribe := []byte(`{"jsonrpc":"2.0","id":1,"method":"resources/subscribe","params":{"uri":"kanban://tasks"}}`)

	resp, handled := r.Intercept("made-up", subscribe)
	require.True(t, handled)
	reply := decodeReply(t, resp)
	require.NotNil(t, reply.Error)
	assert.Equal(t, mcp.INVALID_REQUEST, reply.Error.Code)
	assert.Contains(t, reply.Error.Message, "made-up")
	assert.Empty(t, subs.all())

	resp, _ = r.Intercept("live", subscribe)
	assert.Nil(t, decodeReply(t, resp).Error)
	assert.Equal(t, []call{{"subscribe", "live", "kanban://tasks"}}, subs.all())

	sessions.Remove("live")
	resp, _ = r.Intercept("live", subscribe)
	require.NotNil(t, decodeReply(t, resp).Error, "a closed session cannot subscribe again")
	assert.Len(t, subs.all(), 1)
}

func TestSessions_LiveRunsOnlyForRegisteredIDs(t *testing.T) {
	s := NewSessions()
	ran := 0
	assert.False(t, s.Live("a", func() { ran++ }))
	s.Add("a")
	assert.True(t, s.Known("a"))
	assert.True(t, s.Live("a", func() { ran++ }))
	s.Remove("a")
	assert.False(t, s.Known("a"))
	assert.False(t, s.Live("a", func() { ran++ }))
	assert.Equal(t, 1, ran)
}

func TestIntercept_NotificationHasNoReply(t *testing.T) {
	subs := &fakeSubs{}
	resp, handled := NewRouter(subs, nil).Intercept("s1", []byte(`{"jsonrpc":"2.0","method":"resources/subscribe","params":{"uri":"kanban://tasks"}}`))
	assert.True(t, handled)
	assert.Nil(t, resp)
	assert.Len(t, subs.all(), 1)
}

func TestIntercept_PassesThroughEverythingElse(t *testing.T) {
	for _, raw := range []string{
		`{"jsonrpc":"2.0","id":1,"method":"tools/list"}`,
		`{"jsonrpc":"2.0","id":1,"method":"resources/read","params":{"uri":"kanban://tasks"}}`,
		`{"jsonrpc":"2.0","id":1,"result":{}}`,
		`[{"jsonrpc":"2.0","id":1,"method":"resources/subscribe"}]`,
		`not json at all resources/subscribe`,
		``,
	} {
		_, handled := NewRouter(&fakeSubs{}, nil).Intercept("s1", []byte(raw))
		assert.False(t, handled, raw)
	}
}

func TestFilter_SplitsStream(t *testing.T) {
	subs := &fakeSubs{}
	r := NewRouter(subs, nil)

	input := strings.Join([]string{
		`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{}}`,
		`{"jsonrpc":"2.0","id":2,"method":"resources/subscribe","params":{"uri":"kanban://tasks"}}`,
		`{"jsonrpc":"2.0","method":"notifications/initialized"}`,
		`{"jsonrpc":"2.0","id":3,"method":"resources/unsubscribe","params":{"uri":"kanban://tasks"}}`,
	}, "\n") + "\n"

	var out bytes.Buffer
	forwarded, err := io.ReadAll(r.Filter(StdioSubscriber, strings.NewReader(input), NewLockedWriter(&out)))
	require.NoError(t, err)

	fwdLines := strings.Split(strings.TrimSpace(string(forwarded)), "\n")
	require.Len(t, fwdLines, 2)
	assert.Contains(t, fwdLines[0], `"initialize"`)
	assert.Contains(t, fwdLines[1], `"notifications/initialized"`)

	replyLines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, replyLines, 2)
	assert.Equal(t, float64(2), decodeReply(t, []byte(replyLines[0])).ID)
	assert.Equal(t, float64(3), decodeReply(t, []byte(replyLines[1])).ID)

	assert.Equal(t, []call{
		{"subscribe", "stdio", "kanban://tasks"},
		{"unsubscribe", "stdio", "kanban://tasks"},
	}, subs.all())
}

func TestFilter_ForwardsTrailingLineWithoutNewline(t *testing.T) {
	r := NewRouter(&fakeSubs{}, nil)
	var out bytes.Buffer
	forwarded, err := io.ReadAll(r.Filter(StdioSubscriber, strings.NewReader(`{"id":1,"method":"ping"}`), &out))
	require.NoError(t, err)
	assert.Equal(t, `{"id":1,"method":"ping"}`, string(forwarded))
	assert.Empty(t, out.String())
}

func TestMiddleware(t *testing.T) {
	subs := &fakeSubs{}
	var seen []string
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		seen = append(seen, string(b))
		w.WriteHeader(http.StatusTeapot)
	})
	h := NewRouter(subs, nil).Middleware(next)

	post := func(body, session string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/mcp", strings.NewReader(body))
		if session != "" {
			req.Header.Set("Mcp-Session-Id", session)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	t.Run("subscribe answered directly", func(t *testing.T) {
		rec := post(`{"jsonrpc":"2.0","id":1,"method":"resources/subscribe","params":{"uri":"kanban://context"}}`, "sess-a")
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
		assert.Nil(t, decodeReply(t, rec.Body.Bytes()).Error)
		assert.Equal(t, []call{{"subscribe", "sess-a", "kanban://context"}}, subs.all())
	})

	t.Run("notification accepted", func(t *testing.T) {
		rec := post(`{"jsonrpc":"2.0","method":"resources/unsubscribe","params":{"uri":"kanban://context"}}`, "sess-a")
		assert.Equal(t, http.StatusAccepted, rec.Code)
	})

	t.Run("other methods forwarded with body", func(t *testing.T) {
		body := `{"jsonrpc":"2.0","id":2,"method":"tools/list"}`
		rec := post(body, "sess-a")
		assert.Equal(t, http.StatusTeapot, rec.Code)
		require.NotEmpty(t, seen)
		assert.Equal(t, body, seen[len(seen)-1])
	})

	t.Run("GET forwarded", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/mcp", nil))
		assert.Equal(t, http.StatusTeapot, rec.Code)
	})

	t.Run("task calls detached from request cancellation", func(t *testing.T) {
		var ctxErr error
		detached := NewRouter(subs, nil).Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctxErr = r.Context().Err()
		}))
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		body := `{"jsonrpc":"2.0","id":4,"method":"tools/call","params":{"name":"send_message","task":{}}}`
		req := httptest.NewRequest(http.MethodPost, "/mcp", strings.NewReader(body)).WithContext(ctx)
		detached.ServeHTTP(httptest.NewRecorder(), req)
		assert.NoError(t, ctxErr)

		plain := `{"jsonrpc":"2.0","id":5,"method":"tools/call","params":{"name":"send_message"}}`
		req = httptest.NewRequest(http.MethodPost, "/mcp", strings.NewReader(plain)).WithContext(ctx)
		detached.ServeHTTP(httptest.NewRecorder(), req)
		assert.ErrorIs(t, ctxErr, context.Canceled)
	})

	t.Run("missing session rejected", func(t *testing.T) {
		rec := post(`{"jsonrpc":"2.0","id":3,"method":"resources/subscribe","params":{"uri":"kanban://tasks"}}`, "")
		reply := decodeReply(t, rec.Body.Bytes())
		require.NotNil(t, reply.Error)
		assert.Equal(t, mcp.INVALID_REQUEST, reply.Error.Code)
	})
}
