// Package gatewaytest provides an in-process fake Gateway for tests.
package gatewaytest

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
)

// Call is one request the fake received.
type Call struct {
	Method string
	Path   string
	Query  string
	Body   []byte
}

// Reply is what a route answers with. Status defaults to 200; Success is
// implied by a 2xx status unless Fail is set.
type Reply struct {
	Status  int
	Data    any
	Message string
	Fail    bool
}

// HandlerFunc computes a Reply for a request.
type HandlerFunc func(r *http.Request, body []byte) Reply

// Server is a fake Gateway speaking the {success, data, message} envelope.
type Server struct {
	*httptest.Server

	mu     sync.Mutex
	routes map[string]HandlerFunc
	calls  []Call
}

// New starts a fake Gateway that is closed when the test ends.
func New(t testing.TB) *Server {
	t.Helper()
	s := &Server{routes: make(map[string]HandlerFunc)}
	s.Server = httptest.NewServer(http.HandlerFunc(s.serve))
	t.Cleanup(s.Close)
	return s
}

func key(method, path string) string { return method + " " + path }

// Handle registers (or replaces) the handler for method+path.
func (s *Server) Handle(method, path string, h HandlerFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.routes[key(method, path)] = h
}

// OK answers method+path with a successful envelope carrying data.
func (s *Server) OK(method, path string, data any) {
	s.Handle(method, path, func(*http.Request, []byte) Reply { return Reply{Data: data} })
}

// Fail answers method+path with status and a success=false envelope.
func (s *Server) Fail(method, path string, status int, message string) {
	s.Handle(method, path, func(*http.Request, []byte) Reply {
		return Reply{Status: status, Message: message, Fail: true}
	})
}

// Calls returns the requests received for method+path, in order.
func (s *Server) Calls(method, path string) []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Call
	for _, c := range s.calls {
		if c.Method == method && c.Path == path {
			out = append(out, c)
		}
	}
	return out
}

// CallCount is len(Calls(method, path)).
func (s *Server) CallCount(method, path string) int {
	return len(s.Calls(method, path))
}

func (s *Server) serve(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)

	s.mu.Lock()
	s.calls = append(s.calls, Call{Method: r.Method, Path: r.URL.Path, Query: r.URL.RawQuery, Body: body})
	h, ok := s.routes[key(r.Method, r.URL.Path)]
	s.mu.Unlock()

	reply := Reply{Status: http.StatusNotFound, Message: "no route for " + r.Method + " " + r.URL.Path, Fail: true}
	if ok {
		reply = h(r, body)
	}
	if reply.Status == 0 {
		reply.Status = http.StatusOK
	}

	env := map[string]any{
		"success": !reply.Fail && reply.Status < 300,
		"data":    reply.Data,
	}
	if reply.Message != "" {
		env["message"] = reply.Message
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(reply.Status)
	_ = json.NewEncoder(w).Encode(env)
}
