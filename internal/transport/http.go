package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// maxRequestBody bounds how much of a POST body the middleware buffers.
const maxRequestBody = 4 << 20

// Middleware answers subscription requests posted to next and forwards
// everything else with the body restored. The subscriber is the
// Mcp-Session-Id header.
func (r *Router) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodPost || req.Body == nil {
			next.ServeHTTP(w, req)
			return
		}

		body, err := io.ReadAll(http.MaxBytesReader(w, req.Body, maxRequestBody))
		_ = req.Body.Close()
		if err != nil {
			http.Error(w, "request body too large", http.StatusRequestEntityTooLarge)
			return
		}

		resp, handled := r.Intercept(req.Header.Get(server.HeaderKeySessionID), body)
		if !handled {
			if isTaskCall(body) {
				// mcp-go runs task-augmented calls on the request context,
				// which net/http cancels once the CreateTaskResult is written.
				req = req.WithContext(context.WithoutCancel(req.Context()))
			}
			req.Body = io.NopCloser(bytes.NewReader(body))
			req.ContentLength = int64(len(body))
			next.ServeHTTP(w, req)
			return
		}

		if resp == nil {
			w.WriteHeader(http.StatusAccepted)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(resp)
	})
}

// isTaskCall reports whether body is a tools/call carrying params.task.
func isTaskCall(body []byte) bool {
	if !bytes.Contains(body, []byte(`"task"`)) {
		return false
	}
	var msg struct {
		Method string `json:"method"`
		Params struct {
			Task json.RawMessage `json:"task"`
		} `json:"params"`
	}
	if err := json.Unmarshal(body, &msg); err != nil {
		return false
	}
	return msg.Method == string(mcp.MethodToolsCall) && len(msg.Params.Task) > 0 && string(msg.Params.Task) != "null"
}
