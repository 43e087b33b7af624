package transport

import (
	"bufio"
	"errors"
	"io"
	"sync"

	"go.uber.org/zap"

	"github.com/HendryAvila/kanbridge/internal/async"
)

// StdioSubscriber is the session id mcp-go gives its single stdio client.
const StdioSubscriber = "stdio"

// LockedWriter serializes writes to w. The MCP stdio server and the
// filter's own replies share one so JSON-RPC lines never interleave.
type LockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

// NewLockedWriter wraps w.
func NewLockedWriter(w io.Writer) *LockedWriter {
	return &LockedWriter{w: w}
}

func (l *LockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}

// Filter reads newline-delimited JSON-RPC from in on a background goroutine.
// Subscription requests are answered on out; every other line is copied to
// the returned reader, which the MCP stdio server should consume in place
// of in. The returned reader reaches EOF when in does.
func (r *Router) Filter(subscriber string, in io.Reader, out io.Writer) io.Reader {
	pr, pw := io.Pipe()
	async.Go(r.log, "stdio-filter", func() {
		err := r.copyLines(subscriber, bufio.NewReader(in), pw, out)
		if errors.Is(err, io.EOF) {
			err = nil
		}
		_ = pw.CloseWithError(err)
	})
	return pr
}

func (r *Router) copyLines(subscriber string, in *bufio.Reader, forward, reply io.Writer) error {
	for {
		line, readErr := in.ReadBytes('\n')
		if len(line) > 0 {
			resp, handled := r.Intercept(subscriber, line)
			switch {
			case !handled:
				if _, err := forward.Write(line); err != nil {
					return err
				}
			case resp != nil:
				if _, err := reply.Write(append(resp, '\n')); err != nil {
					r.log.Warn("write subscription reply", zap.Error(err))
				}
			}
		}
		if readErr != nil {
			return readErr
		}
	}
}
