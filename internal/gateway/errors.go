package gateway

import (
	"fmt"
	"net/http"
	"strings"
)

// Error describes a failed Gateway call: a transport failure, a non-2xx
// status, or an envelope with success=false. It is never retried.
type Error struct {
	Method  string
	Path    string
	Status  int    // 0 when the request never produced a response
	Message string // Gateway-supplied message, or a body excerpt
	Err     error  // underlying transport or decode failure
}

func (e *Error) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "gateway %s %s", e.Method, e.Path)
	if line := e.statusLine(); line != "" {
		b.WriteString(": ")
		b.WriteString(line)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Signal is the error text without the request line. Ids in the path are
// opaque hex and must not feed content heuristics.
func (e *Error) Signal() string {
	parts := make([]string, 0, 3)
	if line := e.statusLine(); line != "" {
		parts = append(parts, line)
	}
	if e.Message != "" {
		parts = append(parts, e.Message)
	}
	if e.Err != nil {
		parts = append(parts, e.Err.Error())
	}
	return strings.Join(parts, ": ")
}

// statusLine is "409 Conflict" for non-2xx responses and empty otherwise.
func (e *Error) statusLine() string {
	if e.Status == 0 || (e.Status >= 200 && e.Status < 300) {
		return ""
	}
	text := http.StatusText(e.Status)
	if text == "" {
		return fmt.Sprintf("%d", e.Status)
	}
	return fmt.Sprintf("%d %s", e.Status, text)
}
