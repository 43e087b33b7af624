package gateway

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// DefaultMaxBody caps how much of a Gateway response is read.
const DefaultMaxBody int64 = 8 << 20

// Request is one raw Gateway round trip.
type Request struct {
	Method string
	URL    string
	Body   []byte // JSON; nil for bodiless requests
}

// Response is the raw status and body of a round trip.
type Response struct {
	StatusCode int
	Body       []byte
}

// Doer performs raw round trips. HTTPDoer and CurlDoer are interchangeable.
type Doer interface {
	Do(ctx context.Context, req Request) (Response, error)
}

// ─── net/http ───────────────────────────────────────────────────────────────

// HTTPDoer talks to the Gateway with net/http.
type HTTPDoer struct {
	Client  *http.Client
	MaxBody int64
}

// NewHTTPDoer returns an HTTPDoer with the given request timeout.
func NewHTTPDoer(timeout time.Duration) *HTTPDoer {
	return &HTTPDoer{Client: &http.Client{Timeout: timeout}, MaxBody: DefaultMaxBody}
}

// Do implements Doer.
func (d *HTTPDoer) Do(ctx context.Context, r Request) (Response, error) {
	var body io.Reader
	if r.Body != nil {
		body = bytes.NewReader(r.Body)
	}
	req, err := http.NewRequestWithContext(ctx, r.Method, r.URL, body)
	if err != nil {
		return Response{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if r.Body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	client := d.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return Response{}, err
	}
	defer resp.Body.Close()

	data, err := readAllWithLimit(resp.Body, d.MaxBody)
	if err != nil {
		return Response{}, fmt.Errorf("read response: %w", err)
	}
	return Response{StatusCode: resp.StatusCode, Body: data}, nil
}

// errResponseTooLarge reports that a body exceeded the read limit.
var errResponseTooLarge = errors.New("response body too large")

func readAllWithLimit(r io.Reader, limit int64) ([]byte, error) {
	if limit <= 0 {
		return io.ReadAll(r)
	}
	data, err := io.ReadAll(&io.LimitedReader{R: r, N: limit + 1})
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("%w: limit %d bytes", errResponseTooLarge, limit)
	}
	return data, nil
}

// ─── curl ───────────────────────────────────────────────────────────────────

// CurlDoer shells out to curl for each request. It exists for environments
// where the Go resolver or proxy setup cannot reach the Gateway but curl can.
// Each call blocks the calling goroutine until curl exits.
type CurlDoer struct {
	Path    string // curl binary; "curl" when empty
	Timeout time.Duration
}

// statusMarker separates the body from the status code curl prints via -w.
const statusMarker = "\n__KANBRIDGE_STATUS__:"

// Do implements Doer.
func (d *CurlDoer) Do(ctx context.Context, r Request) (Response, error) {
	path := d.Path
	if path == "" {
		path = "curl"
	}

	args := []string{"-sS", "-X", r.Method, "-H", "Accept: application/json", "-w", statusMarker + "%{http_code}"}
	if d.Timeout > 0 {
		args = append(args, "--max-time", strconv.FormatFloat(d.Timeout.Seconds(), 'f', -1, 64))
	}
	if r.Body != nil {
		args = append(args, "-H", "Content-Type: application/json", "--data-binary", "@-")
	}
	args = append(args, r.URL)

	cmd := exec.CommandContext(ctx, path, args...)
	if r.Body != nil {
		cmd.Stdin = bytes.NewReader(r.Body)
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			return Response{}, fmt.Errorf("curl: %w", err)
		}
		return Response{}, fmt.Errorf("curl: %w: %s", err, msg)
	}
	return splitCurlOutput(stdout.Bytes())
}

// splitCurlOutput separates the response body from the trailing status code.
func splitCurlOutput(out []byte) (Response, error) {
	idx := bytes.LastIndex(out, []byte(statusMarker))
	if idx < 0 {
		return Response{}, errors.New("curl: missing status code in output")
	}
	code, err := strconv.Atoi(strings.TrimSpace(string(out[idx+len(statusMarker):])))
	if err != nil {
		return Response{}, fmt.Errorf("curl: parse status code: %w", err)
	}
	return Response{StatusCode: code, Body: out[:idx]}, nil
}
