// Package messaging delivers follow-up messages to coding-agent sessions.
//
// A send runs a small state machine, recomputed on every call:
//
//	RESOLVING_EXECUTOR → SENDING            executor known (argument or session's)
//	RESOLVING_EXECUTOR → FAILED             no executor resolvable
//	SENDING            → DONE_SENT          immediate send accepted
//	SENDING            → QUEUEING           send rejected as busy and auto-queue on
//	SENDING            → FAILED             any other rejection
//	QUEUEING           → DONE_QUEUED        queue accepted the message
//	QUEUEING           → FAILED             queue rejected it too
//
// The Gateway reports a busy session only through error text, so the busy
// classification lives in a single predicate, IsBusySignal. The tokens are
// not matched anywhere in a Gateway error's full text: its request method
// and path are left out, so a session or process id that happens to contain
// "409" never reads as busy. Errors that are not *gateway.Error are still
// matched on their whole text.
package messaging

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/HendryAvila/kanbridge/internal/gateway"
	"github.com/HendryAvila/kanbridge/internal/metrics"
)

// State is a step of the send state machine.
type State string

const (
	StateResolvingExecutor State = "RESOLVING_EXECUTOR"
	StateSending           State = "SENDING"
	StateQueueing          State = "QUEUEING"
	StateDoneSent          State = "DONE_SENT"
	StateDoneQueued        State = "DONE_QUEUED"
	StateFailed            State = "FAILED"
)

var busyTokens = []string{"running", "busy", "409", "conflict"}

// IsBusySignal reports whether a send failure means the session is busy
// with another execution. For Gateway errors only the status line and the
// Gateway message are inspected; other errors are matched on their text.
func IsBusySignal(err error) bool {
	if err == nil {
		return false
	}
	text := err.Error()
	var gerr *gateway.Error
	if errors.As(err, &gerr) {
		text = gerr.Signal()
	}
	text = strings.ToLower(text)
	for _, tok := range busyTokens {
		if strings.Contains(text, tok) {
			return true
		}
	}
	return false
}

// NormalizeExecutor converts an executor name to the Gateway's form:
// "claude-code" → "CLAUDE_CODE". It is a fixed point on its own output.
func NormalizeExecutor(name string) string {
	return strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(name), "-", "_"))
}

// Gateway is the slice of the Gateway client the sender uses.
type Gateway interface {
	GetSession(ctx context.Context, id string) (*gateway.Session, error)
	SendFollowUp(ctx context.Context, sessionID string, req gateway.FollowUpRequest) (*gateway.ExecutionProcess, error)
	QueueMessage(ctx context.Context, sessionID string, req gateway.QueueRequest) (*gateway.QueueStatus, error)
}

// Expander rewrites message text before it is sent.
type Expander interface {
	Expand(ctx context.Context, text string) string
}

// Request is one send_message invocation.
type Request struct {
	SessionID string
	Message   string
	Executor  string // optional; the session's executor is used when empty
	Variant   string
	AutoQueue *bool // nil means true
}

func (r Request) autoQueue() bool { return r.AutoQueue == nil || *r.AutoQueue }

// Outcome is the result of a send, with everything needed to explain it.
type Outcome struct {
	State    State
	Path     []State
	Executor gateway.ExecutorProfile
	Message  string // text actually sent, after tag expansion

	Process *gateway.ExecutionProcess // DONE_SENT
	Queue   *gateway.QueueStatus      // DONE_QUEUED

	SendErr error // why the immediate send failed, if it did
	Err     error // why the outcome is FAILED
}

// Sent reports whether an execution process was started.
func (o *Outcome) Sent() bool { return o.State == StateDoneSent }

// Queued reports whether the message landed in the session queue.
func (o *Outcome) Queued() bool { return o.State == StateDoneQueued }

func (o *Outcome) enter(s State) {
	o.State = s
	o.Path = append(o.Path, s)
}

// Sender runs the send state machine.
type Sender struct {
	gw      Gateway
	tags    Expander
	log     *zap.Logger
	metrics *metrics.Metrics
}

// NewSender returns a Sender. tags, log and m may be nil.
func NewSender(gw Gateway, tags Expander, log *zap.Logger, m *metrics.Metrics) *Sender {
	if log == nil {
		log = zap.NewNop()
	}
	return &Sender{gw: gw, tags: tags, log: log, metrics: m}
}

// Send delivers req and reports how it ended. It never returns a Go error;
// failures are carried on the Outcome.
func (s *Sender) Send(ctx context.Context, req Request) *Outcome {
	out := &Outcome{}
	defer func() { s.metrics.SendOutcome(string(out.State)) }()

	out.enter(StateResolvingExecutor)
	profile, err := s.resolveExecutor(ctx, req)
	if err != nil {
		out.Err = err
		out.enter(StateFailed)
		return out
	}
	out.Executor = profile

	out.Message = req.Message
	if s.tags != nil {
		out.Message = s.tags.Expand(ctx, req.Message)
	}

	out.enter(StateSending)
	proc, err := s.gw.SendFollowUp(ctx, req.SessionID, gateway.FollowUpRequest{
		Prompt:          out.Message,
		ExecutorProfile: profile,
	})
	if err == nil {
		out.Process = proc
		out.enter(StateDoneSent)
		return out
	}
	out.SendErr = err

	if !req.autoQueue() || !IsBusySignal(err) {
		out.Err = err
		out.enter(StateFailed)
		return out
	}

	s.log.Debug("session busy, queueing message",
		zap.String("session_id", req.SessionID),
		zap.Error(err),
	)
	out.enter(StateQueueing)
	qs, qerr := s.gw.QueueMessage(ctx, req.SessionID, gateway.QueueRequest{
		Message:         out.Message,
		ExecutorProfile: profile,
	})
	if qerr != nil {
		out.Err = fmt.Errorf("queue message: %w", qerr)
		out.enter(StateFailed)
		return out
	}
	out.Queue = qs
	out.enter(StateDoneQueued)
	return out
}

func (s *Sender) resolveExecutor(ctx context.Context, req Request) (gateway.ExecutorProfile, error) {
	variant := strings.TrimSpace(req.Variant)
	if exec := NormalizeExecutor(req.Executor); exec != "" {
		return gateway.ExecutorProfile{Executor: exec, Variant: variant}, nil
	}

	sess, err := s.gw.GetSession(ctx, req.SessionID)
	if err != nil {
		return gateway.ExecutorProfile{}, fmt.Errorf("resolve executor from session %s: %w", req.SessionID, err)
	}
	if sess.Executor == nil || NormalizeExecutor(*sess.Executor) == "" {
		return gateway.ExecutorProfile{}, fmt.Errorf("session %s has no executor; pass executor explicitly", req.SessionID)
	}
	return gateway.ExecutorProfile{Executor: NormalizeExecutor(*sess.Executor), Variant: variant}, nil
}
