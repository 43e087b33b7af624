package messaging

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HendryAvila/kanbridge/internal/gateway"
)

type fakeGateway struct {
	session    *gateway.Session
	sessionErr error
	sendErr    error
	queueErr   error

	sent   []gateway.FollowUpRequest
	queued []gateway.QueueRequest
}

func (f *fakeGateway) GetSession(_ context.Context, id string) (*gateway.Session, error) {
	if f.sessionErr != nil {
		return nil, f.sessionErr
	}
	if f.session == nil {
		return &gateway.Session{ID: id}, nil
	}
	return f.session, nil
}

func (f *fakeGateway) SendFollowUp(_ context.Context, sessionID string, req gateway.FollowUpRequest) (*gateway.ExecutionProcess, error) {
	f.sent = append(f.sent, req)
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	return &gateway.ExecutionProcess{ID: "proc-1", SessionID: sessionID, Status: gateway.ProcessRunning}, nil
}

func (f *fakeGateway) QueueMessage(_ context.Context, sessionID string, req gateway.QueueRequest) (*gateway.QueueStatus, error) {
	f.queued = append(f.queued, req)
	if f.queueErr != nil {
		return nil, f.queueErr
	}
	return &gateway.QueueStatus{
		Status:  gateway.QueueQueued,
		Message: &gateway.QueuedMessage{SessionID: sessionID, Data: req},
	}, nil
}

type upperExpander struct{}

func (upperExpander) Expand(_ context.Context, text string) string { return text + " [expanded]" }

func boolPtr(b bool) *bool { return &b }

func conflict() error {
	return &gateway.Error{Method: http.MethodPost, Path: "/api/sessions/s1/follow-up",
		Status: http.StatusConflict, Message: "conflict"}
}

func TestNormalizeExecutor(t *testing.T) {
	for _, in := range []string{"claude-code", "CLAUDE_CODE", "  Claude-Code ", "claude_code"} {
		assert.Equal(t, "CLAUDE_CODE", NormalizeExecutor(in), in)
	}
	once := NormalizeExecutor("gemini-cli")
	assert.Equal(t, once, NormalizeExecutor(once))
	assert.Equal(t, "", NormalizeExecutor("   "))
}

func TestIsBusySignal(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"plain 409 conflict", errors.New("409 conflict"), true},
		{"running", errors.New("An execution process is already RUNNING"), true},
		{"busy", errors.New("session busy"), true},
		{"invalid request", errors.New("invalid request"), false},
		{"gateway conflict", conflict(), true},
		{"gateway 400", &gateway.Error{Status: http.StatusBadRequest, Message: "invalid request"}, false},
		{"hex id in path ignored", &gateway.Error{Method: "POST",
			Path: "/api/sessions/ab409f/follow-up", Status: http.StatusBadRequest, Message: "invalid request"}, false},
		{"wrapped", errors.Join(errors.New("send"), conflict()), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsBusySignal(tt.err))
		})
	}
}

func TestSend_Immediate(t *testing.T) {
	gw := &fakeGateway{}
	s := NewSender(gw, upperExpander{}, nil, nil)

	out := s.Send(context.Background(), Request{SessionID: "s1", Message: "hello", Executor: "claude-code", Variant: "plan"})

	require.Equal(t, StateDoneSent, out.State)
	assert.Equal(t, []State{StateResolvingExecutor, StateSending, StateDoneSent}, out.Path)
	assert.True(t, out.Sent())
	require.NotNil(t, out.Process)
	assert.Equal(t, "proc-1", out.Process.ID)
	require.Len(t, gw.sent, 1)
	assert.Equal(t, "CLAUDE_CODE", gw.sent[0].ExecutorProfile.Executor)
	assert.Equal(t, "plan", gw.sent[0].ExecutorProfile.Variant)
	assert.Equal(t, "hello [expanded]", gw.sent[0].Prompt)
}

func TestSend_InheritsSessionExecutor(t *testing.T) {
	exec := "codex"
	gw := &fakeGateway{session: &gateway.Session{ID: "s1", Executor: &exec}}
	out := NewSender(gw, nil, nil, nil).Send(context.Background(), Request{SessionID: "s1", Message: "m"})

	require.Equal(t, StateDoneSent, out.State)
	assert.Equal(t, "CODEX", out.Executor.Executor)
}

func TestSend_NoExecutorFails(t *testing.T) {
	gw := &fakeGateway{session: &gateway.Session{ID: "s1"}}
	out := NewSender(gw, nil, nil, nil).Send(context.Background(), Request{SessionID: "s1", Message: "m"})

	assert.Equal(t, StateFailed, out.State)
	assert.Equal(t, []State{StateResolvingExecutor, StateFailed}, out.Path)
	assert.Contains(t, out.Err.Error(), "no executor")
	assert.Empty(t, gw.sent)
}

func TestSend_SessionLookupFails(t *testing.T) {
	gw := &fakeGateway{sessionErr: errors.New("not found")}
	out := NewSender(gw, nil, nil, nil).Send(context.Background(), Request{SessionID: "s1", Message: "m"})

	assert.Equal(t, StateFailed, out.State)
	assert.Contains(t, out.Err.Error(), "resolve executor")
}

func TestSend_BusyQueuesByDefault(t *testing.T) {
	gw := &fakeGateway{sendErr: errors.New("409 conflict")}
	out := NewSender(gw, nil, nil, nil).Send(context.Background(), Request{SessionID: "s1", Message: "m", Executor: "claude-code"})

	require.Equal(t, StateDoneQueued, out.State)
	assert.Equal(t, []State{StateResolvingExecutor, StateSending, StateQueueing, StateDoneQueued}, out.Path)
	assert.True(t, out.Queued())
	assert.True(t, out.Queue.Queued())
	require.Len(t, gw.queued, 1)
	assert.Equal(t, "CLAUDE_CODE", gw.queued[0].ExecutorProfile.Executor)
	assert.Error(t, out.SendErr)
	assert.NoError(t, out.Err)
}

func TestSend_BusyWithAutoQueueOffFails(t *testing.T) {
	sendErr := errors.New("409 conflict")
	gw := &fakeGateway{sendErr: sendErr}
	out := NewSender(gw, nil, nil, nil).Send(context.Background(),
		Request{SessionID: "s1", Message: "m", Executor: "x", AutoQueue: boolPtr(false)})

	assert.Equal(t, StateFailed, out.State)
	assert.NotContains(t, out.Path, StateQueueing)
	assert.Same(t, sendErr, out.Err)
	assert.Empty(t, gw.queued)
}

func TestSend_NonBusyNeverQueues(t *testing.T) {
	for _, auto := range []*bool{nil, boolPtr(true), boolPtr(false)} {
		gw := &fakeGateway{sendErr: errors.New("invalid request")}
		out := NewSender(gw, nil, nil, nil).Send(context.Background(),
			Request{SessionID: "s1", Message: "m", Executor: "x", AutoQueue: auto})

		assert.Equal(t, StateFailed, out.State)
		assert.NotContains(t, out.Path, StateQueueing)
		assert.Empty(t, gw.queued)
	}
}

func TestSend_QueueFailure(t *testing.T) {
	gw := &fakeGateway{sendErr: conflict(), queueErr: errors.New("queue full")}
	out := NewSender(gw, nil, nil, nil).Send(context.Background(), Request{SessionID: "s1", Message: "m", Executor: "x"})

	assert.Equal(t, StateFailed, out.State)
	assert.Equal(t, []State{StateResolvingExecutor, StateSending, StateQueueing, StateFailed}, out.Path)
	assert.Contains(t, out.Err.Error(), "queue full")
	assert.Error(t, out.SendErr)
}
