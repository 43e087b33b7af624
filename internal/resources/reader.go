package resources

import (
	"context"
	"errors"
	"fmt"

	"github.com/HendryAvila/kanbridge/internal/gateway"
)

// ErrUnknownResource is returned for URIs that match no resource shape.
var ErrUnknownResource = errors.New("unknown resource")

// Gateway is the slice of the Gateway client resources read from.
type Gateway interface {
	ProjectID() string
	ListTasks(ctx context.Context, opts gateway.ListTasksOptions) ([]gateway.Task, error)
	GetContext(ctx context.Context, ref string) (*gateway.Context, error)
	GetTask(ctx context.Context, id string) (*gateway.Task, error)
	GetSession(ctx context.Context, id string) (*gateway.Session, error)
	GetQueue(ctx context.Context, sessionID string) (*gateway.QueueStatus, error)
}

// Reader fetches the current value of a resource. Direct reads and the
// subscription poller share it, so both see identical payloads.
type Reader struct {
	gw Gateway
}

// NewReader returns a Reader backed by gw.
func NewReader(gw Gateway) *Reader {
	return &Reader{gw: gw}
}

// Read parses raw and fetches it.
func (r *Reader) Read(ctx context.Context, raw string) (any, error) {
	u, ok := Parse(raw)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownResource, raw)
	}
	return r.ReadURI(ctx, u)
}

// ReadURI fetches an already parsed resource.
func (r *Reader) ReadURI(ctx context.Context, u URI) (any, error) {
	switch u.Kind {
	case KindAllTasks:
		project := r.gw.ProjectID()
		if project == "" {
			return nil, errors.New("kanban://tasks needs a configured project_id")
		}
		tasks, err := r.gw.ListTasks(ctx, gateway.ListTasksOptions{ProjectID: project})
		if err != nil {
			return nil, err
		}
		if tasks == nil {
			tasks = []gateway.Task{}
		}
		return tasks, nil
	case KindContext:
		return r.gw.GetContext(ctx, "")
	case KindTask:
		return r.gw.GetTask(ctx, u.TaskID)
	case KindSession:
		return r.gw.GetSession(ctx, u.SessionID)
	case KindSessionQueue:
		return r.gw.GetQueue(ctx, u.SessionID)
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownResource, u.String())
}
