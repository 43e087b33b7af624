package resources

import "strings"

// Scheme prefixes every kanbridge resource URI.
const Scheme = "kanban://"

// Kind identifies one of the five resource shapes.
type Kind string

const (
	KindAllTasks     Kind = "tasks"
	KindContext      Kind = "context"
	KindTask         Kind = "task"
	KindSession      Kind = "session"
	KindSessionQueue Kind = "session_queue"
)

// URI is a parsed resource identifier. Only the id relevant to Kind is set.
type URI struct {
	Kind      Kind
	TaskID    string
	SessionID string
}

// Parse recognizes the five resource shapes:
//
//	kanban://tasks
//	kanban://context
//	kanban://tasks/{taskId}
//	kanban://sessions/{sessionId}
//	kanban://sessions/{sessionId}/queue
//
// Anything else reports ok == false.
func Parse(raw string) (URI, bool) {
	rest, found := strings.CutPrefix(raw, Scheme)
	if !found {
		return URI{}, false
	}
	parts := strings.Split(rest, "/")
	for _, p := range parts {
		if p == "" {
			return URI{}, false
		}
	}

	switch {
	case len(parts) == 1 && parts[0] == "tasks":
		return URI{Kind: KindAllTasks}, true
	case len(parts) == 1 && parts[0] == "context":
		return URI{Kind: KindContext}, true
	case len(parts) == 2 && parts[0] == "tasks":
		return URI{Kind: KindTask, TaskID: parts[1]}, true
	case len(parts) == 2 && parts[0] == "sessions":
		return URI{Kind: KindSession, SessionID: parts[1]}, true
	case len(parts) == 3 && parts[0] == "sessions" && parts[2] == "queue":
		return URI{Kind: KindSessionQueue, SessionID: parts[1]}, true
	}
	return URI{}, false
}

// String renders u back into its canonical form.
func (u URI) String() string {
	switch u.Kind {
	case KindAllTasks:
		return Scheme + "tasks"
	case KindContext:
		return Scheme + "context"
	case KindTask:
		return Scheme + "tasks/" + u.TaskID
	case KindSession:
		return Scheme + "sessions/" + u.SessionID
	case KindSessionQueue:
		return Scheme + "sessions/" + u.SessionID + "/queue"
	}
	return ""
}

// TaskURI is the resource for one task.
func TaskURI(id string) string { return URI{Kind: KindTask, TaskID: id}.String() }

// SessionURI is the resource for one session.
func SessionURI(id string) string { return URI{Kind: KindSession, SessionID: id}.String() }

// SessionQueueURI is the resource for a session's message queue.
func SessionQueueURI(id string) string { return URI{Kind: KindSessionQueue, SessionID: id}.String() }
