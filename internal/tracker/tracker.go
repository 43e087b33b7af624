// Package tracker follows an execution process to completion on behalf of a
// task-augmented send_message call.
//
// Track starts one goroutine per record. Each iteration sleeps one poll
// interval, checks the caller's context, fetches the process (falling back
// to listing the session's processes), maps its status, and emits a
// best-effort progress update. The record's Done channel closes when it
// reaches a terminal status or runs out of iterations.
package tracker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/HendryAvila/kanbridge/internal/async"
	"github.com/HendryAvila/kanbridge/internal/gateway"
	"github.com/HendryAvila/kanbridge/internal/history"
	"github.com/HendryAvila/kanbridge/internal/metrics"
)

// Status is the caller-facing tracking status.
type Status string

const (
	StatusWorking   Status = "working"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether s ends tracking.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// MapStatus maps a Gateway process status onto a tracking status. Only the
// four known Gateway statuses map; anything else reports ok == false.
func MapStatus(gatewayStatus string) (Status, bool) {
	switch gatewayStatus {
	case gateway.ProcessRunning:
		return StatusWorking, true
	case gateway.ProcessCompleted:
		return StatusCompleted, true
	case gateway.ProcessFailed:
		return StatusFailed, true
	case gateway.ProcessKilled:
		return StatusCancelled, true
	}
	return "", false
}

// Progress is one progress update.
type Progress struct {
	Iteration int
	Total     int
	Message   string
}

// ProgressFunc publishes a progress update. Its failures are ignored.
type ProgressFunc func(ctx context.Context, p Progress) error

// Gateway is the slice of the Gateway client the tracker polls.
type Gateway interface {
	GetProcess(ctx context.Context, id string) (*gateway.ExecutionProcess, error)
	ListProcesses(ctx context.Context, sessionID string) ([]gateway.ExecutionProcess, error)
}

// Store persists records. history.Store satisfies it.
type Store interface {
	Save(ctx context.Context, r history.Record) error
}

// Snapshot is a point-in-time copy of a record.
type Snapshot struct {
	ID         string
	SessionID  string
	ProcessID  string
	Message    string
	Status     Status
	ExitCode   *int64
	Elapsed    time.Duration
	Reason     string
	TimedOut   bool
	Iterations int
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (s Snapshot) historyRecord() history.Record {
	return history.Record{
		ID:        s.ID,
		SessionID: s.SessionID,
		ProcessID: s.ProcessID,
		Message:   s.Message,
		Status:    string(s.Status),
		ExitCode:  s.ExitCode,
		Elapsed:   s.Elapsed,
		Reason:    s.Reason,
		TimedOut:  s.TimedOut,
		CreatedAt: s.CreatedAt,
		UpdatedAt: s.UpdatedAt,
	}
}

// Record is the result slot of one tracked message.
type Record struct {
	mu   sync.Mutex
	snap Snapshot
	done chan struct{}
}

// ID is the record's tracking id.
func (r *Record) ID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snap.ID
}

// Done is closed once the record is terminal.
func (r *Record) Done() <-chan struct{} { return r.done }

// Snapshot copies the record's current state.
func (r *Record) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snap
}

// Options tunes a Tracker.
type Options struct {
	PollInterval  time.Duration // default 5s
	MaxIterations int           // default 120
	Store         Store         // optional
	Logger        *zap.Logger
	Metrics       *metrics.Metrics
}

// Tracker runs tracking loops and indexes the records still in flight.
type Tracker struct {
	gw       Gateway
	store    Store
	interval time.Duration
	maxIter  int
	log      *zap.Logger
	metrics  *metrics.Metrics
	now      func() time.Time

	mu      sync.Mutex
	records map[string]*Record
}

// New returns a Tracker.
func New(gw Gateway, opts Options) *Tracker {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 5 * time.Second
	}
	if opts.MaxIterations < 1 {
		opts.MaxIterations = 120
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Tracker{
		gw:       gw,
		store:    opts.Store,
		interval: opts.PollInterval,
		maxIter:  opts.MaxIterations,
		log:      opts.Logger,
		metrics:  opts.Metrics,
		now:      time.Now,
		records:  make(map[string]*Record),
	}
}

// MaxIterations is the poll budget of each record.
func (t *Tracker) MaxIterations() int { return t.maxIter }

// Track creates a record for processID and returns immediately. The loop
// stops early, as cancelled, when ctx is done.
func (t *Tracker) Track(ctx context.Context, sessionID, processID, message string, emit ProgressFunc) *Record {
	now := t.now()
	rec := &Record{
		snap: Snapshot{
			ID:        uuid.NewString(),
			SessionID: sessionID,
			ProcessID: processID,
			Message:   message,
			Status:    StatusWorking,
			CreatedAt: now,
			UpdatedAt: now,
		},
		done: make(chan struct{}),
	}

	t.mu.Lock()
	t.records[rec.snap.ID] = rec
	t.mu.Unlock()
	t.save(rec.snap)

	t.log.Info("tracking execution",
		zap.String("tracking_id", rec.snap.ID),
		zap.String("session_id", sessionID),
		zap.String("process_id", processID),
	)

	async.Go(t.log, "tracker", func() {
		defer func() {
			if r := recover(); r != nil {
				t.finish(rec, StatusFailed, func(s *Snapshot) { s.Reason = fmt.Sprintf("internal error: %v", r) })
				panic(r)
			}
		}()
		t.run(ctx, rec, emit)
	})
	return rec
}

// Active returns snapshots of in-flight records for sessionID, or for every
// session when sessionID is empty.
func (t *Tracker) Active(sessionID string) []Snapshot {
	t.mu.Lock()
	recs := make([]*Record, 0, len(t.records))
	for _, r := range t.records {
		recs = append(recs, r)
	}
	t.mu.Unlock()

	var out []Snapshot
	for _, r := range recs {
		s := r.Snapshot()
		if sessionID == "" || s.SessionID == sessionID {
			out = append(out, s)
		}
	}
	return out
}

func (t *Tracker) run(ctx context.Context, rec *Record, emit ProgressFunc) {
	snap := rec.Snapshot()
	timer := time.NewTimer(t.interval)
	defer timer.Stop()

	for i := 1; i <= t.maxIter; i++ {
		if i > 1 {
			timer.Reset(t.interval)
		}
		select {
		case <-ctx.Done():
		case <-timer.C:
		}
		if ctx.Err() != nil {
			t.finish(rec, StatusCancelled, func(s *Snapshot) { s.Reason = "cancelled by caller" })
			return
		}

		proc, err := t.lookup(ctx, snap.SessionID, snap.ProcessID)
		if err != nil {
			if ctx.Err() != nil {
				t.finish(rec, StatusCancelled, func(s *Snapshot) { s.Reason = "cancelled by caller" })
				return
			}
			t.finish(rec, StatusFailed, func(s *Snapshot) { s.Reason = "execution process not found: " + err.Error() })
			return
		}

		status, ok := MapStatus(proc.Status)
		if !ok {
			t.finish(rec, StatusFailed, func(s *Snapshot) {
				s.Reason = fmt.Sprintf("unknown execution status %q", proc.Status)
			})
			return
		}

		elapsed := t.now().Sub(snap.CreatedAt)
		t.emit(ctx, emit, Progress{
			Iteration: i,
			Total:     t.maxIter,
			Message:   fmt.Sprintf("%s after %s", status, elapsed.Round(time.Second)),
		})

		if status.Terminal() {
			t.finish(rec, status, func(s *Snapshot) {
				s.ExitCode = proc.ExitCode
				s.Iterations = i
				if status == StatusFailed {
					s.Reason = failureReason(proc)
				}
				if status == StatusCancelled {
					s.Reason = "execution was killed"
				}
			})
			return
		}

		rec.mu.Lock()
		rec.snap.Iterations = i
		rec.snap.Elapsed = elapsed
		rec.snap.UpdatedAt = t.now()
		rec.mu.Unlock()
	}

	t.finish(rec, StatusFailed, func(s *Snapshot) {
		s.TimedOut = true
		s.Iterations = t.maxIter
		s.Reason = fmt.Sprintf("timed out after %s", (time.Duration(t.maxIter) * t.interval).String())
	})
}

func failureReason(p *gateway.ExecutionProcess) string {
	if p.ExitCode != nil {
		return fmt.Sprintf("execution failed with exit code %d", *p.ExitCode)
	}
	return "execution failed"
}

// lookup fetches the process directly, then by listing the session.
func (t *Tracker) lookup(ctx context.Context, sessionID, processID string) (*gateway.ExecutionProcess, error) {
	proc, err := t.gw.GetProcess(ctx, processID)
	if err == nil {
		return proc, nil
	}

	list, listErr := t.gw.ListProcesses(ctx, sessionID)
	if listErr != nil {
		return nil, fmt.Errorf("get: %v; list: %w", err, listErr)
	}
	for i := range list {
		if list[i].ID == processID {
			return &list[i], nil
		}
	}
	return nil, fmt.Errorf("process %s is not in session %s", processID, sessionID)
}

// emit publishes progress. Errors and panics from emitter are swallowed.
func (t *Tracker) emit(ctx context.Context, emitter ProgressFunc, p Progress) {
	if emitter == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			t.log.Debug("progress emitter panicked", zap.Any("panic", r))
		}
	}()
	if err := emitter(ctx, p); err != nil {
		t.log.Debug("progress emit failed", zap.Error(err))
	}
}

func (t *Tracker) finish(rec *Record, status Status, mutate func(*Snapshot)) {
	rec.mu.Lock()
	if rec.snap.Status.Terminal() {
		rec.mu.Unlock()
		return
	}
	rec.snap.Status = status
	if mutate != nil {
		mutate(&rec.snap)
	}
	now := t.now()
	rec.snap.Elapsed = now.Sub(rec.snap.CreatedAt)
	rec.snap.UpdatedAt = now
	snap := rec.snap
	rec.mu.Unlock()

	t.mu.Lock()
	delete(t.records, snap.ID)
	t.mu.Unlock()

	t.save(snap)
	t.metrics.MessageTracked(string(status))
	t.log.Info("tracking finished",
		zap.String("tracking_id", snap.ID),
		zap.String("status", string(status)),
		zap.Duration("elapsed", snap.Elapsed),
		zap.String("reason", snap.Reason),
	)
	close(rec.done)
}

func (t *Tracker) save(s Snapshot) {
	if t.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := t.store.Save(ctx, s.historyRecord()); err != nil {
		t.log.Warn("history write failed", zap.String("tracking_id", s.ID), zap.Error(err))
	}
}
