// Package subscription turns pollable kanban:// resources into change
// notifications.
//
// MCP clients subscribe to resource URIs. The Manager polls every subscribed
// URI on a fixed interval, fingerprints the fetched payload, and sends
// notifications/resources/updated to the URI's subscribers whenever the
// fingerprint differs from the previous poll. The first poll after a
// subscription only records a baseline.
//
// Each URI keeps the set of subscribers interested in it. A URI leaves the
// poll set, and its fingerprint is forgotten, only when its last subscriber
// unsubscribes or disconnects. The poll loop runs while at least one URI is
// subscribed.
package subscription

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/HendryAvila/kanbridge/internal/async"
	"github.com/HendryAvila/kanbridge/internal/metrics"
	"github.com/HendryAvila/kanbridge/internal/resources"
)

// Fetcher reads the current value of a resource.
type Fetcher interface {
	ReadURI(ctx context.Context, u resources.URI) (any, error)
}

// Notifier delivers a resources/updated notification to one subscriber.
type Notifier interface {
	NotifyResourceUpdated(subscriber, uri string) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(subscriber, uri string) error

func (f NotifierFunc) NotifyResourceUpdated(subscriber, uri string) error { return f(subscriber, uri) }

// Options tunes a Manager.
type Options struct {
	Interval    time.Duration // default 10s
	Concurrency int           // default 4
	Logger      *zap.Logger
	Metrics     *metrics.Metrics
}

// Manager owns the subscription set, the fingerprint table and the poll loop.
type Manager struct {
	fetch       Fetcher
	notify      Notifier
	interval    time.Duration
	concurrency int
	log         *zap.Logger
	metrics     *metrics.Metrics

	mu           sync.Mutex
	subs         map[string]map[string]struct{} // uri -> subscribers
	fingerprints map[string]string
	generation   map[string]uint64 // bumped each time a uri enters the set
	nextGen      uint64
	cancel       context.CancelFunc
	done         chan struct{}

	pollMu sync.Mutex // one poll cycle at a time
}

// NewManager returns an idle Manager.
func NewManager(fetch Fetcher, notify Notifier, opts Options) *Manager {
	if opts.Interval <= 0 {
		opts.Interval = 10 * time.Second
	}
	if opts.Concurrency < 1 {
		opts.Concurrency = 4
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Manager{
		fetch:        fetch,
		notify:       notify,
		interval:     opts.Interval,
		concurrency:  opts.Concurrency,
		log:          opts.Logger,
		metrics:      opts.Metrics,
		subs:         make(map[string]map[string]struct{}),
		fingerprints: make(map[string]string),
		generation:   make(map[string]uint64),
	}
}

// Subscribe registers subscriber's interest in uri and starts the poll loop
// if it is not running. Repeating a subscription is a no-op.
func (m *Manager) Subscribe(subscriber, uri string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	set, ok := m.subs[uri]
	if !ok {
		set = make(map[string]struct{})
		m.subs[uri] = set
		m.nextGen++
		m.generation[uri] = m.nextGen
	}
	set[subscriber] = struct{}{}

	if m.cancel == nil {
		m.startLocked()
	}
}

// Unsubscribe drops subscriber's interest in uri. When nobody is left the
// uri and its fingerprint are removed, and an empty set stops the loop.
func (m *Manager) Unsubscribe(subscriber, uri string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removeLocked(subscriber, uri)
	if len(m.subs) == 0 {
		m.stopLocked()
	}
}

// Forget removes subscriber from every uri, e.g. when its session closes.
func (m *Manager) Forget(subscriber string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for uri := range m.subs {
		m.removeLocked(subscriber, uri)
	}
	if len(m.subs) == 0 {
		m.stopLocked()
	}
}

func (m *Manager) removeLocked(subscriber, uri string) {
	set, ok := m.subs[uri]
	if !ok {
		return
	}
	delete(set, subscriber)
	if len(set) == 0 {
		delete(m.subs, uri)
		delete(m.fingerprints, uri)
		delete(m.generation, uri)
	}
}

// StopPolling halts the poll loop and waits for an in-flight cycle to end.
// Subscriptions are kept; a later Subscribe restarts the loop.
func (m *Manager) StopPolling() {
	m.mu.Lock()
	done := m.done
	m.stopLocked()
	m.mu.Unlock()

	if done != nil {
		<-done
	}
}

// Polling reports whether the poll loop is running.
func (m *Manager) Polling() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cancel != nil
}

// URIs returns the subscribed uris, sorted.
func (m *Manager) URIs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.subs))
	for uri := range m.subs {
		out = append(out, uri)
	}
	sort.Strings(out)
	return out
}

// Subscribers returns who is subscribed to uri, sorted.
func (m *Manager) Subscribers(uri string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.subscribersLocked(uri)
}

func (m *Manager) subscribersLocked(uri string) []string {
	set := m.subs[uri]
	out := make([]string, 0, len(set))
	for s := range set {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

func (m *Manager) startLocked() {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	m.cancel = cancel
	m.done = done

	async.Go(m.log, "subscription-poll", func() {
		defer close(done)
		m.run(ctx)
	})
	m.log.Debug("poll loop started", zap.Duration("interval", m.interval))
}

func (m *Manager) stopLocked() {
	if m.cancel == nil {
		return
	}
	m.cancel()
	m.cancel = nil
	m.done = nil
	m.log.Debug("poll loop stopped")
}

func (m *Manager) run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.safePoll(ctx)
		}
	}
}

func (m *Manager) safePoll(ctx context.Context) {
	defer async.Recover(m.log, "subscription-poll-cycle")
	m.Poll(ctx)
}

type target struct {
	uri string
	gen uint64
}

// Poll runs one poll cycle over every subscribed uri. URIs are fetched
// concurrently with bounded fan-out; a failing uri is skipped for this
// cycle only. Cycles never overlap.
func (m *Manager) Poll(ctx context.Context) {
	m.pollMu.Lock()
	defer m.pollMu.Unlock()

	m.mu.Lock()
	targets := make([]target, 0, len(m.subs))
	for uri := range m.subs {
		targets = append(targets, target{uri: uri, gen: m.generation[uri]})
	}
	m.mu.Unlock()

	var g errgroup.Group
	g.SetLimit(m.concurrency)
	for _, t := range targets {
		g.Go(func() error {
			defer async.Recover(m.log, "subscription-poll-uri")
			m.pollOne(ctx, t)
			return nil
		})
	}
	_ = g.Wait()
	m.metrics.PollCycle()
}

func (m *Manager) pollOne(ctx context.Context, t target) {
	u, ok := resources.Parse(t.uri)
	if !ok {
		return
	}

	value, err := m.fetch.ReadURI(ctx, u)
	if err != nil {
		m.metrics.FetchFailed(string(u.Kind))
		m.log.Debug("resource fetch failed, skipping this cycle",
			zap.String("uri", t.uri),
			zap.Error(err),
		)
		return
	}

	fp, err := Fingerprint(value)
	if err != nil {
		m.log.Warn("fingerprint failed", zap.String("uri", t.uri), zap.Error(err))
		return
	}

	m.mu.Lock()
	if gen, ok := m.generation[t.uri]; !ok || gen != t.gen {
		// Unsubscribed (or re-subscribed) while the fetch was in flight.
		m.mu.Unlock()
		return
	}
	prev, had := m.fingerprints[t.uri]
	m.fingerprints[t.uri] = fp
	var recipients []string
	if had && prev != fp {
		recipients = m.subscribersLocked(t.uri)
	}
	m.mu.Unlock()

	if len(recipients) == 0 {
		return
	}
	m.metrics.ResourceNotified(string(u.Kind))
	for _, sub := range recipients {
		if err := m.notify.NotifyResourceUpdated(sub, t.uri); err != nil {
			m.log.Debug("resource notification failed",
				zap.String("uri", t.uri),
				zap.String("subscriber", sub),
				zap.Error(err),
			)
		}
	}
}
