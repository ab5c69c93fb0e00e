// ABOUTME: Snapshot store adapter exposing subscribe/getSnapshot over an agent's state
// ABOUTME: Notifications run on one goroutine and coalesce commits made in quick succession

package convo

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/2389/convo-sync/internal/metrics"
	"github.com/google/uuid"
)

// Publisher holds the current snapshot and fans out change notifications.
// Snapshot is safe from any goroutine, including inside a listener.
type Publisher struct {
	current atomic.Pointer[State]

	mu        sync.Mutex
	listeners map[string]Listener
	closed    bool

	signal    chan struct{}
	done      chan struct{}
	stopped   chan struct{}
	closeOnce sync.Once

	lastNotified *State // owned by the notifier goroutine

	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewPublisher creates a publisher seeded with initial and starts its
// notifier goroutine. Listeners are not called for the initial snapshot.
func NewPublisher(initial *State, logger *slog.Logger, m *metrics.Metrics) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Publisher{
		listeners:    make(map[string]Listener),
		signal:       make(chan struct{}, 1),
		done:         make(chan struct{}),
		stopped:      make(chan struct{}),
		lastNotified: initial,
		logger:       logger,
		metrics:      m,
	}
	p.current.Store(initial)
	go p.run()
	return p
}

// Snapshot returns the most recently committed state.
func (p *Publisher) Snapshot() *State {
	return p.current.Load()
}

// Subscribe registers a listener. The returned function removes it and is
// safe to call more than once, including from inside the listener.
func (p *Publisher) Subscribe(l Listener) func() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed || l == nil {
		return func() {}
	}

	id := uuid.New().String()
	p.listeners[id] = l

	return func() {
		p.mu.Lock()
		delete(p.listeners, id)
		p.mu.Unlock()
	}
}

// Publish swaps in a new snapshot and wakes the notifier. It never blocks.
func (p *Publisher) Publish(s *State) {
	p.current.Store(s)
	select {
	case p.signal <- struct{}{}:
	default:
		// A wakeup is already pending; it will pick up this snapshot.
	}
}

// Close stops the notifier after it delivers any outstanding snapshot.
// It does not block; use Wait to observe the notifier exiting.
func (p *Publisher) Close() {
	p.closeOnce.Do(func() {
		close(p.done)
	})
}

// Wait blocks until the notifier goroutine has exited after Close.
func (p *Publisher) Wait() {
	<-p.stopped
}

func (p *Publisher) run() {
	defer close(p.stopped)
	for {
		select {
		case <-p.signal:
			p.flush()
		case <-p.done:
			p.flush()
			p.mu.Lock()
			p.closed = true
			p.listeners = make(map[string]Listener)
			p.mu.Unlock()
			return
		}
	}
}

// flush notifies listeners of the latest snapshot unless it was already sent.
func (p *Publisher) flush() {
	s := p.current.Load()
	if s == p.lastNotified {
		return
	}
	p.lastNotified = s

	p.mu.Lock()
	targets := make([]Listener, 0, len(p.listeners))
	for _, l := range p.listeners {
		targets = append(targets, l)
	}
	p.mu.Unlock()

	p.metrics.Notified()
	for _, l := range targets {
		l(s)
	}
}
