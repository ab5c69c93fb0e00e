// ABOUTME: Process-wide in-memory event bus multiplexing pushes across conversations
// ABOUTME: Each subscription has its own buffered queue; slow subscribers lose events, never block publishers

package eventbus

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/2389/convo-sync/internal/convo"
	"github.com/2389/convo-sync/internal/metrics"
)

const (
	// subscriberBufferSize is the queue length for each subscription.
	subscriberBufferSize = 64

	// allConversations is the key used by SubscribeAll.
	allConversations = ""
)

type subscription struct {
	id      string
	convoID string
	ch      chan convo.Event
	stopped atomic.Bool
}

// Bus fans pushed events out to per-conversation subscribers. It satisfies
// convo.EventBus.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string]map[string]*subscription // convoID -> subID -> sub
	closed      bool
	logger      *slog.Logger
	metrics     *metrics.Metrics
}

var _ convo.EventBus = (*Bus)(nil)

// New creates a bus. Pass nil logger for default.
func New(logger *slog.Logger, m *metrics.Metrics) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		subscribers: make(map[string]map[string]*subscription),
		logger:      logger.With("component", "eventbus"),
		metrics:     m,
	}
}

// Subscribe delivers events for convoID to handler, in publish order, on a
// goroutine owned by the subscription. The returned function stops delivery
// without waiting for a running handler.
func (b *Bus) Subscribe(convoID string, handler func(convo.Event)) func() {
	sub := b.add(convoID)
	if sub == nil {
		return func() {}
	}

	go func() {
		for ev := range sub.ch {
			if sub.stopped.Load() {
				continue
			}
			handler(ev)
		}
	}()

	return func() { b.remove(sub) }
}

// SubscribeAll delivers events for every conversation to handler.
func (b *Bus) SubscribeAll(handler func(convo.Event)) func() {
	return b.Subscribe(allConversations, handler)
}

// Stream returns a channel of events for convoID, or for all conversations
// when convoID is empty. The channel is closed when ctx is done or the bus
// closes.
func (b *Bus) Stream(ctx context.Context, convoID string) <-chan convo.Event {
	sub := b.add(convoID)
	if sub == nil {
		ch := make(chan convo.Event)
		close(ch)
		return ch
	}

	go func() {
		<-ctx.Done()
		b.remove(sub)
	}()
	return sub.ch
}

// Publish queues ev for subscribers of its conversation and for SubscribeAll
// subscribers. It never blocks; full queues drop the event.
func (b *Bus) Publish(ev convo.Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}

	b.deliverLocked(ev, b.subscribers[ev.ConvoID])
	if ev.ConvoID != allConversations {
		b.deliverLocked(ev, b.subscribers[allConversations])
	}
}

// deliverLocked sends under the read lock so remove cannot close a channel
// mid-send.
func (b *Bus) deliverLocked(ev convo.Event, subs map[string]*subscription) {
	for _, sub := range subs {
		select {
		case sub.ch <- ev:
		default:
			b.metrics.BusDropped()
			b.logger.Debug("dropped event for slow subscriber",
				"convo_id", ev.ConvoID,
				"kind", ev.Kind,
				"sub_id", sub.id)
		}
	}
}

// Subscribers returns the number of live subscriptions for convoID.
func (b *Bus) Subscribers(convoID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers[convoID])
}

func (b *Bus) add(convoID string) *subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}

	sub := &subscription{
		id:      uuid.New().String(),
		convoID: convoID,
		ch:      make(chan convo.Event, subscriberBufferSize),
	}
	if _, ok := b.subscribers[convoID]; !ok {
		b.subscribers[convoID] = make(map[string]*subscription)
	}
	b.subscribers[convoID][sub.id] = sub
	b.metrics.BusSubscribed(1)

	b.logger.Debug("subscriber added", "convo_id", convoID, "sub_id", sub.id)
	return sub
}

func (b *Bus) remove(sub *subscription) {
	sub.stopped.Store(true)

	b.mu.Lock()
	defer b.mu.Unlock()

	subs, ok := b.subscribers[sub.convoID]
	if !ok {
		return
	}
	if _, exists := subs[sub.id]; !exists {
		return
	}

	delete(subs, sub.id)
	close(sub.ch)
	b.metrics.BusSubscribed(-1)

	if len(subs) == 0 {
		delete(b.subscribers, sub.convoID)
	}

	b.logger.Debug("subscriber removed", "convo_id", sub.convoID, "sub_id", sub.id)
}

// Close stops all subscriptions. Later publishes are ignored.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true

	for convoID, subs := range b.subscribers {
		for id, sub := range subs {
			sub.stopped.Store(true)
			close(sub.ch)
			delete(subs, id)
			b.metrics.BusSubscribed(-1)
		}
		delete(b.subscribers, convoID)
	}

	b.logger.Debug("event bus closed")
}
