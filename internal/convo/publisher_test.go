// ABOUTME: Tests for the snapshot publisher
// ABOUTME: Verifies reference stability, coalescing, unsubscribe and close semantics

package convo

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublisherSnapshotBeforeAnyPublish(t *testing.T) {
	initial := &State{ConvoID: "c1", Status: StatusUninitialized}
	p := NewPublisher(initial, nil, nil)
	defer p.Close()

	assert.Same(t, initial, p.Snapshot())
	assert.Same(t, p.Snapshot(), p.Snapshot())
}

func TestPublisherNotifiesLatest(t *testing.T) {
	p := NewPublisher(&State{}, nil, nil)
	defer p.Close()

	var mu sync.Mutex
	var seen []*State
	p.Subscribe(func(s *State) {
		mu.Lock()
		seen = append(seen, s)
		mu.Unlock()
	})

	s1 := &State{LatestSeq: 1}
	s2 := &State{LatestSeq: 2}
	p.Publish(s1)
	p.Publish(s2)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) > 0 && seen[len(seen)-1] == s2
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.LessOrEqual(t, len(seen), 2)
}

func TestPublisherSnapshotInsideListener(t *testing.T) {
	p := NewPublisher(&State{}, nil, nil)
	defer p.Close()

	matched := make(chan bool, 1)
	p.Subscribe(func(s *State) {
		matched <- p.Snapshot() == s
	})

	p.Publish(&State{LatestSeq: 1})
	select {
	case ok := <-matched:
		assert.True(t, ok)
	case <-time.After(time.Second):
		t.Fatal("listener not called")
	}
}

func TestPublisherUnsubscribeInsideListener(t *testing.T) {
	p := NewPublisher(&State{}, nil, nil)
	defer p.Close()

	var calls atomic.Int32
	var unsubscribe func()
	unsubscribe = p.Subscribe(func(*State) {
		calls.Add(1)
		unsubscribe()
	})

	p.Publish(&State{LatestSeq: 1})
	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, 5*time.Millisecond)

	p.Publish(&State{LatestSeq: 2})
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, int32(1), calls.Load())

	// Calling it again is harmless.
	unsubscribe()
}

func TestPublisherCloseFlushesFinalState(t *testing.T) {
	p := NewPublisher(&State{}, nil, nil)

	var last atomic.Pointer[State]
	p.Subscribe(func(s *State) { last.Store(s) })

	final := &State{Status: StatusDestroyed}
	p.Publish(final)
	p.Close()
	p.Wait()

	assert.Same(t, final, last.Load())

	noop := p.Subscribe(func(*State) { t.Error("listener after close") })
	noop()
}
