// ABOUTME: In-memory Store implementation for tests and the ephemeral dev server
// ABOUTME: Mirrors SQLiteStore semantics for seq assignment, idempotency and read state

package store

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MockStore is an in-memory Store implementation.
type MockStore struct {
	mu       sync.RWMutex
	convos   map[string]*Convo
	messages map[string][]*Message          // keyed by convo ID, ascending seq
	corr     map[string]map[string]*Message // convo ID -> correlation ID
	reads    map[string]map[string]*ReadState
}

var _ Store = (*MockStore)(nil)

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		convos:   make(map[string]*Convo),
		messages: make(map[string][]*Message),
		corr:     make(map[string]map[string]*Message),
		reads:    make(map[string]map[string]*ReadState),
	}
}

// CreateConvo stores a new conversation.
func (m *MockStore) CreateConvo(ctx context.Context, convo *Convo) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.convos[convo.ID]; ok {
		return ErrConvoExists
	}

	// Make a copy to avoid external modification
	c := *convo
	m.convos[c.ID] = &c
	m.corr[c.ID] = make(map[string]*Message)
	m.reads[c.ID] = make(map[string]*ReadState)
	return nil
}

// GetConvo retrieves a conversation by ID.
func (m *MockStore) GetConvo(ctx context.Context, id string) (*Convo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.convos[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *c
	return &cp, nil
}

// ListConvos returns every conversation, most recently updated first.
func (m *MockStore) ListConvos(ctx context.Context) ([]*Convo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*Convo, 0, len(m.convos))
	for _, c := range m.convos {
		cp := *c
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.After(out[j].UpdatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// DeleteConvo removes a conversation with its messages and read state.
func (m *MockStore) DeleteConvo(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.convos[id]; !ok {
		return ErrNotFound
	}
	delete(m.convos, id)
	delete(m.messages, id)
	delete(m.corr, id)
	delete(m.reads, id)
	return nil
}

// AppendMessage assigns the next seq and stores the message.
func (m *MockStore) AppendMessage(ctx context.Context, msg *Message) (*Message, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.convos[msg.ConvoID]
	if !ok {
		return nil, false, ErrNotFound
	}

	if msg.CorrelationID != "" {
		if existing, ok := m.corr[msg.ConvoID][msg.CorrelationID]; ok {
			cp := *existing
			return &cp, false, nil
		}
	}

	stored := *msg
	stored.Seq = int64(len(m.messages[msg.ConvoID])) + 1
	stored.Deleted = false
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now().UTC()
	}

	m.messages[msg.ConvoID] = append(m.messages[msg.ConvoID], &stored)
	if stored.CorrelationID != "" {
		m.corr[msg.ConvoID][stored.CorrelationID] = &stored
	}
	c.UpdatedAt = stored.CreatedAt

	cp := stored
	return &cp, true, nil
}

// GetMessage retrieves a single message.
func (m *MockStore) GetMessage(ctx context.Context, convoID, id string) (*Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	msg := m.findLocked(convoID, id)
	if msg == nil {
		return nil, ErrNotFound
	}
	cp := *msg
	return &cp, nil
}

// DeleteMessage blanks a message body and flags it deleted.
func (m *MockStore) DeleteMessage(ctx context.Context, convoID, id string) (*Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	msg := m.findLocked(convoID, id)
	if msg == nil {
		return nil, ErrNotFound
	}
	msg.Deleted = true
	msg.Body = ""
	cp := *msg
	return &cp, nil
}

func (m *MockStore) findLocked(convoID, id string) *Message {
	for _, msg := range m.messages[convoID] {
		if msg.ID == id {
			return msg
		}
	}
	return nil
}

// ListMessages returns the page of messages just below before.
func (m *MockStore) ListMessages(ctx context.Context, convoID string, before int64, limit int) ([]*Message, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if limit <= 0 {
		limit = 50
	}

	all := m.messages[convoID]
	end := len(all)
	if before > 0 && before-1 < int64(end) {
		// seq n lives at index n-1
		end = int(before - 1)
	}
	start := max(end-limit, 0)

	out := make([]*Message, 0, end-start)
	for _, msg := range all[start:end] {
		cp := *msg
		out = append(out, &cp)
	}
	return out, start > 0, nil
}

// ListMessagesSince returns messages with seq above after, oldest first.
func (m *MockStore) ListMessagesSince(ctx context.Context, convoID string, after int64, limit int) ([]*Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if limit <= 0 {
		limit = 100
	}

	var out []*Message
	for _, msg := range m.messages[convoID] {
		if msg.Seq <= after {
			continue
		}
		cp := *msg
		out = append(out, &cp)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

// MarkRead advances a reader's position.
func (m *MockStore) MarkRead(ctx context.Context, convoID, reader string, upTo int64) (*ReadState, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	readers, ok := m.reads[convoID]
	if !ok {
		return nil, false, ErrNotFound
	}

	rs, ok := readers[reader]
	if !ok {
		rs = &ReadState{ConvoID: convoID, Reader: reader}
		readers[reader] = rs
	}

	advanced := upTo > rs.UpTo
	if advanced {
		rs.UpTo = upTo
		rs.UpdatedAt = time.Now().UTC()
	}
	cp := *rs
	return &cp, advanced, nil
}

// GetReadState returns a reader's position in a conversation.
func (m *MockStore) GetReadState(ctx context.Context, convoID, reader string) (*ReadState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if rs, ok := m.reads[convoID][reader]; ok {
		cp := *rs
		return &cp, nil
	}
	return &ReadState{ConvoID: convoID, Reader: reader}, nil
}

// Close is a no-op for the in-memory store.
func (m *MockStore) Close() error {
	return nil
}
