// ABOUTME: Data model for a synchronized conversation: status, items, events and snapshots
// ABOUTME: Everything published to the UI layer is defined here and treated as immutable

package convo

import (
	"context"
	"time"
)

// Status is the agent's position in its lifecycle state machine.
type Status string

const (
	StatusUninitialized Status = "uninitialized"
	StatusInitializing  Status = "initializing"
	StatusReady         Status = "ready"
	StatusBackgrounded  Status = "backgrounded"
	StatusSuspended     Status = "suspended"
	StatusError         Status = "error"
	StatusDestroyed     Status = "destroyed"
)

// Active reports whether the conversation has a loaded state.
func (s Status) Active() bool {
	switch s {
	case StatusReady, StatusBackgrounded, StatusSuspended:
		return true
	default:
		return false
	}
}

// ItemKind discriminates entries in the displayed log.
type ItemKind string

const (
	ItemMessage  ItemKind = "message"
	ItemDeleted  ItemKind = "deleted"
	ItemDivider  ItemKind = "divider"
	ItemBoundary ItemKind = "boundary"
)

// Delivery is the send state of a message authored on this client.
type Delivery string

const (
	DeliveryPending Delivery = "pending"
	DeliverySent    Delivery = "sent"
	DeliveryFailed  Delivery = "failed"
)

// Item is one entry of the conversation log. Only messages and deleted
// markers are stored; dividers and the new-messages boundary are derived
// when a snapshot is built.
type Item struct {
	Kind          ItemKind
	ID            string
	Seq           int64 // server-assigned, 0 while pending
	Sender        string
	Body          string
	CreatedAt     time.Time
	Delivery      Delivery
	CorrelationID string // client-generated id for optimistic sends
	Deleted       bool   // set by servers that return tombstones in history
	SendError     string // last failure for a failed optimistic send
}

// Page is one page of history returned by the network client.
type Page struct {
	Items    []Item
	Cursor   string // cursor for the next (older) page, empty when exhausted
	HasMore  bool
	ReadUpTo int64 // the viewer's read position, 0 when unknown
}

// EventKind tags server-pushed events.
type EventKind string

const (
	EventNewMessage       EventKind = "new_message"
	EventDelete           EventKind = "delete"
	EventReadStateChanged EventKind = "read_state"
	EventTyping           EventKind = "typing"
)

// Deletion identifies a removed message.
type Deletion struct {
	MessageID string
}

// ReadState carries a read-position change for the conversation.
type ReadState struct {
	Reader string
	UpTo   int64
}

// Typing carries a typing indicator change.
type Typing struct {
	Sender string
	Active bool
}

// Event is a server push delivered through the event bus. Exactly one of the
// payload pointers is set, matching Kind.
type Event struct {
	ConvoID  string
	Kind     EventKind
	Message  *Item
	Deletion *Deletion
	Read     *ReadState
	Typing   *Typing
}

// State is the published snapshot. A new State is built for every committed
// change; consumers must treat it, including the Items slice, as read-only.
type State struct {
	ConvoID           string
	Status            Status
	Items             []Item
	IsFetchingHistory bool
	// Syncing is set while the initial load or a full resync is outstanding,
	// so LatestSeq may still be behind the server.
	Syncing           bool
	HasMoreHistory    bool
	Retrying          bool // a recoverable failure is being retried
	Typing            []string
	LatestSeq         int64
	ReadUpTo          int64
	Error             *ErrorInfo
}

// Messages returns only the message and deleted entries of the snapshot.
func (s *State) Messages() []Item {
	out := make([]Item, 0, len(s.Items))
	for _, it := range s.Items {
		if it.Kind == ItemMessage || it.Kind == ItemDeleted {
			out = append(out, it)
		}
	}
	return out
}

// Listener is notified after a new snapshot has been committed.
type Listener func(*State)

// Client is the network capability the agent consumes.
type Client interface {
	FetchHistory(ctx context.Context, convoID, cursor string) (*Page, error)
	FetchSince(ctx context.Context, convoID string, seq int64) ([]Item, error)
	SendMessage(ctx context.Context, convoID, body, correlationID string) (*Item, error)
}

// EventBus is the shared push channel. Subscribe must only deliver events for
// the given conversation, in the order received, and the returned function
// must be safe to call more than once. Handlers are never invoked from inside
// Subscribe, and unsubscribe does not wait for a running handler.
type EventBus interface {
	Subscribe(convoID string, handler func(Event)) (unsubscribe func())
}
