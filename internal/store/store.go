// ABOUTME: Store interface and data types for the development chat server
// ABOUTME: Defines Convo, Message and ReadState plus the persistence contract

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrConvoExists is returned when creating a conversation id that is taken
var ErrConvoExists = errors.New("conversation already exists")

// Convo is a conversation that messages are appended to
type Convo struct {
	ID        string
	Title     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Message is one entry in a conversation. Seq is assigned by the store and
// increases by one per conversation.
type Message struct {
	ID            string
	ConvoID       string
	Seq           int64
	Sender        string
	Body          string
	CorrelationID string // client id used to make appends idempotent
	Deleted       bool
	CreatedAt     time.Time
}

// ReadState is how far a reader has read in a conversation
type ReadState struct {
	ConvoID   string
	Reader    string
	UpTo      int64
	UpdatedAt time.Time
}

// Store defines the persistence operations of the development server
type Store interface {
	CreateConvo(ctx context.Context, convo *Convo) error
	GetConvo(ctx context.Context, id string) (*Convo, error)
	ListConvos(ctx context.Context) ([]*Convo, error)
	// DeleteConvo removes the conversation with its messages and read state.
	DeleteConvo(ctx context.Context, id string) error

	// AppendMessage assigns the next seq and stores msg. When msg carries a
	// correlation id already used in the conversation, the stored message is
	// returned with created=false.
	AppendMessage(ctx context.Context, msg *Message) (stored *Message, created bool, err error)
	GetMessage(ctx context.Context, convoID, id string) (*Message, error)
	// DeleteMessage blanks the body and flags the message deleted.
	DeleteMessage(ctx context.Context, convoID, id string) (*Message, error)
	// ListMessages returns up to limit messages with seq below before (0 means
	// newest), in ascending seq order, and whether older messages remain.
	ListMessages(ctx context.Context, convoID string, before int64, limit int) ([]*Message, bool, error)
	// ListMessagesSince returns up to limit messages with seq above after.
	ListMessagesSince(ctx context.Context, convoID string, after int64, limit int) ([]*Message, error)

	// MarkRead moves the reader's position forward; it never moves back.
	// advanced reports whether the stored position changed.
	MarkRead(ctx context.Context, convoID, reader string, upTo int64) (state *ReadState, advanced bool, err error)
	// GetReadState returns the reader's position, UpTo 0 if never read.
	GetReadState(ctx context.Context, convoID, reader string) (*ReadState, error)

	Close() error
}
