// ABOUTME: JSON wire types shared by the HTTP client and the development server
// ABOUTME: Converts between the wire format and convo items/events

package api

import (
	"fmt"
	"strconv"
	"time"

	"github.com/2389/convo-sync/internal/convo"
)

// MessageJSON is a message as sent over HTTP and SSE.
type MessageJSON struct {
	ID            string    `json:"id"`
	ConvoID       string    `json:"convo_id"`
	Seq           int64     `json:"seq"`
	Sender        string    `json:"sender"`
	Body          string    `json:"body"`
	CorrelationID string    `json:"correlation_id,omitempty"`
	Deleted       bool      `json:"deleted,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// HistoryResponse is the JSON response for GET /api/convos/{id}/messages.
type HistoryResponse struct {
	ConvoID  string        `json:"convo_id"`
	Messages []MessageJSON `json:"messages"`
	Cursor   string        `json:"cursor,omitempty"`
	HasMore  bool          `json:"has_more"`
	ReadUpTo int64         `json:"read_up_to"`
}

// SendRequest is the JSON body for POST /api/convos/{id}/messages.
type SendRequest struct {
	Body          string `json:"body"`
	CorrelationID string `json:"correlation_id,omitempty"`
}

// ReadRequest is the JSON body for POST /api/convos/{id}/read.
type ReadRequest struct {
	UpTo int64 `json:"up_to"`
}

// ReadResponse is the JSON response for POST /api/convos/{id}/read.
type ReadResponse struct {
	UpTo     int64 `json:"up_to"`
	Advanced bool  `json:"advanced"`
}

// TypingRequest is the JSON body for POST /api/convos/{id}/typing.
type TypingRequest struct {
	Active bool `json:"active"`
}

// CreateConvoRequest is the JSON body for POST /api/convos.
type CreateConvoRequest struct {
	ID    string `json:"id"`
	Title string `json:"title,omitempty"`
}

// ConvoJSON is a conversation as returned by the convo endpoints.
type ConvoJSON struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// EventJSON is the data payload of one SSE event. The SSE event name carries
// the kind as well so line-oriented consumers can filter without decoding.
type EventJSON struct {
	ConvoID   string       `json:"convo_id"`
	Kind      string       `json:"kind"`
	Message   *MessageJSON `json:"message,omitempty"`
	MessageID string       `json:"message_id,omitempty"`
	Reader    string       `json:"reader,omitempty"`
	UpTo      int64        `json:"up_to,omitempty"`
	Sender    string       `json:"sender,omitempty"`
	Active    bool         `json:"active,omitempty"`
}

// ItemFromJSON converts a wire message to a convo item. Messages from the
// server are always delivered.
func ItemFromJSON(m MessageJSON) convo.Item {
	kind := convo.ItemMessage
	if m.Deleted {
		kind = convo.ItemDeleted
	}
	return convo.Item{
		Kind:          kind,
		ID:            m.ID,
		Seq:           m.Seq,
		Sender:        m.Sender,
		Body:          m.Body,
		CreatedAt:     m.CreatedAt,
		Delivery:      convo.DeliverySent,
		CorrelationID: m.CorrelationID,
		Deleted:       m.Deleted,
	}
}

// ItemToJSON converts a convo item to its wire form.
func ItemToJSON(convoID string, it convo.Item) MessageJSON {
	return MessageJSON{
		ID:            it.ID,
		ConvoID:       convoID,
		Seq:           it.Seq,
		Sender:        it.Sender,
		Body:          it.Body,
		CorrelationID: it.CorrelationID,
		Deleted:       it.Deleted || it.Kind == convo.ItemDeleted,
		CreatedAt:     it.CreatedAt,
	}
}

// EventToJSON converts a bus event to its wire form.
func EventToJSON(ev convo.Event) EventJSON {
	out := EventJSON{ConvoID: ev.ConvoID, Kind: string(ev.Kind)}
	switch {
	case ev.Message != nil:
		m := ItemToJSON(ev.ConvoID, *ev.Message)
		out.Message = &m
	case ev.Deletion != nil:
		out.MessageID = ev.Deletion.MessageID
	case ev.Read != nil:
		out.Reader = ev.Read.Reader
		out.UpTo = ev.Read.UpTo
	case ev.Typing != nil:
		out.Sender = ev.Typing.Sender
		out.Active = ev.Typing.Active
	}
	return out
}

// EventFromJSON converts a wire event to a bus event, rejecting payloads
// that do not match their kind.
func EventFromJSON(e EventJSON) (convo.Event, error) {
	ev := convo.Event{ConvoID: e.ConvoID, Kind: convo.EventKind(e.Kind)}
	if e.ConvoID == "" {
		return ev, fmt.Errorf("event %q missing convo_id", e.Kind)
	}

	switch ev.Kind {
	case convo.EventNewMessage:
		if e.Message == nil {
			return ev, fmt.Errorf("new_message event missing message")
		}
		it := ItemFromJSON(*e.Message)
		ev.Message = &it
	case convo.EventDelete:
		if e.MessageID == "" {
			return ev, fmt.Errorf("delete event missing message_id")
		}
		ev.Deletion = &convo.Deletion{MessageID: e.MessageID}
	case convo.EventReadStateChanged:
		ev.Read = &convo.ReadState{Reader: e.Reader, UpTo: e.UpTo}
	case convo.EventTyping:
		if e.Sender == "" {
			return ev, fmt.Errorf("typing event missing sender")
		}
		ev.Typing = &convo.Typing{Sender: e.Sender, Active: e.Active}
	default:
		return ev, fmt.Errorf("unknown event kind %q", e.Kind)
	}
	return ev, nil
}

// FormatCursor encodes the seq of the oldest delivered message as a history cursor.
func FormatCursor(oldestSeq int64) string {
	return strconv.FormatInt(oldestSeq, 10)
}

// ParseCursor decodes a history cursor; "" means the newest page.
func ParseCursor(cursor string) (int64, error) {
	if cursor == "" {
		return 0, nil
	}
	seq, err := strconv.ParseInt(cursor, 10, 64)
	if err != nil || seq < 0 {
		return 0, fmt.Errorf("invalid cursor %q", cursor)
	}
	return seq, nil
}
