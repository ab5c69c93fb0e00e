// ABOUTME: Idempotent-by-id item log that merges pushes, polls and optimistic sends
// ABOUTME: Also derives day dividers and the new-messages boundary for snapshots

package convo

import (
	"fmt"
	"slices"
	"time"
)

// entry wraps a stored item with its insertion order, used to keep pending
// items stable behind confirmed ones.
type entry struct {
	item  Item
	order uint64
}

// itemLog is the agent's buffer of messages. It is not safe for concurrent
// use; the agent serializes access with its mutex.
type itemLog struct {
	entries    map[string]*entry
	corr       map[string]string // correlation id -> item id
	tombstones map[string]struct{}
	next       uint64
	maxSeq     int64

	// synced is the highest seq at or below which nothing is missing.
	// above holds the seqs seen beyond it, waiting for the gap to close.
	synced int64
	above  map[int64]struct{}
}

func newItemLog() *itemLog {
	return &itemLog{
		entries:    make(map[string]*entry),
		corr:       make(map[string]string),
		tombstones: make(map[string]struct{}),
		above:      make(map[int64]struct{}),
	}
}

func (l *itemLog) latestSeq() int64 {
	return l.maxSeq
}

// syncedSeq is where incremental fetches resume. A push that skipped ahead
// of a lost one leaves it below latestSeq until the gap is filled.
func (l *itemLog) syncedSeq() int64 {
	return l.synced
}

func (l *itemLog) noteSeq(seq int64) {
	if seq <= 0 {
		return
	}
	if seq > l.maxSeq {
		l.maxSeq = seq
	}
	if seq > l.synced {
		l.above[seq] = struct{}{}
		l.advance()
	}
}

// coverThrough records that the server has reported everything up to seq,
// so any seq still missing below it no longer exists.
func (l *itemLog) coverThrough(seq int64) {
	if seq <= l.synced {
		return
	}
	l.synced = seq
	for s := range l.above {
		if s <= seq {
			delete(l.above, s)
		}
	}
	l.advance()
}

func (l *itemLog) advance() {
	for {
		if _, ok := l.above[l.synced+1]; !ok {
			return
		}
		delete(l.above, l.synced+1)
		l.synced++
	}
}

// seqRange returns the lowest and highest server seq among items.
func seqRange(items []Item) (lo, hi int64) {
	for _, it := range items {
		if it.Seq <= 0 {
			continue
		}
		if lo == 0 || it.Seq < lo {
			lo = it.Seq
		}
		if it.Seq > hi {
			hi = it.Seq
		}
	}
	return lo, hi
}

// upsert merges a server-confirmed item. Duplicate deliveries are no-ops and
// a pending or failed optimistic item matching by id or correlation id is
// upgraded in place. Reports whether the log changed.
func (l *itemLog) upsert(it Item) bool {
	if it.ID == "" {
		return false
	}
	if it.Deleted || it.Kind == ItemDeleted {
		return l.remove(it.ID, &it)
	}
	if _, dead := l.tombstones[it.ID]; dead {
		l.noteSeq(it.Seq)
		return false
	}

	if e, ok := l.entries[it.ID]; ok {
		orphaned := false
		if id, ok := l.corr[it.CorrelationID]; ok && it.CorrelationID != "" && id != it.ID {
			// The server copy arrived first; drop the optimistic duplicate.
			delete(l.entries, id)
			l.corr[it.CorrelationID] = it.ID
			orphaned = true
		}
		return l.confirm(e, it) || orphaned
	}

	if it.CorrelationID != "" {
		if id, ok := l.corr[it.CorrelationID]; ok {
			e := l.entries[id]
			if id != it.ID {
				// Server assigned its own id; re-key the optimistic entry.
				delete(l.entries, id)
				e.item.ID = it.ID
				l.entries[it.ID] = e
				l.corr[it.CorrelationID] = it.ID
			}
			l.confirm(e, it)
			return true
		}
	}

	it.Kind = ItemMessage
	it.Delivery = DeliverySent
	it.SendError = ""
	l.next++
	l.entries[it.ID] = &entry{item: it, order: l.next}
	if it.CorrelationID != "" {
		l.corr[it.CorrelationID] = it.ID
	}
	l.noteSeq(it.Seq)
	return true
}

// confirm folds a confirmed server copy into an existing entry.
func (l *itemLog) confirm(e *entry, it Item) bool {
	if e.item.Kind == ItemDeleted {
		return false
	}
	next := e.item
	next.Kind = ItemMessage
	next.Delivery = DeliverySent
	next.SendError = ""
	if it.Seq > 0 {
		next.Seq = it.Seq
	}
	if it.Body != "" {
		next.Body = it.Body
	}
	if it.Sender != "" {
		next.Sender = it.Sender
	}
	if !it.CreatedAt.IsZero() {
		next.CreatedAt = it.CreatedAt
	}
	if next.CorrelationID == "" {
		next.CorrelationID = it.CorrelationID
	}
	l.noteSeq(next.Seq)
	if next.equal(e.item) {
		return false
	}
	e.item = next
	return true
}

// addPending inserts an optimistic item keyed by its correlation id.
func (l *itemLog) addPending(correlationID, sender, body string, now time.Time) {
	l.next++
	l.entries[correlationID] = &entry{
		item: Item{
			Kind:          ItemMessage,
			ID:            correlationID,
			Sender:        sender,
			Body:          body,
			CreatedAt:     now,
			Delivery:      DeliveryPending,
			CorrelationID: correlationID,
		},
		order: l.next,
	}
	l.corr[correlationID] = correlationID
}

// byCorrelation returns the entry for an optimistic send.
func (l *itemLog) byCorrelation(correlationID string) (*entry, bool) {
	id, ok := l.corr[correlationID]
	if !ok {
		return nil, false
	}
	e, ok := l.entries[id]
	return e, ok
}

// markFailed flags a still-pending optimistic item as failed.
func (l *itemLog) markFailed(correlationID, reason string) bool {
	e, ok := l.byCorrelation(correlationID)
	if !ok || e.item.Delivery != DeliveryPending {
		return false
	}
	e.item.Delivery = DeliveryFailed
	e.item.SendError = reason
	return true
}

// markPending moves a failed item back to pending for a retry.
func (l *itemLog) markPending(correlationID string) (Item, bool) {
	e, ok := l.byCorrelation(correlationID)
	if !ok || e.item.Delivery != DeliveryFailed {
		return Item{}, false
	}
	e.item.Delivery = DeliveryPending
	e.item.SendError = ""
	return e.item, true
}

// remove turns a shown message into a deleted marker and tombstones the id
// so later pushes or polls cannot resurrect it.
func (l *itemLog) remove(id string, hint *Item) bool {
	l.tombstones[id] = struct{}{}
	if hint != nil {
		l.noteSeq(hint.Seq)
	}
	e, ok := l.entries[id]
	if !ok || e.item.Kind == ItemDeleted {
		return false
	}
	e.item = Item{
		Kind:          ItemDeleted,
		ID:            e.item.ID,
		Seq:           e.item.Seq,
		Sender:        e.item.Sender,
		CreatedAt:     e.item.CreatedAt,
		CorrelationID: e.item.CorrelationID,
	}
	return true
}

// items returns the log ordered by sequence, pending items last.
func (l *itemLog) items() []Item {
	list := make([]*entry, 0, len(l.entries))
	for _, e := range l.entries {
		list = append(list, e)
	}
	slices.SortFunc(list, func(a, b *entry) int {
		aPending, bPending := a.item.Seq == 0, b.item.Seq == 0
		switch {
		case aPending != bPending:
			if aPending {
				return 1
			}
			return -1
		case !aPending && a.item.Seq != b.item.Seq:
			if a.item.Seq < b.item.Seq {
				return -1
			}
			return 1
		case a.order < b.order:
			return -1
		case a.order > b.order:
			return 1
		default:
			return 0
		}
	})

	out := make([]Item, len(list))
	for i, e := range list {
		out[i] = e.item
	}
	return out
}

// decorate inserts day dividers between messages from different local days
// and a boundary before the first unread message from someone else.
func decorate(items []Item, boundary int64, self string, loc *time.Location) []Item {
	out := make([]Item, 0, len(items)+2)
	boundaryPlaced := boundary <= 0
	var lastDay time.Time

	for i, it := range items {
		if !it.CreatedAt.IsZero() {
			day := startOfDay(it.CreatedAt, loc)
			if i > 0 && !lastDay.IsZero() && !day.Equal(lastDay) {
				out = append(out, Item{
					Kind:      ItemDivider,
					ID:        fmt.Sprintf("divider:%s", day.Format(time.DateOnly)),
					CreatedAt: day,
				})
			}
			lastDay = day
		}

		if !boundaryPlaced && it.Kind == ItemMessage && it.Seq > boundary && it.Sender != self {
			out = append(out, Item{Kind: ItemBoundary, ID: "boundary", Seq: boundary})
			boundaryPlaced = true
		}
		out = append(out, it)
	}
	return out
}

func startOfDay(t time.Time, loc *time.Location) time.Time {
	t = t.In(loc)
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}

// equal compares items field by field, using time.Equal for timestamps.
func (it Item) equal(o Item) bool {
	return it.Kind == o.Kind &&
		it.ID == o.ID &&
		it.Seq == o.Seq &&
		it.Sender == o.Sender &&
		it.Body == o.Body &&
		it.CreatedAt.Equal(o.CreatedAt) &&
		it.Delivery == o.Delivery &&
		it.CorrelationID == o.CorrelationID &&
		it.Deleted == o.Deleted &&
		it.SendError == o.SendError
}

// equal reports whether two snapshots are logically identical.
func (s *State) equal(o *State) bool {
	if s == nil || o == nil {
		return s == o
	}
	if s.ConvoID != o.ConvoID ||
		s.Status != o.Status ||
		s.IsFetchingHistory != o.IsFetchingHistory ||
		s.Syncing != o.Syncing ||
		s.HasMoreHistory != o.HasMoreHistory ||
		s.Retrying != o.Retrying ||
		s.LatestSeq != o.LatestSeq ||
		s.ReadUpTo != o.ReadUpTo {
		return false
	}
	if (s.Error == nil) != (o.Error == nil) || (s.Error != nil && *s.Error != *o.Error) {
		return false
	}
	if !slices.Equal(s.Typing, o.Typing) {
		return false
	}
	return slices.EqualFunc(s.Items, o.Items, Item.equal)
}
