// ABOUTME: Behavior tests run against both SQLiteStore and MockStore
// ABOUTME: Keeps the in-memory store honest about seq, idempotency and read-state rules

package store

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestStore creates a temporary SQLite store for testing.
func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	store, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)

	t.Cleanup(func() {
		store.Close()
	})

	return store
}

func eachStore(t *testing.T, fn func(t *testing.T, s Store)) {
	t.Run("sqlite", func(t *testing.T) { fn(t, setupTestStore(t)) })
	t.Run("mock", func(t *testing.T) { fn(t, NewMockStore()) })
}

func seedConvo(t *testing.T, s Store, id string) {
	t.Helper()
	now := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, s.CreateConvo(context.Background(), &Convo{
		ID:        id,
		Title:     "#" + id,
		CreatedAt: now,
		UpdatedAt: now,
	}))
}

func appendN(t *testing.T, s Store, convoID string, n int) {
	t.Helper()
	for i := 1; i <= n; i++ {
		_, created, err := s.AppendMessage(context.Background(), &Message{
			ID:      fmt.Sprintf("%s-m%d", convoID, i),
			ConvoID: convoID,
			Sender:  "alice",
			Body:    fmt.Sprintf("message %d", i),
		})
		require.NoError(t, err)
		require.True(t, created)
	}
}

func seqs(msgs []*Message) []int64 {
	out := make([]int64, len(msgs))
	for i, m := range msgs {
		out[i] = m.Seq
	}
	return out
}

func TestStore_CreateConvo_Duplicate(t *testing.T) {
	eachStore(t, func(t *testing.T, s Store) {
		seedConvo(t, s, "general")

		err := s.CreateConvo(context.Background(), &Convo{ID: "general"})
		assert.ErrorIs(t, err, ErrConvoExists)
	})
}

func TestStore_GetConvo_NotFound(t *testing.T) {
	eachStore(t, func(t *testing.T, s Store) {
		_, err := s.GetConvo(context.Background(), "missing")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestStore_AppendMessage_AssignsSeq(t *testing.T) {
	eachStore(t, func(t *testing.T, s Store) {
		seedConvo(t, s, "a")
		seedConvo(t, s, "b")
		appendN(t, s, "a", 3)
		appendN(t, s, "b", 1)

		msgs, err := s.ListMessagesSince(context.Background(), "a", 0, 0)
		require.NoError(t, err)
		assert.Equal(t, []int64{1, 2, 3}, seqs(msgs))

		msgs, err = s.ListMessagesSince(context.Background(), "b", 0, 0)
		require.NoError(t, err)
		assert.Equal(t, []int64{1}, seqs(msgs), "seq is per conversation")
	})
}

func TestStore_AppendMessage_Idempotent(t *testing.T) {
	eachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		seedConvo(t, s, "general")

		first, created, err := s.AppendMessage(ctx, &Message{
			ID: "m1", ConvoID: "general", Sender: "bob", Body: "hi", CorrelationID: "c-1",
		})
		require.NoError(t, err)
		require.True(t, created)

		again, created, err := s.AppendMessage(ctx, &Message{
			ID: "m2", ConvoID: "general", Sender: "bob", Body: "hi", CorrelationID: "c-1",
		})
		require.NoError(t, err)
		assert.False(t, created)
		assert.Equal(t, first.ID, again.ID)
		assert.Equal(t, first.Seq, again.Seq)

		msgs, err := s.ListMessagesSince(ctx, "general", 0, 0)
		require.NoError(t, err)
		assert.Len(t, msgs, 1)
	})
}

func TestStore_AppendMessage_UnknownConvo(t *testing.T) {
	eachStore(t, func(t *testing.T, s Store) {
		_, _, err := s.AppendMessage(context.Background(), &Message{ID: "m1", ConvoID: "nope"})
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestStore_ListMessages_Paging(t *testing.T) {
	eachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		seedConvo(t, s, "general")
		appendN(t, s, "general", 7)

		page, hasMore, err := s.ListMessages(ctx, "general", 0, 3)
		require.NoError(t, err)
		assert.Equal(t, []int64{5, 6, 7}, seqs(page))
		assert.True(t, hasMore)

		page, hasMore, err = s.ListMessages(ctx, "general", 5, 3)
		require.NoError(t, err)
		assert.Equal(t, []int64{2, 3, 4}, seqs(page))
		assert.True(t, hasMore)

		page, hasMore, err = s.ListMessages(ctx, "general", 2, 3)
		require.NoError(t, err)
		assert.Equal(t, []int64{1}, seqs(page))
		assert.False(t, hasMore)
	})
}

func TestStore_ListMessagesSince_Limit(t *testing.T) {
	eachStore(t, func(t *testing.T, s Store) {
		seedConvo(t, s, "general")
		appendN(t, s, "general", 5)

		msgs, err := s.ListMessagesSince(context.Background(), "general", 2, 2)
		require.NoError(t, err)
		assert.Equal(t, []int64{3, 4}, seqs(msgs))
	})
}

func TestStore_DeleteMessage(t *testing.T) {
	eachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		seedConvo(t, s, "general")
		appendN(t, s, "general", 2)

		deleted, err := s.DeleteMessage(ctx, "general", "general-m1")
		require.NoError(t, err)
		assert.True(t, deleted.Deleted)
		assert.Empty(t, deleted.Body)
		assert.Equal(t, int64(1), deleted.Seq)

		_, err = s.DeleteMessage(ctx, "general", "missing")
		assert.ErrorIs(t, err, ErrNotFound)

		// Deletion keeps the seq slot so later appends stay monotonic.
		msg, _, err := s.AppendMessage(ctx, &Message{ID: "late", ConvoID: "general", Sender: "bob", Body: "x"})
		require.NoError(t, err)
		assert.Equal(t, int64(3), msg.Seq)
	})
}

func TestStore_MarkRead_Monotonic(t *testing.T) {
	eachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		seedConvo(t, s, "general")

		rs, err := s.GetReadState(ctx, "general", "alice")
		require.NoError(t, err)
		assert.Equal(t, int64(0), rs.UpTo)

		rs, advanced, err := s.MarkRead(ctx, "general", "alice", 5)
		require.NoError(t, err)
		assert.True(t, advanced)
		assert.Equal(t, int64(5), rs.UpTo)

		rs, advanced, err = s.MarkRead(ctx, "general", "alice", 3)
		require.NoError(t, err)
		assert.False(t, advanced)
		assert.Equal(t, int64(5), rs.UpTo)

		_, advanced, err = s.MarkRead(ctx, "general", "alice", 5)
		require.NoError(t, err)
		assert.False(t, advanced)

		_, _, err = s.MarkRead(ctx, "missing", "alice", 1)
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestStore_DeleteConvo(t *testing.T) {
	eachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		seedConvo(t, s, "general")
		appendN(t, s, "general", 2)
		_, _, err := s.MarkRead(ctx, "general", "alice", 2)
		require.NoError(t, err)

		require.NoError(t, s.DeleteConvo(ctx, "general"))
		assert.ErrorIs(t, s.DeleteConvo(ctx, "general"), ErrNotFound)

		msgs, err := s.ListMessagesSince(ctx, "general", 0, 0)
		require.NoError(t, err)
		assert.Empty(t, msgs)
	})
}

func TestStore_ListConvos_RecentFirst(t *testing.T) {
	eachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		seedConvo(t, s, "old")
		seedConvo(t, s, "new")

		_, _, err := s.AppendMessage(ctx, &Message{
			ID: "m1", ConvoID: "old", Sender: "bob", Body: "bump",
			CreatedAt: time.Now().UTC().Add(time.Hour),
		})
		require.NoError(t, err)

		convos, err := s.ListConvos(ctx)
		require.NoError(t, err)
		require.Len(t, convos, 2)
		assert.Equal(t, "old", convos[0].ID)
	})
}
