// ABOUTME: Tests for SQLite store implementation
// ABOUTME: Covers database creation, persistence across reopen and timestamp round-trips

package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestNewSQLiteStore(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	store, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	defer store.Close()

	// Verify the database file was created
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Error("database file was not created")
	}
}

func TestNewSQLiteStore_CreatesDirectory(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "subdir", "nested", "test.db")

	store, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	defer store.Close()

	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Error("database file was not created in nested directory")
	}
}

func TestCreateAndGetConvo(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	ctx := context.Background()
	convo := &Convo{
		ID:        "general",
		Title:     "General",
		CreatedAt: time.Now().UTC().Truncate(time.Second),
		UpdatedAt: time.Now().UTC().Truncate(time.Second),
	}

	if err := store.CreateConvo(ctx, convo); err != nil {
		t.Fatalf("CreateConvo failed: %v", err)
	}

	got, err := store.GetConvo(ctx, "general")
	if err != nil {
		t.Fatalf("GetConvo failed: %v", err)
	}

	if got.ID != convo.ID {
		t.Errorf("ID mismatch: got %q, want %q", got.ID, convo.ID)
	}
	if got.Title != convo.Title {
		t.Errorf("Title mismatch: got %q, want %q", got.Title, convo.Title)
	}
	if !got.CreatedAt.Equal(convo.CreatedAt) {
		t.Errorf("CreatedAt mismatch: got %v, want %v", got.CreatedAt, convo.CreatedAt)
	}
	if !got.UpdatedAt.Equal(convo.UpdatedAt) {
		t.Errorf("UpdatedAt mismatch: got %v, want %v", got.UpdatedAt, convo.UpdatedAt)
	}
}

func TestMessagePersistsAcrossReopen(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "reopen.db")
	ctx := context.Background()

	store, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}

	now := time.Now().UTC()
	if err := store.CreateConvo(ctx, &Convo{ID: "general", CreatedAt: now, UpdatedAt: now}); err != nil {
		t.Fatalf("CreateConvo failed: %v", err)
	}
	created := time.Date(2026, 3, 4, 5, 6, 7, 891000000, time.UTC)
	if _, _, err := store.AppendMessage(ctx, &Message{
		ID:            "m1",
		ConvoID:       "general",
		Sender:        "alice",
		Body:          "hello",
		CorrelationID: "corr-1",
		CreatedAt:     created,
	}); err != nil {
		t.Fatalf("AppendMessage failed: %v", err)
	}
	if _, _, err := store.MarkRead(ctx, "general", "bob", 1); err != nil {
		t.Fatalf("MarkRead failed: %v", err)
	}
	store.Close()

	store, err = NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("reopening store failed: %v", err)
	}
	defer store.Close()

	got, err := store.GetMessage(ctx, "general", "m1")
	if err != nil {
		t.Fatalf("GetMessage failed: %v", err)
	}
	if got.Seq != 1 {
		t.Errorf("Seq = %d, want 1", got.Seq)
	}
	if got.CorrelationID != "corr-1" {
		t.Errorf("CorrelationID = %q, want corr-1", got.CorrelationID)
	}
	if !got.CreatedAt.Equal(created) {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, created)
	}

	rs, err := store.GetReadState(ctx, "general", "bob")
	if err != nil {
		t.Fatalf("GetReadState failed: %v", err)
	}
	if rs.UpTo != 1 {
		t.Errorf("UpTo = %d, want 1", rs.UpTo)
	}
}

func TestAppendMessage_NoCorrelationNotDeduped(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	ctx := context.Background()
	now := time.Now().UTC()
	if err := store.CreateConvo(ctx, &Convo{ID: "general", CreatedAt: now, UpdatedAt: now}); err != nil {
		t.Fatalf("CreateConvo failed: %v", err)
	}

	for _, id := range []string{"m1", "m2"} {
		_, created, err := store.AppendMessage(ctx, &Message{ID: id, ConvoID: "general", Sender: "alice", Body: "same"})
		if err != nil {
			t.Fatalf("AppendMessage(%s) failed: %v", id, err)
		}
		if !created {
			t.Errorf("AppendMessage(%s) created = false, want true without correlation id", id)
		}
	}
}

func TestGetMessage_NotFound(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	_, err := store.GetMessage(context.Background(), "general", "nonexistent")
	if err != ErrNotFound {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	store, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	return store
}
