// Package store provides persistence for the development chat server.
//
// # Architecture
//
// Store is the single interface the server depends on. Two implementations
// share its behavior:
//
//   - SQLiteStore: durable storage on modernc.org/sqlite
//   - MockStore: in-memory storage for tests and throwaway servers
//
// # Data Models
//
//   - Convo: a conversation that messages are appended to
//   - Message: one entry with a per-conversation seq and an optional
//     correlation id supplied by the sending client
//   - ReadState: the highest seq a reader has acknowledged
//
// # Ordering and Idempotency
//
// AppendMessage assigns seq = previous max + 1 inside a transaction. A second
// append with the same (conversation, correlation id) returns the original
// message instead of creating a duplicate, so clients can retry sends.
// Deleted messages keep their seq; only the body is cleared.
//
// MarkRead only moves forward. Marking an older seq reports advanced=false
// and leaves the stored position alone.
//
// # SQLite Configuration
//
//	PRAGMA journal_mode=WAL;
//	PRAGMA foreign_keys=ON;
//
// The pool is limited to one connection so seq allocation is serialized.
//
// # Error Handling
//
//   - ErrNotFound: requested conversation or message does not exist
//   - ErrConvoExists: conversation id already taken
package store
