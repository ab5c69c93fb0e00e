// Package convo keeps one chat conversation in sync for a UI layer.
//
// # Overview
//
// An Agent owns the authoritative client-side view of a single conversation.
// It merges three sources into one ordered item log:
//
//   - pushes from the shared event bus, applied as they arrive
//   - incremental polls (FetchSince) while the conversation is on screen
//   - optimistic sends, shown as pending until the server confirms them
//
// Every merge is idempotent by message id, so duplicate or reordered
// deliveries converge on the same log.
//
// # Lifecycle
//
//	agent := convo.New(convo.Params{ConvoID: id, Self: me, Client: c, Events: bus})
//	unsubscribe := agent.Subscribe(render)
//	agent.Resume()     // initializing -> ready
//	agent.Background() // ready -> backgrounded, suspend timer armed
//	agent.Resume()     // backgrounded -> ready
//	agent.Destroy()
//
// Statuses:
//
//   - uninitialized: constructed, nothing fetched
//   - initializing: first history page in flight
//   - ready: polling, bus subscribed
//   - backgrounded: bus subscribed, polling stopped
//   - suspended: bus dropped; the next Resume performs a full resync
//   - error: a permanent failure, or too many transient ones; Resume retries
//   - destroyed: terminal
//
// # Snapshots
//
// Subscribe and Snapshot implement an external-store contract. Each committed
// change builds a new *State; merges that change nothing keep the previous
// pointer. Listeners run on the publisher's goroutine and commits made in
// quick succession are coalesced into one notification.
//
// # Errors
//
// Transport errors are classified by gRPC status code. Transient failures are
// retried with jittered exponential backoff while State.Retrying is set;
// permanent failures move the agent to the error status with State.Error
// populated and the item log untouched. A failed send only marks its own item.
package convo
