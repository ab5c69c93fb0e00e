// Package devserver implements a small chat server for exercising the sync engine.
//
// # Overview
//
// The server stores conversations in a store.Store and publishes every change
// on an eventbus.Bus, which the /api/events endpoint streams as Server-Sent
// Events. Clients built on internal/api read history over HTTP and keep up
// through the event feed, falling back to catch-up fetches after gaps.
//
// # Routes
//
//	GET    /health                           ?convo= (subscriber count)
//	GET    /metrics                          (when a Gatherer is configured)
//	GET    /api/convos
//	POST   /api/convos                       {"id","title"}
//	DELETE /api/convos/{id}
//	GET    /api/convos/{id}/messages         ?cursor=&limit= or ?since=&limit=
//	POST   /api/convos/{id}/messages         {"body","correlation_id"}
//	DELETE /api/convos/{id}/messages/{msg}
//	POST   /api/convos/{id}/read             {"up_to"}
//	POST   /api/convos/{id}/typing           {"active"}
//	GET    /api/events                       ?convo=
//
// # Event Types
//
//   - new_message: a message was appended
//   - delete: a message was removed
//   - read_state: a reader's position advanced
//   - typing: a user started or stopped typing
//
// # Authentication
//
// With a JWT verifier configured, /api routes require a bearer token whose
// subject becomes the sender and reader. Without one, callers name
// themselves with the X-Convo-User header.
//
// Serve logs every published event at debug level.
//
// # Usage
//
//	srv, err := devserver.New(devserver.Options{Store: st, Bus: bus})
//	err = srv.Run(ctx, "127.0.0.1:8088")
package devserver
