// Package auth provides bearer-token authentication for the development chat server.
//
// # JWT Tokens
//
// Users authenticate with HS256 JWTs signed with the configured jwt_secret.
// The "sub" claim is the user ID; it becomes the sender of posted messages and
// the reader of read receipts.
//
//	verifier, err := auth.NewJWTVerifier([]byte(secret))
//	token, err := verifier.Generate("alice", 24*time.Hour)
//
// Secrets shorter than MinSecretLength bytes are rejected.
//
// # HTTP Middleware
//
// HTTPAuthMiddleware validates the Authorization header (or an access_token
// query parameter) and stores an AuthContext on the request context:
//
//	router.Use(auth.HTTPAuthMiddleware(verifier, logger))
//	userID := auth.UserID(r.Context())
//
// With a nil verifier the middleware authenticates nobody and trusts the
// X-Convo-User header instead. This is intended for local development only.
package auth
