// ABOUTME: Tests for HTTP authentication middleware
// ABOUTME: Covers token extraction, validation and the unauthenticated dev mode

package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func serveThrough(mw func(http.Handler) http.Handler, req *http.Request) (*httptest.ResponseRecorder, *AuthContext) {
	var got *AuthContext
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = FromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})
	rec := httptest.NewRecorder()
	mw(handler).ServeHTTP(rec, req)
	return rec, got
}

func TestHTTPAuthMiddleware_ValidToken(t *testing.T) {
	verifier := newTestVerifier(t)
	token, _ := verifier.Generate("alice", time.Hour)

	req := httptest.NewRequest(http.MethodGet, "/api/convos/general/messages", nil)
	req.Header.Set("Authorization", "Bearer "+token)

	rec, got := serveThrough(HTTPAuthMiddleware(verifier, nil), req)

	if rec.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", rec.Code)
	}
	if got == nil {
		t.Fatal("expected AuthContext in context")
	}
	if got.UserID != "alice" {
		t.Errorf("expected user 'alice', got %q", got.UserID)
	}
	if got.Anonymous {
		t.Error("expected authenticated context")
	}
}

func TestHTTPAuthMiddleware_QueryToken(t *testing.T) {
	verifier := newTestVerifier(t)
	token, _ := verifier.Generate("bob", time.Hour)

	req := httptest.NewRequest(http.MethodGet, "/api/events?access_token="+token, nil)

	rec, got := serveThrough(HTTPAuthMiddleware(verifier, nil), req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	if got.UserID != "bob" {
		t.Errorf("expected user 'bob', got %q", got.UserID)
	}
}

func TestHTTPAuthMiddleware_Rejects(t *testing.T) {
	verifier := newTestVerifier(t)
	expired, _ := verifier.Generate("alice", -time.Hour)

	tests := []struct {
		name   string
		header string
	}{
		{"missing header", ""},
		{"wrong scheme", "Basic abc"},
		{"empty bearer", "Bearer "},
		{"garbage token", "Bearer nope"},
		{"expired token", "Bearer " + expired},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/convos", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}

			rec, got := serveThrough(HTTPAuthMiddleware(verifier, nil), req)

			if rec.Code != http.StatusUnauthorized {
				t.Errorf("expected status 401, got %d", rec.Code)
			}
			if got != nil {
				t.Error("handler should not have been called")
			}
		})
	}
}

func TestHTTPAuthMiddleware_Disabled(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/api/convos/general/messages", nil)
	req.Header.Set(UserHeader, "carol")

	rec, got := serveThrough(HTTPAuthMiddleware(nil, nil), req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	if got == nil || got.UserID != "carol" || !got.Anonymous {
		t.Errorf("expected anonymous carol, got %+v", got)
	}
}
