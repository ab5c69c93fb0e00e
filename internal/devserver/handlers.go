// ABOUTME: HTTP handlers for conversations, messages, read receipts and typing
// ABOUTME: Every successful mutation is published on the event bus for SSE subscribers

package devserver

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/2389/convo-sync/internal/api"
	"github.com/2389/convo-sync/internal/auth"
	"github.com/2389/convo-sync/internal/convo"
	"github.com/2389/convo-sync/internal/store"
)

const (
	defaultPageLimit = 50
	maxPageLimit     = 200
	maxBodyBytes     = 64 << 10
	maxCorrelationID = 100
)

func (s *Server) handleListConvos(w http.ResponseWriter, r *http.Request) {
	convos, err := s.store.ListConvos(r.Context())
	if err != nil {
		s.logger.Error("failed to list convos", "error", err)
		s.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	resp := make([]api.ConvoJSON, 0, len(convos))
	for _, c := range convos {
		resp = append(resp, convoToJSON(c))
	}
	s.sendJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCreateConvo(w http.ResponseWriter, r *http.Request) {
	var req api.CreateConvoRequest
	if !s.decode(w, r, &req) {
		return
	}
	req.ID = strings.TrimSpace(req.ID)
	if req.ID == "" {
		s.sendJSONError(w, http.StatusBadRequest, "id is required")
		return
	}

	now := time.Now().UTC()
	c := &store.Convo{ID: req.ID, Title: req.Title, CreatedAt: now, UpdatedAt: now}
	if err := s.store.CreateConvo(r.Context(), c); err != nil {
		if errors.Is(err, store.ErrConvoExists) {
			s.sendJSONError(w, http.StatusConflict, "conversation already exists")
			return
		}
		s.logger.Error("failed to create convo", "error", err)
		s.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	s.logger.Info("created conversation", "convo_id", c.ID, "by", auth.UserID(r.Context()))
	s.sendJSON(w, http.StatusCreated, convoToJSON(c))
}

func (s *Server) handleDeleteConvo(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.store.DeleteConvo(r.Context(), id); err != nil {
		s.storeError(w, "delete convo", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleListMessages serves both history pages (cursor) and catch-up
// fetches (since). The two are mutually exclusive.
func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	convoID := mux.Vars(r)["id"]
	q := r.URL.Query()

	limit, err := parseLimit(q.Get("limit"))
	if err != nil {
		s.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	if _, err := s.store.GetConvo(ctx, convoID); err != nil {
		s.storeError(w, "get convo", err)
		return
	}

	resp := api.HistoryResponse{ConvoID: convoID}

	if since := q.Get("since"); since != "" {
		if q.Get("cursor") != "" {
			s.sendJSONError(w, http.StatusBadRequest, "since and cursor are mutually exclusive")
			return
		}
		after, err := strconv.ParseInt(since, 10, 64)
		if err != nil || after < 0 {
			s.sendJSONError(w, http.StatusBadRequest, "invalid since")
			return
		}
		msgs, err := s.store.ListMessagesSince(ctx, convoID, after, limit)
		if err != nil {
			s.storeError(w, "list messages since", err)
			return
		}
		resp.Messages = messagesToJSON(msgs)
		s.sendJSON(w, http.StatusOK, resp)
		return
	}

	before, err := api.ParseCursor(q.Get("cursor"))
	if err != nil {
		s.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	msgs, hasMore, err := s.store.ListMessages(ctx, convoID, before, limit)
	if err != nil {
		s.storeError(w, "list messages", err)
		return
	}
	resp.Messages = messagesToJSON(msgs)
	resp.HasMore = hasMore
	if hasMore && len(msgs) > 0 {
		resp.Cursor = api.FormatCursor(msgs[0].Seq)
	}

	if user := auth.UserID(ctx); user != "" {
		rs, err := s.store.GetReadState(ctx, convoID, user)
		if err != nil {
			s.storeError(w, "get read state", err)
			return
		}
		resp.ReadUpTo = rs.UpTo
	}

	s.sendJSON(w, http.StatusOK, resp)
}

func (s *Server) handlePostMessage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	convoID := mux.Vars(r)["id"]
	sender, ok := s.requireUser(w, r)
	if !ok {
		return
	}

	var req api.SendRequest
	if !s.decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Body) == "" {
		s.sendJSONError(w, http.StatusBadRequest, "body is required")
		return
	}
	if len(req.CorrelationID) > maxCorrelationID {
		s.sendJSONError(w, http.StatusBadRequest, "correlation_id too long")
		return
	}
	if !s.allowPost(sender) {
		s.sendJSONError(w, http.StatusTooManyRequests, "slow down")
		return
	}

	stored, created, err := s.store.AppendMessage(ctx, &store.Message{
		ID:            uuid.New().String(),
		ConvoID:       convoID,
		Sender:        sender,
		Body:          req.Body,
		CorrelationID: req.CorrelationID,
		CreatedAt:     time.Now().UTC(),
	})
	if err != nil {
		s.storeError(w, "append message", err)
		return
	}

	if !created {
		s.logger.Debug("duplicate send ignored",
			"convo_id", convoID,
			"correlation_id", req.CorrelationID,
		)
		s.sendJSON(w, http.StatusOK, messageToJSON(stored))
		return
	}

	item := api.ItemFromJSON(messageToJSON(stored))
	s.bus.Publish(convo.Event{ConvoID: convoID, Kind: convo.EventNewMessage, Message: &item})
	// Posting ends the sender's typing indicator.
	s.bus.Publish(convo.Event{
		ConvoID: convoID,
		Kind:    convo.EventTyping,
		Typing:  &convo.Typing{Sender: sender, Active: false},
	})

	s.sendJSON(w, http.StatusCreated, messageToJSON(stored))
}

func (s *Server) handleDeleteMessage(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	convoID, msgID := vars["id"], vars["msg"]
	user, ok := s.requireUser(w, r)
	if !ok {
		return
	}

	existing, err := s.store.GetMessage(r.Context(), convoID, msgID)
	if err != nil {
		s.storeError(w, "get message", err)
		return
	}
	if existing.Sender != user {
		s.sendJSONError(w, http.StatusForbidden, "only the sender can delete a message")
		return
	}

	if _, err := s.store.DeleteMessage(r.Context(), convoID, msgID); err != nil {
		s.storeError(w, "delete message", err)
		return
	}

	s.bus.Publish(convo.Event{ConvoID: convoID, Kind: convo.EventDelete, Deletion: &convo.Deletion{MessageID: msgID}})
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	convoID := mux.Vars(r)["id"]
	reader, ok := s.requireUser(w, r)
	if !ok {
		return
	}

	var req api.ReadRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.UpTo < 0 {
		s.sendJSONError(w, http.StatusBadRequest, "up_to must not be negative")
		return
	}

	rs, advanced, err := s.store.MarkRead(r.Context(), convoID, reader, req.UpTo)
	if err != nil {
		s.storeError(w, "mark read", err)
		return
	}

	if advanced {
		s.bus.Publish(convo.Event{
			ConvoID: convoID,
			Kind:    convo.EventReadStateChanged,
			Read:    &convo.ReadState{Reader: reader, UpTo: rs.UpTo},
		})
	}
	s.sendJSON(w, http.StatusOK, api.ReadResponse{UpTo: rs.UpTo, Advanced: advanced})
}

func (s *Server) handleTyping(w http.ResponseWriter, r *http.Request) {
	convoID := mux.Vars(r)["id"]
	sender, ok := s.requireUser(w, r)
	if !ok {
		return
	}

	var req api.TypingRequest
	if !s.decode(w, r, &req) {
		return
	}
	if _, err := s.store.GetConvo(r.Context(), convoID); err != nil {
		s.storeError(w, "get convo", err)
		return
	}

	s.bus.Publish(convo.Event{
		ConvoID: convoID,
		Kind:    convo.EventTyping,
		Typing:  &convo.Typing{Sender: sender, Active: req.Active},
	})
	w.WriteHeader(http.StatusNoContent)
}

// requireUser returns the caller's user id, rejecting anonymous requests
// that did not name themselves.
func (s *Server) requireUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	user := auth.UserID(r.Context())
	if user == "" {
		s.sendJSONError(w, http.StatusBadRequest, "sender is required (set "+auth.UserHeader+")")
		return "", false
	}
	return user, true
}

// decode reads a bounded JSON body into v, writing a 400 on failure.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		s.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

// storeError maps store errors to HTTP responses.
func (s *Server) storeError(w http.ResponseWriter, op string, err error) {
	if errors.Is(err, store.ErrNotFound) {
		s.sendJSONError(w, http.StatusNotFound, "not found")
		return
	}
	s.logger.Error("store operation failed", "op", op, "error", err)
	s.sendJSONError(w, http.StatusInternalServerError, "internal server error")
}

func parseLimit(raw string) (int, error) {
	if raw == "" {
		return defaultPageLimit, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, errors.New("invalid limit")
	}
	return min(n, maxPageLimit), nil
}

func convoToJSON(c *store.Convo) api.ConvoJSON {
	return api.ConvoJSON{ID: c.ID, Title: c.Title, CreatedAt: c.CreatedAt, UpdatedAt: c.UpdatedAt}
}

func messageToJSON(m *store.Message) api.MessageJSON {
	return api.MessageJSON{
		ID:            m.ID,
		ConvoID:       m.ConvoID,
		Seq:           m.Seq,
		Sender:        m.Sender,
		Body:          m.Body,
		CorrelationID: m.CorrelationID,
		Deleted:       m.Deleted,
		CreatedAt:     m.CreatedAt,
	}
}

func messagesToJSON(msgs []*store.Message) []api.MessageJSON {
	out := make([]api.MessageJSON, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, messageToJSON(m))
	}
	return out
}
