// ABOUTME: HTTP client for the chat API implementing convo.Client and receipts.Marker
// ABOUTME: Maps HTTP failures onto gRPC status codes so callers can classify them

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/2389/convo-sync/internal/auth"
	"github.com/2389/convo-sync/internal/convo"
	"github.com/2389/convo-sync/internal/receipts"
)

const (
	defaultPageSize = 50
	// sinceLimit bounds one catch-up fetch; the agent polls again for the rest.
	sinceLimit = 200
	// maxErrorBody bounds how much of an error response is read.
	maxErrorBody = 4 << 10
)

// Client talks to the chat server's HTTP API.
type Client struct {
	baseURL   *url.URL
	token     string
	expiresAt time.Time // zero when the token carries no exp claim
	user      string
	http      *http.Client
	pageSize  int
	logger    *slog.Logger
	now       func() time.Time
}

var (
	_ convo.Client    = (*Client)(nil)
	_ receipts.Marker = (*Client)(nil)
)

// Option configures a Client.
type Option func(*Client)

// WithToken authenticates requests with a bearer token.
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// WithUser names the caller for servers running without authentication.
func WithUser(user string) Option {
	return func(c *Client) { c.user = user }
}

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithPageSize sets how many messages one history page holds.
func WithPageSize(n int) Option {
	return func(c *Client) { c.pageSize = n }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// New creates a client for the server at baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parsing base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("base url %q must be http or https", baseURL)
	}

	c := &Client{
		baseURL:  u,
		http:     &http.Client{},
		pageSize: defaultPageSize,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	c.logger = c.logger.With("component", "api")
	if c.pageSize <= 0 {
		c.pageSize = defaultPageSize
	}

	if c.token != "" {
		exp, err := tokenExpiry(c.token)
		if err != nil {
			return nil, err
		}
		c.expiresAt = exp
	}

	return c, nil
}

// tokenExpiry reads the exp claim without verifying the signature. The
// server still verifies; this only lets the client fail fast.
func tokenExpiry(token string) (time.Time, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}, fmt.Errorf("parsing token: %w", err)
	}
	exp, err := claims.GetExpirationTime()
	if err != nil {
		return time.Time{}, fmt.Errorf("reading token expiry: %w", err)
	}
	if exp == nil {
		return time.Time{}, nil
	}
	return exp.Time, nil
}

// FetchHistory returns the page of messages older than cursor.
func (c *Client) FetchHistory(ctx context.Context, convoID, cursor string) (*convo.Page, error) {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(c.pageSize))
	if cursor != "" {
		q.Set("cursor", cursor)
	}

	var resp HistoryResponse
	if err := c.do(ctx, http.MethodGet, convoPath(convoID, "messages"), q, nil, &resp); err != nil {
		return nil, err
	}

	page := &convo.Page{
		Items:    make([]convo.Item, 0, len(resp.Messages)),
		HasMore:  resp.HasMore,
		ReadUpTo: resp.ReadUpTo,
	}
	if resp.HasMore {
		page.Cursor = resp.Cursor
	}
	for _, m := range resp.Messages {
		page.Items = append(page.Items, ItemFromJSON(m))
	}
	return page, nil
}

// FetchSince returns messages with seq greater than seq.
func (c *Client) FetchSince(ctx context.Context, convoID string, seq int64) ([]convo.Item, error) {
	q := url.Values{}
	q.Set("since", strconv.FormatInt(seq, 10))
	q.Set("limit", strconv.Itoa(sinceLimit))

	var resp HistoryResponse
	if err := c.do(ctx, http.MethodGet, convoPath(convoID, "messages"), q, nil, &resp); err != nil {
		return nil, err
	}

	items := make([]convo.Item, 0, len(resp.Messages))
	for _, m := range resp.Messages {
		items = append(items, ItemFromJSON(m))
	}
	return items, nil
}

// SendMessage posts a message. Retrying with the same correlation id returns
// the originally stored message.
func (c *Client) SendMessage(ctx context.Context, convoID, body, correlationID string) (*convo.Item, error) {
	var resp MessageJSON
	req := SendRequest{Body: body, CorrelationID: correlationID}
	if err := c.do(ctx, http.MethodPost, convoPath(convoID, "messages"), nil, req, &resp); err != nil {
		return nil, err
	}
	it := ItemFromJSON(resp)
	return &it, nil
}

// MarkRead acknowledges messages up to and including upTo.
func (c *Client) MarkRead(ctx context.Context, convoID string, upTo int64) error {
	return c.do(ctx, http.MethodPost, convoPath(convoID, "read"), nil, ReadRequest{UpTo: upTo}, nil)
}

// DeleteMessage removes one message.
func (c *Client) DeleteMessage(ctx context.Context, convoID, messageID string) error {
	return c.do(ctx, http.MethodDelete, convoPath(convoID, "messages", messageID), nil, nil, nil)
}

// SetTyping reports whether the caller is composing a message.
func (c *Client) SetTyping(ctx context.Context, convoID string, active bool) error {
	return c.do(ctx, http.MethodPost, convoPath(convoID, "typing"), nil, TypingRequest{Active: active}, nil)
}

// CreateConvo creates a conversation.
func (c *Client) CreateConvo(ctx context.Context, id, title string) (*ConvoJSON, error) {
	var resp ConvoJSON
	if err := c.do(ctx, http.MethodPost, "/api/convos", nil, CreateConvoRequest{ID: id, Title: title}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ListConvos lists conversations, most recently active first.
func (c *Client) ListConvos(ctx context.Context) ([]ConvoJSON, error) {
	var resp []ConvoJSON
	if err := c.do(ctx, http.MethodGet, "/api/convos", nil, nil, &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func convoPath(convoID string, parts ...string) string {
	segs := append([]string{"/api/convos", url.PathEscape(convoID)}, parts...)
	for i := 2; i < len(segs); i++ {
		segs[i] = url.PathEscape(segs[i])
	}
	return strings.Join(segs, "/")
}

// newRequest builds an authorized request for path.
func (c *Client) newRequest(ctx context.Context, method, path string, query url.Values, body any) (*http.Request, error) {
	if !c.expiresAt.IsZero() && !c.now().Before(c.expiresAt) {
		return nil, status.Error(codes.Unauthenticated, "token expired")
	}

	u := *c.baseURL
	u.Path = c.baseURL.Path + path
	if query != nil {
		u.RawQuery = query.Encode()
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshaling request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	} else if c.user != "" {
		req.Header.Set(auth.UserHeader, c.user)
	}
	return req, nil
}

// do performs a JSON request and decodes a 2xx response into out.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	req, err := c.newRequest(ctx, method, path, query, body)
	if err != nil {
		return err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return transportError(ctx, method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return responseError(resp)
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return status.Errorf(codes.Internal, "decoding %s %s response: %v", method, path, err)
	}
	return nil
}

// transportError reports request failures. Context errors are returned as-is
// so callers can tell cancellation from an unreachable server.
func transportError(ctx context.Context, method, path string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return status.Errorf(codes.DeadlineExceeded, "%s %s: %v", method, path, err)
	}
	return status.Errorf(codes.Unavailable, "%s %s: %v", method, path, err)
}

// responseError converts a non-2xx response into a gRPC status error.
func responseError(resp *http.Response) error {
	msg := http.StatusText(resp.StatusCode)
	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	var body struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(data, &body) == nil && body.Error != "" {
		msg = body.Error
	}
	return status.Error(CodeForHTTP(resp.StatusCode), msg)
}

// CodeForHTTP maps an HTTP status to the gRPC code used for classification.
func CodeForHTTP(httpStatus int) codes.Code {
	switch {
	case httpStatus == http.StatusBadRequest, httpStatus == http.StatusUnprocessableEntity:
		return codes.InvalidArgument
	case httpStatus == http.StatusUnauthorized:
		return codes.Unauthenticated
	case httpStatus == http.StatusForbidden:
		return codes.PermissionDenied
	case httpStatus == http.StatusNotFound, httpStatus == http.StatusGone:
		return codes.NotFound
	case httpStatus == http.StatusConflict:
		return codes.AlreadyExists
	case httpStatus == http.StatusRequestTimeout, httpStatus == http.StatusGatewayTimeout:
		return codes.DeadlineExceeded
	case httpStatus == http.StatusTooManyRequests:
		return codes.ResourceExhausted
	case httpStatus == http.StatusNotImplemented:
		return codes.Unimplemented
	case httpStatus >= 500:
		return codes.Unavailable
	default:
		return codes.Unknown
	}
}
