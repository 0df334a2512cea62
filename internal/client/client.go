// ABOUTME: HTTP client for the parley gateway API with bearer-token auth
// ABOUTME: Implements the orchestrator's Committer and IdentityChecker over the wire

package client

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
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/2389/parley/internal/apierr"
	"github.com/2389/parley/internal/auth"
	"github.com/2389/parley/internal/conversation"
	"github.com/2389/parley/internal/store"
	"github.com/2389/parley/internal/upload"
)

// maxErrorBody bounds how much of an error response is read
const maxErrorBody = 64 << 10

// Client talks to one gateway as one identity
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	logger  *slog.Logger
	now     func() time.Time
}

// New creates a client for the gateway at baseURL that authenticates with token.
func New(baseURL, token string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{},
		logger:  logger.With("component", "client"),
		now:     time.Now,
	}
}

// SetHTTPClient replaces the underlying HTTP client.
func (c *Client) SetHTTPClient(h *http.Client) {
	c.http = h
}

// CheckIdentity reports whether the client holds a usable identity. It
// inspects the token locally without verifying its signature; the gateway
// does that on every request.
func (c *Client) CheckIdentity(_ context.Context) error {
	_, err := c.Owner()
	return err
}

// Owner returns the owner id carried by the client's token.
func (c *Client) Owner() (string, error) {
	if c.token == "" {
		return "", fmt.Errorf("%w: no token configured", auth.ErrUnauthenticated)
	}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(c.token, claims); err != nil {
		return "", fmt.Errorf("%w: %v", auth.ErrInvalidToken, err)
	}

	exp, err := claims.GetExpirationTime()
	if err != nil {
		return "", fmt.Errorf("%w: %v", auth.ErrInvalidToken, err)
	}
	if exp != nil && !c.now().Before(exp.Time) {
		return "", auth.ErrExpiredToken
	}

	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return "", fmt.Errorf("%w: sub", auth.ErrMissingClaim)
	}
	return sub, nil
}

// Commit sends one submission to the gateway. An unset conversation id asks
// the gateway to create the conversation.
func (c *Client) Commit(ctx context.Context, req *conversation.CommitRequest) (*store.Conversation, error) {
	id := req.ConversationID
	if conversation.IsUnset(id) {
		id = conversation.NoConversation
	}

	var conv store.Conversation
	if err := c.do(ctx, http.MethodPut, "/api/chats/"+url.PathEscape(id), req, &conv); err != nil {
		return nil, fmt.Errorf("committing: %w", err)
	}
	return &conv, nil
}

// Create starts a conversation with text as its first user turn and returns its id.
func (c *Client) Create(ctx context.Context, text string) (string, error) {
	var resp struct {
		ID string `json:"id"`
	}
	body := map[string]string{"text": text}
	if err := c.do(ctx, http.MethodPost, "/api/chats", body, &resp); err != nil {
		return "", fmt.Errorf("creating conversation: %w", err)
	}
	return resp.ID, nil
}

// List returns the caller's conversation summaries in creation order.
func (c *Client) List(ctx context.Context) ([]store.Summary, error) {
	var summaries []store.Summary
	if err := c.do(ctx, http.MethodGet, "/api/userchats", nil, &summaries); err != nil {
		return nil, fmt.Errorf("listing conversations: %w", err)
	}
	return summaries, nil
}

// Get returns one conversation with its full history.
func (c *Client) Get(ctx context.Context, id string) (*store.Conversation, error) {
	var conv store.Conversation
	if err := c.do(ctx, http.MethodGet, "/api/chats/"+url.PathEscape(id), nil, &conv); err != nil {
		return nil, fmt.Errorf("getting conversation: %w", err)
	}
	return &conv, nil
}

// UploadAuth fetches one-time parameters for a direct image upload.
func (c *Client) UploadAuth(ctx context.Context) (*upload.Params, error) {
	var p upload.Params
	if err := c.do(ctx, http.MethodGet, "/api/upload", nil, &p); err != nil {
		return nil, fmt.Errorf("fetching upload auth: %w", err)
	}
	return &p, nil
}

// Export returns a conversation rendered as an HTML document.
func (c *Client) Export(ctx context.Context, id string) ([]byte, error) {
	resp, err := c.send(ctx, http.MethodGet, "/api/chats/"+url.PathEscape(id)+"/export", nil, "text/html")
	if err != nil {
		return nil, fmt.Errorf("exporting conversation: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading export: %w", err)
	}
	return data, nil
}

// do sends a JSON request and decodes a JSON response into out.
func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshaling request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	resp, err := c.send(ctx, method, path, body, "application/json")
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

// send performs the request and turns any non-2xx response into an error.
// On success the caller owns resp.Body.
func (c *Client) send(ctx context.Context, method, path string, body io.Reader, accept string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", accept)
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sending request: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		err := decodeError(resp)
		c.logger.Debug("request failed", "method", method, "path", path, "status", resp.StatusCode, "error", err)
		return nil, err
	}
	return resp, nil
}

func decodeError(resp *http.Response) error {
	var body apierr.Body
	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err := json.Unmarshal(data, &body); err != nil {
		body = apierr.Body{Error: strings.TrimSpace(string(data))}
	}
	return apierr.ToError(resp.StatusCode, body)
}

// IsUnauthenticated reports whether err means the client's identity was rejected
func IsUnauthenticated(err error) bool {
	return errors.Is(err, auth.ErrUnauthenticated)
}
