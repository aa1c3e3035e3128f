// Package client talks to the entityd REST API and keeps a per-session cache
// of list pages that is invalidated on every successful mutation.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/HerbHall/entitykit/internal/version"
	"github.com/HerbHall/entitykit/pkg/models"
	"go.uber.org/zap"
)

// Error classes returned by Client. Use errors.Is; *APIError carries the
// server's problem details.
var (
	ErrValidation   = errors.New("invalid request")
	ErrNotFound     = errors.New("entity not found")
	ErrConflict     = errors.New("an entity with this name already exists")
	ErrUnauthorized = errors.New("not authorized")
	ErrUnavailable  = errors.New("server unavailable")
)

const entitiesPath = "/api/v1/entities"

// APIError is a problem response from the server.
type APIError struct {
	StatusCode int
	Type       string `json:"type"`
	Title      string `json:"title"`
	Detail     string `json:"detail"`
	Field      string `json:"field"`
}

func (e *APIError) Error() string {
	msg := e.Detail
	if msg == "" {
		msg = e.Title
	}
	if msg == "" {
		msg = http.StatusText(e.StatusCode)
	}
	return fmt.Sprintf("%d: %s", e.StatusCode, msg)
}

// Unwrap maps the status code onto an error class.
func (e *APIError) Unwrap() error {
	switch {
	case e.StatusCode == http.StatusBadRequest || e.StatusCode == http.StatusUnprocessableEntity:
		return ErrValidation
	case e.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case e.StatusCode == http.StatusConflict:
		return ErrConflict
	case e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden:
		return ErrUnauthorized
	case e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500:
		return ErrUnavailable
	default:
		return nil
	}
}

// RetryPolicy bounds retries of ErrUnavailable failures.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultRetry is used unless WithRetry overrides it.
var DefaultRetry = RetryPolicy{MaxAttempts: 3, BaseDelay: 100 * time.Millisecond, MaxDelay: 2 * time.Second}

func (p RetryPolicy) backoff(attempt int) time.Duration {
	d := p.BaseDelay << attempt
	if d <= 0 || d > p.MaxDelay {
		d = p.MaxDelay
	}
	// Full jitter in [d/2, d).
	half := d / 2
	if half <= 0 {
		return d
	}
	return half + rand.N(half)
}

// CreateRequest is the body of a create call.
type CreateRequest struct {
	Name        string  `json:"name"`
	Description *string `json:"description,omitempty"`
}

// UpdateRequest is the body of a partial update. Unset fields are omitted;
// Null clears the description.
type UpdateRequest struct {
	Name        models.Optional[string] `json:"name,omitzero"`
	Description models.Optional[string] `json:"description,omitzero"`
}

// Client is an entityd REST client.
type Client struct {
	baseURL   string
	http      *http.Client
	token     string
	userAgent string
	retry     RetryPolicy
	logger    *zap.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) Option { return func(c *Client) { c.http = hc } }

// WithToken sends token as a bearer credential.
func WithToken(token string) Option { return func(c *Client) { c.token = token } }

// WithRetry overrides DefaultRetry.
func WithRetry(p RetryPolicy) Option { return func(c *Client) { c.retry = p } }

// WithLogger sets the logger used for retry diagnostics.
func WithLogger(l *zap.Logger) Option { return func(c *Client) { c.logger = l } }

// New creates a Client for the server at baseURL, e.g. "http://localhost:8080".
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		http:      &http.Client{Timeout: 15 * time.Second},
		userAgent: version.UserAgent("entityctl"),
		retry:     DefaultRetry,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the server URL the client was created with.
func (c *Client) BaseURL() string { return c.baseURL }

// StreamURL returns the websocket URL of the change feed.
func (c *Client) StreamURL() string {
	u := c.baseURL
	switch {
	case strings.HasPrefix(u, "https://"):
		u = "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		u = "ws://" + strings.TrimPrefix(u, "http://")
	}
	return u + "/api/v1/stream/ws"
}

// List fetches one page.
func (c *Client) List(ctx context.Context, key ListKey) (*models.EntityPage, error) {
	key = key.Normalize()
	q := url.Values{}
	if key.Search != "" {
		q.Set("searchTerm", key.Search)
	}
	q.Set("page", strconv.Itoa(key.Page))
	q.Set("limit", strconv.Itoa(key.Limit))

	var page models.EntityPage
	if err := c.do(ctx, http.MethodGet, entitiesPath+"?"+q.Encode(), nil, &page); err != nil {
		return nil, err
	}
	if page.Data == nil {
		page.Data = []models.Entity{}
	}
	return &page, nil
}

// Get fetches one entity.
func (c *Client) Get(ctx context.Context, id int64) (*models.Entity, error) {
	var e models.Entity
	if err := c.do(ctx, http.MethodGet, entityPath(id), nil, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

// Create creates an entity.
func (c *Client) Create(ctx context.Context, req CreateRequest) (*models.Entity, error) {
	var e models.Entity
	if err := c.do(ctx, http.MethodPost, entitiesPath, req, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

// Update applies a partial update.
func (c *Client) Update(ctx context.Context, id int64, req UpdateRequest) (*models.Entity, error) {
	var e models.Entity
	if err := c.do(ctx, http.MethodPatch, entityPath(id), req, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

// Delete removes an entity.
func (c *Client) Delete(ctx context.Context, id int64) error {
	return c.do(ctx, http.MethodDelete, entityPath(id), nil, nil)
}

func entityPath(id int64) string {
	return entitiesPath + "/" + strconv.FormatInt(id, 10)
}

// do sends one request, retrying ErrUnavailable for every method except
// POST, where a retry could create a duplicate that then reports Conflict.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
	}

	attempts := c.retry.MaxAttempts
	if attempts < 1 || method == http.MethodPost {
		attempts = 1
	}

	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			delay := c.retry.backoff(attempt - 1)
			c.logger.Debug("retrying request",
				zap.String("method", method),
				zap.String("path", path),
				zap.Int("attempt", attempt+1),
				zap.Duration("delay", delay),
				zap.Error(err),
			)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
		err = c.once(ctx, method, path, payload, out)
		if err == nil || !errors.Is(err, ErrUnavailable) {
			return err
		}
	}
	return err
}

func (c *Client) once(ctx context.Context, method, path string, payload []byte, out any) error {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		_ = json.Unmarshal(data, apiErr)
		apiErr.StatusCode = resp.StatusCode
		return apiErr
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// Message returns a user-facing description of err.
func Message(err error) string {
	var apiErr *APIError
	switch {
	case errors.Is(err, ErrNotFound):
		return "The entity no longer exists."
	case errors.Is(err, ErrConflict):
		return "An entity with this name already exists. Choose a different name."
	case errors.As(err, &apiErr) && errors.Is(err, ErrValidation):
		if apiErr.Field != "" {
			return fmt.Sprintf("Invalid %s: %s", apiErr.Field, apiErr.Detail)
		}
		return "Invalid input: " + apiErr.Detail
	case errors.Is(err, ErrUnauthorized):
		return "Not authorized. Supply a token with write access."
	case errors.Is(err, ErrUnavailable):
		return "The server is unavailable. Try again later."
	case err == nil:
		return ""
	default:
		return err.Error()
	}
}
