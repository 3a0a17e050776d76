package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/dmitrijs2005/fleetsync/internal/common"
	"github.com/golang-jwt/jwt/v5"
)

const (
	defaultTimeout = 15 * time.Second
	maxErrorBody   = 512
)

// Client talks to the fleet REST API.
type Client struct {
	baseURL *url.URL
	http    *http.Client
	token   string
	timeout time.Duration
	now     func() time.Time
}

type Option func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// WithToken attaches a bearer token to every request.
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// WithTimeout bounds each request. Zero disables the per-request bound and
// leaves only the caller's context.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithClock overrides the clock used for token expiry checks.
func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

// New builds a Client for the server at baseURL (scheme://host[:port]).
func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse server url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("server url %q must be absolute", baseURL)
	}
	c := &Client{baseURL: u, http: http.DefaultClient, timeout: defaultTimeout, now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// BaseURL returns the server root the client was built for.
func (c *Client) BaseURL() string { return c.baseURL.String() }

// List returns the records of a collection as raw JSON objects.
func (c *Client) List(ctx context.Context, r Resource) ([]json.RawMessage, error) {
	body, err := c.do(ctx, http.MethodGet, collectionPath(r), nil, nil)
	if err != nil {
		return nil, err
	}
	var items []json.RawMessage
	if err := json.Unmarshal(body, &items); err != nil {
		return nil, fmt.Errorf("decode %s list: %w", r, err)
	}
	return items, nil
}

// Create posts a record (without id) and returns the server copy.
// idempotencyKey may be empty.
func (c *Client) Create(ctx context.Context, r Resource, record any, idempotencyKey string) (json.RawMessage, error) {
	var headers http.Header
	if idempotencyKey != "" {
		headers = http.Header{common.IdempotencyKeyHeaderName: []string{idempotencyKey}}
	}
	return c.do(ctx, http.MethodPost, collectionPath(r), record, headers)
}

// Update replaces the record with the given id.
func (c *Client) Update(ctx context.Context, r Resource, id int64, record any) (json.RawMessage, error) {
	return c.do(ctx, http.MethodPut, itemPath(r, id), record, nil)
}

// Delete removes the record with the given id.
func (c *Client) Delete(ctx context.Context, r Resource, id int64) error {
	_, err := c.do(ctx, http.MethodDelete, itemPath(r, id), nil, nil)
	return err
}

// Clear asks the server to drop every record of a collection.
func (c *Client) Clear(ctx context.Context, r Resource) error {
	_, err := c.do(ctx, http.MethodDelete, collectionPath(r), nil, nil)
	return err
}

func collectionPath(r Resource) string { return "/api/" + string(r) }

func itemPath(r Resource, id int64) string {
	return collectionPath(r) + "/" + strconv.FormatInt(id, 10)
}

func (c *Client) do(ctx context.Context, method, path string, payload any, headers http.Header) ([]byte, error) {
	if err := c.checkToken(); err != nil {
		return nil, err
	}

	var reader io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL.String()+path, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set(common.AuthorizationHeaderName, "Bearer "+c.token)
	}
	for k, v := range headers {
		req.Header[k] = v
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s %s: %v", ErrUnavailable, method, path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s %s: %v", ErrUnavailable, method, path, err)
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return body, nil
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("%w: %s %s", ErrUnauthorized, method, path)
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("%w: %s %s: status %d", ErrUnavailable, method, path, resp.StatusCode)
	default:
		if len(body) > maxErrorBody {
			body = body[:maxErrorBody]
		}
		return nil, &StatusError{Method: method, Path: path, Code: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
}

// checkToken refuses to send a JWT that has already expired. Opaque
// (non-JWT) tokens are passed through untouched.
func (c *Client) checkToken() error {
	if c.token == "" {
		return nil
	}
	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(c.token, claims); err != nil {
		return nil
	}
	if claims.ExpiresAt != nil && !c.now().Before(claims.ExpiresAt.Time) {
		return fmt.Errorf("%w: %w", ErrUnauthorized, common.ErrTokenExpired)
	}
	return nil
}

// IsAuthError reports whether err means the request was rejected for
// credentials rather than connectivity.
func IsAuthError(err error) bool {
	return errors.Is(err, ErrUnauthorized)
}
