// Package client wraps the REST endpoints the sync core consumes.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"tennismatch/logger"
)

var (
	// ErrUnauthenticated means the session is gone and the caller must re-authenticate
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrNotFound is returned for 404 responses
	ErrNotFound = errors.New("not found")
	// ErrGone is returned for 410 responses, e.g. an expired deck token
	ErrGone = errors.New("gone")
)

// StatusError is a non-2xx response that has no dedicated sentinel
type StatusError struct {
	Op     string
	Status int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s failed: %d", e.Op, e.Status)
}

// Options configures a Client
type Options struct {
	BaseURL     string
	AccessToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
	Logger      *zap.Logger
}

// Client talks to the matching backend
type Client struct {
	baseURL  string
	http     *http.Client
	log      *zap.Logger
	validate *validator.Validate

	mu    sync.RWMutex
	token string
}

// New creates a Client
func New(opts Options) *Client {
	hc := opts.HTTPClient
	if hc == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		hc = &http.Client{Timeout: timeout}
	}
	return &Client{
		baseURL:  strings.TrimRight(opts.BaseURL, "/"),
		http:     hc,
		log:      logger.OrNop(opts.Logger).Named("client"),
		validate: validator.New(),
		token:    opts.AccessToken,
	}
}

// SetAccessToken replaces the bearer token used on every request
func (c *Client) SetAccessToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

// AccessToken returns the current bearer token
func (c *Client) AccessToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// do sends one request and returns the body of a 2xx response.
// A nil body with a nil error means 204 No Content.
func (c *Client) do(ctx context.Context, op, method, path string, in any, header http.Header) ([]byte, error) {
	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return nil, fmt.Errorf("%s: failed to encode request: %w", op, err)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to create request: %w", op, err)
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token := c.AccessToken(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer resp.Body.Close()

	if err := statusError(op, resp.StatusCode); err != nil {
		c.log.Debug("request rejected",
			zap.String("op", op),
			zap.String("path", path),
			zap.Int("status", resp.StatusCode),
		)
		return nil, err
	}
	if resp.StatusCode == http.StatusNoContent {
		return nil, nil
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to read response: %w", op, err)
	}
	return data, nil
}

func statusError(op string, status int) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		return fmt.Errorf("%s failed: %d: %w", op, status, ErrUnauthenticated)
	case status == http.StatusNotFound:
		return fmt.Errorf("%s failed: %d: %w", op, status, ErrNotFound)
	case status == http.StatusGone:
		return fmt.Errorf("%s failed: %d: %w", op, status, ErrGone)
	default:
		return &StatusError{Op: op, Status: status}
	}
}

// IsUnauthenticated reports whether err requires a hand-off to the authentication flow
func IsUnauthenticated(err error) bool {
	return errors.Is(err, ErrUnauthenticated)
}
