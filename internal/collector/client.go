// Package collector is the monitor's HTTP client for the collector API.
package collector

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/examwatch/proctor/internal/model"
)

var (
	// ErrNotFound means the collector does not know the attempt id.
	ErrNotFound = errors.New("attempt not found")
	// ErrInvalidInput means the collector rejected the payload.
	ErrInvalidInput = errors.New("invalid input")
	// ErrUnauthorized means the attempt token was missing or rejected.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrTooLarge means the request body exceeded the collector's limit.
	// Resending the same batch will fail again; split it.
	ErrTooLarge = errors.New("request too large")
	// ErrTransient covers network failures and server-side errors. Callers
	// retry on their next scheduled tick.
	ErrTransient = errors.New("transient network failure")
)

// StatusError is returned for non-2xx responses. It unwraps to one of the
// package sentinels.
type StatusError struct {
	StatusCode int
	Message    string
	kind       error
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("collector responded %d: %v", e.StatusCode, e.kind)
	}
	return fmt.Sprintf("collector responded %d: %s", e.StatusCode, e.Message)
}

func (e *StatusError) Unwrap() error { return e.kind }

func classify(status int) error {
	switch {
	case status == http.StatusNotFound:
		return ErrNotFound
	case status == http.StatusBadRequest:
		return ErrInvalidInput
	case status == http.StatusUnauthorized:
		return ErrUnauthorized
	case status == http.StatusRequestEntityTooLarge:
		return ErrTooLarge
	default:
		return ErrTransient
	}
}

// Client talks to a collector rooted at a base URL. Attempt tokens handed
// out by StartAttempt are remembered and sent with LogEvents.
type Client struct {
	baseURL    string
	httpClient *http.Client

	mu     sync.Mutex
	tokens map[string]string
}

// New creates a client. A nil httpClient uses http.DefaultClient.
func New(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		tokens:     make(map[string]string),
	}
}

// StartAttempt creates a new attempt and returns the identity the
// collector observed for this caller.
func (c *Client) StartAttempt(ctx context.Context) (model.AttemptStart, error) {
	var out model.AttemptStart
	if err := c.do(ctx, http.MethodPost, "/start-attempt", nil, &out, ""); err != nil {
		return model.AttemptStart{}, err
	}
	if out.AttemptID == "" {
		return model.AttemptStart{}, fmt.Errorf("%w: start-attempt returned no attempt id", ErrTransient)
	}
	if out.Token != "" {
		c.mu.Lock()
		c.tokens[out.AttemptID] = out.Token
		c.mu.Unlock()
	}
	return out, nil
}

// CheckIdentity asks the collector which identity it sees for this caller now.
func (c *Client) CheckIdentity(ctx context.Context, attemptID string) (model.IdentityCheck, error) {
	var out model.IdentityCheck
	err := c.do(ctx, http.MethodGet, "/check-ip/"+url.PathEscape(attemptID), nil, &out, "")
	return out, err
}

// LogEvents sends one batch. A nil error means the collector committed it.
func (c *Client) LogEvents(ctx context.Context, attemptID string, events []model.Event) error {
	if events == nil {
		events = []model.Event{}
	}
	c.mu.Lock()
	token := c.tokens[attemptID]
	c.mu.Unlock()

	body := struct {
		Events []model.Event `json:"events"`
	}{Events: events}
	return c.do(ctx, http.MethodPost, "/log-events/"+url.PathEscape(attemptID), body, nil, token)
}

// GetAttempt fetches the full attempt record.
func (c *Client) GetAttempt(ctx context.Context, attemptID string) (model.Attempt, error) {
	var out model.Attempt
	err := c.do(ctx, http.MethodGet, "/attempt/"+url.PathEscape(attemptID), nil, &out, "")
	return out, err
}

// Forget drops the stored token for attemptID.
func (c *Client) Forget(attemptID string) {
	c.mu.Lock()
	delete(c.tokens, attemptID)
	c.mu.Unlock()
}

func (c *Client) do(ctx context.Context, method, path string, body, out any, token string) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%w: encode request: %v", ErrInvalidInput, err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %v", ErrTransient, method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var msg struct {
			Message string `json:"message"`
		}
		_ = json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&msg)
		return &StatusError{StatusCode: resp.StatusCode, Message: msg.Message, kind: classify(resp.StatusCode)}
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode %s response: %v", ErrTransient, path, err)
	}
	return nil
}
