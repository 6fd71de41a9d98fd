// Package restapi implements the expense repository against a remote
// HTTP API serving the same JSON contract as this server, so one
// deployment can front another.
package restapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"spendtrack/internal/auth"
	"spendtrack/internal/core"
	"spendtrack/internal/repository"
)

// Client talks to a remote expense API. The bearer token is taken from
// the session on every call, so a re-login is picked up transparently.
type Client struct {
	baseURL      string
	httpClient   *http.Client
	pollInterval time.Duration

	subMu sync.Mutex
	subs  map[*auth.Session]func()
}

// New returns a client for the API rooted at baseURL. pollInterval
// drives Subscribe refreshes; zero means a 5 second default.
func New(baseURL string, pollInterval time.Duration) *Client {
	if pollInterval <= 0 {
		pollInterval = 5 * time.Second
	}
	return &Client{
		baseURL:      strings.TrimRight(baseURL, "/"),
		httpClient:   &http.Client{Timeout: 15 * time.Second},
		pollInterval: pollInterval,
		subs:         map[*auth.Session]func(){},
	}
}

type apiError struct {
	Error      string   `json:"error"`
	Violations []string `json:"violations,omitempty"`
}

// do issues one authenticated request and decodes the response into out
// (skipped when out is nil).
func (c *Client) do(ctx context.Context, session *auth.Session, method, path string, body, out any) error {
	if session == nil || !session.IsAuthenticated() {
		return core.ErrUnauthenticated
	}

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return &core.TransportError{Message: "encode request", Err: err}
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return &core.TransportError{Message: "build request", Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+session.Token())
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &core.TransportError{Message: "call expense API", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return decodeError(resp)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return &core.TransportError{Message: "decode response", Err: err}
		}
	}
	return nil
}

func decodeError(resp *http.Response) error {
	var apiErr apiError
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	_ = json.Unmarshal(data, &apiErr)

	switch resp.StatusCode {
	case http.StatusUnauthorized:
		return core.ErrUnauthenticated
	case http.StatusNotFound:
		return core.ErrNotFound
	case http.StatusBadRequest:
		if len(apiErr.Violations) > 0 {
			return &core.ValidationError{Violations: apiErr.Violations}
		}
	}
	msg := apiErr.Error
	if msg == "" {
		msg = strings.TrimSpace(string(data))
	}
	return &core.TransportError{
		Message: fmt.Sprintf("expense API returned %d: %s", resp.StatusCode, msg),
	}
}

func (c *Client) List(ctx context.Context, session *auth.Session) ([]core.Expense, error) {
	var expenses []core.Expense
	if err := c.do(ctx, session, http.MethodGet, "/api/expenses", nil, &expenses); err != nil {
		return nil, err
	}
	if expenses == nil {
		expenses = []core.Expense{}
	}
	return expenses, nil
}

func (c *Client) Create(ctx context.Context, session *auth.Session, draft core.Expense) (core.Expense, error) {
	// Validate before going on the wire, same as the local backends.
	if violations := draft.Validate(); len(violations) > 0 {
		return core.Expense{}, &core.ValidationError{Violations: violations}
	}
	var created core.Expense
	if err := c.do(ctx, session, http.MethodPost, "/api/expenses", draft, &created); err != nil {
		return core.Expense{}, err
	}
	return created, nil
}

func (c *Client) Update(ctx context.Context, session *auth.Session, expense core.Expense) (core.Expense, error) {
	if violations := expense.Validate(); len(violations) > 0 {
		return core.Expense{}, &core.ValidationError{Violations: violations}
	}
	var updated core.Expense
	if err := c.do(ctx, session, http.MethodPut, "/api/expenses/"+expense.ID, expense, &updated); err != nil {
		return core.Expense{}, err
	}
	return updated, nil
}

func (c *Client) Delete(ctx context.Context, session *auth.Session, id string) error {
	return c.do(ctx, session, http.MethodDelete, "/api/expenses/"+id, nil, nil)
}

func (c *Client) DeleteAll(ctx context.Context, session *auth.Session) error {
	return c.do(ctx, session, http.MethodDelete, "/api/expenses", nil, nil)
}

// Subscribe polls the remote API and delivers the full set on attach and
// whenever it differs from the last delivered one. One subscription per
// session.
func (c *Client) Subscribe(ctx context.Context, session *auth.Session, onChange func([]core.Expense)) (repository.Unsubscribe, error) {
	if _, err := repository.OwnerID(session); err != nil {
		return nil, err
	}

	c.subMu.Lock()
	if prior, ok := c.subs[session]; ok {
		delete(c.subs, session)
		c.subMu.Unlock()
		prior()
		c.subMu.Lock()
	}
	c.subMu.Unlock()

	initial, err := c.List(ctx, session)
	if err != nil {
		return nil, err
	}

	pollCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		last := snapshotJSON(initial)
		ticker := time.NewTicker(c.pollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-pollCtx.Done():
				return
			case <-ticker.C:
			}
			current, err := c.List(pollCtx, session)
			if err != nil {
				continue
			}
			if snap := snapshotJSON(current); snap != last {
				last = snap
				onChange(current)
			}
		}
	}()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			cancel()
			<-done
			c.subMu.Lock()
			delete(c.subs, session)
			c.subMu.Unlock()
		})
	}

	c.subMu.Lock()
	c.subs[session] = unsub
	c.subMu.Unlock()

	onChange(initial)
	return unsub, nil
}

func snapshotJSON(expenses []core.Expense) string {
	data, err := json.Marshal(expenses)
	if err != nil {
		return ""
	}
	return string(data)
}

func (c *Client) Close() error {
	c.subMu.Lock()
	subs := make([]func(), 0, len(c.subs))
	for session, unsub := range c.subs {
		delete(c.subs, session)
		subs = append(subs, unsub)
	}
	c.subMu.Unlock()
	for _, unsub := range subs {
		unsub()
	}
	return nil
}
