// Package client talks to a running sbinspect server over its HTTP API.
package client

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

	"github.com/nuetzliches/sbinspect/internal/config"
	"github.com/nuetzliches/sbinspect/internal/inspector"
)

const DefaultBaseURL = "http://localhost:5000"

// APIError is a non-2xx response from the server.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s (%s, status %d)", e.Message, e.Code, e.StatusCode)
	}
	return fmt.Sprintf("%s (status %d)", e.Message, e.StatusCode)
}

// IsNotFound reports whether err is a 404 from the server.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

type Client struct {
	baseURL string
	http    *http.Client
}

type Option func(*Client)

func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		if c != nil {
			cl.http = c
		}
	}
}

func New(baseURL string, opts ...Option) (*Client, error) {
	baseURL = strings.TrimSpace(baseURL)
	if baseURL == "" {
		return nil, errors.New("baseURL must not be empty")
	}
	baseURL = strings.TrimRight(baseURL, "/")
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("invalid baseURL: %w", err)
	}

	cl := &Client{
		baseURL: baseURL,
		http: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
	for _, o := range opts {
		o(cl)
	}
	return cl, nil
}

type Health struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

func (c *Client) Health(ctx context.Context) (Health, error) {
	var out Health
	err := c.do(ctx, http.MethodGet, "/health", nil, &out)
	return out, err
}

func (c *Client) Connect(ctx context.Context, req inspector.ConnectionRequest) (inspector.ConnectionInfo, error) {
	var out inspector.ConnectionInfo
	err := c.do(ctx, http.MethodPost, "/api/connections", req, &out)
	return out, err
}

// Current returns the active connection. ok is false when the server has
// none.
func (c *Client) Current(ctx context.Context) (inspector.ConnectionInfo, bool, error) {
	var out inspector.ConnectionInfo
	err := c.do(ctx, http.MethodGet, "/api/connections/current", nil, &out)
	if IsNotFound(err) {
		return inspector.ConnectionInfo{}, false, nil
	}
	if err != nil {
		return inspector.ConnectionInfo{}, false, err
	}
	return out, true, nil
}

func (c *Client) Disconnect(ctx context.Context) error {
	return c.do(ctx, http.MethodDelete, "/api/connections/current", nil, nil)
}

func (c *Client) Entities(ctx context.Context) ([]string, error) {
	var out []string
	err := c.do(ctx, http.MethodGet, "/api/connections/entities", nil, &out)
	return out, err
}

func (c *Client) Defaults(ctx context.Context) (config.Defaults, error) {
	var out config.Defaults
	err := c.do(ctx, http.MethodGet, "/api/connections/defaults", nil, &out)
	return out, err
}

func (c *Client) Scenarios(ctx context.Context) ([]config.Scenario, error) {
	var out []config.Scenario
	err := c.do(ctx, http.MethodGet, "/api/connections/scenarios", nil, &out)
	return out, err
}

func (c *Client) Peek(ctx context.Context, max int) (inspector.PagedResult[inspector.PeekedMessageInfo], error) {
	var out inspector.PagedResult[inspector.PeekedMessageInfo]
	path := "/api/messages/peek"
	if max > 0 {
		path += "?maxMessages=" + strconv.Itoa(max)
	}
	err := c.do(ctx, http.MethodGet, path, nil, &out)
	return out, err
}

// Message fetches one message by id. ok is false when it is not among the
// peekable messages.
func (c *Client) Message(ctx context.Context, id string) (inspector.Message, bool, error) {
	var out inspector.Message
	err := c.do(ctx, http.MethodGet, "/api/messages/"+url.PathEscape(id), nil, &out)
	if IsNotFound(err) {
		return inspector.Message{}, false, nil
	}
	if err != nil {
		return inspector.Message{}, false, err
	}
	return out, true, nil
}

// Receive takes and completes one message. ok is false when none was
// available.
func (c *Client) Receive(ctx context.Context) (inspector.Message, bool, error) {
	var out struct {
		inspector.Message
		Notice string `json:"message"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/messages/receive", nil, &out); err != nil {
		return inspector.Message{}, false, err
	}
	if out.MessageID == "" && out.Notice != "" {
		return inspector.Message{}, false, nil
	}
	return out.Message, true, nil
}

func (c *Client) Send(ctx context.Context, req inspector.SendMessageRequest) error {
	return c.do(ctx, http.MethodPost, "/api/messages/send", req, nil)
}

func (c *Client) BulkSend(ctx context.Context, reqs []inspector.SendMessageRequest) (inspector.BulkSendResult, error) {
	var out inspector.BulkSendResult
	err := c.do(ctx, http.MethodPost, "/api/messages/bulk-send", reqs, &out)
	return out, err
}

func (c *Client) do(ctx context.Context, method, path string, in any, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
		var eb struct {
			Error string `json:"error"`
			Code  string `json:"code"`
		}
		if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&eb); err == nil {
			if eb.Error != "" {
				apiErr.Message = eb.Error
			}
			apiErr.Code = eb.Code
		}
		return apiErr
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
