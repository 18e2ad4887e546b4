package client

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nuetzliches/sbinspect/internal/inspector"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	ts := httptest.NewServer(h)
	t.Cleanup(ts.Close)
	c, err := New(ts.URL + "/")
	require.NoError(t, err)
	return c
}

func TestNewRejectsEmpty(t *testing.T) {
	_, err := New("  ")
	assert.Error(t, err)
}

func TestConnectSendsBody(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/connections", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var req inspector.ConnectionRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "queue.1", req.EntityName)
		_ = json.NewEncoder(w).Encode(inspector.ConnectionInfo{Host: "localhost", EntityName: req.EntityName, IsConnected: true})
	})

	info, err := c.Connect(context.Background(), inspector.ConnectionRequest{ConnectionString: "x", EntityName: "queue.1"})
	require.NoError(t, err)
	assert.Equal(t, "localhost", info.Host)
	assert.True(t, info.IsConnected)
}

func TestAPIErrorDecoded(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"error":"Not connected to Service Bus","code":"not_connected"}`)
	})

	_, err := c.Entities(context.Background())
	require.Error(t, err)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	assert.Equal(t, "not_connected", apiErr.Code)
	assert.Equal(t, "Not connected to Service Bus", apiErr.Message)
	assert.False(t, IsNotFound(err))
}

func TestCurrentNotFound(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, `{"error":"No active connection"}`)
	})
	_, ok, err := c.Current(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestReceiveNoMessages(t *testing.T) {
	body := `{"message":"No messages available"}`
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, body)
	})

	_, ok, err := c.Receive(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)

	body = `{"messageId":"m1","body":"hi","deliveryCount":1}`
	msg, ok, err := c.Receive(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "m1", msg.MessageID)
	assert.Equal(t, "hi", msg.Body)
}

func TestPeekAndMessagePaths(t *testing.T) {
	var paths []string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.RequestURI())
		if r.URL.Path == "/api/messages/peek" {
			_, _ = io.WriteString(w, `{"items":[{"messageId":"a"}],"totalCount":1,"hasMore":false}`)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	})

	res, err := c.Peek(context.Background(), 5)
	require.NoError(t, err)
	require.Len(t, res.Items, 1)

	_, ok, err := c.Message(context.Background(), "a/b")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, []string{"/api/messages/peek?maxMessages=5", "/api/messages/a%2Fb"}, paths)
}
