// Package testutil holds containers and HTTP helpers for integration tests.
package testutil

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// Client calls the delivery API with an optional service token.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewClient returns a client for the API served at baseURL.
func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: baseURL,
		token:   token,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

// Get issues a GET request.
func (c *Client) Get(t *testing.T, path string) *http.Response {
	return c.do(t, http.MethodGet, path, nil)
}

// Post issues a POST request with body encoded as JSON.
func (c *Client) Post(t *testing.T, path string, body any) *http.Response {
	return c.do(t, http.MethodPost, path, body)
}

// Delete issues a DELETE request.
func (c *Client) Delete(t *testing.T, path string) *http.Response {
	return c.do(t, http.MethodDelete, path, nil)
}

func (c *Client) do(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()

	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(t.Context(), method, c.baseURL+path, r)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	require.NoError(t, err)
	return resp
}

// Data decodes the {"data": ...} envelope of resp and closes its body.
func Data[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer func() { _ = resp.Body.Close() }()

	var envelope struct {
		Data T `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&envelope))
	return envelope.Data
}
