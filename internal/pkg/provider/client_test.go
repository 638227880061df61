package provider

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_PostJSON_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/emails", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "Bearer key-1", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"msg-1"}`))
	}))
	defer server.Close()

	c := NewClient(Config{Name: "mailer", BaseURL: server.URL + "/"}, WithBearerToken("key-1"))

	var out struct {
		ID string `json:"id"`
	}
	require.NoError(t, c.PostJSON(context.Background(), "/emails", map[string]string{"to": "a@example.com"}, &out))
	assert.Equal(t, "msg-1", out.ID)
}

func TestClient_PostForm_BasicAuth(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "AC1", user)
		assert.Equal(t, "secret", pass)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "+15551234567", r.PostForm.Get("To"))
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"sid":"SM1"}`))
	}))
	defer server.Close()

	c := NewClient(Config{Name: "sms", BaseURL: server.URL}, WithBasicAuth("AC1", "secret"))

	var out struct {
		SID string `json:"sid"`
	}
	require.NoError(t, c.PostForm(context.Background(), "/Messages.json", url.Values{"To": {"+15551234567"}}, &out))
	assert.Equal(t, "SM1", out.SID)
}

func TestClient_StatusErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
	}{
		{"bad request", http.StatusBadRequest},
		{"unauthorized", http.StatusUnauthorized},
		{"rate limited", http.StatusTooManyRequests},
		{"server error", http.StatusInternalServerError},
		{"unavailable", http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(`{"message":"nope"}`))
			}))
			defer server.Close()

			c := NewClient(Config{Name: "mailer", BaseURL: server.URL})
			err := c.PostJSON(context.Background(), "/emails", struct{}{}, nil)

			var se *StatusError
			require.ErrorAs(t, err, &se)
			assert.Equal(t, tt.status, se.HTTPStatus())
			assert.Equal(t, "mailer", se.Provider)
			assert.Contains(t, se.Body, "nope")
		})
	}
}

func TestClient_BreakerOpensOnServerErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	c := NewClient(Config{
		Name:    "mailer",
		BaseURL: server.URL,
		Breaker: BreakerConfig{ConsecutiveFailures: 3, OpenTimeout: time.Minute},
	})

	for range 3 {
		err := c.PostJSON(context.Background(), "/emails", struct{}{}, nil)
		require.Error(t, err)
	}

	err := c.PostJSON(context.Background(), "/emails", struct{}{}, nil)
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusServiceUnavailable, se.StatusCode)
	assert.True(t, errors.Is(err, gobreaker.ErrOpenState))
	assert.Equal(t, int32(3), calls.Load(), "open breaker must not reach the provider")
}

func TestClient_ClientErrorsDoNotTripBreaker(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))
	defer server.Close()

	c := NewClient(Config{
		Name:    "mailer",
		BaseURL: server.URL,
		Breaker: BreakerConfig{ConsecutiveFailures: 2, OpenTimeout: time.Minute},
	})

	for range 5 {
		err := c.PostJSON(context.Background(), "/emails", struct{}{}, nil)
		var se *StatusError
		require.ErrorAs(t, err, &se)
		assert.Equal(t, http.StatusUnprocessableEntity, se.StatusCode)
	}
	assert.Equal(t, int32(5), calls.Load())
}

func TestClient_ContextTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer server.Close()

	c := NewClient(Config{Name: "mailer", BaseURL: server.URL})
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := c.PostJSON(ctx, "/emails", struct{}{}, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestClient_AcceptedWithUnreadableBody(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"accepted without body", http.StatusAccepted, ""},
		{"ok with html body", http.StatusOK, "<html>queued</html>"},
		{"created with truncated json", http.StatusCreated, `{"id":`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var hits atomic.Int32
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				hits.Add(1)
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			c := NewClient(Config{Name: "mailer", BaseURL: server.URL})

			var out struct {
				ID string `json:"id"`
			}
			require.NoError(t, c.PostJSON(context.Background(), "/emails", struct{}{}, &out))
			assert.Empty(t, out.ID)
			assert.Equal(t, int32(1), hits.Load())
		})
	}
}
