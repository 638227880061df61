package email

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/bissquit/courier/internal/notifications"
	"github.com/bissquit/courier/internal/notifications/retry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewHTTPTransport_Validation(t *testing.T) {
	tests := []struct {
		name    string
		config  HTTPConfig
		wantErr bool
	}{
		{name: "valid", config: HTTPConfig{BaseURL: "http://localhost", APIKey: "key"}},
		{name: "missing base url", config: HTTPConfig{APIKey: "key"}, wantErr: true},
		{name: "missing api key", config: HTTPConfig{BaseURL: "http://localhost"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewHTTPTransport(tt.config)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestHTTPTransport_SendEmail(t *testing.T) {
	var got sendRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/emails", r.URL.Path)
		assert.Equal(t, "Bearer key-1", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"em_42"}`))
	}))
	defer server.Close()

	transport, err := NewHTTPTransport(HTTPConfig{BaseURL: server.URL, APIKey: "key-1"})
	require.NoError(t, err)

	receipt, err := transport.SendEmail(context.Background(), notifications.EmailMessage{
		From:    "tickets@example.com",
		To:      []string{"a@example.com", "b@example.com"},
		Subject: "Doors open at 8",
		HTML:    "<p>See you there</p>",
		Text:    "See you there",
	})
	require.NoError(t, err)

	assert.Equal(t, "em_42", receipt.MessageID)
	assert.Equal(t, "tickets@example.com", got.From)
	assert.Equal(t, []string{"a@example.com", "b@example.com"}, got.To)
	assert.Equal(t, "Doors open at 8", got.Subject)
	assert.Equal(t, "<p>See you there</p>", got.HTML)
	assert.Equal(t, "See you there", got.Text)
}

func TestHTTPTransport_SendEmail_AcceptedWithoutBody(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	transport, err := NewHTTPTransport(HTTPConfig{BaseURL: server.URL, APIKey: "key-1"})
	require.NoError(t, err)

	receipt, err := transport.SendEmail(context.Background(), notifications.EmailMessage{
		From: "tickets@example.com", To: []string{"a@example.com"}, Subject: "Hi", Text: "Hello",
	})
	require.NoError(t, err)
	assert.Empty(t, receipt.MessageID)
	assert.Equal(t, int32(1), hits.Load())
}

func TestHTTPTransport_SendEmail_ProviderErrors(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		wantCode  retry.Code
		retryable bool
	}{
		{name: "unavailable", status: http.StatusServiceUnavailable, wantCode: retry.CodeServer, retryable: true},
		{name: "throttled", status: http.StatusTooManyRequests, wantCode: retry.CodeRateLimit, retryable: true},
		{name: "forbidden", status: http.StatusForbidden, wantCode: retry.CodeForbidden},
		{name: "unprocessable", status: http.StatusUnprocessableEntity, wantCode: retry.CodeUnprocessable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer server.Close()

			transport, err := NewHTTPTransport(HTTPConfig{BaseURL: server.URL, APIKey: "key"})
			require.NoError(t, err)

			_, err = transport.SendEmail(context.Background(), notifications.EmailMessage{
				From: "tickets@example.com", To: []string{"a@example.com"}, Subject: "s", Text: "t",
			})
			require.Error(t, err)

			c := retry.Classify(err)
			assert.Equal(t, tt.wantCode, c.Code)
			assert.Equal(t, tt.retryable, c.Retryable)
		})
	}
}
