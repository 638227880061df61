// Package email provides email transports: a JSON HTTP API and SMTP.
package email

import (
	"context"
	"errors"
	"log/slog"

	"github.com/bissquit/courier/internal/notifications"
	"github.com/bissquit/courier/internal/pkg/provider"
)

// HTTPConfig holds configuration of the HTTP email API.
type HTTPConfig struct {
	BaseURL string
	APIKey  string
	Client  provider.Config
}

// HTTPTransport sends email through a provider's JSON API.
type HTTPTransport struct {
	client *provider.Client
}

type sendRequest struct {
	From    string   `json:"from"`
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	HTML    string   `json:"html,omitempty"`
	Text    string   `json:"text,omitempty"`
}

type sendResponse struct {
	ID string `json:"id"`
}

// NewHTTPTransport creates a new HTTP email transport.
func NewHTTPTransport(config HTTPConfig, opts ...provider.Option) (*HTTPTransport, error) {
	if config.BaseURL == "" {
		return nil, errors.New("email http transport: base url is required")
	}
	if config.APIKey == "" {
		return nil, errors.New("email http transport: api key is required")
	}

	clientConfig := config.Client
	clientConfig.BaseURL = config.BaseURL
	if clientConfig.Name == "" {
		clientConfig.Name = "email_api"
	}

	slog.Info("email http transport configured", "base_url", config.BaseURL)

	return &HTTPTransport{
		client: provider.NewClient(clientConfig, append([]provider.Option{provider.WithBearerToken(config.APIKey)}, opts...)...),
	}, nil
}

// SendEmail posts one message for all recipients in msg.To.
func (t *HTTPTransport) SendEmail(ctx context.Context, msg notifications.EmailMessage) (notifications.Receipt, error) {
	var resp sendResponse
	err := t.client.PostJSON(ctx, "/emails", sendRequest{
		From:    msg.From,
		To:      msg.To,
		Subject: msg.Subject,
		HTML:    msg.HTML,
		Text:    msg.Text,
	}, &resp)
	if err != nil {
		return notifications.Receipt{}, err
	}
	return notifications.Receipt{MessageID: resp.ID}, nil
}
