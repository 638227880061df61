// Package sms provides the SMS transport over a form-encoded messaging API.
package sms

import (
	"context"
	"errors"
	"log/slog"
	"net/url"

	"github.com/bissquit/courier/internal/notifications"
	"github.com/bissquit/courier/internal/pkg/provider"
)

// Config holds configuration of the SMS API.
type Config struct {
	BaseURL    string
	AccountSID string
	AuthToken  string
	Client     provider.Config
}

// Transport sends SMS through the messaging API.
type Transport struct {
	client *provider.Client
	path   string
}

type messageResponse struct {
	SID string `json:"sid"`
}

// NewTransport creates a new SMS transport.
func NewTransport(config Config, opts ...provider.Option) (*Transport, error) {
	if config.BaseURL == "" {
		return nil, errors.New("sms transport: base url is required")
	}
	if config.AccountSID == "" || config.AuthToken == "" {
		return nil, errors.New("sms transport: account sid and auth token are required")
	}

	clientConfig := config.Client
	clientConfig.BaseURL = config.BaseURL
	if clientConfig.Name == "" {
		clientConfig.Name = "sms_api"
	}

	slog.Info("sms transport configured", "base_url", config.BaseURL, "account_sid", config.AccountSID)

	return &Transport{
		client: provider.NewClient(clientConfig, append([]provider.Option{provider.WithBasicAuth(config.AccountSID, config.AuthToken)}, opts...)...),
		path:   "/Accounts/" + url.PathEscape(config.AccountSID) + "/Messages.json",
	}, nil
}

// SendSMS posts one message.
func (t *Transport) SendSMS(ctx context.Context, msg notifications.SMSMessage) (notifications.Receipt, error) {
	form := url.Values{}
	form.Set("To", msg.To)
	form.Set("From", msg.From)
	form.Set("Body", msg.Body)

	var resp messageResponse
	if err := t.client.PostForm(ctx, t.path, form, &resp); err != nil {
		return notifications.Receipt{}, err
	}
	return notifications.Receipt{MessageID: resp.SID}, nil
}
