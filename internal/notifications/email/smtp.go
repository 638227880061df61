package email

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/bissquit/courier/internal/notifications"
	"github.com/bissquit/courier/internal/notifications/retry"
	"github.com/wneessen/go-mail"
)

const (
	defaultSMTPPort    = 587
	defaultSMTPTimeout = 15 * time.Second
)

// SMTPConfig holds SMTP server configuration.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	// TLS is one of "mandatory", "opportunistic" or "none".
	TLS     string
	Timeout time.Duration
}

// SMTPTransport sends email over SMTP. Recipients go in Bcc so a batch
// does not disclose addresses to each other.
type SMTPTransport struct {
	config SMTPConfig
}

// NewSMTPTransport creates a new SMTP transport.
func NewSMTPTransport(config SMTPConfig) (*SMTPTransport, error) {
	if config.Host == "" {
		return nil, errors.New("email smtp transport: host is required")
	}
	if config.Port == 0 {
		config.Port = defaultSMTPPort
	}
	if config.Timeout == 0 {
		config.Timeout = defaultSMTPTimeout
	}

	slog.Info("email smtp transport configured",
		"smtp_host", config.Host,
		"smtp_port", config.Port,
		"tls", config.TLS,
	)

	return &SMTPTransport{config: config}, nil
}

// SendEmail delivers msg in one SMTP transaction.
func (t *SMTPTransport) SendEmail(ctx context.Context, msg notifications.EmailMessage) (notifications.Receipt, error) {
	m, err := buildMessage(msg)
	if err != nil {
		return notifications.Receipt{}, err
	}

	client, err := mail.NewClient(t.config.Host, t.clientOptions()...)
	if err != nil {
		return notifications.Receipt{}, fmt.Errorf("create smtp client: %w", err)
	}

	if err := client.DialAndSendWithContext(ctx, m); err != nil {
		return notifications.Receipt{}, classifySendError(err)
	}

	return notifications.Receipt{MessageID: messageID(m)}, nil
}

func (t *SMTPTransport) clientOptions() []mail.Option {
	opts := []mail.Option{
		mail.WithPort(t.config.Port),
		mail.WithTLSPolicy(tlsPolicy(t.config.TLS)),
		mail.WithTimeout(t.config.Timeout),
	}
	if t.config.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(t.config.Username),
			mail.WithPassword(t.config.Password),
		)
	}
	return opts
}

func buildMessage(msg notifications.EmailMessage) (*mail.Msg, error) {
	m := mail.NewMsg()
	if err := m.From(msg.From); err != nil {
		return nil, retry.NewFailure(retry.CodeValidation, fmt.Sprintf("invalid from address: %v", err), false)
	}
	if len(msg.To) == 1 {
		if err := m.To(msg.To[0]); err != nil {
			return nil, retry.NewFailure(retry.CodeValidation, fmt.Sprintf("invalid recipient: %v", err), false)
		}
	} else {
		m.SetGenHeader(mail.Header(mail.HeaderTo), "undisclosed-recipients:;")
		if err := m.Bcc(msg.To...); err != nil {
			return nil, retry.NewFailure(retry.CodeValidation, fmt.Sprintf("invalid recipient: %v", err), false)
		}
	}

	m.Subject(msg.Subject)
	m.SetMessageID()
	m.SetDate()

	switch {
	case msg.HTML != "" && msg.Text != "":
		m.SetBodyString(mail.TypeTextPlain, msg.Text)
		m.AddAlternativeString(mail.TypeTextHTML, msg.HTML)
	case msg.HTML != "":
		m.SetBodyString(mail.TypeTextHTML, msg.HTML)
	default:
		m.SetBodyString(mail.TypeTextPlain, msg.Text)
	}
	return m, nil
}

// classifySendError maps SMTP reply classes onto delivery failures:
// 4xx replies are temporary, 5xx replies to the envelope or data are permanent.
// Anything else is left to the default classifier.
func classifySendError(err error) error {
	var sendErr *mail.SendError
	if !errors.As(err, &sendErr) {
		return err
	}

	if sendErr.IsTemp() {
		return &retry.Failure{Code: retry.CodeServer, Message: err.Error(), Retryable: true, Err: err}
	}

	switch sendErr.Reason {
	case mail.ErrSMTPMailFrom, mail.ErrSMTPRcptTo, mail.ErrSMTPData, mail.ErrSMTPDataClose:
		return &retry.Failure{Code: retry.CodeSMTPRejected, Message: err.Error(), Retryable: false, Err: err}
	}
	return err
}

func messageID(m *mail.Msg) string {
	ids := m.GetGenHeader(mail.HeaderMessageID)
	if len(ids) == 0 {
		return ""
	}
	return strings.Trim(ids[0], "<>")
}

func tlsPolicy(policy string) mail.TLSPolicy {
	switch policy {
	case "mandatory":
		return mail.TLSMandatory
	case "none":
		return mail.NoTLS
	default:
		return mail.TLSOpportunistic
	}
}
