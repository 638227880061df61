package notifications

import "context"

// EmailMessage is a pre-rendered email for one or more recipients.
type EmailMessage struct {
	From    string
	To      []string
	Subject string
	HTML    string
	Text    string
}

// SMSMessage is a pre-rendered SMS for one recipient.
type SMSMessage struct {
	From string
	To   string
	Body string
}

// Receipt is returned by a provider that accepted a message.
type Receipt struct {
	MessageID string
}

// EmailTransport hands email to a provider.
// Errors exposing HTTPStatus() int are classified by status.
type EmailTransport interface {
	SendEmail(ctx context.Context, msg EmailMessage) (Receipt, error)
}

// SMSTransport hands SMS to a provider.
type SMSTransport interface {
	SendSMS(ctx context.Context, msg SMSMessage) (Receipt, error)
}
