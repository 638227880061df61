package domain

import "time"

// Channel is a delivery channel.
type Channel string

// Delivery channels.
const (
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
)

// IsValid reports whether c is a known channel.
func (c Channel) IsValid() bool {
	return c == ChannelEmail || c == ChannelSMS
}

// DefaultMaxRetries is the retry budget given to a newly queued item.
const DefaultMaxRetries = 3

// QueueStatus represents the status of a queue item.
type QueueStatus string

// Queue statuses.
const (
	QueueStatusPending    QueueStatus = "pending"
	QueueStatusProcessing QueueStatus = "processing"
	QueueStatusCompleted  QueueStatus = "completed"
	QueueStatusFailed     QueueStatus = "failed"
)

// IsTerminal reports whether no further attempts are made for an item in this status.
func (s QueueStatus) IsTerminal() bool {
	return s == QueueStatusCompleted || s == QueueStatusFailed
}

// QueuePayload is the pre-rendered content owed to a recipient.
// Email items use Subject/HTML/Text, SMS items use Body.
type QueuePayload struct {
	Subject     string `json:"subject,omitempty"`
	HTML        string `json:"html,omitempty"`
	Text        string `json:"text,omitempty"`
	Body        string `json:"body,omitempty"`
	MessageType string `json:"message_type,omitempty"`
	From        string `json:"from,omitempty"`
}

// QueueItem is one notification still owed to a recipient after a failed
// synchronous attempt.
type QueueItem struct {
	ID          string       `json:"id"`
	Channel     Channel      `json:"channel"`
	Recipient   string       `json:"recipient"`
	Payload     QueuePayload `json:"payload"`
	RetryCount  int          `json:"retry_count"`
	MaxRetries  int          `json:"max_retries"`
	NextRetryAt time.Time    `json:"next_retry_at"`
	Status      QueueStatus  `json:"status"`
	LastError   *string      `json:"last_error"`
	TenantID    *string      `json:"tenant_id"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

// IsDue reports whether a pending item may be claimed at now.
func (q *QueueItem) IsDue(now time.Time) bool {
	return q.Status == QueueStatusPending && !q.NextRetryAt.After(now)
}

// QueueStats contains queue size by status.
type QueueStats struct {
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
}

// DeliveryStatus is the outcome recorded in the delivery log.
type DeliveryStatus string

// Delivery statuses.
const (
	DeliveryStatusSuccess  DeliveryStatus = "success"
	DeliveryStatusFailed   DeliveryStatus = "failed"
	DeliveryStatusBounced  DeliveryStatus = "bounced"
	DeliveryStatusRejected DeliveryStatus = "rejected"
)

// DeliveryLogEntry records the outcome of one send attempt. Entries are never mutated.
type DeliveryLogEntry struct {
	ID                string         `json:"id"`
	Channel           Channel        `json:"channel"`
	Recipient         string         `json:"recipient"`
	Status            DeliveryStatus `json:"status"`
	MessageType       string         `json:"message_type,omitempty"`
	ErrorCode         string         `json:"error_code,omitempty"`
	ErrorMessage      *string        `json:"error_message"`
	ExternalMessageID *string        `json:"external_message_id"`
	TenantID          *string        `json:"tenant_id"`
	CreatedAt         time.Time      `json:"created_at"`
}

// DeliveryStats aggregates delivery log entries by status.
type DeliveryStats struct {
	Total    int `json:"total"`
	Success  int `json:"success"`
	Failed   int `json:"failed"`
	Bounced  int `json:"bounced"`
	Rejected int `json:"rejected"`
}

// Add counts one entry of the given status.
func (s *DeliveryStats) Add(status DeliveryStatus, n int) {
	switch status {
	case DeliveryStatusSuccess:
		s.Success += n
	case DeliveryStatusFailed:
		s.Failed += n
	case DeliveryStatusBounced:
		s.Bounced += n
	case DeliveryStatusRejected:
		s.Rejected += n
	}
	s.Total += n
}
