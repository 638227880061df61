package notifications

import "errors"

// Repository errors.
var (
	ErrQueueItemNotFound   = errors.New("queue item not found")
	ErrSuppressionNotFound = errors.New("suppression not found")
)

// Service errors.
var (
	ErrChannelNotConfigured = errors.New("channel not configured")
	ErrInvalidBounceType    = errors.New("invalid bounce type")
	ErrInvalidRecipient     = errors.New("invalid recipient")
)
