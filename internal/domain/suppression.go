package domain

import "time"

// SuppressionReason explains why a recipient must not be contacted.
type SuppressionReason string

// Suppression reasons.
const (
	SuppressionReasonUnsubscribed SuppressionReason = "unsubscribed"
	SuppressionReasonBounce       SuppressionReason = "bounce"
	SuppressionReasonComplaint    SuppressionReason = "complaint"
	SuppressionReasonManual       SuppressionReason = "manual"
)

// SuppressionEntry marks a recipient as do-not-contact.
type SuppressionEntry struct {
	ID        string            `json:"id"`
	Recipient string            `json:"recipient"`
	TenantID  *string           `json:"tenant_id"`
	Reason    SuppressionReason `json:"reason"`
	CreatedAt time.Time         `json:"created_at"`
}
