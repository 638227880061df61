package notifications

import (
	"context"
	"fmt"
	"strings"

	"github.com/bissquit/courier/internal/domain"
	"golang.org/x/text/cases"
)

// NormalizeRecipient returns the form recipients are stored and matched in.
// Email addresses are case-folded, phone numbers are only trimmed.
func NormalizeRecipient(recipient string) string {
	recipient = strings.TrimSpace(recipient)
	if strings.Contains(recipient, "@") {
		return cases.Fold().String(recipient)
	}
	return recipient
}

// SuppressionList answers whether a recipient must not be contacted.
type SuppressionList struct {
	repo SuppressionRepository
}

// NewSuppressionList creates a new suppression list.
func NewSuppressionList(repo SuppressionRepository) *SuppressionList {
	return &SuppressionList{repo: repo}
}

// IsSuppressed reports whether recipient is on the list.
func (s *SuppressionList) IsSuppressed(ctx context.Context, recipient string) (bool, error) {
	suppressed, err := s.repo.IsSuppressed(ctx, NormalizeRecipient(recipient))
	if err != nil {
		return false, fmt.Errorf("check suppression: %w", err)
	}
	return suppressed, nil
}

// Partition splits recipients into allowed and suppressed, preserving order.
func (s *SuppressionList) Partition(ctx context.Context, recipients []string) (allowed, suppressed []string, err error) {
	if len(recipients) == 0 {
		return nil, nil, nil
	}

	normalized := make([]string, len(recipients))
	for i, r := range recipients {
		normalized[i] = NormalizeRecipient(r)
	}

	set, err := s.repo.FilterSuppressed(ctx, normalized)
	if err != nil {
		return nil, nil, fmt.Errorf("filter suppressed: %w", err)
	}

	allowed = make([]string, 0, len(recipients))
	for i, r := range recipients {
		if set[normalized[i]] {
			suppressed = append(suppressed, r)
			continue
		}
		allowed = append(allowed, r)
	}
	return allowed, suppressed, nil
}

// Add suppresses recipient. Adding an already suppressed recipient returns the existing entry.
func (s *SuppressionList) Add(ctx context.Context, recipient string, reason domain.SuppressionReason, tenantID *string) (*domain.SuppressionEntry, error) {
	normalized := NormalizeRecipient(recipient)
	if normalized == "" || len(normalized) > maxEmailLength {
		return nil, ErrInvalidRecipient
	}
	if reason == "" {
		reason = domain.SuppressionReasonManual
	}

	entry := &domain.SuppressionEntry{
		Recipient: normalized,
		TenantID:  tenantID,
		Reason:    reason,
	}
	if err := s.repo.AddSuppression(ctx, entry); err != nil {
		return nil, fmt.Errorf("add suppression: %w", err)
	}
	return entry, nil
}

// Remove lifts the suppression for recipient.
func (s *SuppressionList) Remove(ctx context.Context, recipient string) error {
	return s.repo.RemoveSuppression(ctx, NormalizeRecipient(recipient))
}

// List returns suppression entries.
func (s *SuppressionList) List(ctx context.Context, filter SuppressionFilter) ([]domain.SuppressionEntry, error) {
	filter.Limit = NormalizeLimit(filter.Limit)
	return s.repo.ListSuppressions(ctx, filter)
}
