package enums

import (
	"fmt"
	"strings"
)

// PaymentLogType classifies an entry of the append-only payment log.
type PaymentLogType string

const (
	PaymentLogInitiated         PaymentLogType = "payment_initiated"
	PaymentLogInitiationFailed  PaymentLogType = "payment_initiation_failed"
	PaymentLogRedirectReceived  PaymentLogType = "redirect_received"
	PaymentLogRedirectProcessed PaymentLogType = "redirect_processed"
	PaymentLogRedirectOrphaned  PaymentLogType = "redirect_orphaned"
	PaymentLogWebhookReceived   PaymentLogType = "webhook_received"
	PaymentLogWebhookProcessed  PaymentLogType = "webhook_processed"
	PaymentLogWebhookOrphaned   PaymentLogType = "webhook_orphaned"
	PaymentLogWebhookDuplicate  PaymentLogType = "webhook_duplicate"
	PaymentLogWebhookRejected   PaymentLogType = "webhook_rejected"
	PaymentLogStatusVerified    PaymentLogType = "status_verified"
	PaymentLogVerifyOrphaned    PaymentLogType = "verify_orphaned"
)

// PaymentSource names the channel a payment notification arrived through.
type PaymentSource string

const (
	PaymentSourceRedirect PaymentSource = "redirect"
	PaymentSourceWebhook  PaymentSource = "webhook"
	PaymentSourceGateway  PaymentSource = "gateway"
	PaymentSourceVerify   PaymentSource = "verify"
)

// ReceivedLogType returns the log type recorded when a notification arrives.
func (s PaymentSource) ReceivedLogType() PaymentLogType {
	if s == PaymentSourceWebhook {
		return PaymentLogWebhookReceived
	}
	if s == PaymentSourceVerify {
		return PaymentLogStatusVerified
	}
	return PaymentLogRedirectReceived
}

// ProcessedLogType returns the log type recorded after the order was updated.
func (s PaymentSource) ProcessedLogType() PaymentLogType {
	if s == PaymentSourceWebhook {
		return PaymentLogWebhookProcessed
	}
	if s == PaymentSourceVerify {
		return PaymentLogStatusVerified
	}
	return PaymentLogRedirectProcessed
}

// OrphanedLogType returns the log type recorded when no order matches.
func (s PaymentSource) OrphanedLogType() PaymentLogType {
	switch s {
	case PaymentSourceWebhook:
		return PaymentLogWebhookOrphaned
	case PaymentSourceVerify:
		return PaymentLogVerifyOrphaned
	}
	return PaymentLogRedirectOrphaned
}

// PaymentOutcome is the canonical result of a provider result code.
type PaymentOutcome string

const (
	PaymentOutcomeCompleted PaymentOutcome = "completed"
	PaymentOutcomeFailed    PaymentOutcome = "failed"
	PaymentOutcomePending   PaymentOutcome = "pending"
)

var (
	completedResultCodes = []string{"APPROVED", "CAPTURED", "AUTHORIZED", "EXECUTED", "SUCCESS", "SUCCEEDED", "PAID", "COMPLETED", "OK"}
	failedResultCodes    = []string{"DECLINED", "DENIED", "CANCELED", "CANCELLED", "FAILED", "FAILURE", "ERROR", "NOT CAPTURED", "NOT_CAPTURED", "VOIDED", "REFUSED", "EXPIRED", "KO"}
	pendingResultCodes   = []string{"PENDING", "PROCESSING", "INITIALIZED", "IN_PROGRESS", "WAITING"}
)

// ClassifyResultCode maps a raw provider result code onto a PaymentOutcome.
// Matching is case-insensitive against explicit allow-lists; codes that are
// not listed are treated as pending so they never move an order.
func ClassifyResultCode(code string) PaymentOutcome {
	normalized := strings.ToUpper(strings.TrimSpace(code))
	if normalized == "" {
		return PaymentOutcomePending
	}
	for _, candidate := range completedResultCodes {
		if candidate == normalized {
			return PaymentOutcomeCompleted
		}
	}
	for _, candidate := range failedResultCodes {
		if candidate == normalized {
			return PaymentOutcomeFailed
		}
	}
	for _, candidate := range pendingResultCodes {
		if candidate == normalized {
			return PaymentOutcomePending
		}
	}
	return PaymentOutcomePending
}

// ParsePaymentOutcome converts raw input into a PaymentOutcome.
func ParsePaymentOutcome(value string) (PaymentOutcome, error) {
	switch PaymentOutcome(value) {
	case PaymentOutcomeCompleted, PaymentOutcomeFailed, PaymentOutcomePending:
		return PaymentOutcome(value), nil
	}
	return "", fmt.Errorf("invalid payment outcome %q", value)
}
