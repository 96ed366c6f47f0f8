package enums

import "fmt"

// EmailTemplate identifies a transactional email sent for an order.
type EmailTemplate string

const (
	EmailTemplateOrderConfirmation EmailTemplate = "order_confirmation"
	EmailTemplateInvoice           EmailTemplate = "invoice"
)

var validEmailTemplates = []EmailTemplate{
	EmailTemplateOrderConfirmation,
	EmailTemplateInvoice,
}

func (t EmailTemplate) String() string {
	return string(t)
}

func (t EmailTemplate) IsValid() bool {
	for _, candidate := range validEmailTemplates {
		if candidate == t {
			return true
		}
	}
	return false
}

// Exclusive returns the template that may never be sent alongside t for the
// same order.
func (t EmailTemplate) Exclusive() EmailTemplate {
	switch t {
	case EmailTemplateOrderConfirmation:
		return EmailTemplateInvoice
	case EmailTemplateInvoice:
		return EmailTemplateOrderConfirmation
	}
	return ""
}

// ParseEmailTemplate converts raw input into an EmailTemplate.
func ParseEmailTemplate(value string) (EmailTemplate, error) {
	for _, candidate := range validEmailTemplates {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid email template %q", value)
}

// EmailDispatchStatus tracks a single dispatch row.
type EmailDispatchStatus string

const (
	EmailDispatchQueued EmailDispatchStatus = "queued"
	EmailDispatchSent   EmailDispatchStatus = "sent"
	EmailDispatchFailed EmailDispatchStatus = "failed"
)
