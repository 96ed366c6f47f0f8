package enums

// OrderAuditAction classifies rows of the order audit trail.
type OrderAuditAction string

const (
	OrderAuditStatusChange OrderAuditAction = "status_change"
	OrderAuditHide         OrderAuditAction = "hide"
	OrderAuditUnhide       OrderAuditAction = "unhide"
	OrderAuditInvoice      OrderAuditAction = "invoice_generated"
)
