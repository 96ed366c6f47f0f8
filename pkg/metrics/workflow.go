package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Workflow records counters for the order, payment, invoice and email flow.
// A nil *Workflow is valid and records nothing.
type Workflow struct {
	ordersCreated   *prometheus.CounterVec
	notifications   *prometheus.CounterVec
	orphaned        *prometheus.CounterVec
	invoices        *prometheus.CounterVec
	emails          *prometheus.CounterVec
	gatewayDuration *prometheus.HistogramVec
}

// NewWorkflow registers the workflow metrics on the provided registerer.
func NewWorkflow(reg prometheus.Registerer) *Workflow {
	if reg == nil {
		return &Workflow{}
	}
	w := &Workflow{
		ordersCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "oilshop_orders_created_total",
			Help: "Order submissions by shop; duplicate=true when the request id was already stored.",
		}, []string{"shop", "duplicate"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "oilshop_payment_notifications_total",
			Help: "Payment notifications applied, by channel and canonical outcome.",
		}, []string{"source", "outcome"}),
		orphaned: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "oilshop_payment_notifications_orphaned_total",
			Help: "Payment notifications that matched no order.",
		}, []string{"source"}),
		invoices: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "oilshop_invoices_total",
			Help: "Invoice generation attempts by shop and result.",
		}, []string{"shop", "result"}),
		emails: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "oilshop_emails_total",
			Help: "Transactional emails by template and result.",
		}, []string{"template", "result"}),
		gatewayDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "oilshop_gateway_request_duration_seconds",
			Help:    "Latency of payment gateway calls.",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),
	}
	reg.MustRegister(w.ordersCreated, w.notifications, w.orphaned, w.invoices, w.emails, w.gatewayDuration)
	return w
}

func (w *Workflow) OrderCreated(shopID string, duplicate bool) {
	if w == nil || w.ordersCreated == nil {
		return
	}
	dup := "false"
	if duplicate {
		dup = "true"
	}
	w.ordersCreated.WithLabelValues(normalizeLabel(shopID), dup).Inc()
}

func (w *Workflow) PaymentNotification(source, outcome string) {
	if w == nil || w.notifications == nil {
		return
	}
	w.notifications.WithLabelValues(normalizeLabel(source), normalizeLabel(outcome)).Inc()
}

func (w *Workflow) OrphanedNotification(source string) {
	if w == nil || w.orphaned == nil {
		return
	}
	w.orphaned.WithLabelValues(normalizeLabel(source)).Inc()
}

func (w *Workflow) InvoiceResult(shopID string, err error) {
	if w == nil || w.invoices == nil {
		return
	}
	w.invoices.WithLabelValues(normalizeLabel(shopID), resultLabel(err)).Inc()
}

func (w *Workflow) EmailResult(template string, err error) {
	if w == nil || w.emails == nil {
		return
	}
	w.emails.WithLabelValues(normalizeLabel(template), resultLabel(err)).Inc()
}

// ObserveGateway records how long a gateway operation took.
func (w *Workflow) ObserveGateway(operation string, duration time.Duration) {
	if w == nil || w.gatewayDuration == nil {
		return
	}
	w.gatewayDuration.WithLabelValues(normalizeLabel(operation)).Observe(duration.Seconds())
}

func resultLabel(err error) string {
	if err != nil {
		return "failure"
	}
	return "success"
}

func normalizeLabel(value string) string {
	if value == "" {
		return "unknown"
	}
	return value
}
