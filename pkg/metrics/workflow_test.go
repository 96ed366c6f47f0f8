package metrics

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestWorkflowExportsCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewWorkflow(reg)

	metrics.OrderCreated("heizoel-de", false)
	metrics.OrderCreated("heizoel-de", true)
	metrics.PaymentNotification("webhook", "completed")
	metrics.OrphanedNotification("webhook")
	metrics.InvoiceResult("heizoel-de", nil)
	metrics.InvoiceResult("heizoel-de", errors.New("upload failed"))
	metrics.EmailResult("invoice", nil)
	metrics.ObserveGateway("initiate", 120*time.Millisecond)

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}

	checks := []struct {
		name  string
		label string
		value string
		want  float64
	}{
		{"oilshop_orders_created_total", "duplicate", "true", 1},
		{"oilshop_orders_created_total", "duplicate", "false", 1},
		{"oilshop_payment_notifications_total", "outcome", "completed", 1},
		{"oilshop_payment_notifications_orphaned_total", "source", "webhook", 1},
		{"oilshop_invoices_total", "result", "failure", 1},
		{"oilshop_invoices_total", "result", "success", 1},
		{"oilshop_emails_total", "template", "invoice", 1},
	}
	for _, c := range checks {
		got, err := fetchCounterValue(mfs, c.name, c.label, c.value)
		if err != nil {
			t.Fatalf("fetch %s: %v", c.name, err)
		}
		if got != c.want {
			t.Fatalf("%s{%s=%s} expected %f, got %f", c.name, c.label, c.value, c.want, got)
		}
	}

	if got, err := fetchHistogramSum(mfs, "oilshop_gateway_request_duration_seconds", "operation", "initiate"); err != nil {
		t.Fatalf("fetch duration: %v", err)
	} else if got <= 0 {
		t.Fatalf("expected duration sum > 0, got %f", got)
	}
}

func TestNilWorkflowIsSafe(t *testing.T) {
	var metrics *Workflow
	metrics.OrderCreated("x", false)
	metrics.PaymentNotification("redirect", "failed")
	metrics.EmailResult("invoice", nil)
}

func fetchCounterValue(mfs []*dto.MetricFamily, name, label, value string) (float64, error) {
	mf := findMetricFamily(mfs, name)
	if mf == nil {
		return 0, fmt.Errorf("metric %q not found", name)
	}
	for _, metric := range mf.GetMetric() {
		if matchesLabel(metric.GetLabel(), label, value) {
			return metric.GetCounter().GetValue(), nil
		}
	}
	return 0, fmt.Errorf("metric %q missing label %s=%s", name, label, value)
}

func fetchHistogramSum(mfs []*dto.MetricFamily, name, label, value string) (float64, error) {
	mf := findMetricFamily(mfs, name)
	if mf == nil {
		return 0, fmt.Errorf("metric %q not found", name)
	}
	for _, metric := range mf.GetMetric() {
		if matchesLabel(metric.GetLabel(), label, value) {
			return metric.GetHistogram().GetSampleSum(), nil
		}
	}
	return 0, fmt.Errorf("histogram %q missing label %s=%s", name, label, value)
}

func findMetricFamily(mfs []*dto.MetricFamily, name string) *dto.MetricFamily {
	for _, mf := range mfs {
		if mf.GetName() == name {
			return mf
		}
	}
	return nil
}

func matchesLabel(labels []*dto.LabelPair, name, value string) bool {
	for _, label := range labels {
		if label.GetName() == name && label.GetValue() == value {
			return true
		}
	}
	return false
}
