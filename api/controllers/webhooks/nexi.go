package webhooks

import (
	"context"
	"io"
	"net/http"

	"github.com/heatflow/oilshop-backend/api/responses"
	nexiwebhook "github.com/heatflow/oilshop-backend/internal/webhooks/nexi"
	"github.com/heatflow/oilshop-backend/pkg/enums"
	pkgerrors "github.com/heatflow/oilshop-backend/pkg/errors"
	"github.com/heatflow/oilshop-backend/pkg/logger"
)

const maxWebhookBody = 1 << 20

type webhookHandler interface {
	HandleWebhook(ctx context.Context, delivery nexiwebhook.WebhookDelivery) (*nexiwebhook.Result, error)
}

type webhookAck struct {
	Received    bool                 `json:"received"`
	Outcome     enums.PaymentOutcome `json:"outcome"`
	OrderNumber string               `json:"order_number,omitempty"`
	Duplicate   bool                 `json:"duplicate,omitempty"`
	Orphaned    bool                 `json:"orphaned,omitempty"`
}

// NexiWebhook acknowledges every parseable notification with 200, including
// duplicates and orphans. Bad signatures answer 401; storage failures answer
// 503 so the provider redelivers.
func NexiWebhook(svc webhookHandler, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "webhook service unavailable"))
			return
		}

		body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "read webhook body"))
			return
		}

		res, err := svc.HandleWebhook(r.Context(), nexiwebhook.WebhookDelivery{
			Body:        body,
			ContentType: r.Header.Get("Content-Type"),
			Signature:   r.Header.Get(nexiwebhook.SignatureHeader),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		ack := webhookAck{
			Received:  true,
			Outcome:   res.Outcome,
			Duplicate: res.Duplicate,
			Orphaned:  res.Orphaned,
		}
		if res.Order != nil {
			ack.OrderNumber = res.Order.OrderNumber
		}
		if logg != nil {
			ctx := logg.WithFields(r.Context(), map[string]any{
				"outcome":   string(res.Outcome),
				"duplicate": res.Duplicate,
				"orphaned":  res.Orphaned,
				"changed":   res.Changed,
			})
			logg.Info(ctx, "nexi webhook processed")
		}
		responses.WriteSuccess(w, ack)
	}
}
