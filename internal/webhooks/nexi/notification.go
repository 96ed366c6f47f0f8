package nexiwebhook

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/heatflow/oilshop-backend/pkg/enums"
	pkgerrors "github.com/heatflow/oilshop-backend/pkg/errors"
	"github.com/heatflow/oilshop-backend/pkg/types"
)

// Notification is a redirect or webhook reduced to the three fields the
// reconciler needs, plus the raw parameters for the audit trail.
type Notification struct {
	TrackID    string
	PaymentID  string
	ResultCode string
	Raw        types.JSONMap
}

var (
	trackIDKeys    = []string{"trackid", "track_id", "orderid", "order_id", "ordernumber", "order_number", "order"}
	paymentIDKeys  = []string{"tranid", "paymentid", "payment_id", "linkid", "link_id", "operationid"}
	resultCodeKeys = []string{"result", "status", "outcome", "operationresult", "resultcode", "result_code"}
)

// Outcome maps the result code through the explicit allow-lists.
func (n Notification) Outcome() enums.PaymentOutcome {
	return enums.ClassifyResultCode(n.ResultCode)
}

// Fingerprint identifies a delivery for duplicate detection.
func (n Notification) Fingerprint() string {
	sum := sha256.Sum256([]byte(strings.Join([]string{
		n.TrackID,
		n.PaymentID,
		strings.ToUpper(n.ResultCode),
	}, "|")))
	return hex.EncodeToString(sum[:])
}

// Resolvable reports whether the notification names an order or a payment.
func (n Notification) Resolvable() bool {
	return n.TrackID != "" || n.PaymentID != ""
}

// FromValues normalizes query string or form parameters.
func FromValues(values url.Values) Notification {
	flat := make(map[string]any, len(values))
	for key, vals := range values {
		if len(vals) == 0 {
			continue
		}
		flat[key] = vals[0]
	}
	return Normalize(flat)
}

// FromJSON normalizes a JSON webhook body. Nested "operation" and "order"
// objects are searched as well since the provider wraps fields in them.
func FromJSON(body []byte) (Notification, error) {
	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		return Notification{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid json notification")
	}
	flat := make(map[string]any, len(payload))
	for _, nested := range []string{"order", "operation"} {
		if inner, ok := payload[nested].(map[string]any); ok {
			for k, v := range inner {
				flat[k] = v
			}
		}
	}
	for k, v := range payload {
		if _, isObject := v.(map[string]any); isObject {
			continue
		}
		flat[k] = v
	}
	n := Normalize(flat)
	n.Raw = payload
	return n, nil
}

// Normalize extracts the logical fields from any flat key/value set. Keys
// match case-insensitively against the known aliases.
func Normalize(params map[string]any) Notification {
	lower := make(map[string]string, len(params))
	raw := make(types.JSONMap, len(params))
	for key, value := range params {
		raw[key] = value
		str := stringify(value)
		if str == "" {
			continue
		}
		lower[strings.ToLower(strings.TrimSpace(key))] = str
	}
	return Notification{
		TrackID:    firstOf(lower, trackIDKeys),
		PaymentID:  firstOf(lower, paymentIDKeys),
		ResultCode: firstOf(lower, resultCodeKeys),
		Raw:        raw,
	}
}

func firstOf(values map[string]string, keys []string) string {
	for _, key := range keys {
		if v, ok := values[key]; ok {
			return v
		}
	}
	return ""
}

func stringify(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(v)
	case float64:
		return strings.TrimSpace(fmt.Sprintf("%.0f", v))
	case bool, int, int64:
		return fmt.Sprint(v)
	default:
		return ""
	}
}
