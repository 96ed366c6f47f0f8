package outbox

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EnvelopeVersion is the schema version written by Emit.
const EnvelopeVersion = 1

// Actor kinds carried in ActorRef.Kind.
const (
	ActorKindOperator = "operator"
	ActorKindSystem   = "system"
)

// ActorRef names who caused an event: an operator subject, the checkout flow
// or the payment provider.
type ActorRef struct {
	Subject string `json:"subject"`
	Kind    string `json:"kind,omitempty"`
}

// PayloadEnvelope is the JSON document stored in outbox_events.payload and
// sent verbatim as the message body. EventID equals the outbox row id.
type PayloadEnvelope struct {
	Version    int             `json:"version"`
	EventID    string          `json:"eventId"`
	OccurredAt time.Time       `json:"occurredAt"`
	Actor      *ActorRef       `json:"actor,omitempty"`
	Data       json.RawMessage `json:"data"`
}

// DecodeEnvelope parses raw and rejects envelopes a consumer could not act
// on: unknown version, missing event id or empty data.
func DecodeEnvelope(raw []byte) (PayloadEnvelope, error) {
	var env PayloadEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return env, fmt.Errorf("decode envelope: %w", err)
	}
	if env.Version < 1 || env.Version > EnvelopeVersion {
		return env, fmt.Errorf("unsupported envelope version %d", env.Version)
	}
	if _, err := uuid.Parse(env.EventID); err != nil {
		return env, fmt.Errorf("envelope event id %q: %w", env.EventID, err)
	}
	data := bytes.TrimSpace(env.Data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return env, fmt.Errorf("envelope %s has no data", env.EventID)
	}
	return env, nil
}
