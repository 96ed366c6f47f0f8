package enums

// OutboxDLQErrorReason records why the publisher parked an event.
type OutboxDLQErrorReason string

const (
	// OutboxDLQReasonMaxAttempts: the sink kept failing until attempts ran out.
	OutboxDLQReasonMaxAttempts OutboxDLQErrorReason = "max_attempts"
	// OutboxDLQReasonUndecodable: the stored row does not match its event schema.
	OutboxDLQReasonUndecodable OutboxDLQErrorReason = "undecodable"
	// OutboxDLQReasonRejected: the sink refused the message outright.
	OutboxDLQReasonRejected OutboxDLQErrorReason = "rejected"
)

func (r OutboxDLQErrorReason) IsValid() bool {
	switch r {
	case OutboxDLQReasonMaxAttempts, OutboxDLQReasonUndecodable, OutboxDLQReasonRejected:
		return true
	}
	return false
}
