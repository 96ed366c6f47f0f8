package redis

import "strings"

const defaultKeyPrefix = "oil"

// Keyspace builds colon-separated keys under a shared prefix so several
// environments can share one Redis database.
type Keyspace struct {
	prefix string
}

func NewKeyspace(prefix string) Keyspace {
	prefix = strings.Trim(strings.TrimSpace(prefix), ":")
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	return Keyspace{prefix: prefix}
}

func (k Keyspace) RateLimitKey(scope string) string {
	return k.key("rl", scope)
}

func (k Keyspace) IdempotencyKey(scope, id string) string {
	return k.key("idempotency", scope, id)
}

// WebhookDeliveryKey marks one provider notification as seen.
func (k Keyspace) WebhookDeliveryKey(provider, fingerprint string) string {
	return k.key("webhook", provider, fingerprint)
}

// AdminSessionKey holds a live operator token id.
func (k Keyspace) AdminSessionKey(tokenID string) string {
	return k.key("admin_session", tokenID)
}

// ConsumerEventKey records an event a Pub/Sub consumer has processed.
func (k Keyspace) ConsumerEventKey(consumer, eventID string) string {
	return k.key("consumer", consumer, eventID)
}

// CronLockKey guards one cron worker cycle.
func (k Keyspace) CronLockKey(worker string) string {
	return k.key("cron", worker, "lock")
}

func (k Keyspace) key(parts ...string) string {
	prefix := k.prefix
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	var b strings.Builder
	b.WriteString(prefix)
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		b.WriteByte(':')
		b.WriteString(part)
	}
	return b.String()
}
