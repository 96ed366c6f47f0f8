package nexiwebhook

import (
	"context"
	"errors"
	"fmt"
	"time"
)

const provider = "nexi"

type deliveryStore interface {
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	Del(ctx context.Context, keys ...string) error
	WebhookDeliveryKey(provider, fingerprint string) string
}

// DeliveryGuard marks webhook deliveries as seen so provider retries of an
// already processed notification are acknowledged without re-applying.
type DeliveryGuard struct {
	store deliveryStore
	ttl   time.Duration
}

func NewDeliveryGuard(store deliveryStore, ttl time.Duration) (*DeliveryGuard, error) {
	if store == nil {
		return nil, errors.New("delivery store is required")
	}
	if ttl < 0 {
		return nil, errors.New("ttl must be non-negative")
	}
	return &DeliveryGuard{store: store, ttl: ttl}, nil
}

// CheckAndMark returns true when fingerprint was already marked.
func (g *DeliveryGuard) CheckAndMark(ctx context.Context, fingerprint string) (bool, error) {
	if fingerprint == "" {
		return false, errors.New("fingerprint is required")
	}
	set, err := g.store.SetNX(ctx, g.store.WebhookDeliveryKey(provider, fingerprint), "1", g.ttl)
	if err != nil {
		return false, fmt.Errorf("mark webhook delivery: %w", err)
	}
	return !set, nil
}

// Release forgets fingerprint so a failed delivery can be retried.
func (g *DeliveryGuard) Release(ctx context.Context, fingerprint string) error {
	if fingerprint == "" {
		return errors.New("fingerprint is required")
	}
	return g.store.Del(ctx, g.store.WebhookDeliveryKey(provider, fingerprint))
}
