package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	redislib "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockStore struct {
	mu   sync.Mutex
	data map[string]string
	ttls map[string]time.Duration
	err  error
}

func newMockStore() *mockStore {
	return &mockStore{data: make(map[string]string), ttls: make(map[string]time.Duration)}
}

func (m *mockStore) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = fmt.Sprint(value)
	m.ttls[key] = ttl
	return nil
}

func (m *mockStore) Get(ctx context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return "", m.err
	}
	val, ok := m.data[key]
	if !ok {
		return "", redislib.Nil
	}
	return val, nil
}

func (m *mockStore) Del(ctx context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, key := range keys {
		delete(m.data, key)
	}
	return nil
}

func (m *mockStore) AdminSessionKey(tokenID string) string {
	return fmt.Sprintf("sess:%s", tokenID)
}

func TestRegisterThenRevoke(t *testing.T) {
	store := newMockStore()
	manager := &Manager{store: store, keyer: store, ttl: time.Hour}
	ctx := context.Background()

	require.NoError(t, manager.Register(ctx, "jti-1", "ops@heizoel.de"))
	assert.Equal(t, "ops@heizoel.de", store.data["sess:jti-1"])
	assert.Equal(t, time.Hour, store.ttls["sess:jti-1"])

	ok, err := manager.HasSession(ctx, "jti-1")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, manager.Revoke(ctx, "jti-1"))
	ok, err = manager.HasSession(ctx, "jti-1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestHasSessionSurfacesStoreErrors(t *testing.T) {
	store := newMockStore()
	store.err = errors.New("connection refused")
	manager := &Manager{store: store, keyer: store, ttl: time.Hour}

	_, err := manager.HasSession(context.Background(), "jti-1")
	assert.Error(t, err)
	_, err = manager.HasSession(context.Background(), " ")
	assert.Error(t, err)
	assert.Error(t, manager.Register(context.Background(), "", "ops"))
}
