package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/heatflow/oilshop-backend/pkg/config"
	"github.com/heatflow/oilshop-backend/pkg/enums"
)

func testConfig() config.JWTConfig {
	return config.JWTConfig{Secret: "secret", Issuer: "oilshop", ExpirationMinutes: 30}
}

func TestMintAndParseOperatorToken(t *testing.T) {
	cfg := testConfig()
	now := time.Now().UTC()

	token, minted, err := MintOperatorToken(cfg, now, OperatorPayload{
		Subject: "ops@heizoel.de",
		Role:    enums.OperatorRoleAdmin,
		Shops:   []string{"heizoel-de"},
	})
	require.NoError(t, err)
	require.NotEmpty(t, minted.ID)

	claims, err := ParseOperatorToken(cfg, token)
	require.NoError(t, err)
	assert.Equal(t, "ops@heizoel.de", claims.Subject)
	assert.Equal(t, enums.OperatorRoleAdmin, claims.Role)
	assert.Equal(t, cfg.Issuer, claims.Issuer)
	assert.Equal(t, minted.ID, claims.ID)
	assert.WithinDuration(t, now.Add(30*time.Minute), claims.ExpiresAt.Time, time.Second)
	assert.True(t, claims.AllowsShop("heizoel-de"))
	assert.False(t, claims.AllowsShop("gasolio-it"))
}

func TestMintRejectsIncompletePayload(t *testing.T) {
	cfg := testConfig()
	_, _, err := MintOperatorToken(cfg, time.Now(), OperatorPayload{Role: enums.OperatorRoleAdmin})
	assert.Error(t, err)
	_, _, err = MintOperatorToken(cfg, time.Now(), OperatorPayload{Subject: "ops", Role: "root"})
	assert.Error(t, err)
	cfg.ExpirationMinutes = 0
	_, _, err = MintOperatorToken(cfg, time.Now(), OperatorPayload{Subject: "ops", Role: enums.OperatorRoleViewer})
	assert.Error(t, err)
}

func TestParseRejectsForeignIssuerAndExpiry(t *testing.T) {
	cfg := testConfig()
	other := cfg
	other.Issuer = "someone-else"

	token, _, err := MintOperatorToken(other, time.Now(), OperatorPayload{Subject: "ops", Role: enums.OperatorRoleAdmin})
	require.NoError(t, err)
	_, err = ParseOperatorToken(cfg, token)
	assert.Error(t, err)

	expired, _, err := MintOperatorToken(cfg, time.Now().Add(-time.Hour), OperatorPayload{Subject: "ops", Role: enums.OperatorRoleAdmin})
	require.NoError(t, err)
	_, err = ParseOperatorToken(cfg, expired)
	assert.ErrorIs(t, err, jwt.ErrTokenExpired)
}

func TestParseRejectsWrongSecret(t *testing.T) {
	cfg := testConfig()
	token, _, err := MintOperatorToken(cfg, time.Now(), OperatorPayload{Subject: "ops", Role: enums.OperatorRoleAdmin})
	require.NoError(t, err)

	cfg.Secret = "rotated"
	_, err = ParseOperatorToken(cfg, token)
	assert.Error(t, err)
}

func TestEmptyShopListAllowsEveryShop(t *testing.T) {
	claims := &OperatorClaims{Role: enums.OperatorRoleViewer}
	assert.True(t, claims.AllowsShop("any"))
	var missing *OperatorClaims
	assert.False(t, missing.AllowsShop("any"))
}
