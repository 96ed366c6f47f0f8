package auth

import (
	"github.com/golang-jwt/jwt/v5"

	"github.com/heatflow/oilshop-backend/pkg/enums"
)

// OperatorPayload captures the data available when minting an operator token.
type OperatorPayload struct {
	// Subject identifies the operator and becomes the audit actor.
	Subject string
	Role    enums.OperatorRole
	// Shops limits the token to the listed tenants. Empty means all shops.
	Shops []string
	JTI   string
}

// OperatorClaims represents the typed JWT issued to back-office operators.
type OperatorClaims struct {
	Role  enums.OperatorRole `json:"role"`
	Shops []string           `json:"shops,omitempty"`
	jwt.RegisteredClaims
}

// AllowsShop reports whether the token may act on shopID.
func (c *OperatorClaims) AllowsShop(shopID string) bool {
	if c == nil {
		return false
	}
	if len(c.Shops) == 0 {
		return true
	}
	for _, id := range c.Shops {
		if id == shopID {
			return true
		}
	}
	return false
}
