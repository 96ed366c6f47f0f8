package middleware

import (
	"context"

	"github.com/heatflow/oilshop-backend/pkg/auth"
)

type contextKey string

const (
	ctxActor     contextKey = "actor"
	ctxClaims    contextKey = "operator_claims"
	ctxRequestID contextKey = "request_id"
)

// ActorFromContext returns the operator subject set by AdminAuth.
func ActorFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(ctxActor).(string); ok {
		return v
	}
	return ""
}

// ClaimsFromContext returns the verified operator token, if any.
func ClaimsFromContext(ctx context.Context) *auth.OperatorClaims {
	if ctx == nil {
		return nil
	}
	if v, ok := ctx.Value(ctxClaims).(*auth.OperatorClaims); ok {
		return v
	}
	return nil
}

// WithClaims injects operator claims into the context.
func WithClaims(ctx context.Context, claims *auth.OperatorClaims) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if claims == nil {
		return ctx
	}
	ctx = context.WithValue(ctx, ctxClaims, claims)
	return context.WithValue(ctx, ctxActor, claims.Subject)
}
