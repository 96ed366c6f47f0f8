package middleware

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/heatflow/oilshop-backend/api/responses"
	pkgerrors "github.com/heatflow/oilshop-backend/pkg/errors"
	"github.com/heatflow/oilshop-backend/pkg/logger"
)

type rateLimiterStore interface {
	IncrWithTTL(context.Context, string, time.Duration) (int64, error)
	RateLimitKey(scope string) string
}

// rateRule counts requests per value of one dimension. subject returns "" when
// the request carries no value for it, in which case the rule is skipped.
type rateRule struct {
	dimension string
	limit     int64
	needsBody bool
	subject   func(r *http.Request, body []byte) string
}

// RateLimitPolicy is a fixed window shared by a set of per-dimension limits.
type RateLimitPolicy struct {
	name   string
	window time.Duration
	rules  []rateRule
}

// NewRateLimitPolicy limits requests per client IP and per customer email
// within window. A zero limit disables that dimension.
func NewRateLimitPolicy(name string, window time.Duration, ipLimit, emailLimit int) RateLimitPolicy {
	p := RateLimitPolicy{name: strings.ToLower(strings.TrimSpace(name)), window: window}
	if p.name == "" {
		p.name = "public"
	}
	if ipLimit > 0 {
		p.rules = append(p.rules, rateRule{
			dimension: "ip",
			limit:     int64(ipLimit),
			subject:   func(r *http.Request, _ []byte) string { return clientIP(r) },
		})
	}
	if emailLimit > 0 {
		p.rules = append(p.rules, rateRule{
			dimension: "email",
			limit:     int64(emailLimit),
			needsBody: true,
			subject:   func(_ *http.Request, body []byte) string { return emailDigest(body) },
		})
	}
	return p
}

func (p RateLimitPolicy) needsBody() bool {
	for _, rule := range p.rules {
		if rule.needsBody {
			return true
		}
	}
	return false
}

// RateLimit applies policy to public storefront endpoints. Rejections carry
// Retry-After with the window length.
func RateLimit(policy RateLimitPolicy, store rateLimiterStore, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if policy.window <= 0 || len(policy.rules) == 0 || store == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			var body []byte
			if policy.needsBody() && r.Body != nil {
				var err error
				if body, err = io.ReadAll(r.Body); err != nil {
					responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "request body could not be read"))
					return
				}
				r.Body = io.NopCloser(bytes.NewReader(body))
			}

			for _, rule := range policy.rules {
				subject := rule.subject(r, body)
				if subject == "" {
					continue
				}
				scope := policy.name + ":" + rule.dimension + ":" + subject
				count, err := store.IncrWithTTL(ctx, store.RateLimitKey(scope), policy.window)
				if err != nil {
					responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "rate limiter unavailable"))
					return
				}
				if count > rule.limit {
					if logg != nil {
						logg.Warn(logg.WithFields(ctx, map[string]any{
							"policy":    policy.name,
							"dimension": rule.dimension,
							"subject":   subject,
							"attempts":  count,
							"limit":     rule.limit,
						}), "rate limit exceeded")
					}
					w.Header().Set("Retry-After", strconv.Itoa(int(policy.window.Round(time.Second)/time.Second)))
					responses.WriteError(ctx, nil, w, pkgerrors.New(pkgerrors.CodeRateLimit, "too many requests, try again later"))
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

// clientIP prefers the first X-Forwarded-For hop, then X-Real-IP, then the
// socket peer.
func clientIP(r *http.Request) string {
	if r == nil {
		return ""
	}
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		for _, hop := range strings.Split(fwd, ",") {
			if hop = strings.TrimSpace(hop); hop != "" {
				return hop
			}
		}
	}
	if real := strings.TrimSpace(r.Header.Get("X-Real-IP")); real != "" {
		return real
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil && host != "" {
		return host
	}
	return r.RemoteAddr
}

// emailDigest hashes the normalised customer.email, or top-level email, so
// addresses never reach Redis or the logs in clear text.
func emailDigest(body []byte) string {
	var in struct {
		Email    string `json:"email"`
		Customer struct {
			Email string `json:"email"`
		} `json:"customer"`
	}
	if len(body) == 0 || json.Unmarshal(body, &in) != nil {
		return ""
	}
	email := in.Customer.Email
	if email == "" {
		email = in.Email
	}
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(email))
	return hex.EncodeToString(sum[:])
}
