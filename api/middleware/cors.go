package middleware

import (
	"net/http"
	"strings"

	"github.com/go-chi/cors"
)

var localOrigins = []string{
	"http://localhost:3000",
	"http://localhost:5173",
}

// StorefrontOrigins turns shop domains into https origins.
func StorefrontOrigins(domains []string, includeLocal bool) []string {
	origins := make([]string, 0, len(domains)+len(localOrigins))
	seen := map[string]struct{}{}
	for _, domain := range domains {
		domain = strings.TrimSpace(strings.ToLower(domain))
		if domain == "" {
			continue
		}
		origin := domain
		if !strings.Contains(domain, "://") {
			origin = "https://" + domain
		}
		if _, ok := seen[origin]; ok {
			continue
		}
		seen[origin] = struct{}{}
		origins = append(origins, origin)
	}
	if includeLocal {
		origins = append(origins, localOrigins...)
	}
	return origins
}

// CORS returns middleware that lets the storefronts call the public API.
func CORS(origins []string) func(http.Handler) http.Handler {
	return cors.New(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key", "X-Request-Id", "X-Requested-With"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: false,
		MaxAge:           300,
	}).Handler
}
