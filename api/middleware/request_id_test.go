package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func serveRequestID(headers map[string]string) (string, *httptest.ResponseRecorder) {
	var seen string
	handler := RequestID(nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestIDFromContext(r.Context())
	}))
	req := httptest.NewRequest(http.MethodGet, "/health/live", nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return seen, rec
}

func TestRequestIDKeepsInboundID(t *testing.T) {
	seen, rec := serveRequestID(map[string]string{"X-Request-Id": "lb-7f3a.1"})
	assert.Equal(t, "lb-7f3a.1", seen)
	assert.Equal(t, "lb-7f3a.1", rec.Header().Get("X-Request-Id"))
}

func TestRequestIDFallsBackToCorrelationID(t *testing.T) {
	seen, _ := serveRequestID(map[string]string{"X-Correlation-Id": "shop-frontend:42"})
	assert.Equal(t, "shop-frontend:42", seen)
}

func TestRequestIDReplacesUnusableIDs(t *testing.T) {
	for _, bad := range []string{"", "has space", "line\nbreak", strings.Repeat("a", maxRequestIDLength+1)} {
		seen, rec := serveRequestID(map[string]string{"X-Request-Id": bad})
		_, err := uuid.Parse(seen)
		assert.NoError(t, err, "expected generated id for %q", bad)
		assert.Equal(t, seen, rec.Header().Get("X-Request-Id"))
	}
}
