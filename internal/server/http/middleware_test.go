package httpserver

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unlock/orchestration-service/internal/observability"
)

func TestTenantContextMiddleware(t *testing.T) {
	var captured string
	r := chi.NewRouter()
	r.Route("/api/v1/tenants/{tenantID}", func(r chi.Router) {
		r.Use(tenantContextMiddleware)
		r.Get("/test", func(w http.ResponseWriter, r *http.Request) {
			captured = observability.TenantFromContext(r.Context())
			w.WriteHeader(http.StatusOK)
		})
	})

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/tenants/acme/test", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "acme", captured)

	rr = httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/tenants/"+strings.Repeat("t", maxTenantIDLength+1)+"/test", nil))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestCorrelationIDMiddleware(t *testing.T) {
	var correlationID, requestID string
	handler := middleware.RequestID(correlationIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		correlationID = observability.CorrelationIDFromContext(r.Context())
		requestID = observability.RequestIDFromContext(r.Context())
	})))

	t.Run("propagates the caller's id", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("X-Correlation-ID", "corr-123")
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)

		assert.Equal(t, "corr-123", correlationID)
		assert.Equal(t, "corr-123", rr.Header().Get("X-Correlation-ID"))
		assert.NotEmpty(t, requestID)
	})

	t.Run("falls back to the request id", func(t *testing.T) {
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))

		assert.NotEmpty(t, correlationID)
		assert.Equal(t, requestID, correlationID)
		assert.Equal(t, correlationID, rr.Header().Get("X-Correlation-ID"))
	})
}

func TestTenantLimiter(t *testing.T) {
	now := time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)
	l := newTenantLimiter(1, 2)
	l.now = func() time.Time { return now }

	assert.True(t, l.allow("a"))
	assert.True(t, l.allow("a"))
	assert.False(t, l.allow("a"), "burst exhausted")
	assert.True(t, l.allow("b"), "tenants have separate buckets")

	now = now.Add(time.Second)
	assert.True(t, l.allow("a"), "one token refilled")

	now = now.Add(2 * visitorTTL)
	l.allow("b")
	l.mu.Lock()
	_, kept := l.visitors["a"]
	l.mu.Unlock()
	assert.False(t, kept, "idle tenants are swept")
}

func TestRateLimitedRoutes(t *testing.T) {
	srv := NewServer(Config{RequestsPerSecond: 1, Burst: 1}, testDeps(), zerolog.Nop())

	rr := do(t, srv, http.MethodDelete, tenantPath("/workflows/wf-1"), "")
	require.Equal(t, http.StatusAccepted, rr.Code)

	rr = do(t, srv, http.MethodDelete, tenantPath("/workflows/wf-1"), "")
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.Equal(t, "1", rr.Header().Get("Retry-After"))

	rr = do(t, srv, http.MethodDelete, "/api/v1/tenants/other/workflows/wf-1", "")
	assert.Equal(t, http.StatusAccepted, rr.Code)

	rr = do(t, srv, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rr.Code, "health checks are not limited")
}
