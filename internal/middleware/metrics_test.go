package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetricsMiddleware_CountsRequests(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetricsWithRegistry(reg, "edge-gateway")

	router := gin.New()
	router.Use(metrics.Middleware())
	router.GET("/api/users", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/users", nil))

	count := testutil.ToFloat64(metrics.RequestsTotal.WithLabelValues("GET", "/api/users", "200"))
	assert.Equal(t, float64(1), count)
}

func TestMetricsMiddleware_CountsRateLimited(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetricsWithRegistry(reg, "edge-gateway")

	router := gin.New()
	router.Use(metrics.Middleware())
	router.GET("/api/users", func(c *gin.Context) {
		c.Set(TenantIDKey, "tid-1")
		c.Status(http.StatusTooManyRequests)
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/users", nil))

	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.RateLimited.WithLabelValues("tid-1")))
}

func TestMetricsMiddleware_CountsAuthFailures(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetricsWithRegistry(reg, "edge-gateway")

	router := gin.New()
	router.Use(metrics.Middleware())
	router.GET("/api/users", func(c *gin.Context) {
		c.Status(http.StatusUnauthorized)
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/users", nil))

	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.AuthFailures.WithLabelValues("/api/users")))
}
