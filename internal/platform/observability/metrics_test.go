package observability

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestHTTPMetricsMiddlewareUsesRoutePattern(t *testing.T) {
	metrics := NewHTTPMetrics("tillpoint")

	router := chi.NewRouter()
	router.Use(metrics.Middleware())
	router.Get("/orders/{orderID}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	for _, id := range []string{"a", "b"} {
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/orders/"+id, nil))
	}

	got := testutil.ToFloat64(metrics.requests.WithLabelValues(http.MethodGet, "/orders/{orderID}", "404"))
	if got != 2 {
		t.Fatalf("expected 2 requests on the route pattern, got %v", got)
	}
}

func TestHTTPMetricsHandlerExposesCollectors(t *testing.T) {
	metrics := NewHTTPMetrics("tillpoint")
	metrics.requests.WithLabelValues(http.MethodPost, "/api/v1/orders", "201").Inc()

	rr := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "tillpoint_http_requests_total") {
		t.Fatalf("expected request counter in scrape output")
	}
}
