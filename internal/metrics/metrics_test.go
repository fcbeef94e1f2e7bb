package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics_IndependentRegistries(t *testing.T) {
	a := New()
	b := New()

	a.JobsProcessedTotal.WithLabelValues("etagi/buy", "item", OutcomeCompleted).Inc()

	assert.Equal(t, float64(1), testutil.ToFloat64(a.JobsProcessedTotal.WithLabelValues("etagi/buy", "item", OutcomeCompleted)))
	assert.Equal(t, float64(0), testutil.ToFloat64(b.JobsProcessedTotal.WithLabelValues("etagi/buy", "item", OutcomeCompleted)))
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.ListingsEvicted.WithLabelValues("krisha/buy", "store").Add(4)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `harvester_listings_evicted_total{backend="store",target="krisha/buy"} 4`)
}
