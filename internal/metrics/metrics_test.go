package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounters(t *testing.T) {
	before := testutil.ToFloat64(MaskedTotal.WithLabelValues("email"))
	MaskedTotal.WithLabelValues("email").Add(2)
	assert.Equal(t, before+2, testutil.ToFloat64(MaskedTotal.WithLabelValues("email")))

	before = testutil.ToFloat64(StoreErrorsTotal.WithLabelValues("store"))
	StoreErrorsTotal.WithLabelValues("store").Inc()
	assert.Equal(t, before+1, testutil.ToFloat64(StoreErrorsTotal.WithLabelValues("store")))
}

func TestObserveSince(t *testing.T) {
	ObserveSince("sanitize", time.Now().Add(-10*time.Millisecond))
	assert.GreaterOrEqual(t, testutil.CollectAndCount(OperationDuration), 1)
}

func TestHandler(t *testing.T) {
	RestoredTotal.Inc()
	HTTPRequestsTotal.WithLabelValues("/health", "200").Inc()

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, "pii_sentinel_restored_total"))
	assert.True(t, strings.Contains(body, `pii_sentinel_http_requests_total{route="/health",status="200"}`))
	assert.True(t, strings.Contains(body, "go_goroutines"))
}
