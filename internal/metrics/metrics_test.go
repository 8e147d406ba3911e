package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveOperation("purchase", OutcomeOK, time.Millisecond)
		m.AddAmount(FlowPurchased, 10)
		m.IncrementPublished("service", true)
		m.SetRelayBacklog(3)
		m.ObserveArchiveRun(5, nil)
		m.ObserveHTTP(http.MethodGet, http.StatusOK, time.Millisecond)
		m.SetWSClients(1)
	})

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRecorders(t *testing.T) {
	m := New()

	m.ObserveOperation("purchase", OutcomeOK, 2*time.Millisecond)
	m.ObserveOperation("purchase", OutcomeRejected, time.Millisecond)
	m.ObserveOperation("purchase", OutcomeOK, time.Millisecond)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Operations.WithLabelValues("purchase", OutcomeOK)))

	m.AddAmount(FlowDeposited, 1_000)
	m.AddAmount(FlowDeposited, 0)
	assert.Equal(t, 1_000.0, testutil.ToFloat64(m.Amounts.WithLabelValues(FlowDeposited)))

	m.IncrementPublished("relay", false)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EventsPublished.WithLabelValues("relay", OutcomeError)))

	m.ObserveArchiveRun(7, nil)
	m.ObserveArchiveRun(0, errors.New("bucket gone"))
	assert.Equal(t, 7.0, testutil.ToFloat64(m.EventsArchived))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ArchiveRuns.WithLabelValues(OutcomeError)))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "bondvault_operations_total")
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}
