package metrics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nurpe/sealed-bids/internal/model"
)

func TestCounters(t *testing.T) {
	m := New()
	m.Sealed()
	m.Sealed()
	m.Opened(0.01)
	m.Rejected("already_opened")
	m.Transition(model.SessionStatusCompleted)
	m.Notify(context.Background(), model.Incident{}, model.AuditEvent{})

	assert.Equal(t, 2.0, testutil.ToFloat64(m.BidsSealed))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.BidsOpened))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.OpenRejections.WithLabelValues("already_opened")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SessionTransitions.WithLabelValues("COMPLETED")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SealBreaches))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.Sealed()
		m.Opened(1)
		m.Rejected("x")
		m.Transition(model.SessionStatusPending)
		m.Notify(context.Background(), model.Incident{}, model.AuditEvent{})
		m.ObserveHTTP("200", "GET", 0.1)
	})
}

func TestHandlerExposesCollectors(t *testing.T) {
	m := New()
	m.Sealed()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "sealed_bids_sealed_total 1")
}
