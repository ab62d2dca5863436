package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scrape(t *testing.T, c *Collector) string {
	t.Helper()
	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	return rec.Body.String()
}

func TestCountersAccumulate(t *testing.T) {
	c := New()
	c.ObserveTransaction("SALE", "COMMITTED")
	c.ObserveTransaction("SALE", "COMMITTED")
	c.ObserveTransaction("SALE", "REJECTED")
	c.AllocationFailed()
	c.ObservePurchasePayment("PARTIAL")

	body := scrape(t, c)
	assert.Contains(t, body, `lpg_transactions_total{kind="SALE",status="COMMITTED"} 2`)
	assert.Contains(t, body, `lpg_transactions_total{kind="SALE",status="REJECTED"} 1`)
	assert.Contains(t, body, "lpg_sequence_allocation_failures_total 1")
	assert.Contains(t, body, `lpg_purchase_payments_total{status="PARTIAL"} 1`)
}

func TestNilCollectorIsNoop(t *testing.T) {
	var c *Collector
	c.ObserveTransaction("SALE", "COMMITTED")
	c.AllocationFailed()
	c.ObserveCommit(time.Millisecond)
	c.ObservePurchasePayment("PAID")
	assert.Nil(t, c.Registry())

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
