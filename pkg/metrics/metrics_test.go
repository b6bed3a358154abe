package metrics

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserveFit(t *testing.T) {
	m := New()
	m.ObserveFit("lm", true, 20*time.Millisecond, 12, 0.01, nil)
	m.ObserveFit("lm", false, time.Millisecond, 0, 0, errors.New("boom"))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.fitsTotal.WithLabelValues("lm", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.fitsTotal.WithLabelValues("lm", "error")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.fitTrials))
}

func TestObserveKKAndCache(t *testing.T) {
	m := New()
	m.ObserveKK(5, true)
	m.ObserveKK(100, false)
	m.CacheLookup(true)
	m.CacheLookup(false)
	m.CacheLookup(false)
	m.WebhookSent(nil)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.kkTotal.WithLabelValues("true")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.kkTotal.WithLabelValues("false")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.cacheLookups.WithLabelValues("miss")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.webhooksTotal.WithLabelValues("ok")))
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	m.ObserveFit("lm", false, time.Second, 0, 1, nil)
	m.ObserveKK(1, true)
	m.CacheLookup(true)
	m.WebhookSent(nil)

	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusTeapot) })
	rec := httptest.NewRecorder()
	m.Middleware("x", h).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusTeapot, rec.Code)
}

func TestMiddlewareAndHandler(t *testing.T) {
	m := New()
	h := m.Middleware("fit", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/fit", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.httpRequests.WithLabelValues("fit", "400")))

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()
	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), "goimpfit_http_requests_total"))
}
