package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kacperjurak/goimpfit"
	"github.com/kacperjurak/goimpfit/internal/processing"
	"github.com/kacperjurak/goimpfit/pkg/config"
	"github.com/kacperjurak/goimpfit/pkg/models"
	"github.com/kacperjurak/goimpfit/pkg/webhook"
	"github.com/kacperjurak/goimpfit/pkg/worker"
)

type harness struct {
	cfg  *config.Config
	pool *worker.Pool
	deps Deps

	mu   sync.Mutex
	sent []models.WebhookItem
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Quiet = true
	cfg.MaxM = 20
	cfg.InitialGuess = config.ArrayFlags{5, 20, 1e-5, 0.8}

	h := &harness{cfg: cfg}
	proc := processing.NewEISProcessor(nil, nil)
	h.pool = worker.New(worker.Options{
		Workers:   2,
		Processor: proc.ProcessorFunc(),
		Sender: func(ctx context.Context, item models.WebhookItem) error {
			h.mu.Lock()
			h.sent = append(h.sent, item)
			h.mu.Unlock()
			return nil
		},
	})
	t.Cleanup(h.pool.Shutdown)
	h.deps = Deps{Circuits: proc, Calculator: webhook.NewCalculator(nil)}
	return h
}

func (h *harness) webhooks() []models.WebhookItem {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]models.WebhookItem(nil), h.sent...)
}

func spectrumData(t *testing.T) models.ImpedanceData {
	t.Helper()
	c := goimpfit.MustParseCircuit("R_1-p(R_2,CPE_1)")
	s, err := goimpfit.Synthesize(c, []float64{10, 50, 1e-4, 0.85}, goimpfit.LogFrequencies(0.1, 1e5, 30), 0.001, rand.New(rand.NewSource(5)))
	require.NoError(t, err)
	data := models.ImpedanceData{Frequencies: s.Frequencies()}
	for _, p := range s.Pairs() {
		data.Impedance = append(data.Impedance, map[string]float64{"real": p[0], "imag": p[1]})
	}
	return data
}

func post(t *testing.T, h http.Handler, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, json.NewEncoder(&buf).Encode(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", &buf))
	return rec
}

func TestFitHandler(t *testing.T) {
	hs := newHarness(t)
	h := NewFitHandler(hs.cfg, hs.pool, hs.deps)

	rec := post(t, h, models.FitRequest{ImpedanceData: spectrumData(t)})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var report models.Report
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.NotEmpty(t, report.RequestID)
	assert.Equal(t, "R_1-p(R_2,CPE_1)", report.Circuit)
	require.Len(t, report.Fit.Params, 4)
	assert.InEpsilon(t, 50.0, report.Fit.Params[1], 0.05)
	require.NotNil(t, report.KK)
	assert.True(t, report.KK.Validated)
}

func TestFitHandlerOverrides(t *testing.T) {
	hs := newHarness(t)
	h := NewFitHandler(hs.cfg, hs.pool, hs.deps)

	skip := true
	rec := post(t, h, models.FitRequest{
		ImpedanceData: spectrumData(t),
		Boukamp:       "R(QR)",
		InitialGuess:  []float64{5, 1e-5, 0.8, 20},
		SkipKK:        &skip,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var report models.Report
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Equal(t, "R_1-p(CPE_1,R_2)", report.Circuit)
	assert.Nil(t, report.KK)
	// the server configuration is untouched
	assert.Equal(t, "R_1-p(R_2,CPE_1)", hs.cfg.Circuit)
	assert.False(t, hs.cfg.SkipKK)
}

func TestFitHandlerErrors(t *testing.T) {
	hs := newHarness(t)
	h := NewFitHandler(hs.cfg, hs.pool, hs.deps)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", bytes.NewBufferString("{")))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = post(t, h, models.FitRequest{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = post(t, h, models.FitRequest{ImpedanceData: spectrumData(t), Circuit: "R_1-Q_1"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = post(t, h, models.FitRequest{ImpedanceData: spectrumData(t), InitialGuess: []float64{1}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	data := spectrumData(t)
	data.Frequencies = data.Frequencies[:5]
	rec = post(t, h, models.FitRequest{ImpedanceData: data})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestEISHandler(t *testing.T) {
	hs := newHarness(t)
	h := NewEISHandler(hs.cfg, hs.pool, hs.deps)

	rec := post(t, h, spectrumData(t))
	require.Equal(t, http.StatusAccepted, rec.Code)
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	id, _ := resp["request_id"].(string)
	require.NotEmpty(t, id)

	require.Eventually(t, func() bool { return len(hs.webhooks()) == 1 }, 10*time.Second, 10*time.Millisecond)
	item := hs.webhooks()[0]
	assert.Equal(t, id, item.RequestID)
	assert.Equal(t, "R_1-p(R_2,CPE_1)", item.CircuitCode)
	assert.Len(t, item.Params, 4)
	assert.Len(t, item.ElementImpedances, 3)
	require.NotNil(t, item.KK)

	rec = post(t, h, models.ImpedanceData{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestBatchHandler(t *testing.T) {
	hs := newHarness(t)
	timing := filepath.Join(t.TempDir(), "timing.csv")
	done := make(chan []models.SpectrumTiming, 1)
	h := NewBatchHandler(hs.cfg, hs.pool, hs.deps,
		WithTimingFile(timing),
		WithBatchDone(func(batchID string, timings []models.SpectrumTiming) { done <- timings }))

	data := spectrumData(t)
	batch := models.ImpedanceBatch{
		BatchID: "b1",
		Spectra: []models.BatchItem{
			{ImpedanceData: data, Iteration: 7},
			{ImpedanceData: data, Iteration: 3},
			{ImpedanceData: models.ImpedanceData{Frequencies: []float64{1}}, Iteration: 9},
		},
	}
	rec := post(t, h, batch)
	require.Equal(t, http.StatusAccepted, rec.Code)

	var timings []models.SpectrumTiming
	select {
	case timings = <-done:
	case <-time.After(20 * time.Second):
		t.Fatal("batch did not finish")
	}
	require.Len(t, timings, 3)
	assert.Equal(t, 7, timings[0].Iteration)
	assert.True(t, timings[0].Success)
	assert.True(t, timings[1].Success)
	assert.False(t, timings[2].Success)

	require.Eventually(t, func() bool { return len(hs.webhooks()) == 3 }, 5*time.Second, 10*time.Millisecond)

	content, err := os.ReadFile(timing)
	require.NoError(t, err)
	assert.Contains(t, string(content), "BatchID")
	assert.Contains(t, string(content), "b1")

	rec = post(t, h, models.ImpedanceBatch{BatchID: "empty"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, statusFor(processing.ErrInvalidInput))
	assert.Equal(t, http.StatusBadRequest, statusFor(&goimpfit.CircuitParseError{}))
	assert.Equal(t, http.StatusUnprocessableEntity, statusFor(&goimpfit.ConvergenceError{}))
	assert.Equal(t, http.StatusGatewayTimeout, statusFor(context.DeadlineExceeded))
	assert.Equal(t, http.StatusInternalServerError, statusFor(errors.New("x")))
}

func TestTimingRecord(t *testing.T) {
	now := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	rec := timingRecord(now, "b", 100*time.Millisecond, []models.SpectrumTiming{
		{ProcessingTime: 40 * time.Millisecond, Success: true, ChiSquare: 2, CircuitCode: "R_1"},
		{ProcessingTime: 60 * time.Millisecond, Success: false},
	}, 2)
	require.Len(t, rec, len(timingHeader))
	assert.Equal(t, "2", rec[2])
	assert.Equal(t, "100.00", rec[4])
	assert.Equal(t, "50.00", rec[5])
	assert.Equal(t, "50.0", rec[8])
	assert.Equal(t, "2.000000e+00", rec[9])
	assert.Equal(t, "0.500", rec[11])
	assert.Equal(t, "R_1", rec[12])
}
