package handlers

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/kacperjurak/goimpfit/internal/utils"
	"github.com/kacperjurak/goimpfit/pkg/config"
	"github.com/kacperjurak/goimpfit/pkg/models"
	"github.com/kacperjurak/goimpfit/pkg/worker"
)

// BatchHandler handles batch EIS data processing requests
type BatchHandler struct {
	config     *config.Config
	workerPool *worker.Pool
	deps       Deps
	timingFile string
	done       func(batchID string, timings []models.SpectrumTiming)
}

// BatchOption customizes a BatchHandler.
type BatchOption func(*BatchHandler)

// WithTimingFile appends per-batch timing rows to path. An empty path
// disables the timing log.
func WithTimingFile(path string) BatchOption {
	return func(h *BatchHandler) { h.timingFile = path }
}

// WithBatchDone registers a callback run after every batch completes.
func WithBatchDone(fn func(batchID string, timings []models.SpectrumTiming)) BatchOption {
	return func(h *BatchHandler) { h.done = fn }
}

// NewBatchHandler creates a new batch handler
func NewBatchHandler(cfg *config.Config, pool *worker.Pool, deps Deps, opts ...BatchOption) *BatchHandler {
	h := &BatchHandler{
		config:     cfg,
		workerPool: pool,
		deps:       deps,
		timingFile: "concurrent_timing_results.csv",
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// ServeHTTP implements the http.Handler interface
func (h *BatchHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !preflight(w, r) {
		return
	}

	var batch models.ImpedanceBatch
	if err := json.NewDecoder(r.Body).Decode(&batch); err != nil {
		writeError(w, "Invalid JSON format", http.StatusBadRequest)
		return
	}

	if len(batch.Spectra) == 0 {
		writeError(w, "No spectra provided in batch", http.StatusBadRequest)
		return
	}
	if batch.BatchID == "" {
		batch.BatchID = utils.GenerateID()
	}

	h.deps.logger().Info("batch processing started", "batch_id", batch.BatchID, "spectra", len(batch.Spectra))

	go h.processBatchAsync(batch)

	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"success":  true,
		"batch_id": batch.BatchID,
		"spectra":  len(batch.Spectra),
		"message":  "Batch processing started with worker pool",
	})
}

// processBatchAsync handles asynchronous batch processing
func (h *BatchHandler) processBatchAsync(batch models.ImpedanceBatch) {
	batchStartTime := time.Now()
	spectrumTimings := make([]models.SpectrumTiming, len(batch.Spectra))

	// buffered to the batch size so workers never wait on the collector
	replies := make(chan models.WorkResult, len(batch.Spectra))
	for i, item := range batch.Spectra {
		job := h.createWorkItem(i, item, batch.BatchID)
		job.Reply = replies
		h.workerPool.SubmitJob(job)
	}

	for range batch.Spectra {
		result := <-replies
		h.processResult(result, spectrumTimings)
	}

	totalBatchTime := time.Since(batchStartTime)

	if h.timingFile != "" {
		if err := h.saveTimingResults(batch.BatchID, totalBatchTime, spectrumTimings, h.workerPool.Workers()); err != nil {
			h.deps.logger().Error("cannot save timing results", "file", h.timingFile, "error", err)
		}
	}
	if h.done != nil {
		h.done(batch.BatchID, spectrumTimings)
	}

	h.deps.logger().Info("batch processing completed", "batch_id", batch.BatchID, "elapsed", totalBatchTime)
}

// createWorkItem converts a batch item to a work item. The slot index
// keeps result order independent of the client's iteration numbers.
func (h *BatchHandler) createWorkItem(slot int, item models.BatchItem, batchID string) models.WorkItem {
	return models.WorkItem{
		ID:        slot,
		RequestID: utils.IterationID(batchID, item.Iteration),
		BatchID:   batchID,
		Iteration: item.Iteration,
		Freqs:     item.ImpedanceData.Frequencies,
		ImpData:   item.ImpedanceData.Pairs(),
		Config:    h.config,
		StartTime: time.Now(),
	}
}

// processResult records the timing and queues the webhook of one spectrum
func (h *BatchHandler) processResult(result models.WorkResult, spectrumTimings []models.SpectrumTiming) {
	chiSquare := 0.0
	if result.Report != nil && result.Report.Fit != nil {
		chiSquare = result.Report.Fit.Objective
	}
	spectrumTimings[result.ID] = models.SpectrumTiming{
		Iteration:      result.Iteration,
		ProcessingTime: result.ProcessingTime,
		ChiSquare:      chiSquare,
		Success:        result.Success,
		CircuitCode:    result.CircuitCode,
	}

	id := fmt.Sprintf("%s_iter_%03d", result.BatchID, result.Iteration)
	h.workerPool.QueueWebhook(h.deps.webhookItem(id, result))

	if !h.config.Quiet {
		h.deps.logger().Info("processed spectrum", "batch_id", result.BatchID, "iteration", result.Iteration, "success", result.Success)
	}
}

// saveTimingResults appends batch timing data to a CSV file
func (h *BatchHandler) saveTimingResults(batchID string, totalTime time.Duration, spectrumTimings []models.SpectrumTiming, concurrency int) error {
	filename := h.timingFile

	var writeHeader bool
	if _, err := os.Stat(filename); os.IsNotExist(err) {
		writeHeader = true
	}

	file, err := os.OpenFile(filename, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("open timing file: %w", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)

	if writeHeader {
		if err := writer.Write(timingHeader); err != nil {
			return fmt.Errorf("write timing header: %w", err)
		}
	}

	if err := writer.Write(timingRecord(time.Now(), batchID, totalTime, spectrumTimings, concurrency)); err != nil {
		return fmt.Errorf("write timing record: %w", err)
	}
	writer.Flush()
	return writer.Error()
}

var timingHeader = []string{
	"Timestamp",
	"BatchID",
	"TotalSpectra",
	"Concurrency",
	"TotalBatchTime_ms",
	"AvgSpectrumTime_ms",
	"MinSpectrumTime_ms",
	"MaxSpectrumTime_ms",
	"SuccessRate",
	"AvgChiSquare",
	"SpectraPerSecond",
	"EfficiencyScore",
	"CircuitCode",
}

func timingRecord(now time.Time, batchID string, totalTime time.Duration, spectrumTimings []models.SpectrumTiming, concurrency int) []string {
	var totalSpectrumTime time.Duration
	var minTime, maxTime time.Duration = time.Hour, 0
	var successful int
	var totalChiSq float64

	for _, timing := range spectrumTimings {
		totalSpectrumTime += timing.ProcessingTime
		if timing.ProcessingTime < minTime {
			minTime = timing.ProcessingTime
		}
		if timing.ProcessingTime > maxTime {
			maxTime = timing.ProcessingTime
		}
		if timing.Success {
			successful++
			totalChiSq += timing.ChiSquare
		}
	}

	numSpectra := len(spectrumTimings)
	avgSpectrumTime := totalSpectrumTime / time.Duration(numSpectra)
	successRate := float64(successful) / float64(numSpectra) * 100
	avgChiSq := 0.0
	if successful > 0 {
		avgChiSq = totalChiSq / float64(successful)
	}

	spectraPerSecond := float64(numSpectra) / totalTime.Seconds()

	// 1.0 is linear speedup over the workers
	theoreticalTime := avgSpectrumTime * time.Duration(numSpectra)
	efficiencyScore := theoreticalTime.Seconds() / totalTime.Seconds() / float64(concurrency)

	circuitCode := "Unknown"
	for _, timing := range spectrumTimings {
		if timing.CircuitCode != "" {
			circuitCode = timing.CircuitCode
			break
		}
	}

	ms := func(d time.Duration) string { return fmt.Sprintf("%.2f", float64(d.Nanoseconds())/1000000.0) }
	return []string{
		now.Format(time.RFC3339),
		batchID,
		fmt.Sprintf("%d", numSpectra),
		fmt.Sprintf("%d", concurrency),
		ms(totalTime),
		ms(avgSpectrumTime),
		ms(minTime),
		ms(maxTime),
		fmt.Sprintf("%.1f", successRate),
		fmt.Sprintf("%.6e", avgChiSq),
		fmt.Sprintf("%.2f", spectraPerSecond),
		fmt.Sprintf("%.3f", efficiencyScore),
		circuitCode,
	}
}
