package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/kacperjurak/goimpfit/internal/utils"
	"github.com/kacperjurak/goimpfit/pkg/config"
	"github.com/kacperjurak/goimpfit/pkg/models"
	"github.com/kacperjurak/goimpfit/pkg/worker"
)

// EISHandler handles single EIS data processing requests
type EISHandler struct {
	config     *config.Config
	workerPool *worker.Pool
	deps       Deps
}

// NewEISHandler creates a new EIS handler
func NewEISHandler(cfg *config.Config, pool *worker.Pool, deps Deps) *EISHandler {
	return &EISHandler{
		config:     cfg,
		workerPool: pool,
		deps:       deps,
	}
}

// ServeHTTP accepts one spectrum, answers 202 immediately and delivers the
// result through the webhook.
func (h *EISHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !preflight(w, r) {
		return
	}

	var impedanceData models.ImpedanceData
	if err := json.NewDecoder(r.Body).Decode(&impedanceData); err != nil {
		writeError(w, "Invalid JSON format", http.StatusBadRequest)
		return
	}

	if len(impedanceData.Frequencies) == 0 {
		writeError(w, "No data points provided", http.StatusBadRequest)
		return
	}

	requestID := utils.GenerateID()

	go h.processAsync(requestID, impedanceData)

	if !h.config.Quiet {
		h.deps.logger().Info("request received", "request_id", requestID, "points", len(impedanceData.Frequencies))
	}

	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"success":    true,
		"request_id": requestID,
		"message":    "Processing started",
	})
}

// processAsync runs the spectrum through the pool and queues the webhook.
func (h *EISHandler) processAsync(requestID string, impedanceData models.ImpedanceData) {
	job := models.WorkItem{
		RequestID: requestID,
		Freqs:     impedanceData.Frequencies,
		ImpData:   impedanceData.Pairs(),
		Config:    h.config,
		StartTime: time.Now(),
	}

	res, err := h.workerPool.Process(context.Background(), job)
	if err != nil {
		h.deps.logger().Error("processing aborted", "request_id", requestID, "error", err)
		return
	}
	if res.Err != nil {
		h.deps.logger().Error("processing failed", "request_id", requestID, "error", res.Err)
	}

	h.workerPool.QueueWebhook(h.deps.webhookItem(requestID, res))
}
