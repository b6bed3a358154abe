package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/kacperjurak/goimpfit/internal/utils"
	"github.com/kacperjurak/goimpfit/pkg/config"
	"github.com/kacperjurak/goimpfit/pkg/models"
	"github.com/kacperjurak/goimpfit/pkg/worker"
)

// FitHandler fits one spectrum synchronously and returns the full report.
type FitHandler struct {
	config     *config.Config
	workerPool *worker.Pool
	deps       Deps
}

// NewFitHandler creates a new synchronous fit handler
func NewFitHandler(cfg *config.Config, pool *worker.Pool, deps Deps) *FitHandler {
	return &FitHandler{
		config:     cfg,
		workerPool: pool,
		deps:       deps,
	}
}

func (h *FitHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !preflight(w, r) {
		return
	}

	var req models.FitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "Invalid JSON format", http.StatusBadRequest)
		return
	}
	if len(req.Frequencies) == 0 {
		writeError(w, "No data points provided", http.StatusBadRequest)
		return
	}

	requestID := utils.GenerateID()
	job := models.WorkItem{
		RequestID: requestID,
		Freqs:     req.Frequencies,
		ImpData:   req.Pairs(),
		Config:    req.Apply(h.config),
		StartTime: time.Now(),
	}

	res, err := h.workerPool.Process(r.Context(), job)
	if err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}
	if res.Err != nil {
		h.deps.logger().Warn("fit failed", "request_id", requestID, "error", res.Err)
		writeError(w, res.Err.Error(), statusFor(res.Err))
		return
	}
	writeJSON(w, http.StatusOK, res.Report)
}
