package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/kacperjurak/goimpfit"
	"github.com/kacperjurak/goimpfit/internal/processing"
	"github.com/kacperjurak/goimpfit/pkg/models"
	"github.com/kacperjurak/goimpfit/pkg/webhook"
)

// CircuitSource resolves a topology to a parsed circuit.
type CircuitSource interface {
	Circuit(topology string) (*goimpfit.Circuit, error)
}

// Deps are shared by all handlers.
type Deps struct {
	Circuits   CircuitSource
	Calculator *webhook.Calculator
	Logger     *slog.Logger
}

func (d Deps) logger() *slog.Logger {
	if d.Logger == nil {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return d.Logger
}

// webhookItem turns a processed spectrum into a webhook task. Element traces
// are omitted when the circuit cannot be resolved.
func (d Deps) webhookItem(requestID string, res models.WorkResult) models.WebhookItem {
	item := models.WebhookItem{
		RequestID:   requestID,
		RealImp:     res.RealImp,
		ImagImp:     res.ImagImp,
		Freqs:       res.Freqs,
		CircuitCode: res.CircuitCode,
	}
	report := res.Report
	if report == nil || report.Fit == nil {
		return item
	}
	item.ChiSquare = report.Fit.Objective
	item.Params = report.Fit.Params
	item.Elements = report.Fit.Names
	if report.KK != nil {
		item.KK = &goimpfit.KKSummary{
			M:          report.KK.M,
			Mu:         report.KK.Mu,
			ChiSquared: report.KK.ChiSquared,
			Validated:  report.KK.Validated,
		}
	}
	if d.Circuits == nil || d.Calculator == nil {
		return item
	}
	circuit, err := d.Circuits.Circuit(report.Circuit)
	if err != nil {
		d.logger().Warn("cannot resolve circuit for element traces", "circuit", report.Circuit, "error", err)
		return item
	}
	traces, err := d.Calculator.CalculateElementImpedances(circuit, res.Freqs, report.Fit.Params)
	if err != nil {
		d.logger().Warn("element impedances failed", "circuit", report.Circuit, "error", err)
		return item
	}
	item.ElementImpedances = traces
	return item
}

// statusFor maps a processing error to an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, processing.ErrInvalidInput),
		errors.Is(err, goimpfit.ErrCircuitParse),
		errors.Is(err, goimpfit.ErrUnknownElementKind),
		errors.Is(err, goimpfit.ErrDimensionMismatch),
		errors.Is(err, goimpfit.ErrBoundsViolation):
		return http.StatusBadRequest
	case errors.Is(err, goimpfit.ErrConvergence):
		return http.StatusUnprocessableEntity
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// setupCORS sets up CORS headers
func setupCORS(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
}

// preflight answers OPTIONS and rejects anything but POST. It reports
// whether the request should be handled further.
func preflight(w http.ResponseWriter, r *http.Request) bool {
	setupCORS(w)
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return false
	}
	if r.Method != http.MethodPost {
		writeError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes an error response
func writeError(w http.ResponseWriter, message string, statusCode int) {
	writeJSON(w, statusCode, map[string]string{"error": message})
}
