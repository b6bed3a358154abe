package models

import (
	"context"
	"math"
	"time"

	"github.com/kacperjurak/goimpfit"
	"github.com/kacperjurak/goimpfit/pkg/config"
)

// ImpedanceData represents incoming impedance measurement data
type ImpedanceData struct {
	Timestamp   string               `json:"timestamp"`
	Frequencies []float64            `json:"frequencies"`
	Magnitude   []float64            `json:"magnitude"`
	Phase       []float64            `json:"phase"`
	Impedance   []map[string]float64 `json:"impedance"`
}

// Pairs converts the impedance points to (real, imag) pairs. When no
// impedance points are given but magnitude and phase (degrees) are, the
// pairs are derived from those.
func (d ImpedanceData) Pairs() [][2]float64 {
	if len(d.Impedance) == 0 && len(d.Magnitude) > 0 && len(d.Magnitude) == len(d.Phase) {
		out := make([][2]float64, len(d.Magnitude))
		for i, m := range d.Magnitude {
			ph := d.Phase[i] * math.Pi / 180
			out[i] = [2]float64{m * math.Cos(ph), m * math.Sin(ph)}
		}
		return out
	}
	out := make([][2]float64, len(d.Impedance))
	for i, point := range d.Impedance {
		re, okRe := point["real"]
		im, okIm := point["imag"]
		if !okRe || !okIm {
			out[i] = [2]float64{math.NaN(), math.NaN()}
			continue
		}
		out[i] = [2]float64{re, im}
	}
	return out
}

// BatchItem represents a single spectrum with iteration number
type BatchItem struct {
	ImpedanceData ImpedanceData `json:"impedance_data"`
	Iteration     int           `json:"iteration"`
}

// ImpedanceBatch represents a batch of impedance measurements
type ImpedanceBatch struct {
	BatchID   string      `json:"batch_id"`
	Timestamp time.Time   `json:"timestamp"`
	Spectra   []BatchItem `json:"spectra"`
}

// FitRequest is the body of a synchronous fit. Empty fields fall back to the
// server configuration.
type FitRequest struct {
	ImpedanceData
	Circuit      string    `json:"circuit,omitempty"`
	Boukamp      string    `json:"boukamp,omitempty"`
	InitialGuess []float64 `json:"initial_guess,omitempty"`
	GlobalOpt    *bool     `json:"global_opt,omitempty"`
	Weighting    string    `json:"weighting,omitempty"`
	RngSeed      *int64    `json:"rng_seed,omitempty"`
	SkipKK       *bool     `json:"skip_kk,omitempty"`
}

// Apply layers the request overrides on a copy of base.
func (r *FitRequest) Apply(base *config.Config) *config.Config {
	cfg := base.Clone()
	if r.Boukamp != "" {
		cfg.Boukamp = r.Boukamp
		cfg.Circuit = ""
	} else if r.Circuit != "" {
		cfg.Circuit = r.Circuit
		cfg.Boukamp = ""
	}
	if len(r.InitialGuess) > 0 {
		cfg.InitialGuess = append(config.ArrayFlags(nil), r.InitialGuess...)
	}
	if r.GlobalOpt != nil {
		cfg.GlobalOpt = *r.GlobalOpt
	}
	if r.Weighting != "" {
		cfg.Weighting = r.Weighting
	}
	if r.RngSeed != nil {
		cfg.RngSeed = *r.RngSeed
	}
	if r.SkipKK != nil {
		cfg.SkipKK = *r.SkipKK
	}
	return cfg
}

// WorkItem represents a single EIS processing task
type WorkItem struct {
	ID        int
	RequestID string
	BatchID   string
	Iteration int
	Freqs     []float64
	ImpData   [][2]float64
	Config    *config.Config
	StartTime time.Time
	// Ctx, when set, cancels the processing together with the pool.
	Ctx context.Context
	// Reply receives the result instead of the shared results channel when set.
	Reply chan<- WorkResult
}

// WorkResult contains the result of EIS processing
type WorkResult struct {
	ID             int
	RequestID      string
	BatchID        string
	Iteration      int
	Report         *Report
	Err            error
	ProcessingTime time.Duration
	Success        bool
	Freqs          []float64
	RealImp        []float64
	ImagImp        []float64
	CircuitCode    string
}

// Report is the JSON rendering of one processed spectrum.
type Report struct {
	RequestID  string         `json:"request_id,omitempty"`
	Circuit    string         `json:"circuit"`
	Fit        *FitReport     `json:"fit"`
	KK         *KKReport      `json:"kk,omitempty"`
	KKError    string         `json:"kk_error,omitempty"`
	ErrorTable []ErrorRowJSON `json:"error_table"`
	Elapsed    time.Duration  `json:"elapsed_ns"`
}

// FitReport carries the fitted parameters. Standard errors are null where
// they could not be computed. Predicted follows Frequencies, which are
// sorted ascending and already cut.
type FitReport struct {
	Names       []string     `json:"names"`
	Units       []string     `json:"units"`
	Params      []float64    `json:"params"`
	StdErrors   []*float64   `json:"std_errors"`
	RMSE        float64      `json:"rmse"`
	Objective   float64      `json:"objective"`
	Converged   bool         `json:"converged"`
	Method      string       `json:"method"`
	Evaluations int          `json:"evaluations"`
	Trials      int          `json:"trials"`
	Accepted    int          `json:"accepted"`
	Frequencies []float64    `json:"frequencies"`
	Predicted   [][2]float64 `json:"predicted"`
}

// KKReport carries the Lin-KK outcome.
type KKReport struct {
	M             int          `json:"M"`
	Mu            float64      `json:"mu"`
	ChiSquared    float64      `json:"chi_squared"`
	Validated     bool         `json:"validated"`
	ResidualsReal []float64    `json:"residuals_real"`
	ResidualsImag []float64    `json:"residuals_imag"`
	TimeConstants []float64    `json:"time_constants"`
	Resistances   []float64    `json:"resistances"`
	Frequencies   []float64    `json:"frequencies"`
	Measured      [][2]float64 `json:"measured"`
	Predicted     [][2]float64 `json:"predicted"`
}

// ErrorRowJSON is one row of the per-frequency error table.
type ErrorRowJSON struct {
	Frequency float64 `json:"frequency"`
	RealError float64 `json:"real_error"`
	ImagError float64 `json:"imag_error"`
}

// NewFitReport converts a fit result.
func NewFitReport(r *goimpfit.FitResult) *FitReport {
	errs := make([]*float64, len(r.StdErrors))
	for i, e := range r.StdErrors {
		if math.IsNaN(e) || math.IsInf(e, 0) {
			continue
		}
		v := e
		errs[i] = &v
	}
	return &FitReport{
		Names:       r.Names,
		Units:       r.Units,
		Params:      r.Params,
		StdErrors:   errs,
		RMSE:        r.RMSE,
		Objective:   r.Objective,
		Converged:   r.Converged,
		Method:      string(r.Method),
		Evaluations: r.Evaluations,
		Trials:      r.Trials,
		Accepted:    r.Accepted,
		Frequencies: r.Frequencies,
		Predicted:   toPairs(r.Predicted),
	}
}

// NewKKReport converts a Lin-KK result.
func NewKKReport(r *goimpfit.KKResult) *KKReport {
	return &KKReport{
		M:             r.M,
		Mu:            r.Mu,
		ChiSquared:    r.ChiSquared,
		Validated:     r.Validated,
		ResidualsReal: r.ResidualsReal,
		ResidualsImag: r.ResidualsImag,
		TimeConstants: r.TimeConstants,
		Resistances:   r.Resistances,
		Frequencies:   r.Frequencies,
		Measured:      toPairs(r.Measured),
		Predicted:     toPairs(r.Predicted),
	}
}

// NewErrorTable converts the per-frequency error rows.
func NewErrorTable(rows []goimpfit.ErrorRow) []ErrorRowJSON {
	out := make([]ErrorRowJSON, len(rows))
	for i, r := range rows {
		out[i] = ErrorRowJSON{Frequency: r.Frequency, RealError: r.RealError, ImagError: r.ImagError}
	}
	return out
}

func toPairs(z []complex128) [][2]float64 {
	out := make([][2]float64, len(z))
	for i, v := range z {
		out[i] = [2]float64{real(v), imag(v)}
	}
	return out
}

// WebhookItem represents a webhook task
type WebhookItem struct {
	RequestID         string
	ChiSquare         float64
	RealImp           []float64
	ImagImp           []float64
	Freqs             []float64
	Params            []float64
	Elements          []string
	ElementImpedances []ElementImpedance
	CircuitCode       string
	KK                *goimpfit.KKSummary
}

// ElementImpedance represents impedance data for a circuit element
type ElementImpedance struct {
	Name       string               `json:"name"`
	Impedances []map[string]float64 `json:"impedances"`
}

// KKSummaryJSON is the KK block of a webhook payload.
type KKSummaryJSON struct {
	M          int     `json:"M"`
	Mu         float64 `json:"mu"`
	ChiSquared float64 `json:"chi_squared"`
	Validated  bool    `json:"validated"`
}

// WebhookResponse represents the webhook payload structure
type WebhookResponse struct {
	ID                 string             `json:"id"`
	Time               string             `json:"time"`
	ChiSquare          float64            `json:"chi_square"`
	RealImpedance      []float64          `json:"real_impedance"`
	ImaginaryImpedance []float64          `json:"imaginary_impedance"`
	Frequencies        []float64          `json:"frequencies"`
	Parameters         []float64          `json:"parameters"`
	ElementNames       []string           `json:"element_names"`
	ElementImpedances  []ElementImpedance `json:"element_impedances"`
	CircuitType        string             `json:"circuit_type"`
	KK                 *KKSummaryJSON     `json:"kk,omitempty"`
}

// SpectrumTiming tracks performance metrics for individual spectrum processing
type SpectrumTiming struct {
	Iteration      int           `json:"iteration"`
	ProcessingTime time.Duration `json:"processing_time_ms"`
	ChiSquare      float64       `json:"chi_square"`
	Success        bool          `json:"success"`
	CircuitCode    string        `json:"circuit_code"`
}
