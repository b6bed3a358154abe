package processing

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/kacperjurak/goimpfit"
	"github.com/kacperjurak/goimpfit/pkg/config"
	"github.com/kacperjurak/goimpfit/pkg/metrics"
	"github.com/kacperjurak/goimpfit/pkg/models"
)

// ErrInvalidInput marks errors caused by the request data or configuration.
var ErrInvalidInput = errors.New("invalid input")

// EISProcessor runs the fit and KK validation for one spectrum.
type EISProcessor struct {
	logger   *slog.Logger
	metrics  *metrics.Metrics
	circuits *circuitCache
}

// NewEISProcessor creates a new EIS processor. Both arguments may be nil.
func NewEISProcessor(logger *slog.Logger, m *metrics.Metrics) *EISProcessor {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &EISProcessor{
		logger:   logger,
		metrics:  m,
		circuits: newCircuitCache(DefaultCircuitCacheSize),
	}
}

// Circuit returns the parsed circuit for a topology, parsing it once while
// it stays among the most recently used.
func (p *EISProcessor) Circuit(topology string) (*goimpfit.Circuit, error) {
	if c, ok := p.circuits.get(topology); ok {
		p.metrics.CacheLookup(true)
		return c, nil
	}
	p.metrics.CacheLookup(false)

	c, err := goimpfit.ParseCircuit(topology)
	if err != nil {
		return nil, err
	}
	p.circuits.add(topology, c)
	return c, nil
}

// Process fits the configured circuit to the spectrum and validates it with
// Lin-KK unless cfg.SkipKK is set. A failed KK validation is reported in the
// result, not as an error.
func (p *EISProcessor) Process(ctx context.Context, freqs []float64, impData [][2]float64, cfg *config.Config) (*models.Report, error) {
	if len(freqs) == 0 {
		return nil, fmt.Errorf("%w: no frequency data provided", ErrInvalidInput)
	}
	if len(impData) == 0 {
		return nil, fmt.Errorf("%w: no impedance data provided", ErrInvalidInput)
	}
	if len(freqs) != len(impData) {
		return nil, fmt.Errorf("%w: frequency and impedance data length mismatch: %d vs %d", ErrInvalidInput, len(freqs), len(impData))
	}
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}

	start := time.Now()
	spectrum, err := goimpfit.SpectrumFromPairs(freqs, impData)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	spectrum, err = Cut(spectrum, cfg.CutLow, cfg.CutHigh)
	if err != nil {
		return nil, err
	}

	topology, err := cfg.Topology()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	circuit, err := p.Circuit(topology)
	if err != nil {
		return nil, err
	}

	initial := []float64(cfg.InitialGuess)
	if len(initial) == 0 {
		initial = goimpfit.DefaultGuess(circuit, spectrum)
		p.logger.Debug("using default initial guess", "circuit", topology, "guess", initial)
	}

	fitCfg, err := cfg.FitConfig(p.logger)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}

	fitStart := time.Now()
	fit, err := goimpfit.Fit(ctx, circuit, spectrum, initial, fitCfg)
	trials := 0
	rmse := 0.0
	if fit != nil {
		trials, rmse = fit.Trials, fit.RMSE
	}
	p.metrics.ObserveFit(string(fitCfg.Method), fitCfg.Global, time.Since(fitStart), trials, rmse, err)
	if err != nil {
		return nil, fmt.Errorf("fit %s: %w", topology, err)
	}

	table, err := fit.ErrorTable(spectrum)
	if err != nil {
		return nil, err
	}

	report := &models.Report{
		Circuit:    topology,
		Fit:        models.NewFitReport(fit),
		ErrorTable: models.NewErrorTable(table),
	}

	if !cfg.SkipKK {
		if err := p.validate(spectrum, cfg, report); err != nil {
			return nil, err
		}
	}

	report.Elapsed = time.Since(start)
	if !cfg.Quiet {
		p.logger.Info("spectrum processed",
			"circuit", topology,
			"points", spectrum.Len(),
			"rmse", fit.RMSE,
			"converged", fit.Converged,
			"elapsed", report.Elapsed)
	}
	return report, nil
}

// validate attaches the Lin-KK outcome. Only configuration errors abort.
func (p *EISProcessor) validate(s *goimpfit.Spectrum, cfg *config.Config, report *models.Report) error {
	kkCfg, err := cfg.KKConfig(p.logger)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	kk, err := goimpfit.LinKK(s, kkCfg)
	if err != nil {
		if errors.Is(err, goimpfit.ErrSingularMatrix) {
			report.KKError = err.Error()
			p.logger.Warn("lin-kk failed", "error", err)
			return nil
		}
		return fmt.Errorf("lin-kk: %w", err)
	}
	p.metrics.ObserveKK(kk.M, kk.Validated)
	report.KK = models.NewKKReport(kk)
	if err := kk.Err(); err != nil {
		report.KKError = err.Error()
		p.logger.Warn("spectrum not kk-consistent", "M", kk.M, "mu", kk.Mu)
	}
	return nil
}

// Cut drops cutLow points from the start and cutHigh points from the end of
// the sweep.
func Cut(s *goimpfit.Spectrum, cutLow, cutHigh uint) (*goimpfit.Spectrum, error) {
	if cutLow == 0 && cutHigh == 0 {
		return s, nil
	}
	n := uint(s.Len())
	if cutLow+cutHigh >= n {
		return nil, fmt.Errorf("%w: cut %d+%d leaves no points of %d", ErrInvalidInput, cutLow, cutHigh, n)
	}
	freqs := s.Frequencies()[cutLow : n-cutHigh]
	z := s.Impedances()[cutLow : n-cutHigh]
	return goimpfit.NewSpectrum(freqs, z)
}

// ProcessorFunc adapts Process to the worker pool.
func (p *EISProcessor) ProcessorFunc() func(ctx context.Context, freqs []float64, impData [][2]float64, cfg *config.Config) (*models.Report, error) {
	return p.Process
}
