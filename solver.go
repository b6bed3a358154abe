package goimpfit

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"sync/atomic"

	"github.com/maorshutman/lm"
	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"
)

// LocalMethod names the local least-squares solver.
type LocalMethod string

const (
	LevenbergMarquardt LocalMethod = "lm"
	NelderMead         LocalMethod = "nelder-mead"
)

// ParseLocalMethod accepts lm|levenberg-marquardt|nelder-mead|nm.
func ParseLocalMethod(s string) (LocalMethod, error) {
	switch s {
	case "", "lm", "levenberg-marquardt":
		return LevenbergMarquardt, nil
	case "nelder-mead", "nm":
		return NelderMead, nil
	}
	return LevenbergMarquardt, fmt.Errorf("unknown local method %q", s)
}

// residual substituted for non-finite model output
const badResidual = 1e100

// errIterationLimit marks a local solve that ran out of iterations.
var errIterationLimit = errors.New("iteration limit reached before convergence")

// FitConfig is the explicit configuration of one fit.
type FitConfig struct {
	Weighting     Weighting
	Method        LocalMethod
	MaxIterations int

	// Basin-hopping. Ignored unless Global is set.
	Global      bool
	TrialBudget int
	Patience    int // consecutive trials without improvement; 0 disables
	Temperature float64
	StepSize    float64
	Seed        int64
	Workers     int
	BatchSize   int // trials generated per round from the same incumbent

	Logger *slog.Logger
}

// DefaultFitConfig returns an unweighted local LM fit configuration with
// basin-hopping settings ready to be switched on.
func DefaultFitConfig() FitConfig {
	return FitConfig{
		Weighting:     UNITY,
		Method:        LevenbergMarquardt,
		MaxIterations: 1000,
		TrialBudget:   100,
		Patience:      25,
		Temperature:   1,
		StepSize:      0.5,
		Seed:          1,
		Workers:       1,
		BatchSize:     1,
	}
}

func (c FitConfig) logger() *slog.Logger {
	if c.Logger == nil {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return c.Logger
}

// FitResult is the immutable outcome of a fit.
type FitResult struct {
	Params      []float64
	StdErrors   []float64 // NaN where unavailable
	Names       []string
	Units       []string
	Frequencies []float64
	Predicted   []complex128
	Converged   bool
	Objective   float64 // weighted sum of squared residuals
	RMSE        float64
	Method      LocalMethod
	Evaluations int
	Trials      int
	Accepted    int
}

// Summary returns the single-row fit summary.
func (r *FitResult) Summary() FitSummary {
	return FitSummary{RMSE: r.RMSE, Objective: r.Objective, Converged: r.Converged}
}

// ErrorTable lists the absolute residual components against the measurement.
func (r *FitResult) ErrorTable(s *Spectrum) ([]ErrorRow, error) {
	return ErrorTable(s.freqs, s.z, r.Predicted)
}

// Solver fits one circuit to one spectrum. It holds no mutable state, so a
// Solver may be reused and shared between goroutines.
type Solver struct {
	circuit  *Circuit
	spectrum *Spectrum
	cfg      FitConfig
	omegas   []float64
}

// NewSolver binds a circuit, a spectrum and a configuration.
func NewSolver(c *Circuit, s *Spectrum, cfg FitConfig) *Solver {
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = DefaultFitConfig().MaxIterations
	}
	if cfg.Method == "" {
		cfg.Method = LevenbergMarquardt
	}
	return &Solver{circuit: c, spectrum: s, cfg: cfg, omegas: s.Angular()}
}

// Fit is a shorthand for NewSolver(c, s, cfg).Solve(ctx, initial).
func Fit(ctx context.Context, c *Circuit, s *Spectrum, initial []float64, cfg FitConfig) (*FitResult, error) {
	return NewSolver(c, s, cfg).Solve(ctx, initial)
}

// Solve runs a local fit, or basin-hopping when cfg.Global is set, starting
// from initial. Dimension and bounds problems are reported before any
// numeric work starts. A local fit that exhausts MaxIterations returns its
// last point with Converged unset; basin-hopping discards such trials.
func (s *Solver) Solve(ctx context.Context, initial []float64) (*FitResult, error) {
	ps, err := newParamSpace(s.circuit, initial)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	u0 := make([]float64, ps.dim())
	ps.toInternal(u0, initial)

	var (
		best     localResult
		trials   int
		accepted int
	)
	if s.cfg.Global {
		out, err := s.basinHop(ctx, ps, u0)
		if err != nil {
			return nil, err
		}
		best, trials, accepted = out.best, out.trials, out.accepted
	} else {
		best, err = s.local(ps, u0)
		if err != nil {
			return nil, &ConvergenceError{Method: s.cfg.Method, Trial: -1, Err: err}
		}
	}

	return s.result(ps, best, trials, accepted)
}

// localResult is the outcome of one local minimization.
type localResult struct {
	u         []float64
	x         []float64
	f         float64
	evals     int
	converged bool
}

// residuals evaluates the weighted residual vector for internal vector u.
// It allocates its own buffers so it may be called concurrently.
func (s *Solver) residuals(dst []float64, ps *paramSpace, u []float64) {
	x := make([]float64, len(u))
	ps.toExternal(x, u)
	s.externalResiduals(dst, x)
}

func (s *Solver) externalResiduals(dst, x []float64) {
	pred := make([]complex128, len(s.omegas))
	s.circuit.impedanceAt(pred, x, s.omegas)
	weightedResiduals(dst, s.spectrum.z, pred, s.cfg.Weighting)
	for i, v := range dst {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			dst[i] = badResidual
		}
	}
}

func (s *Solver) local(ps *paramSpace, u0 []float64) (localResult, error) {
	switch s.cfg.Method {
	case NelderMead:
		return s.localNelderMead(ps, u0)
	default:
		return s.localLM(ps, u0)
	}
}

func (s *Solver) localLM(ps *paramSpace, u0 []float64) (lr localResult, err error) {
	// LM panics on singular normal equations
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("levenberg-marquardt: %v", r)
		}
	}()

	var evals atomic.Int64
	fnc := func(dst, u []float64) {
		evals.Add(1)
		s.residuals(dst, ps, u)
	}
	jac := lm.NumJac{Func: fnc}

	problem := lm.LMProblem{
		Dim:        ps.dim(),
		Size:       2 * len(s.omegas),
		Func:       fnc,
		Jac:        jac.Jac,
		InitParams: append([]float64(nil), u0...),
		Tau:        1e-3,
		Eps1:       1e-12,
		Eps2:       1e-12,
	}

	res, err := lm.LM(problem, &lm.Settings{Iterations: s.cfg.MaxIterations, ObjectiveTol: 1e-16})
	if err != nil {
		return localResult{}, err
	}
	return s.finish(ps, res.X, int(evals.Load()), res.Status != optimize.IterationLimit)
}

func (s *Solver) localNelderMead(ps *paramSpace, u0 []float64) (localResult, error) {
	n := 2 * len(s.omegas)
	problem := optimize.Problem{
		Func: func(u []float64) float64 {
			r := make([]float64, n)
			s.residuals(r, ps, u)
			return floats.Dot(r, r)
		},
	}
	settings := &optimize.Settings{
		MajorIterations: s.cfg.MaxIterations,
		Converger: &optimize.FunctionConverge{
			Absolute:   1e-18,
			Relative:   1e-12,
			Iterations: 50 * ps.dim(),
		},
	}

	res, err := optimize.Minimize(problem, u0, settings, &optimize.NelderMead{})
	if res == nil {
		return localResult{}, err
	}
	converged := true
	switch {
	case res.Status == optimize.IterationLimit, res.Status == optimize.FunctionEvaluationLimit:
		converged = false
	case res.Status.Early():
		return localResult{}, fmt.Errorf("nelder-mead stopped with status %s after %d iterations", res.Status, res.MajorIterations)
	}
	return s.finish(ps, res.X, res.FuncEvaluations, converged)
}

// finish maps the solver output back and rejects non-finite optima.
func (s *Solver) finish(ps *paramSpace, u []float64, evals int, converged bool) (localResult, error) {
	lr := localResult{
		u:         append([]float64(nil), u...),
		x:         make([]float64, len(u)),
		evals:     evals,
		converged: converged,
	}
	ps.toExternal(lr.x, lr.u)
	r := make([]float64, 2*len(s.omegas))
	s.externalResiduals(r, lr.x)
	lr.f = floats.Dot(r, r)
	if math.IsNaN(lr.f) || math.IsInf(lr.f, 0) || lr.f >= badResidual {
		return localResult{}, fmt.Errorf("objective is not finite at optimum")
	}
	return lr, nil
}

// result assembles the immutable FitResult for the winning local result.
func (s *Solver) result(ps *paramSpace, best localResult, trials, accepted int) (*FitResult, error) {
	predicted, err := s.circuit.Impedance(best.x, s.spectrum.freqs)
	if err != nil {
		return nil, err
	}
	rmse, err := RMSE(s.spectrum.z, predicted)
	if err != nil {
		return nil, err
	}

	res := &FitResult{
		Params:      best.x,
		Names:       s.circuit.ParamNames(),
		Units:       s.circuit.ParamUnits(),
		Frequencies: s.spectrum.Frequencies(),
		Predicted:   predicted,
		Converged:   best.converged,
		Objective:   best.f,
		RMSE:        rmse,
		Method:      s.cfg.Method,
		Evaluations: best.evals,
		Trials:      trials,
		Accepted:    accepted,
	}

	jac := s.jacobian(best.x)
	r := make([]float64, 2*len(s.omegas))
	s.externalResiduals(r, best.x)
	res.StdErrors, err = ParameterErrors(jac, r)
	if err != nil {
		s.cfg.logger().Warn("parameter errors unavailable", "error", err)
	}
	return res, nil
}

// jacobian of the weighted residuals with respect to the physical
// parameters, by central differences on parameters scaled to unit size.
func (s *Solver) jacobian(x []float64) *mat.Dense {
	n := len(x)
	m := 2 * len(s.omegas)
	scale := make([]float64, n)
	y0 := make([]float64, n)
	for i, v := range x {
		scale[i] = math.Abs(v)
		if scale[i] == 0 {
			scale[i] = 1
		}
		y0[i] = v / scale[i]
	}
	f := func(dst, y []float64) {
		xs := make([]float64, n)
		for i := range y {
			xs[i] = y[i] * scale[i]
		}
		s.externalResiduals(dst, xs)
	}

	jac := mat.NewDense(m, n, nil)
	fd.Jacobian(jac, f, y0, &fd.JacobianSettings{Formula: fd.Central})
	for j := 0; j < n; j++ {
		for i := 0; i < m; i++ {
			jac.Set(i, j, jac.At(i, j)/scale[j])
		}
	}
	return jac
}
