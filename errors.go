package goimpfit

import (
	"errors"
	"fmt"
)

// Sentinel errors. Every typed error below matches exactly one of them
// through errors.Is, so callers can branch on the kind without a type switch.
var (
	ErrCircuitParse       = errors.New("circuit parse error")
	ErrUnknownElementKind = errors.New("unknown element kind")
	ErrDimensionMismatch  = errors.New("dimension mismatch")
	ErrBoundsViolation    = errors.New("bounds violation")
	ErrConvergence        = errors.New("convergence failure")
	ErrSingularMatrix     = errors.New("singular matrix")
	ErrMaxOrderExceeded   = errors.New("max order exceeded")
)

// CircuitParseError reports a malformed topology string.
type CircuitParseError struct {
	Topology string
	Pos      int // byte offset into Topology, -1 when not applicable
	Reason   string
}

func (e *CircuitParseError) Error() string {
	if e.Pos < 0 {
		return fmt.Sprintf("circuit %q: %s", e.Topology, e.Reason)
	}
	return fmt.Sprintf("circuit %q at %d: %s", e.Topology, e.Pos, e.Reason)
}

func (e *CircuitParseError) Is(target error) bool { return target == ErrCircuitParse }

// UnknownElementKindError is returned by the registry for unregistered tags.
type UnknownElementKindError struct {
	Kind Kind
}

func (e *UnknownElementKindError) Error() string {
	return fmt.Sprintf("unknown element kind %q", string(e.Kind))
}

func (e *UnknownElementKindError) Is(target error) bool { return target == ErrUnknownElementKind }

// DimensionMismatchError reports two array lengths that must agree.
type DimensionMismatchError struct {
	What string
	Got  int
	Want int
}

func (e *DimensionMismatchError) Error() string {
	return fmt.Sprintf("%s: got length %d, want %d", e.What, e.Got, e.Want)
}

func (e *DimensionMismatchError) Is(target error) bool { return target == ErrDimensionMismatch }

// BoundsViolationError reports an initial guess outside its physical bounds.
type BoundsViolationError struct {
	Index int
	Name  string
	Value float64
	Lower float64
	Upper float64
}

func (e *BoundsViolationError) Error() string {
	return fmt.Sprintf("parameter %d (%s) = %g outside bounds [%g, %g]", e.Index, e.Name, e.Value, e.Lower, e.Upper)
}

func (e *BoundsViolationError) Is(target error) bool { return target == ErrBoundsViolation }

// ConvergenceError reports a local optimization that did not converge.
// Trial is -1 for a plain local fit and the basin-hopping trial index otherwise.
type ConvergenceError struct {
	Method LocalMethod
	Trial  int
	Err    error
}

func (e *ConvergenceError) Error() string {
	msg := fmt.Sprintf("%s did not converge", e.Method)
	if e.Trial >= 0 {
		msg = fmt.Sprintf("%s (trial %d)", msg, e.Trial)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ConvergenceError) Is(target error) bool { return target == ErrConvergence }

func (e *ConvergenceError) Unwrap() error { return e.Err }

// SingularMatrixError reports a singular linear-algebra step.
type SingularMatrixError struct {
	Stage string // "linkk" or "covariance"
	Order int    // KK order, 0 when not applicable
}

func (e *SingularMatrixError) Error() string {
	if e.Order > 0 {
		return fmt.Sprintf("%s: singular matrix at M=%d", e.Stage, e.Order)
	}
	return fmt.Sprintf("%s: singular matrix", e.Stage)
}

func (e *SingularMatrixError) Is(target error) bool { return target == ErrSingularMatrix }

// MaxOrderExceededError describes a KK search that never reached an
// admissible mu, or whose admissible orders all missed the residual
// tolerance (Tolerance > 0). It is carried by KKResult, not returned by
// LinKK.
type MaxOrderExceededError struct {
	MaxOrder    int
	Mu          float64
	Threshold   float64
	ResidualRMS float64
	Tolerance   float64
}

func (e *MaxOrderExceededError) Error() string {
	if e.Tolerance > 0 {
		return fmt.Sprintf("linkk: no admissible order up to M=%d reached residual RMS <= %g (got %.4g, mu %.4f)", e.MaxOrder, e.Tolerance, e.ResidualRMS, e.Mu)
	}
	return fmt.Sprintf("linkk: no order up to M=%d reached mu < %g (last mu %.4f)", e.MaxOrder, e.Threshold, e.Mu)
}

func (e *MaxOrderExceededError) Is(target error) bool { return target == ErrMaxOrderExceeded }
