package goimpfit

import (
	"math"
	"math/cmplx"
	"sort"
)

// Kind is an element tag as written in a topology string.
type Kind string

const (
	Resistor     Kind = "R"
	Capacitor    Kind = "C"
	Inductor     Kind = "L"
	CPE          Kind = "CPE"
	Warburg      Kind = "W"
	WarburgOpen  Kind = "Wo"
	WarburgShort Kind = "Ws"
	Gerischer    Kind = "G"
)

// ParamSpec describes one element parameter.
type ParamSpec struct {
	Name  string
	Unit  string
	Lower float64
	Upper float64
}

// ImpedanceFunc evaluates an element at angular frequency w.
// len(p) always equals the arity of the element.
type ImpedanceFunc func(p []float64, w float64) complex128

// ElementSpec is the registry entry of an element kind.
type ElementSpec struct {
	Kind        Kind
	Description string
	Params      []ParamSpec
	Impedance   ImpedanceFunc
}

// Arity returns the number of parameters.
func (e ElementSpec) Arity() int { return len(e.Params) }

var (
	inf = math.Inf(1)
	jay = complex(0, 1)
)

var registry = map[Kind]ElementSpec{
	Resistor: {
		Kind:        Resistor,
		Description: "resistor",
		Params:      []ParamSpec{{Name: "R", Unit: "Ohm", Upper: inf}},
		Impedance: func(p []float64, _ float64) complex128 {
			return complex(p[0], 0)
		},
	},
	Capacitor: {
		Kind:        Capacitor,
		Description: "capacitor",
		Params:      []ParamSpec{{Name: "C", Unit: "F", Upper: inf}},
		Impedance: func(p []float64, w float64) complex128 {
			return 1 / (jay * complex(w*p[0], 0))
		},
	},
	Inductor: {
		Kind:        Inductor,
		Description: "inductor",
		Params:      []ParamSpec{{Name: "L", Unit: "H", Upper: inf}},
		Impedance: func(p []float64, w float64) complex128 {
			return jay * complex(w*p[0], 0)
		},
	},
	CPE: {
		Kind:        CPE,
		Description: "constant phase element",
		Params: []ParamSpec{
			{Name: "Q", Unit: "Ohm^-1 sec^a", Upper: inf},
			{Name: "alpha", Unit: "", Upper: 1},
		},
		Impedance: func(p []float64, w float64) complex128 {
			return 1 / (complex(p[0], 0) * cmplx.Pow(jay*complex(w, 0), complex(p[1], 0)))
		},
	},
	Warburg: {
		Kind:        Warburg,
		Description: "semi-infinite Warburg",
		Params:      []ParamSpec{{Name: "Aw", Unit: "Ohm sec^-1/2", Upper: inf}},
		Impedance: func(p []float64, w float64) complex128 {
			return complex(p[0], 0) * (1 - jay) / complex(math.Sqrt(w), 0)
		},
	},
	WarburgOpen: {
		Kind:        WarburgOpen,
		Description: "finite-length Warburg, transmissive boundary",
		Params: []ParamSpec{
			{Name: "Z0", Unit: "Ohm", Upper: inf},
			{Name: "tau", Unit: "sec", Upper: inf},
		},
		Impedance: func(p []float64, w float64) complex128 {
			s := cmplx.Sqrt(jay * complex(w*p[1], 0))
			if s == 0 {
				return complex(p[0], 0)
			}
			return complex(p[0], 0) * tanh(s) / s
		},
	},
	WarburgShort: {
		Kind:        WarburgShort,
		Description: "finite-space Warburg, reflective boundary",
		Params: []ParamSpec{
			{Name: "Z0", Unit: "Ohm", Upper: inf},
			{Name: "tau", Unit: "sec", Upper: inf},
		},
		Impedance: func(p []float64, w float64) complex128 {
			s := cmplx.Sqrt(jay * complex(w*p[1], 0))
			return complex(p[0], 0) / (s * tanh(s))
		},
	},
	Gerischer: {
		Kind:        Gerischer,
		Description: "Gerischer",
		Params: []ParamSpec{
			{Name: "R_G", Unit: "Ohm", Upper: inf},
			{Name: "t_G", Unit: "sec", Upper: inf},
		},
		Impedance: func(p []float64, w float64) complex128 {
			return complex(p[0], 0) / cmplx.Sqrt(1+jay*complex(w*p[1], 0))
		},
	},
}

// tanh saturates instead of overflowing to NaN for large arguments.
func tanh(z complex128) complex128 {
	if real(z) > 20 {
		return 1
	}
	if real(z) < -20 {
		return -1
	}
	t := cmplx.Tanh(z)
	if cmplx.IsNaN(t) {
		return 1
	}
	return t
}

// Lookup returns the registry entry for kind.
func Lookup(kind Kind) (ElementSpec, error) {
	spec, ok := registry[kind]
	if !ok {
		return ElementSpec{}, &UnknownElementKindError{Kind: kind}
	}
	return spec, nil
}

// Impedance evaluates one element of the given kind at angular frequency w.
func Impedance(kind Kind, params []float64, w float64) (complex128, error) {
	spec, err := Lookup(kind)
	if err != nil {
		return 0, err
	}
	if len(params) != spec.Arity() {
		return 0, &DimensionMismatchError{What: string(kind) + " parameters", Got: len(params), Want: spec.Arity()}
	}
	return spec.Impedance(params, w), nil
}

// Kinds lists the registered element kinds in lexical order.
func Kinds() []Kind {
	res := make([]Kind, 0, len(registry))
	for k := range registry {
		res = append(res, k)
	}
	sort.Slice(res, func(i, j int) bool { return res[i] < res[j] })
	return res
}
