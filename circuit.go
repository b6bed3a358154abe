package goimpfit

import (
	"fmt"
	"math"
	"math/cmplx"
	"strings"
)

const (
	// admittance used for a zero-impedance parallel branch
	shortAdmittance = 1e300
	// impedance returned by a parallel block whose admittances sum to zero
	openImpedance = 1e300
)

// Node is an immutable node of a parsed circuit: *ElementNode, *SeriesNode
// or *ParallelNode.
type Node interface {
	impedance(p []float64, w float64) complex128
	String() string
}

// ElementNode is one element instance. Its parameters occupy
// p[Offset():Offset()+Spec().Arity()] of the circuit parameter vector.
type ElementNode struct {
	spec   ElementSpec
	label  string
	offset int
}

// Spec returns the registry entry of the element.
func (n *ElementNode) Spec() ElementSpec { return n.spec }

// Label returns the element token as written, e.g. "CPE_1".
func (n *ElementNode) Label() string { return n.label }

// Offset returns the first parameter index of the element.
func (n *ElementNode) Offset() int { return n.offset }

func (n *ElementNode) impedance(p []float64, w float64) complex128 {
	return n.spec.Impedance(p[n.offset:n.offset+n.spec.Arity()], w)
}

func (n *ElementNode) String() string { return n.label }

// SeriesNode sums the impedances of its children.
type SeriesNode struct {
	children []Node
}

// Children returns a copy of the ordered children.
func (n *SeriesNode) Children() []Node { return append([]Node(nil), n.children...) }

func (n *SeriesNode) impedance(p []float64, w float64) complex128 {
	var z complex128
	for _, c := range n.children {
		z += c.impedance(p, w)
	}
	return z
}

func (n *SeriesNode) String() string {
	parts := make([]string, len(n.children))
	for i, c := range n.children {
		parts[i] = c.String()
	}
	return strings.Join(parts, "-")
}

// ParallelNode combines its children as 1/Σ(1/Z).
type ParallelNode struct {
	children []Node
}

// Children returns a copy of the ordered children.
func (n *ParallelNode) Children() []Node { return append([]Node(nil), n.children...) }

func (n *ParallelNode) impedance(p []float64, w float64) complex128 {
	var y complex128
	for _, c := range n.children {
		z := c.impedance(p, w)
		switch {
		case z == 0:
			y += shortAdmittance
		case cmplx.IsInf(z):
		default:
			y += 1 / z
		}
	}
	if y == 0 {
		return openImpedance
	}
	return 1 / y
}

func (n *ParallelNode) String() string {
	parts := make([]string, len(n.children))
	for i, c := range n.children {
		parts[i] = c.String()
	}
	return "p(" + strings.Join(parts, ",") + ")"
}

// Circuit is a parsed topology. It is immutable and safe for concurrent use.
type Circuit struct {
	topology string
	root     Node
	elements []*ElementNode
	nparams  int
}

// Topology returns the source string.
func (c *Circuit) Topology() string { return c.topology }

// Root returns the root node of the parse tree.
func (c *Circuit) Root() Node { return c.root }

// Elements returns the element instances in parameter order.
func (c *Circuit) Elements() []*ElementNode {
	return append([]*ElementNode(nil), c.elements...)
}

// NumParams returns the length of the parameter vector.
func (c *Circuit) NumParams() int { return c.nparams }

// ParamNames returns one label per parameter slot. Single-parameter elements
// use their label, others append the parameter index (CPE_1_0, CPE_1_1).
func (c *Circuit) ParamNames() []string {
	names := make([]string, 0, c.nparams)
	for _, e := range c.elements {
		if e.spec.Arity() == 1 {
			names = append(names, e.label)
			continue
		}
		for i := range e.spec.Params {
			names = append(names, fmt.Sprintf("%s_%d", e.label, i))
		}
	}
	return names
}

// ParamUnits returns the unit of every parameter slot.
func (c *Circuit) ParamUnits() []string {
	units := make([]string, 0, c.nparams)
	for _, e := range c.elements {
		for _, ps := range e.spec.Params {
			units = append(units, ps.Unit)
		}
	}
	return units
}

// Bounds returns the lower and upper physical bounds of every parameter slot.
func (c *Circuit) Bounds() (lower, upper []float64) {
	lower = make([]float64, 0, c.nparams)
	upper = make([]float64, 0, c.nparams)
	for _, e := range c.elements {
		for _, ps := range e.spec.Params {
			lower = append(lower, ps.Lower)
			upper = append(upper, ps.Upper)
		}
	}
	return lower, upper
}

// Impedance evaluates the circuit at every frequency (Hz).
func (c *Circuit) Impedance(params, freqs []float64) ([]complex128, error) {
	if len(params) != c.nparams {
		return nil, &DimensionMismatchError{What: "parameters", Got: len(params), Want: c.nparams}
	}
	res := make([]complex128, len(freqs))
	for i, f := range freqs {
		res[i] = c.root.impedance(params, 2*math.Pi*f)
	}
	return res, nil
}

// impedanceAt evaluates at precomputed angular frequencies without checks.
func (c *Circuit) impedanceAt(dst []complex128, params, omegas []float64) {
	for i, w := range omegas {
		dst[i] = c.root.impedance(params, w)
	}
}

// ElementImpedances evaluates every element on its own, keyed by label.
func (c *Circuit) ElementImpedances(params, freqs []float64) (map[string][]complex128, error) {
	if len(params) != c.nparams {
		return nil, &DimensionMismatchError{What: "parameters", Got: len(params), Want: c.nparams}
	}
	res := make(map[string][]complex128, len(c.elements))
	for _, e := range c.elements {
		z := make([]complex128, len(freqs))
		for i, f := range freqs {
			z[i] = e.impedance(params, 2*math.Pi*f)
		}
		res[e.label] = z
	}
	return res, nil
}

// ParseCircuit parses a topology such as "R_1-p(R_2,CPE_1)-Wo_1".
//
//	expr    := term ('-' term)*
//	term    := element | 'p(' expr (',' expr)* ')'
//	element := KIND ['_'] INDEX
//
// Whitespace is ignored. Parameter offsets follow left-to-right,
// depth-first element order.
func ParseCircuit(topology string) (*Circuit, error) {
	p := &parser{src: stripSpaces(topology), orig: topology, labels: map[string]bool{}}
	if p.src == "" {
		return nil, p.fail(-1, "empty topology")
	}
	if err := p.checkBalance(); err != nil {
		return nil, err
	}
	root, err := p.expr(0, len(p.src))
	if err != nil {
		return nil, err
	}
	return &Circuit{
		topology: topology,
		root:     root,
		elements: p.elements,
		nparams:  p.nparams,
	}, nil
}

// MustParseCircuit is like ParseCircuit but panics on error.
func MustParseCircuit(topology string) *Circuit {
	c, err := ParseCircuit(topology)
	if err != nil {
		panic(err)
	}
	return c
}

type parser struct {
	src      string
	orig     string
	elements []*ElementNode
	nparams  int
	labels   map[string]bool
}

func stripSpaces(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '\n', '\r':
			return -1
		}
		return r
	}, s)
}

func (p *parser) fail(pos int, format string, args ...interface{}) error {
	return &CircuitParseError{Topology: p.orig, Pos: pos, Reason: fmt.Sprintf(format, args...)}
}

func (p *parser) checkBalance() error {
	depth := 0
	for i, ch := range p.src {
		switch ch {
		case '(':
			depth++
		case ')':
			depth--
			if depth < 0 {
				return p.fail(i, "unbalanced parentheses: unexpected ')'")
			}
		}
	}
	if depth != 0 {
		return p.fail(len(p.src), "unbalanced parentheses: %d unclosed '('", depth)
	}
	return nil
}

// split cuts src[lo:hi] at sep characters found at parenthesis depth zero.
func (p *parser) split(lo, hi int, sep byte) [][2]int {
	var parts [][2]int
	depth, start := 0, lo
	for i := lo; i < hi; i++ {
		switch p.src[i] {
		case '(':
			depth++
		case ')':
			depth--
		case sep:
			if depth == 0 {
				parts = append(parts, [2]int{start, i})
				start = i + 1
			}
		}
	}
	return append(parts, [2]int{start, hi})
}

func (p *parser) expr(lo, hi int) (Node, error) {
	spans := p.split(lo, hi, '-')
	nodes := make([]Node, 0, len(spans))
	for _, s := range spans {
		if s[0] == s[1] {
			return nil, p.fail(s[0], "empty term")
		}
		n, err := p.term(s[0], s[1])
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, n)
	}
	if len(nodes) == 1 {
		return nodes[0], nil
	}
	return &SeriesNode{children: nodes}, nil
}

func (p *parser) term(lo, hi int) (Node, error) {
	tok := p.src[lo:hi]
	if strings.HasPrefix(tok, "p(") {
		if tok[len(tok)-1] != ')' || p.closing(lo+1) != hi-1 {
			return nil, p.fail(lo, "unexpected characters after parallel block")
		}
		spans := p.split(lo+2, hi-1, ',')
		children := make([]Node, 0, len(spans))
		for _, s := range spans {
			if s[0] == s[1] {
				return nil, p.fail(s[0], "empty term")
			}
			n, err := p.expr(s[0], s[1])
			if err != nil {
				return nil, err
			}
			children = append(children, n)
		}
		return &ParallelNode{children: children}, nil
	}
	if i := strings.IndexAny(tok, "(),"); i >= 0 {
		return nil, p.fail(lo+i, "unexpected %q in element token %q", tok[i], tok)
	}
	return p.element(lo, tok)
}

// closing returns the index of the ')' matching the '(' at open.
func (p *parser) closing(open int) int {
	depth := 0
	for i := open; i < len(p.src); i++ {
		switch p.src[i] {
		case '(':
			depth++
		case ')':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

func (p *parser) element(pos int, tok string) (Node, error) {
	i := 0
	for i < len(tok) && isLetter(tok[i]) {
		i++
	}
	kind := Kind(tok[:i])
	rest := strings.TrimPrefix(tok[i:], "_")
	if kind == "" {
		return nil, p.fail(pos, "element token %q has no kind", tok)
	}
	for j := 0; j < len(rest); j++ {
		if rest[j] < '0' || rest[j] > '9' {
			return nil, p.fail(pos, "element token %q: index must be numeric", tok)
		}
	}
	spec, err := Lookup(kind)
	if err != nil {
		return nil, p.fail(pos, "unknown element kind %q", string(kind))
	}
	if p.labels[tok] {
		return nil, p.fail(pos, "duplicate element %q", tok)
	}
	p.labels[tok] = true

	n := &ElementNode{spec: spec, label: tok, offset: p.nparams}
	p.nparams += spec.Arity()
	p.elements = append(p.elements, n)
	return n, nil
}

func isLetter(b byte) bool {
	return (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z')
}
