package goimpfit

import (
	"fmt"
	"strings"
	"unicode"
)

type mode int

const (
	SERIES mode = iota
	PARALLEL
)

// boukampKinds maps Boukamp description-code letters to registry kinds.
var boukampKinds = map[rune]Kind{
	'r': Resistor,
	'c': Capacitor,
	'l': Inductor,
	'w': Warburg,
	'q': CPE,
	'o': WarburgOpen,
	't': WarburgShort,
	'g': Gerischer,
}

// FromBoukamp translates a Boukamp circuit description code such as
// "R(QR)" or "R(Q(R(QR)))" into the topology grammar. Nesting alternates
// between series and parallel combination, starting in series mode:
// "R(QR)" becomes "R_1-p(CPE_1,R_2)".
func FromBoukamp(code string) (string, error) {
	b := &boukamp{src: []rune(strings.ToLower(stripSpaces(code))), orig: code, counts: map[Kind]int{}}
	if len(b.src) == 0 {
		return "", &CircuitParseError{Topology: code, Pos: -1, Reason: "empty description code"}
	}
	out, err := b.group(SERIES)
	if err != nil {
		return "", err
	}
	if b.pos != len(b.src) {
		return "", &CircuitParseError{Topology: code, Pos: b.pos, Reason: "unbalanced parentheses: unexpected ')'"}
	}
	return out, nil
}

// ParseBoukamp parses a Boukamp description code into a Circuit.
func ParseBoukamp(code string) (*Circuit, error) {
	topology, err := FromBoukamp(code)
	if err != nil {
		return nil, err
	}
	return ParseCircuit(topology)
}

type boukamp struct {
	src    []rune
	orig   string
	pos    int
	counts map[Kind]int
}

func (b *boukamp) group(m mode) (string, error) {
	var terms []string
	for b.pos < len(b.src) {
		ch := b.src[b.pos]
		switch {
		case ch == '(':
			open := b.pos
			b.pos++
			inner, err := b.group(toggle(m))
			if err != nil {
				return "", err
			}
			if b.pos >= len(b.src) || b.src[b.pos] != ')' {
				return "", &CircuitParseError{Topology: b.orig, Pos: open, Reason: "unbalanced parentheses: unclosed '('"}
			}
			b.pos++
			if inner == "" {
				return "", &CircuitParseError{Topology: b.orig, Pos: open, Reason: "empty term"}
			}
			terms = append(terms, inner)
		case ch == ')':
			return join(terms, m), nil
		case unicode.IsLetter(ch):
			kind, ok := boukampKinds[ch]
			if !ok {
				return "", &CircuitParseError{Topology: b.orig, Pos: b.pos, Reason: fmt.Sprintf("unknown element kind %q", string(ch))}
			}
			b.counts[kind]++
			terms = append(terms, fmt.Sprintf("%s_%d", kind, b.counts[kind]))
			b.pos++
		default:
			return "", &CircuitParseError{Topology: b.orig, Pos: b.pos, Reason: fmt.Sprintf("unexpected %q", string(ch))}
		}
	}
	return join(terms, m), nil
}

func toggle(m mode) mode {
	if m == SERIES {
		return PARALLEL
	}
	return SERIES
}

func join(terms []string, m mode) string {
	switch {
	case len(terms) == 0:
		return ""
	case len(terms) == 1:
		return terms[0]
	case m == SERIES:
		return strings.Join(terms, "-")
	default:
		return "p(" + strings.Join(terms, ",") + ")"
	}
}
