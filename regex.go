package gmatch

import (
	"encoding/binary"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
)

// ExprRef identifies a regular expression within an ExprSet.  Equal
// ids mean structurally equal expressions.
type ExprRef uint32

const (
	// NoMatch matches nothing and is its own derivative
	NoMatch ExprRef = 0
	// EmptyString matches only the empty string
	EmptyString ExprRef = 1
)

// Unbounded marks a repetition without upper limit
const Unbounded = -1

type exprKind uint8

const (
	exprNoMatch exprKind = iota
	exprEmpty
	exprByteSet
	exprConcat
	exprOr
	exprRepeat
)

type expr struct {
	kind     exprKind
	nullable bool
	bytes    ByteSet
	args     []ExprRef
	min, max int
}

func exprKey(e *expr) string {
	var sb strings.Builder
	sb.WriteByte(byte(e.kind))
	var buf [8]byte
	switch e.kind {
	case exprByteSet:
		for _, w := range e.bytes {
			binary.LittleEndian.PutUint64(buf[:], w)
			sb.Write(buf[:])
		}
	case exprConcat, exprOr:
		for _, a := range e.args {
			binary.LittleEndian.PutUint32(buf[:4], uint32(a))
			sb.Write(buf[:4])
		}
	case exprRepeat:
		binary.LittleEndian.PutUint32(buf[:4], uint32(e.args[0]))
		sb.Write(buf[:4])
		binary.LittleEndian.PutUint32(buf[:4], uint32(e.min))
		sb.Write(buf[:4])
		binary.LittleEndian.PutUint32(buf[:4], uint32(int32(e.max)))
		sb.Write(buf[:4])
	}
	return sb.String()
}

// ExprSet holds hash-consed regular expressions over bytes along with
// the memoized derivatives computed so far.  Constructors normalize
// their input (flattening, ordering and deduplicating alternatives,
// merging byte sets) so equivalent expressions tend to be one node.
// An ExprSet is safe for concurrent use.
type ExprSet struct {
	nodes    *HashCons[*expr]
	derivs   sync.Map
	maxNodes int
	full     atomic.Bool
}

// NewExprSet creates a set whose first two ids are NoMatch and
// EmptyString.  A positive `maxNodes` makes `CheckSize` report
// ErrGrammarTooLarge once the set grows past it.
func NewExprSet(maxNodes int) *ExprSet {
	s := &ExprSet{nodes: NewHashCons(exprKey), maxNodes: maxNodes}
	s.nodes.Insert(&expr{kind: exprNoMatch})
	s.nodes.Insert(&expr{kind: exprEmpty, nullable: true})
	return s
}

// Len returns how many distinct expressions exist in the set
func (s *ExprSet) Len() int { return s.nodes.Len() }

// CheckSize fails when the set has more nodes than allowed
func (s *ExprSet) CheckSize() error {
	if s.full.Load() {
		return fmt.Errorf("%w: regex node table is full", ErrGrammarTooLarge)
	}
	if s.maxNodes > 0 && s.nodes.Len() > s.maxNodes {
		return fmt.Errorf("%w: more than %d regex nodes", ErrGrammarTooLarge, s.maxNodes)
	}
	return nil
}

func (s *ExprSet) get(e ExprRef) *expr { return s.nodes.Lookup(uint32(e)) }

// mk returns NoMatch once the node table is full, which `CheckSize`
// then reports
func (s *ExprSet) mk(e *expr) ExprRef {
	id, _, err := s.nodes.Insert(e)
	if err != nil {
		s.full.Store(true)
		return NoMatch
	}
	return ExprRef(id)
}

// Nullable tells if the expression matches the empty string
func (s *ExprSet) Nullable(e ExprRef) bool { return s.get(e).nullable }

// Bytes creates an expression matching exactly one byte from `bs`
func (s *ExprSet) Bytes(bs ByteSet) ExprRef {
	if bs.IsEmpty() {
		return NoMatch
	}
	return s.mk(&expr{kind: exprByteSet, bytes: bs})
}

// Byte creates an expression matching the single byte `b`
func (s *ExprSet) Byte(b byte) ExprRef {
	return s.Bytes(ByteSetOf(b))
}

// Literal creates an expression matching exactly `lit`
func (s *ExprSet) Literal(lit []byte) ExprRef {
	args := make([]ExprRef, len(lit))
	for i, b := range lit {
		args[i] = s.Byte(b)
	}
	return s.Concat(args...)
}

// Concat matches the concatenation of all `args`
func (s *ExprSet) Concat(args ...ExprRef) ExprRef {
	flat := make([]ExprRef, 0, len(args))
	for _, a := range args {
		switch a {
		case NoMatch:
			return NoMatch
		case EmptyString:
			continue
		}
		if n := s.get(a); n.kind == exprConcat {
			flat = append(flat, n.args...)
		} else {
			flat = append(flat, a)
		}
	}
	switch len(flat) {
	case 0:
		return EmptyString
	case 1:
		return flat[0]
	}
	nullable := true
	for _, a := range flat {
		nullable = nullable && s.Nullable(a)
	}
	return s.mk(&expr{kind: exprConcat, args: flat, nullable: nullable})
}

// Or matches any of `args`
func (s *ExprSet) Or(args ...ExprRef) ExprRef {
	var (
		flat     = make([]ExprRef, 0, len(args))
		bytes    ByteSet
		hasBytes bool
	)
	var add func(a ExprRef)
	add = func(a ExprRef) {
		if a == NoMatch {
			return
		}
		n := s.get(a)
		switch n.kind {
		case exprOr:
			for _, sub := range n.args {
				add(sub)
			}
		case exprByteSet:
			bytes = bytes.Union(n.bytes)
			hasBytes = true
		default:
			flat = append(flat, a)
		}
	}
	for _, a := range args {
		add(a)
	}
	if hasBytes {
		flat = append(flat, s.Bytes(bytes))
	}
	sort.Slice(flat, func(i, j int) bool { return flat[i] < flat[j] })
	out := flat[:0]
	for i, a := range flat {
		if i > 0 && a == flat[i-1] {
			continue
		}
		out = append(out, a)
	}
	switch len(out) {
	case 0:
		return NoMatch
	case 1:
		return out[0]
	}
	nullable := false
	for _, a := range out {
		nullable = nullable || s.Nullable(a)
	}
	return s.mk(&expr{kind: exprOr, args: out, nullable: nullable})
}

// Repeat matches between `min` and `max` consecutive matches of `e`.
// Use Unbounded for `max` to drop the upper limit.
func (s *ExprSet) Repeat(e ExprRef, min, max int) ExprRef {
	if max != Unbounded && max < min {
		return NoMatch
	}
	switch {
	case e == NoMatch:
		if min == 0 {
			return EmptyString
		}
		return NoMatch
	case e == EmptyString || max == 0:
		return EmptyString
	case min == 1 && max == 1:
		return e
	}
	nullable := min == 0 || s.Nullable(e)
	return s.mk(&expr{kind: exprRepeat, args: []ExprRef{e}, min: min, max: max, nullable: nullable})
}

// Optional matches `e` or the empty string
func (s *ExprSet) Optional(e ExprRef) ExprRef { return s.Or(EmptyString, e) }

// Derivative returns the expression matching every `w` such that
// `b` followed by `w` is matched by `e`.
func (s *ExprSet) Derivative(e ExprRef, b byte) ExprRef {
	if e == NoMatch || e == EmptyString {
		return NoMatch
	}
	key := uint64(e)<<8 | uint64(b)
	if d, ok := s.derivs.Load(key); ok {
		return d.(ExprRef)
	}
	d := s.derivative(e, b)
	s.derivs.Store(key, d)
	return d
}

func (s *ExprSet) derivative(e ExprRef, b byte) ExprRef {
	n := s.get(e)
	switch n.kind {
	case exprByteSet:
		if n.bytes.Has(b) {
			return EmptyString
		}
		return NoMatch
	case exprConcat:
		head, rest := n.args[0], s.Concat(n.args[1:]...)
		d := s.Concat(s.Derivative(head, b), rest)
		if s.Nullable(head) {
			d = s.Or(d, s.Derivative(rest, b))
		}
		return d
	case exprOr:
		ds := make([]ExprRef, len(n.args))
		for i, a := range n.args {
			ds[i] = s.Derivative(a, b)
		}
		return s.Or(ds...)
	case exprRepeat:
		hi := n.max
		if hi != Unbounded {
			hi--
		}
		inner := s.Derivative(n.args[0], b)
		return s.Concat(inner, s.Repeat(n.args[0], max(n.min-1, 0), hi))
	default:
		return NoMatch
	}
}

// NonEmpty returns an expression matching the same strings as `e`
// except the empty one.  Bytes are grouped by the derivative they
// lead to, so the result has at most one branch per distinct
// derivative.
func (s *ExprSet) NonEmpty(e ExprRef) ExprRef {
	if !s.Nullable(e) {
		return e
	}
	groups := map[ExprRef]*ByteSet{}
	var order []ExprRef
	for i := 0; i < 256; i++ {
		d := s.Derivative(e, byte(i))
		if d == NoMatch {
			continue
		}
		g, ok := groups[d]
		if !ok {
			g = &ByteSet{}
			groups[d] = g
			order = append(order, d)
		}
		g.Add(byte(i))
	}
	alts := make([]ExprRef, 0, len(order))
	for _, d := range order {
		alts = append(alts, s.Concat(s.Bytes(*groups[d]), d))
	}
	return s.Or(alts...)
}

// Matches runs `input` through the derivatives of `e` and tells if
// the whole input is matched
func (s *ExprSet) Matches(e ExprRef, input []byte) bool {
	for _, b := range input {
		e = s.Derivative(e, b)
		if e == NoMatch {
			return false
		}
	}
	return s.Nullable(e)
}

// String renders an expression in a regex-like syntax, mostly for
// debugging and error messages
func (s *ExprSet) String(e ExprRef) string {
	var sb strings.Builder
	s.write(&sb, e)
	return sb.String()
}

func (s *ExprSet) write(sb *strings.Builder, e ExprRef) {
	n := s.get(e)
	switch n.kind {
	case exprNoMatch:
		sb.WriteString("NoMatch")
	case exprEmpty:
		sb.WriteString("ε")
	case exprByteSet:
		if b, ok := n.bytes.Single(); ok {
			writeByteEscaped(sb, b)
			return
		}
		sb.WriteString(n.bytes.String())
	case exprConcat:
		sb.WriteByte('(')
		for _, a := range n.args {
			s.write(sb, a)
		}
		sb.WriteByte(')')
	case exprOr:
		sb.WriteByte('(')
		for i, a := range n.args {
			if i > 0 {
				sb.WriteByte('|')
			}
			s.write(sb, a)
		}
		sb.WriteByte(')')
	case exprRepeat:
		s.write(sb, n.args[0])
		if n.max == Unbounded {
			fmt.Fprintf(sb, "{%d,}", n.min)
		} else {
			fmt.Fprintf(sb, "{%d,%d}", n.min, n.max)
		}
	}
}
