package gmatch

import (
	"encoding/binary"
	"fmt"
	"math/bits"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
)

// LexemeIdx is the position of a lexeme in the grammar's lexeme list
type LexemeIdx uint16

// StateID identifies a lexer state.  States are hash-consed, so the
// same set of residual lexemes always gets the same id.
type StateID uint32

// DeadState is the empty set of lexemes, nothing can ever match from
// it and every transition out of it leads back to it
const DeadState StateID = 0

// Lexeme is a token class of the grammar
type Lexeme struct {
	Name string
	Expr ExprRef
	// Lazy lexemes end as soon as they match instead of looking
	// for the longest match
	Lazy bool
	// Ignore marks the lexemes declared with `%ignore`; they may
	// show up between any two other lexemes
	Ignore bool
}

// LexemeSet is a bitmap of lexeme indexes
type LexemeSet []uint64

func NewLexemeSet(n int) LexemeSet {
	return make(LexemeSet, (n+63)/64)
}

func (s LexemeSet) Add(i LexemeIdx)      { s[i>>6] |= 1 << (i & 63) }
func (s LexemeSet) Has(i LexemeIdx) bool { return int(i>>6) < len(s) && s[i>>6]&(1<<(i&63)) != 0 }

func (s LexemeSet) IsEmpty() bool {
	for _, w := range s {
		if w != 0 {
			return false
		}
	}
	return true
}

func (s LexemeSet) Clone() LexemeSet {
	return append(LexemeSet(nil), s...)
}

// Each calls `fn` for every lexeme in the set, in increasing order
func (s LexemeSet) Each(fn func(LexemeIdx)) {
	for w, word := range s {
		for word != 0 {
			b := bits.TrailingZeros64(word)
			fn(LexemeIdx(w<<6 | b))
			word &= word - 1
		}
	}
}

func (s LexemeSet) key() string {
	var sb strings.Builder
	var buf [8]byte
	for _, w := range s {
		binary.LittleEndian.PutUint64(buf[:], w)
		sb.Write(buf[:])
	}
	return sb.String()
}

type lexemePair struct {
	lexeme LexemeIdx
	expr   ExprRef
}

// lexerState is one node of the automaton.  `next` holds one slot per
// byte with zero meaning unknown and any other value the target id
// plus one.
type lexerState struct {
	pairs []lexemePair

	// accepting holds the lexemes whose residual matches the empty
	// string, meaning the input consumed so far is a full match
	accepting LexemeSet
	// lazyAccept tells that a lazy lexeme is among `accepting`
	lazyAccept bool
	// onlyIgnore tells that every accepting lexeme is an ignored one
	onlyIgnore bool

	next [256]atomic.Uint32
}

func lexerStateKey(s *lexerState) string {
	var sb strings.Builder
	var buf [6]byte
	for _, p := range s.pairs {
		binary.LittleEndian.PutUint16(buf[:2], uint16(p.lexeme))
		binary.LittleEndian.PutUint32(buf[2:], uint32(p.expr))
		sb.Write(buf[:])
	}
	return sb.String()
}

// Lexer is the lazily built automaton recognizing the lexemes of a
// grammar.  States are sets of (lexeme, residual regex) pairs and
// transitions are computed with regex derivatives the first time
// they're needed.  Reads of known transitions take no lock, so a
// single Lexer is shared by every matcher created for a grammar.
type Lexer struct {
	exprs   *ExprSet
	lexemes []Lexeme
	states  *HashCons[*lexerState]

	maxStates int

	startMu sync.Mutex
	starts  map[string]StateID
}

// NewLexer creates the automaton for `lexemes`.  `maxStates` caps the
// number of states that can be created, zero disables the check.
func NewLexer(exprs *ExprSet, lexemes []Lexeme, maxStates int) *Lexer {
	l := &Lexer{
		exprs:     exprs,
		lexemes:   lexemes,
		states:    NewHashCons(lexerStateKey),
		maxStates: maxStates,
		starts:    map[string]StateID{},
	}
	l.states.Insert(l.newState(nil))
	return l
}

func (l *Lexer) newState(pairs []lexemePair) *lexerState {
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].lexeme != pairs[j].lexeme {
			return pairs[i].lexeme < pairs[j].lexeme
		}
		return pairs[i].expr < pairs[j].expr
	})
	st := &lexerState{pairs: pairs, accepting: NewLexemeSet(len(l.lexemes)), onlyIgnore: true}
	anyAccepting := false
	for _, p := range pairs {
		if !l.exprs.Nullable(p.expr) {
			continue
		}
		anyAccepting = true
		st.accepting.Add(p.lexeme)
		lx := l.lexemes[p.lexeme]
		if lx.Lazy {
			st.lazyAccept = true
		}
		if !lx.Ignore {
			st.onlyIgnore = false
		}
	}
	if !anyAccepting {
		st.onlyIgnore = false
	}
	return st
}

func (l *Lexer) insert(pairs []lexemePair) (StateID, error) {
	// a full regex table turns residuals into NoMatch, so check it
	// before trusting the pairs
	if err := l.exprs.CheckSize(); err != nil {
		return DeadState, err
	}
	if len(pairs) == 0 {
		return DeadState, nil
	}
	id, _, err := l.states.Insert(l.newState(pairs))
	if err != nil {
		return DeadState, err
	}
	if l.maxStates > 0 && int(id) >= l.maxStates {
		return DeadState, fmt.Errorf("%w: more than %d states", ErrLexerTooComplex, l.maxStates)
	}
	return StateID(id), nil
}

// Lexemes returns the lexeme definitions
func (l *Lexer) Lexemes() []Lexeme { return l.lexemes }

// Exprs returns the regex set the lexemes were built from
func (l *Lexer) Exprs() *ExprSet { return l.exprs }

// NumStates tells how many states were created so far
func (l *Lexer) NumStates() int { return l.states.Len() }

// Start returns the state where any lexeme in `allowed` can begin.
// Start states are memoized per set.
func (l *Lexer) Start(allowed LexemeSet) (StateID, error) {
	k := allowed.key()
	l.startMu.Lock()
	defer l.startMu.Unlock()
	if id, ok := l.starts[k]; ok {
		return id, nil
	}
	var pairs []lexemePair
	allowed.Each(func(i LexemeIdx) {
		if e := l.lexemes[i].Expr; e != NoMatch {
			pairs = append(pairs, lexemePair{lexeme: i, expr: e})
		}
	})
	id, err := l.insert(pairs)
	if err != nil {
		return DeadState, err
	}
	l.starts[k] = id
	return id, nil
}

// Transition returns the state reached from `s` after byte `b`.  The
// result is computed once and memoized; racing goroutines compute the
// same id, so whichever publishes last is as good as the first.
func (l *Lexer) Transition(s StateID, b byte) (StateID, error) {
	if s == DeadState {
		return DeadState, nil
	}
	st := l.states.Lookup(uint32(s))
	if n := st.next[b].Load(); n != 0 {
		return StateID(n - 1), nil
	}
	var pairs []lexemePair
	for _, p := range st.pairs {
		if d := l.exprs.Derivative(p.expr, b); d != NoMatch {
			pairs = append(pairs, lexemePair{lexeme: p.lexeme, expr: d})
		}
	}
	id, err := l.insert(pairs)
	if err != nil {
		return DeadState, err
	}
	st.next[b].Store(uint32(id) + 1)
	return id, nil
}

// Accepting returns the lexemes fully matched upon reaching `s`
func (l *Lexer) Accepting(s StateID) LexemeSet {
	return l.states.Lookup(uint32(s)).accepting
}

// IsAccepting tells if any lexeme is fully matched at `s`
func (l *Lexer) IsAccepting(s StateID) bool {
	return !l.Accepting(s).IsEmpty()
}

// LazyAccepting tells if a lazy lexeme is fully matched at `s`, in
// which case the lexeme ends right away
func (l *Lexer) LazyAccepting(s StateID) bool {
	return l.states.Lookup(uint32(s)).lazyAccept
}

// OnlyIgnoreAccepting tells if the only lexemes matched at `s` are
// the ones declared with `%ignore`
func (l *Lexer) OnlyIgnoreAccepting(s StateID) bool {
	return l.states.Lookup(uint32(s)).onlyIgnore
}

// Live returns the lexemes still reachable from `s`
func (l *Lexer) Live(s StateID) LexemeSet {
	out := NewLexemeSet(len(l.lexemes))
	for _, p := range l.states.Lookup(uint32(s)).pairs {
		out.Add(p.lexeme)
	}
	return out
}

// Describe renders a state for debugging
func (l *Lexer) Describe(s StateID) string {
	if s == DeadState {
		return "DEAD"
	}
	var sb strings.Builder
	for i, p := range l.states.Lookup(uint32(s)).pairs {
		if i > 0 {
			sb.WriteString(", ")
		}
		fmt.Fprintf(&sb, "%s:%s", l.lexemes[p.lexeme].Name, l.exprs.String(p.expr))
	}
	return sb.String()
}
