package gmatch

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	lexAB LexemeIdx = iota
	lexAPlus
	lexLazyXY
	lexSpaces
)

func newTestLexer(t *testing.T, maxStates int) *Lexer {
	t.Helper()
	s := NewExprSet(0)
	return NewLexer(s, []Lexeme{
		lexAB:     {Name: "AB", Expr: s.Literal([]byte("ab"))},
		lexAPlus:  {Name: "A", Expr: mustParse(t, s, "a+", RegexFlags{})},
		lexLazyXY: {Name: "XY", Expr: mustParse(t, s, "x+y", RegexFlags{}), Lazy: true},
		lexSpaces: {Name: "WS", Expr: mustParse(t, s, " +", RegexFlags{}), Ignore: true},
	}, maxStates)
}

func lexemeSet(n int, idx ...LexemeIdx) LexemeSet {
	s := NewLexemeSet(n)
	for _, i := range idx {
		s.Add(i)
	}
	return s
}

func walk(t *testing.T, l *Lexer, s StateID, input string) StateID {
	t.Helper()
	for i := 0; i < len(input); i++ {
		var err error
		s, err = l.Transition(s, input[i])
		require.NoError(t, err)
	}
	return s
}

func TestLexerTransitions(t *testing.T) {
	l := newTestLexer(t, 0)
	start, err := l.Start(lexemeSet(4, lexAB, lexAPlus))
	require.NoError(t, err)
	require.NotEqual(t, DeadState, start)
	assert.False(t, l.IsAccepting(start))

	s := walk(t, l, start, "a")
	assert.True(t, l.Accepting(s).Has(lexAPlus))
	assert.False(t, l.Accepting(s).Has(lexAB))
	assert.True(t, l.Live(s).Has(lexAB))

	s = walk(t, l, s, "b")
	assert.True(t, l.Accepting(s).Has(lexAB))
	assert.False(t, l.Accepting(s).Has(lexAPlus))
	assert.False(t, l.Live(s).Has(lexAPlus))

	assert.Equal(t, DeadState, walk(t, l, s, "c"))
	assert.Equal(t, DeadState, walk(t, l, DeadState, "abc"))
	assert.Equal(t, "DEAD", l.Describe(DeadState))
}

func TestLexerStatesAreShared(t *testing.T) {
	l := newTestLexer(t, 0)
	both, err := l.Start(lexemeSet(4, lexAB, lexAPlus))
	require.NoError(t, err)
	onlyAB, err := l.Start(lexemeSet(4, lexAB))
	require.NoError(t, err)

	again, err := l.Start(lexemeSet(4, lexAPlus, lexAB))
	require.NoError(t, err)
	assert.Equal(t, both, again)

	// both paths end up with only `AB` fully matched
	assert.Equal(t, walk(t, l, both, "ab"), walk(t, l, onlyAB, "ab"))

	n := l.NumStates()
	walk(t, l, both, "ab")
	assert.Equal(t, n, l.NumStates())
}

func TestLexerLazyAndIgnore(t *testing.T) {
	l := newTestLexer(t, 0)
	start, err := l.Start(lexemeSet(4, lexLazyXY, lexSpaces))
	require.NoError(t, err)

	s := walk(t, l, start, "xx")
	assert.False(t, l.LazyAccepting(s))
	s = walk(t, l, s, "y")
	assert.True(t, l.LazyAccepting(s))

	s = walk(t, l, start, "  ")
	assert.True(t, l.OnlyIgnoreAccepting(s))
	assert.False(t, l.OnlyIgnoreAccepting(start))
}

func TestLexerTooComplex(t *testing.T) {
	l := newTestLexer(t, 3)
	start, err := l.Start(lexemeSet(4, lexAB, lexAPlus))
	require.NoError(t, err)
	s, err := l.Transition(start, 'a')
	require.NoError(t, err)
	_, err = l.Transition(s, 'b')
	assert.ErrorIs(t, err, ErrLexerTooComplex)
}

func TestLexerStateTableFull(t *testing.T) {
	l := newTestLexer(t, 0)
	start, err := l.Start(lexemeSet(4, lexAB, lexAPlus))
	require.NoError(t, err)
	l.states.limit = uint32(l.NumStates())
	_, err = l.Transition(start, 'a')
	assert.ErrorIs(t, err, ErrGrammarTooLarge)
}

func TestLexerConcurrentTransitions(t *testing.T) {
	l := newTestLexer(t, 0)
	start, err := l.Start(lexemeSet(4, lexAB, lexAPlus, lexLazyXY, lexSpaces))
	require.NoError(t, err)

	inputs := []string{"aaaa", "ab", "xxxy", "   ", "aab"}
	var (
		wg      sync.WaitGroup
		results = make([][]StateID, 16)
	)
	for g := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for _, in := range inputs {
				s := start
				for i := 0; i < len(in); i++ {
					s, _ = l.Transition(s, in[i])
				}
				results[g] = append(results[g], s)
			}
		}()
	}
	wg.Wait()
	for g := 1; g < len(results); g++ {
		assert.Equal(t, results[0], results[g])
	}
}

func TestLexemeSet(t *testing.T) {
	s := lexemeSet(130, 0, 64, 129)
	assert.True(t, s.Has(64))
	assert.False(t, s.Has(65))
	assert.False(t, s.Has(1000))

	var got []LexemeIdx
	s.Each(func(i LexemeIdx) { got = append(got, i) })
	assert.Equal(t, []LexemeIdx{0, 64, 129}, got)

	c := s.Clone()
	c.Add(1)
	assert.False(t, s.Has(1))
	assert.True(t, NewLexemeSet(10).IsEmpty())
}
