package gmatch

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustParse(t *testing.T, s *ExprSet, pattern string, flags RegexFlags) ExprRef {
	t.Helper()
	e, err := s.Parse(pattern, flags)
	require.NoError(t, err, pattern)
	return e
}

func TestRegexMatches(t *testing.T) {
	tests := []struct {
		pattern string
		flags   RegexFlags
		match   []string
		noMatch []string
	}{
		{
			pattern: "[aA][bB][cC]",
			match:   []string{"abc", "ABC", "aBc"},
			noMatch: []string{"", "ab", "abcd", "xbc"},
		},
		{
			pattern: "foo[12]23|bar",
			match:   []string{"foo123", "foo223", "bar"},
			noMatch: []string{"foo1", "foo323", "ba"},
		},
		{
			pattern: "a{2,3}",
			match:   []string{"aa", "aaa"},
			noMatch: []string{"a", "aaaa"},
		},
		{
			pattern: "(ab)*c+",
			match:   []string{"c", "ababccc"},
			noMatch: []string{"", "abc" + "a", "aab"},
		},
		{
			pattern: "^x?$",
			match:   []string{"", "x"},
			noMatch: []string{"xx"},
		},
		{
			pattern: "[α-ω]+",
			match:   []string{"β", "λμ"},
			noMatch: []string{"a", "Ω"},
		},
		{
			pattern: "é",
			flags:   RegexFlags{FoldCase: true},
			match:   []string{"é", "É"},
			noMatch: []string{"e"},
		},
		{
			pattern: "a.b",
			match:   []string{"axb", "a€b"},
			noMatch: []string{"a\nb"},
		},
		{
			pattern: "a.b",
			flags:   RegexFlags{DotNL: true},
			match:   []string{"a\nb"},
		},
		{
			pattern: `[^a]`,
			match:   []string{"b", "😀"},
			noMatch: []string{"a", "bb"},
		},
	}
	for _, test := range tests {
		t.Run(test.pattern, func(t *testing.T) {
			s := NewExprSet(0)
			e := mustParse(t, s, test.pattern, test.flags)
			for _, in := range test.match {
				assert.True(t, s.Matches(e, []byte(in)), "%q should match", in)
			}
			for _, in := range test.noMatch {
				assert.False(t, s.Matches(e, []byte(in)), "%q should not match", in)
			}
		})
	}
}

func TestRegexSurrogatesHaveNoEncoding(t *testing.T) {
	s := NewExprSet(0)
	e := mustParse(t, s, `[\x{D000}-\x{E000}]`, RegexFlags{})
	assert.True(t, s.Matches(e, []byte("\uD7FF")))
	assert.True(t, s.Matches(e, []byte("\uE000")))
	// CESU style encoding of U+D800
	assert.False(t, s.Matches(e, []byte{0xED, 0xA0, 0x80}))
}

func TestRegexErrors(t *testing.T) {
	s := NewExprSet(0)
	_, err := s.Parse(`a\bb`, RegexFlags{})
	assert.ErrorContains(t, err, "word boundaries")
	_, err = s.Parse(`a(`, RegexFlags{})
	assert.Error(t, err)
}

func TestRegexCanonicalForm(t *testing.T) {
	s := NewExprSet(0)
	a, b, c := s.Byte('a'), s.Literal([]byte("bc")), s.Literal([]byte("cd"))

	assert.Equal(t, s.Or(b, c), s.Or(c, b))
	assert.Equal(t, s.Or(b, c), s.Or(b, s.Or(c, b)))
	assert.Equal(t, s.Concat(a, s.Concat(b, c)), s.Concat(s.Concat(a, b), c))
	assert.Equal(t, s.Bytes(ByteSetOf('a', 'b')), s.Or(a, s.Byte('b')))
	assert.Equal(t, NoMatch, s.Concat(a, NoMatch))
	assert.Equal(t, a, s.Concat(EmptyString, a, EmptyString))
	assert.Equal(t, a, s.Or(a, NoMatch))
	assert.Equal(t, EmptyString, s.Repeat(NoMatch, 0, Unbounded))
	assert.Equal(t, NoMatch, s.Repeat(a, 3, 2))

	// the same pattern parsed twice is the same node
	assert.Equal(t, mustParse(t, s, "x(y|z)*", RegexFlags{}), mustParse(t, s, "x(z|y)*", RegexFlags{}))
}

func TestRegexDerivative(t *testing.T) {
	s := NewExprSet(0)
	e := mustParse(t, s, "ab|ac", RegexFlags{})

	d := s.Derivative(e, 'a')
	assert.Equal(t, s.Bytes(ByteSetOf('b', 'c')), d)
	assert.Equal(t, EmptyString, s.Derivative(d, 'b'))
	assert.Equal(t, NoMatch, s.Derivative(d, 'x'))
	assert.Equal(t, NoMatch, s.Derivative(EmptyString, 'a'))

	// memoized derivatives are stable
	assert.Equal(t, d, s.Derivative(e, 'a'))
}

func TestRegexNonEmpty(t *testing.T) {
	s := NewExprSet(0)
	e := mustParse(t, s, "(ab)*", RegexFlags{})
	require.True(t, s.Nullable(e))

	ne := s.NonEmpty(e)
	assert.False(t, s.Nullable(ne))
	assert.False(t, s.Matches(ne, nil))
	assert.True(t, s.Matches(ne, []byte("ab")))
	assert.True(t, s.Matches(ne, []byte("abab")))
	assert.False(t, s.Matches(ne, []byte("a")))

	plain := s.Literal([]byte("x"))
	assert.Equal(t, plain, s.NonEmpty(plain))
}

func TestRegexCheckSize(t *testing.T) {
	s := NewExprSet(4)
	require.NoError(t, s.CheckSize())
	mustParse(t, s, "abcdef", RegexFlags{})
	assert.ErrorIs(t, s.CheckSize(), ErrGrammarTooLarge)
}

func TestRegexNodeTableFull(t *testing.T) {
	s := NewExprSet(0)
	s.nodes.limit = uint32(s.Len())
	assert.Equal(t, NoMatch, s.Byte('a'))
	assert.ErrorIs(t, s.CheckSize(), ErrGrammarTooLarge)
}

func TestRegexString(t *testing.T) {
	s := NewExprSet(0)
	assert.Equal(t, "NoMatch", s.String(NoMatch))
	assert.Equal(t, "ε", s.String(EmptyString))
	assert.Equal(t, "(ab)", s.String(s.Literal([]byte("ab"))))
	assert.Equal(t, "[a-c]{0,}", s.String(mustParse(t, s, "[a-c]*", RegexFlags{})))
}
