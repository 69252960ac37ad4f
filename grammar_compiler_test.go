package gmatch

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clarete/gmatch/toktrie"
)

func compileText(t *testing.T, text string, opts CompileOptions) (*Grammar, error) {
	t.Helper()
	if opts.Logger == nil {
		opts.Logger = NopLogger()
	}
	src, err := ParseGrammarSource(text)
	require.NoError(t, err)
	return Compile(src, opts)
}

func mustCompile(t *testing.T, text string) *Grammar {
	t.Helper()
	g, err := compileText(t, text, CompileOptions{Tok: toktrie.NewByteTokenizer()})
	require.NoError(t, err)
	return g
}

func symbolNames(g *Grammar) []string {
	names := make([]string, g.NumSymbols())
	for i := range names {
		names[i] = g.Symbol(SymbolID(i)).Name
	}
	return names
}

func TestCompilerErrors(t *testing.T) {
	tok := toktrie.NewFromTokens([]string{"a", "b"}, []string{"<|end|>", "</s>"}, "</s>")
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{name: "no start", input: `a: "x"`, expected: "no start rule"},
		{name: "duplicate rule", input: "start: a\na: \"x\"\na: \"y\"", expected: `duplicate rule "a"`},
		{name: "duplicate token", input: "start: A\nA: \"x\"\nA: \"y\"", expected: `duplicate token "A"`},
		{name: "unknown rule", input: `start: x`, expected: `unknown name: "x"`},
		{name: "unknown token", input: `start: X`, expected: `unknown name: "X"`},
		{name: "invalid regex", input: `start: /a(/`, expected: "invalid regex"},
		{name: "unknown special token", input: `start: <|x|>`, expected: "unknown special token: <|x|>"},
		{name: "bad options", input: "%llguidance {\"nope\": 1}\nstart: \"a\"", expected: "failed to parse %llguidance declaration"},
		{name: "options type", input: "%llguidance {\"no_forcing\": \"yes\"}\nstart: \"a\"", expected: "failed to parse %llguidance declaration"},
		{name: "rule in token", input: "start: A\nA: \"x\" b\nb: \"y\"", expected: `rule "b" cannot be used in terminals`},
		{name: "circular token", input: "start: A\nA: \"x\" B\nB: A", expected: `circular reference in token`},
		{name: "unknown common token", input: "%import common.NOPE\nstart: NOPE", expected: `Unknown common token "NOPE"`},
		{name: "unknown common module", input: "%import other.WS\nstart: WS", expected: `Unknown common module "other"`},
		{name: "unknown grammar", input: `start: @nope`, expected: `unknown grammar "nope"`},
		{name: "bad schema", input: `start: %json {"type": "nope"}`, expected: "failed to compile JSON schema"},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			_, err := compileText(t, test.input, CompileOptions{Tok: tok})
			require.Error(t, err)
			assert.Contains(t, err.Error(), test.expected)
		})
	}
}

func TestCompilerErrorNamesRule(t *testing.T) {
	_, err := compileText(t, "start: a\na: missing", CompileOptions{})
	require.Error(t, err)

	var gerr *GrammarError
	require.ErrorAs(t, err, &gerr)
	assert.Equal(t, "a", gerr.Rule)
	assert.Equal(t, `unknown name: "missing" (in rule "a")`, err.Error())
}

func TestCompilerEmptyLiteral(t *testing.T) {
	g := mustCompile(t, `start: "" "a"`)
	out := g.String()
	assert.Contains(t, out, `"" ::= ε`)
	assert.Contains(t, out, `start ::= "" "a"`)
	assert.Len(t, g.Lexer().Lexemes(), 1)
}

func TestCompilerNullableRegex(t *testing.T) {
	g := mustCompile(t, `start: /a*/`)
	out := g.String()
	assert.Contains(t, out, "/a*/? ::= ε\n")
	assert.Contains(t, out, "/a*/? ::= /a*/\n")
	assert.Contains(t, out, "start ::= /a*/?\n")
	assert.True(t, g.Symbol(g.Start()).Nullable)

	lexemes := g.Lexer().Lexemes()
	require.Len(t, lexemes, 1)
	assert.False(t, g.Lexer().Exprs().Nullable(lexemes[0].Expr))
}

func TestCompilerDedupesLexemes(t *testing.T) {
	t.Run("literals", func(t *testing.T) {
		g := mustCompile(t, `start: "a" "a" "b"`)
		assert.Len(t, g.Lexer().Lexemes(), 2)
	})

	t.Run("lazy tokens", func(t *testing.T) {
		g := mustCompile(t, "start: A B\nA[lazy]: /x+y/\nB[lazy]: /x+y/")
		lexemes := g.Lexer().Lexemes()
		require.Len(t, lexemes, 1)
		assert.True(t, lexemes[0].Lazy)
		assert.Contains(t, g.String(), "start ::= A A\n")
	})

	t.Run("lazy and greedy differ", func(t *testing.T) {
		g := mustCompile(t, "start: A B\nA[lazy]: /x+y/\nB: /x+y/")
		assert.Len(t, g.Lexer().Lexemes(), 2)
	})
}

func TestCompilerStopAttribute(t *testing.T) {
	g := mustCompile(t, "start: body\nbody[stop=\"END\"]: /[a-z]*/")
	lexemes := g.Lexer().Lexemes()
	require.Len(t, lexemes, 1)
	assert.True(t, lexemes[0].Lazy)
	exprs := g.Lexer().Exprs()
	assert.True(t, exprs.Matches(lexemes[0].Expr, []byte("abcEND")))
	assert.False(t, exprs.Matches(lexemes[0].Expr, []byte("abc")))
}

func TestCompilerWarnings(t *testing.T) {
	g := mustCompile(t, "start: a b\na[max_tokens=3]: \"x\"\nb[capture=\"v\"]: \"y\"")
	assert.Equal(t, []string{
		`max_tokens has no effect on rule "a"`,
		`capture has no effect on rule "b"`,
	}, g.Warnings)
}

func TestCompilerOptions(t *testing.T) {
	g := mustCompile(t, "%llguidance {\"no_forcing\": true, \"allow_initial_skip\": true}\nstart: \"a\"")
	assert.True(t, g.Options.NoForcing)
	assert.True(t, g.Options.AllowInitialSkip)

	g = mustCompile(t, "start: \"a\"")
	assert.Equal(t, GrammarOptions{}, g.Options)
}

func TestCompilerCommonImports(t *testing.T) {
	g := mustCompile(t, "%import common.INT\n%import common.WS -> SPACE\n%ignore SPACE\nstart: INT")
	names := symbolNames(g)
	assert.Contains(t, names, "INT")

	lexemes := g.Lexer().Lexemes()
	require.Len(t, lexemes, 2)
	ignored := 0
	for _, lx := range lexemes {
		if lx.Ignore {
			ignored++
		}
	}
	assert.Equal(t, 1, ignored)
}

func TestCompilerGrammarList(t *testing.T) {
	text := `{"grammars": [
		{"name": "main", "lark_grammar": "start: \"<\" @inner \">\""},
		{"name": "inner", "lark_grammar": "start: /[0-9]+/"}
	]}`
	g := mustCompile(t, text)
	assert.Equal(t, "main", g.Name)
	names := symbolNames(g)
	assert.Contains(t, names, "@inner")
	assert.Contains(t, names, "inner::start")
}

func TestCompilerInlineSources(t *testing.T) {
	t.Run("json", func(t *testing.T) {
		g := mustCompile(t, `start: "x" %json {"type": "integer"} %json {"type": "integer"}`)
		var subs []string
		for _, n := range symbolNames(g) {
			if strings.HasSuffix(n, "::start") {
				subs = append(subs, n)
			}
		}
		// the same schema compiles once
		assert.Equal(t, []string{"json_1::start"}, subs)
	})

	t.Run("lark", func(t *testing.T) {
		g := mustCompile(t, "start: \"x\" %lark {\nstart: \"y\"\n}")
		assert.Contains(t, symbolNames(g), "lark_1::start")
	})
}

func TestCompilerSubGrammarOptionsWarn(t *testing.T) {
	g := mustCompile(t, "start: %lark {\n%llguidance {}\nstart: \"y\"\n%ignore \" \"\n}")
	assert.Equal(t, []string{
		`%llguidance in sub-grammar "lark_1" is ignored`,
		`%ignore in sub-grammar "lark_1" applies to the whole grammar`,
	}, g.Warnings)
}

func TestCompilerSources(t *testing.T) {
	t.Run("regex", func(t *testing.T) {
		g, err := Compile(&RegexSource{Name: "re", Pattern: "[0-9]+"}, CompileOptions{Logger: NopLogger()})
		require.NoError(t, err)
		assert.Equal(t, "re", g.Name)
		assert.Len(t, g.Lexer().Lexemes(), 1)
	})

	t.Run("schema", func(t *testing.T) {
		g, err := Compile(&JSONSchemaSource{Name: "obj", Schema: []byte(`{"type": "boolean"}`)}, CompileOptions{Logger: NopLogger()})
		require.NoError(t, err)
		assert.Equal(t, "obj", g.Name)
	})

	t.Run("empty list", func(t *testing.T) {
		_, err := Compile(&GrammarList{}, CompileOptions{Logger: NopLogger()})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "empty grammar list")
	})
}

func TestCompilerLimits(t *testing.T) {
	t.Run("grammar size", func(t *testing.T) {
		text := "start: a b c\na: \"x\"\nb: \"y\"\nc: \"z\""
		_, err := compileText(t, text, CompileOptions{Limits: Limits{MaxGrammarSize: 5}})
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrGrammarTooLarge)
	})

	t.Run("row size", func(t *testing.T) {
		text := "start: a | b | c | d\na: \"1\"\nb: \"2\"\nc: \"3\"\nd: \"4\""
		_, err := compileText(t, text, CompileOptions{Limits: Limits{MaxItemsInRow: 3}})
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrRowTooLarge)
	})

	t.Run("lexer states", func(t *testing.T) {
		_, err := compileText(t, `start: "a"`, CompileOptions{Limits: Limits{MaxLexerStates: 1}})
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrLexerTooComplex)
	})

	t.Run("unlimited", func(t *testing.T) {
		_, err := compileText(t, `start: "a"`, CompileOptions{})
		require.NoError(t, err)
	})
}
