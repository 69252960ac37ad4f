package gmatch

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clarete/gmatch/jsonschema"
	"github.com/clarete/gmatch/toktrie"
)

func TestFactoryCachesGrammars(t *testing.T) {
	f := newTestFactory(toktrie.NewByteTokenizer())

	m1, err := f.NewMatcher(`start: "a"`)
	require.NoError(t, err)
	m2, err := f.NewMatcher(`start: "a"`)
	require.NoError(t, err)
	assert.Same(t, m1.Grammar(), m2.Grammar())

	stats := f.Stats()
	assert.Equal(t, 1, stats.Misses)
	assert.Equal(t, 1, stats.Hits)
	assert.Equal(t, 1, stats.CachedCount)

	// errors are cached as well
	_, err = f.NewMatcher(`start: nope`)
	require.Error(t, err)
	_, err = f.NewMatcher(`start: nope`)
	require.Error(t, err)
	assert.Equal(t, 2, f.Stats().Misses)

	f.ClearCache()
	m3, err := f.NewMatcher(`start: "a"`)
	require.NoError(t, err)
	assert.NotSame(t, m1.Grammar(), m3.Grammar())
	assert.Equal(t, 1, f.Stats().Revision)
}

func TestFactorySourcesAreNotCached(t *testing.T) {
	f := newTestFactory(toktrie.NewByteTokenizer())
	m, err := f.NewMatcherFromSource(&RegexSource{Pattern: "[0-9]+"})
	require.NoError(t, err)
	consumeString(t, m, "42")
	assert.True(t, m.IsAccepting())
	assert.Equal(t, 0, f.Stats().CachedCount)
}

func TestFactoryValidateGrammar(t *testing.T) {
	f := newTestFactory(toktrie.NewByteTokenizer())

	ok, msg := f.ValidateGrammar(`start: "a"`)
	assert.True(t, ok)
	assert.Empty(t, msg)

	ok, msg = f.ValidateGrammar(`start: x`)
	assert.False(t, ok)
	assert.Equal(t, `unknown name: "x" (in rule "start")`, msg)

	ok, msg = f.ValidateGrammar(`{"grammars": []}`)
	assert.False(t, ok)
	assert.Contains(t, msg, "grammar list is empty")

	ok, warnings := f.ValidateGrammarWithWarnings("start: a\na[max_tokens=2]: \"x\"")
	assert.True(t, ok)
	assert.Equal(t, []string{`max_tokens has no effect on rule "a"`}, warnings)

	ok, warnings = f.ValidateGrammarWithWarnings(`start: <|nope|>`)
	assert.False(t, ok)
	assert.Equal(t, []string{`unknown special token: <|nope|> (in rule "start")`}, warnings)
}

func TestFactoryConfig(t *testing.T) {
	cfg := NewConfig()
	cfg.SetInt("executor.num_threads", 3)
	cfg.SetInt("limits.max_lexer_states", 1)
	cfg.SetBool("jsonschema.whitespace_flexible", false)
	f := newTestFactory(toktrie.NewByteTokenizer(), WithConfig(cfg))

	assert.Equal(t, 3, f.threads)
	assert.Equal(t, 1, f.limits.MaxLexerStates)
	assert.False(t, f.schemaOpts.WhitespaceFlexible)

	_, err := f.NewMatcher(`start: "a"`)
	require.ErrorIs(t, err, ErrLexerTooComplex)
}

func TestFactorySchemaOptions(t *testing.T) {
	compact := jsonschema.DefaultOptions()
	compact.WhitespaceFlexible = false
	compact.ItemSeparator = ", "
	f := newTestFactory(toktrie.NewByteTokenizer(), WithSchemaOptions(compact))

	m, err := f.NewMatcher(`{"grammars": [{"json_schema": {"type": "array"}}]}`)
	require.NoError(t, err)
	n, err := m.ValidateTokens(byteTokens("[1, 2,3]"))
	require.NoError(t, err)
	// the item separator is ", " verbatim
	assert.Equal(t, 6, n)
}

func TestFactoryImportLoader(t *testing.T) {
	dir := t.TempDir()
	main := filepath.Join(dir, "main.lark")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "digits.lark"), []byte(`start: /[0-9]+/`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "flag.json"), []byte(`{"type": "boolean"}`), 0o644))

	f := newTestFactory(toktrie.NewByteTokenizer(),
		WithImportLoader(NewRelativeImportLoader()),
		WithGrammarPath(main))
	m, err := f.NewMatcher(`start: @digits "=" @flag`)
	require.NoError(t, err)
	consumeString(t, m, "12=true")
	assert.True(t, m.IsAccepting())

	// without the path references are looked up in the working directory
	f = newTestFactory(toktrie.NewByteTokenizer(), WithImportLoader(NewRelativeImportLoader()))
	_, err = f.NewMatcher(`start: @digits "=" @flag`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown grammar "digits"`)
}

func TestFactoryLogsWarnings(t *testing.T) {
	var buf bytes.Buffer
	f := NewFactory(toktrie.NewByteTokenizer(), WithLogger(NewLogger(&buf, LevelTrace)))

	m, err := f.NewMatcher("start: a\na[capture=\"x\"]: \"y\"")
	require.NoError(t, err)
	consumeString(t, m, "y")

	out := buf.String()
	assert.Contains(t, out, `msg="grammar warning"`)
	assert.Contains(t, out, "level=TRACE")
	assert.Contains(t, out, "consumed token")
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		assert.Contains(t, line, "source=")
	}
}
