package gmatch

import (
	"errors"
	"log/slog"
	"runtime"

	"github.com/clarete/gmatch/jsonschema"
	"github.com/clarete/gmatch/toktrie"
)

// Factory compiles grammars for one vocabulary and creates matchers
// for them.  Compiled grammars are cached by text.  A Factory is safe
// for concurrent use.
type Factory struct {
	tok        toktrie.TokEnv
	limits     Limits
	logger     *slog.Logger
	threads    int
	loader     ImportLoader
	path       string
	schemaOpts jsonschema.Options

	db            *Database
	compiledQuery *Query[string, *Grammar]
}

type FactoryOption func(*Factory)

// WithConfig takes limits, the executor thread count and the JSON
// schema white space setting from `cfg`
func WithConfig(cfg *Config) FactoryOption {
	return func(f *Factory) {
		f.limits = cfg.Limits()
		f.threads = cfg.GetInt("executor.num_threads")
		f.schemaOpts.WhitespaceFlexible = cfg.GetBool("jsonschema.whitespace_flexible")
	}
}

func WithLogger(logger *slog.Logger) FactoryOption {
	return func(f *Factory) { f.logger = logger }
}

func WithLimits(limits Limits) FactoryOption {
	return func(f *Factory) { f.limits = limits }
}

// WithThreads bounds how many matchers ComputeMasks works on at once
func WithThreads(n int) FactoryOption {
	return func(f *Factory) { f.threads = n }
}

// WithImportLoader sets where `@name` references are looked up
func WithImportLoader(loader ImportLoader) FactoryOption {
	return func(f *Factory) { f.loader = loader }
}

// WithGrammarPath sets the file grammars are read from, so that `@name`
// references are looked up next to it
func WithGrammarPath(path string) FactoryOption {
	return func(f *Factory) { f.path = path }
}

// WithSchemaOptions sets the options for JSON schema grammars
func WithSchemaOptions(opts jsonschema.Options) FactoryOption {
	return func(f *Factory) { f.schemaOpts = opts }
}

// NewFactory creates a factory for the vocabulary of `tok`
func NewFactory(tok toktrie.TokEnv, opts ...FactoryOption) *Factory {
	f := &Factory{
		tok:        tok,
		limits:     DefaultLimits(),
		logger:     slog.Default(),
		threads:    runtime.GOMAXPROCS(0),
		schemaOpts: jsonschema.DefaultOptions(),
		db:         NewDatabase(),
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.threads < 1 {
		f.threads = 1
	}
	f.compiledQuery = &Query[string, *Grammar]{
		Name: "CompiledGrammar",
		Compute: func(_ *Database, text string) (*Grammar, error) {
			src, err := ParseGrammarSource(text)
			if err != nil {
				return nil, &GrammarError{Message: err.Error(), Err: err}
			}
			return f.compile(src)
		},
	}
	return f
}

// VocabSize returns the number of tokens of the vocabulary
func (f *Factory) VocabSize() int { return f.tok.VocabSize() }

// MaskByteLen returns the size of one mask in bytes
func (f *Factory) MaskByteLen() int { return 4 * toktrie.WordsFor(f.tok.VocabSize()) }

// EOSToken returns the end of sequence token
func (f *Factory) EOSToken() toktrie.TokenID { return f.tok.EOSToken() }

// TokEnv returns the tokenizer of the factory
func (f *Factory) TokEnv() toktrie.TokEnv { return f.tok }

// Stats returns the statistics of the grammar cache
func (f *Factory) Stats() DatabaseStats { return f.db.Stats() }

// ClearCache drops every compiled grammar
func (f *Factory) ClearCache() { f.db.InvalidateAll() }

func (f *Factory) compile(src GrammarSource) (*Grammar, error) {
	return Compile(src, CompileOptions{
		Tok:           f.tok,
		Limits:        f.limits,
		Loader:        f.loader,
		Path:          f.path,
		Logger:        f.logger,
		SchemaOptions: f.schemaOpts,
	})
}

// CompileGrammar compiles `text`, a Lark grammar or a JSON grammar
// list, reusing the result of earlier calls with the same text
func (f *Factory) CompileGrammar(text string) (*Grammar, error) {
	return Get(f.db, f.compiledQuery, text)
}

// NewMatcher compiles `text` and creates a matcher for it
func (f *Factory) NewMatcher(text string) (*Matcher, error) {
	g, err := f.CompileGrammar(text)
	if err != nil {
		return nil, err
	}
	return NewMatcher(g, f.tok, f.logger)
}

// NewMatcherFromSource compiles `src` and creates a matcher for it.
// Sources are not cached.
func (f *Factory) NewMatcherFromSource(src GrammarSource) (*Matcher, error) {
	g, err := f.compile(src)
	if err != nil {
		return nil, err
	}
	return NewMatcher(g, f.tok, f.logger)
}

// ValidateGrammar compiles `text` without creating a matcher and
// returns the error message when compilation fails
func (f *Factory) ValidateGrammar(text string) (bool, string) {
	if _, err := f.CompileGrammar(text); err != nil {
		return false, err.Error()
	}
	return true, ""
}

// ValidateGrammarWithWarnings is like ValidateGrammar but also returns
// the warnings of the compiler.  On failure the error message comes
// first.
func (f *Factory) ValidateGrammarWithWarnings(text string) (bool, []string) {
	g, err := f.CompileGrammar(text)
	if err != nil {
		var gerr *GrammarError
		if errors.As(err, &gerr) {
			return false, []string{gerr.Error()}
		}
		return false, []string{err.Error()}
	}
	return true, append([]string(nil), g.Warnings...)
}
