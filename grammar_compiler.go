package gmatch

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	"github.com/mitchellh/mapstructure"

	"github.com/clarete/gmatch/jsonschema"
	"github.com/clarete/gmatch/toktrie"
)

// CompileOptions carry what the compiler needs besides the grammar
// itself.  The zero value compiles without a tokenizer, with no
// limits and without support for `@name` references.
type CompileOptions struct {
	// Tok validates special tokens when set
	Tok    toktrie.TokEnv
	Limits Limits
	// Loader resolves `@name` references
	Loader ImportLoader
	// Path is where the grammar was read from, if anywhere.  The
	// loader resolves references relative to it.
	Path   string
	Logger *slog.Logger
	// SchemaOptions are used for `%json` and JSON schema sources
	SchemaOptions jsonschema.Options
}

// Compile turns a grammar source into a Grammar
func Compile(src GrammarSource, opts CompileOptions) (*Grammar, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.SchemaOptions == (jsonschema.Options{}) {
		opts.SchemaOptions = jsonschema.DefaultOptions()
	}
	c := &compiler{
		opts:    opts,
		exprs:   NewExprSet(opts.Limits.MaxGrammarSize),
		lexemes: map[lexemeKey]int{},
		subs:    map[string]SymbolID{},
		loader:  opts.Loader,
	}
	if list, ok := src.(*GrammarList); ok {
		if len(list.Grammars) == 0 {
			return nil, grammarErrorf("", "empty grammar list")
		}
		mem := NewInMemoryImportLoader()
		for _, g := range list.Grammars[1:] {
			mem.Add(g.SourceName(), g)
		}
		c.loader = chainLoader{mem, opts.Loader}
		src = list.Grammars[0]
	}
	start, err := c.compileSource(src, "", opts.Path)
	if err != nil {
		return nil, err
	}
	return c.finish(src.SourceName(), start)
}

// lexemeKey dedupes lexemes: the same regex is the same lexeme
type lexemeKey struct {
	expr   ExprRef
	lazy   bool
	ignore bool
}

type compiler struct {
	opts   CompileOptions
	exprs  *ExprSet
	loader ImportLoader

	lexemeList []Lexeme
	lexemes    map[lexemeKey]int
	terminals  map[int]SymbolID
	symbols    []Symbol
	prods      []Production
	ignore     []int
	options    GrammarOptions
	warnings   []string

	// subs memoizes the start symbol of sub-grammars
	subs    map[string]SymbolID
	nextSub int
}

// scope holds the definitions of one grammar text, the main one or a
// sub-grammar, whose rule names get `prefix` in the compiled grammar
type scope struct {
	prefix string
	path   string
	rules  map[string]*DefinitionNode
	tokens map[string]*DefinitionNode
	// order keeps rules in definition order
	order []string

	ruleSyms  map[string]SymbolID
	tokenRegs map[string]ExprRef
	resolving map[string]bool
	helpers   int
}

func (c *compiler) warn(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	c.warnings = append(c.warnings, msg)
	c.opts.Logger.Warn("grammar warning", "warning", msg)
}

func (c *compiler) compileSource(src GrammarSource, prefix, path string) (SymbolID, error) {
	switch s := src.(type) {
	case *LarkSource:
		return c.compileLark(s.Text, prefix, path)
	case *JSONSchemaSource:
		text, err := jsonschema.ToGrammar(s.Schema, c.opts.SchemaOptions)
		if err != nil {
			return 0, &GrammarError{Message: "failed to compile JSON schema: " + err.Error(), Err: err}
		}
		return c.compileLark(text, prefix, path)
	case *RegexSource:
		e, err := c.exprs.Parse(s.Pattern, RegexFlags{})
		if err != nil {
			return 0, &GrammarError{Message: fmt.Sprintf("invalid regex %q: %v", s.Pattern, err), Err: err}
		}
		start := c.nonterminal(prefix + "start")
		alt, err := c.terminal(e, "/"+s.Pattern+"/", false)
		if err != nil {
			return 0, err
		}
		c.production(start, alt)
		return start, nil
	case *GrammarList:
		return 0, grammarErrorf("", "grammar lists can't be nested")
	default:
		return 0, grammarErrorf("", "unknown grammar source %T", src)
	}
}

func (c *compiler) compileLark(text, prefix, path string) (SymbolID, error) {
	ast, err := NewGrammarParser(text).Parse()
	if err != nil {
		return 0, err
	}
	sc := &scope{
		prefix:    prefix,
		path:      path,
		rules:     map[string]*DefinitionNode{},
		tokens:    map[string]*DefinitionNode{},
		ruleSyms:  map[string]SymbolID{},
		tokenRegs: map[string]ExprRef{},
		resolving: map[string]bool{},
	}
	var ignores []Node
	if err := c.collect(sc, ast.Items, &ignores); err != nil {
		return 0, err
	}
	if _, ok := sc.rules["start"]; !ok {
		return 0, grammarErrorf("", "no start rule")
	}
	for _, name := range sc.order {
		sc.ruleSyms[name] = c.nonterminal(prefix + name)
	}
	for _, name := range sc.order {
		if err := c.compileRule(sc, sc.rules[name]); err != nil {
			return 0, err
		}
	}
	for _, node := range ignores {
		e, err := c.regexOf(sc, node, "%ignore")
		if err != nil {
			return 0, err
		}
		if prefix != "" {
			c.warn("%%ignore in sub-grammar %q applies to the whole grammar", strings.TrimSuffix(prefix, "::"))
		}
		if c.exprs.Nullable(e) {
			e = c.exprs.NonEmpty(e)
		}
		c.ignore = append(c.ignore, c.lexeme(e, "%ignore "+node.String(), false, true))
	}
	return sc.ruleSyms["start"], nil
}

// collect sorts the statements of a grammar into rules, tokens,
// ignored expressions and options
func (c *compiler) collect(sc *scope, items []Node, ignores *[]Node) error {
	for _, item := range items {
		switch n := item.(type) {
		case *GrammarNode:
			if err := c.collect(sc, n.Items, ignores); err != nil {
				return err
			}
		case *DefinitionNode:
			if n.IsToken() {
				if _, ok := sc.tokens[n.Name]; ok {
					return grammarErrorf(n.Name, "duplicate token %q", n.Name)
				}
				sc.tokens[n.Name] = n
				continue
			}
			if _, ok := sc.rules[n.Name]; ok {
				return grammarErrorf(n.Name, "duplicate rule %q", n.Name)
			}
			sc.rules[n.Name] = n
			sc.order = append(sc.order, n.Name)
		case *ImportNode:
			if n.Module != "common" {
				return grammarErrorf("", "Unknown common module %q", n.Module)
			}
			pattern, ok := commonTokens[n.Name]
			if !ok {
				return grammarErrorf("", "Unknown common token %q", n.Name)
			}
			if _, ok := sc.tokens[n.Alias]; ok {
				return grammarErrorf(n.Alias, "duplicate token %q", n.Alias)
			}
			sc.tokens[n.Alias] = NewDefinitionNode(n.Alias, RuleAttrs{}, NewRegexNode(pattern, RegexFlags{}, n.Pos()), n.Pos())
		case *IgnoreNode:
			*ignores = append(*ignores, n.Expr)
		case *OptionsNode:
			if sc.prefix != "" {
				c.warn("%%llguidance in sub-grammar %q is ignored", strings.TrimSuffix(sc.prefix, "::"))
				continue
			}
			if err := c.decodeOptions(n.JSON); err != nil {
				return err
			}
		default:
			return grammarErrorf("", "unexpected statement %s", item)
		}
	}
	return nil
}

func (c *compiler) decodeOptions(text string) error {
	var m map[string]any
	if err := json.Unmarshal([]byte(text), &m); err != nil {
		return &GrammarError{Message: "failed to parse %llguidance declaration: " + err.Error(), Err: err}
	}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:      &c.options,
		ErrorUnused: true,
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(m); err != nil {
		return &GrammarError{Message: "failed to parse %llguidance declaration: " + err.Error(), Err: err}
	}
	return nil
}

func (c *compiler) compileRule(sc *scope, def *DefinitionNode) error {
	sym := sc.ruleSyms[def.Name]
	if def.Attrs.MaxTokens > 0 {
		c.warn("max_tokens has no effect on rule %q", def.Name)
	}
	if def.Attrs.Capture != "" {
		c.warn("capture has no effect on rule %q", def.Name)
	}
	if def.Attrs.Lazy || def.Attrs.Stop != nil {
		// the whole rule is matched by a single lazy lexeme
		e, err := c.regexOf(sc, def.Expr, def.Name)
		if err != nil {
			return err
		}
		if def.Attrs.Stop != nil {
			e = c.exprs.Concat(e, c.exprs.Literal([]byte(*def.Attrs.Stop)))
		}
		alt, err := c.terminal(e, sc.prefix+def.Name, true)
		if err != nil {
			return err
		}
		c.production(sym, alt)
		return nil
	}
	alts, err := c.alternatives(sc, def.Name, def.Expr)
	if err != nil {
		return err
	}
	for _, alt := range alts {
		c.production(sym, alt...)
	}
	return nil
}

// alternatives returns the right hand sides for `node` at the top of
// a rule
func (c *compiler) alternatives(sc *scope, rule string, node Node) ([][]SymbolID, error) {
	var items []Node
	if ch, ok := node.(*ChoiceNode); ok {
		items = ch.Items
	} else {
		items = []Node{node}
	}
	out := make([][]SymbolID, 0, len(items))
	for _, item := range items {
		seq, err := c.sequence(sc, rule, item)
		if err != nil {
			return nil, err
		}
		out = append(out, seq)
	}
	return out, nil
}

func (c *compiler) sequence(sc *scope, rule string, node Node) ([]SymbolID, error) {
	var items []Node
	if seq, ok := node.(*SequenceNode); ok {
		items = seq.Items
	} else {
		items = []Node{node}
	}
	out := make([]SymbolID, 0, len(items))
	for _, item := range items {
		sym, err := c.symbol(sc, rule, item)
		if err != nil {
			return nil, err
		}
		out = append(out, sym)
	}
	return out, nil
}

// symbol returns the single symbol matching `node`, creating helper
// nonterminals as needed
func (c *compiler) symbol(sc *scope, rule string, node Node) (SymbolID, error) {
	switch n := node.(type) {
	case *IdentifierNode:
		if isTokenName(n.Name) {
			e, err := c.tokenRegex(sc, n.Name, rule)
			if err != nil {
				return 0, err
			}
			attrs := sc.tokens[n.Name].Attrs
			return c.terminal(e, sc.prefix+n.Name, attrs.Lazy || attrs.Stop != nil)
		}
		sym, ok := sc.ruleSyms[n.Name]
		if !ok {
			return 0, grammarErrorf(rule, "unknown name: %q", n.Name)
		}
		return sym, nil
	case *LiteralNode, *RegexNode, *RangeNode, *SpecialTokenNode:
		e, err := c.regexOf(sc, n, rule)
		if err != nil {
			return 0, err
		}
		return c.terminal(e, n.String(), false)
	case *ChoiceNode, *SequenceNode:
		alts, err := c.alternatives(sc, rule, n)
		if err != nil {
			return 0, err
		}
		h := c.helper(sc, rule)
		for _, alt := range alts {
			c.production(h, alt...)
		}
		return h, nil
	case *RepeatNode:
		return c.repeat(sc, rule, n)
	case *SubGrammarNode:
		return c.subGrammar(sc, n.Name)
	case *JSONSchemaNode:
		key := "%json " + n.Schema
		if sym, ok := c.subs[key]; ok {
			return sym, nil
		}
		c.nextSub++
		sym, err := c.compileSource(&JSONSchemaSource{Schema: []byte(n.Schema)}, fmt.Sprintf("json_%d::", c.nextSub), sc.path)
		if err != nil {
			return 0, err
		}
		c.subs[key] = sym
		return sym, nil
	case *NestedGrammarNode:
		key := "%lark " + n.Text
		if sym, ok := c.subs[key]; ok {
			return sym, nil
		}
		c.nextSub++
		sym, err := c.compileLark(n.Text, fmt.Sprintf("lark_%d::", c.nextSub), sc.path)
		if err != nil {
			return 0, err
		}
		c.subs[key] = sym
		return sym, nil
	default:
		return 0, grammarErrorf(rule, "unexpected expression %s", node)
	}
}

func (c *compiler) subGrammar(sc *scope, name string) (SymbolID, error) {
	if c.loader == nil {
		return 0, grammarErrorf("", "unknown grammar %q", name)
	}
	path, err := c.loader.GetPath(name, sc.path)
	if err != nil {
		return 0, &GrammarError{Message: err.Error(), Err: err}
	}
	key := "@" + path
	if sym, ok := c.subs[key]; ok {
		return sym, nil
	}
	src, err := c.loader.GetContent(path)
	if err != nil {
		return 0, &GrammarError{Message: err.Error(), Err: err}
	}
	// placeholder so that recursive references end up in the same
	// symbol
	entry := c.nonterminal("@" + name)
	c.subs[key] = entry
	start, err := c.compileSource(src, name+"::", path)
	if err != nil {
		return 0, err
	}
	c.production(entry, start)
	return entry, nil
}

// repeat expands `x{min,max}` into helper nonterminals
func (c *compiler) repeat(sc *scope, rule string, n *RepeatNode) (SymbolID, error) {
	x, err := c.symbol(sc, rule, n.Expr)
	if err != nil {
		return 0, err
	}
	h := c.helper(sc, rule)
	prefix := make([]SymbolID, n.Min)
	for i := range prefix {
		prefix[i] = x
	}
	if n.Max == Unbounded {
		// star: S -> S x | ε
		star := c.helper(sc, rule)
		c.production(star)
		c.production(star, star, x)
		c.production(h, append(prefix, star)...)
		return h, nil
	}
	// optional tail: O_k -> ε | x O_{k-1}
	tail := SymbolID(-1)
	for k := 0; k < n.Max-n.Min; k++ {
		o := c.helper(sc, rule)
		c.production(o)
		if tail < 0 {
			c.production(o, x)
		} else {
			c.production(o, x, tail)
		}
		tail = o
	}
	if tail >= 0 {
		prefix = append(prefix, tail)
	}
	c.production(h, prefix...)
	return h, nil
}

// tokenRegex resolves a terminal definition into a regex
func (c *compiler) tokenRegex(sc *scope, name, rule string) (ExprRef, error) {
	if e, ok := sc.tokenRegs[name]; ok {
		return e, nil
	}
	def, ok := sc.tokens[name]
	if !ok {
		return 0, grammarErrorf(rule, "unknown name: %q", name)
	}
	if sc.resolving[name] {
		return 0, grammarErrorf(name, "circular reference in token %q", name)
	}
	sc.resolving[name] = true
	defer delete(sc.resolving, name)
	e, err := c.regexOf(sc, def.Expr, name)
	if err != nil {
		return 0, err
	}
	if def.Attrs.Stop != nil {
		e = c.exprs.Concat(e, c.exprs.Literal([]byte(*def.Attrs.Stop)))
	}
	sc.tokenRegs[name] = e
	return e, nil
}

// regexOf compiles an expression made only of terminals into a regex
func (c *compiler) regexOf(sc *scope, node Node, rule string) (ExprRef, error) {
	s := c.exprs
	switch n := node.(type) {
	case *LiteralNode:
		if n.FoldCase {
			return c.parseRegex(regexp.QuoteMeta(n.Value), RegexFlags{FoldCase: true}, rule)
		}
		return s.Literal([]byte(n.Value)), nil
	case *RegexNode:
		return c.parseRegex(n.Pattern, n.Flags, rule)
	case *RangeNode:
		return c.parseRegex(fmt.Sprintf(`[\x{%x}-\x{%x}]`, n.Start, n.End), RegexFlags{}, rule)
	case *SpecialTokenNode:
		if c.opts.Tok != nil {
			if _, ok := c.opts.Tok.SpecialToken(n.Name); !ok {
				return 0, grammarErrorf(rule, "unknown special token: %s", n.Name)
			}
		}
		return s.Literal(append([]byte{toktrie.SpecialTokenPrefix}, n.Name...)), nil
	case *IdentifierNode:
		if !isTokenName(n.Name) {
			if _, ok := sc.rules[n.Name]; !ok {
				return 0, grammarErrorf(rule, "unknown name: %q", n.Name)
			}
			return 0, grammarErrorf(rule, "rule %q cannot be used in terminals", n.Name)
		}
		return c.tokenRegex(sc, n.Name, rule)
	case *SequenceNode:
		args := make([]ExprRef, 0, len(n.Items))
		for _, item := range n.Items {
			e, err := c.regexOf(sc, item, rule)
			if err != nil {
				return 0, err
			}
			args = append(args, e)
		}
		return s.Concat(args...), nil
	case *ChoiceNode:
		args := make([]ExprRef, 0, len(n.Items))
		for _, item := range n.Items {
			e, err := c.regexOf(sc, item, rule)
			if err != nil {
				return 0, err
			}
			args = append(args, e)
		}
		return s.Or(args...), nil
	case *RepeatNode:
		e, err := c.regexOf(sc, n.Expr, rule)
		if err != nil {
			return 0, err
		}
		return s.Repeat(e, n.Min, n.Max), nil
	default:
		return 0, grammarErrorf(rule, "%s cannot be used in terminals", node)
	}
}

func (c *compiler) parseRegex(pattern string, flags RegexFlags, rule string) (ExprRef, error) {
	e, err := c.exprs.Parse(pattern, flags)
	if err != nil {
		if errors.Is(err, ErrGrammarTooLarge) {
			return 0, &GrammarError{Message: err.Error(), Rule: rule, Err: err}
		}
		return 0, &GrammarError{Message: fmt.Sprintf("invalid regex %q: %v", pattern, err), Rule: rule, Err: err}
	}
	return e, nil
}

// lexeme returns the index of the lexeme for `e`, creating it when
// needed
func (c *compiler) lexeme(e ExprRef, name string, lazy, ignore bool) int {
	k := lexemeKey{expr: e, lazy: lazy, ignore: ignore}
	if i, ok := c.lexemes[k]; ok {
		return i
	}
	i := len(c.lexemeList)
	c.lexemeList = append(c.lexemeList, Lexeme{Name: name, Expr: e, Lazy: lazy, Ignore: ignore})
	c.lexemes[k] = i
	return i
}

// terminal returns the symbol matching `e`.  Lexemes never match the
// empty string, so nullable regexes become an optional wrapper
// around their non empty part.
func (c *compiler) terminal(e ExprRef, name string, lazy bool) (SymbolID, error) {
	if e == EmptyString {
		eps := c.nonterminal(name)
		c.production(eps)
		return eps, nil
	}
	nullable := c.exprs.Nullable(e)
	if nullable {
		e = c.exprs.NonEmpty(e)
	}
	if err := c.exprs.CheckSize(); err != nil {
		return 0, &GrammarError{Message: err.Error(), Err: err}
	}
	lx := c.lexeme(e, name, lazy, false)
	if c.terminals == nil {
		c.terminals = map[int]SymbolID{}
	}
	t, ok := c.terminals[lx]
	if !ok {
		t = SymbolID(len(c.symbols))
		c.symbols = append(c.symbols, Symbol{Name: name, Lexeme: lx})
		c.terminals[lx] = t
	}
	if !nullable {
		return t, nil
	}
	opt := c.nonterminal(name + "?")
	c.production(opt)
	c.production(opt, t)
	return opt, nil
}

func (c *compiler) nonterminal(name string) SymbolID {
	id := SymbolID(len(c.symbols))
	c.symbols = append(c.symbols, Symbol{Name: name, Lexeme: -1})
	return id
}

func (c *compiler) helper(sc *scope, rule string) SymbolID {
	sc.helpers++
	return c.nonterminal(sc.prefix + rule + "#" + strconv.Itoa(sc.helpers))
}

func (c *compiler) production(lhs SymbolID, rhs ...SymbolID) {
	c.symbols[lhs].Prods = append(c.symbols[lhs].Prods, int32(len(c.prods)))
	c.prods = append(c.prods, Production{LHS: lhs, RHS: rhs})
}

func (c *compiler) finish(name string, start SymbolID) (*Grammar, error) {
	limits := c.opts.Limits
	if limit := limits.MaxGrammarSize; limit > 0 {
		if size := len(c.symbols) + len(c.prods) + c.exprs.Len(); size > limit {
			return nil, &GrammarError{
				Message: fmt.Sprintf("grammar too large: size %d, limit %d", size, limit),
				Err:     ErrGrammarTooLarge,
			}
		}
	}
	if len(c.lexemeList) > 1<<16 {
		return nil, &GrammarError{
			Message: fmt.Sprintf("grammar too large: %d lexemes", len(c.lexemeList)),
			Err:     ErrGrammarTooLarge,
		}
	}
	g := &Grammar{
		Name:     name,
		Options:  c.options,
		Warnings: c.warnings,
		symbols:  c.symbols,
		prods:    c.prods,
		start:    start,
		limits:   limits,
		ignore:   NewLexemeSet(len(c.lexemeList)),
	}
	for _, i := range c.ignore {
		g.ignore.Add(LexemeIdx(i))
		g.hasIgnore = true
	}
	g.lexer = NewLexer(c.exprs, c.lexemeList, limits.MaxLexerStates)
	g.computeNullable()
	// building the first lexer state surfaces automaton limits at
	// compile time
	if _, err := newParser(g); err != nil {
		return nil, &GrammarError{Message: err.Error(), Err: err}
	}
	c.opts.Logger.Debug("grammar compiled", "name", name, "symbols", len(c.symbols),
		"productions", len(c.prods), "lexemes", len(c.lexemeList), "exprs", c.exprs.Len())
	return g, nil
}
