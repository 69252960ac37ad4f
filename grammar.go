package gmatch

import (
	"fmt"
	"strings"
)

// SymbolID indexes the symbols of a compiled grammar
type SymbolID int32

// Symbol is either a terminal, bound to one lexeme, or a nonterminal
// with a list of productions
type Symbol struct {
	Name string
	// Lexeme is the lexeme matched by a terminal, -1 for
	// nonterminals
	Lexeme   int
	Prods    []int32
	Nullable bool
}

func (s *Symbol) IsTerminal() bool { return s.Lexeme >= 0 }

// Production is one alternative of a nonterminal
type Production struct {
	LHS SymbolID
	RHS []SymbolID
}

// GrammarOptions are set with the `%llguidance {...}` declaration
type GrammarOptions struct {
	// NoForcing disables the computation of forced bytes and
	// tokens
	NoForcing bool `mapstructure:"no_forcing"`
	// AllowInitialSkip allows `%ignore` lexemes before the first
	// lexeme of the input
	AllowInitialSkip bool `mapstructure:"allow_initial_skip"`
}

// Grammar is the compiled form of a grammar: a context free grammar
// whose terminals are lexemes recognized by a shared lexer automaton.
// A Grammar is immutable once compiled (the automaton grows lazily
// but is safe for concurrent use), so any number of matchers may be
// created from the same Grammar.
type Grammar struct {
	Name     string
	Options  GrammarOptions
	Warnings []string

	symbols []Symbol
	prods   []Production
	start   SymbolID
	lexer   *Lexer
	limits  Limits

	// ignore holds every lexeme declared with `%ignore`
	ignore    LexemeSet
	hasIgnore bool
}

// Lexer returns the automaton shared by all matchers of the grammar
func (g *Grammar) Lexer() *Lexer { return g.lexer }

// Limits returns the limits the grammar was compiled with
func (g *Grammar) Limits() Limits { return g.limits }

// NumSymbols returns how many terminals and nonterminals there are
func (g *Grammar) NumSymbols() int { return len(g.symbols) }

// NumProductions returns how many productions there are
func (g *Grammar) NumProductions() int { return len(g.prods) }

// Symbol returns a symbol by id
func (g *Grammar) Symbol(id SymbolID) *Symbol { return &g.symbols[id] }

// Start returns the start symbol
func (g *Grammar) Start() SymbolID { return g.start }

// String renders the productions of the grammar, one per line
func (g *Grammar) String() string {
	var sb strings.Builder
	for _, p := range g.prods {
		sb.WriteString(g.symbols[p.LHS].Name)
		sb.WriteString(" ::=")
		if len(p.RHS) == 0 {
			sb.WriteString(" ε")
		}
		for _, s := range p.RHS {
			sb.WriteByte(' ')
			sb.WriteString(g.symbols[s].Name)
		}
		sb.WriteByte('\n')
	}
	for i, lx := range g.lexer.Lexemes() {
		fmt.Fprintf(&sb, "lexeme %d %s = %s", i, lx.Name, g.lexer.Exprs().String(lx.Expr))
		if lx.Lazy {
			sb.WriteString(" (lazy)")
		}
		if lx.Ignore {
			sb.WriteString(" (ignore)")
		}
		sb.WriteByte('\n')
	}
	return sb.String()
}

// computeNullable runs the usual fixpoint over the productions
func (g *Grammar) computeNullable() {
	for changed := true; changed; {
		changed = false
		for _, p := range g.prods {
			if g.symbols[p.LHS].Nullable {
				continue
			}
			nullable := true
			for _, s := range p.RHS {
				if !g.symbols[s].Nullable {
					nullable = false
					break
				}
			}
			if nullable {
				g.symbols[p.LHS].Nullable = true
				changed = true
			}
		}
	}
}
