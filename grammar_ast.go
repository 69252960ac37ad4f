package gmatch

import (
	"fmt"
	"strconv"
	"strings"
)

// Node is an element of the syntax tree of grammar text
type Node interface {
	// Pos is the rune offset where the node starts
	Pos() int
	String() string
}

type nodePos int

func (p nodePos) Pos() int { return int(p) }

// GrammarNode is the root of a grammar's syntax tree
type GrammarNode struct {
	nodePos
	Items []Node
}

func NewGrammarNode(items []Node, pos int) *GrammarNode {
	return &GrammarNode{nodePos(pos), items}
}

func (n *GrammarNode) String() string {
	parts := make([]string, len(n.Items))
	for i, it := range n.Items {
		parts[i] = it.String()
	}
	return strings.Join(parts, "\n")
}

// RuleAttrs are the attributes within brackets after a rule name
type RuleAttrs struct {
	Lazy      bool
	Stop      *string
	Capture   string
	MaxTokens int
}

// DefinitionNode is either a rule (lower case name) or a token
// definition (upper case name)
type DefinitionNode struct {
	nodePos
	Name  string
	Attrs RuleAttrs
	Expr  Node
}

func NewDefinitionNode(name string, attrs RuleAttrs, expr Node, pos int) *DefinitionNode {
	return &DefinitionNode{nodePos(pos), name, attrs, expr}
}

// IsToken tells if the definition names a terminal
func (n *DefinitionNode) IsToken() bool { return isTokenName(n.Name) }

func (n *DefinitionNode) String() string {
	var attrs []string
	if n.Attrs.Lazy {
		attrs = append(attrs, "lazy")
	}
	if n.Attrs.Stop != nil {
		attrs = append(attrs, "stop="+strconv.Quote(*n.Attrs.Stop))
	}
	if len(attrs) == 0 {
		return fmt.Sprintf("%s: %s", n.Name, n.Expr)
	}
	return fmt.Sprintf("%s[%s]: %s", n.Name, strings.Join(attrs, ", "), n.Expr)
}

// ImportNode is `%import common.NAME (-> ALIAS)?`
type ImportNode struct {
	nodePos
	Module string
	Name   string
	Alias  string
}

func NewImportNode(module, name, alias string, pos int) *ImportNode {
	return &ImportNode{nodePos(pos), module, name, alias}
}

func (n *ImportNode) String() string {
	if n.Alias != "" && n.Alias != n.Name {
		return fmt.Sprintf("%%import %s.%s -> %s", n.Module, n.Name, n.Alias)
	}
	return fmt.Sprintf("%%import %s.%s", n.Module, n.Name)
}

// IgnoreNode is `%ignore expr`
type IgnoreNode struct {
	nodePos
	Expr Node
}

func NewIgnoreNode(expr Node, pos int) *IgnoreNode { return &IgnoreNode{nodePos(pos), expr} }

func (n *IgnoreNode) String() string { return "%ignore " + n.Expr.String() }

// OptionsNode is `%llguidance {...}`, holding the JSON text
type OptionsNode struct {
	nodePos
	JSON string
}

func NewOptionsNode(text string, pos int) *OptionsNode { return &OptionsNode{nodePos(pos), text} }

func (n *OptionsNode) String() string { return "%llguidance " + n.JSON }

// ChoiceNode holds the alternatives separated by `|`
type ChoiceNode struct {
	nodePos
	Items []Node
}

func NewChoiceNode(items []Node, pos int) *ChoiceNode { return &ChoiceNode{nodePos(pos), items} }

func (n *ChoiceNode) String() string {
	parts := make([]string, len(n.Items))
	for i, it := range n.Items {
		parts[i] = it.String()
	}
	return "(" + strings.Join(parts, " | ") + ")"
}

// SequenceNode holds expressions matched one after the other
type SequenceNode struct {
	nodePos
	Items []Node
}

func NewSequenceNode(items []Node, pos int) *SequenceNode { return &SequenceNode{nodePos(pos), items} }

func (n *SequenceNode) String() string {
	if len(n.Items) == 0 {
		return `""`
	}
	parts := make([]string, len(n.Items))
	for i, it := range n.Items {
		parts[i] = it.String()
	}
	return strings.Join(parts, " ")
}

// RepeatNode covers `?`, `*`, `+`, `{n,m}` and `~ n..m`.  Max is
// Unbounded when there's no upper limit.
type RepeatNode struct {
	nodePos
	Expr     Node
	Min, Max int
}

func NewRepeatNode(expr Node, min, max int, pos int) *RepeatNode {
	return &RepeatNode{nodePos(pos), expr, min, max}
}

func (n *RepeatNode) String() string {
	switch {
	case n.Min == 0 && n.Max == 1:
		return n.Expr.String() + "?"
	case n.Min == 0 && n.Max == Unbounded:
		return n.Expr.String() + "*"
	case n.Min == 1 && n.Max == Unbounded:
		return n.Expr.String() + "+"
	case n.Max == Unbounded:
		return fmt.Sprintf("%s{%d,}", n.Expr, n.Min)
	default:
		return fmt.Sprintf("%s{%d,%d}", n.Expr, n.Min, n.Max)
	}
}

// LiteralNode is a quoted string
type LiteralNode struct {
	nodePos
	Value    string
	FoldCase bool
}

func NewLiteralNode(value string, fold bool, pos int) *LiteralNode {
	return &LiteralNode{nodePos(pos), value, fold}
}

func (n *LiteralNode) String() string {
	if n.FoldCase {
		return strconv.Quote(n.Value) + "i"
	}
	return strconv.Quote(n.Value)
}

// RegexNode is a `/regex/flags` expression
type RegexNode struct {
	nodePos
	Pattern string
	Flags   RegexFlags
}

func NewRegexNode(pattern string, flags RegexFlags, pos int) *RegexNode {
	return &RegexNode{nodePos(pos), pattern, flags}
}

func (n *RegexNode) String() string {
	s := "/" + n.Pattern + "/"
	if n.Flags.FoldCase {
		s += "i"
	}
	if n.Flags.DotNL {
		s += "s"
	}
	return s
}

// RangeNode is `"a".."z"`
type RangeNode struct {
	nodePos
	Start, End rune
}

func NewRangeNode(start, end rune, pos int) *RangeNode { return &RangeNode{nodePos(pos), start, end} }

func (n *RangeNode) String() string {
	return fmt.Sprintf("%q..%q", string(n.Start), string(n.End))
}

// IdentifierNode references a rule or a token
type IdentifierNode struct {
	nodePos
	Name string
}

func NewIdentifierNode(name string, pos int) *IdentifierNode { return &IdentifierNode{nodePos(pos), name} }

func (n *IdentifierNode) String() string { return n.Name }

// SpecialTokenNode is a tokenizer special token like `<|end|>`
type SpecialTokenNode struct {
	nodePos
	Name string
}

func NewSpecialTokenNode(name string, pos int) *SpecialTokenNode {
	return &SpecialTokenNode{nodePos(pos), name}
}

func (n *SpecialTokenNode) String() string { return n.Name }

// SubGrammarNode references another grammar with `@name`
type SubGrammarNode struct {
	nodePos
	Name string
}

func NewSubGrammarNode(name string, pos int) *SubGrammarNode { return &SubGrammarNode{nodePos(pos), name} }

func (n *SubGrammarNode) String() string { return "@" + n.Name }

// JSONSchemaNode is an inline schema, `%json {...}`
type JSONSchemaNode struct {
	nodePos
	Schema string
}

func NewJSONSchemaNode(schema string, pos int) *JSONSchemaNode {
	return &JSONSchemaNode{nodePos(pos), schema}
}

func (n *JSONSchemaNode) String() string { return "%json " + n.Schema }

// NestedGrammarNode is an inline grammar, `%lark {...}`
type NestedGrammarNode struct {
	nodePos
	Text string
}

func NewNestedGrammarNode(text string, pos int) *NestedGrammarNode {
	return &NestedGrammarNode{nodePos(pos), text}
}

func (n *NestedGrammarNode) String() string { return "%lark {" + n.Text + "}" }

func isTokenName(name string) bool {
	for _, r := range name {
		if r >= 'a' && r <= 'z' {
			return false
		}
	}
	return true
}
