package gmatch

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

// GrammarParser reads grammar text in the Lark dialect and produces
// its syntax tree
type GrammarParser struct {
	Parser

	// depth counts the open groups; new lines are only allowed
	// within groups or before a `|`
	depth int
}

func NewGrammarParser(grammar string) *GrammarParser {
	p := &GrammarParser{}
	p.SetInput(grammar)
	return p
}

// Parse kicks off parsing the input string and generates an AST
// describing a grammar
func (p *GrammarParser) Parse() (*GrammarNode, error) {
	g, err := p.ParseGrammar()
	if err != nil {
		if isthrown(err) {
			return nil, err
		}
		msg := err.Error()
		if berr, ok := err.(backtrackingError); ok {
			msg = berr.Message
		}
		return nil, ParsingError{
			Message: fmt.Sprintf("Expected token near %q: %s", p.snippet(p.ffp), msg),
			Cursor:  p.ffp,
		}
	}
	return g, nil
}

func (p *GrammarParser) snippet(at int) string {
	if at > len(p.input) {
		at = len(p.input)
	}
	end := min(at+16, len(p.input))
	s := string(p.input[at:end])
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return s
}

// GR: Grammar <- (Spacing Statement)* Spacing EndOfFile
func (p *GrammarParser) ParseGrammar() (*GrammarNode, error) {
	start := p.Cursor()
	items, err := ZeroOrMore(p, func(b Backtrackable) (Node, error) {
		p.parseSpacingNL()
		return p.ParseStatement()
	})
	if err != nil {
		return nil, err
	}
	p.parseSpacingNL()
	if p.Peek() != eof {
		// surface the error of the statement that failed
		if _, err := p.ParseStatement(); err != nil {
			return nil, err
		}
		return nil, p.NewError("EOF", "Expected end of input", p.Cursor())
	}
	return NewGrammarNode(items, start), nil
}

// GR: Statement <- Directive / Definition
func (p *GrammarParser) ParseStatement() (Node, error) {
	if p.Peek() == '%' {
		return p.ParseDirective()
	}
	return p.ParseDefinition()
}

// GR: Directive <- '%import' ImportPath / '%ignore' Expansions / '%llguidance' JSONObject
func (p *GrammarParser) ParseDirective() (Node, error) {
	start := p.Cursor()
	if _, err := p.ExpectRune('%'); err != nil {
		return nil, err
	}
	name, err := p.parseName()
	if err != nil {
		return nil, err
	}
	p.parseSpacing()
	switch name {
	case "import":
		return p.parseImport(start)
	case "ignore":
		expr, err := p.ParseExpansions()
		if err != nil {
			return nil, err
		}
		return NewIgnoreNode(expr, start), nil
	case "llguidance":
		text, err := p.parseBraced()
		if err != nil {
			return nil, err
		}
		return NewOptionsNode(text, start), nil
	default:
		return nil, p.Throw(fmt.Sprintf("Unknown directive %%%s", name), start)
	}
}

// GR: ImportPath <- Name '.' Name ('->' Name)? / Name '(' Name (',' Name)* ')'
func (p *GrammarParser) parseImport(start int) (Node, error) {
	module, err := p.parseName()
	if err != nil {
		return nil, err
	}
	if p.Peek() == '.' {
		p.Any()
		name, err := p.parseName()
		if err != nil {
			return nil, err
		}
		alias := name
		p.parseSpacing()
		if _, err := p.ExpectLiteral("->"); err == nil {
			p.parseSpacing()
			if alias, err = p.parseName(); err != nil {
				return nil, err
			}
		}
		return NewImportNode(module, name, alias, start), nil
	}
	// `%import common (A, B)` gets expanded in one node per name
	p.parseSpacing()
	if _, err := p.ExpectRune('('); err != nil {
		return nil, err
	}
	var names []Node
	for {
		p.parseSpacing()
		name, err := p.parseName()
		if err != nil {
			return nil, err
		}
		names = append(names, NewImportNode(module, name, name, start))
		p.parseSpacing()
		if p.Peek() == ',' {
			p.Any()
			continue
		}
		if _, err := p.ExpectRune(')'); err != nil {
			return nil, err
		}
		break
	}
	return NewGrammarNode(names, start), nil
}

// GR: Definition <- Name ('.' Number)? Attributes? ':' Expansions
func (p *GrammarParser) ParseDefinition() (Node, error) {
	start := p.Cursor()
	name, err := p.parseName()
	if err != nil {
		return nil, err
	}
	if p.Peek() == '.' {
		// priorities are accepted and ignored
		p.Any()
		if _, err := p.parseNumber(); err != nil {
			return nil, err
		}
	}
	p.parseSpacing()
	var attrs RuleAttrs
	if p.Peek() == '[' {
		if attrs, err = p.parseAttributes(); err != nil {
			return nil, err
		}
		p.parseSpacing()
	}
	if _, err := p.ExpectRune(':'); err != nil {
		return nil, err
	}
	p.parseSpacing()
	expr, err := p.ParseExpansions()
	if err != nil {
		return nil, err
	}
	return NewDefinitionNode(name, attrs, expr, start), nil
}

// GR: Attributes <- '[' Attribute (',' Attribute)* ']'
// GR: Attribute <- Name ('=' (String / Number / Name))?
func (p *GrammarParser) parseAttributes() (RuleAttrs, error) {
	var attrs RuleAttrs
	if _, err := p.ExpectRune('['); err != nil {
		return attrs, err
	}
	for {
		p.parseSpacing()
		at := p.Cursor()
		name, err := p.parseName()
		if err != nil {
			return attrs, err
		}
		p.parseSpacing()
		var value *string
		if p.Peek() == '=' {
			p.Any()
			p.parseSpacing()
			v, err := p.parseAttrValue()
			if err != nil {
				return attrs, err
			}
			value = &v
		}
		switch name {
		case "lazy":
			attrs.Lazy = true
		case "stop":
			if value == nil {
				return attrs, p.Throw("stop attribute requires a value", at)
			}
			attrs.Stop = value
		case "capture":
			attrs.Capture = name
			if value != nil {
				attrs.Capture = *value
			}
		case "max_tokens":
			if value == nil {
				return attrs, p.Throw("max_tokens attribute requires a value", at)
			}
			n, err := strconv.Atoi(*value)
			if err != nil {
				return attrs, p.Throw(fmt.Sprintf("invalid max_tokens value %q", *value), at)
			}
			attrs.MaxTokens = n
		default:
			return attrs, p.Throw(fmt.Sprintf("Unknown attribute: %s", name), at)
		}
		p.parseSpacing()
		if p.Peek() == ',' {
			p.Any()
			continue
		}
		_, err = p.ExpectRune(']')
		return attrs, err
	}
}

func (p *GrammarParser) parseAttrValue() (string, error) {
	switch c := p.Peek(); {
	case c == '"':
		return p.parseString()
	case c >= '0' && c <= '9' || c == '-':
		start := p.Cursor()
		for {
			c := p.Peek()
			if !(c >= '0' && c <= '9' || c == '.' || c == '-') {
				break
			}
			p.Any()
		}
		return string(p.input[start:p.Cursor()]), nil
	default:
		return p.parseName()
	}
}

// GR: Expansions <- Alias (NL* '|' Alias)*
func (p *GrammarParser) ParseExpansions() (Node, error) {
	start := p.Cursor()
	head, err := p.parseAlias()
	if err != nil {
		return nil, err
	}
	tail, err := ZeroOrMore(p, func(b Backtrackable) (Node, error) {
		p.parseSpacingNL()
		if _, err := p.ExpectRune('|'); err != nil {
			return nil, err
		}
		p.parseSpacing()
		return p.parseAlias()
	})
	if err != nil {
		return nil, err
	}
	if len(tail) == 0 {
		return head, nil
	}
	return NewChoiceNode(append([]Node{head}, tail...), start), nil
}

// GR: Alias <- Expansion ('->' Name)?
func (p *GrammarParser) parseAlias() (Node, error) {
	expr, err := p.ParseExpansion()
	if err != nil {
		return nil, err
	}
	state := p.Cursor()
	p.parseSpacing()
	if _, err := p.ExpectLiteral("->"); err == nil {
		// tree shaping aliases have no effect on matching
		p.parseSpacing()
		if _, err := p.parseName(); err != nil {
			return nil, err
		}
		return expr, nil
	}
	p.Backtrack(state)
	return expr, nil
}

// GR: Expansion <- Expr*
func (p *GrammarParser) ParseExpansion() (Node, error) {
	start := p.Cursor()
	items, err := ZeroOrMore(p, func(b Backtrackable) (Node, error) {
		p.parseSpacing()
		return p.ParseExpr()
	})
	if err != nil {
		return nil, err
	}
	if len(items) == 1 {
		return items[0], nil
	}
	return NewSequenceNode(items, start), nil
}

// GR: Expr <- Atom (OP / '{' Number (',' Number?)? '}' / '~' Number ('..' Number)?)?
func (p *GrammarParser) ParseExpr() (Node, error) {
	start := p.Cursor()
	atom, err := p.ParseAtom()
	if err != nil {
		return nil, err
	}
	switch p.Peek() {
	case '?':
		p.Any()
		return NewRepeatNode(atom, 0, 1, start), nil
	case '*':
		p.Any()
		return NewRepeatNode(atom, 0, Unbounded, start), nil
	case '+':
		p.Any()
		return NewRepeatNode(atom, 1, Unbounded, start), nil
	case '{':
		return p.parseBraceRepeat(atom, start)
	}
	state := p.Cursor()
	p.parseSpacing()
	if p.Peek() == '~' {
		p.Any()
		p.parseSpacing()
		lo, err := p.parseNumber()
		if err != nil {
			return nil, err
		}
		hi := lo
		if _, err := p.ExpectLiteral(".."); err == nil {
			if hi, err = p.parseNumber(); err != nil {
				return nil, err
			}
		}
		if hi < lo {
			return nil, p.Throw("range end must be >= start", start)
		}
		return NewRepeatNode(atom, lo, hi, start), nil
	}
	p.Backtrack(state)
	return atom, nil
}

func (p *GrammarParser) parseBraceRepeat(atom Node, start int) (Node, error) {
	p.Any()
	p.parseSpacing()
	lo, hi := 0, Unbounded
	if p.Peek() != ',' {
		n, err := p.parseNumber()
		if err != nil {
			return nil, err
		}
		lo, hi = n, n
	}
	p.parseSpacing()
	if p.Peek() == ',' {
		p.Any()
		p.parseSpacing()
		hi = Unbounded
		if p.Peek() != '}' {
			n, err := p.parseNumber()
			if err != nil {
				return nil, err
			}
			hi = n
		}
	}
	p.parseSpacing()
	if _, err := p.ExpectRune('}'); err != nil {
		return nil, p.Throw("invalid repetition", start)
	}
	if hi != Unbounded && hi < lo {
		return nil, p.Throw("range end must be >= start", start)
	}
	return NewRepeatNode(atom, lo, hi, start), nil
}

// GR: Atom <- '(' Expansions ')' / '[' Expansions ']' / String ('..' String)?
// GR:       / Regex / Special / '@' Name / '%json' JSONObject / '%lark' Braced / Name
func (p *GrammarParser) ParseAtom() (Node, error) {
	start := p.Cursor()
	switch c := p.Peek(); {
	case c == '(' || c == '[':
		closing := ')'
		if c == '[' {
			closing = ']'
		}
		p.Any()
		p.depth++
		p.parseSpacing()
		expr, err := p.ParseExpansions()
		if err != nil {
			p.depth--
			return nil, err
		}
		p.parseSpacing()
		p.depth--
		if _, err := p.ExpectRune(closing); err != nil {
			return nil, err
		}
		if c == '[' {
			return NewRepeatNode(expr, 0, 1, start), nil
		}
		return expr, nil
	case c == '"':
		return p.parseLiteralOrRange()
	case c == '/' && p.PeekAt(1) != '/':
		return p.parseRegex()
	case c == '<':
		return p.parseSpecial()
	case c == '@':
		p.Any()
		name, err := p.parseName()
		if err != nil {
			return nil, err
		}
		return NewSubGrammarNode(name, start), nil
	case c == '%':
		return p.parseInlineGrammar()
	default:
		name, err := p.parseName()
		if err != nil {
			return nil, err
		}
		// a name followed by `:` starts the next definition
		state := p.Cursor()
		p.parseSpacing()
		if p.Peek() == ':' {
			p.Backtrack(start)
			return nil, p.NewError("expression", "Expected expression but got definition", start)
		}
		p.Backtrack(state)
		return NewIdentifierNode(name, start), nil
	}
}

func (p *GrammarParser) parseInlineGrammar() (Node, error) {
	start := p.Cursor()
	p.Any()
	name, err := p.parseName()
	if err != nil {
		return nil, err
	}
	switch name {
	case "json":
		p.parseSpacing()
		text, err := p.parseBraced()
		if err != nil {
			return nil, err
		}
		return NewJSONSchemaNode(text, start), nil
	case "lark":
		p.parseSpacing()
		text, err := p.parseBraced()
		if err != nil {
			return nil, err
		}
		return NewNestedGrammarNode(text[1:len(text)-1], start), nil
	default:
		return nil, p.NewError("expression", "Expected expression but got directive", start)
	}
}

func (p *GrammarParser) parseLiteralOrRange() (Node, error) {
	start := p.Cursor()
	value, err := p.parseString()
	if err != nil {
		return nil, err
	}
	if p.Peek() == 'i' && !isNameRune(p.PeekAt(1)) {
		p.Any()
		return NewLiteralNode(value, true, start), nil
	}
	if _, err := p.ExpectLiteral(".."); err != nil {
		return NewLiteralNode(value, false, start), nil
	}
	end, err := p.parseString()
	if err != nil {
		return nil, err
	}
	lo, hi := []rune(value), []rune(end)
	if len(lo) != 1 {
		return nil, p.Throw("range start must be a single character", start)
	}
	if len(hi) != 1 {
		return nil, p.Throw("range end must be a single character", start)
	}
	if lo[0] > hi[0] {
		return nil, p.Throw("invalid range order", start)
	}
	return NewRangeNode(lo[0], hi[0], start), nil
}

// parseString reads a double quoted string with backslash escapes
func (p *GrammarParser) parseString() (string, error) {
	start := p.Cursor()
	if _, err := p.ExpectRune('"'); err != nil {
		return "", err
	}
	var sb strings.Builder
	for {
		c, err := p.Any()
		if err != nil {
			return "", p.Throw("unterminated string", start)
		}
		switch c {
		case '"':
			return sb.String(), nil
		case '\n':
			return "", p.Throw("unterminated string", start)
		case '\\':
			esc, err := p.parseEscape()
			if err != nil {
				return "", err
			}
			sb.WriteString(esc)
		default:
			sb.WriteRune(c)
		}
	}
}

func (p *GrammarParser) parseEscape() (string, error) {
	start := p.Cursor() - 1
	c, err := p.Any()
	if err != nil {
		return "", p.Throw("unterminated string", start)
	}
	switch c {
	case '"', '\\', '/', '\'':
		return string(c), nil
	case 'n':
		return "\n", nil
	case 't':
		return "\t", nil
	case 'r':
		return "\r", nil
	case 'b':
		return "\b", nil
	case 'f':
		return "\f", nil
	case '0':
		return "\x00", nil
	case 'x', 'u', 'U':
		n := map[rune]int{'x': 2, 'u': 4, 'U': 8}[c]
		var digits []rune
		for i := 0; i < n; i++ {
			d, err := p.Any()
			if err != nil {
				return "", p.Throw("invalid escape sequence", start)
			}
			digits = append(digits, d)
		}
		v, err := strconv.ParseUint(string(digits), 16, 32)
		if err != nil {
			return "", p.Throw("invalid escape sequence", start)
		}
		if c == 'x' {
			return string([]byte{byte(v)}), nil
		}
		return string(rune(v)), nil
	default:
		return "", p.Throw(fmt.Sprintf("invalid escape sequence \\%c", c), start)
	}
}

// GR: Regex <- '/' (!'/' ('\\' . / .))+ '/' Flags
func (p *GrammarParser) parseRegex() (Node, error) {
	start := p.Cursor()
	p.Any()
	var sb strings.Builder
	for {
		c, err := p.Any()
		if err != nil || c == '\n' {
			return nil, p.Throw("unterminated regex", start)
		}
		if c == '/' {
			break
		}
		sb.WriteRune(c)
		if c == '\\' {
			n, err := p.Any()
			if err != nil {
				return nil, p.Throw("unterminated regex", start)
			}
			sb.WriteRune(n)
		}
	}
	var flags RegexFlags
	for isNameRune(p.Peek()) {
		at := p.Cursor()
		c, _ := p.Any()
		switch c {
		case 'i':
			flags.FoldCase = true
		case 's':
			flags.DotNL = true
		case 'l':
			return nil, p.Throw("l-flag is not supported in regexes", at)
		default:
			return nil, p.Throw(fmt.Sprintf("unsupported regex flag %q", c), at)
		}
	}
	return NewRegexNode(sb.String(), flags, start), nil
}

// GR: Special <- '<' (!'>' !Space .)+ '>'
func (p *GrammarParser) parseSpecial() (Node, error) {
	start := p.Cursor()
	p.Any()
	for {
		c := p.Peek()
		if c == eof || unicode.IsSpace(c) || c == '<' {
			return nil, p.NewError("special token", "Expected special token", start)
		}
		p.Any()
		if c == '>' {
			break
		}
	}
	name := string(p.input[start:p.Cursor()])
	if name == "<>" {
		return nil, p.NewError("special token", "Expected special token", start)
	}
	return NewSpecialTokenNode(name, start), nil
}

// parseBraced reads a balanced `{...}` block, skipping braces within
// double quoted strings, and returns it including the braces
func (p *GrammarParser) parseBraced() (string, error) {
	start := p.Cursor()
	if _, err := p.ExpectRune('{'); err != nil {
		return "", err
	}
	depth, inString := 1, false
	for depth > 0 {
		c, err := p.Any()
		if err != nil {
			return "", p.Throw("unbalanced braces", start)
		}
		switch {
		case inString && c == '\\':
			p.Any()
		case c == '"':
			inString = !inString
		case !inString && c == '{':
			depth++
		case !inString && c == '}':
			depth--
		}
	}
	return string(p.input[start:p.Cursor()]), nil
}

func (p *GrammarParser) parseName() (string, error) {
	start := p.Cursor()
	c := p.Peek()
	if !(c == '_' || unicode.IsLetter(c)) {
		return "", p.NewError("name", "Expected name but got "+describeRune(c), start)
	}
	for isNameRune(p.Peek()) {
		p.Any()
	}
	return string(p.input[start:p.Cursor()]), nil
}

func (p *GrammarParser) parseNumber() (int, error) {
	start := p.Cursor()
	for c := p.Peek(); c >= '0' && c <= '9'; c = p.Peek() {
		p.Any()
	}
	if p.Cursor() == start {
		return 0, p.NewError("number", "Expected number but got "+describeRune(p.Peek()), start)
	}
	n, err := strconv.Atoi(string(p.input[start:p.Cursor()]))
	if err != nil {
		return 0, p.Throw("number out of range", start)
	}
	return n, nil
}

func isNameRune(c rune) bool {
	return c == '_' || unicode.IsLetter(c) || unicode.IsDigit(c)
}

// parseSpacing skips blanks and comments, and new lines too when
// within a group
func (p *GrammarParser) parseSpacing() {
	for {
		switch c := p.Peek(); {
		case c == ' ' || c == '\t' || c == '\r':
			p.Any()
		case c == '\n' && p.depth > 0:
			p.Any()
		case c == '\\' && p.PeekAt(1) == '\n':
			p.Any()
			p.Any()
		case c == '/' && p.PeekAt(1) == '/', c == '#':
			for p.Peek() != '\n' && p.Peek() != eof {
				p.Any()
			}
		default:
			return
		}
	}
}

// parseSpacingNL skips blanks, comments and new lines
func (p *GrammarParser) parseSpacingNL() {
	for {
		p.parseSpacing()
		if p.Peek() != '\n' {
			return
		}
		p.Any()
	}
}
