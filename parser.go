package gmatch

import "fmt"

const eof = -1

// Parser is the cursor over grammar text shared by the parsing
// functions, it remembers the farthest position reached so errors
// can point at it
type Parser struct {
	ffp    int
	cursor int
	input  []rune
}

// Backtrackable is what the parsing expressions need from a parser
type Backtrackable interface {
	// Peek returns the rune within the input that is under the
	// parser cursor.  It does not change the cursor.
	Peek() rune

	// Any returns the current rune and advances the cursor.  It
	// returns the EOF error if the cursor is beyond the input
	// length.
	Any() (rune, error)

	// Backtrack resets the parser's cursor
	Backtrack(cursor int)

	Cursor() int
}

// SetInput associates an input to the parser struct and resets its
// state
func (p *Parser) SetInput(input string) {
	p.ffp = 0
	p.cursor = 0
	p.input = []rune(input)
}

func (p *Parser) Cursor() int {
	return p.cursor
}

// Peek returns the character under the input cursor, or eof if the
// entire input has been consumed
func (p *Parser) Peek() rune {
	if p.cursor >= len(p.input) {
		return eof
	}
	return p.input[p.cursor]
}

// PeekAt returns the character `n` positions after the cursor
func (p *Parser) PeekAt(n int) rune {
	if p.cursor+n >= len(p.input) {
		return eof
	}
	return p.input[p.cursor+n]
}

// Backtrack resets the internal parser state to the cursor `c`
func (p *Parser) Backtrack(c int) {
	p.cursor = c
}

func (p *Parser) ExpectRune(v rune) (rune, error) {
	start := p.Cursor()
	c := p.Peek()
	if c == v {
		return p.Any()
	}
	exp := "`" + string(v) + "`"
	return 0, p.NewError(exp, "Expected "+exp+" but got "+describeRune(c), start)
}

func (p *Parser) ExpectLiteral(literal string) (string, error) {
	start := p.Cursor()
	for _, v := range literal {
		c, err := p.Any()
		if err != nil {
			p.Backtrack(start)
			return "", err
		}
		if c == v {
			continue
		}
		p.Backtrack(start)
		exp := "`" + literal + "`"
		return "", p.NewError(exp, "Missing "+exp, start)
	}
	return literal, nil
}

// Any matches any rune under the input cursor, and will throw an
// error on EOF
func (p *Parser) Any() (rune, error) {
	c := p.Peek()
	if c == eof {
		return 0, p.NewError(".", "EOF", p.cursor)
	}
	p.cursor++
	if p.cursor > p.ffp {
		p.ffp = p.cursor
	}
	return c, nil
}

// NewError creates a type of error that is handled and discarded
// when the parser backtracks the input position
func (p *Parser) NewError(exp, msg string, cursor int) error {
	return backtrackingError{Expected: exp, Message: msg, Cursor: cursor}
}

// Throw returns an error that can't be caught by the backtrack
// system and will error right away
func (p *Parser) Throw(msg string, cursor int) error {
	return ParsingError{Message: msg, Cursor: cursor}
}

func describeRune(c rune) string {
	if c == eof {
		return "EOF"
	}
	return fmt.Sprintf("%q", c)
}

// ParserFn is the signature of a parser function.  Being generic on
// its return lets the grammar parser collect nodes, names or runes
// with the same combinators.
type ParserFn[T any] func(p Backtrackable) (T, error)

// ZeroOrMore will call `fn` until it errors out, collecting and
// returning all the successful outputs.  The cursor goes back to
// where the failed attempt started, and errors thrown with Throw are
// returned as they are.
func ZeroOrMore[T any](p Backtrackable, fn ParserFn[T]) ([]T, error) {
	var output []T
	for {
		state := p.Cursor()
		item, err := fn(p)
		if err != nil {
			p.Backtrack(state)
			if isthrown(err) {
				return nil, err
			}
			break
		}
		output = append(output, item)
	}
	return output, nil
}
