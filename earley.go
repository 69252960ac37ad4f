package gmatch

import "fmt"

// item is an Earley item: production `prod` with the dot before
// position `dot` of its right hand side, started at row `origin`
type item struct {
	prod   int32
	dot    int32
	origin int32
}

// row is the Earley set created after a lexeme is scanned.  Items of
// all rows live in one slice; a row owns `items[start:end]`.
type row struct {
	start, end int
	// allowed holds the lexemes that can be scanned next
	allowed LexemeSet
	// lexStart is where the lexer starts looking for the next
	// lexeme
	lexStart StateID
	// accepting tells that the start symbol is complete
	accepting bool
}

// byteEntry is pushed for every byte consumed.  `rows` is the number
// of rows right after the byte, and `boundary` tells that a lexeme
// ended with it so `lex` is a start state.
type byteEntry struct {
	lex      StateID
	rows     int32
	boundary bool
}

// parser is the grammar level state of a matcher: Earley rows over
// lexemes, and a byte stack tracking where the lexer is within the
// current lexeme.  Rows and items are only appended while bytes are
// pushed, so popping bytes is a matter of truncating slices.
type parser struct {
	g     *Grammar
	items []item
	rows  []row
	stack []byteEntry

	// err keeps the first resource limit error hit while pushing
	// bytes through a Recognizer interface that can't return it
	err error

	seen map[item]struct{}
}

func newParser(g *Grammar) (*parser, error) {
	p := &parser{g: g, seen: map[item]struct{}{}}
	if err := p.init(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *parser) init() error {
	p.items = p.items[:0]
	p.rows = p.rows[:0]
	p.stack = p.stack[:0]
	p.err = nil

	start := len(p.items)
	for _, pi := range p.g.symbols[p.g.start].Prods {
		p.items = append(p.items, item{prod: pi})
	}
	if err := p.closeRow(start, true); err != nil {
		return err
	}
	p.stack = append(p.stack, byteEntry{lex: p.rows[0].lexStart, rows: 1, boundary: true})
	return nil
}

func (p *parser) clone() *parser {
	return &parser{
		g:     p.g,
		items: append([]item(nil), p.items...),
		rows:  append([]row(nil), p.rows...),
		stack: append([]byteEntry(nil), p.stack...),
		err:   p.err,
		seen:  map[item]struct{}{},
	}
}

// closeRow runs prediction and completion over the items appended
// after `start` and records them as a new row
func (p *parser) closeRow(start int, first bool) error {
	var (
		g       = p.g
		k       = int32(len(p.rows))
		allowed = NewLexemeSet(len(g.lexer.Lexemes()))
		limit   = g.limits.MaxItemsInRow
	)
	clear(p.seen)
	out := p.items[:start]
	for _, it := range p.items[start:] {
		if _, ok := p.seen[it]; !ok {
			p.seen[it] = struct{}{}
			out = append(out, it)
		}
	}
	p.items = out

	add := func(it item) {
		if _, ok := p.seen[it]; ok {
			return
		}
		p.seen[it] = struct{}{}
		p.items = append(p.items, it)
	}

	accepting := false
	for i := start; i < len(p.items); i++ {
		if limit > 0 && len(p.items)-start > limit {
			p.items = p.items[:start]
			return fmt.Errorf("%w: more than %d items", ErrRowTooLarge, limit)
		}
		it := p.items[i]
		prod := &g.prods[it.prod]
		if int(it.dot) < len(prod.RHS) {
			sym := &g.symbols[prod.RHS[it.dot]]
			if sym.IsTerminal() {
				allowed.Add(LexemeIdx(sym.Lexeme))
				continue
			}
			for _, pi := range sym.Prods {
				add(item{prod: pi, origin: k})
			}
			if sym.Nullable {
				add(item{prod: it.prod, dot: it.dot + 1, origin: it.origin})
			}
			continue
		}
		if prod.LHS == g.start && it.origin == 0 {
			accepting = true
		}
		// completion, rows before this one are final and items of
		// this one waiting on nullable symbols were already
		// advanced at prediction time
		if it.origin == k {
			continue
		}
		orow := p.rows[it.origin]
		for _, o := range p.items[orow.start:orow.end] {
			oprod := &g.prods[o.prod]
			if int(o.dot) < len(oprod.RHS) && oprod.RHS[o.dot] == prod.LHS {
				add(item{prod: o.prod, dot: o.dot + 1, origin: o.origin})
			}
		}
	}

	if g.hasIgnore && (!first || g.Options.AllowInitialSkip) {
		for w := range allowed {
			allowed[w] |= g.ignore[w]
		}
	}
	lexStart, err := g.lexer.Start(allowed)
	if err != nil {
		p.items = p.items[:start]
		return err
	}
	p.rows = append(p.rows, row{
		start:     start,
		end:       len(p.items),
		allowed:   allowed,
		lexStart:  lexStart,
		accepting: accepting,
	})
	return nil
}

// scan advances every item of the last row expecting one of
// `lexemes` and closes the resulting row.  It returns false when no
// item expects any of them.
func (p *parser) scan(lexemes LexemeSet) (bool, error) {
	g := p.g
	last := p.rows[len(p.rows)-1]
	start := len(p.items)
	for i := last.start; i < last.end; i++ {
		it := p.items[i]
		prod := &g.prods[it.prod]
		if int(it.dot) >= len(prod.RHS) {
			continue
		}
		sym := &g.symbols[prod.RHS[it.dot]]
		if sym.IsTerminal() && lexemes.Has(LexemeIdx(sym.Lexeme)) {
			p.items = append(p.items, item{prod: it.prod, dot: it.dot + 1, origin: it.origin})
		}
	}
	if len(p.items) == start {
		return false, nil
	}
	if err := p.closeRow(start, false); err != nil {
		return false, err
	}
	return true, nil
}

// truncateRows drops rows after the first `n`
func (p *parser) truncateRows(n int) {
	if n < len(p.rows) {
		p.items = p.items[:p.rows[n].start]
		p.rows = p.rows[:n]
	}
}

// endLexeme finishes the lexeme matched at lexer state `s`.  Regular
// lexemes are scanned by the parser and take precedence over the
// ignored ones, which leave the parser untouched.  It returns the
// state the lexer restarts from.
func (p *parser) endLexeme(s StateID) (StateID, bool, error) {
	lx := p.g.lexer
	acc := lx.Accepting(s)
	if acc.IsEmpty() {
		return DeadState, false, nil
	}
	if !lx.OnlyIgnoreAccepting(s) {
		real := acc.Clone()
		if p.g.hasIgnore {
			for w := range real {
				real[w] &^= p.g.ignore[w]
			}
		}
		ok, err := p.scan(real)
		if err != nil || !ok {
			return DeadState, false, err
		}
		return p.rows[len(p.rows)-1].lexStart, true, nil
	}
	return p.rows[len(p.rows)-1].lexStart, true, nil
}

// PushByte implements toktrie.Recognizer
func (p *parser) PushByte(b byte) bool {
	ok, err := p.pushByte(b)
	if err != nil && p.err == nil {
		p.err = err
	}
	return ok
}

// PopBytes implements toktrie.Recognizer
func (p *parser) PopBytes(n int) {
	p.truncate(len(p.stack) - n)
}

func (p *parser) pushByte(b byte) (bool, error) {
	lx := p.g.lexer
	top := p.stack[len(p.stack)-1]
	nrows := len(p.rows)

	next, err := lx.Transition(top.lex, b)
	if err != nil {
		return false, err
	}
	if next == DeadState {
		// the byte can't extend the current lexeme, so the lexeme
		// ends here and the byte starts the next one
		if top.boundary {
			return false, nil
		}
		restart, ok, err := p.endLexeme(top.lex)
		if err != nil || !ok {
			p.truncateRows(nrows)
			return false, err
		}
		next, err = lx.Transition(restart, b)
		if err != nil || next == DeadState {
			p.truncateRows(nrows)
			return false, err
		}
	}
	if lx.LazyAccepting(next) {
		restart, ok, err := p.endLexeme(next)
		if err != nil || !ok {
			p.truncateRows(nrows)
			return false, err
		}
		p.stack = append(p.stack, byteEntry{lex: restart, rows: int32(len(p.rows)), boundary: true})
		return true, nil
	}
	p.stack = append(p.stack, byteEntry{lex: next, rows: int32(len(p.rows))})
	return true, nil
}

// truncate pops bytes until only `n` entries are left in the stack
func (p *parser) truncate(n int) {
	if n < 1 {
		n = 1
	}
	if n >= len(p.stack) {
		return
	}
	p.stack = p.stack[:n]
	p.truncateRows(int(p.stack[n-1].rows))
}

// accepting tells if the input pushed so far is a complete match of
// the grammar.  Mid lexeme, the lexeme is tentatively ended to find
// out.
func (p *parser) accepting() (bool, error) {
	top := p.stack[len(p.stack)-1]
	nrows := len(p.rows)
	if top.boundary {
		return p.rows[nrows-1].accepting, nil
	}
	_, ok, err := p.endLexeme(top.lex)
	if err != nil || !ok {
		p.truncateRows(nrows)
		return false, err
	}
	acc := p.rows[len(p.rows)-1].accepting
	p.truncateRows(nrows)
	return acc, nil
}

// allowedBytes returns the bytes that can be pushed next
func (p *parser) allowedBytes() (ByteSet, error) {
	var out ByteSet
	for i := 0; i < 256; i++ {
		ok, err := p.pushByte(byte(i))
		if err != nil {
			return out, err
		}
		if ok {
			out.Add(byte(i))
			p.PopBytes(1)
		}
	}
	return out, nil
}

// numBytes returns how many bytes were pushed since the start
func (p *parser) numBytes() int { return len(p.stack) - 1 }

// canExtend tells if at least one byte can be pushed next
func (p *parser) canExtend() (bool, error) {
	for i := 0; i < 256; i++ {
		ok, err := p.pushByte(byte(i))
		if err != nil {
			return false, err
		}
		if ok {
			p.PopBytes(1)
			return true, nil
		}
	}
	return false, nil
}
