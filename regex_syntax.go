package gmatch

import (
	"fmt"
	"regexp/syntax"
	"unicode"
	"unicode/utf8"
)

// RegexFlags mirror the flags accepted after a `/regex/` in grammar
// text
type RegexFlags struct {
	// FoldCase makes the match case insensitive (`i`)
	FoldCase bool
	// DotNL makes `.` match new lines too (`s`)
	DotNL bool
}

// Parse compiles the regular expression `pattern` into an expression
// over UTF-8 encoded bytes.  The whole input has to match, so anchors
// carry no meaning and are accepted as empty matches.
func (s *ExprSet) Parse(pattern string, flags RegexFlags) (ExprRef, error) {
	pflags := syntax.Perl
	if flags.FoldCase {
		pflags |= syntax.FoldCase
	}
	if flags.DotNL {
		pflags |= syntax.DotNL
	}
	re, err := syntax.Parse(pattern, pflags)
	if err != nil {
		return NoMatch, err
	}
	return s.fromSyntax(re)
}

func (s *ExprSet) fromSyntax(re *syntax.Regexp) (ExprRef, error) {
	switch re.Op {
	case syntax.OpNoMatch:
		return NoMatch, nil
	case syntax.OpEmptyMatch, syntax.OpBeginLine, syntax.OpEndLine,
		syntax.OpBeginText, syntax.OpEndText:
		return EmptyString, nil
	case syntax.OpWordBoundary, syntax.OpNoWordBoundary:
		return NoMatch, fmt.Errorf("word boundaries are not supported")
	case syntax.OpLiteral:
		parts := make([]ExprRef, len(re.Rune))
		for i, r := range re.Rune {
			if re.Flags&syntax.FoldCase != 0 {
				parts[i] = s.runeClass(foldOrbit(r))
			} else {
				parts[i] = s.runeClass([]rune{r, r})
			}
		}
		return s.Concat(parts...), nil
	case syntax.OpCharClass:
		return s.runeClass(re.Rune), nil
	case syntax.OpAnyCharNotNL:
		return s.runeClass([]rune{0, '\n' - 1, '\n' + 1, unicode.MaxRune}), nil
	case syntax.OpAnyChar:
		return s.runeClass([]rune{0, unicode.MaxRune}), nil
	case syntax.OpCapture:
		return s.fromSyntax(re.Sub[0])
	case syntax.OpStar, syntax.OpPlus, syntax.OpQuest, syntax.OpRepeat:
		sub, err := s.fromSyntax(re.Sub[0])
		if err != nil {
			return NoMatch, err
		}
		switch re.Op {
		case syntax.OpStar:
			return s.Repeat(sub, 0, Unbounded), nil
		case syntax.OpPlus:
			return s.Repeat(sub, 1, Unbounded), nil
		case syntax.OpQuest:
			return s.Optional(sub), nil
		default:
			return s.Repeat(sub, re.Min, re.Max), nil
		}
	case syntax.OpConcat, syntax.OpAlternate:
		parts := make([]ExprRef, len(re.Sub))
		for i, sub := range re.Sub {
			e, err := s.fromSyntax(sub)
			if err != nil {
				return NoMatch, err
			}
			parts[i] = e
		}
		if re.Op == syntax.OpConcat {
			return s.Concat(parts...), nil
		}
		return s.Or(parts...), nil
	default:
		return NoMatch, fmt.Errorf("unsupported regex operator %s", re.Op)
	}
}

func foldOrbit(r rune) []rune {
	out := []rune{r, r}
	for f := unicode.SimpleFold(r); f != r; f = unicode.SimpleFold(f) {
		out = append(out, f, f)
	}
	return out
}

// runeClass builds an expression for the UTF-8 encoding of any rune
// within the pairs of inclusive ranges in `ranges`.  Surrogates are
// left out as they have no valid encoding.
func (s *ExprSet) runeClass(ranges []rune) ExprRef {
	var alts []ExprRef
	for i := 0; i+1 < len(ranges); i += 2 {
		lo, hi := ranges[i], ranges[i+1]
		if lo <= 0xD7FF && hi >= 0xE000 {
			alts = s.utf8Ranges(alts, lo, 0xD7FF)
			alts = s.utf8Ranges(alts, 0xE000, hi)
			continue
		}
		if lo >= 0xD800 && lo <= 0xDFFF {
			lo = 0xE000
		}
		if hi >= 0xD800 && hi <= 0xDFFF {
			hi = 0xD7FF
		}
		if lo <= hi {
			alts = s.utf8Ranges(alts, lo, hi)
		}
	}
	return s.Or(alts...)
}

var utf8Boundaries = [...]rune{0x7F, 0x7FF, 0xFFFF}

// utf8Ranges appends to `out` byte sequences covering [lo, hi].  Each
// sequence is a concatenation of byte ranges, one per position of the
// encoded runes, splitting the range until every piece has the same
// encoded length and only varies in a suffix of continuation bytes.
func (s *ExprSet) utf8Ranges(out []ExprRef, lo, hi rune) []ExprRef {
	for _, b := range utf8Boundaries {
		if lo <= b && hi > b {
			out = s.utf8Ranges(out, lo, b)
			return s.utf8Ranges(out, b+1, hi)
		}
	}
	if hi <= 0x7F {
		return append(out, s.Bytes(ByteRange(byte(lo), byte(hi))))
	}
	for i := 1; i < utf8.UTFMax; i++ {
		m := rune(1)<<(6*i) - 1
		if lo&^m != hi&^m {
			if lo&m != 0 {
				out = s.utf8Ranges(out, lo, lo|m)
				return s.utf8Ranges(out, (lo|m)+1, hi)
			}
			if hi&m != m {
				out = s.utf8Ranges(out, lo, (hi&^m)-1)
				return s.utf8Ranges(out, hi&^m, hi)
			}
		}
	}
	var a, b [utf8.UTFMax]byte
	n := utf8.EncodeRune(a[:], lo)
	utf8.EncodeRune(b[:], hi)
	seq := make([]ExprRef, n)
	for i := 0; i < n; i++ {
		seq[i] = s.Bytes(ByteRange(a[i], b[i]))
	}
	return append(out, s.Concat(seq...))
}
