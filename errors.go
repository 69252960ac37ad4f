package gmatch

import (
	"errors"
	"fmt"
)

var (
	// ErrLexerTooComplex is returned when building the lexer automaton
	// goes past the configured number of states
	ErrLexerTooComplex = errors.New("lexer too complex")

	// ErrGrammarTooLarge is returned when a grammar goes past the
	// configured size once compiled
	ErrGrammarTooLarge = errors.New("grammar too large")

	// ErrRowTooLarge is returned when the parser would create a row
	// with more items than allowed
	ErrRowTooLarge = errors.New("too many items in parser row")
)

// Errors reported by the batch mask computation.  Every one of them
// is detected before any mask is written.
var (
	ErrNullDestination   = errors.New("null destination")
	ErrMisaligned        = errors.New("pointer not aligned")
	ErrInvalidBufferSize = errors.New("invalid buffer size")
	ErrIndexOutOfBounds  = errors.New("target index out of bounds")
	ErrAlreadyBorrowed   = errors.New("already borrowed")
	ErrNoMatchers        = errors.New("no matchers")
)

// ParsingError is returned when grammar text can't be parsed.  The
// message is free of line and column information, the location is
// kept on its own field.
type ParsingError struct {
	Message string
	Cursor  int
}

func (e ParsingError) Error() string { return e.Message }

// backtrackingError is an internal error type that is captured by
// ZeroOrMore
type backtrackingError struct {
	Message  string
	Expected string
	Cursor   int
}

func (e backtrackingError) Error() string {
	return fmt.Sprintf("%s @ %d", e.Message, e.Cursor)
}

func isthrown(err error) bool {
	_, ok := err.(ParsingError)
	return ok
}

// GrammarError describes a problem found while compiling a grammar
type GrammarError struct {
	Message string
	// Rule is the name of the rule being compiled, if any
	Rule string
	// Err is the wrapped error, mostly for resource limits
	Err error
}

func (e *GrammarError) Error() string {
	if e.Rule != "" {
		return fmt.Sprintf("%s (in rule %q)", e.Message, e.Rule)
	}
	return e.Message
}

func (e *GrammarError) Unwrap() error { return e.Err }

func grammarErrorf(rule, format string, args ...any) *GrammarError {
	return &GrammarError{Rule: rule, Message: fmt.Sprintf(format, args...)}
}

// ErrorKind classifies errors recorded by a matcher
type ErrorKind int

const (
	KindGrammarViolation ErrorKind = iota
	KindTokenRange
	KindLimit
	KindInternal
)

func (k ErrorKind) String() string {
	return map[ErrorKind]string{
		KindGrammarViolation: "grammar violation",
		KindTokenRange:       "token out of range",
		KindLimit:            "limit exceeded",
		KindInternal:         "internal error",
	}[k]
}

// MatcherError is the error returned by matcher operations
type MatcherError struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *MatcherError) Error() string {
	return e.Message
}

func (e *MatcherError) Unwrap() error { return e.Err }
