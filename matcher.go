package gmatch

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/clarete/gmatch/toktrie"
)

// StopReason tells why a matcher can't take more tokens
type StopReason int

const (
	NotStopped StopReason = iota
	// NoExtension means the grammar is complete and nothing can be
	// appended to the input
	NoExtension
	// EndOfSentence means the end of sequence token was consumed
	EndOfSentence
	GrammarViolation
	LimitExceeded
	// InternalError flags a broken invariant, like a token rejected
	// right after the mask allowed it
	InternalError
)

func (r StopReason) String() string {
	switch r {
	case NotStopped:
		return "NotStopped"
	case NoExtension:
		return "NoExtension"
	case EndOfSentence:
		return "EndOfSentence"
	case GrammarViolation:
		return "GrammarViolation"
	case LimitExceeded:
		return "LimitExceeded"
	case InternalError:
		return "InternalError"
	default:
		return fmt.Sprintf("StopReason(%d)", int(r))
	}
}

// snapshot is what the undo log keeps for each consumed token: how
// many bytes the parser had and whether the matcher was stopped
// before the token
type snapshot struct {
	bytes int
	stop  StopReason
}

// Matcher follows a grammar token by token.  Matchers created from
// the same Grammar share its lexer automaton and nothing else, so
// distinct matchers can be used from distinct goroutines.  A single
// Matcher must not be used concurrently.
type Matcher struct {
	g      *Grammar
	tok    toktrie.TokEnv
	trie   *toktrie.TokTrie
	logger *slog.Logger

	p    *parser
	undo []snapshot

	accepting bool
	stop      StopReason
	err       *MatcherError

	// mask is the last mask computed, dropped on every change of
	// state; it tells rejected tokens apart from engine bugs
	mask toktrie.Bitmask
}

// NewMatcher creates a matcher for `g` over the vocabulary of `tok`
func NewMatcher(g *Grammar, tok toktrie.TokEnv, logger *slog.Logger) (*Matcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	p, err := newParser(g)
	if err != nil {
		return nil, err
	}
	m := &Matcher{
		g:      g,
		tok:    tok,
		trie:   tok.Trie(),
		logger: logger.With("grammar", g.Name),
		p:      p,
	}
	m.refresh()
	m.logger.Debug("matcher created", "accepting", m.accepting, "stop", m.stop)
	return m, nil
}

// Grammar returns the grammar the matcher follows
func (m *Matcher) Grammar() *Grammar { return m.g }

// NumTokens returns how many tokens were consumed since the matcher
// was created or reset
func (m *Matcher) NumTokens() int { return len(m.undo) }

// IsAccepting tells if the input consumed so far is a complete match
func (m *Matcher) IsAccepting() bool { return m.accepting }

// IsStopped tells if no token other than the end of sequence can be
// consumed anymore
func (m *Matcher) IsStopped() bool { return m.stop != NotStopped }

func (m *Matcher) StopReason() StopReason { return m.stop }

// Error returns the message of the recorded error, if any
func (m *Matcher) Error() string {
	if m.err == nil {
		return ""
	}
	return m.err.Message
}

func (m *Matcher) IsError() bool { return m.err != nil }

// Err returns the recorded error, nil if there's none
func (m *Matcher) Err() error {
	if m.err == nil {
		return nil
	}
	return m.err
}

// fail records `kind` as the matcher error.  The first error sticks
// until Reset.
func (m *Matcher) fail(kind ErrorKind, cause error, format string, args ...any) *MatcherError {
	err := &MatcherError{Kind: kind, Message: fmt.Sprintf(format, args...), Err: cause}
	if m.err != nil {
		return err
	}
	m.err = err
	switch kind {
	case KindGrammarViolation:
		m.stop = GrammarViolation
	case KindLimit:
		m.stop = LimitExceeded
	default:
		m.stop = InternalError
	}
	m.mask = nil
	m.logger.Warn("matcher error", "kind", kind, "msg", err.Message, "tokens", len(m.undo))
	return err
}

func (m *Matcher) failParser(err error) *MatcherError {
	if errors.Is(err, ErrLexerTooComplex) || errors.Is(err, ErrRowTooLarge) || errors.Is(err, ErrGrammarTooLarge) {
		return m.fail(KindLimit, err, "%v", err)
	}
	return m.fail(KindInternal, err, "%v", err)
}

// errored is returned by mutating calls while an error is recorded
func (m *Matcher) errored() error {
	return &MatcherError{Kind: m.err.Kind, Message: "matcher is in error state: " + m.err.Message, Err: m.err}
}

// refresh recomputes the accepting and stopped flags after the
// parser changed.  Input that is neither complete nor extensible is
// a dead end and records a grammar violation.
func (m *Matcher) refresh() {
	acc, err := m.p.accepting()
	if err != nil {
		m.failParser(err)
		return
	}
	m.accepting = acc
	if m.stop != NotStopped {
		return
	}
	ext, err := m.p.canExtend()
	if err != nil {
		m.failParser(err)
		return
	}
	switch {
	case !ext && acc:
		m.stop = NoExtension
	case !ext:
		m.failDeadEnd()
	}
}

func (m *Matcher) failDeadEnd() *MatcherError {
	return m.fail(KindGrammarViolation, nil, "no token can extend the input")
}

// ConsumeToken consumes a single token
func (m *Matcher) ConsumeToken(t toktrie.TokenID) error {
	if m.err != nil {
		return m.errored()
	}
	return m.consume(t)
}

// ConsumeTokens consumes `toks` in order and returns how many were
// consumed.  Consuming stops at the first token the grammar rejects,
// which is an error.
func (m *Matcher) ConsumeTokens(toks []toktrie.TokenID) (int, error) {
	if m.err != nil {
		return 0, m.errored()
	}
	for i, t := range toks {
		if err := m.consume(t); err != nil {
			return i, err
		}
	}
	return len(toks), nil
}

// TryConsumeTokens consumes the longest prefix of `toks` the grammar
// accepts.  Rejected tokens aren't errors here, the count tells how
// far it went.
func (m *Matcher) TryConsumeTokens(toks []toktrie.TokenID) (int, error) {
	n, err := m.ValidateTokens(toks)
	if err != nil {
		return 0, err
	}
	return m.ConsumeTokens(toks[:n])
}

func (m *Matcher) consume(t toktrie.TokenID) error {
	if int(t) >= m.tok.VocabSize() {
		return m.fail(KindTokenRange, nil, "token id %d out of range, vocabulary has %d tokens", t, m.tok.VocabSize())
	}
	wasAllowed := m.mask != nil && m.mask.IsAllowed(t)
	m.mask = nil
	eos := m.tok.EOSToken()
	if m.stop != NotStopped {
		if t == eos {
			m.undo = append(m.undo, snapshot{bytes: len(m.p.stack), stop: m.stop})
			return nil
		}
		return m.reject(t, wasAllowed, "token %s after the end of the grammar", m.trie.TokenString(t))
	}
	if t == eos {
		if !m.accepting {
			return m.reject(t, wasAllowed, "end of sequence token while the grammar is not complete")
		}
		m.undo = append(m.undo, snapshot{bytes: len(m.p.stack), stop: m.stop})
		m.stop = EndOfSentence
		trace(m.logger, "consumed eos", "tokens", len(m.undo))
		return nil
	}
	bs := m.tok.TokenBytes(t)
	if len(bs) == 0 {
		return m.reject(t, wasAllowed, "token %d has no bytes", t)
	}
	n0 := len(m.p.stack)
	for i, b := range bs {
		ok, err := m.p.pushByte(b)
		if err != nil {
			m.p.truncate(n0)
			return m.failParser(err)
		}
		if !ok {
			m.p.truncate(n0)
			return m.reject(t, wasAllowed, "token %s rejected at byte %d", m.trie.TokenString(t), i)
		}
	}
	m.undo = append(m.undo, snapshot{bytes: n0, stop: m.stop})
	m.refresh()
	if m.err != nil {
		return m.err
	}
	trace(m.logger, "consumed token", "token", m.trie.TokenString(t), "tokens", len(m.undo), "accepting", m.accepting, "stop", m.stop)
	return nil
}

func (m *Matcher) reject(t toktrie.TokenID, wasAllowed bool, format string, args ...any) error {
	if wasAllowed {
		return m.fail(KindInternal, nil, "token %d allowed by the mask but rejected: "+format, append([]any{t}, args...)...)
	}
	return m.fail(KindGrammarViolation, nil, format, args...)
}

// ValidateTokens returns how many tokens of `toks`, from the start,
// would be consumed.  The matcher is left as it was found.
func (m *Matcher) ValidateTokens(toks []toktrie.TokenID) (int, error) {
	if m.err != nil {
		return 0, m.errored()
	}
	var (
		n0      = len(m.p.stack)
		stopped = m.stop != NotStopped
		eos     = m.tok.EOSToken()
		count   = 0
	)
	defer m.p.truncate(n0)
	for _, t := range toks {
		if int(t) >= m.tok.VocabSize() {
			return count, m.fail(KindTokenRange, nil, "token id %d out of range, vocabulary has %d tokens", t, m.tok.VocabSize())
		}
		if t == eos {
			if !stopped {
				acc, err := m.p.accepting()
				if err != nil {
					return count, m.failParser(err)
				}
				if !acc {
					return count, nil
				}
				stopped = true
			}
			count++
			continue
		}
		if stopped {
			return count, nil
		}
		bs := m.tok.TokenBytes(t)
		if len(bs) == 0 {
			return count, nil
		}
		mark := len(m.p.stack)
		for _, b := range bs {
			ok, err := m.p.pushByte(b)
			if err != nil {
				return count, m.failParser(err)
			}
			if !ok {
				m.p.truncate(mark)
				return count, nil
			}
		}
		count++
	}
	return count, nil
}

// ComputeMask returns the tokens that can be consumed next.  A
// stopped or failed matcher only allows the end of sequence token,
// and the error is returned along with that mask.
func (m *Matcher) ComputeMask() (toktrie.Bitmask, error) {
	mask := toktrie.NewBitmask(m.tok.VocabSize())
	if err := m.computeMask(mask); err != nil {
		return mask, err
	}
	return mask, nil
}

// ComputeMaskInto writes the mask into `dst`, which must have exactly
// one word per 32 tokens
func (m *Matcher) ComputeMaskInto(dst []uint32) error {
	if len(dst) != toktrie.WordsFor(m.tok.VocabSize()) {
		return fmt.Errorf("%w: got %d words, want %d", ErrInvalidBufferSize, len(dst), toktrie.WordsFor(m.tok.VocabSize()))
	}
	return m.computeMask(toktrie.Bitmask(dst))
}

// ComputeBitmask returns the mask as little endian 32-bit words
func (m *Matcher) ComputeBitmask() ([]byte, error) {
	mask, err := m.ComputeMask()
	return mask.Bytes(), err
}

func (m *Matcher) computeMask(mask toktrie.Bitmask) error {
	mask.Clear()
	eos := m.tok.EOSToken()
	if m.err != nil {
		mask.Allow(eos)
		return m.errored()
	}
	if m.stop != NotStopped {
		mask.Allow(eos)
		m.mask = append(m.mask[:0], mask...)
		return nil
	}
	m.p.err = nil
	m.trie.Walk(m.p, mask.Allow)
	if err := m.p.err; err != nil {
		m.p.err = nil
		mask.Clear()
		mask.Allow(eos)
		return m.failParser(err)
	}
	if m.accepting {
		mask.Allow(eos)
	} else if mask.Count() == 0 {
		// bytes could follow but no token spells them
		mask.Allow(eos)
		return m.failDeadEnd()
	}
	m.mask = append(m.mask[:0], mask...)
	trace(m.logger, "mask computed", "allowed", mask.Count(), "tokens", len(m.undo))
	return nil
}

// ComputeFFBytes returns the bytes the grammar forces next, the ones
// that follow without any choice.  It stops where the grammar could
// end, and returns nothing when forcing is disabled.
func (m *Matcher) ComputeFFBytes() []byte {
	out, _ := m.forcedBytes()
	return out
}

// forcedBytes also tells if the grammar could go on after the forced
// bytes
func (m *Matcher) forcedBytes() ([]byte, bool) {
	if m.err != nil || m.stop != NotStopped || m.g.Options.NoForcing {
		return nil, false
	}
	var (
		out   []byte
		n0    = len(m.p.stack)
		limit = m.g.limits.MaxForcedBytes
	)
	defer m.p.truncate(n0)
	for limit <= 0 || len(out) < limit {
		acc, err := m.p.accepting()
		if err != nil {
			return out, false
		}
		if acc {
			ext, err := m.p.canExtend()
			return out, err == nil && ext
		}
		allowed, err := m.p.allowedBytes()
		if err != nil {
			return out, false
		}
		b, ok := allowed.Single()
		if !ok {
			return out, !allowed.IsEmpty()
		}
		if ok, err := m.p.pushByte(b); err != nil || !ok {
			return out, false
		}
		out = append(out, b)
	}
	return out, true
}

// ComputeFFTokens returns the tokens the grammar forces next.  The
// forced bytes are tokenized greedily, and the last token is left
// out when a longer token could start with it and the grammar goes
// on.
func (m *Matcher) ComputeFFTokens() []toktrie.TokenID {
	bs, more := m.forcedBytes()
	if len(bs) == 0 {
		return nil
	}
	toks := m.tok.Tokenize(bs)
	if len(toks) == 0 {
		return nil
	}
	if last := toks[len(toks)-1]; more && m.trie.HasExtensions(last) {
		toks = toks[:len(toks)-1]
	}
	return toks
}

// Rollback undoes the last `n` tokens
func (m *Matcher) Rollback(n int) error {
	if m.err != nil {
		return m.errored()
	}
	if n < 0 || n > len(m.undo) {
		return &MatcherError{
			Kind:    KindInternal,
			Message: fmt.Sprintf("can't roll back %d tokens, only %d consumed", n, len(m.undo)),
		}
	}
	if n == 0 {
		return nil
	}
	snap := m.undo[len(m.undo)-n]
	m.undo = m.undo[:len(m.undo)-n]
	m.p.truncate(snap.bytes)
	m.stop = snap.stop
	m.mask = nil
	m.refresh()
	m.logger.Debug("rollback", "tokens", n, "left", len(m.undo))
	return nil
}

// Clone returns an independent copy of the matcher sharing the same
// grammar
func (m *Matcher) Clone() *Matcher {
	c := &Matcher{
		g:         m.g,
		tok:       m.tok,
		trie:      m.trie,
		logger:    m.logger,
		p:         m.p.clone(),
		undo:      append([]snapshot(nil), m.undo...),
		accepting: m.accepting,
		stop:      m.stop,
		err:       m.err,
		mask:      append(toktrie.Bitmask(nil), m.mask...),
	}
	if len(c.mask) == 0 {
		c.mask = nil
	}
	m.logger.Debug("matcher cloned", "tokens", len(m.undo))
	return c
}

// Reset brings the matcher back to its initial state, clearing any
// error.  It fails when the grammar is a dead end from the start.
func (m *Matcher) Reset() error {
	m.undo = m.undo[:0]
	m.err = nil
	m.stop = NotStopped
	m.mask = nil
	if err := m.p.init(); err != nil {
		return m.failParser(err)
	}
	m.refresh()
	m.logger.Debug("matcher reset")
	return m.Err()
}
