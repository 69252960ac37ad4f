// Package toktrie keeps the vocabulary of a tokenizer in a trie so
// that every token can be checked against a recognizer with a single
// depth first walk, sharing the work done for common prefixes.
package toktrie

import (
	"fmt"
	"sort"
)

// TokenID identifies a token within a vocabulary
type TokenID = uint32

// SpecialTokenPrefix starts the bytes of special tokens.  The byte
// never shows up in UTF-8 text, so special tokens can't be confused
// with regular text.
const SpecialTokenPrefix = 0xFF

// Recognizer is anything that can be fed bytes one at a time and
// later asked to forget the most recent ones
type Recognizer interface {
	// PushByte tries to advance with `b` and tells if it could
	PushByte(b byte) bool
	// PopBytes drops the last `n` bytes pushed successfully
	PopBytes(n int)
}

// node is a trie node stored in preorder.  `size` counts the node and
// all its descendants, so `i + size` is the next sibling of node `i`.
type node struct {
	b    byte
	tok  int32
	size uint32
}

// TokTrie holds the bytes of every token of a vocabulary
type TokTrie struct {
	tokens  [][]byte
	eos     TokenID
	nodes   []node
	tokNode []int32
	// dups lists tokens with the same bytes as the one in the trie
	dups    map[int32][]TokenID
	special map[string]TokenID
}

type buildNode struct {
	tok      int32
	children map[byte]*buildNode
}

// NewTokTrie builds the trie for `tokens`, where the index is the
// token id.  The end of sequence token and tokens without bytes are
// left out of the trie.
func NewTokTrie(tokens [][]byte, eos TokenID) *TokTrie {
	t := &TokTrie{
		tokens:  tokens,
		eos:     eos,
		tokNode: make([]int32, len(tokens)),
		dups:    map[int32][]TokenID{},
		special: map[string]TokenID{},
	}
	root := &buildNode{tok: -1, children: map[byte]*buildNode{}}
	for id, bs := range tokens {
		t.tokNode[id] = -1
		if TokenID(id) == eos || len(bs) == 0 {
			continue
		}
		if bs[0] == SpecialTokenPrefix && len(bs) > 1 {
			t.special[string(bs[1:])] = TokenID(id)
		}
		n := root
		for _, b := range bs {
			c, ok := n.children[b]
			if !ok {
				c = &buildNode{tok: -1, children: map[byte]*buildNode{}}
				n.children[b] = c
			}
			n = c
		}
		if n.tok < 0 {
			n.tok = int32(id)
		} else {
			t.dups[n.tok] = append(t.dups[n.tok], TokenID(id))
		}
	}
	t.flatten(root, 0)
	return t
}

func (t *TokTrie) flatten(n *buildNode, b byte) {
	idx := len(t.nodes)
	t.nodes = append(t.nodes, node{b: b, tok: n.tok})
	if n.tok >= 0 {
		t.tokNode[n.tok] = int32(idx)
		for _, d := range t.dups[n.tok] {
			t.tokNode[d] = int32(idx)
		}
	}
	keys := make([]int, 0, len(n.children))
	for k := range n.children {
		keys = append(keys, int(k))
	}
	sort.Ints(keys)
	for _, k := range keys {
		t.flatten(n.children[byte(k)], byte(k))
	}
	t.nodes[idx].size = uint32(len(t.nodes) - idx)
}

// VocabSize returns the number of tokens, the end of sequence token
// included
func (t *TokTrie) VocabSize() int { return len(t.tokens) }

// EOSToken returns the end of sequence token
func (t *TokTrie) EOSToken() TokenID { return t.eos }

// TokenBytes returns the bytes of a token
func (t *TokTrie) TokenBytes(id TokenID) []byte {
	if int(id) >= len(t.tokens) {
		return nil
	}
	return t.tokens[id]
}

// SpecialToken looks up a special token by name, e.g. `<|end|>`
func (t *TokTrie) SpecialToken(name string) (TokenID, bool) {
	id, ok := t.special[name]
	return id, ok
}

// IsSpecial tells if the token is a special token
func (t *TokTrie) IsSpecial(id TokenID) bool {
	bs := t.TokenBytes(id)
	return len(bs) > 1 && bs[0] == SpecialTokenPrefix
}

// HasExtensions tells if some other token starts with the bytes of
// `id` and is longer
func (t *TokTrie) HasExtensions(id TokenID) bool {
	if int(id) >= len(t.tokNode) || t.tokNode[id] < 0 {
		return false
	}
	return t.nodes[t.tokNode[id]].size > 1
}

// Walk visits the tokens that `r` accepts in full, calling `emit` for
// each one.  Subtrees are skipped as soon as `r` rejects a byte, and
// `r` is left as it was found.
func (t *TokTrie) Walk(r Recognizer, emit func(TokenID)) {
	var ends []int
	i := 1
	for i < len(t.nodes) {
		pop := 0
		for len(ends) > 0 && ends[len(ends)-1] <= i {
			ends = ends[:len(ends)-1]
			pop++
		}
		if pop > 0 {
			r.PopBytes(pop)
		}
		n := t.nodes[i]
		if !r.PushByte(n.b) {
			i += int(n.size)
			continue
		}
		if n.tok >= 0 {
			emit(TokenID(n.tok))
			for _, d := range t.dups[n.tok] {
				emit(d)
			}
		}
		ends = append(ends, i+int(n.size))
		i++
	}
	if len(ends) > 0 {
		r.PopBytes(len(ends))
	}
}

// Tokenize splits `bs` into tokens picking the longest token at each
// position.  Bytes that no token starts with are skipped.
func (t *TokTrie) Tokenize(bs []byte) []TokenID {
	var out []TokenID
	for pos := 0; pos < len(bs); {
		tok, n := t.longestPrefix(bs[pos:])
		if n == 0 {
			pos++
			continue
		}
		out = append(out, tok)
		pos += n
	}
	return out
}

func (t *TokTrie) longestPrefix(bs []byte) (TokenID, int) {
	var (
		best    TokenID
		bestLen int
		i       = 0
	)
	for depth, b := range bs {
		child := t.child(i, b)
		if child < 0 {
			break
		}
		i = child
		if t.nodes[i].tok >= 0 {
			best, bestLen = TokenID(t.nodes[i].tok), depth+1
		}
	}
	return best, bestLen
}

func (t *TokTrie) child(i int, b byte) int {
	end := i + int(t.nodes[i].size)
	for c := i + 1; c < end; c += int(t.nodes[c].size) {
		if t.nodes[c].b == b {
			return c
		}
	}
	return -1
}

// Decode concatenates the bytes of `toks`.  Special tokens are
// rendered by name.
func (t *TokTrie) Decode(toks []TokenID) []byte {
	var out []byte
	for _, id := range toks {
		bs := t.TokenBytes(id)
		if len(bs) > 0 && bs[0] == SpecialTokenPrefix {
			bs = bs[1:]
		}
		out = append(out, bs...)
	}
	return out
}

// TokenString renders a token for display
func (t *TokTrie) TokenString(id TokenID) string {
	if int(id) >= len(t.tokens) {
		return fmt.Sprintf("<[%d]>", id)
	}
	return fmt.Sprintf("%q", t.Decode([]TokenID{id}))
}
