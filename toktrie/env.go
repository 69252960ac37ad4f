package toktrie

// TokEnv is what the matcher needs to know about a tokenizer: how
// many tokens there are, which bytes each one stands for and how to
// turn bytes back into tokens.
type TokEnv interface {
	VocabSize() int
	EOSToken() TokenID
	TokenBytes(id TokenID) []byte
	Tokenize(bs []byte) []TokenID
	SpecialToken(name string) (TokenID, bool)
	Trie() *TokTrie
}

// Trie returns the trie itself, making *TokTrie a TokEnv
func (t *TokTrie) Trie() *TokTrie { return t }

// ByteEOSName is the name of the end of sequence token of the byte
// tokenizer
const ByteEOSName = "</s>"

// NewByteTokenizer creates a vocabulary with one token per byte
// value, ids 0 to 255, plus the end of sequence token with id 256
func NewByteTokenizer() *TokTrie {
	tokens := make([][]byte, 257)
	for i := 0; i < 256; i++ {
		tokens[i] = []byte{byte(i)}
	}
	tokens[256] = append([]byte{SpecialTokenPrefix}, ByteEOSName...)
	return NewTokTrie(tokens, 256)
}

// NewFromTokens creates a vocabulary from the bytes of each token.
// Special tokens are added at the end, after the regular ones, in the
// order given.
func NewFromTokens(tokens []string, specials []string, eos string) *TokTrie {
	all := make([][]byte, 0, len(tokens)+len(specials))
	for _, t := range tokens {
		all = append(all, []byte(t))
	}
	eosID := TokenID(len(all))
	for _, name := range specials {
		if name == eos {
			eosID = TokenID(len(all))
		}
		all = append(all, append([]byte{SpecialTokenPrefix}, name...))
	}
	return NewTokTrie(all, eosID)
}
