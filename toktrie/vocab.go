package toktrie

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/buger/jsonparser"
)

// Vocabulary is the list of token pieces as stored by tokenizer
// files, before decoding them into bytes
type Vocabulary struct {
	// Model tells how pieces are encoded, one of "bpe", "spm" or
	// "bytes"
	Model   string
	Tokens  []string
	Special map[int]bool
	EOS     TokenID
}

const spmWhitespaceSep = "▁"

// ParseVocabulary reads a vocabulary in JSON form:
//
//	{"model": "bpe", "eos": 2, "tokens": ["<s>", ...], "special": [0, 1, 2]}
func ParseVocabulary(data []byte) (*Vocabulary, error) {
	v := &Vocabulary{Model: "bytes", Special: map[int]bool{}}
	if model, err := jsonparser.GetString(data, "model"); err == nil {
		v.Model = model
	} else if !errors.Is(err, jsonparser.KeyPathNotFoundError) {
		return nil, fmt.Errorf("invalid model: %w", err)
	}
	eos, err := jsonparser.GetInt(data, "eos")
	if err != nil {
		return nil, fmt.Errorf("invalid eos: %w", err)
	}
	v.EOS = TokenID(eos)

	var iterErr error
	_, err = jsonparser.ArrayEach(data, func(value []byte, dataType jsonparser.ValueType, _ int, _ error) {
		if iterErr != nil {
			return
		}
		if dataType != jsonparser.String {
			iterErr = fmt.Errorf("token %d is not a string", len(v.Tokens))
			return
		}
		s, err := jsonparser.ParseString(value)
		if err != nil {
			iterErr = err
			return
		}
		v.Tokens = append(v.Tokens, s)
	}, "tokens")
	if err != nil {
		return nil, fmt.Errorf("invalid tokens: %w", err)
	}
	if iterErr != nil {
		return nil, iterErr
	}

	_, err = jsonparser.ArrayEach(data, func(value []byte, dataType jsonparser.ValueType, _ int, _ error) {
		if n, err := jsonparser.ParseInt(value); err == nil {
			v.Special[int(n)] = true
		}
	}, "special")
	if err != nil && !errors.Is(err, jsonparser.KeyPathNotFoundError) {
		return nil, fmt.Errorf("invalid special tokens: %w", err)
	}
	if int(v.EOS) >= len(v.Tokens) {
		return nil, fmt.Errorf("eos token %d out of range", v.EOS)
	}
	v.Special[int(v.EOS)] = true
	return v, nil
}

// LoadVocabulary reads a vocabulary file, see ParseVocabulary
func LoadVocabulary(path string) (*Vocabulary, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseVocabulary(data)
}

// NewFromVocabulary decodes the pieces of `v` into bytes and builds
// the trie
func NewFromVocabulary(v *Vocabulary) (*TokTrie, error) {
	tokens := make([][]byte, len(v.Tokens))
	for i, piece := range v.Tokens {
		if v.Special[i] {
			tokens[i] = append([]byte{SpecialTokenPrefix}, piece...)
			continue
		}
		bs, err := DecodePiece(v.Model, piece)
		if err != nil {
			return nil, fmt.Errorf("token %d: %w", i, err)
		}
		tokens[i] = bs
	}
	return NewTokTrie(tokens, v.EOS), nil
}

// DecodePiece turns a vocabulary piece into the bytes it stands for
func DecodePiece(model, piece string) ([]byte, error) {
	switch model {
	case "bytes":
		return []byte(piece), nil
	case "bpe":
		return decodeBPE(piece), nil
	case "spm":
		return decodeSPM(piece)
	default:
		return nil, fmt.Errorf("unknown vocabulary model %q", model)
	}
}

// decodeBPE reverts the byte to rune mapping of GPT-2 style byte level
// BPE vocabularies, where non printable bytes were shifted into
// printable runes
func decodeBPE(piece string) []byte {
	out := make([]byte, 0, len(piece))
	for _, r := range piece {
		switch {
		case r == 0x0100:
			out = append(out, 0x00)
			continue
		case r == 0x0143:
			r = 0x00ad
		case r > 0x0100 && r <= 0x0120:
			r = r - 0x0100
		case r > 0x0120 && r <= 0x0142:
			r = r - 0x00a2
		}
		out = append(out, byte(r))
	}
	return out
}

// decodeSPM handles SentencePiece pieces, with `▁` for spaces and
// `<0xNN>` for raw bytes
func decodeSPM(piece string) ([]byte, error) {
	if len(piece) == 6 && strings.HasPrefix(piece, "<0x") && strings.HasSuffix(piece, ">") {
		b, err := strconv.ParseUint(piece[1:5], 0, 8)
		if err != nil {
			return nil, fmt.Errorf("failed to parse hex byte: %w", err)
		}
		return []byte{byte(b)}, nil
	}
	return []byte(strings.ReplaceAll(piece, spmWhitespaceSep, " ")), nil
}
