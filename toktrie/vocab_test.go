package toktrie

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodePiece(t *testing.T) {
	tests := []struct {
		model    string
		piece    string
		expected []byte
	}{
		{model: "bytes", piece: "a b", expected: []byte("a b")},
		{model: "bpe", piece: "Ġhi", expected: []byte(" hi")},
		{model: "bpe", piece: "ĊĉĀ", expected: []byte{'\n', '\t', 0}},
		{model: "bpe", piece: "ġŃ", expected: []byte{0x7f, 0xad}},
		{model: "bpe", piece: "Ã©", expected: []byte("é")},
		{model: "spm", piece: "▁hello▁you", expected: []byte(" hello you")},
		{model: "spm", piece: "<0x0A>", expected: []byte{'\n'}},
		{model: "spm", piece: "<0x0A", expected: []byte("<0x0A")},
	}
	for _, test := range tests {
		t.Run(test.model+" "+test.piece, func(t *testing.T) {
			bs, err := DecodePiece(test.model, test.piece)
			require.NoError(t, err)
			assert.Equal(t, test.expected, bs)
		})
	}

	_, err := DecodePiece("wordpiece", "a")
	assert.EqualError(t, err, `unknown vocabulary model "wordpiece"`)
	_, err = DecodePiece("spm", "<0xZZ>")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse hex byte")
}

func TestParseVocabulary(t *testing.T) {
	v, err := ParseVocabulary([]byte(`{
		"model": "spm",
		"eos": 3,
		"tokens": ["<unk>", "▁hi", "<0x0A>", "</s>"],
		"special": [0]
	}`))
	require.NoError(t, err)
	assert.Equal(t, &Vocabulary{
		Model:   "spm",
		Tokens:  []string{"<unk>", "▁hi", "<0x0A>", "</s>"},
		Special: map[int]bool{0: true, 3: true},
		EOS:     3,
	}, v)

	tr, err := NewFromVocabulary(v)
	require.NoError(t, err)
	assert.Equal(t, 4, tr.VocabSize())
	assert.Equal(t, TokenID(3), tr.EOSToken())
	assert.Equal(t, []TokenID{1, 2}, tr.Tokenize([]byte(" hi\n")))
	unk, ok := tr.SpecialToken("<unk>")
	require.True(t, ok)
	assert.Equal(t, TokenID(0), unk)
}

func TestParseVocabularyDefaults(t *testing.T) {
	v, err := ParseVocabulary([]byte(`{"eos": 1, "tokens": ["a", "b"]}`))
	require.NoError(t, err)
	assert.Equal(t, "bytes", v.Model)
	assert.Equal(t, map[int]bool{1: true}, v.Special)
}

func TestParseVocabularyErrors(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{name: "no eos", input: `{"tokens": ["a"]}`, expected: "invalid eos"},
		{name: "no tokens", input: `{"eos": 0}`, expected: "invalid tokens"},
		{name: "token type", input: `{"eos": 0, "tokens": [1]}`, expected: "token 0 is not a string"},
		{name: "eos range", input: `{"eos": 5, "tokens": ["a"]}`, expected: "eos token 5 out of range"},
		{name: "model type", input: `{"model": 1, "eos": 0, "tokens": ["a"]}`, expected: "invalid model"},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			_, err := ParseVocabulary([]byte(test.input))
			require.Error(t, err)
			assert.Contains(t, err.Error(), test.expected)
		})
	}

	_, err := NewFromVocabulary(&Vocabulary{Model: "nope", Tokens: []string{"a", "b"}, Special: map[int]bool{1: true}, EOS: 1})
	assert.EqualError(t, err, `token 0: unknown vocabulary model "nope"`)
}

func TestLoadVocabulary(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vocab.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"model": "bpe", "eos": 1, "tokens": ["Ġx", "</s>"]}`), 0o644))

	v, err := LoadVocabulary(path)
	require.NoError(t, err)
	tr, err := NewFromVocabulary(v)
	require.NoError(t, err)
	assert.Equal(t, []byte(" x"), tr.TokenBytes(0))

	_, err = LoadVocabulary(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}
