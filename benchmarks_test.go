package gmatch

import (
	"fmt"
	"testing"

	"github.com/clarete/gmatch/toktrie"
)

// benchmarkVocabulary has every single byte plus a few thousand
// multi byte pieces, which is closer to what real tokenizers look
// like than the byte tokenizer
func benchmarkVocabulary() *toktrie.TokTrie {
	var tokens []string
	for i := 0; i < 256; i++ {
		tokens = append(tokens, string([]byte{byte(i)}))
	}
	pieces := []string{`{"`, `":`, `", "`, `"}`, `": "`, "true", "false", "null", "name", "value", "items", " the", " and"}
	for _, p := range pieces {
		for i := 0; i < 100; i++ {
			tokens = append(tokens, p+fmt.Sprint(i))
		}
		tokens = append(tokens, p)
	}
	for i := 0; i < 1000; i++ {
		tokens = append(tokens, fmt.Sprint(i))
	}
	return toktrie.NewFromTokens(tokens, []string{"<|end|>"}, "<|end|>")
}

func BenchmarkComputeMask(b *testing.B) {
	tok := benchmarkVocabulary()
	grammars := []struct {
		name    string
		grammar string
		prefix  string
	}{
		{"json_any", `{"grammars": [{"json_schema": {}}]}`, `{"name": [1, 2, "`},
		{"json_object", `{"grammars": [{"json_schema": {"type": "object", "properties": {"name": {"type": "string"}, "items": {"type": "array", "items": {"type": "integer"}}}}}]}`, `{"name": "x", "items": [1`},
		{"lark", `start: (WORD " ")* WORD
WORD: /[a-z]+/`, "the quick brown f"},
	}
	for _, g := range grammars {
		b.Run(g.name, func(b *testing.B) {
			f := NewFactory(tok, WithLogger(NopLogger()))
			m, err := f.NewMatcher(g.grammar)
			if err != nil {
				b.Fatal(err)
			}
			if _, err := m.ConsumeTokens(tok.Tokenize([]byte(g.prefix))); err != nil {
				b.Fatal(err)
			}
			mask := toktrie.NewBitmask(tok.VocabSize())
			b.ReportAllocs()
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				if err := m.ComputeMaskInto(mask); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}

func BenchmarkComputeMasks(b *testing.B) {
	tok := benchmarkVocabulary()
	for _, n := range []int{1, 8, 32} {
		b.Run(fmt.Sprintf("batch_%d", n), func(b *testing.B) {
			f := NewFactory(tok, WithLogger(NopLogger()))
			reqs := make([]MaskRequest, n)
			for i := range reqs {
				m, err := f.NewMatcher(`{"grammars": [{"json_schema": {"type": "array", "items": {"type": "number"}}}]}`)
				if err != nil {
					b.Fatal(err)
				}
				if _, err := m.ConsumeTokens(tok.Tokenize([]byte(fmt.Sprintf("[%d, ", i)))); err != nil {
					b.Fatal(err)
				}
				reqs[i] = MaskRequest{Matcher: m, Index: i}
			}
			size := f.MaskByteLen()
			dst := make([]byte, n*size)
			b.ReportAllocs()
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				if err := f.ComputeMasks(dst, size, reqs); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}
