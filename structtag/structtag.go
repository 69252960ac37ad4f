// Package structtag composes the grammar for text interleaved with
// tool calls.  Each tag is introduced by a trigger, like `<function`
// or `<|python_tag|>`, and its arguments follow a grammar of their own.
package structtag

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Grammar constrains the body of a tag.  It's one of JSONSchema,
// Regex or Lark.
type Grammar interface {
	isGrammar()
}

// JSONSchema is a body matching a JSON schema, inlined with `%json`
type JSONSchema []byte

// Regex is a body matching a regular expression
type Regex string

// Lark is a body matching a full grammar with its own start rule.
// It's compiled apart from the main grammar so rule names never
// collide.
type Lark string

func (JSONSchema) isGrammar() {}
func (Regex) isGrammar()      {}
func (Lark) isGrammar()       {}

// Tag is one kind of structured segment
type Tag struct {
	// Trigger signals the start of the tag
	Trigger string
	// Begin is the full text opening the tag, it must start with
	// Trigger
	Begin   string
	Grammar Grammar
	// End closes the tag, it may be empty
	End string
}

// Options for Compose
type Options struct {
	// AssumeSpecial treats triggers like `<...>` as special tokens
	AssumeSpecial bool
	// TextRegex matches the free text between tags
	TextRegex string
}

// DefaultTextRegex allows any text
const DefaultTextRegex = `(.|\n)*`

// MainGrammarName names the main grammar when side grammars are
// needed
const MainGrammarName = "struct_tag"

func DefaultOptions() Options {
	return Options{AssumeSpecial: true, TextRegex: DefaultTextRegex}
}

var (
	ErrNoTags         = errors.New("tags must not be empty")
	ErrEmptyTrigger   = errors.New("trigger must not be empty")
	ErrBeginMismatch  = errors.New("begin must start with trigger")
	ErrSlashInRegex   = errors.New("text_regex must not contain /")
	ErrInvalidGrammar = errors.New("invalid tag grammar")
)

// Validate checks a single tag
func (t *Tag) Validate() error {
	if t.Trigger == "" {
		return ErrEmptyTrigger
	}
	if !strings.HasPrefix(t.Begin, t.Trigger) {
		return fmt.Errorf("%w: %q doesn't start with %q", ErrBeginMismatch, t.Begin, t.Trigger)
	}
	if t.Grammar == nil {
		return fmt.Errorf("%w: missing grammar", ErrInvalidGrammar)
	}
	return nil
}

type sideGrammar struct {
	Name        string `json:"name"`
	LarkGrammar string `json:"lark_grammar"`
}

// Compose returns the grammar for free text with any number of tags,
// in any order, within it.  The result is Lark text, or a JSON grammar
// list when some tag body is a Lark grammar.
func Compose(tags []Tag, opts Options) (string, error) {
	if len(tags) == 0 {
		return "", ErrNoTags
	}
	if opts.TextRegex == "" {
		opts.TextRegex = DefaultTextRegex
	}
	if strings.Contains(opts.TextRegex, "/") {
		return "", ErrSlashInRegex
	}
	for i := range tags {
		if err := tags[i].Validate(); err != nil {
			return "", fmt.Errorf("tag %d: %w", i, err)
		}
	}

	options := make([]string, len(tags))
	for i := range tags {
		options[i] = fmt.Sprintf("tag_%d", i)
	}
	var sb strings.Builder
	sb.WriteString("%llguidance {}\n")
	fmt.Fprintf(&sb, "start: (%s)* tag_end\n", strings.Join(options, " | "))
	sb.WriteString("tag_end: TAG_TEXT\n")
	fmt.Fprintf(&sb, "TAG_TEXT: /%s/\n", opts.TextRegex)

	var sides []sideGrammar
	for i, tag := range tags {
		rule := options[i]
		var body string
		switch g := tag.Grammar.(type) {
		case JSONSchema:
			schema := bytes.TrimSpace(g)
			if !json.Valid(schema) || len(schema) == 0 || schema[0] != '{' {
				return "", fmt.Errorf("tag %d: %w: schema must be a JSON object", i, ErrInvalidGrammar)
			}
			body = "%json " + string(schema)
		case Regex:
			body = "/" + escapeSlash(string(g)) + "/"
		case Lark:
			name := rule + "_grm"
			sides = append(sides, sideGrammar{Name: name, LarkGrammar: string(g)})
			body = "@" + name
		default:
			return "", fmt.Errorf("tag %d: %w: %T", i, ErrInvalidGrammar, tag.Grammar)
		}

		rest, err := quote(tag.Begin[len(tag.Trigger):])
		if err != nil {
			return "", err
		}
		end, err := quote(tag.End)
		if err != nil {
			return "", err
		}
		seq := joinNonEmpty(rest, body, end)

		sb.WriteByte('\n')
		if opts.AssumeSpecial && isBracketed(tag.Trigger) {
			fmt.Fprintf(&sb, "%s: TAG_TEXT %s %s\n", rule, tag.Trigger, seq)
			continue
		}
		trig, err := quote(tag.Trigger)
		if err != nil {
			return "", err
		}
		fmt.Fprintf(&sb, "%s_trig[lazy]: TAG_TEXT %s\n", rule, trig)
		fmt.Fprintf(&sb, "%s: %s_trig %s\n", rule, rule, seq)
	}

	if len(sides) == 0 {
		return sb.String(), nil
	}
	list := struct {
		Grammars []sideGrammar `json:"grammars"`
	}{
		Grammars: append([]sideGrammar{{Name: MainGrammarName, LarkGrammar: sb.String()}}, sides...),
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(list); err != nil {
		return "", err
	}
	return strings.TrimSuffix(buf.String(), "\n"), nil
}

func isBracketed(s string) bool {
	return len(s) > 2 && strings.HasPrefix(s, "<") && strings.HasSuffix(s, ">") &&
		!strings.ContainsAny(s, " \t\n")
}

// quote renders `s` as a grammar literal, empty strings render as
// nothing
func quote(s string) (string, error) {
	if s == "" {
		return "", nil
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(s); err != nil {
		return "", err
	}
	return strings.TrimSuffix(buf.String(), "\n"), nil
}

func joinNonEmpty(parts ...string) string {
	out := parts[:0:0]
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, " ")
}

func escapeSlash(pattern string) string {
	var sb strings.Builder
	escaped := false
	for _, c := range pattern {
		if c == '/' && !escaped {
			sb.WriteByte('\\')
		}
		escaped = c == '\\' && !escaped
		sb.WriteRune(c)
	}
	return sb.String()
}
