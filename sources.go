package gmatch

import (
	"errors"
	"fmt"
	"strings"

	"github.com/buger/jsonparser"
)

// GrammarSource is one of LarkSource, JSONSchemaSource, RegexSource
// or GrammarList
type GrammarSource interface {
	SourceName() string
	isGrammarSource()
}

// LarkSource is grammar text in the Lark dialect
type LarkSource struct {
	Name string
	Text string
}

// JSONSchemaSource is a JSON schema document
type JSONSchemaSource struct {
	Name   string
	Schema []byte
}

// RegexSource is a grammar made of a single regex
type RegexSource struct {
	Name    string
	Pattern string
}

// GrammarList holds a main grammar, the first one, plus the grammars
// it can reference with `@name`
type GrammarList struct {
	Grammars []GrammarSource
}

func (s *LarkSource) SourceName() string       { return s.Name }
func (s *JSONSchemaSource) SourceName() string { return s.Name }
func (s *RegexSource) SourceName() string      { return s.Name }

func (s *GrammarList) SourceName() string {
	if len(s.Grammars) == 0 {
		return ""
	}
	return s.Grammars[0].SourceName()
}

func (*LarkSource) isGrammarSource()       {}
func (*JSONSchemaSource) isGrammarSource() {}
func (*RegexSource) isGrammarSource()      {}
func (*GrammarList) isGrammarSource()      {}

// ParseGrammarSource picks the source variant for `text`: JSON
// objects are grammar lists and anything else is Lark text
func ParseGrammarSource(text string) (GrammarSource, error) {
	if strings.HasPrefix(strings.TrimSpace(text), "{") {
		return ParseGrammarList([]byte(text))
	}
	return &LarkSource{Text: text}, nil
}

// ParseGrammarList reads the JSON form of a grammar list:
//
//	{"grammars": [{"name": "main", "lark_grammar": "start: ..."},
//	              {"name": "obj", "json_schema": {...}}]}
func ParseGrammarList(data []byte) (*GrammarList, error) {
	list := &GrammarList{}
	var iterErr error
	_, err := jsonparser.ArrayEach(data, func(value []byte, dataType jsonparser.ValueType, _ int, _ error) {
		if iterErr != nil {
			return
		}
		if dataType != jsonparser.Object {
			iterErr = fmt.Errorf("grammar %d is not an object", len(list.Grammars))
			return
		}
		src, err := parseListEntry(value)
		if err != nil {
			iterErr = fmt.Errorf("grammar %d: %w", len(list.Grammars), err)
			return
		}
		list.Grammars = append(list.Grammars, src)
	}, "grammars")
	if err != nil {
		return nil, fmt.Errorf("invalid grammar list: %w", err)
	}
	if iterErr != nil {
		return nil, iterErr
	}
	if len(list.Grammars) == 0 {
		return nil, errors.New("grammar list is empty")
	}
	return list, nil
}

func parseListEntry(data []byte) (GrammarSource, error) {
	name, err := jsonparser.GetString(data, "name")
	if err != nil && !errors.Is(err, jsonparser.KeyPathNotFoundError) {
		return nil, fmt.Errorf("invalid name: %w", err)
	}
	if text, err := jsonparser.GetString(data, "lark_grammar"); err == nil {
		return &LarkSource{Name: name, Text: text}, nil
	}
	if schema, _, _, err := jsonparser.Get(data, "json_schema"); err == nil {
		return &JSONSchemaSource{Name: name, Schema: schema}, nil
	}
	if pattern, err := jsonparser.GetString(data, "regex"); err == nil {
		return &RegexSource{Name: name, Pattern: pattern}, nil
	}
	return nil, errors.New("expected one of lark_grammar, json_schema or regex")
}
