package structtag

import (
	"errors"
	"fmt"

	"github.com/buger/jsonparser"
)

// Parse reads tags and options from their JSON form:
//
//	{"tags": [{"trigger": "<func", "begin": "<func=f>", "end": "</func>",
//	           "json_schema": {...}}],
//	 "assume_special": true, "text_regex": "(.|\\n)*"}
//
// Instead of `json_schema` a tag may have `regex` or `lark_grammar`.
func Parse(data []byte) ([]Tag, Options, error) {
	opts := DefaultOptions()
	if v, err := jsonparser.GetBoolean(data, "assume_special"); err == nil {
		opts.AssumeSpecial = v
	} else if !errors.Is(err, jsonparser.KeyPathNotFoundError) {
		return nil, opts, fmt.Errorf("invalid assume_special: %w", err)
	}
	if v, err := jsonparser.GetString(data, "text_regex"); err == nil {
		opts.TextRegex = v
	} else if !errors.Is(err, jsonparser.KeyPathNotFoundError) {
		return nil, opts, fmt.Errorf("invalid text_regex: %w", err)
	}

	var (
		tags    []Tag
		iterErr error
	)
	_, err := jsonparser.ArrayEach(data, func(value []byte, dataType jsonparser.ValueType, _ int, _ error) {
		if iterErr != nil {
			return
		}
		tag, err := parseTag(value)
		if err != nil {
			iterErr = fmt.Errorf("tag %d: %w", len(tags), err)
			return
		}
		tags = append(tags, tag)
	}, "tags")
	if err != nil {
		return nil, opts, fmt.Errorf("invalid tags: %w", err)
	}
	if iterErr != nil {
		return nil, opts, iterErr
	}
	return tags, opts, nil
}

func parseTag(data []byte) (Tag, error) {
	var (
		tag Tag
		err error
	)
	if tag.Trigger, err = jsonparser.GetString(data, "trigger"); err != nil {
		return tag, fmt.Errorf("invalid trigger: %w", err)
	}
	if tag.Begin, err = jsonparser.GetString(data, "begin"); err != nil {
		return tag, fmt.Errorf("invalid begin: %w", err)
	}
	if tag.End, err = jsonparser.GetString(data, "end"); err != nil && !errors.Is(err, jsonparser.KeyPathNotFoundError) {
		return tag, fmt.Errorf("invalid end: %w", err)
	}
	if schema, dt, _, err := jsonparser.Get(data, "json_schema"); err == nil {
		if dt == jsonparser.String {
			// stringified schema
			s, err := jsonparser.ParseString(schema)
			if err != nil {
				return tag, err
			}
			schema = []byte(s)
		}
		tag.Grammar = JSONSchema(schema)
	} else if pattern, err := jsonparser.GetString(data, "regex"); err == nil {
		tag.Grammar = Regex(pattern)
	} else if text, err := jsonparser.GetString(data, "lark_grammar"); err == nil {
		tag.Grammar = Lark(text)
	} else {
		return tag, errors.New("expected one of json_schema, regex or lark_grammar")
	}
	return tag, tag.Validate()
}
