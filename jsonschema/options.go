package jsonschema

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/buger/jsonparser"
	"github.com/mitchellh/mapstructure"
)

// Options control the shape of the generated grammar
type Options struct {
	// WhitespaceFlexible allows any JSON white space around
	// punctuation.  When off, the separators below are used
	// verbatim and no other white space is allowed.
	WhitespaceFlexible bool `mapstructure:"whitespace_flexible"`
	// ItemSeparator goes between array items and object members
	ItemSeparator string `mapstructure:"item_separator"`
	// KeySeparator goes between an object key and its value
	KeySeparator string `mapstructure:"key_separator"`
	// Lenient ignores keywords the translator doesn't support
	// instead of failing
	Lenient bool `mapstructure:"lenient"`
}

// DefaultOptions returns flexible white space with compact
// separators
func DefaultOptions() Options {
	return Options{
		WhitespaceFlexible: true,
		ItemSeparator:      ",",
		KeySeparator:       ":",
	}
}

// OptionsFromSchema overlays `base` with the `x-guidance` object of
// the schema, if present
func OptionsFromSchema(schema []byte, base Options) (Options, error) {
	raw, dataType, _, err := jsonparser.Get(schema, "x-guidance")
	if errors.Is(err, jsonparser.KeyPathNotFoundError) {
		return base, nil
	}
	if err != nil {
		return base, err
	}
	if dataType != jsonparser.Object {
		return base, fmt.Errorf("x-guidance must be an object")
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return base, err
	}
	opts := base
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:      &opts,
		ErrorUnused: true,
	})
	if err != nil {
		return base, err
	}
	if err := dec.Decode(m); err != nil {
		return base, fmt.Errorf("invalid x-guidance: %w", err)
	}
	return opts, nil
}
