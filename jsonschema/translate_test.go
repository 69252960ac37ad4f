package jsonschema

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func compactOptions() Options {
	return Options{ItemSeparator: ",", KeySeparator: ":"}
}

func TestToGrammarObject(t *testing.T) {
	out, err := ToGrammar([]byte(`{"type": "object"}`), compactOptions())
	require.NoError(t, err)
	assert.Equal(t, `start: s_1
o_2_0_f: "" | STRING COLON json_value (COMMA STRING COLON json_value)*
o_2_0_t: "" | (COMMA STRING COLON json_value)+
s_1: LBRACE o_2_0_f RBRACE
json_value: json_object | json_array | STRING | NUMBER | "true" | "false" | "null"
json_object: LBRACE RBRACE | LBRACE json_member (COMMA json_member)* RBRACE
json_member: STRING COLON json_value
json_array: LBRACKET RBRACKET | LBRACKET json_value (COMMA json_value)* RBRACKET
STRING: /"(\\(["\\\/bfnrt]|u[a-fA-F0-9]{4})|[^"\\\x00-\x1F\x7F])*"/
NUMBER: /-?(0|[1-9][0-9]*)(\.[0-9]+)?([eE][+-]?[0-9]+)?/
LBRACE: "{"
RBRACE: "}"
LBRACKET: "["
RBRACKET: "]"
COMMA: ","
COLON: ":"
`, out)
}

func TestToGrammarDedupesSubschemas(t *testing.T) {
	out, err := ToGrammar([]byte(`{
		"type": "array",
		"prefixItems": [{"type": "integer"}, {"type": "integer"}],
		"items": false
	}`), DefaultOptions())
	require.NoError(t, err)
	assert.Contains(t, out, strings.Join([]string{
		`s_2: /-?(0|[1-9][0-9]*)/`,
		`a_3_0: s_2 a_3_1 | ""`,
		`a_3_1: COMMA s_2 a_3_2 | ""`,
		`a_3_2: ""`,
		`s_1: LBRACKET a_3_0 RBRACKET`,
	}, "\n"))
	assert.NotContains(t, out, "json_value")
}

func TestToGrammarLiterals(t *testing.T) {
	tests := []struct {
		name     string
		schema   string
		opts     Options
		expected string
	}{
		{
			name:     "enum",
			schema:   `{"enum": ["a", 1, null]}`,
			opts:     DefaultOptions(),
			expected: `s_1: "\"a\"" | "1" | "null"`,
		},
		{
			name:     "const string",
			schema:   `{"const": "x/y"}`,
			opts:     DefaultOptions(),
			expected: `s_1: "\"x/y\""`,
		},
		{
			name:     "const object",
			schema:   `{"const": {"b": 1, "a": [true]}}`,
			opts:     DefaultOptions(),
			expected: `s_1: LBRACE "\"a\"" COLON (LBRACKET ("true") RBRACKET) COMMA "\"b\"" COLON ("1") RBRACE`,
		},
		{
			name:     "compact const object",
			schema:   `{"const": {"b": 1, "a": [true]}}`,
			opts:     compactOptions(),
			expected: `s_1: "{\"b\":1,\"a\":[true]}"`,
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			out, err := ToGrammar([]byte(test.schema), test.opts)
			require.NoError(t, err)
			assert.Contains(t, out, test.expected+"\n")
		})
	}
}

func TestToGrammarStrings(t *testing.T) {
	tests := []struct {
		schema   string
		expected string
	}{
		{schema: `{"type": "string"}`, expected: `s_1: STRING`},
		{schema: `{"type": "string", "pattern": "^a/b$"}`, expected: `s_1: /"(a\/b)"/`},
		{schema: `{"type": "string", "minLength": 2}`, expected: `s_1: /"` + charRegex + `{2,}"/`},
		{schema: `{"type": "string", "maxLength": 3}`, expected: `s_1: /"` + charRegex + `{0,3}"/`},
	}
	for _, test := range tests {
		t.Run(test.schema, func(t *testing.T) {
			out, err := ToGrammar([]byte(test.schema), DefaultOptions())
			require.NoError(t, err)
			assert.Contains(t, out, test.expected+"\n")
		})
	}
}

func TestToGrammarRecursiveRef(t *testing.T) {
	out, err := ToGrammar([]byte(`{"type": "object", "properties": {"next": {"$ref": "#"}}, "additionalProperties": false}`), DefaultOptions())
	require.NoError(t, err)
	assert.Contains(t, out, "def_4: s_1\n")
}

func TestToGrammarSeparators(t *testing.T) {
	opts := Options{ItemSeparator: ", ", KeySeparator: ": "}
	out, err := ToGrammar([]byte(`{"type": "array"}`), opts)
	require.NoError(t, err)
	assert.Contains(t, out, "COMMA: \", \"\nCOLON: \": \"\n")

	opts.WhitespaceFlexible = true
	out, err = ToGrammar([]byte(`{"type": "array"}`), opts)
	require.NoError(t, err)
	assert.Contains(t, out, "COMMA: /"+wsRegex+","+wsRegex+"/\n")
	assert.Contains(t, out, "COLON: /"+wsRegex+":"+wsRegex+"/\n")
}

func TestToGrammarErrors(t *testing.T) {
	tests := []struct {
		name        string
		schema      string
		unsupported bool
		expected    string
	}{
		{name: "unknown keyword", schema: `{"type": "string", "contentEncoding": "base64"}`, unsupported: true, expected: "unsupported schema feature: contentEncoding"},
		{name: "allOf", schema: `{"allOf": [{"type": "string"}, {"maxLength": 2}]}`, unsupported: true, expected: "allOf with more than one schema"},
		{name: "remote ref", schema: `{"$ref": "http://example.com/s.json"}`, unsupported: true, expected: `$ref "http://example.com/s.json"`},
		{name: "false", schema: `false`, expected: "schema false is unsatisfiable"},
		{name: "not an object", schema: `[1]`, expected: "schema must be an object or a boolean"},
		{name: "unknown type", schema: `{"type": "rainbow"}`, expected: `unknown type "rainbow"`},
		{name: "bad type", schema: `{"type": 1}`, expected: "type must be a string or an array"},
		{name: "unresolved ref", schema: `{"$ref": "#/nope"}`, expected: `unresolved $ref "#/nope"`},
		{name: "empty enum", schema: `{"enum": []}`, expected: "enum must not be empty"},
		{name: "enum object", schema: `{"enum": {}}`, expected: "enum must be an array"},
		{name: "items bounds", schema: `{"type": "array", "minItems": 3, "maxItems": 1}`, expected: "maxItems must be >= minItems"},
		{name: "too few items", schema: `{"type": "array", "items": false, "minItems": 1}`, expected: "minItems is larger than the number of items allowed"},
		{name: "length bounds", schema: `{"type": "string", "minLength": 3, "maxLength": 1}`, expected: "maxLength must be >= minLength"},
		{name: "empty anyOf", schema: `{"anyOf": []}`, expected: "empty list of schemas"},
		{name: "x-guidance", schema: `{"x-guidance": 1}`, expected: "x-guidance must be an object"},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			_, err := ToGrammar([]byte(test.schema), DefaultOptions())
			require.Error(t, err)
			assert.Contains(t, err.Error(), test.expected)
			assert.Equal(t, test.unsupported, errors.Is(err, ErrUnsupported))
		})
	}
}

func TestToGrammarLenient(t *testing.T) {
	schema := []byte(`{"type": "string", "contentEncoding": "base64"}`)
	_, err := ToGrammar(schema, DefaultOptions())
	require.ErrorIs(t, err, ErrUnsupported)

	opts := DefaultOptions()
	opts.Lenient = true
	out, err := ToGrammar(schema, opts)
	require.NoError(t, err)
	assert.Contains(t, out, "s_1: STRING\n")

	// annotations never count as unsupported
	_, err = ToGrammar([]byte(`{"type": "integer", "title": "n", "minimum": 3, "$comment": "x"}`), DefaultOptions())
	require.NoError(t, err)
}

func TestOptionsFromSchema(t *testing.T) {
	opts, err := OptionsFromSchema([]byte(`{"type": "object"}`), DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, DefaultOptions(), opts)

	opts, err = OptionsFromSchema([]byte(`{"x-guidance": {"whitespace_flexible": false, "item_separator": ", ", "lenient": true}}`), DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, Options{ItemSeparator: ", ", KeySeparator: ":", Lenient: true}, opts)

	_, err = OptionsFromSchema([]byte(`{"x-guidance": {"indent": 2}}`), DefaultOptions())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid x-guidance")

	_, err = OptionsFromSchema([]byte(`{"x-guidance": {"lenient": "yes"}}`), DefaultOptions())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid x-guidance")
}
