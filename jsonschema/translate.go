// Package jsonschema translates a subset of JSON schema into grammar
// text.  The output is a regular grammar document whose start rule
// matches the JSON values valid for the schema.
package jsonschema

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/buger/jsonparser"
)

// ErrUnsupported is wrapped by errors about schema features the
// translator doesn't handle
var ErrUnsupported = errors.New("unsupported schema feature")

// keywords that carry no constraint the grammar can express, or
// that are plain annotations
var ignoredKeywords = map[string]bool{
	"$schema": true, "$id": true, "$comment": true, "$defs": true,
	"definitions": true, "title": true, "description": true,
	"default": true, "examples": true, "format": true,
	"minimum": true, "maximum": true, "exclusiveMinimum": true,
	"exclusiveMaximum": true, "multipleOf": true, "readOnly": true,
	"writeOnly": true, "deprecated": true, "x-guidance": true,
	"uniqueItems": true, "minProperties": true, "maxProperties": true,
}

var handledKeywords = map[string]bool{
	"type": true, "properties": true, "required": true,
	"additionalProperties": true, "items": true, "prefixItems": true,
	"minItems": true, "maxItems": true, "enum": true, "const": true,
	"anyOf": true, "oneOf": true, "allOf": true, "$ref": true,
	"minLength": true, "maxLength": true, "pattern": true,
}

const (
	wsRegex    = `[\x20\x0A\x0D\x09]*`
	charRegex  = `(\\(["\\\/bfnrt]|u[a-fA-F0-9]{4})|[^"\\\x00-\x1F\x7F])`
	intRegex   = `-?(0|[1-9][0-9]*)`
	floatRegex = `-?(0|[1-9][0-9]*)(\.[0-9]+)?([eE][+-]?[0-9]+)?`
)

// ToGrammar translates `schema` into grammar text, with options taken
// from `opts` overlaid by the schema's `x-guidance` object
func ToGrammar(schema []byte, opts Options) (string, error) {
	opts, err := OptionsFromSchema(schema, opts)
	if err != nil {
		return "", err
	}
	t := &translator{
		root:   schema,
		opts:   opts,
		byText: map[string]string{},
		byRef:  map[string]string{},
	}
	start, err := t.compile(schema)
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "start: %s\n", start)
	for _, r := range t.rules {
		sb.WriteString(r)
		sb.WriteByte('\n')
	}
	t.writeTerminals(&sb)
	return sb.String(), nil
}

type translator struct {
	root  []byte
	opts  Options
	rules []string
	next  int

	// byText dedupes identical subschemas
	byText map[string]string
	byRef  map[string]string

	needAny bool
}

func (t *translator) fresh(prefix string) string {
	t.next++
	return fmt.Sprintf("%s_%d", prefix, t.next)
}

func (t *translator) rule(name string, alts ...string) {
	t.rules = append(t.rules, fmt.Sprintf("%s: %s", name, strings.Join(alts, " | ")))
}

func (t *translator) compile(schema []byte) (string, error) {
	schema = bytes.TrimSpace(schema)
	switch string(schema) {
	case "true", "{}":
		return t.anyValue(), nil
	case "false":
		return "", fmt.Errorf("schema false is unsatisfiable")
	}
	if len(schema) == 0 || schema[0] != '{' {
		return "", fmt.Errorf("schema must be an object or a boolean")
	}
	key := string(schema)
	if name, ok := t.byText[key]; ok {
		return name, nil
	}
	name := t.fresh("s")
	t.byText[key] = name
	body, err := t.body(schema)
	if err != nil {
		return "", err
	}
	t.rule(name, body)
	return name, nil
}

// body returns the right hand side of the rule for `schema`
func (t *translator) body(schema []byte) (string, error) {
	var unsupported []string
	err := jsonparser.ObjectEach(schema, func(k, _ []byte, _ jsonparser.ValueType, _ int) error {
		if !ignoredKeywords[string(k)] && !handledKeywords[string(k)] {
			unsupported = append(unsupported, string(k))
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	if len(unsupported) > 0 && !t.opts.Lenient {
		sort.Strings(unsupported)
		return "", fmt.Errorf("%w: %s", ErrUnsupported, strings.Join(unsupported, ", "))
	}

	if ref, err := jsonparser.GetString(schema, "$ref"); err == nil {
		return t.ref(ref)
	}
	if raw, dt, _, err := jsonparser.Get(schema, "const"); err == nil {
		if dt == jsonparser.String {
			raw = rawString(raw)
		}
		return t.literalValue(raw)
	}
	if raw, dt, _, err := jsonparser.Get(schema, "enum"); err == nil {
		if dt != jsonparser.Array {
			return "", fmt.Errorf("enum must be an array")
		}
		var alts []string
		var iterErr error
		jsonparser.ArrayEach(raw, func(v []byte, vt jsonparser.ValueType, _ int, _ error) {
			if vt == jsonparser.String {
				v = rawString(v)
			}
			lit, err := t.literalValue(v)
			if err != nil && iterErr == nil {
				iterErr = err
			}
			alts = append(alts, lit)
		})
		if iterErr != nil {
			return "", iterErr
		}
		if len(alts) == 0 {
			return "", fmt.Errorf("enum must not be empty")
		}
		return strings.Join(alts, " | "), nil
	}
	for _, kw := range []string{"anyOf", "oneOf", "allOf"} {
		raw, _, _, err := jsonparser.Get(schema, kw)
		if err != nil {
			continue
		}
		subs, err := t.subschemas(raw)
		if err != nil {
			return "", err
		}
		if kw == "allOf" && len(subs) != 1 {
			return "", fmt.Errorf("%w: allOf with more than one schema", ErrUnsupported)
		}
		return strings.Join(subs, " | "), nil
	}

	types, err := t.types(schema)
	if err != nil {
		return "", err
	}
	alts := make([]string, 0, len(types))
	for _, typ := range types {
		alt, err := t.typed(schema, typ)
		if err != nil {
			return "", err
		}
		alts = append(alts, alt)
	}
	return strings.Join(alts, " | "), nil
}

func (t *translator) subschemas(raw []byte) ([]string, error) {
	var (
		out     []string
		iterErr error
	)
	_, err := jsonparser.ArrayEach(raw, func(v []byte, vt jsonparser.ValueType, _ int, _ error) {
		if iterErr != nil {
			return
		}
		name, err := t.compile(v)
		if err != nil {
			iterErr = err
			return
		}
		out = append(out, name)
	})
	if err != nil {
		return nil, err
	}
	if iterErr != nil {
		return nil, iterErr
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("empty list of schemas")
	}
	return out, nil
}

// types returns the JSON types allowed by `schema`, guessing from
// the keywords used when `type` is missing
func (t *translator) types(schema []byte) ([]string, error) {
	raw, dt, _, err := jsonparser.Get(schema, "type")
	switch {
	case err == nil && dt == jsonparser.String:
		return []string{string(raw)}, nil
	case err == nil && dt == jsonparser.Array:
		var out []string
		jsonparser.ArrayEach(raw, func(v []byte, vt jsonparser.ValueType, _ int, _ error) {
			out = append(out, string(v))
		})
		return out, nil
	case err == nil:
		return nil, fmt.Errorf("type must be a string or an array")
	}
	for kw, typ := range map[string]string{"properties": "object", "additionalProperties": "object", "items": "array", "prefixItems": "array"} {
		if _, _, _, err := jsonparser.Get(schema, kw); err == nil {
			return []string{typ}, nil
		}
	}
	return []string{"any"}, nil
}

func (t *translator) typed(schema []byte, typ string) (string, error) {
	switch typ {
	case "any":
		return t.anyValue(), nil
	case "null":
		return `"null"`, nil
	case "boolean":
		return `"true" | "false"`, nil
	case "integer":
		return "/" + intRegex + "/", nil
	case "number":
		return "/" + floatRegex + "/", nil
	case "string":
		return t.stringType(schema)
	case "object":
		return t.objectType(schema)
	case "array":
		return t.arrayType(schema)
	default:
		return "", fmt.Errorf("unknown type %q", typ)
	}
}

func (t *translator) stringType(schema []byte) (string, error) {
	if pattern, err := jsonparser.GetString(schema, "pattern"); err == nil {
		pattern = strings.TrimSuffix(strings.TrimPrefix(pattern, "^"), "$")
		return `/"(` + escapeSlash(pattern) + `)"/`, nil
	}
	lo, errLo := jsonparser.GetInt(schema, "minLength")
	hi, errHi := jsonparser.GetInt(schema, "maxLength")
	if errLo != nil && errHi != nil {
		return "STRING", nil
	}
	if errLo != nil {
		lo = 0
	}
	if errHi != nil {
		return fmt.Sprintf(`/"%s{%d,}"/`, charRegex, lo), nil
	}
	if hi < lo {
		return "", fmt.Errorf("maxLength must be >= minLength")
	}
	return fmt.Sprintf(`/"%s{%d,%d}"/`, charRegex, lo, hi), nil
}

type property struct {
	name     string
	schema   []byte
	required bool
}

func (t *translator) objectType(schema []byte) (string, error) {
	required := map[string]bool{}
	jsonparser.ArrayEach(schema, func(v []byte, _ jsonparser.ValueType, _ int, _ error) {
		if s, err := jsonparser.ParseString(v); err == nil {
			required[s] = true
		}
	}, "required")

	var props []property
	if raw, _, _, err := jsonparser.Get(schema, "properties"); err == nil {
		err := jsonparser.ObjectEach(raw, func(k, v []byte, vt jsonparser.ValueType, _ int) error {
			name, err := jsonparser.ParseString(k)
			if err != nil {
				return err
			}
			if vt == jsonparser.String {
				v = rawString(v)
			}
			props = append(props, property{name: name, schema: v, required: required[name]})
			return nil
		})
		if err != nil {
			return "", err
		}
	}

	additional := ""
	raw, _, _, err := jsonparser.Get(schema, "additionalProperties")
	switch {
	case err != nil || string(bytes.TrimSpace(raw)) == "true":
		additional = t.anyValue()
	case string(bytes.TrimSpace(raw)) == "false":
	default:
		if additional, err = t.compile(raw); err != nil {
			return "", err
		}
	}

	base := t.fresh("o")
	member := func(i int) string { return fmt.Sprintf("%s_%d", base, i) }
	sep := func(comma bool) string {
		if comma {
			return "COMMA "
		}
		return ""
	}
	for i, p := range props {
		value, err := t.compile(p.schema)
		if err != nil {
			return "", err
		}
		key, err := quote(p.name)
		if err != nil {
			return "", err
		}
		for _, comma := range []bool{false, true} {
			name := member(i) + suffix(comma)
			alt := fmt.Sprintf("%s%s COLON %s %s_t", sep(comma), key, value, member(i+1))
			if p.required {
				t.rule(name, alt)
			} else {
				t.rule(name, alt, member(i+1)+suffix(comma))
			}
		}
	}
	tail := member(len(props))
	if additional == "" {
		t.rule(tail+"_f", `""`)
		t.rule(tail+"_t", `""`)
	} else {
		extra := fmt.Sprintf("STRING COLON %s", additional)
		t.rule(tail+"_f", `""`, fmt.Sprintf("%s (COMMA %s)*", extra, extra))
		t.rule(tail+"_t", `""`, fmt.Sprintf("(COMMA %s)+", extra))
	}
	return fmt.Sprintf("LBRACE %s_f RBRACE", member(0)), nil
}

func suffix(comma bool) string {
	if comma {
		return "_t"
	}
	return "_f"
}

func (t *translator) arrayType(schema []byte) (string, error) {
	var prefix []string
	if raw, _, _, err := jsonparser.Get(schema, "prefixItems"); err == nil {
		subs, err := t.subschemas(raw)
		if err != nil {
			return "", err
		}
		prefix = subs
	}
	items := ""
	raw, _, _, err := jsonparser.Get(schema, "items")
	switch {
	case err != nil || string(bytes.TrimSpace(raw)) == "true":
		items = t.anyValue()
	case string(bytes.TrimSpace(raw)) == "false":
	default:
		if items, err = t.compile(raw); err != nil {
			return "", err
		}
	}
	lo, err := jsonparser.GetInt(schema, "minItems")
	if err != nil {
		lo = 0
	}
	hi, err := jsonparser.GetInt(schema, "maxItems")
	if err != nil {
		hi = -1
	}
	if hi >= 0 && hi < lo {
		return "", fmt.Errorf("maxItems must be >= minItems")
	}
	if items == "" && int(lo) > len(prefix) {
		return "", fmt.Errorf("minItems is larger than the number of items allowed")
	}

	base := t.fresh("a")
	elem := func(j int) string { return fmt.Sprintf("%s_%d", base, j) }
	fixed := max(len(prefix), int(lo))
	if hi >= 0 {
		fixed = min(fixed, int(hi))
	}
	for j := 0; j < fixed; j++ {
		item := items
		if j < len(prefix) {
			item = prefix[j]
		}
		comma := ""
		if j > 0 {
			comma = "COMMA "
		}
		alt := fmt.Sprintf("%s%s %s", comma, item, elem(j+1))
		if int64(j) >= lo {
			t.rule(elem(j), alt, `""`)
		} else {
			t.rule(elem(j), alt)
		}
	}
	// everything after the fixed part repeats `items`
	left := int64(-1)
	if hi >= 0 {
		left = hi - int64(fixed)
	}
	switch {
	case items == "" || left == 0:
		t.rule(elem(fixed), `""`)
	case fixed == 0 && left < 0:
		t.rule(elem(fixed), `""`, fmt.Sprintf("%s (COMMA %s)*", items, items))
	case fixed == 0:
		t.rule(elem(fixed), `""`, fmt.Sprintf("%s (COMMA %s){0,%d}", items, items, left-1))
	case left < 0:
		t.rule(elem(fixed), fmt.Sprintf("(COMMA %s)*", items))
	default:
		t.rule(elem(fixed), fmt.Sprintf("(COMMA %s){0,%d}", items, left))
	}
	return fmt.Sprintf("LBRACKET %s RBRACKET", elem(0)), nil
}

func (t *translator) ref(ref string) (string, error) {
	if name, ok := t.byRef[ref]; ok {
		return name, nil
	}
	var path []string
	switch {
	case ref == "#":
	case strings.HasPrefix(ref, "#/"):
		for _, part := range strings.Split(ref[2:], "/") {
			part = strings.ReplaceAll(strings.ReplaceAll(part, "~1", "/"), "~0", "~")
			path = append(path, part)
		}
	default:
		return "", fmt.Errorf("%w: $ref %q", ErrUnsupported, ref)
	}
	raw, _, _, err := jsonparser.Get(t.root, path...)
	if err != nil {
		return "", fmt.Errorf("unresolved $ref %q", ref)
	}
	name := t.fresh("def")
	t.byRef[ref] = name
	target, err := t.compile(raw)
	if err != nil {
		return "", err
	}
	t.rule(name, target)
	return name, nil
}

// literalValue matches exactly the compact encoding of the JSON value
// in `raw`
func (t *translator) literalValue(raw []byte) (string, error) {
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return "", err
	}
	if !t.opts.WhitespaceFlexible || (buf.Len() > 0 && buf.Bytes()[0] != '{' && buf.Bytes()[0] != '[') {
		return quote(buf.String())
	}
	// structured constants keep exact members but may have white
	// space around punctuation
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return "", err
	}
	return t.literalTree(v)
}

func (t *translator) literalTree(v any) (string, error) {
	switch v := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := []string{"LBRACE"}
		for i, k := range keys {
			if i > 0 {
				parts = append(parts, "COMMA")
			}
			key, err := quote(k)
			if err != nil {
				return "", err
			}
			val, err := t.literalTree(v[k])
			if err != nil {
				return "", err
			}
			parts = append(parts, key, "COLON", "("+val+")")
		}
		return strings.Join(append(parts, "RBRACE"), " "), nil
	case []any:
		parts := []string{"LBRACKET"}
		for i, e := range v {
			if i > 0 {
				parts = append(parts, "COMMA")
			}
			val, err := t.literalTree(e)
			if err != nil {
				return "", err
			}
			parts = append(parts, "("+val+")")
		}
		return strings.Join(append(parts, "RBRACKET"), " "), nil
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return "", err
		}
		return quote(string(b))
	}
}

func (t *translator) anyValue() string {
	t.needAny = true
	return "json_value"
}

func (t *translator) writeTerminals(sb *strings.Builder) {
	if t.needAny {
		sb.WriteString(`json_value: json_object | json_array | STRING | NUMBER | "true" | "false" | "null"
json_object: LBRACE RBRACE | LBRACE json_member (COMMA json_member)* RBRACE
json_member: STRING COLON json_value
json_array: LBRACKET RBRACKET | LBRACKET json_value (COMMA json_value)* RBRACKET
`)
	}
	fmt.Fprintf(sb, "STRING: /\"%s*\"/\n", charRegex)
	fmt.Fprintf(sb, "NUMBER: /%s/\n", floatRegex)
	if t.opts.WhitespaceFlexible {
		fmt.Fprintf(sb, "LBRACE: /\\{%s/\n", wsRegex)
		fmt.Fprintf(sb, "RBRACE: /%s\\}/\n", wsRegex)
		fmt.Fprintf(sb, "LBRACKET: /\\[%s/\n", wsRegex)
		fmt.Fprintf(sb, "RBRACKET: /%s\\]/\n", wsRegex)
		fmt.Fprintf(sb, "COMMA: /%s%s%s/\n", wsRegex, escapeRegex(strings.TrimSpace(t.opts.ItemSeparator)), wsRegex)
		fmt.Fprintf(sb, "COLON: /%s%s%s/\n", wsRegex, escapeRegex(strings.TrimSpace(t.opts.KeySeparator)), wsRegex)
		return
	}
	sb.WriteString("LBRACE: \"{\"\nRBRACE: \"}\"\nLBRACKET: \"[\"\nRBRACKET: \"]\"\n")
	for _, kv := range [][2]string{{"COMMA", t.opts.ItemSeparator}, {"COLON", t.opts.KeySeparator}} {
		q, _ := quote(kv[1])
		fmt.Fprintf(sb, "%s: %s\n", kv[0], q)
	}
}

// quote renders `s` as a grammar string literal
func quote(s string) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(s); err != nil {
		return "", err
	}
	return strings.TrimSuffix(buf.String(), "\n"), nil
}

// rawString restores the quotes jsonparser strips from string values
func rawString(v []byte) []byte {
	out := make([]byte, 0, len(v)+2)
	out = append(out, '"')
	out = append(out, v...)
	return append(out, '"')
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

func escapeRegex(s string) string {
	var sb strings.Builder
	for _, c := range s {
		if strings.ContainsRune(`\.+*?()|[]{}^$/`, c) {
			sb.WriteByte('\\')
		}
		sb.WriteRune(c)
	}
	return sb.String()
}
