package gmatch

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime"
	"sort"
	"strconv"
	"strings"
)

type Config map[string]*cfgVal

// NewConfig creates a new configuration object primed with all the
// default values expected by the grammar compiler, the matchers and
// the batch executor.
func NewConfig() *Config {
	m := make(Config)
	// how many distinct states the lexer automaton can have
	m.SetInt("limits.max_lexer_states", 250_000)
	// how many items a single parser row can hold
	m.SetInt("limits.max_items_in_row", 2_000)
	// symbols + productions + regex nodes of a compiled grammar
	m.SetInt("limits.max_grammar_size", 500_000)
	// how far compute_ff_bytes walks before giving up
	m.SetInt("limits.max_forced_bytes", 1_024)
	// workers used by the batch mask computation
	m.SetInt("executor.num_threads", runtime.GOMAXPROCS(0))
	// allow white space around JSON punctuation
	m.SetBool("jsonschema.whitespace_flexible", true)
	// trace, debug, info, warn or error
	m.SetString("log.level", "info")
	return &m
}

// ConfigFromEnv returns the default configuration overlaid with the
// values found in the environment.  See `Config.LoadEnv`.
func ConfigFromEnv() *Config {
	c := NewConfig()
	c.LoadEnv()
	return c
}

// EnvName returns the environment variable that overrides `path`,
// e.g. `limits.max_lexer_states` is `GMATCH_LIMITS_MAX_LEXER_STATES`
func EnvName(path string) string {
	return "GMATCH_" + strings.ToUpper(strings.ReplaceAll(path, ".", "_"))
}

// LoadEnv overrides settings with environment variables.  Invalid
// values are logged and ignored.
func (c *Config) LoadEnv() {
	for path, val := range *c {
		name := EnvName(path)
		raw := strings.Trim(os.Getenv(name), "\"' ")
		if raw == "" {
			continue
		}
		switch val.typ {
		case cfgValType_Bool:
			v, err := strconv.ParseBool(raw)
			if err != nil {
				slog.Error("invalid setting, ignoring", name, raw, "error", err)
				continue
			}
			val.asBool = v
		case cfgValType_Int:
			v, err := strconv.Atoi(raw)
			if err != nil || v <= 0 {
				slog.Error("invalid setting must be greater than zero", name, raw, "error", err)
				continue
			}
			val.asInt = v
		case cfgValType_String:
			val.asString = raw
		}
	}
}

// Limits derives the resource limits from the configuration
func (c *Config) Limits() Limits {
	return Limits{
		MaxLexerStates: c.GetInt("limits.max_lexer_states"),
		MaxItemsInRow:  c.GetInt("limits.max_items_in_row"),
		MaxGrammarSize: c.GetInt("limits.max_grammar_size"),
		MaxForcedBytes: c.GetInt("limits.max_forced_bytes"),
	}
}

// LogLevel parses `log.level`, defaulting to info for unknown names
func (c *Config) LogLevel() slog.Level {
	switch strings.ToLower(c.GetString("log.level")) {
	case "trace":
		return LevelTrace
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func (c *Config) Debug(w io.Writer) {
	fmt.Fprintln(w, "Configuration")

	keys := make([]string, 0, len(*c))
	width := 0
	for k := range *c {
		keys = append(keys, k)
		width = max(width, len(k))
	}
	sort.Strings(keys)

	for _, k := range keys {
		fmt.Fprintf(w, "%-*s : %s\n", width, k, (*c)[k].String())
	}
}

// Limits bound the work done by a compiled grammar and its matchers.
// A zero field means no limit.
type Limits struct {
	MaxLexerStates int
	MaxItemsInRow  int
	MaxGrammarSize int
	MaxForcedBytes int
}

// DefaultLimits returns the limits of the default configuration
func DefaultLimits() Limits {
	return NewConfig().Limits()
}

type cfgValType int

const (
	cfgValType_Undefined cfgValType = iota
	cfgValType_Bool
	cfgValType_Int
	cfgValType_String
)

func (vt cfgValType) String() string {
	return map[cfgValType]string{
		cfgValType_Undefined: "undefined",
		cfgValType_Bool:      "bool",
		cfgValType_Int:       "int",
		cfgValType_String:    "string",
	}[vt]
}

type cfgVal struct {
	typ      cfgValType
	asBool   bool
	asInt    int
	asString string
}

// assignType is mostly for preventing programming errors, it panics
// when a setting changes type
func (v *cfgVal) assignType(vt cfgValType) {
	if v.typ != vt && v.typ != cfgValType_Undefined {
		panic(fmt.Sprintf("Can't assign `%s` to type `%s`", vt, v.typ))
	}
	v.typ = vt
}

func (v *cfgVal) checkType(vt cfgValType) {
	if v.typ != vt {
		panic(fmt.Sprintf("Can't retrieve `%s` from `%s` variable", vt, v.typ))
	}
}

func (v *cfgVal) String() string {
	switch v.typ {
	case cfgValType_Bool:
		return fmt.Sprintf("%t (bool)", v.asBool)
	case cfgValType_Int:
		return fmt.Sprintf("%d (int)", v.asInt)
	case cfgValType_String:
		return fmt.Sprintf("%s (string)", v.asString)
	case cfgValType_Undefined:
		return "(undefined)"
	default:
		panic(fmt.Sprintf("unknown cfgVal type: %v", v.typ))
	}
}

func (c *Config) set(path string, vt cfgValType) *cfgVal {
	val, ok := (*c)[path]
	if !ok {
		val = &cfgVal{}
		(*c)[path] = val
	}
	val.assignType(vt)
	return val
}

func (c *Config) SetBool(path string, v bool) {
	c.set(path, cfgValType_Bool).asBool = v
}

func (c *Config) SetInt(path string, v int) {
	c.set(path, cfgValType_Int).asInt = v
}

func (c *Config) SetString(path string, v string) {
	c.set(path, cfgValType_String).asString = v
}

func (c *Config) GetBool(path string) bool {
	if val, ok := (*c)[path]; ok {
		val.checkType(cfgValType_Bool)
		return val.asBool
	}
	panic(fmt.Sprintf("Bool setting `%s` does not exist", path))
}

func (c *Config) GetInt(path string) int {
	if val, ok := (*c)[path]; ok {
		val.checkType(cfgValType_Int)
		return val.asInt
	}
	panic(fmt.Sprintf("Int setting `%s` does not exist", path))
}

func (c *Config) GetString(path string) string {
	if val, ok := (*c)[path]; ok {
		val.checkType(cfgValType_String)
		return val.asString
	}
	panic(fmt.Sprintf("String setting `%s` does not exist", path))
}
