package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/clarete/gmatch"
	"github.com/clarete/gmatch/ascii"
	"github.com/clarete/gmatch/jsonschema"
	"github.com/clarete/gmatch/structtag"
	"github.com/clarete/gmatch/toktrie"
)

// env is what every command shares: the configuration read from the
// environment, the logger and the color theme
type env struct {
	cfg    *gmatch.Config
	logger *slog.Logger
	theme  ascii.Theme
}

func newEnv(cmd *cobra.Command) *env {
	cfg := gmatch.ConfigFromEnv()
	colors, _ := cmd.Flags().GetBool("color")
	if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
		cfg.SetString("log.level", "debug")
	}
	return &env{
		cfg:    cfg,
		logger: gmatch.NewLogger(cmd.ErrOrStderr(), cfg.LogLevel()),
		theme:  ascii.ThemeFor(colors),
	}
}

// tokenizer reads the vocabulary at `path`, or returns the byte
// tokenizer when there's none
func (e *env) tokenizer(path string) (toktrie.TokEnv, error) {
	if path == "" {
		return toktrie.NewByteTokenizer(), nil
	}
	vocab, err := toktrie.LoadVocabulary(path)
	if err != nil {
		return nil, fmt.Errorf("can't load vocabulary: %w", err)
	}
	e.logger.Debug("vocabulary loaded", "path", path, "model", vocab.Model, "tokens", len(vocab.Tokens))
	return toktrie.NewFromVocabulary(vocab)
}

// factory creates a factory for the grammar at `path`, whose `@name`
// references are looked up in the same directory
func (e *env) factory(tok toktrie.TokEnv, path string) *gmatch.Factory {
	return gmatch.NewFactory(tok,
		gmatch.WithConfig(e.cfg),
		gmatch.WithLogger(e.logger),
		gmatch.WithImportLoader(gmatch.NewRelativeImportLoader()),
		gmatch.WithGrammarPath(path))
}

// readGrammar reads a grammar file.  JSON schemas are wrapped in a
// grammar list so they're compiled like any other grammar.
func readGrammar(path string, schema bool) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	if !schema {
		return string(data), nil
	}
	return fmt.Sprintf(`{"grammars": [{"name": %q, "json_schema": %s}]}`, path, data), nil
}

func ValidateHandler(cmd *cobra.Command, args []string) error {
	e := newEnv(cmd)
	schema, _ := cmd.Flags().GetBool("schema")
	text, err := readGrammar(args[0], schema)
	if err != nil {
		return err
	}
	tok, err := e.tokenizer(flagString(cmd, "vocab"))
	if err != nil {
		return err
	}

	ok, msgs := e.factory(tok, args[0]).ValidateGrammarWithWarnings(text)
	out := cmd.OutOrStdout()
	if !ok {
		fmt.Fprintln(out, ascii.Color(e.theme.Error, "error: %s", msgs[0]))
		return fmt.Errorf("invalid grammar %s", args[0])
	}
	for _, w := range msgs {
		fmt.Fprintln(out, ascii.Color(e.theme.Warning, "warning: %s", w))
	}
	fmt.Fprintln(out, ascii.Color(e.theme.Success, "%s: ok", args[0]))
	return nil
}

func RunHandler(cmd *cobra.Command, args []string) error {
	e := newEnv(cmd)
	schema, _ := cmd.Flags().GetBool("schema")
	text, err := readGrammar(flagString(cmd, "grammar"), schema)
	if err != nil {
		return err
	}
	tok, err := e.tokenizer(flagString(cmd, "vocab"))
	if err != nil {
		return err
	}
	m, err := e.factory(tok, flagString(cmd, "grammar")).NewMatcher(text)
	if err != nil {
		return err
	}

	input := []byte(flagString(cmd, "input"))
	if path := flagString(cmd, "input-file"); path != "" {
		if input, err = os.ReadFile(path); err != nil {
			return err
		}
	}
	toks := tok.Tokenize(input)
	if eos, _ := cmd.Flags().GetBool("eos"); eos {
		toks = append(toks, tok.EOSToken())
	}

	var (
		data    [][]string
		failure error
	)
	data = append(data, e.row(m, "", "start"))
	for i, t := range toks {
		if err := m.ConsumeToken(t); err != nil {
			failure = fmt.Errorf("token %d: %w", i, err)
			break
		}
		data = append(data, e.row(m, strconv.Quote(string(tok.TokenBytes(t))), strconv.Itoa(int(t))))
	}
	printTable(cmd.OutOrStdout(), []string{"ID", "TOKEN", "ALLOWED", "ACCEPTING", "STOP", "FORCED"}, data)

	if failure != nil {
		fmt.Fprintln(cmd.OutOrStdout(), ascii.Color(e.theme.Error, "error: %s", failure))
		return failure
	}
	return nil
}

// row describes the matcher state after a token
func (e *env) row(m *gmatch.Matcher, piece, id string) []string {
	allowed := "-"
	if mask, err := m.ComputeMask(); err == nil {
		allowed = strconv.Itoa(mask.Count())
	}
	accepting := "no"
	if m.IsAccepting() {
		accepting = ascii.Color(e.theme.Accepting, "yes")
	}
	stop := ascii.Color(e.theme.Muted, "%s", m.StopReason())
	if m.IsStopped() {
		stop = ascii.Color(e.theme.Stopped, "%s", m.StopReason())
	}
	forced := ""
	if ff := m.ComputeFFBytes(); len(ff) > 0 {
		forced = ascii.Color(e.theme.Forced, "%q", ff)
	}
	return []string{ascii.Color(e.theme.Token, "%s", id), piece, allowed, accepting, stop, forced}
}

func TagsHandler(cmd *cobra.Command, _ []string) error {
	data, err := os.ReadFile(flagString(cmd, "tags"))
	if err != nil {
		return err
	}
	tags, opts, err := structtag.Parse(data)
	if err != nil {
		return err
	}
	grm, err := structtag.Compose(tags, opts)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), grm)
	return nil
}

func SchemaHandler(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}
	opts := jsonschema.DefaultOptions()
	if compact, _ := cmd.Flags().GetBool("compact"); compact {
		opts.WhitespaceFlexible = false
	}
	if lenient, _ := cmd.Flags().GetBool("lenient"); lenient {
		opts.Lenient = true
	}
	grm, err := jsonschema.ToGrammar(data, opts)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), grm)
	return nil
}

func ConfigHandler(cmd *cobra.Command, _ []string) error {
	newEnv(cmd).cfg.Debug(cmd.OutOrStdout())
	return nil
}

func printTable(w io.Writer, header []string, data [][]string) {
	table := tablewriter.NewWriter(w)
	table.SetHeader(header)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetAutoFormatHeaders(false)
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetNoWhiteSpace(true)
	table.SetTablePadding("    ")
	table.AppendBulk(data)
	table.Render()
}

func flagString(cmd *cobra.Command, name string) string {
	v, _ := cmd.Flags().GetString(name)
	return strings.TrimSpace(v)
}

func NewCLI() *cobra.Command {
	cobra.EnableCommandSorting = false

	rootCmd := &cobra.Command{
		Use:           "gmatch",
		Short:         "Grammar constrained token matching",
		SilenceUsage:  true,
		SilenceErrors: false,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
	}
	rootCmd.PersistentFlags().Bool("color", true, "Color the output, NO_COLOR turns it off too")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Log at the debug level")

	validateCmd := &cobra.Command{
		Use:   "validate GRAMMAR",
		Short: "Compile a grammar and print its errors and warnings",
		Args:  cobra.ExactArgs(1),
		RunE:  ValidateHandler,
	}
	validateCmd.Flags().Bool("schema", false, "The grammar file is a JSON schema")
	validateCmd.Flags().String("vocab", "", "Vocabulary file, one token per byte if empty")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Feed text to a matcher and show its state after each token",
		Args:  cobra.NoArgs,
		RunE:  RunHandler,
	}
	runCmd.Flags().String("grammar", "", "Grammar file")
	runCmd.Flags().Bool("schema", false, "The grammar file is a JSON schema")
	runCmd.Flags().String("input", "", "Text to tokenize and feed to the matcher")
	runCmd.Flags().String("input-file", "", "File with the text to feed to the matcher")
	runCmd.Flags().String("vocab", "", "Vocabulary file, one token per byte if empty")
	runCmd.Flags().Bool("eos", false, "Feed the end of sequence token after the input")
	_ = runCmd.MarkFlagRequired("grammar")

	tagsCmd := &cobra.Command{
		Use:   "tags",
		Short: "Print the grammar for text with structured tags",
		Args:  cobra.NoArgs,
		RunE:  TagsHandler,
	}
	tagsCmd.Flags().String("tags", "", "JSON file with the tags and their options")
	_ = tagsCmd.MarkFlagRequired("tags")

	schemaCmd := &cobra.Command{
		Use:   "schema SCHEMA.json",
		Short: "Print the grammar of a JSON schema",
		Args:  cobra.ExactArgs(1),
		RunE:  SchemaHandler,
	}
	schemaCmd.Flags().Bool("compact", false, "Don't allow white space around punctuation")
	schemaCmd.Flags().Bool("lenient", false, "Ignore unsupported keywords")

	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Print the configuration, including environment overrides",
		Args:  cobra.NoArgs,
		RunE:  ConfigHandler,
	}

	rootCmd.AddCommand(validateCmd, runCmd, tagsCmd, schemaCmd, configCmd)
	return rootCmd
}
