// Package ascii gives semantic names to the ANSI colors used by the
// command line tool so they can be grouped in themes.
package ascii

import (
	"fmt"
	"os"
)

const (
	Reset  = "\033[0m"
	Red    = "\033[1;31m"
	Yellow = "\033[1;33m"
	Green  = "\033[1;32m"
	Cyan   = "\033[1;36m"
	Gray   = "\033[90m" // Bright black, actually
	Bold   = "\033[1m"

	// 256-color palette
	Orange = "\033[38;5;208m"
	Purple = "\033[1;38;5;99m"
)

// Theme maps what is printed to a color
type Theme struct {
	// Diagnostic levels
	Error   string
	Warning string

	// Matcher output
	Accepting string // the matcher may stop here
	Stopped   string // the matcher can't take more tokens
	Forced    string // bytes every continuation starts with
	Token     string

	Muted   string // secondary/dimmed text
	Success string
}

// DefaultTheme provides a sensible default color mapping.
var DefaultTheme = Theme{
	Error:   Red,
	Warning: Yellow,

	Accepting: Green,
	Stopped:   Purple,
	Forced:    Orange,
	Token:     Cyan,

	Muted:   Gray,
	Success: Green,
}

// PlainTheme prints everything without colors
var PlainTheme = Theme{}

// ThemeFor returns the plain theme when `NO_COLOR` is set or when
// colors are turned off, and the default theme otherwise
func ThemeFor(colors bool) Theme {
	if !colors || os.Getenv("NO_COLOR") != "" {
		return PlainTheme
	}
	return DefaultTheme
}

// Color formats the arguments wrapped in `color`.  An empty color
// formats them as they are.
func Color(color, format string, args ...any) string {
	if color == "" {
		return fmt.Sprintf(format, args...)
	}
	return fmt.Sprintf(color+format+Reset, args...)
}
