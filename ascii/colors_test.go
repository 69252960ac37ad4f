package ascii

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestColor(t *testing.T) {
	assert.Equal(t, "3 tokens", Color("", "%d tokens", 3))
	assert.Equal(t, Red+"oops: x"+Reset, Color(Red, "oops: %s", "x"))
}

func TestThemeFor(t *testing.T) {
	t.Setenv("NO_COLOR", "")
	assert.Equal(t, DefaultTheme, ThemeFor(true))
	assert.Equal(t, PlainTheme, ThemeFor(false))

	t.Setenv("NO_COLOR", "1")
	assert.Equal(t, PlainTheme, ThemeFor(true))
}
