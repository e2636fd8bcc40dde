package tui

import (
	"strings"

	"github.com/mattn/go-runewidth"
)

// VisualWidth returns the display width of text, accounting for
// multi-byte characters.
func VisualWidth(s string) int {
	return runewidth.StringWidth(s)
}

// Truncate truncates text to maxLen visual width with optional ellipsis.
func Truncate(s string, maxLen int, ellipsis bool) string {
	s = strings.TrimRight(s, " \t")
	if maxLen <= 0 {
		return ""
	}

	if VisualWidth(s) > maxLen {
		if ellipsis && maxLen > 3 {
			return runewidth.Truncate(s, maxLen-3, "") + "..."
		}
		return runewidth.Truncate(s, maxLen, "")
	}
	return s
}

// TruncateAndPad truncates text and pads it to an exact width, keeping
// table columns aligned.
func TruncateAndPad(s string, width int, ellipsis bool) string {
	s = Truncate(s, width, ellipsis)
	if w := VisualWidth(s); w < width {
		return s + strings.Repeat(" ", width-w)
	}
	return s
}
