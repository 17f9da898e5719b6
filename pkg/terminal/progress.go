// Package terminal provides plain-terminal drawing helpers.
package terminal

import (
	"fmt"
	"strings"
)

// Progress bar characters.
const (
	ProgressFilled = "█"
	ProgressEmpty  = "░"
)

// PercentMultiplier converts 0-1 to 0-100.
const PercentMultiplier = 100

// clearWidth is the number of columns blanked when erasing a progress line.
const clearWidth = 80

// DrawProgressBar draws a progress bar of the given width.
// Value is clamped to [0, 1] range.
// Example: DrawProgressBar(0.7, 10) returns "███████░░░".
func DrawProgressBar(value float64, width int) string {
	if value < 0 {
		value = 0
	}

	if value > 1 {
		value = 1
	}

	filled := int(value * float64(width))
	empty := width - filled

	return strings.Repeat(ProgressFilled, filled) + strings.Repeat(ProgressEmpty, empty)
}

// FormatChunkProgress formats a labeled chunk progress line.
// Example: "Converting: [███████░░░] 70% (Chunk 7/10)".
func FormatChunkProgress(label string, completed, total, barWidth int) string {
	value := 0.0
	if total > 0 {
		value = float64(completed) / float64(total)
	}

	bar := DrawProgressBar(value, barWidth)
	pct := int(value * PercentMultiplier)

	return fmt.Sprintf("%s: [%s] %d%% (Chunk %d/%d)", label, bar, pct, completed, total)
}

// ClearLine returns a carriage-returned blank line that erases a previously
// drawn progress line.
func ClearLine() string {
	return "\r" + strings.Repeat(" ", clearWidth) + "\r"
}
