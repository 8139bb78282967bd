package clifmt

import (
	"fmt"

	"github.com/fatih/color"
)

// Styling follows color.NoColor, which is already off when stdout is not a
// terminal or NO_COLOR is set.
var (
	headerStyle  = color.New(color.FgCyan, color.Bold)
	keyStyle     = color.New(color.Bold)
	dimStyle     = color.New(color.Faint)
	successStyle = color.New(color.FgGreen)
	warnStyle    = color.New(color.FgYellow)
)

func Headerf(format string, args ...any) string {
	return headerStyle.Sprint(fmt.Sprintf(format, args...))
}

func Key(s string) string {
	return keyStyle.Sprint(s)
}

func Dim(s string) string {
	return dimStyle.Sprint(s)
}

func Success(s string) string {
	return successStyle.Sprint(s)
}

func Warn(s string) string {
	return warnStyle.Sprint(s)
}
