package ffbuild

import (
	"fmt"
	"strings"
)

// color-compatible printer interface (works with *color.Theme and *color.Style)
type colorPrinter interface {
	Printf(format string, a ...any)
	Println(a ...any)
}

// cPrintf prints with a colored style or falls back to fmt.Printf when nil
func cPrintf(p colorPrinter, format string, a ...any) {
	if p == nil {
		fmt.Printf(format, a...)
		return
	}
	p.Printf(format, a...)
}

// stepf prints an arrow-prefixed status line.
func stepf(format string, a ...any) {
	colArrow.Print("-> ")
	colSuccess.Printf(format+"\n", a...)
}

// warnf prints an arrow-prefixed warning line.
func warnf(format string, a ...any) {
	colArrow.Print("-> ")
	colWarn.Printf(format+"\n", a...)
}

// debugf prints debug messages when Debug is true
func debugf(format string, args ...any) {
	if Debug {
		fmt.Printf(format, args...)
	}
}

// shellJoin renders argv the way it would be typed, for log headers.
func shellJoin(args []string) string {
	quoted := make([]string, len(args))
	for i, a := range args {
		if a == "" || strings.ContainsAny(a, " \t\"'$\\*?;&|<>()") {
			a = "'" + strings.ReplaceAll(a, "'", `'\''`) + "'"
		}
		quoted[i] = a
	}
	return strings.Join(quoted, " ")
}
