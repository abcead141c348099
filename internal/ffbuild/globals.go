package ffbuild

import (
	"errors"
	"runtime"

	"github.com/gookit/color"
)

// Process-wide switches. Set once from Config in Main, read everywhere.
var (
	Debug     bool
	version   = "dev"     // overridden at build time
	buildDate = "unknown" // overridden at build time
	hostArch  = runtime.GOARCH
)

var (
	ErrCycle             = errors.New("dependency cycle")
	ErrUnknownDependency = errors.New("unknown dependency")
	ErrMissingInput      = errors.New("merge input missing")
	ErrArchMismatch      = errors.New("universal binary architecture mismatch")
	ErrNoPackageManager  = errors.New("package manager not found")
)

// color helpers
var (
	colInfo    = color.Info // style provided by gookit/color
	colWarn    = color.Warn
	colError   = color.Error
	colSuccess = color.HEX("#1976D2")
	colArrow   = color.HEX("#FFEB3B")
	colNote    = color.Tag("notice")
)
