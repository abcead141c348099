package ffbuild

import (
	"fmt"
	"os"
	"os/exec"
	"strings"
)

const brewInstallHint = `install Homebrew first: /bin/bash -c "$(curl -fsSL https://raw.githubusercontent.com/Homebrew/install/HEAD/install.sh)"`

// Requirement is a command the build needs on PATH.
type Requirement struct {
	Command string
	Formula string // Homebrew formula providing Command; empty when brew cannot
	Hint    string
}

// ToolStatus reports the availability of one requirement.
type ToolStatus struct {
	Requirement
	Available bool
	Path      string
}

var baseRequirements = []Requirement{
	{Command: "clang", Hint: "install the Xcode command line tools: xcode-select --install"},
	{Command: "lipo", Hint: "install the Xcode command line tools: xcode-select --install"},
	{Command: "git", Formula: "git"},
	{Command: "make", Hint: "install the Xcode command line tools: xcode-select --install"},
	{Command: "cmake", Formula: "cmake"},
	{Command: "pkg-config", Formula: "pkg-config"},
	{Command: "nasm", Formula: "nasm"},
	{Command: "autoconf", Formula: "autoconf"},
	{Command: "automake", Formula: "automake"},
	{Command: "glibtoolize", Formula: "libtool"},
}

var mesonRequirements = []Requirement{
	{Command: "meson", Formula: "meson"},
	{Command: "ninja", Formula: "ninja"},
}

// Requirements lists what building libs needs.
func Requirements(libs []Library) []Requirement {
	reqs := append([]Requirement{}, baseRequirements...)
	for _, lib := range libs {
		if lib.Kind == KindMeson {
			return append(reqs, mesonRequirements...)
		}
	}
	return reqs
}

// ToolChecker verifies requirements and installs missing ones with brew.
type ToolChecker struct {
	Runner   Runner
	LookPath func(string) (string, error)
}

func NewToolChecker(r Runner) *ToolChecker {
	return &ToolChecker{Runner: r, LookPath: exec.LookPath}
}

// Check reports the availability of each requirement.
func (c *ToolChecker) Check(reqs []Requirement) []ToolStatus {
	out := make([]ToolStatus, 0, len(reqs))
	for _, req := range reqs {
		st := ToolStatus{Requirement: req}
		if p, err := c.LookPath(req.Command); err == nil {
			st.Available = true
			st.Path = p
		}
		out = append(out, st)
	}
	return out
}

// Ensure installs missing requirements through Homebrew. Without brew, or
// when a missing tool has no formula, it fails with an instruction.
func (c *ToolChecker) Ensure(reqs []Requirement) error {
	brew, err := c.LookPath("brew")
	if err != nil {
		return fmt.Errorf("%w: %s", ErrNoPackageManager, brewInstallHint)
	}

	var formulas []string
	for _, st := range c.Check(reqs) {
		if st.Available {
			debugf("=> Found %s at %s\n", st.Command, st.Path)
			continue
		}
		if st.Formula == "" {
			return fmt.Errorf("required tool %s not found: %s", st.Command, st.Hint)
		}
		formulas = append(formulas, st.Formula)
	}
	if len(formulas) == 0 {
		return nil
	}

	stepf("Installing missing tools: %s", strings.Join(formulas, " "))
	cmd := exec.Command(brew, append([]string{"install"}, formulas...)...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := c.Runner.Run(cmd); err != nil {
		return fmt.Errorf("brew install %s: %w", strings.Join(formulas, " "), err)
	}

	for _, st := range c.Check(reqs) {
		if !st.Available {
			return fmt.Errorf("%s still not found after brew install", st.Command)
		}
	}
	return nil
}
