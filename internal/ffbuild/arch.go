package ffbuild

import (
	"fmt"
	"path/filepath"
)

// Target is one architecture slice of the universal build. Its Prefix is
// the only place libraries for this architecture are installed to or read
// from.
type Target struct {
	Name      string // Apple name, also the lipo identifier
	Triple    string
	CPUFamily string // meson cpu_family
	CPU       string
	VpxTarget string
	MinOS     string
	Prefix    string
}

// CFlags embeds the target architecture and deployment target.
func (t Target) CFlags() string {
	return fmt.Sprintf("-arch %s -mmacosx-version-min=%s -O2 -fPIC -I%s", t.Name, t.MinOS, filepath.Join(t.Prefix, "include"))
}

// LDFlags mirrors CFlags for the linker.
func (t Target) LDFlags() string {
	return fmt.Sprintf("-arch %s -mmacosx-version-min=%s -L%s", t.Name, t.MinOS, filepath.Join(t.Prefix, "lib"))
}

// PkgConfigDir is the only pkg-config search path a build for t may use.
func (t Target) PkgConfigDir() string {
	return filepath.Join(t.Prefix, "lib", "pkgconfig")
}

// Cross reports whether t differs from the machine running the build.
func (t Target) Cross() bool {
	return t.Name != nativeArch()
}

// Targets returns the two fixed targets in build order.
func Targets(cfg *Config) []Target {
	return []Target{
		{
			Name:      "arm64",
			Triple:    "aarch64-apple-darwin",
			CPUFamily: "aarch64",
			CPU:       "arm64",
			VpxTarget: "arm64-darwin20-gcc",
			MinOS:     cfg.MinMacOS,
			Prefix:    filepath.Join(cfg.WorkDir, "install-arm64"),
		},
		{
			Name:      "x86_64",
			Triple:    "x86_64-apple-darwin",
			CPUFamily: "x86_64",
			CPU:       "x86_64",
			VpxTarget: "x86_64-darwin20-gcc",
			MinOS:     cfg.MinMacOS,
			Prefix:    filepath.Join(cfg.WorkDir, "install-x86_64"),
		},
	}
}
