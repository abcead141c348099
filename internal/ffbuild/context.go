package ffbuild

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// BuildContext is everything one (library, target) build needs. It is
// created fresh per pair and never shared, so nothing a build exports can
// leak into the next one.
type BuildContext struct {
	Library      Library
	Target       Target
	WorkDir      string
	SourceDir    string // root of the unpacked tree
	ConfigureDir string // where the build system's entry point lives
	BuildDir     string // out-of-tree build dir, equal to ConfigureDir for in-tree builds
	Env          []string
	Jobs         int
	LogPath      string
}

// inheritedEnvBlocked lists host variables that would leak host toolchain
// settings into a target build.
var inheritedEnvBlocked = []string{
	"CFLAGS=", "CXXFLAGS=", "CPPFLAGS=", "LDFLAGS=", "CC=", "CXX=",
	"PKG_CONFIG_PATH=", "PKG_CONFIG_LIBDIR=", "PKG_CONFIG_SYSROOT_DIR=",
	"MAKEFLAGS=", "MACOSX_DEPLOYMENT_TARGET=",
}

func newBuildContext(lib Library, t Target, workDir string, jobs int, logPath string) BuildContext {
	src := filepath.Join(workDir, lib.SourceDirName())
	conf := src
	if lib.SourceSubdir != "" {
		conf = filepath.Join(src, lib.SourceSubdir)
	}
	build := conf
	if lib.Kind == KindCMake || lib.Kind == KindMeson {
		build = filepath.Join(src, "build-"+t.Name)
	}
	return BuildContext{
		Library:      lib,
		Target:       t,
		WorkDir:      workDir,
		SourceDir:    src,
		ConfigureDir: conf,
		BuildDir:     build,
		Env:          buildEnv(t, jobs),
		Jobs:         jobs,
		LogPath:      logPath,
	}
}

// buildEnv starts from the host environment minus toolchain variables and
// appends the target's settings in sorted key order.
func buildEnv(t Target, jobs int) []string {
	env := []string{}
	for _, e := range os.Environ() {
		blocked := false
		for _, prefix := range inheritedEnvBlocked {
			if strings.HasPrefix(e, prefix) {
				blocked = true
				break
			}
		}
		if !blocked {
			env = append(env, e)
		}
	}

	defaults := map[string]string{
		"CC":                       "clang",
		"CXX":                      "clang++",
		"CFLAGS":                   t.CFlags(),
		"CXXFLAGS":                 t.CFlags(),
		"CPPFLAGS":                 "-I" + filepath.Join(t.Prefix, "include"),
		"LDFLAGS":                  t.LDFlags(),
		"PKG_CONFIG_PATH":          "",
		"PKG_CONFIG_LIBDIR":        t.PkgConfigDir(),
		"MAKEFLAGS":                fmt.Sprintf("-j%d", jobs),
		"MACOSX_DEPLOYMENT_TARGET": t.MinOS,
	}

	keys := make([]string, 0, len(defaults))
	for k := range defaults {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		env = append(env, k+"="+defaults[k])
	}
	return env
}

// expandFlags substitutes target placeholders in descriptor flags.
func expandFlags(flags []string, t Target) []string {
	r := strings.NewReplacer(
		"{prefix}", t.Prefix,
		"{host}", t.Triple,
		"{arch}", t.Name,
		"{cpu}", t.CPU,
		"{vpx_target}", t.VpxTarget,
		"{minos}", t.MinOS,
	)
	out := make([]string, len(flags))
	for i, f := range flags {
		out[i] = r.Replace(f)
	}
	return out
}
