package ffbuild

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

// Step names a phase of a library build. It appears in errors and logs.
type Step string

const (
	StepFetch     Step = "fetch"
	StepExtract   Step = "extract"
	StepPatch     Step = "patch"
	StepConfigure Step = "configure"
	StepCompile   Step = "compile"
	StepInstall   Step = "install"
	StepClean     Step = "clean"
	StepMerge     Step = "merge"
)

// invocation is one unit of build work: either a command run in Dir or,
// when Fn is set, filesystem work done in-process.
type invocation struct {
	Step Step
	Dir  string
	Args []string
	Fn   func() error
}

func run(step Step, dir string, args ...string) invocation {
	return invocation{Step: step, Dir: dir, Args: args}
}

// BuildSystem turns a build context into the ordered work that configures,
// compiles, installs and cleans one library for one target.
type BuildSystem interface {
	Plan(bc BuildContext) ([]invocation, error)
}

// systemFor returns the build system for kind.
func systemFor(kind BuildKind) (BuildSystem, error) {
	switch kind {
	case KindAutotools:
		return autotools{}, nil
	case KindCMake:
		return cmake{}, nil
	case KindMeson:
		return meson{}, nil
	case KindScript:
		return script{}, nil
	}
	return nil, fmt.Errorf("unknown build system %q", kind)
}

func jobsFlag(bc BuildContext) string {
	return "-j" + strconv.Itoa(bc.Jobs)
}

// freshDir recreates dir empty.
func freshDir(dir string) func() error {
	return func() error {
		if err := os.RemoveAll(dir); err != nil {
			return err
		}
		return os.MkdirAll(dir, 0o755)
	}
}

func removeDir(dir string) func() error {
	return func() error { return os.RemoveAll(dir) }
}

// distcleanStale returns a distclean step when dir still holds a previous
// configuration, which may belong to the other target.
func distcleanStale(dir string) []invocation {
	for _, name := range []string{"Makefile", "config.status"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err == nil {
			return []invocation{run(StepConfigure, dir, "make", "distclean")}
		}
	}
	return nil
}

type autotools struct{}

func (autotools) Plan(bc BuildContext) ([]invocation, error) {
	plan := distcleanStale(bc.ConfigureDir)
	if bc.Library.Autogen {
		plan = append(plan, run(StepConfigure, bc.ConfigureDir, "./autogen.sh"))
	}
	args := []string{
		"./configure",
		"--prefix=" + bc.Target.Prefix,
		"--host=" + bc.Target.Triple,
		"--enable-static",
		"--disable-shared",
		"--with-pic",
	}
	args = append(args, expandFlags(bc.Library.Flags, bc.Target)...)
	return append(plan,
		run(StepConfigure, bc.ConfigureDir, args...),
		run(StepCompile, bc.ConfigureDir, "make", jobsFlag(bc)),
		run(StepInstall, bc.ConfigureDir, "make", "install"),
		run(StepClean, bc.ConfigureDir, "make", "clean"),
	), nil
}

// script covers projects whose ./configure is hand-written: every flag
// comes from the library descriptor.
type script struct{}

func (script) Plan(bc BuildContext) ([]invocation, error) {
	args := append([]string{"./configure"}, expandFlags(bc.Library.Flags, bc.Target)...)
	return append(distcleanStale(bc.ConfigureDir),
		run(StepConfigure, bc.ConfigureDir, args...),
		run(StepCompile, bc.ConfigureDir, "make", jobsFlag(bc)),
		run(StepInstall, bc.ConfigureDir, "make", "install"),
		run(StepClean, bc.ConfigureDir, "make", "clean"),
	), nil
}

type cmake struct{}

func (cmake) Plan(bc BuildContext) ([]invocation, error) {
	t := bc.Target
	args := []string{
		"cmake",
		"-S", bc.ConfigureDir,
		"-B", bc.BuildDir,
		"-G", "Unix Makefiles",
		"-DCMAKE_INSTALL_PREFIX=" + t.Prefix,
		"-DCMAKE_PREFIX_PATH=" + t.Prefix,
		"-DCMAKE_OSX_ARCHITECTURES=" + t.Name,
		"-DCMAKE_OSX_DEPLOYMENT_TARGET=" + t.MinOS,
		"-DCMAKE_BUILD_TYPE=Release",
		"-DBUILD_SHARED_LIBS=OFF",
		"-DCMAKE_POSITION_INDEPENDENT_CODE=ON",
		"-DCMAKE_INSTALL_LIBDIR=lib",
	}
	if bc.Library.PolicyMinimum != "" {
		args = append(args, "-DCMAKE_POLICY_VERSION_MINIMUM="+bc.Library.PolicyMinimum)
	}
	args = append(args, expandFlags(bc.Library.Flags, t)...)
	return []invocation{
		{Step: StepConfigure, Fn: freshDir(bc.BuildDir)},
		run(StepConfigure, bc.ConfigureDir, args...),
		run(StepCompile, bc.BuildDir, "make", jobsFlag(bc)),
		run(StepInstall, bc.BuildDir, "make", "install"),
		{Step: StepClean, Fn: removeDir(bc.BuildDir)},
	}, nil
}

type meson struct{}

func (meson) Plan(bc BuildContext) ([]invocation, error) {
	t := bc.Target
	prepare := func() error {
		if err := freshDir(bc.BuildDir)(); err != nil {
			return err
		}
		_, err := writeCrossFile(t, bc.WorkDir)
		return err
	}

	args := []string{
		"meson", "setup", bc.BuildDir, bc.ConfigureDir,
		"--cross-file", crossFilePath(t, bc.WorkDir),
		"--prefix", t.Prefix,
		"--libdir=lib",
		"--default-library=static",
		"--buildtype=release",
		"-Db_staticpic=true",
	}
	args = append(args, expandFlags(bc.Library.Flags, t)...)

	return []invocation{
		{Step: StepConfigure, Fn: prepare},
		run(StepConfigure, bc.ConfigureDir, args...),
		run(StepCompile, bc.ConfigureDir, "ninja", "-C", bc.BuildDir, jobsFlag(bc)),
		run(StepInstall, bc.ConfigureDir, "ninja", "-C", bc.BuildDir, "install"),
		{Step: StepClean, Fn: removeDir(bc.BuildDir)},
	}, nil
}
