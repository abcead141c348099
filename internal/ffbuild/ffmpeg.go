package ffbuild

import (
	"context"
	"errors"
	"os"
	"path/filepath"
)

// Tools merged into universal binaries, relative to a target prefix.
var ffmpegOutputs = []string{"bin/ffmpeg", "bin/ffprobe"}

// ffmpegSystem drives FFmpeg's own configure. The tree is shared by both
// targets, so it is deep-cleaned after install and before any configure
// that finds a previous configuration.
type ffmpegSystem struct{}

func (ffmpegSystem) Plan(bc BuildContext) ([]invocation, error) {
	t := bc.Target
	var plan []invocation
	if _, err := os.Stat(filepath.Join(bc.ConfigureDir, "ffbuild", "config.mak")); err == nil {
		plan = append(plan, run(StepConfigure, bc.ConfigureDir, "make", "distclean"))
	}

	args := []string{
		"./configure",
		"--prefix=" + t.Prefix,
		"--arch=" + t.CPUFamily,
		"--target-os=darwin",
		"--enable-cross-compile",
		"--cc=clang -arch " + t.Name,
		"--cxx=clang++ -arch " + t.Name,
		"--pkg-config=pkg-config",
		"--pkg-config-flags=--static",
		"--extra-cflags=" + t.CFlags(),
		"--extra-ldflags=" + t.LDFlags(),
		"--extra-libs=-lc++",
		"--enable-static",
		"--disable-shared",
	}
	args = append(args, expandFlags(bc.Library.Flags, t)...)

	return append(plan,
		run(StepConfigure, bc.ConfigureDir, args...),
		run(StepCompile, bc.ConfigureDir, "make", jobsFlag(bc)),
		run(StepInstall, bc.ConfigureDir, "make", "install"),
		run(StepClean, bc.ConfigureDir, "make", "distclean"),
	), nil
}

// withFeatures returns ff with every library's FFmpeg switches appended.
func withFeatures(ff Library, libs []Library) Library {
	flags := append([]string{}, ff.Flags...)
	for _, lib := range libs {
		flags = append(flags, lib.FFmpegFlags...)
	}
	ff.Flags = flags
	return ff
}

// BuildFFmpeg builds ff for t against the libraries already installed in
// t's prefix. libFPs are those libraries' fingerprints for t.
func (b *Builder) BuildFFmpeg(ctx context.Context, ff Library, libs []Library, t Target, libFPs []string) (BuildResult, error) {
	ff = withFeatures(ff, libs)
	src, err := b.Prepare(ctx, ff)
	if err != nil {
		var se *StepError
		if errors.As(err, &se) {
			se.Arch = t.Name
		}
		return BuildResult{}, err
	}
	fp := libraryFingerprint(ff, t, src.Revision, libFPs)
	return b.run(ctx, ff, t, ffmpegSystem{}, fp, ffmpegOutputs)
}
