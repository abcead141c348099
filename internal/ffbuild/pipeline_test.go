package ffbuild

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type pipelineFixture struct {
	root   string
	srv    *sourceServer
	libs   []Library
	ffmpeg Library
}

func newPipelineFixture(t *testing.T) *pipelineFixture {
	t.Helper()
	srv := newSourceServer(t)
	f := &pipelineFixture{root: t.TempDir(), srv: srv}

	f.libs = []Library{
		{Name: "c", Version: "2.0", Kind: KindMeson, Source: srv.URL + "/c-{version}.tar.gz", Depends: []string{"a", "b"}, FFmpegFlags: []string{"--enable-libc"}},
		{Name: "b", Version: "1.0", Kind: KindCMake, Source: srv.URL + "/b-{version}.tar.gz", Depends: []string{"a"}, PolicyMinimum: "3.5"},
		{Name: "a", Version: "1.3.6", Kind: KindAutotools, Source: srv.URL + "/a-{version}.tar.gz"},
	}
	f.ffmpeg = Library{Name: "ffmpeg", Version: "7.0", Kind: KindScript, Source: srv.URL + "/ffmpeg-{version}.tar.gz", Flags: []string{"--enable-gpl"}}

	for _, lib := range append(append([]Library{}, f.libs...), f.ffmpeg) {
		f.serve(t, lib)
	}
	return f
}

func (f *pipelineFixture) serve(t *testing.T, lib Library) {
	f.srv.set("/"+lib.ArchiveName(), tarGz(t, lib.SourceDirName(), map[string]string{
		"configure":   "#!/bin/sh\n",
		"meson.build": "project('" + lib.Name + "')\n",
	}))
}

func (f *pipelineFixture) workDir() string { return filepath.Join(f.root, "workdir") }

func (f *pipelineFixture) targets() []Target {
	return Targets(&Config{WorkDir: f.workDir(), MinMacOS: "11.0"})
}

// runner simulates FFmpeg's install by creating the tools in the prefix.
func (f *pipelineFixture) runner() *fakeRunner {
	r := newFakeRunner()
	r.hook = func(c recordedCmd) error {
		if strings.Contains(c.Dir, "ffmpeg-") && c.String() == "make install" {
			prefix := strings.TrimSuffix(c.env("PKG_CONFIG_LIBDIR"), "/lib/pkgconfig")
			for _, rel := range ffmpegOutputs {
				p := filepath.Join(prefix, rel)
				if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
					return err
				}
				if err := os.WriteFile(p, []byte("thin"), 0o755); err != nil {
					return err
				}
			}
		}
		return nil
	}
	return r
}

func (f *pipelineFixture) pipeline(r Runner, force bool) *Pipeline {
	return &Pipeline{
		Libraries: append([]Library{}, f.libs...),
		FFmpeg:    f.ffmpeg,
		Targets:   f.targets(),
		Builder: &Builder{
			Cache:   testCache(filepath.Join(f.root, "cache")),
			Runner:  r,
			Logs:    NewLogStore(filepath.Join(f.root, "logs"), false),
			WorkDir: f.workDir(),
			Jobs:    2,
			Force:   force,
		},
		Merger: &Merger{Runner: r, OutputDir: filepath.Join(f.root, "out")},
		Report: NewReport(),
	}
}

// event is one configure or install seen by the runner.
type event struct {
	arch, lib, step string
}

func (f *pipelineFixture) events(r *fakeRunner) []event {
	var out []event
	for _, c := range r.commands() {
		prefix := c.env("PKG_CONFIG_LIBDIR")
		if prefix == "" {
			continue
		}
		arch := "arm64"
		if strings.Contains(prefix, "install-x86_64") {
			arch = "x86_64"
		}
		rel, err := filepath.Rel(f.workDir(), c.Dir)
		if err != nil {
			continue
		}
		lib, _, _ := strings.Cut(strings.Split(rel, string(filepath.Separator))[0], "-")

		var step string
		switch {
		case c.Args[0] == "./configure" || c.Args[0] == "cmake" || (c.Args[0] == "meson" && c.Args[1] == "setup"):
			step = "configure"
		case c.Args[len(c.Args)-1] == "install":
			step = "install"
		default:
			continue
		}
		out = append(out, event{arch, lib, step})
	}
	return out
}

func indexOf(events []event, e event) int {
	for i, ev := range events {
		if ev == e {
			return i
		}
	}
	return -1
}

func TestPipelineBuildsDependenciesFirstPerArch(t *testing.T) {
	f := newPipelineFixture(t)
	r := f.runner()
	p := f.pipeline(r, false)

	require.NoError(t, p.Run(context.Background()))

	events := f.events(r)
	for _, arch := range []string{"arm64", "x86_64"} {
		for _, pair := range [][2]string{{"a", "b"}, {"a", "c"}, {"b", "c"}, {"c", "ffmpeg"}} {
			install := indexOf(events, event{arch, pair[0], "install"})
			configure := indexOf(events, event{arch, pair[1], "configure"})
			require.NotEqual(t, -1, install, "%s install on %s", pair[0], arch)
			require.NotEqual(t, -1, configure, "%s configure on %s", pair[1], arch)
			assert.Less(t, install, configure, "%s must be installed before %s configures on %s", pair[0], pair[1], arch)
		}
	}

	// All arm64 libraries finish before any x86_64 library starts.
	lastArm := indexOf(events, event{"arm64", "c", "install"})
	firstX86 := indexOf(events, event{"x86_64", "a", "configure"})
	assert.Less(t, lastArm, firstX86)

	require.Len(t, p.Report.Artifacts, 2)
	for _, a := range p.Report.Artifacts {
		assert.Equal(t, []string{"arm64", "x86_64"}, a.Archs)
		fi, err := os.Stat(a.Path)
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(0o755), fi.Mode().Perm())
	}

	for _, target := range f.targets() {
		for _, name := range []string{"a", "b", "c", "ffmpeg"} {
			assert.NotEmpty(t, readMarker(target.Prefix, name), "%s marker on %s", name, target.Name)
		}
	}
	assert.Contains(t, p.Report.Summary(), "8 built, 0 up to date")
}

func TestPipelineRerunSkipsFinishedWorkAndFetchesNothing(t *testing.T) {
	f := newPipelineFixture(t)
	require.NoError(t, f.pipeline(f.runner(), false).Run(context.Background()))
	assert.Equal(t, 1, f.srv.count("/a-1.3.6.tar.gz"))

	second := f.runner()
	p := f.pipeline(second, false)
	require.NoError(t, p.Run(context.Background()))
	assert.Equal(t, 1, f.srv.count("/a-1.3.6.tar.gz"), "warm cache")
	assert.Empty(t, f.events(second), "nothing is configured again")
	assert.Len(t, second.matching("lipo", "-create"), 2)
	built, skipped := p.Report.Counts()
	assert.Equal(t, 0, built)
	assert.Equal(t, 8, skipped)

	third := f.runner()
	require.NoError(t, f.pipeline(third, true).Run(context.Background()))
	assert.Equal(t, 2, f.srv.count("/a-1.3.6.tar.gz"), "force refresh fetches exactly once more")
	assert.NotEqual(t, -1, indexOf(f.events(third), event{"x86_64", "a", "configure"}))
}

func TestPipelineVersionChangeRebuildsDependents(t *testing.T) {
	f := newPipelineFixture(t)
	require.NoError(t, f.pipeline(f.runner(), false).Run(context.Background()))

	f.libs[1].Version = "1.1"
	f.serve(t, f.libs[1])

	r := f.runner()
	require.NoError(t, f.pipeline(r, false).Run(context.Background()))
	events := f.events(r)
	assert.Equal(t, -1, indexOf(events, event{"arm64", "a", "configure"}), "a is unchanged")
	assert.NotEqual(t, -1, indexOf(events, event{"arm64", "b", "configure"}))
	assert.NotEqual(t, -1, indexOf(events, event{"arm64", "c", "configure"}), "c depends on b")
	assert.NotEqual(t, -1, indexOf(events, event{"x86_64", "ffmpeg", "configure"}))
}

func TestPipelineFailureAtSecondArchKeepsFirstAndSkipsMerge(t *testing.T) {
	f := newPipelineFixture(t)
	r := f.runner()
	simulate := r.hook
	r.hook = func(c recordedCmd) error {
		if c.Args[0] == "cmake" && strings.Contains(c.env("PKG_CONFIG_LIBDIR"), "install-x86_64") {
			return errors.New("exit status 1")
		}
		return simulate(c)
	}

	err := f.pipeline(r, false).Run(context.Background())
	require.Error(t, err)

	var se *StepError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "b@1.0", se.Library)
	assert.Equal(t, "x86_64", se.Arch)
	assert.Equal(t, StepConfigure, se.Step)

	targets := f.targets()
	for _, name := range []string{"a", "b", "c"} {
		assert.NotEmpty(t, readMarker(targets[0].Prefix, name), "arm64 %s stays complete", name)
	}
	assert.NotEmpty(t, readMarker(targets[1].Prefix, "a"))
	assert.Empty(t, readMarker(targets[1].Prefix, "b"))
	assert.Empty(t, r.matching("lipo"), "merge must not run")
	assert.NoFileExists(t, filepath.Join(f.root, "out", "ffmpeg"))
}

func TestPipelineFetchFailureAborts(t *testing.T) {
	f := newPipelineFixture(t)
	f.libs[2].Source = f.srv.URL + "/nowhere/{version}.tar.gz"

	r := f.runner()
	err := f.pipeline(r, false).Run(context.Background())

	var se *StepError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, StepFetch, se.Step)
	assert.Equal(t, "arm64", se.Arch)
	assert.Empty(t, r.commands())
}

func TestPipelineRejectsCycles(t *testing.T) {
	f := newPipelineFixture(t)
	f.libs[2].Depends = []string{"c"}
	err := f.pipeline(f.runner(), false).Run(context.Background())
	require.ErrorIs(t, err, ErrCycle)
}
