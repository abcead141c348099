package ffbuild

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

// Artifact is one merged universal binary.
type Artifact struct {
	Tool  string
	Path  string
	Archs []string
}

// Merger combines per-target executables into universal binaries.
type Merger struct {
	Runner    Runner
	OutputDir string
}

// Merge builds <OutputDir>/<tool> for every FFmpeg tool from the targets'
// prefixes. The merged file must report exactly the targets'
// architectures.
func (m *Merger) Merge(targets []Target) ([]Artifact, error) {
	if err := os.MkdirAll(m.OutputDir, 0o755); err != nil {
		return nil, &StepError{Library: "ffmpeg", Step: StepMerge, Err: err}
	}

	want := make([]string, len(targets))
	for i, t := range targets {
		want[i] = t.Name
	}
	slices.Sort(want)

	var artifacts []Artifact
	for _, rel := range ffmpegOutputs {
		tool := filepath.Base(rel)
		a, err := m.mergeTool(tool, rel, targets, want)
		if err != nil {
			return artifacts, err
		}
		artifacts = append(artifacts, a)
	}
	return artifacts, nil
}

func (m *Merger) mergeTool(tool, rel string, targets []Target, want []string) (Artifact, error) {
	fail := func(arch string, err error) (Artifact, error) {
		return Artifact{}, &StepError{Library: tool, Arch: arch, Step: StepMerge, Err: err}
	}

	inputs := make([]string, 0, len(targets))
	for _, t := range targets {
		in := filepath.Join(t.Prefix, filepath.FromSlash(rel))
		if _, err := os.Stat(in); err != nil {
			return fail(t.Name, fmt.Errorf("%w: %s", ErrMissingInput, in))
		}
		inputs = append(inputs, in)
	}

	out := filepath.Join(m.OutputDir, tool)
	args := append([]string{"-create"}, inputs...)
	args = append(args, "-output", out)
	if _, err := output(m.Runner, "lipo", args...); err != nil {
		return fail("", err)
	}
	if err := os.Chmod(out, 0o755); err != nil {
		return fail("", err)
	}

	listed, err := output(m.Runner, "lipo", "-archs", out)
	if err != nil {
		return fail("", err)
	}
	got := strings.Fields(listed)
	slices.Sort(got)
	if !slices.Equal(got, want) {
		return fail("", fmt.Errorf("%w: %s has [%s], want [%s]", ErrArchMismatch, out,
			strings.Join(got, " "), strings.Join(want, " ")))
	}

	stepf("%s: %s", out, strings.Join(got, " "))
	return Artifact{Tool: tool, Path: out, Archs: got}, nil
}
