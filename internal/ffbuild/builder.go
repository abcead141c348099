package ffbuild

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// StepError reports which step of which library failed on which target.
type StepError struct {
	Library string
	Arch    string
	Step    Step
	Err     error
}

func (e *StepError) Error() string {
	if e.Arch == "" {
		return fmt.Sprintf("%s failed for %s: %v", e.Step, e.Library, e.Err)
	}
	return fmt.Sprintf("%s failed for %s (%s): %v", e.Step, e.Library, e.Arch, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// BuildStatus is the outcome of one (library, target) build.
type BuildStatus string

const (
	StatusBuilt   BuildStatus = "built"
	StatusSkipped BuildStatus = "up to date"
)

// BuildResult feeds the run report.
type BuildResult struct {
	Library     string
	Arch        string
	Status      BuildStatus
	Duration    time.Duration
	Fingerprint string
}

// source is an unpacked, patched tree ready to be built.
type source struct {
	Dir      string
	Revision string
	Fetched  bool
}

// Builder builds single libraries into a target's prefix. Sources are
// prepared once per run and shared by both targets.
type Builder struct {
	Cache      *Cache
	Runner     Runner
	Logs       *LogStore
	WorkDir    string
	Jobs       int
	Force      bool
	GitReclone bool

	sources map[string]source
}

// Prepare makes lib's source tree present and patched. With Force set
// the cache entry is refetched and the tree unpacked anew.
func (b *Builder) Prepare(ctx context.Context, lib Library) (source, error) {
	if src, ok := b.sources[lib.Name]; ok {
		return src, nil
	}
	if b.sources == nil {
		b.sources = make(map[string]source)
	}

	var (
		src source
		err error
	)
	if lib.FromGit() {
		src, err = b.prepareCheckout(ctx, lib)
	} else {
		src, err = b.prepareArchive(ctx, lib)
	}
	if err != nil {
		return source{}, err
	}
	b.sources[lib.Name] = src
	return src, nil
}

func (b *Builder) prepareArchive(ctx context.Context, lib Library) (source, error) {
	fail := func(step Step, err error) (source, error) {
		return source{}, &StepError{Library: lib.Label(), Step: step, Err: err}
	}

	entry, fetched, err := b.Cache.Get(ctx, lib.URL(), lib.ArchiveName(), b.Force)
	if err != nil {
		return fail(StepFetch, err)
	}
	staged, err := b.Cache.Stage(entry, filepath.Join(b.WorkDir, "archives"))
	if err != nil {
		return fail(StepFetch, err)
	}

	dir := filepath.Join(b.WorkDir, lib.SourceDirName())
	if b.Force {
		if err := os.RemoveAll(dir); err != nil {
			return fail(StepExtract, err)
		}
	}
	if _, err := os.Stat(dir); errors.Is(err, os.ErrNotExist) {
		stepf("Unpacking %s", lib.Label())
		if err := extractArchive(staged, dir); err != nil {
			return fail(StepExtract, err)
		}
	} else {
		debugf("=> Source %s already unpacked\n", dir)
	}

	if err := applyPatches(lib.Patches, dir, archivePristine(entry)); err != nil {
		return fail(StepPatch, err)
	}
	return source{Dir: dir, Fetched: fetched}, nil
}

func (b *Builder) prepareCheckout(ctx context.Context, lib Library) (source, error) {
	fail := func(step Step, err error) (source, error) {
		return source{}, &StepError{Library: lib.Label(), Step: step, Err: err}
	}

	dir := filepath.Join(b.WorkDir, lib.SourceDirName())
	if b.Force && b.GitReclone {
		if err := os.RemoveAll(dir); err != nil {
			return fail(StepFetch, err)
		}
	}

	fetched := false
	if _, err := os.Stat(dir); errors.Is(err, os.ErrNotExist) {
		log, err := b.Logs.Open("sources", lib.Name)
		if err != nil {
			return fail(StepFetch, err)
		}
		stepf("Cloning %s", lib.Label())
		if err := cloneGit(b.Runner, lib.Git, lib.Branch, dir, log); err != nil {
			_ = log.Finish(false)
			printLogTail(log.Path)
			return fail(StepFetch, err)
		}
		_ = log.Finish(true)
		fetched = true
	} else if b.Force {
		warnf("Keeping existing checkout of %s (set FFBUILD_GIT_RECLONE=1 to refresh it)", lib.Name)
	}

	rev, err := output(b.Runner, "git", "-C", dir, "rev-parse", "HEAD")
	if err != nil {
		debugf("=> Cannot read revision of %s: %v\n", dir, err)
	}

	if err := applyPatches(lib.Patches, dir, checkoutPristine(dir)); err != nil {
		return fail(StepPatch, err)
	}
	return source{Dir: dir, Revision: rev, Fetched: fetched}, nil
}

// Build builds lib for t unless a matching completion marker shows the
// prefix already holds this exact build.
func (b *Builder) Build(ctx context.Context, lib Library, t Target, depFPs []string) (BuildResult, error) {
	sys, err := systemFor(lib.Kind)
	if err != nil {
		return BuildResult{}, &StepError{Library: lib.Label(), Arch: t.Name, Step: StepConfigure, Err: err}
	}
	src, err := b.Prepare(ctx, lib)
	if err != nil {
		var se *StepError
		if errors.As(err, &se) {
			se.Arch = t.Name
		}
		return BuildResult{}, err
	}
	fp := libraryFingerprint(lib, t, src.Revision, depFPs)
	return b.run(ctx, lib, t, sys, fp, nil)
}

// run executes a build system's plan for lib on t. required lists files
// under the prefix that must exist for a marker to count.
func (b *Builder) run(ctx context.Context, lib Library, t Target, sys BuildSystem, fp string, required []string) (BuildResult, error) {
	res := BuildResult{Library: lib.Label(), Arch: t.Name, Fingerprint: fp}
	fail := func(step Step, err error) (BuildResult, error) {
		return res, &StepError{Library: lib.Label(), Arch: t.Name, Step: step, Err: err}
	}

	if !b.Force && readMarker(t.Prefix, lib.Name) == fp && allExist(t.Prefix, required) {
		stepf("%s for %s is up to date", lib.Label(), t.Name)
		res.Status = StatusSkipped
		return res, nil
	}
	if err := removeMarker(t.Prefix, lib.Name); err != nil {
		return fail(StepConfigure, err)
	}
	if err := os.MkdirAll(t.Prefix, 0o755); err != nil {
		return fail(StepConfigure, err)
	}

	log, err := b.Logs.Open(t.Name, lib.Name)
	if err != nil {
		return fail(StepConfigure, err)
	}
	bc := newBuildContext(lib, t, b.WorkDir, b.Jobs, log.Path)
	plan, err := sys.Plan(bc)
	if err != nil {
		_ = log.Finish(false)
		return fail(StepConfigure, err)
	}

	stepf("Building %s for %s", lib.Label(), t.Name)
	start := time.Now()
	for _, inv := range plan {
		if err := ctx.Err(); err != nil {
			_ = log.Finish(false)
			return fail(inv.Step, err)
		}
		if err := b.invoke(inv, bc, log); err != nil {
			_ = log.Finish(false)
			printLogTail(log.Path)
			return fail(inv.Step, err)
		}
	}
	if err := log.Finish(true); err != nil {
		warnf("%v", err)
	}
	if err := writeMarker(t.Prefix, lib.Name, fp); err != nil {
		return fail(StepInstall, err)
	}

	res.Status = StatusBuilt
	res.Duration = time.Since(start)
	return res, nil
}

func (b *Builder) invoke(inv invocation, bc BuildContext, log *BuildLog) error {
	if inv.Fn != nil {
		return inv.Fn()
	}
	fmt.Fprintf(log, "+ %s\n", shellJoin(inv.Args))
	cmd := command(inv.Dir, bc.Env, log, inv.Args[0], inv.Args[1:]...)
	return b.Runner.Run(cmd)
}

func allExist(prefix string, rels []string) bool {
	for _, rel := range rels {
		if _, err := os.Stat(filepath.Join(prefix, rel)); err != nil {
			return false
		}
	}
	return true
}
