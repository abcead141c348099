package ffbuild

import (
	"context"
	"fmt"
)

// Pipeline builds every library for each target in turn, then FFmpeg for
// each target, then merges the FFmpeg tools. Any error ends the run.
type Pipeline struct {
	Libraries []Library
	FFmpeg    Library
	Targets   []Target
	Builder   *Builder
	Merger    *Merger
	Report    *Report
}

// NewPipeline wires a pipeline from configuration. r runs every external
// command.
func NewPipeline(ctx context.Context, cfg *Config, r Runner, force bool) (*Pipeline, error) {
	cache := NewCache(cfg.CacheDir)
	if cfg.Mirror.Enabled() {
		if force {
			debugf("=> Force refresh: source mirror bypassed\n")
		} else {
			m, err := NewS3Mirror(ctx, cfg.Mirror)
			if err != nil {
				return nil, err
			}
			cache.Mirror = m
		}
	}

	return &Pipeline{
		Libraries: ResolveCatalog(cfg.Values),
		FFmpeg:    ResolveFFmpeg(cfg.Values),
		Targets:   Targets(cfg),
		Builder: &Builder{
			Cache:      cache,
			Runner:     r,
			Logs:       NewLogStore(cfg.LogDir, cfg.Verbose),
			WorkDir:    cfg.WorkDir,
			Jobs:       cfg.Jobs,
			Force:      force,
			GitReclone: cfg.GitReclone,
		},
		Merger: &Merger{Runner: r, OutputDir: cfg.OutputDir},
		Report: NewReport(),
	}, nil
}

// Order is the dependency-respecting build order of the libraries.
func (p *Pipeline) Order() ([]Library, error) {
	return ResolveOrder(p.Libraries)
}

// Run executes the whole build.
func (p *Pipeline) Run(ctx context.Context) error {
	order, err := p.Order()
	if err != nil {
		return err
	}

	fps := make(map[string]map[string]string, len(p.Targets))
	for _, t := range p.Targets {
		stepf("Building %d libraries for %s into %s", len(order), t.Name, t.Prefix)
		archFPs, err := p.buildTarget(ctx, order, t)
		if err != nil {
			return err
		}
		fps[t.Name] = archFPs
	}

	for _, t := range p.Targets {
		libFPs := make([]string, 0, len(order))
		for _, lib := range order {
			libFPs = append(libFPs, fps[t.Name][lib.Name])
		}
		res, err := p.Builder.BuildFFmpeg(ctx, p.FFmpeg, order, t, libFPs)
		if err != nil {
			return err
		}
		p.Report.Add(res)
	}

	stepf("Merging universal binaries into %s", p.Merger.OutputDir)
	artifacts, err := p.Merger.Merge(p.Targets)
	if err != nil {
		return err
	}
	p.Report.Artifacts = artifacts
	return nil
}

// buildTarget builds order for t and returns each library's fingerprint.
func (p *Pipeline) buildTarget(ctx context.Context, order []Library, t Target) (map[string]string, error) {
	fps := make(map[string]string, len(order))
	for _, lib := range order {
		deps := make([]string, 0, len(lib.Depends))
		for _, d := range lib.Depends {
			fp, ok := fps[d]
			if !ok {
				return nil, fmt.Errorf("%s built before its dependency %s", lib.Name, d)
			}
			deps = append(deps, fp)
		}
		res, err := p.Builder.Build(ctx, lib, t, deps)
		if err != nil {
			return nil, err
		}
		p.Report.Add(res)
		fps[lib.Name] = res.Fingerprint
	}
	return fps, nil
}
