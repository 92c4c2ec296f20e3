// Package pipeline implements the processing stages of a rebuild
// run: diff the source group against the destination, download the
// missing packages and build them against the destination target.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/hashicorp/go-hclog"

	"github.com/scl-tools/rpmrh/pkg/config"
	"github.com/scl-tools/rpmrh/pkg/report"
	"github.com/scl-tools/rpmrh/pkg/rpm"
	"github.com/scl-tools/rpmrh/pkg/service"
	"github.com/scl-tools/rpmrh/pkg/storage"
)

// Params are the group selection options shared by all stages.
type Params struct {
	// Source is the logical name of the group packages come from.
	Source string
	// Destination is the logical name of the group packages go to.
	Destination string
}

// Pipeline binds the stages to the resolution context.
type Pipeline struct {
	l      hclog.Logger
	ctx    *config.Context
	params Params

	// cache, when set, short-circuits builds of packages that
	// already built successfully in an earlier run.
	cache *storage.BuildCache
}

// New returns a pipeline over the given context.
func New(l hclog.Logger, ctx *config.Context, params Params) *Pipeline {
	return &Pipeline{
		l:      l.Named("pipeline"),
		ctx:    ctx,
		params: params,
	}
}

// EnableCache installs a build cache.
func (p *Pipeline) EnableCache(cache *storage.BuildCache) {
	p.cache = cache
}

// latestBuilds resolves a logical group name for one item and lists
// the latest builds of the resulting tag.
func (p *Pipeline) latestBuilds(ctx context.Context, item Item, group string) ([]rpm.Metadata, error) {
	tag, err := p.ctx.Unalias(service.AttrTag, group, item.FormatParams())
	if err != nil {
		return nil, err
	}
	repo, err := p.ctx.Services.FindRepository(tag)
	if err != nil {
		return nil, err
	}
	return repo.LatestBuilds(ctx, tag)
}

// Diff fills each item with the packages present in the source group
// but missing or outdated in the destination group.  Running the same
// diff twice over unchanged groups yields the same result.
func (p *Pipeline) Diff(ctx context.Context, stream Stream) (Stream, error) {
	out := make(Stream, 0, len(stream))

	for _, item := range stream {
		destBuilds, err := p.latestBuilds(ctx, item, p.params.Destination)
		if err != nil {
			return nil, err
		}

		present := make(map[string]rpm.Metadata, len(destBuilds))
		for _, build := range destBuilds {
			if strings.HasPrefix(build.Name, item.Collection) {
				present[build.Name] = build
			}
		}

		srcBuilds, err := p.latestBuilds(ctx, item, p.params.Source)
		if err != nil {
			return nil, err
		}

		var missing []rpm.Metadata
		for _, pkg := range srcBuilds {
			if !strings.HasPrefix(pkg.Name, item.Collection) {
				continue
			}
			if existing, ok := present[pkg.Name]; ok && existing.Compare(pkg) >= 0 {
				continue
			}
			missing = append(missing, pkg)
		}

		p.l.Debug("Diffed collection", "el", item.EL, "collection", item.Collection, "missing", len(missing))
		item.Packages = missing
		out = append(out, item)
	}
	return out, nil
}

// Download fetches every package of each item into a per-collection
// directory under outputDir.
func (p *Pipeline) Download(ctx context.Context, stream Stream, outputDir string) (Stream, error) {
	out := make(Stream, 0, len(stream))

	for _, item := range stream {
		tag, err := p.ctx.Unalias(service.AttrTag, p.params.Source, item.FormatParams())
		if err != nil {
			return nil, err
		}
		repo, err := p.ctx.Services.FindRepository(tag)
		if err != nil {
			return nil, err
		}

		dir := filepath.Join(outputDir, item.Collection)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}

		item.Paths = item.Paths[:0]
		for _, pkg := range item.Packages {
			p.l.Info("Fetching package", "package", pkg.NEVRA())
			path, err := repo.Download(ctx, pkg, dir)
			if err != nil {
				return nil, fmt.Errorf("downloading %s: %w", pkg.NEVRA(), err)
			}
			item.Paths = append(item.Paths, path)
		}
		out = append(out, item)
	}
	return out, nil
}

// Build attempts to build every downloaded package against the
// destination target.  A BuildFailure for one package is recorded
// under its collection and the rest of the batch continues; any other
// error aborts, since it means the backend itself is unreachable.
func (p *Pipeline) Build(ctx context.Context, stream Stream, failures *report.Failures) (Stream, error) {
	out := make(Stream, 0, len(stream))

	for _, item := range stream {
		target, err := p.ctx.Unalias(service.AttrTarget, p.params.Destination, item.FormatParams())
		if err != nil {
			return nil, err
		}
		builder, err := p.ctx.Services.FindBuilder(target)
		if err != nil {
			return nil, err
		}

		built, err := p.buildItem(ctx, builder, target, item, failures)
		if err != nil {
			return nil, err
		}

		item.Packages = item.Packages[:0]
		for _, b := range built {
			item.Packages = append(item.Packages, b.Metadata)
		}
		out = append(out, item)
	}
	return out, nil
}

// buildItem runs all builds of one item inside a single backend
// session when the backend wants one.
func (p *Pipeline) buildItem(ctx context.Context, builder service.Builder, target string, item Item, failures *report.Failures) ([]rpm.BuiltPackage, error) {
	var built []rpm.BuiltPackage

	run := func(ctx context.Context) error {
		for _, path := range item.Paths {
			src, err := rpm.NewLocalPackage(path)
			if err != nil {
				return err
			}

			if p.cache != nil {
				if cached, ok := p.cache.Get(src.NEVRA()); ok {
					p.l.Info("Skipping already built package", "package", src.NEVRA(), "build", cached.ID)
					built = append(built, withCollection(cached, item.Collection))
					continue
				}
			}

			result, err := builder.Build(ctx, target, src)
			var failure service.BuildFailure
			if errors.As(err, &failure) {
				p.l.Warn("Build failed", "package", failure.Package.NEVRA(), "reason", failure.Reason)
				failures.Add(item.Collection, failure)
				continue
			}
			if err != nil {
				return err
			}

			result = withCollection(result, item.Collection)
			if p.cache != nil {
				p.cache.Put(result)
			}
			built = append(built, result)
		}
		return nil
	}

	var err error
	if bound, ok := builder.(service.SessionBound); ok {
		err = bound.WithSession(ctx, run)
	} else {
		err = run(ctx)
	}
	if err != nil {
		return nil, err
	}
	return built, nil
}

func withCollection(b rpm.BuiltPackage, collection string) rpm.BuiltPackage {
	if b.SCL == "" {
		b.SCL = collection
	}
	return b
}
