package service

import (
	"context"

	"github.com/scl-tools/rpmrh/pkg/rpm"
)

// Service is any configured backend instance.  Concrete capabilities
// are discovered by interface assertion against Repository, Builder
// and SessionBound.
type Service interface {
	// Type reports the registered type name of the service.
	Type() string
}

// Repository is a service providing existing packages and their
// metadata, grouped by tag.
type Repository interface {
	Service

	// TagPrefixes reports the tag name prefixes this instance is
	// responsible for.
	TagPrefixes() []string

	// LatestBuilds lists the highest-versioned build of every
	// distinct package name within a tag.
	LatestBuilds(ctx context.Context, tag string) ([]rpm.Metadata, error)

	// Download fetches a single package payload into dir and
	// returns the local path.
	Download(ctx context.Context, pkg rpm.Metadata, dir string) (string, error)
}

// Builder is a service that can produce new builds from source
// packages, grouped by target.
type Builder interface {
	Service

	// TargetPrefixes reports the build target name prefixes this
	// instance is responsible for.
	TargetPrefixes() []string

	// Build runs a remote build of the source package against the
	// named target and returns the finished build.  A failed build
	// is reported as BuildFailure; transport problems surface as
	// their own error types.
	Build(ctx context.Context, target string, src rpm.LocalPackage) (rpm.BuiltPackage, error)

	// TagBuild adds an existing build to a tag.  Whether repeated
	// tagging is a no-op is backend-defined and documented on each
	// implementation.
	TagBuild(ctx context.Context, tag string, build rpm.BuiltPackage, owner string) (rpm.BuiltPackage, error)
}

// SessionBound is implemented by services that need an authenticated
// session around a group of operations.  WithSession logs in, runs fn
// and logs out again on every exit path.
type SessionBound interface {
	WithSession(ctx context.Context, fn func(context.Context) error) error
}
