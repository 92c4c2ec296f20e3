package service

import (
	"fmt"

	"github.com/scl-tools/rpmrh/pkg/rpm"
)

// ErrNotFound is returned when no registered service matches a
// requested group name.
type ErrNotFound struct {
	Attribute string
	Key       string
}

func (e ErrNotFound) Error() string {
	return fmt.Sprintf("no %s service registered for %q", e.Attribute, e.Key)
}

// ErrDuplicateType is returned when a service type name is registered
// twice.  This is a configuration error and aborts startup.
type ErrDuplicateType struct {
	Name string
}

func (e ErrDuplicateType) Error() string {
	return "duplicate service type name: " + e.Name
}

// ErrUnknownType is returned when a configuration record names a
// service type that was never registered.
type ErrUnknownType struct {
	Name string
}

func (e ErrUnknownType) Error() string {
	return "unknown service type: " + e.Name
}

// ErrUnknownAliasKind is returned when an alias lookup names a kind
// that has no table.  Unlike an unknown alias name, which passes
// through, this indicates a programming or configuration error.
type ErrUnknownAliasKind struct {
	Kind string
}

func (e ErrUnknownAliasKind) Error() string {
	return "unknown alias kind: " + e.Kind
}

// ErrMissingFormatKey is returned when an alias template references a
// placeholder absent from the supplied parameters.
type ErrMissingFormatKey struct {
	Template string
	Key      string
}

func (e ErrMissingFormatKey) Error() string {
	return fmt.Sprintf("alias template %q references undefined key %q", e.Template, e.Key)
}

// ErrUnknownTarget is returned when a backend does not recognize the
// named build target.
type ErrUnknownTarget struct {
	Target string
}

func (e ErrUnknownTarget) Error() string {
	return "unknown build target: " + e.Target
}

// ErrUnknownJob is returned when a CI backend does not recognize the
// named job.
type ErrUnknownJob struct {
	Job string
}

func (e ErrUnknownJob) Error() string {
	return "unknown job: " + e.Job
}

// ErrNoMatch is returned when a download query matches no remote
// candidate for the requested package.
type ErrNoMatch struct {
	NEVRA string
}

func (e ErrNoMatch) Error() string {
	return "no candidate matches " + e.NEVRA
}

// ErrAmbiguousMatch is returned when a download query matches more
// than one remote candidate for the requested package.
type ErrAmbiguousMatch struct {
	NEVRA string
	Count int
}

func (e ErrAmbiguousMatch) Error() string {
	return fmt.Sprintf("%d candidates match %s, expected exactly one", e.Count, e.NEVRA)
}

// ErrHTTP is a transport failure with enough context to diagnose the
// remote end.  Transport errors are never recovered by the pipeline;
// they abort the current batch.
type ErrHTTP struct {
	URL    string
	Status string
	Code   int
}

func (e ErrHTTP) Error() string {
	return fmt.Sprintf("HTTP %s for %s", e.Status, e.URL)
}

// BuildFailure reports one failed package build.  It is the only
// expected per-package failure: callers collect these per collection
// and keep processing the remainder of the batch.
type BuildFailure struct {
	Package rpm.Metadata
	Reason  string
}

func (e BuildFailure) Error() string {
	return fmt.Sprintf("%s: %s", e.Package, e.Reason)
}
