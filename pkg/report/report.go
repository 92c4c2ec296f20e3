// Package report aggregates per-package build failures and renders
// the end-of-run report.
package report

import (
	"io"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/scl-tools/rpmrh/pkg/service"
)

// Failures collects build failures keyed by collection.  A single
// failing package never aborts its batch; it lands here instead.
type Failures struct {
	byCollection map[string][]service.BuildFailure
}

// NewFailures returns an empty failure collection.
func NewFailures() *Failures {
	return &Failures{
		byCollection: make(map[string][]service.BuildFailure),
	}
}

// Add records one failure under its collection.
func (f *Failures) Add(collection string, failure service.BuildFailure) {
	f.byCollection[collection] = append(f.byCollection[collection], failure)
}

// Empty reports whether anything failed.
func (f *Failures) Empty() bool {
	return len(f.byCollection) == 0
}

// Collections lists the collections with failures, sorted.
func (f *Failures) Collections() []string {
	names := make([]string, 0, len(f.byCollection))
	for name := range f.byCollection {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// WriteYAML renders the failures as
// {collection -> {nevra -> reason}} with deterministic ordering.
func (f *Failures) WriteYAML(w io.Writer) error {
	if f.Empty() {
		return nil
	}

	doc := yaml.Node{Kind: yaml.MappingNode}
	for _, collection := range f.Collections() {
		failures := append([]service.BuildFailure(nil), f.byCollection[collection]...)
		sort.Slice(failures, func(i, j int) bool {
			return failures[i].Package.Compare(failures[j].Package) < 0
		})

		inner := yaml.Node{Kind: yaml.MappingNode}
		for _, failure := range failures {
			inner.Content = append(inner.Content,
				scalar(failure.Package.NEVRA()),
				scalar(failure.Reason),
			)
		}
		doc.Content = append(doc.Content, scalar(collection), &inner)
	}

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	defer enc.Close()
	return enc.Encode(&doc)
}

func scalar(s string) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Value: s}
}
