package rpm

import (
	"fmt"
	"path/filepath"
	"strings"
)

// BuiltPackage is a build known to a backend service.  On top of the
// plain metadata it carries the backend-assigned build ID and the
// software collection the build belongs to.
type BuiltPackage struct {
	Metadata `yaml:",inline"`

	ID  int    `yaml:"id"`
	SCL string `yaml:"scl,omitempty"`
}

// LocalPackage is a package payload present on the local filesystem,
// usually the result of a download or the input of a build.
type LocalPackage struct {
	Metadata

	Path string
}

// NewLocalPackage derives package metadata from the file name of an
// rpm on disk.  File names carry no epoch, so the epoch of the result
// is always zero.
func NewLocalPackage(path string) (LocalPackage, error) {
	base := strings.TrimSuffix(filepath.Base(path), ".rpm")

	meta, err := ParseNEVRA(base)
	if err != nil {
		return LocalPackage{}, fmt.Errorf("cannot identify package at %s: %w", path, err)
	}
	return LocalPackage{Metadata: meta, Path: path}, nil
}
