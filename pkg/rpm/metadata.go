package rpm

import (
	"fmt"
	"strconv"
	"strings"

	rpmver "github.com/knqyf263/go-rpm-version"
)

// Metadata identifies a single RPM package.  Values are immutable
// once constructed and safe to use as map keys.
type Metadata struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
	Release string `yaml:"release"`
	Epoch   int    `yaml:"epoch,omitempty"`
	Arch    string `yaml:"arch,omitempty"`
}

// NVR returns the Name-Version-Release string for the package.
func (m Metadata) NVR() string {
	return fmt.Sprintf("%s-%s-%s", m.Name, m.Version, m.Release)
}

// NEVRA returns the canonical Name-Epoch:Version-Release.Architecture
// identity string.
func (m Metadata) NEVRA() string {
	arch := m.Arch
	if arch == "" {
		arch = "src"
	}
	return fmt.Sprintf("%s-%d:%s-%s.%s", m.Name, m.Epoch, m.Version, m.Release, arch)
}

func (m Metadata) String() string {
	return m.NEVRA()
}

// EVR returns the epoch:version-release string understood by the
// version comparison routine.
func (m Metadata) EVR() string {
	return fmt.Sprintf("%d:%s-%s", m.Epoch, m.Version, m.Release)
}

// Compare orders two packages.  Packages with differing names compare
// lexicographically by name; packages with the same name compare by
// (epoch, version, release) under rpm version semantics.
func (m Metadata) Compare(other Metadata) int {
	if m.Name != other.Name {
		return strings.Compare(m.Name, other.Name)
	}
	return rpmver.NewVersion(m.EVR()).Compare(rpmver.NewVersion(other.EVR()))
}

// Less reports whether m sorts before other.
func (m Metadata) Less(other Metadata) bool {
	return m.Compare(other) < 0
}

// ParseNEVRA constructs a Metadata from its canonical string form, as
// produced by NEVRA.  The epoch segment is optional.
func ParseNEVRA(s string) (Metadata, error) {
	var m Metadata

	dot := strings.LastIndex(s, ".")
	if dot < 0 {
		return m, fmt.Errorf("malformed nevra %q: missing arch", s)
	}
	m.Arch = s[dot+1:]
	rest := s[:dot]

	dash := strings.LastIndex(rest, "-")
	if dash < 0 {
		return m, fmt.Errorf("malformed nevra %q: missing release", s)
	}
	m.Release = rest[dash+1:]
	rest = rest[:dash]

	dash = strings.LastIndex(rest, "-")
	if dash < 0 {
		return m, fmt.Errorf("malformed nevra %q: missing version", s)
	}
	ev := rest[dash+1:]
	m.Name = rest[:dash]

	if colon := strings.Index(ev, ":"); colon >= 0 {
		epoch, err := strconv.Atoi(ev[:colon])
		if err != nil {
			return m, fmt.Errorf("malformed nevra %q: bad epoch: %w", s, err)
		}
		m.Epoch = epoch
		ev = ev[colon+1:]
	}
	m.Version = ev

	if m.Name == "" || m.Version == "" {
		return m, fmt.Errorf("malformed nevra %q", s)
	}
	return m, nil
}

// LatestOnly reduces a build list to the highest-versioned build per
// package name.  The input is not assumed to be sorted or
// de-duplicated.
func LatestOnly(builds []Metadata) []Metadata {
	latest := make(map[string]Metadata, len(builds))
	order := make([]string, 0, len(builds))

	for _, b := range builds {
		prev, seen := latest[b.Name]
		if !seen {
			order = append(order, b.Name)
			latest[b.Name] = b
			continue
		}
		if prev.Compare(b) < 0 {
			latest[b.Name] = b
		}
	}

	out := make([]Metadata, 0, len(order))
	for _, name := range order {
		out = append(out, latest[name])
	}
	return out
}
