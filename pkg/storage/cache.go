package storage

import (
	"encoding/json"
	"path"

	"github.com/hashicorp/go-hclog"

	"github.com/scl-tools/rpmrh/pkg/rpm"
)

// BuildCache records finished builds keyed by NEVRA so that re-runs
// of the same batch skip packages that already built successfully.
type BuildCache struct {
	l hclog.Logger
	s Storage
}

// NewBuildCache wraps a store with the build result mapping.
func NewBuildCache(l hclog.Logger, s Storage) *BuildCache {
	return &BuildCache{
		l: l.Named("buildcache"),
		s: s,
	}
}

func cacheKey(nevra string) []byte {
	return []byte(path.Join("build", nevra))
}

// Get looks up a previously recorded build.
func (c *BuildCache) Get(nevra string) (rpm.BuiltPackage, bool) {
	var built rpm.BuiltPackage

	raw, err := c.s.Get(cacheKey(nevra))
	if err != nil || raw == nil {
		return built, false
	}
	if err := json.Unmarshal(raw, &built); err != nil {
		c.l.Warn("Discarding unreadable cache entry", "nevra", nevra, "error", err)
		return built, false
	}
	return built, true
}

// Put records a finished build.  Failures are logged, not fatal: the
// cache is an optimization, not a source of truth.
func (c *BuildCache) Put(built rpm.BuiltPackage) {
	raw, err := json.Marshal(built)
	if err != nil {
		c.l.Warn("Error serializing cache entry", "nevra", built.NEVRA(), "error", err)
		return
	}
	if err := c.s.Put(cacheKey(built.NEVRA()), raw); err != nil {
		c.l.Warn("Error writing cache entry", "nevra", built.NEVRA(), "error", err)
	}
}

// Close releases the underlying store.
func (c *BuildCache) Close() error {
	return c.s.Close()
}
