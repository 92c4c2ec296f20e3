package service

import (
	"github.com/hashicorp/go-hclog"
)

// Key attribute names under which services are indexed.
const (
	AttrTag    = "tag"
	AttrTarget = "target"
)

// Filter restricts index lookup candidates.  A candidate survives
// when the filter returns true.
type Filter func(Service) bool

// RepositoriesOnly keeps candidates implementing Repository.
func RepositoriesOnly(s Service) bool {
	_, ok := s.(Repository)
	return ok
}

// BuildersOnly keeps candidates implementing Builder.
func BuildersOnly(s Service) bool {
	_, ok := s.(Builder)
	return ok
}

// PrefixIndex maps group name prefixes to the service instance
// responsible for them.  Lookups return the instance registered under
// the longest matching prefix, so more specific registrations win.
type PrefixIndex struct {
	attribute string
	services  map[string]Service
}

// NewPrefixIndex returns an empty index for the named key attribute.
func NewPrefixIndex(attribute string) *PrefixIndex {
	return &PrefixIndex{
		attribute: attribute,
		services:  make(map[string]Service),
	}
}

// Insert registers svc under prefix.  An exact duplicate prefix is
// overwritten, last writer wins.
func (i *PrefixIndex) Insert(prefix string, svc Service) {
	i.services[prefix] = svc
}

// Len reports the number of registered prefixes.
func (i *PrefixIndex) Len() int {
	return len(i.services)
}

// Find returns the service registered under the longest prefix of key
// that survives all filters.  It fails with ErrNotFound when no
// matching prefix survives.
func (i *PrefixIndex) Find(key string, filters ...Filter) (Service, error) {
candidates:
	for l := len(key); l >= 0; l-- {
		svc, ok := i.services[key[:l]]
		if !ok {
			continue
		}
		for _, keep := range filters {
			if !keep(svc) {
				continue candidates
			}
		}
		return svc, nil
	}
	return nil, ErrNotFound{Attribute: i.attribute, Key: key}
}

// prefixSource reads the claimed prefix set of a service for one key
// attribute.  Services without the relevant capability claim nothing.
var prefixSource = map[string]func(Service) []string{
	AttrTag: func(s Service) []string {
		if r, ok := s.(Repository); ok {
			return r.TagPrefixes()
		}
		return nil
	},
	AttrTarget: func(s Service) []string {
		if b, ok := s.(Builder); ok {
			return b.TargetPrefixes()
		}
		return nil
	},
}

// IndexGroup holds one PrefixIndex per key attribute and distributes
// configured services into all of them.  It is built once at startup
// and read-only afterward.
type IndexGroup struct {
	l       hclog.Logger
	indexes map[string]*PrefixIndex
}

// NewIndexGroup returns an IndexGroup with an index per known key
// attribute.
func NewIndexGroup(l hclog.Logger) *IndexGroup {
	g := IndexGroup{
		l:       l.Named("registry"),
		indexes: make(map[string]*PrefixIndex, len(prefixSource)),
	}
	for attr := range prefixSource {
		g.indexes[attr] = NewPrefixIndex(attr)
	}
	return &g
}

// Distribute inserts every service under each prefix it claims, for
// every key attribute.  A service claiming no prefixes at all is
// accepted but will never be found; this is logged as a likely
// configuration mistake.
func (g *IndexGroup) Distribute(services ...Service) {
	for _, svc := range services {
		claimed := 0
		for attr, prefixes := range prefixSource {
			for _, prefix := range prefixes(svc) {
				g.indexes[attr].Insert(prefix, svc)
				claimed++
			}
		}
		if claimed == 0 {
			g.l.Warn("Service claims no group prefixes and will be unreachable", "type", svc.Type())
		}
	}
}

// Find resolves a full group name to the responsible service within
// one key attribute index.
func (g *IndexGroup) Find(attribute, key string, filters ...Filter) (Service, error) {
	idx, ok := g.indexes[attribute]
	if !ok {
		return nil, ErrNotFound{Attribute: attribute, Key: key}
	}
	return idx.Find(key, filters...)
}

// FindRepository resolves key within the tag index to a Repository.
func (g *IndexGroup) FindRepository(key string) (Repository, error) {
	svc, err := g.Find(AttrTag, key, RepositoriesOnly)
	if err != nil {
		return nil, err
	}
	return svc.(Repository), nil
}

// FindBuilder resolves key within the target index to a Builder.
func (g *IndexGroup) FindBuilder(key string) (Builder, error) {
	svc, err := g.Find(AttrTarget, key, BuildersOnly)
	if err != nil {
		return nil, err
	}
	return svc.(Builder), nil
}

// AllServices returns the identity-deduplicated union of services
// across all indexes.  Intended for reporting, not the hot path.
func (g *IndexGroup) AllServices() []Service {
	seen := make(map[Service]struct{})
	var all []Service
	for _, idx := range g.indexes {
		for _, svc := range idx.services {
			if _, ok := seen[svc]; ok {
				continue
			}
			seen[svc] = struct{}{}
			all = append(all, svc)
		}
	}
	return all
}
