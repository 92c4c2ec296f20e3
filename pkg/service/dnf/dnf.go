// Package dnf serves package metadata out of a group of DNF-style
// repositories described by createrepo repodata.  It is a read-only
// backend: packages can be listed and downloaded, never built.
package dnf

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/mitchellh/mapstructure"
	gocache "github.com/patrickmn/go-cache"

	"github.com/scl-tools/rpmrh/pkg/rpm"
	"github.com/scl-tools/rpmrh/pkg/service"
	"github.com/scl-tools/rpmrh/pkg/source"
)

// TypeName is the name this backend registers under in the service
// type registry.
const TypeName = "dnf"

// RepoConfig describes one repository within the group.  The
// repository name doubles as the tag prefix the group claims.
type RepoConfig struct {
	Name    string `mapstructure:"name"`
	BaseURL string `mapstructure:"baseurl"`
}

// Config carries the per-instance settings from the service
// registration record.
type Config struct {
	Repos []RepoConfig `mapstructure:"repos"`

	// Git, when set, keeps a local repository directory synced
	// from a git remote before any metadata is read.
	Git *source.Config `mapstructure:"git"`

	// CacheTTL bounds how long parsed repodata is reused.
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
}

// DefaultCacheTTL is used when the configuration does not set one.
const DefaultCacheTTL = 15 * time.Minute

// RepoGroup is one configured group of DNF repositories.
type RepoGroup struct {
	l    hclog.Logger
	conf Config
	web  *http.Client

	checkout *source.Checkout
	index    *gocache.Cache
}

// Register makes the dnf type constructible from configuration.
func Register(r *service.TypeRegistry) error {
	return r.Register(TypeName, New)
}

// New constructs a RepoGroup from its registration record.
func New(l hclog.Logger, conf service.Registration) (service.Service, error) {
	var cfg Config
	if err := mapstructure.Decode(map[string]any(conf), &cfg); err != nil {
		return nil, fmt.Errorf("dnf configuration: %w", err)
	}
	if len(cfg.Repos) == 0 {
		return nil, fmt.Errorf("dnf configuration: at least one repository is required")
	}
	if cfg.CacheTTL == 0 {
		cfg.CacheTTL = DefaultCacheTTL
	}

	g := RepoGroup{
		l:     l.Named(TypeName),
		conf:  cfg,
		web:   http.DefaultClient,
		index: gocache.New(cfg.CacheTTL, 2*cfg.CacheTTL),
	}
	if cfg.Git != nil {
		g.checkout = source.New(g.l, *cfg.Git)
	}
	return &g, nil
}

func (g *RepoGroup) Type() string { return TypeName }

// TagPrefixes presents the repository names as the claimed tag
// prefixes.
func (g *RepoGroup) TagPrefixes() []string {
	prefixes := make([]string, 0, len(g.conf.Repos))
	for _, repo := range g.conf.Repos {
		prefixes = append(prefixes, repo.Name)
	}
	return prefixes
}

// LatestBuilds lists the highest-versioned build per package name
// across the repositories matching the tag.
func (g *RepoGroup) LatestBuilds(ctx context.Context, tag string) ([]rpm.Metadata, error) {
	var builds []rpm.Metadata
	matched := false

	for _, repo := range g.conf.Repos {
		if !strings.HasPrefix(tag, repo.Name) {
			continue
		}
		matched = true

		entries, err := g.repoIndex(ctx, repo)
		if err != nil {
			return nil, err
		}
		for _, entry := range entries {
			builds = append(builds, metadataFromEntry(entry))
		}
	}

	if !matched {
		return nil, service.ErrNotFound{Attribute: service.AttrTag, Key: tag}
	}
	return rpm.LatestOnly(builds), nil
}

// Download fetches the single package exactly matching pkg into dir
// and returns the local path.
func (g *RepoGroup) Download(ctx context.Context, pkg rpm.Metadata, dir string) (string, error) {
	type match struct {
		base string
		href string
	}
	var matches []match

	for _, repo := range g.conf.Repos {
		entries, err := g.repoIndex(ctx, repo)
		if err != nil {
			return "", err
		}
		for _, entry := range entries {
			if metadataFromEntry(entry).NEVRA() == pkg.NEVRA() {
				matches = append(matches, match{base: repo.BaseURL, href: entry.Location.Href})
			}
		}
	}

	switch len(matches) {
	case 1:
	case 0:
		return "", service.ErrNoMatch{NEVRA: pkg.NEVRA()}
	default:
		return "", service.ErrAmbiguousMatch{NEVRA: pkg.NEVRA(), Count: len(matches)}
	}

	url := joinURL(matches[0].base, matches[0].href)
	target := filepath.Join(dir, path.Base(matches[0].href))
	if err := g.fetchFileTo(ctx, url, target); err != nil {
		return "", err
	}
	return target, nil
}

// repoIndex returns the parsed package list of one repository, served
// from the TTL cache when fresh.
func (g *RepoGroup) repoIndex(ctx context.Context, repo RepoConfig) ([]packageEntry, error) {
	if cached, ok := g.index.Get(repo.Name); ok {
		return cached.([]packageEntry), nil
	}

	if g.checkout != nil && strings.HasPrefix(repo.BaseURL, "file://") {
		if err := g.checkout.Sync(ctx); err != nil {
			return nil, fmt.Errorf("syncing repo checkout: %w", err)
		}
	}

	g.l.Debug("Loading repodata", "repo", repo.Name, "baseurl", repo.BaseURL)
	entries, err := g.loadIndex(ctx, repo.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("loading repodata for %s: %w", repo.Name, err)
	}

	g.index.SetDefault(repo.Name, entries)
	g.l.Debug("Loaded repodata", "repo", repo.Name, "packages", len(entries))
	return entries, nil
}

func (g *RepoGroup) fetchFileTo(ctx context.Context, url, target string) error {
	var body io.ReadCloser

	switch {
	case strings.HasPrefix(url, "http"):
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}
		resp, err := g.web.Do(req)
		if err != nil {
			return err
		}
		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			return httpError(url, resp)
		}
		body = resp.Body
	case strings.HasPrefix(url, "file://"):
		f, err := os.Open(strings.TrimPrefix(url, "file://"))
		if err != nil {
			return err
		}
		body = f
	default:
		return fmt.Errorf("package URL %q: scheme must be file or http(s)", url)
	}
	defer body.Close()

	f, err := os.Create(target)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := io.Copy(f, body); err != nil {
		return fmt.Errorf("writing %s: %w", target, err)
	}
	return nil
}

func httpError(url string, resp *http.Response) error {
	return service.ErrHTTP{URL: url, Status: resp.Status, Code: resp.StatusCode}
}

func metadataFromEntry(e packageEntry) rpm.Metadata {
	return rpm.Metadata{
		Name:    e.Name,
		Version: e.Version.Version,
		Release: e.Version.Release,
		Epoch:   e.Version.Epoch,
		Arch:    e.Arch,
	}
}
