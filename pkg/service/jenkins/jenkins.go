// Package jenkins reads build artifacts off a Jenkins server.  Tags
// map onto job names through a configurable format; the artifacts of
// the last successful run are presented as the tag's package list.
package jenkins

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/hashicorp/go-hclog"
	"github.com/mitchellh/mapstructure"

	"github.com/scl-tools/rpmrh/pkg/rpm"
	"github.com/scl-tools/rpmrh/pkg/service"
)

// TypeName is the name this backend registers under in the service
// type registry.
const TypeName = "jenkins"

// Config carries the per-instance settings from the service
// registration record.
type Config struct {
	// URL is the base URL of the Jenkins server.
	URL string `mapstructure:"url"`

	// JobNameFormat maps a tag to a job name; the {tag} placeholder
	// is replaced with the queried tag.
	JobNameFormat string `mapstructure:"job_name_format"`

	TagPrefixes []string `mapstructure:"tag_prefixes"`
}

// Server is one configured Jenkins instance.
type Server struct {
	l    hclog.Logger
	conf Config
	web  *http.Client
}

// Register makes the jenkins type constructible from configuration.
func Register(r *service.TypeRegistry) error {
	return r.Register(TypeName, New)
}

// New constructs a Server from its registration record.
func New(l hclog.Logger, conf service.Registration) (service.Service, error) {
	var cfg Config
	if err := mapstructure.Decode(map[string]any(conf), &cfg); err != nil {
		return nil, fmt.Errorf("jenkins configuration: %w", err)
	}
	if cfg.URL == "" {
		return nil, fmt.Errorf("jenkins configuration: url must be set")
	}
	if cfg.JobNameFormat == "" {
		cfg.JobNameFormat = "{tag}"
	}

	return &Server{
		l:    l.Named(TypeName),
		conf: cfg,
		web:  http.DefaultClient,
	}, nil
}

func (s *Server) Type() string { return TypeName }

// TagPrefixes reports the tag prefixes this instance claims.
func (s *Server) TagPrefixes() []string { return s.conf.TagPrefixes }

// JobName maps a tag to the Jenkins job responsible for it.
func (s *Server) JobName(tag string) string {
	return strings.ReplaceAll(s.conf.JobNameFormat, "{tag}", tag)
}

type artifact struct {
	FileName     string `json:"fileName"`
	RelativePath string `json:"relativePath"`
}

type buildRecord struct {
	Number    int        `json:"number"`
	Artifacts []artifact `json:"artifacts"`
}

// LatestBuilds lists the rpm artifacts of the job's last successful
// run, reduced to the highest version per package name.
func (s *Server) LatestBuilds(ctx context.Context, tag string) ([]rpm.Metadata, error) {
	record, err := s.lastSuccessful(ctx, s.JobName(tag))
	if err != nil {
		return nil, err
	}

	var builds []rpm.Metadata
	for _, a := range record.Artifacts {
		if !strings.HasSuffix(a.FileName, ".rpm") {
			continue
		}
		meta, err := rpm.ParseNEVRA(strings.TrimSuffix(a.FileName, ".rpm"))
		if err != nil {
			s.l.Warn("Skipping unparsable artifact", "artifact", a.FileName, "error", err)
			continue
		}
		builds = append(builds, meta)
	}
	return rpm.LatestOnly(builds), nil
}

// Download fetches the artifact exactly matching pkg into dir and
// returns the local path.  The job is derived from the package name,
// which works because jobs are tag-scoped.
func (s *Server) Download(ctx context.Context, pkg rpm.Metadata, dir string) (string, error) {
	job := s.JobName(s.tagFor(pkg))
	record, err := s.lastSuccessful(ctx, job)
	if err != nil {
		return "", err
	}

	var matches []artifact
	for _, a := range record.Artifacts {
		if !strings.HasSuffix(a.FileName, ".rpm") {
			continue
		}
		meta, err := rpm.ParseNEVRA(strings.TrimSuffix(a.FileName, ".rpm"))
		if err != nil {
			continue
		}
		if meta.NEVRA() == pkg.NEVRA() {
			matches = append(matches, a)
		}
	}
	switch len(matches) {
	case 1:
	case 0:
		return "", service.ErrNoMatch{NEVRA: pkg.NEVRA()}
	default:
		return "", service.ErrAmbiguousMatch{NEVRA: pkg.NEVRA(), Count: len(matches)}
	}

	url := fmt.Sprintf("%s/job/%s/lastSuccessfulBuild/artifact/%s",
		strings.TrimSuffix(s.conf.URL, "/"), job, matches[0].RelativePath)
	target := filepath.Join(dir, path.Base(matches[0].RelativePath))
	if err := s.fetch(ctx, url, target); err != nil {
		return "", err
	}
	return target, nil
}

// tagFor picks the claimed prefix covering the package name; jobs are
// keyed by that prefix.
func (s *Server) tagFor(pkg rpm.Metadata) string {
	for _, prefix := range s.conf.TagPrefixes {
		if strings.HasPrefix(pkg.Name, prefix) {
			return prefix
		}
	}
	return pkg.Name
}

func (s *Server) lastSuccessful(ctx context.Context, job string) (*buildRecord, error) {
	url := fmt.Sprintf("%s/job/%s/lastSuccessfulBuild/api/json",
		strings.TrimSuffix(s.conf.URL, "/"), job)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.web.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, service.ErrUnknownJob{Job: job}
	default:
		return nil, service.ErrHTTP{URL: url, Status: resp.Status, Code: resp.StatusCode}
	}

	var record buildRecord
	if err := json.NewDecoder(resp.Body).Decode(&record); err != nil {
		return nil, fmt.Errorf("parsing build record of %s: %w", job, err)
	}
	return &record, nil
}

func (s *Server) fetch(ctx context.Context, url, target string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := s.web.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return service.ErrHTTP{URL: url, Status: resp.Status, Code: resp.StatusCode}
	}

	f, err := os.Create(target)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := io.Copy(f, resp.Body); err != nil {
		return fmt.Errorf("writing %s: %w", target, err)
	}
	return nil
}
