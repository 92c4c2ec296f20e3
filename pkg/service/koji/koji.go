// Package koji talks to a Koji-style build system: a tagged build
// repository that can also run new builds against named targets.
package koji

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/hashicorp/go-hclog"
	"github.com/mitchellh/mapstructure"

	"github.com/scl-tools/rpmrh/pkg/build"
	"github.com/scl-tools/rpmrh/pkg/rpm"
	"github.com/scl-tools/rpmrh/pkg/service"
)

// TypeName is the name this backend registers under in the service
// type registry.
const TypeName = "koji"

// Config carries the per-instance settings from the service
// registration record.
type Config struct {
	// Server is the XML-RPC endpoint of the hub.
	Server string `mapstructure:"server"`
	// TopURL is the base URL packages are downloadable from.
	TopURL string `mapstructure:"topurl"`
	// Cert is the client certificate used for sslLogin.
	Cert string `mapstructure:"cert"`
	// CA is the certificate authority bundle for the hub.
	CA string `mapstructure:"ca"`

	TagPrefixes    []string `mapstructure:"tag_prefixes"`
	TargetPrefixes []string `mapstructure:"target_prefixes"`
}

// Service is one configured koji instance.
type Service struct {
	l       hclog.Logger
	conf    Config
	session Session
	web     *http.Client
}

// Register makes the koji type constructible from configuration.
func Register(r *service.TypeRegistry) error {
	return r.Register(TypeName, New)
}

// New constructs a Service from its registration record.
func New(l hclog.Logger, conf service.Registration) (service.Service, error) {
	var cfg Config
	if err := mapstructure.Decode(map[string]any(conf), &cfg); err != nil {
		return nil, fmt.Errorf("koji configuration: %w", err)
	}
	if cfg.Server == "" {
		return nil, errors.New("koji configuration: server must be set")
	}

	session, err := newXMLRPCSession(cfg.Server, cfg.Cert, cfg.CA)
	if err != nil {
		return nil, err
	}

	return &Service{
		l:       l.Named(TypeName),
		conf:    cfg,
		session: session,
		web:     http.DefaultClient,
	}, nil
}

func (s *Service) Type() string { return TypeName }

// TagPrefixes reports the tag prefixes this instance claims.
func (s *Service) TagPrefixes() []string { return s.conf.TagPrefixes }

// TargetPrefixes reports the target prefixes this instance claims.
func (s *Service) TargetPrefixes() []string { return s.conf.TargetPrefixes }

// WithSession runs fn inside an authenticated hub session.  The
// logout happens on every exit path.
func (s *Service) WithSession(ctx context.Context, fn func(context.Context) error) error {
	if err := s.session.Login(ctx); err != nil {
		return fmt.Errorf("logging into %s: %w", s.conf.Server, err)
	}
	defer func() {
		if err := s.session.Logout(context.WithoutCancel(ctx)); err != nil {
			s.l.Warn("Error logging out", "server", s.conf.Server, "error", err)
		}
	}()
	return fn(ctx)
}

// LatestBuilds lists the most recent build of every package in a tag.
// The hub's own latest filtering is not trusted; the result is
// deduplicated locally.
func (s *Service) LatestBuilds(ctx context.Context, tag string) ([]rpm.Metadata, error) {
	raw, err := s.session.ListTagged(ctx, tag)
	if err != nil {
		return nil, err
	}

	builds := make([]rpm.Metadata, 0, len(raw))
	for _, b := range raw {
		builds = append(builds, metadataFromBuild(b))
	}
	return rpm.LatestOnly(builds), nil
}

// Download fetches the single rpm exactly matching pkg into dir and
// returns the local path.
func (s *Service) Download(ctx context.Context, pkg rpm.Metadata, dir string) (string, error) {
	built, err := s.findBuild(ctx, pkg)
	if err != nil {
		return "", err
	}

	rpms, err := s.session.ListRPMs(ctx, built.ID, pkg.Arch)
	if err != nil {
		return "", err
	}

	var matches []rpmInfo
	for _, candidate := range rpms {
		if metadataFromRPM(candidate).NEVRA() == pkg.NEVRA() {
			matches = append(matches, candidate)
		}
	}
	switch len(matches) {
	case 1:
	case 0:
		return "", service.ErrNoMatch{NEVRA: pkg.NEVRA()}
	default:
		return "", service.ErrAmbiguousMatch{NEVRA: pkg.NEVRA(), Count: len(matches)}
	}

	url := s.rpmURL(built, matches[0])
	target := filepath.Join(dir, path.Base(url))
	if err := s.fetch(ctx, url, target); err != nil {
		return "", err
	}
	return target, nil
}

// Build runs a remote build of src against target.  See the task
// controller for the lifecycle; a failed build comes back as
// service.BuildFailure.
func (s *Service) Build(ctx context.Context, target string, src rpm.LocalPackage) (rpm.BuiltPackage, error) {
	task := build.NewTask(s.l, s, target, src)
	return task.Run(ctx)
}

// TagBuild adds an existing build to a tag.  The hub treats repeated
// tagging of the same build as a fault mentioning the existing tag;
// that case is swallowed, so the call is idempotent for callers.
func (s *Service) TagBuild(ctx context.Context, tag string, b rpm.BuiltPackage, owner string) (rpm.BuiltPackage, error) {
	if owner != "" {
		if err := s.session.PackageListAdd(ctx, tag, b.Name, owner); err != nil {
			return b, fmt.Errorf("adding %s to package list of %s: %w", b.Name, tag, err)
		}
	}

	err := s.session.TagBuild(ctx, tag, b.NVR())
	var fault *GenericError
	if errors.As(err, &fault) && strings.Contains(fault.Message, "already tagged") {
		s.l.Debug("Build already tagged", "build", b.NVR(), "tag", tag)
		return b, nil
	}
	if err != nil {
		return b, err
	}
	return b, nil
}

// Broker implementation: the hub side of the build task lifecycle.

// Upload transfers a local file to the remote path computed by the
// task controller.
func (s *Service) Upload(ctx context.Context, localPath, remotePath string) error {
	return s.session.Upload(ctx, localPath, path.Dir(remotePath))
}

// ResolveTarget validates the target name against the hub.
func (s *Service) ResolveTarget(ctx context.Context, target string) (build.TargetInfo, error) {
	info, err := s.session.GetBuildTarget(ctx, target)
	if err != nil {
		return build.TargetInfo{}, err
	}
	if info == nil {
		return build.TargetInfo{}, service.ErrUnknownTarget{Target: target}
	}
	return build.TargetInfo{Name: info.Name, ID: info.ID}, nil
}

// Submit queues the uploaded package for building.
func (s *Service) Submit(ctx context.Context, remotePath string, target build.TargetInfo) (int, error) {
	return s.session.Build(ctx, remotePath, target.Name)
}

// TaskState maps hub task states onto the controller lifecycle.
func (s *Service) TaskState(ctx context.Context, taskID int) (build.State, error) {
	info, err := s.session.GetTaskInfo(ctx, taskID)
	if err != nil {
		return build.StateFailed, err
	}

	switch info.State {
	case taskFree, taskAssigned:
		return build.StateQueued, nil
	case taskOpen:
		return build.StatePolling, nil
	case taskClosed:
		return build.StateClosed, nil
	case taskCanceled:
		return build.StateCanceled, nil
	case taskFailed:
		return build.StateFailed, nil
	default:
		return build.StateFailed, fmt.Errorf("hub reported unknown task state %d", info.State)
	}
}

// FailureReason extracts the hub's explanation for a failed task.
func (s *Service) FailureReason(ctx context.Context, taskID int) (string, error) {
	err := s.session.GetTaskResult(ctx, taskID)
	if err == nil {
		return "", fmt.Errorf("task %d reported no failure", taskID)
	}
	var fault *GenericError
	if errors.As(err, &fault) {
		return fault.Reason(), nil
	}
	return "", err
}

// FinishedBuild re-queries the authoritative record of a finished
// build.
func (s *Service) FinishedBuild(ctx context.Context, pkg rpm.Metadata) (rpm.BuiltPackage, error) {
	built, err := s.findBuild(ctx, pkg)
	if err != nil {
		return rpm.BuiltPackage{}, err
	}
	return built, nil
}

func (s *Service) findBuild(ctx context.Context, pkg rpm.Metadata) (rpm.BuiltPackage, error) {
	raw, err := s.session.GetBuild(ctx, pkg.NVR())
	if err != nil {
		return rpm.BuiltPackage{}, err
	}
	if raw == nil {
		return rpm.BuiltPackage{}, service.ErrNoMatch{NEVRA: pkg.NEVRA()}
	}

	meta := metadataFromBuild(*raw)
	meta.Arch = pkg.Arch
	return rpm.BuiltPackage{Metadata: meta, ID: raw.ID}, nil
}

// rpmURL follows the koji path layout:
// topurl/packages/<name>/<version>/<release>/<arch>/<n-v-r.a>.rpm
func (s *Service) rpmURL(b rpm.BuiltPackage, r rpmInfo) string {
	file := fmt.Sprintf("%s-%s-%s.%s.rpm", r.Name, r.Version, r.Release, r.Arch)
	return strings.Join([]string{
		strings.TrimSuffix(s.conf.TopURL, "/"),
		"packages", b.Name, b.Version, b.Release, r.Arch, file,
	}, "/")
}

func (s *Service) fetch(ctx context.Context, url, target string) error {
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

func metadataFromBuild(b buildInfo) rpm.Metadata {
	return rpm.Metadata{
		Name:    b.Name,
		Version: b.Version,
		Release: b.Release,
		Epoch:   b.Epoch,
		Arch:    "src",
	}
}

func metadataFromRPM(r rpmInfo) rpm.Metadata {
	return rpm.Metadata{
		Name:    r.Name,
		Version: r.Version,
		Release: r.Release,
		Epoch:   r.Epoch,
		Arch:    r.Arch,
	}
}
