// Package nomad runs package builds as dispatched Nomad batch jobs.
// The build target names a parameterized job; the source package is
// staged into a directory shared with the build clients.
package nomad

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/nomad/api"
	"github.com/mitchellh/mapstructure"

	"github.com/scl-tools/rpmrh/pkg/build"
	"github.com/scl-tools/rpmrh/pkg/rpm"
	"github.com/scl-tools/rpmrh/pkg/service"
)

// TypeName is the name this backend registers under in the service
// type registry.
const TypeName = "nomad"

// Config carries the per-instance settings from the service
// registration record.  Cluster location and credentials come from
// the standard NOMAD_* environment, matching the nomad CLI.
type Config struct {
	// StagingDir is a directory shared with the build clients that
	// uploaded source packages are placed into.
	StagingDir string `mapstructure:"staging_dir"`

	TargetPrefixes []string `mapstructure:"target_prefixes"`
}

// Provider dispatches builds onto a Nomad cluster.
type Provider struct {
	l    hclog.Logger
	conf Config
	c    *api.Client

	mu       sync.Mutex
	nextTask int
	// Broker task ids are ints; nomad job ids are strings.
	dispatched map[int]string
}

// Register makes the nomad type constructible from configuration.
func Register(r *service.TypeRegistry) error {
	return r.Register(TypeName, New)
}

// New constructs a Provider from its registration record.
func New(l hclog.Logger, conf service.Registration) (service.Service, error) {
	var cfg Config
	if err := mapstructure.Decode(map[string]any(conf), &cfg); err != nil {
		return nil, fmt.Errorf("nomad configuration: %w", err)
	}
	if cfg.StagingDir == "" {
		return nil, fmt.Errorf("nomad configuration: staging_dir must be set")
	}

	c, err := api.NewClient(api.DefaultConfig())
	if err != nil {
		return nil, err
	}

	return &Provider{
		l:          l.Named(TypeName),
		conf:       cfg,
		c:          c,
		dispatched: make(map[int]string),
	}, nil
}

func (p *Provider) Type() string { return TypeName }

// TargetPrefixes reports the target prefixes this instance claims.
func (p *Provider) TargetPrefixes() []string { return p.conf.TargetPrefixes }

// Build dispatches a build of src against the parameterized job named
// by target and waits for it to finish.
func (p *Provider) Build(ctx context.Context, target string, src rpm.LocalPackage) (rpm.BuiltPackage, error) {
	task := build.NewTask(p.l, p, target, src)
	return task.Run(ctx)
}

// TagBuild is a no-op: a Nomad cluster has no tag store.  The build
// is returned unchanged so repeated calls are trivially idempotent.
func (p *Provider) TagBuild(_ context.Context, tag string, b rpm.BuiltPackage, _ string) (rpm.BuiltPackage, error) {
	p.l.Debug("Nomad has no tag store, ignoring tag request", "build", b.NVR(), "tag", tag)
	return b, nil
}

// Broker implementation.

// Upload copies the source package into the shared staging directory.
func (p *Provider) Upload(_ context.Context, localPath, remotePath string) error {
	target := filepath.Join(p.conf.StagingDir, filepath.FromSlash(remotePath))
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}

	in, err := os.Open(localPath)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(target)
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, in)
	return err
}

// ResolveTarget checks that the parameterized job exists on the
// cluster.
func (p *Provider) ResolveTarget(_ context.Context, target string) (build.TargetInfo, error) {
	job, _, err := p.c.Jobs().Info(target, nil)
	if err != nil || job == nil {
		return build.TargetInfo{}, service.ErrUnknownTarget{Target: target}
	}
	return build.TargetInfo{Name: *job.ID}, nil
}

// Submit dispatches the job with the staged package location in its
// meta block.
func (p *Provider) Submit(_ context.Context, remotePath string, target build.TargetInfo) (int, error) {
	meta := map[string]string{
		"srpm": filepath.Join(p.conf.StagingDir, filepath.FromSlash(remotePath)),
	}
	res, _, err := p.c.Jobs().Dispatch(target.Name, meta, nil, nil)
	if err != nil {
		return 0, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.nextTask++
	p.dispatched[p.nextTask] = res.DispatchedJobID
	p.l.Debug("Dispatched build job", "job", res.DispatchedJobID, "eval", res.EvalID)
	return p.nextTask, nil
}

// TaskState maps the dispatched job status onto the task lifecycle.
func (p *Provider) TaskState(_ context.Context, taskID int) (build.State, error) {
	jobID, err := p.jobID(taskID)
	if err != nil {
		return build.StateFailed, err
	}

	job, _, err := p.c.Jobs().Info(jobID, nil)
	if err != nil {
		return build.StateFailed, err
	}
	if job.Status == nil {
		return build.StateQueued, nil
	}

	switch *job.Status {
	case "pending":
		return build.StateQueued, nil
	case "running":
		return build.StatePolling, nil
	case "dead":
		return p.finalState(jobID)
	default:
		return build.StateFailed, fmt.Errorf("dispatched job %s reported unknown status %q", jobID, *job.Status)
	}
}

// finalState distinguishes success from failure of a dead job via its
// allocation summary.
func (p *Provider) finalState(jobID string) (build.State, error) {
	summary, _, err := p.c.Jobs().Summary(jobID, nil)
	if err != nil {
		return build.StateFailed, err
	}

	var failed, complete int
	for _, tg := range summary.Summary {
		failed += tg.Failed
		complete += tg.Complete
	}
	if failed > 0 {
		return build.StateFailed, nil
	}
	if complete > 0 {
		return build.StateClosed, nil
	}
	return build.StateCanceled, nil
}

// FailureReason reports why the dispatched job died.
func (p *Provider) FailureReason(_ context.Context, taskID int) (string, error) {
	jobID, err := p.jobID(taskID)
	if err != nil {
		return "", err
	}

	allocs, _, err := p.c.Jobs().Allocations(jobID, false, nil)
	if err != nil {
		return "", err
	}
	for _, alloc := range allocs {
		if alloc.ClientStatus == "failed" {
			return "allocation " + alloc.ID + " failed", nil
		}
	}
	return "build job canceled", nil
}

// FinishedBuild echoes the source metadata back with the dispatch
// ordinal as the build id: a Nomad cluster keeps no build registry of
// its own.
func (p *Provider) FinishedBuild(_ context.Context, pkg rpm.Metadata) (rpm.BuiltPackage, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return rpm.BuiltPackage{Metadata: pkg, ID: p.nextTask}, nil
}

func (p *Provider) jobID(taskID int) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	jobID, ok := p.dispatched[taskID]
	if !ok {
		return "", fmt.Errorf("no dispatched job for task %d", taskID)
	}
	return jobID, nil
}
