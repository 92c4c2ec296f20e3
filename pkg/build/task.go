// Package build drives one remote package build end to end: upload
// the source, queue the build, poll until a terminal state and
// classify the outcome.
package build

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/scl-tools/rpmrh/pkg/rpm"
	"github.com/scl-tools/rpmrh/pkg/service"
)

// State is the lifecycle state of one build task.
type State int

const (
	StateUploading State = iota
	StateQueued
	StatePolling
	StateClosed
	StateCanceled
	StateFailed
)

var stateNames = map[State]string{
	StateUploading: "UPLOADING",
	StateQueued:    "QUEUED",
	StatePolling:   "POLLING",
	StateClosed:    "CLOSED",
	StateCanceled:  "CANCELED",
	StateFailed:    "FAILED",
}

func (s State) String() string {
	name, ok := stateNames[s]
	if !ok {
		return fmt.Sprintf("UNKNOWN(%d)", int(s))
	}
	return name
}

// Terminal reports whether no further transitions can happen from s.
func (s State) Terminal() bool {
	switch s {
	case StateClosed, StateCanceled, StateFailed:
		return true
	}
	return false
}

// TargetInfo is the backend's resolved form of a target name.
type TargetInfo struct {
	Name string
	ID   int
}

// Broker is the narrow backend surface the task controller drives.
// Implementations wrap whatever wire protocol their backend speaks.
type Broker interface {
	// Upload transfers a local file to the named remote path.
	Upload(ctx context.Context, localPath, remotePath string) error

	// ResolveTarget maps a target name to backend-specific target
	// info, or service.ErrUnknownTarget.
	ResolveTarget(ctx context.Context, target string) (TargetInfo, error)

	// Submit queues a build of the uploaded package and returns an
	// opaque task identifier.
	Submit(ctx context.Context, remotePath string, target TargetInfo) (int, error)

	// TaskState reports the current state of a queued task.
	TaskState(ctx context.Context, taskID int) (State, error)

	// FailureReason explains why a task ended in CANCELED or
	// FAILED, as a short human-readable string.
	FailureReason(ctx context.Context, taskID int) (string, error)

	// FinishedBuild re-queries the authoritative build record for
	// a successfully built package.
	FinishedBuild(ctx context.Context, pkg rpm.Metadata) (rpm.BuiltPackage, error)
}

// Event is one observable state change of a running task.
type Event struct {
	TaskID  int
	Package string
	State   State
}

// Notifier receives task state changes in the order they were
// observed.
type Notifier func(Event)

// DefaultPollInterval is used when no override is supplied.
const DefaultPollInterval = 5 * time.Second

// Task is the controller for a single build attempt.  It is created
// for one invocation and discarded after classification.
type Task struct {
	l      hclog.Logger
	broker Broker
	src    rpm.LocalPackage
	target string

	pollInterval time.Duration
	notify       Notifier
	clock        func() time.Time

	state  State
	taskID int
}

// Option adjusts task behavior at construction time.
type Option func(*Task)

// WithPollInterval overrides the status poll interval.
func WithPollInterval(d time.Duration) Option {
	return func(t *Task) {
		t.pollInterval = d
	}
}

// WithNotifier installs an observer for state changes.
func WithNotifier(n Notifier) Option {
	return func(t *Task) {
		t.notify = n
	}
}

// WithClock overrides the time source used for remote path
// generation.
func WithClock(clock func() time.Time) Option {
	return func(t *Task) {
		t.clock = clock
	}
}

// NewTask prepares a build of src against the named target.
func NewTask(l hclog.Logger, b Broker, target string, src rpm.LocalPackage, opts ...Option) *Task {
	t := Task{
		l:            l.Named("task"),
		broker:       b,
		src:          src,
		target:       target,
		pollInterval: DefaultPollInterval,
		clock:        time.Now,
		state:        StateUploading,
	}
	for _, opt := range opts {
		opt(&t)
	}
	return &t
}

// RemotePath computes a collision-free remote location for the source
// package, unique across concurrent builds of the same NEVRA.
func (t *Task) RemotePath() string {
	stamp := t.clock().UTC().Format("2006-01-02T15:04:05")
	return fmt.Sprintf("%s-%s/%s", stamp, t.src.NEVRA(), t.src.NVR()+".src.rpm")
}

// Run drives the task to a terminal state.
//
// A failed or canceled build returns service.BuildFailure; every
// other error is a transport or resolution problem and indicates the
// backend itself is misbehaving.  Cancellation is the caller's
// context deadline; there is no built-in retry.
func (t *Task) Run(ctx context.Context) (rpm.BuiltPackage, error) {
	var none rpm.BuiltPackage

	// UPLOADING -> QUEUED
	remotePath := t.RemotePath()
	t.l.Debug("Uploading package", "package", t.src.NEVRA(), "remote", remotePath)
	if err := t.broker.Upload(ctx, t.src.Path, remotePath); err != nil {
		return none, fmt.Errorf("uploading %s: %w", t.src.NEVRA(), err)
	}
	t.transition(StateQueued)

	// QUEUED -> POLLING
	info, err := t.broker.ResolveTarget(ctx, t.target)
	if err != nil {
		return none, err
	}
	t.taskID, err = t.broker.Submit(ctx, remotePath, info)
	if err != nil {
		return none, fmt.Errorf("queueing build of %s: %w", t.src.NEVRA(), err)
	}
	t.l.Debug("Build queued", "package", t.src.NEVRA(), "task", t.taskID)

	// POLLING until terminal
	final, err := t.poll(ctx)
	if err != nil {
		return none, err
	}

	return t.classify(ctx, final)
}

func (t *Task) poll(ctx context.Context) (State, error) {
	remote, err := t.broker.TaskState(ctx, t.taskID)
	if err != nil {
		return remote, err
	}
	if remote != t.state {
		t.transition(remote)
	}

	ticker := time.NewTicker(t.pollInterval)
	defer ticker.Stop()

	for !remote.Terminal() {
		select {
		case <-ctx.Done():
			return remote, ctx.Err()
		case <-ticker.C:
		}

		next, err := t.broker.TaskState(ctx, t.taskID)
		if err != nil {
			return remote, err
		}
		if next != remote {
			t.transition(next)
		}
		remote = next
	}
	return remote, nil
}

func (t *Task) classify(ctx context.Context, final State) (rpm.BuiltPackage, error) {
	var none rpm.BuiltPackage

	if final == StateClosed {
		built, err := t.broker.FinishedBuild(ctx, t.src.Metadata)
		if err != nil {
			return none, fmt.Errorf("fetching finished build of %s: %w", t.src.NEVRA(), err)
		}
		return built, nil
	}

	reason, err := t.broker.FailureReason(ctx, t.taskID)
	if err != nil {
		// Compatibility shim for backends that only report
		// failure through their error message: keep the text up
		// to the first colon.
		reason, _, _ = strings.Cut(err.Error(), ":")
	}
	return none, service.BuildFailure{Package: t.src.Metadata, Reason: reason}
}

// transition records the new state and notifies the observer.  Within
// one task, events are emitted in observed transition order.
func (t *Task) transition(next State) {
	t.state = next
	t.l.Info("Build task state changed", "task", t.taskID, "package", t.src.NEVRA(), "state", next.String())
	if t.notify != nil {
		t.notify(Event{TaskID: t.taskID, Package: t.src.NEVRA(), State: next})
	}
}
