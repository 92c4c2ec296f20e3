package build

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/require"

	"github.com/scl-tools/rpmrh/pkg/rpm"
	"github.com/scl-tools/rpmrh/pkg/service"
)

// fakeBroker scripts a build lifecycle: each TaskState call pops the
// next state off the sequence, holding the last one once exhausted.
type fakeBroker struct {
	states []State
	calls  int

	uploads   []string
	reason    string
	reasonErr error
	built     rpm.BuiltPackage
}

func (b *fakeBroker) Upload(_ context.Context, _, remotePath string) error {
	b.uploads = append(b.uploads, remotePath)
	return nil
}

func (b *fakeBroker) ResolveTarget(_ context.Context, target string) (TargetInfo, error) {
	return TargetInfo{Name: target, ID: 7}, nil
}

func (b *fakeBroker) Submit(context.Context, string, TargetInfo) (int, error) {
	return 42, nil
}

func (b *fakeBroker) TaskState(context.Context, int) (State, error) {
	s := b.states[b.calls]
	if b.calls < len(b.states)-1 {
		b.calls++
	}
	return s, nil
}

func (b *fakeBroker) FailureReason(context.Context, int) (string, error) {
	if b.reasonErr != nil {
		return "", b.reasonErr
	}
	return b.reason, nil
}

func (b *fakeBroker) FinishedBuild(_ context.Context, pkg rpm.Metadata) (rpm.BuiltPackage, error) {
	b.built.Metadata = pkg
	return b.built, nil
}

func srcPackage() rpm.LocalPackage {
	return rpm.LocalPackage{
		Metadata: rpm.Metadata{Name: "rh-python36-python", Version: "3.6.3", Release: "3.el7"},
		Path:     "/tmp/rh-python36-python-3.6.3-3.el7.src.rpm",
	}
}

func fixedClock() time.Time {
	return time.Date(2018, 4, 1, 12, 30, 0, 0, time.UTC)
}

func newTestTask(t *testing.T, b Broker, opts ...Option) *Task {
	t.Helper()
	opts = append([]Option{
		WithPollInterval(time.Millisecond),
		WithClock(fixedClock),
	}, opts...)
	return NewTask(hclog.NewNullLogger(), b, "sclo7-rh-python36-el7", srcPackage(), opts...)
}

func TestTaskRemotePath(t *testing.T) {
	task := newTestTask(t, &fakeBroker{})
	require.Equal(t,
		"2018-04-01T12:30:00-rh-python36-python-0:3.6.3-3.el7.src/rh-python36-python-3.6.3-3.el7.src.rpm",
		task.RemotePath())
}

func TestTaskRunSuccess(t *testing.T) {
	broker := &fakeBroker{
		states: []State{StateQueued, StatePolling, StatePolling, StateClosed},
		built:  rpm.BuiltPackage{ID: 1234},
	}

	var events []Event
	task := newTestTask(t, broker, WithNotifier(func(e Event) {
		events = append(events, e)
	}))

	built, err := task.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1234, built.ID)
	require.Equal(t, srcPackage().Metadata, built.Metadata)
	require.Len(t, broker.uploads, 1)

	// One event per observed transition, in order, never repeating a
	// state the task is already in.
	var observed []State
	for _, e := range events {
		observed = append(observed, e.State)
	}
	require.Equal(t, []State{StateQueued, StatePolling, StateClosed}, observed)
}

func TestTaskRunNoEventOnUnchangedState(t *testing.T) {
	broker := &fakeBroker{
		states: []State{StatePolling, StatePolling, StatePolling, StateClosed},
	}

	var events []Event
	task := newTestTask(t, broker, WithNotifier(func(e Event) {
		events = append(events, e)
	}))

	_, err := task.Run(context.Background())
	require.NoError(t, err)

	var observed []State
	for _, e := range events {
		observed = append(observed, e.State)
	}
	require.Equal(t, []State{StateQueued, StatePolling, StateClosed}, observed)
}

func TestTaskRunFailedBuild(t *testing.T) {
	broker := &fakeBroker{
		states: []State{StatePolling, StateFailed},
		reason: "BuildError: rpmbuild exited with status 1",
	}

	task := newTestTask(t, broker)
	_, err := task.Run(context.Background())

	var failure service.BuildFailure
	require.ErrorAs(t, err, &failure)
	require.Equal(t, srcPackage().Metadata, failure.Package)
	require.Equal(t, "BuildError: rpmbuild exited with status 1", failure.Reason)
}

func TestTaskRunCanceledBuild(t *testing.T) {
	broker := &fakeBroker{
		states: []State{StateQueued, StateCanceled},
		reason: "canceled by admin",
	}

	task := newTestTask(t, broker)
	_, err := task.Run(context.Background())

	var failure service.BuildFailure
	require.ErrorAs(t, err, &failure)
	require.Equal(t, "canceled by admin", failure.Reason)
}

func TestTaskRunFailureReasonFromError(t *testing.T) {
	// Backends that only report failure through an error message
	// still produce a usable reason.
	broker := &fakeBroker{
		states:    []State{StateFailed},
		reasonErr: errors.New("GenericError: package failed on x86_64"),
	}

	task := newTestTask(t, broker)
	_, err := task.Run(context.Background())

	var failure service.BuildFailure
	require.ErrorAs(t, err, &failure)
	require.Equal(t, "GenericError", failure.Reason)
}

func TestTaskRunContextCancellation(t *testing.T) {
	broker := &fakeBroker{
		states: []State{StatePolling},
	}

	ctx, cancel := context.WithCancel(context.Background())
	task := newTestTask(t, broker, WithPollInterval(time.Hour))

	done := make(chan error, 1)
	go func() {
		_, err := task.Run(ctx)
		done <- err
	}()

	cancel()
	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("task did not honor cancellation")
	}
}

func TestStateTerminal(t *testing.T) {
	for _, s := range []State{StateClosed, StateCanceled, StateFailed} {
		require.True(t, s.Terminal(), s.String())
	}
	for _, s := range []State{StateUploading, StateQueued, StatePolling} {
		require.False(t, s.Terminal(), s.String())
	}
	require.Equal(t, "UNKNOWN(99)", State(99).String())
}
