package component

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeComponent struct {
	name     string
	startErr error
	stopErr  error
	log      *[]string
}

func (f *fakeComponent) Name() string { return f.name }

func (f *fakeComponent) Start(ctx context.Context) error {
	*f.log = append(*f.log, "start "+f.name)
	return f.startErr
}

func (f *fakeComponent) Stop(ctx context.Context) error {
	*f.log = append(*f.log, "stop "+f.name)
	return f.stopErr
}

func TestOrchestrator_StartStopOrder(t *testing.T) {
	var log []string
	o := NewOrchestrator()
	o.Register(&fakeComponent{name: "audit", log: &log})
	o.Register(nil)
	o.Register(&fakeComponent{name: "queue", log: &log})

	ctx := context.Background()
	require.NoError(t, o.Start(ctx))
	require.NoError(t, o.Stop(ctx))
	require.NoError(t, o.Stop(ctx))

	require.Equal(t, []string{"start audit", "start queue", "stop queue", "stop audit"}, log)
	require.Len(t, o.Components(), 2)
}

func TestOrchestrator_StartFailureUnwinds(t *testing.T) {
	var log []string
	o := NewOrchestrator()
	o.Register(&fakeComponent{name: "audit", log: &log})
	o.Register(&fakeComponent{name: "exporter", log: &log})
	o.Register(&fakeComponent{name: "queue", startErr: errors.New("permission denied"), log: &log})

	err := o.Start(context.Background())
	require.ErrorContains(t, err, "failed to start queue")
	require.Equal(t, []string{
		"start audit", "start exporter", "start queue",
		"stop exporter", "stop audit",
	}, log)
}

func TestOrchestrator_StopCollectsErrors(t *testing.T) {
	var log []string
	first := errors.New("first")
	second := errors.New("second")

	o := NewOrchestrator()
	o.Register(&fakeComponent{name: "a", stopErr: first, log: &log})
	o.Register(&fakeComponent{name: "b", stopErr: second, log: &log})

	ctx := context.Background()
	require.NoError(t, o.Start(ctx))

	err := o.Stop(ctx)
	require.ErrorIs(t, err, first)
	require.ErrorIs(t, err, second)
	require.Equal(t, []string{"start a", "start b", "stop b", "stop a"}, log)
}

func TestBase_GoWaitsOnStop(t *testing.T) {
	b := NewBase("test")
	require.Equal(t, "test", b.Name())
	require.NotNil(t, b.Logger)

	b.StartContext(context.Background())
	done := make(chan struct{})
	b.Go(func() {
		<-b.Ctx.Done()
		close(done)
	})

	b.StopContext()
	select {
	case <-done:
	default:
		t.Fatal("goroutine still running after StopContext")
	}
}

func TestRegistry_LoadAll(t *testing.T) {
	var log []string
	Register("test.enabled", func(deps Dependencies) (Component, error) {
		return &fakeComponent{name: "test.enabled", log: &log}, nil
	})
	Register("test.disabled", func(deps Dependencies) (Component, error) {
		return nil, nil
	})

	require.Panics(t, func() {
		Register("test.enabled", func(Dependencies) (Component, error) { return nil, nil })
	})

	comps, err := LoadAll(Dependencies{})
	require.NoError(t, err)
	require.Len(t, comps, 1)
	require.Equal(t, "test.enabled", comps[0].Name())

	_, ok := Get("test.disabled")
	require.True(t, ok)
	require.Contains(t, List(), "test.disabled")
}
