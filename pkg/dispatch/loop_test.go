package dispatch_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tembridge/tembridge-go/internal/testutil"
	"github.com/tembridge/tembridge-go/pkg/dispatch"
	"github.com/tembridge/tembridge-go/pkg/session"
	"github.com/tembridge/tembridge-go/pkg/wire"
)

type recorder struct {
	mu       sync.Mutex
	outcomes []dispatch.Outcome
	states   []session.State
}

func (r *recorder) CommandCompleted(o dispatch.Outcome) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = append(r.outcomes, o)
}

func (r *recorder) SessionStateChanged(_ string, s session.State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, s)
}

func (r *recorder) snapshot() ([]dispatch.Outcome, []session.State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]dispatch.Outcome(nil), r.outcomes...), append([]session.State(nil), r.states...)
}

// startLoop runs a loop over drv until the test ends.
func startLoop(t *testing.T, drv *testutil.StubDriver, obs ...dispatch.Observer) (*dispatch.Loop, context.CancelFunc) {
	t.Helper()

	loop := dispatch.NewLoop(dispatch.Config{
		Device:    "tem",
		Opener:    testutil.Opener(drv),
		Observers: obs,
	})
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- loop.Run(ctx) }()

	select {
	case <-loop.Ready():
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not become ready")
	}

	t.Cleanup(func() {
		cancel()
		select {
		case err := <-errCh:
			assert.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Error("loop did not stop")
		}
	})
	return loop, cancel
}

func TestSubmitSuccess(t *testing.T) {
	loop, _ := startLoop(t, testutil.NewStubDriver())

	res, err := loop.Submit(context.Background(), "c1", wire.NewInvoke("echo", []any{42}, nil))
	require.NoError(t, err)
	assert.Equal(t, wire.StatusOK, res.Status)
	assert.Equal(t, 42, res.Value)
}

func TestSubmitUnknownSelector(t *testing.T) {
	loop, _ := startLoop(t, testutil.NewStubDriver())

	res, err := loop.Submit(context.Background(), "c1", wire.NewInvoke("warp", nil, nil))
	require.NoError(t, err)
	require.Equal(t, wire.StatusError, res.Status)
	assert.Equal(t, "NoSuchSelector", res.Fault.Kind)
	assert.Equal(t, []any{"warp"}, res.Fault.Args)
}

func TestSubmitDriverFault(t *testing.T) {
	loop, _ := startLoop(t, testutil.NewStubDriver())

	res, err := loop.Submit(context.Background(), "c1", wire.NewInvoke("boom", nil, nil))
	require.NoError(t, err)
	require.Equal(t, wire.StatusError, res.Status)
	assert.Equal(t, "DeviceFault", res.Fault.Kind)
	assert.Equal(t, []any{"overheat"}, res.Fault.Args)
}

func TestSubmitPanicDoesNotKillLoop(t *testing.T) {
	loop, _ := startLoop(t, testutil.NewStubDriver())

	res, err := loop.Submit(context.Background(), "c1", wire.NewInvoke("panic", nil, nil))
	require.NoError(t, err)
	require.Equal(t, wire.StatusError, res.Status)
	assert.Equal(t, "ControllerError", res.Fault.Kind)

	res, err = loop.Submit(context.Background(), "c1", wire.NewInvoke("echo", []any{"still alive"}, nil))
	require.NoError(t, err)
	assert.Equal(t, "still alive", res.Value)
}

func TestReadAttribute(t *testing.T) {
	loop, _ := startLoop(t, testutil.NewStubDriver())

	for i := 0; i < 3; i++ {
		res, err := loop.Submit(context.Background(), "c1", wire.NewRead("name"))
		require.NoError(t, err)
		assert.Equal(t, "stub", res.Value)
	}

	cmd := wire.NewRead("name")
	cmd.Args = []any{1}
	res, err := loop.Submit(context.Background(), "c1", cmd)
	require.NoError(t, err)
	require.Equal(t, wire.StatusError, res.Status)
	assert.Equal(t, "InvalidArguments", res.Fault.Kind)
}

func TestConcurrentSubmittersGetOwnResults(t *testing.T) {
	drv := testutil.NewStubDriver()
	loop, _ := startLoop(t, drv)

	const workers = 8
	const perWorker = 25

	var wg sync.WaitGroup
	errs := make(chan error, workers*perWorker)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				want := w*1000 + i
				res, err := loop.Submit(context.Background(), "conn", wire.NewInvoke("echo", []any{want}, nil))
				if err != nil {
					errs <- err
					return
				}
				if res.Value != want {
					errs <- errors.New("result delivered to the wrong submitter")
					return
				}
			}
		}(w)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Error(err)
	}
	assert.Equal(t, 1, drv.MaxActive(), "commands must execute one at a time")
	assert.Equal(t, int64(workers*perWorker), drv.Calls())
}

func TestObserverSeesOutcomesAndStates(t *testing.T) {
	rec := &recorder{}
	drv := testutil.NewStubDriver()

	loop := dispatch.NewLoop(dispatch.Config{
		Device:    "cam",
		Opener:    testutil.Opener(drv),
		Observers: []dispatch.Observer{rec},
	})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- loop.Run(ctx) }()
	<-loop.Ready()

	_, err := loop.Submit(context.Background(), "c9", wire.NewInvoke("counter", nil, nil))
	require.NoError(t, err)

	cancel()
	require.NoError(t, <-done)

	outcomes, states := rec.snapshot()
	require.Len(t, outcomes, 1)
	assert.Equal(t, "cam", outcomes[0].Device)
	assert.Equal(t, "c9", outcomes[0].ConnID)
	assert.Equal(t, "counter", outcomes[0].Command.Selector)
	assert.NotZero(t, outcomes[0].RequestID)
	assert.Equal(t, []session.State{session.StateReady, session.StateTerminated}, states)
	assert.True(t, drv.Closed())
	assert.Equal(t, session.StateTerminated, loop.State())
}

type panickingObserver struct{}

func (panickingObserver) CommandCompleted(dispatch.Outcome) { panic("outcome sink broken") }
func (panickingObserver) SessionStateChanged(string, session.State) { panic("state sink broken") }

func TestPanickingObserverDoesNotKillLoop(t *testing.T) {
	rec := &recorder{}
	loop, _ := startLoop(t, testutil.NewStubDriver(), panickingObserver{}, rec)

	for i := 1; i <= 2; i++ {
		res, err := loop.Submit(context.Background(), "c1", wire.NewInvoke("echo", []any{i}, nil))
		require.NoError(t, err)
		assert.Equal(t, i, res.Value)
	}

	select {
	case <-loop.Done():
		t.Fatal("loop exited after an observer panicked")
	default:
	}
	outcomes, states := rec.snapshot()
	assert.Len(t, outcomes, 2)
	assert.Equal(t, []session.State{session.StateReady}, states)
}

func TestStartupRetries(t *testing.T) {
	opener := testutil.NewFlakyOpener(2, testutil.NewStubDriver())
	loop := dispatch.NewLoop(dispatch.Config{
		Device:          "tem",
		Opener:          opener.Open,
		StartupAttempts: 3,
		StartupInterval: time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- loop.Run(ctx) }()

	select {
	case <-loop.Ready():
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not become ready")
	}
	assert.Equal(t, 3, opener.Attempts())

	cancel()
	require.NoError(t, <-done)
}

func TestStartupFailureIsFatal(t *testing.T) {
	opener := testutil.NewFlakyOpener(100, testutil.NewStubDriver())
	loop := dispatch.NewLoop(dispatch.Config{
		Device:          "tem",
		Opener:          opener.Open,
		StartupAttempts: 3,
		StartupInterval: time.Millisecond,
	})

	err := loop.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, testutil.ErrOpenFailed)
	assert.Equal(t, 3, opener.Attempts())
	assert.Equal(t, session.StateTerminated, loop.State())

	_, err = loop.Submit(context.Background(), "c1", wire.NewInvoke("echo", []any{1}, nil))
	assert.ErrorIs(t, err, dispatch.ErrStopped)
}

func TestShutdownFinishesInFlightCommand(t *testing.T) {
	drv := testutil.NewStubDriver()
	loop := dispatch.NewLoop(dispatch.Config{Device: "tem", Opener: testutil.Opener(drv)})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- loop.Run(ctx) }()
	<-loop.Ready()

	resCh := make(chan *wire.Result, 1)
	go func() {
		res, _ := loop.Submit(context.Background(), "c1", wire.NewInvoke("slow", []any{150}, nil))
		resCh <- res
	}()

	// Let the slow command start, then cancel while it runs.
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case res := <-resCh:
		require.NotNil(t, res)
		assert.Equal(t, wire.StatusOK, res.Status)
		assert.EqualValues(t, 150, res.Value)
	case <-time.After(2 * time.Second):
		t.Fatal("in-flight command did not complete")
	}

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("loop did not exit after shutdown")
	}

	_, err := loop.Submit(context.Background(), "c1", wire.NewInvoke("echo", []any{1}, nil))
	assert.ErrorIs(t, err, dispatch.ErrStopped)
}

func TestSubmitHonoursCallerContext(t *testing.T) {
	loop := dispatch.NewLoop(dispatch.Config{Device: "tem", Opener: testutil.Opener(testutil.NewStubDriver())})

	// Loop never started: nothing accepts the command.
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := loop.Submit(ctx, "c1", wire.NewInvoke("echo", []any{1}, nil))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRunTwice(t *testing.T) {
	loop, _ := startLoop(t, testutil.NewStubDriver())
	assert.Error(t, loop.Run(context.Background()))
}
