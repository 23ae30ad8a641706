package evloop_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srg/blepeer/internal/evloop"
	"github.com/srg/blepeer/internal/testutils"
)

func startLoop(t *testing.T) *evloop.Loop {
	t.Helper()

	l := evloop.New("test", 4, testutils.NewTestHelper(t).Logger)
	require.NoError(t, l.Start(context.Background()))
	t.Cleanup(func() {
		if l.Active() {
			_ = l.Stop(nil)
		}
	})
	return l
}

func TestLoop_RunsActionsInOrder(t *testing.T) {
	l := startLoop(t)

	var (
		mu  sync.Mutex
		got []int
	)
	for i := 0; i < 100; i++ {
		i := i
		require.NoError(t, l.Post(func() {
			mu.Lock()
			got = append(got, i)
			mu.Unlock()
		}))
	}
	require.NoError(t, l.Run(context.Background(), func() error { return nil }))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 100)
	for i, v := range got {
		assert.Equal(t, i, v, "actions MUST run in submission order")
	}
}

func TestLoop_RunReturnsActionError(t *testing.T) {
	l := startLoop(t)

	want := errors.New("boom")
	assert.ErrorIs(t, l.Run(context.Background(), func() error { return want }), want)
}

func TestLoop_NestedRunAndPostDoNotDeadlock(t *testing.T) {
	// GOAL: Verify actions can submit more work to their own loop
	//
	// TEST SCENARIO: action calls Run inline and posts a follow-up → both execute

	l := startLoop(t)

	followUp := make(chan struct{})
	err := l.Run(context.Background(), func() error {
		assert.True(t, l.OnLoop(), "action MUST run on the loop goroutine")

		inner := l.Run(context.Background(), func() error { return nil })
		if inner != nil {
			return inner
		}
		for i := 0; i < 10; i++ {
			if err := l.Post(func() {}); err != nil {
				return err
			}
		}
		return l.Post(func() { close(followUp) })
	})
	require.NoError(t, err)

	select {
	case <-followUp:
	case <-time.After(time.Second):
		t.Fatal("posted follow-up MUST run")
	}
	assert.False(t, l.OnLoop())
}

func TestLoop_RecoversPanics(t *testing.T) {
	l := startLoop(t)

	err := l.Run(context.Background(), func() error { panic("bad action") })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad action")

	assert.NoError(t, l.Run(context.Background(), func() error { return nil }), "loop MUST survive a panic")
}

func TestLoop_StopFailsPendingActions(t *testing.T) {
	l := startLoop(t)

	release := make(chan struct{})
	blocked := make(chan struct{})
	require.NoError(t, l.Post(func() {
		close(blocked)
		<-release
	}))
	<-blocked

	cause := errors.New("shutting down")
	pending := l.Enqueue(func() error { return nil })

	stopped := make(chan error, 1)
	go func() { stopped <- l.Stop(cause) }()

	assert.ErrorIs(t, <-pending, cause, "queued action MUST fail with the stop cause")
	close(release)
	require.NoError(t, <-stopped)

	assert.False(t, l.Active())
	assert.ErrorIs(t, l.Post(func() {}), evloop.ErrStopped)
	assert.ErrorIs(t, <-l.Enqueue(func() error { return nil }), evloop.ErrStopped)
	assert.Error(t, l.Stop(nil), "second stop MUST fail")
}

func TestLoop_StopsWithContext(t *testing.T) {
	l := evloop.New("ctx", 0, testutils.NewTestHelper(t).Logger)
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, l.Start(ctx))
	require.Error(t, l.Start(ctx), "MUST NOT start twice")

	cancel()
	assert.Eventually(t, func() bool { return !l.Active() }, time.Second, 10*time.Millisecond)
}

func TestLoop_RunHonoursCallerContext(t *testing.T) {
	l := startLoop(t)

	release := make(chan struct{})
	require.NoError(t, l.Post(func() { <-release }))
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, l.Run(ctx, func() error { return nil }), context.DeadlineExceeded)
}
