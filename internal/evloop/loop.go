// Package evloop provides the single goroutine that owns the peer registry.
// Every registry call and every transport completion runs as an action on the
// loop, one at a time, in submission order.
package evloop

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/srg/blepeer/internal/groutine"
)

// ErrStopped is returned for actions submitted to a loop that is not running.
var ErrStopped = errors.New("event loop is not running")

type action struct {
	fn func() error
	ch chan error // nil for fire-and-forget actions
}

// Loop runs queued actions serially on one goroutine.
//
// The queue is unbounded: actions posted from inside the loop (a transport
// delivering results of a procedure issued by the driver) must never block.
// backlogWarn only controls when a growing backlog is logged.
type Loop struct {
	name        string
	logger      *logrus.Logger
	backlogWarn int

	mtx    sync.Mutex
	queue  []action
	active bool
	warned bool
	wake   chan struct{}
	stopCh chan struct{}
	done   <-chan struct{}

	gid atomic.Uint64
}

// New creates a stopped loop. backlogWarn <= 0 disables backlog warnings.
func New(name string, backlogWarn int, logger *logrus.Logger) *Loop {
	if logger == nil {
		logger = logrus.New()
	}
	return &Loop{
		name:        name,
		logger:      logger,
		backlogWarn: backlogWarn,
	}
}

// Start launches the loop goroutine. The loop stops with ctx.Err() as the cause
// when ctx is cancelled.
func (l *Loop) Start(ctx context.Context) error {
	l.mtx.Lock()
	defer l.mtx.Unlock()

	if l.active {
		return fmt.Errorf("event loop %q started twice", l.name)
	}
	l.active = true
	l.warned = false
	l.wake = make(chan struct{}, 1)
	l.stopCh = make(chan struct{})

	started := make(chan struct{})
	wake, stopCh := l.wake, l.stopCh
	l.done = groutine.Go(ctx, groutine.Name("evloop", l.name), func(ctx context.Context) {
		l.gid.Store(groutine.ID())
		defer l.gid.Store(0)
		close(started)
		l.run(ctx, wake, stopCh)
	})
	<-started

	l.logger.WithField("loop", l.name).Debug("Event loop started")
	return nil
}

func (l *Loop) run(ctx context.Context, wake <-chan struct{}, stopCh <-chan struct{}) {
	for {
		select {
		case <-stopCh:
			return
		case <-ctx.Done():
			l.stop(ctx.Err())
			return
		case <-wake:
			for _, act := range l.take() {
				err := l.exec(act.fn)
				if act.ch != nil {
					act.ch <- err
					close(act.ch)
				}
			}
		}
	}
}

func (l *Loop) take() []action {
	l.mtx.Lock()
	defer l.mtx.Unlock()

	batch := l.queue
	l.queue = nil
	l.warned = false
	return batch
}

func (l *Loop) exec(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("event loop %q: action panicked: %v", l.name, r)
			l.logger.WithFields(logrus.Fields{
				"loop":  l.name,
				"panic": r,
			}).Error("Event loop action panicked")
		}
	}()
	return fn()
}

func (l *Loop) push(act action) error {
	l.mtx.Lock()
	defer l.mtx.Unlock()

	if !l.active {
		return ErrStopped
	}

	l.queue = append(l.queue, act)
	if l.backlogWarn > 0 && len(l.queue) > l.backlogWarn && !l.warned {
		l.warned = true
		l.logger.WithFields(logrus.Fields{
			"loop":    l.name,
			"backlog": len(l.queue),
		}).Warn("Event loop backlog is growing")
	}

	select {
	case l.wake <- struct{}{}:
	default:
	}
	return nil
}

// Post queues fn without waiting for it. It never blocks.
func (l *Loop) Post(fn func()) error {
	return l.push(action{fn: func() error {
		fn()
		return nil
	}})
}

// Enqueue queues fn; its result is delivered on the returned channel.
func (l *Loop) Enqueue(fn func() error) <-chan error {
	ch := make(chan error, 1)
	if err := l.push(action{fn: fn, ch: ch}); err != nil {
		ch <- err
		close(ch)
	}
	return ch
}

// Run executes fn on the loop and waits for its result. Called from the loop
// itself it runs fn inline, so actions may call Run without deadlocking.
func (l *Loop) Run(ctx context.Context, fn func() error) error {
	if l.OnLoop() {
		return l.exec(fn)
	}

	select {
	case err := <-l.Enqueue(fn):
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// OnLoop reports whether the caller is the loop goroutine.
func (l *Loop) OnLoop() bool {
	gid := l.gid.Load()
	return gid != 0 && gid == groutine.ID()
}

// Active reports whether the loop accepts actions.
func (l *Loop) Active() bool {
	l.mtx.Lock()
	defer l.mtx.Unlock()
	return l.active
}

// Stop fails every queued action with cause (ErrStopped if nil) and waits for the
// loop goroutine to exit. Called from an action it does not wait.
func (l *Loop) Stop(cause error) error {
	done, err := l.stop(cause)
	if err != nil {
		return err
	}
	if !l.OnLoop() {
		<-done
	}
	return nil
}

func (l *Loop) stop(cause error) (<-chan struct{}, error) {
	if cause == nil {
		cause = ErrStopped
	}

	l.mtx.Lock()
	if !l.active {
		l.mtx.Unlock()
		return nil, fmt.Errorf("event loop %q stopped twice", l.name)
	}
	l.active = false
	close(l.stopCh)
	pending := l.queue
	l.queue = nil
	done := l.done
	l.mtx.Unlock()

	for _, act := range pending {
		if act.ch != nil {
			act.ch <- cause
			close(act.ch)
		}
	}

	l.logger.WithFields(logrus.Fields{
		"loop":    l.name,
		"dropped": len(pending),
		"cause":   cause,
	}).Debug("Event loop stopped")
	return done, nil
}
