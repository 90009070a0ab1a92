// Package scheduler runs timed, cancellable delivery sequences on their own
// goroutines so the reactor never blocks on a transmission.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/dougsko/js8emu/pkg/logging"
)

// DefaultJoinTimeout bounds how long Close waits for running jobs
const DefaultJoinTimeout = time.Second

// ErrJoinTimeout is returned by Close when jobs outlive the join timeout
var ErrJoinTimeout = errors.New("scheduler: jobs still running after join timeout")

// Scheduler starts independent jobs and cancels them all on Close
type Scheduler struct {
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
	active int
}

// New creates a scheduler
func New() *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		ctx:    ctx,
		cancel: cancel,
	}
}

// Go runs job on its own goroutine. The job's context is cancelled when the
// scheduler closes. Go returns false and does nothing after Close.
func (s *Scheduler) Go(name string, job func(ctx context.Context)) bool {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		logging.Debugf("scheduler", "job %s not started: scheduler closed", name)
		return false
	}
	s.wg.Add(1)
	s.active++
	s.mu.Unlock()

	go func() {
		defer func() {
			s.mu.Lock()
			s.active--
			s.mu.Unlock()
			s.wg.Done()
		}()
		defer func() {
			if r := recover(); r != nil {
				logging.Error("scheduler", fmt.Sprintf("scheduled task %s crashed: %v", name, r),
					map[string]interface{}{"stack": string(debug.Stack())})
			}
		}()
		job(s.ctx)
	}()
	return true
}

// Active returns the number of running jobs
func (s *Scheduler) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Closed reports whether Close has been called
func (s *Scheduler) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Close cancels every outstanding wait and joins running jobs for at most
// timeout. It is safe to call more than once.
func (s *Scheduler) Close(timeout time.Duration) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-done:
		return nil
	case <-timer.C:
		return fmt.Errorf("%w (%d running)", ErrJoinTimeout, s.Active())
	}
}

// Delay waits for d. It returns false if ctx was cancelled before or during
// the wait, true when the full delay elapsed.
func Delay(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return ctx.Err() == nil
	}
}

// RunSequence delivers each fragment after waiting frameTime before it. An
// aborted wait stops the sequence without calling onComplete. It returns true
// when every fragment was delivered and onComplete ran.
func RunSequence(ctx context.Context, fragments []string, frameTime time.Duration, deliver func(index int, fragment string), onComplete func()) bool {
	for i, fragment := range fragments {
		if !Delay(ctx, frameTime) {
			return false
		}
		deliver(i, fragment)
	}
	if onComplete != nil {
		onComplete()
	}
	return true
}
