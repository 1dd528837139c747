// Package tasks implements the background task scheduler of spec
// §4.8/§9: a small set of coalesced periodic jobs (rolling transfers,
// bootstrap, peer-minimum refresh, ping validation, public-address
// checks) that each fire at most once per period and skip a tick
// entirely if the previous run is still in flight, so a slow run never
// queues up a backlog of overlapping runs.
package tasks

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

// Func is one task's body. It receives a context cancelled at Scheduler
// shutdown and should return promptly after ctx is done.
type Func func(ctx context.Context) error

// Task is a single coalesced periodic job: it ticks every Interval on a
// fixed-rate ticker, and runs never stack (ticks that arrive during a
// slow run are dropped, except that one may fire right after it ends),
// and ShouldRun — if set —
// gates whether a tick actually invokes Run, so a task can go idle
// without being removed from the scheduler (e.g. "Bootstrap ticks while
// the routing table is empty").
type Task struct {
	Name      string
	Interval  time.Duration
	Run       Func
	ShouldRun func() bool

	running int32
}

// Scheduler drives a fixed set of Tasks, each on its own ticker
// goroutine, taking no scheduler-wide lock during any task's I/O (spec
// §9 "no global mutable state... background tasks ... take no
// manager-wide lock during I/O").
type Scheduler struct {
	log   *logrus.Entry
	tasks []*Task

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New builds a Scheduler over tasks. Interval and Run must be set on
// every task; a zero ShouldRun always runs.
func New(log *logrus.Entry, taskList []*Task) *Scheduler {
	return &Scheduler{log: log, tasks: taskList}
}

// Startup launches one goroutine per task. Calling Startup twice without
// an intervening Shutdown is a programming error; the second call is a
// no-op.
func (s *Scheduler) Startup(ctx context.Context) {
	s.mu.Lock()
	if s.cancel != nil {
		s.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.mu.Unlock()

	for _, t := range s.tasks {
		t := t
		s.wg.Add(1)
		go s.run(ctx, t)
	}
}

// Shutdown cancels every task's context and waits for in-flight runs to
// return.
func (s *Scheduler) Shutdown() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	s.wg.Wait()
}

func (s *Scheduler) run(ctx context.Context, t *Task) {
	defer s.wg.Done()

	ticker := time.NewTicker(t.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx, t)
		}
	}
}

// tick attempts one coalesced invocation of t.Run: skipped entirely if
// the previous invocation is still running, or if ShouldRun reports
// false this tick.
func (s *Scheduler) tick(ctx context.Context, t *Task) {
	if t.ShouldRun != nil && !t.ShouldRun() {
		return
	}
	if !atomic.CompareAndSwapInt32(&t.running, 0, 1) {
		s.log.WithField("task", t.Name).Debug("previous run still in flight, skipping tick")
		return
	}
	defer atomic.StoreInt32(&t.running, 0)

	if err := t.Run(ctx); err != nil && ctx.Err() == nil {
		s.log.WithError(err).WithField("task", t.Name).Warn("task run failed")
	}
}
