package mclock

import (
	"container/heap"
	"sync"
	"time"
)

// Simulated implements Clock for deterministic tests. Time only advances
// when Run is called.
type Simulated struct {
	mu     sync.Mutex
	now    AbsTime
	events simEventHeap
}

var _ Clock = (*Simulated)(nil)

type simEvent struct {
	at     AbsTime
	fire   func(AbsTime)
	cancel bool
}

type simEventHeap []*simEvent

func (h simEventHeap) Len() int            { return len(h) }
func (h simEventHeap) Less(i, j int) bool  { return h[i].at < h[j].at }
func (h simEventHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *simEventHeap) Push(x interface{}) { *h = append(*h, x.(*simEvent)) }
func (h *simEventHeap) Pop() interface{} {
	old := *h
	n := len(old)
	e := old[n-1]
	*h = old[:n-1]
	return e
}

// Now returns the current simulated time.
func (s *Simulated) Now() AbsTime {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now
}

// Run advances the simulated clock by d, firing any events scheduled to
// occur at or before the new time, in order.
func (s *Simulated) Run(d time.Duration) {
	s.mu.Lock()
	end := s.now + AbsTime(d)
	for len(s.events) > 0 && s.events[0].at <= end {
		ev := heap.Pop(&s.events).(*simEvent)
		s.now = ev.at
		if ev.cancel {
			continue
		}
		// Mark the event spent so a later Stop reports false.
		ev.cancel = true
		fire := ev.fire
		s.mu.Unlock()
		fire(ev.at)
		s.mu.Lock()
	}
	if s.now < end {
		s.now = end
	}
	s.mu.Unlock()
}

func (s *Simulated) schedule(d time.Duration, fire func(AbsTime)) *simEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	ev := &simEvent{at: s.now + AbsTime(d), fire: fire}
	heap.Push(&s.events, ev)
	return ev
}

func (s *Simulated) Sleep(d time.Duration) {
	done := make(chan struct{})
	s.schedule(d, func(AbsTime) { close(done) })
	<-done
}

func (s *Simulated) After(d time.Duration) <-chan AbsTime {
	ch := make(chan AbsTime, 1)
	s.schedule(d, func(t AbsTime) { ch <- t })
	return ch
}

func (s *Simulated) AfterFunc(d time.Duration, f func()) Timer {
	ev := s.schedule(d, func(AbsTime) { f() })
	return &simTimer{ev: ev}
}

func (s *Simulated) NewTimer(d time.Duration) ChanTimer {
	ch := make(chan AbsTime, 1)
	ev := s.schedule(d, func(t AbsTime) {
		select {
		case ch <- t:
		default:
		}
	})
	return &simChanTimer{simTimer: simTimer{ev: ev}, clock: s, ch: ch}
}

type simTimer struct {
	ev *simEvent
}

func (t *simTimer) Stop() bool {
	already := t.ev.cancel
	t.ev.cancel = true
	return !already
}

type simChanTimer struct {
	simTimer
	clock *Simulated
	ch    chan AbsTime
}

func (t *simChanTimer) C() <-chan AbsTime { return t.ch }

func (t *simChanTimer) Reset(d time.Duration) {
	t.ev.cancel = true
	ev := t.clock.schedule(d, func(at AbsTime) {
		select {
		case t.ch <- at:
		default:
		}
	})
	t.ev = ev
}
