// Package sched runs deferred callbacks on the simulation tick. Everything it
// schedules executes on the caller of Advance; there is no parallelism.
package sched

import (
	"container/heap"
	"fmt"
	"log"
	"runtime/debug"
)

type Scheduler struct {
	now   uint64
	seq   uint64
	queue timerQueue
	log   *log.Logger
}

func New(logger *log.Logger) *Scheduler {
	return &Scheduler{log: logger}
}

// Now is the current tick.
func (s *Scheduler) Now() uint64 { return s.now }

// SetNow rewinds or fast-forwards the clock (snapshot resume). Pending timers
// keep their absolute due ticks.
func (s *Scheduler) SetNow(tick uint64) { s.now = tick }

// Pending is the number of timers still queued.
func (s *Scheduler) Pending() int { return len(s.queue) }

// After runs fn once, delay ticks from now. A zero delay fires on the next
// Advance.
func (s *Scheduler) After(delay uint64, name string, fn func()) *Timer {
	return s.add(delay, 0, name, func(*Timer) { fn() })
}

// Every runs fn each interval ticks until the timer is stopped. The first run
// happens interval ticks from now.
func (s *Scheduler) Every(interval uint64, name string, fn func(t *Timer)) *Timer {
	if interval == 0 {
		interval = 1
	}
	return s.add(interval, interval, name, fn)
}

func (s *Scheduler) add(delay, interval uint64, name string, fn func(*Timer)) *Timer {
	if delay == 0 {
		delay = 1
	}
	s.seq++
	t := &Timer{
		s:        s,
		name:     name,
		due:      s.now + delay,
		interval: interval,
		seq:      s.seq,
		fn:       fn,
		index:    -1,
	}
	heap.Push(&s.queue, t)
	return t
}

// Advance moves the clock one tick and runs every timer that is due, in due
// order and then in scheduling order. It returns how many callbacks ran.
func (s *Scheduler) Advance() int {
	s.now++
	fired := 0
	for len(s.queue) > 0 {
		t := s.queue[0]
		if t.due > s.now {
			break
		}
		heap.Pop(&s.queue)
		if t.stopped {
			continue
		}
		if t.interval == 0 {
			t.stopped = true
		}
		s.run(t)
		fired++
		if !t.stopped {
			s.seq++
			t.seq = s.seq
			t.due = s.now + t.interval
			heap.Push(&s.queue, t)
		}
	}
	return fired
}

// run invokes a callback; a panic is logged and the tick's effect is dropped.
func (s *Scheduler) run(t *Timer) {
	defer func() {
		if r := recover(); r != nil {
			if s.log != nil {
				s.log.Printf("sched: timer %q panicked at tick %d: %v\n%s", t.name, s.now, r, debug.Stack())
			}
		}
	}()
	t.fn(t)
}

type Timer struct {
	s        *Scheduler
	name     string
	due      uint64
	interval uint64
	seq      uint64
	fn       func(*Timer)
	stopped  bool
	index    int
}

// Stop cancels the timer. It is safe to call any number of times, including
// from inside the timer's own callback.
func (t *Timer) Stop() {
	if t == nil || t.stopped {
		return
	}
	t.stopped = true
	if t.index >= 0 && t.index < len(t.s.queue) && t.s.queue[t.index] == t {
		heap.Remove(&t.s.queue, t.index)
	}
}

func (t *Timer) Running() bool { return t != nil && !t.stopped }

func (t *Timer) Due() uint64 { return t.due }

func (t *Timer) String() string {
	return fmt.Sprintf("timer(%s due=%d)", t.name, t.due)
}

type timerQueue []*Timer

func (q timerQueue) Len() int { return len(q) }

func (q timerQueue) Less(i, j int) bool {
	if q[i].due != q[j].due {
		return q[i].due < q[j].due
	}
	return q[i].seq < q[j].seq
}

func (q timerQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *timerQueue) Push(x any) {
	t := x.(*Timer)
	t.index = len(*q)
	*q = append(*q, t)
}

func (q *timerQueue) Pop() any {
	old := *q
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.index = -1
	*q = old[:n-1]
	return t
}
