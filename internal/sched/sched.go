// Package sched runs poll procedures: stateful callbacks that drive a
// multi-tick exchange by rescheduling themselves until they are done.
package sched

import (
	"sort"
	"time"

	"github.com/benbjohnson/clock"
)

// Procedure is a reschedulable callback.
type Procedure struct {
	fn        func()
	next      time.Time
	scheduled bool
	// due marks a procedure collected by the running Poll batch.
	due bool
}

// NewProcedure wraps fn.
func NewProcedure(fn func()) *Procedure {
	return &Procedure{fn: fn}
}

// Scheduled reports whether p is waiting in a queue.
func (p *Procedure) Scheduled() bool { return p.scheduled }

// Scheduler is a timer queue polled once per tick. It is not safe for
// concurrent use; everything runs on the caller's tick loop.
type Scheduler struct {
	clock clock.Clock
	queue []*Procedure // sorted by next
}

// New creates a scheduler on clk.
func New(clk clock.Clock) *Scheduler {
	if clk == nil {
		clk = clock.New()
	}
	return &Scheduler{clock: clk}
}

// Schedule (re)arms p to run delay from now.
func (s *Scheduler) Schedule(p *Procedure, delay time.Duration) {
	s.Cancel(p)
	p.next = s.clock.Now().Add(delay)
	p.scheduled = true

	i := sort.Search(len(s.queue), func(i int) bool { return s.queue[i].next.After(p.next) })
	s.queue = append(s.queue, nil)
	copy(s.queue[i+1:], s.queue[i:])
	s.queue[i] = p
}

// Cancel removes p if it is queued. A procedure cancelled by an earlier
// callback in the same Poll does not run.
func (s *Scheduler) Cancel(p *Procedure) {
	p.due = false
	if !p.scheduled {
		return
	}
	for i, q := range s.queue {
		if q == p {
			s.queue = append(s.queue[:i], s.queue[i+1:]...)
			break
		}
	}
	p.scheduled = false
}

// Poll runs every procedure that is due. Procedures rescheduled or
// cancelled while the batch runs wait for the next Poll.
func (s *Scheduler) Poll() {
	now := s.clock.Now()

	n := 0
	for n < len(s.queue) && !s.queue[n].next.After(now) {
		n++
	}
	if n == 0 {
		return
	}

	due := make([]*Procedure, n)
	copy(due, s.queue[:n])
	s.queue = append(s.queue[:0], s.queue[n:]...)

	for _, p := range due {
		p.scheduled = false
		p.due = true
	}
	for _, p := range due {
		if !p.due {
			continue
		}
		p.due = false
		p.fn()
	}
}

// Len returns the number of queued procedures.
func (s *Scheduler) Len() int { return len(s.queue) }
