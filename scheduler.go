// Copyright © 2024 Jeff Berkowitz (pdxjjb@gmail.com)
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.

// Package erc32 implements a cycle-accurate instruction-set simulator for
// the SPARC ERC32 embedded microcontroller: a SPARC v8 CPU core, its
// memory and environment controller (MEC), a priority interrupt encoder,
// RTC/GPT/watchdog timers, and two UART channels, all driven from a single
// event scheduler advancing a monotonic simulated-cycle counter.
package erc32

import (
	"container/heap"
	"fmt"
)

// EventKind tags a scheduled callback. The scheduler itself does not limit
// how many events of a kind are live; callers that schedule timer or UART
// events keep one live event per kind by canceling any stale event of the
// same kind first.
type EventKind int

const (
	EventUARTATx EventKind = iota
	EventUARTBTx
	EventUARTRx
	EventUARTPoll
	EventRTCTick
	EventGPTTick
	EventWatchdogTick
	EventUser
)

func (k EventKind) String() string {
	switch k {
	case EventUARTATx:
		return "uart-a-tx"
	case EventUARTBTx:
		return "uart-b-tx"
	case EventUARTRx:
		return "uart-rx"
	case EventUARTPoll:
		return "uart-poll"
	case EventRTCTick:
		return "rtc-tick"
	case EventGPTTick:
		return "gpt-tick"
	case EventWatchdogTick:
		return "watchdog-tick"
	case EventUser:
		return "user"
	default:
		return "unknown"
	}
}

// Callback runs when a scheduled event fires. arg is whatever value was
// passed to Schedule; callbacks may schedule further events, including at
// the current cycle.
type Callback func(arg int32)

// event is one entry in the scheduler's priority queue.
type event struct {
	deadline uint64
	seq      uint64 // insertion order, used to break deadline ties
	kind     EventKind
	arg      int32
	fn       Callback
}

// eventHeap is a binary min-heap ordered by (deadline, seq).
type eventHeap []*event

func (h eventHeap) Len() int { return len(h) }
func (h eventHeap) Less(i, j int) bool {
	if h[i].deadline != h[j].deadline {
		return h[i].deadline < h[j].deadline
	}
	return h[i].seq < h[j].seq
}
func (h eventHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *eventHeap) Push(x any)   { *h = append(*h, x.(*event)) }
func (h *eventHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

// MaxQueueDepth is the fatal configuration ceiling on live scheduled events.
// Exceeding it is a host programming error, not a guest-observable fault.
const MaxQueueDepth = 4096

// Scheduler owns the monotonic simulated-cycle counter and the ordered
// queue of pending events. It has no goroutines and no locking: it is
// driven entirely from the single simulation thread.
type Scheduler struct {
	now   uint64
	seq   uint64
	queue eventHeap
}

// NewScheduler returns a Scheduler with the cycle counter at zero.
func NewScheduler() *Scheduler {
	return &Scheduler{}
}

// Now returns the current simulated cycle.
func (s *Scheduler) Now() uint64 {
	return s.now
}

// Schedule enqueues fn to run at Now()+delta. Rescheduling a kind that
// already has a live event yields two live events for EventUser; callers
// scheduling timer/UART kinds must Cancel first to preserve the
// at-most-one-live invariant.
func (s *Scheduler) Schedule(delta uint64, kind EventKind, arg int32, fn Callback) error {
	if len(s.queue) >= MaxQueueDepth {
		return fmt.Errorf("erc32: scheduler queue overflow (depth %d) scheduling %s", MaxQueueDepth, kind)
	}
	s.seq++
	heap.Push(&s.queue, &event{
		deadline: s.now + delta,
		seq:      s.seq,
		kind:     kind,
		arg:      arg,
		fn:       fn,
	})
	return nil
}

// Cancel removes any pending event of the given kind. It is a linear scan,
// which is the natural cost of enforcing "at most one live event per kind"
// against a tagged enum instead of holding a handle per device.
func (s *Scheduler) Cancel(kind EventKind) {
	if len(s.queue) == 0 {
		return
	}
	kept := s.queue[:0]
	for _, e := range s.queue {
		if e.kind != kind {
			kept = append(kept, e)
		}
	}
	s.queue = kept
	heap.Init(&s.queue)
}

// CancelAll empties the queue. Called from machine reset.
func (s *Scheduler) CancelAll() {
	s.queue = s.queue[:0]
}

// Pending reports whether an event of the given kind is currently queued.
func (s *Scheduler) Pending(kind EventKind) bool {
	for _, e := range s.queue {
		if e.kind == kind {
			return true
		}
	}
	return false
}

// NextDeadline returns the deadline of the earliest pending event and true,
// or (0, false) if the queue is empty.
func (s *Scheduler) NextDeadline() (uint64, bool) {
	if len(s.queue) == 0 {
		return 0, false
	}
	return s.queue[0].deadline, true
}

// AdvanceTo pops and fires every event with deadline <= target, in
// (deadline, insertion order). A fired callback may enqueue further events,
// including ones due at or before target, which then fire before
// AdvanceTo returns. The cycle counter is left at max(previous now, target)
// regardless of how many events fired.
func (s *Scheduler) AdvanceTo(target uint64) {
	for len(s.queue) > 0 && s.queue[0].deadline <= target {
		e := heap.Pop(&s.queue).(*event)
		s.now = e.deadline
		e.fn(e.arg)
	}
	if target > s.now {
		s.now = target
	}
}
