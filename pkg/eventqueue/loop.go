// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package eventqueue provides single-threaded dispatch loops that serialize
// engine events and application timers onto one logical thread of control.
package eventqueue

import (
	"container/heap"
	"context"
	"errors"
	"sync"
	"time"
)

var (
	// ErrStopped is returned by Post once the loop has been told to stop
	ErrStopped = errors.New("eventqueue: dispatch stopped")

	// ErrIngressFull is returned by Post when the ingress backlog is full
	ErrIngressFull = errors.New("eventqueue: ingress queue full")
)

// DefaultIngressSize bounds the backlog of events posted from other goroutines
const DefaultIngressSize = 64

// timer is a scheduled task. seq breaks ties between equal deadlines so that
// timers fire in the order they were scheduled.
type timer struct {
	when   time.Time
	seq    uint64
	period time.Duration
	fn     func()
}

// timerHeap is a min-heap on (when, seq)
type timerHeap []*timer

func (h timerHeap) Len() int { return len(h) }
func (h timerHeap) Less(i, j int) bool {
	if h[i].when.Equal(h[j].when) {
		return h[i].seq < h[j].seq
	}
	return h[i].when.Before(h[j].when)
}
func (h timerHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *timerHeap) Push(x any) {
	*h = append(*h, x.(*timer))
}

func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return x
}

// Loop is a wall-clock dispatch loop. Timers live in a heap owned by the loop
// goroutine; other goroutines reach the loop only through Post.
type Loop struct {
	ingress chan func()
	timers  timerHeap
	seq     uint64
	now     func() time.Time

	stopOnce sync.Once
	stopCh   chan struct{}
}

// Option configures a Loop
type Option func(*Loop)

// WithIngressSize sets the capacity of the cross-goroutine ingress queue
func WithIngressSize(n int) Option {
	return func(l *Loop) {
		l.ingress = make(chan func(), n)
	}
}

// NewLoop creates a dispatch loop that is not yet running
func NewLoop(opts ...Option) *Loop {
	l := &Loop{
		ingress: make(chan func(), DefaultIngressSize),
		now:     time.Now,
		stopCh:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Post queues fn to run on the loop. Safe for concurrent use.
func (l *Loop) Post(fn func()) error {
	select {
	case <-l.stopCh:
		return ErrStopped
	default:
	}
	select {
	case l.ingress <- fn:
		return nil
	default:
		return ErrIngressFull
	}
}

// PostWait queues fn like Post but waits for room in the ingress queue
// instead of failing. It returns ErrStopped if the loop stops first, and must
// not be called from the loop goroutine.
func (l *Loop) PostWait(fn func()) error {
	select {
	case <-l.stopCh:
		return ErrStopped
	default:
	}
	select {
	case l.ingress <- fn:
		return nil
	case <-l.stopCh:
		return ErrStopped
	}
}

// CallIn runs fn once after delay
func (l *Loop) CallIn(delay time.Duration, fn func()) {
	l.schedule(delay, 0, fn)
}

// CallEvery runs fn every period until the loop stops
func (l *Loop) CallEvery(period time.Duration, fn func()) {
	if period <= 0 {
		panic("eventqueue: non-positive period")
	}
	l.schedule(period, period, fn)
}

func (l *Loop) schedule(delay, period time.Duration, fn func()) {
	l.seq++
	heap.Push(&l.timers, &timer{
		when:   l.now().Add(delay),
		seq:    l.seq,
		period: period,
		fn:     fn,
	})
}

// Pending returns the number of armed timers
func (l *Loop) Pending() int {
	return len(l.timers)
}

// BreakDispatch asks DispatchForever to return. The task currently running
// completes; nothing else runs afterwards.
func (l *Loop) BreakDispatch() {
	l.stopOnce.Do(func() {
		close(l.stopCh)
	})
}

// Stopped reports whether BreakDispatch has been called
func (l *Loop) Stopped() bool {
	select {
	case <-l.stopCh:
		return true
	default:
		return false
	}
}

// DispatchForever runs posted tasks and due timers until BreakDispatch is
// called (returns nil) or ctx is done (returns ctx.Err()).
func (l *Loop) DispatchForever(ctx context.Context) error {
	wait := time.NewTimer(time.Hour)
	defer wait.Stop()

	for !l.Stopped() {
		l.runDueTimers()
		if l.Stopped() {
			break
		}

		var deadline <-chan time.Time
		if len(l.timers) > 0 {
			if !wait.Stop() {
				select {
				case <-wait.C:
				default:
				}
			}
			wait.Reset(l.timers[0].when.Sub(l.now()))
			deadline = wait.C
		}

		select {
		case fn := <-l.ingress:
			if l.Stopped() {
				return nil
			}
			fn()
		case <-deadline:
		case <-l.stopCh:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// runDueTimers fires every timer whose deadline has passed, in deadline order
func (l *Loop) runDueTimers() {
	now := l.now()
	for len(l.timers) > 0 && !l.Stopped() {
		next := l.timers[0]
		if next.when.After(now) {
			return
		}
		heap.Pop(&l.timers)
		if next.period > 0 {
			next.when = next.when.Add(next.period)
			l.seq++
			next.seq = l.seq
			heap.Push(&l.timers, next)
		}
		next.fn()
	}
}
