// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package eventqueue

import (
	"context"
	"time"

	"github.com/iti/evt/evtm"
	"github.com/iti/evt/vrtime"
)

// Sim is a virtual-time dispatch loop backed by an evtm event manager. Time
// only advances when the next task is due, so a day of session traffic runs
// in milliseconds.
//
// Tasks that share a deadline are kept in one bucket and run in the order they
// were scheduled; the event manager only sees one event per bucket.
type Sim struct {
	mgr     *evtm.EventManager
	horizon time.Duration
	now     time.Duration
	buckets map[time.Duration][]func()
	stopped bool
	ctx     context.Context
}

// NewSim creates a virtual-time loop that dispatches until BreakDispatch is
// called or the virtual clock passes horizon.
func NewSim(horizon time.Duration) *Sim {
	return &Sim{
		mgr:     evtm.New(),
		horizon: horizon,
		buckets: make(map[time.Duration][]func()),
		ctx:     context.Background(),
	}
}

// Now returns the current virtual time since the start of the run
func (s *Sim) Now() time.Duration {
	return s.now
}

// Post queues fn behind everything already due at the current virtual time
func (s *Sim) Post(fn func()) error {
	if s.stopped {
		return ErrStopped
	}
	s.at(s.now, fn)
	return nil
}

// CallIn runs fn once, delay after the current virtual time
func (s *Sim) CallIn(delay time.Duration, fn func()) {
	if delay < 0 {
		delay = 0
	}
	s.at(s.now+delay, fn)
}

// CallEvery runs fn every period until the loop stops
func (s *Sim) CallEvery(period time.Duration, fn func()) {
	if period <= 0 {
		panic("eventqueue: non-positive period")
	}
	var tick func()
	tick = func() {
		fn()
		if !s.stopped {
			s.at(s.now+period, tick)
		}
	}
	s.at(s.now+period, tick)
}

// Pending returns the number of tasks waiting to run
func (s *Sim) Pending() int {
	n := 0
	for _, b := range s.buckets {
		n += len(b)
	}
	return n
}

func (s *Sim) at(deadline time.Duration, fn func()) {
	bucket, exists := s.buckets[deadline]
	s.buckets[deadline] = append(bucket, fn)
	if exists {
		return
	}
	offset := deadline - s.now
	s.mgr.Schedule(s, deadline, fireBucket, vrtime.SecondsToTime(offset.Seconds()))
}

// fireBucket is the evtm handler for one deadline. Tasks appended to the
// bucket while it runs (Post from inside a task) run in the same pass.
func fireBucket(evtMgr *evtm.EventManager, cxt any, data any) any {
	s := cxt.(*Sim)
	deadline := data.(time.Duration)

	if s.stopped || s.ctx.Err() != nil {
		delete(s.buckets, deadline)
		return nil
	}

	s.now = deadline
	for i := 0; i < len(s.buckets[deadline]); i++ {
		if s.stopped || s.ctx.Err() != nil {
			break
		}
		s.buckets[deadline][i]()
	}
	delete(s.buckets, deadline)
	return nil
}

// BreakDispatch stops the run; nothing scheduled runs afterwards
func (s *Sim) BreakDispatch() {
	s.stopped = true
}

// Stopped reports whether BreakDispatch has been called
func (s *Sim) Stopped() bool {
	return s.stopped
}

// DispatchForever runs the event manager until the loop is stopped, the
// horizon is reached, or nothing is left to run.
func (s *Sim) DispatchForever(ctx context.Context) error {
	s.ctx = ctx
	s.mgr.Run(s.horizon.Seconds())
	return ctx.Err()
}
