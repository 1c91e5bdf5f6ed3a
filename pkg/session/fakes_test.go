// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package session

import (
	"context"
	"time"

	"github.com/Thermoquad/lorastat/pkg/lorawan"
)

// ============================================================
// Recording engine
// ============================================================

type uplink struct {
	port  uint8
	data  []byte
	flags lorawan.MsgFlags
}

type sendResult struct {
	n   int
	err error
}

type downlinkResult struct {
	port uint8
	data []byte
	n    int // reported count; len(data) when zero
	err  error
}

type fakeEngine struct {
	handler lorawan.EventHandler
	queue   lorawan.Queue
	calls   []string

	initErr    error
	retriesErr error
	adrErr     error
	connectErr error

	retries uint8
	adr     bool

	// consumed in order; a successful full send once exhausted
	sendResults []sendResult
	uplinks     []uplink

	dataRateErr error
	dataRates   []uint8

	downlink downlinkResult

	meta    lorawan.TxMetadata
	metaErr error
}

func (f *fakeEngine) Initialize(q lorawan.Queue) error {
	f.calls = append(f.calls, "initialize")
	f.queue = q
	return f.initErr
}

func (f *fakeEngine) SetEventHandler(h lorawan.EventHandler) {
	f.calls = append(f.calls, "handler")
	f.handler = h
}

func (f *fakeEngine) SetConfirmedMsgRetries(count uint8) error {
	f.calls = append(f.calls, "retries")
	f.retries = count
	return f.retriesErr
}

func (f *fakeEngine) EnableADR(enabled bool) error {
	f.calls = append(f.calls, "adr")
	f.adr = enabled
	return f.adrErr
}

func (f *fakeEngine) Connect() error {
	f.calls = append(f.calls, "connect")
	return f.connectErr
}

func (f *fakeEngine) Send(port uint8, data []byte, flags lorawan.MsgFlags) (int, error) {
	f.uplinks = append(f.uplinks, uplink{port: port, data: append([]byte(nil), data...), flags: flags})
	if len(f.sendResults) == 0 {
		return len(data), nil
	}
	r := f.sendResults[0]
	f.sendResults = f.sendResults[1:]
	return r.n, r.err
}

func (f *fakeEngine) Receive(buf []byte) (uint8, int, error) {
	d := f.downlink
	if d.err != nil {
		return 0, 0, d.err
	}
	n := d.n
	if n == 0 {
		n = len(d.data)
	}
	if n <= len(buf) {
		copy(buf, d.data)
	}
	return d.port, n, nil
}

func (f *fakeEngine) SetDataRate(dr uint8) error {
	f.dataRates = append(f.dataRates, dr)
	return f.dataRateErr
}

func (f *fakeEngine) TxMetadata() (lorawan.TxMetadata, error) {
	return f.meta, f.metaErr
}

// deliver posts e to the handler through the queue, as an engine does
func (f *fakeEngine) deliver(e lorawan.Event) func() {
	return func() {
		f.queue.Post(func() { f.handler(e) })
	}
}

// ============================================================
// Manual queue
// ============================================================

type armed struct {
	delay    time.Duration
	periodic bool
	fn       func()
}

// manualQueue records timers instead of running them
type manualQueue struct {
	posted  []func()
	timers  []armed
	stopped bool
}

func (q *manualQueue) Post(fn func()) error {
	q.posted = append(q.posted, fn)
	return nil
}

func (q *manualQueue) CallIn(delay time.Duration, fn func()) {
	q.timers = append(q.timers, armed{delay: delay, fn: fn})
}

func (q *manualQueue) CallEvery(period time.Duration, fn func()) {
	q.timers = append(q.timers, armed{delay: period, periodic: true, fn: fn})
}

func (q *manualQueue) DispatchForever(ctx context.Context) error {
	for len(q.posted) > 0 && !q.stopped {
		fn := q.posted[0]
		q.posted = q.posted[1:]
		fn()
	}
	return ctx.Err()
}

func (q *manualQueue) BreakDispatch() {
	q.stopped = true
}

// fire runs timer i; one-shot timers are removed
func (q *manualQueue) fire(i int) {
	t := q.timers[i]
	if !t.periodic {
		q.timers = append(q.timers[:i], q.timers[i+1:]...)
	}
	t.fn()
}

// ============================================================
// Report recorder
// ============================================================

type recorder struct {
	reports []Report
}

func (r *recorder) Report(rep Report) {
	r.reports = append(r.reports, rep)
}

func (r *recorder) kinds() []ReportKind {
	kinds := make([]ReportKind, 0, len(r.reports))
	for _, rep := range r.reports {
		kinds = append(kinds, rep.Kind)
	}
	return kinds
}

func (r *recorder) last(kind ReportKind) (Report, bool) {
	for i := len(r.reports) - 1; i >= 0; i-- {
		if r.reports[i].Kind == kind {
			return r.reports[i], true
		}
	}
	return Report{}, false
}

func (r *recorder) count(kind ReportKind) int {
	n := 0
	for _, rep := range r.reports {
		if rep.Kind == kind {
			n++
		}
	}
	return n
}
