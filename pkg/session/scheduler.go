// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package session

import (
	"errors"

	"github.com/Thermoquad/lorastat/pkg/lorawan"
)

// Scheduler decides when the next uplink is built and submitted. It owns the
// transmit buffer and the would-block retry timer.
type Scheduler struct {
	ctl *Controller
	buf []byte
	seq uint32

	// seq wraps to zero here so the counter always fits buf
	seqWrap uint64

	retryPending  bool
	periodicArmed bool
}

func newScheduler(ctl *Controller) *Scheduler {
	return &Scheduler{
		ctl:     ctl,
		buf:     make([]byte, ctl.cfg.TxBufferSize),
		seqWrap: seqLimit(ctl.cfg.Payload, ctl.cfg.TxBufferSize),
	}
}

// Seq returns the sequence number the next uplink will carry
func (s *Scheduler) Seq() uint32 {
	return s.seq
}

// RetryPending reports whether a would-block retry timer is armed
func (s *Scheduler) RetryPending() bool {
	return s.retryPending
}

// Start begins sending after a join. Duty-cycle mode sends right away;
// fixed-interval mode arms the periodic timer the first time only.
func (s *Scheduler) Start() {
	if s.ctl.cfg.DutyCycle {
		s.Send()
		return
	}
	if s.periodicArmed {
		return
	}
	s.periodicArmed = true
	s.ctl.queue.CallEvery(s.ctl.cfg.TxInterval, s.tick)
	s.ctl.report(Report{Kind: KindPeriodicArmed, Delay: s.ctl.cfg.TxInterval})
}

// Trigger is an opportunistic send. It only sends in duty-cycle mode; in
// fixed-interval mode the periodic timer is the only trigger.
func (s *Scheduler) Trigger() {
	if s.ctl.cfg.DutyCycle {
		s.Send()
	}
}

func (s *Scheduler) tick() {
	s.Send()
}

func (s *Scheduler) retry() {
	s.retryPending = false
	s.Send()
}

// Send builds the next payload into the transmit buffer and submits it as an
// unconfirmed uplink
func (s *Scheduler) Send() error {
	ctl := s.ctl
	if !ctl.state.Joined() {
		ctl.report(Report{Kind: KindSendRefused})
		return ErrNotJoined
	}

	n, err := encodePayload(ctl.cfg.Payload, s.buf, s.seq)
	if err != nil {
		ctl.report(Report{Kind: KindPayloadError, Seq: s.seq, Detail: err.Error()})
		return err
	}

	sent, err := ctl.engine.Send(ctl.cfg.AppPort, s.buf[:n], lorawan.MsgUnconfirmed)
	if err == nil && sent < 0 {
		err = lorawan.Status(sent)
	}
	if err != nil {
		return s.sendFailed(err)
	}

	ctl.report(Report{Kind: KindUplinkScheduled, Seq: s.seq, Bytes: sent, Port: ctl.cfg.AppPort})
	clear(s.buf)
	s.seq++
	if s.seqWrap != 0 && uint64(s.seq) >= s.seqWrap {
		s.seq = 0
	}
	ctl.setState(StateJoinedAwaitingTx)
	return nil
}

func (s *Scheduler) sendFailed(err error) error {
	ctl := s.ctl
	if !errors.Is(err, lorawan.StatusWouldBlock) {
		ctl.log.Warn().Err(err).Msg("send failed")
		ctl.report(Report{Kind: KindSendError, Seq: s.seq, Status: lorawan.Code(err)})
		return err
	}

	ctl.report(Report{Kind: KindWouldBlock, Seq: s.seq, Status: lorawan.StatusWouldBlock})
	if !ctl.cfg.DutyCycle || s.retryPending {
		return err
	}
	s.retryPending = true
	ctl.queue.CallIn(ctl.cfg.RetryDelay, s.retry)
	ctl.report(Report{Kind: KindRetryArmed, Delay: ctl.cfg.RetryDelay})
	return err
}
