// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package session controls the LoRaWAN session of one end-device. It reacts
// to the events of a MAC engine, schedules uplinks and drains downlinks, all
// on the engine's single dispatch queue.
package session

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Thermoquad/lorastat/pkg/lorawan"
)

// Controller is the session state machine. All methods except State and ID
// must run on the dispatch queue.
type Controller struct {
	cfg      Config
	engine   lorawan.Engine
	queue    lorawan.Queue
	reporter Reporter
	log      zerolog.Logger
	clock    func() time.Time
	id       string

	state    State
	started  bool
	sched    *Scheduler
	downlink *Downlink
}

// Option configures a Controller
type Option func(*Controller)

// WithReporter sets where reports go. The default discards them.
func WithReporter(r Reporter) Option {
	return func(c *Controller) {
		c.reporter = r
	}
}

// WithLogger sets the diagnostic logger
func WithLogger(l zerolog.Logger) Option {
	return func(c *Controller) {
		c.log = l
	}
}

// WithClock sets the clock used to timestamp reports
func WithClock(now func() time.Time) Option {
	return func(c *Controller) {
		c.clock = now
	}
}

// WithSessionID overrides the generated session id
func WithSessionID(id string) Option {
	return func(c *Controller) {
		c.id = id
	}
}

// NewController validates cfg and builds a controller with its scheduler and
// downlink consumer
func NewController(cfg Config, engine lorawan.Engine, queue lorawan.Queue, opts ...Option) (*Controller, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if engine == nil || queue == nil {
		return nil, fmt.Errorf("session: engine and queue are required")
	}

	c := &Controller{
		cfg:      cfg,
		engine:   engine,
		queue:    queue,
		reporter: discard{},
		log:      zerolog.Nop(),
		clock:    time.Now,
		id:       uuid.NewString(),
		state:    StateUninitialized,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.With().Str("session", c.id).Logger()
	c.sched = newScheduler(c)
	c.downlink = newDownlink(c)
	return c, nil
}

// ID returns the session id stamped on every report
func (c *Controller) ID() string {
	return c.id
}

// Config returns the session configuration
func (c *Controller) Config() Config {
	return c.cfg
}

// State returns the current device state
func (c *Controller) State() State {
	return c.state
}

// Scheduler returns the uplink scheduler
func (c *Controller) Scheduler() *Scheduler {
	return c.sched
}

// Run performs the initialization sequence and dispatches events until
// DISCONNECTED or ctx is done
func (c *Controller) Run(ctx context.Context) error {
	if err := c.Start(); err != nil {
		return err
	}
	return c.queue.DispatchForever(ctx)
}

// HandleEvent is the engine's event handler
func (c *Controller) HandleEvent(e lorawan.Event) {
	if c.state == StateDisconnected {
		c.log.Debug().Stringer("event", e).Msg("ignoring event after disconnect")
		return
	}
	c.log.Debug().Stringer("event", e).Stringer("state", c.state).Msg("event")

	switch e {
	case lorawan.Connected:
		c.setState(StateJoinedIdle)
		c.report(Report{Kind: KindConnected, Event: e})
		c.applyDataRate()
		c.sched.Start()

	case lorawan.Disconnected:
		c.queue.BreakDispatch()
		c.setState(StateDisconnected)
		c.report(Report{Kind: KindDisconnected, Event: e})

	case lorawan.TxDone:
		c.txSettled()
		c.report(Report{Kind: KindTxDone, Event: e})
		c.reportTxMetadata()
		c.applyDataRate()
		c.sched.Trigger()

	case lorawan.TxTimeout, lorawan.TxError:
		c.txSettled()
		c.report(Report{Kind: KindTxFailed, Event: e})

	case lorawan.TxCryptoError, lorawan.TxSchedulingError:
		c.txSettled()
		c.report(Report{Kind: KindTxRetry, Event: e})
		c.sched.Trigger()

	case lorawan.RxDone:
		c.downlink.DrainAndReport()

	case lorawan.RxTimeout, lorawan.RxError:
		c.report(Report{Kind: KindRxFailed, Event: e})

	case lorawan.JoinFailure:
		// Rejoin is left to whoever supervises the process
		c.report(Report{Kind: KindJoinFailure, Event: e})

	case lorawan.UplinkRequired:
		c.report(Report{Kind: KindUplinkRequired, Event: e})
		c.sched.Trigger()

	default:
		c.queue.BreakDispatch()
		c.log.Error().Uint8("event", uint8(e)).Msg("unknown event from engine")
		panic(&ContractViolation{Event: e})
	}
}

// txSettled returns to idle once the outcome of a submitted uplink is known
func (c *Controller) txSettled() {
	if c.state == StateJoinedAwaitingTx {
		c.setState(StateJoinedIdle)
	}
}

func (c *Controller) setState(s State) {
	if c.state == s {
		return
	}
	c.log.Debug().Stringer("from", c.state).Stringer("to", s).Msg("state")
	c.state = s
}

// applyDataRate re-applies the configured data rate when ADR is off. A join
// may leave the engine on a different data rate.
func (c *Controller) applyDataRate() {
	if c.cfg.ADR {
		return
	}
	if err := c.engine.SetDataRate(c.cfg.DataRate); err != nil {
		c.log.Warn().Err(err).Uint8("dr", c.cfg.DataRate).Msg("set data rate failed")
		c.report(Report{Kind: KindDataRateError, DataRate: c.cfg.DataRate, Status: lorawan.Code(err)})
		return
	}
	c.report(Report{Kind: KindDataRate, DataRate: c.cfg.DataRate})
}

func (c *Controller) reportTxMetadata() {
	meta, err := c.engine.TxMetadata()
	if err != nil {
		c.report(Report{Kind: KindTxMetadataError, Status: lorawan.Code(err)})
		return
	}
	c.report(Report{Kind: KindTxMetadata, Metadata: meta})
}

func (c *Controller) report(r Report) {
	r.Time = c.clock()
	r.Session = c.id
	r.State = c.state
	c.reporter.Report(r)
}
