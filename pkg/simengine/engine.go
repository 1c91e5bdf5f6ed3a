// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package simengine is a simulated LoRaWAN MAC engine. It joins, transmits
// and receives on a virtual clock, drawing outcomes from a named random
// stream so that runs are reproducible.
package simengine

import (
	"time"

	"github.com/iti/rngstream"
	"github.com/rs/zerolog"

	"github.com/Thermoquad/lorastat/pkg/lorawan"
	"github.com/Thermoquad/lorastat/pkg/region"
)

// Model holds the probabilities and timings of the simulated network
type Model struct {
	JoinDelay    time.Duration // per join attempt
	JoinAttempts int           // attempts before JOIN_FAILURE
	JoinSuccess  float64       // per attempt

	RxWindows time.Duration // RX1 + RX2 after the end of the uplink

	TxTimeout       float64
	TxError         float64
	SchedulingError float64
	CryptoError     float64

	Downlink       float64 // chance a downlink follows TX_DONE
	DownlinkMaxLen int
	RxError        float64 // chance the downlink is lost as RX_ERROR
	UplinkRequired float64 // chance the network asks for another uplink

	DutyCycle float64 // allowed fraction of time on air, 0 disables the limit
	Channels  int
	TxPower   uint8
}

// DefaultModel is an EU868 device on a reasonably healthy network
func DefaultModel() Model {
	return Model{
		JoinDelay:       6 * time.Second,
		JoinAttempts:    3,
		JoinSuccess:     0.7,
		RxWindows:       2 * time.Second,
		TxTimeout:       0.01,
		TxError:         0.01,
		SchedulingError: 0.01,
		CryptoError:     0.005,
		Downlink:        0.1,
		DownlinkMaxLen:  4,
		RxError:         0.05,
		UplinkRequired:  0.2,
		DutyCycle:       0.01,
		Channels:        3,
		TxPower:         14,
	}
}

// Engine implements lorawan.Engine on a virtual clock
type Engine struct {
	model Model
	plan  *region.Plan
	rng   *rngstream.RngStream
	clock func() time.Duration
	log   zerolog.Logger

	queue   lorawan.Queue
	handler lorawan.EventHandler

	initialized bool
	joining     bool
	joined      bool
	adr         bool
	retries     uint8
	dataRate    uint8
	uplinks     uint64

	txPending bool
	busyUntil time.Duration

	meta     lorawan.TxMetadata
	hasMeta  bool
	metaRead bool

	downlink     []byte
	downlinkPort uint8
	hasDownlink  bool
}

// Option configures an Engine
type Option func(*Engine)

// WithLogger sets the diagnostic logger
func WithLogger(l zerolog.Logger) Option {
	return func(e *Engine) {
		e.log = l
	}
}

// New creates a simulated engine. name seeds the random stream; clock returns
// the current virtual time of the queue the engine will be initialized with.
func New(name string, plan *region.Plan, clock func() time.Duration, model Model, opts ...Option) *Engine {
	e := &Engine{
		model: model,
		plan:  plan,
		rng:   rngstream.New(name),
		clock: clock,
		log:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) Initialize(q lorawan.Queue) error {
	if q == nil {
		return lorawan.StatusParameterInvalid
	}
	e.queue = q
	e.initialized = true
	return nil
}

func (e *Engine) SetEventHandler(h lorawan.EventHandler) {
	e.handler = h
}

func (e *Engine) SetConfirmedMsgRetries(count uint8) error {
	if !e.initialized {
		return lorawan.StatusNotInitialized
	}
	e.retries = count
	return nil
}

func (e *Engine) EnableADR(enabled bool) error {
	if !e.initialized {
		return lorawan.StatusNotInitialized
	}
	e.adr = enabled
	return nil
}

func (e *Engine) SetDataRate(dr uint8) error {
	if !e.initialized {
		return lorawan.StatusNotInitialized
	}
	if e.adr {
		return lorawan.StatusParameterInvalid
	}
	if _, err := e.plan.DataRate(dr); err != nil {
		return lorawan.StatusDataRateInvalid
	}
	e.dataRate = dr
	return nil
}

// DataRate returns the data rate the engine is currently using
func (e *Engine) DataRate() uint8 {
	return e.dataRate
}

func (e *Engine) Connect() error {
	switch {
	case !e.initialized:
		return lorawan.StatusNotInitialized
	case e.joined:
		return lorawan.StatusAlreadyConnected
	case e.joining:
		return lorawan.StatusBusy
	}
	e.joining = true
	e.join(1)
	return lorawan.StatusConnectInProgress
}

// join runs one join attempt. Joins go out on the most robust data rate.
func (e *Engine) join(attempt int) {
	e.dataRate = 0
	e.queue.CallIn(e.model.JoinDelay, func() {
		if !e.joining {
			return
		}
		if e.rng.RandU01() < e.model.JoinSuccess {
			e.log.Debug().Int("attempt", attempt).Msg("join accepted")
			e.joining = false
			e.joined = true
			e.emit(lorawan.Connected)
			return
		}
		if attempt >= e.model.JoinAttempts {
			e.log.Debug().Int("attempts", attempt).Msg("join failed")
			e.joining = false
			e.emit(lorawan.JoinFailure)
			return
		}
		e.join(attempt + 1)
	})
}

func (e *Engine) Send(port uint8, data []byte, flags lorawan.MsgFlags) (int, error) {
	switch {
	case !e.initialized:
		return 0, lorawan.StatusNotInitialized
	case !e.joined:
		return 0, lorawan.StatusNoNetworkJoined
	case port == 0 || port > 223:
		return 0, lorawan.StatusPortInvalid
	case len(data) > 242:
		return 0, lorawan.StatusLengthError
	case e.txPending:
		return 0, lorawan.StatusWouldBlock
	}

	now := e.clock()
	if now < e.busyUntil {
		e.log.Debug().Dur("wait", e.busyUntil-now).Msg("duty cycle restricted")
		return 0, lorawan.StatusWouldBlock
	}

	airtime, err := e.plan.Airtime(e.dataRate, len(data))
	if err != nil {
		return 0, lorawan.StatusDataRateInvalid
	}
	if dc := e.model.DutyCycle; dc > 0 {
		e.busyUntil = now + time.Duration(float64(airtime)/dc)
	}

	e.txPending = true
	e.uplinks++
	var retries uint8
	if flags == lorawan.MsgConfirmed {
		retries = e.retries
	}
	meta := lorawan.TxMetadata{
		Airtime:  airtime,
		Channel:  e.channel(),
		TxPower:  e.model.TxPower,
		DataRate: e.dataRate,
		Retries:  retries,
	}
	e.log.Debug().Uint8("port", port).Int("bytes", len(data)).Dur("airtime", airtime).Msg("uplink")

	e.queue.CallIn(airtime+e.model.RxWindows, func() {
		e.txPending = false
		e.complete(meta)
	})
	return len(data), nil
}

// complete draws the outcome of an uplink once its receive windows closed
func (e *Engine) complete(meta lorawan.TxMetadata) {
	if !e.joined {
		return
	}
	u := e.rng.RandU01()
	m := e.model
	switch {
	case u < m.TxTimeout:
		e.emit(lorawan.TxTimeout)
		return
	case u < m.TxTimeout+m.TxError:
		e.emit(lorawan.TxError)
		return
	case u < m.TxTimeout+m.TxError+m.SchedulingError:
		e.emit(lorawan.TxSchedulingError)
		return
	case u < m.TxTimeout+m.TxError+m.SchedulingError+m.CryptoError:
		e.emit(lorawan.TxCryptoError)
		return
	}

	e.meta = meta
	e.hasMeta = true
	e.metaRead = false
	e.adaptDataRate()
	e.emit(lorawan.TxDone)

	if e.rng.RandU01() >= m.Downlink {
		return
	}
	if e.rng.RandU01() < m.RxError {
		e.emit(lorawan.RxError)
		return
	}
	e.stageDownlink()
	e.emit(lorawan.RxDone)
	if e.rng.RandU01() < m.UplinkRequired {
		e.emit(lorawan.UplinkRequired)
	}
}

// adaptDataRate steps the data rate up every ten uplinks while ADR is on
func (e *Engine) adaptDataRate() {
	if !e.adr || e.uplinks%10 != 0 {
		return
	}
	if _, err := e.plan.DataRate(e.dataRate + 1); err == nil && e.dataRate < 5 {
		e.dataRate++
		e.log.Debug().Uint8("dr", e.dataRate).Msg("ADR step")
	}
}

func (e *Engine) stageDownlink() {
	n := 1 + e.randInt(e.model.DownlinkMaxLen)
	data := make([]byte, n)
	for i := range data {
		data[i] = byte(e.randInt(256))
	}
	e.downlink = data
	e.downlinkPort = uint8(1 + e.randInt(223))
	e.hasDownlink = true
}

func (e *Engine) Receive(buf []byte) (uint8, int, error) {
	if !e.initialized {
		return 0, 0, lorawan.StatusNotInitialized
	}
	if !e.hasDownlink {
		return 0, 0, lorawan.StatusWouldBlock
	}
	e.hasDownlink = false
	n := len(e.downlink)
	if n <= len(buf) {
		copy(buf, e.downlink)
	}
	return e.downlinkPort, n, nil
}

func (e *Engine) TxMetadata() (lorawan.TxMetadata, error) {
	if !e.hasMeta {
		return lorawan.TxMetadata{}, lorawan.StatusMetadataNotAvailable
	}
	m := e.meta
	m.Stale = e.metaRead
	e.metaRead = true
	return m, nil
}

// Disconnect tears the session down and delivers DISCONNECTED
func (e *Engine) Disconnect() {
	e.joined = false
	e.joining = false
	e.emit(lorawan.Disconnected)
}

// emit delivers an event through the queue
func (e *Engine) emit(ev lorawan.Event) {
	if e.handler == nil {
		return
	}
	h := e.handler
	if err := e.queue.Post(func() { h(ev) }); err != nil {
		e.log.Debug().Err(err).Stringer("event", ev).Msg("event dropped")
	}
}

func (e *Engine) channel() uint8 {
	if e.model.Channels <= 1 {
		return 0
	}
	return uint8(e.randInt(e.model.Channels))
}

// randInt returns a uniform integer in [0, n)
func (e *Engine) randInt(n int) int {
	if n <= 1 {
		return 0
	}
	v := int(e.rng.RandU01() * float64(n))
	if v >= n {
		v = n - 1
	}
	return v
}
