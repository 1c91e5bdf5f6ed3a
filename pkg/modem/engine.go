// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package modem drives a LoRaWAN modem that speaks the Wio-E5 AT command set
// over a serial or WebSocket link, and presents it as a lorawan.Engine.
//
// Initialization commands are request/response and run before dispatch
// starts. Once the session is running, commands are written without waiting
// and every modem line is handed to the dispatch queue, so engine state is
// only touched on the loop.
package modem

import (
	"bufio"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Thermoquad/lorastat/pkg/eventqueue"
	"github.com/Thermoquad/lorastat/pkg/lorawan"
	"github.com/Thermoquad/lorastat/pkg/region"
)

// MaxPayload is the largest application payload the modem accepts
const MaxPayload = 242

type request struct {
	prefix string
	reply  chan string
}

type uplink struct {
	id       uint64
	meta     lorawan.TxMetadata
	fpending bool
}

// Engine implements lorawan.Engine on top of an AT modem
type Engine struct {
	rw   io.ReadWriter
	cfg  Config
	plan *region.Plan
	log  zerolog.Logger
	now  func() time.Time

	queue   lorawan.Queue
	handler lorawan.EventHandler

	writeMu sync.Mutex
	mu      sync.Mutex
	waiting *request
	done    chan struct{}

	// owned by the dispatch loop once Initialize returns
	initialized bool
	joining     bool
	joinOK      bool
	joined      bool
	adr         bool
	retries     uint8
	dataRate    uint8
	port        uint8

	txSeq     uint64
	tx        *uplink
	busyUntil time.Time

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

// WithClock replaces the wall clock used for duty-cycle accounting
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// New wraps a modem link. Nothing is written until Initialize.
func New(rw io.ReadWriter, plan *region.Plan, cfg Config, opts ...Option) *Engine {
	e := &Engine{
		rw:   rw,
		cfg:  cfg,
		plan: plan,
		log:  zerolog.Nop(),
		now:  time.Now,
		done: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Done is closed when the modem link is gone
func (e *Engine) Done() <-chan struct{} {
	return e.done
}

func (e *Engine) Initialize(q lorawan.Queue) error {
	if q == nil {
		return lorawan.StatusParameterInvalid
	}
	if e.initialized {
		return nil
	}
	e.queue = q
	go e.readLoop()

	steps := [][2]string{
		{"AT", "+AT:"},
		{"AT+MODE=LWOTAA", "+MODE:"},
		{"AT+DR=" + e.plan.Name(), "+DR:"},
	}
	if e.cfg.DevEUI != zeroEUI {
		steps = append(steps, [2]string{fmt.Sprintf(`AT+ID=DevEui,"%s"`, upperHex(e.cfg.DevEUI[:])), "+ID:"})
	}
	if e.cfg.JoinEUI != zeroEUI {
		steps = append(steps, [2]string{fmt.Sprintf(`AT+ID=AppEui,"%s"`, upperHex(e.cfg.JoinEUI[:])), "+ID:"})
	}
	if e.cfg.AppKey != zeroKey {
		steps = append(steps, [2]string{fmt.Sprintf(`AT+KEY=APPKEY,"%s"`, upperHex(e.cfg.AppKey[:])), "+KEY:"})
	}
	if e.cfg.TxPower > 0 {
		steps = append(steps, [2]string{fmt.Sprintf("AT+POWER=%d", e.cfg.TxPower), "+POWER:"})
	}

	for _, s := range steps {
		if _, err := e.command(s[0], s[1]); err != nil {
			return err
		}
	}
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
	if _, err := e.command(fmt.Sprintf("AT+RETRY=%d", count), "+RETRY:"); err != nil {
		return err
	}
	e.retries = count
	return nil
}

func (e *Engine) EnableADR(enabled bool) error {
	if !e.initialized {
		return lorawan.StatusNotInitialized
	}
	arg := "OFF"
	if enabled {
		arg = "ON"
	}
	if _, err := e.command("AT+ADR="+arg, "+ADR:"); err != nil {
		return err
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
	if err := e.write(fmt.Sprintf("AT+DR=%d", dr)); err != nil {
		return err
	}
	e.dataRate = dr
	return nil
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
	if err := e.write("AT+JOIN"); err != nil {
		return err
	}
	e.joining = true
	e.joinOK = false
	return lorawan.StatusConnectInProgress
}

func (e *Engine) Send(port uint8, data []byte, flags lorawan.MsgFlags) (int, error) {
	switch {
	case !e.initialized:
		return 0, lorawan.StatusNotInitialized
	case !e.joined:
		return 0, lorawan.StatusNoNetworkJoined
	case port == 0 || port > 223:
		return 0, lorawan.StatusPortInvalid
	case len(data) > MaxPayload:
		return 0, lorawan.StatusLengthError
	case e.tx != nil:
		return 0, lorawan.StatusWouldBlock
	}

	now := e.now()
	if now.Before(e.busyUntil) {
		e.log.Debug().Dur("wait", e.busyUntil.Sub(now)).Msg("duty cycle restricted")
		return 0, lorawan.StatusWouldBlock
	}

	dr := e.dataRate
	airtime, err := e.plan.Airtime(dr, len(data))
	if err != nil {
		return 0, lorawan.StatusDataRateInvalid
	}

	if port != e.port {
		if err := e.write(fmt.Sprintf("AT+PORT=%d", port)); err != nil {
			return 0, err
		}
		e.port = port
	}
	cmd := "AT+MSGHEX"
	var retries uint8
	if flags == lorawan.MsgConfirmed {
		cmd = "AT+CMSGHEX"
		retries = e.retries
	}
	if err := e.write(fmt.Sprintf(`%s="%s"`, cmd, upperHex(data))); err != nil {
		return 0, err
	}

	if dc := e.cfg.DutyCycle; dc > 0 {
		e.busyUntil = now.Add(time.Duration(float64(airtime) / dc))
	}
	e.txSeq++
	id := e.txSeq
	e.tx = &uplink{
		id: id,
		meta: lorawan.TxMetadata{
			Airtime:  airtime,
			TxPower:  e.cfg.TxPower,
			DataRate: dr,
			Retries:  retries,
		},
	}
	e.queue.CallIn(e.cfg.TxTimeout, func() {
		if e.tx == nil || e.tx.id != id {
			return
		}
		e.log.Warn().Uint64("tx", id).Msg("no Done from modem")
		e.tx = nil
		e.emit(lorawan.TxTimeout)
	})
	return len(data), nil
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

// ============================================================
// Modem link
// ============================================================

// readLoop hands every modem line either to the command waiting for it or to
// the dispatch loop. It ends when the link does.
func (e *Engine) readLoop() {
	defer close(e.done)

	scanner := bufio.NewScanner(e.rw)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		e.log.Debug().Str("rx", line).Msg("modem")
		if e.deliver(line) {
			continue
		}
		if err := e.post(func() { e.handleLine(line) }); err != nil {
			e.log.Debug().Err(err).Str("line", line).Msg("modem line dropped")
		}
	}

	err := scanner.Err()
	if err == nil {
		err = io.EOF
	}
	if err := e.post(func() { e.lost(err) }); err != nil {
		e.log.Debug().Err(err).Msg("link loss not delivered")
	}
}

// deliver passes line to a waiting command if it is that command's reply
func (e *Engine) deliver(line string) bool {
	e.mu.Lock()
	req := e.waiting
	if req == nil || !strings.HasPrefix(line, req.prefix) {
		e.mu.Unlock()
		return false
	}
	e.waiting = nil
	e.mu.Unlock()

	req.reply <- line
	return true
}

// command writes cmd and waits for the first line starting with prefix
func (e *Engine) command(cmd, prefix string) (string, error) {
	req := &request{prefix: prefix, reply: make(chan string, 1)}
	e.mu.Lock()
	e.waiting = req
	e.mu.Unlock()

	if err := e.write(cmd); err != nil {
		e.clearWaiting(req)
		return "", &CommandError{Command: cmd, Err: err}
	}

	timer := time.NewTimer(e.cfg.CommandTimeout)
	defer timer.Stop()

	select {
	case line := <-req.reply:
		_, body, _ := splitReply(line)
		if code, ok := errorCode(body); ok {
			return "", &CommandError{Command: cmd, Reply: line, Err: statusForError(code)}
		}
		return body, nil
	case <-e.done:
		e.clearWaiting(req)
		return "", &CommandError{Command: cmd, Err: lorawan.StatusDeviceOff}
	case <-timer.C:
		e.clearWaiting(req)
		return "", &CommandError{Command: cmd, Err: ErrTimeout}
	}
}

func (e *Engine) clearWaiting(req *request) {
	e.mu.Lock()
	if e.waiting == req {
		e.waiting = nil
	}
	e.mu.Unlock()
}

func (e *Engine) write(cmd string) error {
	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	e.log.Debug().Str("tx", cmd).Msg("modem")
	if _, err := io.WriteString(e.rw, cmd+"\r\n"); err != nil {
		return fmt.Errorf("%w: write %s: %v", lorawan.StatusDeviceOff, cmd, err)
	}
	return nil
}

// ============================================================
// Unsolicited replies, on the dispatch loop
// ============================================================

func (e *Engine) handleLine(line string) {
	cmd, body, ok := splitReply(line)
	if !ok {
		e.log.Debug().Str("line", line).Msg("ignoring modem output")
		return
	}

	switch strings.ToUpper(cmd) {
	case "JOIN":
		e.handleJoin(body)
	case "MSGHEX", "CMSGHEX", "MSG", "CMSG":
		e.handleUplink(body)
	case "DR", "PORT":
		if _, failed := errorCode(body); failed {
			e.log.Warn().Str("reply", line).Msg("modem rejected setting")
		}
	default:
		e.log.Debug().Str("line", line).Msg("ignoring modem output")
	}
}

func (e *Engine) handleJoin(body string) {
	if !e.joining {
		return
	}
	lower := strings.ToLower(body)
	switch {
	case strings.Contains(lower, "joined already"):
		e.joinOK = true
		e.finishJoin()
	case strings.Contains(lower, "network joined"):
		e.joinOK = true
	case strings.Contains(lower, "join failed"), strings.Contains(lower, "busy"):
		e.joinOK = false
		if strings.Contains(lower, "busy") {
			e.finishJoin()
		}
	case strings.HasPrefix(lower, "done"):
		e.finishJoin()
	}
}

func (e *Engine) finishJoin() {
	e.joining = false
	if !e.joinOK {
		e.emit(lorawan.JoinFailure)
		return
	}
	e.joined = true
	// joins run on the most robust data rate
	e.dataRate = 0
	e.emit(lorawan.Connected)
}

func (e *Engine) handleUplink(body string) {
	tx := e.tx
	if tx == nil {
		e.log.Debug().Str("reply", body).Msg("uplink reply with no uplink pending")
		return
	}

	lower := strings.ToLower(body)
	switch {
	case strings.HasPrefix(lower, "start"), strings.HasPrefix(lower, "wait ack"), strings.HasPrefix(lower, "rxwin"):
		// progress
	case strings.HasPrefix(lower, "fpending"):
		tx.fpending = true
	case strings.HasPrefix(lower, "port:"):
		port, data, err := parseRX(body)
		if err != nil {
			e.log.Warn().Err(err).Msg("bad downlink report")
			e.emit(lorawan.RxError)
			return
		}
		e.downlink = data
		e.downlinkPort = port
		e.hasDownlink = true
		e.emit(lorawan.RxDone)
	case strings.HasPrefix(lower, "done"):
		e.tx = nil
		e.meta = tx.meta
		e.hasMeta = true
		e.metaRead = false
		e.emit(lorawan.TxDone)
		if tx.fpending {
			e.emit(lorawan.UplinkRequired)
		}
	case containsAny(body, blockedReplies):
		e.tx = nil
		e.busyUntil = e.now().Add(e.cfg.BusyBackoff)
		e.emit(lorawan.TxSchedulingError)
	case containsAny(body, notJoinedReplies):
		e.tx = nil
		e.joined = false
		e.emit(lorawan.TxError)
	case containsAny(body, lengthReplies):
		e.tx = nil
		e.emit(lorawan.TxError)
	default:
		if _, failed := errorCode(body); failed {
			e.tx = nil
			e.emit(lorawan.TxError)
			return
		}
		e.log.Debug().Str("reply", body).Msg("unrecognized uplink reply")
	}
}

// lost ends the session when the modem link goes away
func (e *Engine) lost(err error) {
	e.log.Error().Err(err).Msg("modem link lost")
	e.joined = false
	e.joining = false
	e.tx = nil
	e.emit(lorawan.Disconnected)
}

// waitPoster is a queue whose ingress can apply backpressure to the reader
type waitPoster interface {
	PostWait(fn func()) error
}

// post hands fn from the reader goroutine to the dispatch loop, waiting for
// room when the queue supports it
func (e *Engine) post(fn func()) error {
	if wp, ok := e.queue.(waitPoster); ok {
		return wp.PostWait(fn)
	}
	return e.queue.Post(fn)
}

// emit delivers an event through the queue. It runs on the loop, so a full
// ingress falls back to a zero-delay timer.
func (e *Engine) emit(ev lorawan.Event) {
	if e.handler == nil {
		return
	}
	h := e.handler
	deliver := func() { h(ev) }
	err := e.queue.Post(deliver)
	if errors.Is(err, eventqueue.ErrIngressFull) {
		e.queue.CallIn(0, deliver)
		return
	}
	if err != nil {
		e.log.Debug().Err(err).Stringer("event", ev).Msg("event dropped")
	}
}

func upperHex(b []byte) string {
	return strings.ToUpper(hex.EncodeToString(b))
}
