// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package modem

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	qt "github.com/frankban/quicktest"

	"github.com/Thermoquad/lorastat/pkg/eventqueue"
	"github.com/Thermoquad/lorastat/pkg/lorawan"
	"github.com/Thermoquad/lorastat/pkg/region"
)

// fakeModem answers AT commands from a script. Keys ending in '=' match any
// command with that prefix; other keys match exactly.
type fakeModem struct {
	conn net.Conn

	mu     sync.Mutex
	script map[string][]string
	got    []string
}

func defaultScript() map[string][]string {
	return map[string][]string{
		"AT":          {"+AT: OK"},
		"AT+VER":      {"+VER: 4.0.11"},
		"AT+MODE=":    {"+MODE: LWOTAA"},
		"AT+DR=EU868": {"+DR: EU868"},
		"AT+DR=":      {"+DR: DR0"},
		"AT+ID=":      {"+ID: ok"},
		"AT+KEY=":     {"+KEY: APPKEY ok"},
		"AT+POWER=":   {"+POWER: 14"},
		"AT+RETRY=":   {"+RETRY: 3"},
		"AT+ADR=":     {"+ADR: OFF"},
		"AT+PORT=":    {"+PORT: 15"},
		"AT+JOIN": {
			"+JOIN: Start",
			"+JOIN: NORMAL",
			"+JOIN: Network joined",
			"+JOIN: NetID 000013 DevAddr 26:01:1B:88",
			"+JOIN: Done",
		},
		"AT+MSGHEX=": {"+MSGHEX: Start", "+MSGHEX: Done"},
	}
}

func newFakeModem(t *testing.T) (*fakeModem, net.Conn) {
	local, remote := net.Pipe()
	f := &fakeModem{conn: remote, script: defaultScript()}
	go f.run()
	t.Cleanup(func() {
		local.Close()
		remote.Close()
	})
	return f, local
}

func (f *fakeModem) set(cmd string, replies ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.script[cmd] = replies
}

func (f *fakeModem) commands() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.got...)
}

func (f *fakeModem) run() {
	scanner := bufio.NewScanner(f.conn)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		f.mu.Lock()
		f.got = append(f.got, line)
		replies := f.lookup(line)
		f.mu.Unlock()
		for _, r := range replies {
			if _, err := io.WriteString(f.conn, r+"\r\n"); err != nil {
				return
			}
		}
	}
}

func (f *fakeModem) lookup(line string) []string {
	if r, ok := f.script[line]; ok {
		return r
	}
	best := ""
	for key := range f.script {
		if strings.HasSuffix(key, "=") && strings.HasPrefix(line, key) && len(key) > len(best) {
			best = key
		}
	}
	return f.script[best]
}

func testPlan(t *testing.T) *region.Plan {
	plan, err := region.Lookup("EU868")
	qt.Assert(t, err, qt.IsNil)
	return plan
}

// session runs an initialized engine on a real loop, recording events until
// stop returns true
type session struct {
	loop   *eventqueue.Loop
	engine *Engine
	events []lorawan.Event
}

func startSession(t *testing.T, conn net.Conn, cfg Config, opts ...eventqueue.Option) *session {
	s := &session{loop: eventqueue.NewLoop(opts...)}
	s.engine = New(conn, testPlan(t), cfg)
	qt.Assert(t, s.engine.Initialize(s.loop), qt.IsNil)
	return s
}

func (s *session) run(t *testing.T, handle func(ev lorawan.Event) (stop bool)) {
	s.engine.SetEventHandler(func(ev lorawan.Event) {
		s.events = append(s.events, ev)
		if handle(ev) {
			s.loop.BreakDispatch()
		}
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	qt.Assert(t, s.loop.DispatchForever(ctx), qt.IsNil)
}

func fastConfig() Config {
	cfg := DefaultConfig()
	cfg.CommandTimeout = time.Second
	cfg.DutyCycle = 0
	return cfg
}

// ============================================================
// Initialization
// ============================================================

func TestInitialize_CommandSequence(t *testing.T) {
	c := qt.New(t)
	f, conn := newFakeModem(t)

	cfg := fastConfig()
	cfg.DevEUI = [8]byte{1, 2, 3, 4, 5, 6, 7, 8}
	cfg.JoinEUI = [8]byte{0x11, 0x12, 0x13, 0x14, 0x15, 0x16, 0x17, 0x18}
	cfg.AppKey = [16]byte{0x00, 0x11, 0x22, 0x33, 0x44, 0x55, 0x66, 0x77, 0x88, 0x99, 0xAA, 0xBB, 0xCC, 0xDD, 0xEE, 0xFF}
	cfg.TxPower = 14

	e := New(conn, testPlan(t), cfg)
	c.Assert(e.Initialize(eventqueue.NewLoop()), qt.IsNil)
	c.Assert(e.SetConfirmedMsgRetries(3), qt.IsNil)
	c.Assert(e.EnableADR(false), qt.IsNil)

	c.Assert(f.commands(), qt.DeepEquals, []string{
		"AT",
		"AT+MODE=LWOTAA",
		"AT+DR=EU868",
		`AT+ID=DevEui,"0102030405060708"`,
		`AT+ID=AppEui,"1112131415161718"`,
		`AT+KEY=APPKEY,"00112233445566778899AABBCCDDEEFF"`,
		"AT+POWER=14",
		"AT+RETRY=3",
		"AT+ADR=OFF",
	})
}

func TestInitialize_Rejected(t *testing.T) {
	c := qt.New(t)
	f, conn := newFakeModem(t)
	f.set("AT+MODE=", "+MODE: ERROR(-1)")

	err := New(conn, testPlan(t), fastConfig()).Initialize(eventqueue.NewLoop())
	var cmdErr *CommandError
	c.Assert(errors.As(err, &cmdErr), qt.IsTrue)
	c.Assert(cmdErr.Command, qt.Equals, "AT+MODE=LWOTAA")
	c.Assert(err, qt.ErrorIs, lorawan.StatusParameterInvalid)
	c.Assert(lorawan.Code(err), qt.Equals, lorawan.StatusParameterInvalid)
}

func TestInitialize_Timeout(t *testing.T) {
	c := qt.New(t)
	f, conn := newFakeModem(t)
	f.set("AT")

	cfg := fastConfig()
	cfg.CommandTimeout = 50 * time.Millisecond
	err := New(conn, testPlan(t), cfg).Initialize(eventqueue.NewLoop())
	c.Assert(err, qt.ErrorIs, ErrTimeout)
	c.Assert(err, qt.ErrorMatches, "AT: modem: command timeout")
}

func TestNotInitialized(t *testing.T) {
	c := qt.New(t)
	_, conn := newFakeModem(t)
	e := New(conn, testPlan(t), fastConfig())

	c.Assert(e.SetConfirmedMsgRetries(1), qt.ErrorIs, lorawan.StatusNotInitialized)
	c.Assert(e.EnableADR(true), qt.ErrorIs, lorawan.StatusNotInitialized)
	c.Assert(e.SetDataRate(0), qt.ErrorIs, lorawan.StatusNotInitialized)
	c.Assert(e.Connect(), qt.ErrorIs, lorawan.StatusNotInitialized)
	_, err := e.Send(15, []byte{1}, lorawan.MsgUnconfirmed)
	c.Assert(err, qt.ErrorIs, lorawan.StatusNotInitialized)
	_, _, err = e.Receive(make([]byte, 4))
	c.Assert(err, qt.ErrorIs, lorawan.StatusNotInitialized)
}

// ============================================================
// Session
// ============================================================

func TestJoinUplinkDownlink(t *testing.T) {
	c := qt.New(t)
	f, conn := newFakeModem(t)
	f.set("AT+MSGHEX=",
		"+MSGHEX: Start",
		"+MSGHEX: FPENDING",
		`+MSGHEX: PORT: 8; RX: "BEEF"`,
		"+MSGHEX: RXWIN1, RSSI -106, SNR 4",
		"+MSGHEX: Done",
	)

	cfg := fastConfig()
	cfg.DutyCycle = DefaultDutyCycle
	s := startSession(t, conn, cfg)
	c.Assert(s.engine.Connect(), qt.ErrorIs, lorawan.StatusConnectInProgress)
	c.Assert(s.engine.Connect(), qt.ErrorIs, lorawan.StatusBusy)

	var blocked error
	s.run(t, func(ev lorawan.Event) bool {
		switch ev {
		case lorawan.Connected:
			c.Assert(s.engine.SetDataRate(0), qt.IsNil)
			n, err := s.engine.Send(15, []byte("0"), lorawan.MsgUnconfirmed)
			c.Assert(err, qt.IsNil)
			c.Assert(n, qt.Equals, 1)
		case lorawan.UplinkRequired:
			_, blocked = s.engine.Send(15, []byte("1"), lorawan.MsgUnconfirmed)
			return true
		}
		return false
	})

	c.Assert(s.events, qt.DeepEquals, []lorawan.Event{
		lorawan.Connected, lorawan.RxDone, lorawan.TxDone, lorawan.UplinkRequired,
	})
	c.Assert(blocked, qt.ErrorIs, lorawan.StatusWouldBlock)

	buf := make([]byte, 4)
	port, n, err := s.engine.Receive(buf)
	c.Assert(err, qt.IsNil)
	c.Assert(port, qt.Equals, uint8(8))
	c.Assert(buf[:n], qt.DeepEquals, []byte{0xBE, 0xEF})
	_, _, err = s.engine.Receive(buf)
	c.Assert(err, qt.ErrorIs, lorawan.StatusWouldBlock)

	meta, err := s.engine.TxMetadata()
	c.Assert(err, qt.IsNil)
	c.Assert(meta.DataRate, qt.Equals, uint8(0))
	c.Assert(meta.Airtime, qt.Equals, 1155072*time.Microsecond)
	c.Assert(meta.Stale, qt.IsFalse)
	meta, _ = s.engine.TxMetadata()
	c.Assert(meta.Stale, qt.IsTrue)

	cmds := f.commands()
	c.Assert(cmds, qt.Contains, "AT+JOIN")
	c.Assert(cmds, qt.Contains, "AT+DR=0")
	c.Assert(cmds, qt.Contains, "AT+PORT=15")
	c.Assert(cmds, qt.Contains, `AT+MSGHEX="30"`)
}

func TestJoinFailure(t *testing.T) {
	c := qt.New(t)
	f, conn := newFakeModem(t)
	f.set("AT+JOIN", "+JOIN: Start", "+JOIN: NORMAL", "+JOIN: Join failed", "+JOIN: Done")

	s := startSession(t, conn, fastConfig())
	c.Assert(s.engine.Connect(), qt.ErrorIs, lorawan.StatusConnectInProgress)
	s.run(t, func(ev lorawan.Event) bool { return true })

	c.Assert(s.events, qt.DeepEquals, []lorawan.Event{lorawan.JoinFailure})
	_, err := s.engine.Send(15, []byte{1}, lorawan.MsgUnconfirmed)
	c.Assert(err, qt.ErrorIs, lorawan.StatusNoNetworkJoined)
}

func TestUplinkRejections(t *testing.T) {
	tests := []struct {
		name    string
		reply   string
		event   lorawan.Event
		sendErr error // next Send, nil when it goes out
	}{
		{"no band", "+MSGHEX: No band in 13469ms", lorawan.TxSchedulingError, lorawan.StatusWouldBlock},
		{"busy", "+MSGHEX: LoRaWAN modem is busy", lorawan.TxSchedulingError, lorawan.StatusWouldBlock},
		{"not joined", "+MSGHEX: Please join network first", lorawan.TxError, lorawan.StatusNoNetworkJoined},
		{"length", "+MSGHEX: Length error 0", lorawan.TxError, nil},
		{"error code", "+MSGHEX: ERROR(-1)", lorawan.TxError, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := qt.New(t)
			f, conn := newFakeModem(t)
			f.set("AT+MSGHEX=", "+MSGHEX: Start", tt.reply)

			s := startSession(t, conn, fastConfig())
			c.Assert(s.engine.Connect(), qt.ErrorIs, lorawan.StatusConnectInProgress)

			var next error
			s.run(t, func(ev lorawan.Event) bool {
				if ev == lorawan.Connected {
					_, err := s.engine.Send(15, []byte{1}, lorawan.MsgUnconfirmed)
					c.Assert(err, qt.IsNil)
					return false
				}
				_, next = s.engine.Send(15, []byte{2}, lorawan.MsgUnconfirmed)
				return true
			})

			c.Assert(s.events, qt.DeepEquals, []lorawan.Event{lorawan.Connected, tt.event})
			if tt.sendErr == nil {
				c.Assert(next, qt.IsNil)
			} else {
				c.Assert(next, qt.ErrorIs, tt.sendErr)
			}
		})
	}
}

func TestTxTimeout(t *testing.T) {
	c := qt.New(t)
	f, conn := newFakeModem(t)
	f.set("AT+MSGHEX=", "+MSGHEX: Start")

	cfg := fastConfig()
	cfg.TxTimeout = 50 * time.Millisecond
	s := startSession(t, conn, cfg)
	c.Assert(s.engine.Connect(), qt.ErrorIs, lorawan.StatusConnectInProgress)

	var pending, after error
	s.run(t, func(ev lorawan.Event) bool {
		if ev == lorawan.Connected {
			_, err := s.engine.Send(15, []byte{1}, lorawan.MsgUnconfirmed)
			c.Assert(err, qt.IsNil)
			_, pending = s.engine.Send(15, []byte{1}, lorawan.MsgUnconfirmed)
			return false
		}
		_, after = s.engine.Send(15, []byte{1}, lorawan.MsgUnconfirmed)
		return true
	})

	c.Assert(pending, qt.ErrorIs, lorawan.StatusWouldBlock)
	c.Assert(s.events, qt.DeepEquals, []lorawan.Event{lorawan.Connected, lorawan.TxTimeout})
	c.Assert(after, qt.IsNil)
}

func TestSendValidation(t *testing.T) {
	c := qt.New(t)
	_, conn := newFakeModem(t)
	s := startSession(t, conn, fastConfig())

	_, err := s.engine.Send(15, []byte{1}, lorawan.MsgUnconfirmed)
	c.Assert(err, qt.ErrorIs, lorawan.StatusNoNetworkJoined)

	s.engine.joined = true
	_, err = s.engine.Send(0, []byte{1}, lorawan.MsgUnconfirmed)
	c.Assert(err, qt.ErrorIs, lorawan.StatusPortInvalid)
	_, err = s.engine.Send(224, []byte{1}, lorawan.MsgUnconfirmed)
	c.Assert(err, qt.ErrorIs, lorawan.StatusPortInvalid)
	_, err = s.engine.Send(15, make([]byte, MaxPayload+1), lorawan.MsgUnconfirmed)
	c.Assert(err, qt.ErrorIs, lorawan.StatusLengthError)

	c.Assert(s.engine.SetDataRate(16), qt.ErrorIs, lorawan.StatusDataRateInvalid)
	s.engine.adr = true
	c.Assert(s.engine.SetDataRate(3), qt.ErrorIs, lorawan.StatusParameterInvalid)

	_, err = s.engine.TxMetadata()
	c.Assert(err, qt.ErrorIs, lorawan.StatusMetadataNotAvailable)
}

func TestReceive_TooLarge(t *testing.T) {
	c := qt.New(t)
	_, conn := newFakeModem(t)
	s := startSession(t, conn, fastConfig())
	s.engine.downlink = []byte{1, 2, 3}
	s.engine.downlinkPort = 2
	s.engine.hasDownlink = true

	buf := []byte{9, 9}
	port, n, err := s.engine.Receive(buf)
	c.Assert(err, qt.IsNil)
	c.Assert(port, qt.Equals, uint8(2))
	c.Assert(n, qt.Equals, 3)
	c.Assert(buf, qt.DeepEquals, []byte{9, 9})
}

func TestLinkLost(t *testing.T) {
	c := qt.New(t)
	f, conn := newFakeModem(t)
	s := startSession(t, conn, fastConfig())
	c.Assert(s.engine.Connect(), qt.ErrorIs, lorawan.StatusConnectInProgress)

	s.run(t, func(ev lorawan.Event) bool {
		if ev == lorawan.Connected {
			f.conn.Close()
			return false
		}
		return ev == lorawan.Disconnected
	})

	c.Assert(s.events, qt.DeepEquals, []lorawan.Event{lorawan.Connected, lorawan.Disconnected})
	<-s.engine.Done()
	_, err := s.engine.Send(15, []byte{1}, lorawan.MsgUnconfirmed)
	c.Assert(err, qt.ErrorIs, lorawan.StatusNoNetworkJoined)
}

func TestLinkLost_AfterBacklog(t *testing.T) {
	c := qt.New(t)
	f, conn := newFakeModem(t)
	s := startSession(t, conn, fastConfig(), eventqueue.WithIngressSize(1))

	// More lines than the ingress holds arrive before dispatch starts
	go func() {
		for i := 0; i < 16; i++ {
			if _, err := io.WriteString(f.conn, "+MSGHEX: Start\r\n"); err != nil {
				return
			}
		}
		f.conn.Close()
	}()

	s.run(t, func(ev lorawan.Event) bool {
		return ev == lorawan.Disconnected
	})
	c.Assert(s.events, qt.DeepEquals, []lorawan.Event{lorawan.Disconnected})
}

// ============================================================
// Probe
// ============================================================

func TestProbe(t *testing.T) {
	c := qt.New(t)
	_, conn := newFakeModem(t)
	version, err := Probe(conn, time.Second)
	c.Assert(err, qt.IsNil)
	c.Assert(version, qt.Equals, "4.0.11")
}

func TestProbe_Silent(t *testing.T) {
	c := qt.New(t)
	f, conn := newFakeModem(t)
	f.set("AT")
	_, err := Probe(conn, 50*time.Millisecond)
	c.Assert(err, qt.ErrorIs, ErrTimeout)
}

// ============================================================
// Reply parsing
// ============================================================

func TestParseRX(t *testing.T) {
	tests := []struct {
		body    string
		port    uint8
		data    []byte
		wantErr string
	}{
		{body: `PORT: 8; RX: "12345678"`, port: 8, data: []byte{0x12, 0x34, 0x56, 0x78}},
		{body: `PORT: 223; RX: ""`, port: 223, data: []byte{}},
		{body: `PORT: 8`, wantErr: `malformed RX report .*`},
		{body: `PORT: x; RX: "00"`, wantErr: `bad port in .*`},
		{body: `PORT: 1; RX: "0G"`, wantErr: `bad RX data in .*`},
		{body: `PRT: 1; RX: "00"`, wantErr: `missing port in .*`},
	}
	for _, tt := range tests {
		t.Run(tt.body, func(t *testing.T) {
			c := qt.New(t)
			port, data, err := parseRX(tt.body)
			if tt.wantErr != "" {
				c.Assert(err, qt.ErrorMatches, tt.wantErr)
				return
			}
			c.Assert(err, qt.IsNil)
			c.Assert(port, qt.Equals, tt.port)
			c.Assert(data, qt.DeepEquals, tt.data)
		})
	}
}

func TestReplyHelpers(t *testing.T) {
	c := qt.New(t)

	cmd, body, ok := splitReply("+MSGHEX: Done")
	c.Assert(ok, qt.IsTrue)
	c.Assert(cmd, qt.Equals, "MSGHEX")
	c.Assert(body, qt.Equals, "Done")
	_, _, ok = splitReply("garbage")
	c.Assert(ok, qt.IsFalse)

	code, ok := errorCode("ERROR(-12)")
	c.Assert(ok, qt.IsTrue)
	c.Assert(code, qt.Equals, -12)
	c.Assert(statusForError(code), qt.Equals, lorawan.StatusNoNetworkJoined)
	_, ok = errorCode("Done")
	c.Assert(ok, qt.IsFalse)
	c.Assert(statusForError(-99), qt.Equals, lorawan.StatusServiceUnknown)

	c.Assert(containsAny("No band in 2000ms", blockedReplies), qt.IsTrue)
	c.Assert(containsAny("Done", blockedReplies), qt.IsFalse)
}

func TestConfigValidate(t *testing.T) {
	c := qt.New(t)
	c.Assert(DefaultConfig().Validate(), qt.IsNil)

	cfg := DefaultConfig()
	cfg.CommandTimeout = 0
	cfg.DutyCycle = 2
	err := cfg.Validate()
	c.Assert(err, qt.ErrorMatches, `(?s)invalid modem config: command_timeout must be positive\nduty_cycle 2 out of range \[0, 1\]`)
}
