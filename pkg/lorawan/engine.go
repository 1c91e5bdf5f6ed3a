// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package lorawan defines the contract between the session controller and the
// LoRaWAN MAC engine that runs the protocol for a single end-device, together
// with the dispatch queue both of them share.
package lorawan

import (
	"context"
	"fmt"
	"time"
)

// MsgFlags selects the uplink message type
type MsgFlags uint8

const (
	MsgUnconfirmed MsgFlags = 0x01
	MsgConfirmed   MsgFlags = 0x02
)

func (f MsgFlags) String() string {
	switch f {
	case MsgUnconfirmed:
		return "unconfirmed"
	case MsgConfirmed:
		return "confirmed"
	default:
		return fmt.Sprintf("flags(0x%02X)", uint8(f))
	}
}

// TxMetadata describes the last completed uplink
type TxMetadata struct {
	Airtime  time.Duration
	Channel  uint8
	TxPower  uint8
	DataRate uint8
	Retries  uint8
	Stale    bool // already read once
}

// Queue is a single-threaded dispatch loop with timers. Everything handed to
// it runs on the loop, one task at a time.
//
// Post is safe to call from any goroutine. CallIn and CallEvery must be called
// from the loop itself or before DispatchForever starts.
type Queue interface {
	Post(fn func()) error
	CallIn(delay time.Duration, fn func())
	CallEvery(period time.Duration, fn func())
	DispatchForever(ctx context.Context) error
	BreakDispatch()
}

// Engine is the MAC/session engine for one end-device. Methods never block
// waiting for radio activity; outcomes are delivered as events through the
// handler, on the queue passed to Initialize.
type Engine interface {
	Initialize(q Queue) error
	SetEventHandler(h EventHandler)
	SetConfirmedMsgRetries(count uint8) error
	EnableADR(enabled bool) error

	// Connect starts the join. It returns nil when already joined and
	// StatusConnectInProgress when the outcome will follow as an event.
	Connect() error

	// Send queues an uplink and returns the number of bytes scheduled.
	// StatusWouldBlock means no legal transmit opportunity exists yet.
	Send(port uint8, data []byte, flags MsgFlags) (int, error)

	// Receive copies the pending downlink into buf and returns its port and
	// the number of bytes available. A count larger than len(buf) means the
	// downlink did not fit and buf was not written.
	Receive(buf []byte) (port uint8, n int, err error)

	SetDataRate(dr uint8) error
	TxMetadata() (TxMetadata, error)
}
