// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package lorawan

import "fmt"

// Event is a notification delivered by the MAC engine to the registered
// event handler. The set of events is closed.
type Event uint8

const (
	Connected Event = iota
	Disconnected
	TxDone
	TxTimeout
	TxError
	TxCryptoError
	TxSchedulingError
	RxDone
	RxTimeout
	RxError
	JoinFailure
	UplinkRequired
)

// lastEvent marks the end of the closed enumeration
const lastEvent = UplinkRequired

// Events lists every defined event in numeric order
var Events = []Event{
	Connected,
	Disconnected,
	TxDone,
	TxTimeout,
	TxError,
	TxCryptoError,
	TxSchedulingError,
	RxDone,
	RxTimeout,
	RxError,
	JoinFailure,
	UplinkRequired,
}

var eventNames = [...]string{
	Connected:         "CONNECTED",
	Disconnected:      "DISCONNECTED",
	TxDone:            "TX_DONE",
	TxTimeout:         "TX_TIMEOUT",
	TxError:           "TX_ERROR",
	TxCryptoError:     "TX_CRYPTO_ERROR",
	TxSchedulingError: "TX_SCHEDULING_ERROR",
	RxDone:            "RX_DONE",
	RxTimeout:         "RX_TIMEOUT",
	RxError:           "RX_ERROR",
	JoinFailure:       "JOIN_FAILURE",
	UplinkRequired:    "UPLINK_REQUIRED",
}

// Valid reports whether e is part of the closed enumeration
func (e Event) Valid() bool {
	return e <= lastEvent
}

// String returns the event name, or UNKNOWN(n) for out-of-range values
func (e Event) String() string {
	if !e.Valid() {
		return fmt.Sprintf("UNKNOWN(%d)", uint8(e))
	}
	return eventNames[e]
}

// EventHandler receives engine events on the dispatch loop
type EventHandler func(Event)
