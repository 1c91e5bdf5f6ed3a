// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package session

import (
	"errors"
	"fmt"

	"github.com/Thermoquad/lorastat/pkg/lorawan"
)

// State is the device's position in the session lifecycle
type State uint8

const (
	StateUninitialized State = iota
	StateJoining
	StateJoinedIdle
	StateJoinedAwaitingTx
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "UNINITIALIZED"
	case StateJoining:
		return "JOINING"
	case StateJoinedIdle:
		return "JOINED_IDLE"
	case StateJoinedAwaitingTx:
		return "JOINED_AWAITING_TX"
	case StateDisconnected:
		return "DISCONNECTED"
	default:
		return fmt.Sprintf("STATE(%d)", uint8(s))
	}
}

// Joined reports whether uplinks may be submitted in this state
func (s State) Joined() bool {
	return s == StateJoinedIdle || s == StateJoinedAwaitingTx
}

var (
	// ErrNotJoined is returned when a send is attempted outside a joined state
	ErrNotJoined = errors.New("session: not joined")

	// ErrLengthExceeded is returned when a downlink does not fit the receive buffer
	ErrLengthExceeded = errors.New("session: downlink exceeds receive buffer")

	// ErrPayloadTooLarge is returned when the payload does not fit the transmit buffer
	ErrPayloadTooLarge = errors.New("session: payload exceeds transmit buffer")

	// ErrAlreadyStarted is returned by Start when called twice
	ErrAlreadyStarted = errors.New("session: already started")
)

// InitError is a failed step of the initialization sequence. It is fatal for
// the process.
type InitError struct {
	Step string
	Err  error
}

func (e *InitError) Error() string {
	return fmt.Sprintf("session init: %s: %v", e.Step, e.Err)
}

func (e *InitError) Unwrap() error {
	return e.Err
}

// ContractViolation is the panic value raised when the engine delivers an
// event outside the closed enumeration
type ContractViolation struct {
	Event lorawan.Event
}

func (v *ContractViolation) Error() string {
	return fmt.Sprintf("session: engine delivered unknown event %s", v.Event)
}
