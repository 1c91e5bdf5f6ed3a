// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package modem

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/exp/slices"

	"github.com/Thermoquad/lorastat/pkg/lorawan"
)

// ErrTimeout is returned when the modem does not answer a command in time
var ErrTimeout = errors.New("modem: command timeout")

// CommandError is a rejected or unanswered AT command
type CommandError struct {
	Command string
	Reply   string
	Err     error
}

func (e *CommandError) Error() string {
	if e.Reply == "" {
		return fmt.Sprintf("%s: %v", e.Command, e.Err)
	}
	return fmt.Sprintf("%s: %q: %v", e.Command, e.Reply, e.Err)
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

// Reply fragments of the uplink commands, matched case-insensitively
var (
	// no legal transmit opportunity yet
	blockedReplies = []string{"no band", "no free channel", "busy", "dutycycle"}

	notJoinedReplies = []string{"please join network first", "not joined"}

	lengthReplies = []string{"length error"}
)

// containsAny reports whether body contains one of the fragments
func containsAny(body string, fragments []string) bool {
	lower := strings.ToLower(body)
	return slices.ContainsFunc(fragments, func(f string) bool {
		return strings.Contains(lower, f)
	})
}

// splitReply splits "+CMD: body" into its command and body
func splitReply(line string) (cmd, body string, ok bool) {
	if !strings.HasPrefix(line, "+") {
		return "", "", false
	}
	cmd, body, ok = strings.Cut(line[1:], ":")
	if !ok {
		return "", "", false
	}
	return cmd, strings.TrimSpace(body), true
}

// errorCode extracts n from a body like "ERROR(-1)"
func errorCode(body string) (int, bool) {
	start := strings.Index(body, "ERROR(")
	if start < 0 {
		return 0, false
	}
	rest := body[start+len("ERROR("):]
	end := strings.IndexByte(rest, ')')
	if end < 0 {
		return 0, false
	}
	code, err := strconv.Atoi(rest[:end])
	if err != nil {
		return 0, false
	}
	return code, true
}

// statusForError maps a modem error code onto the engine status codes
func statusForError(code int) lorawan.Status {
	switch code {
	case -1, -2, -3:
		return lorawan.StatusParameterInvalid
	case -10:
		return lorawan.StatusUnsupported
	case -11:
		return lorawan.StatusBusy
	case -12:
		return lorawan.StatusNoNetworkJoined
	case -20:
		return lorawan.StatusLengthError
	default:
		return lorawan.StatusServiceUnknown
	}
}

// parseRX parses a downlink report such as `PORT: 8; RX: "12345678"`
func parseRX(body string) (port uint8, data []byte, err error) {
	portPart, rxPart, ok := strings.Cut(body, ";")
	if !ok {
		return 0, nil, fmt.Errorf("malformed RX report %q", body)
	}

	p, found := strings.CutPrefix(strings.TrimSpace(portPart), "PORT:")
	if !found {
		return 0, nil, fmt.Errorf("missing port in %q", body)
	}
	n, err := strconv.ParseUint(strings.TrimSpace(p), 10, 8)
	if err != nil {
		return 0, nil, fmt.Errorf("bad port in %q: %w", body, err)
	}

	h, found := strings.CutPrefix(strings.TrimSpace(rxPart), "RX:")
	if !found {
		return 0, nil, fmt.Errorf("missing RX data in %q", body)
	}
	data, err = hex.DecodeString(strings.Trim(strings.TrimSpace(h), `"`))
	if err != nil {
		return 0, nil, fmt.Errorf("bad RX data in %q: %w", body, err)
	}
	return uint8(n), data, nil
}
