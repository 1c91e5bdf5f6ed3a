// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package session

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/Thermoquad/lorastat/pkg/lorawan"
)

// ReportKind classifies an operator-visible outcome
type ReportKind uint8

const (
	KindInit ReportKind = iota
	KindConnected
	KindDisconnected
	KindJoinFailure
	KindDataRate
	KindDataRateError
	KindUplinkScheduled
	KindWouldBlock
	KindRetryArmed
	KindPeriodicArmed
	KindSendError
	KindSendRefused
	KindPayloadError
	KindTxDone
	KindTxMetadata
	KindTxMetadataError
	KindTxFailed
	KindTxRetry
	KindDownlink
	KindReceiveError
	KindRxFailed
	KindUplinkRequired
)

var kindNames = [...]string{
	KindInit:            "INIT",
	KindConnected:       "CONNECTED",
	KindDisconnected:    "DISCONNECTED",
	KindJoinFailure:     "JOIN_FAILURE",
	KindDataRate:        "DATA_RATE",
	KindDataRateError:   "DATA_RATE_ERROR",
	KindUplinkScheduled: "UPLINK_SCHEDULED",
	KindWouldBlock:      "WOULD_BLOCK",
	KindRetryArmed:      "RETRY_ARMED",
	KindPeriodicArmed:   "PERIODIC_ARMED",
	KindSendError:       "SEND_ERROR",
	KindSendRefused:     "SEND_REFUSED",
	KindPayloadError:    "PAYLOAD_ERROR",
	KindTxDone:          "TX_DONE",
	KindTxMetadata:      "TX_METADATA",
	KindTxMetadataError: "TX_METADATA_ERROR",
	KindTxFailed:        "TX_FAILED",
	KindTxRetry:         "TX_RETRY",
	KindDownlink:        "DOWNLINK",
	KindReceiveError:    "RECEIVE_ERROR",
	KindRxFailed:        "RX_FAILED",
	KindUplinkRequired:  "UPLINK_REQUIRED",
}

func (k ReportKind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("KIND(%d)", uint8(k))
}

// IsError reports whether the outcome is a failure of some kind
func (k ReportKind) IsError() bool {
	switch k {
	case KindJoinFailure, KindDataRateError, KindWouldBlock, KindSendError,
		KindSendRefused, KindPayloadError, KindTxMetadataError, KindTxFailed,
		KindTxRetry, KindReceiveError, KindRxFailed:
		return true
	}
	return false
}

// Report is one operator-visible outcome. Only the fields relevant to Kind
// are set.
type Report struct {
	Kind    ReportKind
	Time    time.Time
	Session string
	State   State // state after the outcome

	Event    lorawan.Event
	Status   lorawan.Status
	Seq      uint32
	Bytes    int
	Port     uint8
	Data     []byte
	Metadata lorawan.TxMetadata
	DataRate uint8
	Delay    time.Duration
	Detail   string
}

// Reporter receives reports on the dispatch goroutine. Implementations must
// not block.
type Reporter interface {
	Report(r Report)
}

// ReporterFunc adapts a function to Reporter
type ReporterFunc func(Report)

func (f ReporterFunc) Report(r Report) { f(r) }

// MultiReporter fans a report out to every reporter in order
type MultiReporter []Reporter

func (m MultiReporter) Report(r Report) {
	for _, rep := range m {
		rep.Report(r)
	}
}

type discard struct{}

func (discard) Report(Report) {}

// TextReporter writes each report as one formatted line
type TextReporter struct {
	w io.Writer
}

// NewTextReporter creates a reporter printing to w
func NewTextReporter(w io.Writer) *TextReporter {
	return &TextReporter{w: w}
}

func (t *TextReporter) Report(r Report) {
	fmt.Fprint(t.w, FormatReport(r))
}

// FormatReport renders a report as a human-readable line
func FormatReport(r Report) string {
	timestamp := r.Time.Format("15:04:05.000")
	return fmt.Sprintf("[%s] %-18s %s\n", timestamp, r.State, FormatMessage(r))
}

// FormatMessage renders the body of a report without timestamp or state
func FormatMessage(r Report) string {
	switch r.Kind {
	case KindInit:
		return r.Detail
	case KindConnected:
		return "Connection - Successful"
	case KindDisconnected:
		return "Disconnected Successfully"
	case KindJoinFailure:
		return "Join failed - check keys"
	case KindDataRate:
		return fmt.Sprintf("Data rate set to DR%d", r.DataRate)
	case KindDataRateError:
		return fmt.Sprintf("set_datarate(DR%d) - Error code %d", r.DataRate, r.Status)
	case KindUplinkScheduled:
		return fmt.Sprintf("%d bytes scheduled for transmission (seq %d)", r.Bytes, r.Seq)
	case KindWouldBlock:
		return "send - WOULD BLOCK"
	case KindRetryArmed:
		return fmt.Sprintf("retrying send in %v", r.Delay)
	case KindPeriodicArmed:
		return fmt.Sprintf("sending every %v", r.Delay)
	case KindSendError:
		return fmt.Sprintf("send() - Error code %d (%s)", r.Status, r.Status)
	case KindSendRefused:
		return "send() refused - not joined"
	case KindPayloadError:
		return fmt.Sprintf("payload - %s", r.Detail)
	case KindTxDone:
		return "Message Sent to Network Server"
	case KindTxMetadata:
		return FormatMetadata(r.Metadata)
	case KindTxMetadataError:
		return fmt.Sprintf("tx metadata - Error code %d (%s)", r.Status, r.Status)
	case KindTxFailed:
		return fmt.Sprintf("Transmission Error - EventCode = %s", r.Event)
	case KindTxRetry:
		return fmt.Sprintf("Transmission Error - EventCode = %s, resending", r.Event)
	case KindDownlink:
		return fmt.Sprintf("RX Data on port %d (%d bytes): %s", r.Port, len(r.Data), formatBytes(r.Data))
	case KindReceiveError:
		return fmt.Sprintf("receive() - Error code %d (%s)", r.Status, r.Status)
	case KindRxFailed:
		return fmt.Sprintf("Error in reception - Code = %s", r.Event)
	case KindUplinkRequired:
		return "Uplink required by NS"
	default:
		return r.Kind.String()
	}
}

// FormatMetadata renders TX metadata
func FormatMetadata(m lorawan.TxMetadata) string {
	result := fmt.Sprintf("airtime=%v channel=%d power=%d DR%d retries=%d",
		m.Airtime, m.Channel, m.TxPower, m.DataRate, m.Retries)
	if m.Stale {
		result += " (stale)"
	}
	return result
}

func formatBytes(data []byte) string {
	if len(data) == 0 {
		return "(empty)"
	}
	var sb strings.Builder
	for i, b := range data {
		if i > 0 {
			sb.WriteByte(' ')
		}
		fmt.Fprintf(&sb, "%02X", b)
	}
	return sb.String()
}
