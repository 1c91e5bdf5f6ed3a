// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package sink

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/Thermoquad/lorastat/pkg/lorawan"
	"github.com/Thermoquad/lorastat/pkg/session"
)

// Encoding selects the wire format of published records
type Encoding string

const (
	EncodingJSON Encoding = "json"
	EncodingCBOR Encoding = "cbor"
)

// cborMode keeps sub-second report timestamps
var cborMode = func() cbor.EncMode {
	em, err := cbor.EncOptions{Time: cbor.TimeRFC3339Nano}.EncMode()
	if err != nil {
		panic(err)
	}
	return em
}()

// Record is the published form of a session report. CBOR uses integer keys to
// keep records small on constrained links.
type Record struct {
	Session string    `json:"session" cbor:"1,keyasint"`
	Time    time.Time `json:"time" cbor:"2,keyasint"`
	Kind    string    `json:"kind" cbor:"3,keyasint"`
	State   string    `json:"state" cbor:"4,keyasint"`
	Message string    `json:"message" cbor:"5,keyasint"`

	Event      string `json:"event,omitempty" cbor:"6,keyasint,omitempty"`
	Status     int16  `json:"status,omitempty" cbor:"7,keyasint,omitempty"`
	StatusName string `json:"status_name,omitempty" cbor:"8,keyasint,omitempty"`
	Seq        uint32 `json:"seq" cbor:"9,keyasint"`
	Bytes      int    `json:"bytes,omitempty" cbor:"10,keyasint,omitempty"`
	Port       uint8  `json:"port,omitempty" cbor:"11,keyasint,omitempty"`
	Data       []byte `json:"data,omitempty" cbor:"12,keyasint,omitempty"`
	DataRate   *uint8 `json:"data_rate,omitempty" cbor:"13,keyasint,omitempty"`
	DelayMS    int64  `json:"delay_ms,omitempty" cbor:"14,keyasint,omitempty"`

	// TX metadata
	AirtimeMS float64 `json:"airtime_ms,omitempty" cbor:"15,keyasint,omitempty"`
	Channel   *uint8  `json:"channel,omitempty" cbor:"16,keyasint,omitempty"`
	TxPower   uint8   `json:"tx_power,omitempty" cbor:"17,keyasint,omitempty"`
	Retries   uint8   `json:"retries,omitempty" cbor:"18,keyasint,omitempty"`
	Stale     bool    `json:"stale,omitempty" cbor:"19,keyasint,omitempty"`
}

// FromReport converts a report into a record
func FromReport(r session.Report) Record {
	rec := Record{
		Session: r.Session,
		Time:    r.Time.UTC(),
		Kind:    r.Kind.String(),
		State:   r.State.String(),
		Message: session.FormatMessage(r),
		Seq:     r.Seq,
		Bytes:   r.Bytes,
		Port:    r.Port,
		Data:    r.Data,
		DelayMS: r.Delay.Milliseconds(),
	}
	if r.Status != lorawan.StatusOK {
		rec.Status = int16(r.Status)
		rec.StatusName = r.Status.String()
	}

	switch r.Kind {
	case session.KindConnected, session.KindDisconnected, session.KindJoinFailure,
		session.KindTxDone, session.KindTxFailed, session.KindTxRetry,
		session.KindRxFailed, session.KindUplinkRequired:
		rec.Event = r.Event.String()
	case session.KindDataRate, session.KindDataRateError:
		dr := r.DataRate
		rec.DataRate = &dr
	case session.KindTxMetadata:
		m := r.Metadata
		rec.AirtimeMS = float64(m.Airtime) / float64(time.Millisecond)
		rec.Channel = &m.Channel
		rec.DataRate = &m.DataRate
		rec.TxPower = m.TxPower
		rec.Retries = m.Retries
		rec.Stale = m.Stale
	}
	return rec
}

// ParseEncoding validates an encoding name
func ParseEncoding(s string) (Encoding, error) {
	switch e := Encoding(strings.ToLower(s)); e {
	case EncodingJSON, EncodingCBOR:
		return e, nil
	default:
		return "", fmt.Errorf("unknown sink encoding %q", s)
	}
}

// Encode serializes a record
func Encode(enc Encoding, rec Record) ([]byte, error) {
	switch enc {
	case EncodingJSON:
		return json.Marshal(rec)
	case EncodingCBOR:
		return cborMode.Marshal(rec)
	default:
		return nil, fmt.Errorf("unknown sink encoding %q", enc)
	}
}

// Decode parses a record in either encoding. A leading '{' selects JSON.
func Decode(data []byte) (Record, error) {
	var rec Record
	if len(data) == 0 {
		return rec, fmt.Errorf("empty record")
	}
	if data[0] == '{' {
		if err := json.Unmarshal(data, &rec); err != nil {
			return rec, fmt.Errorf("failed to decode JSON record: %w", err)
		}
		return rec, nil
	}
	if err := cbor.Unmarshal(data, &rec); err != nil {
		return rec, fmt.Errorf("failed to decode CBOR record: %w", err)
	}
	return rec, nil
}

// Format renders a record the way the session text reporter renders reports
func Format(rec Record) string {
	return fmt.Sprintf("[%s] %-8.8s %-18s %s\n",
		rec.Time.Local().Format("15:04:05.000"), rec.Session, rec.State, rec.Message)
}
