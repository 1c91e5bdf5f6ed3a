// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package session

import (
	"github.com/Thermoquad/lorastat/pkg/lorawan"
)

// Downlink drains received data into the receive buffer and reports it
type Downlink struct {
	ctl *Controller
	buf []byte
}

func newDownlink(ctl *Controller) *Downlink {
	return &Downlink{
		ctl: ctl,
		buf: make([]byte, ctl.cfg.RxBufferSize),
	}
}

// DrainAndReport reads the pending downlink. Call it only on RX_DONE, the one
// point where the engine guarantees data is available.
func (d *Downlink) DrainAndReport() error {
	ctl := d.ctl
	port, n, err := ctl.engine.Receive(d.buf)
	if err == nil && n < 0 {
		err = lorawan.Status(n)
	}
	if err != nil {
		ctl.log.Warn().Err(err).Msg("receive failed")
		ctl.report(Report{Kind: KindReceiveError, Status: lorawan.Code(err)})
		return err
	}
	if n > len(d.buf) {
		ctl.log.Warn().Int("bytes", n).Int("capacity", len(d.buf)).Msg("downlink too large")
		ctl.report(Report{
			Kind:   KindReceiveError,
			Port:   port,
			Bytes:  n,
			Status: lorawan.StatusLengthError,
			Detail: ErrLengthExceeded.Error(),
		})
		return ErrLengthExceeded
	}

	data := make([]byte, n)
	copy(data, d.buf[:n])
	ctl.report(Report{Kind: KindDownlink, Port: port, Bytes: n, Data: data})
	clear(d.buf)
	return nil
}
