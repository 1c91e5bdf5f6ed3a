// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package region looks up regional data-rate parameters and derives
// time-on-air from them.
package region

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/brocaar/lorawan"
	"github.com/brocaar/lorawan/band"
)

// Default region of the reference device
const Default = "EU868"

// phyOverhead is MHDR(1) + FHDR without FOpts(7) + FPort(1) + MIC(4)
const phyOverhead = 13

// LoRa frame constants used by the time-on-air formula
const (
	preambleSymbols = 8
	codingRate      = 1 // 4/5
)

// Plan is the data-rate table of one region
type Plan struct {
	name string
	band band.Band
}

// Lookup returns the plan for a region name such as "EU868" or "US915"
func Lookup(name string) (*Plan, error) {
	n := strings.ToUpper(strings.TrimSpace(name))
	b, err := band.GetConfig(band.Name(n), false, lorawan.DwellTimeNoLimit)
	if err != nil {
		return nil, fmt.Errorf("unknown region %q: %w", name, err)
	}
	return &Plan{name: n, band: b}, nil
}

// Name returns the canonical region name
func (p *Plan) Name() string {
	return p.name
}

// DataRate returns the regional parameters of data rate index dr
func (p *Plan) DataRate(dr uint8) (band.DataRate, error) {
	rate, err := p.band.GetDataRate(int(dr))
	if err != nil {
		return band.DataRate{}, fmt.Errorf("%s has no DR%d: %w", p.name, dr, err)
	}
	return rate, nil
}

// Describe renders a data rate as e.g. "DR0 (SF12BW125)"
func (p *Plan) Describe(dr uint8) string {
	rate, err := p.DataRate(dr)
	if err != nil {
		return fmt.Sprintf("DR%d", dr)
	}
	switch rate.Modulation {
	case band.LoRaModulation:
		return fmt.Sprintf("DR%d (SF%dBW%d)", dr, rate.SpreadFactor, rate.Bandwidth)
	case band.FSKModulation:
		return fmt.Sprintf("DR%d (FSK %d bps)", dr, rate.BitRate)
	default:
		return fmt.Sprintf("DR%d (%s)", dr, rate.Modulation)
	}
}

// Airtime returns the time-on-air of an uplink carrying appPayloadLen bytes of
// application payload at data rate dr.
func (p *Plan) Airtime(dr uint8, appPayloadLen int) (time.Duration, error) {
	rate, err := p.DataRate(dr)
	if err != nil {
		return 0, err
	}
	pl := float64(appPayloadLen + phyOverhead)

	switch rate.Modulation {
	case band.LoRaModulation:
		sf := float64(rate.SpreadFactor)
		bw := float64(rate.Bandwidth) * 1000
		tSym := math.Pow(2, sf) / bw

		de := 0.0
		if rate.SpreadFactor >= 11 && rate.Bandwidth == 125 {
			de = 1
		}
		// explicit header, CRC on
		num := 8*pl - 4*sf + 28 + 16
		den := 4 * (sf - 2*de)
		payloadSymbols := 8 + math.Max(math.Ceil(num/den)*(codingRate+4), 0)

		seconds := (preambleSymbols+4.25)*tSym + payloadSymbols*tSym
		return time.Duration(seconds * float64(time.Second)), nil

	case band.FSKModulation:
		if rate.BitRate <= 0 {
			return 0, fmt.Errorf("DR%d has no bit rate", dr)
		}
		// preamble(5) + sync(3) + length(1) + payload + CRC(2)
		bits := (5 + 3 + 1 + pl + 2) * 8
		return time.Duration(bits / float64(rate.BitRate) * float64(time.Second)), nil
	}
	return 0, fmt.Errorf("DR%d: unsupported modulation %s", dr, rate.Modulation)
}
