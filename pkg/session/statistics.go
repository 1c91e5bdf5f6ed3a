// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package session

import (
	"fmt"
	"time"

	"gonum.org/v1/gonum/stat"
)

// Statistics tracks session outcomes and airtime. It is a Reporter; the time
// base is the report timestamps, so it works on virtual time too.
type Statistics struct {
	StartTime      time.Time
	LastUpdateTime time.Time

	// Counters
	Reports        uint64
	Connects       uint64
	JoinFailures   uint64
	Uplinks        uint64
	UplinkBytes    uint64
	TxDone         uint64
	WouldBlock     uint64
	RetriesArmed   uint64
	SendErrors     uint64
	TxFailures     uint64
	TxRetries      uint64
	Downlinks      uint64
	DownlinkBytes  uint64
	ReceiveErrors  uint64
	RxFailures     uint64
	UplinkRequests uint64

	// Airtime of each non-stale TX_DONE, in seconds
	Airtimes []float64

	// Rates (calculated)
	UplinkRate    float64 // uplinks/hour
	ErrorRate     float64 // errors/hour
	AirtimeMean   time.Duration
	AirtimeStdDev time.Duration
	AirtimeShare  float64 // fraction of elapsed time spent transmitting
}

// NewStatistics creates a statistics tracker starting at start
func NewStatistics(start time.Time) *Statistics {
	return &Statistics{
		StartTime:      start,
		LastUpdateTime: start,
	}
}

// Report updates the counters from one report
func (s *Statistics) Report(r Report) {
	s.Reports++
	if r.Time.After(s.LastUpdateTime) {
		s.LastUpdateTime = r.Time
	}

	switch r.Kind {
	case KindConnected:
		s.Connects++
	case KindJoinFailure:
		s.JoinFailures++
	case KindUplinkScheduled:
		s.Uplinks++
		s.UplinkBytes += uint64(r.Bytes)
	case KindTxDone:
		s.TxDone++
	case KindTxMetadata:
		if !r.Metadata.Stale {
			s.Airtimes = append(s.Airtimes, r.Metadata.Airtime.Seconds())
		}
	case KindWouldBlock:
		s.WouldBlock++
	case KindRetryArmed:
		s.RetriesArmed++
	case KindSendError, KindSendRefused, KindPayloadError:
		s.SendErrors++
	case KindTxFailed:
		s.TxFailures++
	case KindTxRetry:
		s.TxRetries++
	case KindDownlink:
		s.Downlinks++
		s.DownlinkBytes += uint64(len(r.Data))
	case KindReceiveError:
		s.ReceiveErrors++
	case KindRxFailed:
		s.RxFailures++
	case KindUplinkRequired:
		s.UplinkRequests++
	}
}

// Errors returns the number of failed outcomes
func (s *Statistics) Errors() uint64 {
	return s.JoinFailures + s.WouldBlock + s.SendErrors + s.TxFailures +
		s.TxRetries + s.ReceiveErrors + s.RxFailures
}

// Elapsed returns the time covered by the reports seen so far
func (s *Statistics) Elapsed() time.Duration {
	return s.LastUpdateTime.Sub(s.StartTime)
}

// CalculateRates calculates rates and airtime figures
func (s *Statistics) CalculateRates() {
	elapsed := s.Elapsed()
	if hours := elapsed.Hours(); hours > 0 {
		s.UplinkRate = float64(s.Uplinks) / hours
		s.ErrorRate = float64(s.Errors()) / hours
	}

	s.AirtimeMean, s.AirtimeStdDev, s.AirtimeShare = 0, 0, 0
	if len(s.Airtimes) == 0 {
		return
	}
	mean, std := stat.MeanStdDev(s.Airtimes, nil)
	if len(s.Airtimes) < 2 {
		std = 0
	}
	s.AirtimeMean = seconds(mean)
	s.AirtimeStdDev = seconds(std)
	if elapsed > 0 {
		var total float64
		for _, a := range s.Airtimes {
			total += a
		}
		s.AirtimeShare = total / elapsed.Seconds()
	}
}

// String returns a formatted statistics summary
func (s *Statistics) String() string {
	s.CalculateRates()

	var donePercent float64
	if s.Uplinks > 0 {
		donePercent = float64(s.TxDone) * 100.0 / float64(s.Uplinks)
	}

	result := fmt.Sprintf("=== Statistics (%.0f seconds) ===\n", s.Elapsed().Seconds())
	result += fmt.Sprintf("Joins:           %8d\n", s.Connects)
	result += fmt.Sprintf("Uplinks:         %8d (%d bytes)\n", s.Uplinks, s.UplinkBytes)
	result += fmt.Sprintf("Sent (TX_DONE):  %8d (%.1f%%)\n", s.TxDone, donePercent)
	result += fmt.Sprintf("Downlinks:       %8d (%d bytes)\n", s.Downlinks, s.DownlinkBytes)

	if s.JoinFailures > 0 {
		result += fmt.Sprintf("Join Failures:   %8d\n", s.JoinFailures)
	}
	if s.WouldBlock > 0 {
		result += fmt.Sprintf("Would Block:     %8d\n", s.WouldBlock)
		result += fmt.Sprintf("  Retries Armed:    %5d\n", s.RetriesArmed)
	}
	if s.SendErrors > 0 {
		result += fmt.Sprintf("Send Errors:     %8d\n", s.SendErrors)
	}
	if s.TxFailures > 0 || s.TxRetries > 0 {
		result += fmt.Sprintf("TX Failures:     %8d\n", s.TxFailures+s.TxRetries)
		if s.TxRetries > 0 {
			result += fmt.Sprintf("  Resent:           %5d\n", s.TxRetries)
		}
	}
	if s.ReceiveErrors > 0 || s.RxFailures > 0 {
		result += fmt.Sprintf("RX Failures:     %8d\n", s.ReceiveErrors+s.RxFailures)
	}
	if s.UplinkRequests > 0 {
		result += fmt.Sprintf("Uplink Requests: %8d\n", s.UplinkRequests)
	}

	if len(s.Airtimes) > 0 {
		result += fmt.Sprintf("Airtime:         %8v ± %v\n", s.AirtimeMean.Round(time.Millisecond), s.AirtimeStdDev.Round(time.Millisecond))
		result += fmt.Sprintf("Airtime Share:   %8.3f%%\n", s.AirtimeShare*100)
	}
	result += fmt.Sprintf("Uplink Rate:     %8.1f uplinks/hour\n", s.UplinkRate)
	result += fmt.Sprintf("Error Rate:      %8.1f errors/hour\n", s.ErrorRate)
	result += "================================\n"

	return result
}

// Reset resets all statistics counters
func (s *Statistics) Reset(start time.Time) {
	*s = Statistics{
		StartTime:      start,
		LastUpdateTime: start,
	}
}

func seconds(v float64) time.Duration {
	return time.Duration(v * float64(time.Second))
}
