// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package lorawan

import (
	"errors"
	"fmt"
)

// Status is a MAC engine status code. Zero means OK and every failure is
// negative. Non-zero values satisfy the error interface so engine methods can
// return them directly; callers compare with errors.Is.
type Status int16

// Numeric values match the reference LoRaWAN stack so that codes printed by
// this tool can be looked up in its documentation.
const (
	StatusOK                   Status = 0
	StatusBusy                 Status = -1000
	StatusWouldBlock           Status = -1001
	StatusServiceUnknown       Status = -1002
	StatusParameterInvalid     Status = -1003
	StatusFrequencyInvalid     Status = -1004
	StatusDataRateInvalid      Status = -1005
	StatusFreqAndDRInvalid     Status = -1006
	StatusNoNetworkJoined      Status = -1009
	StatusLengthError          Status = -1010
	StatusDeviceOff            Status = -1011
	StatusNotInitialized       Status = -1012
	StatusUnsupported          Status = -1013
	StatusCryptoFail           Status = -1014
	StatusPortInvalid          Status = -1015
	StatusConnectInProgress    Status = -1016
	StatusNoActiveSessions     Status = -1017
	StatusIdle                 Status = -1018
	StatusNoOp                 Status = -1019
	StatusDutyCycleRestricted  Status = -1020
	StatusNoChannelFound       Status = -1021
	StatusNoFreeChannelFound   Status = -1022
	StatusMetadataNotAvailable Status = -1023
	StatusAlreadyConnected     Status = -1024
)

var statusNames = map[Status]string{
	StatusOK:                   "OK",
	StatusBusy:                 "BUSY",
	StatusWouldBlock:           "WOULD_BLOCK",
	StatusServiceUnknown:       "SERVICE_UNKNOWN",
	StatusParameterInvalid:     "PARAMETER_INVALID",
	StatusFrequencyInvalid:     "FREQUENCY_INVALID",
	StatusDataRateInvalid:      "DATARATE_INVALID",
	StatusFreqAndDRInvalid:     "FREQ_AND_DR_INVALID",
	StatusNoNetworkJoined:      "NO_NETWORK_JOINED",
	StatusLengthError:          "LENGTH_ERROR",
	StatusDeviceOff:            "DEVICE_OFF",
	StatusNotInitialized:       "NOT_INITIALIZED",
	StatusUnsupported:          "UNSUPPORTED",
	StatusCryptoFail:           "CRYPTO_FAIL",
	StatusPortInvalid:          "PORT_INVALID",
	StatusConnectInProgress:    "CONNECT_IN_PROGRESS",
	StatusNoActiveSessions:     "NO_ACTIVE_SESSIONS",
	StatusIdle:                 "IDLE",
	StatusNoOp:                 "NO_OP",
	StatusDutyCycleRestricted:  "DUTYCYCLE_RESTRICTED",
	StatusNoChannelFound:       "NO_CHANNEL_FOUND",
	StatusNoFreeChannelFound:   "NO_FREE_CHANNEL_FOUND",
	StatusMetadataNotAvailable: "METADATA_NOT_AVAILABLE",
	StatusAlreadyConnected:     "ALREADY_CONNECTED",
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("STATUS(%d)", int16(s))
}

func (s Status) Error() string {
	return fmt.Sprintf("lorawan: %s (%d)", s.String(), int16(s))
}

// Code extracts the numeric status carried by err. Errors that do not wrap a
// Status map to StatusServiceUnknown; a nil error maps to StatusOK.
func Code(err error) Status {
	if err == nil {
		return StatusOK
	}
	var s Status
	if errors.As(err, &s) {
		return s
	}
	return StatusServiceUnknown
}

// Err converts a status to an error, returning nil for StatusOK
func (s Status) Err() error {
	if s == StatusOK {
		return nil
	}
	return s
}
