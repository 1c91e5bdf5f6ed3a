// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/Thermoquad/lorastat/pkg/region"
)

// PayloadFormat selects how the uplink sequence number is written into the
// transmit buffer
type PayloadFormat string

const (
	PayloadText PayloadFormat = "text"
	PayloadCBOR PayloadFormat = "cbor"
)

// Defaults of the reference device
const (
	DefaultAppPort             = 15
	DefaultConfirmedMsgRetries = 3
	DefaultDataRate            = 0
	DefaultTxInterval          = 30 * time.Second
	DefaultRetryDelay          = 3 * time.Second
	DefaultBufferSize          = 7
)

// MaxBufferSize is the largest application payload any region allows
const MaxBufferSize = 242

// Config is the session configuration. It is copied into the Controller at
// construction and never changes afterwards.
type Config struct {
	AppPort             uint8         `yaml:"app_port"`
	ConfirmedMsgRetries uint8         `yaml:"confirmed_msg_retries"`
	ADR                 bool          `yaml:"adr"`
	DataRate            uint8         `yaml:"data_rate"` // used when ADR is off
	DutyCycle           bool          `yaml:"duty_cycle"`
	TxInterval          time.Duration `yaml:"tx_interval"` // fixed-interval mode only
	RetryDelay          time.Duration `yaml:"retry_delay"`
	TxBufferSize        int           `yaml:"tx_buffer_size"`
	RxBufferSize        int           `yaml:"rx_buffer_size"`
	Payload             PayloadFormat `yaml:"payload"`
	Region              string        `yaml:"region"`
}

// DefaultConfig returns the configuration of the reference device
func DefaultConfig() Config {
	return Config{
		AppPort:             DefaultAppPort,
		ConfirmedMsgRetries: DefaultConfirmedMsgRetries,
		ADR:                 false,
		DataRate:            DefaultDataRate,
		DutyCycle:           true,
		TxInterval:          DefaultTxInterval,
		RetryDelay:          DefaultRetryDelay,
		TxBufferSize:        DefaultBufferSize,
		RxBufferSize:        DefaultBufferSize,
		Payload:             PayloadText,
		Region:              region.Default,
	}
}

// Validate checks the configuration and returns every problem found
func (c Config) Validate() error {
	var errs []error

	if c.AppPort < 1 || c.AppPort > 223 {
		errs = append(errs, fmt.Errorf("app_port %d out of range 1-223", c.AppPort))
	}
	if c.RetryDelay <= 0 {
		errs = append(errs, fmt.Errorf("retry_delay must be positive, got %v", c.RetryDelay))
	}
	if !c.DutyCycle && c.TxInterval <= 0 {
		errs = append(errs, fmt.Errorf("tx_interval must be positive, got %v", c.TxInterval))
	}
	if c.TxBufferSize < 1 || c.TxBufferSize > MaxBufferSize {
		errs = append(errs, fmt.Errorf("tx_buffer_size %d out of range 1-%d", c.TxBufferSize, MaxBufferSize))
	}
	if c.RxBufferSize < 1 || c.RxBufferSize > MaxBufferSize {
		errs = append(errs, fmt.Errorf("rx_buffer_size %d out of range 1-%d", c.RxBufferSize, MaxBufferSize))
	}
	switch c.Payload {
	case PayloadText, PayloadCBOR:
	default:
		errs = append(errs, fmt.Errorf("unknown payload format %q", c.Payload))
	}

	plan, err := region.Lookup(c.Region)
	if err != nil {
		errs = append(errs, err)
	} else if !c.ADR {
		if _, err := plan.DataRate(c.DataRate); err != nil {
			errs = append(errs, fmt.Errorf("data_rate: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid session config: %w", errors.Join(errs...))
	}
	return nil
}

// Mode names the scheduling policy
func (c Config) Mode() string {
	if c.DutyCycle {
		return "duty-cycle"
	}
	return fmt.Sprintf("fixed-interval (%v)", c.TxInterval)
}
