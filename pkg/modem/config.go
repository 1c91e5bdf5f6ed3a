// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package modem

import (
	"errors"
	"fmt"
	"time"

	brocaar "github.com/brocaar/lorawan"
)

const (
	DefaultCommandTimeout = 10 * time.Second
	DefaultTxTimeout      = 30 * time.Second
	DefaultBusyBackoff    = 10 * time.Second
	DefaultDutyCycle      = 0.01
)

// Config describes the attached modem. Zero identifiers keep whatever the
// modem has provisioned.
type Config struct {
	DevEUI  brocaar.EUI64     `yaml:"dev_eui"`
	JoinEUI brocaar.EUI64     `yaml:"join_eui"`
	AppKey  brocaar.AES128Key `yaml:"app_key"`
	TxPower uint8             `yaml:"tx_power"` // dBm, 0 keeps the modem default

	CommandTimeout time.Duration `yaml:"command_timeout"`
	TxTimeout      time.Duration `yaml:"tx_timeout"`  // uplink start to Done
	BusyBackoff    time.Duration `yaml:"busy_backoff"` // after the modem refuses for duty cycle

	// DutyCycle is the fraction of time on air the local limiter allows.
	// 0 leaves duty-cycle enforcement to the modem.
	DutyCycle float64 `yaml:"duty_cycle"`
}

func DefaultConfig() Config {
	return Config{
		CommandTimeout: DefaultCommandTimeout,
		TxTimeout:      DefaultTxTimeout,
		BusyBackoff:    DefaultBusyBackoff,
		DutyCycle:      DefaultDutyCycle,
	}
}

func (c Config) Validate() error {
	var errs []error
	if c.CommandTimeout <= 0 {
		errs = append(errs, errors.New("command_timeout must be positive"))
	}
	if c.TxTimeout <= 0 {
		errs = append(errs, errors.New("tx_timeout must be positive"))
	}
	if c.BusyBackoff < 0 {
		errs = append(errs, errors.New("busy_backoff must not be negative"))
	}
	if c.DutyCycle < 0 || c.DutyCycle > 1 {
		errs = append(errs, fmt.Errorf("duty_cycle %v out of range [0, 1]", c.DutyCycle))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid modem config: %w", err)
	}
	return nil
}

var (
	zeroEUI brocaar.EUI64
	zeroKey brocaar.AES128Key
)
