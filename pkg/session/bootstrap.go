// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package session

import (
	"errors"
	"fmt"

	"github.com/Thermoquad/lorastat/pkg/lorawan"
)

// Init steps, in order
const (
	StepInitialize = "initialize"
	StepRetries    = "set confirmed message retries"
	StepADR        = "enable ADR"
	StepConnect    = "connect"
)

// Start runs the initialization sequence: initialize the engine on the
// queue, register the event handler, set the confirmed message retries, apply
// ADR and connect. The first failure is returned as an *InitError and there
// is no retry. Call it once, before the queue dispatches.
func (c *Controller) Start() error {
	if c.started {
		return ErrAlreadyStarted
	}
	c.started = true

	if err := c.engine.Initialize(c.queue); err != nil {
		return c.initFailed(StepInitialize, err)
	}
	c.report(Report{Kind: KindInit, Detail: "LoRaWAN stack initialized"})

	c.engine.SetEventHandler(c.HandleEvent)

	if err := c.engine.SetConfirmedMsgRetries(c.cfg.ConfirmedMsgRetries); err != nil {
		return c.initFailed(StepRetries, err)
	}
	c.report(Report{Kind: KindInit, Detail: fmt.Sprintf("CONFIRMED message retries : %d", c.cfg.ConfirmedMsgRetries)})

	if err := c.engine.EnableADR(c.cfg.ADR); err != nil {
		return c.initFailed(StepADR, err)
	}
	if c.cfg.ADR {
		c.report(Report{Kind: KindInit, Detail: "Adaptive data rate (ADR) - Enabled"})
	} else {
		c.report(Report{Kind: KindInit, Detail: "Adaptive data rate (ADR) - Disabled"})
	}

	c.setState(StateJoining)
	err := c.engine.Connect()
	switch {
	case err == nil:
		c.report(Report{Kind: KindInit, Detail: "Connection - Accepted"})
	case errors.Is(err, lorawan.StatusConnectInProgress):
		c.report(Report{Kind: KindInit, Detail: "Connection - In Progress ..."})
	default:
		return c.initFailed(StepConnect, err)
	}
	return nil
}

func (c *Controller) initFailed(step string, err error) error {
	c.log.Error().Err(err).Str("step", step).Msg("initialization failed")
	return &InitError{Step: step, Err: err}
}
