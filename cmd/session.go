// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Thermoquad/lorastat/pkg/eventqueue"
	"github.com/Thermoquad/lorastat/pkg/modem"
	"github.com/Thermoquad/lorastat/pkg/region"
	"github.com/Thermoquad/lorastat/pkg/session"
	"github.com/Thermoquad/lorastat/pkg/sink"
)

// modemSession is a controller driving the attached modem on a wall-clock loop
type modemSession struct {
	id       string
	connInfo string
	conn     Connection
	loop     *eventqueue.Loop
	engine   *modem.Engine
	ctl      *session.Controller
	stats    *session.Statistics
	sink     *sink.Sink
}

// openModemSession opens the modem link and any report sinks. Reports go to
// the statistics, the given reporters and the sinks, in that order.
func openModemSession(cfg appConfig, reporters ...session.Reporter) (*modemSession, error) {
	plan, err := region.Lookup(cfg.Session.Region)
	if err != nil {
		return nil, err
	}

	s := &modemSession{
		id:    uuid.NewString(),
		loop:  eventqueue.NewLoop(),
		stats: session.NewStatistics(time.Now()),
	}
	log := logger.With().Str("session", s.id).Logger()

	reps := session.MultiReporter{s.stats}
	reps = append(reps, reporters...)
	if cfg.Sink.Enabled() {
		s.sink, err = sink.Open(cfg.Sink, "lorastat-"+s.id[:8], log)
		if err != nil {
			return nil, err
		}
		reps = append(reps, s.sink)
	}

	s.conn, s.connInfo, err = OpenConnection()
	if err != nil {
		s.closeSink()
		return nil, err
	}

	s.engine = modem.New(s.conn, plan, cfg.Device,
		modem.WithLogger(log.With().Str("component", "modem").Logger()))

	s.ctl, err = session.NewController(cfg.Session, s.engine, s.loop,
		session.WithReporter(reps),
		session.WithLogger(log),
		session.WithSessionID(s.id),
	)
	if err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// run dispatches until the session disconnects or ctx is cancelled. An
// interrupted session is not an error.
func (s *modemSession) run(ctx context.Context) error {
	err := s.ctl.Run(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	var initErr *session.InitError
	if errors.As(err, &initErr) {
		return fmt.Errorf("session initialization failed: %w", err)
	}
	return err
}

func (s *modemSession) Close() {
	s.closeSink()
	if s.conn != nil {
		s.conn.Close()
	}
}

func (s *modemSession) closeSink() {
	if s.sink == nil {
		return
	}
	if err := s.sink.Close(); err != nil {
		logger.Warn().Err(err).Msg("closing report sink")
	}
	if n := s.sink.Dropped(); n > 0 {
		logger.Warn().Uint64("dropped", n).Msg("reports dropped while brokers were slow")
	}
	s.sink = nil
}
