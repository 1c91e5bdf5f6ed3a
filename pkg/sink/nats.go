// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package sink

import (
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// NATSPublisher publishes records to <subject>.<kind>
type NATSPublisher struct {
	nc      *nats.Conn
	subject string
}

func connectNATS(url, name string, log zerolog.Logger) (*nats.Conn, error) {
	nc, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn().Err(err).Str("url", url).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS %s: %w", url, err)
	}
	return nc, nil
}

// DialNATS connects to a NATS server such as nats://localhost:4222
func DialNATS(url, name, subject string, log zerolog.Logger) (*NATSPublisher, error) {
	nc, err := connectNATS(url, name, log)
	if err != nil {
		return nil, err
	}
	log.Info().Str("url", nc.ConnectedUrl()).Msg("connected to NATS")
	return &NATSPublisher{nc: nc, subject: subject}, nil
}

func (p *NATSPublisher) Publish(kind string, data []byte) error {
	subject := p.subject + "." + kind
	if err := p.nc.Publish(subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}

func (p *NATSPublisher) Close() error {
	if err := p.nc.Drain(); err != nil {
		p.nc.Close()
		return fmt.Errorf("drain NATS connection: %w", err)
	}
	return nil
}

// NATSSubscription delivers records published under a subject
type NATSSubscription struct {
	nc  *nats.Conn
	sub *nats.Subscription
}

// SubscribeNATS calls fn for every record published below subject. fn runs on
// the NATS client's goroutine.
func SubscribeNATS(url, name, subject string, log zerolog.Logger, fn func(Record)) (*NATSSubscription, error) {
	nc, err := connectNATS(url, name, log)
	if err != nil {
		return nil, err
	}
	sub, err := nc.Subscribe(subject+".>", func(msg *nats.Msg) {
		rec, err := Decode(msg.Data)
		if err != nil {
			log.Warn().Err(err).Str("subject", msg.Subject).Msg("undecodable record")
			return
		}
		fn(rec)
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("subscribe %s.>: %w", subject, err)
	}
	return &NATSSubscription{nc: nc, sub: sub}, nil
}

func (s *NATSSubscription) Close() error {
	if err := s.sub.Unsubscribe(); err != nil {
		s.nc.Close()
		return err
	}
	s.nc.Close()
	return nil
}
