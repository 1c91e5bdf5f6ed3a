// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package sink publishes session reports to message brokers. Publishing runs
// on its own goroutine so the dispatch loop never waits on the network.
package sink

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/Thermoquad/lorastat/pkg/session"
)

// DefaultBuffer is the number of reports held while publishers catch up
const DefaultBuffer = 256

// Config selects and configures the brokers reports go to. Empty addresses
// disable a broker.
type Config struct {
	MQTTBroker  string   `yaml:"mqtt_broker"`
	MQTTTopic   string   `yaml:"mqtt_topic"`
	NATSURL     string   `yaml:"nats_url"`
	NATSSubject string   `yaml:"nats_subject"`
	Encoding    Encoding `yaml:"encoding"`
}

// DefaultConfig publishes nowhere
func DefaultConfig() Config {
	return Config{
		MQTTTopic:   "lorastat",
		NATSSubject: "lorastat",
		Encoding:    EncodingJSON,
	}
}

// Enabled reports whether any broker is configured
func (c Config) Enabled() bool {
	return c.MQTTBroker != "" || c.NATSURL != ""
}

// Publisher delivers encoded records for one broker
type Publisher interface {
	// Publish sends data under the given report kind
	Publish(kind string, data []byte) error
	Close() error
}

// Sink is a session.Reporter that hands reports to publishers
type Sink struct {
	publishers []Publisher
	encoding   Encoding
	log        zerolog.Logger

	records chan Record
	done    chan struct{}
	exited  chan struct{}
	once    sync.Once
	dropped atomic.Uint64
	failed  atomic.Uint64
}

// New starts a sink over the given publishers
func New(enc Encoding, log zerolog.Logger, publishers ...Publisher) *Sink {
	s := &Sink{
		publishers: publishers,
		encoding:   enc,
		log:        log,
		records:    make(chan Record, DefaultBuffer),
		done:       make(chan struct{}),
		exited:     make(chan struct{}),
	}
	go s.run()
	return s
}

// Open connects to every broker enabled in cfg. clientID names this process
// to the brokers.
func Open(cfg Config, clientID string, log zerolog.Logger) (*Sink, error) {
	var pubs []Publisher
	if cfg.MQTTBroker != "" {
		p, err := DialMQTT(cfg.MQTTBroker, clientID, cfg.MQTTTopic, log)
		if err != nil {
			return nil, err
		}
		pubs = append(pubs, p)
	}
	if cfg.NATSURL != "" {
		p, err := DialNATS(cfg.NATSURL, clientID, cfg.NATSSubject, log)
		if err != nil {
			for _, prev := range pubs {
				prev.Close()
			}
			return nil, err
		}
		pubs = append(pubs, p)
	}
	return New(cfg.Encoding, log, pubs...), nil
}

// Report queues a report for publishing. It never blocks; when the buffer is
// full the report is dropped and counted.
func (s *Sink) Report(r session.Report) {
	select {
	case <-s.done:
		return
	default:
	}
	select {
	case s.records <- FromReport(r):
	default:
		s.dropped.Add(1)
	}
}

// Dropped returns the number of reports lost to a full buffer
func (s *Sink) Dropped() uint64 {
	return s.dropped.Load()
}

// Failed returns the number of failed publish attempts
func (s *Sink) Failed() uint64 {
	return s.failed.Load()
}

func (s *Sink) run() {
	defer close(s.exited)
	for {
		select {
		case rec := <-s.records:
			s.publish(rec)
		case <-s.done:
			// flush what is already queued
			for {
				select {
				case rec := <-s.records:
					s.publish(rec)
				default:
					return
				}
			}
		}
	}
}

func (s *Sink) publish(rec Record) {
	data, err := Encode(s.encoding, rec)
	if err != nil {
		s.failed.Add(1)
		s.log.Error().Err(err).Msg("encode record")
		return
	}
	kind := strings.ToLower(rec.Kind)
	for _, p := range s.publishers {
		if err := p.Publish(kind, data); err != nil {
			s.failed.Add(1)
			s.log.Warn().Err(err).Str("kind", kind).Msg("publish failed")
		}
	}
}

// Close flushes queued reports and closes every publisher
func (s *Sink) Close() error {
	var errs []error
	s.once.Do(func() {
		close(s.done)
		<-s.exited
		for _, p := range s.publishers {
			if err := p.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	})
	if len(errs) > 0 {
		return fmt.Errorf("close sink: %w", errors.Join(errs...))
	}
	return nil
}
