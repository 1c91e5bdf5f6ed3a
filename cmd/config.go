// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/Thermoquad/lorastat/pkg/modem"
	"github.com/Thermoquad/lorastat/pkg/session"
	"github.com/Thermoquad/lorastat/pkg/sink"
)

// appConfig is the layout of the --config file
type appConfig struct {
	Session session.Config `yaml:"session"`
	Device  modem.Config   `yaml:"device"`
	Sink    sink.Config    `yaml:"sink"`
}

func defaultAppConfig() appConfig {
	return appConfig{
		Session: session.DefaultConfig(),
		Device:  modem.DefaultConfig(),
		Sink:    sink.DefaultConfig(),
	}
}

// Session flags override the config file only when given
var sessionFlags struct {
	region           string
	appPort          uint8
	dataRate         uint8
	adr              bool
	dutyCycle        bool
	txInterval       time.Duration
	retryDelay       time.Duration
	confirmedRetries uint8
	payload          string

	mqttBroker   string
	natsURL      string
	sinkEncoding string
}

func addSessionFlags(c *cobra.Command) {
	d := session.DefaultConfig()
	f := c.PersistentFlags()
	f.StringVar(&sessionFlags.region, "region", d.Region, "LoRaWAN region (EU868, US915, ...)")
	f.Uint8Var(&sessionFlags.appPort, "app-port", d.AppPort, "Application port for uplinks")
	f.Uint8Var(&sessionFlags.dataRate, "data-rate", d.DataRate, "Fixed data rate when ADR is off")
	f.BoolVar(&sessionFlags.adr, "adr", d.ADR, "Enable adaptive data rate")
	f.BoolVar(&sessionFlags.dutyCycle, "duty-cycle", d.DutyCycle, "Send whenever the duty cycle allows (false for fixed interval)")
	f.DurationVar(&sessionFlags.txInterval, "tx-interval", d.TxInterval, "Uplink period in fixed-interval mode")
	f.DurationVar(&sessionFlags.retryDelay, "retry-delay", d.RetryDelay, "Retry delay after a duty-cycle refusal")
	f.Uint8Var(&sessionFlags.confirmedRetries, "confirmed-retries", d.ConfirmedMsgRetries, "Confirmed message retry limit")
	f.StringVar(&sessionFlags.payload, "payload", string(d.Payload), "Uplink payload format (text, cbor)")

	f.StringVar(&sessionFlags.mqttBroker, "mqtt-broker", "", "Publish reports to this MQTT broker (tcp://host:1883)")
	f.StringVar(&sessionFlags.natsURL, "nats-url", "", "Publish reports to this NATS server (nats://host:4222)")
	f.StringVar(&sessionFlags.sinkEncoding, "sink-encoding", string(sink.EncodingJSON), "Published record encoding (json, cbor)")
}

// loadConfig merges defaults, the --config file and explicitly set flags
func loadConfig(c *cobra.Command) (appConfig, error) {
	cfg := defaultAppConfig()

	if configPath != "" {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return cfg, fmt.Errorf("failed to read config %s: %w", configPath, err)
		}
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config %s: %w", configPath, err)
		}
	}

	flags := c.Flags()
	s := &cfg.Session
	if flags.Changed("region") {
		s.Region = sessionFlags.region
	}
	if flags.Changed("app-port") {
		s.AppPort = sessionFlags.appPort
	}
	if flags.Changed("data-rate") {
		s.DataRate = sessionFlags.dataRate
	}
	if flags.Changed("adr") {
		s.ADR = sessionFlags.adr
	}
	if flags.Changed("duty-cycle") {
		s.DutyCycle = sessionFlags.dutyCycle
	}
	if flags.Changed("tx-interval") {
		s.TxInterval = sessionFlags.txInterval
	}
	if flags.Changed("retry-delay") {
		s.RetryDelay = sessionFlags.retryDelay
	}
	if flags.Changed("confirmed-retries") {
		s.ConfirmedMsgRetries = sessionFlags.confirmedRetries
	}
	if flags.Changed("payload") {
		s.Payload = session.PayloadFormat(sessionFlags.payload)
	}
	if flags.Changed("mqtt-broker") {
		cfg.Sink.MQTTBroker = sessionFlags.mqttBroker
	}
	if flags.Changed("nats-url") {
		cfg.Sink.NATSURL = sessionFlags.natsURL
	}
	if flags.Changed("sink-encoding") {
		enc, err := sink.ParseEncoding(sessionFlags.sinkEncoding)
		if err != nil {
			return cfg, err
		}
		cfg.Sink.Encoding = enc
	}

	if err := cfg.Session.Validate(); err != nil {
		return cfg, err
	}
	if err := cfg.Device.Validate(); err != nil {
		return cfg, err
	}
	if _, err := sink.ParseEncoding(string(cfg.Sink.Encoding)); err != nil {
		return cfg, err
	}
	return cfg, nil
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration as YAML",
	Long: `Print the configuration a session would run with, after merging the
built-in defaults, the --config file and command-line flags.

The output is a valid --config file.`,
	RunE: runConfig,
}

func init() {
	rootCmd.AddCommand(configCmd)
}

func runConfig(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	enc := yaml.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return enc.Close()
}
