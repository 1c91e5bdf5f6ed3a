// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/Thermoquad/lorastat/pkg/sink"
)

var listenCmd = &cobra.Command{
	Use:   "listen",
	Short: "Print session reports published to MQTT or NATS",
	Long: `Subscribe to the report topics a running session publishes to and print
each record as it arrives, from any number of devices.

The brokers come from --mqtt-broker / --nats-url or the sink section of the
config file. Records in either encoding are accepted.`,
	RunE: runListen,
}

func init() {
	rootCmd.AddCommand(listenCmd)
}

func runListen(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if !cfg.Sink.Enabled() {
		return fmt.Errorf("either --mqtt-broker or --nats-url must be specified")
	}

	// Subscriptions deliver on client goroutines
	var mu sync.Mutex
	show := func(rec sink.Record) {
		mu.Lock()
		defer mu.Unlock()
		fmt.Print(sink.Format(rec))
	}

	clientID := "lorastat-listen-" + uuid.NewString()[:8]
	fmt.Printf("Lorastat - Report Listener\n")

	if cfg.Sink.MQTTBroker != "" {
		sub, err := sink.SubscribeMQTT(cfg.Sink.MQTTBroker, clientID, cfg.Sink.MQTTTopic, logger, show)
		if err != nil {
			return err
		}
		defer sub.Close()
		fmt.Printf("MQTT: %s (%s/#)\n", cfg.Sink.MQTTBroker, cfg.Sink.MQTTTopic)
	}
	if cfg.Sink.NATSURL != "" {
		sub, err := sink.SubscribeNATS(cfg.Sink.NATSURL, clientID, cfg.Sink.NATSSubject, logger, show)
		if err != nil {
			return err
		}
		defer sub.Close()
		fmt.Printf("NATS: %s (%s.>)\n", cfg.Sink.NATSURL, cfg.Sink.NATSSubject)
	}
	fmt.Printf("Press Ctrl+C to exit\n\n")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()
	return nil
}
