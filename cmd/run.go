// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/lorastat/pkg/session"
)

var (
	statsInterval int
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the device session on the attached modem",
	Long: `Join the network and keep sending uplinks until the session ends.

Every outcome is printed as it happens: join, uplinks scheduled, duty-cycle
refusals and retries, transmit results with their metadata, downlinks and
errors. A statistics summary is printed periodically and on exit.

In duty-cycle mode (default) the next uplink goes out as soon as the previous
one completes and the duty cycle allows. With --duty-cycle=false uplinks go
out every --tx-interval instead.

The session ends on Ctrl+C or when the modem link is lost.`,
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().IntVar(&statsInterval, "stats-interval", 300, "Statistics summary interval (seconds, 0 disables)")
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	ms, err := openModemSession(cfg, session.NewTextReporter(os.Stdout))
	if err != nil {
		return err
	}
	defer ms.Close()

	fmt.Printf("Lorastat - Session\n")
	fmt.Printf("Connection: %s\n", ms.connInfo)
	fmt.Printf("Session: %s\n", ms.id)
	fmt.Printf("Region: %s | Port: %d | Mode: %s\n", cfg.Session.Region, cfg.Session.AppPort, cfg.Session.Mode())
	fmt.Printf("Press Ctrl+C to exit\n\n")

	if statsInterval > 0 {
		ms.loop.CallEvery(time.Duration(statsInterval)*time.Second, func() {
			fmt.Println()
			fmt.Print(ms.stats.String())
			fmt.Println()
		})
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err = ms.run(ctx)

	fmt.Println()
	fmt.Print(ms.stats.String())
	return err
}
