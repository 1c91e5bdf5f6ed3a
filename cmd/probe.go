// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/lorastat/pkg/modem"
)

var (
	probeTimeout int
)

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Test the modem link by sending AT and waiting for OK",
	Long: `Send AT to the modem and wait for +AT: OK, then read the firmware version.

This command connects to a serial port or WebSocket bridge and checks that a
modem speaking the Wio-E5 AT command set answers. Anything else on the line
is ignored until the reply arrives or the timeout expires.

Exit codes:
  0 - Modem answered before timeout
  1 - Timeout reached without an answer
  2 - Connection error`,
	RunE: runProbe,
}

func init() {
	rootCmd.AddCommand(probeCmd)
	probeCmd.Flags().IntVar(&probeTimeout, "timeout", 10, "Timeout in seconds to wait for the modem")
}

func runProbe(cmd *cobra.Command, args []string) error {
	conn, connInfo, err := OpenConnection()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}
	defer conn.Close()

	fmt.Printf("Lorastat - Modem Probe\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Timeout: %d seconds\n\n", probeTimeout)

	version, err := modem.Probe(conn, time.Duration(probeTimeout)*time.Second)
	switch {
	case err == nil:
		fmt.Printf("SUCCESS: Modem answered\n")
		fmt.Printf("  Firmware: %s\n", version)
		conn.Close()
		os.Exit(0)

	case errors.Is(err, modem.ErrTimeout):
		fmt.Fprintf(os.Stderr, "TIMEOUT: No answer within %d seconds (%v)\n", probeTimeout, err)
		conn.Close()
		os.Exit(1)

	default:
		fmt.Fprintf(os.Stderr, "Read error: %v\n", err)
		conn.Close()
		os.Exit(2)
	}

	return nil
}
