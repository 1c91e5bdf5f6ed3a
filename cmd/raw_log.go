// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

var (
	rawLogSend []string
)

var rawLogCmd = &cobra.Command{
	Use:   "raw_log",
	Short: "Display raw modem output with timestamps",
	Long: `Continuously display every line the modem prints, with a timestamp.

Commands given with --send are written to the modem first, in order, which is
useful to query settings without starting a session:

  lorastat raw_log --port /dev/ttyUSB0 --send AT+ID --send AT+DR

Supports both serial and WebSocket connections.`,
	RunE: runRawLog,
}

func init() {
	rootCmd.AddCommand(rawLogCmd)
	rawLogCmd.Flags().StringArrayVar(&rawLogSend, "send", nil, "AT command to send before logging (repeatable)")
}

func runRawLog(cmd *cobra.Command, args []string) error {
	conn, connInfo, err := OpenConnection()
	if err != nil {
		return err
	}
	defer conn.Close()

	fmt.Printf("Lorastat - Raw Modem Log\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Press Ctrl+C to exit\n\n")

	for _, c := range rawLogSend {
		fmt.Printf("[%s] > %s\n", time.Now().Format("15:04:05.000"), c)
		if _, err := io.WriteString(conn, c+"\r\n"); err != nil {
			return fmt.Errorf("failed to send %s: %w", c, err)
		}
	}

	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if line == "" {
			continue
		}
		fmt.Printf("[%s] %s\n", time.Now().Format("15:04:05.000"), line)
	}

	err = scanner.Err()
	if err == nil || errors.Is(err, ErrConnectionClosed) {
		log.Printf("Connection closed")
		return nil
	}
	return fmt.Errorf("read error: %w", err)
}
