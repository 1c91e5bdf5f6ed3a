// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

var (
	linkTestDuration  int
	linkTestKeepalive int
)

var linkTestCmd = &cobra.Command{
	Use:   "link_test",
	Short: "Test modem link stability over time",
	Long: `Keep the modem link open, send AT every --keepalive seconds and count the
answers. Every line received is logged. Useful for debugging flaky serial
adapters and WebSocket bridges before starting a long session.

Exit codes:
  0 - Every keepalive was answered
  1 - Keepalives went unanswered or the link failed
  2 - Connection error`,
	RunE: runLinkTest,
}

func init() {
	rootCmd.AddCommand(linkTestCmd)
	linkTestCmd.Flags().IntVar(&linkTestDuration, "duration", 30, "Test duration in seconds")
	linkTestCmd.Flags().IntVar(&linkTestKeepalive, "keepalive", 5, "Seconds between AT keepalives")
}

func runLinkTest(cmd *cobra.Command, args []string) error {
	conn, connInfo, err := OpenConnection()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}
	defer conn.Close()

	fmt.Printf("Modem Link Stability Test\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Duration: %d seconds, keepalive every %d seconds\n\n", linkTestDuration, linkTestKeepalive)

	lines := make(chan string, 100)
	errChan := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(conn)
		for scanner.Scan() {
			if line := strings.TrimSpace(scanner.Text()); line != "" {
				lines <- line
			}
		}
		err := scanner.Err()
		if err == nil {
			err = io.EOF
		}
		errChan <- err
	}()

	start := time.Now()
	deadline := time.After(time.Duration(linkTestDuration) * time.Second)
	keepalive := time.NewTicker(time.Duration(linkTestKeepalive) * time.Second)
	defer keepalive.Stop()

	sent, answered, received := 0, 0, 0
	results := func(result string) {
		fmt.Printf("\n--- Test Results ---\n")
		fmt.Printf("Duration: %v\n", time.Since(start).Round(time.Second))
		fmt.Printf("Keepalives: %d sent, %d answered\n", sent, answered)
		fmt.Printf("Lines received: %d\n", received)
		fmt.Printf("Result: %s\n", result)
	}

	ping := func() error {
		sent++
		_, err := io.WriteString(conn, "AT\r\n")
		return err
	}
	if err := ping(); err != nil {
		results("FAILED (write error)")
		os.Exit(1)
	}

	for {
		select {
		case line := <-lines:
			received++
			if strings.HasPrefix(line, "+AT:") {
				answered++
			}
			fmt.Printf("[%s] %s\n", time.Now().Format("15:04:05.000"), line)

		case <-keepalive.C:
			if err := ping(); err != nil {
				fmt.Printf("\n[%s] Write error: %v\n", time.Now().Format("15:04:05.000"), err)
				results("FAILED (write error)")
				os.Exit(1)
			}

		case err := <-errChan:
			fmt.Printf("\n[%s] Connection error: %v\n", time.Now().Format("15:04:05.000"), err)
			results("FAILED (connection error)")
			os.Exit(1)

		case <-deadline:
			if answered < sent-1 {
				// the last keepalive may still be in flight
				results("FAILED (keepalives unanswered)")
				os.Exit(1)
			}
			results("PASSED (link stable)")
			return nil
		}
	}
}
