// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/Thermoquad/lorastat/pkg/session"
)

var (
	monitorShowAll bool
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Run the device session inside a terminal UI",
	Long: `Run the same session as the run command, showing the device state, live
counters, the last uplink and downlink, and a scrolling event log.

By default only joins, disconnects and errors are logged. Press 'a' (or start
with --show-all) to log every report. Arrow keys and PgUp/PgDn scroll the log.

Quitting the UI ends the session.`,
	RunE: runMonitor,
}

func init() {
	rootCmd.AddCommand(monitorCmd)
	monitorCmd.Flags().BoolVar(&monitorShowAll, "show-all", false, "Log every report, not just joins and errors")
}

// tuiReporter hands reports to the TUI without blocking the dispatch loop
type tuiReporter struct {
	reports chan session.Report
}

func newTUIReporter() *tuiReporter {
	return &tuiReporter{reports: make(chan session.Report, 256)}
}

func (t *tuiReporter) Report(r session.Report) {
	select {
	case t.reports <- r:
	default:
		logger.Debug().Stringer("kind", r.Kind).Msg("TUI behind, report not shown")
	}
}

// forward delivers queued reports to the program until reports is closed
func (t *tuiReporter) forward(p *tea.Program) {
	for r := range t.reports {
		p.Send(reportMsg(r))
	}
}

func runMonitor(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	tr := newTUIReporter()
	ms, err := openModemSession(cfg, tr)
	if err != nil {
		return err
	}
	defer ms.Close()

	p := tea.NewProgram(initialModel(ms.connInfo, ms.id, cfg.Session, monitorShowAll))
	go tr.forward(p)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() {
		err := ms.run(ctx)
		p.Send(sessionEndedMsg{err: err})
		done <- err
	}()

	if _, err := p.Run(); err != nil {
		return fmt.Errorf("TUI error: %w", err)
	}

	// Leaving the UI ends the session
	cancel()
	err = <-done
	close(tr.reports)

	fmt.Print(ms.stats.String())
	return err
}
