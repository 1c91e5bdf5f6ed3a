// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"errors"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/Thermoquad/lorastat/pkg/lorawan"
	"github.com/Thermoquad/lorastat/pkg/session"
)

func TestFormatUptime(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want string
	}{
		{0, "0 seconds"},
		{time.Second, "1 second"},
		{59 * time.Second, "59 seconds"},
		{time.Minute, "1 minute"},
		{time.Hour + 30*time.Second, "1 hour and 30 seconds"},
		{26*time.Hour + 2*time.Minute + 5*time.Second, "1 day, 2 hours, 2 minutes, and 5 seconds"},
	}
	for _, tt := range tests {
		if got := formatUptime(tt.in); got != tt.want {
			t.Errorf("formatUptime(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func update(t *testing.T, m model, msg tea.Msg) model {
	t.Helper()
	next, _ := m.Update(msg)
	return next.(model)
}

func TestModel_Reports(t *testing.T) {
	m := initialModel("Serial: /dev/null @ 9600 baud", "abc", session.DefaultConfig(), false)
	at := time.Now()

	m = update(t, m, reportMsg{Kind: session.KindConnected, Time: at, State: session.StateJoinedIdle, Event: lorawan.Connected})
	m = update(t, m, reportMsg{Kind: session.KindUplinkScheduled, Time: at, State: session.StateJoinedAwaitingTx, Seq: 4, Bytes: 1})
	m = update(t, m, reportMsg{Kind: session.KindWouldBlock, Time: at, State: session.StateJoinedIdle, Status: lorawan.StatusWouldBlock})
	m = update(t, m, reportMsg{
		Kind: session.KindTxMetadata, Time: at, State: session.StateJoinedIdle,
		Metadata: lorawan.TxMetadata{Airtime: time.Second, DataRate: 0},
	})

	if m.state != session.StateJoinedIdle {
		t.Errorf("state = %s", m.state)
	}
	if m.seq != 4 {
		t.Errorf("seq = %d, want 4", m.seq)
	}
	if m.stats.Uplinks != 1 || m.stats.Connects != 1 || m.stats.WouldBlock != 1 {
		t.Errorf("stats not updated: %+v", m.stats)
	}
	if m.lastMeta == nil || m.lastMeta.Airtime != time.Second {
		t.Errorf("lastMeta = %v", m.lastMeta)
	}

	// Errors-only: the connect and the would-block are logged, the uplink is not
	if len(m.eventLog) != 2 {
		t.Fatalf("eventLog has %d entries, want 2", len(m.eventLog))
	}
	if m.eventLog[0].isError || !m.eventLog[1].isError {
		t.Errorf("eventLog = %+v", m.eventLog)
	}

	m = update(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'a'}})
	if !m.showAll {
		t.Fatal("'a' did not enable show-all")
	}
	m = update(t, m, reportMsg{Kind: session.KindTxDone, Time: at, State: session.StateJoinedIdle, Event: lorawan.TxDone})
	if len(m.eventLog) != 3 {
		t.Errorf("eventLog has %d entries after show-all, want 3", len(m.eventLog))
	}
}

func TestModel_LogIsBounded(t *testing.T) {
	m := initialModel("", "abc", session.DefaultConfig(), true)
	m.maxLogEntries = 10
	for i := 0; i < 25; i++ {
		m = update(t, m, reportMsg{Kind: session.KindTxDone, Time: time.Now()})
	}
	if len(m.eventLog) != 10 {
		t.Errorf("eventLog has %d entries, want 10", len(m.eventLog))
	}
}

func TestModel_SessionEnded(t *testing.T) {
	m := initialModel("", "abc", session.DefaultConfig(), false)
	m = update(t, m, sessionEndedMsg{err: errors.New("modem link lost")})

	if !m.ended {
		t.Fatal("ended not set")
	}
	view := m.View()
	if !strings.Contains(view, "LORASTAT - SESSION MONITOR") {
		t.Error("title missing from view")
	}
	if !strings.Contains(m.renderLog(), "Session ended: modem link lost") {
		t.Errorf("log = %q", m.renderLog())
	}
}

func TestModel_Quit(t *testing.T) {
	m := initialModel("", "abc", session.DefaultConfig(), false)
	next, cmd := m.Update(tea.KeyMsg{Type: tea.KeyCtrlC})
	if !next.(model).quitting || cmd == nil {
		t.Fatal("ctrl+c did not quit")
	}
	if got := next.(model).View(); got != "Shutting down...\n" {
		t.Errorf("View() = %q", got)
	}
}

func TestTUIReporter_NeverBlocks(t *testing.T) {
	tr := &tuiReporter{reports: make(chan session.Report, 2)}
	for i := 0; i < 5; i++ {
		tr.Report(session.Report{Kind: session.KindTxDone})
	}
	if len(tr.reports) != 2 {
		t.Errorf("queued %d reports, want 2", len(tr.reports))
	}
}
