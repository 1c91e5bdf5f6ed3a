// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/Thermoquad/lorastat/pkg/lorawan"
	"github.com/Thermoquad/lorastat/pkg/session"
)

// Event log entry
type logEntry struct {
	timestamp time.Time
	message   string
	isError   bool
}

// TUI model
type model struct {
	connInfo  string
	sessionID string
	mode      string
	region    string

	stats        *session.Statistics
	state        session.State
	seq          uint32
	lastMeta     *lorawan.TxMetadata
	lastDownlink *session.Report

	eventLog      []logEntry
	maxLogEntries int
	showAll       bool

	spinner  spinner.Model
	viewport viewport.Model

	width    int
	height   int
	quitting bool
	ended    bool
	endErr   error
}

// Messages
type tickMsg time.Time
type reportMsg session.Report
type sessionEndedMsg struct {
	err error
}

// formatUptime formats a duration as a human-friendly string
func formatUptime(d time.Duration) string {
	seconds := int64(d / time.Second)
	if seconds <= 0 {
		return "0 seconds"
	}

	minutes := seconds / 60
	hours := minutes / 60
	days := hours / 24

	seconds %= 60
	minutes %= 60
	hours %= 24

	plural := func(n int64, unit string) string {
		if n == 1 {
			return "1 " + unit
		}
		return fmt.Sprintf("%d %ss", n, unit)
	}

	parts := []string{}
	if days > 0 {
		parts = append(parts, plural(days, "day"))
	}
	if hours > 0 {
		parts = append(parts, plural(hours, "hour"))
	}
	if minutes > 0 {
		parts = append(parts, plural(minutes, "minute"))
	}
	if seconds > 0 || len(parts) == 0 {
		parts = append(parts, plural(seconds, "second"))
	}

	// Join with commas and "and" for last item
	if len(parts) == 1 {
		return parts[0]
	}
	if len(parts) == 2 {
		return parts[0] + " and " + parts[1]
	}
	last := parts[len(parts)-1]
	rest := strings.Join(parts[:len(parts)-1], ", ")
	return rest + ", and " + last
}

func initialModel(connInfo, sessionID string, cfg session.Config, showAll bool) model {
	sp := spinner.New(spinner.WithSpinner(spinner.Dot))
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))

	return model{
		connInfo:      connInfo,
		sessionID:     sessionID,
		mode:          cfg.Mode(),
		region:        cfg.Region,
		stats:         session.NewStatistics(time.Now()),
		state:         session.StateUninitialized,
		eventLog:      make([]logEntry, 0),
		maxLogEntries: 500,
		showAll:       showAll,
		spinner:       sp,
		viewport:      viewport.New(76, 10),
		width:         80,
		height:        24,
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(
		tickCmd(),
		m.spinner.Tick,
		tea.EnterAltScreen,
	)
}

func tickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		case "a":
			m.showAll = !m.showAll
			return m, nil
		}
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		return m, cmd

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.viewport.Width = max(msg.Width-6, 20)
		m.viewport.Height = max(msg.Height-headerLines, 5)
		m.refreshLog()

	case tickMsg:
		m.stats.CalculateRates()
		return m, tickCmd()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case reportMsg:
		m.applyReport(session.Report(msg))

	case sessionEndedMsg:
		m.ended = true
		m.endErr = msg.err
		if msg.err != nil {
			m.addLogEntry(time.Now(), fmt.Sprintf("Session ended: %v", msg.err), true)
		} else {
			m.addLogEntry(time.Now(), "Session ended", false)
		}
	}

	return m, nil
}

// headerLines is the height of everything above the event log
const headerLines = 16

func (m *model) applyReport(r session.Report) {
	m.stats.Report(r)
	m.state = r.State

	switch r.Kind {
	case session.KindUplinkScheduled:
		m.seq = r.Seq
	case session.KindTxMetadata:
		meta := r.Metadata
		m.lastMeta = &meta
	case session.KindDownlink:
		m.lastDownlink = &r
	}

	if r.Kind.IsError() || m.showAll || r.Kind == session.KindConnected || r.Kind == session.KindDisconnected {
		m.addLogEntry(r.Time, session.FormatMessage(r), r.Kind.IsError())
	}
}

func (m *model) addLogEntry(ts time.Time, message string, isError bool) {
	m.eventLog = append(m.eventLog, logEntry{
		timestamp: ts,
		message:   message,
		isError:   isError,
	})

	// Keep only last N entries
	if len(m.eventLog) > m.maxLogEntries {
		m.eventLog = m.eventLog[len(m.eventLog)-m.maxLogEntries:]
	}
	m.refreshLog()
}

// refreshLog re-renders the event log into the viewport, following the tail
// unless the user scrolled away from it
func (m *model) refreshLog() {
	follow := m.viewport.AtBottom()
	m.viewport.SetContent(m.renderLog())
	if follow {
		m.viewport.GotoBottom()
	}
}

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("12")).
			Background(lipgloss.Color("235")).
			Padding(0, 1)

	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))

	statsLabelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("12")).
			Bold(true)

	statsValueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("10"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("9")).
			Bold(true)

	warningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("11"))

	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")).
			Padding(0, 1)
)

func (m model) renderLog() string {
	if len(m.eventLog) == 0 {
		return headerStyle.Render("  (no events yet)")
	}

	var b strings.Builder
	for _, entry := range m.eventLog {
		timestamp := entry.timestamp.Format("15:04:05.000")
		if entry.isError {
			b.WriteString(fmt.Sprintf("%s %s\n", headerStyle.Render(timestamp), errorStyle.Render("✗ "+entry.message)))
		} else {
			b.WriteString(fmt.Sprintf("%s %s\n", headerStyle.Render(timestamp), warningStyle.Render("ℹ "+entry.message)))
		}
	}
	return strings.TrimSuffix(b.String(), "\n")
}

func (m model) renderState() string {
	switch {
	case m.ended:
		return errorStyle.Render("■ " + m.state.String())
	case m.state == session.StateJoining || m.state == session.StateJoinedAwaitingTx:
		return m.spinner.View() + " " + warningStyle.Render(m.state.String())
	case m.state.Joined():
		return statsValueStyle.Render("✓ " + m.state.String())
	default:
		return headerStyle.Render(m.state.String())
	}
}

func (m model) View() string {
	if m.quitting {
		return "Shutting down...\n"
	}

	var s strings.Builder
	s.WriteString(titleStyle.Render("LORASTAT - SESSION MONITOR"))
	s.WriteString("\n")
	s.WriteString(headerStyle.Render(fmt.Sprintf("%s | %s | %s | 'a' all events, 'q' quit",
		m.connInfo, m.region, m.mode)))
	s.WriteString("\n\n")

	s.WriteString(m.renderState())
	s.WriteString(headerStyle.Render(fmt.Sprintf("  session %s, up %s", m.sessionID, formatUptime(m.stats.Elapsed()))))
	s.WriteString("\n\n")

	// Statistics
	st := m.stats
	var donePercent float64
	if st.Uplinks > 0 {
		donePercent = float64(st.TxDone) * 100.0 / float64(st.Uplinks)
	}

	statsContent := strings.Builder{}
	statsContent.WriteString(fmt.Sprintf("%s %s   %s %s   %s %s\n",
		statsLabelStyle.Render("Uplinks:"), statsValueStyle.Render(fmt.Sprintf("%d (seq %d)", st.Uplinks, m.seq)),
		statsLabelStyle.Render("Sent:"), statsValueStyle.Render(fmt.Sprintf("%d (%.1f%%)", st.TxDone, donePercent)),
		statsLabelStyle.Render("Downlinks:"), statsValueStyle.Render(fmt.Sprintf("%d", st.Downlinks)),
	))
	statsContent.WriteString(fmt.Sprintf("%s %s   %s %s   %s %s\n",
		statsLabelStyle.Render("Would block:"), warningStyle.Render(fmt.Sprintf("%d", st.WouldBlock)),
		statsLabelStyle.Render("Retries:"), warningStyle.Render(fmt.Sprintf("%d", st.RetriesArmed)),
		statsLabelStyle.Render("Errors:"), func() string {
			if st.Errors() > 0 {
				return errorStyle.Render(fmt.Sprintf("%d", st.Errors()))
			}
			return statsValueStyle.Render("0")
		}(),
	))
	statsContent.WriteString(fmt.Sprintf("%s %s   %s %s",
		statsLabelStyle.Render("Uplink Rate:"), statsValueStyle.Render(fmt.Sprintf("%.1f/h", st.UplinkRate)),
		statsLabelStyle.Render("Airtime Share:"), statsValueStyle.Render(fmt.Sprintf("%.3f%%", st.AirtimeShare*100)),
	))
	s.WriteString(boxStyle.Render(statsContent.String()))
	s.WriteString("\n")

	// Last uplink and downlink
	last := strings.Builder{}
	if m.lastMeta != nil {
		last.WriteString(fmt.Sprintf("%s %s", statsLabelStyle.Render("Last TX:"),
			statsValueStyle.Render(session.FormatMetadata(*m.lastMeta))))
	} else {
		last.WriteString(headerStyle.Render("No uplink completed yet"))
	}
	if m.lastDownlink != nil {
		last.WriteString("\n")
		last.WriteString(fmt.Sprintf("%s %s", statsLabelStyle.Render("Last RX:"),
			statsValueStyle.Render(session.FormatMessage(*m.lastDownlink))))
	}
	s.WriteString(last.String())
	s.WriteString("\n\n")

	s.WriteString(statsLabelStyle.Render("Recent Events:"))
	s.WriteString("\n")
	s.WriteString(boxStyle.Width(m.width - 4).Render(m.viewport.View()))

	return s.String()
}
