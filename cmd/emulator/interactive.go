package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/wippyai/wasm-firmware/bridge"
	"github.com/wippyai/wasm-firmware/config"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	stateStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#87CEEB"))

	haltedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#90EE90"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B"))

	ledOnStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFD700"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))

	uartStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#7D56F4"))
)

// headerLines is the height of everything above the UART pane.
const headerLines = 12

type interactiveModel struct {
	cfg      *config.Config
	session  *session
	filename string
	image    []byte
	spinner  spinner.Model
	uart     viewport.Model
	boots    int
	booting  bool
}

type bootedMsg struct {
	s *session
}

func newInteractiveModel(cfg *config.Config, image []byte, filename string) *interactiveModel {
	if filename == "" {
		filename = "bundled heartbeat guest"
	}
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	return &interactiveModel{
		cfg:      cfg,
		image:    image,
		filename: filename,
		spinner:  sp,
		uart:     viewport.New(80, 10),
		booting:  true,
	}
}

func (m *interactiveModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.powerOn)
}

func (m *interactiveModel) powerOn() tea.Msg {
	return bootedMsg{s: powerOn(m.cfg, m.image, nil)}
}

func (m *interactiveModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			if m.session != nil {
				m.session.off()
			}
			return m, tea.Quit

		case "r":
			if m.booting {
				return m, nil
			}
			if m.session != nil {
				m.session.off()
				m.session = nil
			}
			m.booting = true
			return m, tea.Batch(m.spinner.Tick, m.powerOn)
		}

	case tea.WindowSizeMsg:
		m.uart.Width = msg.Width - 2
		m.uart.Height = max(msg.Height-headerLines-2, 3)

	case spinner.TickMsg:
		if !m.booting {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case bootedMsg:
		m.session = msg.s
		m.booting = false
		m.boots++
		m.uart.SetContent(string(m.session.board.UART.Bytes()))
		m.uart.GotoBottom()
		return m, nil
	}

	var cmd tea.Cmd
	m.uart, cmd = m.uart.Update(msg)
	return m, cmd
}

func (m *interactiveModel) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("WASM Firmware Emulator"))
	b.WriteString(" ")
	b.WriteString(m.filename)
	b.WriteString("\n\n")

	if m.booting || m.session == nil {
		b.WriteString(m.spinner.View())
		b.WriteString(" resetting...\n")
		return b.String()
	}
	s := m.session

	b.WriteString(fmt.Sprintf("boot #%d  device %#08x  uptime %v\n\n", m.boots, s.board.DeviceID(), s.board.Clock.Uptime()))
	b.WriteString(m.timeline())
	b.WriteString("\n\n")

	led := "○"
	if s.board.LED.On() {
		led = ledOnStyle.Render("●")
	}
	b.WriteString(fmt.Sprintf("LED %s  pattern %s\n", led, patternString(s.pattern)))

	if s.halted() {
		b.WriteString(haltedStyle.Render("halted"))
	} else {
		b.WriteString(errorStyle.Render("fault: " + s.record.String()))
		if s.record.Detail != "" {
			b.WriteString("\n")
			b.WriteString(errorStyle.Render(s.record.Detail))
		}
	}
	b.WriteString("\n")
	if s.hasMailbox {
		b.WriteString(fmt.Sprintf("mailbox %s\n", mailboxString(s.mailbox)))
	} else {
		b.WriteString("mailbox empty\n")
	}

	b.WriteString(uartStyle.Render(m.uart.View()))
	b.WriteString("\n")
	b.WriteString(helpStyle.Render("↑/↓ scroll UART • r power cycle • q quit"))
	return b.String()
}

// timeline renders the bridge state transitions of the current session.
func (m *interactiveModel) timeline() string {
	trs := m.session.transitions
	if len(trs) == 0 {
		return stateStyle.Render(bridge.Uninitialized.String())
	}
	parts := []string{stateStyle.Render(trs[0].From.String())}
	for _, t := range trs {
		style := stateStyle
		switch t.To {
		case bridge.Halted:
			style = haltedStyle
		case bridge.Trapped:
			style = errorStyle
		}
		parts = append(parts, style.Render(t.To.String()))
	}
	return strings.Join(parts, " → ")
}

func runInteractive(cfg *config.Config, image []byte, filename string) error {
	p := tea.NewProgram(newInteractiveModel(cfg, image, filename), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
