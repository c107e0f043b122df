// pitmon drives a timer board from the keyboard and shows the three
// counters live, the way a guest polling the data ports would see them.
package main

import (
	"fmt"
	"os"
	"strings"
	"sync/atomic"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/tinyrange/i8254"
	"github.com/tinyrange/i8254/internal/chipset"
)

var (
	titleStyle  = lipgloss.NewStyle().Bold(true)
	headerStyle = lipgloss.NewStyle().Faint(true)
	highStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	lowStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	errStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
)

type tickMsg time.Time

type model struct {
	board    *i8254.Board
	irqEdges *atomic.Uint64

	status string
	err    error
}

func (m model) Init() tea.Cmd {
	return tick()
}

func tick() tea.Cmd {
	return tea.Tick(100*time.Millisecond, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tickMsg:
		return m, tick()

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit

		case "2":
			// Rate generator on channel 0: 100 Hz out of the 1.193182
			// MHz input clock.
			m.err = m.program(0x34, 0, 11932)
			m.status = "ch0: mode 2, count 11932 (100 Hz)"

		case "3":
			m.err = m.program(0x36, 0, 0)
			m.status = "ch0: mode 3, count 65536 (18.2 Hz square wave)"

		case "0":
			m.err = m.program(0x30, 0, 0x1234)
			m.status = "ch0: mode 0, count 0x1234 (one shot)"

		case "s":
			// 440 Hz on the speaker channel, gate driven by port 0x61.
			m.err = m.program(0xB6, 2, 2712)
			m.status = "ch2: mode 3, count 2712 (440 Hz)"

		case "g":
			val, err := m.board.Inb(0x61)
			if err != nil {
				m.err = err
				break
			}
			if err := m.board.Outb(0x61, val^0x01); err != nil {
				m.err = err
				break
			}
			m.status = "toggled channel 2 gate"

		case "r":
			if err := m.board.Reset(); err != nil {
				m.err = err
				break
			}
			m.status = "board reset"
		}
		return m, nil
	}
	return m, nil
}

func (m model) program(control byte, channel int, count uint16) error {
	base := uint16(0x40)
	if err := m.board.Outb(base+3, control); err != nil {
		return err
	}
	port := base + uint16(channel)
	if err := m.board.Outb(port, byte(count)); err != nil {
		return err
	}
	return m.board.Outb(port, byte(count>>8))
}

// latchedCount reads a channel the way a guest would: latch, then pull
// both bytes from the data port.
func (m model) latchedCount(channel int) (uint16, error) {
	base := uint16(0x40)
	if err := m.board.Outb(base+3, byte(channel)<<6); err != nil {
		return 0, err
	}
	port := base + uint16(channel)
	lo, err := m.board.Inb(port)
	if err != nil {
		return 0, err
	}
	hi, err := m.board.Inb(port)
	if err != nil {
		return 0, err
	}
	return uint16(hi)<<8 | uint16(lo), nil
}

func (m model) View() string {
	var sb strings.Builder

	sb.WriteString(titleStyle.Render("i8254 monitor"))
	sb.WriteString("\n\n")
	sb.WriteString(headerStyle.Render(" ch  mode  reload  count   out   gate"))
	sb.WriteString("\n")

	now := m.board.Clock().Now()
	p := m.board.PIT()
	for ch := 0; ch < 3; ch++ {
		mode, _ := p.Mode(ch)
		initial, _ := p.InitialCount(ch)
		gate, _ := p.Gate(ch)
		out, _ := p.Out(ch, now)
		count, err := m.latchedCount(ch)
		if err != nil {
			return errStyle.Render(err.Error())
		}

		outStr := lowStyle.Render("low ")
		if out {
			outStr = highStyle.Render("HIGH")
		}
		gateStr := "open"
		if !gate {
			gateStr = "shut"
		}
		sb.WriteString(fmt.Sprintf("  %d    %d   %5d   %5d  %s  %s\n",
			ch, mode, initial&0xFFFF, count, outStr, gateStr))
	}

	sb.WriteString("\n")
	sb.WriteString(fmt.Sprintf("irq0 edges: %d\n", m.irqEdges.Load()))
	if m.status != "" {
		sb.WriteString(m.status)
		sb.WriteString("\n")
	}
	if m.err != nil {
		sb.WriteString(errStyle.Render(m.err.Error()))
		sb.WriteString("\n")
	}
	sb.WriteString(headerStyle.Render("[0/2/3] program ch0  [s] speaker tone  [g] gate  [r] reset  [q] quit"))
	return sb.String()
}

func main() {
	var edges atomic.Uint64
	sink := chipset.IRQLineFunc(func(line uint8, level bool) {
		if line == 0 && level {
			edges.Add(1)
		}
	})

	cfg := i8254.DefaultConfig()
	board, err := i8254.NewBoard(cfg, sink)
	if err != nil {
		fmt.Fprintf(os.Stderr, "pitmon: %v\n", err)
		os.Exit(1)
	}
	defer board.Stop()

	m := model{board: board, irqEdges: &edges}
	if _, err := tea.NewProgram(m).Run(); err != nil {
		fmt.Fprintf(os.Stderr, "pitmon: %v\n", err)
		os.Exit(1)
	}
}
