package ui

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"node.town/murmur/mic"
	"node.town/murmur/stt"
)

// Controls are the user actions the screen can trigger.
type Controls interface {
	Toggle()
	Reconnect()
}

var (
	barStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFFDF5")).
			Background(lipgloss.Color("#25A065")).
			Padding(0, 1)
	captionStyle = lipgloss.NewStyle().
			Bold(true).
			Padding(1, 2)
	idleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240")).
			Padding(1, 2)
	statusStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#ff8800"))
)

type model struct {
	viewport viewport.Model
	renderer *glamour.TermRenderer
	snap     Snapshot
	updates  <-chan Snapshot
	controls Controls
	ready    bool
}

func newModel(board *Board, controls Controls) model {
	return model{
		snap:     board.Snapshot(),
		updates:  board.Updates(),
		controls: controls,
	}
}

// Run shows the board until the user quits or ctx is canceled.
func Run(ctx context.Context, board *Board, controls Controls) error {
	p := tea.NewProgram(
		newModel(board, controls),
		tea.WithAltScreen(),
		tea.WithContext(ctx),
	)
	_, err := p.Run()
	if errors.Is(err, tea.ErrProgramKilled) {
		return nil
	}
	return err
}

func (m model) Init() tea.Cmd {
	return waitForUpdate(m.updates)
}

func waitForUpdate(updates <-chan Snapshot) tea.Cmd {
	return func() tea.Msg {
		return <-updates
	}
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var (
		cmd  tea.Cmd
		cmds []tea.Cmd
	)

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q", "esc":
			return m, tea.Quit
		case " ", "space", "s":
			if m.canToggle() {
				m.controls.Toggle()
			}
		case "r":
			if m.snap.Session.Terminal() {
				m.controls.Reconnect()
			}
		}

	case tea.WindowSizeMsg:
		headerHeight := lipgloss.Height(m.headerView())
		captionHeight := lipgloss.Height(m.captionView(msg.Width))
		footerHeight := lipgloss.Height(m.footerView())
		height := msg.Height - headerHeight - captionHeight - footerHeight

		if !m.ready {
			m.viewport = viewport.New(msg.Width, max(height, 1))
			m.ready = true
		} else {
			m.viewport.Width = msg.Width
			m.viewport.Height = max(height, 1)
		}
		renderer, err := glamour.NewTermRenderer(
			glamour.WithAutoStyle(),
			glamour.WithWordWrap(max(msg.Width-4, 20)),
		)
		if err == nil {
			m.renderer = renderer
		}
		m.viewport.SetContent(m.answerView())

	case Snapshot:
		m.snap = msg
		m.viewport.SetContent(m.answerView())
		cmds = append(cmds, waitForUpdate(m.updates))
	}

	m.viewport, cmd = m.viewport.Update(msg)
	cmds = append(cmds, cmd)

	return m, tea.Batch(cmds...)
}

func (m model) View() string {
	if !m.ready {
		return "\n  Initializing..."
	}
	return fmt.Sprintf(
		"%s\n%s\n%s\n%s",
		m.headerView(),
		m.captionView(m.viewport.Width),
		m.viewport.View(),
		m.footerView(),
	)
}

// canToggle mirrors the start/stop button: disabled while the microphone is
// between states or the session is not open.
func (m model) canToggle() bool {
	return !m.snap.Capture.Busy() && m.snap.Session == stt.Open
}

func (m model) headerView() string {
	title := barStyle.Render("murmur")
	line := strings.Repeat(
		"─",
		max(0, m.viewport.Width-lipgloss.Width(title)),
	)
	return lipgloss.JoinHorizontal(lipgloss.Center, title, line)
}

func (m model) captionView(width int) string {
	style := captionStyle
	text := m.snap.Caption
	if !m.snap.HasCaption {
		style = idleStyle
		text = "…"
	}
	if width > 4 {
		style = style.Width(width)
	}
	return style.Render(text)
}

func (m model) answerView() string {
	if m.snap.Answer == "" {
		return ""
	}
	if m.renderer == nil {
		return m.snap.Answer
	}
	out, err := m.renderer.Render(m.snap.Answer)
	if err != nil {
		return m.snap.Answer
	}
	return out
}

func (m model) footerView() string {
	state := fmt.Sprintf("mic %s · session %s", m.snap.Capture, sessionLabel(m.snap.Session))
	if m.snap.Status != "" {
		state += " · " + statusStyle.Render(m.snap.Status)
	}
	info := barStyle.Render(m.helpText())
	line := strings.Repeat(
		"─",
		max(0, m.viewport.Width-lipgloss.Width(info)-lipgloss.Width(state)-1),
	)
	return lipgloss.JoinHorizontal(lipgloss.Center, state, " ", line, info)
}

func (m model) helpText() string {
	var keys []string
	if m.canToggle() {
		if m.snap.Capture == mic.Open {
			keys = append(keys, "space stop")
		} else {
			keys = append(keys, "space start")
		}
	}
	if m.snap.Session.Terminal() {
		keys = append(keys, "r reconnect")
	}
	keys = append(keys, "q quit")
	return strings.Join(keys, " · ")
}

func sessionLabel(s stt.State) string {
	if s == "" {
		return "idle"
	}
	return string(s)
}
