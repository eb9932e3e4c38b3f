package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/reflow/wordwrap"
	orchestration "github.com/robinglory/lingo-core/core"
)

type stageChangedMsg struct{ stage orchestration.Stage }

type transcriptMsg struct{ text string }

type responseDeltaMsg struct{ text string }

type responseEndMsg struct{ text string }

type turnErrorMsg struct {
	kind orchestration.ErrorKind
	err  error
}

type sessionStartFailedMsg struct{ err error }

type transcriptLine struct {
	speaker string
	text    string
}

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("99"))
	stageStyles = map[orchestration.Stage]lipgloss.Style{
		orchestration.StageIdle:      lipgloss.NewStyle().Foreground(lipgloss.Color("245")),
		orchestration.StageListening: lipgloss.NewStyle().Foreground(lipgloss.Color("42")),
		orchestration.StageThinking:  lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
		orchestration.StageTalking:   lipgloss.NewStyle().Foreground(lipgloss.Color("39")),
		orchestration.StageError:     lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
	}
	speakerStyle = lipgloss.NewStyle().Bold(true)
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	helpStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

// sessionModel renders one conversation session. It only consumes the
// orchestrator's outward hooks; all conversation state lives in the core.
type sessionModel struct {
	orch     *orchestration.Orchestrator
	textOnly bool

	input   textinput.Model
	spin    spinner.Model
	width   int
	height  int
	stage   orchestration.Stage
	lines   []transcriptLine
	partial strings.Builder
	lastErr string
}

func newSessionModel(orch *orchestration.Orchestrator, textOnly bool) *sessionModel {
	input := textinput.New()
	input.Placeholder = "type a message and press enter"
	input.Focus()

	spin := spinner.New()
	spin.Spinner = spinner.Dot

	return &sessionModel{
		orch:     orch,
		textOnly: textOnly,
		input:    input,
		spin:     spin,
		stage:    orch.Stage(),
		width:    80,
	}
}

func (m *sessionModel) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.spin.Tick)
}

func (m *sessionModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.input.Width = msg.Width - 4
		return m, nil

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC:
			return m, tea.Quit
		case tea.KeyEsc:
			m.orch.CancelTurn()
			return m, nil
		case tea.KeyEnter:
			prompt := strings.TrimSpace(m.input.Value())
			if prompt != "" {
				m.lines = append(m.lines, transcriptLine{speaker: "you", text: prompt})
				m.lastErr = ""
				m.orch.SendPrompt(prompt)
			}
			m.input.Reset()
			return m, nil
		}

	case stageChangedMsg:
		m.stage = msg.stage
		return m, nil

	case transcriptMsg:
		m.lines = append(m.lines, transcriptLine{speaker: "you", text: msg.text})
		m.lastErr = ""
		return m, nil

	case responseDeltaMsg:
		m.partial.WriteString(msg.text)
		return m, nil

	case responseEndMsg:
		m.partial.Reset()
		m.lines = append(m.lines, transcriptLine{speaker: "lingo", text: msg.text})
		return m, nil

	case turnErrorMsg:
		m.partial.Reset()
		m.lastErr = fmt.Sprintf("%s: %v", msg.kind, msg.err)
		return m, nil

	case sessionStartFailedMsg:
		m.lastErr = fmt.Sprintf("session failed to start: %v", msg.err)
		return m, tea.Quit

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *sessionModel) View() string {
	var b strings.Builder

	b.WriteString(headerStyle.Render("lingo"))
	b.WriteString("  ")
	b.WriteString(m.stageBadge())
	b.WriteString("\n\n")

	wrapWidth := m.width - 2
	if wrapWidth < 20 {
		wrapWidth = 20
	}

	for _, line := range m.lines {
		b.WriteString(speakerStyle.Render(line.speaker + ":"))
		b.WriteString(" ")
		b.WriteString(wordwrap.String(line.text, wrapWidth))
		b.WriteString("\n")
	}
	if m.partial.Len() > 0 {
		b.WriteString(speakerStyle.Render("lingo:"))
		b.WriteString(" ")
		b.WriteString(wordwrap.String(m.partial.String(), wrapWidth))
		b.WriteString("\n")
	}
	if m.lastErr != "" {
		b.WriteString(errorStyle.Render(wordwrap.String(m.lastErr, wrapWidth)))
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(m.input.View())
	b.WriteString("\n")
	b.WriteString(helpStyle.Render(m.helpLine()))
	return b.String()
}

func (m *sessionModel) stageBadge() string {
	label := string(m.stage)
	if m.stage == orchestration.StageThinking {
		label = m.spin.View() + label
	}
	if style, ok := stageStyles[m.stage]; ok {
		return style.Render(label)
	}
	return label
}

func (m *sessionModel) helpLine() string {
	if m.textOnly {
		return "enter: send  esc: cancel turn  ctrl+c: quit"
	}
	return "speak, or type a message  esc: cancel turn  ctrl+c: quit"
}
