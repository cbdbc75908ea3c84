package tui

import (
	"context"
	"errors"
	"strings"

	"github.com/Oudwins/clawd/internals/core"
	"github.com/Oudwins/clawd/internals/logbuf"
	"github.com/Oudwins/clawd/internals/schemas"
	"github.com/Oudwins/clawd/internals/term"
	"github.com/Oudwins/clawd/internals/transcript"
	"github.com/Oudwins/clawd/internals/worker"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

const (
	logPaneHeight = 6
	minChatHeight = 3
)

// Submitter is the part of worker.Worker the chat model drives.
type Submitter interface {
	Submit(req schemas.ExecutionRequest) error
	Responses() <-chan worker.Response
}

type Options struct {
	Target    string
	Workspace string
}

type entryKind int

const (
	entryUser entryKind = iota
	entryAgent
	entryError
	entryNotice
)

type entry struct {
	kind entryKind
	text string
}

type responseMsg worker.Response

type logsMsg struct{}

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205"))
	faintStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	userStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
	agentStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("42"))
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	noticeStyle = lipgloss.NewStyle().Italic(true).Foreground(lipgloss.Color("214"))
	toolStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	resultStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245")).
			BorderStyle(lipgloss.NormalBorder()).
			BorderLeft(true).
			BorderForeground(lipgloss.Color("238")).
			PaddingLeft(1)
	logPaneStyle = lipgloss.NewStyle().
			BorderStyle(lipgloss.NormalBorder()).
			BorderTop(true).
			BorderForeground(lipgloss.Color("238"))
)

type Model struct {
	submitter Submitter
	logs      *logbuf.Ring
	options   Options

	input   textinput.Model
	chat    viewport.Model
	spinner spinner.Model

	entries  []entry
	logLines []string
	pending  bool
	width    int
	height   int
	quitting bool
}

func New(submitter Submitter, logs *logbuf.Ring, options Options) Model {
	if options.Target == "" {
		options.Target = schemas.DefaultTarget
	}
	input := textinput.New()
	input.Placeholder = "Ask the agent"
	input.Prompt = "> "
	input.CharLimit = 4000
	input.Focus()

	return Model{
		submitter: submitter,
		logs:      logs,
		options:   options,
		input:     input,
		chat:      viewport.New(80, 20),
		spinner:   spinner.New(spinner.WithSpinner(spinner.Dot)),
		width:     80,
	}
}

// Run owns the terminal until the user quits or ctx is done. Logs written to
// logs are shown in a pane below the conversation.
func Run(ctx context.Context, base *core.BaseServer, logs *logbuf.Ring) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	w := base.Worker()
	go func() {
		_ = w.Run(ctx)
	}()

	model := New(w, logs, Options{
		Target:    base.Config.Agent.DefaultTarget,
		Workspace: base.Config.Backend.WorkspaceDir,
	})
	program := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := program.Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}

func (m Model) Init() tea.Cmd {
	cmds := []tea.Cmd{textinput.Blink, waitForResponse(m.submitter.Responses())}
	if m.logs != nil {
		cmds = append(cmds, waitForLogs(m.logs))
	}
	return tea.Batch(cmds...)
}

func waitForResponse(responses <-chan worker.Response) tea.Cmd {
	return func() tea.Msg {
		response, ok := <-responses
		if !ok {
			return nil
		}
		return responseMsg(response)
	}
}

func waitForLogs(logs *logbuf.Ring) tea.Cmd {
	return func() tea.Msg {
		<-logs.Updates()
		return logsMsg{}
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			m.quitting = true
			return m, tea.Quit
		case tea.KeyEnter:
			return m.submit()
		case tea.KeyPgUp, tea.KeyPgDown:
			var cmd tea.Cmd
			m.chat, cmd = m.chat.Update(msg)
			return m, cmd
		}
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.layout()
		m.refreshChat()
		return m, nil
	case responseMsg:
		m.pending = false
		m.appendResponse(worker.Response(msg))
		return m, waitForResponse(m.submitter.Responses())
	case logsMsg:
		m.logLines = m.logs.Lines()
		return m, waitForLogs(m.logs)
	case spinner.TickMsg:
		if !m.pending {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) submit() (tea.Model, tea.Cmd) {
	prompt := strings.TrimSpace(m.input.Value())
	switch prompt {
	case "":
		return m, nil
	case "/quit", "/exit":
		m.quitting = true
		return m, tea.Quit
	}

	req := schemas.NewInteractiveRequest(prompt, m.options.Target, true)
	if err := m.submitter.Submit(req); err != nil {
		if errors.Is(err, worker.ErrBusy) {
			m.appendEntry(entry{kind: entryNotice, text: "Still working on the previous request."})
			return m, nil
		}
		m.appendEntry(entry{kind: entryError, text: err.Error()})
		return m, nil
	}

	m.input.Reset()
	m.pending = true
	m.appendEntry(entry{kind: entryUser, text: prompt})
	return m, m.spinner.Tick
}

func (m *Model) appendResponse(response worker.Response) {
	if response.Result.OK() {
		text := response.Result.Transcript
		if strings.TrimSpace(text) == "" {
			text = "(no output)"
		}
		m.appendEntry(entry{kind: entryAgent, text: text})
		return
	}
	m.appendEntry(entry{kind: entryError, text: response.Result.Text()})
}

func (m *Model) appendEntry(e entry) {
	m.entries = append(m.entries, e)
	m.refreshChat()
}

func (m *Model) refreshChat() {
	blocks := make([]string, 0, len(m.entries))
	for _, e := range m.entries {
		blocks = append(blocks, m.renderEntry(e))
	}
	content := lipgloss.NewStyle().Width(m.chat.Width).Render(strings.Join(blocks, "\n\n"))
	m.chat.SetContent(content)
	m.chat.GotoBottom()
}

func (m *Model) layout() {
	chatHeight := m.height - 1 - (logPaneHeight + 1) - 1 - 1
	if chatHeight < minChatHeight {
		chatHeight = minChatHeight
	}
	m.chat.Width = m.width
	m.chat.Height = chatHeight
	m.input.Width = m.width - len(m.input.Prompt) - 1
}

func (m Model) renderEntry(e entry) string {
	switch e.kind {
	case entryUser:
		return userStyle.Render("you") + "\n" + e.text
	case entryAgent:
		return agentStyle.Render("agent") + "\n" + renderTranscript(e.text)
	case entryError:
		return errorStyle.Render(e.text)
	default:
		return noticeStyle.Render(e.text)
	}
}

// renderTranscript styles tool invocations and tool output apart from the
// assistant's own text.
func renderTranscript(text string) string {
	segments := transcript.Split(text)
	parts := make([]string, 0, len(segments))
	for _, segment := range segments {
		switch segment.Kind {
		case transcript.SegmentToolUse:
			parts = append(parts, toolStyle.Render("⚙ "+strings.TrimSpace(segment.Text)))
		case transcript.SegmentToolResult:
			parts = append(parts, resultStyle.Render(strings.Trim(segment.Text, "\n")))
		default:
			parts = append(parts, segment.Text)
		}
	}
	return strings.Join(parts, "\n")
}

func (m Model) View() string {
	if m.quitting {
		return ""
	}
	return lipgloss.JoinVertical(lipgloss.Left,
		m.header(),
		m.chat.View(),
		logPaneStyle.Width(m.width).Render(m.logPane()),
		m.status(),
		m.input.View(),
	)
}

func (m Model) header() string {
	line := titleStyle.Render("clawd") + faintStyle.Render(" target: "+m.options.Target)
	if m.options.Workspace != "" {
		line += faintStyle.Render(" ") + term.FileLink("workspace", m.options.Workspace)
	}
	return line
}

func (m Model) logPane() string {
	lines := m.logLines
	if len(lines) > logPaneHeight {
		lines = lines[len(lines)-logPaneHeight:]
	}
	padded := make([]string, logPaneHeight)
	copy(padded, lines)
	for i, line := range padded {
		padded[i] = faintStyle.MaxWidth(m.width).Render(line)
	}
	return strings.Join(padded, "\n")
}

func (m Model) status() string {
	if m.pending {
		return m.spinner.View() + faintStyle.Render(" waiting for the agent")
	}
	return faintStyle.Render("enter send • pgup/pgdn scroll • esc quit")
}
