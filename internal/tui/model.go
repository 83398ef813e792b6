package tui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"kbchat/internal/chat"
	"kbchat/internal/domain"
)

// ChatPort is the TUI-facing subset of the chat orchestrator.
type ChatPort interface {
	Chat(ctx context.Context, req chat.Request) domain.ChatResult
}

// Options pin the knowledge base and collection the session talks to.
// Empty KBName runs ungrounded chat.
type Options struct {
	KBName         string
	CollectionName string
	PromptName     string
}

type turn struct {
	role    string
	content string
}

// Model is the Bubble Tea model for the interactive chat session.
type Model struct {
	service  ChatPort
	opts     Options
	input    textinput.Model
	viewport viewport.Model
	turns    []turn
	status   string
	ready    bool
}

type answerMsg struct {
	result domain.ChatResult
}

// New creates a new chat TUI model.
func New(service ChatPort, opts Options) Model {
	ti := textinput.New()
	ti.Prompt = "> "
	ti.Placeholder = "Ask a question and press Enter"
	ti.Focus()
	ti.CharLimit = 0
	vp := viewport.New(0, 0)
	status := "Ready."
	if opts.KBName != "" {
		status = fmt.Sprintf("Ready. Knowledge base: %s", opts.KBName)
	}
	return Model{service: service, opts: opts, input: ti, viewport: vp, status: status}
}

// Init initializes the model (text input cursor blink).
func (m Model) Init() tea.Cmd { return textinput.Blink }

// Update handles key and window events and updates the view state.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.ready = true
		_, th := transcriptBoxStyle.GetFrameSize()
		_, qh := queryBoxStyle.GetFrameSize()
		reserved := 1 + 1 + qh + 1 // header, status, input frame, spacer
		vh := msg.Height - reserved - th
		if vh < 3 {
			vh = 3
		}
		m.viewport.Width = max(20, msg.Width)
		m.viewport.Height = vh
		m.viewport.SetContent(m.renderTranscript())
		return m, nil
	case answerMsg:
		if msg.result.Code == 200 {
			m.turns = append(m.turns, turn{role: domain.RoleAssistant, content: msg.result.Data})
			m.status = "Ready."
		} else {
			m.status = fmt.Sprintf("Error %d: %s", msg.result.Code, msg.result.Msg)
		}
		m.viewport.SetContent(m.renderTranscript())
		m.viewport.GotoBottom()
		return m, nil
	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC || msg.Type == tea.KeyCtrlD {
			return m, tea.Quit
		}
		if msg.String() == "enter" {
			q := strings.TrimSpace(m.input.Value())
			if q != "" {
				m.turns = append(m.turns, turn{role: domain.RoleUser, content: q})
				m.input.SetValue("")
				m.status = "Thinking..."
				m.viewport.SetContent(m.renderTranscript())
				m.viewport.GotoBottom()
				return m, m.ask(q)
			}
		}
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// ask issues the chat request with the transcript so far as history. The
// just-appended user turn is excluded; it travels as the query.
func (m Model) ask(query string) tea.Cmd {
	history := make([]domain.History, 0, len(m.turns)-1)
	for _, t := range m.turns[:len(m.turns)-1] {
		history = append(history, domain.History{Role: t.role, Content: t.content})
	}
	req := chat.Request{
		Query:          query,
		KBName:         m.opts.KBName,
		CollectionName: m.opts.CollectionName,
		PromptName:     m.opts.PromptName,
		History:        history,
	}
	service := m.service
	return func() tea.Msg {
		return answerMsg{result: service.Chat(context.Background(), req)}
	}
}

// View renders the TUI layout and the conversation transcript.
func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}
	header := lipgloss.NewStyle().Bold(true).Render("Knowledge Base Chat")
	transcript := transcriptBoxStyle.Render(m.viewport.View())
	input := queryBoxStyle.Render(m.input.View())
	status := lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Render(m.status)
	return header + "\n" + transcript + "\n" + input + "\n" + status
}

func (m Model) renderTranscript() string {
	if len(m.turns) == 0 {
		return "No messages yet."
	}
	var b strings.Builder
	for i, t := range m.turns {
		if i > 0 {
			b.WriteString("\n\n")
		}
		if t.role == domain.RoleUser {
			b.WriteString(userStyle.Render("You: ") + t.content)
		} else {
			b.WriteString(assistantStyle.Render("Assistant: ") + t.content)
		}
	}
	return b.String()
}

var (
	transcriptBoxStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	queryBoxStyle      = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	userStyle          = lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Bold(true)
	assistantStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true)
)

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
