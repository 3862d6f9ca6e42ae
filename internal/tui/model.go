// Package tui is the interactive chat front end.
package tui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"docrag/internal/domain"
	"docrag/internal/retriever"
	"docrag/internal/service"
	"docrag/internal/textproc"
)

// RAGPort is the TUI-facing subset of the RAG service.
type RAGPort interface {
	Query(ctx context.Context, question, sourceFilter string) (*service.Answer, error)
	DistinctSources(ctx context.Context) ([]string, error)
}

// History records chat turns. It may be nil.
type History interface {
	Append(ctx context.Context, role domain.Role, content string) (domain.ChatMessage, error)
}

type answerMsg struct {
	question   string
	answer     *service.Answer
	err        error
	historyErr error
}

type sourcesMsg struct {
	sources []string
	err     error
}

// Model is the Bubble Tea model for the chat application.
type Model struct {
	ctx      context.Context
	service  RAGPort
	history  History
	input    textinput.Model
	viewport viewport.Model

	filters   []string
	filterIdx int

	answer    *service.Answer
	lastQuery string
	cursor    int
	status    string
	busy      bool
	ready     bool
}

// New creates a chat model. summary is shown under the header.
func New(ctx context.Context, svc RAGPort, history History, summary string) Model {
	ti := textinput.New()
	ti.Prompt = "> "
	ti.Placeholder = "Ask a question and press Enter"
	ti.Focus()
	ti.CharLimit = 0
	status := "Tab switches document, ↑/↓ browse sources, Ctrl+C quits."
	if summary != "" {
		status = summary
	}
	return Model{
		ctx:      ctx,
		service:  svc,
		history:  history,
		input:    ti,
		viewport: viewport.New(0, 0),
		filters:  []string{retriever.AllDocuments},
		status:   status,
	}
}

// Init starts the cursor blink and loads the source list.
func (m Model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.loadSources())
}

func (m Model) loadSources() tea.Cmd {
	return func() tea.Msg {
		sources, err := m.service.DistinctSources(m.ctx)
		return sourcesMsg{sources: sources, err: err}
	}
}

func (m Model) ask(question, filter string) tea.Cmd {
	return func() tea.Msg {
		a, err := m.service.Query(m.ctx, question, filter)
		if err != nil {
			return answerMsg{question: question, err: err}
		}
		return answerMsg{question: question, answer: a, historyErr: m.record(question, a.Text)}
	}
}

// record writes one answered exchange. Failed queries are not recorded.
func (m Model) record(question, answer string) error {
	if m.history == nil {
		return nil
	}
	if _, err := m.history.Append(m.ctx, domain.RoleUser, question); err != nil {
		return err
	}
	_, err := m.history.Append(m.ctx, domain.RoleAssistant, answer)
	return err
}

// Filter returns the active source filter.
func (m Model) Filter() string { return m.filters[m.filterIdx] }

// Update handles key, window and result events.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.ready = true
		_, rh := resultBoxStyle.GetFrameSize()
		_, qh := queryBoxStyle.GetFrameSize()
		reserved := 3 + qh // header, filter and status lines
		vh := msg.Height - reserved
		m.viewport.Width = max(20, msg.Width)
		m.viewport.Height = max(3, vh-rh)
		m.viewport.SetContent(m.renderAnswer())
		return m, nil
	case sourcesMsg:
		if msg.err != nil {
			m.status = "Error: " + msg.err.Error()
			return m, nil
		}
		current := m.Filter()
		m.filters = append([]string{retriever.AllDocuments}, msg.sources...)
		m.filterIdx = 0
		for i, f := range m.filters {
			if f == current {
				m.filterIdx = i
			}
		}
		return m, nil
	case answerMsg:
		m.busy = false
		if msg.err != nil {
			m.status = "Error: " + msg.err.Error()
			m.answer = nil
		} else {
			m.answer = msg.answer
			m.lastQuery = msg.question
			m.cursor = 0
			m.status = answerStatus(msg.answer)
			if msg.historyErr != nil {
				m.status += " (history not saved: " + msg.historyErr.Error() + ")"
			}
		}
		m.viewport.SetContent(m.renderAnswer())
		m.viewport.GotoTop()
		return m, nil
	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC || msg.Type == tea.KeyCtrlD {
			return m, tea.Quit
		}
		switch msg.String() {
		case "enter":
			q := strings.TrimSpace(m.input.Value())
			if q == "" || m.busy {
				return m, nil
			}
			m.busy = true
			m.input.SetValue("")
			m.status = fmt.Sprintf("Searching %s…", m.Filter())
			return m, m.ask(q, m.Filter())
		case "tab":
			m.filterIdx = (m.filterIdx + 1) % len(m.filters)
			return m, nil
		case "shift+tab":
			m.filterIdx = (m.filterIdx - 1 + len(m.filters)) % len(m.filters)
			return m, nil
		case "down":
			if n := m.resultCount(); n > 0 {
				m.cursor = (m.cursor + 1) % n
				m.viewport.SetContent(m.renderAnswer())
				return m, nil
			}
		case "up":
			if n := m.resultCount(); n > 0 {
				m.cursor = (m.cursor - 1 + n) % n
				m.viewport.SetContent(m.renderAnswer())
				return m, nil
			}
		}
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) resultCount() int {
	if m.answer == nil {
		return 0
	}
	return len(m.answer.Results)
}

func answerStatus(a *service.Answer) string {
	switch {
	case a.Fallback:
		return "The language model did not answer."
	case !a.Grounded:
		return "No matching documents; answer is not grounded."
	default:
		return "Sources: " + strings.Join(a.Sources, ", ")
	}
}

// View renders the layout.
func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}
	header := lipgloss.NewStyle().Bold(true).Render("docrag")
	filter := filterStyle.Render("Document: " + m.Filter())
	input := queryBoxStyle.Render(m.input.View())
	status := lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Render(m.status)
	results := resultBoxStyle.Render(m.viewport.View())
	return header + "\n" + filter + "\n" + results + "\n" + input + "\n" + status
}

func (m Model) renderAnswer() string {
	if m.answer == nil {
		return "Ask something about your documents."
	}
	var sb strings.Builder
	sb.WriteString(answerStyle.Render(m.answer.Text))
	if len(m.answer.Results) == 0 {
		return sb.String()
	}
	r := m.answer.Results[m.cursor]
	fmt.Fprintf(&sb, "\n\n%s\n\n%s",
		titleStyle.Render(fmt.Sprintf("Source %d/%d  %s  score=%.3f", m.cursor+1, len(m.answer.Results), r.Chunk.Source, r.Score)),
		highlightBestSentence(r.Chunk.Text, m.lastQuery))
	return sb.String()
}

var (
	resultBoxStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	queryBoxStyle  = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	highlightStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Bold(true)
	filterStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("12"))
	titleStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	answerStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("15"))
)

func highlightBestSentence(text, query string) string {
	sentences := textproc.Sentences(text)
	if len(sentences) == 0 {
		return text
	}
	best := bestSentence(sentences, query)
	if best < 0 {
		return strings.Join(sentences, " ")
	}
	out := make([]string, len(sentences))
	copy(out, sentences)
	out[best] = highlightStyle.Render(out[best])
	return strings.Join(out, " ")
}

// bestSentence returns the index of the sentence sharing the most query
// tokens, or -1 when the query has no tokens. Ties go to the earliest.
func bestSentence(sentences []string, query string) int {
	q := make(map[string]struct{})
	for _, t := range textproc.Tokens(query) {
		q[t] = struct{}{}
	}
	if len(q) == 0 {
		return -1
	}
	bestIdx, bestScore := 0, -1
	for i, s := range sentences {
		if score := tokenOverlapScore(q, s); score > bestScore {
			bestIdx, bestScore = i, score
		}
	}
	return bestIdx
}

func tokenOverlapScore(queryTokens map[string]struct{}, sentence string) int {
	score := 0
	for t := range textproc.TokenSet(sentence) {
		if _, ok := queryTokens[t]; ok {
			score++
		}
	}
	return score
}
