package tui

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"lograg/internal/domain"
	"lograg/internal/rag"
)

// Asker is the TUI-facing subset of the query engine.
type Asker interface {
	Ask(ctx context.Context, req rag.Request) (*domain.RetrievalResult, error)
}

// History stores asked questions across sessions.
type History interface {
	History() ([]string, error)
	AppendHistory(question string) error
}

const helpText = `Ask a question about your logs and press Enter.

  /?         show this help
  /history   show previously asked questions
  /bye       quit (also Ctrl+C)

  up/down    browse the log entries the answer was based on
  Esc        stop the answer being generated`

type tokenMsg string

type answerMsg struct {
	res *domain.RetrievalResult
	err error
}

// Model is the Bubble Tea model for the interactive shell.
type Model struct {
	ctx      context.Context
	asker    Asker
	history  History
	k        int
	input    textinput.Model
	viewport viewport.Model

	answer    strings.Builder
	sources   []domain.SearchResult
	cursor    int // 0 is the answer, i > 0 is source i-1
	lastQuery string
	status    string
	ready     bool

	stream chan tea.Msg
	cancel context.CancelFunc
	// stopped drops tokens still buffered in stream after a cancel.
	stopped bool
}

// New creates a new TUI model instance. k is the number of entries retrieved per question.
func New(ctx context.Context, asker Asker, history History, k int) *Model {
	ti := textinput.New()
	ti.Prompt = "> "
	ti.Placeholder = "Ask about your logs, /? for help"
	ti.Focus()
	ti.CharLimit = 0
	vp := viewport.New(0, 0)
	return &Model{ctx: ctx, asker: asker, history: history, k: k, input: ti, viewport: vp, status: "Index loaded. Ask away."}
}

// Init initializes the model (text input cursor blink).
func (m *Model) Init() tea.Cmd { return textinput.Blink }

// Update handles key, window and answer events and updates the view state.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.ready = true
		_, rh := resultBoxStyle.GetFrameSize()
		_, qh := queryBoxStyle.GetFrameSize()
		reserved := 1 + 1 + qh + 1 // header, status, input box, spacer
		m.viewport.Width = max(20, msg.Width)
		m.viewport.Height = max(3, msg.Height-reserved-rh)
		m.refresh()
		return m, nil

	case tokenMsg:
		if m.stopped {
			return m, m.next()
		}
		m.answer.WriteString(string(msg))
		m.refresh()
		m.viewport.GotoBottom()
		return m, m.next()

	case answerMsg:
		m.stream, m.cancel = nil, nil
		switch {
		case errors.Is(msg.err, context.Canceled):
			m.status = "Stopped."
		case msg.err != nil:
			m.status = "Error: " + msg.err.Error()
		default:
			m.answer.Reset()
			m.answer.WriteString(msg.res.Answer)
			m.sources = msg.res.Sources
			m.status = fmt.Sprintf("Answered from %d log entries. up/down to browse them.", len(m.sources))
		}
		m.refresh()
		return m, nil

	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC || msg.Type == tea.KeyCtrlD {
			m.stop()
			return m, tea.Quit
		}
		switch msg.String() {
		case "esc":
			m.stop()
			return m, nil
		case "enter":
			if m.stream != nil {
				return m, nil
			}
			q := strings.TrimSpace(m.input.Value())
			if q == "" {
				return m, nil
			}
			m.input.Reset()
			return m, m.submit(q)
		case "down":
			if len(m.sources) > 0 {
				m.cursor = (m.cursor + 1) % (len(m.sources) + 1)
				m.refresh()
				return m, nil
			}
		case "up":
			if len(m.sources) > 0 {
				m.cursor = (m.cursor - 1 + len(m.sources) + 1) % (len(m.sources) + 1)
				m.refresh()
				return m, nil
			}
		}
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *Model) submit(q string) tea.Cmd {
	switch q {
	case "/bye":
		return tea.Quit
	case "/?":
		m.show(helpText, "Help")
		return nil
	case "/history":
		m.show(m.renderHistory(), "History")
		return nil
	}
	if m.history != nil {
		if err := m.history.AppendHistory(q); err != nil {
			m.status = "Could not save history: " + err.Error()
		}
	}

	m.answer.Reset()
	m.sources, m.cursor, m.lastQuery = nil, 0, q
	m.status = "Thinking..."
	m.refresh()

	ctx, cancel := context.WithCancel(m.ctx)
	ch := make(chan tea.Msg, 64)
	m.stream, m.cancel, m.stopped = ch, cancel, false
	go func() {
		defer close(ch)
		res, err := m.asker.Ask(ctx, rag.Request{
			Question: q,
			K:        m.k,
			Stream:   true,
			OnToken: func(tok string) {
				select {
				case ch <- tokenMsg(tok):
				case <-ctx.Done():
				}
			},
		})
		ch <- answerMsg{res: res, err: err}
	}()
	return m.next()
}

// next waits for the next message of the answer in flight.
func (m *Model) next() tea.Cmd {
	ch := m.stream
	if ch == nil {
		return nil
	}
	return func() tea.Msg {
		msg, ok := <-ch
		if !ok {
			return nil
		}
		return msg
	}
}

func (m *Model) stop() {
	if m.cancel != nil {
		m.cancel()
		m.stopped = true
	}
}

func (m *Model) show(content, status string) {
	m.answer.Reset()
	m.answer.WriteString(content)
	m.sources, m.cursor, m.lastQuery = nil, 0, ""
	m.status = status
	m.refresh()
}

func (m *Model) renderHistory() string {
	if m.history == nil {
		return "No history."
	}
	h, err := m.history.History()
	if err != nil {
		return "Could not read history: " + err.Error()
	}
	if len(h) == 0 {
		return "No questions asked yet."
	}
	var b strings.Builder
	for i, q := range h {
		fmt.Fprintf(&b, "%3d  %s\n", i+1, q)
	}
	return b.String()
}

// View renders the TUI layout and current result.
func (m *Model) View() string {
	if !m.ready {
		return "Loading..."
	}
	header := lipgloss.NewStyle().Bold(true).Render("lograg")
	input := queryBoxStyle.Render(m.input.View())
	status := lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Render(m.status)
	results := resultBoxStyle.Render(m.viewport.View())
	return header + "\n" + results + "\n" + input + "\n" + status
}

func (m *Model) refresh() {
	m.viewport.SetContent(m.renderCurrent())
}

func (m *Model) renderCurrent() string {
	if m.cursor == 0 || len(m.sources) == 0 {
		if m.answer.Len() == 0 {
			return "No answer yet."
		}
		return m.answer.String()
	}
	r := m.sources[m.cursor-1]
	title := fmt.Sprintf("Source %d/%d  score=%.3f  %s/%s", m.cursor, len(m.sources), r.Score,
		r.Entry.Metadata.SourceDirectory, r.Entry.Metadata.FileName)
	return title + "\n\n" + highlightBestLine(r.Entry.Text, m.lastQuery)
}

var (
	resultBoxStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	queryBoxStyle  = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	highlightStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Bold(true)
	wordRe         = regexp.MustCompile(`[\p{L}\p{N}_]+`)
)

// highlightBestLine emphasizes the line of a log entry sharing the most words with the query,
// usually the message line of a multi-line record.
func highlightBestLine(text, query string) string {
	lines := strings.Split(text, "\n")
	qTokens := toTokenSet(query)
	if len(qTokens) == 0 || len(lines) == 0 {
		return text
	}
	bestIdx, bestScore := -1, 0
	for i, l := range lines {
		if score := tokenOverlapScore(qTokens, l); score > bestScore {
			bestIdx, bestScore = i, score
		}
	}
	if bestIdx < 0 {
		return text
	}
	lines[bestIdx] = highlightStyle.Render(lines[bestIdx])
	return strings.Join(lines, "\n")
}

func toTokenSet(s string) map[string]struct{} {
	tokens := wordRe.FindAllString(strings.ToLower(s), -1)
	m := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		m[t] = struct{}{}
	}
	return m
}

func tokenOverlapScore(queryTokens map[string]struct{}, line string) int {
	score := 0
	seen := make(map[string]struct{})
	for _, t := range wordRe.FindAllString(strings.ToLower(line), -1) {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		if _, ok := queryTokens[t]; ok {
			score++
		}
	}
	return score
}
