package tui

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"movierec/internal/service"
	"movierec/internal/textnorm"
)

// Recommender is the TUI-facing subset of the query service.
type Recommender interface {
	Recommend(ctx context.Context, query string, k int) ([]service.Recommendation, error)
}

// resultsMsg carries the outcome of an asynchronous query.
type resultsMsg struct {
	query   string
	results []service.Recommendation
	err     error
	took    time.Duration
}

// Model is the Bubble Tea model for the interactive recommender.
type Model struct {
	service   Recommender
	norm      *textnorm.Normalizer
	count     int
	timeout   time.Duration
	input     textinput.Model
	viewport  viewport.Model
	results   []service.Recommendation
	summary   string
	status    string
	cursor    int
	ready     bool
	busy      bool
	lastQuery string
}

// New creates a new TUI model. summary is shown under the header, count is
// the number of recommendations requested per query.
func New(svc Recommender, norm *textnorm.Normalizer, summary string, count int) Model {
	ti := textinput.New()
	ti.Prompt = "> "
	ti.Placeholder = "Describe what you want to watch and press Enter"
	ti.Focus()
	ti.CharLimit = 0
	vp := viewport.New(0, 0)
	if count < 1 {
		count = 10
	}
	return Model{
		service:  svc,
		norm:     norm,
		count:    count,
		timeout:  30 * time.Second,
		input:    ti,
		viewport: vp,
		summary:  summary,
		status:   "Ready. Type a description to get recommendations.",
	}
}

// Init initializes the model (text input cursor blink).
func (m Model) Init() tea.Cmd { return textinput.Blink }

// Update handles key and window events and updates the view state.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.ready = true
		// account for frames around result and query boxes
		_, rh := resultBoxStyle.GetFrameSize()
		_, qh := queryBoxStyle.GetFrameSize()
		reserved := 2 + 1 + qh + 1 // header and summary, status, spacer
		m.viewport.Width = max(20, msg.Width)
		m.viewport.Height = max(3, msg.Height-reserved-rh)
		m.viewport.SetContent(m.renderCurrentResult())
		return m, nil
	case resultsMsg:
		m.busy = false
		if msg.err != nil {
			m.status = "Error: " + msg.err.Error()
			m.results = nil
		} else {
			m.status = fmt.Sprintf("%d recommendations for %q (%s)", len(msg.results), msg.query, msg.took.Round(time.Millisecond))
			m.results = msg.results
			m.cursor = 0
			m.lastQuery = msg.query
		}
		m.viewport.SetContent(m.renderCurrentResult())
		return m, nil
	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC || msg.Type == tea.KeyCtrlD {
			return m, tea.Quit
		}
		switch msg.String() {
		case "enter":
			q := strings.TrimSpace(m.input.Value())
			if q != "" && !m.busy {
				m.busy = true
				m.status = "Searching..."
				return m, m.query(q)
			}
		case "down":
			if len(m.results) > 0 {
				m.cursor = (m.cursor + 1) % len(m.results)
				m.viewport.SetContent(m.renderCurrentResult())
				return m, nil
			}
		case "up":
			if len(m.results) > 0 {
				m.cursor = (m.cursor - 1 + len(m.results)) % len(m.results)
				m.viewport.SetContent(m.renderCurrentResult())
				return m, nil
			}
		}
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) query(q string) tea.Cmd {
	svc, k, timeout := m.service, m.count, m.timeout
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		start := time.Now()
		res, err := svc.Recommend(ctx, q, k)
		return resultsMsg{query: q, results: res, err: err, took: time.Since(start)}
	}
}

// View renders the TUI layout and current result.
func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}
	header := lipgloss.NewStyle().Bold(true).Render("Movie Recommender")
	summary := lipgloss.NewStyle().Foreground(lipgloss.Color("8")).Render(m.summary)
	input := queryBoxStyle.Render(m.input.View())
	status := lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Render(m.status)
	results := resultBoxStyle.Render(m.viewport.View())
	return header + "\n" + summary + "\n" + results + "\n" + input + "\n" + status
}

func (m Model) renderCurrentResult() string {
	if len(m.results) == 0 {
		return "No results yet."
	}
	r := m.results[m.cursor]
	md := r.Metadata

	var b strings.Builder
	fmt.Fprintf(&b, "#%d/%d  score=%.3f\n\n", r.Rank, len(m.results), r.Score)
	b.WriteString(titleStyle.Render(md.Title))
	if md.ReleaseYear > 0 {
		b.WriteString(" (" + strconv.Itoa(md.ReleaseYear) + ")")
	}
	b.WriteString("\n")
	for _, f := range [][2]string{
		{"Type", md.Type},
		{"Rating", md.Rating},
		{"Director", md.Director},
		{"Cast", md.Cast},
	} {
		if f[1] == "" {
			continue
		}
		b.WriteString(labelStyle.Render(f[0]+": ") + f[1] + "\n")
	}
	b.WriteString("\n")
	b.WriteString(m.highlightBestSentence(md.Description, m.lastQuery))
	return b.String()
}

var (
	resultBoxStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	queryBoxStyle  = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	highlightStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Bold(true)
	titleStyle     = lipgloss.NewStyle().Bold(true).Underline(true)
	labelStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	sentenceRe     = regexp.MustCompile(`[^.!?]+(?:[.!?]+|$)`)
)

// highlightBestSentence marks the sentence of text sharing the most
// normalized terms with query.
func (m Model) highlightBestSentence(text, query string) string {
	if strings.TrimSpace(text) == "" {
		return text
	}
	sentences := splitSentences(text)
	if best := m.bestSentence(sentences, query); best >= 0 {
		sentences[best] = highlightStyle.Render(sentences[best])
	}
	return strings.Join(sentences, " ")
}

func splitSentences(text string) []string {
	var sentences []string
	for _, s := range sentenceRe.FindAllString(text, -1) {
		if s = strings.TrimSpace(s); s != "" {
			sentences = append(sentences, s)
		}
	}
	if len(sentences) == 0 {
		return []string{strings.TrimSpace(text)}
	}
	return sentences
}

// bestSentence returns the index of the sentence with the largest term
// overlap with query, or -1 when no sentence shares a term.
func (m Model) bestSentence(sentences []string, query string) int {
	qTokens := m.termSet(query)
	if len(qTokens) == 0 {
		return -1
	}
	bestIdx, bestScore := -1, 0
	for i, s := range sentences {
		if score := m.overlap(qTokens, s); score > bestScore {
			bestScore = score
			bestIdx = i
		}
	}
	return bestIdx
}

func (m Model) termSet(s string) map[string]struct{} {
	var terms []string
	if m.norm != nil {
		terms = strings.Fields(m.norm.NormalizeString(s, true))
	} else {
		terms = strings.Fields(strings.ToLower(s))
	}
	set := make(map[string]struct{}, len(terms))
	for _, t := range terms {
		set[t] = struct{}{}
	}
	return set
}

func (m Model) overlap(query map[string]struct{}, sentence string) int {
	score := 0
	for t := range m.termSet(sentence) {
		if _, ok := query[t]; ok {
			score++
		}
	}
	return score
}
