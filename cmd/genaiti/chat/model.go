package chatcmder

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/ntealan/genaiti/chain"
	"github.com/ntealan/genaiti/export"
)

type askFunc func(ctx context.Context, question string) (*chain.Result, error)

type renderFunc func(markdown string, width int) string

type answerMsg struct {
	res *chain.Result
	err error
}

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("63"))
	helpStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

// model is the chat screen: the transcript above, the prompt below.
type model struct {
	ctx    context.Context
	ask    askFunc
	render renderFunc
	agent  string

	input   textinput.Model
	view    viewport.Model
	spin    spinner.Model
	blocks  []string
	waiting bool
	width   int
}

func newModel(ctx context.Context, agent string, ask askFunc, render renderFunc) model {
	in := textinput.New()
	in.Placeholder = "Posez une question sur le dictionnaire…"
	in.CharLimit = 500
	in.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Dot

	if render == nil {
		render = func(md string, _ int) string { return md }
	}
	return model{
		ctx:    ctx,
		ask:    ask,
		render: render,
		agent:  agent,
		input:  in,
		view:   viewport.New(80, 20),
		spin:   sp,
		width:  80,
	}
}

func (m model) Init() tea.Cmd {
	return textinput.Blink
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.view.Width = msg.Width
		m.view.Height = max(msg.Height-4, 1)
		m.input.Width = max(msg.Width-4, 10)
		m.refresh()
		return m, nil

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			return m, tea.Quit
		case tea.KeyEnter:
			question := strings.TrimSpace(m.input.Value())
			if m.waiting || question == "" {
				return m, nil
			}
			if question == "/clear" {
				m.blocks = nil
				m.input.Reset()
				m.refresh()
				return m, nil
			}
			m.blocks = append(m.blocks, "**Vous** : "+question)
			m.input.Reset()
			m.waiting = true
			m.refresh()
			return m, tea.Batch(m.spin.Tick, m.askCmd(question))
		}

	case answerMsg:
		m.waiting = false
		m.blocks = append(m.blocks, m.answerBlock(msg))
		m.refresh()
		return m, nil

	case spinner.TickMsg:
		if !m.waiting {
			return m, nil
		}
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd
	}

	var cmds []tea.Cmd
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	cmds = append(cmds, cmd)
	m.view, cmd = m.view.Update(msg)
	cmds = append(cmds, cmd)
	return m, tea.Batch(cmds...)
}

func (m model) View() string {
	prompt := m.input.View()
	if m.waiting {
		prompt = m.spin.View() + " " + m.agent + " réfléchit…"
	}
	return titleStyle.Render(m.agent) + "\n" +
		m.view.View() + "\n" +
		prompt + "\n" +
		helpStyle.Render("entrée: envoyer • /clear: effacer • échap: quitter")
}

func (m model) askCmd(question string) tea.Cmd {
	return func() tea.Msg {
		res, err := m.ask(m.ctx, question)
		return answerMsg{res: res, err: err}
	}
}

func (m model) answerBlock(msg answerMsg) string {
	if msg.err != nil {
		return fmt.Sprintf("**%s** : _erreur_ : %v", m.agent, msg.err)
	}
	var sb strings.Builder
	sb.WriteString("**" + m.agent + "** : ")
	if msg.res.Direct {
		if len(msg.res.Rows) == 0 {
			sb.WriteString("aucun résultat.")
		} else {
			sb.WriteString("\n\n" + export.Markdown(msg.res.Rows))
		}
	} else {
		sb.WriteString(strings.TrimSpace(msg.res.Answer))
	}
	if msg.res.Query != "" {
		sb.WriteString("\n\n```cypher\n" + msg.res.Query + "\n```")
	}
	return sb.String()
}

func (m *model) refresh() {
	rendered := make([]string, len(m.blocks))
	for i, b := range m.blocks {
		rendered[i] = m.render(b, m.width)
	}
	m.view.SetContent(strings.Join(rendered, "\n"))
	m.view.GotoBottom()
}
