// ABOUTME: Bubble Tea model for the chat client: chat and info screens over one conversation agent
// ABOUTME: Terminal focus and screen switches drive the lifecycle controller

package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/2389/convo-sync/internal/convo"
)

// chatAgent is the part of the conversation agent the UI drives.
type chatAgent interface {
	Snapshot() *convo.State
	SendMessage(body string) (string, error)
	RetrySend(correlationID string) error
	LoadOlder() error
}

// focusTracker receives screen and app focus changes.
type focusTracker interface {
	SetScreenFocused(focused bool)
	SetAppForeground(fg bool)
}

type screen int

const (
	screenChat screen = iota
	screenInfo
)

// stateMsg carries a freshly committed snapshot into the update loop.
type stateMsg struct {
	state *convo.State
}

// tickMsg refreshes relative timestamps.
type tickMsg time.Time

type model struct {
	agent   chatAgent
	focus   focusTracker
	updates <-chan *convo.State
	self    string
	baseURL string
	now     func() time.Time

	state    *convo.State
	screen   screen
	input    textinput.Model
	viewport viewport.Model
	notice   string
	width    int
	height   int
	ready    bool
}

func newModel(agent chatAgent, focus focusTracker, updates <-chan *convo.State, self, baseURL string) model {
	ti := textinput.New()
	ti.Placeholder = "message, /older, /retry ID, /quit"
	ti.CharLimit = 4000
	ti.Focus()

	return model{
		agent:    agent,
		focus:    focus,
		updates:  updates,
		self:     self,
		baseURL:  baseURL,
		now:      time.Now,
		state:    agent.Snapshot(),
		input:    ti,
		viewport: viewport.New(80, 20),
		width:    80,
		height:   24,
	}
}

// waitForState blocks until the agent publishes a new snapshot.
func waitForState(updates <-chan *convo.State) tea.Cmd {
	return func() tea.Msg {
		st, ok := <-updates
		if !ok {
			return nil
		}
		return stateMsg{state: st}
	}
}

func tick() tea.Cmd {
	return tea.Tick(30*time.Second, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m model) Init() tea.Cmd {
	m.focus.SetScreenFocused(true)
	return tea.Batch(textinput.Blink, waitForState(m.updates), tick())
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.viewport.Width = msg.Width
		m.viewport.Height = max(msg.Height-4, 1)
		m.input.Width = max(msg.Width-4, 10)
		m.ready = true
		m.refresh(true)
		return m, nil

	case tea.FocusMsg:
		m.focus.SetAppForeground(true)
		return m, nil

	case tea.BlurMsg:
		m.focus.SetAppForeground(false)
		return m, nil

	case stateMsg:
		atBottom := m.viewport.AtBottom()
		m.state = msg.state
		m.refresh(atBottom)
		return m, waitForState(m.updates)

	case tickMsg:
		m.refresh(false)
		return m, tick()

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c":
			return m, tea.Quit
		case "tab":
			m.toggleScreen()
			return m, nil
		case "enter":
			if m.screen == screenChat {
				return m.submit()
			}
			return m, nil
		case "pgup":
			if m.viewport.AtTop() {
				m.loadOlder()
			}
		}
	}

	if m.screen == screenChat {
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		cmds = append(cmds, cmd)
		m.viewport, cmd = m.viewport.Update(msg)
		cmds = append(cmds, cmd)
	}
	return m, tea.Batch(cmds...)
}

func (m *model) toggleScreen() {
	if m.screen == screenChat {
		m.screen = screenInfo
		m.input.Blur()
		m.focus.SetScreenFocused(false)
		return
	}
	m.screen = screenChat
	m.input.Focus()
	m.focus.SetScreenFocused(true)
}

// submit handles the input line: slash commands or a new message.
func (m model) submit() (tea.Model, tea.Cmd) {
	line := strings.TrimSpace(m.input.Value())
	m.input.Reset()
	m.notice = ""
	if line == "" {
		return m, nil
	}

	if strings.HasPrefix(line, "/") {
		fields := strings.Fields(line)
		switch fields[0] {
		case "/quit":
			return m, tea.Quit
		case "/older":
			m.loadOlder()
		case "/retry":
			if len(fields) != 2 {
				m.notice = "usage: /retry ID"
				return m, nil
			}
			if err := m.agent.RetrySend(fields[1]); err != nil {
				m.notice = fmt.Sprintf("retry: %v", err)
			}
		default:
			m.notice = fmt.Sprintf("unknown command %s", fields[0])
		}
		return m, nil
	}

	if _, err := m.agent.SendMessage(line); err != nil {
		m.notice = fmt.Sprintf("send: %v", err)
	}
	return m, nil
}

func (m *model) loadOlder() {
	if err := m.agent.LoadOlder(); err != nil {
		m.notice = fmt.Sprintf("history: %v", err)
	}
}

// refresh re-renders the viewport content, optionally following the tail.
func (m *model) refresh(follow bool) {
	m.viewport.SetContent(renderItems(m.state, m.self, m.now()))
	if follow {
		m.viewport.GotoBottom()
	}
}

func (m model) View() string {
	if m.screen == screenInfo {
		return renderInfo(m.state, m.self, m.baseURL)
	}

	title := "#"
	if m.state != nil {
		title += m.state.ConvoID
	}

	var b strings.Builder
	b.WriteString(headerStyle.Render(title))
	b.WriteString("  ")
	b.WriteString(statusLine(m.state))
	b.WriteString("\n")
	b.WriteString(m.viewport.View())
	b.WriteString("\n")
	if m.notice != "" {
		b.WriteString(errorStyle.Render(m.notice))
	}
	b.WriteString("\n")
	b.WriteString(m.input.View())
	return b.String()
}
