// ABOUTME: Tests for the chat client's Bubble Tea model
// ABOUTME: Uses fakes for the agent and focus tracker to check commands and focus wiring

package main

import (
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/convo-sync/internal/convo"
)

type fakeAgent struct {
	sent     []string
	retried  []string
	older    int
	sendErr  error
	snapshot *convo.State
}

func (f *fakeAgent) Snapshot() *convo.State { return f.snapshot }

func (f *fakeAgent) SendMessage(body string) (string, error) {
	if f.sendErr != nil {
		return "", f.sendErr
	}
	f.sent = append(f.sent, body)
	return "corr", nil
}

func (f *fakeAgent) RetrySend(id string) error {
	f.retried = append(f.retried, id)
	return nil
}

func (f *fakeAgent) LoadOlder() error {
	f.older++
	return nil
}

type fakeFocus struct {
	screen []bool
	app    []bool
}

func (f *fakeFocus) SetScreenFocused(focused bool) { f.screen = append(f.screen, focused) }
func (f *fakeFocus) SetAppForeground(fg bool)      { f.app = append(f.app, fg) }

func newTestModel() (model, *fakeAgent, *fakeFocus) {
	agent := &fakeAgent{snapshot: &convo.State{ConvoID: "general", Status: convo.StatusReady}}
	focus := &fakeFocus{}
	return newModel(agent, focus, make(chan *convo.State), "alice", "http://localhost:8080"), agent, focus
}

func typeLine(t *testing.T, m model, line string) model {
	t.Helper()
	m.input.SetValue(line)
	next, _ := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	out, ok := next.(model)
	require.True(t, ok)
	return out
}

func TestModel_SendsMessage(t *testing.T) {
	m, agent, _ := newTestModel()

	m = typeLine(t, m, "  hello  ")

	assert.Equal(t, []string{"hello"}, agent.sent)
	assert.Empty(t, m.input.Value())
}

func TestModel_SendErrorShowsNotice(t *testing.T) {
	m, agent, _ := newTestModel()
	agent.sendErr = convo.ErrNotActive

	m = typeLine(t, m, "hello")

	assert.Contains(t, m.notice, "send:")
}

func TestModel_Commands(t *testing.T) {
	m, agent, _ := newTestModel()

	m = typeLine(t, m, "/older")
	assert.Equal(t, 1, agent.older)

	m = typeLine(t, m, "/retry c-1")
	assert.Equal(t, []string{"c-1"}, agent.retried)

	m = typeLine(t, m, "/retry")
	assert.Equal(t, "usage: /retry ID", m.notice)

	m = typeLine(t, m, "/bogus")
	assert.Contains(t, m.notice, "unknown command")
	assert.Empty(t, agent.sent)
}

func TestModel_QuitCommand(t *testing.T) {
	m, _, _ := newTestModel()
	m.input.SetValue("/quit")

	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	require.NotNil(t, cmd)
	assert.Equal(t, tea.Quit(), cmd())
}

func TestModel_TabTogglesScreenFocus(t *testing.T) {
	m, _, focus := newTestModel()

	next, _ := m.Update(tea.KeyMsg{Type: tea.KeyTab})
	m = next.(model)
	assert.Equal(t, screenInfo, m.screen)

	next, _ = m.Update(tea.KeyMsg{Type: tea.KeyTab})
	m = next.(model)
	assert.Equal(t, screenChat, m.screen)

	assert.Equal(t, []bool{false, true}, focus.screen)
}

func TestModel_TerminalFocus(t *testing.T) {
	m, _, focus := newTestModel()

	next, _ := m.Update(tea.BlurMsg{})
	next, _ = next.Update(tea.FocusMsg{})
	_ = next

	assert.Equal(t, []bool{false, true}, focus.app)
}

func TestModel_StateMsgUpdatesView(t *testing.T) {
	m, _, _ := newTestModel()

	next, cmd := m.Update(stateMsg{state: &convo.State{
		ConvoID: "general",
		Status:  convo.StatusReady,
		Items: []convo.Item{
			{Kind: convo.ItemMessage, ID: "m1", Seq: 1, Sender: "bob", Body: "ping"},
		},
	}})
	m = next.(model)

	assert.NotNil(t, cmd)
	assert.Contains(t, m.View(), "ping")
	assert.Contains(t, m.View(), "#general")
}

func TestWaitForState_ClosedChannel(t *testing.T) {
	ch := make(chan *convo.State)
	close(ch)
	assert.Nil(t, waitForState(ch)())
}

func TestModel_InfoScreen(t *testing.T) {
	m, _, _ := newTestModel()
	m.screen = screenInfo

	view := m.View()
	assert.Contains(t, view, "Conversation info")
	assert.Contains(t, view, "alice")
}
