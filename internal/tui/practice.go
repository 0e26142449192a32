// Package tui provides the terminal practice screen.
package tui

import (
	"context"
	"fmt"
	"strings"
	"sync"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"speakdrill/internal/domain"
)

// Recorder is the part of the recording controller the screen drives.
type Recorder interface {
	Start(ctx context.Context, topicID string) error
	Stop(ctx context.Context) (domain.AttemptResult, error)
	Abort() error
	Retry() error
	Status() domain.RecordingStatus
}

type statusMsg struct {
	status domain.RecordingStatus
	reason domain.RecordingReason
}

type failureMsg struct {
	cause  domain.ErrorCause
	detail string
}

type startedMsg struct{ err error }

type stoppedMsg struct {
	result domain.AttemptResult
	err    error
}

type actionMsg struct{ err error }

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#C89A3A"))
	stateStyle   = lipgloss.NewStyle().Padding(0, 1).Foreground(lipgloss.Color("#101010")).Background(lipgloss.Color("#8C8C8C"))
	liveStyle    = stateStyle.Background(lipgloss.Color("#FF4D4F"))
	hintStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#6E6E6E"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF4D4F"))
	validStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#52C41A"))
	fixStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#FAAD14"))
	missingStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF7A45"))
)

// Model implements the Bubble Tea practice screen for one topic.
type Model struct {
	ctx      context.Context
	topic    domain.Topic
	recorder Recorder

	status  domain.RecordingStatus
	reason  domain.RecordingReason
	busy    bool
	errText string
	result  *domain.AttemptResult

	width int
}

func NewModel(ctx context.Context, topic domain.Topic, recorder Recorder) *Model {
	return &Model{
		ctx:      ctx,
		topic:    topic,
		recorder: recorder,
		status:   recorder.Status(),
		reason:   domain.RecordingReasonReady,
	}
}

// Init implements tea.Model.
func (m *Model) Init() tea.Cmd {
	return nil
}

// Update implements tea.Model.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil
	case statusMsg:
		m.status = msg.status
		m.reason = msg.reason
		return m, nil
	case failureMsg:
		m.errText = fmt.Sprintf("%s: %s", msg.cause, msg.detail)
		return m, nil
	case startedMsg:
		m.busy = false
		m.refresh(msg.err)
		return m, nil
	case stoppedMsg:
		m.busy = false
		if msg.err == nil {
			result := msg.result
			m.result = &result
		}
		m.refresh(msg.err)
		return m, nil
	case actionMsg:
		m.busy = false
		m.refresh(msg.err)
		return m, nil
	case tea.KeyMsg:
		return m, m.handleKey(msg)
	default:
		return m, nil
	}
}

func (m *Model) handleKey(msg tea.KeyMsg) tea.Cmd {
	switch msg.String() {
	case "ctrl+c", "q":
		if m.status.State == domain.RecordingStateRecording {
			_ = m.recorder.Abort()
		}
		return tea.Quit
	}
	if m.busy {
		return nil
	}

	switch msg.String() {
	case " ", "enter":
		switch m.status.State {
		case domain.RecordingStateRecording:
			return m.run(func() tea.Msg {
				result, err := m.recorder.Stop(m.ctx)
				return stoppedMsg{result: result, err: err}
			})
		case domain.RecordingStateIdle, domain.RecordingStateComplete:
			m.result = nil
			m.errText = ""
			topicID := m.topic.ID
			return m.run(func() tea.Msg {
				return startedMsg{err: m.recorder.Start(m.ctx, topicID)}
			})
		}
	case "esc":
		if m.status.State == domain.RecordingStateRecording {
			return m.run(func() tea.Msg { return actionMsg{err: m.recorder.Abort()} })
		}
	case "r":
		if m.status.State == domain.RecordingStateError {
			m.errText = ""
			return m.run(func() tea.Msg { return actionMsg{err: m.recorder.Retry()} })
		}
	}
	return nil
}

func (m *Model) run(fn func() tea.Msg) tea.Cmd {
	m.busy = true
	return fn
}

func (m *Model) refresh(err error) {
	m.status = m.recorder.Status()
	if err != nil {
		m.errText = err.Error()
	}
}

// View implements tea.Model.
func (m *Model) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render(m.topic.Title))
	b.WriteString("  ")
	badge := stateStyle
	if m.status.State.Active() {
		badge = liveStyle
	}
	b.WriteString(badge.Render(string(m.status.State)))
	if m.busy {
		b.WriteString(hintStyle.Render("  working..."))
	}
	b.WriteString("\n\n")

	if m.result != nil {
		b.WriteString(renderResult(*m.result, m.width))
		b.WriteString("\n")
	}
	if m.errText != "" {
		b.WriteString(errorStyle.Render(m.errText))
		b.WriteString("\n\n")
	}
	b.WriteString(hintStyle.Render(hint(m.status.State)))
	b.WriteString("\n")
	return b.String()
}

func renderResult(result domain.AttemptResult, width int) string {
	body := lipgloss.NewStyle()
	if width > 4 {
		body = body.Width(width - 2)
	}

	var b strings.Builder
	b.WriteString(body.Render(result.Transcription))
	b.WriteString("\n\n")
	writeSection(&b, validStyle, "Valid", result.Analysis.Valid)
	writeSection(&b, fixStyle, "Corrections", result.Analysis.Corrections)
	writeSection(&b, missingStyle, "Missing", result.Analysis.Missing)
	switch {
	case result.TopicDeleted:
		b.WriteString(errorStyle.Render("topic was deleted; this session was not saved"))
		b.WriteString("\n")
	case !result.Synced:
		b.WriteString(hintStyle.Render("saved on this device only; run `speakdrill sync` later"))
		b.WriteString("\n")
	}
	return b.String()
}

func writeSection(b *strings.Builder, style lipgloss.Style, label string, items []string) {
	if len(items) == 0 {
		return
	}
	b.WriteString(style.Render(label))
	b.WriteString("\n")
	for _, item := range items {
		b.WriteString("  - ")
		b.WriteString(item)
		b.WriteString("\n")
	}
}

func hint(state domain.RecordingState) string {
	switch state {
	case domain.RecordingStateRecording:
		return "space: stop and analyze  esc: discard  q: quit"
	case domain.RecordingStateAnalyzing:
		return "analyzing...  q: quit"
	case domain.RecordingStateError:
		return "r: retry  q: quit"
	default:
		return "space: record  q: quit"
	}
}

// Events forwards recording events into a running program. Events that arrive
// before Attach are dropped.
type Events struct {
	mu   sync.Mutex
	send func(tea.Msg)
}

// Attach routes events to send, usually (*tea.Program).Send.
func (e *Events) Attach(send func(tea.Msg)) {
	e.mu.Lock()
	e.send = send
	e.mu.Unlock()
}

func (e *Events) RecordingStateChanged(status domain.RecordingStatus, reason domain.RecordingReason) {
	e.forward(statusMsg{status: status, reason: reason})
}

func (e *Events) RecordingError(cause domain.ErrorCause, detail string) {
	e.forward(failureMsg{cause: cause, detail: detail})
}

func (e *Events) forward(msg tea.Msg) {
	e.mu.Lock()
	send := e.send
	e.mu.Unlock()
	if send != nil {
		send(msg)
	}
}
