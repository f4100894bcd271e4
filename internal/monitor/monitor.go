package monitor

// ============================================================================
// 狀態監看介面（終端 TUI）
// 職責：
//   1. 定期讀取狀態檔並顯示目前的引擎狀態
//   2. 顯示層數進度、剩餘時間、樹脂溫度與錯誤訊息
//   3. 按 q 或 ctrl+c 離開
// ============================================================================

import (
	"errors"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/ChuLiYu/ember-engine/internal/snapshot"
	"github.com/ChuLiYu/ember-engine/internal/status"
)

// DefaultInterval 預設的輪詢間隔
const DefaultInterval = 500 * time.Millisecond

const progressWidth = 30

type tickMsg time.Time

// loadedMsg 一次讀取狀態檔的結果
type loadedMsg struct {
	doc status.Document
	err error
}

// Model 監看介面的 bubbletea 模型
type Model struct {
	source   *snapshot.Manager
	interval time.Duration

	doc      *status.Document
	err      error
	updated  time.Time
	width    int
	quitting bool
}

// New 建立監看 path 狀態檔的模型
func New(path string, interval time.Duration) Model {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return Model{
		source:   snapshot.NewManager(path),
		interval: interval,
	}
}

// Run 以全螢幕模式執行監看介面直到使用者離開
func Run(path string, interval time.Duration) error {
	p := tea.NewProgram(New(path, interval), tea.WithAltScreen())
	_, err := p.Run()
	return err
}

func (m Model) tick() tea.Cmd {
	return tea.Tick(m.interval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m Model) load() tea.Msg {
	doc, err := m.source.Load()
	return loadedMsg{doc: doc, err: err}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.load, m.tick())
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width

	case tickMsg:
		return m, tea.Batch(m.load, m.tick())

	case loadedMsg:
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		doc := msg.doc
		m.doc = &doc
		m.err = nil
		m.updated = time.Now()
	}

	return m, nil
}

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("12")).
			Background(lipgloss.Color("235")).
			Padding(0, 1)

	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("12")).
			Bold(true)

	valueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("10"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("9")).
			Bold(true)

	warningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("11"))

	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")).
			Padding(0, 1)
)

func (m Model) View() string {
	if m.quitting {
		return "Shutting down...\n"
	}

	var s strings.Builder
	s.WriteString(titleStyle.Render("EMBER PRINT ENGINE"))
	s.WriteString("\n")
	s.WriteString(headerStyle.Render(fmt.Sprintf("Status file: %s | Press 'q' to quit", m.source.GetPath())))
	s.WriteString("\n\n")

	if m.err != nil {
		if errors.Is(m.err, snapshot.ErrStatusNotFound) {
			s.WriteString(warningStyle.Render("Waiting for the print engine to publish status..."))
		} else {
			s.WriteString(errorStyle.Render(fmt.Sprintf("Cannot read status: %v", m.err)))
		}
		s.WriteString("\n\n")
	}

	if m.doc == nil {
		return s.String()
	}

	s.WriteString(boxStyle.Render(renderDocument(*m.doc)))
	s.WriteString("\n")
	if !m.updated.IsZero() {
		s.WriteString(headerStyle.Render("Updated " + m.updated.Format("15:04:05")))
		s.WriteString("\n")
	}
	return s.String()
}

func renderDocument(d status.Document) string {
	var b strings.Builder

	state := d.State
	if d.UISubState != "" {
		state += " / " + d.UISubState
	}
	stateStyle := valueStyle
	if d.IsError {
		stateStyle = errorStyle
	}
	fmt.Fprintf(&b, "%s %s\n", labelStyle.Render("State:"), stateStyle.Render(state))
	fmt.Fprintf(&b, "%s %s   %s %s\n",
		labelStyle.Render("Spark:"), valueStyle.Render(orDash(d.SparkState)),
		labelStyle.Render("Job:"), valueStyle.Render(orDash(d.SparkJobState)))

	if d.JobName != "" || d.TotalLayers > 0 {
		fmt.Fprintf(&b, "%s %s\n", labelStyle.Render("Print:"), valueStyle.Render(orDash(d.JobName)))
		fmt.Fprintf(&b, "%s %s %d/%d\n", labelStyle.Render("Layer:"),
			progressBar(d.Layer, d.TotalLayers), d.Layer, d.TotalLayers)
		fmt.Fprintf(&b, "%s %s\n", labelStyle.Render("Remaining:"),
			valueStyle.Render(formatSeconds(d.SecondsLeft)))
	}

	fmt.Fprintf(&b, "%s %s", labelStyle.Render("Temperature:"),
		valueStyle.Render(fmt.Sprintf("%.1f°C", d.Temperature)))

	if d.IsError {
		fmt.Fprintf(&b, "\n%s %s", labelStyle.Render("Error:"),
			errorStyle.Render(fmt.Sprintf("[%d] %s", d.ErrorCode, d.ErrorMessage)))
	}
	return b.String()
}

func progressBar(layer, total int) string {
	if total <= 0 {
		return strings.Repeat("░", progressWidth)
	}
	if layer > total {
		layer = total
	}
	filled := layer * progressWidth / total
	return valueStyle.Render(strings.Repeat("█", filled)) + strings.Repeat("░", progressWidth-filled)
}

func formatSeconds(secs int) string {
	if secs <= 0 {
		return "-"
	}
	return (time.Duration(secs) * time.Second).String()
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
