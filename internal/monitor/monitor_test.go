package monitor

import (
	"path/filepath"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ChuLiYu/ember-engine/internal/snapshot"
	"github.com/ChuLiYu/ember-engine/internal/status"
)

const printingDoc = `{"State":"PrintingLayer","UISubState":"","IsError":false,"JobName":"cube",
"Layer":5,"TotalLayers":10,"SecondsLeft":60,"Temperature":24.5,"SparkState":"printing","SparkJobState":"printing"}`

func update(t *testing.T, m Model, msg tea.Msg) (Model, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(msg)
	mm, ok := next.(Model)
	require.True(t, ok)
	return mm, cmd
}

func TestNewDefaultsInterval(t *testing.T) {
	m := New(filepath.Join(t.TempDir(), "status"), 0)
	assert.Equal(t, DefaultInterval, m.interval)
	assert.NotNil(t, m.Init())
}

func TestLoadMissingShowsWaiting(t *testing.T) {
	m := New(filepath.Join(t.TempDir(), "status"), time.Second)

	msg := m.load()
	loaded, ok := msg.(loadedMsg)
	require.True(t, ok)
	assert.ErrorIs(t, loaded.err, snapshot.ErrStatusNotFound)

	m, _ = update(t, m, loaded)
	assert.Contains(t, m.View(), "Waiting for the print engine")
}

func TestLoadRendersDocument(t *testing.T) {
	path := filepath.Join(t.TempDir(), "status")
	require.NoError(t, snapshot.NewManager(path).Write([]byte(printingDoc)))

	m := New(path, time.Second)
	m, _ = update(t, m, m.load())

	require.NotNil(t, m.doc)
	view := m.View()
	assert.Contains(t, view, "PrintingLayer")
	assert.Contains(t, view, "cube")
	assert.Contains(t, view, "5/10")
	assert.Contains(t, view, "1m0s")
	assert.Contains(t, view, "24.5")
	assert.NotContains(t, view, "Error:")
}

func TestErrorDocumentShowsMessage(t *testing.T) {
	m := New(filepath.Join(t.TempDir(), "status"), time.Second)
	m, _ = update(t, m, loadedMsg{doc: status.Document{
		State:        "Error",
		IsError:      true,
		ErrorCode:    36,
		ErrorMessage: "Motor command failed",
	}})

	view := m.View()
	assert.Contains(t, view, "Error:")
	assert.Contains(t, view, "[36] Motor command failed")
}

func TestReadFailureKeepsLastDocument(t *testing.T) {
	m := New(filepath.Join(t.TempDir(), "status"), time.Second)
	m, _ = update(t, m, loadedMsg{doc: status.Document{State: "Home", UISubState: "NoPrintData"}})
	m, _ = update(t, m, loadedMsg{err: snapshot.ErrCorruptedStatus})

	view := m.View()
	assert.Contains(t, view, "Cannot read status")
	assert.Contains(t, view, "Home / NoPrintData")
}

func TestTickSchedulesReload(t *testing.T) {
	m := New(filepath.Join(t.TempDir(), "status"), time.Second)
	_, cmd := update(t, m, tickMsg(time.Now()))
	assert.NotNil(t, cmd)
}

func TestQuitKeys(t *testing.T) {
	for _, key := range []tea.KeyMsg{
		{Type: tea.KeyRunes, Runes: []rune("q")},
		{Type: tea.KeyCtrlC},
	} {
		m := New(filepath.Join(t.TempDir(), "status"), time.Second)
		m, cmd := update(t, m, key)
		require.NotNil(t, cmd)
		assert.IsType(t, tea.QuitMsg{}, cmd())
		assert.Equal(t, "Shutting down...\n", m.View())
	}
}

func TestProgressBar(t *testing.T) {
	assert.Equal(t, progressWidth, len([]rune(progressBar(0, 0))))
	assert.Contains(t, progressBar(20, 10), "█")
}
