package controller

import (
	"context"
	"errors"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ChuLiYu/ember-engine/internal/command"
	"github.com/ChuLiYu/ember-engine/internal/engine"
	"github.com/ChuLiYu/ember-engine/internal/metrics"
	"github.com/ChuLiYu/ember-engine/internal/settings"
	"github.com/ChuLiYu/ember-engine/internal/snapshot"
	"github.com/ChuLiYu/ember-engine/internal/storage/wal"
	"github.com/ChuLiYu/ember-engine/internal/worker"
	"github.com/ChuLiYu/ember-engine/pkg/types"
)

// ============================================================================
// Test Helper Functions
// ============================================================================

type fixture struct {
	c       *Controller
	dir     string
	metrics *metrics.Collector
}

func newFixture(t *testing.T, inject func(engine.Command) error) *fixture {
	t.Helper()
	dir := t.TempDir()

	cfg := DefaultConfig()
	cfg.StatusPath = filepath.Join(dir, "printer_status")
	cfg.JournalPath = filepath.Join(dir, "journal.log")
	cfg.Journal = wal.Options{SyncOnAppend: true}
	cfg.RepublishInterval = 0
	cfg.Simulator = worker.SimulatorConfig{Scale: 0.01, Timeout: time.Second, Inject: inject}

	m := metrics.NewCollector(prometheus.NewRegistry())
	c, err := NewController(cfg, Deps{
		Settings: settings.NewStore(filepath.Join(dir, "settings.yaml")),
		Metrics:  m,
		Logger:   zaptest.NewLogger(t),
	})
	require.NoError(t, err)
	t.Cleanup(c.Stop)
	return &fixture{c: c, dir: dir, metrics: m}
}

func (f *fixture) submit(t *testing.T, line string) error {
	t.Helper()
	in, err := command.Parse(line)
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return f.c.Submit(ctx, in)
}

func (f *fixture) waitFor(t *testing.T, state types.PrintEngineState, sub types.UISubState) {
	t.Helper()
	require.Eventually(t, func() bool {
		s := f.c.Snapshot()
		return s.State == state && s.SubState == sub
	}, 5*time.Second, 5*time.Millisecond, "waiting for %d/%d", state, sub)
}

func (f *fixture) toHome(t *testing.T) {
	t.Helper()
	require.NoError(t, f.submit(t, "doorclosed"))
	require.NoError(t, f.submit(t, "reset"))
	f.waitFor(t, types.HomeState, types.NoPrintData)
}

func journalTypes(t *testing.T, path string) map[wal.EventType]int {
	t.Helper()
	stats, err := wal.GetWALStats(path)
	require.NoError(t, err)
	return stats.EventTypes
}

// ============================================================================
// Basic Functionality Tests
// ============================================================================

func TestNewController(t *testing.T) {
	f := newFixture(t, nil)

	assert.Equal(t, types.PrinterOnState, f.c.Snapshot().State)
	assert.Nil(t, f.c.Latest(), "nothing published before Start")
	assert.ErrorIs(t, f.c.Send(engine.NewEvent(engine.EventDoorClosed)), ErrNotStarted)
}

func TestNewControllerWithInvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Engine.MaxUnjamTries = 0
	cfg.StatusPath = filepath.Join(t.TempDir(), "status")
	_, err := NewController(cfg, Deps{})
	assert.ErrorIs(t, err, engine.ErrInvalidConfig)
}

func TestStartPublishesInitialStatus(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.c.Start())
	require.NoError(t, f.c.Start(), "second Start is a no-op")

	require.Eventually(t, func() bool { return f.c.Latest() != nil }, time.Second, 5*time.Millisecond)

	doc, err := snapshot.NewManager(filepath.Join(f.dir, "printer_status")).Load()
	require.NoError(t, err)
	assert.Equal(t, "PrinterOn", doc.State)
	assert.Equal(t, "none", doc.Change)
}

func TestBootToHome(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.c.Start())
	f.toHome(t)

	require.Eventually(t, func() bool {
		doc, err := snapshot.NewManager(filepath.Join(f.dir, "printer_status")).Load()
		return err == nil && doc.State == "Home"
	}, time.Second, 5*time.Millisecond)

	assert.Greater(t, testutil.ToFloat64(f.metrics.Transitions("Home")), 0.0)
}

// ============================================================================
// Print Cycle Tests
// ============================================================================

func TestPrintCycleWithButtons(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.c.Start())
	f.toHome(t)

	require.NoError(t, f.submit(t, "showprintdataloaded 2 cube.tar.gz job-1 cube"))
	f.waitFor(t, types.HomeState, types.LoadedPrintData)

	require.NoError(t, f.submit(t, "button2"), "right button starts the print")
	f.waitFor(t, types.GettingFeedbackState, types.PrintCompleted)

	require.NoError(t, f.submit(t, "button2"), "right button rates the print as succeeded")
	f.waitFor(t, types.HomeState, types.PrintCompleted)

	f.c.Stop()

	counts := journalTypes(t, filepath.Join(f.dir, "journal.log"))
	assert.Greater(t, counts[wal.EventEntering], 10)
	assert.Greater(t, counts[wal.EventLeaving], 10)
	assert.Equal(t, 5, counts[wal.EventCommand], "every accepted command is journaled")
	assert.Zero(t, counts[wal.EventFault])
}

func TestButtonIgnoredInState(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.c.Start())
	f.toHome(t)

	err := f.submit(t, "button1")
	assert.ErrorIs(t, err, ErrIgnored)
}

func TestLeftButtonUpgradesAfterCapabilityReported(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.c.Start())
	f.toHome(t)

	require.NoError(t, f.submit(t, "button1hold"))
	f.waitFor(t, types.ShowingVersionState, types.NoUISubState)

	require.NoError(t, f.submit(t, "canupgrade true"))
	require.NoError(t, f.submit(t, "button1"))
	f.waitFor(t, types.ConfirmUpgradeState, types.NoUISubState)
}

func TestRejectedEventCounted(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.c.Start())

	err := f.submit(t, "pause")
	assert.ErrorIs(t, err, engine.ErrEventRejected)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Rejected(string(engine.EventPause))))
}

func TestMotionFaultEntersError(t *testing.T) {
	boom := errors.New("stepper driver fault")
	f := newFixture(t, func(cmd engine.Command) error {
		if cmd.Action == engine.ActionSeparate {
			return boom
		}
		return nil
	})
	require.NoError(t, f.c.Start())
	f.toHome(t)

	require.NoError(t, f.submit(t, "showprintdataloaded 3 cube.tar.gz"))
	require.NoError(t, f.submit(t, "start"))
	f.waitFor(t, types.ErrorState, types.NoUISubState)

	snap := f.c.Snapshot()
	assert.True(t, snap.IsError)
	assert.Equal(t, 36, snap.ErrorCode)

	require.Eventually(t, func() bool {
		doc, err := snapshot.NewManager(filepath.Join(f.dir, "printer_status")).Load()
		return err == nil && doc.IsError && doc.ErrorMessage != ""
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, f.submit(t, "button1"), "left button resets the error")
	f.waitFor(t, types.HomeState, types.HavePrintData)

	f.c.Stop()
	assert.Equal(t, 1, journalTypes(t, filepath.Join(f.dir, "journal.log"))[wal.EventFault])
}

func TestJamRecoveredByResume(t *testing.T) {
	var jammed atomic.Bool
	f := newFixture(t, func(cmd engine.Command) error {
		if cmd.Action == engine.ActionSeparate && jammed.CompareAndSwap(false, true) {
			return worker.ErrJam
		}
		return nil
	})
	require.NoError(t, f.c.Start())
	f.toHome(t)

	require.NoError(t, f.submit(t, "showprintdataloaded 1 cube.tar.gz"))
	require.NoError(t, f.submit(t, "start"))
	f.waitFor(t, types.JammedState, types.NoUISubState)

	require.NoError(t, f.submit(t, "button2"), "right button resumes after a jam")
	f.waitFor(t, types.GettingFeedbackState, types.PrintCompleted)
}

// ============================================================================
// Subscription and Shutdown Tests
// ============================================================================

func TestSubscribeReceivesDocuments(t *testing.T) {
	f := newFixture(t, nil)
	ch, cancel := f.c.Subscribe(64)
	defer cancel()

	require.NoError(t, f.c.Start())
	require.NoError(t, f.submit(t, "doorclosed"))

	select {
	case doc := <-ch:
		assert.NotEmpty(t, doc)
	case <-time.After(2 * time.Second):
		t.Fatal("no document received")
	}

	cancel()
	cancel()
}

func TestStopIsIdempotent(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.c.Start())
	ch, _ := f.c.Subscribe(1)

	f.c.Stop()
	f.c.Stop()

	assert.ErrorIs(t, f.c.Send(engine.NewEvent(engine.EventRefresh)), ErrStopped)
	assert.ErrorIs(t, f.c.Start(), ErrStopped)

	for range ch {
	}
	assert.FileExists(t, filepath.Join(f.dir, "settings.yaml"))
}

func TestStopWithoutStart(t *testing.T) {
	f := newFixture(t, nil)
	f.c.Stop()
	assert.ErrorIs(t, f.c.Send(engine.NewEvent(engine.EventRefresh)), ErrStopped)
}
