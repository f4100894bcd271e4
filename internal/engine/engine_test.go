package engine

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ChuLiYu/ember-engine/internal/faults"
	"github.com/ChuLiYu/ember-engine/internal/settings"
	"github.com/ChuLiYu/ember-engine/pkg/types"
)

// ============================================================================
// 測試輔助
// ============================================================================

type recMotion struct {
	cmds []Command
}

func (m *recMotion) Dispatch(c Command) { m.cmds = append(m.cmds, c) }

func (m *recMotion) last() Command {
	if len(m.cmds) == 0 {
		return Command{}
	}
	return m.cmds[len(m.cmds)-1]
}

type recorder struct {
	snaps []types.StatusSnapshot
}

func (r *recorder) OnStatus(s types.StatusSnapshot) { r.snaps = append(r.snaps, s) }

func (r *recorder) reset() { r.snaps = nil }

type step struct {
	change types.StateChange
	state  types.PrintEngineState
}

func (r *recorder) steps() []step {
	out := make([]step, 0, len(r.snaps))
	for _, s := range r.snaps {
		out = append(out, step{s.Change, s.State})
	}
	return out
}

type report struct {
	code    faults.ErrorCode
	fatal   bool
	context string
}

type recReporter struct {
	mu    sync.Mutex
	calls []report
}

func (r *recReporter) ReportError(code faults.ErrorCode, fatal bool, context string, _ int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, report{code, fatal, context})
}

type harness struct {
	t      *testing.T
	eng    *Engine
	motion *recMotion
	rec    *recorder
	rep    *recReporter
	errs   *faults.ErrorChannel
	store  *settings.Store
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	h := &harness{
		t:      t,
		motion: &recMotion{},
		rec:    &recorder{},
		rep:    &recReporter{},
		errs:   faults.NewErrorChannel(),
		store:  settings.NewStore(""),
	}
	eng, err := New(cfg, Deps{
		Reporter:  h.rep,
		Errors:    h.errs,
		Motion:    h.motion,
		Settings:  h.store,
		Listeners: []Listener{h.rec},
	})
	require.NoError(t, err)
	h.eng = eng
	return h
}

func (h *harness) handle(ev Event) {
	h.t.Helper()
	require.NoError(h.t, h.eng.Handle(context.Background(), ev))
}

// complete 送回最後一個動作的完成事件
func (h *harness) complete() {
	h.t.Helper()
	cmd := h.motion.last()
	require.NotEqual(h.t, ActionNone, cmd.Action, "no action dispatched")
	h.handle(Completion(cmd.Action.CompletionEvent(), cmd.Token))
}

// completeUntil 持續完成動作直到抵達 target
func (h *harness) completeUntil(target types.PrintEngineState) {
	h.t.Helper()
	for i := 0; i < 64 && h.eng.State() != target; i++ {
		h.complete()
	}
	require.Equal(h.t, target, h.eng.State())
}

func (h *harness) state() types.PrintEngineState { return h.eng.Snapshot().State }

func (h *harness) toHome() {
	h.t.Helper()
	h.handle(NewEvent(EventDoorClosed))
	h.handle(NewEvent(EventReset))
	h.completeUntil(types.HomeState)
}

func (h *harness) loadPrint(layers int) {
	h.t.Helper()
	h.handle(LoadedEvent(layers, "cube", "job-1", "cube.tar.gz"))
}

func (h *harness) startPrint(layers int) {
	h.t.Helper()
	h.toHome()
	h.loadPrint(layers)
	h.handle(NewEvent(EventStartPrint))
}

// ============================================================================
// 測試
// ============================================================================

func TestNewStartsInPrinterOn(t *testing.T) {
	h := newHarness(t, DefaultConfig())

	snap := h.eng.Snapshot()
	assert.Equal(t, types.PrinterOnState, snap.State)
	assert.Equal(t, types.NoChange, snap.Change)
	assert.NotEmpty(t, snap.LocalJobID)
	require.Len(t, h.rec.snaps, 1)
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxUnjamTries = 0
	_, err := New(cfg, Deps{})
	assert.ErrorIs(t, err, ErrInvalidConfig)

	cfg = DefaultConfig()
	cfg.LayerSeconds = -1
	_, err = New(cfg, Deps{})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestBootToHome(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.toHome()

	snap := h.eng.Snapshot()
	assert.Equal(t, types.HomeState, snap.State)
	assert.Equal(t, types.NoPrintData, snap.SubState)
	assert.True(t, snap.CanLoadPrintData)

	var actions []Action
	for _, c := range h.motion.cmds {
		actions = append(actions, c.Action)
	}
	assert.Equal(t, []Action{ActionInitializeHardware, ActionGoHome}, actions)
}

// TestNominalPrintCycle 兩層列印：完整經過每層循環，最後回到 Home(PrintCompleted)
func TestNominalPrintCycle(t *testing.T) {
	h := newHarness(t, Config{MaxUnjamTries: 3, LayerSeconds: 10})
	h.startPrint(2)

	assert.Equal(t, types.MovingToStartPositionState, h.state())
	assert.Equal(t, "job-1", h.eng.Snapshot().JobID)
	assert.Equal(t, ActionMoveToStartPosition, h.motion.last().Action)

	h.complete()
	snap := h.eng.Snapshot()
	assert.Equal(t, types.InitializingLayerState, snap.State)
	assert.Equal(t, 1, snap.CurrentLayer)
	assert.Equal(t, 2, snap.NumLayers)
	assert.Equal(t, 20, snap.EstimatedSecondsRemaining)

	h.completeUntil(types.GettingFeedbackState)
	assert.Equal(t, types.NoUISubState, h.eng.Snapshot().SubState)
	assert.Equal(t, ActionCheckLayer, h.motion.last().Action)

	h.complete()
	assert.Equal(t, types.InitializingLayerState, h.state())
	assert.Equal(t, 2, h.eng.Snapshot().CurrentLayer)

	h.completeUntil(types.GettingFeedbackState)
	snap = h.eng.Snapshot()
	assert.Equal(t, types.PrintCompleted, snap.SubState)
	assert.Equal(t, 0, snap.EstimatedSecondsRemaining)
	assert.Equal(t, ActionApproach, h.motion.last().Action, "no layer check after the final layer")

	h.handle(RateEvent(types.Succeeded))
	snap = h.eng.Snapshot()
	assert.Equal(t, types.HomingState, snap.State)
	assert.Equal(t, types.PrintCompleted, snap.SubState)
	assert.Equal(t, types.Succeeded, snap.PrintRating)

	h.complete()
	snap = h.eng.Snapshot()
	assert.Equal(t, types.HomeState, snap.State)
	assert.Equal(t, types.PrintCompleted, snap.SubState)
	assert.Equal(t, 0, snap.NumLayers)
	assert.Equal(t, types.UnknownPrintFeedback, snap.PrintRating)
	assert.Empty(t, snap.JobID)
	assert.Empty(t, h.store.GetString(settings.JobID))
	assert.Equal(t, "cube.tar.gz", h.store.GetString(settings.PrintFile))
}

func TestLayerEdgesAlwaysLeaveThenEnter(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.startPrint(1)
	h.completeUntil(types.GettingFeedbackState)

	var prev *types.StatusSnapshot
	for i := range h.rec.snaps {
		s := h.rec.snaps[i]
		if s.Change == types.Entering {
			require.NotNil(t, prev)
			assert.Equal(t, types.Leaving, prev.Change, "Entering(%d) must follow a Leaving", s.State)
			assert.NotEqual(t, prev.State, s.State)
		}
		prev = &h.rec.snaps[i]
	}
}

// TestPauseAndResumeFromExposing 暫停後恢復必須回到原本的狀態
func TestPauseAndResumeFromExposing(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.startPrint(3)
	h.completeUntil(types.ExposingState)
	layer := h.eng.Snapshot().CurrentLayer

	h.rec.reset()
	h.handle(NewEvent(EventPause))
	h.complete()

	assert.Equal(t, []step{
		{types.Leaving, types.ExposingState},
		{types.Entering, types.MovingToPauseState},
		{types.Leaving, types.MovingToPauseState},
		{types.Entering, types.PausedState},
	}, h.rec.steps())

	h.handle(NewEvent(EventResume))
	assert.Equal(t, types.MovingToResumeState, h.state())
	assert.Equal(t, ActionResumeFromInspect, h.motion.last().Action)

	h.complete()
	snap := h.eng.Snapshot()
	assert.Equal(t, types.ExposingState, snap.State)
	assert.Equal(t, layer, snap.CurrentLayer)
	assert.Equal(t, ActionShowLayer, h.motion.last().Action)
}

func TestStaleCompletionIgnored(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.startPrint(3)
	h.completeUntil(types.ExposingState)
	stale := h.motion.last().Token

	h.handle(NewEvent(EventPause))
	err := h.eng.Handle(context.Background(), Completion(EventExposureStarted, stale))
	assert.ErrorIs(t, err, ErrStaleEvent)
	assert.Equal(t, types.MovingToPauseState, h.state())
}

func TestFaultDuringSeparating(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.startPrint(3)
	h.completeUntil(types.SeparatingState)

	h.handle(FaultEvent(faults.NewFault(faults.MotorTimeoutError, 5, "", 3)))

	snap := h.eng.Snapshot()
	assert.Equal(t, types.ErrorState, snap.State)
	assert.True(t, snap.IsError)
	assert.Equal(t, int(faults.MotorTimeoutError), snap.ErrorCode)
	assert.Equal(t, 5, snap.Errno)
	assert.Equal(t, 3, snap.NumLayers, "print stays visible while in Error")
	assert.Equal(t, "Timeout waiting for motor response, status: 3", h.errs.GetLastError())

	// 已在 Error 時的故障只更新錯誤碼
	h.rec.reset()
	h.handle(FaultEvent(faults.Fault{Code: faults.MotorError, Errno: 7}))
	require.Len(t, h.rec.snaps, 1)
	assert.Equal(t, types.NoChange, h.rec.snaps[0].Change)
	assert.Equal(t, int(faults.MotorError), h.eng.Snapshot().ErrorCode)
	assert.Equal(t, "Motor error", h.errs.GetLastError())

	h.handle(NewEvent(EventReset))
	snap = h.eng.Snapshot()
	assert.Equal(t, types.InitializingState, snap.State)
	assert.False(t, snap.IsError)
	assert.Zero(t, snap.ErrorCode)
	assert.Zero(t, snap.NumLayers)
	assert.Empty(t, h.errs.GetLastError())
}

func TestErrorClearedByDoorCycle(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.toHome()
	h.handle(FaultEvent(faults.NewFault(faults.MotorError, 0, "", faults.NoExtra)))
	require.Equal(t, types.ErrorState, h.state())

	h.handle(NewEvent(EventDoorOpened))
	assert.False(t, h.eng.Snapshot().IsError)
	h.handle(NewEvent(EventDoorClosed))
	assert.Equal(t, types.HomingState, h.state())
	h.complete()
	assert.Equal(t, types.HomeState, h.state())
}

func TestCancelPath(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.startPrint(3)
	h.completeUntil(types.PressingState)

	h.handle(NewEvent(EventCancel))
	assert.Equal(t, types.ConfirmCancelState, h.state())

	h.handle(NewEvent(EventResume))
	assert.Equal(t, types.PressingState, h.state())

	h.handle(NewEvent(EventCancel))
	h.handle(NewEvent(EventConfirmCancel))
	assert.Equal(t, types.AwaitingCancelationState, h.state())
	assert.Equal(t, ActionGoHome, h.motion.last().Action)

	h.complete()
	snap := h.eng.Snapshot()
	assert.Equal(t, types.HomeState, snap.State)
	assert.Equal(t, types.PrintCanceled, snap.SubState)
	assert.Zero(t, snap.NumLayers)
}

func TestCancelDismissReturnsToPaused(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.startPrint(3)
	h.completeUntil(types.ApproachingState)
	h.handle(NewEvent(EventPause))
	h.complete()
	require.Equal(t, types.PausedState, h.state())

	h.handle(NewEvent(EventCancel))
	h.handle(NewEvent(EventDismiss))
	assert.Equal(t, types.PausedState, h.state())
}

func TestJamRecovery(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.startPrint(3)
	h.completeUntil(types.SeparatingState)

	h.handle(JamEvent(faults.NewFault(faults.MotorTimeoutError, 0, "", 1)))
	assert.Equal(t, types.JammedState, h.state())

	h.handle(NewEvent(EventResume))
	assert.Equal(t, types.UnjammingState, h.state())
	assert.Equal(t, ActionRecoverFromJam, h.motion.last().Action)

	h.complete()
	assert.Equal(t, types.SeparatingState, h.state())
	assert.Equal(t, ActionSeparate, h.motion.last().Action)
}

func TestJamEscalatesAfterMaxTries(t *testing.T) {
	h := newHarness(t, Config{MaxUnjamTries: 3, LayerSeconds: 1})
	h.startPrint(3)
	h.completeUntil(types.SeparatingState)

	h.handle(JamEvent(faults.Fault{Code: faults.MotorTimeoutError}))
	h.handle(NewEvent(EventResume))

	// 第 2、3 次嘗試：仍在 Unjamming，重新派送 RecoverFromJam
	for try := 2; try <= 3; try++ {
		before := len(h.motion.cmds)
		h.handle(JamEvent(faults.Fault{Code: faults.MotorTimeoutError}))
		assert.Equal(t, types.UnjammingState, h.state())
		require.Len(t, h.motion.cmds, before+1)
		assert.Equal(t, ActionRecoverFromJam, h.motion.last().Action)
	}

	h.handle(JamEvent(faults.Fault{Code: faults.MotorTimeoutError}))
	snap := h.eng.Snapshot()
	assert.Equal(t, types.ErrorState, snap.State)
	assert.Equal(t, int(faults.MotorError), snap.ErrorCode)
}

func TestDoorOpenDuringPrintReturnsToInterruptedState(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.startPrint(3)
	h.completeUntil(types.PrintingLayerState)

	h.handle(NewEvent(EventDoorOpened))
	assert.Equal(t, types.DoorOpenState, h.state())
	assert.True(t, h.eng.Snapshot().Printing())

	h.handle(NewEvent(EventDoorClosed))
	assert.Equal(t, types.PrintingLayerState, h.state())
	assert.Equal(t, ActionExpose, h.motion.last().Action)
}

func TestDoorOpenFromHomeCarriesPrintData(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.toHome()
	h.loadPrint(10)

	h.handle(NewEvent(EventDoorOpened))
	assert.Equal(t, types.LoadedPrintData, h.eng.Snapshot().SubState)

	h.handle(NewEvent(EventDoorClosed))
	h.complete()
	snap := h.eng.Snapshot()
	assert.Equal(t, types.HomeState, snap.State)
	assert.Equal(t, types.HavePrintData, snap.SubState)
}

func TestDoorOpenWhileCanceling(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.startPrint(3)
	h.completeUntil(types.PressingState)
	h.handle(NewEvent(EventCancel))
	h.handle(NewEvent(EventConfirmCancel))

	h.handle(NewEvent(EventDoorOpened))
	assert.Equal(t, types.PrintCanceled, h.eng.Snapshot().SubState)

	h.handle(NewEvent(EventDoorClosed))
	assert.Equal(t, types.HomingState, h.state())
	assert.Equal(t, types.PrintCanceled, h.eng.Snapshot().SubState)
	h.complete()
	assert.Equal(t, types.PrintCanceled, h.eng.Snapshot().SubState)
}

func TestMaintenanceDetours(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.toHome()

	h.handle(NewEvent(EventCalibrate))
	assert.Equal(t, types.CalibratingState, h.state())
	h.handle(NewEvent(EventDismiss))
	assert.Equal(t, types.HomeState, h.state())

	h.handle(NewEvent(EventStartRegistration))
	assert.Equal(t, types.RegisteringState, h.state())
	h.handle(NewEvent(EventRegistered))
	snap := h.eng.Snapshot()
	assert.Equal(t, types.HomeState, snap.State)
	assert.Equal(t, types.Registered, snap.SubState)

	err := h.eng.Handle(context.Background(), NewEvent(EventUpgradeProjector))
	assert.ErrorIs(t, err, ErrEventRejected)

	h.handle(UpgradeCapabilityEvent(true))
	h.handle(NewEvent(EventUpgradeProjector))
	assert.Equal(t, types.ConfirmUpgradeState, h.state())
	h.handle(NewEvent(EventConfirm))
	assert.Equal(t, types.UpgradingProjectorState, h.state())
	assert.Equal(t, ActionUpgradeProjector, h.motion.last().Action)
	h.complete()
	assert.Equal(t, types.UpgradeCompleteState, h.state())
	h.handle(NewEvent(EventDismiss))
	assert.Equal(t, types.HomeState, h.state())
}

func TestUpgradeFromVersionScreenReturnsHome(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.toHome()

	h.handle(NewEvent(EventShowVersion))
	err := h.eng.Handle(context.Background(), NewEvent(EventUpgradeProjector))
	assert.ErrorIs(t, err, ErrEventRejected, "not capable yet")

	h.handle(UpgradeCapabilityEvent(true))
	h.handle(NewEvent(EventUpgradeProjector))
	assert.Equal(t, types.ConfirmUpgradeState, h.state())

	h.handle(NewEvent(EventCancel))
	assert.Equal(t, types.HomeState, h.state())
}

func TestMaintenanceFromDoorClosed(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.handle(NewEvent(EventDoorClosed))

	h.handle(NewEvent(EventShowVersion))
	assert.Equal(t, types.ShowingVersionState, h.state())
	h.handle(NewEvent(EventDismiss))
	assert.Equal(t, types.DoorClosedState, h.state())
}

func TestInvalidEventsRejected(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.toHome()
	h.rec.reset()

	for _, ev := range []Event{
		NewEvent(EventPause),
		NewEvent(EventResume),
		NewEvent(EventConfirmCancel),
		NewEvent(EventExposed),
		RateEvent(types.Failed),
		NewEvent(EventType("bogus")),
	} {
		err := h.eng.Handle(context.Background(), ev)
		assert.ErrorIs(t, err, ErrEventRejected, "event %s", ev.Type)
	}
	assert.Equal(t, types.HomeState, h.state())
	assert.Empty(t, h.rec.snaps, "rejected events publish nothing")
}

func TestStartPrintWithoutData(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.toHome()

	err := h.eng.Handle(context.Background(), NewEvent(EventStartPrint))
	assert.ErrorIs(t, err, ErrEventRejected)
	require.Len(t, h.rep.calls, 1)
	assert.Equal(t, faults.NoValidPrintDataAvailable, h.rep.calls[0].code)
	assert.False(t, h.rep.calls[0].fatal)
}

func TestSubStateOutsideHome(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.startPrint(3)
	h.completeUntil(types.ExposingState)

	err := h.eng.Handle(context.Background(), NewEvent(EventWiFiConnecting))
	assert.ErrorIs(t, err, ErrEventRejected)
	require.Len(t, h.rep.calls, 1)
	assert.Equal(t, faults.IllegalStateForUISubState, h.rep.calls[0].code)
	assert.Equal(t, "Exposing", h.rep.calls[0].context)
}

func TestSubStateEventsInHome(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.toHome()

	h.handle(NewEvent(EventDownloadingPrintData))
	snap := h.eng.Snapshot()
	assert.Equal(t, types.DownloadingPrintData, snap.SubState)
	assert.Equal(t, types.NoChange, snap.Change)
	assert.False(t, snap.CanLoadPrintData)

	h.handle(USBFileEvent("part.tar.gz"))
	snap = h.eng.Snapshot()
	assert.Equal(t, types.USBDriveFileFound, snap.SubState)
	assert.Equal(t, "part.tar.gz", snap.USBDriveFileName)

	h.handle(LoadedEvent(0, "empty", "", "empty.tar.gz"))
	assert.Equal(t, types.PrintDataLoadFailed, h.eng.Snapshot().SubState)
	require.NotEmpty(t, h.rep.calls)
	assert.Equal(t, faults.InvalidPrintData, h.rep.calls[len(h.rep.calls)-1].code)
}

func TestCanLoadFollowsPrintDataScreens(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	assert.False(t, h.eng.Snapshot().CanLoadPrintData, "not before Home")
	h.toHome()

	h.handle(NewEvent(EventDoorOpened))
	snap := h.eng.Snapshot()
	assert.Equal(t, types.DoorOpenState, snap.State)
	assert.True(t, snap.CanLoadPrintData, "kept while the door is open")

	h.handle(NewEvent(EventDownloadingPrintData))
	assert.False(t, h.eng.Snapshot().CanLoadPrintData)
	h.handle(NewEvent(EventPrintDownloadFailed))
	assert.True(t, h.eng.Snapshot().CanLoadPrintData)

	h.handle(NewEvent(EventDoorClosed))
	h.completeUntil(types.HomeState)
	h.loadPrint(2)
	assert.True(t, h.eng.Snapshot().CanLoadPrintData)

	h.rec.reset()
	h.handle(NewEvent(EventStartPrint))
	require.NotEmpty(t, h.rec.snaps)
	leaving := h.rec.snaps[0]
	assert.Equal(t, types.Leaving, leaving.Change)
	assert.Equal(t, types.HomeState, leaving.State)
	assert.False(t, leaving.CanLoadPrintData)
	assert.False(t, h.eng.Snapshot().CanLoadPrintData)
}

func TestOverheatDuringPrint(t *testing.T) {
	h := newHarness(t, Config{MaxUnjamTries: 3, LayerSeconds: 1, MaxTemperature: 50})
	h.toHome()
	h.handle(TemperatureEvent(45))
	h.loadPrint(3)
	h.handle(NewEvent(EventStartPrint))
	h.completeUntil(types.PressingState)

	h.handle(TemperatureEvent(60))
	snap := h.eng.Snapshot()
	assert.Equal(t, types.ErrorState, snap.State)
	assert.Equal(t, int(faults.OverHeated), snap.ErrorCode)
	assert.Equal(t, "Printer temperature (60.0C) is too high", h.errs.GetLastError())
}

func TestTemperatureAtHomeDoesNotFault(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.toHome()
	h.rec.reset()
	h.handle(TemperatureEvent(80))
	assert.Equal(t, types.HomeState, h.state())
	assert.Equal(t, 80.0, h.eng.Snapshot().Temperature)
	assert.Equal(t, []step{{types.NoChange, types.HomeState}}, h.rec.steps())

	// 相同讀數不再發佈
	h.handle(TemperatureEvent(80))
	assert.Len(t, h.rec.snaps, 1)
}

func TestTemperaturePublishedImmediately(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.handle(TemperatureEvent(31.5))

	snap := h.eng.Snapshot()
	assert.Equal(t, types.PrinterOnState, snap.State)
	assert.Equal(t, types.NoChange, snap.Change)
	assert.Equal(t, 31.5, snap.Temperature)
}

func TestUpgradeCapabilityPublished(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.toHome()
	h.rec.reset()

	h.handle(UpgradeCapabilityEvent(true))
	assert.True(t, h.eng.Snapshot().CanUpgradeProjector)
	require.Len(t, h.rec.snaps, 1)
	assert.Equal(t, types.NoChange, h.rec.snaps[0].Change)

	h.handle(UpgradeCapabilityEvent(true))
	assert.Len(t, h.rec.snaps, 1)

	h.handle(UpgradeCapabilityEvent(false))
	assert.False(t, h.eng.Snapshot().CanUpgradeProjector)
	assert.Len(t, h.rec.snaps, 2)
}

func TestLocalJobIDUnique(t *testing.T) {
	a := newHarness(t, DefaultConfig())
	b := newHarness(t, DefaultConfig())

	assert.NotEqual(t, a.eng.LocalJobID(), b.eng.LocalJobID())

	id := a.eng.LocalJobID()
	a.startPrint(1)
	assert.Equal(t, id, a.eng.Snapshot().LocalJobID)
}

func TestSnapshotIsACopy(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.startPrint(4)
	h.complete()

	s := h.eng.Snapshot()
	s.CurrentLayer = 99
	s.State = types.ErrorState
	assert.Equal(t, 1, h.eng.Snapshot().CurrentLayer)
	assert.Equal(t, types.InitializingLayerState, h.eng.Snapshot().State)
}

func TestConcurrentSnapshotReads(t *testing.T) {
	h := newHarness(t, DefaultConfig())

	stop := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				s := h.eng.Snapshot()
				assert.NoError(t, s.Validate())
			}
		}()
	}

	h.startPrint(5)
	h.completeUntil(types.GettingFeedbackState)
	close(stop)
	wg.Wait()
}

func TestActionCompletionEvents(t *testing.T) {
	assert.Equal(t, EventInitialized, ActionInitializeHardware.CompletionEvent())
	assert.Equal(t, EventDelayEnded, ActionPreExposureDelay.CompletionEvent())
	assert.Equal(t, EventMotionCompleted, ActionSeparate.CompletionEvent())
	assert.Equal(t, "recover_from_jam", ActionRecoverFromJam.String())
	assert.Equal(t, "unknown", Action(99).String())
}

func TestParseAction(t *testing.T) {
	a, ok := ParseAction("expose")
	require.True(t, ok)
	assert.Equal(t, ActionExpose, a)

	for _, name := range []string{"none", "", "unknown", "Expose"} {
		_, ok := ParseAction(name)
		assert.False(t, ok, name)
	}
}
