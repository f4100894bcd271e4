package engine

// ============================================================================
// 轉換表
// 職責：以 looplab/fsm 描述所有合法的 (來源狀態, 事件) → 目標狀態
//
// 動態目標（回到被中斷的狀態、回到維護流程的起點）以 "return:<State>"
// 事件表示，每個可回到的狀態各有一個事件。
// ============================================================================

import (
	"github.com/looplab/fsm"

	"github.com/ChuLiYu/ember-engine/internal/registry"
	"github.com/ChuLiYu/ember-engine/pkg/types"
)

const (
	fsmDoorClosed       = "door_closed"
	fsmDoorOpened       = "door_opened"
	fsmRehome           = "rehome"
	fsmReset            = "reset"
	fsmInitialized      = "initialized"
	fsmMotionCompleted  = "motion_completed"
	fsmLayerLoaded      = "layer_loaded"
	fsmDelayEnded       = "delay_ended"
	fsmExposureStarted  = "exposure_started"
	fsmExposed          = "exposed"
	fsmNextLayer        = "next_layer"
	fsmFinishPrint      = "finish_print"
	fsmStartPrint       = "start_print"
	fsmPause            = "pause"
	fsmResume           = "resume"
	fsmCancel           = "cancel"
	fsmConfirmCancel    = "confirm_cancel"
	fsmFault            = "fault"
	fsmJam              = "jam"
	fsmCalibrate        = "calibrate"
	fsmRegister         = "register"
	fsmShowVersion      = "show_version"
	fsmDemo             = "demo"
	fsmUpgrade          = "upgrade"
	fsmConfirmUpgrade   = "confirm_upgrade"
	fsmUpgradeCompleted = "upgrade_completed"

	returnPrefix = "return:"
)

// perLayerStates 每層列印循環
var perLayerStates = []types.PrintEngineState{
	types.MovingToStartPositionState,
	types.InitializingLayerState,
	types.PressingState,
	types.PressDelayState,
	types.UnpressingState,
	types.PreExposureDelayState,
	types.ExposingState,
	types.PrintingLayerState,
	types.SeparatingState,
	types.ApproachingState,
	types.GettingFeedbackState,
}

var restingStates = []types.PrintEngineState{types.HomeState, types.DoorClosedState}

// returnTargets 可以被「回到」的狀態
var returnTargets = append(append([]types.PrintEngineState{
	types.PausedState,
	types.JammedState,
	types.ConfirmCancelState,
}, restingStates...), perLayerStates...)

// returnSources 會回到先前記錄狀態的來源
var returnSources = []types.PrintEngineState{
	types.MovingToResumeState,
	types.UnjammingState,
	types.ConfirmCancelState,
	types.DoorOpenState,
	types.CalibratingState,
	types.RegisteringState,
	types.ShowingVersionState,
	types.DemoModeState,
	types.ConfirmUpgradeState,
	types.UpgradeCompleteState,
}

func name(s types.PrintEngineState) string {
	n, _ := registry.LookupState(s)
	return n
}

func names(states ...types.PrintEngineState) []string {
	out := make([]string, 0, len(states))
	for _, s := range states {
		out = append(out, name(s))
	}
	return out
}

func except(excluded ...types.PrintEngineState) []types.PrintEngineState {
	skip := make(map[types.PrintEngineState]bool, len(excluded))
	for _, s := range excluded {
		skip[s] = true
	}
	var out []types.PrintEngineState
	for _, s := range registry.States() {
		if !skip[s] {
			out = append(out, s)
		}
	}
	return out
}

func returnEvent(target types.PrintEngineState) string {
	return returnPrefix + name(target)
}

// transitionTable 建立 looplab/fsm 的事件描述
func transitionTable() fsm.Events {
	cancellable := append([]types.PrintEngineState{types.PausedState, types.JammedState}, perLayerStates...)

	events := fsm.Events{
		// 開機與門
		{Name: fsmDoorClosed, Src: names(types.PrinterOnState), Dst: name(types.DoorClosedState)},
		{Name: fsmDoorOpened, Src: names(except(types.DoorOpenState, types.UpgradingProjectorState)...), Dst: name(types.DoorOpenState)},
		{Name: fsmRehome, Src: names(types.DoorOpenState), Dst: name(types.HomingState)},
		{Name: fsmReset, Src: names(types.DoorClosedState, types.ErrorState, types.HomeState), Dst: name(types.InitializingState)},
		{Name: fsmInitialized, Src: names(types.InitializingState), Dst: name(types.HomingState)},

		// 動作完成
		{Name: fsmMotionCompleted, Src: names(types.HomingState, types.AwaitingCancelationState), Dst: name(types.HomeState)},
		{Name: fsmMotionCompleted, Src: names(types.MovingToStartPositionState), Dst: name(types.InitializingLayerState)},
		{Name: fsmMotionCompleted, Src: names(types.PressingState), Dst: name(types.PressDelayState)},
		{Name: fsmMotionCompleted, Src: names(types.UnpressingState), Dst: name(types.PreExposureDelayState)},
		{Name: fsmMotionCompleted, Src: names(types.SeparatingState), Dst: name(types.ApproachingState)},
		{Name: fsmMotionCompleted, Src: names(types.ApproachingState), Dst: name(types.GettingFeedbackState)},
		{Name: fsmMotionCompleted, Src: names(types.MovingToPauseState), Dst: name(types.PausedState)},

		// 每層循環
		{Name: fsmStartPrint, Src: names(types.HomeState), Dst: name(types.MovingToStartPositionState)},
		{Name: fsmLayerLoaded, Src: names(types.InitializingLayerState), Dst: name(types.PressingState)},
		{Name: fsmDelayEnded, Src: names(types.PressDelayState), Dst: name(types.UnpressingState)},
		{Name: fsmDelayEnded, Src: names(types.PreExposureDelayState), Dst: name(types.ExposingState)},
		{Name: fsmExposureStarted, Src: names(types.ExposingState), Dst: name(types.PrintingLayerState)},
		{Name: fsmExposed, Src: names(types.PrintingLayerState), Dst: name(types.SeparatingState)},
		{Name: fsmNextLayer, Src: names(types.GettingFeedbackState), Dst: name(types.InitializingLayerState)},
		{Name: fsmFinishPrint, Src: names(types.GettingFeedbackState), Dst: name(types.HomingState)},

		// 暫停與取消
		{Name: fsmPause, Src: names(perLayerStates...), Dst: name(types.MovingToPauseState)},
		{Name: fsmResume, Src: names(types.PausedState), Dst: name(types.MovingToResumeState)},
		{Name: fsmResume, Src: names(types.JammedState), Dst: name(types.UnjammingState)},
		{Name: fsmCancel, Src: names(cancellable...), Dst: name(types.ConfirmCancelState)},
		{Name: fsmConfirmCancel, Src: names(types.ConfirmCancelState), Dst: name(types.AwaitingCancelationState)},

		// 故障
		{Name: fsmFault, Src: names(except(types.ErrorState)...), Dst: name(types.ErrorState)},
		{Name: fsmJam, Src: names(append([]types.PrintEngineState{types.MovingToPauseState, types.MovingToResumeState}, perLayerStates...)...), Dst: name(types.JammedState)},

		// 維護流程
		{Name: fsmCalibrate, Src: names(restingStates...), Dst: name(types.CalibratingState)},
		{Name: fsmRegister, Src: names(restingStates...), Dst: name(types.RegisteringState)},
		{Name: fsmShowVersion, Src: names(restingStates...), Dst: name(types.ShowingVersionState)},
		{Name: fsmDemo, Src: names(restingStates...), Dst: name(types.DemoModeState)},
		{Name: fsmUpgrade, Src: names(append([]types.PrintEngineState{types.ShowingVersionState}, restingStates...)...), Dst: name(types.ConfirmUpgradeState)},
		{Name: fsmConfirmUpgrade, Src: names(types.ConfirmUpgradeState), Dst: name(types.UpgradingProjectorState)},
		{Name: fsmUpgradeCompleted, Src: names(types.UpgradingProjectorState), Dst: name(types.UpgradeCompleteState)},
	}

	for _, target := range returnTargets {
		var src []types.PrintEngineState
		for _, s := range returnSources {
			if s != target {
				src = append(src, s)
			}
		}
		events = append(events, fsm.EventDesc{Name: returnEvent(target), Src: names(src...), Dst: name(target)})
	}

	return events
}
