package engine

import (
	"github.com/ChuLiYu/ember-engine/pkg/types"
)

// Action 進入狀態時交給動作層執行的高階命令
type Action int

const (
	ActionNone Action = iota
	ActionInitializeHardware
	ActionGoHome
	ActionMoveToStartPosition
	ActionLoadLayer
	ActionPress
	ActionPressDelay
	ActionUnpress
	ActionPreExposureDelay
	ActionShowLayer
	ActionExpose
	ActionSeparate
	ActionApproach
	ActionCheckLayer
	ActionPauseAndInspect
	ActionResumeFromInspect
	ActionRecoverFromJam
	ActionUpgradeProjector
)

var actionNames = [...]string{
	ActionNone:                "none",
	ActionInitializeHardware:  "initialize_hardware",
	ActionGoHome:              "go_home",
	ActionMoveToStartPosition: "move_to_start_position",
	ActionLoadLayer:           "load_layer",
	ActionPress:               "press",
	ActionPressDelay:          "press_delay",
	ActionUnpress:             "unpress",
	ActionPreExposureDelay:    "pre_exposure_delay",
	ActionShowLayer:           "show_layer",
	ActionExpose:              "expose",
	ActionSeparate:            "separate",
	ActionApproach:            "approach",
	ActionCheckLayer:          "check_layer",
	ActionPauseAndInspect:     "pause_and_inspect",
	ActionResumeFromInspect:   "resume_from_inspect",
	ActionRecoverFromJam:      "recover_from_jam",
	ActionUpgradeProjector:    "upgrade_projector",
}

func (a Action) String() string {
	if a < 0 || int(a) >= len(actionNames) {
		return "unknown"
	}
	return actionNames[a]
}

// ParseAction 依名稱（如 "expose"）取得動作
func ParseAction(name string) (Action, bool) {
	for i, n := range actionNames {
		if n == name && Action(i) != ActionNone {
			return Action(i), true
		}
	}
	return ActionNone, false
}

// CompletionEvent 動作成功完成時應送回引擎的事件種類
func (a Action) CompletionEvent() EventType {
	switch a {
	case ActionInitializeHardware:
		return EventInitialized
	case ActionLoadLayer:
		return EventLayerLoaded
	case ActionPressDelay, ActionPreExposureDelay:
		return EventDelayEnded
	case ActionShowLayer:
		return EventExposureStarted
	case ActionExpose:
		return EventExposed
	case ActionCheckLayer:
		return EventLayerChecked
	case ActionUpgradeProjector:
		return EventUpgradeCompleted
	default:
		return EventMotionCompleted
	}
}

// Command 派送給動作層的命令
type Command struct {
	Action Action
	Token  uint64 // 完成事件必須帶回相同 Token，否則視為過期
	Layer  int
}

// Motion 動作層（馬達、計時器、投影機）
//
// Dispatch 不可阻塞；完成或故障以事件形式非同步送回。
type Motion interface {
	Dispatch(cmd Command)
}

// Listener 接收每一份發佈的快照
//
// 在引擎的事件 goroutine 上同步呼叫，不可阻塞。
type Listener interface {
	OnStatus(snapshot types.StatusSnapshot)
}

// ListenerFunc 函式型 Listener
type ListenerFunc func(snapshot types.StatusSnapshot)

func (f ListenerFunc) OnStatus(snapshot types.StatusSnapshot) { f(snapshot) }

// Settings 列印設定（工作名稱、列印檔案）
type Settings interface {
	GetString(key string) string
	SetString(key, value string)
}

// entryActions 進入各狀態時派送的動作
var entryActions = map[types.PrintEngineState]Action{
	types.InitializingState:          ActionInitializeHardware,
	types.HomingState:                ActionGoHome,
	types.AwaitingCancelationState:   ActionGoHome,
	types.MovingToStartPositionState: ActionMoveToStartPosition,
	types.InitializingLayerState:     ActionLoadLayer,
	types.PressingState:              ActionPress,
	types.PressDelayState:            ActionPressDelay,
	types.UnpressingState:            ActionUnpress,
	types.PreExposureDelayState:      ActionPreExposureDelay,
	types.ExposingState:              ActionShowLayer,
	types.PrintingLayerState:         ActionExpose,
	types.SeparatingState:            ActionSeparate,
	types.ApproachingState:           ActionApproach,
	types.GettingFeedbackState:       ActionCheckLayer,
	types.MovingToPauseState:         ActionPauseAndInspect,
	types.MovingToResumeState:        ActionResumeFromInspect,
	types.UnjammingState:             ActionRecoverFromJam,
	types.UpgradingProjectorState:    ActionUpgradeProjector,
}
