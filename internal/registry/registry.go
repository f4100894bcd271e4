// ============================================================================
// 狀態名稱登錄表
// ============================================================================
//
// Package: internal/registry
// 文件: registry.go
// 功能: 狀態 / 子狀態識別碼與顯示名稱之間的雙向對應
//
// 設計:
//   - 名稱表為以列舉序號為索引的陣列常值，編譯期即完整，
//     不存在「第一次讀取時才建立」的競態
//   - 反向查詢表由套件層級初始化建立，在 main 執行前完成
//   - 超出範圍的識別碼回報 UnknownPrintEngineState /
//     UnknownPrintEngineSubState 並回傳空字串，永不 panic
//
// ============================================================================

package registry

import (
	"github.com/ChuLiYu/ember-engine/internal/faults"
	"github.com/ChuLiYu/ember-engine/pkg/types"
)

var stateNames = [types.MaxPrintEngineState]string{
	types.PrinterOnState:             "PrinterOn",
	types.DoorClosedState:            "DoorClosed",
	types.InitializingState:          "Initializing",
	types.DoorOpenState:              "DoorOpen",
	types.HomingState:                "Homing",
	types.HomeState:                  "Home",
	types.ErrorState:                 "Error",
	types.MovingToStartPositionState: "MovingToStartPosition",
	types.InitializingLayerState:     "InitializingLayer",
	types.PressingState:              "Pressing",
	types.PressDelayState:            "PressDelay",
	types.UnpressingState:            "Unpressing",
	types.PreExposureDelayState:      "PreExposureDelay",
	types.ExposingState:              "Exposing",
	types.PrintingLayerState:         "PrintingLayer",
	types.MovingToPauseState:         "MovingToPause",
	types.PausedState:                "Paused",
	types.MovingToResumeState:        "MovingToResume",
	types.SeparatingState:            "Separating",
	types.ApproachingState:           "Approaching",
	types.GettingFeedbackState:       "GettingFeedback",
	types.ConfirmCancelState:         "ConfirmCancel",
	types.AwaitingCancelationState:   "AwaitingCancelation",
	types.ShowingVersionState:        "ShowingVersion",
	types.CalibratingState:           "Calibrating",
	types.RegisteringState:           "Registering",
	types.UnjammingState:             "Unjamming",
	types.JammedState:                "Jammed",
	types.DemoModeState:              "DemoMode",
	types.ConfirmUpgradeState:        "ConfirmUpgrade",
	types.UpgradingProjectorState:    "UpgradingProjector",
	types.UpgradeCompleteState:       "UpgradeComplete",
}

var subStateNames = [types.MaxUISubState]string{
	types.NoUISubState:         "NoUISubState",
	types.NoPrintData:          "NoPrintData",
	types.DownloadingPrintData: "DownloadingPrintData",
	types.PrintDownloadFailed:  "PrintDownloadFailed",
	types.LoadingPrintData:     "LoadingPrintData",
	types.LoadedPrintData:      "LoadedPrintData",
	types.PrintDataLoadFailed:  "PrintDataLoadFailed",
	types.HavePrintData:        "HavePrintData",
	types.PrintCanceled:        "PrintCanceled",
	types.PrintCompleted:       "PrintCompleted",
	types.ClearingScreen:       "ClearingScreen",
	types.Registered:           "Registered",
	types.AboutToPause:         "AboutToPause",
	types.WiFiConnecting:       "WiFiConnecting",
	types.WiFiConnectionFailed: "WiFiConnectionFailed",
	types.WiFiConnected:        "WiFiConnected",
	types.CalibratePrompt:      "CalibratePrompt",
	types.USBDriveFileFound:    "USBDriveFileFound",
	types.USBDriveError:        "USBDriveError",
}

var (
	stateIDs    = reverse(stateNames[:], func(i int) types.PrintEngineState { return types.PrintEngineState(i) })
	subStateIDs = reverse(subStateNames[:], func(i int) types.UISubState { return types.UISubState(i) })
)

func reverse[T any](names []string, conv func(int) T) map[string]T {
	m := make(map[string]T, len(names))
	for i, name := range names {
		if name == "" {
			continue
		}
		m[name] = conv(i)
	}
	return m
}

// LookupState 查詢狀態名稱，不回報錯誤
func LookupState(s types.PrintEngineState) (string, bool) {
	if !s.IsValid() {
		return "", false
	}
	return stateNames[s], true
}

// LookupSubState 查詢子狀態名稱，不回報錯誤
func LookupSubState(u types.UISubState) (string, bool) {
	if !u.IsValid() {
		return "", false
	}
	return subStateNames[u], true
}

// ParseState 由顯示名稱取得狀態
func ParseState(name string) (types.PrintEngineState, bool) {
	s, ok := stateIDs[name]
	return s, ok
}

// ParseSubState 由顯示名稱取得子狀態
func ParseSubState(name string) (types.UISubState, bool) {
	u, ok := subStateIDs[name]
	return u, ok
}

// States 依序回傳所有合法狀態
func States() []types.PrintEngineState {
	out := make([]types.PrintEngineState, 0, int(types.MaxPrintEngineState)-1)
	for s := types.PrinterOnState; s < types.MaxPrintEngineState; s++ {
		out = append(out, s)
	}
	return out
}

// Registry 帶錯誤回報的名稱查詢
type Registry struct {
	reporter faults.Reporter
}

// New 建立 Registry，reporter 為 nil 時不回報
func New(reporter faults.Reporter) *Registry {
	return &Registry{reporter: reporter}
}

// StateName 回傳狀態顯示名稱；超出範圍時回報 UnknownPrintEngineState 並回傳 ""
func (r *Registry) StateName(s types.PrintEngineState) string {
	name, ok := LookupState(s)
	if !ok {
		r.report(faults.UnknownPrintEngineState, int(s))
		return ""
	}
	return name
}

// SubStateName 回傳子狀態顯示名稱；超出範圍時回報 UnknownPrintEngineSubState 並回傳 ""
func (r *Registry) SubStateName(u types.UISubState) string {
	name, ok := LookupSubState(u)
	if !ok {
		r.report(faults.UnknownPrintEngineSubState, int(u))
		return ""
	}
	return name
}

func (r *Registry) report(code faults.ErrorCode, id int) {
	if r == nil || r.reporter == nil {
		return
	}
	r.reporter.ReportError(code, false, "registry", id)
}
