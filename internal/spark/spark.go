// ============================================================================
// 雲端狀態轉換
// ============================================================================
//
// Package: internal/spark
// 文件: spark.go
// 功能: 將 (狀態, 子狀態) 轉為雲端服務使用的印表機狀態與工作狀態字串
//
// 兩張對照表都以 types.StatusKey 為鍵，在套件載入時建立，之後唯讀。
//
// ============================================================================

package spark

import (
	"github.com/ChuLiYu/ember-engine/internal/faults"
	"github.com/ChuLiYu/ember-engine/internal/settings"
	"github.com/ChuLiYu/ember-engine/pkg/types"
)

// 印表機狀態
const (
	PrinterReady       = "ready"
	PrinterBusy        = "busy"
	PrinterPrinting    = "printing"
	PrinterPaused      = "paused"
	PrinterMaintenance = "maintenance"
	PrinterError       = "error"
)

// 工作狀態
const (
	JobNone      = "none"
	JobReceived  = "received"
	JobPrinting  = "printing"
	JobPaused    = "paused"
	JobCanceled  = "canceled"
	JobCompleted = "completed"
	JobFailed    = "failed"
)

// Settings 讀取列印檔案設定
type Settings interface {
	GetString(key string) string
}

var perLayer = []types.PrintEngineState{
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
}

type table map[types.StatusKey]string

func (t table) set(state types.PrintEngineState, sub types.UISubState, value string) {
	t[types.MustStatusKey(state, sub)] = value
}

func (t table) setAll(states []types.PrintEngineState, sub types.UISubState, value string) {
	for _, s := range states {
		t.set(s, sub, value)
	}
}

var (
	printerStates = buildPrinterStates()
	jobStates     = buildJobStates()

	// 未在列印時另有對應的鍵
	jobStatesWhenPrinting = table{
		types.MustStatusKey(types.DoorOpenState, types.NoUISubState):   JobPrinting,
		types.MustStatusKey(types.DoorOpenState, types.ClearingScreen): JobPrinting,
		types.MustStatusKey(types.DoorClosedState, types.NoUISubState): JobPrinting,
		types.MustStatusKey(types.ErrorState, types.NoUISubState):      JobFailed,
	}
)

func buildPrinterStates() table {
	t := table{}

	home := types.HomeState
	for _, sub := range []types.UISubState{
		types.NoUISubState, types.NoPrintData, types.PrintDownloadFailed,
		types.LoadedPrintData, types.PrintDataLoadFailed, types.HavePrintData,
		types.PrintCanceled, types.PrintCompleted, types.Registered,
		types.WiFiConnectionFailed, types.WiFiConnected,
	} {
		t.set(home, sub, PrinterReady)
	}
	for _, sub := range []types.UISubState{
		types.DownloadingPrintData, types.LoadingPrintData, types.WiFiConnecting,
		types.USBDriveFileFound, types.USBDriveError,
	} {
		t.set(home, sub, PrinterBusy)
	}

	t.setAll(perLayer, types.NoUISubState, PrinterPrinting)
	t.setAll(perLayer, types.AboutToPause, PrinterBusy)

	t.set(types.MovingToPauseState, types.NoUISubState, PrinterBusy)
	t.set(types.MovingToResumeState, types.NoUISubState, PrinterBusy)
	t.set(types.GettingFeedbackState, types.NoUISubState, PrinterBusy)
	t.set(types.GettingFeedbackState, types.PrintCompleted, PrinterBusy)

	t.set(types.PausedState, types.NoUISubState, PrinterPaused)
	t.set(types.ConfirmCancelState, types.NoUISubState, PrinterPaused)
	t.set(types.JammedState, types.NoUISubState, PrinterPaused)

	t.set(types.AwaitingCancelationState, types.NoUISubState, PrinterBusy)
	t.set(types.UnjammingState, types.NoUISubState, PrinterBusy)
	t.set(types.HomingState, types.NoUISubState, PrinterBusy)
	t.set(types.HomingState, types.PrintCompleted, PrinterBusy)
	t.set(types.HomingState, types.PrintCanceled, PrinterBusy)
	t.set(types.HomingState, types.Registered, PrinterBusy)

	door := types.DoorOpenState
	t.set(door, types.NoUISubState, PrinterMaintenance)
	t.set(door, types.PrintCanceled, PrinterMaintenance)
	t.set(door, types.ClearingScreen, PrinterBusy)
	t.set(door, types.LoadedPrintData, PrinterReady)
	t.set(door, types.DownloadingPrintData, PrinterBusy)
	t.set(door, types.LoadingPrintData, PrinterBusy)
	t.set(door, types.PrintDataLoadFailed, PrinterReady)
	t.set(door, types.PrintDownloadFailed, PrinterReady)

	for _, s := range []types.PrintEngineState{
		types.DoorClosedState, types.PrinterOnState, types.InitializingState,
		types.ShowingVersionState, types.RegisteringState, types.CalibratingState,
		types.DemoModeState, types.ConfirmUpgradeState, types.UpgradingProjectorState,
		types.UpgradeCompleteState,
	} {
		t.set(s, types.NoUISubState, PrinterBusy)
	}

	t.set(types.ErrorState, types.NoUISubState, PrinterError)
	return t
}

func buildJobStates() table {
	t := table{}

	home := types.HomeState
	for _, sub := range []types.UISubState{
		types.NoUISubState, types.PrintDownloadFailed, types.LoadedPrintData,
		types.PrintDataLoadFailed, types.HavePrintData, types.Registered,
		types.WiFiConnecting, types.WiFiConnectionFailed, types.WiFiConnected,
		types.USBDriveFileFound, types.USBDriveError,
	} {
		t.set(home, sub, JobReceived)
	}
	t.set(home, types.NoPrintData, JobNone)
	t.set(home, types.DownloadingPrintData, JobNone)
	t.set(home, types.LoadingPrintData, JobNone)
	t.set(home, types.PrintCompleted, JobCompleted)
	t.set(home, types.PrintCanceled, JobCanceled)

	t.setAll(perLayer, types.NoUISubState, JobPrinting)
	t.setAll(perLayer, types.AboutToPause, JobPrinting)
	t.set(types.MovingToPauseState, types.NoUISubState, JobPrinting)
	t.set(types.MovingToResumeState, types.NoUISubState, JobPrinting)

	t.set(types.PausedState, types.NoUISubState, JobPaused)
	t.set(types.ConfirmCancelState, types.NoUISubState, JobPaused)
	t.set(types.UnjammingState, types.NoUISubState, JobPaused)
	t.set(types.JammedState, types.NoUISubState, JobPaused)

	t.set(types.AwaitingCancelationState, types.NoUISubState, JobCanceled)
	t.set(types.HomingState, types.NoUISubState, JobReceived)
	t.set(types.HomingState, types.PrintCompleted, JobCompleted)
	t.set(types.HomingState, types.PrintCanceled, JobCanceled)
	t.set(types.HomingState, types.Registered, JobReceived)
	t.set(types.GettingFeedbackState, types.NoUISubState, JobPrinting)
	t.set(types.GettingFeedbackState, types.PrintCompleted, JobCompleted)

	for _, s := range []types.PrintEngineState{
		types.PrinterOnState, types.InitializingState, types.ShowingVersionState,
		types.RegisteringState,
	} {
		t.set(s, types.NoUISubState, JobReceived)
	}
	t.set(types.CalibratingState, types.NoUISubState, JobPrinting)
	for _, s := range []types.PrintEngineState{
		types.DemoModeState, types.ConfirmUpgradeState, types.UpgradingProjectorState,
		types.UpgradeCompleteState,
	} {
		t.set(s, types.NoUISubState, JobNone)
	}

	door := types.DoorOpenState
	t.set(door, types.NoUISubState, JobReceived)
	t.set(door, types.ClearingScreen, JobReceived)
	t.set(door, types.PrintCanceled, JobCanceled)
	t.set(door, types.LoadedPrintData, JobReceived)
	t.set(door, types.DownloadingPrintData, JobNone)
	t.set(door, types.LoadingPrintData, JobNone)
	t.set(door, types.PrintDataLoadFailed, JobReceived)
	t.set(door, types.PrintDownloadFailed, JobReceived)

	t.set(types.DoorClosedState, types.NoUISubState, JobReceived)
	t.set(types.ErrorState, types.NoUISubState, JobReceived)
	return t
}

// Translator 雲端狀態轉換器
type Translator struct {
	settings Settings
	reporter faults.Reporter
}

// NewTranslator 建立轉換器；reporter 為 nil 時不回報
func NewTranslator(s Settings, reporter faults.Reporter) *Translator {
	return &Translator{settings: s, reporter: reporter}
}

// PrinterState 印表機狀態；canLoad 為真時一律為 ready
//
// 找不到對應時回報 UnknownSparkStatus 並回傳空字串。
func (t *Translator) PrinterState(state types.PrintEngineState, sub types.UISubState, canLoad bool) string {
	if canLoad {
		return PrinterReady
	}
	key, err := types.NewStatusKey(state, sub)
	if err != nil || !state.IsValid() || !sub.IsValid() {
		return ""
	}
	value, ok := printerStates[key]
	if !ok {
		t.report(faults.UnknownSparkStatus, int(key))
		return ""
	}
	return value
}

// JobState 工作狀態；沒有列印檔案時為 none
//
// 找不到對應時回報 UnknownSparkJobStatus 並回傳空字串。
func (t *Translator) JobState(state types.PrintEngineState, sub types.UISubState, isPrinting bool) string {
	if t.settings != nil && t.settings.GetString(settings.PrintFile) == "" {
		return JobNone
	}
	key, err := types.NewStatusKey(state, sub)
	if err != nil || !state.IsValid() || !sub.IsValid() {
		return ""
	}
	if isPrinting {
		if value, ok := jobStatesWhenPrinting[key]; ok {
			return value
		}
	}
	value, ok := jobStates[key]
	if !ok {
		t.report(faults.UnknownSparkJobStatus, int(key))
		return ""
	}
	return value
}

func (t *Translator) report(code faults.ErrorCode, key int) {
	if t.reporter == nil {
		return
	}
	t.reporter.ReportError(code, false, "", key)
}
