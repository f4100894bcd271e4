// Package types 定義了列印引擎中使用的核心領域模型
package types

import (
	"errors"
	"fmt"
)

// PrintEngineState 列印引擎頂層狀態
//
// 順序與韌體的狀態列舉保持一致，UndefinedPrintEngineState 與
// MaxPrintEngineState 為範圍哨兵值，不是合法狀態。
type PrintEngineState int

const (
	UndefinedPrintEngineState PrintEngineState = iota

	PrinterOnState
	DoorClosedState
	InitializingState
	DoorOpenState
	HomingState
	HomeState
	ErrorState
	MovingToStartPositionState
	InitializingLayerState
	PressingState
	PressDelayState
	UnpressingState
	PreExposureDelayState
	ExposingState
	PrintingLayerState
	MovingToPauseState
	PausedState
	MovingToResumeState
	SeparatingState
	ApproachingState
	GettingFeedbackState
	ConfirmCancelState
	AwaitingCancelationState
	ShowingVersionState
	CalibratingState
	RegisteringState
	UnjammingState
	JammedState
	DemoModeState
	ConfirmUpgradeState
	UpgradingProjectorState
	UpgradeCompleteState

	MaxPrintEngineState
)

// IsValid 是否落在合法範圍 (Undefined, Max)
func (s PrintEngineState) IsValid() bool {
	return s > UndefinedPrintEngineState && s < MaxPrintEngineState
}

// IsPerLayer 是否屬於每層列印循環
func (s PrintEngineState) IsPerLayer() bool {
	switch s {
	case MovingToStartPositionState, InitializingLayerState, PressingState,
		PressDelayState, UnpressingState, PreExposureDelayState, ExposingState,
		PrintingLayerState, SeparatingState, ApproachingState, GettingFeedbackState:
		return true
	}
	return false
}

// IsMaintenance 是否為維護流程（只能從 Home / DoorClosed 進入）
func (s PrintEngineState) IsMaintenance() bool {
	switch s {
	case CalibratingState, RegisteringState, ShowingVersionState, DemoModeState,
		ConfirmUpgradeState, UpgradingProjectorState, UpgradeCompleteState:
		return true
	}
	return false
}

// IsResting 是否為閒置狀態
func (s PrintEngineState) IsResting() bool {
	return s == HomeState || s == DoorClosedState
}

// UISubState UI 子狀態，補充說明頂層狀態，不取代頂層狀態
type UISubState int

const (
	NoUISubState UISubState = iota

	NoPrintData
	DownloadingPrintData
	PrintDownloadFailed
	LoadingPrintData
	LoadedPrintData
	PrintDataLoadFailed
	HavePrintData
	PrintCanceled
	PrintCompleted
	ClearingScreen
	Registered
	AboutToPause
	WiFiConnecting
	WiFiConnectionFailed
	WiFiConnected
	CalibratePrompt
	USBDriveFileFound
	USBDriveError

	MaxUISubState
)

// IsValid 是否落在合法範圍 [NoUISubState, Max)
func (u UISubState) IsValid() bool {
	return u >= NoUISubState && u < MaxUISubState
}

// StateChange 標記快照是否對應一次狀態轉換
type StateChange int

const (
	NoChange StateChange = iota
	Entering
	Leaving
)

func (c StateChange) String() string {
	switch c {
	case Entering:
		return "entering"
	case Leaving:
		return "leaving"
	default:
		return "none"
	}
}

// PrintRating 使用者對完成（或取消）列印的評價
type PrintRating int

const (
	UnknownPrintFeedback PrintRating = iota
	Succeeded
	Failed
)

func (r PrintRating) String() string {
	switch r {
	case Succeeded:
		return "succeeded"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// ============================================================================
// StatusKey
// ============================================================================

// statusKeyCapacity 每個列舉在組合鍵中可用的最大成員數（一個位元組）
const statusKeyCapacity = 256

// 編譯期檢查：任何一個列舉超過 256 個成員時陣列長度為負，編譯失敗
var (
	_ = [statusKeyCapacity - int(MaxPrintEngineState)]struct{}{}
	_ = [statusKeyCapacity - int(MaxUISubState)]struct{}{}
)

// ErrStatusKeyCapacity 狀態或子狀態超出組合鍵容量
var ErrStatusKeyCapacity = errors.New("status key component exceeds 8-bit capacity")

// StatusKey 將 (state, substate) 打包為單一整數：子狀態在高位元組，狀態在低位元組
type StatusKey uint16

// NewStatusKey 建立組合鍵，任一分量超出 [0,256) 時回傳 ErrStatusKeyCapacity
func NewStatusKey(state PrintEngineState, substate UISubState) (StatusKey, error) {
	if state < 0 || int(state) >= statusKeyCapacity {
		return 0, fmt.Errorf("%w: state %d", ErrStatusKeyCapacity, int(state))
	}
	if substate < 0 || int(substate) >= statusKeyCapacity {
		return 0, fmt.Errorf("%w: substate %d", ErrStatusKeyCapacity, int(substate))
	}
	return StatusKey(uint16(substate)<<8 | uint16(state)), nil
}

// MustStatusKey 同 NewStatusKey，溢位時 panic，只用於套件載入時建立的靜態表
func MustStatusKey(state PrintEngineState, substate UISubState) StatusKey {
	key, err := NewStatusKey(state, substate)
	if err != nil {
		panic(err)
	}
	return key
}

// State 取出低位元組的狀態
func (k StatusKey) State() PrintEngineState { return PrintEngineState(k & 0xFF) }

// SubState 取出高位元組的子狀態
func (k StatusKey) SubState() UISubState { return UISubState(k >> 8) }

// ============================================================================
// StatusSnapshot
// ============================================================================

// ErrInvalidSnapshot 快照違反不變量
var ErrInvalidSnapshot = errors.New("invalid status snapshot")

// StatusSnapshot 某一時刻完整的機器狀態
//
// 由引擎的事件 goroutine 獨佔修改；發佈出去的副本不可再修改。
type StatusSnapshot struct {
	State    PrintEngineState `json:"state"`
	SubState UISubState       `json:"sub_state"`
	Change   StateChange      `json:"change"`

	IsError      bool   `json:"is_error"`
	ErrorCode    int    `json:"error_code"`
	Errno        int    `json:"errno"`
	ErrorMessage string `json:"error_message"` // 發佈當下的錯誤訊息

	CurrentLayer              int         `json:"current_layer"`
	NumLayers                 int         `json:"num_layers"`
	EstimatedSecondsRemaining int         `json:"estimated_seconds_remaining"`
	Temperature               float64     `json:"temperature"`
	PrintRating               PrintRating `json:"print_rating"`

	USBDriveFileName string `json:"usb_drive_file_name"`
	JobID            string `json:"job_id"`
	LocalJobID       string `json:"local_job_id"`

	CanLoadPrintData    bool `json:"can_load_print_data"`
	CanUpgradeProjector bool `json:"can_upgrade_projector"`
}

// Validate 檢查快照不變量
func (s StatusSnapshot) Validate() error {
	if !s.State.IsValid() {
		return fmt.Errorf("%w: state %d out of range", ErrInvalidSnapshot, int(s.State))
	}
	if !s.SubState.IsValid() {
		return fmt.Errorf("%w: substate %d out of range", ErrInvalidSnapshot, int(s.SubState))
	}
	if s.NumLayers < 0 {
		return fmt.Errorf("%w: negative layer count %d", ErrInvalidSnapshot, s.NumLayers)
	}
	if s.NumLayers > 0 && (s.CurrentLayer < 0 || s.CurrentLayer > s.NumLayers) {
		return fmt.Errorf("%w: layer %d of %d", ErrInvalidSnapshot, s.CurrentLayer, s.NumLayers)
	}
	return nil
}

// Printing 是否有進行中的列印
func (s StatusSnapshot) Printing() bool {
	return s.NumLayers > 0
}
