// ============================================================================
// 前面板按鍵
// ============================================================================
//
// Package: internal/command
// 文件: buttons.go
// 功能: 依目前的快照把按鍵動作轉成引擎事件，並解碼前面板送出的狀態位元組
//
// 左鍵（Button1）偏向「取消 / 否」，右鍵（Button2）偏向「確定 / 繼續」。
// 同一按鍵在不同狀態下代表不同事件；沒有對應時忽略。
//
// ============================================================================

package command

import (
	"errors"
	"fmt"

	"github.com/ChuLiYu/ember-engine/internal/engine"
	"github.com/ChuLiYu/ember-engine/internal/faults"
	"github.com/ChuLiYu/ember-engine/pkg/types"
)

// 前面板狀態位元組
const (
	statusButton1Press    byte = 0x01
	statusButton1Hold     byte = 0x02
	statusButton2Press    byte = 0x04
	statusButton2Hold     byte = 0x08
	statusButtons12Press  byte = 0x05
	statusButtons12Hold   byte = 0x0A
	statusFrontPanelError byte = 0xFF
	statusButtonsMask     byte = 0x0F
)

// ErrFrontPanel 前面板回報錯誤或未知狀態
var ErrFrontPanel = errors.New("front panel status")

// StatusError 前面板狀態位元組無法使用
type StatusError struct {
	Code   faults.ErrorCode
	Status byte
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%v: 0x%02X (code=%d)", ErrFrontPanel, e.Status, int(e.Code))
}

// Is 對應 ErrFrontPanel
func (e *StatusError) Is(target error) bool {
	return target == ErrFrontPanel
}

// DecodeStatus 解碼前面板狀態位元組
//
// 0 代表沒有動作，回傳 ButtonNone 與 nil。
func DecodeStatus(b byte) (Button, error) {
	if b == statusFrontPanelError {
		return ButtonNone, &StatusError{Code: faults.FrontPanelError, Status: b}
	}
	switch b & statusButtonsMask {
	case 0:
		return ButtonNone, nil
	case statusButton1Press:
		return Button1, nil
	case statusButton1Hold:
		return Button1Hold, nil
	case statusButton2Press:
		return Button2, nil
	case statusButton2Hold:
		return Button2Hold, nil
	case statusButtons12Press:
		return Buttons1and2, nil
	case statusButtons12Hold:
		return Buttons1and2Hold, nil
	default:
		return ButtonNone, &StatusError{Code: faults.UnknownFrontPanelStatus, Status: b}
	}
}

// Interpret 依快照解讀按鍵；第二個回傳值為 false 表示忽略
func Interpret(b Button, snap types.StatusSnapshot) (engine.Event, bool) {
	switch b {
	case Button1:
		return leftButton(snap)
	case Button2:
		return rightButton(snap)
	case Button1Hold:
		if snap.State == types.HomeState || snap.State == types.ErrorState {
			return engine.NewEvent(engine.EventShowVersion), true
		}
	}
	return engine.Event{}, false
}

func leftButton(snap types.StatusSnapshot) (engine.Event, bool) {
	switch snap.State {
	case types.ErrorState:
		return engine.NewEvent(engine.EventReset), true
	case types.ConfirmCancelState:
		return engine.NewEvent(engine.EventConfirmCancel), true
	case types.GettingFeedbackState:
		if snap.SubState == types.PrintCompleted {
			return engine.RateEvent(types.Failed), true
		}
		return engine.NewEvent(engine.EventCancel), true
	case types.ConfirmUpgradeState:
		return engine.NewEvent(engine.EventCancel), true
	case types.ShowingVersionState:
		if snap.CanUpgradeProjector {
			return engine.NewEvent(engine.EventUpgradeProjector), true
		}
		return engine.Event{}, false
	case types.RegisteringState, types.CalibratingState, types.DemoModeState, types.UpgradeCompleteState:
		return engine.NewEvent(engine.EventDismiss), true
	case types.PausedState, types.JammedState, types.UnjammingState,
		types.MovingToPauseState, types.MovingToResumeState:
		return engine.NewEvent(engine.EventCancel), true
	}
	if snap.State.IsPerLayer() {
		return engine.NewEvent(engine.EventCancel), true
	}
	return engine.Event{}, false
}

func rightButton(snap types.StatusSnapshot) (engine.Event, bool) {
	switch snap.State {
	case types.ShowingVersionState, types.CalibratingState, types.DemoModeState, types.UpgradeCompleteState:
		return engine.NewEvent(engine.EventDismiss), true
	case types.ConfirmCancelState, types.PausedState, types.JammedState:
		return engine.NewEvent(engine.EventResume), true
	case types.ConfirmUpgradeState:
		return engine.NewEvent(engine.EventConfirm), true
	case types.GettingFeedbackState:
		if snap.SubState == types.PrintCompleted {
			return engine.RateEvent(types.Succeeded), true
		}
		return engine.NewEvent(engine.EventPause), true
	case types.HomeState:
		switch snap.SubState {
		case types.NoPrintData, types.DownloadingPrintData, types.LoadingPrintData, types.WiFiConnecting:
			return engine.Event{}, false
		}
		return engine.NewEvent(engine.EventStartPrint), true
	}
	if snap.State.IsPerLayer() {
		return engine.NewEvent(engine.EventPause), true
	}
	return engine.Event{}, false
}
