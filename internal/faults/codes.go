package faults

// ============================================================================
// 錯誤碼目錄
// 職責：分類錯誤碼與對應的訊息格式，編號與韌體保持相容
// ============================================================================

import (
	"fmt"
	"strings"
)

// ErrorCode 已分類的錯誤碼
type ErrorCode int

const (
	Success ErrorCode = 0

	GpioInput                  ErrorCode = 12
	MotorTimeoutTimer          ErrorCode = 24
	ExposureTimer              ErrorCode = 25
	UnknownTextCommand         ErrorCode = 31
	PrinterStatusToString      ErrorCode = 32
	SendStringToPipeError      ErrorCode = 33
	MotorTimeoutError          ErrorCode = 34
	FrontPanelError            ErrorCode = 35
	MotorError                 ErrorCode = 36
	MotorControllerError       ErrorCode = 39
	UnknownFrontPanelStatus    ErrorCode = 40
	UnknownCommandInput        ErrorCode = 42
	RemainingExposure          ErrorCode = 43
	NoImageForLayer            ErrorCode = 48
	CantShowImage              ErrorCode = 49
	CantShowBlack              ErrorCode = 50
	CantLoadSettings           ErrorCode = 53
	CantSaveSettings           ErrorCode = 55
	NoValidPrintDataAvailable  ErrorCode = 60
	InvalidPrintData           ErrorCode = 63
	IllegalStateForUISubState  ErrorCode = 67
	UnknownPrintEngineState    ErrorCode = 68
	UnknownErrorCode           ErrorCode = 71
	UnknownPrintEngineSubState ErrorCode = 72
	CantLoadSettingsFile       ErrorCode = 74
	TemperatureTimerError      ErrorCode = 76
	OverHeated                 ErrorCode = 77
	SaveStatusToFileError      ErrorCode = 82
	UnknownUISubState          ErrorCode = 86
	UnknownSparkStatus         ErrorCode = 87
	UnknownSparkJobStatus      ErrorCode = 88
	PreExposureDelayTimer      ErrorCode = 91
	UnknownMotorCommand        ErrorCode = 92
	UsbDriveMount              ErrorCode = 110
	ProjectorUpgradeError      ErrorCode = 126

	// SerializationError 狀態文件無法建立或編碼
	SerializationError = PrinterStatusToString
)

var messages = map[ErrorCode]string{
	Success:                    "Success",
	GpioInput:                  "Unable to open input for %d",
	MotorTimeoutTimer:          "Unable to set motor timeout timer",
	ExposureTimer:              "Unable to set exposure timer",
	UnknownTextCommand:         "Unknown command text: '%s'",
	PrinterStatusToString:      "Can't convert printer status to JSON string",
	SendStringToPipeError:      "Network interface can't send data",
	MotorTimeoutError:          "Timeout waiting for motor response, status: %d",
	FrontPanelError:            "Front panel error",
	MotorError:                 "Motor error",
	MotorControllerError:       "Motor controller error: %d",
	UnknownFrontPanelStatus:    "Unknown front panel status: %d",
	UnknownCommandInput:        "Unknown command input: %d",
	RemainingExposure:          "Error reading remaining exposure time",
	NoImageForLayer:            "No image for layer %d",
	CantShowImage:              "Can't show image for layer %d",
	CantShowBlack:              "Can't clear the screen to black: %s",
	CantLoadSettings:           "Can't load settings file: %s",
	CantSaveSettings:           "Can't save settings file: %s",
	NoValidPrintDataAvailable:  "There is no valid data available to be printed",
	InvalidPrintData:           "Print data invalid for file: %s",
	IllegalStateForUISubState:  "Printer must be in Home or DoorOpen state to change its UI sub-state, was in state %s",
	UnknownPrintEngineState:    "Unknown print engine state: %d",
	UnknownErrorCode:           "Unknown error code: %d",
	UnknownPrintEngineSubState: "Unknown print engine UI sub-state: %d",
	CantLoadSettingsFile:       "Can't load settings file: %s",
	TemperatureTimerError:      "Unable to set thermometer timer",
	OverHeated:                 "Printer temperature (%sC) is too high",
	SaveStatusToFileError:      "Unable to save printer status to file",
	UnknownUISubState:          "Unknown UI sub-state: %d",
	UnknownSparkStatus:         "No Spark printer status defined for key: 0x%X",
	UnknownSparkJobStatus:      "No Spark job status defined for key: 0x%X",
	PreExposureDelayTimer:      "Unable to set pre-exposure delay timer",
	UnknownMotorCommand:        "Unknown motor command: %d",
	UsbDriveMount:              "Unable to mount usb drive (%s)",
	ProjectorUpgradeError:      "Could not upgrade projector firmware",
}

// Message 回傳錯誤碼的訊息格式字串，未知錯誤碼回傳空字串
func Message(code ErrorCode) string {
	return messages[code]
}

// Known 錯誤碼是否在目錄中
func Known(code ErrorCode) bool {
	_, ok := messages[code]
	return ok
}

// Format 依訊息格式填入 context（%s）或 extra（數字格式）
//
// 未知錯誤碼使用 UnknownErrorCode 的訊息。
func Format(code ErrorCode, context string, extra int) string {
	msg, ok := messages[code]
	if !ok {
		return fmt.Sprintf(messages[UnknownErrorCode], int(code))
	}

	switch {
	case strings.Contains(msg, "%s"):
		return fmt.Sprintf(msg, context)
	case strings.Contains(msg, "%d"), strings.Contains(msg, "%X"):
		return fmt.Sprintf(msg, extra)
	default:
		return msg
	}
}
