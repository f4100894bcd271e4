package engine

import (
	"github.com/ChuLiYu/ember-engine/internal/faults"
	"github.com/ChuLiYu/ember-engine/pkg/types"
)

// EventType 引擎可處理的事件種類
type EventType string

const (
	// 感測器
	EventDoorOpened EventType = "door_opened"
	EventDoorClosed EventType = "door_closed"

	// 動作層完成通知（帶 Token）
	EventInitialized      EventType = "initialized"
	EventMotionCompleted  EventType = "motion_completed"
	EventLayerLoaded      EventType = "layer_loaded"
	EventDelayEnded       EventType = "delay_ended"
	EventExposureStarted  EventType = "exposure_started"
	EventExposed          EventType = "exposed"
	EventLayerChecked     EventType = "layer_checked"
	EventUpgradeCompleted EventType = "upgrade_completed"

	// 動作層故障
	EventFault EventType = "fault"
	EventJam   EventType = "jam"

	// 使用者 / 網路命令
	EventReset             EventType = "reset"
	EventStartPrint        EventType = "start_print"
	EventPause             EventType = "pause"
	EventResume            EventType = "resume"
	EventCancel            EventType = "cancel"
	EventConfirmCancel     EventType = "confirm_cancel"
	EventRate              EventType = "rate"
	EventDismiss           EventType = "dismiss"
	EventCalibrate         EventType = "calibrate"
	EventStartRegistration EventType = "start_registration"
	EventRegistered        EventType = "registered"
	EventShowVersion       EventType = "show_version"
	EventEnterDemoMode     EventType = "enter_demo_mode"
	EventUpgradeProjector  EventType = "upgrade_projector"
	EventConfirm           EventType = "confirm"
	EventRefresh           EventType = "refresh"

	// 不轉換狀態，只更新快照
	EventTemperature         EventType = "temperature"
	EventCanUpgradeProjector EventType = "can_upgrade_projector"

	// UI 子狀態
	EventDownloadingPrintData EventType = "downloading_print_data"
	EventPrintDownloadFailed  EventType = "print_download_failed"
	EventLoadingPrintData     EventType = "loading_print_data"
	EventPrintDataLoaded      EventType = "print_data_loaded"
	EventPrintDataLoadFailed  EventType = "print_data_load_failed"
	EventWiFiConnecting       EventType = "wifi_connecting"
	EventWiFiConnectionFailed EventType = "wifi_connection_failed"
	EventWiFiConnected        EventType = "wifi_connected"
	EventUSBDriveFileFound    EventType = "usb_drive_file_found"
	EventUSBDriveError        EventType = "usb_drive_error"
)

// Event 送入引擎的單一事件
type Event struct {
	Type EventType

	// Token 對應 Command.Token；外部事件為 0
	Token uint64

	Fault    faults.Fault      // EventFault / EventJam
	Rating   types.PrintRating // EventRate
	Layers   int               // EventPrintDataLoaded
	JobName  string            // EventPrintDataLoaded
	JobID    string            // EventPrintDataLoaded
	FileName string            // EventPrintDataLoaded / EventUSBDriveFileFound
	Value    float64           // EventTemperature
	Flag     bool              // EventCanUpgradeProjector
}

// NewEvent 建立不帶參數的事件
func NewEvent(t EventType) Event {
	return Event{Type: t}
}

// Completion 建立動作層完成事件
func Completion(t EventType, token uint64) Event {
	return Event{Type: t, Token: token}
}

// FaultEvent 建立故障事件
func FaultEvent(f faults.Fault) Event {
	return Event{Type: EventFault, Fault: f}
}

// JamEvent 建立卡料事件
func JamEvent(f faults.Fault) Event {
	return Event{Type: EventJam, Fault: f}
}

// RateEvent 建立列印評價事件
func RateEvent(r types.PrintRating) Event {
	return Event{Type: EventRate, Rating: r}
}

// LoadedEvent 建立列印資料載入完成事件
func LoadedEvent(layers int, jobName, jobID, fileName string) Event {
	return Event{Type: EventPrintDataLoaded, Layers: layers, JobName: jobName, JobID: jobID, FileName: fileName}
}

// TemperatureEvent 建立溫度更新事件
func TemperatureEvent(celsius float64) Event {
	return Event{Type: EventTemperature, Value: celsius}
}

// USBFileEvent 建立 USB 檔案發現事件
func USBFileEvent(fileName string) Event {
	return Event{Type: EventUSBDriveFileFound, FileName: fileName}
}

// UpgradeCapabilityEvent 建立投影機可升級旗標事件
func UpgradeCapabilityEvent(can bool) Event {
	return Event{Type: EventCanUpgradeProjector, Flag: can}
}

// subStateEvents UI 子狀態事件對應的子狀態
var subStateEvents = map[EventType]types.UISubState{
	EventDownloadingPrintData: types.DownloadingPrintData,
	EventPrintDownloadFailed:  types.PrintDownloadFailed,
	EventLoadingPrintData:     types.LoadingPrintData,
	EventPrintDataLoaded:      types.LoadedPrintData,
	EventPrintDataLoadFailed:  types.PrintDataLoadFailed,
	EventWiFiConnecting:       types.WiFiConnecting,
	EventWiFiConnectionFailed: types.WiFiConnectionFailed,
	EventWiFiConnected:        types.WiFiConnected,
	EventUSBDriveFileFound:    types.USBDriveFileFound,
	EventUSBDriveError:        types.USBDriveError,
}

// printDataSubStates 在 DoorOpen 中也允許的子狀態
var printDataSubStates = map[types.UISubState]bool{
	types.DownloadingPrintData: true,
	types.PrintDownloadFailed:  true,
	types.LoadingPrintData:     true,
	types.LoadedPrintData:      true,
	types.PrintDataLoadFailed:  true,
}
