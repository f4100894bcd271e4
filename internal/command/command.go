// ============================================================================
// 文字命令
// ============================================================================
//
// Package: internal/command
// 文件: command.go
// 功能: 解析命令管線 / HTTP / 序列前面板送來的文字命令，轉為引擎事件或按鍵
//
// 命令不分大小寫，前後空白忽略；部分命令帶參數，以空白分隔:
//   showprintdataloaded <layers> <file> [jobID] [job name...]
//   temperature <celsius>
//   rate succeeded|failed
//   usbfile <file>
//   fault <code>
//
// ============================================================================

package command

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/ChuLiYu/ember-engine/internal/engine"
	"github.com/ChuLiYu/ember-engine/internal/faults"
	"github.com/ChuLiYu/ember-engine/pkg/types"
)

var (
	// ErrUnknownCommand 無法辨識的命令
	ErrUnknownCommand = errors.New("unknown command")
	// ErrBadArgument 命令參數缺少或格式錯誤
	ErrBadArgument = errors.New("bad command argument")
)

// Button 前面板按鍵動作
type Button int

const (
	ButtonNone Button = iota
	Button1
	Button2
	Button1Hold
	Button2Hold
	Buttons1and2
	Buttons1and2Hold
)

var buttonNames = [...]string{
	ButtonNone:       "none",
	Button1:          "button1",
	Button2:          "button2",
	Button1Hold:      "button1hold",
	Button2Hold:      "button2hold",
	Buttons1and2:     "buttons1and2",
	Buttons1and2Hold: "buttons1and2hold",
}

func (b Button) String() string {
	if b < 0 || int(b) >= len(buttonNames) {
		return "unknown"
	}
	return buttonNames[b]
}

// Input 一則解析後的命令；Button 不為 ButtonNone 時需依目前狀態解讀
type Input struct {
	Text   string
	Event  engine.Event
	Button Button
}

// IsButton 是否為按鍵輸入
func (in Input) IsButton() bool {
	return in.Button != ButtonNone
}

var simple = map[string]engine.EventType{
	"start":                          engine.EventStartPrint,
	"cancel":                         engine.EventCancel,
	"confirmcancel":                  engine.EventConfirmCancel,
	"pause":                          engine.EventPause,
	"resume":                         engine.EventResume,
	"reset":                          engine.EventReset,
	"refresh":                        engine.EventRefresh,
	"dismiss":                        engine.EventDismiss,
	"showprintdatadownloading":       engine.EventDownloadingPrintData,
	"showprintdownloadfailed":        engine.EventPrintDownloadFailed,
	"startprintdataload":             engine.EventLoadingPrintData,
	"showprintdataloadfailed":        engine.EventPrintDataLoadFailed,
	"displayprimaryregistrationcode": engine.EventStartRegistration,
	"primaryregistrationsucceeded":   engine.EventRegistered,
	"showwirelessconnecting":         engine.EventWiFiConnecting,
	"showwirelessconnectionfailed":   engine.EventWiFiConnectionFailed,
	"showwirelessconnected":          engine.EventWiFiConnected,
	"usberror":                       engine.EventUSBDriveError,
	"calibrate":                      engine.EventCalibrate,
	"showversion":                    engine.EventShowVersion,
	"demo":                           engine.EventEnterDemoMode,
	"upgradeprojector":               engine.EventUpgradeProjector,
	"confirm":                        engine.EventConfirm,
	"dooropened":                     engine.EventDoorOpened,
	"doorclosed":                     engine.EventDoorClosed,
}

var buttons = map[string]Button{
	"button1":          Button1,
	"button2":          Button2,
	"button1hold":      Button1Hold,
	"button2hold":      Button2Hold,
	"buttons1and2":     Buttons1and2,
	"buttons1and2hold": Buttons1and2Hold,
}

// Parse 解析一行文字命令
func Parse(line string) (Input, error) {
	text := strings.TrimSpace(line)
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return Input{}, fmt.Errorf("%w: empty", ErrUnknownCommand)
	}
	verb := strings.ToLower(fields[0])
	args := fields[1:]
	in := Input{Text: text}

	if t, ok := simple[verb]; ok {
		in.Event = engine.NewEvent(t)
		return in, nil
	}
	if b, ok := buttons[verb]; ok {
		in.Button = b
		return in, nil
	}

	var err error
	switch verb {
	case "showprintdataloaded", "processprintdata":
		in.Event, err = parseLoaded(args)
	case "temperature":
		var c float64
		c, err = floatArg(args)
		in.Event = engine.TemperatureEvent(c)
	case "rate":
		in.Event, err = parseRate(args)
	case "usbfile":
		if len(args) == 0 {
			err = fmt.Errorf("%w: usbfile needs a file name", ErrBadArgument)
		}
		in.Event = engine.USBFileEvent(strings.Join(args, " "))
	case "fault":
		var code int
		code, err = intArg(args)
		in.Event = engine.FaultEvent(faults.NewFault(faults.ErrorCode(code), 0, "", faults.NoExtra))
	case "jam":
		in.Event = engine.JamEvent(faults.NewFault(faults.MotorTimeoutError, 0, "", faults.NoExtra))
	case "canupgrade":
		in.Event = engine.UpgradeCapabilityEvent(len(args) == 0 || strings.EqualFold(args[0], "true"))
	default:
		return Input{}, fmt.Errorf("%w: %q", ErrUnknownCommand, text)
	}
	if err != nil {
		return Input{}, err
	}
	return in, nil
}

func parseLoaded(args []string) (engine.Event, error) {
	if len(args) < 2 {
		return engine.Event{}, fmt.Errorf("%w: expected <layers> <file> [jobID] [job name]", ErrBadArgument)
	}
	layers, err := strconv.Atoi(args[0])
	if err != nil {
		return engine.Event{}, fmt.Errorf("%w: layers %q", ErrBadArgument, args[0])
	}
	file := args[1]
	var jobID, jobName string
	if len(args) > 2 {
		jobID = args[2]
	}
	if len(args) > 3 {
		jobName = strings.Join(args[3:], " ")
	} else {
		jobName = strings.TrimSuffix(file, ".tar.gz")
	}
	return engine.LoadedEvent(layers, jobName, jobID, file), nil
}

func parseRate(args []string) (engine.Event, error) {
	if len(args) != 1 {
		return engine.Event{}, fmt.Errorf("%w: rate succeeded|failed", ErrBadArgument)
	}
	switch strings.ToLower(args[0]) {
	case "succeeded":
		return engine.RateEvent(types.Succeeded), nil
	case "failed":
		return engine.RateEvent(types.Failed), nil
	default:
		return engine.Event{}, fmt.Errorf("%w: rating %q", ErrBadArgument, args[0])
	}
}

func floatArg(args []string) (float64, error) {
	if len(args) != 1 {
		return 0, fmt.Errorf("%w: expected one number", ErrBadArgument)
	}
	v, err := strconv.ParseFloat(args[0], 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrBadArgument, args[0])
	}
	return v, nil
}

func intArg(args []string) (int, error) {
	if len(args) != 1 {
		return 0, fmt.Errorf("%w: expected one integer", ErrBadArgument)
	}
	v, err := strconv.Atoi(args[0])
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrBadArgument, args[0])
	}
	return v, nil
}
