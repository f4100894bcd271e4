package worker

import (
	"context"
	"errors"
	"time"

	"github.com/ChuLiYu/ember-engine/internal/engine"
	"github.com/ChuLiYu/ember-engine/internal/faults"
)

// ErrJam 模擬的樹脂槽卡料
var ErrJam = errors.New("resin tray jammed")

// Task 代表一個要執行的動作
type Task struct {
	Command  engine.Command // 引擎派送的命令（含 Token）
	Duration time.Duration  // 模擬執行時間
	Timeout  time.Duration  // 執行超時時間
}

// Result 代表動作執行結果
type Result struct {
	Command  engine.Command // 原始命令
	Err      error          // 錯誤（如果有）
	Duration time.Duration  // 實際執行時間
}

// Success 動作是否成功完成
func (r Result) Success() bool {
	return r.Err == nil
}

// Event 將結果轉為送回引擎的事件，並帶回命令的 Token
//
// 成功時為完成事件；超時轉為 MotorTimeoutError 故障；
// ErrJam 轉為卡料事件；其他錯誤轉為 MotorError 故障。
func (r Result) Event() engine.Event {
	var ev engine.Event
	switch {
	case r.Err == nil:
		return engine.Completion(r.Command.Action.CompletionEvent(), r.Command.Token)
	case errors.Is(r.Err, ErrJam):
		ev = engine.JamEvent(faults.NewFault(faults.MotorTimeoutError, 0, "", int(r.Command.Action)))
	case errors.Is(r.Err, context.DeadlineExceeded):
		ev = engine.FaultEvent(faults.NewFault(faults.MotorTimeoutError, 0, "", int(r.Command.Action)))
	default:
		var f faults.Fault
		var known faults.Fault
		if errors.As(r.Err, &known) {
			f = known
		} else {
			f = faults.NewFault(faults.MotorError, 0, "", faults.NoExtra)
			f.Message = f.Message + ": " + r.Err.Error()
		}
		ev = engine.FaultEvent(f)
	}
	ev.Token = r.Command.Token
	return ev
}
