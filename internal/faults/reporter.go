package faults

// ============================================================================
// 錯誤回報
// 職責：統一記錄已分類的錯誤，並通知觀察者（例如 Prometheus 計數器）
// ============================================================================

import (
	"fmt"

	"go.uber.org/zap"
)

// NoExtra 表示沒有附加數值
const NoExtra = int(^uint(0) >> 1)

// Reporter 錯誤回報介面
//
// context 為字串附加資訊（可為空），extra 為數字附加資訊（NoExtra 表示無）。
type Reporter interface {
	ReportError(code ErrorCode, isFatal bool, context string, extra int)
}

// Observer 錯誤觀察者
type Observer interface {
	RecordFault(code ErrorCode, fatal bool)
}

// Fault 動作層回報、已分類的故障
type Fault struct {
	Code    ErrorCode // 分類錯誤碼
	Errno   int       // 原生/系統錯誤碼
	Message string    // 完整訊息（可為空，空時由錯誤碼產生）
	Fatal   bool
}

// NewFault 以錯誤碼訊息格式建立 Fault
func NewFault(code ErrorCode, errno int, context string, extra int) Fault {
	return Fault{
		Code:    code,
		Errno:   errno,
		Message: Format(code, context, extra),
		Fatal:   true,
	}
}

func (f Fault) Error() string {
	msg := f.Message
	if msg == "" {
		msg = Message(f.Code)
	}
	if f.Errno != 0 {
		return fmt.Sprintf("%s (code=%d, errno=%d)", msg, int(f.Code), f.Errno)
	}
	return fmt.Sprintf("%s (code=%d)", msg, int(f.Code))
}

// Logger 以 zap 實作 Reporter
type Logger struct {
	log       *zap.Logger
	observers []Observer
}

// NewLogger 建立 Logger，log 為 nil 時使用 zap.NewNop()
func NewLogger(log *zap.Logger, observers ...Observer) *Logger {
	if log == nil {
		log = zap.NewNop()
	}
	return &Logger{log: log, observers: observers}
}

// ReportError 記錄錯誤：致命錯誤用 Error 等級，其餘用 Warn 等級
func (l *Logger) ReportError(code ErrorCode, isFatal bool, context string, extra int) {
	fields := []zap.Field{
		zap.Int("code", int(code)),
		zap.Bool("fatal", isFatal),
	}
	if context != "" {
		fields = append(fields, zap.String("context", context))
	}
	if extra != NoExtra {
		fields = append(fields, zap.Int("extra", extra))
	}

	msg := Format(code, context, extra)
	if isFatal {
		l.log.Error(msg, fields...)
	} else {
		l.log.Warn(msg, fields...)
	}

	for _, o := range l.observers {
		o.RecordFault(code, isFatal)
	}
}
