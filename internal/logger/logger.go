// ============================================================================
// 日誌模組
// ============================================================================
//
// Package: internal/logger
// 文件: logger.go
// 功能: 建立全域 zap logger，提供各元件命名子 logger
//
// 設定來源（優先序由高到低）:
//   1. 環境變數 LOGGING_LEVEL / LOGGING_FORMAT
//   2. 設定檔 logging.level / logging.format
//   3. 預設值 INFO / CONSOLE
//
// ============================================================================

package logger

import (
	"os"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Format 輸出格式
type Format string

const (
	FormatConsole Format = "CONSOLE"
	FormatJSON    Format = "JSON"
)

var (
	once sync.Once
)

func parseLevel(level string) zapcore.Level {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return zapcore.DebugLevel
	case "WARN", "WARNING":
		return zapcore.WarnLevel
	case "ERROR":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

func parseFormat(format string) Format {
	switch Format(strings.ToUpper(format)) {
	case FormatJSON:
		return FormatJSON
	default:
		return FormatConsole
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func timeEncoder(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
	enc.AppendString(t.Format("2006-01-02 15:04:05 MST"))
}

// New 依等級與格式建立 logger（不修改全域 logger）
func New(level string, format string) *zap.Logger {
	encoderConfig := zapcore.EncoderConfig{
		TimeKey:        "time",
		LevelKey:       "level",
		NameKey:        "component",
		CallerKey:      "caller",
		FunctionKey:    zapcore.OmitKey,
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}

	var encoder zapcore.Encoder
	if parseFormat(format) == FormatJSON {
		encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		encoder = zapcore.NewJSONEncoder(encoderConfig)
	} else {
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encoderConfig.EncodeTime = timeEncoder
		encoderConfig.ConsoleSeparator = " | "
		encoder = zapcore.NewConsoleEncoder(encoderConfig)
	}

	core := zapcore.NewCore(
		encoder,
		zapcore.AddSync(os.Stderr),
		zap.NewAtomicLevelAt(parseLevel(level)),
	)

	return zap.New(core, zap.AddCaller())
}

// Initialize 只執行一次：建立 logger 並取代 zap 全域 logger
//
// 環境變數 LOGGING_LEVEL / LOGGING_FORMAT 會覆蓋參數。
func Initialize(level, format string) *zap.Logger {
	once.Do(func() {
		level = envOr("LOGGING_LEVEL", level)
		format = envOr("LOGGING_FORMAT", format)

		l := New(level, format)
		zap.ReplaceGlobals(l)

		l.Info("Logger initialized",
			zap.String("level", strings.ToUpper(level)),
			zap.String("format", string(parseFormat(format))))
	})
	return zap.L()
}

// For 回傳元件專用的命名 logger
func For(component string) *zap.Logger {
	return zap.L().Named(component)
}

// Sync 清空緩衝的日誌
func Sync() error {
	return zap.L().Sync()
}
