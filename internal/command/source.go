// ============================================================================
// 命令來源
// ============================================================================
//
// Package: internal/command
// 文件: source.go
// 功能: 從文字串流（命名管線、標準輸入）與序列埠前面板讀取輸入
//
// 兩種來源都只負責解析，解析後的 Input 交給 Handler；
// 依狀態解讀按鍵與送入引擎由呼叫端處理。
//
// ============================================================================

package command

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.bug.st/serial"
	"go.uber.org/zap"

	"github.com/ChuLiYu/ember-engine/internal/faults"
)

// Handler 接收解析後的輸入
type Handler func(Input)

// ============================================================================
// LineSource
// ============================================================================

// LineSource 每行一個文字命令
type LineSource struct {
	handle   Handler
	reporter faults.Reporter
	log      *zap.Logger
}

// NewLineSource 建立文字命令來源
func NewLineSource(handle Handler, reporter faults.Reporter, log *zap.Logger) *LineSource {
	if log == nil {
		log = zap.NewNop()
	}
	if reporter == nil {
		reporter = faults.NewLogger(log)
	}
	return &LineSource{handle: handle, reporter: reporter, log: log}
}

// Serve 讀到 EOF 或 ctx 結束為止；r 若實作 io.Closer，ctx 結束時會被關閉以解除阻塞
func (s *LineSource) Serve(ctx context.Context, r io.Reader) error {
	done := make(chan struct{})
	defer close(done)
	if c, ok := r.(io.Closer); ok {
		go func() {
			select {
			case <-ctx.Done():
				c.Close()
			case <-done:
			}
		}()
	}

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return nil
		}
		s.Dispatch(scanner.Text())
	}
	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("read commands: %w", err)
	}
	return nil
}

// ServePipe 開啟（必要時建立）命名管線並持續讀取
//
// 以讀寫模式開啟，最後一個寫入端關閉時不會讀到 EOF。
func (s *LineSource) ServePipe(ctx context.Context, path string) error {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return fmt.Errorf("create command pipe directory: %w", err)
		}
		if err := makeFIFO(path); err != nil {
			return fmt.Errorf("create command pipe %s: %w", path, err)
		}
	}
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return fmt.Errorf("open command pipe %s: %w", path, err)
	}
	s.log.Info("listening for commands", zap.String("pipe", path))
	return s.Serve(ctx, f)
}

// WriteLine 把一行命令寫入執行中引擎的命令管線
func WriteLine(path, line string) error {
	f, err := openWriter(path)
	if err != nil {
		return fmt.Errorf("open command pipe %s: %w", path, err)
	}
	defer f.Close()

	if _, err := f.WriteString(strings.TrimSpace(line) + "\n"); err != nil {
		return fmt.Errorf("write command pipe %s: %w", path, err)
	}
	return nil
}

// Dispatch 解析單行並交給 Handler；空行忽略，無法解析時回報 UnknownTextCommand
func (s *LineSource) Dispatch(line string) {
	line = strings.TrimSpace(line)
	if line == "" {
		return
	}
	in, err := Parse(line)
	if err != nil {
		s.log.Debug("unparsable command", zap.String("line", line), zap.Error(err))
		s.reporter.ReportError(faults.UnknownTextCommand, false, line, faults.NoExtra)
		return
	}
	s.handle(in)
}

// ============================================================================
// FrontPanel
// ============================================================================

// DefaultBaudRate 前面板預設鮑率
const DefaultBaudRate = 115200

// PanelConfig 序列埠設定
type PanelConfig struct {
	Port        string
	BaudRate    int
	ReadTimeout time.Duration
}

// FrontPanel 從序列埠讀取按鍵狀態位元組
type FrontPanel struct {
	cfg      PanelConfig
	handle   Handler
	reporter faults.Reporter
	log      *zap.Logger
}

// NewFrontPanel 建立前面板來源
func NewFrontPanel(cfg PanelConfig, handle Handler, reporter faults.Reporter, log *zap.Logger) *FrontPanel {
	if cfg.BaudRate <= 0 {
		cfg.BaudRate = DefaultBaudRate
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 200 * time.Millisecond
	}
	if log == nil {
		log = zap.NewNop()
	}
	if reporter == nil {
		reporter = faults.NewLogger(log)
	}
	return &FrontPanel{cfg: cfg, handle: handle, reporter: reporter, log: log}
}

// Serve 開啟序列埠並持續讀取，直到 ctx 結束
func (p *FrontPanel) Serve(ctx context.Context) error {
	mode := &serial.Mode{
		BaudRate: p.cfg.BaudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(p.cfg.Port, mode)
	if err != nil {
		return fmt.Errorf("failed to open front panel %s: %w", p.cfg.Port, err)
	}
	defer port.Close()

	if err := port.SetReadTimeout(p.cfg.ReadTimeout); err != nil {
		return fmt.Errorf("set read timeout: %w", err)
	}
	p.log.Info("front panel opened",
		zap.String("port", p.cfg.Port),
		zap.Int("baud", p.cfg.BaudRate))
	return p.ServeReader(ctx, port)
}

// ServeReader 從任意位元組串流讀取狀態；讀到 EOF 時回傳 nil
//
// 逾時的讀取（0 位元組、無錯誤）用來檢查 ctx。
func (p *FrontPanel) ServeReader(ctx context.Context, r io.Reader) error {
	buf := make([]byte, 16)
	for {
		if ctx.Err() != nil {
			return nil
		}
		n, err := r.Read(buf)
		for _, b := range buf[:n] {
			p.Decode(b)
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read front panel: %w", err)
		}
	}
}

// Decode 解碼單一位元組並交給 Handler
func (p *FrontPanel) Decode(status byte) {
	b, err := DecodeStatus(status)
	if err != nil {
		var se *StatusError
		if errors.As(err, &se) {
			extra := faults.NoExtra
			if se.Code == faults.UnknownFrontPanelStatus {
				extra = int(se.Status)
			}
			p.reporter.ReportError(se.Code, false, "", extra)
		}
		return
	}
	if b == ButtonNone {
		return
	}
	p.log.Debug("front panel button", zap.Stringer("button", b))
	p.handle(Input{Text: b.String(), Button: b})
}
