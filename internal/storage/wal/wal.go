package wal

// ============================================================================
// 轉換日誌核心實作
// 職責：
// 1. 追加狀態轉換記錄到日誌檔案（append-only, JSON lines）
// 2. 批次寫入：緩衝滿、超過 flush 間隔或強制時寫出並 fsync
// 3. 提供重放功能給 history 指令
// 4. 支援日誌旋轉（可選 gzip 壓縮舊檔）
// ============================================================================

import (
	"bufio"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/goccy/go-json"
)

// FileInterface 定義檔案操作所需的方法，測試中可替換
type FileInterface interface {
	Write(p []byte) (n int, err error)
	Sync() error
	Close() error
}

// Options 日誌選項
type Options struct {
	SyncOnAppend    bool          // 每次追加都立即寫出並同步
	BufferSize      int           // 緩衝記錄數，預設 64
	FlushInterval   time.Duration // 最長緩衝時間，預設 1s
	CompressRotated bool          // Rotate 時以 gzip 壓縮舊檔
}

// WAL 轉換日誌
type WAL struct {
	mu      sync.Mutex
	file    FileInterface
	writer  *bufio.Writer
	encoder *json.Encoder
	path    string
	seq     uint64
	opts    Options
	closed  bool

	buffer        []Event
	lastFlushTime time.Time
	now           func() time.Time
}

// NewWAL 建立或開啟日誌
//
// 檔案已存在時讀取最後一筆記錄的 seq 並接續編號；
// 以 O_APPEND 開啟，寫入不覆蓋既有記錄。
func NewWAL(path string, opts Options) (*WAL, error) {
	if opts.BufferSize <= 0 {
		opts.BufferSize = 64
	}
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = time.Second
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create journal directory: %w", err)
	}

	var seq uint64
	last, err := GetLastEvent(path)
	switch {
	case err == nil:
		seq = last.Seq
	case os.IsNotExist(err), errors.Is(err, ErrEmptyWAL):
	default:
		return nil, fmt.Errorf("failed to read journal tail: %w", err)
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, err
	}

	w := &WAL{
		path:          path,
		seq:           seq,
		opts:          opts,
		buffer:        make([]Event, 0, opts.BufferSize),
		lastFlushTime: time.Now(),
		now:           time.Now,
	}
	w.attach(file)
	return w, nil
}

func (w *WAL) attach(file FileInterface) {
	w.file = file
	w.writer = bufio.NewWriter(file)
	w.encoder = json.NewEncoder(w.writer)
}

// Append 追加一筆記錄
//
// Seq、Timestamp 與 Checksum 由日誌填入，呼叫端提供的值會被覆蓋。
func (w *WAL) Append(event Event, forceFlush bool) (Event, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return event, ErrWALClosed
	}

	w.seq++
	event.Seq = w.seq
	event.Timestamp = w.now().UnixMilli()
	event.Checksum = CalculateChecksum(event)
	w.buffer = append(w.buffer, event)

	needFlush := forceFlush || w.opts.SyncOnAppend ||
		len(w.buffer) >= w.opts.BufferSize ||
		time.Since(w.lastFlushTime) > w.opts.FlushInterval
	if needFlush {
		return event, w.flushLocked()
	}
	return event, nil
}

// Flush 寫出緩衝中的記錄並同步
func (w *WAL) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrWALClosed
	}
	return w.flushLocked()
}

// Replay 從頭重放所有記錄；先寫出緩衝
//
// 校驗和錯誤回傳 *ChecksumError，無法解析的行回傳 *CorruptionError。
func (w *WAL) Replay(handler EventHandler) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.closed {
		if err := w.flushLocked(); err != nil {
			return err
		}
	}
	return scanFile(w.path, true, handler)
}

// Rotate 將目前日誌改名為帶時間戳記的備份並開啟新檔；回傳備份路徑
func (w *WAL) Rotate() (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return "", ErrWALClosed
	}
	if err := w.flushLocked(); err != nil {
		return "", err
	}
	if err := w.file.Close(); err != nil {
		return "", err
	}

	backupPath := w.path + "." + w.now().Format("20060102_150405.000")
	if err := os.Rename(w.path, backupPath); err != nil {
		return "", err
	}

	if w.opts.CompressRotated {
		if err := compressWALFile(backupPath, backupPath+".gz"); err != nil {
			return "", fmt.Errorf("failed to compress rotated journal: %w", err)
		}
		if err := os.Remove(backupPath); err != nil {
			return "", err
		}
		backupPath += ".gz"
	}

	newFile, err := os.OpenFile(w.path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC|os.O_APPEND, 0644)
	if err != nil {
		return "", err
	}

	w.attach(newFile)
	w.seq = 0
	w.buffer = w.buffer[:0]
	w.lastFlushTime = time.Now()
	return backupPath, nil
}

// Close 寫出緩衝並關閉日誌；關閉後不可再使用
func (w *WAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	flushErr := w.flushLocked()
	w.closed = true
	if err := w.file.Close(); err != nil {
		return err
	}
	return flushErr
}

// GetLastSeq 取得目前的記錄序號
func (w *WAL) GetLastSeq() uint64 {
	if w == nil {
		return 0
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.seq
}

// GetPath 日誌檔案路徑
func (w *WAL) GetPath() string {
	return w.path
}

// flushLocked 假設呼叫者已持有 w.mu
func (w *WAL) flushLocked() error {
	for _, event := range w.buffer {
		if err := w.encoder.Encode(event); err != nil {
			return err
		}
	}
	w.buffer = w.buffer[:0]
	w.lastFlushTime = time.Now()
	if err := w.writer.Flush(); err != nil {
		return err
	}
	return w.file.Sync()
}

// compressWALFile 以 gzip 壓縮檔案
func compressWALFile(srcPath, dstPath string) error {
	srcFile, err := os.Open(srcPath)
	if err != nil {
		return err
	}
	defer srcFile.Close()

	dstFile, err := os.Create(dstPath)
	if err != nil {
		return err
	}

	gzipWriter := gzip.NewWriter(dstFile)
	if _, err := io.Copy(gzipWriter, srcFile); err != nil {
		gzipWriter.Close()
		dstFile.Close()
		return err
	}
	if err := gzipWriter.Close(); err != nil {
		dstFile.Close()
		return err
	}
	return dstFile.Close()
}
