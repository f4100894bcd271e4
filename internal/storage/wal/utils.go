package wal

// ============================================================================
// 日誌工具函式
// 職責：讀取、驗證、統計與輸出日誌檔案（含 Rotate 後的 .gz 備份）
// ============================================================================

import (
	"bufio"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/goccy/go-json"
)

const maxLineSize = 1 << 20

// open 開啟日誌；.gz 結尾時透明解壓
func open(path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	if !strings.HasSuffix(path, ".gz") {
		return f, nil
	}
	gz, err := gzip.NewReader(f)
	if err != nil {
		f.Close()
		return nil, &CorruptionError{Line: 0, Offset: 0, Cause: err}
	}
	return struct {
		io.Reader
		io.Closer
	}{gz, closers{gz, f}}, nil
}

type closers []io.Closer

func (c closers) Close() error {
	var first error
	for _, cl := range c {
		if err := cl.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// scanFile 逐行解析記錄；verify 為真時檢查校驗和
func scanFile(path string, verify bool, handler EventHandler) error {
	r, err := open(path)
	if err != nil {
		return err
	}
	defer r.Close()

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 4096), maxLineSize)

	var offset int64
	line := 0
	for scanner.Scan() {
		line++
		raw := scanner.Bytes()
		start := offset
		offset += int64(len(raw)) + 1
		if len(strings.TrimSpace(string(raw))) == 0 {
			continue
		}

		var event Event
		if err := json.Unmarshal(raw, &event); err != nil {
			return &CorruptionError{Line: line, Offset: start, Cause: err}
		}
		if verify && !VerifyChecksum(event) {
			return &ChecksumError{Seq: event.Seq, Expected: CalculateChecksum(event), Actual: event.Checksum}
		}
		if err := handler(event); err != nil {
			return err
		}
	}
	return scanner.Err()
}

// ReadAll 讀取所有記錄並驗證校驗和
func ReadAll(path string) ([]Event, error) {
	var events []Event
	err := scanFile(path, true, func(e Event) error {
		events = append(events, e)
		return nil
	})
	return events, err
}

// Tail 回傳最後 n 筆記錄
func Tail(path string, n int) ([]Event, error) {
	events, err := ReadAll(path)
	if err != nil {
		return nil, err
	}
	if n > 0 && len(events) > n {
		events = events[len(events)-n:]
	}
	return events, nil
}

// GetLastEvent 讀取最後一筆可解析的記錄；沒有記錄時回傳 ErrEmptyWAL
//
// 最後一行損壞（例如寫到一半斷電）時回傳前一筆。
func GetLastEvent(path string) (*Event, error) {
	var last *Event
	err := scanFile(path, false, func(e Event) error {
		ev := e
		last = &ev
		return nil
	})
	var corrupt *CorruptionError
	if err != nil && !(errors.As(err, &corrupt) && last != nil) {
		return nil, err
	}
	if last == nil {
		return nil, ErrEmptyWAL
	}
	return last, nil
}

// CountEvents 計算可解析的記錄數
func CountEvents(path string) (int, error) {
	count := 0
	err := scanFile(path, false, func(Event) error {
		count++
		return nil
	})
	return count, err
}

// ValidateWAL 驗證日誌完整性
//
// 檢查項目：每行可解析、校驗和正確、seq 從 1 起連續。
func ValidateWAL(path string) error {
	var lastSeq uint64
	return scanFile(path, true, func(e Event) error {
		if e.Seq != lastSeq+1 {
			return fmt.Errorf("%w: expected seq %d, got %d", ErrSequenceGap, lastSeq+1, e.Seq)
		}
		lastSeq = e.Seq
		return nil
	})
}

// Format 單筆記錄的人類可讀格式
func Format(e Event) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[Seq:%d] %-8s %s/%s", e.Seq, e.Type, e.State, e.SubState)
	if e.TotalLayers > 0 {
		fmt.Fprintf(&b, " layer %d/%d", e.Layer, e.TotalLayers)
	}
	if e.ErrorCode != 0 {
		fmt.Fprintf(&b, " code=%d", e.ErrorCode)
	}
	if e.Detail != "" {
		fmt.Fprintf(&b, " %q", e.Detail)
	}
	fmt.Fprintf(&b, " at %s", time.UnixMilli(e.Timestamp).Format(time.RFC3339))
	return b.String()
}

// DumpWAL 輸出日誌內容（人類可讀格式）
func DumpWAL(path string, w io.Writer, n int) error {
	events, err := Tail(path, n)
	if err != nil {
		return err
	}
	for _, e := range events {
		if _, err := fmt.Fprintln(w, Format(e)); err != nil {
			return err
		}
	}
	return nil
}

// WALStats 日誌統計資訊
type WALStats struct {
	TotalEvents int               // 總記錄數
	EventTypes  map[EventType]int // 各類型記錄計數
	States      map[string]int    // 各狀態的進入次數
	FirstSeq    uint64
	LastSeq     uint64
	TimeRange   [2]int64 // 時間範圍 [最早, 最晚]，Unix 毫秒
}

// GetWALStats 取得日誌統計資訊
func GetWALStats(path string) (*WALStats, error) {
	stats := &WALStats{
		EventTypes: make(map[EventType]int),
		States:     make(map[string]int),
	}
	err := scanFile(path, true, func(e Event) error {
		if stats.TotalEvents == 0 {
			stats.FirstSeq = e.Seq
			stats.TimeRange[0] = e.Timestamp
		}
		stats.TotalEvents++
		stats.EventTypes[e.Type]++
		if e.Type == EventEntering {
			stats.States[e.State]++
		}
		stats.LastSeq = e.Seq
		stats.TimeRange[1] = e.Timestamp
		return nil
	})
	if err != nil {
		return nil, err
	}
	return stats, nil
}
