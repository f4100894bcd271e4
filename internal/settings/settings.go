// ============================================================================
// 印表機設定
// ============================================================================
//
// Package: internal/settings
// 文件: settings.go
// 功能: 以 YAML 檔保存的字串鍵值設定（工作名稱、列印檔案、工作 ID）
//
// 寫入採用暫存檔 + rename，避免斷電時留下半份檔案。
//
// ============================================================================

package settings

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"
)

const (
	JobName   = "JobName"
	PrintFile = "PrintFile"
	JobID     = "JobID"
)

// ErrNoPath 沒有設定檔路徑時無法 Save / Load
var ErrNoPath = errors.New("settings: no file path configured")

func defaults() map[string]string {
	return map[string]string{
		JobName:   "",
		PrintFile: "",
		JobID:     "",
	}
}

// Store 執行緒安全的設定儲存
type Store struct {
	mu     sync.RWMutex
	path   string
	values map[string]string
}

// NewStore 建立帶預設值的 Store；path 為空時只存在記憶體
func NewStore(path string) *Store {
	return &Store{path: path, values: defaults()}
}

// GetString 讀取設定，不存在時回傳空字串
func (s *Store) GetString(key string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.values[key]
}

// SetString 寫入設定（只改記憶體，需 Save 才會落盤）
func (s *Store) SetString(key, value string) {
	s.mu.Lock()
	s.values[key] = value
	s.mu.Unlock()
}

// Keys 依字母序列出所有鍵
func (s *Store) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.values))
	for k := range s.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Restore 恢復預設值
func (s *Store) Restore() {
	s.mu.Lock()
	s.values = defaults()
	s.mu.Unlock()
}

// Load 從檔案讀取設定；檔案不存在時保留預設值
func (s *Store) Load() error {
	if s.path == "" {
		return ErrNoPath
	}

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read settings: %w", err)
	}

	loaded := make(map[string]string)
	if err := yaml.Unmarshal(data, &loaded); err != nil {
		return fmt.Errorf("failed to parse settings: %w", err)
	}

	values := defaults()
	for k, v := range loaded {
		values[k] = v
	}

	s.mu.Lock()
	s.values = values
	s.mu.Unlock()
	return nil
}

// Save 原子寫入設定檔
func (s *Store) Save() error {
	if s.path == "" {
		return ErrNoPath
	}

	s.mu.RLock()
	data, err := yaml.Marshal(s.values)
	s.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("failed to marshal settings: %w", err)
	}

	if dir := filepath.Dir(s.path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create settings dir: %w", err)
		}
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write temp settings: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to rename settings: %w", err)
	}
	return nil
}
