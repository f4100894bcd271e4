package snapshot

// ============================================================================
// 職責說明：
// 1. 將最新的狀態文件寫入狀態檔（預設 /run/printer_status）
// 2. 使用原子性寫入（temp file + rename），讀取端不會看到半份文件
// 3. 提供 Load 給 CLI status / monitor 讀取
// ============================================================================

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/ChuLiYu/ember-engine/internal/status"
)

// DefaultPath 狀態檔預設路徑
const DefaultPath = "/run/printer_status"

var (
	ErrCorruptedStatus = errors.New("status file is corrupted")
	ErrStatusNotFound  = errors.New("status file not found")
	ErrEmptyDocument   = errors.New("refusing to write empty status document")
)

// Manager 狀態檔管理器
type Manager struct {
	path string     // 狀態檔路徑
	mu   sync.Mutex // 保護檔案操作
}

// NewManager 建立狀態檔管理器，path 為空時使用 DefaultPath
func NewManager(path string) *Manager {
	if path == "" {
		path = DefaultPath
	}
	return &Manager{
		path: path,
	}
}

// Write 原子性寫入一份已編碼的狀態文件
//
// 1. 寫入臨時檔案（.tmp）
// 2. 使用 os.Rename 原子性替換原始檔案
func (m *Manager) Write(doc []byte) error {
	if len(doc) == 0 {
		return ErrEmptyDocument
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(m.path), 0755); err != nil {
		return fmt.Errorf("failed to create status directory: %w", err)
	}

	tmpPath := m.path + ".tmp"
	if err := os.WriteFile(tmpPath, doc, 0644); err != nil {
		return fmt.Errorf("failed to write temp status: %w", err)
	}

	if err := os.Rename(tmpPath, m.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename status: %w", err)
	}

	return nil
}

// ReadRaw 讀取狀態檔原始位元組
func (m *Manager) ReadRaw() ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, err := os.ReadFile(m.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrStatusNotFound, m.path)
		}
		return nil, fmt.Errorf("failed to read status: %w", err)
	}
	return data, nil
}

// Load 讀取並解碼狀態檔
func (m *Manager) Load() (status.Document, error) {
	data, err := m.ReadRaw()
	if err != nil {
		return status.Document{}, err
	}

	doc, err := status.Parse(data)
	if err != nil {
		return doc, fmt.Errorf("%w: %v", ErrCorruptedStatus, err)
	}
	return doc, nil
}

// Exists 檢查狀態檔是否存在
func (m *Manager) Exists() bool {
	_, err := os.Stat(m.path)
	return err == nil
}

// GetPath 取得狀態檔路徑
func (m *Manager) GetPath() string {
	return m.path
}
