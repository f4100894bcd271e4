package faults

import "sync"

// ErrorChannel 保存最後一則錯誤訊息
//
// 只保留一個值，後寫者覆蓋前者，不保存歷史。
// 由程式組裝處建立並明確傳給引擎與發佈器，不使用全域變數。
type ErrorChannel struct {
	mu  sync.RWMutex
	msg string
}

// NewErrorChannel 建立空的 ErrorChannel
func NewErrorChannel() *ErrorChannel {
	return &ErrorChannel{}
}

// SetLastError 覆蓋目前的錯誤訊息
func (c *ErrorChannel) SetLastError(msg string) {
	c.mu.Lock()
	c.msg = msg
	c.mu.Unlock()
}

// GetLastError 讀取目前的錯誤訊息
func (c *ErrorChannel) GetLastError() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.msg
}

// Clear 清除錯誤訊息
func (c *ErrorChannel) Clear() {
	c.SetLastError("")
}
