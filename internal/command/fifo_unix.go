//go:build unix

package command

import (
	"os"
	"syscall"
)

func makeFIFO(path string) error {
	return syscall.Mkfifo(path, 0o666)
}

// openWriter 以非阻塞模式開啟管線；沒有讀取端時立即失敗
func openWriter(path string) (*os.File, error) {
	return os.OpenFile(path, os.O_WRONLY|syscall.O_NONBLOCK, 0)
}
