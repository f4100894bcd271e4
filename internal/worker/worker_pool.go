// ============================================================================
// Motion Worker Pool - 並發動作執行器
// ============================================================================
//
// Package: internal/worker
// 文件: worker_pool.go
// 功能: 管理執行動作的 Worker goroutine 生命週期與任務分發
//
// 架構組件:
//   ┌─────────────┐
//   │ Simulator   │ --TrySubmit()--> taskCh
//   └─────────────┘
//         ↑
//   ReceiveResult()  (controller resultLoop)
//         ↑
//   ┌─────────────┐
//   │   Pool      │
//   │  Worker 1 ←── taskCh ──→ resultCh
//   │  Worker n   │
//   └─────────────┘
//
// 生命週期:
//   1. NewPool() - 建立 Pool，初始化 channels
//   2. Start(n) - 啟動 n 個 Worker goroutines
//   3. Submit / TrySubmit - 提交任務
//   4. ReceiveResult() - 讀取結果
//   5. Stop() - 關閉 taskCh，等待所有 Worker 完成
//
// 引擎在事件 goroutine 上派送動作，不可阻塞，因此模擬器使用 TrySubmit。
//
// ============================================================================

package worker

import (
	"errors"
	"sync"

	"go.uber.org/zap"
)

var (
	// ErrPoolClosed Pool 已關閉
	ErrPoolClosed = errors.New("worker pool is closed")
	// ErrPoolNotStarted Pool 尚未啟動
	ErrPoolNotStarted = errors.New("worker pool not started")
	// ErrPoolFull 任務通道已滿
	ErrPoolFull = errors.New("worker pool is full")
)

// Pool 管理多個並發的 Worker
type Pool struct {
	workers  []*Worker
	taskCh   chan Task
	resultCh chan Result
	stopCh   chan struct{}
	exec     Executor
	log      *zap.Logger
	wg       sync.WaitGroup
	sending  sync.WaitGroup // 進行中的 Submit，Stop 等它們結束後才關閉 taskCh
	started  bool
	stopped  bool
	mu       sync.Mutex
}

// NewPool 建立新的 Worker Pool
//
// exec 為 nil 時使用 Wait；log 為 nil 時不輸出日誌。
func NewPool(bufferSize int, exec Executor, log *zap.Logger) *Pool {
	if exec == nil {
		exec = Wait
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Pool{
		workers:  make([]*Worker, 0),
		taskCh:   make(chan Task, bufferSize),
		resultCh: make(chan Result, bufferSize),
		stopCh:   make(chan struct{}),
		exec:     exec,
		log:      log,
	}
}

// Start 啟動指定數量的 Worker
func (p *Pool) Start(workerCount int) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started {
		return errors.New("pool already started")
	}

	for i := 0; i < workerCount; i++ {
		worker := newWorker(i, p.taskCh, p.resultCh, p.stopCh, p.exec, p.log)
		p.workers = append(p.workers, worker)

		p.wg.Add(1)
		go func(w *Worker) {
			defer p.wg.Done()
			w.Run()
		}(worker)
	}

	p.started = true
	return nil
}

// Submit 提交任務，通道滿時阻塞直到有空位或 Pool 停止
func (p *Pool) Submit(task Task) error {
	taskCh, stopCh, err := p.channels()
	if err != nil {
		return err
	}
	defer p.sending.Done()

	select {
	case taskCh <- task:
		return nil
	case <-stopCh:
		return ErrPoolClosed
	}
}

// TrySubmit 非阻塞提交；通道滿時回傳 ErrPoolFull
func (p *Pool) TrySubmit(task Task) error {
	taskCh, stopCh, err := p.channels()
	if err != nil {
		return err
	}
	defer p.sending.Done()

	select {
	case <-stopCh:
		return ErrPoolClosed
	default:
	}

	select {
	case taskCh <- task:
		return nil
	default:
		return ErrPoolFull
	}
}

func (p *Pool) channels() (chan Task, chan struct{}, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.started {
		return nil, nil, ErrPoolNotStarted
	}
	if p.stopped {
		return nil, nil, ErrPoolClosed
	}
	p.sending.Add(1)
	return p.taskCh, p.stopCh, nil
}

// deliver 直接放入一個結果（例如無法提交的任務）
//
// 通道滿時改在背景等待空位，直到送出或 Pool 停止；只有 Pool 已停止時回傳 false。
func (p *Pool) deliver(r Result) bool {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return false
	}
	select {
	case p.resultCh <- r:
		p.mu.Unlock()
		return true
	default:
	}
	p.sending.Add(1)
	stopCh := p.stopCh
	p.mu.Unlock()

	p.log.Warn("result channel full, delivering motion result in background",
		zap.Stringer("action", r.Command.Action),
		zap.Uint64("token", r.Command.Token))
	go func() {
		defer p.sending.Done()
		select {
		case p.resultCh <- r:
		case <-stopCh:
			p.log.Warn("pool stopped, discarding motion result",
				zap.Stringer("action", r.Command.Action),
				zap.Uint64("token", r.Command.Token))
		}
	}()
	return true
}

// ReceiveResult 接收執行結果；Pool 關閉後回傳 ErrPoolClosed
func (p *Pool) ReceiveResult() (Result, error) {
	select {
	case result, ok := <-p.resultCh:
		if !ok {
			return Result{}, ErrPoolClosed
		}
		return result, nil
	case <-p.stopCh:
		return Result{}, ErrPoolClosed
	}
}

// Stop 優雅地關閉 Worker Pool
//  1. 設定 stopped 標誌並關閉 stopCh
//  2. 等待進行中的 Submit 與背景結果傳送返回
//  3. 關閉 taskCh，結束 Worker 的 range 循環
//  4. 等待所有 Worker 完成當前任務
//  5. 關閉 resultCh
func (p *Pool) Stop() {
	p.mu.Lock()
	if !p.started || p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	close(p.stopCh)
	p.mu.Unlock()

	p.sending.Wait()
	close(p.taskCh)
	p.wg.Wait()

	close(p.resultCh)
}

// GetWorkerCount 返回當前 Worker 數量
func (p *Pool) GetWorkerCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.workers)
}

// IsStarted 檢查 Pool 是否已啟動
func (p *Pool) IsStarted() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.started
}
