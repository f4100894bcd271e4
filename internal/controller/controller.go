// ============================================================================
// 列印控制器 - 系統核心協調器
// ============================================================================
//
// Package: internal/controller
// 文件: controller.go
// 功能: 擁有事件通道與唯一呼叫 Engine.Handle 的 goroutine，協調所有模組
//
// 架構設計:
//   控制器負責協調以下組件：
//   - Engine: 列印狀態機，只在事件循環上被呼叫
//   - Simulator / Pool: 執行引擎派送的動作，結果轉為完成事件送回
//   - Publisher: 把每一份快照編成狀態文件
//   - Status file: 原子寫入最新的狀態文件
//   - Journal: 記錄 Entering / Leaving / 故障 / 命令
//   - Metrics: 依快照更新 Prometheus 指標
//
// 核心循環 (4 個並發 Goroutine):
//   1. Event Loop - 依序處理命令、按鍵與動作結果
//   2. Result Loop - 接收 worker 結果，轉成帶 Token 的事件
//   3. Publish Loop - 編碼快照、寫狀態檔、寫日誌、更新指標、通知訂閱者
//   4. Republish Loop - 定期發佈 NoChange 快照
//
// 並發安全:
//   - 引擎的監聽器只把快照放進 statusCh，不做 I/O
//   - stopCh channel 用於優雅關閉所有循環
//   - sync.WaitGroup 確保所有 goroutine 正確退出
//
// ============================================================================

package controller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/ChuLiYu/ember-engine/internal/command"
	"github.com/ChuLiYu/ember-engine/internal/engine"
	"github.com/ChuLiYu/ember-engine/internal/faults"
	"github.com/ChuLiYu/ember-engine/internal/metrics"
	"github.com/ChuLiYu/ember-engine/internal/registry"
	"github.com/ChuLiYu/ember-engine/internal/settings"
	"github.com/ChuLiYu/ember-engine/internal/snapshot"
	"github.com/ChuLiYu/ember-engine/internal/spark"
	"github.com/ChuLiYu/ember-engine/internal/status"
	"github.com/ChuLiYu/ember-engine/internal/storage/wal"
	"github.com/ChuLiYu/ember-engine/internal/worker"
	"github.com/ChuLiYu/ember-engine/pkg/types"
)

var (
	// ErrStopped 控制器已停止
	ErrStopped = errors.New("controller stopped")
	// ErrNotStarted 控制器尚未啟動
	ErrNotStarted = errors.New("controller not started")
	// ErrQueueFull 事件佇列已滿
	ErrQueueFull = errors.New("event queue full")
	// ErrIgnored 按鍵在目前狀態下沒有作用
	ErrIgnored = errors.New("input ignored in current state")
)

// ============================================================================
// 資料結構定義
// ============================================================================

// Config Controller 配置
type Config struct {
	Engine            engine.Config
	Simulator         worker.SimulatorConfig
	WorkerCount       int           // Worker 數量
	EventBuffer       int           // 事件佇列長度
	RepublishInterval time.Duration // NoChange 快照間隔，0 表示不重發
	StatusPath        string        // 狀態文件路徑
	JournalPath       string        // 轉換日誌路徑，空字串表示不記錄
	Journal           wal.Options
	MaxJournalRecords uint64 // 超過時輪替日誌，0 表示不輪替
}

// DefaultConfig 預設設定
func DefaultConfig() Config {
	return Config{
		Engine:            engine.DefaultConfig(),
		WorkerCount:       2,
		EventBuffer:       64,
		RepublishInterval: 5 * time.Second,
		StatusPath:        snapshot.DefaultPath,
		MaxJournalRecords: 10000,
	}
}

// Deps 外部提供的協作者；nil 欄位使用預設值
type Deps struct {
	Settings *settings.Store
	Errors   *faults.ErrorChannel
	Metrics  *metrics.Collector
	Logger   *zap.Logger
}

type request struct {
	ev     engine.Event
	button command.Button
	text   string
	reply  chan error // nil 表示不等待結果
}

// Controller 核心控制器
type Controller struct {
	config     Config
	engine     *engine.Engine
	pool       *worker.Pool
	publisher  *status.Publisher
	statusFile *snapshot.Manager
	journal    *wal.WAL
	metrics    *metrics.Collector
	reporter   faults.Reporter
	settings   *settings.Store
	reg        *registry.Registry
	log        *zap.Logger

	events   chan request
	statusCh chan types.StatusSnapshot
	latest   atomic.Pointer[[]byte]

	subMu   sync.Mutex
	subs    map[int]chan []byte
	nextSub int

	mu      sync.Mutex
	started bool
	stopped bool
	stopCh  chan struct{}
	loopWg  sync.WaitGroup
}

// ============================================================================
// 核心方法實作
// ============================================================================

// NewController 建立 Controller，開啟日誌並建立引擎；尚未啟動任何 goroutine
func NewController(config Config, deps Deps) (*Controller, error) {
	if config.WorkerCount <= 0 {
		config.WorkerCount = 1
	}
	if config.EventBuffer <= 0 {
		config.EventBuffer = 64
	}

	log := deps.Logger
	if log == nil {
		log = zap.NewNop()
	}
	store := deps.Settings
	if store == nil {
		store = settings.NewStore("")
	}
	errs := deps.Errors
	if errs == nil {
		errs = faults.NewErrorChannel()
	}

	var observers []faults.Observer
	if deps.Metrics != nil {
		observers = append(observers, deps.Metrics)
	}
	reporter := faults.NewLogger(log.Named("faults"), observers...)

	c := &Controller{
		config:     config,
		statusFile: snapshot.NewManager(config.StatusPath),
		metrics:    deps.Metrics,
		reporter:   reporter,
		settings:   store,
		reg:        registry.New(reporter),
		log:        log,
		events:     make(chan request, config.EventBuffer),
		statusCh:   make(chan types.StatusSnapshot, 4*config.EventBuffer),
		subs:       make(map[int]chan []byte),
		stopCh:     make(chan struct{}),
	}

	if config.JournalPath != "" {
		journal, err := wal.NewWAL(config.JournalPath, config.Journal)
		if err != nil {
			return nil, fmt.Errorf("failed to open journal: %w", err)
		}
		c.journal = journal
	}

	c.pool = worker.NewPool(config.EventBuffer, config.Simulator.Executor(), log.Named("motion"))
	sim := worker.NewSimulator(c.pool, config.Simulator, log.Named("motion"))

	eng, err := engine.New(config.Engine, engine.Deps{
		Reporter:  reporter,
		Errors:    errs,
		Motion:    sim,
		Settings:  store,
		Listeners: []engine.Listener{engine.ListenerFunc(c.onStatus)},
		Logger:    log.Named("engine"),
	})
	if err != nil {
		c.closeJournal()
		return nil, err
	}
	c.engine = eng

	c.publisher = status.NewPublisher(eng, errs, store, spark.NewTranslator(store, reporter), c.reg, reporter, log.Named("status"))
	return c, nil
}

// Start 啟動 Worker Pool 與四個核心循環
func (c *Controller) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return ErrStopped
	}
	if c.started {
		return nil
	}

	if err := c.pool.Start(c.config.WorkerCount); err != nil {
		return fmt.Errorf("failed to start worker pool: %w", err)
	}

	c.loopWg.Add(4)
	go c.eventLoop()
	go c.resultLoop()
	go c.publishLoop()
	go c.republishLoop()
	c.started = true

	c.log.Info("Controller started",
		zap.Int("workers", c.config.WorkerCount),
		zap.String("status_file", c.statusFile.GetPath()),
		zap.String("journal", c.config.JournalPath))
	return nil
}

// onStatus 引擎監聽器；在事件循環上被呼叫，只轉交快照
func (c *Controller) onStatus(snap types.StatusSnapshot) {
	select {
	case c.statusCh <- snap:
	case <-c.stopCh:
	}
}

// ============================================================================
// 四個核心循環
// ============================================================================

// eventLoop 唯一呼叫 engine.Handle 的 goroutine
func (c *Controller) eventLoop() {
	defer c.loopWg.Done()
	ctx := context.Background()

	for {
		select {
		case <-c.stopCh:
			c.log.Info("Event loop stopped")
			return
		case req := <-c.events:
			err := c.handle(ctx, req)
			if req.reply != nil {
				req.reply <- err
			}
		}
	}
}

func (c *Controller) handle(ctx context.Context, req request) error {
	ev := req.ev
	if req.button != command.ButtonNone {
		var ok bool
		ev, ok = command.Interpret(req.button, c.engine.Snapshot())
		if !ok {
			c.log.Debug("button ignored",
				zap.Stringer("button", req.button),
				zap.String("state", c.reg.StateName(c.engine.State())))
			return fmt.Errorf("%w: %s", ErrIgnored, req.button)
		}
	}

	err := c.engine.Handle(ctx, ev)
	switch {
	case err == nil:
		if req.text != "" {
			c.appendJournal(wal.Event{Type: wal.EventCommand, State: c.reg.StateName(c.engine.State()), Detail: req.text})
		}
	case errors.Is(err, engine.ErrEventRejected):
		if c.metrics != nil {
			c.metrics.RecordRejected(string(ev.Type))
		}
	case errors.Is(err, engine.ErrStaleEvent):
	default:
		c.log.Error("event handling failed", zap.String("event", string(ev.Type)), zap.Error(err))
	}
	return err
}

// resultLoop 處理 Worker 執行結果
// 注意：此循環會一直運行到 Pool 關閉為止
func (c *Controller) resultLoop() {
	defer c.loopWg.Done()
	for {
		result, err := c.pool.ReceiveResult()
		if err != nil {
			c.log.Info("Result loop stopped")
			return
		}

		if c.metrics != nil {
			c.metrics.ObserveMotion(result.Command.Action.String(), result.Duration, result.Success())
		}
		if !result.Success() {
			c.log.Warn("motion failed",
				zap.Stringer("action", result.Command.Action),
				zap.Uint64("token", result.Command.Token),
				zap.Error(result.Err))
		}

		select {
		case c.events <- request{ev: result.Event()}:
		case <-c.stopCh:
			c.log.Info("Result loop stopped")
			return
		}
	}
}

// publishLoop 處理引擎發佈的每一份快照
func (c *Controller) publishLoop() {
	defer c.loopWg.Done()
	for {
		select {
		case <-c.stopCh:
			c.drainStatus()
			c.log.Info("Publish loop stopped")
			return
		case snap := <-c.statusCh:
			c.publish(snap)
		}
	}
}

func (c *Controller) drainStatus() {
	for {
		select {
		case snap := <-c.statusCh:
			c.publish(snap)
		default:
			return
		}
	}
}

func (c *Controller) publish(snap types.StatusSnapshot) {
	if c.metrics != nil {
		c.metrics.OnStatus(snap)
	}
	c.journalStatus(snap)

	doc := c.publisher.RenderSnapshot(snap)
	if doc == nil {
		return
	}
	c.latest.Store(&doc)
	if err := c.statusFile.Write(doc); err != nil {
		c.log.Error("Failed to write status file", zap.String("path", c.statusFile.GetPath()), zap.Error(err))
	}
	c.broadcast(doc)
}

// republishLoop 定期要求引擎發佈 NoChange 快照
func (c *Controller) republishLoop() {
	defer c.loopWg.Done()
	if c.config.RepublishInterval <= 0 {
		<-c.stopCh
		return
	}
	ticker := time.NewTicker(c.config.RepublishInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopCh:
			c.log.Info("Republish loop stopped")
			return
		case <-ticker.C:
			select {
			case c.events <- request{ev: engine.NewEvent(engine.EventRefresh)}:
			default:
				c.log.Debug("event queue busy, skipping republish")
			}
		}
	}
}

// ============================================================================
// 日誌
// ============================================================================

func (c *Controller) journalStatus(snap types.StatusSnapshot) {
	if c.journal == nil || snap.Change == types.NoChange {
		return
	}

	rec := wal.Event{
		Type:        wal.EventEntering,
		State:       c.reg.StateName(snap.State),
		SubState:    c.reg.SubStateName(snap.SubState),
		Layer:       snap.CurrentLayer,
		TotalLayers: snap.NumLayers,
		JobID:       snap.JobID,
	}
	if snap.Change == types.Leaving {
		rec.Type = wal.EventLeaving
	}
	c.appendJournal(rec)

	if snap.Change == types.Entering && snap.State == types.ErrorState {
		rec.Type = wal.EventFault
		rec.ErrorCode = snap.ErrorCode
		rec.Detail = snap.ErrorMessage
		c.appendJournal(rec)
	}
}

func (c *Controller) appendJournal(rec wal.Event) {
	if c.journal == nil {
		return
	}
	if _, err := c.journal.Append(rec, false); err != nil {
		c.log.Error("Failed to append journal record", zap.String("type", string(rec.Type)), zap.Error(err))
		return
	}

	if c.config.MaxJournalRecords > 0 && c.journal.GetLastSeq() >= c.config.MaxJournalRecords {
		backup, err := c.journal.Rotate()
		if err != nil {
			c.log.Error("Failed to rotate journal", zap.Error(err))
			return
		}
		c.log.Info("Journal rotated", zap.String("backup", backup))
	}
}

func (c *Controller) closeJournal() {
	if c.journal == nil {
		return
	}
	if err := c.journal.Close(); err != nil {
		c.log.Error("Failed to close journal", zap.Error(err))
	}
}

// ============================================================================
// 訂閱
// ============================================================================

// Subscribe 訂閱每一份新的狀態文件；回傳的函式取消訂閱
//
// 訂閱者跟不上時會略過文件，不會阻塞發佈。
func (c *Controller) Subscribe(buffer int) (<-chan []byte, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	ch := make(chan []byte, buffer)

	c.subMu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = ch
	c.subMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			c.subMu.Lock()
			if _, ok := c.subs[id]; ok {
				delete(c.subs, id)
				close(ch)
			}
			c.subMu.Unlock()
		})
	}
}

func (c *Controller) broadcast(doc []byte) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	for _, ch := range c.subs {
		select {
		case ch <- doc:
		default:
		}
	}
}

func (c *Controller) closeSubscribers() {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	for id, ch := range c.subs {
		delete(c.subs, id)
		close(ch)
	}
}

// ============================================================================
// 公開方法
// ============================================================================

// Send 非阻塞地送入事件，不等待結果
func (c *Controller) Send(ev engine.Event) error {
	return c.enqueue(request{ev: ev})
}

// Submit 送入一則命令輸入並等待引擎處理結果
func (c *Controller) Submit(ctx context.Context, in command.Input) error {
	req := request{ev: in.Event, button: in.Button, text: in.Text, reply: make(chan error, 1)}
	if err := c.enqueue(req); err != nil {
		return err
	}
	select {
	case err := <-req.reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-c.stopCh:
		return ErrStopped
	}
}

// HandleInput 實作 command.Handler；結果只記錄在日誌
func (c *Controller) HandleInput(in command.Input) {
	req := request{ev: in.Event, button: in.Button, text: in.Text}
	if err := c.enqueue(req); err != nil {
		c.log.Warn("dropping command", zap.String("command", in.Text), zap.Error(err))
	}
}

func (c *Controller) enqueue(req request) error {
	c.mu.Lock()
	started, stopped := c.started, c.stopped
	c.mu.Unlock()
	if stopped {
		return ErrStopped
	}
	if !started {
		return ErrNotStarted
	}

	select {
	case c.events <- req:
		return nil
	case <-c.stopCh:
		return ErrStopped
	default:
		return ErrQueueFull
	}
}

// Snapshot 最後發佈的快照
func (c *Controller) Snapshot() types.StatusSnapshot {
	return c.engine.Snapshot()
}

// Latest 最後一份成功編碼的狀態文件；尚未有文件時為 nil
func (c *Controller) Latest() []byte {
	if p := c.latest.Load(); p != nil {
		return *p
	}
	return nil
}

// Reporter 控制器使用的錯誤回報器
func (c *Controller) Reporter() faults.Reporter {
	return c.reporter
}

// Registry 控制器使用的狀態名稱表
func (c *Controller) Registry() *registry.Registry {
	return c.reg
}

// GetStatus 取得控制器統計資訊
func (c *Controller) GetStatus() map[string]interface{} {
	snap := c.engine.Snapshot()
	return map[string]interface{}{
		"state":       c.reg.StateName(snap.State),
		"substate":    c.reg.SubStateName(snap.SubState),
		"workers":     c.pool.GetWorkerCount(),
		"queued":      len(c.events),
		"journal_seq": c.journal.GetLastSeq(),
	}
}

// Stop 優雅關閉 Controller
//
// 關閉順序：
//  1. close(stopCh) → 通知所有循環停止，事件循環不再呼叫引擎
//  2. pool.Stop()   → 等待進行中的動作結束並關閉 resultCh
//  3. loopWg.Wait() → 等待所有循環退出；publish loop 先寫完剩餘的快照
//  4. 關閉訂閱者、寫回設定、關閉日誌
func (c *Controller) Stop() {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		c.log.Info("Controller already stopped")
		return
	}
	c.stopped = true
	started := c.started
	c.mu.Unlock()

	c.log.Info("Stopping controller...")
	close(c.stopCh)

	if started {
		c.pool.Stop()
		c.loopWg.Wait()
	}

	c.closeSubscribers()
	if err := c.settings.Save(); err != nil && !errors.Is(err, settings.ErrNoPath) {
		c.log.Error("Failed to save settings", zap.Error(err))
	}
	c.closeJournal()
	c.log.Info("Controller stopped")
}
