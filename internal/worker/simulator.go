package worker

// ============================================================================
// 動作模擬器
// 職責：實作 engine.Motion，將引擎派送的命令轉成帶模擬時間的任務交給 Pool
// ============================================================================

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ChuLiYu/ember-engine/internal/engine"
)

// Durations 每個動作的模擬執行時間
type Durations map[engine.Action]time.Duration

// DefaultDurations 預設模擬時間
func DefaultDurations() Durations {
	return Durations{
		engine.ActionInitializeHardware:  200 * time.Millisecond,
		engine.ActionGoHome:              300 * time.Millisecond,
		engine.ActionMoveToStartPosition: 300 * time.Millisecond,
		engine.ActionLoadLayer:           20 * time.Millisecond,
		engine.ActionPress:               100 * time.Millisecond,
		engine.ActionPressDelay:          50 * time.Millisecond,
		engine.ActionUnpress:             100 * time.Millisecond,
		engine.ActionPreExposureDelay:    50 * time.Millisecond,
		engine.ActionShowLayer:           10 * time.Millisecond,
		engine.ActionExpose:              200 * time.Millisecond,
		engine.ActionSeparate:            150 * time.Millisecond,
		engine.ActionApproach:            150 * time.Millisecond,
		engine.ActionCheckLayer:          5 * time.Millisecond,
		engine.ActionPauseAndInspect:     200 * time.Millisecond,
		engine.ActionResumeFromInspect:   200 * time.Millisecond,
		engine.ActionRecoverFromJam:      250 * time.Millisecond,
		engine.ActionUpgradeProjector:    500 * time.Millisecond,
	}
}

// SimulatorConfig 模擬器設定
type SimulatorConfig struct {
	Durations Durations
	Timeout   time.Duration // 單一動作的最長時間
	Scale     float64       // 模擬時間倍率，0 視為 1

	// Inject 在動作執行前呼叫，回傳非 nil 時該動作以此錯誤結束
	Inject func(cmd engine.Command) error
}

// Simulator 以 Worker Pool 模擬馬達、計時器與投影機
type Simulator struct {
	pool *Pool
	cfg  SimulatorConfig
	log  *zap.Logger
}

// NewSimulator 建立模擬器；pool 必須已啟動
func NewSimulator(pool *Pool, cfg SimulatorConfig, log *zap.Logger) *Simulator {
	if cfg.Durations == nil {
		cfg.Durations = DefaultDurations()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.Scale <= 0 {
		cfg.Scale = 1
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Simulator{pool: pool, cfg: cfg, log: log}
}

// Executor 回傳套用 Inject 的執行函式，供 NewPool 使用
func (cfg SimulatorConfig) Executor() Executor {
	inject := cfg.Inject
	return func(ctx context.Context, task Task) error {
		if inject != nil {
			if err := inject(task.Command); err != nil {
				return err
			}
		}
		return Wait(ctx, task)
	}
}

// Dispatch 實作 engine.Motion；不阻塞
//
// 無法提交時直接產生失敗結果，讓引擎以故障離開目前狀態。
func (s *Simulator) Dispatch(cmd engine.Command) {
	if cmd.Action == engine.ActionNone {
		return
	}
	task := Task{
		Command:  cmd,
		Duration: time.Duration(float64(s.cfg.Durations[cmd.Action]) * s.cfg.Scale),
		Timeout:  s.cfg.Timeout,
	}

	s.log.Debug("dispatching motion",
		zap.Stringer("action", cmd.Action),
		zap.Uint64("token", cmd.Token),
		zap.Int("layer", cmd.Layer),
		zap.Duration("duration", task.Duration))

	if err := s.pool.TrySubmit(task); err != nil {
		s.log.Error("cannot submit motion", zap.Stringer("action", cmd.Action), zap.Error(err))
		if !s.pool.deliver(Result{Command: cmd, Err: fmt.Errorf("submit %s: %w", cmd.Action, err)}) {
			s.log.Error("motion result lost, pool stopped",
				zap.Stringer("action", cmd.Action),
				zap.Uint64("token", cmd.Token))
		}
	}
}
