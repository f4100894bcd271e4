// ============================================================================
// 列印引擎狀態機
// ============================================================================
//
// Package: internal/engine
// 文件: engine.go
// 功能: 接收感測器 / 動作層 / 使用者事件，驅動頂層狀態與 UI 子狀態，
//       並在每次轉換時發佈 Leaving(舊狀態) → Entering(新狀態) 快照
//
// 並發模型:
//   - Handle 只能由單一 goroutine（controller）呼叫
//   - 發佈的快照以 atomic.Pointer 交換，任何 goroutine 都能安全讀取
//   - 對 Motion 的呼叫不阻塞，完成通知以帶 Token 的事件送回
//
// ============================================================================

package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/looplab/fsm"
	"go.uber.org/zap"

	"github.com/ChuLiYu/ember-engine/internal/faults"
	"github.com/ChuLiYu/ember-engine/internal/registry"
	"github.com/ChuLiYu/ember-engine/internal/settings"
	"github.com/ChuLiYu/ember-engine/pkg/types"
)

var (
	// ErrEventRejected 事件在目前狀態下不合法，狀態未改變
	ErrEventRejected = errors.New("event rejected")
	// ErrStaleEvent 完成通知的 Token 已過期
	ErrStaleEvent = errors.New("stale completion")
	// ErrInvalidConfig 設定不合法
	ErrInvalidConfig = errors.New("invalid engine config")
)

// Config 引擎設定
type Config struct {
	MaxUnjamTries  int     `yaml:"max_unjam_tries"`
	LayerSeconds   float64 `yaml:"layer_seconds"`   // 剩餘時間估算用的每層秒數
	MaxTemperature float64 `yaml:"max_temperature"` // 0 表示不檢查
}

// DefaultConfig 預設設定
func DefaultConfig() Config {
	return Config{
		MaxUnjamTries:  3,
		LayerSeconds:   12,
		MaxTemperature: 50,
	}
}

// Validate 檢查設定
func (c Config) Validate() error {
	if c.MaxUnjamTries < 1 {
		return fmt.Errorf("%w: max_unjam_tries must be >= 1, got %d", ErrInvalidConfig, c.MaxUnjamTries)
	}
	if c.LayerSeconds < 0 || math.IsNaN(c.LayerSeconds) {
		return fmt.Errorf("%w: layer_seconds must be >= 0", ErrInvalidConfig)
	}
	if c.MaxTemperature < 0 || math.IsNaN(c.MaxTemperature) {
		return fmt.Errorf("%w: max_temperature must be >= 0", ErrInvalidConfig)
	}
	return nil
}

// Deps 引擎的協作者
type Deps struct {
	Reporter  faults.Reporter
	Errors    *faults.ErrorChannel
	Motion    Motion
	Settings  Settings
	Listeners []Listener
	Logger    *zap.Logger
}

type noMotion struct{}

func (noMotion) Dispatch(Command) {}

// Engine 列印引擎
type Engine struct {
	cfg       Config
	reporter  faults.Reporter
	errs      *faults.ErrorChannel
	motion    Motion
	settings  Settings
	listeners []Listener
	log       *zap.Logger
	reg       *registry.Registry
	machine   *fsm.FSM

	// 以下欄位只在 Handle 的 goroutine 上讀寫
	state        types.PrintEngineState
	subState     types.UISubState
	isError      bool
	errorCode    int
	errorMsg     string
	canLoadData  bool // 回到 Home 或顯示列印資料畫面時設定，開始列印等情況清除
	errno        int
	currentLayer int
	numLayers    int
	temperature  float64
	rating       types.PrintRating
	usbFile      string
	jobID        string
	localJobID   string
	canUpgrade   bool

	loadedLayers int
	token        uint64
	unjamTries   int

	interrupted  types.PrintEngineState // 暫停 / 卡料前的每層狀態
	cancelReturn types.PrintEngineState // ConfirmCancel 取消後回到的狀態
	doorReturn   types.PrintEngineState // 關門後回到的狀態
	origin       types.PrintEngineState // 維護流程的起點

	carry types.UISubState // 本次轉換帶入的子狀態

	published atomic.Pointer[types.StatusSnapshot]
}

// New 建立引擎，初始狀態為 PrinterOn，並發佈一份 NoChange 快照
func New(cfg Config, deps Deps) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	log := deps.Logger
	if log == nil {
		log = zap.NewNop()
	}
	reporter := deps.Reporter
	if reporter == nil {
		reporter = faults.NewLogger(log)
	}
	errs := deps.Errors
	if errs == nil {
		errs = faults.NewErrorChannel()
	}
	var motion Motion = noMotion{}
	if deps.Motion != nil {
		motion = deps.Motion
	}
	var store Settings = settings.NewStore("")
	if deps.Settings != nil {
		store = deps.Settings
	}

	e := &Engine{
		cfg:        cfg,
		reporter:   reporter,
		errs:       errs,
		motion:     motion,
		settings:   store,
		listeners:  append([]Listener(nil), deps.Listeners...),
		log:        log,
		reg:        registry.New(reporter),
		state:      types.PrinterOnState,
		localJobID: uuid.NewString(),
	}

	e.machine = fsm.NewFSM(
		name(types.PrinterOnState),
		transitionTable(),
		fsm.Callbacks{
			"leave_state": e.onLeave,
			"enter_state": e.onEnter,
		},
	)

	e.publish(types.NoChange)
	return e, nil
}

// AddListener 加入快照監聽者；必須在開始處理事件前呼叫
func (e *Engine) AddListener(l Listener) {
	e.listeners = append(e.listeners, l)
}

// Snapshot 回傳最後一次發佈的快照副本
func (e *Engine) Snapshot() types.StatusSnapshot {
	return *e.published.Load()
}

// State 目前的頂層狀態（與 Snapshot 一致）
func (e *Engine) State() types.PrintEngineState {
	return e.published.Load().State
}

// LocalJobID 本機工作 ID
func (e *Engine) LocalJobID() string {
	return e.localJobID
}

// Republish 以 NoChange 重新發佈目前狀態
func (e *Engine) Republish() {
	e.publish(types.NoChange)
}

// Handle 處理單一事件
func (e *Engine) Handle(ctx context.Context, ev Event) error {
	if ev.Token != 0 && ev.Token != e.token {
		e.log.Debug("ignoring stale completion",
			zap.String("event", string(ev.Type)),
			zap.Uint64("token", ev.Token),
			zap.Uint64("current", e.token))
		return fmt.Errorf("%w: %s token %d (current %d)", ErrStaleEvent, ev.Type, ev.Token, e.token)
	}

	if u, ok := subStateEvents[ev.Type]; ok {
		return e.handleSubState(ev, u)
	}

	switch ev.Type {
	case EventDoorClosed:
		return e.handleDoorClosed(ctx, ev)
	case EventDoorOpened:
		return e.handleDoorOpened(ctx, ev)
	case EventMotionCompleted:
		return e.handleMotionCompleted(ctx, ev)
	case EventInitialized, EventLayerLoaded, EventDelayEnded,
		EventExposureStarted, EventExposed, EventUpgradeCompleted:
		return e.fire(ctx, ev, string(ev.Type), types.NoUISubState)
	case EventLayerChecked:
		if e.state != types.GettingFeedbackState || e.currentLayer >= e.numLayers {
			return e.reject(ev)
		}
		return e.fire(ctx, ev, fsmNextLayer, types.NoUISubState)
	case EventRate, EventDismiss:
		return e.handleDismiss(ctx, ev)
	case EventStartPrint:
		return e.handleStartPrint(ctx, ev)
	case EventPause:
		if !e.machine.Can(fsmPause) {
			return e.reject(ev)
		}
		e.interrupted = e.state
		return e.fire(ctx, ev, fsmPause, types.NoUISubState)
	case EventResume:
		return e.handleResume(ctx, ev)
	case EventCancel:
		return e.handleCancel(ctx, ev)
	case EventConfirmCancel:
		return e.fire(ctx, ev, fsmConfirmCancel, types.NoUISubState)
	case EventReset:
		return e.fire(ctx, ev, fsmReset, types.NoUISubState)
	case EventFault:
		return e.handleFault(ctx, ev, ev.Fault)
	case EventJam:
		return e.handleJam(ctx, ev)
	case EventCalibrate:
		return e.enterMaintenance(ctx, ev, fsmCalibrate)
	case EventStartRegistration:
		return e.enterMaintenance(ctx, ev, fsmRegister)
	case EventShowVersion:
		return e.enterMaintenance(ctx, ev, fsmShowVersion)
	case EventEnterDemoMode:
		return e.enterMaintenance(ctx, ev, fsmDemo)
	case EventUpgradeProjector:
		if !e.canUpgrade {
			return e.reject(ev)
		}
		return e.enterMaintenance(ctx, ev, fsmUpgrade)
	case EventConfirm:
		return e.fire(ctx, ev, fsmConfirmUpgrade, types.NoUISubState)
	case EventRegistered:
		if e.state != types.RegisteringState {
			return e.reject(ev)
		}
		carry := types.NoUISubState
		if e.origin == types.HomeState {
			carry = types.Registered
		}
		return e.fire(ctx, ev, returnEvent(e.origin), carry)
	case EventRefresh:
		e.publish(types.NoChange)
		return nil
	case EventTemperature:
		return e.handleTemperature(ctx, ev)
	case EventCanUpgradeProjector:
		if e.canUpgrade != ev.Flag {
			e.canUpgrade = ev.Flag
			e.publish(types.NoChange)
		}
		return nil
	default:
		return e.reject(ev)
	}
}

// ----------------------------------------------------------------------------
// 事件處理
// ----------------------------------------------------------------------------

func (e *Engine) handleDoorClosed(ctx context.Context, ev Event) error {
	switch e.state {
	case types.PrinterOnState:
		return e.fire(ctx, ev, fsmDoorClosed, types.NoUISubState)
	case types.DoorOpenState:
		if e.doorReturn.IsValid() {
			target := e.doorReturn
			e.doorReturn = types.UndefinedPrintEngineState
			return e.fire(ctx, ev, returnEvent(target), types.NoUISubState)
		}
		carry := types.NoUISubState
		if e.subState == types.PrintCanceled {
			carry = types.PrintCanceled
		}
		return e.fire(ctx, ev, fsmRehome, carry)
	default:
		return e.reject(ev)
	}
}

func (e *Engine) handleDoorOpened(ctx context.Context, ev Event) error {
	if !e.machine.Can(fsmDoorOpened) {
		return e.reject(ev)
	}

	switch {
	case e.state.IsPerLayer():
		e.doorReturn = e.state
	case e.state == types.MovingToPauseState, e.state == types.PausedState, e.state == types.MovingToResumeState:
		e.doorReturn = types.PausedState
	case e.state == types.JammedState, e.state == types.UnjammingState:
		e.doorReturn = types.JammedState
	case e.state == types.ConfirmCancelState:
		e.doorReturn = types.ConfirmCancelState
	default:
		e.doorReturn = types.UndefinedPrintEngineState
	}

	carry := types.NoUISubState
	switch {
	case e.state == types.AwaitingCancelationState, e.subState == types.PrintCanceled:
		carry = types.PrintCanceled
	case e.state == types.HomeState && printDataSubStates[e.subState]:
		carry = e.subState
	}
	return e.fire(ctx, ev, fsmDoorOpened, carry)
}

func (e *Engine) handleMotionCompleted(ctx context.Context, ev Event) error {
	switch e.state {
	case types.MovingToResumeState, types.UnjammingState:
		if !e.interrupted.IsValid() {
			return e.reject(ev)
		}
		e.unjamTries = 0
		return e.fire(ctx, ev, returnEvent(e.interrupted), types.NoUISubState)
	case types.HomingState:
		carry := types.NoUISubState
		switch e.subState {
		case types.PrintCompleted, types.PrintCanceled, types.Registered:
			carry = e.subState
		}
		return e.fire(ctx, ev, fsmMotionCompleted, carry)
	case types.AwaitingCancelationState:
		return e.fire(ctx, ev, fsmMotionCompleted, types.PrintCanceled)
	default:
		return e.fire(ctx, ev, fsmMotionCompleted, types.NoUISubState)
	}
}

func (e *Engine) handleDismiss(ctx context.Context, ev Event) error {
	if e.state == types.GettingFeedbackState && e.subState == types.PrintCompleted {
		if ev.Type == EventRate {
			e.rating = ev.Rating
		}
		return e.fire(ctx, ev, fsmFinishPrint, types.PrintCompleted)
	}
	if ev.Type == EventRate {
		return e.reject(ev)
	}

	switch {
	case e.state == types.ConfirmCancelState:
		return e.fire(ctx, ev, returnEvent(e.cancelReturn), types.NoUISubState)
	case e.state.IsMaintenance() && e.state != types.UpgradingProjectorState:
		return e.fire(ctx, ev, returnEvent(e.origin), types.NoUISubState)
	default:
		return e.reject(ev)
	}
}

func (e *Engine) handleStartPrint(ctx context.Context, ev Event) error {
	if !e.machine.Can(fsmStartPrint) {
		return e.reject(ev)
	}
	if e.loadedLayers <= 0 {
		e.reporter.ReportError(faults.NoValidPrintDataAvailable, false, "", faults.NoExtra)
		return e.reject(ev)
	}
	if e.overheated() {
		f := faults.NewFault(faults.OverHeated, 0, formatTemperature(e.temperature), faults.NoExtra)
		return e.handleFault(ctx, ev, f)
	}
	return e.fire(ctx, ev, fsmStartPrint, types.NoUISubState)
}

func (e *Engine) handleResume(ctx context.Context, ev Event) error {
	switch e.state {
	case types.PausedState:
		return e.fire(ctx, ev, fsmResume, types.NoUISubState)
	case types.JammedState:
		e.unjamTries = 1
		return e.fire(ctx, ev, fsmResume, types.NoUISubState)
	case types.ConfirmCancelState:
		return e.fire(ctx, ev, returnEvent(e.cancelReturn), types.NoUISubState)
	default:
		return e.reject(ev)
	}
}

func (e *Engine) handleCancel(ctx context.Context, ev Event) error {
	if e.state == types.ConfirmUpgradeState {
		return e.fire(ctx, ev, returnEvent(e.origin), types.NoUISubState)
	}
	if !e.machine.Can(fsmCancel) {
		return e.reject(ev)
	}
	e.cancelReturn = e.state
	return e.fire(ctx, ev, fsmCancel, types.NoUISubState)
}

func (e *Engine) handleFault(ctx context.Context, ev Event, f faults.Fault) error {
	if f.Message == "" {
		f.Message = faults.Message(f.Code)
	}
	if e.state == types.ErrorState {
		e.recordFault(f)
		e.publish(types.NoChange)
		return nil
	}
	return e.fire(ctx, ev, fsmFault, types.NoUISubState, f)
}

func (e *Engine) handleJam(ctx context.Context, ev Event) error {
	if e.machine.Can(fsmJam) {
		if e.state.IsPerLayer() {
			e.interrupted = e.state
		}
		e.log.Warn("jam detected", zap.String("state", name(e.state)), zap.String("fault", ev.Fault.Error()))
		return e.fire(ctx, ev, fsmJam, types.NoUISubState)
	}

	if e.state == types.UnjammingState && e.unjamTries < e.cfg.MaxUnjamTries {
		e.unjamTries++
		e.log.Warn("retrying jam recovery", zap.Int("attempt", e.unjamTries), zap.Int("max", e.cfg.MaxUnjamTries))
		e.token++
		e.motion.Dispatch(Command{Action: ActionRecoverFromJam, Token: e.token, Layer: e.currentLayer})
		return nil
	}

	msg := ev.Fault.Message
	if msg == "" {
		msg = faults.Message(faults.MotorError)
	}
	return e.handleFault(ctx, ev, faults.Fault{Code: faults.MotorError, Errno: ev.Fault.Errno, Message: msg, Fatal: true})
}

func (e *Engine) enterMaintenance(ctx context.Context, ev Event, event string) error {
	if !e.machine.Can(event) {
		return e.reject(ev)
	}
	// 從版本畫面進入時保留原本的來源
	if e.state != types.ShowingVersionState {
		e.origin = e.state
	}
	return e.fire(ctx, ev, event, types.NoUISubState)
}

func (e *Engine) handleTemperature(ctx context.Context, ev Event) error {
	changed := e.temperature != ev.Value
	e.temperature = ev.Value
	if e.numLayers > 0 && e.state != types.ErrorState && e.overheated() {
		f := faults.NewFault(faults.OverHeated, 0, formatTemperature(e.temperature), faults.NoExtra)
		return e.handleFault(ctx, ev, f)
	}
	if changed {
		e.publish(types.NoChange)
	}
	return nil
}

func (e *Engine) handleSubState(ev Event, u types.UISubState) error {
	allowed := e.state == types.HomeState || (e.state == types.DoorOpenState && printDataSubStates[u])
	if !allowed {
		e.reporter.ReportError(faults.IllegalStateForUISubState, false, name(e.state), faults.NoExtra)
		return e.reject(ev)
	}

	switch ev.Type {
	case EventPrintDataLoaded:
		if ev.Layers <= 0 {
			e.reporter.ReportError(faults.InvalidPrintData, false, ev.FileName, faults.NoExtra)
			e.loadedLayers = 0
			u = types.PrintDataLoadFailed
			break
		}
		e.loadedLayers = ev.Layers
		e.jobID = ev.JobID
		e.settings.SetString(settings.JobName, ev.JobName)
		e.settings.SetString(settings.PrintFile, ev.FileName)
		e.settings.SetString(settings.JobID, ev.JobID)
	case EventUSBDriveFileFound:
		e.usbFile = ev.FileName
	}

	e.subState = u
	e.canLoadData = loadableSubState(u)
	e.publish(types.NoChange)
	return nil
}

// ----------------------------------------------------------------------------
// 轉換
// ----------------------------------------------------------------------------

func (e *Engine) fire(ctx context.Context, ev Event, event string, carry types.UISubState, args ...interface{}) error {
	if !e.machine.Can(event) {
		return e.reject(ev)
	}

	e.carry = carry
	defer func() { e.carry = types.NoUISubState }()

	if err := e.machine.Event(ctx, event, args...); err != nil {
		e.log.Debug("transition failed", zap.String("event", event), zap.Error(err))
		return fmt.Errorf("%w: %s in %s: %v", ErrEventRejected, ev.Type, name(e.state), err)
	}
	return nil
}

func (e *Engine) reject(ev Event) error {
	e.log.Debug("event rejected",
		zap.String("event", string(ev.Type)),
		zap.String("state", name(e.state)))
	return fmt.Errorf("%w: %s in %s", ErrEventRejected, ev.Type, name(e.state))
}

// onLeave 發佈 Leaving(舊狀態)；離開 Error 時清除錯誤與目前的列印
func (e *Engine) onLeave(_ context.Context, ev *fsm.Event) {
	switch ev.Dst {
	case name(types.MovingToStartPositionState), name(types.ShowingVersionState),
		name(types.RegisteringState), name(types.ErrorState):
		e.canLoadData = false
	}
	e.publish(types.Leaving)

	if e.state == types.ErrorState {
		e.isError = false
		e.errorCode = 0
		e.errno = 0
		e.errorMsg = ""
		e.errs.Clear()
		e.clearPrint()
	}
}

// onEnter 更新工作狀態、發佈 Entering(新狀態)，再派送進入動作
func (e *Engine) onEnter(_ context.Context, ev *fsm.Event) {
	dst, ok := registry.ParseState(ev.Dst)
	if !ok {
		e.reporter.ReportError(faults.UnknownPrintEngineState, true, ev.Dst, faults.NoExtra)
		return
	}
	src, _ := registry.ParseState(ev.Src)

	e.state = dst
	switch dst {
	case types.MovingToStartPositionState:
		if ev.Event == fsmStartPrint {
			e.numLayers = e.loadedLayers
			e.currentLayer = 0
			e.rating = types.UnknownPrintFeedback
			e.jobID = e.settings.GetString(settings.JobID)
		}
	case types.InitializingLayerState:
		if ev.Event == fsmMotionCompleted || ev.Event == fsmNextLayer {
			e.currentLayer++
		}
	case types.HomeState:
		e.clearPrint()
		if src == types.HomingState || src == types.AwaitingCancelationState {
			e.rating = types.UnknownPrintFeedback
			if e.jobID != "" {
				e.jobID = ""
				e.settings.SetString(settings.JobID, "")
			}
		}
	case types.ErrorState:
		if len(ev.Args) > 0 {
			if f, ok := ev.Args[0].(faults.Fault); ok {
				e.recordFault(f)
			}
		}
	}
	e.subState = e.entrySubState(dst)
	if dst == types.HomeState {
		e.canLoadData = loadableSubState(e.subState)
	}

	e.publish(types.Entering)

	e.token++
	if act, ok := entryActions[dst]; ok {
		if dst == types.GettingFeedbackState && e.subState == types.PrintCompleted {
			return
		}
		e.motion.Dispatch(Command{Action: act, Token: e.token, Layer: e.currentLayer})
	}
}

func (e *Engine) entrySubState(dst types.PrintEngineState) types.UISubState {
	if e.carry != types.NoUISubState {
		return e.carry
	}
	switch dst {
	case types.HomeState:
		if e.loadedLayers > 0 {
			return types.HavePrintData
		}
		return types.NoPrintData
	case types.GettingFeedbackState:
		if e.numLayers > 0 && e.currentLayer >= e.numLayers {
			return types.PrintCompleted
		}
	}
	return types.NoUISubState
}

func (e *Engine) recordFault(f faults.Fault) {
	e.isError = true
	e.errorCode = int(f.Code)
	e.errno = f.Errno
	e.errorMsg = f.Message
	e.errs.SetLastError(f.Message)
	e.log.Error("print engine fault",
		zap.Int("code", int(f.Code)),
		zap.Int("errno", f.Errno),
		zap.String("message", f.Message))
}

func (e *Engine) clearPrint() {
	e.numLayers = 0
	e.currentLayer = 0
}

func (e *Engine) overheated() bool {
	return e.cfg.MaxTemperature > 0 && e.temperature > e.cfg.MaxTemperature
}

func formatTemperature(c float64) string {
	return fmt.Sprintf("%.1f", c)
}

// ----------------------------------------------------------------------------
// 發佈
// ----------------------------------------------------------------------------

func (e *Engine) publish(change types.StateChange) {
	snap := &types.StatusSnapshot{
		State:                     e.state,
		SubState:                  e.subState,
		Change:                    change,
		IsError:                   e.isError,
		ErrorCode:                 e.errorCode,
		Errno:                     e.errno,
		ErrorMessage:              e.errorMsg,
		CurrentLayer:              e.currentLayer,
		NumLayers:                 e.numLayers,
		EstimatedSecondsRemaining: e.secondsLeft(),
		Temperature:               e.temperature,
		PrintRating:               e.rating,
		USBDriveFileName:          e.usbFile,
		JobID:                     e.jobID,
		LocalJobID:                e.localJobID,
		CanLoadPrintData:          e.canLoadData,
		CanUpgradeProjector:       e.canUpgrade,
	}
	e.published.Store(snap)
	e.logTransition(snap)

	for _, l := range e.listeners {
		l.OnStatus(*snap)
	}
}

func (e *Engine) secondsLeft() int {
	if e.numLayers <= 0 || e.subState == types.PrintCompleted {
		return 0
	}
	remaining := e.numLayers - max(e.currentLayer, 1) + 1
	if remaining < 0 {
		remaining = 0
	}
	return int(math.Round(float64(remaining) * e.cfg.LayerSeconds))
}

func loadableSubState(u types.UISubState) bool {
	return u != types.DownloadingPrintData && u != types.LoadingPrintData
}

func (e *Engine) logTransition(s *types.StatusSnapshot) {
	if s.Change == types.NoChange {
		return
	}

	fields := []zap.Field{
		zap.String("state", name(s.State)),
		zap.Uint64("token", e.token),
	}
	if sub, _ := registry.LookupSubState(s.SubState); s.SubState != types.NoUISubState {
		fields = append(fields, zap.String("substate", sub))
	}

	if s.Change == types.Leaving {
		e.log.Debug("leaving state", fields...)
		return
	}
	if s.State == types.ExposingState {
		fields = append(fields,
			zap.Int("layer", s.CurrentLayer),
			zap.Int("total_layers", s.NumLayers))
	}
	e.log.Info("entering state", fields...)
}
