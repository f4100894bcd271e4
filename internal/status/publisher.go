// ============================================================================
// 狀態發佈器
// ============================================================================
//
// Package: internal/status
// 文件: publisher.go
// 功能: 讀取一份已發佈的快照，組成對外的狀態文件並以 JSON 編碼
//
// 規則:
//   - 只讀取快照副本，不接觸引擎的工作欄位
//   - 組裝失敗時回報 SerializationError 並回傳 nil，呼叫端視為「稍後再試」
//   - 沒有狀態轉換且協作者輸入不變時，兩次輸出位元組相同
//
// ============================================================================

package status

import (
	"errors"
	"fmt"
	"math"

	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/ChuLiYu/ember-engine/internal/faults"
	"github.com/ChuLiYu/ember-engine/internal/registry"
	"github.com/ChuLiYu/ember-engine/internal/settings"
	"github.com/ChuLiYu/ember-engine/pkg/types"
)

// ErrBuild 無法組成狀態文件
var ErrBuild = errors.New("cannot build status document")

// SnapshotSource 提供最後發佈的快照
type SnapshotSource interface {
	Snapshot() types.StatusSnapshot
}

// ErrorSource 提供最後一則錯誤訊息
type ErrorSource interface {
	GetLastError() string
}

// SettingsStore 讀取列印設定
type SettingsStore interface {
	GetString(key string) string
}

// StatusTranslator 轉換雲端狀態字串
type StatusTranslator interface {
	PrinterState(state types.PrintEngineState, sub types.UISubState, canLoad bool) string
	JobState(state types.PrintEngineState, sub types.UISubState, isPrinting bool) string
}

// Document 對外狀態文件；鍵集合與型別固定，缺值以空字串表示
type Document struct {
	State               string  `json:"State"`
	UISubState          string  `json:"UISubState"`
	Change              string  `json:"Change"`
	IsError             bool    `json:"IsError"`
	ErrorCode           int     `json:"ErrorCode"`
	Errno               int     `json:"Errno"`
	ErrorMessage        string  `json:"ErrorMessage"`
	JobName             string  `json:"JobName"`
	JobID               string  `json:"JobID"`
	Layer               int     `json:"Layer"`
	TotalLayers         int     `json:"TotalLayers"`
	SecondsLeft         int     `json:"SecondsLeft"`
	Temperature         float64 `json:"Temperature"`
	PrintRating         string  `json:"PrintRating"`
	SparkState          string  `json:"SparkState"`
	SparkJobState       string  `json:"SparkJobState"`
	LocalJobID          string  `json:"LocalJobID"`
	CanLoad             bool    `json:"CanLoad"`
	CanUpgradeProjector bool    `json:"CanUpgradeProjector"`
}

// Publisher 狀態發佈器
type Publisher struct {
	source     SnapshotSource
	errs       ErrorSource
	settings   SettingsStore
	translator StatusTranslator
	reg        *registry.Registry
	reporter   faults.Reporter
	log        *zap.Logger
}

// NewPublisher 建立發佈器
func NewPublisher(source SnapshotSource, errs ErrorSource, store SettingsStore,
	translator StatusTranslator, reg *registry.Registry, reporter faults.Reporter,
	logger *zap.Logger) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if reporter == nil {
		reporter = faults.NewLogger(logger)
	}
	if reg == nil {
		reg = registry.New(reporter)
	}
	return &Publisher{
		source:     source,
		errs:       errs,
		settings:   store,
		translator: translator,
		reg:        reg,
		reporter:   reporter,
		log:        logger,
	}
}

// KeyOf 打包 (state, substate)，超出 8 位元容量時回傳錯誤
func KeyOf(state types.PrintEngineState, sub types.UISubState) (types.StatusKey, error) {
	return types.NewStatusKey(state, sub)
}

// KeyOf 同套件函式 KeyOf
func (p *Publisher) KeyOf(state types.PrintEngineState, sub types.UISubState) (types.StatusKey, error) {
	return KeyOf(state, sub)
}

// Build 以目前快照組成文件
func (p *Publisher) Build() (Document, error) {
	return p.BuildFrom(p.source.Snapshot())
}

// BuildFrom 以指定快照組成文件
func (p *Publisher) BuildFrom(snap types.StatusSnapshot) (Document, error) {
	if err := snap.Validate(); err != nil {
		return Document{}, fmt.Errorf("%w: %v", ErrBuild, err)
	}
	if math.IsNaN(snap.Temperature) || math.IsInf(snap.Temperature, 0) {
		return Document{}, fmt.Errorf("%w: temperature is not finite", ErrBuild)
	}

	state := p.reg.StateName(snap.State)
	sub := p.reg.SubStateName(snap.SubState)
	if state == "" || sub == "" {
		return Document{}, fmt.Errorf("%w: unresolvable state %d/%d", ErrBuild, snap.State, snap.SubState)
	}

	doc := Document{
		State:               state,
		UISubState:          sub,
		Change:              snap.Change.String(),
		IsError:             snap.IsError,
		ErrorCode:           snap.ErrorCode,
		Errno:               snap.Errno,
		JobID:               snap.JobID,
		Layer:               snap.CurrentLayer,
		TotalLayers:         snap.NumLayers,
		SecondsLeft:         snap.EstimatedSecondsRemaining,
		Temperature:         snap.Temperature,
		PrintRating:         snap.PrintRating.String(),
		LocalJobID:          snap.LocalJobID,
		CanLoad:             snap.CanLoadPrintData,
		CanUpgradeProjector: snap.CanUpgradeProjector,
	}
	doc.ErrorMessage = snap.ErrorMessage
	if snap.IsError && doc.ErrorMessage == "" && p.errs != nil {
		// 非引擎來源的快照沒有附帶訊息
		doc.ErrorMessage = p.errs.GetLastError()
	}
	if p.settings != nil {
		doc.JobName = p.settings.GetString(settings.JobName)
	}
	if p.translator != nil {
		doc.SparkState = p.translator.PrinterState(snap.State, snap.SubState, snap.CanLoadPrintData)
		doc.SparkJobState = p.translator.JobState(snap.State, snap.SubState, snap.Printing())
	}
	return doc, nil
}

// Render 組成並編碼目前狀態；失敗時回傳 nil
func (p *Publisher) Render() []byte {
	return p.RenderSnapshot(p.source.Snapshot())
}

// RenderSnapshot 組成並編碼指定快照；失敗時回傳 nil
func (p *Publisher) RenderSnapshot(snap types.StatusSnapshot) []byte {
	doc, err := p.BuildFrom(snap)
	if err != nil {
		p.fail(err)
		return nil
	}
	data, err := json.Marshal(doc)
	if err != nil {
		p.fail(err)
		return nil
	}
	return data
}

func (p *Publisher) fail(err error) {
	p.log.Debug("status render failed", zap.Error(err))
	p.reporter.ReportError(faults.SerializationError, false, "", faults.NoExtra)
}

// Parse 解碼狀態文件
func Parse(data []byte) (Document, error) {
	var doc Document
	if len(data) == 0 {
		return doc, fmt.Errorf("%w: empty document", ErrBuild)
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return doc, fmt.Errorf("failed to decode status: %w", err)
	}
	return doc, nil
}
