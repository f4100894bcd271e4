// ============================================================================
// Print Engine Metrics - Prometheus 監控指標
// ============================================================================
//
// Package: internal/metrics
// 文件: metrics.go
// 功能: 收集和暴露列印引擎運行指標，支持 Prometheus 監控
//
// 指標分類:
//
//   1. 計數器 (Counter)：
//      - ember_engine_transitions_total{state}: 進入各狀態的次數
//      - ember_engine_faults_total{code,fatal}: 各錯誤碼的回報次數
//      - ember_engine_render_failures_total: 狀態文件無法輸出的次數
//      - ember_engine_rejected_events_total{event}: 被拒絕的事件
//
//   2. 分佈 (Histogram)：
//      - ember_engine_motion_duration_seconds{action,result}: 動作執行時間
//
//   3. 瞬時值 (Gauge)：
//      - ember_engine_state: 目前狀態編號
//      - ember_engine_current_layer / ember_engine_total_layers
//      - ember_engine_seconds_remaining
//      - ember_engine_temperature_celsius
//      - ember_engine_error: 是否處於錯誤狀態
//
// Prometheus 查詢示例:
//
//   # 每小時層數
//   rate(ember_engine_transitions_total{state="Exposing"}[1h]) * 3600
//
//   # 馬達逾時
//   increase(ember_engine_faults_total{code="34"}[1d])
//
// ============================================================================

package metrics

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ChuLiYu/ember-engine/internal/faults"
	"github.com/ChuLiYu/ember-engine/internal/registry"
	"github.com/ChuLiYu/ember-engine/pkg/types"
)

// Collector Prometheus 指標收集器
//
// 實作 faults.Observer 與 engine.Listener（OnStatus）。
type Collector struct {
	transitions    *prometheus.CounterVec
	faults         *prometheus.CounterVec
	renderFailures prometheus.Counter
	rejected       *prometheus.CounterVec
	motion         *prometheus.HistogramVec

	state        prometheus.Gauge
	currentLayer prometheus.Gauge
	totalLayers  prometheus.Gauge
	secondsLeft  prometheus.Gauge
	temperature  prometheus.Gauge
	isError      prometheus.Gauge
}

// NewCollector 建立並註冊指標；reg 為 nil 時使用 prometheus.DefaultRegisterer
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	c := &Collector{
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ember_engine_transitions_total",
			Help: "Number of times the print engine entered each state",
		}, []string{"state"}),
		faults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ember_engine_faults_total",
			Help: "Number of errors reported, by error code",
		}, []string{"code", "fatal"}),
		renderFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ember_engine_render_failures_total",
			Help: "Number of status documents that could not be built",
		}),
		rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ember_engine_rejected_events_total",
			Help: "Number of events rejected in the current state",
		}, []string{"event"}),
		motion: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ember_engine_motion_duration_seconds",
			Help:    "Execution time of motion actions",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"action", "result"}),
		state: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ember_engine_state",
			Help: "Numeric value of the current print engine state",
		}),
		currentLayer: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ember_engine_current_layer",
			Help: "Layer currently being printed",
		}),
		totalLayers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ember_engine_total_layers",
			Help: "Number of layers in the current print",
		}),
		secondsLeft: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ember_engine_seconds_remaining",
			Help: "Estimated seconds remaining in the current print",
		}),
		temperature: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ember_engine_temperature_celsius",
			Help: "Last reported printer temperature",
		}),
		isError: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ember_engine_error",
			Help: "1 while the print engine is in an error state",
		}),
	}

	reg.MustRegister(
		c.transitions, c.faults, c.renderFailures, c.rejected, c.motion,
		c.state, c.currentLayer, c.totalLayers, c.secondsLeft, c.temperature, c.isError,
	)
	return c
}

// OnStatus 依發佈的快照更新指標
func (c *Collector) OnStatus(s types.StatusSnapshot) {
	if s.Change == types.Entering {
		name, ok := registry.LookupState(s.State)
		if !ok {
			name = strconv.Itoa(int(s.State))
		}
		c.transitions.WithLabelValues(name).Inc()
	}
	c.state.Set(float64(s.State))
	c.currentLayer.Set(float64(s.CurrentLayer))
	c.totalLayers.Set(float64(s.NumLayers))
	c.secondsLeft.Set(float64(s.EstimatedSecondsRemaining))
	c.temperature.Set(s.Temperature)
	if s.IsError {
		c.isError.Set(1)
	} else {
		c.isError.Set(0)
	}
}

// RecordFault 實作 faults.Observer
func (c *Collector) RecordFault(code faults.ErrorCode, fatal bool) {
	c.faults.WithLabelValues(strconv.Itoa(int(code)), strconv.FormatBool(fatal)).Inc()
	if code == faults.SerializationError {
		c.renderFailures.Inc()
	}
}

// RecordRejected 記錄被拒絕的事件
func (c *Collector) RecordRejected(event string) {
	c.rejected.WithLabelValues(event).Inc()
}

// ObserveMotion 記錄一個動作的執行時間
func (c *Collector) ObserveMotion(action string, d time.Duration, ok bool) {
	result := "ok"
	if !ok {
		result = "failed"
	}
	c.motion.WithLabelValues(action, result).Observe(d.Seconds())
}

// Transitions 某狀態的進入次數計數器
func (c *Collector) Transitions(state string) prometheus.Counter {
	return c.transitions.WithLabelValues(state)
}

// Rejected 某事件被拒絕的計數器
func (c *Collector) Rejected(event string) prometheus.Counter {
	return c.rejected.WithLabelValues(event)
}

// StartServer 啟動 Prometheus metrics HTTP 伺服器（阻塞）
//
// 參數：
//   - port: HTTP 伺服器端口
func StartServer(port int) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	addr := fmt.Sprintf(":%d", port)
	err := http.ListenAndServe(addr, mux)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}
