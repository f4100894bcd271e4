// ============================================================================
// 列印流程整合測試
// ============================================================================
//
// Package: test/integration
// 文件: print_cycle_test.go
// 功能: 以 HTTP API 端到端驅動控制器，驗證狀態檔、日誌與 gRPC 健康狀態
//
// TestPrintCycleOverHTTP:
//   - 開機回到 Home，載入 3 層列印資料
//   - 以右鍵開始列印並評分
//   - 狀態檔與 /status 的文件一致
//
// TestFaultReportedEverywhere:
//   - 分離動作失敗使引擎進入 Error
//   - 狀態文件帶錯誤碼，gRPC 健康檢查為 NOT_SERVING
//   - 左鍵清除錯誤後回到 SERVING
//
// ============================================================================

package integration

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/test/bufconn"

	"github.com/ChuLiYu/ember-engine/internal/controller"
	"github.com/ChuLiYu/ember-engine/internal/engine"
	"github.com/ChuLiYu/ember-engine/internal/metrics"
	"github.com/ChuLiYu/ember-engine/internal/server"
	"github.com/ChuLiYu/ember-engine/internal/settings"
	"github.com/ChuLiYu/ember-engine/internal/snapshot"
	"github.com/ChuLiYu/ember-engine/internal/status"
	"github.com/ChuLiYu/ember-engine/internal/storage/wal"
	"github.com/ChuLiYu/ember-engine/internal/worker"
)

type system struct {
	ctrl   *controller.Controller
	api    *httptest.Server
	status string
	jrnl   string
}

func startSystem(t *testing.T, inject func(engine.Command) error) *system {
	t.Helper()
	dir := t.TempDir()

	cfg := controller.DefaultConfig()
	cfg.StatusPath = filepath.Join(dir, "printer_status")
	cfg.JournalPath = filepath.Join(dir, "journal.log")
	cfg.Journal = wal.Options{SyncOnAppend: true}
	cfg.RepublishInterval = 0
	cfg.Simulator = worker.SimulatorConfig{Scale: 0.01, Timeout: time.Second, Inject: inject}

	ctrl, err := controller.NewController(cfg, controller.Deps{
		Settings: settings.NewStore(filepath.Join(dir, "settings.yaml")),
		Metrics:  metrics.NewCollector(prometheus.NewRegistry()),
		Logger:   zaptest.NewLogger(t),
	})
	require.NoError(t, err)
	require.NoError(t, ctrl.Start())

	api := httptest.NewServer(server.NewHTTPServer(ctrl, server.HTTPConfig{}, zaptest.NewLogger(t)).Handler())
	t.Cleanup(func() {
		api.Close()
		ctrl.Stop()
	})
	return &system{ctrl: ctrl, api: api, status: cfg.StatusPath, jrnl: cfg.JournalPath}
}

func (s *system) send(t *testing.T, line string) int {
	t.Helper()
	resp, err := http.Post(s.api.URL+"/command", "text/plain", strings.NewReader(line))
	require.NoError(t, err)
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	return resp.StatusCode
}

func (s *system) current(t *testing.T) status.Document {
	t.Helper()
	resp, err := http.Get(s.api.URL + "/status")
	require.NoError(t, err)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return status.Document{}
	}
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	doc, err := status.Parse(data)
	require.NoError(t, err)
	return doc
}

func (s *system) waitFor(t *testing.T, state, sub string) status.Document {
	t.Helper()
	var doc status.Document
	require.Eventually(t, func() bool {
		doc = s.current(t)
		return doc.State == state && doc.UISubState == sub
	}, 5*time.Second, 10*time.Millisecond, "waiting for %s/%s", state, sub)
	return doc
}

func (s *system) boot(t *testing.T) {
	t.Helper()
	require.Equal(t, http.StatusOK, s.send(t, "doorclosed"))
	require.Equal(t, http.StatusOK, s.send(t, "reset"))
	s.waitFor(t, "Home", "NoPrintData")
}

func TestPrintCycleOverHTTP(t *testing.T) {
	s := startSystem(t, nil)
	s.boot(t)

	assert.Equal(t, http.StatusConflict, s.send(t, "pause"), "pause is rejected at Home")
	assert.Equal(t, http.StatusBadRequest, s.send(t, "launch"))

	require.Equal(t, http.StatusOK, s.send(t, "showprintdataloaded 3 cube.tar.gz job-7 cube"))
	doc := s.waitFor(t, "Home", "LoadedPrintData")
	assert.True(t, doc.CanLoad)

	require.Equal(t, http.StatusOK, s.send(t, "button2"))
	doc = s.waitFor(t, "GettingFeedback", "PrintCompleted")
	assert.Equal(t, 3, doc.TotalLayers)
	assert.Equal(t, "cube", doc.JobName)

	require.Equal(t, http.StatusOK, s.send(t, "rate succeeded"))
	s.waitFor(t, "Home", "PrintCompleted")

	fromFile, err := snapshot.NewManager(s.status).Load()
	require.NoError(t, err)
	assert.Equal(t, "Home", fromFile.State)

	s.ctrl.Stop()
	stats, err := wal.GetWALStats(s.jrnl)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.States["PrintingLayer"], "one PrintingLayer entry per layer")
	assert.Equal(t, 5, stats.EventTypes[wal.EventCommand], "rejected and unparsable commands are not journaled")
	assert.Zero(t, stats.EventTypes[wal.EventFault])
}

func TestFaultReportedEverywhere(t *testing.T) {
	s := startSystem(t, func(cmd engine.Command) error {
		if cmd.Action == engine.ActionSeparate {
			return errors.New("stepper stalled")
		}
		return nil
	})

	lis := bufconn.Listen(1 << 16)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- server.NewServer(s.ctrl, zaptest.NewLogger(t)).Serve(ctx, lis) }()
	defer func() {
		cancel()
		assert.NoError(t, <-done)
	}()

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	defer conn.Close()
	health := healthpb.NewHealthClient(conn)
	serving := func() healthpb.HealthCheckResponse_ServingStatus {
		resp, err := health.Check(context.Background(), &healthpb.HealthCheckRequest{Service: server.ServiceName})
		if err != nil {
			return healthpb.HealthCheckResponse_UNKNOWN
		}
		return resp.Status
	}

	s.boot(t)
	require.Eventually(t, func() bool {
		return serving() == healthpb.HealthCheckResponse_SERVING
	}, 2*time.Second, 10*time.Millisecond)

	require.Equal(t, http.StatusOK, s.send(t, "showprintdataloaded 2 cube.tar.gz"))
	require.Equal(t, http.StatusOK, s.send(t, "start"))

	doc := s.waitFor(t, "Error", "NoUISubState")
	assert.True(t, doc.IsError)
	assert.NotZero(t, doc.ErrorCode)
	assert.NotEmpty(t, doc.ErrorMessage)
	require.Eventually(t, func() bool {
		return serving() == healthpb.HealthCheckResponse_NOT_SERVING
	}, 2*time.Second, 10*time.Millisecond)

	require.Equal(t, http.StatusOK, s.send(t, "button1"))
	s.waitFor(t, "Home", "HavePrintData")
	require.Eventually(t, func() bool {
		return serving() == healthpb.HealthCheckResponse_SERVING
	}, 2*time.Second, 10*time.Millisecond)
}
