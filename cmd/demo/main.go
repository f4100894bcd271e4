package main

// ============================================================================
// 模擬列印示範
// 在暫存目錄中啟動控制器，開機回到 Home、載入列印資料、列印並評分，
// 同時印出每一份發佈的狀態文件。
//
//   go run ./cmd/demo [layers]
// ============================================================================

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/ChuLiYu/ember-engine/internal/command"
	"github.com/ChuLiYu/ember-engine/internal/controller"
	"github.com/ChuLiYu/ember-engine/internal/logger"
	"github.com/ChuLiYu/ember-engine/internal/settings"
	"github.com/ChuLiYu/ember-engine/internal/status"
	"github.com/ChuLiYu/ember-engine/internal/storage/wal"
	"github.com/ChuLiYu/ember-engine/internal/worker"
	"github.com/ChuLiYu/ember-engine/pkg/types"
)

func main() {
	layers := 5
	if len(os.Args) > 1 {
		n, err := strconv.Atoi(os.Args[1])
		if err != nil || n < 1 {
			fmt.Println("Usage: go run ./cmd/demo [layers]")
			os.Exit(1)
		}
		layers = n
	}

	dir, err := os.MkdirTemp("", "ember-demo-")
	if err != nil {
		log.Fatalf("Failed to create work directory: %v", err)
	}
	defer os.RemoveAll(dir)

	zl := logger.New("WARN", "CONSOLE")
	defer zl.Sync()

	cfg := controller.DefaultConfig()
	cfg.StatusPath = filepath.Join(dir, "printer_status")
	cfg.JournalPath = filepath.Join(dir, "journal.log")
	cfg.RepublishInterval = 0
	cfg.Simulator = worker.SimulatorConfig{Scale: 0.2}

	ctrl, err := controller.NewController(cfg, controller.Deps{
		Settings: settings.NewStore(filepath.Join(dir, "settings.yaml")),
		Logger:   zl,
	})
	if err != nil {
		log.Fatalf("Failed to create controller: %v", err)
	}

	docs, unsubscribe := ctrl.Subscribe(256)
	defer unsubscribe()
	printed := make(chan struct{})
	go func() {
		defer close(printed)
		for doc := range docs {
			printDocument(doc)
		}
	}()

	if err := ctrl.Start(); err != nil {
		log.Fatalf("Failed to start controller: %v", err)
	}
	fmt.Printf("✓ Controller started (work dir: %s)\n\n", dir)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	steps := []struct {
		line  string
		state types.PrintEngineState
	}{
		{"doorclosed", types.DoorClosedState},
		{"reset", types.HomeState},
		{fmt.Sprintf("showprintdataloaded %d demo_cube.tar.gz demo-job Demo Cube", layers), types.HomeState},
		{"button2", types.GettingFeedbackState},
		{"rate succeeded", types.HomeState},
	}

	for _, step := range steps {
		fmt.Printf("\n▶ %s\n", step.line)
		if err := submit(ctrl, step.line); err != nil {
			zl.Error("command failed", zap.String("command", step.line), zap.Error(err))
			break
		}
		if !waitFor(ctrl, step.state, sigChan) {
			fmt.Println("\nInterrupted")
			break
		}
	}

	ctrl.Stop()
	<-printed

	stats, err := wal.GetWALStats(cfg.JournalPath)
	if err != nil {
		log.Fatalf("Failed to read journal: %v", err)
	}
	fmt.Printf("\n📒 Journal: %d records (%d entering, %d commands, %d faults)\n",
		stats.TotalEvents, stats.EventTypes[wal.EventEntering],
		stats.EventTypes[wal.EventCommand], stats.EventTypes[wal.EventFault])
}

func submit(ctrl *controller.Controller, line string) error {
	in, err := command.Parse(line)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return ctrl.Submit(ctx, in)
}

// waitFor 等待引擎進入 state；收到中斷訊號時回傳 false
func waitFor(ctrl *controller.Controller, state types.PrintEngineState, sigChan <-chan os.Signal) bool {
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	deadline := time.After(time.Minute)
	for ctrl.Snapshot().State != state {
		select {
		case <-sigChan:
			return false
		case <-deadline:
			return false
		case <-ticker.C:
		}
	}
	return true
}

func printDocument(data []byte) {
	doc, err := status.Parse(data)
	if err != nil {
		fmt.Printf("  ! unreadable document: %v\n", err)
		return
	}
	line := fmt.Sprintf("  %-8s %-24s %-18s", doc.Change, doc.State, doc.UISubState)
	if doc.TotalLayers > 0 {
		line += fmt.Sprintf(" layer %d/%d %3ds", doc.Layer, doc.TotalLayers, doc.SecondsLeft)
	}
	if doc.IsError {
		line += fmt.Sprintf(" ❌ %d %s", doc.ErrorCode, doc.ErrorMessage)
	}
	fmt.Println(line)
}
