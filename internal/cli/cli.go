// ============================================================================
// Ember CLI - Command Line Interface
// ============================================================================
//
// Package: internal/cli
// File: cli.go
// Purpose: Provides the print engine command line interface based on Cobra
//
// Command Structure:
//   ember-engine                   # Root command
//   ├── run                        # Start the print engine
//   │   └── --stdin               # Also read commands from standard input
//   ├── send <command...>          # Send one command to a running engine
//   │   └── --pipe                # Write to the command pipe instead of HTTP
//   ├── status                     # Show the last published status document
//   │   └── --json                # Print the raw document
//   ├── history                    # Show the transition journal
//   │   ├── --tail, -n            # Number of records to show
//   │   └── --stats               # Show record counts instead
//   ├── monitor                    # Live terminal view of the status file
//   ├── --config, -c               # Config file (default configs/default.yaml)
//   └── --version                  # Display version information
//
// run Command:
//   1. Load config file and initialize the logger
//   2. Load persisted settings and create the Controller
//   3. Start command sources (pipe, front panel, stdin)
//   4. Start HTTP API, gRPC health and metrics servers (if enabled)
//   5. Wait for SIGINT / SIGTERM and shut down gracefully
//
//   Examples:
//     ./ember-engine run
//     ./ember-engine run -c configs/default.yaml --stdin
//
// send Command:
//   The command is validated locally before it is sent:
//     ./ember-engine send showprintdataloaded 120 cube.tar.gz
//     ./ember-engine send button2
//
// ============================================================================

package cli

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ChuLiYu/ember-engine/internal/command"
	"github.com/ChuLiYu/ember-engine/internal/controller"
	"github.com/ChuLiYu/ember-engine/internal/logger"
	"github.com/ChuLiYu/ember-engine/internal/metrics"
	"github.com/ChuLiYu/ember-engine/internal/monitor"
	"github.com/ChuLiYu/ember-engine/internal/server"
	"github.com/ChuLiYu/ember-engine/internal/settings"
	"github.com/ChuLiYu/ember-engine/internal/snapshot"
	"github.com/ChuLiYu/ember-engine/internal/status"
	"github.com/ChuLiYu/ember-engine/internal/storage/wal"
)

// Version 由建置時注入
var Version = "1.0.0"

var configFile string

func BuildCLI() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "ember-engine",
		Short: "Ember: resin printer print engine",
		Long: `Ember drives a stereolithography print engine with:
- A hierarchical print state machine
- A status document published on every state change
- Text commands over a named pipe, HTTP or the front panel buttons
- Prometheus metrics and gRPC health`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "configs/default.yaml", "config file path")

	rootCmd.AddCommand(buildRunCommand())
	rootCmd.AddCommand(buildSendCommand())
	rootCmd.AddCommand(buildStatusCommand())
	rootCmd.AddCommand(buildHistoryCommand())
	rootCmd.AddCommand(buildMonitorCommand())

	return rootCmd
}

// ============================================================================
// run
// ============================================================================

func buildRunCommand() *cobra.Command {
	var stdin bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the print engine",
		Long:  "Start the print engine, its command sources and its status servers",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configFile)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			return runSystem(cfg, stdin)
		},
	}

	cmd.Flags().BoolVar(&stdin, "stdin", false, "also read commands from standard input")
	return cmd
}

func runSystem(cfg *Config, stdin bool) error {
	log := logger.Initialize(cfg.Logging.Level, cfg.Logging.Format)
	defer logger.Sync()

	store := settings.NewStore(cfg.Settings.Path)
	if err := store.Load(); err != nil && !errors.Is(err, settings.ErrNoPath) {
		log.Warn("Failed to load settings, using defaults", zap.Error(err))
	}

	ctrlConfig, err := cfg.controllerConfig()
	if err != nil {
		return err
	}

	ctrl, err := controller.NewController(ctrlConfig, controller.Deps{
		Settings: store,
		Metrics:  metrics.NewCollector(prometheus.DefaultRegisterer),
		Logger:   log.Named("controller"),
	})
	if err != nil {
		return fmt.Errorf("failed to create controller: %w", err)
	}

	if err := ctrl.Start(); err != nil {
		ctrl.Stop()
		return fmt.Errorf("failed to start controller: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	spawn := func(name string, fn func() error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(); err != nil {
				log.Error("component stopped with error", zap.String("component", name), zap.Error(err))
			}
		}()
	}

	lines := command.NewLineSource(ctrl.HandleInput, ctrl.Reporter(), log.Named("commands"))
	if cfg.Commands.Pipe != "" {
		spawn("pipe", func() error { return lines.ServePipe(ctx, cfg.Commands.Pipe) })
	}
	if stdin {
		// 終端機的 stdin 關閉後讀取不一定返回，不加入等待
		go lines.Serve(ctx, os.Stdin)
	}
	if cfg.Commands.SerialPort != "" {
		panel := command.NewFrontPanel(cfg.panelConfig(), ctrl.HandleInput, ctrl.Reporter(), log.Named("panel"))
		spawn("front panel", func() error { return panel.Serve(ctx) })
	}

	if cfg.HTTP.Enabled {
		api := server.NewHTTPServer(ctrl, cfg.httpConfig(), log.Named("http"))
		spawn("http", func() error { return api.Run(ctx) })
	}

	if cfg.GRPC.Enabled {
		lis, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.GRPC.Port))
		if err != nil {
			cancel()
			wg.Wait()
			ctrl.Stop()
			return fmt.Errorf("failed to listen on port %d: %w", cfg.GRPC.Port, err)
		}
		health := server.NewServer(ctrl, log.Named("grpc"))
		spawn("grpc", func() error { return health.Serve(ctx, lis) })
	}

	// 獨立 port 時不隨 ctx 結束，行程結束時一併關閉
	if cfg.Metrics.Enabled && cfg.Metrics.Port != 0 {
		go func() {
			log.Info("Starting metrics server", zap.Int("port", cfg.Metrics.Port))
			if err := metrics.StartServer(cfg.Metrics.Port); err != nil {
				log.Error("Metrics server error", zap.Error(err))
			}
		}()
	}

	log.Info("Print engine started", zap.String("config", configFile))

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	log.Info("Received shutdown signal, stopping gracefully...")

	cancel()
	wg.Wait()
	ctrl.Stop()

	log.Info("Print engine stopped")
	return nil
}

// ============================================================================
// send
// ============================================================================

func buildSendCommand() *cobra.Command {
	var usePipe bool

	cmd := &cobra.Command{
		Use:   "send <command...>",
		Short: "Send a command to a running print engine",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configFile)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()
			return sendCommand(ctx, cfg, strings.Join(args, " "), usePipe, cmd.OutOrStdout())
		},
	}

	cmd.Flags().BoolVar(&usePipe, "pipe", false, "write to the command pipe instead of the HTTP API")
	return cmd
}

func sendCommand(ctx context.Context, cfg *Config, line string, usePipe bool, w io.Writer) error {
	if _, err := command.Parse(line); err != nil {
		return err
	}

	if usePipe || !cfg.HTTP.Enabled {
		if cfg.Commands.Pipe == "" {
			return errors.New("neither the HTTP API nor a command pipe is configured")
		}
		if err := command.WriteLine(cfg.Commands.Pipe, line); err != nil {
			return err
		}
		fmt.Fprintf(w, "sent %q to %s\n", line, cfg.Commands.Pipe)
		return nil
	}

	return postCommand(ctx, commandURL(cfg.HTTP.Addr), line, w)
}

// commandURL 由監聽位址推出本機 URL；":8080" 視為 localhost:8080
func commandURL(addr string) string {
	if strings.HasPrefix(addr, ":") {
		addr = "localhost" + addr
	}
	return "http://" + addr + "/command"
}

type commandReply struct {
	Command string `json:"command"`
	State   string `json:"state"`
	Error   string `json:"error"`
}

func postCommand(ctx context.Context, url, line string, w io.Writer) error {
	body, err := json.Marshal(map[string]string{"command": line})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach print engine: %w", err)
	}
	defer resp.Body.Close()

	var reply commandReply
	if err := json.NewDecoder(resp.Body).Decode(&reply); err != nil {
		return fmt.Errorf("failed to decode reply (HTTP %d): %w", resp.StatusCode, err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("command %q failed (HTTP %d): %s", line, resp.StatusCode, reply.Error)
	}
	fmt.Fprintf(w, "%s accepted, engine is in %s\n", reply.Command, reply.State)
	return nil
}

// ============================================================================
// status
// ============================================================================

func buildStatusCommand() *cobra.Command {
	var raw bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show print engine status",
		Long:  "Display the last status document published by the print engine",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configFile)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			return showStatus(cmd.OutOrStdout(), cfg, raw)
		},
	}

	cmd.Flags().BoolVar(&raw, "json", false, "print the raw status document")
	return cmd
}

func showStatus(w io.Writer, cfg *Config, raw bool) error {
	mgr := snapshot.NewManager(cfg.Status.Path)
	if raw {
		data, err := mgr.ReadRaw()
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, string(data))
		return err
	}

	fmt.Fprintln(w, "\n╔═══════════════════════════════════════════════════════════╗")
	fmt.Fprintln(w, "║           Ember Print Engine Status                       ║")
	fmt.Fprintln(w, "╚═══════════════════════════════════════════════════════════╝")
	fmt.Fprintln(w)

	doc, err := mgr.Load()
	switch {
	case errors.Is(err, snapshot.ErrStatusNotFound):
		fmt.Fprintln(w, "🖨  Engine:")
		fmt.Fprintf(w, "  └─ No status at %s (run 'ember-engine run' to start)\n", mgr.GetPath())
		fmt.Fprintln(w)
	case err != nil:
		return err
	default:
		printDocument(w, doc)
	}

	fmt.Fprintln(w, "📡 Services:")
	fmt.Fprintf(w, "  ├─ HTTP API:  %s\n", enabled(cfg.HTTP.Enabled, cfg.HTTP.Addr))
	fmt.Fprintf(w, "  ├─ gRPC:      %s\n", enabled(cfg.GRPC.Enabled, fmt.Sprintf(":%d", cfg.GRPC.Port)))
	fmt.Fprintf(w, "  └─ Metrics:   %s\n", enabled(cfg.Metrics.Enabled, metricsAddr(cfg)))
	fmt.Fprintln(w)

	fmt.Fprintln(w, "═══════════════════════════════════════════════════════════")
	return nil
}

func printDocument(w io.Writer, doc status.Document) {
	state := doc.State
	if doc.UISubState != "" {
		state += " / " + doc.UISubState
	}

	fmt.Fprintln(w, "🖨  Engine:")
	fmt.Fprintf(w, "  ├─ State:        %s\n", state)
	fmt.Fprintf(w, "  ├─ Temperature:  %.1f°C\n", doc.Temperature)
	fmt.Fprintf(w, "  └─ Spark:        %s / %s\n", orNone(doc.SparkState), orNone(doc.SparkJobState))
	fmt.Fprintln(w)

	if doc.TotalLayers > 0 || doc.JobName != "" {
		fmt.Fprintln(w, "📄 Print:")
		fmt.Fprintf(w, "  ├─ Job:          %s\n", orNone(doc.JobName))
		fmt.Fprintf(w, "  ├─ Layer:        %d / %d\n", doc.Layer, doc.TotalLayers)
		fmt.Fprintf(w, "  ├─ Remaining:    %s\n", time.Duration(doc.SecondsLeft)*time.Second)
		fmt.Fprintf(w, "  └─ Rating:       %s\n", orNone(doc.PrintRating))
		fmt.Fprintln(w)
	}

	if doc.IsError {
		fmt.Fprintln(w, "❌ Error:")
		fmt.Fprintf(w, "  ├─ Code:         %d\n", doc.ErrorCode)
		fmt.Fprintf(w, "  └─ Message:      %s\n", doc.ErrorMessage)
		fmt.Fprintln(w)
	}
}

func enabled(on bool, addr string) string {
	if !on {
		return "⚠️  Disabled"
	}
	return "✅ " + addr
}

func metricsAddr(cfg *Config) string {
	if cfg.Metrics.Port != 0 {
		return fmt.Sprintf("http://localhost:%d/metrics", cfg.Metrics.Port)
	}
	return strings.TrimSuffix(commandURL(cfg.HTTP.Addr), "/command") + "/metrics"
}

func orNone(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// ============================================================================
// history
// ============================================================================

func buildHistoryCommand() *cobra.Command {
	var tail int
	var stats bool

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show the transition journal",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configFile)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			if cfg.Journal.Path == "" {
				return errors.New("no journal path configured")
			}
			if stats {
				return showJournalStats(cmd.OutOrStdout(), cfg.Journal.Path)
			}
			return wal.DumpWAL(cfg.Journal.Path, cmd.OutOrStdout(), tail)
		},
	}

	cmd.Flags().IntVarP(&tail, "tail", "n", 20, "number of records to show")
	cmd.Flags().BoolVar(&stats, "stats", false, "show record counts")
	return cmd
}

func showJournalStats(w io.Writer, path string) error {
	stats, err := wal.GetWALStats(path)
	if err != nil {
		return err
	}

	fmt.Fprintln(w, "📒 Journal:")
	fmt.Fprintf(w, "  ├─ Path:     %s\n", path)
	fmt.Fprintf(w, "  ├─ Records:  %d (seq %d..%d)\n", stats.TotalEvents, stats.FirstSeq, stats.LastSeq)
	if stats.TotalEvents > 0 {
		fmt.Fprintf(w, "  ├─ From:     %s\n", time.UnixMilli(stats.TimeRange[0]).Format(time.RFC3339))
		fmt.Fprintf(w, "  ├─ To:       %s\n", time.UnixMilli(stats.TimeRange[1]).Format(time.RFC3339))
	}
	for _, t := range []wal.EventType{wal.EventEntering, wal.EventLeaving, wal.EventFault, wal.EventCommand} {
		fmt.Fprintf(w, "  ├─ %-9s %d\n", string(t)+":", stats.EventTypes[t])
	}

	states := make([]string, 0, len(stats.States))
	for s := range stats.States {
		states = append(states, s)
	}
	sort.Strings(states)
	fmt.Fprintln(w, "  └─ Entered:")
	for _, s := range states {
		fmt.Fprintf(w, "       %-22s %d\n", s, stats.States[s])
	}
	return nil
}

// ============================================================================
// monitor
// ============================================================================

func buildMonitorCommand() *cobra.Command {
	var interval time.Duration

	cmd := &cobra.Command{
		Use:   "monitor",
		Short: "Watch print engine status in the terminal",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configFile)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			return monitor.Run(cfg.Status.Path, interval)
		},
	}

	cmd.Flags().DurationVar(&interval, "interval", monitor.DefaultInterval, "status file poll interval")
	return cmd
}
