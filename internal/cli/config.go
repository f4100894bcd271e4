package cli

// ============================================================================
// 設定檔
// 職責：讀取 YAML 設定（預設 configs/default.yaml），並轉換成控制器設定
// ============================================================================

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ChuLiYu/ember-engine/internal/command"
	"github.com/ChuLiYu/ember-engine/internal/controller"
	"github.com/ChuLiYu/ember-engine/internal/engine"
	"github.com/ChuLiYu/ember-engine/internal/server"
	"github.com/ChuLiYu/ember-engine/internal/snapshot"
	"github.com/ChuLiYu/ember-engine/internal/storage/wal"
	"github.com/ChuLiYu/ember-engine/internal/worker"
)

// Config represents the complete system configuration structure
// Maps config file fields through YAML tags
type Config struct {
	Engine engine.Config `yaml:"engine"`

	Motion struct {
		WorkerCount int                      `yaml:"worker_count"`
		Timeout     time.Duration            `yaml:"timeout"`
		Scale       float64                  `yaml:"scale"`     // 模擬時間倍率
		Durations   map[string]time.Duration `yaml:"durations"` // 依動作名稱覆蓋預設時間
	} `yaml:"motion"`

	Status struct {
		Path              string        `yaml:"path"`
		RepublishInterval time.Duration `yaml:"republish_interval"`
		EventBuffer       int           `yaml:"event_buffer"`
	} `yaml:"status"`

	Journal struct {
		Path            string        `yaml:"path"` // 空字串表示不記錄
		SyncOnAppend    bool          `yaml:"sync_on_append"`
		BufferSize      int           `yaml:"buffer_size"`
		FlushInterval   time.Duration `yaml:"flush_interval"`
		CompressRotated bool          `yaml:"compress_rotated"`
		MaxRecords      uint64        `yaml:"max_records"`
	} `yaml:"journal"`

	Settings struct {
		Path string `yaml:"path"`
	} `yaml:"settings"`

	Commands struct {
		Pipe       string `yaml:"pipe"`        // 命令 FIFO，空字串表示不開啟
		SerialPort string `yaml:"serial_port"` // 前面板序列埠，空字串表示沒有前面板
		BaudRate   int    `yaml:"baud_rate"`
	} `yaml:"commands"`

	HTTP struct {
		Enabled         bool   `yaml:"enabled"`
		Addr            string `yaml:"addr"`
		RegistrationURL string `yaml:"registration_url"`
	} `yaml:"http"`

	GRPC struct {
		Enabled bool `yaml:"enabled"`
		Port    int  `yaml:"port"`
	} `yaml:"grpc"`

	Metrics struct {
		Enabled bool `yaml:"enabled"`
		Port    int  `yaml:"port"` // 0 表示掛在 HTTP 伺服器的 /metrics
	} `yaml:"metrics"`

	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`
}

// defaultConfig 設定檔未提供的欄位使用這些值
func defaultConfig() *Config {
	ctrl := controller.DefaultConfig()

	cfg := &Config{Engine: engine.DefaultConfig()}
	cfg.Motion.WorkerCount = ctrl.WorkerCount
	cfg.Motion.Timeout = 5 * time.Second
	cfg.Motion.Scale = 1
	cfg.Status.Path = snapshot.DefaultPath
	cfg.Status.RepublishInterval = ctrl.RepublishInterval
	cfg.Status.EventBuffer = ctrl.EventBuffer
	cfg.Journal.MaxRecords = ctrl.MaxJournalRecords
	cfg.Commands.BaudRate = command.DefaultBaudRate
	cfg.HTTP.Addr = ":8080"
	cfg.GRPC.Port = 50051
	cfg.Logging.Level = "INFO"
	cfg.Logging.Format = "CONSOLE"
	return cfg
}

func loadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := defaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config YAML: %w", err)
	}

	if _, err := cfg.durations(); err != nil {
		return nil, err
	}
	if err := cfg.Engine.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// durations 以預設時間為底，套用設定檔中的覆蓋值
func (c *Config) durations() (worker.Durations, error) {
	d := worker.DefaultDurations()
	for name, v := range c.Motion.Durations {
		a, ok := engine.ParseAction(name)
		if !ok {
			return nil, fmt.Errorf("unknown motion action %q in config", name)
		}
		d[a] = v
	}
	return d, nil
}

// controllerConfig 轉換成控制器設定
func (c *Config) controllerConfig() (controller.Config, error) {
	durations, err := c.durations()
	if err != nil {
		return controller.Config{}, err
	}

	cfg := controller.DefaultConfig()
	cfg.Engine = c.Engine
	cfg.Simulator = worker.SimulatorConfig{
		Durations: durations,
		Timeout:   c.Motion.Timeout,
		Scale:     c.Motion.Scale,
	}
	cfg.WorkerCount = c.Motion.WorkerCount
	cfg.EventBuffer = c.Status.EventBuffer
	cfg.RepublishInterval = c.Status.RepublishInterval
	cfg.StatusPath = c.Status.Path
	cfg.JournalPath = c.Journal.Path
	cfg.Journal = wal.Options{
		SyncOnAppend:    c.Journal.SyncOnAppend,
		BufferSize:      c.Journal.BufferSize,
		FlushInterval:   c.Journal.FlushInterval,
		CompressRotated: c.Journal.CompressRotated,
	}
	cfg.MaxJournalRecords = c.Journal.MaxRecords
	return cfg, nil
}

func (c *Config) panelConfig() command.PanelConfig {
	return command.PanelConfig{
		Port:     c.Commands.SerialPort,
		BaudRate: c.Commands.BaudRate,
	}
}

func (c *Config) httpConfig() server.HTTPConfig {
	return server.HTTPConfig{
		Addr:            c.HTTP.Addr,
		RegistrationURL: c.HTTP.RegistrationURL,
		Metrics:         c.Metrics.Enabled && c.Metrics.Port == 0,
	}
}
