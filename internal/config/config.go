package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// EngineConfig 交易引擎进程的外部接口：健康检查端点 + 启动命令。
// EngineConfig describes the trading engine's external surface: a health
// endpoint and a process-spawn command. The engine itself is opaque.
type EngineConfig struct {
	Command            []string `json:"command"`
	HealthURL          string   `json:"health_url"`
	QueryURL           string   `json:"query_url"`
	ShutdownURL        string   `json:"shutdown_url"`
	LockDir            string   `json:"lock_dir"`
	WatchdogIntervalMS int      `json:"watchdog_interval_ms"`
	StartTimeoutMS     int      `json:"start_timeout_ms"`
	PollIntervalMS     int      `json:"poll_interval_ms"`
}

type CheckpointConfig struct {
	Dir      string `json:"dir"`
	MaxCount int    `json:"max_count"`
}

// ExecutorConfig 工具执行超时配置：默认 30s，慢类别（模拟/回测）单独放宽。
// ExecutorConfig holds tool execution timeouts: 30s baseline with slower
// categories (simulation/backtest) widened per category.
type ExecutorConfig struct {
	DefaultTimeoutMS   int            `json:"default_timeout_ms"`
	CategoryTimeoutsMS map[string]int `json:"category_timeouts_ms"`
}

type LogConfig struct {
	Level string `json:"level"`
	File  string `json:"file"`
}

type StorageConfig struct {
	DBPath string `json:"db_path"`
}

type Config struct {
	Engine     EngineConfig     `json:"engine"`
	Checkpoint CheckpointConfig `json:"checkpoint"`
	Executor   ExecutorConfig   `json:"executor"`
	Log        LogConfig        `json:"log"`
	Storage    StorageConfig    `json:"storage"`
}

type fileEngineConfig struct {
	Command            *[]string `json:"command"`
	HealthURL          *string   `json:"health_url"`
	QueryURL           *string   `json:"query_url"`
	ShutdownURL        *string   `json:"shutdown_url"`
	LockDir            *string   `json:"lock_dir"`
	WatchdogIntervalMS *int      `json:"watchdog_interval_ms"`
	StartTimeoutMS     *int      `json:"start_timeout_ms"`
	PollIntervalMS     *int      `json:"poll_interval_ms"`
}

type fileCheckpointConfig struct {
	Dir      *string `json:"dir"`
	MaxCount *int    `json:"max_count"`
}

type fileExecutorConfig struct {
	DefaultTimeoutMS   *int            `json:"default_timeout_ms"`
	CategoryTimeoutsMS *map[string]int `json:"category_timeouts_ms"`
}

type fileConfig struct {
	Engine     *fileEngineConfig     `json:"engine"`
	Checkpoint *fileCheckpointConfig `json:"checkpoint"`
	Executor   *fileExecutorConfig   `json:"executor"`
	Log        *LogConfig            `json:"log"`
	Storage    *StorageConfig        `json:"storage"`
}

func Default() Config {
	return Config{
		Engine: EngineConfig{
			HealthURL:          "http://127.0.0.1:18210/status",
			QueryURL:           "http://127.0.0.1:18210/query",
			ShutdownURL:        "http://127.0.0.1:18210/shutdown",
			WatchdogIntervalMS: 15000,
			StartTimeoutMS:     30000,
			PollIntervalMS:     500,
		},
		Checkpoint: CheckpointConfig{
			MaxCount: 50,
		},
		Executor: ExecutorConfig{
			DefaultTimeoutMS: 30000,
			CategoryTimeoutsMS: map[string]int{
				"simulation": 60000,
				"backtest":   300000,
			},
		},
		Log: LogConfig{Level: "info"},
	}
}

// Load 读取项目配置 <root>/.tino/config.json 并与内置默认值合并。
// 文件缺失或损坏时回退到默认值：返回的 Config 永远可用，error 仅供调用方记录。
// Load reads <root>/.tino/config.json merged over built-in defaults. A missing
// or malformed file falls back to defaults: the returned Config is always
// usable and the error is advisory, for the caller to log.
func Load(root string) (Config, error) {
	cfg := Default()

	home, err := os.UserHomeDir()
	if err == nil {
		if mergeErr := mergeFromFile(&cfg, filepath.Join(home, ".tino", "config.json")); mergeErr != nil {
			normalize(&cfg, root)
			return cfg, mergeErr
		}
	}

	if err := mergeFromFile(&cfg, filepath.Join(root, ".tino", "config.json")); err != nil {
		cfg = Default()
		normalize(&cfg, root)
		return cfg, err
	}

	normalize(&cfg, root)
	return cfg, nil
}

func mergeFromFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read config %q: %w", path, err)
	}

	var fc fileConfig
	if err := json.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("parse config %q: %w", path, err)
	}
	applyFileConfig(cfg, fc)
	return nil
}

func applyFileConfig(cfg *Config, fc fileConfig) {
	if fc.Engine != nil {
		e := fc.Engine
		if e.Command != nil {
			cfg.Engine.Command = append([]string(nil), (*e.Command)...)
		}
		if e.HealthURL != nil {
			cfg.Engine.HealthURL = *e.HealthURL
		}
		if e.QueryURL != nil {
			cfg.Engine.QueryURL = *e.QueryURL
		}
		if e.ShutdownURL != nil {
			cfg.Engine.ShutdownURL = *e.ShutdownURL
		}
		if e.LockDir != nil {
			cfg.Engine.LockDir = *e.LockDir
		}
		if e.WatchdogIntervalMS != nil {
			cfg.Engine.WatchdogIntervalMS = *e.WatchdogIntervalMS
		}
		if e.StartTimeoutMS != nil {
			cfg.Engine.StartTimeoutMS = *e.StartTimeoutMS
		}
		if e.PollIntervalMS != nil {
			cfg.Engine.PollIntervalMS = *e.PollIntervalMS
		}
	}
	if fc.Checkpoint != nil {
		if fc.Checkpoint.Dir != nil {
			cfg.Checkpoint.Dir = *fc.Checkpoint.Dir
		}
		if fc.Checkpoint.MaxCount != nil {
			cfg.Checkpoint.MaxCount = *fc.Checkpoint.MaxCount
		}
	}
	if fc.Executor != nil {
		if fc.Executor.DefaultTimeoutMS != nil {
			cfg.Executor.DefaultTimeoutMS = *fc.Executor.DefaultTimeoutMS
		}
		if fc.Executor.CategoryTimeoutsMS != nil {
			for k, v := range *fc.Executor.CategoryTimeoutsMS {
				cfg.Executor.CategoryTimeoutsMS[k] = v
			}
		}
	}
	if fc.Log != nil {
		if strings.TrimSpace(fc.Log.Level) != "" {
			cfg.Log.Level = fc.Log.Level
		}
		if strings.TrimSpace(fc.Log.File) != "" {
			cfg.Log.File = fc.Log.File
		}
	}
	if fc.Storage != nil && strings.TrimSpace(fc.Storage.DBPath) != "" {
		cfg.Storage.DBPath = fc.Storage.DBPath
	}
}

func normalize(cfg *Config, root string) {
	root = strings.TrimSpace(root)
	if root == "" {
		root = "."
	}
	if strings.TrimSpace(cfg.Checkpoint.Dir) == "" {
		cfg.Checkpoint.Dir = filepath.Join(root, ".tino", "checkpoints")
	}
	if cfg.Checkpoint.MaxCount <= 0 {
		cfg.Checkpoint.MaxCount = 50
	}
	if strings.TrimSpace(cfg.Engine.LockDir) == "" {
		cfg.Engine.LockDir = filepath.Join(os.TempDir(), "tino-engine")
	}
	if cfg.Engine.WatchdogIntervalMS <= 0 {
		cfg.Engine.WatchdogIntervalMS = 15000
	}
	if cfg.Engine.StartTimeoutMS <= 0 {
		cfg.Engine.StartTimeoutMS = 30000
	}
	if cfg.Engine.PollIntervalMS <= 0 {
		cfg.Engine.PollIntervalMS = 500
	}
	if cfg.Executor.DefaultTimeoutMS <= 0 {
		cfg.Executor.DefaultTimeoutMS = 30000
	}
	if cfg.Executor.CategoryTimeoutsMS == nil {
		cfg.Executor.CategoryTimeoutsMS = Default().Executor.CategoryTimeoutsMS
	}
	if strings.TrimSpace(cfg.Storage.DBPath) == "" {
		cfg.Storage.DBPath = filepath.Join(root, ".tino", "tino.db")
	}
}
