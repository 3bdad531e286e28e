package ops

import (
	"encoding/json"
	"fmt"
	"os"

	"main/internal/clock"
	"main/internal/paper"
	"main/pkg/conn"
)

// FileConfig mirrors the JSON config layout.
type FileConfig struct {
	Clock   ClockConfig   `json:"clock"`
	Paper   paper.Config  `json:"paper"`
	Monitor MonitorConfig `json:"monitor"`
	Report  ReportConfig  `json:"report"`
}

// ClockConfig describes the tick scheduler. Optional fields are pointers
// so an explicit zero can be told apart from an omitted key.
type ClockConfig struct {
	Mode                 string   `json:"mode"`
	TickSize             float64  `json:"tickSize"`
	StartTime            float64  `json:"startTime"`
	EndTime              float64  `json:"endTime"`
	ProcessorTimeout     float64  `json:"processorTimeout"`
	MaxRetries           *int     `json:"maxRetries"`
	RetryBackoff         *float64 `json:"retryBackoff"`
	ConcurrentProcessors bool     `json:"concurrentProcessors"`
	StatsWindowSize      int      `json:"statsWindowSize"`
}

// MonitorConfig captures network probe settings for the monitor binary.
type MonitorConfig struct {
	CheckURL      string  `json:"checkUrl"`
	CheckInterval float64 `json:"checkInterval"`
	CheckTimeout  float64 `json:"checkTimeout"`
}

// ReportConfig captures optional stats persistence.
type ReportConfig struct {
	Enabled  bool        `json:"enabled"`
	RunID    string      `json:"runId"`
	Database conn.Config `json:"database"`
}

// Loaded is the resolved configuration ready for use.
type Loaded struct {
	Clock   clock.Config
	Paper   paper.Config
	Monitor MonitorConfig
	Report  ReportConfig
}

// Load reads a JSON config file and resolves it against defaults.
func Load(path string) (Loaded, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Loaded{}, err
	}
	var cfg FileConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Loaded{}, err
	}
	return Resolve(cfg)
}

// Resolve fills defaults and validates the file config.
func Resolve(cfg FileConfig) (Loaded, error) {
	mode, err := parseMode(cfg.Clock.Mode)
	if err != nil {
		return Loaded{}, err
	}
	clockCfg, err := resolveClock(cfg.Clock, mode)
	if err != nil {
		return Loaded{}, err
	}
	return Loaded{
		Clock:   clockCfg,
		Paper:   cfg.Paper,
		Monitor: cfg.Monitor,
		Report:  cfg.Report,
	}, nil
}

func parseMode(s string) (clock.Mode, error) {
	switch s {
	case "", "backtest":
		return clock.ModeBacktest, nil
	case "realtime":
		return clock.ModeRealtime, nil
	default:
		return 0, fmt.Errorf("unknown clock mode: %s", s)
	}
}

func resolveClock(cfg ClockConfig, mode clock.Mode) (clock.Config, error) {
	out := clock.DefaultConfig(mode)
	if cfg.TickSize != 0 {
		out.TickSize = cfg.TickSize
	}
	if cfg.StartTime != 0 {
		out.StartTime = cfg.StartTime
	}
	if cfg.EndTime != 0 {
		out.EndTime = cfg.EndTime
	}
	if cfg.ProcessorTimeout != 0 {
		out.ProcessorTimeout = cfg.ProcessorTimeout
	}
	if cfg.MaxRetries != nil {
		out.MaxRetries = *cfg.MaxRetries
	}
	if cfg.RetryBackoff != nil {
		out.RetryBackoff = *cfg.RetryBackoff
	}
	if cfg.StatsWindowSize != 0 {
		out.StatsWindowSize = cfg.StatsWindowSize
	}
	out.ConcurrentProcessors = cfg.ConcurrentProcessors
	if err := out.Validate(); err != nil {
		return clock.Config{}, fmt.Errorf("clock config: %w", err)
	}
	return out, nil
}
