package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml"
)

func isTOMLPath(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".toml")
}

func loadTOMLFile[T any](path string) (*T, bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("read %s: %w", path, err)
	}

	var cfg T
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, true, fmt.Errorf("parse %s: %w", path, err)
	}

	return &cfg, true, nil
}

func loadJSONFile[T any](path string) (*T, bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("read %s: %w", path, err)
	}

	var cfg T
	if err := fastJSONUnmarshal(data, &cfg); err != nil {
		return nil, true, fmt.Errorf("parse %s: %w", path, err)
	}

	return &cfg, true, nil
}

// loadConfigFile reads the persisted document at path. A missing file is not
// an error; ok reports whether it existed.
func loadConfigFile(path string) (*fileConfig, bool, error) {
	if isTOMLPath(path) {
		return loadTOMLFile[fileConfig](path)
	}
	return loadJSONFile[fileConfig](path)
}

func applyFileConfig(cfg *Config, fc fileConfig) {
	if fc.MinerPort > 0 {
		cfg.MinerPort = fc.MinerPort
	}
	for _, pool := range fc.Pools {
		pool = strings.TrimSpace(pool)
		if pool != "" {
			cfg.addPool(pool)
		}
	}
	for algo, command := range fc.Algos {
		if strings.TrimSpace(algo) == "" || strings.TrimSpace(command) == "" {
			continue
		}
		if cfg.Algos == nil {
			cfg.Algos = make(map[string]string)
		}
		cfg.Algos[algo] = command
	}
	for class, rate := range fc.AlgoPerf {
		if _, known := algoClassBenchmarks[class]; !known {
			logger.Warn("ignoring unknown algo class in config", "class", class)
			continue
		}
		cfg.AlgoPerf[class] = rate
	}
	if fc.User != "" {
		cfg.User = fc.User
	}
	if fc.Pass != "" {
		cfg.Pass = fc.Pass
	}
	if fc.LogFile != "" {
		cfg.LogFile = fc.LogFile
	}
	if fc.Watchdog != nil {
		cfg.Watchdog = *fc.Watchdog
	}
	if fc.DefaultAlgo != "" {
		cfg.DefaultAlgo = fc.DefaultAlgo
	}
	if fc.StatusListen != "" {
		cfg.StatusListen = fc.StatusListen
	}
	if fc.StateDB != nil {
		cfg.StateDB = strings.TrimSpace(*fc.StateDB)
	}
	if fc.ZMQPublish != "" {
		cfg.ZMQPublish = fc.ZMQPublish
	}
	if fc.DiscordBotToken != "" {
		cfg.DiscordBotToken = fc.DiscordBotToken
	}
	if fc.DiscordChannelID != "" {
		cfg.DiscordChannelID = fc.DiscordChannelID
	}
	if t := fc.Timeouts; t != nil {
		applySeconds(&cfg.LoginTimeout, t.LoginSeconds)
		applySeconds(&cfg.BenchmarkTimeout, t.BenchmarkSeconds)
		applySeconds(&cfg.PrimaryRetryDelay, t.PrimaryRetrySeconds)
		applySeconds(&cfg.FailoverBackoff, t.FailoverBackoffSeconds)
		applySeconds(&cfg.ReadyTimeout, t.ReadySeconds)
		applySeconds(&cfg.WatchdogInterval, t.WatchdogIntervalSeconds)
	}
}

func applySeconds(dst *time.Duration, seconds *int) {
	if seconds == nil || *seconds <= 0 {
		return
	}
	*dst = time.Duration(*seconds) * time.Second
}

func secondsPtr(d, def time.Duration) *int {
	if d == def {
		return nil
	}
	v := int(d / time.Second)
	return &v
}

func buildFileConfig(cfg Config) fileConfig {
	watchdog := cfg.Watchdog
	fc := fileConfig{
		MinerPort:        cfg.MinerPort,
		Pools:            append([]string(nil), cfg.Pools...),
		Algos:            make(map[string]string, len(cfg.Algos)),
		AlgoPerf:         make(map[string]float64, len(cfg.AlgoPerf)),
		User:             cfg.User,
		Pass:             cfg.Pass,
		LogFile:          cfg.LogFile,
		Watchdog:         &watchdog,
		StatusListen:     cfg.StatusListen,
		ZMQPublish:       cfg.ZMQPublish,
		DiscordBotToken:  cfg.DiscordBotToken,
		DiscordChannelID: cfg.DiscordChannelID,
	}
	if fc.Pools == nil {
		fc.Pools = []string{}
	}
	for algo, command := range cfg.Algos {
		fc.Algos[algo] = command
	}
	for class, rate := range cfg.AlgoPerf {
		fc.AlgoPerf[class] = rate
	}
	if cfg.DefaultAlgo != defaultAlgo {
		fc.DefaultAlgo = cfg.DefaultAlgo
	}
	if cfg.StateDB != defaultStateDBPath() {
		stateDB := cfg.StateDB
		fc.StateDB = &stateDB
	}
	timeouts := timeoutsConfig{
		LoginSeconds:            secondsPtr(cfg.LoginTimeout, defaultLoginTimeout),
		BenchmarkSeconds:        secondsPtr(cfg.BenchmarkTimeout, defaultBenchmarkTimeout),
		PrimaryRetrySeconds:     secondsPtr(cfg.PrimaryRetryDelay, defaultPrimaryRetryDelay),
		FailoverBackoffSeconds:  secondsPtr(cfg.FailoverBackoff, defaultFailoverBackoff),
		ReadySeconds:            secondsPtr(cfg.ReadyTimeout, defaultReadyTimeout),
		WatchdogIntervalSeconds: secondsPtr(cfg.WatchdogInterval, defaultWatchdogInterval),
	}
	if timeouts != (timeoutsConfig{}) {
		fc.Timeouts = &timeouts
	}
	return fc
}

func encodeConfigFile(path string, fc fileConfig) ([]byte, error) {
	if isTOMLPath(path) {
		data, err := toml.Marshal(fc)
		if err != nil {
			return nil, fmt.Errorf("encode toml: %w", err)
		}
		return data, nil
	}
	data, err := fastJSONMarshalIndent(fc)
	if err != nil {
		return nil, fmt.Errorf("encode json: %w", err)
	}
	return append(data, '\n'), nil
}

// saveConfigFile persists the effective configuration so the next run can
// skip calibration steps that already produced results.
func saveConfigFile(path string, cfg Config) error {
	data, err := encodeConfigFile(path, buildFileConfig(cfg))
	if err != nil {
		return err
	}
	return atomicWriteFile(path, data)
}

func atomicWriteFile(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", dir, err)
	}

	tmpFile, err := os.CreateTemp(dir, "config-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()
	defer func() {
		_ = tmpFile.Close()
		if tmpPath != "" {
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err := tmpFile.Write(data); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}

	if err := os.Chmod(tmpPath, 0o644); err != nil {
		return fmt.Errorf("chmod %s: %w", tmpPath, err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename %s to %s: %w", tmpPath, path, err)
	}
	tmpPath = ""
	return nil
}
