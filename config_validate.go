package main

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"
)

var (
	errNoPools = errors.New("no pools specified")
	errNoAlgos = errors.New("no algorithm miners are configured")
)

func validateConfig(cfg Config) error {
	if cfg.MinerPort <= 0 || cfg.MinerPort > 65535 {
		return fmt.Errorf("miner_port must be between 1 and 65535, got %d", cfg.MinerPort)
	}
	if cfg.Watchdog < 0 {
		return fmt.Errorf("watchdog cannot be negative")
	}
	for _, pool := range cfg.Pools {
		if _, err := parsePoolEndpoint(pool); err != nil {
			return fmt.Errorf("pool %q: %w", pool, err)
		}
	}
	for algo, command := range cfg.Algos {
		if strings.TrimSpace(command) == "" {
			return fmt.Errorf("algo %q has an empty miner command", algo)
		}
	}
	for class, rate := range cfg.AlgoPerf {
		if rate < 0 {
			return fmt.Errorf("algo_perf %s cannot be negative", class)
		}
	}
	if strings.TrimSpace(cfg.DefaultAlgo) == "" {
		return fmt.Errorf("default_algo is required")
	}
	if cfg.StatusListen != "" {
		if _, _, err := net.SplitHostPort(cfg.StatusListen); err != nil {
			return fmt.Errorf("status_listen %q: %w", cfg.StatusListen, err)
		}
	}
	if cfg.ZMQPublish != "" && !strings.Contains(cfg.ZMQPublish, "://") {
		return fmt.Errorf("zmq_publish %q must be a zmq endpoint such as tcp://127.0.0.1:28400", cfg.ZMQPublish)
	}
	if (cfg.DiscordBotToken == "") != (cfg.DiscordChannelID == "") {
		return fmt.Errorf("discord_bot_token and discord_channel_id must be set together")
	}
	for name, d := range map[string]time.Duration{
		"login":             cfg.LoginTimeout,
		"benchmark":         cfg.BenchmarkTimeout,
		"primary retry":     cfg.PrimaryRetryDelay,
		"failover back-off": cfg.FailoverBackoff,
		"ready":             cfg.ReadyTimeout,
		"watchdog interval": cfg.WatchdogInterval,
	} {
		if d <= 0 {
			return fmt.Errorf("%s timeout must be > 0", name)
		}
	}
	return nil
}

// validateSteadyState checks what must hold before pools are contacted.
func validateSteadyState(cfg Config) error {
	if len(cfg.Pools) == 0 {
		return errNoPools
	}
	if len(cfg.Algos) == 0 {
		return errNoAlgos
	}
	return nil
}
