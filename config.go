package main

import (
	"sort"
	"strings"
	"time"
)

// Algorithm classes the pool ranks workers by, with the algorithm used to
// benchmark each one.
var algoClassBenchmarks = map[string]string{
	"cn":       "cn/1",
	"cn-fast":  "cn/msr",
	"cn-lite":  "cn-lite/1",
	"cn-heavy": "cn-heavy/0",
}

func algoClasses() []string {
	classes := make([]string, 0, len(algoClassBenchmarks))
	for class := range algoClassBenchmarks {
		classes = append(classes, class)
	}
	sort.Strings(classes)
	return classes
}

// algoMiner is a worker that cannot report its own algorithm.
type algoMiner struct {
	Algo    string
	Command string
}

type Config struct {
	ConfigPath string

	MinerPort   int
	Pools       []string
	Algos       map[string]string
	AlgoPerf    map[string]float64
	User        string
	Pass        string
	LogFile     string
	Watchdog    int
	DefaultAlgo string

	StatusListen     string
	StateDB          string
	ZMQPublish       string
	DiscordBotToken  string
	DiscordChannelID string

	LoginTimeout      time.Duration
	BenchmarkTimeout  time.Duration
	PrimaryRetryDelay time.Duration
	FailoverBackoff   time.Duration
	ReadyTimeout      time.Duration
	WatchdogInterval  time.Duration

	// Workers named on the command line; validated during calibration.
	SmartMiners []string
	AlgoMiners  []algoMiner

	NoConfigSave bool
}

// EffectiveConfig is a log-friendly view of the settings that shape runtime
// behaviour. Secrets are reduced to a set/unset flag.
type EffectiveConfig struct {
	ConfigPath        string             `json:"config_path"`
	MinerPort         int                `json:"miner_port"`
	Pools             []string           `json:"pools"`
	Algos             []string           `json:"algos"`
	AlgoPerf          map[string]float64 `json:"algo_perf"`
	User              string             `json:"user"`
	Pass              string             `json:"pass"`
	LogFile           string             `json:"log_file,omitempty"`
	Watchdog          int                `json:"watchdog"`
	DefaultAlgo       string             `json:"default_algo"`
	StatusListen      string             `json:"status_listen,omitempty"`
	StateDB           string             `json:"state_db,omitempty"`
	ZMQPublish        string             `json:"zmq_publish,omitempty"`
	DiscordConfigured bool               `json:"discord_configured"`
	LoginTimeout      string             `json:"login_timeout"`
	BenchmarkTimeout  string             `json:"benchmark_timeout"`
	PrimaryRetryDelay string             `json:"primary_retry_delay"`
	FailoverBackoff   string             `json:"failover_backoff"`
	ReadyTimeout      string             `json:"ready_timeout"`
	WatchdogInterval  string             `json:"watchdog_interval"`
	NoConfigSave      bool               `json:"no_config_save,omitempty"`
}

func (cfg Config) Effective() EffectiveConfig {
	algos := make([]string, 0, len(cfg.Algos))
	for algo := range cfg.Algos {
		algos = append(algos, algo)
	}
	sort.Strings(algos)
	perf := make(map[string]float64, len(cfg.AlgoPerf))
	for class, rate := range cfg.AlgoPerf {
		perf[class] = rate
	}
	return EffectiveConfig{
		ConfigPath:        cfg.ConfigPath,
		MinerPort:         cfg.MinerPort,
		Pools:             append([]string(nil), cfg.Pools...),
		Algos:             algos,
		AlgoPerf:          perf,
		User:              cfg.User,
		Pass:              cfg.Pass,
		LogFile:           cfg.LogFile,
		Watchdog:          cfg.Watchdog,
		DefaultAlgo:       cfg.DefaultAlgo,
		StatusListen:      cfg.StatusListen,
		StateDB:           cfg.StateDB,
		ZMQPublish:        cfg.ZMQPublish,
		DiscordConfigured: cfg.discordEnabled(),
		LoginTimeout:      cfg.LoginTimeout.String(),
		BenchmarkTimeout:  cfg.BenchmarkTimeout.String(),
		PrimaryRetryDelay: cfg.PrimaryRetryDelay.String(),
		FailoverBackoff:   cfg.FailoverBackoff.String(),
		ReadyTimeout:      cfg.ReadyTimeout.String(),
		WatchdogInterval:  cfg.WatchdogInterval.String(),
		NoConfigSave:      cfg.NoConfigSave,
	}
}

func (cfg Config) discordEnabled() bool {
	return strings.TrimSpace(cfg.DiscordBotToken) != "" && strings.TrimSpace(cfg.DiscordChannelID) != ""
}

func (cfg Config) watchdogThreshold() time.Duration {
	if cfg.Watchdog <= 0 {
		return 0
	}
	return time.Duration(cfg.Watchdog) * time.Second
}

// bindAlgo registers command for algo and its cryptonight/cn spellings.
func (cfg *Config) bindAlgo(algo, command string) {
	if cfg.Algos == nil {
		cfg.Algos = make(map[string]string)
	}
	for _, name := range algoAliases(algo) {
		cfg.Algos[name] = command
	}
}

func algoAliases(algo string) []string {
	out := []string{algo}
	for _, alias := range []string{
		strings.Replace(algo, "cryptonight", "cn", 1),
		strings.Replace(algo, "cn", "cryptonight", 1),
	} {
		dup := false
		for _, have := range out {
			if have == alias {
				dup = true
				break
			}
		}
		if !dup {
			out = append(out, alias)
		}
	}
	return out
}

func (cfg Config) boundAlgos() []string {
	algos := make([]string, 0, len(cfg.Algos))
	for algo := range cfg.Algos {
		algos = append(algos, algo)
	}
	sort.Strings(algos)
	return algos
}

func (cfg *Config) addPool(pool string) bool {
	for _, have := range cfg.Pools {
		if have == pool {
			return false
		}
	}
	cfg.Pools = append(cfg.Pools, pool)
	return true
}
