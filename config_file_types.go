package main

// timeoutsConfig holds step and retry timeouts in seconds. Nil keeps the
// built-in default.
type timeoutsConfig struct {
	LoginSeconds            *int `json:"login_seconds,omitempty" toml:"login_seconds,omitempty"`
	BenchmarkSeconds        *int `json:"benchmark_seconds,omitempty" toml:"benchmark_seconds,omitempty"`
	PrimaryRetrySeconds     *int `json:"primary_retry_seconds,omitempty" toml:"primary_retry_seconds,omitempty"`
	FailoverBackoffSeconds  *int `json:"failover_backoff_seconds,omitempty" toml:"failover_backoff_seconds,omitempty"`
	ReadySeconds            *int `json:"ready_seconds,omitempty" toml:"ready_seconds,omitempty"`
	WatchdogIntervalSeconds *int `json:"watchdog_interval_seconds,omitempty" toml:"watchdog_interval_seconds,omitempty"`
}

// fileConfig is the persisted configuration document.
type fileConfig struct {
	MinerPort        int                `json:"miner_port" toml:"miner_port"`
	Pools            []string           `json:"pools" toml:"pools"`
	Algos            map[string]string  `json:"algos" toml:"algos"`
	AlgoPerf         map[string]float64 `json:"algo_perf" toml:"algo_perf"`
	User             string             `json:"user" toml:"user"`
	Pass             string             `json:"pass" toml:"pass"`
	LogFile          string             `json:"log_file,omitempty" toml:"log_file,omitempty"`
	Watchdog         *int               `json:"watchdog,omitempty" toml:"watchdog,omitempty"`
	DefaultAlgo      string             `json:"default_algo,omitempty" toml:"default_algo,omitempty"`
	StatusListen     string             `json:"status_listen,omitempty" toml:"status_listen,omitempty"`
	StateDB          *string            `json:"state_db,omitempty" toml:"state_db,omitempty"` // nil = default, "" = disabled
	ZMQPublish       string             `json:"zmq_publish,omitempty" toml:"zmq_publish,omitempty"`
	DiscordBotToken  string             `json:"discord_bot_token,omitempty" toml:"discord_bot_token,omitempty"`
	DiscordChannelID string             `json:"discord_channel_id,omitempty" toml:"discord_channel_id,omitempty"`
	Timeouts         *timeoutsConfig    `json:"timeouts,omitempty" toml:"timeouts,omitempty"`
}
