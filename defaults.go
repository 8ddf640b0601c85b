package main

import (
	"path/filepath"
)

const (
	defaultConfigFile = "mm.json"
	defaultStateDir   = "state"
)

func defaultConfig() Config {
	perf := make(map[string]float64, len(algoClassBenchmarks))
	for class := range algoClassBenchmarks {
		perf[class] = 0
	}
	return Config{
		ConfigPath:        defaultConfigFile,
		MinerPort:         defaultMinerPort,
		Algos:             make(map[string]string),
		AlgoPerf:          perf,
		Watchdog:          defaultWatchdog,
		DefaultAlgo:       defaultAlgo,
		StateDB:           defaultStateDBPath(),
		LoginTimeout:      defaultLoginTimeout,
		BenchmarkTimeout:  defaultBenchmarkTimeout,
		PrimaryRetryDelay: defaultPrimaryRetryDelay,
		FailoverBackoff:   defaultFailoverBackoff,
		ReadyTimeout:      defaultReadyTimeout,
		WatchdogInterval:  defaultWatchdogInterval,
	}
}

func defaultStateDBPath() string {
	return filepath.Join(defaultStateDir, "metaminer.db")
}
