package main

import "time"

const (
	poolSoftwareName = "Meta Miner"
	defaultVersion   = "v0.5"

	defaultMinerPort = 3333
	defaultAlgo      = "cn/1"
	defaultWatchdog  = 600 // seconds

	// maxFrameBytes bounds an incomplete line; a peer that never sends a
	// newline is disconnected once its partial line grows past this.
	maxFrameBytes = 1 << 20

	readChunkSize       = 16 * 1024
	outboxDepth         = 256
	stratumWriteTimeout = 60 * time.Second
	poolDialTimeout     = 30 * time.Second

	defaultLoginTimeout        = 60 * time.Second
	defaultBenchmarkTimeout    = 5 * time.Minute
	defaultPrimaryRetryDelay   = 90 * time.Second
	defaultFailoverBackoff     = 60 * time.Second
	defaultReadyTimeout        = 60 * time.Second
	defaultWatchdogInterval    = 60 * time.Second
	workerTerminateGracePeriod = 5 * time.Second
	workerWaitDelay            = 5 * time.Second

	eventLoopQueueDepth = 4096
	eventBusQueueDepth  = 1024
	eventSinkWorkers    = 4
)

// buildVersion can be overridden at build time with:
//
//	go build -ldflags="-X main.buildVersion=v1.2.3"
var buildVersion = ""

// buildTime can be overridden at build time with:
//
//	go build -ldflags="-X main.buildTime=2025-01-02T15:04:05Z"
var buildTime = ""

func softwareVersion() string {
	if buildVersion != "" {
		return buildVersion
	}
	return defaultVersion
}

func agentString() string {
	return poolSoftwareName + " " + softwareVersion()
}
