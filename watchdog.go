package main

import (
	"fmt"
	"time"

	"github.com/hako/durafmt"
)

func (p *Proxy) startWatchdog() {
	if p.cfg.watchdogThreshold() <= 0 {
		return
	}
	if verboseLogging {
		logger.Info("starting miner watchdog timer", "threshold", p.cfg.watchdogThreshold(), "interval", p.cfg.WatchdogInterval)
	}
	p.watchdog.stop()
	p.watchdog = p.loop.every(p.cfg.WatchdogInterval, func() {
		p.checkWatchdog(nowFunc())
	})
}

// checkWatchdog restarts a linked miner that has been silent for longer than
// the configured threshold. It reports whether a restart was triggered.
func (p *Proxy) checkWatchdog(now time.Time) bool {
	threshold := p.cfg.watchdogThreshold()
	if threshold <= 0 || p.currPool == nil || p.minerLink == nil {
		return false
	}
	idle := now.Sub(p.lastActivity)
	if idle <= threshold {
		return false
	}
	logger.Error("no results from miner, restarting it",
		"idle", durafmt.Parse(idle).LimitFirstN(2).String(),
		"threshold_seconds", p.cfg.Watchdog,
		"command", p.currMiner,
	)
	p.metrics.watchdogRestarts.Add(1)
	p.metrics.RecordErrorEvent("watchdog", fmt.Sprintf("miner idle for %s", idle.Truncate(time.Second)), now)
	p.publish(proxyEvent{
		Kind:    eventWatchdogRestart,
		Message: fmt.Sprintf("no results from miner for more than %d seconds, restarting it", p.cfg.Watchdog),
		Pool:    p.poolName(p.currPoolNum),
		Algo:    p.currAlgo,
		Command: p.currMiner,
	})
	p.dropMinerConn()
	p.switchPending = true
	p.startSteadyMiner(p.currMiner)
	return true
}
