package main

import (
	"errors"
	"fmt"
)

// routePoolMessage handles a message from the current pool session.
func (p *Proxy) routePoolMessage(msg *stratumMessage, isJob bool) {
	if isJob && !p.routeJob(msg) {
		return
	}
	if p.minerLink != nil {
		if p.minerLink.send(msg.raw) && isJob {
			p.metrics.jobsForwarded.Add(1)
		}
		return
	}
	if !isJob {
		p.metrics.undeliverable.Add(1)
		logger.Warn("can't deliver pool message since no miner is connected", "pool", p.poolName(p.currPoolNum), "line", string(msg.raw))
	}
}

// routeJob makes sure a miner for the job's algorithm is running and updates
// the current job. It reports false when the job is dropped.
func (p *Proxy) routeJob(msg *stratumMessage) bool {
	pool := p.poolName(p.currPoolNum)
	algo := msg.algo(p.cfg.DefaultAlgo)
	command, ok := p.cfg.Algos[algo]
	if !ok {
		p.metrics.jobsUnknownAlgo.Add(1)
		logger.Error("ignoring job with unknown algo sent by the pool", "algo", algo, "pool", pool)
		return false
	}

	if p.needsMiner(command) {
		if p.switchPending {
			p.metrics.jobsDroppedPending.Add(1)
			logger.Error("ignoring job with new algo since we still wait for new miner to start", "algo", algo, "pool", pool)
			p.publish(proxyEvent{
				Kind:    eventJobDropped,
				Message: fmt.Sprintf("dropped %s job from %s while waiting for the new miner to start", algo, pool),
				Pool:    pool,
				Algo:    algo,
				Command: command,
			})
			return false
		}
		p.switchMiner(command, algo)
	}
	p.currAlgo = algo

	if msg.jobNotification() {
		if err := p.job.merge(msg.Params); err != nil {
			p.internalError("can not update pool job since its first job is missing", "pool", pool, "error", err)
		}
	} else if err := p.job.set(msg.raw); err != nil {
		p.internalError("can not store pool job", "pool", pool, "error", err)
	}
	return true
}

// needsMiner reports whether a job bound to command requires starting a
// miner: the command differs from the running one, or nothing runs any
// more and the command did not just fail to spawn.
func (p *Proxy) needsMiner(command string) bool {
	if p.currMiner != command {
		return true
	}
	if p.switchPending || p.sup.live() {
		return false
	}
	return p.spawnFailed != command
}

// switchMiner detaches the current worker link and replaces the worker.
func (p *Proxy) switchMiner(command, algo string) {
	prev := p.currMiner
	p.dropMinerConn()
	p.currMiner = command
	p.switchPending = true
	p.metrics.algoSwitches.Add(1)
	if !quietMode {
		logger.Info("starting miner to process new algo", "algo", algo, "command", command)
	}
	p.publish(proxyEvent{
		Kind:    eventAlgoSwitch,
		Message: fmt.Sprintf("switching to %s miner", algo),
		Pool:    p.poolName(p.currPoolNum),
		Algo:    algo,
		Command: command,
	})
	if prev != "" && prev != command && verboseLogging {
		logger.Info("stopping miner", "command", prev)
	}
	p.startSteadyMiner(command)
}

// startSteadyMiner replaces the worker with command. Only the newest start
// may clear a pending switch when it dies before logging in.
func (p *Proxy) startSteadyMiner(command string) {
	p.workerGen++
	gen := p.workerGen
	p.sup.replace(command, func(line string) {
		printWorkerOutput(line, true)
	}, func(err error) {
		p.onSteadyMinerExit(gen, command, err)
	})
}

func (p *Proxy) onSteadyMinerExit(gen uint64, command string, err error) {
	msg := "miner exited"
	if err != nil {
		msg = fmt.Sprintf("miner exited: %v", err)
	}
	p.publish(proxyEvent{Kind: eventWorkerExit, Message: msg, Command: command})
	if gen != p.workerGen {
		return
	}
	if errors.Is(err, errWorkerSpawn) {
		p.spawnFailed = command
	}
	if p.switchPending {
		p.switchPending = false
		if verboseLogging {
			logger.Warn("miner exited before logging in", "command", command, "error", err)
		}
	}
}

// steadyLogin links a logging-in worker to the current pool and hands it the
// current job.
func (p *Proxy) steadyLogin(msg *stratumMessage, conn *lineConn) {
	if p.currPool != nil && p.minerLink == nil {
		logger.Info("pool <-> miner link was established due to new miner connection", "pool", p.currPool.endpoint)
	}
	p.minerLink = conn
	p.switchPending = false
	p.spawnFailed = ""
	if p.job.valid() {
		conn.send(p.job.bytes())
		return
	}
	logger.Error("no pool job to send to the miner", "pool", p.poolName(p.currPoolNum))
}
