package main

import (
	"fmt"
)

const (
	benchmarkBlob   = "ff05feeaa0db054f15eca39c843cb82c15e5c5a7743e06536cb541d4e96e90ffd31120b7703aa90000000076a6f6e34a9977c982629d8fe6c8b45024cafca109eef92198784891e0df41bc03"
	benchmarkJobID  = "benchmark1"
	benchmarkID     = "benchmark"
	benchmarkTarget = "10000000"
)

type benchmarkJob struct {
	Blob   string `json:"blob"`
	Algo   string `json:"algo"`
	JobID  string `json:"job_id"`
	Target string `json:"target"`
	ID     string `json:"id"`
}

type benchmarkResult struct {
	ID     string       `json:"id"`
	Job    benchmarkJob `json:"job"`
	Status string       `json:"status"`
}

type benchmarkResponse struct {
	ID      int             `json:"id"`
	JSONRPC string          `json:"jsonrpc"`
	Error   any             `json:"error"`
	Result  benchmarkResult `json:"result"`
}

// newBenchmarkResponse is the login answer that gives a miner a synthetic
// job to hash so its console reports a hashrate.
func newBenchmarkResponse(algo string) benchmarkResponse {
	return benchmarkResponse{
		ID:      1,
		JSONRPC: "2.0",
		Error:   nil,
		Result: benchmarkResult{
			ID: benchmarkID,
			Job: benchmarkJob{
				Blob:   benchmarkBlob,
				Algo:   algo,
				JobID:  benchmarkJobID,
				Target: benchmarkTarget,
				ID:     benchmarkID,
			},
			Status: "OK",
		},
	}
}

func printCalibrationOutput(line string) {
	printWorkerOutput(line, false)
}

// calibrate validates the configured miners, checks that the proxy can run,
// benchmarks unmeasured algo classes and then enters steady state.
func (p *Proxy) calibrate() {
	checks := newTaskSequence(p.loop)
	for _, cmd := range p.cfg.SmartMiners {
		checks.add(p.validateMinerTask(cmd, ""))
	}
	for _, m := range p.cfg.AlgoMiners {
		checks.add(p.validateMinerTask(m.Command, m.Algo))
	}
	if !quietMode && checks.len() > 0 {
		logger.Info("checking miner configurations (make sure they all configured to connect to localhost pool)", "port", p.cfg.MinerPort)
	}
	checks.run(func() {
		if err := validateSteadyState(p.cfg); err != nil {
			p.fail(err)
			return
		}
		perf := newTaskSequence(p.loop)
		for _, class := range algoClasses() {
			if p.cfg.AlgoPerf[class] != 0 {
				continue
			}
			algo := algoClassBenchmarks[class]
			cmd, ok := p.cfg.Algos[algo]
			if !ok {
				continue
			}
			perf.add(p.benchmarkTask(class, algo, cmd))
		}
		perf.run(p.finishCalibration)
	})
}

func (p *Proxy) fail(err error) {
	if p.onFatal != nil {
		p.onFatal(err)
		return
	}
	fatal("configuration", err)
}

// validateMinerTask starts cmd and waits for it to log in. A smart miner
// (algo == "") reports the algorithms it supports in its login; otherwise
// cmd is bound to algo.
func (p *Proxy) validateMinerTask(cmd, algo string) task {
	return func(done func()) {
		finished := false
		var timer *loopTimer
		finish := func() {
			if finished {
				return
			}
			finished = true
			timer.stop()
			p.loginHandler = nil
			p.dropMinerConn()
			p.sup.stop(done)
		}
		timer = p.loop.afterFunc(p.cfg.LoginTimeout, func() {
			logger.Error("miner was not connected and will be ignored", "command", cmd, "timeout", p.cfg.LoginTimeout)
			finish()
		})
		p.loginHandler = func(msg *stratumMessage, _ *lineConn) {
			if finished {
				return
			}
			login := msg.workerLogin()
			p.setFirstMinerUserPass(login)
			if algo != "" {
				p.registerAlgo(algo, cmd)
			} else if len(login.Algo) == 0 {
				logger.Error("miner does not report any algo and will be ignored", "command", cmd)
			} else {
				for _, a := range login.Algo {
					p.registerAlgo(a, cmd)
				}
			}
			finish()
		}
		p.sup.start(cmd, printCalibrationOutput, func(err error) {
			if finished {
				return
			}
			logger.Error("miner exited before connecting and will be ignored", "command", cmd, "error", err)
			finish()
		})
	}
}

func (p *Proxy) setFirstMinerUserPass(login loginParams) {
	if p.cfg.User == "" && login.Login != "" {
		p.cfg.User = login.Login
		if verboseLogging {
			logger.Info("setting pool user", "user", p.cfg.User)
		}
	}
	if p.cfg.Pass == "" && login.Pass != "" {
		p.cfg.Pass = login.Pass
		if verboseLogging {
			logger.Info("setting pool pass", "pass", p.cfg.Pass)
		}
	}
}

func (p *Proxy) registerAlgo(algo, cmd string) {
	if verboseLogging {
		if prev, ok := p.cfg.Algos[algo]; ok {
			logger.Info("setting algo miner", "algo", algo, "from", prev, "to", cmd)
		} else {
			logger.Info("setting algo miner", "algo", algo, "to", cmd)
		}
	}
	p.cfg.bindAlgo(algo, cmd)
}

// benchmarkTask runs cmd on a synthetic job for algo and records the first
// hashrate it prints as the performance of class.
func (p *Proxy) benchmarkTask(class, algo, cmd string) task {
	return func(done func()) {
		logger.Info("checking miner performance for algo class", "class", class, "algo", algo, "command", cmd)
		finished := false
		var timer *loopTimer
		finish := func(rate float64) {
			if finished {
				return
			}
			finished = true
			timer.stop()
			p.loginHandler = nil
			p.dropMinerConn()
			p.recordBenchmark(class, algo, cmd, rate)
			p.sup.stop(done)
		}
		timer = p.loop.afterFunc(p.cfg.BenchmarkTimeout, func() {
			logger.Error("can't find performance data in miner output", "command", cmd, "timeout", p.cfg.BenchmarkTimeout)
			finish(0)
		})
		p.loginHandler = func(_ *stratumMessage, conn *lineConn) {
			conn.sendJSON(newBenchmarkResponse(algo))
		}
		output := func(line string) {
			printCalibrationOutput(line)
			if finished {
				return
			}
			if rate, ok := matchHashrate(line); ok {
				logger.Info("setting performance for algo class", "class", class, "hashrate", rate)
				p.cfg.AlgoPerf[class] = rate
				finish(rate)
			}
		}
		p.sup.start(cmd, output, func(err error) {
			if finished {
				return
			}
			logger.Error("miner exited before reporting its hashrate", "command", cmd, "error", err)
			finish(0)
		})
	}
}

func (p *Proxy) recordBenchmark(class, algo, cmd string, rate float64) {
	msg := fmt.Sprintf("%s class measured at %g H/s", class, rate)
	if rate <= 0 {
		msg = fmt.Sprintf("%s class benchmark produced no hashrate", class)
	}
	p.publish(proxyEvent{
		Kind:     eventBenchmark,
		Message:  msg,
		Algo:     class,
		Command:  cmd,
		Hashrate: rate,
	})
	if debugLogging {
		logger.Debug("benchmark finished", "class", class, "algo", algo, "hashrate", rate)
	}
}

// finishCalibration persists what calibration learned and starts relaying.
func (p *Proxy) finishCalibration() {
	if p.cfg.Pass == "" {
		p.cfg.Pass = newRigID()
		logger.Info("no pool pass configured, using generated rig id", "pass", p.cfg.Pass)
	}
	if verboseLogging {
		if b, err := fastJSONMarshalIndent(p.cfg.Effective()); err == nil {
			logger.Info("setup complete\n" + string(b))
		}
	}
	if !p.cfg.NoConfigSave {
		if verboseLogging {
			logger.Info("saving config file", "path", p.cfg.ConfigPath)
		}
		if err := saveConfigFile(p.cfg.ConfigPath, p.cfg); err != nil {
			logger.Error("error saving config file", "path", p.cfg.ConfigPath, "error", err)
		}
	}
	logger.Info("pool credentials", "user", p.cfg.User, "pass", p.cfg.Pass)
	p.publish(proxyEvent{
		Kind:    eventCalibrationDone,
		Message: fmt.Sprintf("calibration finished with %d algorithms bound", len(p.cfg.Algos)),
	})
	p.enterSteadyState()
}

func (p *Proxy) enterSteadyState() {
	pools, err := parsePoolEndpoints(p.cfg.Pools)
	if err != nil {
		p.fail(err)
		return
	}
	p.pools = pools
	p.steady = true
	p.loginHandler = p.steadyLogin
	p.startWatchdog()
	p.connectPool(0, false)
}
