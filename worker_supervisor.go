package main

import (
	"errors"
	"fmt"
)

var errWorkerSpawn = errors.New("miner failed to start")

// supervisedWorker is one launched miner command as seen from the loop.
type supervisedWorker struct {
	command   string
	id        string
	proc      workerProcess
	exited    bool
	stopping  bool
	exitErr   error
	onExit    func(error)
	afterStop []func()
}

func (w *supervisedWorker) live() bool {
	return w != nil && !w.exited
}

type pendingStart struct {
	command string
	output  func(string)
	onExit  func(error)
}

// workerSupervisor keeps at most one miner process alive. All methods run on
// the event loop.
type workerSupervisor struct {
	loop     *eventLoop
	launcher processLauncher
	metrics  *ProxyMetrics

	current *supervisedWorker
	pending *pendingStart
}

func newWorkerSupervisor(loop *eventLoop, launcher processLauncher, metrics *ProxyMetrics) *workerSupervisor {
	return &workerSupervisor{loop: loop, launcher: launcher, metrics: metrics}
}

func (s *workerSupervisor) live() bool {
	return s.current.live()
}

// command returns the command of the live worker, or "".
func (s *workerSupervisor) command() string {
	if !s.live() {
		return ""
	}
	return s.current.command
}

// start launches command. output receives console lines and onExit the exit
// (or spawn) error, both on the loop. A live worker is replaced instead.
func (s *workerSupervisor) start(command string, output func(string), onExit func(error)) {
	if s.live() {
		s.recordInternal("start requested while a miner is running", command)
		s.replace(command, output, onExit)
		return
	}
	w := &supervisedWorker{command: command, id: commandID(command), onExit: onExit}
	s.current = w
	if verboseLogging {
		logger.Info("starting miner", "command", command, "id", w.id)
	}
	proc, err := s.launcher.Start(command, func(line string) {
		s.loop.post(func() {
			if w.exited || output == nil {
				return
			}
			output(line)
		})
	})
	if err != nil {
		logger.Error("failed to start miner", "command", command, "error", err)
		if s.metrics != nil {
			s.metrics.workerSpawnErrors.Add(1)
			s.metrics.RecordErrorEvent("miner_spawn", err.Error(), nowFunc())
		}
		s.loop.later(func() { s.handleExit(w, fmt.Errorf("%w: %v", errWorkerSpawn, err)) })
		return
	}
	w.proc = proc
	go func() {
		<-proc.Done()
		s.loop.post(func() { s.handleExit(w, proc.Err()) })
	}()
}

// stop terminates the live worker and runs then once it has exited.
func (s *workerSupervisor) stop(then func()) {
	w := s.current
	if !w.live() {
		if then != nil {
			s.loop.later(then)
		}
		return
	}
	if then != nil {
		w.afterStop = append(w.afterStop, then)
	}
	if w.stopping {
		return
	}
	w.stopping = true
	if verboseLogging {
		logger.Info("stopping miner", "command", w.command, "id", w.id)
	}
	if w.proc == nil {
		return
	}
	if err := w.proc.Kill(); err != nil {
		logger.Warn("stop miner", "command", w.command, "error", err)
	}
}

// replace stops the live worker, if any, and starts command after it has
// exited. Repeated calls while stopping only change what starts next.
func (s *workerSupervisor) replace(command string, output func(string), onExit func(error)) {
	next := &pendingStart{command: command, output: output, onExit: onExit}
	if !s.live() {
		s.pending = nil
		s.start(next.command, next.output, next.onExit)
		return
	}
	hadPending := s.pending != nil
	s.pending = next
	if hadPending {
		return
	}
	s.stop(func() {
		p := s.pending
		s.pending = nil
		if p == nil {
			return
		}
		s.start(p.command, p.output, p.onExit)
	})
}

func (s *workerSupervisor) handleExit(w *supervisedWorker, err error) {
	if w.exited {
		return
	}
	w.exited = true
	w.exitErr = err
	if s.current == w {
		s.current = nil
	}
	if s.metrics != nil {
		s.metrics.workerExits.Add(1)
	}
	if verboseLogging && !w.stopping {
		var exitErr interface{ ExitCode() int }
		if err != nil && errors.As(err, &exitErr) {
			logger.Error("miner exited with nonzero code", "command", w.command, "code", exitErr.ExitCode())
		} else if err != nil {
			logger.Error("miner exited", "command", w.command, "error", err)
		} else {
			logger.Info("miner exited with zero code", "command", w.command)
		}
	}
	if w.onExit != nil {
		w.onExit(err)
	}
	for _, fn := range w.afterStop {
		fn()
	}
	w.afterStop = nil
}

func (s *workerSupervisor) recordInternal(msg, command string) {
	logger.Error("[INTERNAL ERROR] "+msg, "command", command)
	if s.metrics != nil {
		s.metrics.internalErrors.Add(1)
	}
}
