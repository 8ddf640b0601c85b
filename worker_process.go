package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-shellwords"
	"github.com/shirou/gopsutil/v3/process"
)

var errEmptyCommand = errors.New("empty miner command")

// workerProcess is a running miner. Done is closed once the process has
// exited and all of its output has been delivered.
type workerProcess interface {
	Pid() int
	Kill() error
	Done() <-chan struct{}
	Err() error
}

// processLauncher starts miner commands. output is called from a pump
// goroutine, one call per console line.
type processLauncher interface {
	Start(command string, output func(line string)) (workerProcess, error)
}

// splitCommand tokenizes a command line with shell word rules: quoted
// substrings stay one argument and lose their quotes.
func splitCommand(command string) ([]string, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse command %q: %w", command, err)
	}
	if len(args) == 0 {
		return nil, errEmptyCommand
	}
	return args, nil
}

type execLauncher struct {
	grace time.Duration
}

func newExecLauncher() *execLauncher {
	return &execLauncher{grace: workerTerminateGracePeriod}
}

func (l *execLauncher) Start(command string, output func(line string)) (workerProcess, error) {
	args, err := splitCommand(command)
	if err != nil {
		return nil, err
	}
	cmd := exec.Command(args[0], args[1:]...)
	pr, pw := io.Pipe()
	cmd.Stdout = pw
	cmd.Stderr = pw
	cmd.WaitDelay = workerWaitDelay
	if err := cmd.Start(); err != nil {
		_ = pw.Close()
		_ = pr.Close()
		return nil, fmt.Errorf("start %s: %w", args[0], err)
	}

	p := &execProcess{
		cmd:   cmd,
		grace: l.grace,
		done:  make(chan struct{}),
	}
	pumpDone := make(chan struct{})
	go func() {
		defer close(pumpDone)
		pumpLines(pr, output)
	}()
	go func() {
		err := cmd.Wait()
		_ = pw.Close()
		<-pumpDone
		p.mu.Lock()
		p.err = err
		p.mu.Unlock()
		close(p.done)
	}()
	return p, nil
}

func pumpLines(r io.Reader, output func(line string)) {
	reader := bufio.NewReader(r)
	for {
		line, err := reader.ReadString('\n')
		line = strings.TrimRight(line, "\r\n")
		if line != "" && output != nil {
			output(line)
		}
		if err != nil {
			_, _ = io.Copy(io.Discard, reader)
			return
		}
	}
}

type execProcess struct {
	cmd      *exec.Cmd
	grace    time.Duration
	done     chan struct{}
	mu       sync.Mutex
	err      error
	killOnce sync.Once
}

func (p *execProcess) Pid() int {
	if p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}

func (p *execProcess) Done() <-chan struct{} {
	return p.done
}

func (p *execProcess) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// Kill asks the process tree to terminate and escalates to a hard kill if it
// is still running after the grace period.
func (p *execProcess) Kill() error {
	var err error
	p.killOnce.Do(func() {
		tree := processTree(int32(p.Pid()))
		for _, proc := range tree {
			if terr := proc.Terminate(); terr != nil && err == nil {
				err = terr
			}
		}
		if len(tree) == 0 && p.cmd.Process != nil {
			err = p.cmd.Process.Kill()
		}
		go func() {
			select {
			case <-p.done:
			case <-time.After(p.grace):
				logger.Warn("miner ignored termination, killing it", "pid", p.Pid())
				for _, proc := range processTree(int32(p.Pid())) {
					_ = proc.Kill()
				}
				if p.cmd.Process != nil {
					_ = p.cmd.Process.Kill()
				}
			}
		}()
	})
	if err != nil && isProcessGone(err) {
		return nil
	}
	return err
}

// processTree returns the descendants of pid followed by pid itself.
func processTree(pid int32) []*process.Process {
	if pid <= 0 {
		return nil
	}
	root, err := process.NewProcess(pid)
	if err != nil {
		return nil
	}
	var out []*process.Process
	var walk func(p *process.Process, depth int)
	walk = func(p *process.Process, depth int) {
		if depth > 16 {
			return
		}
		children, err := p.Children()
		if err != nil {
			return
		}
		for _, child := range children {
			walk(child, depth+1)
			out = append(out, child)
		}
	}
	walk(root, 0)
	return append(out, root)
}

func isProcessGone(err error) bool {
	return errors.Is(err, process.ErrorProcessNotRunning) || strings.Contains(err.Error(), "process already finished") || strings.Contains(err.Error(), "no such process")
}
