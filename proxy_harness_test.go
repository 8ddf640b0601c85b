package main

import (
	"bufio"
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const waitFor = 3 * time.Second

// fakeProcess is a miner that runs until killed or exited by the test.
type fakeProcess struct {
	command string
	pid     int
	done    chan struct{}
	once    sync.Once
	mu      sync.Mutex
	err     error
	killed  bool
}

func (p *fakeProcess) Pid() int              { return p.pid }
func (p *fakeProcess) Done() <-chan struct{} { return p.done }

func (p *fakeProcess) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

func (p *fakeProcess) Kill() error {
	p.mu.Lock()
	p.killed = true
	p.mu.Unlock()
	p.exit(nil)
	return nil
}

func (p *fakeProcess) exit(err error) {
	p.once.Do(func() {
		p.mu.Lock()
		p.err = err
		p.mu.Unlock()
		close(p.done)
	})
}

func (p *fakeProcess) exited() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// fakeLauncher records starts and checks that no two processes overlap.
type fakeLauncher struct {
	mu       sync.Mutex
	procs    []*fakeProcess
	failures map[string]error
	overlaps int
	script   func(proc *fakeProcess, output func(string))
}

func newFakeLauncher() *fakeLauncher {
	return &fakeLauncher{failures: make(map[string]error)}
}

func (l *fakeLauncher) Start(command string, output func(string)) (workerProcess, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.failures[command]; err != nil {
		return nil, err
	}
	for _, prev := range l.procs {
		if !prev.exited() {
			l.overlaps++
		}
	}
	proc := &fakeProcess{command: command, pid: 1000 + len(l.procs), done: make(chan struct{})}
	l.procs = append(l.procs, proc)
	if l.script != nil {
		go l.script(proc, output)
	}
	return proc, nil
}

func (l *fakeLauncher) failWith(command string, err error) {
	l.mu.Lock()
	l.failures[command] = err
	l.mu.Unlock()
}

func (l *fakeLauncher) commands() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, 0, len(l.procs))
	for _, p := range l.procs {
		out = append(out, p.command)
	}
	return out
}

func (l *fakeLauncher) last() *fakeProcess {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.procs) == 0 {
		return nil
	}
	return l.procs[len(l.procs)-1]
}

func (l *fakeLauncher) overlapCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.overlaps
}

// testPeer is the far end of a proxy socket.
type testPeer struct {
	conn  net.Conn
	lines chan string
	eof   chan struct{}
}

func newTestPeer(conn net.Conn) *testPeer {
	tp := &testPeer{conn: conn, lines: make(chan string, 64), eof: make(chan struct{})}
	go func() {
		defer close(tp.eof)
		r := bufio.NewReader(conn)
		for {
			line, err := r.ReadString('\n')
			if len(line) > 0 && line[len(line)-1] == '\n' {
				tp.lines <- line[:len(line)-1]
			}
			if err != nil {
				return
			}
		}
	}()
	return tp
}

func (tp *testPeer) send(t *testing.T, line string) {
	t.Helper()
	_ = tp.conn.SetWriteDeadline(time.Now().Add(waitFor))
	_, err := tp.conn.Write([]byte(line + "\n"))
	require.NoError(t, err)
}

func (tp *testPeer) next(t *testing.T) string {
	t.Helper()
	select {
	case line := <-tp.lines:
		return line
	case <-time.After(waitFor):
		t.Fatalf("timed out waiting for a line")
		return ""
	}
}

func (tp *testPeer) waitClosed(t *testing.T) {
	t.Helper()
	select {
	case <-tp.eof:
	case <-time.After(waitFor):
		t.Fatalf("peer connection was not closed")
	}
}

type dialAttempt struct {
	pool string
	at   time.Time
}

// fakeDialer connects pool sessions to in-memory peers.
type fakeDialer struct {
	mu       sync.Mutex
	down     map[string]bool
	attempts chan dialAttempt
	peers    chan *testPeer
}

func newFakeDialer() *fakeDialer {
	return &fakeDialer{
		down:     make(map[string]bool),
		attempts: make(chan dialAttempt, 64),
		peers:    make(chan *testPeer, 16),
	}
}

func (d *fakeDialer) setDown(pool string, down bool) {
	d.mu.Lock()
	d.down[pool] = down
	d.mu.Unlock()
}

func (d *fakeDialer) Dial(ctx context.Context, ep poolEndpoint) (net.Conn, error) {
	d.mu.Lock()
	down := d.down[ep.String()]
	d.mu.Unlock()
	d.attempts <- dialAttempt{pool: ep.String(), at: time.Now()}
	if down {
		return nil, errors.New("connection refused")
	}
	proxySide, poolSide := net.Pipe()
	d.peers <- newTestPeer(poolSide)
	return proxySide, nil
}

func (d *fakeDialer) nextAttempt(t *testing.T) dialAttempt {
	t.Helper()
	select {
	case a := <-d.attempts:
		return a
	case <-time.After(waitFor):
		t.Fatalf("timed out waiting for a pool dial")
		return dialAttempt{}
	}
}

func (d *fakeDialer) nextPeer(t *testing.T) *testPeer {
	t.Helper()
	select {
	case tp := <-d.peers:
		return tp
	case <-time.After(waitFor):
		t.Fatalf("timed out waiting for a pool connection")
		return nil
	}
}

// recordingSink keeps published events for assertions.
type recordingSink struct {
	mu     sync.Mutex
	events []proxyEvent
}

func (s *recordingSink) Name() string { return "recording" }
func (s *recordingSink) Close() error { return nil }

func (s *recordingSink) Handle(_ context.Context, ev proxyEvent) error {
	s.mu.Lock()
	s.events = append(s.events, ev)
	s.mu.Unlock()
	return nil
}

func (s *recordingSink) kinds() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.events))
	for _, ev := range s.events {
		out = append(out, ev.Kind)
	}
	return out
}

func (s *recordingSink) count(kind string) int {
	n := 0
	for _, k := range s.kinds() {
		if k == kind {
			n++
		}
	}
	return n
}

func testProxyConfig(pools ...string) Config {
	cfg := defaultConfig()
	cfg.Pools = pools
	cfg.StateDB = ""
	cfg.NoConfigSave = true
	cfg.Watchdog = 0
	cfg.User = "wallet"
	cfg.Pass = "rig"
	cfg.LoginTimeout = time.Second
	cfg.BenchmarkTimeout = time.Second
	cfg.ReadyTimeout = 2 * time.Second
	cfg.PrimaryRetryDelay = 150 * time.Millisecond
	cfg.FailoverBackoff = 200 * time.Millisecond
	cfg.WatchdogInterval = 50 * time.Millisecond
	return cfg
}

type proxyHarness struct {
	p        *Proxy
	launcher *fakeLauncher
	dialer   *fakeDialer
	sink     *recordingSink
	fatals   chan error
}

func newProxyHarness(t *testing.T, cfg Config) *proxyHarness {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	loop := newEventLoop(0)
	go loop.run(ctx)

	h := &proxyHarness{
		launcher: newFakeLauncher(),
		dialer:   newFakeDialer(),
		sink:     &recordingSink{},
		fatals:   make(chan error, 4),
	}
	metrics := NewProxyMetrics()
	bus := newEventBus(metrics, h.sink)
	bus.start(ctx)
	h.p = NewProxy(ctx, cfg, loop, h.dialer, h.launcher, metrics, bus)
	h.p.onFatal = func(err error) { h.fatals <- err }
	t.Cleanup(func() {
		stopped := make(chan struct{})
		if loop.post(func() { h.p.shutdown(func() { close(stopped) }) }) {
			select {
			case <-stopped:
			case <-time.After(waitFor):
			}
		}
		cancel()
		bus.stop()
	})
	return h
}

func (h *proxyHarness) onLoop(t *testing.T, fn func()) {
	t.Helper()
	require.True(t, h.p.loop.call(fn), "event loop stopped")
}

// connectWorker opens a worker connection to the proxy.
func (h *proxyHarness) connectWorker(t *testing.T) *testPeer {
	t.Helper()
	proxySide, workerSide := net.Pipe()
	require.True(t, h.p.loop.post(func() { h.p.acceptMiner(proxySide) }))
	return newTestPeer(workerSide)
}

func (h *proxyHarness) eventually(t *testing.T, cond func(p *Proxy) bool, msg string) {
	t.Helper()
	require.Eventually(t, func() bool {
		var ok bool
		if !h.p.loop.call(func() { ok = cond(h.p) }) {
			return false
		}
		return ok
	}, waitFor, 5*time.Millisecond, msg)
}

func poolJobEnvelope(jobID, algo string) string {
	return `{"id":1,"jsonrpc":"2.0","error":null,"result":{"id":"worker","job":{"blob":"0707","job_id":"` + jobID + `","target":"b88d0600","algo":"` + algo + `"},"status":"OK"}}`
}

func poolJobNotify(jobID, algo string) string {
	return `{"jsonrpc":"2.0","method":"job","params":{"blob":"0808","job_id":"` + jobID + `","target":"b88d0600","algo":"` + algo + `"}}`
}
