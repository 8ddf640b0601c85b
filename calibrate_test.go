package main

import (
	"bytes"
	"errors"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMatchHashrate(t *testing.T) {
	tests := []struct {
		name string
		line string
		want float64
		ok   bool
	}{
		{name: "xmrig", line: "[2018-06-10 10:11:12] speed 10s/60s/15m 1234.5 1200.0 n/a H/s max: 1300.0 H/s", want: 1200, ok: true},
		{name: "xmrig old", line: "[2018-03-01 08:00:00] speed 2.5s/60s/15m 90.1 88.8 n/a H/s max: 91 H/s", want: 88.8, ok: true},
		{name: "xmrig with ansi", line: "\x1b[01;37m[2018-06-10 10:11:12]\x1b[0m speed 10s/60s/15m \x1b[01;36m1234.5 \x1b[22;36m4321.0 \x1b[22;36mn/a \x1b[01;36mH/s\x1b[0m", want: 4321, ok: true},
		{name: "xmr-stak", line: "Totals (ALL):   512.3   498.7   0.0 H/s", want: 498.7, ok: true},
		{name: "not available yet", line: "[2018-06-10 10:11:12] speed 10s/60s/15m n/a n/a n/a H/s", ok: false},
		{name: "zero rate ignored", line: "Totals (ALL):   0.0   0.0   0.0 H/s", ok: false},
		{name: "unrelated", line: "use pool localhost:3333", ok: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := matchHashrate(tt.line)
			if ok != tt.ok {
				t.Fatalf("ok = %v, want %v", ok, tt.ok)
			}
			if ok && got != tt.want {
				t.Fatalf("rate = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestBenchmarkResponseShape(t *testing.T) {
	data, err := fastJSONMarshal(newBenchmarkResponse("cn-heavy/0"))
	require.NoError(t, err)
	msg := mustParse(t, string(data))
	require.True(t, msg.fullJob())
	require.Equal(t, "cn-heavy/0", msg.algo(""))
	require.Contains(t, string(data), `"target":"10000000"`)
	require.Contains(t, string(data), `"job_id":"benchmark1"`)
	require.Contains(t, string(data), `"error":null`)
}

func TestNewRigIDFallsBackToWords(t *testing.T) {
	id := generateRigIDXKCD()
	require.NotEmpty(t, id)
	require.Contains(t, id, "-")
	require.NotEmpty(t, newRigID())
}

// scriptedMiner behaves like a miner pointed at the proxy: it connects, logs
// in with algos and prints hashrate once it is given a job.
func scriptedMiner(t *testing.T, h *proxyHarness, algos map[string][]string, rates map[string]string) func(*fakeProcess, func(string)) {
	return func(proc *fakeProcess, output func(string)) {
		proxySide, workerSide := net.Pipe()
		if !h.p.loop.post(func() { h.p.acceptMiner(proxySide) }) {
			return
		}
		w := newTestPeer(workerSide)
		login := `{"id":1,"jsonrpc":"2.0","method":"login","params":{"login":"miner-wallet","pass":"miner-pass","agent":"test"`
		if list, ok := algos[proc.command]; ok {
			b, _ := fastJSONMarshal(list)
			login += `,"algo":` + string(b)
		}
		login += "}}\n"
		_ = workerSide.SetWriteDeadline(time.Now().Add(waitFor))
		if _, err := workerSide.Write([]byte(login)); err != nil {
			return
		}
		select {
		case line := <-w.lines:
			msg, err := parseStratumMessage([]byte(line))
			if err != nil || !msg.fullJob() {
				return
			}
			if rate, ok := rates[proc.command]; ok {
				output("[2018-06-10 10:11:12] speed 10s/60s/15m " + rate + " " + rate + " n/a H/s")
			}
		case <-w.eof:
		case <-proc.done:
		}
	}
}

func TestCalibrationBindsAndBenchmarks(t *testing.T) {
	cfg := testProxyConfig("a.example.com:1111")
	cfg.User, cfg.Pass = "", ""
	cfg.SmartMiners = []string{"smart"}
	cfg.AlgoMiners = []algoMiner{{Algo: "cn-heavy/0", Command: "heavy"}}
	cfg.AlgoPerf["cn-lite"] = 777
	cfg.NoConfigSave = false
	cfg.ConfigPath = filepath.Join(t.TempDir(), "mm.json")
	h := newProxyHarness(t, cfg)
	h.dialer.setDown("a.example.com:1111", true)
	h.launcher.script = scriptedMiner(t, h,
		map[string][]string{"smart": {"cn/1", "cn/msr"}},
		map[string]string{"smart": "1500.5", "heavy": "300.0"},
	)

	require.True(t, h.p.loop.post(h.p.calibrate))
	h.eventually(t, func(p *Proxy) bool { return p.steady }, "calibration finished")

	h.onLoop(t, func() {
		cfg := h.p.cfg
		require.Equal(t, "smart", cfg.Algos["cn/1"])
		require.Equal(t, "smart", cfg.Algos["cryptonight/1"])
		require.Equal(t, "smart", cfg.Algos["cn/msr"])
		require.Equal(t, "heavy", cfg.Algos["cn-heavy/0"])
		require.Equal(t, 1500.5, cfg.AlgoPerf["cn"])
		require.Equal(t, 1500.5, cfg.AlgoPerf["cn-fast"])
		require.Equal(t, 300.0, cfg.AlgoPerf["cn-heavy"])
		require.Equal(t, 777.0, cfg.AlgoPerf["cn-lite"], "measured classes are not re-run")
		require.Equal(t, "miner-wallet", cfg.User)
		require.Equal(t, "miner-pass", cfg.Pass)
		require.NotNil(t, h.p.loginHandler)
	})
	// two validations, then cn, cn-fast and cn-heavy benchmarks
	require.Equal(t, []string{"smart", "heavy", "smart", "smart", "heavy"}, h.launcher.commands())
	require.Zero(t, h.launcher.overlapCount())

	data, err := os.ReadFile(h.p.cfg.ConfigPath)
	require.NoError(t, err)
	require.True(t, bytes.Contains(data, []byte(`"cn-heavy/0"`)))
	require.Equal(t, "a.example.com:1111", h.dialer.nextAttempt(t).pool, "steady state contacts the first pool")
	require.Eventually(t, func() bool { return h.sink.count(eventBenchmark) == 3 }, waitFor, 5*time.Millisecond)
}

func TestCalibrationIgnoresBrokenMiners(t *testing.T) {
	cfg := testProxyConfig("a.example.com:1111")
	cfg.LoginTimeout = 100 * time.Millisecond
	cfg.SmartMiners = []string{"silent", "missing", "mute"}
	cfg.AlgoMiners = []algoMiner{{Algo: "cn/1", Command: "good"}}
	cfg.AlgoPerf["cn"] = 1
	h := newProxyHarness(t, cfg)
	h.launcher.failWith("missing", errors.New("exec: not found"))
	h.launcher.script = func(proc *fakeProcess, output func(string)) {
		switch proc.command {
		case "silent":
			// never connects; the login timeout moves on
		case "mute", "good":
			// smart miner that reports no algos, or an algo miner
			scriptedMiner(t, h, nil, nil)(proc, output)
		}
	}

	require.True(t, h.p.loop.post(h.p.calibrate))
	h.eventually(t, func(p *Proxy) bool { return p.steady }, "calibration finished")
	h.onLoop(t, func() {
		require.Equal(t, []string{"cn/1", "cryptonight/1"}, h.p.cfg.boundAlgos())
	})
	require.Equal(t, []string{"silent", "mute", "good"}, h.launcher.commands())
}

func TestCalibrationFailsWithoutAlgos(t *testing.T) {
	cfg := testProxyConfig("a.example.com:1111")
	h := newProxyHarness(t, cfg)
	require.True(t, h.p.loop.post(h.p.calibrate))
	select {
	case err := <-h.fatals:
		require.ErrorIs(t, err, errNoAlgos)
	case <-time.After(waitFor):
		t.Fatalf("expected a fatal configuration error")
	}
}

func TestCalibrationFailsWithoutPools(t *testing.T) {
	cfg := testProxyConfig()
	cfg.bindAlgo("cn/1", "miner-a")
	h := newProxyHarness(t, cfg)
	require.True(t, h.p.loop.post(h.p.calibrate))
	select {
	case err := <-h.fatals:
		require.ErrorIs(t, err, errNoPools)
	case <-time.After(waitFor):
		t.Fatalf("expected a fatal configuration error")
	}
}

func TestBenchmarkTimeoutLeavesClassUnmeasured(t *testing.T) {
	cfg := testProxyConfig("a.example.com:1111")
	cfg.BenchmarkTimeout = 100 * time.Millisecond
	cfg.bindAlgo("cn/1", "quiet-miner")
	h := newProxyHarness(t, cfg)
	h.dialer.setDown("a.example.com:1111", true)
	h.launcher.script = scriptedMiner(t, h, nil, nil)

	require.True(t, h.p.loop.post(h.p.calibrate))
	h.eventually(t, func(p *Proxy) bool { return p.steady }, "calibration finished")
	h.onLoop(t, func() {
		require.Equal(t, 0.0, h.p.cfg.AlgoPerf["cn"])
	})
	require.Equal(t, []string{"quiet-miner"}, h.launcher.commands())
}
