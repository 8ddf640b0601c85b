package main

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func getStatus(t *testing.T, s *StatusServer, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	s.handler().ServeHTTP(rr, httptest.NewRequest(method, target, nil))
	return rr
}

func TestStatusReportsPoolAndWorker(t *testing.T) {
	cfg := testProxyConfig("a.example.com:1111")
	cfg.bindAlgo("cn/1", "miner-a")
	cfg.AlgoPerf["cn"] = 1200
	h := newProxyHarness(t, cfg)
	readyPool(t, h, "j1", "cn/1")
	h.eventually(t, func(p *Proxy) bool { return p.currAlgo == "cn/1" }, "job routed")

	s := NewStatusServer(h.p, nil)
	rr := getStatus(t, s, http.MethodGet, "/api/status")
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "application/json", rr.Header().Get("Content-Type"))

	var snap statusSnapshot
	require.NoError(t, fastJSONUnmarshal(rr.Body.Bytes(), &snap))
	require.Equal(t, poolSoftwareName, snap.Software)
	require.True(t, snap.Steady)
	require.Equal(t, "a.example.com:1111", snap.Pool)
	require.True(t, snap.PoolReady)
	require.False(t, snap.Failover)
	require.Equal(t, "cn/1", snap.Algo)
	require.Equal(t, "miner-a", snap.Command)
	require.Equal(t, commandID("miner-a"), snap.CommandID)
	require.Equal(t, 1000, snap.WorkerPID)
	require.Equal(t, 1200.0, snap.AlgoPerf["cn"])
}

func TestStatusRejectsWrites(t *testing.T) {
	h := newProxyHarness(t, testProxyConfig("a.example.com:1111"))
	s := NewStatusServer(h.p, nil)
	for _, path := range []string{"/api/status", "/api/events"} {
		rr := getStatus(t, s, http.MethodPost, path)
		require.Equal(t, http.StatusMethodNotAllowed, rr.Code, path)
	}
}

func TestEventsEndpoint(t *testing.T) {
	h := newProxyHarness(t, testProxyConfig("a.example.com:1111"))

	rr := getStatus(t, NewStatusServer(h.p, nil), http.MethodGet, "/api/events")
	require.Equal(t, http.StatusNotFound, rr.Code, "journal disabled")

	j := openTestJournal(t)
	for _, kind := range []string{eventPoolConnected, eventPoolFailover, eventPrimaryRestored} {
		require.NoError(t, j.Handle(context.Background(), proxyEvent{Kind: kind, Message: kind, At: time.Now()}))
	}
	s := NewStatusServer(h.p, j)

	tests := []struct {
		name  string
		query string
		code  int
		count int
	}{
		{name: "default", query: "", code: http.StatusOK, count: 3},
		{name: "limited", query: "?limit=1", code: http.StatusOK, count: 1},
		{name: "capped", query: "?limit=100000", code: http.StatusOK, count: 3},
		{name: "zero", query: "?limit=0", code: http.StatusBadRequest},
		{name: "garbage", query: "?limit=ten", code: http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := getStatus(t, s, http.MethodGet, "/api/events"+tt.query)
			require.Equal(t, tt.code, rr.Code)
			if tt.code != http.StatusOK {
				return
			}
			var events []journalEvent
			require.NoError(t, fastJSONUnmarshal(rr.Body.Bytes(), &events))
			require.Len(t, events, tt.count)
			require.Equal(t, eventPrimaryRestored, events[0].Kind)
		})
	}
}

func TestStatusIncludesLastBenchmarks(t *testing.T) {
	h := newProxyHarness(t, testProxyConfig("a.example.com:1111"))
	j := openTestJournal(t)
	require.NoError(t, j.Handle(context.Background(), proxyEvent{
		Kind:     eventBenchmark,
		Message:  "benchmark",
		Algo:     "cn-heavy",
		Command:  "miner-heavy",
		Hashrate: 640,
		At:       time.Now(),
	}))

	rr := getStatus(t, NewStatusServer(h.p, j), http.MethodGet, "/api/status")
	require.Equal(t, http.StatusOK, rr.Code)
	var snap statusSnapshot
	require.NoError(t, fastJSONUnmarshal(rr.Body.Bytes(), &snap))
	require.Contains(t, snap.LastBenchmarks, "cn-heavy")
	require.Equal(t, 640.0, snap.LastBenchmarks["cn-heavy"].Hashrate)
	require.NotContains(t, snap.LastBenchmarks, "cn")
}

func TestServeStatusStopsWithContext(t *testing.T) {
	h := newProxyHarness(t, testProxyConfig("a.example.com:1111"))
	ctx, cancel := context.WithCancel(context.Background())
	addr, err := NewStatusServer(h.p, nil).serveStatus(ctx, "127.0.0.1:0")
	require.NoError(t, err)

	resp, err := http.Get("http://" + addr.String() + "/api/status")
	require.NoError(t, err)
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + addr.String() + "/api/status")
		if err == nil {
			resp.Body.Close()
		}
		return err != nil
	}, waitFor, 10*time.Millisecond)
}
