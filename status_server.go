package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/bytedance/sonic"
	"github.com/hako/durafmt"
	"github.com/shirou/gopsutil/v3/process"
)

const (
	statusReadHeaderTimeout = 5 * time.Second
	statusSnapshotTimeout   = 2 * time.Second
	defaultEventsLimit      = 50
	maxEventsLimit          = 500
)

// statusSnapshot is the /api/status document.
type statusSnapshot struct {
	Software       string                     `json:"software"`
	Version        string                     `json:"version"`
	BuildTime      string                     `json:"build_time,omitempty"`
	Uptime         string                     `json:"uptime"`
	UptimeSeconds  int64                      `json:"uptime_seconds"`
	Steady         bool                       `json:"steady"`
	Pool           string                     `json:"pool,omitempty"`
	PoolIndex      int                        `json:"pool_index"`
	SessionID      string                     `json:"session_id,omitempty"`
	PoolReady      bool                       `json:"pool_ready"`
	PoolRTTMS      float64                    `json:"pool_rtt_ms,omitempty"`
	Failover       bool                       `json:"failover"`
	Command        string                     `json:"command,omitempty"`
	CommandID      string                     `json:"command_id,omitempty"`
	Algo           string                     `json:"algo,omitempty"`
	WorkerPID      int                        `json:"worker_pid,omitempty"`
	WorkerRSS      uint64                     `json:"worker_rss_bytes,omitempty"`
	WorkerLinked   bool                       `json:"worker_linked"`
	Idle           string                     `json:"idle,omitempty"`
	SwitchPending  bool                       `json:"switch_pending"`
	AlgoCount      int                        `json:"algo_count"`
	AlgoPerf       map[string]float64         `json:"algo_perf"`
	LastBenchmarks map[string]benchmarkRecord `json:"last_benchmarks,omitempty"`
	ProcessRSS     uint64                     `json:"process_rss_bytes,omitempty"`
	Metrics        MetricsSnapshot            `json:"metrics"`
	RecentErrors   []ErrorEvent               `json:"recent_errors,omitempty"`
}

// StatusServer serves a read-only JSON view of the relay.
type StatusServer struct {
	proxy   *Proxy
	journal *eventJournal
}

func NewStatusServer(p *Proxy, journal *eventJournal) *StatusServer {
	return &StatusServer{proxy: p, journal: journal}
}

func (s *StatusServer) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/status", s.handleStatusJSON)
	mux.HandleFunc("/api/events", s.handleEventsJSON)
	return mux
}

// snapshot copies the loop-owned state. The copy is taken on the loop; the
// rest is read from atomics and the journal.
func (s *StatusServer) snapshot(ctx context.Context) (statusSnapshot, error) {
	p := s.proxy
	now := time.Now()
	start := p.metrics.StartTime()
	snap := statusSnapshot{
		Software:  poolSoftwareName,
		Version:   softwareVersion(),
		BuildTime: buildTime,
	}
	if !start.IsZero() {
		up := now.Sub(start).Truncate(time.Second)
		snap.Uptime = durafmt.Parse(up).LimitFirstN(2).String()
		snap.UptimeSeconds = int64(up / time.Second)
	}

	var pid int
	ok := p.loop.call(func() {
		snap.Steady = p.steady
		snap.PoolIndex = p.currPoolNum
		if p.currPool != nil {
			snap.Pool = p.currPool.endpoint.String()
			snap.SessionID = p.currPool.id
			snap.PoolReady = p.currPool.ready()
			if p.currPool.link != nil {
				snap.PoolRTTMS = float64(connRTT(p.currPool.link.conn)) / float64(time.Millisecond)
			}
		}
		snap.Failover = p.currPoolNum != 0
		snap.Command = p.currMiner
		if p.currMiner != "" {
			snap.CommandID = commandID(p.currMiner)
		}
		snap.Algo = p.currAlgo
		if w := p.sup.current; w.live() && w.proc != nil {
			pid = w.proc.Pid()
		}
		snap.WorkerLinked = p.minerLink != nil
		if p.steady && !p.lastActivity.IsZero() {
			snap.Idle = durafmt.Parse(nowFunc().Sub(p.lastActivity).Truncate(time.Second)).LimitFirstN(2).String()
		}
		snap.SwitchPending = p.switchPending
		snap.AlgoCount = len(p.cfg.Algos)
		snap.AlgoPerf = make(map[string]float64, len(p.cfg.AlgoPerf))
		for class, rate := range p.cfg.AlgoPerf {
			snap.AlgoPerf[class] = rate
		}
	})
	if !ok {
		return statusSnapshot{}, errors.New("event loop stopped")
	}
	snap.WorkerPID = pid
	if pid > 0 {
		snap.WorkerRSS = processRSS(ctx, pid)
	}
	snap.ProcessRSS = processRSS(ctx, os.Getpid())
	snap.Metrics = p.metrics.Snapshot()
	snap.RecentErrors = p.metrics.SnapshotErrorHistory()

	if s.journal != nil {
		for _, class := range algoClasses() {
			rec, found, err := s.journal.lastBenchmark(ctx, class)
			if err != nil {
				logger.Warn("status: read benchmark", "class", class, "error", err)
				break
			}
			if !found {
				continue
			}
			if snap.LastBenchmarks == nil {
				snap.LastBenchmarks = make(map[string]benchmarkRecord)
			}
			snap.LastBenchmarks[class] = rec
		}
	}
	return snap, nil
}

func processRSS(ctx context.Context, pid int) uint64 {
	proc, err := process.NewProcessWithContext(ctx, int32(pid))
	if err != nil {
		return 0
	}
	mem, err := proc.MemoryInfoWithContext(ctx)
	if err != nil || mem == nil {
		return 0
	}
	return mem.RSS
}

func (s *StatusServer) handleStatusJSON(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), statusSnapshotTimeout)
	defer cancel()
	snap, err := s.snapshot(ctx)
	if err != nil {
		http.Error(w, "status unavailable", http.StatusServiceUnavailable)
		return
	}
	s.writeJSON(w, snap)
}

func (s *StatusServer) handleEventsJSON(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	limit := defaultEventsLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = min(n, maxEventsLimit)
	}
	if s.journal == nil {
		http.Error(w, "state journal disabled", http.StatusNotFound)
		return
	}
	events, err := s.journal.recentEvents(r.Context(), limit)
	if err != nil {
		logger.Error("status: read events", "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	if events == nil {
		events = []journalEvent{}
	}
	s.writeJSON(w, events)
}

func (s *StatusServer) writeJSON(w http.ResponseWriter, v any) {
	payload, err := sonic.Marshal(v)
	if err != nil {
		logger.Error("status json encode", "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	if _, err := w.Write(payload); err != nil {
		logger.Error("write status response", "error", err)
	}
}

// serveStatus listens on addr until ctx is done.
func (s *StatusServer) serveStatus(ctx context.Context, addr string) (net.Addr, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	srv := &http.Server{
		Handler:           s.handler(),
		ReadHeaderTimeout: statusReadHeaderTimeout,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("status server error", "addr", addr, "error", err)
		}
	}()
	logger.Info("status server listening", "addr", ln.Addr().String())
	return ln.Addr(), nil
}
