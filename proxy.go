package main

import (
	"context"
	"time"
)

// Proxy owns all relay state. Every field below is touched only on the event
// loop.
type Proxy struct {
	cfg      Config
	ctx      context.Context
	loop     *eventLoop
	dialer   poolDialer
	launcher processLauncher
	metrics  *ProxyMetrics
	events   *eventBus
	sup      *workerSupervisor

	pools        []poolEndpoint
	currPool     *poolSession
	currPoolNum  int
	chainSession *poolSession
	primaryProbe *poolSession
	primaryRetry *loopTimer
	backoff      *loopTimer
	job          currentJob

	minerConn    *lineConn
	minerLink    *lineConn
	lastActivity time.Time
	loginHandler func(msg *stratumMessage, conn *lineConn)

	currMiner     string
	currAlgo      string
	switchPending bool
	spawnFailed   string
	workerGen     uint64
	watchdog      *loopTimer
	steady        bool
	onFatal       func(error)
}

func NewProxy(ctx context.Context, cfg Config, loop *eventLoop, dialer poolDialer, launcher processLauncher, metrics *ProxyMetrics, events *eventBus) *Proxy {
	if ctx == nil {
		ctx = context.Background()
	}
	if metrics == nil {
		metrics = NewProxyMetrics()
	}
	p := &Proxy{
		cfg:      cfg,
		ctx:      ctx,
		loop:     loop,
		dialer:   dialer,
		launcher: launcher,
		metrics:  metrics,
		events:   events,
	}
	p.sup = newWorkerSupervisor(loop, launcher, metrics)
	loop.onPanic = func(any) { metrics.internalErrors.Add(1) }
	return p
}

func (p *Proxy) publish(ev proxyEvent) {
	p.events.publish(ev)
}

func (p *Proxy) internalError(msg string, attrs ...any) {
	p.metrics.internalErrors.Add(1)
	p.metrics.RecordErrorEvent("internal", msg, nowFunc())
	logger.Error("[INTERNAL ERROR] "+msg, attrs...)
}

func (p *Proxy) poolName(idx int) string {
	if idx < 0 || idx >= len(p.pools) {
		return ""
	}
	return p.pools[idx].String()
}

// shutdown stops timers, sockets and the worker. Runs on the loop.
func (p *Proxy) shutdown(done func()) {
	p.primaryRetry.stop()
	p.primaryRetry = nil
	p.backoff.stop()
	p.backoff = nil
	p.watchdog.stop()
	p.watchdog = nil
	for _, s := range []*poolSession{p.currPool, p.chainSession, p.primaryProbe} {
		if s != nil {
			s.close()
		}
	}
	p.currPool, p.chainSession, p.primaryProbe = nil, nil, nil
	p.job.clear()
	p.dropMinerConn()
	p.sup.stop(done)
}
