package main

import (
	"context"
	"sync"
	"time"

	"github.com/remeh/sizedwaitgroup"
)

const (
	eventPoolConnected   = "pool_connected"
	eventPoolFailover    = "pool_failover"
	eventPrimaryRestored = "primary_restored"
	eventAlgoSwitch      = "algo_switch"
	eventJobDropped      = "job_dropped"
	eventWatchdogRestart = "watchdog_restart"
	eventWorkerExit      = "worker_exit"
	eventBenchmark       = "benchmark"
	eventCalibrationDone = "calibration_done"
)

// proxyEvent is a state change worth telling operators about.
type proxyEvent struct {
	Kind      string    `json:"kind"`
	Message   string    `json:"message"`
	Pool      string    `json:"pool,omitempty"`
	SessionID string    `json:"session_id,omitempty"`
	Algo      string    `json:"algo,omitempty"`
	Command   string    `json:"command,omitempty"`
	CommandID string    `json:"command_id,omitempty"`
	Hashrate  float64   `json:"hashrate,omitempty"`
	At        time.Time `json:"at"`
}

type eventSink interface {
	Name() string
	Handle(ctx context.Context, ev proxyEvent) error
	Close() error
}

// eventBus hands events from the loop to the sinks. publish never blocks;
// when the queue is full the event is counted and dropped.
type eventBus struct {
	queue   chan proxyEvent
	done    chan struct{}
	sinks   []eventSink
	metrics *ProxyMetrics
	workers int

	stopOnce sync.Once
	wg       sync.WaitGroup
}

func newEventBus(metrics *ProxyMetrics, sinks ...eventSink) *eventBus {
	return &eventBus{
		queue:   make(chan proxyEvent, eventBusQueueDepth),
		done:    make(chan struct{}),
		sinks:   sinks,
		metrics: metrics,
		workers: eventSinkWorkers,
	}
}

func (b *eventBus) addSink(sink eventSink) {
	if b == nil || sink == nil {
		return
	}
	b.sinks = append(b.sinks, sink)
}

func (b *eventBus) publish(ev proxyEvent) {
	if b == nil {
		return
	}
	if ev.At.IsZero() {
		ev.At = nowFunc()
	}
	if ev.Command != "" && ev.CommandID == "" {
		ev.CommandID = commandID(ev.Command)
	}
	select {
	case <-b.done:
		return
	default:
	}
	select {
	case b.queue <- ev:
	default:
		if b.metrics != nil {
			b.metrics.eventsDropped.Add(1)
		}
		if debugLogging {
			logger.Debug("event queue full; dropping event", "kind", ev.Kind)
		}
	}
}

func (b *eventBus) start(ctx context.Context) {
	if b == nil {
		return
	}
	b.wg.Add(1)
	go b.run(ctx)
}

func (b *eventBus) run(ctx context.Context) {
	defer b.wg.Done()
	for {
		select {
		case <-ctx.Done():
			b.drain(ctx)
			return
		case <-b.done:
			b.drain(ctx)
			return
		case ev := <-b.queue:
			b.dispatch(ctx, ev)
		}
	}
}

func (b *eventBus) drain(ctx context.Context) {
	for {
		select {
		case ev := <-b.queue:
			b.dispatch(context.WithoutCancel(ctx), ev)
		default:
			return
		}
	}
}

func (b *eventBus) dispatch(ctx context.Context, ev proxyEvent) {
	if len(b.sinks) == 0 {
		return
	}
	swg := sizedwaitgroup.New(b.workers)
	for _, sink := range b.sinks {
		swg.Add()
		go func(sink eventSink) {
			defer swg.Done()
			if err := sink.Handle(ctx, ev); err != nil {
				logger.Warn("event sink failed", "sink", sink.Name(), "kind", ev.Kind, "error", err)
			}
		}(sink)
	}
	swg.Wait()
}

// stop flushes queued events and closes every sink.
func (b *eventBus) stop() {
	if b == nil {
		return
	}
	b.stopOnce.Do(func() {
		close(b.done)
		b.wg.Wait()
		for _, sink := range b.sinks {
			if err := sink.Close(); err != nil {
				logger.Warn("close event sink", "sink", sink.Name(), "error", err)
			}
		}
	})
}
