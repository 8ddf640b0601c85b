package main

import (
	"sync"
	"sync/atomic"
	"time"
)

const errorHistorySize = 6

type ErrorEvent struct {
	At      time.Time `json:"at"`
	Type    string    `json:"type"`
	Message string    `json:"message"`
}

// ProxyMetrics counts relay activity. Counters are atomics so the status
// endpoint can read them off the event loop.
type ProxyMetrics struct {
	poolMessages       atomic.Uint64
	minerMessages      atomic.Uint64
	jobsForwarded      atomic.Uint64
	jobsDroppedPending atomic.Uint64
	jobsUnknownAlgo    atomic.Uint64
	undeliverable      atomic.Uint64
	malformedLines     atomic.Uint64
	failovers          atomic.Uint64
	primaryRestores    atomic.Uint64
	algoSwitches       atomic.Uint64
	watchdogRestarts   atomic.Uint64
	workerSpawnErrors  atomic.Uint64
	workerExits        atomic.Uint64
	minerRejected      atomic.Uint64
	eventsDropped      atomic.Uint64
	internalErrors     atomic.Uint64

	mu           sync.RWMutex
	start        time.Time
	errorHistory []ErrorEvent
}

func NewProxyMetrics() *ProxyMetrics {
	return &ProxyMetrics{start: time.Now()}
}

func (m *ProxyMetrics) StartTime() time.Time {
	if m == nil {
		return time.Time{}
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.start
}

func (m *ProxyMetrics) RecordErrorEvent(kind, message string, at time.Time) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.recordErrorEventLocked(kind, message, at)
	m.mu.Unlock()
}

func (m *ProxyMetrics) recordErrorEventLocked(kind, message string, at time.Time) {
	if kind == "" {
		kind = "unknown"
	}
	if message == "" {
		message = "unspecified"
	}
	m.errorHistory = append(m.errorHistory, ErrorEvent{
		At:      at,
		Type:    kind,
		Message: message,
	})
	if len(m.errorHistory) > errorHistorySize {
		m.errorHistory = m.errorHistory[len(m.errorHistory)-errorHistorySize:]
	}
}

func (m *ProxyMetrics) SnapshotErrorHistory() []ErrorEvent {
	if m == nil {
		return nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.errorHistory) == 0 {
		return nil
	}
	out := make([]ErrorEvent, len(m.errorHistory))
	copy(out, m.errorHistory)
	return out
}

// MetricsSnapshot is the counter view served by the status endpoint.
type MetricsSnapshot struct {
	PoolMessages             uint64 `json:"pool_messages"`
	MinerMessages            uint64 `json:"miner_messages"`
	JobsForwarded            uint64 `json:"jobs_forwarded"`
	JobsDroppedPendingSwitch uint64 `json:"jobs_dropped_pending_switch"`
	JobsUnknownAlgo          uint64 `json:"jobs_unknown_algo"`
	PoolUndeliverable        uint64 `json:"pool_messages_undeliverable"`
	MalformedLines           uint64 `json:"malformed_lines"`
	Failovers                uint64 `json:"failovers"`
	PrimaryRestores          uint64 `json:"primary_restores"`
	AlgoSwitches             uint64 `json:"algo_switches"`
	WatchdogRestarts         uint64 `json:"watchdog_restarts"`
	WorkerSpawnErrors        uint64 `json:"worker_spawn_errors"`
	WorkerExits              uint64 `json:"worker_exits"`
	MinerConnsRejected       uint64 `json:"miner_conns_rejected"`
	EventsDropped            uint64 `json:"events_dropped"`
	InternalErrors           uint64 `json:"internal_errors"`
}

func (m *ProxyMetrics) Snapshot() MetricsSnapshot {
	if m == nil {
		return MetricsSnapshot{}
	}
	return MetricsSnapshot{
		PoolMessages:             m.poolMessages.Load(),
		MinerMessages:            m.minerMessages.Load(),
		JobsForwarded:            m.jobsForwarded.Load(),
		JobsDroppedPendingSwitch: m.jobsDroppedPending.Load(),
		JobsUnknownAlgo:          m.jobsUnknownAlgo.Load(),
		PoolUndeliverable:        m.undeliverable.Load(),
		MalformedLines:           m.malformedLines.Load(),
		Failovers:                m.failovers.Load(),
		PrimaryRestores:          m.primaryRestores.Load(),
		AlgoSwitches:             m.algoSwitches.Load(),
		WatchdogRestarts:         m.watchdogRestarts.Load(),
		WorkerSpawnErrors:        m.workerSpawnErrors.Load(),
		WorkerExits:              m.workerExits.Load(),
		MinerConnsRejected:       m.minerRejected.Load(),
		EventsDropped:            m.eventsDropped.Load(),
		InternalErrors:           m.internalErrors.Load(),
	}
}
