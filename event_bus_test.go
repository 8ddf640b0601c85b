package main

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type failingSink struct {
	calls  atomic.Int32
	closed atomic.Bool
}

func (s *failingSink) Name() string { return "failing" }
func (s *failingSink) Close() error { s.closed.Store(true); return nil }

func (s *failingSink) Handle(context.Context, proxyEvent) error {
	s.calls.Add(1)
	return errors.New("sink unavailable")
}

func TestEventBusFansOutToEverySink(t *testing.T) {
	rec := &recordingSink{}
	bad := &failingSink{}
	bus := newEventBus(NewProxyMetrics(), rec, bad)
	bus.start(context.Background())

	bus.publish(proxyEvent{Kind: eventAlgoSwitch, Message: "switch", Command: "xmrig"})
	bus.publish(proxyEvent{Kind: eventPoolFailover, Message: "failover"})
	require.Eventually(t, func() bool { return len(rec.kinds()) == 2 }, waitFor, 5*time.Millisecond)
	require.Equal(t, []string{eventAlgoSwitch, eventPoolFailover}, rec.kinds())

	bus.stop()
	require.Equal(t, int32(2), bad.calls.Load(), "a failing sink does not stop delivery")
	require.True(t, bad.closed.Load())

	rec.mu.Lock()
	first := rec.events[0]
	rec.mu.Unlock()
	require.Equal(t, commandID("xmrig"), first.CommandID)
	require.False(t, first.At.IsZero())
}

type blockingSink struct {
	release chan struct{}
}

func (s *blockingSink) Name() string { return "blocking" }
func (s *blockingSink) Close() error { return nil }

func (s *blockingSink) Handle(ctx context.Context, _ proxyEvent) error {
	select {
	case <-s.release:
	case <-ctx.Done():
	}
	return nil
}

func TestEventBusPublishNeverBlocks(t *testing.T) {
	metrics := NewProxyMetrics()
	sink := &blockingSink{release: make(chan struct{})}
	bus := newEventBus(metrics, sink)
	bus.start(context.Background())

	start := time.Now()
	for i := 0; i < eventBusQueueDepth+50; i++ {
		bus.publish(proxyEvent{Kind: eventJobDropped})
	}
	require.Less(t, time.Since(start), time.Second)
	require.Positive(t, metrics.eventsDropped.Load())

	close(sink.release)
	bus.stop()
	bus.publish(proxyEvent{Kind: eventJobDropped}) // after stop: ignored
}

func TestNilEventBusIsSafe(t *testing.T) {
	var bus *eventBus
	bus.publish(proxyEvent{Kind: eventBenchmark})
	bus.addSink(&recordingSink{})
	bus.stop()
}
