package main

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func openTestJournal(t *testing.T) *eventJournal {
	t.Helper()
	db, err := openStateDB(filepath.Join(t.TempDir(), "state", "metaminer.db"))
	require.NoError(t, err)
	j := newEventJournal(db)
	t.Cleanup(func() { _ = j.Close() })
	return j
}

func TestJournalRecordsEventsNewestFirst(t *testing.T) {
	j := openTestJournal(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i, kind := range []string{eventPoolConnected, eventAlgoSwitch, eventPoolFailover} {
		require.NoError(t, j.Handle(ctx, proxyEvent{
			Kind:      kind,
			Message:   kind + " happened",
			Pool:      "pool.example.com:3333",
			SessionID: "s1",
			Algo:      "cn/1",
			CommandID: commandID("xmrig"),
			At:        base.Add(time.Duration(i) * time.Second),
		}))
	}
	events, err := j.recentEvents(ctx, 2)
	require.NoError(t, err)
	require.Len(t, events, 2)
	require.Equal(t, eventPoolFailover, events[0].Kind)
	require.Equal(t, eventAlgoSwitch, events[1].Kind)
	require.Equal(t, base.Add(2*time.Second), events[0].At)
	require.Equal(t, "pool.example.com:3333", events[0].Pool)
	require.Equal(t, commandID("xmrig"), events[0].CommandID)
}

func TestJournalKeepsLatestBenchmarkPerClass(t *testing.T) {
	j := openTestJournal(t)
	ctx := context.Background()

	_, found, err := j.lastBenchmark(ctx, "cn")
	require.NoError(t, err)
	require.False(t, found)

	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for _, rate := range []float64{0, 1500.5} {
		require.NoError(t, j.Handle(ctx, proxyEvent{
			Kind:      eventBenchmark,
			Message:   "benchmark",
			Algo:      "cn",
			Command:   "xmrig --bench",
			CommandID: commandID("xmrig --bench"),
			Hashrate:  rate,
			At:        at,
		}))
		at = at.Add(time.Minute)
	}
	rec, found, err := j.lastBenchmark(ctx, "cn")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, 1500.5, rec.Hashrate)
	require.True(t, rec.OK)
	require.Equal(t, "xmrig --bench", rec.Command)

	_, found, err = j.lastBenchmark(ctx, "cn-heavy")
	require.NoError(t, err)
	require.False(t, found)
}

func TestOpenStateDBRejectsEmptyPath(t *testing.T) {
	_, err := openStateDB("  ")
	require.Error(t, err)
}

func TestCommandIDIsStable(t *testing.T) {
	a := commandID("xmrig --config=cn.json")
	require.Len(t, a, commandIDLen)
	require.Equal(t, a, commandID("  xmrig --config=cn.json "))
	require.NotEqual(t, a, commandID("xmrig --config=heavy.json"))
	require.Empty(t, commandID(""))
}
