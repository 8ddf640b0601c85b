package main

import (
	"context"
	"database/sql"
	"time"
)

// eventJournal records events and benchmark outcomes in the state database.
type eventJournal struct {
	db *sql.DB
}

func newEventJournal(db *sql.DB) *eventJournal {
	return &eventJournal{db: db}
}

func (j *eventJournal) Name() string { return "journal" }

func (j *eventJournal) Handle(ctx context.Context, ev proxyEvent) error {
	if j == nil || j.db == nil {
		return nil
	}
	if _, err := j.db.ExecContext(ctx,
		"INSERT INTO events (kind, message, pool, session_id, algo, command_id, created_at_unix) VALUES (?, ?, ?, ?, ?, ?, ?)",
		ev.Kind, ev.Message, ev.Pool, ev.SessionID, ev.Algo, ev.CommandID, unixOrZero(ev.At),
	); err != nil {
		return err
	}
	if ev.Kind != eventBenchmark {
		return nil
	}
	ok := 0
	if ev.Hashrate > 0 {
		ok = 1
	}
	_, err := j.db.ExecContext(ctx,
		"INSERT INTO benchmarks (algo_class, command_id, command, hashrate, ok, measured_at_unix) VALUES (?, ?, ?, ?, ?, ?)",
		ev.Algo, ev.CommandID, ev.Command, ev.Hashrate, ok, unixOrZero(ev.At),
	)
	return err
}

func (j *eventJournal) Close() error {
	if j == nil || j.db == nil {
		return nil
	}
	return j.db.Close()
}

type journalEvent struct {
	ID        int64     `json:"id"`
	Kind      string    `json:"kind"`
	Message   string    `json:"message"`
	Pool      string    `json:"pool,omitempty"`
	SessionID string    `json:"session_id,omitempty"`
	Algo      string    `json:"algo,omitempty"`
	CommandID string    `json:"command_id,omitempty"`
	At        time.Time `json:"at"`
}

// recentEvents returns up to limit events, newest first.
func (j *eventJournal) recentEvents(ctx context.Context, limit int) ([]journalEvent, error) {
	if j == nil || j.db == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 50
	}
	rows, err := j.db.QueryContext(ctx,
		"SELECT id, kind, message, COALESCE(pool, ''), COALESCE(session_id, ''), COALESCE(algo, ''), COALESCE(command_id, ''), created_at_unix FROM events ORDER BY id DESC LIMIT ?",
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []journalEvent
	for rows.Next() {
		var ev journalEvent
		var at int64
		if err := rows.Scan(&ev.ID, &ev.Kind, &ev.Message, &ev.Pool, &ev.SessionID, &ev.Algo, &ev.CommandID, &at); err != nil {
			return nil, err
		}
		ev.At = time.Unix(at, 0).UTC()
		out = append(out, ev)
	}
	return out, rows.Err()
}

type benchmarkRecord struct {
	Class     string    `json:"class"`
	CommandID string    `json:"command_id"`
	Command   string    `json:"command"`
	Hashrate  float64   `json:"hashrate"`
	OK        bool      `json:"ok"`
	At        time.Time `json:"at"`
}

// lastBenchmark returns the newest benchmark of class, if any.
func (j *eventJournal) lastBenchmark(ctx context.Context, class string) (benchmarkRecord, bool, error) {
	if j == nil || j.db == nil {
		return benchmarkRecord{}, false, nil
	}
	var rec benchmarkRecord
	var ok int
	var at int64
	err := j.db.QueryRowContext(ctx,
		"SELECT algo_class, command_id, command, hashrate, ok, measured_at_unix FROM benchmarks WHERE algo_class = ? ORDER BY id DESC LIMIT 1",
		class,
	).Scan(&rec.Class, &rec.CommandID, &rec.Command, &rec.Hashrate, &ok, &at)
	if err == sql.ErrNoRows {
		return benchmarkRecord{}, false, nil
	}
	if err != nil {
		return benchmarkRecord{}, false, err
	}
	rec.OK = ok == 1
	rec.At = time.Unix(at, 0).UTC()
	return rec, true, nil
}
