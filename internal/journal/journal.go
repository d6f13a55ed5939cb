// Package journal records mode switches and sent guidance in SQLite.
package journal

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/wayguide/wayguide/internal/monitoring"
	"github.com/wayguide/wayguide/internal/service"
)

// DefaultQueueSize bounds how many records may wait for the writer.
const DefaultQueueSize = 256

// Journal is a service.Observer and service.StateObserver backed by SQLite.
// Observations are queued and written by a single goroutine so that the
// orchestrator never waits on disk.
type Journal struct {
	db   *sql.DB
	path string
	logf func(string, ...interface{})

	queue chan record
	done  chan struct{}

	mu      sync.Mutex
	closed  bool
	dropped uint64
}

type record struct {
	reply *service.Outbound
	trans *service.Transition
	flush chan struct{}
}

// ReplyRow is one stored reply.
type ReplyRow struct {
	ID         int64     `json:"id"`
	Action     string    `json:"action"`
	Message    string    `json:"message"`
	Kind       string    `json:"kind"`
	Generation string    `json:"generation,omitempty"`
	At         time.Time `json:"at"`
}

// SwitchRow is one stored state transition.
type SwitchRow struct {
	ID         int64     `json:"id"`
	From       string    `json:"from"`
	To         string    `json:"to"`
	Generation string    `json:"generation,omitempty"`
	At         time.Time `json:"at"`
}

// Open opens (creating if needed) the journal at path, applies pending
// migrations and starts the writer.
func Open(path string) (*Journal, error) {
	return open(path, true)
}

// OpenForMaintenance opens the journal without touching its schema, for the
// migrate subcommand.
func OpenForMaintenance(path string) (*Journal, error) {
	return open(path, false)
}

func open(path string, migrateUp bool) (*Journal, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// One connection keeps ":memory:" databases coherent and avoids
	// SQLITE_BUSY between the writer and readers.
	db.SetMaxOpenConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, err
	}

	j := &Journal{
		db:    db,
		path:  path,
		logf:  monitoring.Component("journal"),
		queue: make(chan record, DefaultQueueSize),
		done:  make(chan struct{}),
	}
	if migrateUp {
		if err := j.MigrateUp(); err != nil {
			db.Close()
			return nil, err
		}
	}
	go j.writer()
	return j, nil
}

func applyPragmas(db *sql.DB) error {
	for _, p := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.Exec(p); err != nil {
			return fmt.Errorf("%s: %w", p, err)
		}
	}
	return nil
}

// DB exposes the underlying handle for the debug SQL explorer.
func (j *Journal) DB() *sql.DB { return j.db }

// Observe queues a reply.
func (j *Journal) Observe(out service.Outbound) {
	j.enqueue(record{reply: &out})
}

// ObserveTransition queues a state change.
func (j *Journal) ObserveTransition(tr service.Transition) {
	j.enqueue(record{trans: &tr})
}

func (j *Journal) enqueue(r record) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return
	}
	select {
	case j.queue <- r:
	default:
		j.dropped++
		if j.dropped == 1 || j.dropped%100 == 0 {
			j.logf("queue full, %d records dropped", j.dropped)
		}
	}
}

func (j *Journal) writer() {
	defer close(j.done)
	for r := range j.queue {
		var err error
		switch {
		case r.reply != nil:
			err = j.RecordReply(*r.reply)
		case r.trans != nil:
			err = j.RecordTransition(*r.trans)
		case r.flush != nil:
			close(r.flush)
		}
		if err != nil {
			j.logf("write failed: %v", err)
		}
	}
}

func genString(g uuid.UUID) sql.NullString {
	if g == uuid.Nil {
		return sql.NullString{}
	}
	return sql.NullString{String: g.String(), Valid: true}
}

// RecordReply stores out synchronously.
func (j *Journal) RecordReply(out service.Outbound) error {
	_, err := j.db.Exec(
		`INSERT INTO replies (action, message, kind, generation, at_unix_ms) VALUES (?, ?, ?, ?, ?)`,
		out.Reply.Action, out.Reply.Message, out.Kind.String(), genString(out.Generation), out.At.UnixMilli(),
	)
	return err
}

// RecordTransition stores tr synchronously.
func (j *Journal) RecordTransition(tr service.Transition) error {
	_, err := j.db.Exec(
		`INSERT INTO mode_switches (from_state, to_state, generation, at_unix_ms) VALUES (?, ?, ?, ?)`,
		tr.From.String(), tr.To.String(), genString(tr.Generation), tr.At.UnixMilli(),
	)
	return err
}

// RecentReplies returns up to limit replies, newest first.
func (j *Journal) RecentReplies(limit int) ([]ReplyRow, error) {
	rows, err := j.db.Query(
		`SELECT reply_id, action, message, kind, generation, at_unix_ms
		   FROM replies ORDER BY reply_id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ReplyRow
	for rows.Next() {
		var r ReplyRow
		var gen sql.NullString
		var at int64
		if err := rows.Scan(&r.ID, &r.Action, &r.Message, &r.Kind, &gen, &at); err != nil {
			return nil, err
		}
		r.Generation = gen.String
		r.At = time.UnixMilli(at)
		out = append(out, r)
	}
	return out, rows.Err()
}

// RecentSwitches returns up to limit state transitions, newest first.
func (j *Journal) RecentSwitches(limit int) ([]SwitchRow, error) {
	rows, err := j.db.Query(
		`SELECT switch_id, from_state, to_state, generation, at_unix_ms
		   FROM mode_switches ORDER BY switch_id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SwitchRow
	for rows.Next() {
		var s SwitchRow
		var gen sql.NullString
		var at int64
		if err := rows.Scan(&s.ID, &s.From, &s.To, &gen, &at); err != nil {
			return nil, err
		}
		s.Generation = gen.String
		s.At = time.UnixMilli(at)
		out = append(out, s)
	}
	return out, rows.Err()
}

// Flush waits until every record queued before the call is written. It is
// meant for tests and shutdown.
func (j *Journal) Flush() {
	ch := make(chan struct{})
	j.mu.Lock()
	if j.closed {
		j.mu.Unlock()
		return
	}
	// blocking send: a flush must not be dropped
	j.queue <- record{flush: ch}
	j.mu.Unlock()
	<-ch
}

// Close drains the queue and closes the database.
func (j *Journal) Close() error {
	j.mu.Lock()
	if j.closed {
		j.mu.Unlock()
		return nil
	}
	j.closed = true
	close(j.queue)
	j.mu.Unlock()

	<-j.done
	return j.db.Close()
}
