package journal

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteIndex mirrors journal events into an events table. Writes are queued
// to a single writer goroutine and dropped when the queue is full; the JSONL
// files remain the source of truth.
type SQLiteIndex struct {
	db     *sql.DB
	insert *sql.Stmt

	ch   chan Event
	wg   sync.WaitGroup
	once sync.Once

	closed  atomic.Bool
	dropped atomic.Uint64
}

func OpenSQLite(path string) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	insert, err := db.Prepare(`INSERT OR REPLACE INTO events(id,at,kind,agent,incarnation,cause,attempt,delay_ms,target,detail) VALUES(?,?,?,?,?,?,?,?,?,?)`)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("prepare event insert: %w", err)
	}

	s := &SQLiteIndex{db: db, insert: insert, ch: make(chan Event, 4096)}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS events (
			id TEXT PRIMARY KEY,
			at TEXT NOT NULL,
			kind TEXT NOT NULL,
			agent TEXT,
			incarnation TEXT,
			cause TEXT,
			attempt INTEGER NOT NULL DEFAULT 0,
			delay_ms INTEGER NOT NULL DEFAULT 0,
			target TEXT,
			detail TEXT
		);`,
		`CREATE INDEX IF NOT EXISTS idx_events_agent_at ON events(agent, at);`,
		`CREATE INDEX IF NOT EXISTS idx_events_kind_at ON events(kind, at);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

// Record queues e for insertion.
func (s *SQLiteIndex) Record(e Event) {
	if s == nil || s.closed.Load() {
		return
	}
	e = stamp(e)
	select {
	case s.ch <- e:
	default:
		s.dropped.Add(1)
	}
}

// Dropped reports how many events never reached the table, either because the
// queue was full or because the insert failed.
func (s *SQLiteIndex) Dropped() uint64 { return s.dropped.Load() }

// Close drains the queue and closes the database.
func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

// CountByKind returns per-kind event counts, optionally restricted to one agent.
func (s *SQLiteIndex) CountByKind(ctx context.Context, agent string) (map[Kind]int, error) {
	q := `SELECT kind, COUNT(*) FROM events GROUP BY kind`
	args := []any{}
	if agent != "" {
		q = `SELECT kind, COUNT(*) FROM events WHERE agent = ? GROUP BY kind`
		args = append(args, agent)
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[Kind]int{}
	for rows.Next() {
		var k string
		var n int
		if err := rows.Scan(&k, &n); err != nil {
			return nil, err
		}
		out[Kind(k)] = n
	}
	return out, rows.Err()
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	defer s.insert.Close()

	var (
		tx            *sql.Tx
		opCount       int
		lastCommit    = time.Now()
		commitEvery   = 256
		commitMaxWait = time.Second
	)
	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx = txx
		opCount = 0
		lastCommit = time.Now()
	}
	commit := func() {
		if tx == nil {
			return
		}
		_ = tx.Commit()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}

	// Lifecycle events are sparse, so an idle queue commits promptly too.
	ticker := time.NewTicker(commitMaxWait)
	defer ticker.Stop()

	for {
		select {
		case e, ok := <-s.ch:
			if !ok {
				commit()
				return
			}
			begin()
			if tx == nil {
				s.dropped.Add(1)
				continue
			}
			if _, err := tx.Stmt(s.insert).Exec(
				e.ID,
				e.Time.UTC().Format(time.RFC3339Nano),
				string(e.Kind),
				e.Agent,
				e.Incarnation,
				e.Cause,
				e.Attempt,
				e.DelayMs,
				e.Target,
				e.Detail,
			); err != nil {
				s.dropped.Add(1)
				_ = tx.Rollback()
				tx = nil
				continue
			}
			opCount++
			if opCount >= commitEvery || time.Since(lastCommit) >= commitMaxWait {
				commit()
			}
		case <-ticker.C:
			commit()
		}
	}
}
