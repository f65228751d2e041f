package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	logx "enel/pkg/logx"
)

//go:embed migrations.sql
var migrations string

const (
	sqlInsertRun = `INSERT INTO task_runs(run_id, task, started_ms, finished_ms, duration_ms, ok, err)
VALUES(?, ?, ?, ?, ?, ?, ?)`
	sqlInsertResult = `INSERT INTO task_results(run_id, task, at_ms, data) VALUES(?, ?, ?, ?)`
	sqlRecentRuns   = `SELECT run_id, task, started_ms, finished_ms, duration_ms, ok, COALESCE(err, '')
FROM task_runs WHERE (? = '' OR task = ?) ORDER BY id DESC LIMIT ?`
	sqlPutDedup = `INSERT INTO dedup(key, until_ms) VALUES(?, ?)
ON CONFLICT(key) DO UPDATE SET until_ms = excluded.until_ms`
	sqlGetDedup   = `SELECT until_ms FROM dedup WHERE key = ?`
	sqlPruneDedup = `DELETE FROM dedup WHERE until_ms < ?`
)

// Expired dedup rows are swept once per this many writes.
const dedupPruneEvery = 500

type sqliteStore struct {
	db     *sql.DB
	log    logx.Logger
	writes atomic.Uint64
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for sqlite driver")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite allows one writer; a single connection avoids SQLITE_BUSY churn.
	db.SetMaxOpenConns(1)

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	for _, pragma := range []string{
		fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()),
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			log.Debug("sqlite pragma failed", logx.String("pragma", pragma), logx.Err(err))
		}
	}
	if _, err := db.Exec(migrations); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite migrate: %w", err)
	}
	return &sqliteStore{db: db, log: log}, nil
}

func (s *sqliteStore) Close() error { return s.db.Close() }

func (s *sqliteStore) AppendRun(ctx context.Context, r RunRecord) error {
	var errText any
	if strings.TrimSpace(r.Error) != "" {
		errText = r.Error
	}
	_, err := s.db.ExecContext(ctx, sqlInsertRun,
		r.RunID, r.Task, r.Started.UnixMilli(), r.Finished.UnixMilli(), r.Duration.Milliseconds(), r.OK, errText)
	return err
}

func (s *sqliteStore) AppendResult(ctx context.Context, r ResultRecord) error {
	if r.At.IsZero() {
		r.At = time.Now()
	}
	_, err := s.db.ExecContext(ctx, sqlInsertResult, r.RunID, r.Task, r.At.UnixMilli(), r.Data)
	return err
}

func (s *sqliteStore) RecentRuns(ctx context.Context, task string, limit int) ([]RunRecord, error) {
	rows, err := s.db.QueryContext(ctx, sqlRecentRuns, task, task, clampLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RunRecord
	for rows.Next() {
		var r RunRecord
		var started, finished, took int64
		if err := rows.Scan(&r.RunID, &r.Task, &started, &finished, &took, &r.OK, &r.Error); err != nil {
			return nil, err
		}
		r.Started, r.Finished = time.UnixMilli(started), time.UnixMilli(finished)
		r.Duration = time.Duration(took) * time.Millisecond
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *sqliteStore) PutDedup(ctx context.Context, key string, until time.Time) error {
	if key == "" {
		return nil
	}
	if _, err := s.db.ExecContext(ctx, sqlPutDedup, key, until.UnixMilli()); err != nil {
		return err
	}
	if s.writes.Add(1)%dedupPruneEvery == 0 {
		s.pruneDedup()
	}
	return nil
}

func (s *sqliteStore) pruneDedup() {
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := s.db.ExecContext(ctx, sqlPruneDedup, time.Now().UnixMilli()); err != nil {
		s.log.Debug("dedup prune failed", logx.Err(err))
	}
}

func (s *sqliteStore) GetDedup(ctx context.Context, key string) (time.Time, bool, error) {
	if key == "" {
		return time.Time{}, false, nil
	}
	var ms int64
	switch err := s.db.QueryRowContext(ctx, sqlGetDedup, key).Scan(&ms); {
	case errors.Is(err, sql.ErrNoRows):
		return time.Time{}, false, nil
	case err != nil:
		return time.Time{}, false, err
	}
	return time.UnixMilli(ms), true, nil
}
