package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	_ "github.com/go-sql-driver/mysql" // MySQL driver
	_ "github.com/lib/pq"              // PostgreSQL driver
	_ "github.com/mattn/go-sqlite3"    // SQLite driver (cgo), registered as "sqlite3"
	_ "modernc.org/sqlite"             // SQLite driver (pure Go), registered as "sqlite"
)

// SQLConfig configures a SQL-backed quota store.
type SQLConfig struct {
	// Driver is the database/sql driver: "sqlite", "sqlite3", "postgres"
	// or "mysql".
	Driver string

	// DSN is the connection string. For SQLite drivers Path is used when
	// DSN is empty.
	DSN string

	// Path is the SQLite database file.
	Path string

	// MaxOpenConns limits open connections for network databases.
	// SQLite always uses one connection, as it supports a single writer.
	// Default: 10
	MaxOpenConns int

	// BusyTimeout is how long SQLite waits for locks before failing.
	// Default: 5 seconds
	BusyTimeout time.Duration

	// CheckpointInterval is how often the SQLite WAL is checkpointed.
	// Default: 5 minutes
	CheckpointInterval time.Duration
}

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// SQLStore implements Store and ConditionalIncrementer on SQLite,
// PostgreSQL or MySQL. Records live in quota_records and per-feature usage
// in quota_usage, so increments touch a single row and never rewrite the
// whole record.
type SQLStore struct {
	db      *sql.DB
	dialect dialect
	ownsDB  bool
	logger  *slog.Logger

	done      chan struct{}
	closeOnce sync.Once
}

// OpenSQL opens the configured database, initializes the schema and
// returns a store that owns the connection pool.
func OpenSQL(ctx context.Context, cfg SQLConfig) (*SQLStore, error) {
	if cfg.BusyTimeout == 0 {
		cfg.BusyTimeout = 5 * time.Second
	}
	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = 10
	}
	if cfg.CheckpointInterval == 0 {
		cfg.CheckpointInterval = 5 * time.Minute
	}

	d, err := dialectFor(cfg.Driver)
	if err != nil {
		return nil, err
	}

	dsn := cfg.DSN
	if d.name == "sqlite" && dsn == "" {
		if cfg.Path == "" {
			return nil, fmt.Errorf("db path cannot be empty")
		}
		dsn = cfg.Path
	}

	db, err := sql.Open(cfg.Driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if d.name == "sqlite" {
		db.SetMaxOpenConns(1) // SQLite only supports single writer
		db.SetMaxIdleConns(1)
		db.SetConnMaxLifetime(0)

		pragmas := []string{
			"PRAGMA journal_mode=WAL",
			fmt.Sprintf("PRAGMA busy_timeout=%d", cfg.BusyTimeout.Milliseconds()),
			"PRAGMA synchronous=NORMAL",
		}
		for _, p := range pragmas {
			if _, err := db.ExecContext(ctx, p); err != nil {
				db.Close()
				return nil, fmt.Errorf("failed to apply %q: %w", p, err)
			}
		}
	} else {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
		db.SetMaxIdleConns(cfg.MaxOpenConns / 2)
	}

	s, err := NewSQLStore(ctx, db, cfg.Driver)
	if err != nil {
		db.Close()
		return nil, err
	}
	s.ownsDB = true

	if d.name == "sqlite" {
		s.done = make(chan struct{})
		go s.checkpointLoop(cfg.CheckpointInterval)
	}

	s.logger.Info("quota store opened", "driver", cfg.Driver)
	return s, nil
}

// NewSQLStore wraps an existing connection pool. The caller keeps ownership
// of db.
func NewSQLStore(ctx context.Context, db *sql.DB, driver string) (*SQLStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	d, err := dialectFor(driver)
	if err != nil {
		return nil, err
	}

	s := &SQLStore{
		db:      db,
		dialect: d,
		logger:  slog.Default().With("component", "limits.storage.sql", "dialect", d.name),
	}

	if err := s.initSchema(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return s, nil
}

// initSchema creates the tables if they don't exist.
func (s *SQLStore) initSchema(ctx context.Context) error {
	for _, stmt := range s.dialect.schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// Find implements Store.
func (s *SQLStore) Find(ctx context.Context, subjectID string) (*Record, error) {
	rec, err := s.find(ctx, s.db, subjectID)
	if err != nil {
		return nil, fmt.Errorf("failed to load record: %w", err)
	}
	return rec, nil
}

// Upsert implements Store.
func (s *SQLStore) Upsert(ctx context.Context, rec *Record) error {
	if err := rec.validate(); err != nil {
		return err
	}

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, s.dialect.rebind(s.dialect.upsertRecord), recordArgs(rec)...); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, s.dialect.rebind(`DELETE FROM quota_usage WHERE subject_id = ?`), rec.SubjectID); err != nil {
			return err
		}
		return insertUsage(ctx, tx, s.dialect, rec)
	})
	if err != nil {
		return fmt.Errorf("failed to upsert record: %w", err)
	}
	return nil
}

// CreateIfAbsent implements Store.
func (s *SQLStore) CreateIfAbsent(ctx context.Context, rec *Record) (*Record, error) {
	if err := rec.validate(); err != nil {
		return nil, err
	}

	var stored *Record
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, s.dialect.rebind(s.dialect.insertRecordIgnore), recordArgs(rec)...)
		if err != nil {
			return err
		}
		if n, err := res.RowsAffected(); err == nil && n > 0 {
			if err := insertUsage(ctx, tx, s.dialect, rec); err != nil {
				return err
			}
		}
		stored, err = s.find(ctx, tx, rec.SubjectID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create record: %w", err)
	}
	return stored, nil
}

// SetTier implements Store.
func (s *SQLStore) SetTier(ctx context.Context, subjectID, tier string, now time.Time) error {
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if err := s.mustExist(ctx, tx, subjectID); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx,
			s.dialect.rebind(`UPDATE quota_records SET tier = ?, last_updated = ? WHERE subject_id = ?`),
			tier, now.UnixMilli(), subjectID)
		return err
	})
	if errors.Is(err, ErrNotFound) {
		return err
	}
	if err != nil {
		return fmt.Errorf("failed to set tier: %w", err)
	}
	return nil
}

// Increment implements Store.
func (s *SQLStore) Increment(ctx context.Context, subjectID, feature string, now time.Time) (*Record, error) {
	var rec *Record
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if err := s.mustExist(ctx, tx, subjectID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, s.dialect.rebind(s.dialect.incrementUsage), subjectID, feature); err != nil {
			return err
		}
		if err := s.touch(ctx, tx, subjectID, now); err != nil {
			return err
		}
		var err error
		rec, err = s.find(ctx, tx, subjectID)
		return err
	})
	if errors.Is(err, ErrNotFound) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to increment usage: %w", err)
	}
	return rec, nil
}

// IncrementIfBelow implements ConditionalIncrementer. The guarded UPDATE
// re-reads the row under its write lock, so concurrent callers cannot push
// usage past limit.
func (s *SQLStore) IncrementIfBelow(ctx context.Context, subjectID, feature string, limit int64, now time.Time) (*Record, bool, error) {
	var (
		rec *Record
		ok  bool
	)
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if err := s.mustExist(ctx, tx, subjectID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, s.dialect.rebind(s.dialect.ensureUsage), subjectID, feature); err != nil {
			return err
		}

		res, err := tx.ExecContext(ctx,
			s.dialect.rebind(`UPDATE quota_usage SET used = used + 1 WHERE subject_id = ? AND feature = ? AND used < ?`),
			subjectID, feature, limit)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		ok = n > 0

		if ok {
			if err := s.touch(ctx, tx, subjectID, now); err != nil {
				return err
			}
		}
		rec, err = s.find(ctx, tx, subjectID)
		return err
	})
	if errors.Is(err, ErrNotFound) {
		return nil, false, err
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to increment usage: %w", err)
	}
	return rec, ok, nil
}

// ResetDue implements Store. Due subjects are selected first and then reset
// one transaction each, so a large sweep never holds a long lock.
func (s *SQLStore) ResetDue(ctx context.Context, now, next time.Time, subjectIDs ...string) ([]string, error) {
	query := `SELECT subject_id FROM quota_records WHERE reset_at <= ?`
	args := []any{now.UnixMilli()}
	if len(subjectIDs) > 0 {
		query += ` AND subject_id IN (` + placeholders(len(subjectIDs)) + `)`
		for _, id := range subjectIDs {
			args = append(args, id)
		}
	}

	rows, err := s.db.QueryContext(ctx, s.dialect.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to select due records: %w", err)
	}
	var due []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		due = append(due, id)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	rows.Close()

	var reset []string
	for _, id := range due {
		ok, err := s.resetOne(ctx, id, now, next)
		if err != nil {
			return reset, fmt.Errorf("failed to reset %q: %w", id, err)
		}
		if ok {
			reset = append(reset, id)
		}
	}
	return reset, nil
}

// resetOne resets a single record if it is still due.
func (s *SQLStore) resetOne(ctx context.Context, subjectID string, now, next time.Time) (bool, error) {
	var ok bool
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			s.dialect.rebind(`UPDATE quota_records SET reset_at = ?, last_updated = ? WHERE subject_id = ? AND reset_at <= ?`),
			next.UnixMilli(), now.UnixMilli(), subjectID, now.UnixMilli())
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return nil
		}
		ok = true
		_, err = tx.ExecContext(ctx, s.dialect.rebind(`UPDATE quota_usage SET used = 0 WHERE subject_id = ?`), subjectID)
		return err
	})
	return ok, err
}

// Ping implements Store.
func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close stops the checkpoint loop and closes the pool if the store owns it.
func (s *SQLStore) Close() error {
	var err error
	s.closeOnce.Do(func() {
		if s.done != nil {
			close(s.done)
		}
		if s.ownsDB {
			err = s.db.Close()
		}
	})
	return err
}

// find loads a record and its usage rows through q.
func (s *SQLStore) find(ctx context.Context, q querier, subjectID string) (*Record, error) {
	var (
		rec                           = &Record{SubjectID: subjectID, Usage: make(map[string]int64)}
		resetAt, lastUpdated, created int64
	)

	err := q.QueryRowContext(ctx,
		s.dialect.rebind(`SELECT tier, reset_at, last_updated, created_at FROM quota_records WHERE subject_id = ?`),
		subjectID,
	).Scan(&rec.Tier, &resetAt, &lastUpdated, &created)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	rec.ResetAt = time.UnixMilli(resetAt).UTC()
	rec.LastUpdated = time.UnixMilli(lastUpdated).UTC()
	rec.CreatedAt = time.UnixMilli(created).UTC()

	rows, err := q.QueryContext(ctx, s.dialect.rebind(`SELECT feature, used FROM quota_usage WHERE subject_id = ?`), subjectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			feature string
			used    int64
		)
		if err := rows.Scan(&feature, &used); err != nil {
			return nil, err
		}
		rec.Usage[feature] = used
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return rec, nil
}

// mustExist returns ErrNotFound when subjectID has no record.
func (s *SQLStore) mustExist(ctx context.Context, q querier, subjectID string) error {
	var one int
	err := q.QueryRowContext(ctx, s.dialect.rebind(`SELECT 1 FROM quota_records WHERE subject_id = ?`), subjectID).Scan(&one)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	return err
}

func (s *SQLStore) touch(ctx context.Context, q querier, subjectID string, now time.Time) error {
	_, err := q.ExecContext(ctx, s.dialect.rebind(`UPDATE quota_records SET last_updated = ? WHERE subject_id = ?`), now.UnixMilli(), subjectID)
	return err
}

func (s *SQLStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// checkpointLoop periodically checkpoints the SQLite WAL.
func (s *SQLStore) checkpointLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := s.db.Exec("PRAGMA wal_checkpoint(PASSIVE)"); err != nil {
				s.logger.Warn("wal checkpoint failed", "error", err)
			}
		case <-s.done:
			return
		}
	}
}

// recordArgs returns the insert arguments of a record row.
func recordArgs(rec *Record) []any {
	lastUpdated := rec.LastUpdated
	if lastUpdated.IsZero() {
		lastUpdated = time.Now()
	}
	created := rec.CreatedAt
	if created.IsZero() {
		created = lastUpdated
	}
	return []any{rec.SubjectID, rec.Tier, rec.ResetAt.UnixMilli(), lastUpdated.UnixMilli(), created.UnixMilli()}
}

// insertUsage writes one usage row per feature of rec.
func insertUsage(ctx context.Context, tx *sql.Tx, d dialect, rec *Record) error {
	for feature, used := range rec.Usage {
		if _, err := tx.ExecContext(ctx,
			d.rebind(`INSERT INTO quota_usage (subject_id, feature, used) VALUES (?, ?, ?)`),
			rec.SubjectID, feature, used); err != nil {
			return err
		}
	}
	return nil
}
