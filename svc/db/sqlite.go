package db

import (
	"context"
	"database/sql"
	"strings"
	"sync/atomic"
	"time"
	"upaste/pkg/domain"

	"github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
)

var ErrCircuitOpen = errors.New("database circuit breaker open")

const (
	circuitClosed   = 0
	circuitOpen     = 1
	circuitHalfOpen = 2
	maxFailures     = 5
	cooldownSeconds = 30
)

const (
	defaultMaxOpenConns = 16
	defaultMaxIdleConns = 4
	defaultQueryTimeout = 5 * time.Second
)

// Every pooled connection gets WAL, a busy timeout, FULL sync and
// immediate transactions, so writers serialize on BEGIN.
const dsnParams = "_journal_mode=WAL&_busy_timeout=5000&_synchronous=FULL&_txlock=immediate"

const schema = `
CREATE TABLE IF NOT EXISTS pastes (
	id           INTEGER PRIMARY KEY,
	key          TEXT    NOT NULL UNIQUE,
	content      TEXT    NOT NULL,
	content_type TEXT    NOT NULL,
	date_created INTEGER NOT NULL,
	date_viewed  INTEGER NOT NULL,
	exp_date     INTEGER,
	nonce        TEXT,
	salt         TEXT,
	signature    TEXT    NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_pastes_date_viewed ON pastes(date_viewed);
CREATE INDEX IF NOT EXISTS idx_pastes_exp_date ON pastes(exp_date);
`

const pasteColumns = `id, key, content, content_type, date_created, date_viewed, exp_date, nonce, salt, signature`

// outdatedWhere matches rows past their hard TTL or not viewed since the cutoff.
const outdatedWhere = `(exp_date IS NOT NULL AND exp_date < ?) OR date_viewed < ?`

type SQLite struct {
	db            *sql.DB
	failures      int32
	circuitState  int32
	circuitOpened int64
	queryTimeout  time.Duration
}

func (s *SQLite) DB() *sql.DB {
	return s.db
}
func NewSQLite(path string) (*SQLite, error) {
	return NewSQLiteWithConfig(path, defaultMaxOpenConns, defaultMaxIdleConns, defaultQueryTimeout)
}

func NewSQLiteWithConfig(path string, maxOpenConns, maxIdleConns int, queryTimeout time.Duration) (*SQLite, error) {
	db, err := sql.Open("sqlite3", DSN(path))
	if err != nil {
		return nil, errors.Wrap(err, "failed to open db")
	}
	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxIdleConns)
	db.SetConnMaxLifetime(1 * time.Hour)
	db.SetConnMaxIdleTime(10 * time.Minute)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "failed to ping db")
	}
	s := NewFromDB(db, queryTimeout)
	if err := s.Migrate(context.Background()); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "migration failed")
	}
	return s, nil
}

// NewFromDB wraps an already opened handle without touching the schema.
func NewFromDB(db *sql.DB, queryTimeout time.Duration) *SQLite {
	if queryTimeout <= 0 {
		queryTimeout = defaultQueryTimeout
	}
	return &SQLite{db: db, queryTimeout: queryTimeout}
}

func DSN(path string) string {
	if !strings.HasPrefix(path, "file:") {
		path = "file:" + path
	}
	if strings.Contains(path, "?") {
		return path + "&" + dsnParams
	}
	return path + "?" + dsnParams
}

func (s *SQLite) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, schema)
	return errors.Wrap(err, "create schema")
}
func (s *SQLite) checkCircuit() error {
	state := atomic.LoadInt32(&s.circuitState)
	switch state {
	case circuitOpen:
		opened := atomic.LoadInt64(&s.circuitOpened)
		if time.Now().Unix()-opened >= cooldownSeconds {
			if atomic.CompareAndSwapInt32(&s.circuitState, circuitOpen, circuitHalfOpen) {
				return nil
			}
		}
		return domain.NewStorageError("circuit", ErrCircuitOpen)
	default:
		return nil
	}
}
func (s *SQLite) recordError(err error) {
	if err == nil {
		atomic.StoreInt32(&s.failures, 0)
		atomic.StoreInt32(&s.circuitState, circuitClosed)
		return
	}
	if errors.Is(err, sql.ErrNoRows) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) ||
		IsUniqueViolation(err) {
		return
	}
	failures := atomic.AddInt32(&s.failures, 1)
	if atomic.LoadInt32(&s.circuitState) == circuitHalfOpen {
		atomic.StoreInt32(&s.circuitState, circuitOpen)
		atomic.StoreInt64(&s.circuitOpened, time.Now().Unix())
		atomic.StoreInt32(&s.failures, 0)
		return
	}
	if failures >= maxFailures && atomic.LoadInt32(&s.circuitState) == circuitClosed {
		atomic.StoreInt32(&s.circuitState, circuitOpen)
		atomic.StoreInt64(&s.circuitOpened, time.Now().Unix())
	}
}

// storageErr records err against the breaker and wraps it as a storage failure.
func (s *SQLite) storageErr(op string, err error) error {
	s.recordError(err)
	if err == nil {
		return nil
	}
	return domain.NewStorageError(op, err)
}

// IsUniqueViolation reports whether err is a UNIQUE constraint failure.
func IsUniqueViolation(err error) bool {
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.ExtendedCode == sqlite3.ErrConstraintUnique
	}
	return false
}

// WithTx runs fn inside one BEGIN IMMEDIATE transaction. Any error from fn,
// or a panic, rolls the transaction back; otherwise it commits.
func (s *SQLite) WithTx(ctx context.Context, fn func(*Tx) error) (err error) {
	if err := s.checkCircuit(); err != nil {
		return err
	}
	txCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	sqlTx, err := s.db.BeginTx(txCtx, nil)
	if err != nil {
		return s.storageErr("begin", err)
	}
	tx := &Tx{tx: sqlTx, ctx: txCtx, s: s}
	defer func() {
		if p := recover(); p != nil {
			sqlTx.Rollback()
			panic(p)
		}
	}()
	if err := fn(tx); err != nil {
		sqlTx.Rollback()
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return s.storageErr("commit", err)
	}
	s.recordError(nil)
	return nil
}

func (s *SQLite) Exists(ctx context.Context, key string) (bool, error) {
	if err := s.checkCircuit(); err != nil {
		return false, err
	}
	queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	var one int
	err := s.db.QueryRowContext(queryCtx, `SELECT 1 FROM pastes WHERE key = ? LIMIT 1`, key).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, s.storageErr("exists", err)
	}
	return true, nil
}

// CountOutdated counts the rows DeleteOutdated would remove for the same
// cutoff and now.
func (s *SQLite) CountOutdated(ctx context.Context, cutoff, now time.Time) (int64, error) {
	if err := s.checkCircuit(); err != nil {
		return 0, err
	}
	queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	var n int64
	err := s.db.QueryRowContext(queryCtx,
		`SELECT COUNT(*) FROM pastes WHERE `+outdatedWhere,
		now.Unix(), cutoff.Unix(),
	).Scan(&n)
	if err != nil {
		return 0, s.storageErr("count outdated", err)
	}
	return n, nil
}

// DeleteOutdated removes every matching row in a single statement.
func (s *SQLite) DeleteOutdated(ctx context.Context, cutoff, now time.Time) (int64, error) {
	if err := s.checkCircuit(); err != nil {
		return 0, err
	}
	queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	res, err := s.db.ExecContext(queryCtx,
		`DELETE FROM pastes WHERE `+outdatedWhere,
		now.Unix(), cutoff.Unix(),
	)
	if err != nil {
		return 0, s.storageErr("delete outdated", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, s.storageErr("delete outdated", err)
	}
	s.recordError(nil)
	return n, nil
}
func (s *SQLite) Close() error {
	return s.db.Close()
}
