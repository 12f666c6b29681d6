package db

import (
	"context"
	"errors"
	"testing"
	"time"
	"upaste/pkg/domain"

	"github.com/DATA-DOG/go-sqlmock"
)

var errDisk = errors.New("disk I/O error")

func newMockDB(t *testing.T) (*SQLite, sqlmock.Sqlmock) {
	t.Helper()
	conn, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New failed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return NewFromDB(conn, time.Second), mock
}

func TestInsertFailureRollsBack(t *testing.T) {
	s, mock := newMockDB(t)
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT 1 FROM pastes WHERE key").WillReturnRows(sqlmock.NewRows([]string{"1"}))
	mock.ExpectExec("INSERT INTO pastes").WillReturnError(errDisk)
	mock.ExpectRollback()

	now := time.Now()
	err := s.WithTx(context.Background(), func(tx *Tx) error {
		if _, err := tx.KeyExists("abcde"); err != nil {
			return err
		}
		return tx.InsertPaste(row("abcde", now, now, nil))
	})
	if !errors.Is(err, domain.ErrStorage) {
		t.Fatalf("expected storage error, got %v", err)
	}
	if !errors.Is(err, errDisk) {
		t.Fatalf("expected driver error to be preserved, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestCommitFailureIsStorageError(t *testing.T) {
	s, mock := newMockDB(t)
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE pastes SET date_viewed").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit().WillReturnError(errDisk)

	err := s.WithTx(context.Background(), func(tx *Tx) error {
		return tx.TouchPaste("abcde", time.Now())
	})
	if !errors.Is(err, domain.ErrStorage) {
		t.Fatalf("expected storage error, got %v", err)
	}
}

func TestTouchMultipleRowsRefused(t *testing.T) {
	s, mock := newMockDB(t)
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE pastes SET date_viewed").WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectRollback()

	err := s.WithTx(context.Background(), func(tx *Tx) error {
		return tx.TouchPaste("abcde", time.Now())
	})
	if !errors.Is(err, domain.ErrMultipleRecords) {
		t.Fatalf("expected ErrMultipleRecords, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestGetByKeyMultipleRowsRefused(t *testing.T) {
	s, mock := newMockDB(t)
	cols := []string{"id", "key", "content", "content_type", "date_created", "date_viewed", "exp_date", "nonce", "salt", "signature"}
	rows := sqlmock.NewRows(cols).
		AddRow(1, "abcde", "a", "text", 1, 1, nil, nil, nil, "00").
		AddRow(2, "abcde", "b", "text", 1, 1, nil, nil, nil, "00")
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT (.+) FROM pastes WHERE key").WillReturnRows(rows)
	mock.ExpectRollback()

	err := s.WithTx(context.Background(), func(tx *Tx) error {
		_, err := tx.GetByKey("abcde")
		return err
	})
	if !errors.Is(err, domain.ErrMultipleRecords) {
		t.Fatalf("expected ErrMultipleRecords, got %v", err)
	}
}

func TestCircuitOpensAfterRepeatedFailures(t *testing.T) {
	s, mock := newMockDB(t)
	for i := 0; i < maxFailures; i++ {
		mock.ExpectQuery("SELECT 1 FROM pastes").WillReturnError(errDisk)
	}
	for i := 0; i < maxFailures; i++ {
		if _, err := s.Exists(context.Background(), "abcde"); !errors.Is(err, errDisk) {
			t.Fatalf("attempt %d: expected disk error, got %v", i, err)
		}
	}
	_, err := s.Exists(context.Background(), "abcde")
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}
	if !errors.Is(err, domain.ErrStorage) {
		t.Fatalf("open circuit should be a storage error, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}
