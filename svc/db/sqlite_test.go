package db

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"
	"upaste/pkg/domain"
)

func newTestDB(t *testing.T) *SQLite {
	t.Helper()
	s, err := NewSQLiteWithConfig(filepath.Join(t.TempDir(), "test.db"), 4, 2, 5*time.Second)
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func insert(t *testing.T, s *SQLite, p *domain.Paste) {
	t.Helper()
	err := s.WithTx(context.Background(), func(tx *Tx) error {
		return tx.InsertPaste(p)
	})
	if err != nil {
		t.Fatalf("insert %s failed: %v", p.Key, err)
	}
}

func row(key string, created, viewed time.Time, exp *time.Time) *domain.Paste {
	return &domain.Paste{
		Key:         key,
		Content:     "content-" + key,
		ContentType: "text",
		DateCreated: created,
		DateViewed:  viewed,
		ExpDate:     exp,
		Signature:   "00",
	}
}

func TestInsertAndGetByKey(t *testing.T) {
	s := newTestDB(t)
	now := time.Unix(1700000000, 0)
	exp := now.Add(time.Hour)
	p := row("abcde", now, now, &exp)
	p.Nonce, p.Salt = "aabb", "ccdd"
	insert(t, s, p)
	if p.ID == 0 {
		t.Fatal("expected id to be assigned")
	}

	var got *domain.Paste
	err := s.WithTx(context.Background(), func(tx *Tx) error {
		var err error
		got, err = tx.GetByKey("abcde")
		return err
	})
	if err != nil {
		t.Fatalf("GetByKey failed: %v", err)
	}
	if got.Content != p.Content || got.Nonce != "aabb" || got.Salt != "ccdd" {
		t.Errorf("unexpected row: %+v", got)
	}
	if got.ExpDate == nil || !got.ExpDate.Equal(exp) {
		t.Errorf("exp_date = %v, want %v", got.ExpDate, exp)
	}
	if !got.DateCreated.Equal(now) {
		t.Errorf("date_created = %v, want %v", got.DateCreated, now)
	}
}

func TestNullableColumns(t *testing.T) {
	s := newTestDB(t)
	now := time.Unix(1700000000, 0)
	insert(t, s, row("plain", now, now, nil))

	var nonce, salt interface{}
	var exp interface{}
	err := s.DB().QueryRow(`SELECT nonce, salt, exp_date FROM pastes WHERE key = 'plain'`).Scan(&nonce, &salt, &exp)
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if nonce != nil || salt != nil || exp != nil {
		t.Errorf("expected NULLs, got nonce=%v salt=%v exp=%v", nonce, salt, exp)
	}
}

func TestDuplicateKeyIsUniqueViolation(t *testing.T) {
	s := newTestDB(t)
	now := time.Now()
	insert(t, s, row("dupkey", now, now, nil))
	err := s.WithTx(context.Background(), func(tx *Tx) error {
		return tx.InsertPaste(row("dupkey", now, now, nil))
	})
	if !IsUniqueViolation(err) {
		t.Fatalf("expected unique violation, got %v", err)
	}
	if !errors.Is(err, domain.ErrStorage) {
		t.Fatalf("expected storage error, got %v", err)
	}
}

func TestWithTxRollsBackOnError(t *testing.T) {
	s := newTestDB(t)
	now := time.Now()
	boom := errors.New("boom")
	err := s.WithTx(context.Background(), func(tx *Tx) error {
		if err := tx.InsertPaste(row("ghost", now, now, nil)); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected callback error, got %v", err)
	}
	ok, err := s.Exists(context.Background(), "ghost")
	if err != nil || ok {
		t.Fatalf("rolled back row visible: ok=%v err=%v", ok, err)
	}
}

func TestTouchPaste(t *testing.T) {
	s := newTestDB(t)
	created := time.Unix(1700000000, 0)
	insert(t, s, row("touch", created, created, nil))

	later := created.Add(time.Hour)
	var got *domain.Paste
	err := s.WithTx(context.Background(), func(tx *Tx) error {
		if err := tx.TouchPaste("touch", later); err != nil {
			return err
		}
		var err error
		got, err = tx.GetByKey("touch")
		return err
	})
	if err != nil {
		t.Fatalf("touch failed: %v", err)
	}
	if !got.DateViewed.Equal(later) {
		t.Errorf("date_viewed = %v, want %v", got.DateViewed, later)
	}

	err = s.WithTx(context.Background(), func(tx *Tx) error {
		return tx.TouchPaste("missing", later)
	})
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestOutdatedPredicate(t *testing.T) {
	s := newTestDB(t)
	now := time.Unix(1700000000, 0)
	cutoff := now.Add(-24 * time.Hour)
	past := now.Add(-time.Second)
	future := now.Add(time.Hour)
	exactly := now

	insert(t, s, row("fresh", now, now, nil))
	insert(t, s, row("stale", cutoff.Add(-time.Hour), cutoff.Add(-time.Second), nil))
	insert(t, s, row("atcut", cutoff.Add(-time.Hour), cutoff, nil))
	insert(t, s, row("expired", now.Add(-time.Hour), now, &past))
	insert(t, s, row("later", now.Add(-time.Hour), now, &future))
	insert(t, s, row("expnow", now.Add(-time.Hour), now, &exactly))

	ctx := context.Background()
	n, err := s.CountOutdated(ctx, cutoff, now)
	if err != nil {
		t.Fatalf("CountOutdated failed: %v", err)
	}
	if n != 2 {
		t.Fatalf("CountOutdated = %d, want 2", n)
	}
	deleted, err := s.DeleteOutdated(ctx, cutoff, now)
	if err != nil {
		t.Fatalf("DeleteOutdated failed: %v", err)
	}
	if deleted != n {
		t.Fatalf("DeleteOutdated = %d, want %d", deleted, n)
	}
	for key, want := range map[string]bool{
		"fresh": true, "stale": false, "atcut": true,
		"expired": false, "later": true, "expnow": true,
	} {
		ok, err := s.Exists(ctx, key)
		if err != nil {
			t.Fatalf("Exists(%s) failed: %v", key, err)
		}
		if ok != want {
			t.Errorf("Exists(%s) = %v, want %v", key, ok, want)
		}
	}
}

func TestWALCheckpoint(t *testing.T) {
	s := newTestDB(t)
	now := time.Now()
	insert(t, s, row("walkey", now, now, nil))
	w := NewWALMaintainer(s, time.Hour)
	if err := w.Checkpoint(context.Background()); err != nil {
		t.Fatalf("Checkpoint failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop after cancellation")
	}
}

func TestDSN(t *testing.T) {
	if got := DSN("data.db"); got != "file:data.db?"+dsnParams {
		t.Errorf("DSN = %s", got)
	}
	if got := DSN("file:data.db?cache=private"); got != "file:data.db?cache=private&"+dsnParams {
		t.Errorf("DSN = %s", got)
	}
}
