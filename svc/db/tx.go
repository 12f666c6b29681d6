package db

import (
	"context"
	"database/sql"
	"time"
	"upaste/pkg/domain"
)

// Tx is the view of a running transaction handed to WithTx callbacks.
type Tx struct {
	tx  *sql.Tx
	ctx context.Context
	s   *SQLite
}

func (t *Tx) KeyExists(key string) (bool, error) {
	var one int
	err := t.tx.QueryRowContext(t.ctx, `SELECT 1 FROM pastes WHERE key = ? LIMIT 1`, key).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, t.s.storageErr("key exists", err)
	}
	return true, nil
}

// InsertPaste writes p and sets p.ID. A duplicate key surfaces as a
// storage error for which IsUniqueViolation is true.
func (t *Tx) InsertPaste(p *domain.Paste) error {
	res, err := t.tx.ExecContext(t.ctx, `
	INSERT INTO pastes (key, content, content_type, date_created, date_viewed, exp_date, nonce, salt, signature)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		p.Key, p.Content, p.ContentType, p.DateCreated.Unix(), p.DateViewed.Unix(),
		nullUnix(p.ExpDate), nullString(p.Nonce), nullString(p.Salt), p.Signature,
	)
	if err != nil {
		return t.s.storageErr("insert", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return t.s.storageErr("insert", err)
	}
	p.ID = id
	return nil
}

// TouchPaste bumps date_viewed. Zero matched rows is ErrNotFound and more
// than one is ErrMultipleRecords.
func (t *Tx) TouchPaste(key string, now time.Time) error {
	res, err := t.tx.ExecContext(t.ctx, `UPDATE pastes SET date_viewed = ? WHERE key = ?`, now.Unix(), key)
	if err != nil {
		return t.s.storageErr("touch", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return t.s.storageErr("touch", err)
	}
	switch {
	case n == 0:
		return domain.ErrNotFound
	case n > 1:
		return domain.ErrMultipleRecords
	}
	return nil
}

func (t *Tx) GetByKey(key string) (*domain.Paste, error) {
	rows, err := t.tx.QueryContext(t.ctx, `SELECT `+pasteColumns+` FROM pastes WHERE key = ?`, key)
	if err != nil {
		return nil, t.s.storageErr("get", err)
	}
	defer rows.Close()
	var found *domain.Paste
	for rows.Next() {
		if found != nil {
			return nil, domain.ErrMultipleRecords
		}
		p, err := scanPaste(rows)
		if err != nil {
			return nil, t.s.storageErr("get", err)
		}
		found = p
	}
	if err := rows.Err(); err != nil {
		return nil, t.s.storageErr("get", err)
	}
	if found == nil {
		return nil, domain.ErrNotFound
	}
	return found, nil
}

func (t *Tx) DeleteByID(id int64) error {
	_, err := t.tx.ExecContext(t.ctx, `DELETE FROM pastes WHERE id = ?`, id)
	return t.s.storageErr("delete", err)
}

func scanPaste(rows *sql.Rows) (*domain.Paste, error) {
	var (
		p               domain.Paste
		created, viewed int64
		exp             sql.NullInt64
		nonce, salt     sql.NullString
	)
	if err := rows.Scan(&p.ID, &p.Key, &p.Content, &p.ContentType, &created, &viewed, &exp, &nonce, &salt, &p.Signature); err != nil {
		return nil, err
	}
	p.DateCreated = time.Unix(created, 0)
	p.DateViewed = time.Unix(viewed, 0)
	if exp.Valid {
		t := time.Unix(exp.Int64, 0)
		p.ExpDate = &t
	}
	p.Nonce = nonce.String
	p.Salt = salt.String
	return &p, nil
}
func nullUnix(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.Unix(), Valid: true}
}
func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
