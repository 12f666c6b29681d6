package db

import (
	"context"
)

func (s *SQLite) Ping(ctx context.Context) error {
	var result int
	if err := s.db.QueryRowContext(ctx, "SELECT 1").Scan(&result); err != nil {
		return s.storageErr("ping", err)
	}
	return nil
}
