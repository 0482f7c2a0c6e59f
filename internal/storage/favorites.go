package storage

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v4"
)

// AddFavorite records a directed owner->target edge. Adding an edge that
// already exists is a no-op, not an error.
func (s *Store) AddFavorite(ctx context.Context, owner, target string) error {
	s.logger.Debugf("Adding favorite %s -> %s", owner, target)

	sql := `insert into favorites (owner_id, target_id, created_at)
			values ($1, $2, $3)
			on conflict (owner_id, target_id) do nothing`
	_, err := s.db.Exec(ctx, sql, owner, target, time.Now())
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.ForeignKeyViolation {
			return ErrUserNotExist
		}
		return classify(err)
	}
	return nil
}

// RemoveFavorite deletes the owner->target edge. Removing an absent edge is a
// no-op.
func (s *Store) RemoveFavorite(ctx context.Context, owner, target string) error {
	s.logger.Debugf("Removing favorite %s -> %s", owner, target)

	sql := "delete from favorites where owner_id = $1 and target_id = $2"
	_, err := s.db.Exec(ctx, sql, owner, target)
	return classify(err)
}

// IsFavorite reports whether the owner->target edge exists.
func (s *Store) IsFavorite(ctx context.Context, owner, target string) (bool, error) {
	var i int8
	sql := "select 1 from favorites where owner_id = $1 and target_id = $2"
	err := s.db.QueryRow(ctx, sql, owner, target).Scan(&i)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, classify(err)
	}
	return true, nil
}
