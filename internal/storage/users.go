package storage

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgtype"
	"github.com/jackc/pgx/v4"
)

// userColumns aggregates the favorites of a user into the row itself so one
// query returns the full directory profile.
const userColumns = `
	select u.id,
	       u.email,
	       u.display_name,
	       u.media_refs,
	       u.created_at,
	       coalesce(array_agg(f.target_id) filter (where f.target_id is not null), '{}') as favorite_ids
	  from users u
	  left join favorites f
	    on f.owner_id = u.id`

// CreateUser inserts a directory record and returns it. The caller supplies
// the id and the already-hashed password.
func (s *Store) CreateUser(ctx context.Context, nu NewUser) (User, error) {
	s.logger.Debugf("Creating user (%s)", nu.Email)

	now := time.Now()
	sql := "insert into users (id, email, password_hash, display_name, created_at) values ($1, $2, $3, $4, $5)"
	_, err := s.db.Exec(ctx, sql, nu.ID, nu.Email, nu.PasswordHash, nu.DisplayName, now)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return User{}, ErrUserExists
		}
		return User{}, classify(err)
	}

	s.logger.Debugf("Created user (%s) with id %s", nu.Email, nu.ID)

	return User{
		ID:          nu.ID,
		Email:       nu.Email,
		DisplayName: nu.DisplayName,
		FavoriteIDs: []string{},
		MediaRefs:   []string{},
		CreatedAt:   now,
	}, nil
}

// UserByID returns the full profile for id, favorites included.
func (s *Store) UserByID(ctx context.Context, id string) (User, error) {
	sql := userColumns + " where u.id = $1 group by u.id"

	u, err := scanUser(s.db.QueryRow(ctx, sql, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, ErrUserNotExist
		}
		return User{}, classify(err)
	}
	return u, nil
}

// CredentialByEmail returns the id and password hash for an account. Callers
// must not surface the distinction between a missing account and a wrong
// password to end users.
func (s *Store) CredentialByEmail(ctx context.Context, email string) (Credential, error) {
	var c Credential
	sql := "select id, password_hash from users where email = $1"
	err := s.db.QueryRow(ctx, sql, email).Scan(&c.UserID, &c.PasswordHash)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Credential{}, ErrUserNotExist
		}
		return Credential{}, classify(err)
	}
	return c, nil
}

// AllUsers returns every directory profile as a single-statement snapshot.
// The client filters this list locally, so no per-keystroke queries hit the
// store.
func (s *Store) AllUsers(ctx context.Context) ([]User, error) {
	s.logger.Debug("Retrieving all users")

	sql := userColumns + " group by u.id order by u.display_name, u.id"

	rows, err := s.db.Query(ctx, sql)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, classify(err)
		}
		users = append(users, u)
	}
	if rows.Err() != nil {
		return nil, classify(rows.Err())
	}

	s.logger.Debugf("Retrieved %d users", len(users))

	return users, nil
}

// UpdateUserField updates a single whitelisted profile field. Column names
// never come from caller input.
func (s *Store) UpdateUserField(ctx context.Context, id, field, value string) error {
	s.logger.Debugf("Updating field (%s) for user (id: %s)", field, id)

	var sql string
	switch field {
	case "display_name":
		sql = "update users set display_name = $2 where id = $1"
	default:
		return ErrFieldNotAllowed
	}

	tag, err := s.db.Exec(ctx, sql, id, value)
	if err != nil {
		return classify(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotExist
	}
	return nil
}

// AppendMediaRef appends url to the user's media list.
func (s *Store) AppendMediaRef(ctx context.Context, id, url string) error {
	s.logger.Debugf("Appending media ref for user (id: %s)", id)

	sql := "update users set media_refs = array_append(media_refs, $2) where id = $1"
	tag, err := s.db.Exec(ctx, sql, id, url)
	if err != nil {
		return classify(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotExist
	}
	return nil
}

func scanUser(row pgx.Row) (User, error) {
	var (
		u         User
		mediaRefs pgtype.TextArray
		favorites pgtype.TextArray
	)
	err := row.Scan(&u.ID, &u.Email, &u.DisplayName, &mediaRefs, &u.CreatedAt, &favorites)
	if err != nil {
		return User{}, err
	}

	u.MediaRefs = []string{}
	if err := mediaRefs.AssignTo(&u.MediaRefs); err != nil {
		return User{}, err
	}
	u.FavoriteIDs = []string{}
	if err := favorites.AssignTo(&u.FavoriteIDs); err != nil {
		return User{}, err
	}
	return u, nil
}
