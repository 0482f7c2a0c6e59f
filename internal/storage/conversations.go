package storage

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v4"
	"github.com/rs/xid"
)

// PairKey canonicalizes two user ids into one lookup key. Either call order
// yields the same key, which backs the at-most-one-conversation-per-pair
// unique index.
func PairKey(a, b string) (key, first, second string) {
	if b < a {
		a, b = b, a
	}
	return a + ":" + b, a, b
}

const conversationColumns = "id, participant_a, participant_b, created_at, last_activity_at"

// FindOrCreateConversation returns the conversation for the unordered pair
// (a, b), creating it if absent. Creation is insert-on-conflict keyed by the
// canonical pair key, so concurrent calls from both participants converge on
// a single row: the losing insert is discarded and the existing record is
// read back.
func (s *Store) FindOrCreateConversation(ctx context.Context, a, b string) (Conversation, error) {
	key, first, second := PairKey(a, b)

	s.logger.Debugf("Resolving conversation for pair (%s)", key)

	now := time.Now()
	sql := `insert into conversations (id, pair_key, participant_a, participant_b, created_at, last_activity_at)
			values ($1, $2, $3, $4, $5, $5)
			on conflict (pair_key) do nothing`
	_, err := s.db.Exec(ctx, sql, xid.New().String(), key, first, second, now)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.ForeignKeyViolation {
			return Conversation{}, ErrUserNotExist
		}
		return Conversation{}, classify(err)
	}

	var c Conversation
	sql = "select " + conversationColumns + " from conversations where pair_key = $1"
	err = s.db.QueryRow(ctx, sql, key).Scan(&c.ID, &c.ParticipantA, &c.ParticipantB, &c.CreatedAt, &c.LastActivityAt)
	if err != nil {
		// the row existed a moment ago; only a concurrent wipe gets here
		if errors.Is(err, pgx.ErrNoRows) {
			return Conversation{}, ErrConversationRaced
		}
		return Conversation{}, classify(err)
	}

	return c, nil
}

// ConversationByID returns a single conversation record.
func (s *Store) ConversationByID(ctx context.Context, id string) (Conversation, error) {
	var c Conversation
	sql := "select " + conversationColumns + " from conversations where id = $1"
	err := s.db.QueryRow(ctx, sql, id).Scan(&c.ID, &c.ParticipantA, &c.ParticipantB, &c.CreatedAt, &c.LastActivityAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Conversation{}, ErrConversationBad
		}
		return Conversation{}, classify(err)
	}
	return c, nil
}

// ConversationsFor returns every conversation that includes userID, most
// recently active first. Both participant columns are indexed together with
// last_activity_at, so this is the per-user secondary index rather than a
// full scan of all conversations.
func (s *Store) ConversationsFor(ctx context.Context, userID string) ([]Conversation, error) {
	s.logger.Debugf("Retrieving conversations for user (id: %s)", userID)

	sql := `select ` + conversationColumns + `
			  from conversations
			 where participant_a = $1 or participant_b = $1
			 order by last_activity_at desc, id`

	rows, err := s.db.Query(ctx, sql, userID)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var conversations []Conversation
	for rows.Next() {
		var c Conversation
		err = rows.Scan(&c.ID, &c.ParticipantA, &c.ParticipantB, &c.CreatedAt, &c.LastActivityAt)
		if err != nil {
			return nil, classify(err)
		}
		conversations = append(conversations, c)
	}
	if rows.Err() != nil {
		return nil, classify(rows.Err())
	}

	s.logger.Debugf("Retrieved %d conversations", len(conversations))

	return conversations, nil
}
