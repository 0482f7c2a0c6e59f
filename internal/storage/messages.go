package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/rs/xid"
)

// AppendMessage appends a message to a conversation and bumps its
// last-activity marker in the same transaction, so the write is
// all-or-nothing. The conversation row is locked for the duration, which
// makes sent_at strictly monotonic within a conversation even under
// concurrent sends.
func (s *Store) AppendMessage(ctx context.Context, conversationID, senderID, text string) (Message, error) {
	s.logger.Debugf("Appending message from user (id: %s) in conversation (id: %s)", senderID, conversationID)

	text = strings.TrimSpace(text)
	if text == "" {
		return Message{}, ErrEmptyMessage
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return Message{}, classify(err)
	}
	// error handling can be omitted for rollback according docs
	// see https://pkg.go.dev/github.com/jackc/pgx/v4?tab=doc#hdr-Transactions or any source comment on Rollback
	defer tx.Rollback(context.Background())

	var (
		participantA, participantB string
		lastActivityAt             time.Time
	)
	sql := "select participant_a, participant_b, last_activity_at from conversations where id = $1 for update"
	err = tx.QueryRow(ctx, sql, conversationID).Scan(&participantA, &participantB, &lastActivityAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Message{}, ErrConversationBad
		}
		return Message{}, classify(err)
	}

	if senderID != participantA && senderID != participantB {
		return Message{}, ErrNotParticipant
	}

	sentAt := time.Now()
	if !sentAt.After(lastActivityAt) {
		sentAt = lastActivityAt.Add(time.Microsecond)
	}

	m := Message{
		ID:           xid.New().String(),
		Conversation: conversationID,
		Sender:       senderID,
		Text:         text,
		SentAt:       sentAt,
	}

	sql = "insert into messages (id, conversation_id, sender_id, text, sent_at) values ($1, $2, $3, $4, $5)"
	_, err = tx.Exec(ctx, sql, m.ID, m.Conversation, m.Sender, m.Text, m.SentAt)
	if err != nil {
		return Message{}, classify(err)
	}

	sql = "update conversations set last_activity_at = $2 where id = $1"
	_, err = tx.Exec(ctx, sql, conversationID, m.SentAt)
	if err != nil {
		return Message{}, classify(err)
	}

	if err = tx.Commit(ctx); err != nil {
		return Message{}, classify(err)
	}

	return m, nil
}

// MessagesSince returns the messages of a conversation with sent_at strictly
// after the cursor, ordered by (sent_at, id). This is the one-shot snapshot
// read; it holds no resources once the rows are drained.
func (s *Store) MessagesSince(ctx context.Context, conversationID string, after time.Time) ([]Message, error) {
	s.logger.Debugf("Retrieving messages for conversation (id: %s)", conversationID)

	// check if conversation exists
	var i int8
	sql := "select 1 from conversations where id = $1"
	err := s.db.QueryRow(ctx, sql, conversationID).Scan(&i)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrConversationBad
		}
		return nil, classify(err)
	}

	sql = `select id, conversation_id, sender_id, text, sent_at
			 from messages
			where conversation_id = $1
			  and sent_at > $2
			order by sent_at asc, id asc`

	rows, err := s.db.Query(ctx, sql, conversationID, after)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		var m Message
		err = rows.Scan(&m.ID, &m.Conversation, &m.Sender, &m.Text, &m.SentAt)
		if err != nil {
			return nil, classify(err)
		}
		messages = append(messages, m)
	}
	if rows.Err() != nil {
		return nil, classify(rows.Err())
	}

	s.logger.Debugf("Retrieved %d messages", len(messages))

	return messages, nil
}
