package storage

import "time"

// User is a directory profile. FavoriteIDs and MediaRefs are loaded together
// with the row so a single lookup seeds the client-side list.
type User struct {
	ID          string    `json:"id"`
	Email       string    `json:"email"`
	DisplayName string    `json:"display_name"`
	FavoriteIDs []string  `json:"favorite_ids"`
	MediaRefs   []string  `json:"media_refs"`
	CreatedAt   time.Time `json:"created_at"`
}

// NewUser carries the fields required to create a directory record.
type NewUser struct {
	ID           string
	Email        string
	PasswordHash string
	DisplayName  string
}

// Credential is the authentication view of a user row.
type Credential struct {
	UserID       string
	PasswordHash string
}

// Conversation is a thread between exactly two users. ParticipantA sorts
// before ParticipantB so the pair key is canonical.
type Conversation struct {
	ID             string    `json:"id"`
	ParticipantA   string    `json:"participant_a"`
	ParticipantB   string    `json:"participant_b"`
	CreatedAt      time.Time `json:"created_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
}

// Other returns the participant that is not userID.
func (c Conversation) Other(userID string) string {
	if c.ParticipantA == userID {
		return c.ParticipantB
	}
	return c.ParticipantA
}

// HasParticipant reports whether userID is one of the two participants.
func (c Conversation) HasParticipant(userID string) bool {
	return c.ParticipantA == userID || c.ParticipantB == userID
}

// Message is immutable once appended. Messages within a conversation are
// ordered by (SentAt, ID); SentAt is monotonic per conversation.
type Message struct {
	ID           string    `json:"id"`
	Conversation string    `json:"conversation_id"`
	Sender       string    `json:"sender_id"`
	Text         string    `json:"text"`
	SentAt       time.Time `json:"sent_at"`
}
