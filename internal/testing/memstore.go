package testing

import (
	"context"
	"strings"
	"sync"
	"time"

	"clave-backend/internal/storage"

	"github.com/rs/xid"
)

// MemStore is an in-memory stand-in for storage.Store with the same
// contract: canonical pair keys, monotonic sent-at per conversation,
// idempotent favorite edges. It backs the service and handler tests, which
// never touch Postgres.
type MemStore struct {
	mu            sync.Mutex
	users         map[string]storage.User
	credentials   map[string]storage.Credential // email -> credential
	favorites     map[string]map[string]bool
	conversations map[string]storage.Conversation
	byPair        map[string]string
	messages      map[string][]storage.Message
}

func NewMemStore() *MemStore {
	return &MemStore{
		users:         map[string]storage.User{},
		credentials:   map[string]storage.Credential{},
		favorites:     map[string]map[string]bool{},
		conversations: map[string]storage.Conversation{},
		byPair:        map[string]string{},
		messages:      map[string][]storage.Message{},
	}
}

// AddUser seeds a profile directly, bypassing registration.
func (m *MemStore) AddUser(displayName string) storage.User {
	u, _ := m.CreateUser(context.Background(), storage.NewUser{
		ID:           xid.New().String(),
		Email:        strings.ToLower(displayName) + "@example.com",
		PasswordHash: RandString(),
		DisplayName:  displayName,
	})
	return u
}

// RemoveUser deletes a profile, leaving its conversations dangling.
func (m *MemStore) RemoveUser(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[id]
	if !ok {
		return
	}
	delete(m.credentials, u.Email)
	delete(m.users, id)
}

// MessageCount reports how many messages a conversation holds.
func (m *MemStore) MessageCount(conversationID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.messages[conversationID])
}

func (m *MemStore) CreateUser(_ context.Context, nu storage.NewUser) (storage.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.credentials[nu.Email]; ok {
		return storage.User{}, storage.ErrUserExists
	}

	u := storage.User{
		ID:          nu.ID,
		Email:       nu.Email,
		DisplayName: nu.DisplayName,
		FavoriteIDs: []string{},
		MediaRefs:   []string{},
		CreatedAt:   time.Now(),
	}
	m.users[u.ID] = u
	m.credentials[nu.Email] = storage.Credential{UserID: nu.ID, PasswordHash: nu.PasswordHash}
	return u, nil
}

func (m *MemStore) CredentialByEmail(_ context.Context, email string) (storage.Credential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cred, ok := m.credentials[email]
	if !ok {
		return storage.Credential{}, storage.ErrUserNotExist
	}
	return cred, nil
}

func (m *MemStore) UserByID(_ context.Context, id string) (storage.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[id]
	if !ok {
		return storage.User{}, storage.ErrUserNotExist
	}
	u.FavoriteIDs = []string{}
	for target := range m.favorites[id] {
		u.FavoriteIDs = append(u.FavoriteIDs, target)
	}
	return u, nil
}

func (m *MemStore) AllUsers(_ context.Context) ([]storage.User, error) {
	m.mu.Lock()
	ids := make([]string, 0, len(m.users))
	for id := range m.users {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	users := make([]storage.User, 0, len(ids))
	for _, id := range ids {
		u, err := m.UserByID(context.Background(), id)
		if err == nil {
			users = append(users, u)
		}
	}
	return users, nil
}

func (m *MemStore) UpdateUserField(_ context.Context, id, field, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[id]
	if !ok {
		return storage.ErrUserNotExist
	}
	if field != "display_name" {
		return storage.ErrFieldNotAllowed
	}
	u.DisplayName = value
	m.users[id] = u
	return nil
}

func (m *MemStore) AppendMediaRef(_ context.Context, id, url string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[id]
	if !ok {
		return storage.ErrUserNotExist
	}
	u.MediaRefs = append(u.MediaRefs, url)
	m.users[id] = u
	return nil
}

func (m *MemStore) AddFavorite(_ context.Context, owner, target string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.favorites[owner] == nil {
		m.favorites[owner] = map[string]bool{}
	}
	m.favorites[owner][target] = true
	return nil
}

func (m *MemStore) RemoveFavorite(_ context.Context, owner, target string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.favorites[owner], target)
	return nil
}

func (m *MemStore) IsFavorite(_ context.Context, owner, target string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.favorites[owner][target], nil
}

func (m *MemStore) FindOrCreateConversation(_ context.Context, a, b string) (storage.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key, first, second := storage.PairKey(a, b)
	if id, ok := m.byPair[key]; ok {
		return m.conversations[id], nil
	}

	now := time.Now()
	c := storage.Conversation{
		ID:             xid.New().String(),
		ParticipantA:   first,
		ParticipantB:   second,
		CreatedAt:      now,
		LastActivityAt: now,
	}
	m.conversations[c.ID] = c
	m.byPair[key] = c.ID
	return c, nil
}

func (m *MemStore) ConversationByID(_ context.Context, id string) (storage.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.conversations[id]
	if !ok {
		return storage.Conversation{}, storage.ErrConversationBad
	}
	return c, nil
}

func (m *MemStore) ConversationsFor(_ context.Context, userID string) ([]storage.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []storage.Conversation
	for _, c := range m.conversations {
		if c.HasParticipant(userID) {
			out = append(out, c)
		}
	}
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j].LastActivityAt.After(out[j-1].LastActivityAt); j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out, nil
}

func (m *MemStore) AppendMessage(_ context.Context, conversationID, senderID, text string) (storage.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	text = strings.TrimSpace(text)
	if text == "" {
		return storage.Message{}, storage.ErrEmptyMessage
	}

	c, ok := m.conversations[conversationID]
	if !ok {
		return storage.Message{}, storage.ErrConversationBad
	}
	if !c.HasParticipant(senderID) {
		return storage.Message{}, storage.ErrNotParticipant
	}

	sentAt := time.Now()
	if !sentAt.After(c.LastActivityAt) {
		sentAt = c.LastActivityAt.Add(time.Microsecond)
	}

	msg := storage.Message{
		ID:           xid.New().String(),
		Conversation: conversationID,
		Sender:       senderID,
		Text:         text,
		SentAt:       sentAt,
	}
	m.messages[conversationID] = append(m.messages[conversationID], msg)

	c.LastActivityAt = sentAt
	m.conversations[conversationID] = c

	return msg, nil
}

func (m *MemStore) MessagesSince(_ context.Context, conversationID string, after time.Time) ([]storage.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.conversations[conversationID]; !ok {
		return nil, storage.ErrConversationBad
	}

	var out []storage.Message
	for _, msg := range m.messages[conversationID] {
		if msg.SentAt.After(after) {
			out = append(out, msg)
		}
	}
	return out, nil
}
