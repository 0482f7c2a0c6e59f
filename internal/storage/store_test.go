package storage

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/caarlos0/env/v6"
	"github.com/rs/xid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// randString avoids the internal/testing helpers, which depend on this
// package.
func randString() string {
	return xid.New().String()
}

func randEmail() string {
	return randString() + "@example.com"
}

// bootstrap connects to the database named by the usual DB_* variables.
// Tests are skipped when CLAVE_TEST_DB is unset so the suite stays runnable
// without a local Postgres.
func bootstrap(t *testing.T) *Store {
	if os.Getenv("CLAVE_TEST_DB") == "" {
		t.Skip("CLAVE_TEST_DB is not set")
	}

	logger, err := zap.NewDevelopment()
	require.NoError(t, err)

	cfg := Config{}
	require.NoError(t, env.Parse(&cfg))

	s, err := New(logger.Sugar(), cfg, ConnectionTimeout(10*time.Second))
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))

	return s
}

func createUser(t *testing.T, s *Store) User {
	u, err := s.CreateUser(context.Background(), NewUser{
		ID:           xid.New().String(),
		Email:        randEmail(),
		PasswordHash: randString(),
		DisplayName:  randString(),
	})
	require.NoError(t, err)
	return u
}

func TestCreateUser(t *testing.T) {
	s := bootstrap(t)

	u := createUser(t, s)
	require.NotEmpty(t, u.ID)
	require.Empty(t, u.FavoriteIDs)
	require.Empty(t, u.MediaRefs)
}

func TestCreateUserExists(t *testing.T) {
	s := bootstrap(t)

	email := randEmail()
	_, err := s.CreateUser(context.Background(), NewUser{ID: xid.New().String(), Email: email, PasswordHash: "x", DisplayName: "a"})
	require.NoError(t, err)
	_, err = s.CreateUser(context.Background(), NewUser{ID: xid.New().String(), Email: email, PasswordHash: "x", DisplayName: "b"})
	require.Equal(t, ErrUserExists, err)
}

func TestUserByIDNotExist(t *testing.T) {
	s := bootstrap(t)

	_, err := s.UserByID(context.Background(), xid.New().String())
	require.Equal(t, ErrUserNotExist, err)
}

func TestUpdateUserFieldWhitelist(t *testing.T) {
	s := bootstrap(t)

	u := createUser(t, s)
	require.NoError(t, s.UpdateUserField(context.Background(), u.ID, "display_name", "Ana"))
	require.Equal(t, ErrFieldNotAllowed, s.UpdateUserField(context.Background(), u.ID, "password_hash", "oops"))

	got, err := s.UserByID(context.Background(), u.ID)
	require.NoError(t, err)
	require.Equal(t, "Ana", got.DisplayName)
}

func TestAppendMediaRef(t *testing.T) {
	s := bootstrap(t)

	u := createUser(t, s)
	require.NoError(t, s.AppendMediaRef(context.Background(), u.ID, "/media/a"))
	require.NoError(t, s.AppendMediaRef(context.Background(), u.ID, "/media/b"))

	got, err := s.UserByID(context.Background(), u.ID)
	require.NoError(t, err)
	require.Equal(t, []string{"/media/a", "/media/b"}, got.MediaRefs)
}

func TestAddFavoriteIdempotent(t *testing.T) {
	s := bootstrap(t)

	owner := createUser(t, s)
	target := createUser(t, s)

	require.NoError(t, s.AddFavorite(context.Background(), owner.ID, target.ID))
	require.NoError(t, s.AddFavorite(context.Background(), owner.ID, target.ID))

	fav, err := s.IsFavorite(context.Background(), owner.ID, target.ID)
	require.NoError(t, err)
	require.True(t, fav)

	got, err := s.UserByID(context.Background(), owner.ID)
	require.NoError(t, err)
	require.Equal(t, []string{target.ID}, got.FavoriteIDs)
}

func TestRemoveFavoriteAbsent(t *testing.T) {
	s := bootstrap(t)

	owner := createUser(t, s)
	target := createUser(t, s)

	require.NoError(t, s.RemoveFavorite(context.Background(), owner.ID, target.ID))

	fav, err := s.IsFavorite(context.Background(), owner.ID, target.ID)
	require.NoError(t, err)
	require.False(t, fav)
}

func TestFindOrCreateConversationCanonical(t *testing.T) {
	s := bootstrap(t)

	a := createUser(t, s)
	b := createUser(t, s)

	c1, err := s.FindOrCreateConversation(context.Background(), a.ID, b.ID)
	require.NoError(t, err)
	c2, err := s.FindOrCreateConversation(context.Background(), b.ID, a.ID)
	require.NoError(t, err)
	require.Equal(t, c1.ID, c2.ID)
	require.True(t, c1.ParticipantA < c1.ParticipantB)
}

func TestFindOrCreateConversationConcurrent(t *testing.T) {
	s := bootstrap(t)

	a := createUser(t, s)
	b := createUser(t, s)

	var wg sync.WaitGroup
	ids := make([]string, 8)
	for i := 0; i < len(ids); i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			x, y := a.ID, b.ID
			if i%2 == 1 {
				x, y = y, x
			}
			c, err := s.FindOrCreateConversation(context.Background(), x, y)
			require.NoError(t, err)
			ids[i] = c.ID
		}(i)
	}
	wg.Wait()

	for _, id := range ids {
		require.Equal(t, ids[0], id)
	}
}

func TestAppendMessage(t *testing.T) {
	s := bootstrap(t)

	a := createUser(t, s)
	b := createUser(t, s)
	c, err := s.FindOrCreateConversation(context.Background(), a.ID, b.ID)
	require.NoError(t, err)

	m, err := s.AppendMessage(context.Background(), c.ID, a.ID, "  hi  ")
	require.NoError(t, err)
	require.Equal(t, "hi", m.Text)
	require.Equal(t, a.ID, m.Sender)

	got, err := s.ConversationByID(context.Background(), c.ID)
	require.NoError(t, err)
	require.Equal(t, m.SentAt.UTC(), got.LastActivityAt.UTC())
}

func TestAppendMessageEmpty(t *testing.T) {
	s := bootstrap(t)

	a := createUser(t, s)
	b := createUser(t, s)
	c, err := s.FindOrCreateConversation(context.Background(), a.ID, b.ID)
	require.NoError(t, err)

	_, err = s.AppendMessage(context.Background(), c.ID, a.ID, "   ")
	require.Equal(t, ErrEmptyMessage, err)
}

func TestAppendMessageNotParticipant(t *testing.T) {
	s := bootstrap(t)

	a := createUser(t, s)
	b := createUser(t, s)
	outsider := createUser(t, s)
	c, err := s.FindOrCreateConversation(context.Background(), a.ID, b.ID)
	require.NoError(t, err)

	_, err = s.AppendMessage(context.Background(), c.ID, outsider.ID, "hi")
	require.Equal(t, ErrNotParticipant, err)

	messages, err := s.MessagesSince(context.Background(), c.ID, time.Time{})
	require.NoError(t, err)
	require.Empty(t, messages)
}

func TestMessagesSinceOrdered(t *testing.T) {
	s := bootstrap(t)

	a := createUser(t, s)
	b := createUser(t, s)
	c, err := s.FindOrCreateConversation(context.Background(), a.ID, b.ID)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		_, err = s.AppendMessage(context.Background(), c.ID, a.ID, randString())
		require.NoError(t, err)
	}

	messages, err := s.MessagesSince(context.Background(), c.ID, time.Time{})
	require.NoError(t, err)
	require.Len(t, messages, 5)
	for i := 1; i < len(messages); i++ {
		require.True(t, messages[i].SentAt.After(messages[i-1].SentAt))
	}

	// cursor read resumes strictly after the given time
	tail, err := s.MessagesSince(context.Background(), c.ID, messages[2].SentAt)
	require.NoError(t, err)
	require.Len(t, tail, 2)
	require.Equal(t, messages[3].ID, tail[0].ID)
}

func TestConversationsForOrderedByActivity(t *testing.T) {
	s := bootstrap(t)

	a := createUser(t, s)
	b := createUser(t, s)
	c := createUser(t, s)

	first, err := s.FindOrCreateConversation(context.Background(), a.ID, b.ID)
	require.NoError(t, err)
	second, err := s.FindOrCreateConversation(context.Background(), a.ID, c.ID)
	require.NoError(t, err)

	_, err = s.AppendMessage(context.Background(), first.ID, a.ID, "bump")
	require.NoError(t, err)

	conversations, err := s.ConversationsFor(context.Background(), a.ID)
	require.NoError(t, err)
	require.Len(t, conversations, 2)
	require.Equal(t, first.ID, conversations[0].ID)
	require.Equal(t, second.ID, conversations[1].ID)
}
