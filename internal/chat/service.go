// Package chat composes the conversation index, message log and directory
// into the operations the client surface exposes: recent chats, send,
// favorites and live message subscriptions.
package chat

import (
	"context"
	"errors"
	"time"

	"clave-backend/internal/storage"

	"go.uber.org/zap"
)

var (
	ErrSelfConversation = errors.New("conversation with yourself is not allowed")
	ErrSelfFavorite     = errors.New("marking yourself as favorite is not allowed")
)

// Store is the slice of persistence the chat service needs. *storage.Store
// satisfies it; tests use an in-memory implementation.
type Store interface {
	UserByID(ctx context.Context, id string) (storage.User, error)
	AllUsers(ctx context.Context) ([]storage.User, error)
	UpdateUserField(ctx context.Context, id, field, value string) error
	AppendMediaRef(ctx context.Context, id, url string) error

	AddFavorite(ctx context.Context, owner, target string) error
	RemoveFavorite(ctx context.Context, owner, target string) error
	IsFavorite(ctx context.Context, owner, target string) (bool, error)

	FindOrCreateConversation(ctx context.Context, a, b string) (storage.Conversation, error)
	ConversationByID(ctx context.Context, id string) (storage.Conversation, error)
	ConversationsFor(ctx context.Context, userID string) ([]storage.Conversation, error)

	AppendMessage(ctx context.Context, conversationID, senderID, text string) (storage.Message, error)
	MessagesSince(ctx context.Context, conversationID string, after time.Time) ([]storage.Message, error)
}

// RecentChat pairs a conversation with the resolved other participant.
type RecentChat struct {
	Conversation storage.Conversation `json:"conversation"`
	Other        storage.User         `json:"user"`
}

// Service is the orchestrator. Identity is always passed in explicitly by
// the caller; the service never reads it from ambient state.
type Service struct {
	logger    *zap.SugaredLogger
	store     Store
	hub       *hub
	favorites *keyedSequencer
}

func NewService(logger *zap.SugaredLogger, store Store) *Service {
	return &Service{
		logger:    logger,
		store:     store,
		hub:       newHub(),
		favorites: newKeyedSequencer(),
	}
}

// User returns a single directory profile.
func (s *Service) User(ctx context.Context, id string) (storage.User, error) {
	return s.store.UserByID(ctx, id)
}

// Users returns the full directory snapshot that seeds the client-side
// filter.
func (s *Service) Users(ctx context.Context) ([]storage.User, error) {
	return s.store.AllUsers(ctx)
}

// UpdateDisplayName changes the caller's own display name. Handlers pass the
// authenticated identity as userID, which is the only record this call may
// touch.
func (s *Service) UpdateDisplayName(ctx context.Context, userID, displayName string) error {
	return s.store.UpdateUserField(ctx, userID, "display_name", displayName)
}

// AddMediaRef appends an uploaded media URL to the caller's profile.
func (s *Service) AddMediaRef(ctx context.Context, userID, url string) error {
	return s.store.AppendMediaRef(ctx, userID, url)
}

// Open resolves (or lazily creates) the conversation between the caller and
// another user.
func (s *Service) Open(ctx context.Context, userID, otherID string) (storage.Conversation, error) {
	if userID == otherID {
		return storage.Conversation{}, ErrSelfConversation
	}
	return s.store.FindOrCreateConversation(ctx, userID, otherID)
}

// RecentChats lists the caller's conversations, most recently active first,
// each paired with the other participant's profile. A conversation whose
// other participant can not be resolved is skipped, not fatal: one stale
// entry must not abort the whole list.
func (s *Service) RecentChats(ctx context.Context, userID string) ([]RecentChat, error) {
	conversations, err := s.store.ConversationsFor(ctx, userID)
	if err != nil {
		return nil, err
	}

	recent := make([]RecentChat, 0, len(conversations))
	for _, c := range conversations {
		other, err := s.store.UserByID(ctx, c.Other(userID))
		if err != nil {
			if errors.Is(err, storage.ErrUserNotExist) {
				s.logger.Warnf("skipping conversation %s: participant %s is gone", c.ID, c.Other(userID))
				continue
			}
			return nil, err
		}
		recent = append(recent, RecentChat{Conversation: c, Other: other})
	}

	return recent, nil
}

// Send appends a message on behalf of userID and wakes the conversation's
// live subscribers. Participant and empty-text checks happen inside the
// append, so a rejected send leaves no record behind.
func (s *Service) Send(ctx context.Context, userID, conversationID, text string) (storage.Message, error) {
	m, err := s.store.AppendMessage(ctx, conversationID, userID, text)
	if err != nil {
		return storage.Message{}, err
	}

	s.hub.wake(conversationID)

	return m, nil
}

// Messages is the one-shot snapshot read of a conversation, restricted to
// its participants.
func (s *Service) Messages(ctx context.Context, userID, conversationID string, after time.Time) ([]storage.Message, error) {
	c, err := s.store.ConversationByID(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if !c.HasParticipant(userID) {
		return nil, storage.ErrNotParticipant
	}

	return s.store.MessagesSince(ctx, conversationID, after)
}

// ToggleFavorite flips the owner->target favorite edge and returns the new
// state. Toggles on the same edge are serialized in submission order, so
// rapid repeated taps resolve to the last submitted state rather than a race
// outcome.
func (s *Service) ToggleFavorite(ctx context.Context, owner, target string) (bool, error) {
	if owner == target {
		return false, ErrSelfFavorite
	}

	var (
		state bool
		err   error
	)
	s.favorites.do(owner+"\x00"+target, func() {
		var fav bool
		fav, err = s.store.IsFavorite(ctx, owner, target)
		if err != nil {
			return
		}
		if fav {
			err = s.store.RemoveFavorite(ctx, owner, target)
			state = false
		} else {
			err = s.store.AddFavorite(ctx, owner, target)
			state = true
		}
	})
	if err != nil {
		return false, err
	}
	return state, nil
}
