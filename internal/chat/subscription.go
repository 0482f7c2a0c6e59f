package chat

import (
	"context"
	"sync"
	"time"

	"clave-backend/internal/storage"
)

// Subscription is a live, cancellable message feed for one conversation.
// Messages are delivered by a single goroutine in (sentAt, id) order, each
// exactly once per subscription.
type Subscription struct {
	conversation string
	cursor       time.Time

	notify chan struct{}
	done   chan struct{}
	once   sync.Once
	hub    *hub
}

// Cancel detaches the subscription. It is idempotent; after it returns the
// delivery goroutine is draining out and no new appends will reach the
// callbacks.
func (s *Subscription) Cancel() {
	s.once.Do(func() {
		s.hub.remove(s)
		close(s.done)
	})
}

// SubscribeMessages starts the continuous mode of the message log: the
// snapshot after the cursor is replayed first, then every later append wakes
// the feed. Only participants may subscribe. The subscription ends on
// Cancel or when ctx is done; one-shot reads should use Messages instead,
// which holds nothing once it returns.
func (s *Service) SubscribeMessages(ctx context.Context, userID, conversationID string, after time.Time,
	onMessage func(storage.Message), onError func(error)) (*Subscription, error) {

	c, err := s.store.ConversationByID(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if !c.HasParticipant(userID) {
		return nil, storage.ErrNotParticipant
	}

	sub := &Subscription{
		conversation: conversationID,
		cursor:       after,
		notify:       make(chan struct{}, 1),
		done:         make(chan struct{}),
		hub:          s.hub,
	}

	// register before the first read so nothing lands in the gap between
	// snapshot and live phase
	s.hub.add(sub)

	go s.pump(ctx, sub, onMessage, onError)

	return sub, nil
}

func (s *Service) pump(ctx context.Context, sub *Subscription, onMessage func(storage.Message), onError func(error)) {
	defer sub.Cancel()

	for {
		if !s.deliverPending(ctx, sub, onMessage, onError) {
			return
		}

		select {
		case <-sub.done:
			return
		case <-ctx.Done():
			return
		case <-sub.notify:
		}
	}
}

// deliverPending reads everything past the cursor and hands it to the
// callback. It reports false once the subscription is cancelled.
func (s *Service) deliverPending(ctx context.Context, sub *Subscription, onMessage func(storage.Message), onError func(error)) bool {
	messages, err := s.store.MessagesSince(ctx, sub.conversation, sub.cursor)
	if err != nil {
		select {
		case <-sub.done:
			return false
		default:
		}
		// A cancelled ctx is the subscriber leaving, not a failure.
		if ctx.Err() != nil {
			return false
		}
		onError(err)
		return true
	}

	for _, m := range messages {
		select {
		case <-sub.done:
			return false
		default:
		}
		onMessage(m)
		sub.cursor = m.SentAt
	}

	return true
}
