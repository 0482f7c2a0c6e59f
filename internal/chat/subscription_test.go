package chat

import (
	"context"
	"sync"
	"testing"
	"time"

	"clave-backend/internal/storage"
	mytesting "clave-backend/internal/testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// ctxStore surfaces context cancellation from reads the way the SQL store
// does. MemStore on its own never looks at ctx.
type ctxStore struct {
	*mytesting.MemStore
}

func (s ctxStore) MessagesSince(ctx context.Context, conversationID string, after time.Time) ([]storage.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.MemStore.MessagesSince(ctx, conversationID, after)
}

// collector gathers subscription callbacks for assertions.
type collector struct {
	mu       sync.Mutex
	messages []storage.Message
	errs     []error
}

func (c *collector) onMessage(m storage.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = append(c.messages, m)
}

func (c *collector) onError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errs = append(c.errs, err)
}

func (c *collector) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.messages)
}

func (c *collector) errors() []error {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]error, len(c.errs))
	copy(out, c.errs)
	return out
}

func (c *collector) snapshot() []storage.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]storage.Message, len(c.messages))
	copy(out, c.messages)
	return out
}

func TestSubscribeReplaysSnapshotThenLive(t *testing.T) {
	t.Parallel()

	svc, store := bootstrap(t)
	alice := store.AddUser("alice")
	bob := store.AddUser("bob")

	c, err := svc.Open(context.Background(), alice.ID, bob.ID)
	require.NoError(t, err)

	_, err = svc.Send(context.Background(), alice.ID, c.ID, "first")
	require.NoError(t, err)

	col := &collector{}
	sub, err := svc.SubscribeMessages(context.Background(), bob.ID, c.ID, time.Time{}, col.onMessage, col.onError)
	require.NoError(t, err)
	defer sub.Cancel()

	require.Eventually(t, func() bool { return col.count() == 1 }, time.Second, 10*time.Millisecond)

	for i := 0; i < 4; i++ {
		_, err = svc.Send(context.Background(), alice.ID, c.ID, "more")
		require.NoError(t, err)
	}

	require.Eventually(t, func() bool { return col.count() == 5 }, time.Second, 10*time.Millisecond)

	messages := col.snapshot()
	seen := map[string]bool{}
	for i, m := range messages {
		require.False(t, seen[m.ID], "message delivered twice")
		seen[m.ID] = true
		if i > 0 {
			require.True(t, m.SentAt.After(messages[i-1].SentAt), "out of order delivery")
		}
	}
	require.Empty(t, col.errors())
}

func TestSubscribeCursorSkipsDelivered(t *testing.T) {
	t.Parallel()

	svc, store := bootstrap(t)
	alice := store.AddUser("alice")
	bob := store.AddUser("bob")

	c, err := svc.Open(context.Background(), alice.ID, bob.ID)
	require.NoError(t, err)

	m1, err := svc.Send(context.Background(), alice.ID, c.ID, "old")
	require.NoError(t, err)
	m2, err := svc.Send(context.Background(), alice.ID, c.ID, "new")
	require.NoError(t, err)

	col := &collector{}
	sub, err := svc.SubscribeMessages(context.Background(), bob.ID, c.ID, m1.SentAt, col.onMessage, col.onError)
	require.NoError(t, err)
	defer sub.Cancel()

	require.Eventually(t, func() bool { return col.count() == 1 }, time.Second, 10*time.Millisecond)
	require.Equal(t, m2.ID, col.snapshot()[0].ID)
}

func TestSubscribeCancelStopsDelivery(t *testing.T) {
	t.Parallel()

	svc, store := bootstrap(t)
	alice := store.AddUser("alice")
	bob := store.AddUser("bob")

	c, err := svc.Open(context.Background(), alice.ID, bob.ID)
	require.NoError(t, err)

	col := &collector{}
	sub, err := svc.SubscribeMessages(context.Background(), bob.ID, c.ID, time.Time{}, col.onMessage, col.onError)
	require.NoError(t, err)

	_, err = svc.Send(context.Background(), alice.ID, c.ID, "before cancel")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return col.count() == 1 }, time.Second, 10*time.Millisecond)

	sub.Cancel()

	_, err = svc.Send(context.Background(), alice.ID, c.ID, "after cancel")
	require.NoError(t, err)

	time.Sleep(100 * time.Millisecond)
	require.Equal(t, 1, col.count())
}

func TestSubscribeCancelIdempotent(t *testing.T) {
	t.Parallel()

	svc, store := bootstrap(t)
	alice := store.AddUser("alice")
	bob := store.AddUser("bob")

	c, err := svc.Open(context.Background(), alice.ID, bob.ID)
	require.NoError(t, err)

	col := &collector{}
	sub, err := svc.SubscribeMessages(context.Background(), alice.ID, c.ID, time.Time{}, col.onMessage, col.onError)
	require.NoError(t, err)

	sub.Cancel()
	sub.Cancel()
}

func TestSubscribeContextCancellation(t *testing.T) {
	t.Parallel()

	svc, store := bootstrap(t)
	alice := store.AddUser("alice")
	bob := store.AddUser("bob")

	c, err := svc.Open(context.Background(), alice.ID, bob.ID)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	col := &collector{}
	_, err = svc.SubscribeMessages(ctx, alice.ID, c.ID, time.Time{}, col.onMessage, col.onError)
	require.NoError(t, err)

	cancel()
	time.Sleep(50 * time.Millisecond)

	_, err = svc.Send(context.Background(), alice.ID, c.ID, "after ctx cancel")
	require.NoError(t, err)

	time.Sleep(100 * time.Millisecond)
	require.Zero(t, col.count())
}

func TestSubscribeContextCancellationSilent(t *testing.T) {
	t.Parallel()

	logger, err := zap.NewDevelopment()
	require.NoError(t, err)

	mem := mytesting.NewMemStore()
	svc := NewService(logger.Sugar(), ctxStore{mem})

	alice := mem.AddUser("alice")
	bob := mem.AddUser("bob")
	c, err := svc.Open(context.Background(), alice.ID, bob.ID)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	col := &collector{}
	sub := &Subscription{
		conversation: c.ID,
		notify:       make(chan struct{}, 1),
		done:         make(chan struct{}),
		hub:          svc.hub,
	}
	defer sub.Cancel()

	cancel()

	// The read fails with context.Canceled; the feed must wind down
	// without reporting it to the subscriber.
	require.False(t, svc.deliverPending(ctx, sub, col.onMessage, col.onError))
	require.Empty(t, col.errors())
	require.Zero(t, col.count())
}

func TestSubscribeNonParticipant(t *testing.T) {
	t.Parallel()

	svc, store := bootstrap(t)
	alice := store.AddUser("alice")
	bob := store.AddUser("bob")
	outsider := store.AddUser("mallory")

	c, err := svc.Open(context.Background(), alice.ID, bob.ID)
	require.NoError(t, err)

	col := &collector{}
	_, err = svc.SubscribeMessages(context.Background(), outsider.ID, c.ID, time.Time{}, col.onMessage, col.onError)
	require.Equal(t, storage.ErrNotParticipant, err)
}

func TestSequencerFIFO(t *testing.T) {
	t.Parallel()

	seq := newKeyedSequencer()

	var mu sync.Mutex
	var order []int

	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			seq.do("k", func() {
				mu.Lock()
				order = append(order, i)
				mu.Unlock()
			})
		}(i)
	}
	close(start)
	wg.Wait()

	require.Len(t, order, 16)

	// independent keys never block each other
	done := make(chan struct{})
	go func() {
		seq.do("a", func() {})
		seq.do("b", func() {})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("independent keys blocked")
	}
}
