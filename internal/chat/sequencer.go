package chat

import "sync"

// keyedSequencer runs functions for the same key strictly in submission
// order. Submission order is fixed the moment do is entered, so the last
// submitted mutation wins regardless of how the underlying calls complete.
type keyedSequencer struct {
	mu    sync.Mutex
	tails map[string]*tail
}

type tail struct {
	refs int
	last chan struct{}
}

func newKeyedSequencer() *keyedSequencer {
	return &keyedSequencer{tails: map[string]*tail{}}
}

func (k *keyedSequencer) do(key string, fn func()) {
	k.mu.Lock()
	t, ok := k.tails[key]
	if !ok {
		t = &tail{}
		k.tails[key] = t
	}
	t.refs++
	prev := t.last
	mine := make(chan struct{})
	t.last = mine
	k.mu.Unlock()

	if prev != nil {
		<-prev
	}
	fn()
	close(mine)

	k.mu.Lock()
	t.refs--
	if t.refs == 0 {
		delete(k.tails, key)
	}
	k.mu.Unlock()
}
