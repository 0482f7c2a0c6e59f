package chat

import "sync"

// hub tracks live subscriptions per conversation. Publishing is a wake-up
// signal, not a payload: each subscription re-reads the log from its own
// cursor, which keeps delivery ordered and duplicate-free no matter how
// writes and wake-ups interleave.
type hub struct {
	mu   sync.RWMutex
	subs map[string]map[*Subscription]struct{}
}

func newHub() *hub {
	return &hub{subs: map[string]map[*Subscription]struct{}{}}
}

func (h *hub) add(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.subs[sub.conversation]; !ok {
		h.subs[sub.conversation] = map[*Subscription]struct{}{}
	}
	h.subs[sub.conversation][sub] = struct{}{}
}

func (h *hub) remove(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if set, ok := h.subs[sub.conversation]; ok {
		delete(set, sub)
		if len(set) == 0 {
			delete(h.subs, sub.conversation)
		}
	}
}

// wake signals every subscriber of a conversation. The per-subscription
// channel has capacity one, so a slow subscriber coalesces wake-ups instead
// of blocking the sender.
func (h *hub) wake(conversationID string) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for sub := range h.subs[conversationID] {
		select {
		case sub.notify <- struct{}{}:
		default:
		}
	}
}
