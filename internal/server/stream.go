package server

import (
	"encoding/json"
	"io"
	"net/http"

	"clave-backend/internal/storage"
)

// messagesStream handles HTTP requests on "/messages/stream" endpoint. The
// response is a newline-delimited JSON feed: the snapshot past the optional
// "after" cursor first, then live appends until the client disconnects. The
// per-request timeout does not apply here, the feed lives as long as the
// connection.
func (h *handler) messagesStream(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)

	parser := h.parsers.streamPool.Get()
	defer h.parsers.streamPool.Put(parser)
	v, _ := parser.ParseBytes(body)

	conversationID, complaint := stringField(v, "conversation")
	if complaint != "" {
		http.Error(w, complaint, http.StatusBadRequest)
		return
	}

	after, ok := parseAfter(v)
	if !ok {
		http.Error(w, "Field \"after\" must be an RFC 3339 timestamp", http.StatusBadRequest)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming is not supported", http.StatusInternalServerError)
		return
	}

	ctx := r.Context()

	// callbacks fire on the subscription goroutine; hand messages over a
	// channel so all ResponseWriter access stays on this goroutine
	feed := make(chan storage.Message, 16)
	fail := make(chan error, 1)

	sub, err := h.chats.SubscribeMessages(ctx, callerID(r), conversationID, after,
		func(m storage.Message) {
			select {
			case feed <- m:
			case <-ctx.Done():
			}
		},
		func(err error) {
			select {
			case fail <- err:
			default:
			}
		})
	if err != nil {
		h.writeError(w, err)
		return
	}
	defer sub.Cancel()

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	enc := json.NewEncoder(w)
	for {
		select {
		case <-ctx.Done():
			return
		case err := <-fail:
			h.logger.Errorf("message feed for conversation %s: %v", conversationID, err)
			return
		case m := <-feed:
			if err := enc.Encode(m); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
