package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"clave-backend/internal/auth"
	"clave-backend/internal/chat"
	"clave-backend/internal/directory"
	"clave-backend/internal/media"
	"clave-backend/internal/storage"

	"github.com/valyala/fastjson"
	"go.uber.org/zap"
)

// TODO limit reading from body

type parsers struct {
	registerPool    fastjson.ParserPool
	loginPool       fastjson.ParserPool
	resetPool       fastjson.ParserPool
	userGetPool     fastjson.ParserPool
	usersAllPool    fastjson.ParserPool
	userUpdatePool  fastjson.ParserPool
	favoritePool    fastjson.ParserPool
	chatOpenPool    fastjson.ParserPool
	messageAddPool  fastjson.ParserPool
	messagesGetPool fastjson.ParserPool
	streamPool      fastjson.ParserPool
}

type handler struct {
	logger  *zap.SugaredLogger
	gateway *auth.Gateway
	chats   *chat.Service
	blobs   *media.Store
	parsers parsers
	timeout time.Duration
}

// opCtx derives the per-operation deadline for non-streaming requests.
func (h *handler) opCtx(r *http.Request) (context.Context, context.CancelFunc) {
	if h.timeout <= 0 {
		return r.Context(), func() {}
	}
	return context.WithTimeout(r.Context(), h.timeout)
}

func (h *handler) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	payload, err := json.Marshal(v)
	if err != nil {
		h.logger.Error(err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, err = w.Write(payload)
	if err != nil {
		h.logger.Errorf("writing marshaled data to ResponseWriter: %v", err)
	}
}

// writeError maps service errors onto HTTP statuses. Validation failures get
// specific messages; authentication failures stay generic on purpose;
// transient and timeout failures ask the caller to retry.
func (h *handler) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, auth.ErrInvalidCredentials):
		http.Error(w, "Invalid email or password", http.StatusUnauthorized)
	case errors.Is(err, auth.ErrUnauthenticated):
		http.Error(w, "Invalid or expired session", http.StatusUnauthorized)
	case errors.Is(err, auth.ErrInvalidEmail):
		http.Error(w, "Invalid email address", http.StatusBadRequest)
	case errors.Is(err, auth.ErrEmptyDisplayName):
		http.Error(w, "Display name must not be empty", http.StatusBadRequest)
	case errors.Is(err, storage.ErrUserExists):
		http.Error(w, "User already exists", http.StatusBadRequest)
	case errors.Is(err, storage.ErrUserNotExist):
		http.Error(w, "User does not exist", http.StatusNotFound)
	case errors.Is(err, storage.ErrConversationBad):
		http.Error(w, "Conversation does not exist", http.StatusNotFound)
	case errors.Is(err, storage.ErrNotParticipant):
		http.Error(w, "Sender is not a conversation participant", http.StatusForbidden)
	case errors.Is(err, storage.ErrEmptyMessage):
		http.Error(w, "Message can not be empty", http.StatusBadRequest)
	case errors.Is(err, storage.ErrFieldNotAllowed):
		http.Error(w, "Field can not be updated", http.StatusBadRequest)
	case errors.Is(err, chat.ErrSelfConversation):
		http.Error(w, "Conversation with yourself is not allowed", http.StatusBadRequest)
	case errors.Is(err, chat.ErrSelfFavorite):
		http.Error(w, "Marking yourself as favorite is not allowed", http.StatusBadRequest)
	case errors.Is(err, storage.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		http.Error(w, "Operation timed out, try again", http.StatusGatewayTimeout)
	case errors.Is(err, storage.ErrTransient):
		http.Error(w, "Service temporarily unavailable, try again", http.StatusServiceUnavailable)
	default:
		h.logger.Error(err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}

// stringField extracts a non-empty string field from a parsed body. The
// second return value is the client-facing complaint when extraction fails.
func stringField(v *fastjson.Value, name string) (string, string) {
	if !v.Exists(name) {
		return "", "Missing Field \"" + name + "\""
	}
	b, err := v.Get(name).StringBytes()
	if err != nil {
		return "", "Field \"" + name + "\" must be a string"
	}
	if len(b) == 0 {
		return "", "Field \"" + name + "\" must have non-zero length"
	}
	return string(b), ""
}

// register handles HTTP requests on "/auth/register" endpoint
func (h *handler) register(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)

	parser := h.parsers.registerPool.Get()
	defer h.parsers.registerPool.Put(parser)
	v, _ := parser.ParseBytes(body)

	email, complaint := stringField(v, "email")
	if complaint != "" {
		http.Error(w, complaint, http.StatusBadRequest)
		return
	}
	password, complaint := stringField(v, "password")
	if complaint != "" {
		http.Error(w, complaint, http.StatusBadRequest)
		return
	}
	displayName, complaint := stringField(v, "display_name")
	if complaint != "" {
		http.Error(w, complaint, http.StatusBadRequest)
		return
	}

	ctx, cancel := h.opCtx(r)
	defer cancel()

	u, token, err := h.gateway.Register(ctx, email, password, displayName)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, map[string]interface{}{"user": u, "token": token})
}

// login handles HTTP requests on "/auth/login" endpoint
func (h *handler) login(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)

	parser := h.parsers.loginPool.Get()
	defer h.parsers.loginPool.Put(parser)
	v, _ := parser.ParseBytes(body)

	email, complaint := stringField(v, "email")
	if complaint != "" {
		http.Error(w, complaint, http.StatusBadRequest)
		return
	}
	password, complaint := stringField(v, "password")
	if complaint != "" {
		http.Error(w, complaint, http.StatusBadRequest)
		return
	}

	ctx, cancel := h.opCtx(r)
	defer cancel()

	id, token, err := h.gateway.Authenticate(ctx, email, password)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]string{"id": id, "token": token})
}

// resetPassword handles HTTP requests on "/auth/reset-password" endpoint
func (h *handler) resetPassword(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)

	parser := h.parsers.resetPool.Get()
	defer h.parsers.resetPool.Put(parser)
	v, _ := parser.ParseBytes(body)

	email, complaint := stringField(v, "email")
	if complaint != "" {
		http.Error(w, complaint, http.StatusBadRequest)
		return
	}

	ctx, cancel := h.opCtx(r)
	defer cancel()

	if err := h.gateway.ResetPassword(ctx, email); err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusAccepted, map[string]bool{"ack": true})
}

// userGet handles HTTP requests on "/users/get" endpoint
func (h *handler) userGet(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)

	parser := h.parsers.userGetPool.Get()
	defer h.parsers.userGetPool.Put(parser)
	v, _ := parser.ParseBytes(body)

	id, complaint := stringField(v, "id")
	if complaint != "" {
		http.Error(w, complaint, http.StatusBadRequest)
		return
	}

	ctx, cancel := h.opCtx(r)
	defer cancel()

	u, err := h.chats.User(ctx, id)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, u)
}

// usersAll handles HTTP requests on "/users/all" endpoint. The full snapshot
// is returned once; clients filter it locally while typing. The optional
// "query" field narrows the snapshot for clients that prefer not to.
func (h *handler) usersAll(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)

	parser := h.parsers.usersAllPool.Get()
	defer h.parsers.usersAllPool.Put(parser)
	v, _ := parser.ParseBytes(body)

	query := string(v.GetStringBytes("query"))

	ctx, cancel := h.opCtx(r)
	defer cancel()

	users, err := h.chats.Users(ctx)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, directory.FilterUsers(query, users))
}

// userUpdate handles HTTP requests on "/users/update" endpoint. Only the
// caller's own profile can be touched; the target id is always the
// authenticated identity.
func (h *handler) userUpdate(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)

	parser := h.parsers.userUpdatePool.Get()
	defer h.parsers.userUpdatePool.Put(parser)
	v, _ := parser.ParseBytes(body)

	displayName, complaint := stringField(v, "display_name")
	if complaint != "" {
		http.Error(w, complaint, http.StatusBadRequest)
		return
	}

	ctx, cancel := h.opCtx(r)
	defer cancel()

	if err := h.chats.UpdateDisplayName(ctx, callerID(r), displayName); err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]bool{"updated": true})
}

// favoriteToggle handles HTTP requests on "/favorites/toggle" endpoint
func (h *handler) favoriteToggle(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)

	parser := h.parsers.favoritePool.Get()
	defer h.parsers.favoritePool.Put(parser)
	v, _ := parser.ParseBytes(body)

	target, complaint := stringField(v, "target")
	if complaint != "" {
		http.Error(w, complaint, http.StatusBadRequest)
		return
	}

	ctx, cancel := h.opCtx(r)
	defer cancel()

	state, err := h.chats.ToggleFavorite(ctx, callerID(r), target)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]bool{"favorite": state})
}

// chatOpen handles HTTP requests on "/chats/open" endpoint
func (h *handler) chatOpen(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)

	parser := h.parsers.chatOpenPool.Get()
	defer h.parsers.chatOpenPool.Put(parser)
	v, _ := parser.ParseBytes(body)

	other, complaint := stringField(v, "user")
	if complaint != "" {
		http.Error(w, complaint, http.StatusBadRequest)
		return
	}

	ctx, cancel := h.opCtx(r)
	defer cancel()

	c, err := h.chats.Open(ctx, callerID(r), other)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, c)
}

// chatsRecent handles HTTP requests on "/chats/recent" endpoint
func (h *handler) chatsRecent(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.opCtx(r)
	defer cancel()

	recent, err := h.chats.RecentChats(ctx, callerID(r))
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, recent)
}

// messageAdd handles HTTP requests on "/messages/add" endpoint
func (h *handler) messageAdd(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)

	parser := h.parsers.messageAddPool.Get()
	defer h.parsers.messageAddPool.Put(parser)
	v, _ := parser.ParseBytes(body)

	conversationID, complaint := stringField(v, "conversation")
	if complaint != "" {
		http.Error(w, complaint, http.StatusBadRequest)
		return
	}
	text, complaint := stringField(v, "text")
	if complaint != "" {
		http.Error(w, complaint, http.StatusBadRequest)
		return
	}

	ctx, cancel := h.opCtx(r)
	defer cancel()

	m, err := h.chats.Send(ctx, callerID(r), conversationID, text)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, m)
}

// messagesGet handles HTTP requests on "/messages/get" endpoint. The
// optional "after" cursor (RFC 3339) resumes strictly past already-seen
// messages.
func (h *handler) messagesGet(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)

	parser := h.parsers.messagesGetPool.Get()
	defer h.parsers.messagesGetPool.Put(parser)
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

	ctx, cancel := h.opCtx(r)
	defer cancel()

	messages, err := h.chats.Messages(ctx, callerID(r), conversationID, after)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, messages)
}

func parseAfter(v *fastjson.Value) (time.Time, bool) {
	if !v.Exists("after") {
		return time.Time{}, true
	}
	b, err := v.Get("after").StringBytes()
	if err != nil {
		return time.Time{}, false
	}
	after, err := time.Parse(time.RFC3339Nano, string(b))
	if err != nil {
		return time.Time{}, false
	}
	return after, true
}
