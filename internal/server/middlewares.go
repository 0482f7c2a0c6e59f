package server

import (
	"bytes"
	"context"
	"io"
	"mime"
	"net/http"
	"strings"

	"clave-backend/internal/storage/zapadapter"

	"github.com/rs/xid"
	"github.com/valyala/fastjson"
	"go.uber.org/zap"
)

type ctxKey string

const callerKey ctxKey = "caller"

// callerID returns the authenticated identity attached by the authenticate
// middleware. Handlers pass it explicitly into every service call; nothing
// below the HTTP layer reads it from context.
func callerID(r *http.Request) string {
	id, _ := r.Context().Value(callerKey).(string)
	return id
}

// enforcePostJson is a middleware pre-processing each HTTP request
// it checks for POST method, application/json Content-Type header and valid json body
// it also sets blank Content-Type header to application/json
func enforcePostJson(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != "POST" {
			w.Header().Set("Allow", "POST")
			http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
			return
		}

		// check "Content-Type" header
		contentType := r.Header.Get("Content-Type")
		if contentType != "" {
			mt, _, err := mime.ParseMediaType(contentType)
			if err != nil {
				http.Error(w, "Malformed Content-Type header", http.StatusBadRequest)
				return
			}

			if mt != "application/json" {
				http.Error(w, "Content-Type header must be application/json", http.StatusUnsupportedMediaType)
				return
			}
		} else {
			r.Header.Set("Content-Type", "application/json")
		}

		// check if provided request body is valid JSON
		var bodyBuf bytes.Buffer
		bodyReader := io.TeeReader(r.Body, &bodyBuf)
		body, err := io.ReadAll(bodyReader)
		if err != nil {
			http.Error(w, "Can not read request body", http.StatusBadRequest)
			return
		}

		if len(body) == 0 {
			http.Error(w, "No body provided", http.StatusBadRequest)
			return
		}

		err = fastjson.ValidateBytes(body)
		if err != nil {
			http.Error(w, "Malformed JSON", http.StatusBadRequest)
			return
		}

		r.Body = io.NopCloser(&bodyBuf)

		next.ServeHTTP(w, r)
	})
}

// authenticate validates the bearer token and attaches the caller's identity
// to the request context.
func (h *handler) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token := strings.TrimPrefix(header, "Bearer ")
		if header == "" || token == header {
			http.Error(w, "Missing bearer token", http.StatusUnauthorized)
			return
		}

		userID, err := h.gateway.Identity(token)
		if err != nil {
			http.Error(w, "Invalid or expired session", http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), callerKey, userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func log(next http.Handler, logger *zap.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := xid.New().String()

		ctx := zapadapter.NewContextWithID(r.Context(), id)
		rwID := r.WithContext(ctx)

		logger.Info("incoming http request",
			zap.String("id", id),
			zap.String("method", r.Method),
			zap.String("uri", r.URL.RequestURI()),
			zap.String("ip", r.RemoteAddr),
		)

		next.ServeHTTP(w, rwID)
	})
}
