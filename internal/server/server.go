package server

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"time"

	"clave-backend/internal/auth"
	"clave-backend/internal/chat"
	"clave-backend/internal/media"

	"go.uber.org/zap"
)

// Server defines fields used in HTTP processing
type Server struct {
	logger        *zap.SugaredLogger
	httpServer    *http.Server
	h             handler
	afterShutdown []func()
}

// NewServer returns new Server struct with provided zap.SugaredLogger and
// service layers. Route groups differ in middleware: session endpoints skip
// authentication, media upload skips the JSON body checks, media downloads
// are plain GETs.
func NewServer(logger *zap.SugaredLogger, gateway *auth.Gateway, chats *chat.Service, blobs *media.Store, opts ...Option) (*Server, error) {
	cfg := &config{
		httpServer:     &http.Server{Addr: "0.0.0.0:9000"},
		requestTimeout: 10 * time.Second,
	}

	for _, opt := range opts {
		opt.apply(cfg)
	}

	srv := &Server{
		logger:     logger,
		httpServer: cfg.httpServer,
		h: handler{
			logger:  logger,
			gateway: gateway,
			chats:   chats,
			blobs:   blobs,
			parsers: parsers{},
			timeout: cfg.requestTimeout,
		},
		afterShutdown: cfg.afterShutdown,
	}

	plain := logger.Desugar()

	public := func(f http.HandlerFunc) http.Handler {
		return log(enforcePostJson(f), plain)
	}
	session := func(f http.HandlerFunc) http.Handler {
		return log(srv.h.authenticate(enforcePostJson(f)), plain)
	}

	mux := http.NewServeMux()
	mux.Handle("/auth/register", public(srv.h.register))
	mux.Handle("/auth/login", public(srv.h.login))
	mux.Handle("/auth/reset-password", public(srv.h.resetPassword))
	mux.Handle("/users/get", session(srv.h.userGet))
	mux.Handle("/users/all", session(srv.h.usersAll))
	mux.Handle("/users/update", session(srv.h.userUpdate))
	mux.Handle("/favorites/toggle", session(srv.h.favoriteToggle))
	mux.Handle("/chats/open", session(srv.h.chatOpen))
	mux.Handle("/chats/recent", session(srv.h.chatsRecent))
	mux.Handle("/messages/add", session(srv.h.messageAdd))
	mux.Handle("/messages/get", session(srv.h.messagesGet))
	mux.Handle("/messages/stream", session(srv.h.messagesStream))
	mux.Handle("/media/upload", log(srv.h.authenticate(http.HandlerFunc(srv.h.mediaUpload)), plain))
	mux.Handle("/media/", log(blobs.Handler(), plain))

	srv.httpServer.Handler = mux

	return srv, nil
}

// Start calls ListenAndServe on http.Server instance inside Server struct
// and implements graceful shutdown via goroutine waiting for signals
func (s *Server) Start() error {
	idleConnsClosed := make(chan struct{})

	go func() {
		sigint := make(chan os.Signal, 1)
		signal.Notify(sigint, os.Interrupt)
		<-sigint

		s.logger.Info("Shutting down HTTP server")

		if err := s.httpServer.Shutdown(context.Background()); err != nil {
			s.logger.Errorf("srv.Shutdown: %v", err)
		}
		s.logger.Info("HTTP server is stopped")

		close(idleConnsClosed)
	}()

	s.logger.Infof("Starting HTTP server on %s", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("s.httpServer.ListenAndServe: %v", err)
	}

	<-idleConnsClosed

	for _, f := range s.afterShutdown {
		f()
	}

	return nil
}
