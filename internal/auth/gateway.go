// Package auth is the session/identity gateway: it authenticates callers and
// issues the stable user identity every other component operates on.
package auth

import (
	"context"
	"errors"
	"net/mail"
	"strings"
	"time"

	"clave-backend/internal/storage"

	"github.com/rs/xid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

var (
	// ErrInvalidCredentials covers both a wrong password and an unknown
	// account. The merge is a deliberate information-hiding contract: the
	// caller must not learn which of the two happened.
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrUnauthenticated    = errors.New("missing or invalid session token")
	ErrInvalidEmail       = errors.New("invalid email address")
	ErrEmptyDisplayName   = errors.New("display name must not be empty")
)

// UserStore is the slice of the directory the gateway needs.
type UserStore interface {
	CreateUser(ctx context.Context, nu storage.NewUser) (storage.User, error)
	CredentialByEmail(ctx context.Context, email string) (storage.Credential, error)
}

// PasswordResetter delivers password-reset email on behalf of the gateway.
// Delivery is an external collaborator; the gateway fires the request and
// does not wait on the outcome.
type PasswordResetter interface {
	SendPasswordReset(ctx context.Context, email string) error
}

// Gateway authenticates callers against the directory and issues signed
// session tokens.
type Gateway struct {
	logger   *zap.SugaredLogger
	store    UserStore
	resetter PasswordResetter
	secret   []byte
	tokenTTL time.Duration
}

// Config defines fields used for configuring a Gateway, parsed from
// environment variables
type Config struct {
	Secret   string        `env:"AUTH_SECRET,required"`
	TokenTTL time.Duration `env:"AUTH_TOKEN_TTL" envDefault:"720h"`
}

func NewGateway(logger *zap.SugaredLogger, store UserStore, resetter PasswordResetter, cfg Config) *Gateway {
	return &Gateway{
		logger:   logger,
		store:    store,
		resetter: resetter,
		secret:   []byte(cfg.Secret),
		tokenTTL: cfg.TokenTTL,
	}
}

// Register creates an account on first sign-up and returns the new identity
// together with a session token.
func (g *Gateway) Register(ctx context.Context, email, password, displayName string) (storage.User, string, error) {
	email = strings.TrimSpace(email)
	if _, err := mail.ParseAddress(email); err != nil {
		return storage.User{}, "", ErrInvalidEmail
	}
	if len(password) == 0 {
		return storage.User{}, "", ErrInvalidCredentials
	}
	if strings.TrimSpace(displayName) == "" {
		return storage.User{}, "", ErrEmptyDisplayName
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return storage.User{}, "", err
	}

	u, err := g.store.CreateUser(ctx, storage.NewUser{
		ID:           xid.New().String(),
		Email:        email,
		PasswordHash: string(hash),
		DisplayName:  strings.TrimSpace(displayName),
	})
	if err != nil {
		return storage.User{}, "", err
	}

	token, err := g.issueToken(u.ID)
	if err != nil {
		return storage.User{}, "", err
	}

	g.logger.Infof("Registered user %s", u.ID)

	return u, token, nil
}

// Authenticate verifies credentials and returns the caller's identity with a
// fresh session token. Unknown account and wrong password both come back as
// ErrInvalidCredentials; transient store failures pass through untouched so
// the caller can retry.
func (g *Gateway) Authenticate(ctx context.Context, email, password string) (string, string, error) {
	cred, err := g.store.CredentialByEmail(ctx, strings.TrimSpace(email))
	if err != nil {
		if errors.Is(err, storage.ErrUserNotExist) {
			return "", "", ErrInvalidCredentials
		}
		return "", "", err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(cred.PasswordHash), []byte(password)); err != nil {
		return "", "", ErrInvalidCredentials
	}

	token, err := g.issueToken(cred.UserID)
	if err != nil {
		return "", "", err
	}

	return cred.UserID, token, nil
}

// Identity validates a session token and returns the user id it was issued
// for.
func (g *Gateway) Identity(token string) (string, error) {
	return g.parseToken(token)
}

// ResetPassword delegates reset-mail delivery to the identity provider. The
// acknowledgment only confirms the request was accepted; whether the address
// maps to an account is deliberately not revealed.
func (g *Gateway) ResetPassword(ctx context.Context, email string) error {
	email = strings.TrimSpace(email)
	if _, err := mail.ParseAddress(email); err != nil {
		return ErrInvalidEmail
	}

	if err := g.resetter.SendPasswordReset(ctx, email); err != nil {
		// fire-and-forget: delivery failure is logged, never surfaced
		g.logger.Errorf("password reset delivery for %s: %v", email, err)
	}
	return nil
}
