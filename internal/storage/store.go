package storage

import (
	"context"
	_ "embed"
	"errors"
	"net"

	"clave-backend/internal/storage/zapadapter"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4/pgxpool"
	"go.uber.org/zap"
)

var (
	ErrUserExists        = errors.New("user already exists")
	ErrUserNotExist      = errors.New("user does not exist")
	ErrConversationBad   = errors.New("conversation does not exist")
	ErrNotParticipant    = errors.New("sender is not a conversation participant")
	ErrEmptyMessage      = errors.New("message text is empty")
	ErrFieldNotAllowed   = errors.New("field can not be updated")
	ErrTimeout           = errors.New("operation timed out")
	ErrTransient         = errors.New("storage temporarily unavailable")
	ErrConversationRaced = errors.New("conversation created concurrently")
)

//go:embed schema.sql
var schema string

// Store defines fields used in db interaction processes
type Store struct {
	logger *zap.SugaredLogger
	db     *pgxpool.Pool
}

// New sets provided zap.Logger via zapadapter to pgxpool.Pool and returns instance of Store struct
func New(logger *zap.SugaredLogger, cfg Config, opts ...Option) (*Store, error) {
	config, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, err
	}
	config.ConnConfig.Logger = zapadapter.NewLogger(logger.Desugar())

	for _, opt := range opts {
		opt.apply(config)
	}

	pool, err := pgxpool.ConnectConfig(context.Background(), config)
	if err != nil {
		return nil, err
	}

	return &Store{
		logger: logger,
		db:     pool,
	}, nil
}

// Migrate applies the embedded schema. Statements are idempotent
// (create table if not exists) so repeated starts are safe.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.db.Exec(ctx, schema)
	return err
}

// Close releases the underlying connection pool
func (s *Store) Close() {
	s.db.Close()
}

// classify maps driver-level failures onto the store's error taxonomy.
// Timeouts and retryable connection failures must never leak as raw pgx
// errors: callers decide retry policy on ErrTimeout/ErrTransient.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrTimeout
	}
	if pgconn.Timeout(err) {
		return ErrTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrTimeout
	}
	if pgconn.SafeToRetry(err) {
		return ErrTransient
	}
	return err
}
