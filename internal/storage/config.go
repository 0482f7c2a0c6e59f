package storage

import (
	"fmt"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
)

// Config defines fields used for connecting to Postgres, parsed from
// environment variables
type Config struct {
	User     string `env:"DB_USER" envDefault:"clave"`
	Password string `env:"DB_PASSWORD" envDefault:"clave"`
	Host     string `env:"DB_HOST" envDefault:"127.0.0.1"`
	Port     uint16 `env:"DB_PORT" envDefault:"5432"`
	DBName   string `env:"DB_NAME" envDefault:"clave"`
}

// DSN builds a keyword/value connection string accepted by pgxpool.ParseConfig
func (c Config) DSN() string {
	return fmt.Sprintf("user=%s password=%s host=%s port=%d dbname=%s sslmode=disable",
		c.User, c.Password, c.Host, c.Port, c.DBName)
}

// Option alters the default configuration of the pgxpool.Config used during new Store construction
type Option interface {
	apply(*pgxpool.Config)
}

type optionFunc func(c *pgxpool.Config)

func (f optionFunc) apply(c *pgxpool.Config) { f(c) }

// ConnectionTimeout sets timeout for connection to be established
func ConnectionTimeout(d time.Duration) Option {
	return optionFunc(func(c *pgxpool.Config) {
		c.ConnConfig.ConnectTimeout = d
	})
}

// MaxConns caps the pool size
func MaxConns(n int32) Option {
	return optionFunc(func(c *pgxpool.Config) {
		c.MaxConns = n
	})
}
