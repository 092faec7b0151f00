package store

import (
	"strings"
	"time"
)

// Opts holds configuration options for store backends.
type Opts struct {
	DSN           string        // database connection string or SQLite file path
	RedisAddr     string        // Redis host:port
	RedisPassword string        // Redis password, optional
	RedisDB       int           // Redis logical database
	KeyPrefix     string        // Redis key prefix
	StateTTL      time.Duration // Redis state expiry; 0 keeps states forever
}

// Option defines a configuration option for store backends.
type Option func(*Opts)

// WithPostgresDSN sets the PostgreSQL connection string.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) {
		o.DSN = dsn
	}
}

// WithSQLiteDSN sets the SQLite database file path.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) {
		o.DSN = dsn
	}
}

// WithRedisAddr sets the Redis address and password.
func WithRedisAddr(addr, password string) Option {
	return func(o *Opts) {
		o.RedisAddr = addr
		o.RedisPassword = password
	}
}

// WithRedisDB selects the Redis logical database.
func WithRedisDB(db int) Option {
	return func(o *Opts) {
		o.RedisDB = db
	}
}

// WithKeyPrefix sets the prefix for Redis keys.
func WithKeyPrefix(prefix string) Option {
	return func(o *Opts) {
		o.KeyPrefix = prefix
	}
}

// WithStateTTL sets how long Redis keeps an idle conversation state.
func WithStateTTL(ttl time.Duration) Option {
	return func(o *Opts) {
		o.StateTTL = ttl
	}
}

// DSN types returned by DetectDSNType.
const (
	DSNTypePostgres = "postgres"
	DSNTypeSQLite   = "sqlite3"
)

// DetectDSNType returns the database driver implied by dsn: postgres for URLs
// and key/value connection strings, sqlite3 for everything else.
func DetectDSNType(dsn string) string {
	d := strings.TrimSpace(strings.ToLower(dsn))
	switch {
	case strings.HasPrefix(d, "postgres://"), strings.HasPrefix(d, "postgresql://"):
		return DSNTypePostgres
	case strings.Contains(d, "host=") && (strings.Contains(d, "dbname=") || strings.Contains(d, "user=")):
		return DSNTypePostgres
	default:
		return DSNTypeSQLite
	}
}

// Open returns the SQL store implied by dsn.
func Open(dsn string) (Store, error) {
	if DetectDSNType(dsn) == DSNTypePostgres {
		pg, err := NewPostgresStore(WithPostgresDSN(dsn))
		if err != nil {
			return nil, err
		}
		return pg, nil
	}
	lite, err := NewSQLiteStore(WithSQLiteDSN(dsn))
	if err != nil {
		return nil, err
	}
	return lite, nil
}
