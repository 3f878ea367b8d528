package db

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// Config holds database configuration
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
	MaxConns int32
}

// DSN renders the config as a libpq keyword/value connection string. Values
// are single-quoted so spaces and quotes survive parsing.
func (c Config) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		quoteValue(c.Host), c.Port, quoteValue(c.User), quoteValue(c.Password), quoteValue(c.DBName), quoteValue(c.SSLMode),
	)
}

var dsnValueEscaper = strings.NewReplacer(`\`, `\\`, `'`, `\'`)

func quoteValue(value string) string {
	return "'" + dsnValueEscaper.Replace(value) + "'"
}

// URL renders the config as a connection URL with the given scheme.
func (c Config) URL(scheme string) string {
	u := url.URL{
		Scheme:   scheme,
		User:     url.UserPassword(c.User, c.Password),
		Host:     c.Host + ":" + strconv.Itoa(c.Port),
		Path:     "/" + c.DBName,
		RawQuery: url.Values{"sslmode": []string{c.SSLMode}}.Encode(),
	}
	return u.String()
}

// Connection wraps the database connection pool
type Connection struct {
	Pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewConnection creates a new database connection
func NewConnection(ctx context.Context, config Config, logger *zap.Logger) (*Connection, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	poolConfig, err := pgxpool.ParseConfig(config.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	poolConfig.ConnConfig.RuntimeParams["client_encoding"] = "UTF8"

	// A pipeline run owns its connection for the length of a stage, so the
	// pool stays small.
	poolConfig.MaxConns = config.MaxConns
	if poolConfig.MaxConns <= 0 {
		poolConfig.MaxConns = 4
	}
	poolConfig.MinConns = 1
	poolConfig.MaxConnLifetime = time.Minute * 30
	poolConfig.MaxConnIdleTime = time.Minute * 5
	poolConfig.HealthCheckPeriod = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	// Test the connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Connection{Pool: pool, logger: logger}, nil
}

// Close closes the database connection pool
func (c *Connection) Close() {
	if c.Pool != nil {
		c.Pool.Close()
	}
}

// Ping checks the pool can reach the database.
func (c *Connection) Ping(ctx context.Context) error {
	return c.Pool.Ping(ctx)
}

// WithTx executes a function within a database transaction
func (c *Connection) WithTx(ctx context.Context, fn func(pgx.Tx) error) error {
	tx, err := c.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			if err := tx.Rollback(ctx); err != nil {
				c.logger.Error("failed to rollback transaction", zap.Error(err))
			}
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			return fmt.Errorf("transaction error: %w, rollback error: %v", err, rbErr)
		}
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// Probe checks reachability by opening and closing a dedicated connection,
// without building a pool.
type Probe struct {
	config Config
}

// NewProbe returns a probe for the configured database.
func NewProbe(config Config) *Probe {
	return &Probe{config: config}
}

// Ping connects once and closes the connection again.
func (p *Probe) Ping(ctx context.Context) error {
	conn, err := pgx.Connect(ctx, p.config.DSN())
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer conn.Close(ctx)

	if err := conn.Ping(ctx); err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}
	return nil
}

// ParseConfig builds a Config from a libpq URL or keyword/value string.
func ParseConfig(dsn string) (Config, error) {
	parsed, err := pgx.ParseConfig(dsn)
	if err != nil {
		return Config{}, fmt.Errorf("failed to parse dsn: %w", err)
	}
	sslMode := "disable"
	if parsed.TLSConfig != nil {
		sslMode = "require"
	}
	return Config{
		Host:     parsed.Host,
		Port:     int(parsed.Port),
		User:     parsed.User,
		Password: parsed.Password,
		DBName:   parsed.Database,
		SSLMode:  sslMode,
		MaxConns: DefaultConfig().MaxConns,
	}, nil
}

// DefaultConfig returns a default database configuration
func DefaultConfig() Config {
	return Config{
		Host:     "postgres",
		Port:     5432,
		User:     "user",
		Password: "password",
		DBName:   "etl_db",
		SSLMode:  "disable",
		MaxConns: 4,
	}
}
