package storage

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"go.uber.org/zap"
)

//go:embed migrations.sql
var migrations embed.FS

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// PostgresCache stores entries in a cache_entries table. Expiry is lazy: an
// expired row is deleted the first time it is read past its deadline.
type PostgresCache struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewPostgresCache(config DatabaseConfig, logger *zap.Logger) (*PostgresCache, error) {
	connStr := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		config.Host, config.Port, config.User, config.Password, config.DBName, config.SSLMode)

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("error connecting to the database: %w", err)
	}

	cache := &PostgresCache{db: db, logger: logger}

	if err := cache.initializeSchema(); err != nil {
		return nil, fmt.Errorf("error initializing database schema: %w", err)
	}

	return cache, nil
}

func (c *PostgresCache) initializeSchema() error {
	migrationSQL, err := migrations.ReadFile("migrations.sql")
	if err != nil {
		return fmt.Errorf("error reading migrations file: %w", err)
	}

	if _, err := c.db.Exec(string(migrationSQL)); err != nil {
		return fmt.Errorf("error executing migrations: %w", err)
	}

	return nil
}

func (c *PostgresCache) Get(ctx context.Context, key string) ([]byte, bool) {
	var value []byte
	var expiresAt time.Time

	query := `SELECT value, expires_at FROM cache_entries WHERE key = $1`
	err := c.db.QueryRowContext(ctx, query, key).Scan(&value, &expiresAt)
	if err != nil {
		if err != sql.ErrNoRows {
			c.logger.Warn("Cache read failed",
				zap.Error(err),
				zap.String("key", key))
		}
		return nil, false
	}

	if time.Now().After(expiresAt) {
		if _, err := c.db.ExecContext(ctx, `DELETE FROM cache_entries WHERE key = $1`, key); err != nil {
			c.logger.Warn("Failed to delete expired cache entry",
				zap.Error(err),
				zap.String("key", key))
		}
		return nil, false
	}

	return value, true
}

func (c *PostgresCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) {
	query := `
		INSERT INTO cache_entries (key, value, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (key) DO UPDATE SET value = $2, expires_at = $3`

	if _, err := c.db.ExecContext(ctx, query, key, value, time.Now().Add(ttl)); err != nil {
		c.logger.Warn("Cache write failed",
			zap.Error(err),
			zap.String("key", key))
	}
}

func (c *PostgresCache) Close() error {
	return c.db.Close()
}
