package store

import (
	"context"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS pii_mappings (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    masked_value TEXT NOT NULL,
    original_value TEXT NOT NULL,
    category TEXT NOT NULL,
    context TEXT NOT NULL DEFAULT '',
    session_id TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMP NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_pii_mappings_masked_session ON pii_mappings(masked_value, session_id);
CREATE INDEX IF NOT EXISTS idx_pii_mappings_session ON pii_mappings(session_id, created_at);
`

const postgresSchema = `
CREATE TABLE IF NOT EXISTS pii_mappings (
    id BIGSERIAL PRIMARY KEY,
    masked_value TEXT NOT NULL,
    original_value TEXT NOT NULL,
    category TEXT NOT NULL,
    context TEXT NOT NULL DEFAULT '',
    session_id TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMPTZ NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_pii_mappings_masked_session ON pii_mappings(masked_value, session_id);
CREATE INDEX IF NOT EXISTS idx_pii_mappings_session ON pii_mappings(session_id, created_at);
`

// SQLStore keeps mappings in a relational table. The same queries serve
// SQLite and PostgreSQL; sqlx rebinds placeholders per driver.
type SQLStore struct {
	db     *sqlx.DB
	driver string
	logger *zap.Logger
}

// NewSQLiteStore opens (or creates) the SQLite database at path.
func NewSQLiteStore(path string, logger *zap.Logger) (*SQLStore, error) {
	db, err := sqlx.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, storageErr("open sqlite", err)
	}
	// One writer at a time; each operation borrows the connection only for
	// its own statement.
	db.SetMaxOpenConns(1)

	s := &SQLStore{db: db, driver: "sqlite3", logger: logger}
	if err := s.initialize(sqliteSchema); err != nil {
		db.Close() //nolint:errcheck // best-effort close on init failure
		return nil, err
	}

	logger.Info("Mapping store initialized", zap.String("backend", "sqlite"), zap.String("path", path))
	return s, nil
}

// NewPostgresStore connects to PostgreSQL and ensures the mapping table exists.
func NewPostgresStore(config *Config, logger *zap.Logger) (*SQLStore, error) {
	db, err := sqlx.Connect("postgres", config.DatabaseURL)
	if err != nil {
		return nil, storageErr("connect postgres", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	s := &SQLStore{db: db, driver: "postgres", logger: logger}
	if err := s.initialize(postgresSchema); err != nil {
		db.Close() //nolint:errcheck // best-effort close on init failure
		return nil, err
	}

	logger.Info("Mapping store initialized",
		zap.String("backend", "postgres"),
		zap.String("database_url", maskDatabaseURL(config.DatabaseURL)),
		zap.Int("max_open_conns", config.MaxOpenConns),
		zap.Int("max_idle_conns", config.MaxIdleConns))

	return s, nil
}

// initialize checks the connection and creates the schema.
func (s *SQLStore) initialize(schema string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.db.PingContext(ctx); err != nil {
		return storageErr("ping", err)
	}
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return storageErr("create schema", err)
	}
	return nil
}

func (s *SQLStore) Store(ctx context.Context, m *Mapping) error {
	if err := prepare(m); err != nil {
		return err
	}

	query := s.db.Rebind(`
		INSERT INTO pii_mappings (masked_value, original_value, category, context, session_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (masked_value, session_id) DO NOTHING`)

	res, err := s.db.ExecContext(ctx, query,
		m.MaskedValue,
		m.OriginalValue,
		m.Category,
		m.Context,
		m.SessionID,
		m.CreatedAt,
	)
	if err != nil {
		s.logger.Error("Failed to insert mapping",
			zap.Error(err),
			zap.String("category", m.Category),
			zap.String("session_id", m.SessionID))
		return storageErr("insert mapping", err)
	}

	inserted, err := res.RowsAffected()
	if err != nil {
		return storageErr("rows affected", err)
	}
	if inserted == 0 {
		return ErrDuplicate
	}
	return nil
}

func (s *SQLStore) GetAll(ctx context.Context, sessionID string) (map[string]string, error) {
	mappings, err := s.List(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return latest(mappings), nil
}

func (s *SQLStore) List(ctx context.Context, sessionID string) ([]Mapping, error) {
	query := s.db.Rebind(`
		SELECT id, masked_value, original_value, category, context, session_id, created_at
		FROM pii_mappings
		WHERE session_id = ?
		ORDER BY created_at ASC, id ASC`)

	var mappings []Mapping
	if err := s.db.SelectContext(ctx, &mappings, query, sessionID); err != nil {
		return nil, storageErr("select mappings", err)
	}
	return mappings, nil
}

func (s *SQLStore) Clear(ctx context.Context, sessionID string) error {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(`DELETE FROM pii_mappings WHERE session_id = ?`), sessionID)
	if err != nil {
		return storageErr("clear session", err)
	}
	if deleted, err := res.RowsAffected(); err == nil {
		s.logger.Debug("Session mappings cleared",
			zap.String("session_id", sessionID),
			zap.Int64("deleted", deleted))
	}
	return nil
}

func (s *SQLStore) Purge(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM pii_mappings`); err != nil {
		return storageErr("purge", err)
	}
	s.logger.Info("All mappings purged", zap.String("driver", s.driver))
	return nil
}

func (s *SQLStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return storageErr("ping", err)
	}
	return nil
}

// Close closes the database connection
func (s *SQLStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// maskDatabaseURL masks the password in a database URL for logging
func maskDatabaseURL(url string) string {
	if strings.Contains(url, "@") {
		parts := strings.Split(url, "@")
		if len(parts) >= 2 {
			userPart := parts[0]
			if strings.Contains(userPart, ":") {
				userParts := strings.Split(userPart, ":")
				if len(userParts) >= 3 {
					userParts[len(userParts)-1] = "***"
					parts[0] = strings.Join(userParts, ":")
				}
			}
			return strings.Join(parts, "@")
		}
	}
	return url
}
