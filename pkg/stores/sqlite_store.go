package stores

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// sqliteTimeLayout is fixed-width (no trailing-zero trimming) so the TEXT
// comparison in ListExpired orders chronologically. All stored timestamps are
// UTC.
const sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z"

// SQLiteStore implements the Store interface using SQLite. Indexed columns
// hold the fields queried directly; the full instance record is stored as a
// JSON document alongside them.
type SQLiteStore struct {
	db  *sql.DB
	cfg SQLiteConfig
}

// SQLiteConfig holds SQLite store configuration.
type SQLiteConfig struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// NewSQLiteStore creates a new SQLite store instance.
func NewSQLiteStore(cfg SQLiteConfig) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}
	if cfg.MaxOpenConns <= 0 {
		cfg.MaxOpenConns = 25
	}
	if cfg.MaxIdleConns <= 0 {
		cfg.MaxIdleConns = 5
	}
	if cfg.ConnMaxLifetime <= 0 {
		cfg.ConnMaxLifetime = 5 * time.Minute
	}

	return &SQLiteStore{cfg: cfg}, nil
}

// Init initializes the database connection and enables WAL mode.
func (s *SQLiteStore) Init(ctx context.Context) error {
	dsn := fmt.Sprintf("%s?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL&_txlock=immediate", s.cfg.Path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(s.cfg.MaxOpenConns)
	db.SetMaxIdleConns(s.cfg.MaxIdleConns)
	db.SetConnMaxLifetime(s.cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	s.db = db
	return nil
}

// Migrate runs database migrations from the embedded filesystem.
func (s *SQLiteStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := sqlite3.WithInstance(s.db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Save writes an instance, replacing any existing record with the same ID.
func (s *SQLiteStore) Save(ctx context.Context, instance *Instance) error {
	if instance.ID == "" {
		return fmt.Errorf("instance ID is required")
	}

	data, err := json.Marshal(instance)
	if err != nil {
		return fmt.Errorf("failed to encode instance: %w", err)
	}

	var expiresAt *string
	if instance.ExpiresAt != nil {
		formatted := instance.ExpiresAt.UTC().Format(sqliteTimeLayout)
		expiresAt = &formatted
	}

	query := `
		INSERT INTO instances (id, scenario_id, name, tenant, created_at, expires_at, data)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			scenario_id = excluded.scenario_id,
			name = excluded.name,
			tenant = excluded.tenant,
			created_at = excluded.created_at,
			expires_at = excluded.expires_at,
			data = excluded.data
	`

	_, err = s.db.ExecContext(ctx, query,
		instance.ID,
		instance.ScenarioID,
		instance.Name,
		instance.Tenant,
		instance.CreatedAt.UTC().Format(sqliteTimeLayout),
		expiresAt,
		string(data),
	)
	if err != nil {
		return fmt.Errorf("failed to save instance: %w", err)
	}

	return nil
}

// Get retrieves an instance by ID.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*Instance, error) {
	query := `SELECT data FROM instances WHERE id = ?`

	var data string
	err := s.db.QueryRowContext(ctx, query, id).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("instance not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get instance: %w", err)
	}

	return decodeInstance(id, data)
}

// List returns all instances ordered by creation time.
func (s *SQLiteStore) List(ctx context.Context) ([]*Instance, error) {
	query := `SELECT id, data FROM instances ORDER BY created_at ASC, id ASC`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list instances: %w", err)
	}
	defer rows.Close()

	return scanInstances(rows)
}

// Delete removes an instance record.
func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	query := `DELETE FROM instances WHERE id = ?`

	result, err := s.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to delete instance: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("instance not found: %s", id)
	}

	return nil
}

// ListExpired returns instances eligible for cleanup at the given time.
func (s *SQLiteStore) ListExpired(ctx context.Context, now time.Time) ([]*Instance, error) {
	query := `
		SELECT id, data FROM instances
		WHERE expires_at IS NOT NULL AND expires_at <= ?
		ORDER BY created_at ASC, id ASC
	`

	rows, err := s.db.QueryContext(ctx, query, now.UTC().Format(sqliteTimeLayout))
	if err != nil {
		return nil, fmt.Errorf("failed to list expired instances: %w", err)
	}
	defer rows.Close()

	return scanInstances(rows)
}

// HealthCheck verifies the database connection is healthy.
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}
	return s.db.PingContext(ctx)
}

func scanInstances(rows *sql.Rows) ([]*Instance, error) {
	instances := []*Instance{}
	for rows.Next() {
		var id, data string
		if err := rows.Scan(&id, &data); err != nil {
			return nil, fmt.Errorf("failed to scan instance: %w", err)
		}
		instance, err := decodeInstance(id, data)
		if err != nil {
			return nil, err
		}
		instances = append(instances, instance)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating instances: %w", err)
	}
	return instances, nil
}

func decodeInstance(id, data string) (*Instance, error) {
	instance := &Instance{}
	if err := json.Unmarshal([]byte(data), instance); err != nil {
		return nil, fmt.Errorf("failed to decode instance %s: %w", id, err)
	}
	return instance, nil
}
