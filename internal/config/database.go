package config

import (
	"fmt"
	"log/slog"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"  // PostgreSQL driver
	_ "modernc.org/sqlite" // SQLite driver
)

func init() {
	// modernc registers itself as "sqlite", which sqlx does not know by default
	sqlx.BindDriver(DriverSQLite, sqlx.QUESTION)
}

// SetupDatabase initializes the database connection
func SetupDatabase(cfg *Config) (*sqlx.DB, error) {
	db, err := sqlx.Connect(cfg.Database.Driver, cfg.Database.GetDSN())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Test the connection
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// Set connection pool settings
	if cfg.Database.Driver == DriverSQLite {
		// SQLite serialises writers; a single connection also keeps :memory: databases alive
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
	}

	// Create tables if they don't exist
	if err := createTables(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return db, nil
}

// createTables creates the necessary tables in the database.
// The statements are valid for both PostgreSQL and SQLite.
func createTables(db *sqlx.DB) error {
	tables := []string{
		`CREATE TABLE IF NOT EXISTS identities (
			id VARCHAR(36) PRIMARY KEY,
			name VARCHAR(255) NOT NULL,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS user_identities (
			user_id VARCHAR(255) PRIMARY KEY,
			identity_id VARCHAR(36) NOT NULL REFERENCES identities(id),
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS places (
			id VARCHAR(36) PRIMARY KEY,
			postal_code VARCHAR(16) NOT NULL,
			place VARCHAR(255) NOT NULL,
			UNIQUE (postal_code, place)
		)`,
		`CREATE TABLE IF NOT EXISTS locations (
			id VARCHAR(36) PRIMARY KEY,
			name VARCHAR(255) NOT NULL,
			street VARCHAR(255) NOT NULL DEFAULT '',
			number VARCHAR(16) NOT NULL DEFAULT '',
			letter VARCHAR(8) NOT NULL DEFAULT '',
			place_id VARCHAR(36) REFERENCES places(id)
		)`,
		`CREATE TABLE IF NOT EXISTS meetings (
			id VARCHAR(36) PRIMARY KEY,
			name VARCHAR(255) NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			status VARCHAR(16) NOT NULL,
			starts_at TIMESTAMP NOT NULL,
			duration INTEGER,
			location_id VARCHAR(36) REFERENCES locations(id),
			chair_id VARCHAR(36) REFERENCES identities(id),
			code VARCHAR(6),
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS attendances (
			meeting_id VARCHAR(36) NOT NULL REFERENCES meetings(id),
			identity_id VARCHAR(36) NOT NULL REFERENCES identities(id),
			status VARCHAR(16) NOT NULL,
			PRIMARY KEY (meeting_id, identity_id)
		)`,
		`CREATE TABLE IF NOT EXISTS records (
			meeting_id VARCHAR(36) NOT NULL REFERENCES meetings(id),
			lang VARCHAR(2) NOT NULL,
			content TEXT NOT NULL DEFAULT '',
			identity_id VARCHAR(36) NOT NULL REFERENCES identities(id),
			status VARCHAR(16) NOT NULL,
			updated_at TIMESTAMP NOT NULL,
			PRIMARY KEY (meeting_id, lang)
		)`,
		`CREATE TABLE IF NOT EXISTS votings (
			id VARCHAR(36) PRIMARY KEY,
			meeting_id VARCHAR(36) NOT NULL REFERENCES meetings(id),
			question TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			is_open BOOLEAN NOT NULL DEFAULT FALSE,
			anonymous BOOLEAN NOT NULL DEFAULT FALSE,
			started_at TIMESTAMP,
			closed_at TIMESTAMP,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS voting_options (
			voting_id VARCHAR(36) NOT NULL REFERENCES votings(id),
			idx INTEGER NOT NULL,
			text TEXT NOT NULL,
			PRIMARY KEY (voting_id, idx)
		)`,
		`CREATE TABLE IF NOT EXISTS votes (
			voting_id VARCHAR(36) NOT NULL REFERENCES votings(id),
			identity_id VARCHAR(36) NOT NULL REFERENCES identities(id),
			idx INTEGER NOT NULL,
			created_at TIMESTAMP NOT NULL,
			PRIMARY KEY (voting_id, identity_id)
		)`,
	}

	for _, stmt := range tables {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}

	// Create indexes for better performance
	indexes := []string{
		"CREATE INDEX IF NOT EXISTS idx_user_identities_identity ON user_identities(identity_id)",
		"CREATE INDEX IF NOT EXISTS idx_meetings_location ON meetings(location_id)",
		"CREATE INDEX IF NOT EXISTS idx_votings_meeting ON votings(meeting_id)",
		"CREATE INDEX IF NOT EXISTS idx_attendances_identity ON attendances(identity_id)",
	}

	for _, idx := range indexes {
		if _, err := db.Exec(idx); err != nil {
			// Indexes are not critical
			slog.Warn("failed to create index", "statement", idx, "error", err)
		}
	}

	return nil
}
