// Package sqlite persists project records and tokens in a single SQLite
// file. The protocol writes snapshots here; only the token table is read
// back, when a participant joins.
package sqlite

import (
	"errors"
	"fmt"
	"time"

	"github.com/TUM-AIMED/hyfed/pkg/storage"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	migrate "github.com/rubenv/sql-migrate"
)

var (
	ErrDBConnection = errors.New("database connection error")
	ErrDBQuery      = errors.New("database query error")
	ErrCreate       = errors.New("create error")
	ErrUpdate       = errors.New("update error")
	ErrDelete       = errors.New("delete error")
)

type Repositories struct {
	Projects storage.ProjectRecords
	Tokens   storage.TokenStore
}

func NewRepositories(db *Database) *Repositories {
	return &Repositories{
		Projects: NewProjectRepository(db),
		Tokens:   NewTokenRepository(db),
	}
}

type Database struct {
	*sqlx.DB
}

func NewDatabase(path string) (*Database, error) {
	db, err := sqlx.Connect("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDBConnection, err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(5 * time.Minute)

	database := &Database{DB: db}

	if err := database.Migrate(); err != nil {
		return nil, err
	}

	return database, nil
}

func (db *Database) Migrate() error {
	migrations := &migrate.MemoryMigrationSource{
		Migrations: []*migrate.Migration{
			{
				Id: "1_create_tables",
				Up: []string{
					`CREATE TABLE IF NOT EXISTS projects (
						id TEXT PRIMARY KEY,
						name TEXT NOT NULL,
						description TEXT,
						algorithm TEXT NOT NULL,
						creator TEXT,
						status TEXT NOT NULL,
						step TEXT NOT NULL,
						comm_round INTEGER NOT NULL DEFAULT 1,
						participant_count INTEGER NOT NULL,
						result_dir TEXT,
						config BLOB,
						created_at TIMESTAMP NOT NULL,
						updated_at TIMESTAMP NOT NULL
					)`,
					`CREATE INDEX IF NOT EXISTS idx_projects_status ON projects(status)`,
					`CREATE INDEX IF NOT EXISTS idx_projects_created_at ON projects(created_at DESC)`,
					`CREATE TABLE IF NOT EXISTS tokens (
						value TEXT PRIMARY KEY,
						project_id TEXT NOT NULL,
						username TEXT NOT NULL DEFAULT '',
						created_at TIMESTAMP NOT NULL,
						claimed_at TIMESTAMP,
						FOREIGN KEY (project_id) REFERENCES projects(id) ON DELETE CASCADE
					)`,
					`CREATE INDEX IF NOT EXISTS idx_tokens_project_id ON tokens(project_id)`,
					`CREATE TABLE IF NOT EXISTS timers (
						project_id TEXT NOT NULL,
						name TEXT NOT NULL,
						duration_ns INTEGER NOT NULL,
						PRIMARY KEY (project_id, name),
						FOREIGN KEY (project_id) REFERENCES projects(id) ON DELETE CASCADE
					)`,
					`CREATE TABLE IF NOT EXISTS traffic (
						project_id TEXT NOT NULL,
						direction TEXT NOT NULL,
						bytes INTEGER NOT NULL,
						PRIMARY KEY (project_id, direction),
						FOREIGN KEY (project_id) REFERENCES projects(id) ON DELETE CASCADE
					)`,
				},
				Down: []string{
					`DROP TABLE IF EXISTS traffic`,
					`DROP TABLE IF EXISTS timers`,
					`DROP INDEX IF EXISTS idx_tokens_project_id`,
					`DROP TABLE IF EXISTS tokens`,
					`DROP INDEX IF EXISTS idx_projects_created_at`,
					`DROP INDEX IF EXISTS idx_projects_status`,
					`DROP TABLE IF EXISTS projects`,
				},
			},
		},
	}

	if _, err := migrate.Exec(db.DB.DB, "sqlite3", migrations, migrate.Up); err != nil {
		return fmt.Errorf("database migration error: %w", err)
	}

	return nil
}
