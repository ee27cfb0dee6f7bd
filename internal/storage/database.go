package storage

import (
	"database/sql"
	"fmt"
	"strings"

	"personarelay/internal/config"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/mattn/go-sqlite3"
)

// Open connects to the configured history database.
func Open(dbType string, cfg *config.Config) (*sql.DB, error) {
	dbCfg, ok := cfg.Databases[dbType]
	if !ok {
		return nil, fmt.Errorf("database config for %s not found", dbType)
	}

	var (
		db  *sql.DB
		err error
	)

	switch strings.ToLower(dbType) {
	case "sqlite", "sqlite3":
		if dbCfg.DSN == "" {
			return nil, fmt.Errorf("sqlite dsn must be provided")
		}
		db, err = sql.Open("sqlite3", dbCfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("open sqlite database: %w", err)
		}
		// a single connection keeps ":memory:" databases shared and
		// serializes writers the way sqlite expects
		db.SetMaxOpenConns(1)
	case "mysql":
		dsn := dbCfg.DSN
		if dsn == "" {
			dsn = fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?%s",
				dbCfg.Username,
				dbCfg.Password,
				dbCfg.Host,
				dbCfg.Port,
				dbCfg.DBName,
				dbCfg.Params,
			)
		}
		db, err = sql.Open("mysql", dsn)
		if err != nil {
			return nil, fmt.Errorf("open mysql database: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported driver: %s", dbType)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return db, nil
}

// Migrate ensures the history tables are present.
func Migrate(db *sql.DB, driver string) error {
	var stmts []string
	switch strings.ToLower(driver) {
	case "sqlite", "sqlite3":
		stmts = []string{
			`CREATE TABLE IF NOT EXISTS history_threads (
				owner TEXT NOT NULL,
				character_name TEXT NOT NULL,
				created_at DATETIME NOT NULL,
				PRIMARY KEY (owner, character_name)
			)`,
			`CREATE TABLE IF NOT EXISTS history_entries (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				owner TEXT NOT NULL,
				character_name TEXT NOT NULL,
				timestamp TEXT NOT NULL,
				sender TEXT NOT NULL,
				message TEXT NOT NULL,
				request_id TEXT NOT NULL DEFAULT ''
			)`,
			`CREATE INDEX IF NOT EXISTS idx_history_entries_thread ON history_entries(owner, character_name, id)`,
		}
	case "mysql":
		stmts = []string{
			`CREATE TABLE IF NOT EXISTS history_threads (
				owner VARCHAR(191) NOT NULL,
				character_name VARCHAR(191) NOT NULL,
				created_at DATETIME NOT NULL,
				PRIMARY KEY (owner, character_name)
			) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
			`CREATE TABLE IF NOT EXISTS history_entries (
				id BIGINT UNSIGNED NOT NULL AUTO_INCREMENT,
				owner VARCHAR(191) NOT NULL,
				character_name VARCHAR(191) NOT NULL,
				timestamp VARCHAR(32) NOT NULL,
				sender VARCHAR(16) NOT NULL,
				message MEDIUMTEXT NOT NULL,
				request_id VARCHAR(32) NOT NULL DEFAULT '',
				PRIMARY KEY (id),
				INDEX idx_history_entries_thread (owner, character_name, id)
			) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
		}
	default:
		return fmt.Errorf("unsupported driver for migration: %s", driver)
	}

	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate (%s): %w", driver, err)
		}
	}
	return nil
}
