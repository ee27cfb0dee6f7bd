package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"personarelay/internal/models"
)

// SQLHistory stores transcripts as rows ordered by their auto-increment id.
type SQLHistory struct {
	db     *sql.DB
	driver string
}

func NewSQLHistory(db *sql.DB, driver string) *SQLHistory {
	return &SQLHistory{db: db, driver: strings.ToLower(driver)}
}

func (s *SQLHistory) Setup(ctx context.Context, owner, character string) error {
	stmt := `INSERT OR IGNORE INTO history_threads (owner, character_name, created_at) VALUES (?, ?, ?)`
	if s.driver == "mysql" {
		stmt = `INSERT IGNORE INTO history_threads (owner, character_name, created_at) VALUES (?, ?, ?)`
	}
	if _, err := s.db.ExecContext(ctx, stmt, owner, character, time.Now().UTC()); err != nil {
		return wrapErr("setup history", err)
	}
	return nil
}

func (s *SQLHistory) Append(ctx context.Context, owner, character string, entry models.HistoryEntry) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO history_entries (owner, character_name, timestamp, sender, message, request_id) VALUES (?, ?, ?, ?, ?, ?)`,
		owner, character, entry.Timestamp, string(entry.Sender), entry.Message, entry.RequestID,
	)
	if err != nil {
		return wrapErr("append history", err)
	}
	return nil
}

func (s *SQLHistory) ReadAll(ctx context.Context, owner, character string) ([]models.HistoryEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT timestamp, sender, message, request_id FROM history_entries WHERE owner = ? AND character_name = ? ORDER BY id ASC`,
		owner, character,
	)
	if err != nil {
		return nil, wrapErr("read history", err)
	}
	defer rows.Close()

	entries := []models.HistoryEntry{}
	for rows.Next() {
		var (
			e      models.HistoryEntry
			sender string
		)
		if err := rows.Scan(&e.Timestamp, &sender, &e.Message, &e.RequestID); err != nil {
			return nil, wrapErr("read history", fmt.Errorf("scan entry: %w", err))
		}
		e.Sender = models.Sender(sender)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr("read history", err)
	}
	return entries, nil
}
