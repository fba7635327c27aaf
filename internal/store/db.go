package store

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3" // sqlite3 driver
	"github.com/rs/zerolog"

	"localchat/internal/common/fsutil"
)

// Open connects to the SQLite database at path, creating the file, its
// directory and the schema as needed.
func Open(path string, log zerolog.Logger) (*sql.DB, error) {
	p, err := fsutil.ExpandHome(path)
	if err != nil {
		return nil, err
	}
	if err := fsutil.EnsureParentDir(p); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}
	db, err := sql.Open("sqlite3", p+"?_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		log.Warn().Err(err).Msg("store event=wal_unavailable")
	}
	if err := createTables(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create tables: %w", err)
	}
	log.Debug().Str("path", p).Msg("store event=opened")
	return db, nil
}

func createTables(db *sql.DB) error {
	schema := `
		CREATE TABLE IF NOT EXISTS models (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL,
			path TEXT NOT NULL UNIQUE,
			quant TEXT NOT NULL DEFAULT '',
			family TEXT NOT NULL DEFAULT '',
			context_size INTEGER NOT NULL DEFAULT 0
		);

		CREATE TABLE IF NOT EXISTS chats (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL,
			llm_model_id INTEGER NOT NULL DEFAULT -1,
			system_prompt TEXT NOT NULL DEFAULT '',
			min_p REAL NOT NULL DEFAULT 0,
			temperature REAL NOT NULL DEFAULT 0,
			context_size INTEGER NOT NULL DEFAULT 0,
			context_size_consumed INTEGER NOT NULL DEFAULT 0,
			is_task BOOLEAN NOT NULL DEFAULT FALSE,
			date_used DATETIME NOT NULL,
			date_created DATETIME NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_chats_date_used ON chats(date_used DESC);

		CREATE TABLE IF NOT EXISTS messages (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			chat_id INTEGER NOT NULL,
			text TEXT NOT NULL,
			is_user_message BOOLEAN NOT NULL,
			created_at DATETIME NOT NULL,
			FOREIGN KEY (chat_id) REFERENCES chats(id) ON DELETE CASCADE
		);
		CREATE INDEX IF NOT EXISTS idx_messages_chat_id ON messages(chat_id, id);
	`
	_, err := db.Exec(schema)
	return err
}
