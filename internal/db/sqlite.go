package db

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/caiolacerdamt/cognistream/internal/auth"
	"github.com/caiolacerdamt/cognistream/internal/db/models"
)

type Database struct {
	db *sql.DB
}

func NewSQLite(path string) (*Database, error) {
	sqlDB, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, err
	}
	d := &Database{db: sqlDB}
	if err := d.migrate(); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *Database) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		username TEXT UNIQUE NOT NULL,
		password TEXT NOT NULL,
		role TEXT NOT NULL DEFAULT 'member',
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS api_keys (
		user_id INTEGER NOT NULL,
		provider TEXT NOT NULL,
		key_value TEXT NOT NULL,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (user_id, provider),
		FOREIGN KEY (user_id) REFERENCES users(id)
	);

	CREATE TABLE IF NOT EXISTS results (
		id TEXT PRIMARY KEY,
		user_id INTEGER NOT NULL,
		source_url TEXT NOT NULL DEFAULT '',
		source_name TEXT NOT NULL DEFAULT '',
		provider TEXT NOT NULL,
		model TEXT NOT NULL DEFAULT '',
		transcription TEXT NOT NULL,
		summary TEXT NOT NULL,
		key_topics TEXT NOT NULL DEFAULT '[]',
		audio_seconds REAL NOT NULL DEFAULT 0,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY (user_id) REFERENCES users(id)
	);
	CREATE INDEX IF NOT EXISTS idx_results_user ON results(user_id, created_at DESC);

	CREATE TABLE IF NOT EXISTS usage_logs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id INTEGER NOT NULL,
		result_id TEXT NOT NULL,
		provider TEXT NOT NULL,
		model TEXT NOT NULL DEFAULT '',
		input_tokens INTEGER NOT NULL DEFAULT 0,
		output_tokens INTEGER NOT NULL DEFAULT 0,
		audio_seconds REAL NOT NULL DEFAULT 0,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY (result_id) REFERENCES results(id)
	);
	`
	_, err := d.db.Exec(schema)
	return err
}

func (d *Database) CreateUser(username, password, role string) (*models.User, error) {
	hash, err := auth.HashPassword(password)
	if err != nil {
		return nil, err
	}
	res, err := d.db.Exec(
		"INSERT INTO users (username, password, role) VALUES (?, ?, ?)",
		username, hash, role,
	)
	if err != nil {
		return nil, err
	}
	id, _ := res.LastInsertId()
	return d.GetUserByID(id)
}

func (d *Database) GetUserByUsername(username string) (*models.User, error) {
	u := &models.User{}
	err := d.db.QueryRow(
		"SELECT id, username, password, role, created_at, updated_at FROM users WHERE username = ?",
		username,
	).Scan(&u.ID, &u.Username, &u.Password, &u.Role, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return u, nil
}

func (d *Database) GetUserByID(id int64) (*models.User, error) {
	u := &models.User{}
	err := d.db.QueryRow(
		"SELECT id, username, password, role, created_at, updated_at FROM users WHERE id = ?",
		id,
	).Scan(&u.ID, &u.Username, &u.Password, &u.Role, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return u, nil
}

// GetAPIKey returns the stored provider key for a user, or "" if none is saved.
func (d *Database) GetAPIKey(userID int64, provider string) (string, error) {
	var key string
	err := d.db.QueryRow(
		"SELECT key_value FROM api_keys WHERE user_id = ? AND provider = ?",
		userID, provider,
	).Scan(&key)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return key, err
}

// SaveAPIKey upserts a provider key for a user.
func (d *Database) SaveAPIKey(userID int64, provider, key string) error {
	_, err := d.db.Exec(`
		INSERT INTO api_keys (user_id, provider, key_value, updated_at)
		VALUES (?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(user_id, provider) DO UPDATE SET key_value = ?, updated_at = CURRENT_TIMESTAMP`,
		userID, provider, key, key,
	)
	return err
}

// SaveResult persists a completed job and its usage log in one transaction so a
// partially written result is never visible to readers.
func (d *Database) SaveResult(r *models.Result, usage models.Usage) error {
	topics, err := json.Marshal(r.KeyTopics)
	if err != nil {
		return fmt.Errorf("marshal key topics: %w", err)
	}

	tx, err := d.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	_, err = tx.Exec(`
		INSERT INTO results (id, user_id, source_url, source_name, provider, model, transcription, summary, key_topics, audio_seconds, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.UserID, r.SourceURL, r.SourceName, r.Provider, r.Model,
		r.Transcription, r.Summary, string(topics), r.AudioSeconds, r.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert result: %w", err)
	}

	_, err = tx.Exec(`
		INSERT INTO usage_logs (user_id, result_id, provider, model, input_tokens, output_tokens, audio_seconds)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.UserID, r.ID, r.Provider, r.Model, usage.InputTokens, usage.OutputTokens, r.AudioSeconds,
	)
	if err != nil {
		return fmt.Errorf("insert usage log: %w", err)
	}

	return tx.Commit()
}

// GetResult returns a full result scoped to its owner.
func (d *Database) GetResult(userID int64, id string) (*models.Result, error) {
	r := &models.Result{}
	var topics string
	err := d.db.QueryRow(`
		SELECT id, user_id, source_url, source_name, provider, model, transcription, summary, key_topics, audio_seconds, created_at
		FROM results WHERE user_id = ? AND id = ?`, userID, id,
	).Scan(&r.ID, &r.UserID, &r.SourceURL, &r.SourceName, &r.Provider, &r.Model,
		&r.Transcription, &r.Summary, &topics, &r.AudioSeconds, &r.CreatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(topics), &r.KeyTopics); err != nil {
		r.KeyTopics = nil
	}
	return r, nil
}

// ListResults returns a user's results newest first. The transcription body is
// omitted from listings; fetch a single result for the full text.
func (d *Database) ListResults(userID int64) ([]*models.Result, error) {
	rows, err := d.db.Query(`
		SELECT id, user_id, source_url, source_name, provider, model, summary, key_topics, audio_seconds, created_at
		FROM results WHERE user_id = ? ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []*models.Result
	for rows.Next() {
		r := &models.Result{}
		var topics string
		if err := rows.Scan(&r.ID, &r.UserID, &r.SourceURL, &r.SourceName, &r.Provider, &r.Model,
			&r.Summary, &topics, &r.AudioSeconds, &r.CreatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(topics), &r.KeyTopics); err != nil {
			r.KeyTopics = nil
		}
		results = append(results, r)
	}
	if results == nil {
		results = []*models.Result{}
	}
	return results, rows.Err()
}

func (d *Database) Close() error {
	return d.db.Close()
}

// DB returns the underlying sql.DB for use by other packages
func (d *Database) DB() *sql.DB {
	return d.db
}
