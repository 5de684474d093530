// Package store handles SQLite persistence.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/verte-zerg/panier/internal/model"

	_ "modernc.org/sqlite" // SQLite driver.
)

// ErrNoCredentials is returned when no credentials are stored.
var ErrNoCredentials = errors.New("no stored credentials")

// Store wraps SQLite access for credentials and export history.
type Store struct {
	db *sql.DB
}

// Open opens or creates the SQLite database and applies migrations.
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		if cerr := db.Close(); cerr != nil {
			// Best-effort close on migration failure.
			_ = cerr
		}
		return nil, err
	}
	return store, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS credentials (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			username TEXT NOT NULL,
			access_token TEXT NOT NULL,
			refresh_token TEXT NOT NULL,
			saved_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS exports (
			id INTEGER PRIMARY KEY,
			view TEXT NOT NULL,
			format TEXT NOT NULL,
			path TEXT NOT NULL,
			rows INTEGER NOT NULL,
			exported_at TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_exports_exported_at ON exports(exported_at);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// SaveCredentials replaces any stored credentials with creds.
func (s *Store) SaveCredentials(ctx context.Context, creds model.Credentials) (err error) {
	if creds.SavedAt.IsZero() {
		creds.SavedAt = time.Now()
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			if rerr := tx.Rollback(); rerr != nil {
				// Best-effort rollback.
				_ = rerr
			}
		}
	}()

	if _, err = tx.ExecContext(ctx, `DELETE FROM credentials`); err != nil {
		return err
	}
	if _, err = tx.ExecContext(ctx,
		`INSERT INTO credentials (id, username, access_token, refresh_token, saved_at)
		 VALUES (1, ?, ?, ?, ?)`,
		creds.Username,
		creds.AccessToken,
		creds.RefreshToken,
		creds.SavedAt.Format(time.RFC3339Nano),
	); err != nil {
		return err
	}
	return tx.Commit()
}

// LoadCredentials returns the stored credentials or ErrNoCredentials.
func (s *Store) LoadCredentials(ctx context.Context) (model.Credentials, error) {
	var creds model.Credentials
	var savedAt string
	err := s.db.QueryRowContext(ctx,
		`SELECT username, access_token, refresh_token, saved_at FROM credentials WHERE id = 1`,
	).Scan(&creds.Username, &creds.AccessToken, &creds.RefreshToken, &savedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Credentials{}, ErrNoCredentials
	}
	if err != nil {
		return model.Credentials{}, err
	}
	parsed, err := time.Parse(time.RFC3339Nano, savedAt)
	if err != nil {
		return model.Credentials{}, err
	}
	creds.SavedAt = parsed
	return creds, nil
}

// ClearCredentials removes stored credentials. Clearing an empty store is not an error.
func (s *Store) ClearCredentials(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM credentials`)
	return err
}

// InsertExport records a completed export and returns its id.
func (s *Store) InsertExport(ctx context.Context, rec model.ExportRecord) (int64, error) {
	if rec.ExportedAt.IsZero() {
		rec.ExportedAt = time.Now()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO exports (view, format, path, rows, exported_at) VALUES (?, ?, ?, ?, ?)`,
		rec.View,
		rec.Format,
		rec.Path,
		rec.Rows,
		rec.ExportedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// ExportQuery narrows ListExports.
type ExportQuery struct {
	View  string
	Since *time.Time
	Limit int
}

// ListExports returns recorded exports, newest first.
func (s *Store) ListExports(ctx context.Context, q ExportQuery) ([]model.ExportRecord, error) {
	clauses := []string{"1=1"}
	args := []any{}
	if q.View != "" {
		clauses = append(clauses, "view = ?")
		args = append(args, q.View)
	}
	if q.Since != nil {
		clauses = append(clauses, "exported_at >= ?")
		args = append(args, q.Since.Format(time.RFC3339Nano))
	}
	limit := ""
	if q.Limit > 0 {
		limit = "LIMIT ?"
		args = append(args, q.Limit)
	}
	query := fmt.Sprintf(`SELECT id, view, format, path, rows, exported_at
		FROM exports
		WHERE %s
		ORDER BY exported_at DESC, id DESC
		%s`, strings.Join(clauses, " AND "), limit)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := rows.Close(); cerr != nil {
			// Best-effort rows close.
			_ = cerr
		}
	}()

	var result []model.ExportRecord
	for rows.Next() {
		var rec model.ExportRecord
		var exportedAt string
		if err := rows.Scan(&rec.ID, &rec.View, &rec.Format, &rec.Path, &rec.Rows, &exportedAt); err != nil {
			return nil, err
		}
		parsed, err := time.Parse(time.RFC3339Nano, exportedAt)
		if err != nil {
			return nil, err
		}
		rec.ExportedAt = parsed
		result = append(result, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}
