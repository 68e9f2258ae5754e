package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"
)

const linkColumns = "id, token, folder_path, password_hash, expiry_timestamp, created_at"

// SQLiteStore is the embedded single-writer Store. It holds one open
// connection, so writes are serialized by database/sql itself.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the database file at path and
// applies migrations.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, errors.New("sqlite database path is empty")
	}

	if err := migrateSQLite(path); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite3", sqliteDSN(path))
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping sqlite database: %w", err)
	}

	slog.Info("connected to database", "driver", "sqlite", "path", path)
	return &SQLiteStore{db: db}, nil
}

func sqliteDSN(path string) string {
	return fmt.Sprintf("file:%s?_foreign_keys=1&_busy_timeout=5000&_journal_mode=WAL", path)
}

func (s *SQLiteStore) CreateLink(ctx context.Context, folderPath string, passwordHash *string, expiry *int64, token string) (*Link, error) {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO links (token, folder_path, password_hash, expiry_timestamp, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, token, folderPath, passwordHash, expiry, now)
	if err != nil {
		var sqErr sqlite3.Error
		if errors.As(err, &sqErr) && sqErr.ExtendedCode == sqlite3.ErrConstraintUnique {
			if strings.Contains(sqErr.Error(), "links.token") {
				return nil, ErrTokenCollision
			}
			return nil, ErrLinkExists
		}
		return nil, fmt.Errorf("failed to create link: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to read link id: %w", err)
	}

	return &Link{
		ID:              id,
		Token:           token,
		FolderPath:      folderPath,
		PasswordHash:    passwordHash,
		ExpiryTimestamp: expiry,
		CreatedAt:       now,
	}, nil
}

func (s *SQLiteStore) GetLinkByToken(ctx context.Context, token string) (*Link, error) {
	return s.getLink(ctx, "token = ?", token)
}

func (s *SQLiteStore) GetLinkByID(ctx context.Context, id int64) (*Link, error) {
	return s.getLink(ctx, "id = ?", id)
}

func (s *SQLiteStore) GetLinkByPath(ctx context.Context, folderPath string) (*Link, error) {
	return s.getLink(ctx, "folder_path = ?", folderPath)
}

func (s *SQLiteStore) getLink(ctx context.Context, where string, arg any) (*Link, error) {
	link := &Link{}
	err := s.db.QueryRowContext(ctx,
		"SELECT "+linkColumns+" FROM links WHERE "+where, arg,
	).Scan(
		&link.ID,
		&link.Token,
		&link.FolderPath,
		&link.PasswordHash,
		&link.ExpiryTimestamp,
		&link.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrLinkNotFound
		}
		return nil, fmt.Errorf("failed to get link: %w", err)
	}
	return link, nil
}

func (s *SQLiteStore) ListLinks(ctx context.Context) ([]*Link, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+linkColumns+" FROM links ORDER BY created_at DESC, id DESC")
	if err != nil {
		return nil, fmt.Errorf("failed to list links: %w", err)
	}
	defer rows.Close()

	links := make([]*Link, 0)
	for rows.Next() {
		link := &Link{}
		if err := rows.Scan(
			&link.ID,
			&link.Token,
			&link.FolderPath,
			&link.PasswordHash,
			&link.ExpiryTimestamp,
			&link.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan link: %w", err)
		}
		links = append(links, link)
	}
	return links, rows.Err()
}

// DeleteLink removes the link; uploaded_files rows go with it through the
// foreign key cascade.
func (s *SQLiteStore) DeleteLink(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM links WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete link: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to delete link: %w", err)
	}
	if n == 0 {
		return ErrLinkNotFound
	}
	return nil
}

func (s *SQLiteStore) RecordUpload(ctx context.Context, linkID int64, filename string, size int64, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO uploaded_files (link_id, filename, size, uploaded_at)
		VALUES (?, ?, ?, ?)
	`, linkID, filename, size, at.UTC())
	if err != nil {
		return fmt.Errorf("failed to record upload: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListUploads(ctx context.Context, linkID int64) ([]*UploadedFile, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, link_id, filename, size, uploaded_at
		FROM uploaded_files WHERE link_id = ?
		ORDER BY uploaded_at DESC, id DESC
	`, linkID)
	if err != nil {
		return nil, fmt.Errorf("failed to list uploads: %w", err)
	}
	defer rows.Close()

	files := make([]*UploadedFile, 0)
	for rows.Next() {
		f := &UploadedFile{}
		if err := rows.Scan(&f.ID, &f.LinkID, &f.Filename, &f.Size, &f.UploadedAt); err != nil {
			return nil, fmt.Errorf("failed to scan upload: %w", err)
		}
		files = append(files, f)
	}
	return files, rows.Err()
}

func (s *SQLiteStore) CountUploads(ctx context.Context, linkID int64) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM uploaded_files WHERE link_id = ?", linkID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count uploads: %w", err)
	}
	return n, nil
}

func (s *SQLiteStore) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	return s.getUser(ctx, "username = ?", username)
}

func (s *SQLiteStore) GetUserByID(ctx context.Context, id int64) (*User, error) {
	return s.getUser(ctx, "id = ?", id)
}

func (s *SQLiteStore) getUser(ctx context.Context, where string, arg any) (*User, error) {
	u := &User{}
	err := s.db.QueryRowContext(ctx,
		"SELECT id, username, password_hash, created_at FROM users WHERE "+where, arg,
	).Scan(&u.ID, &u.Username, &u.PasswordHash, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return u, nil
}

func (s *SQLiteStore) ListUsers(ctx context.Context) ([]*User, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, username, password_hash, created_at FROM users ORDER BY username")
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	users := make([]*User, 0)
	for rows.Next() {
		u := &User{}
		if err := rows.Scan(&u.ID, &u.Username, &u.PasswordHash, &u.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func (s *SQLiteStore) CountUsers(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM users").Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count users: %w", err)
	}
	return n, nil
}

func (s *SQLiteStore) CreateUser(ctx context.Context, username, passwordHash string) (*User, error) {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		"INSERT INTO users (username, password_hash, created_at) VALUES (?, ?, ?)",
		username, passwordHash, now)
	if err != nil {
		var sqErr sqlite3.Error
		if errors.As(err, &sqErr) && sqErr.ExtendedCode == sqlite3.ErrConstraintUnique {
			return nil, ErrUserExists
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to read user id: %w", err)
	}
	return &User{ID: id, Username: username, PasswordHash: passwordHash, CreatedAt: now}, nil
}

func (s *SQLiteStore) DeleteUser(ctx context.Context, id int64) error {
	return s.execUser(ctx, "delete user", "DELETE FROM users WHERE id = ?", id)
}

func (s *SQLiteStore) UpdateUserPassword(ctx context.Context, id int64, passwordHash string) error {
	return s.execUser(ctx, "update password",
		"UPDATE users SET password_hash = ? WHERE id = ?", passwordHash, id)
}

func (s *SQLiteStore) execUser(ctx context.Context, op, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to %s: %w", op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to %s: %w", op, err)
	}
	if n == 0 {
		return ErrUserNotFound
	}
	return nil
}

func (s *SQLiteStore) GetStats(ctx context.Context, now time.Time) (*Stats, error) {
	stats := &Stats{}
	ts := now.Unix()

	err := s.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM links),
			(SELECT COUNT(*) FROM links WHERE expiry_timestamp IS NULL OR expiry_timestamp >= ?),
			(SELECT COUNT(*) FROM links WHERE expiry_timestamp < ?),
			(SELECT COUNT(*) FROM uploaded_files),
			(SELECT COALESCE(SUM(size), 0) FROM uploaded_files)
	`, ts, ts).Scan(
		&stats.TotalLinks,
		&stats.ActiveLinks,
		&stats.ExpiredLinks,
		&stats.TotalUploads,
		&stats.BytesUploaded,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get stats: %w", err)
	}
	return stats, nil
}

// HealthCheck verifies the database connection is alive.
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) Close() {
	s.db.Close()
}
