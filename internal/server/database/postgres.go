package database

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const pgUniqueViolation = "23505"

// PostgresStore is the Store backed by a pgxpool connection pool.
type PostgresStore struct {
	Pool *pgxpool.Pool
}

// OpenPostgres applies migrations and creates a connection pool.
func OpenPostgres(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}

	if err := migratePostgres(databaseURL); err != nil {
		return nil, err
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	slog.Info("connected to database", "driver", "postgres")
	return &PostgresStore{Pool: pool}, nil
}

func uniqueViolation(err error) (*pgconn.PgError, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		return pgErr, true
	}
	return nil, false
}

func (s *PostgresStore) CreateLink(ctx context.Context, folderPath string, passwordHash *string, expiry *int64, token string) (*Link, error) {
	link := &Link{
		Token:           token,
		FolderPath:      folderPath,
		PasswordHash:    passwordHash,
		ExpiryTimestamp: expiry,
	}
	err := s.Pool.QueryRow(ctx, `
		INSERT INTO links (token, folder_path, password_hash, expiry_timestamp, created_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at
	`, token, folderPath, passwordHash, expiry, time.Now().UTC()).Scan(&link.ID, &link.CreatedAt)
	if err != nil {
		if pgErr, ok := uniqueViolation(err); ok {
			if pgErr.ConstraintName == "links_token_key" {
				return nil, ErrTokenCollision
			}
			return nil, ErrLinkExists
		}
		return nil, fmt.Errorf("failed to create link: %w", err)
	}
	return link, nil
}

func (s *PostgresStore) GetLinkByToken(ctx context.Context, token string) (*Link, error) {
	return s.getLink(ctx, "token = $1", token)
}

func (s *PostgresStore) GetLinkByID(ctx context.Context, id int64) (*Link, error) {
	return s.getLink(ctx, "id = $1", id)
}

func (s *PostgresStore) GetLinkByPath(ctx context.Context, folderPath string) (*Link, error) {
	return s.getLink(ctx, "folder_path = $1", folderPath)
}

func (s *PostgresStore) getLink(ctx context.Context, where string, arg any) (*Link, error) {
	link := &Link{}
	err := s.Pool.QueryRow(ctx,
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
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrLinkNotFound
		}
		return nil, fmt.Errorf("failed to get link: %w", err)
	}
	return link, nil
}

func (s *PostgresStore) ListLinks(ctx context.Context) ([]*Link, error) {
	rows, err := s.Pool.Query(ctx,
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

func (s *PostgresStore) DeleteLink(ctx context.Context, id int64) error {
	tag, err := s.Pool.Exec(ctx, "DELETE FROM links WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("failed to delete link: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrLinkNotFound
	}
	return nil
}

func (s *PostgresStore) RecordUpload(ctx context.Context, linkID int64, filename string, size int64, at time.Time) error {
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO uploaded_files (link_id, filename, size, uploaded_at)
		VALUES ($1, $2, $3, $4)
	`, linkID, filename, size, at.UTC())
	if err != nil {
		return fmt.Errorf("failed to record upload: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListUploads(ctx context.Context, linkID int64) ([]*UploadedFile, error) {
	rows, err := s.Pool.Query(ctx, `
		SELECT id, link_id, filename, size, uploaded_at
		FROM uploaded_files WHERE link_id = $1
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

func (s *PostgresStore) CountUploads(ctx context.Context, linkID int64) (int64, error) {
	var n int64
	err := s.Pool.QueryRow(ctx,
		"SELECT COUNT(*) FROM uploaded_files WHERE link_id = $1", linkID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count uploads: %w", err)
	}
	return n, nil
}

func (s *PostgresStore) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	return s.getUser(ctx, "username = $1", username)
}

func (s *PostgresStore) GetUserByID(ctx context.Context, id int64) (*User, error) {
	return s.getUser(ctx, "id = $1", id)
}

func (s *PostgresStore) getUser(ctx context.Context, where string, arg any) (*User, error) {
	u := &User{}
	err := s.Pool.QueryRow(ctx,
		"SELECT id, username, password_hash, created_at FROM users WHERE "+where, arg,
	).Scan(&u.ID, &u.Username, &u.PasswordHash, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return u, nil
}

func (s *PostgresStore) ListUsers(ctx context.Context) ([]*User, error) {
	rows, err := s.Pool.Query(ctx,
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

func (s *PostgresStore) CountUsers(ctx context.Context) (int64, error) {
	var n int64
	if err := s.Pool.QueryRow(ctx, "SELECT COUNT(*) FROM users").Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count users: %w", err)
	}
	return n, nil
}

func (s *PostgresStore) CreateUser(ctx context.Context, username, passwordHash string) (*User, error) {
	u := &User{Username: username, PasswordHash: passwordHash}
	err := s.Pool.QueryRow(ctx, `
		INSERT INTO users (username, password_hash) VALUES ($1, $2)
		RETURNING id, created_at
	`, username, passwordHash).Scan(&u.ID, &u.CreatedAt)
	if err != nil {
		if _, ok := uniqueViolation(err); ok {
			return nil, ErrUserExists
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	return u, nil
}

func (s *PostgresStore) DeleteUser(ctx context.Context, id int64) error {
	tag, err := s.Pool.Exec(ctx, "DELETE FROM users WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("failed to delete user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

func (s *PostgresStore) UpdateUserPassword(ctx context.Context, id int64, passwordHash string) error {
	tag, err := s.Pool.Exec(ctx,
		"UPDATE users SET password_hash = $1 WHERE id = $2", passwordHash, id)
	if err != nil {
		return fmt.Errorf("failed to update password: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

func (s *PostgresStore) GetStats(ctx context.Context, now time.Time) (*Stats, error) {
	stats := &Stats{}
	ts := now.Unix()

	err := s.Pool.QueryRow(ctx, `
		SELECT
			(SELECT COUNT(*) FROM links),
			(SELECT COUNT(*) FROM links WHERE expiry_timestamp IS NULL OR expiry_timestamp >= $1),
			(SELECT COUNT(*) FROM links WHERE expiry_timestamp < $1),
			(SELECT COUNT(*) FROM uploaded_files),
			(SELECT COALESCE(SUM(size), 0)::BIGINT FROM uploaded_files)
	`, ts).Scan(
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
func (s *PostgresStore) HealthCheck(ctx context.Context) error {
	return s.Pool.Ping(ctx)
}

// Close shuts down the connection pool.
func (s *PostgresStore) Close() {
	s.Pool.Close()
}
