package database

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrLinkNotFound   = errors.New("link not found")
	ErrLinkExists     = errors.New("link already exists for folder")
	ErrTokenCollision = errors.New("link token already in use")
	ErrUserNotFound   = errors.New("user not found")
	ErrUserExists     = errors.New("username already taken")
)

// Store is the persistence boundary for links, uploaded files and users.
// Every method is a single atomic operation against the backing database.
//
//go:generate mockgen -destination=mocks/mock_store.go -package=mocks filedrop/internal/server/database Store
type Store interface {
	CreateLink(ctx context.Context, folderPath string, passwordHash *string, expiry *int64, token string) (*Link, error)
	GetLinkByToken(ctx context.Context, token string) (*Link, error)
	GetLinkByID(ctx context.Context, id int64) (*Link, error)
	GetLinkByPath(ctx context.Context, folderPath string) (*Link, error)
	ListLinks(ctx context.Context) ([]*Link, error)
	DeleteLink(ctx context.Context, id int64) error

	RecordUpload(ctx context.Context, linkID int64, filename string, size int64, at time.Time) error
	ListUploads(ctx context.Context, linkID int64) ([]*UploadedFile, error)
	CountUploads(ctx context.Context, linkID int64) (int64, error)

	GetUserByUsername(ctx context.Context, username string) (*User, error)
	GetUserByID(ctx context.Context, id int64) (*User, error)
	ListUsers(ctx context.Context) ([]*User, error)
	CountUsers(ctx context.Context) (int64, error)
	CreateUser(ctx context.Context, username, passwordHash string) (*User, error)
	DeleteUser(ctx context.Context, id int64) error
	UpdateUserPassword(ctx context.Context, id int64, passwordHash string) error

	GetStats(ctx context.Context, now time.Time) (*Stats, error)
	HealthCheck(ctx context.Context) error
	Close()
}

// Open connects to the database named by databaseURL and applies pending
// migrations. Supported schemes are sqlite:// (a file path) and
// postgres:// or postgresql://.
func Open(ctx context.Context, databaseURL string) (Store, error) {
	switch {
	case strings.HasPrefix(databaseURL, "sqlite://"):
		return OpenSQLite(ctx, strings.TrimPrefix(databaseURL, "sqlite://"))
	case strings.HasPrefix(databaseURL, "postgres://"), strings.HasPrefix(databaseURL, "postgresql://"):
		return OpenPostgres(ctx, databaseURL)
	default:
		return nil, fmt.Errorf("unsupported database URL %q: expected sqlite:// or postgres://", databaseURL)
	}
}

var (
	_ Store = (*SQLiteStore)(nil)
	_ Store = (*PostgresStore)(nil)
)
