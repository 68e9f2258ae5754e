package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"filedrop/internal/server/database"

	"golang.org/x/crypto/bcrypt"
)

// UserView is an account without its password hash.
type UserView struct {
	ID        int64     `json:"id"`
	Username  string    `json:"username"`
	CreatedAt time.Time `json:"created_at"`
}

// UserService manages admin accounts.
type UserService struct {
	store database.Store
	cost  int

	// dummyHash keeps login timing similar for unknown usernames.
	dummyHash []byte
}

// NewUserService creates a new user service.
func NewUserService(store database.Store) (*UserService, error) {
	return newUserService(store, bcrypt.DefaultCost)
}

func newUserService(store database.Store, cost int) (*UserService, error) {
	dummy, err := bcrypt.GenerateFromPassword([]byte("filedrop-dummy-password"), cost)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare login hash: %w", err)
	}
	return &UserService{store: store, cost: cost, dummyHash: dummy}, nil
}

// Login checks credentials and returns the matching user.
func (s *UserService) Login(ctx context.Context, username, password string) (*database.User, error) {
	user, err := s.store.GetUserByUsername(ctx, strings.TrimSpace(username))
	if err != nil {
		if errors.Is(err, database.ErrUserNotFound) {
			_ = bcrypt.CompareHashAndPassword(s.dummyHash, []byte(password))
			return nil, ErrInvalidCredentials
		}
		return nil, storeError(err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	return user, nil
}

// Bootstrap creates the configured users when no account exists yet.
func (s *UserService) Bootstrap(ctx context.Context, users map[string]string) error {
	if len(users) == 0 {
		return nil
	}

	n, err := s.store.CountUsers(ctx)
	if err != nil {
		return storeError(err)
	}
	if n > 0 {
		slog.Info("users already present, skipping bootstrap", "count", n)
		return nil
	}

	names := make([]string, 0, len(users))
	for name := range users {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if _, err := s.create(ctx, name, users[name]); err != nil {
			return fmt.Errorf("bootstrap user %q: %w", name, err)
		}
		slog.Info("bootstrapped user", "user", name)
	}
	return nil
}

// ListUsers returns every account.
func (s *UserService) ListUsers(ctx context.Context) ([]UserView, error) {
	users, err := s.store.ListUsers(ctx)
	if err != nil {
		return nil, storeError(err)
	}
	views := make([]UserView, 0, len(users))
	for _, u := range users {
		views = append(views, userView(u))
	}
	return views, nil
}

// GetUser returns one account by ID.
func (s *UserService) GetUser(ctx context.Context, id int64) (*UserView, error) {
	u, err := s.store.GetUserByID(ctx, id)
	if err != nil {
		if errors.Is(err, database.ErrUserNotFound) {
			return nil, ErrNotFound
		}
		return nil, storeError(err)
	}
	v := userView(u)
	return &v, nil
}

// CreateUser adds an account.
func (s *UserService) CreateUser(ctx context.Context, rc RequestContext, username, password string) (*UserView, error) {
	u, err := s.create(ctx, username, password)
	if err != nil {
		return nil, err
	}
	slog.Info("user created", append(rc.logAttrs(), "new_user", u.Username)...)
	v := userView(u)
	return &v, nil
}

func (s *UserService) create(ctx context.Context, username, password string) (*database.User, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return nil, fmt.Errorf("%w: username and password are required", ErrInvalidInput)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	u, err := s.store.CreateUser(ctx, username, string(hash))
	if err != nil {
		if errors.Is(err, database.ErrUserExists) {
			return nil, fmt.Errorf("%w: username %q is taken", ErrConflict, username)
		}
		return nil, storeError(err)
	}
	return u, nil
}

// DeleteUser removes an account. Callers cannot remove themselves.
func (s *UserService) DeleteUser(ctx context.Context, rc RequestContext, id int64) error {
	if rc.UserID != 0 && rc.UserID == id {
		return ErrSelfDelete
	}
	if err := s.store.DeleteUser(ctx, id); err != nil {
		if errors.Is(err, database.ErrUserNotFound) {
			return ErrNotFound
		}
		return storeError(err)
	}
	slog.Info("user deleted", append(rc.logAttrs(), "user_id", id)...)
	return nil
}

// UpdatePassword replaces the password of an account.
func (s *UserService) UpdatePassword(ctx context.Context, rc RequestContext, id int64, password string) error {
	if password == "" {
		return fmt.Errorf("%w: password is required", ErrInvalidInput)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}
	if err := s.store.UpdateUserPassword(ctx, id, string(hash)); err != nil {
		if errors.Is(err, database.ErrUserNotFound) {
			return ErrNotFound
		}
		return storeError(err)
	}
	slog.Info("user password updated", append(rc.logAttrs(), "user_id", id)...)
	return nil
}

// LookupUser resolves a username to its ID.
func (s *UserService) LookupUser(ctx context.Context, username string) (*UserView, error) {
	u, err := s.store.GetUserByUsername(ctx, strings.TrimSpace(username))
	if err != nil {
		if errors.Is(err, database.ErrUserNotFound) {
			return nil, ErrNotFound
		}
		return nil, storeError(err)
	}
	v := userView(u)
	return &v, nil
}

func userView(u *database.User) UserView {
	return UserView{ID: u.ID, Username: u.Username, CreatedAt: u.CreatedAt}
}
