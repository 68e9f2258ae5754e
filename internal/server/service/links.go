package service

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"filedrop/internal/archive"
	"filedrop/internal/server/database"
	"filedrop/internal/server/pathguard"
	"filedrop/internal/server/storage"

	"golang.org/x/crypto/bcrypt"
)

// ExpiryLayout is the accepted expiry input, interpreted in local time.
const ExpiryLayout = "2006-01-02T15:04"

const maxTokenAttempts = 3

// LinkView is a link plus the state derived from it at read time.
type LinkView struct {
	ID            int64      `json:"id"`
	Token         string     `json:"token"`
	FolderPath    string     `json:"folder_path"`
	UploadURL     string     `json:"upload_url"`
	HasPassword   bool       `json:"has_password"`
	ExpiresAt     *time.Time `json:"expires_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	Expired       bool       `json:"expired"`
	FolderMissing bool       `json:"folder_missing"`
	FileCount     int64      `json:"file_count"`
}

// Stale reports whether cleanup would remove the link.
func (v LinkView) Stale() bool {
	return v.Expired || v.FolderMissing
}

// IsExpired reports whether link has passed its expiry at now. Links
// without an expiry never expire.
func IsExpired(link *database.Link, now time.Time) bool {
	if link.ExpiryTimestamp == nil {
		return false
	}
	return *link.ExpiryTimestamp < now.Unix()
}

// LinkService creates, lists and prunes upload links.
type LinkService struct {
	store    database.Store
	files    storage.Store
	basePath string
	baseURL  string
	now      func() time.Time
	loc      *time.Location
}

// NewLinkService creates a new link service rooted at basePath.
func NewLinkService(store database.Store, files storage.Store, basePath, baseURL string) *LinkService {
	return &LinkService{
		store:    store,
		files:    files,
		basePath: basePath,
		baseURL:  strings.TrimRight(baseURL, "/"),
		now:      time.Now,
		loc:      time.Local,
	}
}

// CreateUploadLink validates rawFolder against the base path, creates the
// folder if needed and stores a new link for it.
func (s *LinkService) CreateUploadLink(ctx context.Context, rc RequestContext, rawFolder, password, expiry string) (*LinkView, error) {
	folder := pathguard.Resolve(rawFolder, s.basePath)
	if !pathguard.IsSafe(folder, s.basePath) {
		slog.Warn("rejected folder outside base path",
			append(rc.logAttrs(), "input", rawFolder, "resolved", folder)...)
		return nil, ErrPathUnsafe
	}

	expiryTimestamp, err := s.parseExpiry(expiry)
	if err != nil {
		return nil, err
	}

	folder, err = s.prepareFolder(folder)
	if err != nil {
		slog.Warn("rejected link folder",
			append(rc.logAttrs(), "folder", folder, "error", err)...)
		return nil, err
	}

	existing, err := s.store.GetLinkByPath(ctx, folder)
	switch {
	case err == nil:
		return nil, &ConflictError{Token: existing.Token}
	case !errors.Is(err, database.ErrLinkNotFound):
		return nil, storeError(err)
	}

	var passwordHash *string
	if password != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
		if err != nil {
			return nil, fmt.Errorf("failed to hash password: %w", err)
		}
		h := string(hash)
		passwordHash = &h
	}

	link, err := s.insertLink(ctx, folder, passwordHash, expiryTimestamp)
	if err != nil {
		return nil, err
	}

	slog.Info("upload link created",
		append(rc.logAttrs(),
			"link_id", link.ID,
			"folder", link.FolderPath,
			"has_password", passwordHash != nil,
			"expiry", expiryTimestamp,
		)...)

	view := s.view(link, s.now())
	return &view, nil
}

// prepareFolder makes sure folder is an existing directory inside the base
// path and returns its canonical form.
func (s *LinkService) prepareFolder(folder string) (string, error) {
	info, err := os.Stat(folder)
	switch {
	case err == nil:
		if !info.IsDir() {
			return folder, fmt.Errorf("%w: not a directory", ErrPathInvalid)
		}
	case errors.Is(err, fs.ErrNotExist):
		if !pathguard.IsSafe(folder, s.basePath) {
			return folder, ErrPathUnsafe
		}
		if err := s.files.EnsureDir(folder); err != nil {
			return folder, fmt.Errorf("%w: %v", ErrPathInvalid, err)
		}
	default:
		return folder, fmt.Errorf("%w: %v", ErrPathInvalid, err)
	}

	// The folder exists now; resolve symlinks once more so a swapped
	// component cannot point the link outside the base path.
	if !pathguard.IsSafe(folder, s.basePath) {
		return folder, ErrPathUnsafe
	}
	canonical, err := pathguard.Canonical(folder)
	if err != nil {
		return folder, fmt.Errorf("%w: %v", ErrPathInvalid, err)
	}
	return canonical, nil
}

func (s *LinkService) parseExpiry(expiry string) (*int64, error) {
	expiry = strings.TrimSpace(expiry)
	if expiry == "" {
		return nil, nil
	}
	t, err := time.ParseInLocation(ExpiryLayout, expiry, s.loc)
	if err != nil {
		return nil, ErrInvalidExpiry
	}
	ts := t.Unix()
	return &ts, nil
}

// insertLink stores the link, retrying with a fresh token on the rare
// token collision. A concurrent insert for the same folder surfaces through
// the unique constraint as a conflict.
func (s *LinkService) insertLink(ctx context.Context, folder string, passwordHash *string, expiry *int64) (*database.Link, error) {
	for attempt := 1; attempt <= maxTokenAttempts; attempt++ {
		token, err := generateSecureToken(tokenLength)
		if err != nil {
			return nil, fmt.Errorf("failed to generate link token: %w", err)
		}

		link, err := s.store.CreateLink(ctx, folder, passwordHash, expiry, token)
		switch {
		case err == nil:
			return link, nil
		case errors.Is(err, database.ErrTokenCollision):
			slog.Warn("link token collision, retrying", "attempt", attempt)
			continue
		case errors.Is(err, database.ErrLinkExists):
			existing, lerr := s.store.GetLinkByPath(ctx, folder)
			if lerr != nil {
				return nil, &ConflictError{}
			}
			return nil, &ConflictError{Token: existing.Token}
		default:
			return nil, storeError(err)
		}
	}
	return nil, fmt.Errorf("%w: token collision after %d attempts", ErrConflict, maxTokenAttempts)
}

// ListLinks returns all links, newest first.
func (s *LinkService) ListLinks(ctx context.Context) ([]LinkView, error) {
	links, err := s.store.ListLinks(ctx)
	if err != nil {
		return nil, storeError(err)
	}

	now := s.now()
	views := make([]LinkView, 0, len(links))
	for _, link := range links {
		v := s.view(link, now)
		n, err := s.store.CountUploads(ctx, link.ID)
		if err != nil {
			return nil, storeError(err)
		}
		v.FileCount = n
		views = append(views, v)
	}
	return views, nil
}

// GetLink returns a single link by ID.
func (s *LinkService) GetLink(ctx context.Context, id int64) (*LinkView, error) {
	link, err := s.store.GetLinkByID(ctx, id)
	if err != nil {
		if errors.Is(err, database.ErrLinkNotFound) {
			return nil, ErrNotFound
		}
		return nil, storeError(err)
	}

	v := s.view(link, s.now())
	n, err := s.store.CountUploads(ctx, link.ID)
	if err != nil {
		return nil, storeError(err)
	}
	v.FileCount = n
	return &v, nil
}

// DeleteLink removes a link and its upload records. Files on disk are kept.
// Deleting an unknown ID is a logged no-op.
func (s *LinkService) DeleteLink(ctx context.Context, rc RequestContext, id int64) error {
	if err := s.store.DeleteLink(ctx, id); err != nil {
		if errors.Is(err, database.ErrLinkNotFound) {
			slog.Warn("delete of unknown link ignored", append(rc.logAttrs(), "link_id", id)...)
			return nil
		}
		return storeError(err)
	}
	slog.Info("upload link deleted", append(rc.logAttrs(), "link_id", id)...)
	return nil
}

// ListUploads returns the upload records of a link.
func (s *LinkService) ListUploads(ctx context.Context, linkID int64) ([]*database.UploadedFile, error) {
	if _, err := s.store.GetLinkByID(ctx, linkID); err != nil {
		if errors.Is(err, database.ErrLinkNotFound) {
			return nil, ErrNotFound
		}
		return nil, storeError(err)
	}

	files, err := s.store.ListUploads(ctx, linkID)
	if err != nil {
		return nil, storeError(err)
	}
	return files, nil
}

// Cleanup finds links that are expired or whose folder is gone. With
// confirm false it only reports them; with confirm true it deletes them and
// returns what was deleted.
func (s *LinkService) Cleanup(ctx context.Context, rc RequestContext, confirm bool) ([]LinkView, error) {
	links, err := s.store.ListLinks(ctx)
	if err != nil {
		return nil, storeError(err)
	}

	now := s.now()
	stale := make([]LinkView, 0)
	for _, link := range links {
		if v := s.view(link, now); v.Stale() {
			stale = append(stale, v)
		}
	}

	if !confirm {
		return stale, nil
	}

	deleted := make([]LinkView, 0, len(stale))
	for _, v := range stale {
		if err := s.store.DeleteLink(ctx, v.ID); err != nil {
			if errors.Is(err, database.ErrLinkNotFound) {
				continue
			}
			return deleted, storeError(err)
		}
		deleted = append(deleted, v)
		slog.Info("stale link removed",
			append(rc.logAttrs(),
				"link_id", v.ID,
				"folder", v.FolderPath,
				"expired", v.Expired,
				"folder_missing", v.FolderMissing,
			)...)
	}

	slog.Info("link cleanup complete", append(rc.logAttrs(), "removed", len(deleted))...)
	return deleted, nil
}

// OpenArchive snapshots the folder of a link for ZIP export and returns the
// archive file name.
func (s *LinkService) OpenArchive(ctx context.Context, id int64) (*archive.Tree, string, error) {
	link, err := s.store.GetLinkByID(ctx, id)
	if err != nil {
		if errors.Is(err, database.ErrLinkNotFound) {
			return nil, "", ErrNotFound
		}
		return nil, "", storeError(err)
	}

	if !pathguard.IsSafe(link.FolderPath, s.basePath) {
		slog.Error("link folder escaped base path", "link_id", link.ID, "folder", link.FolderPath)
		return nil, "", ErrDirectoryUnavailable
	}

	tree, err := archive.BuildTree(link.FolderPath)
	if err != nil {
		slog.Error("failed to read link folder", "link_id", link.ID, "folder", link.FolderPath, "error", err)
		return nil, "", ErrDirectoryUnavailable
	}
	return tree, filepath.Base(link.FolderPath) + ".zip", nil
}

func (s *LinkService) view(link *database.Link, now time.Time) LinkView {
	v := LinkView{
		ID:            link.ID,
		Token:         link.Token,
		FolderPath:    link.FolderPath,
		UploadURL:     fmt.Sprintf("%s/upload/%s", s.baseURL, link.Token),
		HasPassword:   link.PasswordHash != nil,
		CreatedAt:     link.CreatedAt,
		Expired:       IsExpired(link, now),
		FolderMissing: !storage.IsDir(link.FolderPath),
	}
	if link.ExpiryTimestamp != nil {
		t := time.Unix(*link.ExpiryTimestamp, 0)
		v.ExpiresAt = &t
	}
	return v
}
