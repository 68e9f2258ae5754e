package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"path/filepath"
	"strings"
	"time"
	"unicode"

	"filedrop/internal/server/database"
	"filedrop/internal/server/pathguard"
	"filedrop/internal/server/storage"

	"github.com/dustin/go-humanize"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/text/unicode/norm"
)

const maxFilenameBytes = 255

// Per-file upload statuses reported to the client.
const (
	StatusStored            = "stored"
	StatusAlreadyExists     = "already_exists"
	StatusInsufficientSpace = "insufficient_space"
	StatusWriteError        = "write_error"
	StatusTooLarge          = "too_large"
	StatusInvalidFilename   = "invalid_filename"
)

// IncomingFile is one submitted file. Size is the exact size declared by
// the client, or 0 when unknown. MaxSize bounds the size when only the
// enclosing request length is known. Open returns the content stream.
type IncomingFile struct {
	Name    string
	Size    int64
	MaxSize int64
	Open    func() (io.ReadCloser, error)
}

// FileSource yields submitted files in order. Next returns io.EOF after
// the last file. Upload only calls Next once the request is authorized.
type FileSource interface {
	Next() (*IncomingFile, error)
}

type sliceSource struct {
	files []IncomingFile
}

// Files returns a FileSource over files already in hand.
func Files(files ...IncomingFile) FileSource {
	return &sliceSource{files: files}
}

func (s *sliceSource) Next() (*IncomingFile, error) {
	if len(s.files) == 0 {
		return nil, io.EOF
	}
	f := s.files[0]
	s.files = s.files[1:]
	return &f, nil
}

// FileResult is the outcome of storing one submitted file.
type FileResult struct {
	Filename string `json:"filename"`
	Status   string `json:"status"`
	Size     int64  `json:"size"`
	Error    string `json:"error,omitempty"`

	Err error `json:"-"`
}

// Stored reports whether the file was written.
func (r FileResult) Stored() bool {
	return r.Status == StatusStored
}

// UploadInfo is what an anonymous visitor learns about a link.
type UploadInfo struct {
	RequiresPassword bool       `json:"requires_password"`
	ExpiresAt        *time.Time `json:"expires_at,omitempty"`
}

// UploadService authorizes anonymous uploads and writes files into link
// folders.
type UploadService struct {
	store       database.Store
	files       storage.Store
	recorder    *Recorder
	basePath    string
	maxFileSize int64
	now         func() time.Time
}

// NewUploadService creates a new upload service. A maxFileSize of zero
// disables the per-file limit.
func NewUploadService(store database.Store, files storage.Store, recorder *Recorder, basePath string, maxFileSize int64) *UploadService {
	return &UploadService{
		store:       store,
		files:       files,
		recorder:    recorder,
		basePath:    basePath,
		maxFileSize: maxFileSize,
		now:         time.Now,
	}
}

// Info returns the public state of a usable link.
func (s *UploadService) Info(ctx context.Context, token string) (*UploadInfo, error) {
	link, err := s.usableLink(ctx, token)
	if err != nil {
		return nil, err
	}

	info := &UploadInfo{RequiresPassword: link.PasswordHash != nil}
	if link.ExpiryTimestamp != nil {
		t := time.Unix(*link.ExpiryTimestamp, 0)
		info.ExpiresAt = &t
	}
	return info, nil
}

// Authorize checks that token names a live link with a usable folder and
// that password satisfies it.
func (s *UploadService) Authorize(ctx context.Context, token, password string) (*database.Link, error) {
	link, err := s.usableLink(ctx, token)
	if err != nil {
		return nil, err
	}

	if link.PasswordHash != nil {
		if password == "" {
			return nil, ErrPasswordRequired
		}
		if err := bcrypt.CompareHashAndPassword([]byte(*link.PasswordHash), []byte(password)); err != nil {
			return nil, ErrPasswordMismatch
		}
	}
	return link, nil
}

func (s *UploadService) usableLink(ctx context.Context, token string) (*database.Link, error) {
	link, err := s.store.GetLinkByToken(ctx, token)
	if err != nil {
		if errors.Is(err, database.ErrLinkNotFound) {
			return nil, ErrNotFound
		}
		return nil, storeError(err)
	}

	if IsExpired(link, s.now()) {
		return nil, ErrExpired
	}

	if !pathguard.IsSafe(link.FolderPath, s.basePath) {
		slog.Error("link folder is outside the base path",
			"link_id", link.ID, "folder", link.FolderPath)
		return nil, ErrDirectoryUnavailable
	}
	if err := s.files.CheckWritable(link.FolderPath); err != nil {
		slog.Error("link folder is unusable",
			"link_id", link.ID, "folder", link.FolderPath, "error", err)
		return nil, ErrDirectoryUnavailable
	}
	return link, nil
}

// Upload authorizes the request, then pulls files from src and stores each
// named file independently. Per-file failures are reported in the results.
// The returned error is set when nothing could be attempted; a source error
// after some files were handled ends the upload and is logged.
func (s *UploadService) Upload(ctx context.Context, rc RequestContext, token, password string, src FileSource) ([]FileResult, error) {
	link, err := s.Authorize(ctx, token, password)
	if err != nil {
		slog.Warn("upload rejected", append(rc.logAttrs(), "error", err)...)
		return nil, err
	}

	var results []FileResult
	var stored int
	for {
		f, err := src.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if len(results) == 0 {
				return nil, err
			}
			slog.Warn("upload stream ended early",
				append(rc.logAttrs(), "link_id", link.ID, "error", err)...)
			break
		}
		if f.Name == "" {
			continue
		}

		res := s.storeFile(ctx, rc, link, *f)
		if res.Stored() {
			stored++
		}
		results = append(results, res)
	}

	if len(results) == 0 {
		return nil, ErrNoFiles
	}

	slog.Info("upload processed",
		append(rc.logAttrs(),
			"link_id", link.ID,
			"files", len(results),
			"stored", stored,
		)...)
	return results, nil
}

func (s *UploadService) storeFile(ctx context.Context, rc RequestContext, link *database.Link, f IncomingFile) FileResult {
	name := sanitizeFilename(f.Name)
	if name == "" {
		return failed(f.Name, ErrInvalidFilename)
	}

	dest := filepath.Join(link.FolderPath, name)
	if !pathguard.IsSafe(dest, s.basePath) {
		slog.Warn("upload destination outside base path",
			append(rc.logAttrs(), "link_id", link.ID, "destination", dest)...)
		return failed(name, ErrInvalidFilename)
	}

	exists, err := s.files.Exists(link.FolderPath, name)
	if err != nil {
		slog.Error("failed to check destination",
			append(rc.logAttrs(), "destination", dest, "error", err)...)
		return failed(name, ErrWriteError)
	}
	if exists {
		return failed(name, ErrAlreadyExists)
	}

	if s.maxFileSize > 0 && f.Size > s.maxFileSize {
		return failed(name, s.tooLarge())
	}

	free, err := s.files.FreeSpace(link.FolderPath)
	if err != nil {
		slog.Warn("free space check failed, continuing",
			append(rc.logAttrs(), "folder", link.FolderPath, "error", err)...)
	} else if need := s.spaceNeeded(f); need > 0 && uint64(need) > free {
		return failed(name, fmt.Errorf("%w (need up to %s, %s free)",
			ErrInsufficientSpace, humanize.IBytes(uint64(need)), humanize.IBytes(free)))
	}

	src, err := f.Open()
	if err != nil {
		slog.Error("failed to open upload stream",
			append(rc.logAttrs(), "filename", name, "error", err)...)
		return failed(name, ErrWriteError)
	}
	defer src.Close()

	n, err := s.files.Save(link.FolderPath, name, src, s.maxFileSize)
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrExists):
			return failed(name, ErrAlreadyExists)
		case errors.Is(err, storage.ErrTooLarge):
			return failed(name, s.tooLarge())
		default:
			slog.Error("failed to write upload",
				append(rc.logAttrs(), "destination", dest, "error", err)...)
			return failed(name, ErrWriteError)
		}
	}

	s.recorder.Record(ctx, link.ID, name, n)

	slog.Info("file stored",
		append(rc.logAttrs(),
			"link_id", link.ID,
			"filename", name,
			"size", n,
		)...)
	return FileResult{Filename: name, Status: StatusStored, Size: n}
}

func (s *UploadService) tooLarge() error {
	if s.maxFileSize <= 0 {
		return ErrFileTooLarge
	}
	return fmt.Errorf("%w (limit %s)", ErrFileTooLarge, humanize.IBytes(uint64(s.maxFileSize)))
}

// spaceNeeded is the declared size, or the upper bound when only that is
// known, capped by the per-file limit.
func (s *UploadService) spaceNeeded(f IncomingFile) int64 {
	need := f.Size
	if need <= 0 {
		need = f.MaxSize
	}
	if s.maxFileSize > 0 && need > s.maxFileSize {
		need = s.maxFileSize
	}
	return need
}

func failed(name string, err error) FileResult {
	return FileResult{
		Filename: name,
		Status:   statusFor(err),
		Error:    err.Error(),
		Err:      err,
	}
}

func statusFor(err error) string {
	switch {
	case errors.Is(err, ErrAlreadyExists):
		return StatusAlreadyExists
	case errors.Is(err, ErrInsufficientSpace):
		return StatusInsufficientSpace
	case errors.Is(err, ErrFileTooLarge):
		return StatusTooLarge
	case errors.Is(err, ErrInvalidFilename):
		return StatusInvalidFilename
	default:
		return StatusWriteError
	}
}

// sanitizeFilename reduces a client-supplied name to a plain ASCII base
// name. It returns "" when nothing usable is left.
func sanitizeFilename(name string) string {
	// Normalize Windows-style backslashes to forward slashes before
	// taking the base name.
	name = strings.ReplaceAll(name, "\\", "/")
	name = path.Base(name)

	// Decompose accented letters so their base letter survives.
	name = norm.NFKD.String(name)

	var b strings.Builder
	for _, r := range name {
		switch {
		case unicode.IsSpace(r):
			b.WriteByte('_')
		case r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)):
			b.WriteRune(r)
		case r == '.' || r == '-' || r == '_':
			b.WriteRune(r)
		}
	}
	name = strings.TrimLeft(b.String(), ".")

	// Limit length, keeping the extension where possible.
	if len(name) > maxFilenameBytes {
		ext := filepath.Ext(name)
		if len(ext) >= maxFilenameBytes {
			ext = ""
		}
		name = name[:maxFilenameBytes-len(ext)] + ext
	}
	return name
}
