package service

import (
	"errors"
	"fmt"
)

// Sentinel errors for the service layer.
var (
	ErrPathUnsafe           = errors.New("folder must be inside the base path")
	ErrPathInvalid          = errors.New("invalid folder path")
	ErrConflict             = errors.New("already exists")
	ErrInvalidExpiry        = errors.New("invalid expiry format, use YYYY-MM-DDTHH:MM")
	ErrNotFound             = errors.New("not found")
	ErrExpired              = errors.New("upload link has expired")
	ErrDirectoryUnavailable = errors.New("upload directory is unavailable")
	ErrPasswordRequired     = errors.New("password required")
	ErrPasswordMismatch     = errors.New("incorrect password")
	ErrNoFiles              = errors.New("no files submitted")
	ErrInvalidInput         = errors.New("invalid input")
	ErrInvalidCredentials   = errors.New("invalid credentials")
	ErrSelfDelete           = errors.New("cannot delete your own account")
	ErrStore                = errors.New("store error")

	// Per-file upload outcomes, reported in FileResult rather than returned.
	ErrAlreadyExists     = errors.New("file already exists")
	ErrInsufficientSpace = errors.New("not enough disk space")
	ErrWriteError        = errors.New("failed to save file")
	ErrFileTooLarge      = errors.New("file exceeds maximum allowed size")
	ErrInvalidFilename   = errors.New("invalid filename")
)

// ConflictError reports that a link already exists for the requested folder.
type ConflictError struct {
	Token string
}

func (e *ConflictError) Error() string {
	return "a link for this folder already exists"
}

func (e *ConflictError) Unwrap() error {
	return ErrConflict
}

func storeError(err error) error {
	return fmt.Errorf("%w: %w", ErrStore, err)
}
