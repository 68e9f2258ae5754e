package service

import (
	"context"
	"log/slog"
	"time"

	"filedrop/internal/server/database"
)

// Recorder appends upload records. Recording is best effort: a stored file
// stays on disk even if its record cannot be written.
type Recorder struct {
	store database.Store
	now   func() time.Time
}

// NewRecorder creates a recorder backed by store.
func NewRecorder(store database.Store) *Recorder {
	return &Recorder{store: store, now: time.Now}
}

// Record appends one row for a stored file.
func (r *Recorder) Record(ctx context.Context, linkID int64, filename string, size int64) {
	if err := r.store.RecordUpload(ctx, linkID, filename, size, r.now()); err != nil {
		slog.Error("failed to record upload",
			"link_id", linkID,
			"filename", filename,
			"size", size,
			"error", err,
		)
	}
}
