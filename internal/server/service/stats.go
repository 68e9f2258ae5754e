package service

import (
	"context"
	"log/slog"

	"filedrop/internal/server/database"

	"github.com/dustin/go-humanize"
)

// Stats summarizes links, uploads and remaining space under the base path.
type Stats struct {
	database.Stats
	BytesUploadedHuman string `json:"bytes_uploaded_human"`
	FreeBytes          uint64 `json:"free_bytes"`
	FreeHuman          string `json:"free_human"`
}

// Stats returns aggregate counters.
func (s *LinkService) Stats(ctx context.Context) (*Stats, error) {
	st, err := s.store.GetStats(ctx, s.now())
	if err != nil {
		return nil, storeError(err)
	}

	out := &Stats{
		Stats:              *st,
		BytesUploadedHuman: humanize.IBytes(uint64(st.BytesUploaded)),
	}
	free, err := s.files.FreeSpace(s.basePath)
	if err != nil {
		slog.Warn("failed to read free space", "error", err)
	} else {
		out.FreeBytes = free
		out.FreeHuman = humanize.IBytes(free)
	}
	return out, nil
}
