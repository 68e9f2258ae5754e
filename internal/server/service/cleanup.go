package service

import (
	"context"
	"log/slog"
	"time"
)

// CleanupService periodically removes links that are expired or whose
// folder has disappeared.
type CleanupService struct {
	links    *LinkService
	interval time.Duration
	done     chan struct{}
}

// NewCleanupService creates a new cleanup service.
func NewCleanupService(links *LinkService, interval time.Duration) *CleanupService {
	return &CleanupService{
		links:    links,
		interval: interval,
		done:     make(chan struct{}),
	}
}

// Start begins the cleanup loop in a background goroutine.
func (cs *CleanupService) Start(ctx context.Context) {
	slog.Info("cleanup service started", "interval", cs.interval)

	go func() {
		ticker := time.NewTicker(cs.interval)
		defer ticker.Stop()

		// Run once immediately on start
		cs.runCleanup(ctx)

		for {
			select {
			case <-ticker.C:
				cs.runCleanup(ctx)
			case <-ctx.Done():
				slog.Info("cleanup service stopping")
				close(cs.done)
				return
			}
		}
	}()
}

// Wait blocks until the cleanup service has fully stopped.
func (cs *CleanupService) Wait() {
	<-cs.done
}

func (cs *CleanupService) runCleanup(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	rc := NewRequestContext("")
	rc.Username = "cleanup"

	removed, err := cs.links.Cleanup(ctx, rc, true)
	if err != nil {
		slog.Error("cleanup cycle failed",
			"removed", len(removed),
			"error", err,
		)
	}
}
