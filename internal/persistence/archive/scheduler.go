package archive

import (
	"context"
	"log"
	"time"

	"worldloom.ai/internal/persistence/store"
)

// RunDaily invokes ArchiveAndTrimLogs once per interval until the context is
// canceled. A failed run is logged and retried at the next tick.
func RunDaily(ctx context.Context, st *store.Store, dir string, keepLast int, compress bool, interval time.Duration, logger *log.Logger) {
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			res, archived, err := ArchiveAndTrimLogs(st, dir, keepLast, compress)
			if err != nil {
				logger.Printf("archive: %v", err)
				continue
			}
			if archived {
				logger.Printf("archive: moved %d rows (ids %d-%d) to %s, kept %d", res.Archived, res.MinID, res.MaxID, res.Path, res.Kept)
			}
		}
	}
}
