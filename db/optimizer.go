package db

import (
	"context"
	"log/slog"
	"time"

	"github.com/myrjola/callagent/internal/errors"
)

// startOptimizer runs optimize once per hour. See https://www.sqlite.org/pragma.html#pragma_optimize.
func (d *Database) startOptimizer(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Hour):
		}
		start := time.Now()
		if _, err := d.ReadWrite.ExecContext(ctx, "PRAGMA optimize;"); err != nil {
			err = errors.Wrap(err, "optimize database")
			d.logger.LogAttrs(ctx, slog.LevelError, "failed to optimize database", errors.SlogError(err))
		} else {
			d.logger.LogAttrs(ctx, slog.LevelDebug, "optimized database",
				slog.Duration("duration", time.Since(start)))
		}
	}
}
