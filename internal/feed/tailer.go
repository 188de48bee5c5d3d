package feed

import (
	"context"
	"log/slog"
	"time"

	"github.com/myrjola/callagent/internal/errors"
	"github.com/myrjola/callagent/internal/models"
)

const (
	batchLimit = 200
	// pollInterval backstops the notifier in case a wake-up is missed, for
	// example when an appender runs in another process against the same
	// database file.
	pollInterval = 2 * time.Second
)

// EventSource reads events after a cursor in ascending cursor order.
type EventSource interface {
	Since(ctx context.Context, investigationID string, cursor int64, limit int) ([]models.Event, error)
}

// Tailer streams an investigation's events to subscribers. Each subscriber
// names the cursor it has already seen and receives every later event exactly
// once, in cursor order.
type Tailer struct {
	source   EventSource
	notifier *Notifier
	logger   *slog.Logger
}

func NewTailer(source EventSource, notifier *Notifier, logger *slog.Logger) *Tailer {
	return &Tailer{
		source:   source,
		notifier: notifier,
		logger:   logger.With("source", "Tailer"),
	}
}

// Tail returns a channel of events after fromCursor. The channel closes when
// ctx is cancelled. Events that exist at subscribe time are delivered first,
// then the tail follows live appends.
func (t *Tailer) Tail(ctx context.Context, investigationID string, fromCursor int64) <-chan models.Event {
	out := make(chan models.Event)
	wake, unsubscribe := t.notifier.Subscribe(investigationID)

	go func() {
		defer close(out)
		defer unsubscribe()

		cursor := fromCursor
		ticker := time.NewTicker(pollInterval)
		defer ticker.Stop()

		for {
			next, err := t.drain(ctx, out, investigationID, cursor)
			if err != nil {
				if !errors.Is(err, context.Canceled) {
					t.logger.LogAttrs(ctx, slog.LevelError, "event tail aborted",
						slog.String("investigation_id", investigationID), errors.SlogError(err))
				}
				return
			}
			cursor = next

			select {
			case <-ctx.Done():
				return
			case <-wake:
			case <-ticker.C:
			}
		}
	}()
	return out
}

// drain forwards every event after cursor and returns the new cursor.
func (t *Tailer) drain(ctx context.Context, out chan<- models.Event, investigationID string, cursor int64) (int64, error) {
	for {
		events, err := t.source.Since(ctx, investigationID, cursor, batchLimit)
		if err != nil {
			return cursor, err
		}
		for _, event := range events {
			select {
			case <-ctx.Done():
				return cursor, ctx.Err()
			case out <- event:
				cursor = event.Cursor
			}
		}
		if len(events) < batchLimit {
			return cursor, nil
		}
	}
}
