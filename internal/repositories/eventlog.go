package repositories

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/myrjola/callagent/db"
	"github.com/myrjola/callagent/internal/errors"
	"github.com/myrjola/callagent/internal/models"
)

// EventLogRepository is the append-only, cursor-ordered record of all state
// changes. Rows are never updated or deleted; the autoincrement id doubles as
// the consumer cursor.
type EventLogRepository struct {
	dbs      *db.Database
	logger   *slog.Logger
	onAppend func(investigationID string)
}

func NewEventLogRepository(dbs *db.Database, logger *slog.Logger) *EventLogRepository {
	return &EventLogRepository{
		dbs:    dbs,
		logger: logger.With("source", "EventLogRepository"),
	}
}

// OnAppend registers a callback invoked after every successful append. Feed
// consumers use it to wake subscribers without polling. Must be set before
// the repository is shared between goroutines.
func (r *EventLogRepository) OnAppend(fn func(investigationID string)) {
	r.onAppend = fn
}

// Append persists one event and returns its cursor.
func (r *EventLogRepository) Append(
	ctx context.Context,
	investigationID string,
	callID *string,
	payload models.EventPayload,
) (int64, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return 0, errors.Wrap(err, "marshal event payload")
	}

	stmt := `INSERT INTO event_log (investigation_id, call_id, event_type, payload) VALUES (?, ?, ?, ?)`
	res, err := r.dbs.ReadWrite.ExecContext(ctx, stmt, investigationID, callID, payload.Type, string(body))
	if err != nil {
		return 0, errors.Wrap(err, "insert event",
			slog.String("investigation_id", investigationID),
			slog.String("event_type", string(payload.Type)))
	}
	cursor, err := res.LastInsertId()
	if err != nil {
		return 0, errors.Wrap(err, "event cursor")
	}
	if r.onAppend != nil {
		r.onAppend(investigationID)
	}
	return cursor, nil
}

// Since returns up to limit events with cursor greater than the given cursor,
// in ascending cursor order.
func (r *EventLogRepository) Since(
	ctx context.Context,
	investigationID string,
	cursor int64,
	limit int,
) ([]models.Event, error) {
	stmt := `SELECT id, payload FROM event_log WHERE investigation_id = ? AND id > ? ORDER BY id ASC LIMIT ?`
	rows, err := r.dbs.ReadOnly.QueryContext(ctx, stmt, investigationID, cursor, limit)
	if err != nil {
		return nil, errors.Wrap(err, "query events", slog.String("investigation_id", investigationID))
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			r.logger.Error("could not close rows", errors.SlogError(closeErr))
		}
	}()

	var events []models.Event
	for rows.Next() {
		var (
			event models.Event
			body  string
		)
		if err = rows.Scan(&event.Cursor, &body); err != nil {
			return nil, errors.Wrap(err, "scan event")
		}
		if err = json.Unmarshal([]byte(body), &event.Payload); err != nil {
			return nil, errors.Wrap(err, "unmarshal event payload", slog.Int64("cursor", event.Cursor))
		}
		events = append(events, event)
	}
	if err = rows.Err(); err != nil {
		return nil, errors.Wrap(err, "rows error")
	}
	return events, nil
}

// LatestCursor returns the highest cursor for the investigation, or zero when
// no events exist yet.
func (r *EventLogRepository) LatestCursor(ctx context.Context, investigationID string) (int64, error) {
	var cursor int64
	stmt := `SELECT COALESCE(MAX(id), 0) FROM event_log WHERE investigation_id = ?`
	if err := r.dbs.ReadOnly.GetContext(ctx, &cursor, stmt, investigationID); err != nil {
		return 0, errors.Wrap(err, "latest cursor", slog.String("investigation_id", investigationID))
	}
	return cursor, nil
}
