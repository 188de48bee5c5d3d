package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/myrjola/callagent/db"
	"github.com/myrjola/callagent/internal/errors"
	"github.com/myrjola/callagent/internal/models"
)

var ErrCallNotFound = errors.NewSentinel("call not found")

// CallRepository is the call state store. It owns every mutation of a call and
// its transcript, and appends one event log record per mutation so that feed
// consumers observe runner progress as it happens.
type CallRepository struct {
	dbs    *db.Database
	events *EventLogRepository
	logger *slog.Logger
}

func NewCallRepository(dbs *db.Database, events *EventLogRepository, logger *slog.Logger) *CallRepository {
	return &CallRepository{
		dbs:    dbs,
		events: events,
		logger: logger.With("source", "CallRepository"),
	}
}

// UpdateCallStatus carries one status transition. Session handles and score
// are only written when non-nil. ClearFailureReason resets the failure reason
// before a retry attempt.
type UpdateCallStatus struct {
	CallID              string
	Status              models.CallStatus
	FailureReason       *string
	ClearFailureReason  bool
	RoomName            *string
	ParticipantIdentity *string
	ProviderCallID      *string
	Score               *int
}

// UpdateStatus applies the transition and appends a call.status event.
func (r *CallRepository) UpdateStatus(ctx context.Context, update UpdateCallStatus) (*models.CallProgress, error) {
	now := time.Now().UTC()

	assignments := []string{"status = ?", "updated_at = ?"}
	params := []any{update.Status, now}

	if update.FailureReason != nil {
		assignments = append(assignments, "failure_reason = ?")
		params = append(params, *update.FailureReason)
	} else if update.ClearFailureReason {
		assignments = append(assignments, "failure_reason = NULL")
	}
	if update.RoomName != nil {
		assignments = append(assignments, "room_name = ?")
		params = append(params, *update.RoomName)
	}
	if update.ParticipantIdentity != nil {
		assignments = append(assignments, "participant_identity = ?")
		params = append(params, *update.ParticipantIdentity)
	}
	if update.ProviderCallID != nil {
		assignments = append(assignments, "provider_call_id = ?")
		params = append(params, *update.ProviderCallID)
	}
	if update.Score != nil {
		assignments = append(assignments, "score = ?")
		params = append(params, *update.Score)
	}
	if update.Status == models.CallStatusDialing {
		assignments = append(assignments, "started_at = COALESCE(started_at, ?)")
		params = append(params, now)
	}
	if update.Status == models.CallStatusCompleted || update.Status == models.CallStatusFailed {
		assignments = append(assignments, "ended_at = ?")
		params = append(params, now)
	}
	params = append(params, update.CallID)

	stmt := fmt.Sprintf("UPDATE calls SET %s WHERE id = ?", strings.Join(assignments, ", "))
	res, err := r.dbs.ReadWrite.ExecContext(ctx, stmt, params...)
	if err != nil {
		return nil, errors.Wrap(err, "update call status", slog.String("call_id", update.CallID))
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return nil, errors.Wrap(ErrCallNotFound, "update call status", slog.String("call_id", update.CallID))
	}

	progress, investigationID, err := r.progress(ctx, update.CallID)
	if err != nil {
		return nil, err
	}

	if _, err = r.events.Append(ctx, investigationID, &update.CallID, models.EventPayload{
		Type:            models.EventCallStatus,
		InvestigationID: investigationID,
		Call:            progress,
	}); err != nil {
		return nil, err
	}
	return progress, nil
}

// AppendTranscript stores one transcript line and appends a call.transcript event.
func (r *CallRepository) AppendTranscript(
	ctx context.Context,
	callID string,
	speaker models.TranscriptSpeaker,
	text string,
) (*models.TranscriptLine, error) {
	var row struct {
		InvestigationID string `db:"investigation_id"`
		ContactName     string `db:"contact_name"`
	}
	stmt := `SELECT c.investigation_id, ct.name AS contact_name
	FROM calls c JOIN contacts ct ON ct.id = c.contact_id
	WHERE c.id = ?`
	if err := r.dbs.ReadOnly.GetContext(ctx, &row, stmt, callID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errors.Wrap(ErrCallNotFound, "append transcript", slog.String("call_id", callID))
		}
		return nil, errors.Wrap(err, "read call for transcript", slog.String("call_id", callID))
	}

	now := time.Now().UTC()
	res, err := r.dbs.ReadWrite.ExecContext(ctx,
		`INSERT INTO transcript_lines (call_id, contact_name, speaker, text, created_at) VALUES (?, ?, ?, ?, ?)`,
		callID, row.ContactName, speaker, text, now)
	if err != nil {
		return nil, errors.Wrap(err, "insert transcript line", slog.String("call_id", callID))
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, errors.Wrap(err, "transcript line id")
	}

	line := models.TranscriptLine{
		ID:          id,
		CallID:      callID,
		ContactName: row.ContactName,
		Speaker:     speaker,
		Text:        text,
		CreatedAt:   now,
	}

	if _, err = r.events.Append(ctx, row.InvestigationID, &callID, models.EventPayload{
		Type:            models.EventCallTranscript,
		InvestigationID: row.InvestigationID,
		Transcript:      &line,
	}); err != nil {
		return nil, err
	}
	return &line, nil
}

// TranscriptSnapshot is the joined transcript text of a call.
// HasConversation reports whether the agent or the contact has spoken yet;
// system lines alone do not count as conversational content.
type TranscriptSnapshot struct {
	Text            string
	LineCount       int
	HasConversation bool
}

func (r *CallRepository) TranscriptSnapshot(ctx context.Context, callID string) (TranscriptSnapshot, error) {
	var lines []models.TranscriptLine
	stmt := `SELECT id, call_id, contact_name, speaker, text, created_at
	FROM transcript_lines WHERE call_id = ? ORDER BY id ASC`
	if err := r.dbs.ReadOnly.SelectContext(ctx, &lines, stmt, callID); err != nil {
		return TranscriptSnapshot{}, errors.Wrap(err, "query transcript", slog.String("call_id", callID))
	}

	var (
		parts           []string
		hasConversation bool
	)
	for _, line := range lines {
		parts = append(parts, fmt.Sprintf("%s: %s", line.Speaker, line.Text))
		if line.Speaker == models.SpeakerAgent || line.Speaker == models.SpeakerContact {
			hasConversation = true
		}
	}
	return TranscriptSnapshot{
		Text:            strings.TrimSpace(strings.Join(parts, "\n")),
		LineCount:       len(lines),
		HasConversation: hasConversation,
	}, nil
}

// SaveFinding upserts the structured extraction result for a call and records
// the extraction score on the call row. A retry overwrites the previous finding.
func (r *CallRepository) SaveFinding(ctx context.Context, callID string, finding models.ExtractedFinding) error {
	constraints, err := json.Marshal(finding.Constraints)
	if err != nil {
		return errors.Wrap(err, "marshal constraints")
	}
	keyFacts, err := json.Marshal(finding.KeyFacts)
	if err != nil {
		return errors.Wrap(err, "marshal key facts")
	}

	stmt := `INSERT INTO extracted_findings
	(call_id, summary, price, availability, location_fit, constraints, key_facts, confidence, score)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (call_id) DO UPDATE SET
	summary = excluded.summary, price = excluded.price, availability = excluded.availability,
	location_fit = excluded.location_fit, constraints = excluded.constraints,
	key_facts = excluded.key_facts, confidence = excluded.confidence, score = excluded.score`
	if _, err = r.dbs.ReadWrite.ExecContext(ctx, stmt,
		callID, finding.Summary, finding.Price, finding.Availability, finding.LocationFit,
		string(constraints), string(keyFacts), finding.Confidence, finding.Score); err != nil {
		return errors.Wrap(err, "upsert finding", slog.String("call_id", callID))
	}

	if _, err = r.dbs.ReadWrite.ExecContext(ctx,
		`UPDATE calls SET score = ? WHERE id = ?`, finding.Score, callID); err != nil {
		return errors.Wrap(err, "update call score", slog.String("call_id", callID))
	}
	return nil
}

// PublishRecording stores the recording reference and emits a call.status
// event so that consumers learn the recording is available.
func (r *CallRepository) PublishRecording(ctx context.Context, callID string, recordingURL string) error {
	res, err := r.dbs.ReadWrite.ExecContext(ctx,
		`UPDATE calls SET recording_url = ?, updated_at = ? WHERE id = ?`, recordingURL, time.Now().UTC(), callID)
	if err != nil {
		return errors.Wrap(err, "publish recording", slog.String("call_id", callID))
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return errors.Wrap(ErrCallNotFound, "publish recording", slog.String("call_id", callID))
	}

	progress, investigationID, err := r.progress(ctx, callID)
	if err != nil {
		return err
	}
	_, err = r.events.Append(ctx, investigationID, &callID, models.EventPayload{
		Type:            models.EventCallStatus,
		InvestigationID: investigationID,
		Call:            progress,
	})
	return err
}

// Get returns the call row.
func (r *CallRepository) Get(ctx context.Context, callID string) (*models.Call, error) {
	var call models.Call
	stmt := `SELECT id, investigation_id, contact_id, status, score, failure_reason, room_name,
	participant_identity, provider_call_id, recording_url, started_at, ended_at, updated_at
	FROM calls WHERE id = ?`
	if err := r.dbs.ReadOnly.GetContext(ctx, &call, stmt, callID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errors.Wrap(ErrCallNotFound, "get call", slog.String("call_id", callID))
		}
		return nil, errors.Wrap(err, "get call", slog.String("call_id", callID))
	}
	return &call, nil
}

func (r *CallRepository) progress(ctx context.Context, callID string) (*models.CallProgress, string, error) {
	var row struct {
		models.Call
		ContactName string `db:"name"`
		Phone       string `db:"phone"`
		Language    string `db:"language"`
	}
	stmt := `SELECT c.id, c.investigation_id, c.contact_id, c.status, c.score, c.failure_reason,
	c.room_name, c.participant_identity, c.provider_call_id, c.recording_url,
	c.started_at, c.ended_at, c.updated_at, ct.name, ct.phone, ct.language
	FROM calls c JOIN contacts ct ON ct.id = c.contact_id
	WHERE c.id = ?`
	if err := r.dbs.ReadOnly.GetContext(ctx, &row, stmt, callID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, "", errors.Wrap(ErrCallNotFound, "call progress", slog.String("call_id", callID))
		}
		return nil, "", errors.Wrap(err, "call progress", slog.String("call_id", callID))
	}
	return &models.CallProgress{
		ID:            row.ID,
		ContactName:   row.ContactName,
		Phone:         row.Phone,
		Language:      row.Language,
		Status:        row.Status,
		Score:         row.Score,
		FailureReason: row.FailureReason,
		UpdatedAt:     row.UpdatedAt,
	}, row.InvestigationID, nil
}
