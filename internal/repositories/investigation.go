package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/myrjola/callagent/db"
	"github.com/myrjola/callagent/internal/errors"
	"github.com/myrjola/callagent/internal/models"
)

var ErrInvestigationNotFound = errors.NewSentinel("investigation not found")

// InvestigationRepository owns investigation-level state. The orchestrator is
// its only writer after intake; completion state is applied exactly once.
type InvestigationRepository struct {
	dbs    *db.Database
	events *EventLogRepository
	logger *slog.Logger
}

func NewInvestigationRepository(dbs *db.Database, events *EventLogRepository, logger *slog.Logger) *InvestigationRepository {
	return &InvestigationRepository{
		dbs:    dbs,
		events: events,
		logger: logger.With("source", "InvestigationRepository"),
	}
}

// CallWithContact joins a call with the contact it targets.
type CallWithContact struct {
	Call    models.Call
	Contact models.Contact
}

// Candidate is a call with its extraction result, or nil when the call never
// produced one. Input to the recommendation engine.
type Candidate struct {
	Call    models.Call
	Contact models.Contact
	Finding *models.ExtractedFinding
}

// Results is the consumer-facing completion payload of an investigation.
type Results struct {
	InvestigationID       string                        `json:"investigationId"`
	Requirement           string                        `json:"requirement"`
	Status                models.InvestigationStatus    `json:"status"`
	BestCallID            *string                       `json:"bestCallId"`
	RecommendationSummary string                        `json:"recommendationSummary"`
	Ranked                []models.RankedRecommendation `json:"ranked"`
	ActionItems           []models.ActionItem           `json:"actionItems"`
}

// Create persists a draft investigation with its contacts and queued calls in
// one transaction, then appends the initial snapshot and per-call events.
func (r *InvestigationRepository) Create(
	ctx context.Context,
	requirement string,
	concurrency int,
	contacts []models.ContactInput,
) (string, error) {
	investigationID := uuid.NewString()
	now := time.Now().UTC()

	tx, err := r.dbs.ReadWrite.BeginTxx(ctx, nil)
	if err != nil {
		return "", errors.Wrap(err, "begin create investigation")
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err = tx.ExecContext(ctx,
		`INSERT INTO investigations (id, requirement, status, concurrency, created_at) VALUES (?, ?, ?, ?, ?)`,
		investigationID, requirement, models.InvestigationStatusDraft, concurrency, now); err != nil {
		return "", errors.Wrap(err, "insert investigation")
	}

	callIDs := make([]string, 0, len(contacts))
	for _, contact := range contacts {
		contactID := uuid.NewString()
		if _, err = tx.ExecContext(ctx,
			`INSERT INTO contacts (id, investigation_id, name, phone, language) VALUES (?, ?, ?, ?, ?)`,
			contactID, investigationID, contact.Name, contact.Phone, contact.Language); err != nil {
			return "", errors.Wrap(err, "insert contact")
		}

		callID := uuid.NewString()
		if _, err = tx.ExecContext(ctx,
			`INSERT INTO calls (id, investigation_id, contact_id, status, updated_at) VALUES (?, ?, ?, ?, ?)`,
			callID, investigationID, contactID, models.CallStatusQueued, now); err != nil {
			return "", errors.Wrap(err, "insert call")
		}
		callIDs = append(callIDs, callID)
	}

	if err = tx.Commit(); err != nil {
		return "", errors.Wrap(err, "commit create investigation")
	}

	snapshot, err := r.Snapshot(ctx, investigationID)
	if err != nil {
		return "", err
	}
	if _, err = r.events.Append(ctx, investigationID, nil, *snapshot); err != nil {
		return "", err
	}
	for i := range snapshot.Calls {
		if _, err = r.events.Append(ctx, investigationID, &callIDs[i], models.EventPayload{
			Type:            models.EventCallStatus,
			InvestigationID: investigationID,
			Call:            &snapshot.Calls[i],
		}); err != nil {
			return "", err
		}
	}
	return investigationID, nil
}

func (r *InvestigationRepository) Get(ctx context.Context, investigationID string) (*models.Investigation, error) {
	var investigation models.Investigation
	stmt := `SELECT id, requirement, status, concurrency, best_call_id, recommendation_summary,
	created_at, started_at, completed_at
	FROM investigations WHERE id = ?`
	if err := r.dbs.ReadOnly.GetContext(ctx, &investigation, stmt, investigationID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errors.Wrap(ErrInvestigationNotFound, "get investigation",
				slog.String("investigation_id", investigationID))
		}
		return nil, errors.Wrap(err, "get investigation", slog.String("investigation_id", investigationID))
	}
	return &investigation, nil
}

// CallsWithContacts lists the investigation's calls in creation order.
func (r *InvestigationRepository) CallsWithContacts(ctx context.Context, investigationID string) ([]CallWithContact, error) {
	stmt := `SELECT c.id, c.investigation_id, c.contact_id, c.status, c.score, c.failure_reason,
	c.room_name, c.participant_identity, c.provider_call_id, c.recording_url,
	c.started_at, c.ended_at, c.updated_at,
	ct.id AS contact_row_id, ct.name, ct.phone, ct.language
	FROM calls c JOIN contacts ct ON ct.id = c.contact_id
	WHERE c.investigation_id = ? ORDER BY c.rowid ASC`
	rows, err := r.dbs.ReadOnly.QueryxContext(ctx, stmt, investigationID)
	if err != nil {
		return nil, errors.Wrap(err, "query calls", slog.String("investigation_id", investigationID))
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			r.logger.Error("could not close rows", errors.SlogError(closeErr))
		}
	}()

	var result []CallWithContact
	for rows.Next() {
		var row struct {
			models.Call
			ContactRowID string `db:"contact_row_id"`
			Name         string `db:"name"`
			Phone        string `db:"phone"`
			Language     string `db:"language"`
		}
		if err = rows.StructScan(&row); err != nil {
			return nil, errors.Wrap(err, "scan call")
		}
		result = append(result, CallWithContact{
			Call: row.Call,
			Contact: models.Contact{
				ID:              row.ContactRowID,
				InvestigationID: row.Call.InvestigationID,
				Name:            row.Name,
				Phone:           row.Phone,
				Language:        row.Language,
			},
		})
	}
	if err = rows.Err(); err != nil {
		return nil, errors.Wrap(err, "rows error")
	}
	return result, nil
}

// Candidates returns every call joined with its extraction result when one
// exists. Calls without findings keep a nil finding so that the recommendation
// engine can discard them deterministically.
func (r *InvestigationRepository) Candidates(ctx context.Context, investigationID string) ([]Candidate, error) {
	calls, err := r.CallsWithContacts(ctx, investigationID)
	if err != nil {
		return nil, err
	}

	candidates := make([]Candidate, 0, len(calls))
	for _, call := range calls {
		candidate := Candidate{Call: call.Call, Contact: call.Contact}

		var row struct {
			models.ExtractedFinding
			ConstraintsJSON string `db:"constraints"`
			KeyFactsJSON    string `db:"key_facts"`
		}
		stmt := `SELECT call_id, summary, price, availability, location_fit, constraints, key_facts, confidence, score
		FROM extracted_findings WHERE call_id = ?`
		err = r.dbs.ReadOnly.GetContext(ctx, &row, stmt, call.Call.ID)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			// Call never reached extraction.
		case err != nil:
			return nil, errors.Wrap(err, "query finding", slog.String("call_id", call.Call.ID))
		default:
			finding := row.ExtractedFinding
			if err = json.Unmarshal([]byte(row.ConstraintsJSON), &finding.Constraints); err != nil {
				return nil, errors.Wrap(err, "unmarshal constraints", slog.String("call_id", call.Call.ID))
			}
			if err = json.Unmarshal([]byte(row.KeyFactsJSON), &finding.KeyFacts); err != nil {
				return nil, errors.Wrap(err, "unmarshal key facts", slog.String("call_id", call.Call.ID))
			}
			candidate.Finding = &finding
		}
		candidates = append(candidates, candidate)
	}
	return candidates, nil
}

// MarkRunning transitions the investigation to running and appends an updated
// snapshot event.
func (r *InvestigationRepository) MarkRunning(ctx context.Context, investigationID string) error {
	res, err := r.dbs.ReadWrite.ExecContext(ctx,
		`UPDATE investigations SET status = ?, started_at = ?, completed_at = NULL WHERE id = ?`,
		models.InvestigationStatusRunning, time.Now().UTC(), investigationID)
	if err != nil {
		return errors.Wrap(err, "mark running", slog.String("investigation_id", investigationID))
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return errors.Wrap(ErrInvestigationNotFound, "mark running", slog.String("investigation_id", investigationID))
	}

	snapshot, err := r.Snapshot(ctx, investigationID)
	if err != nil {
		return err
	}
	_, err = r.events.Append(ctx, investigationID, nil, *snapshot)
	return err
}

// Complete replaces the derived recommendation rows wholesale, marks the
// investigation completed and appends the final investigation.completed event.
// bestCallID is the top-ranked call or null when nothing ranked.
func (r *InvestigationRepository) Complete(
	ctx context.Context,
	investigationID string,
	ranked []models.RankedRecommendation,
	actionItems []models.ActionItem,
	summary string,
) error {
	tx, err := r.dbs.ReadWrite.BeginTxx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin complete investigation")
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err = tx.ExecContext(ctx, `DELETE FROM recommendations WHERE investigation_id = ?`, investigationID); err != nil {
		return errors.Wrap(err, "delete recommendations")
	}
	if _, err = tx.ExecContext(ctx, `DELETE FROM action_items WHERE investigation_id = ?`, investigationID); err != nil {
		return errors.Wrap(err, "delete action items")
	}

	for i, item := range ranked {
		if _, err = tx.ExecContext(ctx,
			`INSERT INTO recommendations
			(investigation_id, call_id, "rank", contact_name, phone, score, summary, reasoning, price, availability, location_fit, is_best)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			investigationID, item.CallID, i+1, item.ContactName, item.Phone, item.Score,
			item.Summary, item.Reasoning, item.Price, item.Availability, item.LocationFit, i == 0); err != nil {
			return errors.Wrap(err, "insert recommendation", slog.String("call_id", item.CallID))
		}
	}
	for _, item := range actionItems {
		if _, err = tx.ExecContext(ctx,
			`INSERT INTO action_items (id, investigation_id, priority, title, detail) VALUES (?, ?, ?, ?, ?)`,
			item.ID, investigationID, item.Priority, item.Title, item.Detail); err != nil {
			return errors.Wrap(err, "insert action item", slog.String("action_item_id", item.ID))
		}
	}

	var bestCallID *string
	if len(ranked) > 0 {
		bestCallID = &ranked[0].CallID
	}
	if _, err = tx.ExecContext(ctx,
		`UPDATE investigations SET status = ?, completed_at = ?, best_call_id = ?, recommendation_summary = ? WHERE id = ?`,
		models.InvestigationStatusCompleted, time.Now().UTC(), bestCallID, summary, investigationID); err != nil {
		return errors.Wrap(err, "mark completed")
	}

	if err = tx.Commit(); err != nil {
		return errors.Wrap(err, "commit complete investigation")
	}

	_, err = r.events.Append(ctx, investigationID, nil, models.EventPayload{
		Type:            models.EventInvestigationCompleted,
		InvestigationID: investigationID,
	})
	return err
}

// Fail marks the investigation failed and appends an investigation.failed
// event carrying the reason. This is the process-level fatal path.
func (r *InvestigationRepository) Fail(ctx context.Context, investigationID string, reason string) error {
	if _, err := r.dbs.ReadWrite.ExecContext(ctx,
		`UPDATE investigations SET status = ?, completed_at = ? WHERE id = ?`,
		models.InvestigationStatusFailed, time.Now().UTC(), investigationID); err != nil {
		return errors.Wrap(err, "mark failed", slog.String("investigation_id", investigationID))
	}
	_, err := r.events.Append(ctx, investigationID, nil, models.EventPayload{
		Type:            models.EventInvestigationFailed,
		InvestigationID: investigationID,
		Reason:          reason,
	})
	return err
}

// Snapshot assembles the current state of the investigation, its calls, and
// transcript lines, as served to a freshly connected feed consumer.
func (r *InvestigationRepository) Snapshot(ctx context.Context, investigationID string) (*models.EventPayload, error) {
	investigation, err := r.Get(ctx, investigationID)
	if err != nil {
		return nil, err
	}

	calls, err := r.CallsWithContacts(ctx, investigationID)
	if err != nil {
		return nil, err
	}
	progress := make([]models.CallProgress, 0, len(calls))
	for _, call := range calls {
		progress = append(progress, models.CallProgress{
			ID:            call.Call.ID,
			ContactName:   call.Contact.Name,
			Phone:         call.Contact.Phone,
			Language:      call.Contact.Language,
			Status:        call.Call.Status,
			Score:         call.Call.Score,
			FailureReason: call.Call.FailureReason,
			UpdatedAt:     call.Call.UpdatedAt,
		})
	}

	var transcripts []models.TranscriptLine
	stmt := `SELECT t.id, t.call_id, t.contact_name, t.speaker, t.text, t.created_at
	FROM transcript_lines t JOIN calls c ON c.id = t.call_id
	WHERE c.investigation_id = ? ORDER BY t.id ASC LIMIT 500`
	if err = r.dbs.ReadOnly.SelectContext(ctx, &transcripts, stmt, investigationID); err != nil {
		return nil, errors.Wrap(err, "query transcripts", slog.String("investigation_id", investigationID))
	}

	return &models.EventPayload{
		Type:            models.EventInvestigationSnapshot,
		InvestigationID: investigationID,
		Status:          investigation.Status,
		Requirement:     investigation.Requirement,
		Calls:           progress,
		Transcripts:     transcripts,
	}, nil
}

// Results returns the ranked recommendations and action items for a finished
// investigation.
func (r *InvestigationRepository) Results(ctx context.Context, investigationID string) (*Results, error) {
	investigation, err := r.Get(ctx, investigationID)
	if err != nil {
		return nil, err
	}

	var ranked []models.RankedRecommendation
	stmt := `SELECT investigation_id, call_id, "rank", contact_name, phone, score, summary, reasoning,
	price, availability, location_fit, is_best
	FROM recommendations WHERE investigation_id = ? ORDER BY "rank" ASC`
	if err = r.dbs.ReadOnly.SelectContext(ctx, &ranked, stmt, investigationID); err != nil {
		return nil, errors.Wrap(err, "query recommendations", slog.String("investigation_id", investigationID))
	}

	var actionItems []models.ActionItem
	stmt = `SELECT id, investigation_id, priority, title, detail
	FROM action_items WHERE investigation_id = ?
	ORDER BY CASE priority WHEN 'high' THEN 0 WHEN 'medium' THEN 1 ELSE 2 END, created_at ASC`
	if err = r.dbs.ReadOnly.SelectContext(ctx, &actionItems, stmt, investigationID); err != nil {
		return nil, errors.Wrap(err, "query action items", slog.String("investigation_id", investigationID))
	}

	summary := "Calls are still running. Recommendation will appear once analysis is complete."
	if investigation.RecommendationSummary != nil {
		summary = *investigation.RecommendationSummary
	}
	return &Results{
		InvestigationID:       investigation.ID,
		Requirement:           investigation.Requirement,
		Status:                investigation.Status,
		BestCallID:            investigation.BestCallID,
		RecommendationSummary: summary,
		Ranked:                ranked,
		ActionItems:           actionItems,
	}, nil
}
