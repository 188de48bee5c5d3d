package models

import "time"

type InvestigationStatus string

const (
	InvestigationStatusDraft     InvestigationStatus = "draft"
	InvestigationStatusRunning   InvestigationStatus = "running"
	InvestigationStatusCompleted InvestigationStatus = "completed"
	InvestigationStatusFailed    InvestigationStatus = "failed"
)

// Investigation is one user-initiated batch of outbound calls pursuing a single
// requirement. It is created on intake and mutated only by the orchestrator.
// Completed and failed are terminal.
type Investigation struct {
	ID                    string              `db:"id" json:"id"`
	Requirement           string              `db:"requirement" json:"requirement"`
	Status                InvestigationStatus `db:"status" json:"status"`
	Concurrency           int                 `db:"concurrency" json:"concurrency"`
	BestCallID            *string             `db:"best_call_id" json:"bestCallId"`
	RecommendationSummary *string             `db:"recommendation_summary" json:"recommendationSummary"`
	CreatedAt             time.Time           `db:"created_at" json:"createdAt"`
	StartedAt             *time.Time          `db:"started_at" json:"startedAt"`
	CompletedAt           *time.Time          `db:"completed_at" json:"completedAt"`
}

// Contact is one person reachable by phone within an investigation.
type Contact struct {
	ID              string `db:"id" json:"id"`
	InvestigationID string `db:"investigation_id" json:"investigationId"`
	Name            string `db:"name" json:"name"`
	Phone           string `db:"phone" json:"phone"`
	Language        string `db:"language" json:"language"`
}

// ContactInput is the intake form of a contact before persistence.
type ContactInput struct {
	Name     string `json:"name"`
	Phone    string `json:"phone"`
	Language string `json:"language"`
}
