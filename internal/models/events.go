package models

import "encoding/json"

type EventType string

const (
	EventInvestigationSnapshot  EventType = "investigation.snapshot"
	EventCallStatus             EventType = "call.status"
	EventCallTranscript         EventType = "call.transcript"
	EventInvestigationCompleted EventType = "investigation.completed"
	EventInvestigationFailed    EventType = "investigation.failed"
)

// EventPayload is the wire body of one event log record. Exactly one of the
// pointer fields below is set depending on Type. Feed consumers replaying all
// payloads for an investigation in cursor order can reconstruct the current
// call and transcript state.
type EventPayload struct {
	Type            EventType `json:"type"`
	InvestigationID string    `json:"investigationId"`

	// investigation.snapshot
	Status      InvestigationStatus `json:"status,omitempty"`
	Requirement string              `json:"requirement,omitempty"`
	Calls       []CallProgress      `json:"calls,omitempty"`
	Transcripts []TranscriptLine    `json:"transcripts,omitempty"`

	// call.status
	Call *CallProgress `json:"call,omitempty"`

	// call.transcript
	Transcript *TranscriptLine `json:"transcript,omitempty"`

	// investigation.failed
	Reason string `json:"reason,omitempty"`
}

// EventRecord is one row of the append-only event log. ID is the cursor:
// strictly increasing per investigation, assigned by the database.
type EventRecord struct {
	ID              int64        `db:"id"`
	InvestigationID string       `db:"investigation_id"`
	CallID          *string      `db:"call_id"`
	EventType       EventType    `db:"event_type"`
	Payload         EventPayload `db:"-"`
}

// Event is the consumer-facing pairing of a cursor with its payload.
type Event struct {
	Cursor  int64        `json:"cursor"`
	Payload EventPayload `json:"payload"`
}

// MarshalPayload serializes the payload for storage.
func (r *EventRecord) MarshalPayload() ([]byte, error) {
	return json.Marshal(r.Payload)
}
