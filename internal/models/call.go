package models

import "time"

type CallStatus string

const (
	CallStatusQueued    CallStatus = "queued"
	CallStatusDialing   CallStatus = "dialing"
	CallStatusRinging   CallStatus = "ringing"
	CallStatusConnected CallStatus = "connected"
	CallStatusAnalyzing CallStatus = "analyzing"
	CallStatusCompleted CallStatus = "completed"
	CallStatusFailed    CallStatus = "failed"
)

// Call is one contact's dial-and-converse-and-extract unit of work within an
// investigation. Only the runner that owns the call mutates it, and only
// through the call repository so that every change lands in the event log.
type Call struct {
	ID                  string     `db:"id" json:"id"`
	InvestigationID     string     `db:"investigation_id" json:"investigationId"`
	ContactID           string     `db:"contact_id" json:"contactId"`
	Status              CallStatus `db:"status" json:"status"`
	Score               *int       `db:"score" json:"score"`
	FailureReason       *string    `db:"failure_reason" json:"failureReason"`
	RoomName            *string    `db:"room_name" json:"roomName"`
	ParticipantIdentity *string    `db:"participant_identity" json:"participantIdentity"`
	ProviderCallID      *string    `db:"provider_call_id" json:"providerCallId"`
	RecordingURL        *string    `db:"recording_url" json:"recordingUrl"`
	StartedAt           *time.Time `db:"started_at" json:"startedAt"`
	EndedAt             *time.Time `db:"ended_at" json:"endedAt"`
	UpdatedAt           time.Time  `db:"updated_at" json:"updatedAt"`
}

type TranscriptSpeaker string

const (
	SpeakerAgent   TranscriptSpeaker = "agent"
	SpeakerContact TranscriptSpeaker = "contact"
	SpeakerSystem  TranscriptSpeaker = "system"
)

// TranscriptLine is one utterance in a call. Append-only, ordered by creation.
type TranscriptLine struct {
	ID          int64             `db:"id" json:"id"`
	CallID      string            `db:"call_id" json:"callId"`
	ContactName string            `db:"contact_name" json:"contactName"`
	Speaker     TranscriptSpeaker `db:"speaker" json:"speaker"`
	Text        string            `db:"text" json:"text"`
	CreatedAt   time.Time         `db:"created_at" json:"createdAt"`
}

// ExtractedFinding is the structured result distilled from a completed call's
// transcript. At most one per call; a retry overwrites the previous finding.
type ExtractedFinding struct {
	CallID       string   `db:"call_id" json:"callId"`
	Summary      string   `db:"summary" json:"summary"`
	Price        *float64 `db:"price" json:"price"`
	Availability *string  `db:"availability" json:"availability"`
	LocationFit  *string  `db:"location_fit" json:"locationFit"`
	Constraints  []string `db:"-" json:"constraints"`
	KeyFacts     []string `db:"-" json:"keyFacts"`
	Confidence   float64  `db:"confidence" json:"confidence"`
	Score        int      `db:"score" json:"score"`
}

// CallProgress is the wire form of a call used in feed events.
type CallProgress struct {
	ID            string     `json:"id"`
	ContactName   string     `json:"contactName"`
	Phone         string     `json:"phone"`
	Language      string     `json:"language"`
	Status        CallStatus `json:"status"`
	Score         *int       `json:"score,omitempty"`
	FailureReason *string    `json:"failureReason,omitempty"`
	UpdatedAt     time.Time  `json:"updatedAt"`
}
