package feed

import "github.com/myrjola/callagent/internal/models"

// State is the projection a consumer holds after folding an event stream.
type State struct {
	InvestigationID string
	Status          models.InvestigationStatus
	Requirement     string
	FailureReason   string
	Calls           []models.CallProgress
	Transcripts     []models.TranscriptLine
	Cursor          int64
}

// Replay folds events in cursor order into a State. Folding the full log of
// an investigation yields the same call and transcript state as reading the
// tables directly, which is what lets a consumer resume from any cursor.
func Replay(events []models.Event) State {
	var state State
	for _, event := range events {
		state.Apply(event)
	}
	return state
}

// Apply folds one event into the state.
func (s *State) Apply(event models.Event) {
	s.Cursor = event.Cursor
	payload := event.Payload
	s.InvestigationID = payload.InvestigationID

	switch payload.Type {
	case models.EventInvestigationSnapshot:
		s.Status = payload.Status
		s.Requirement = payload.Requirement
		s.Calls = append([]models.CallProgress(nil), payload.Calls...)
		s.Transcripts = append([]models.TranscriptLine(nil), payload.Transcripts...)

	case models.EventCallStatus:
		if payload.Call != nil {
			s.upsertCall(*payload.Call)
		}

	case models.EventCallTranscript:
		if payload.Transcript != nil {
			s.Transcripts = append(s.Transcripts, *payload.Transcript)
		}

	case models.EventInvestigationCompleted:
		s.Status = models.InvestigationStatusCompleted

	case models.EventInvestigationFailed:
		s.Status = models.InvestigationStatusFailed
		s.FailureReason = payload.Reason
	}
}

func (s *State) upsertCall(call models.CallProgress) {
	for i := range s.Calls {
		if s.Calls[i].ID == call.ID {
			s.Calls[i] = call
			return
		}
	}
	s.Calls = append(s.Calls, call)
}
