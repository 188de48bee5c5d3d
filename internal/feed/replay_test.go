package feed_test

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/myrjola/callagent/db"
	"github.com/myrjola/callagent/internal/feed"
	"github.com/myrjola/callagent/internal/models"
	"github.com/myrjola/callagent/internal/repositories"
	"github.com/myrjola/callagent/internal/testhelpers"
)

// Folding the complete event log must reconstruct the same state as reading
// the tables directly. This is what makes the cursor contract trustworthy: a
// consumer can resume from any point without missing a transition.
func TestReplay_reconstructsStateFromEventLog(t *testing.T) {
	t.Parallel()
	logger := testhelpers.NewLogger(os.Stdout)
	dbs, err := db.NewDatabase(context.Background(), ":memory:", logger)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = dbs.Close()
	})

	events := repositories.NewEventLogRepository(dbs, logger)
	calls := repositories.NewCallRepository(dbs, events, logger)
	investigations := repositories.NewInvestigationRepository(dbs, events, logger)
	ctx := context.Background()

	id, err := investigations.Create(ctx, "2BHK under 30k", 2, []models.ContactInput{
		{Name: "Asha", Phone: "+919000000001", Language: "english"},
		{Name: "Binod", Phone: "+919000000002", Language: "hindi"},
	})
	require.NoError(t, err)
	require.NoError(t, investigations.MarkRunning(ctx, id))

	callRows, err := investigations.CallsWithContacts(ctx, id)
	require.NoError(t, err)
	first := callRows[0].Call.ID
	second := callRows[1].Call.ID

	_, err = calls.UpdateStatus(ctx, repositories.UpdateCallStatus{CallID: first, Status: models.CallStatusDialing})
	require.NoError(t, err)
	_, err = calls.UpdateStatus(ctx, repositories.UpdateCallStatus{CallID: first, Status: models.CallStatusConnected})
	require.NoError(t, err)
	_, err = calls.AppendTranscript(ctx, first, models.SpeakerAgent, "Hello, is the flat available?")
	require.NoError(t, err)
	_, err = calls.AppendTranscript(ctx, first, models.SpeakerContact, "Yes, 28k per month.")
	require.NoError(t, err)
	score := 90
	_, err = calls.UpdateStatus(ctx, repositories.UpdateCallStatus{
		CallID: first, Status: models.CallStatusCompleted, Score: &score,
	})
	require.NoError(t, err)

	reason := "dial timeout"
	_, err = calls.UpdateStatus(ctx, repositories.UpdateCallStatus{
		CallID: second, Status: models.CallStatusFailed, FailureReason: &reason,
	})
	require.NoError(t, err)

	require.NoError(t, investigations.Complete(ctx, id, nil, nil, "done"))

	log, err := events.Since(ctx, id, 0, 1000)
	require.NoError(t, err)
	state := feed.Replay(log)

	require.Equal(t, id, state.InvestigationID)
	require.Equal(t, models.InvestigationStatusCompleted, state.Status)
	require.Equal(t, "2BHK under 30k", state.Requirement)
	require.Len(t, state.Calls, 2)

	byID := map[string]models.CallProgress{}
	for _, call := range state.Calls {
		byID[call.ID] = call
	}
	require.Equal(t, models.CallStatusCompleted, byID[first].Status)
	require.Equal(t, 90, *byID[first].Score)
	require.Equal(t, models.CallStatusFailed, byID[second].Status)
	require.Equal(t, "dial timeout", *byID[second].FailureReason)

	require.Len(t, state.Transcripts, 2)
	require.Equal(t, "Hello, is the flat available?", state.Transcripts[0].Text)
	require.Equal(t, log[len(log)-1].Cursor, state.Cursor)

	// Replaying from a mid-stream cursor over a snapshot-seeded state agrees
	// with the full replay.
	resumeFrom := log[len(log)/2].Cursor
	partial := feed.Replay(log[:len(log)/2+1])
	tail, err := events.Since(ctx, id, resumeFrom, 1000)
	require.NoError(t, err)
	for _, event := range tail {
		partial.Apply(event)
	}
	require.Equal(t, state.Status, partial.Status)
	require.Equal(t, state.Cursor, partial.Cursor)
	require.Len(t, partial.Transcripts, len(state.Transcripts))
}

func TestReplay_failureReason(t *testing.T) {
	t.Parallel()
	state := feed.Replay([]models.Event{
		{Cursor: 1, Payload: models.EventPayload{
			Type:            models.EventInvestigationSnapshot,
			InvestigationID: "inv-1",
			Status:          models.InvestigationStatusRunning,
			Requirement:     "find a plumber",
		}},
		{Cursor: 2, Payload: models.EventPayload{
			Type:            models.EventInvestigationFailed,
			InvestigationID: "inv-1",
			Reason:          "storage unavailable",
		}},
	})
	require.Equal(t, models.InvestigationStatusFailed, state.Status)
	require.Equal(t, "storage unavailable", state.FailureReason)
	require.Equal(t, int64(2), state.Cursor)
}
