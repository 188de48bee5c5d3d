package orchestrator_test

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/myrjola/callagent/db"
	"github.com/myrjola/callagent/internal/errors"
	"github.com/myrjola/callagent/internal/models"
	"github.com/myrjola/callagent/internal/orchestrator"
	"github.com/myrjola/callagent/internal/repositories"
	"github.com/myrjola/callagent/internal/retry"
	"github.com/myrjola/callagent/internal/runner"
	"github.com/myrjola/callagent/internal/testhelpers"
)

type fixture struct {
	events         *repositories.EventLogRepository
	calls          *repositories.CallRepository
	investigations *repositories.InvestigationRepository
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	logger := testhelpers.NewLogger(os.Stdout)
	dbs, err := db.NewDatabase(context.Background(), ":memory:", logger)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = dbs.Close()
	})

	events := repositories.NewEventLogRepository(dbs, logger)
	calls := repositories.NewCallRepository(dbs, events, logger)
	return fixture{
		events:         events,
		calls:          calls,
		investigations: repositories.NewInvestigationRepository(dbs, events, logger),
	}
}

func fastRetryPolicy() retry.Policy {
	return retry.Policy{
		MaxAttempts: 3,
		Backoff:     func(int) time.Duration { return time.Millisecond },
		Retryable:   retry.Transient,
	}
}

// fakeRunner scripts per-contact outcomes and tracks concurrent executions.
type fakeRunner struct {
	mu            sync.Mutex
	active        int
	maxActive     int
	attemptsByKey map[string]int
	run           func(input runner.Input, attempt int) (*runner.Output, error)
	hold          time.Duration
}

func (f *fakeRunner) Run(ctx context.Context, input runner.Input, _ runner.Observer) (*runner.Output, error) {
	f.mu.Lock()
	if f.attemptsByKey == nil {
		f.attemptsByKey = map[string]int{}
	}
	f.attemptsByKey[input.Contact.Name]++
	attempt := f.attemptsByKey[input.Contact.Name]
	f.active++
	if f.active > f.maxActive {
		f.maxActive = f.active
	}
	f.mu.Unlock()

	if f.hold > 0 {
		select {
		case <-ctx.Done():
		case <-time.After(f.hold):
		}
	}

	f.mu.Lock()
	f.active--
	f.mu.Unlock()
	return f.run(input, attempt)
}

func finding(summary string, score int) *models.ExtractedFinding {
	return &models.ExtractedFinding{
		Summary:     summary,
		Constraints: []string{},
		KeyFacts:    []string{},
		Confidence:  float64(score) / 100,
		Score:       score,
	}
}

func contacts(names ...string) []models.ContactInput {
	result := make([]models.ContactInput, 0, len(names))
	for i, name := range names {
		result = append(result, models.ContactInput{
			Name:     name,
			Phone:    "+9190000000" + string(rune('0'+i)),
			Language: "english",
		})
	}
	return result
}

func TestRunInvestigation_completesAndRanks(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	id, err := f.investigations.Create(ctx, "2BHK under 30k", 2, contacts("Asha", "Binod"))
	require.NoError(t, err)

	fake := &fakeRunner{run: func(input runner.Input, _ int) (*runner.Output, error) {
		if input.Contact.Name == "Asha" {
			return &runner.Output{TranscriptText: "t", Finding: finding("28k available", 90)}, nil
		}
		return &runner.Output{TranscriptText: "t", Finding: finding("35k only", 60)}, nil
	}}
	o := orchestrator.New(f.investigations, f.calls, fake, fastRetryPolicy(), testhelpers.NewLogger(os.Stdout))
	require.NoError(t, o.RunInvestigation(ctx, id))

	investigation, err := f.investigations.Get(ctx, id)
	require.NoError(t, err)
	require.Equal(t, models.InvestigationStatusCompleted, investigation.Status)
	require.NotNil(t, investigation.BestCallID)
	require.NotNil(t, investigation.RecommendationSummary)

	calls, err := f.investigations.CallsWithContacts(ctx, id)
	require.NoError(t, err)
	for _, call := range calls {
		require.Equal(t, models.CallStatusCompleted, call.Call.Status)
		require.NotNil(t, call.Call.Score)
	}

	results, err := f.investigations.Results(ctx, id)
	require.NoError(t, err)
	require.Len(t, results.Ranked, 2)
	require.Equal(t, "Asha", results.Ranked[0].ContactName)
	require.True(t, results.Ranked[0].IsBest)
	require.NotEmpty(t, results.ActionItems)
}

func TestRunInvestigation_boundsConcurrency(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	id, err := f.investigations.Create(ctx, "survey six shops", 2,
		contacts("A", "B", "C", "D", "E", "F"))
	require.NoError(t, err)

	fake := &fakeRunner{
		hold: 20 * time.Millisecond,
		run: func(runner.Input, int) (*runner.Output, error) {
			return &runner.Output{TranscriptText: "t", Finding: finding("ok", 50)}, nil
		},
	}
	o := orchestrator.New(f.investigations, f.calls, fake, fastRetryPolicy(), testhelpers.NewLogger(os.Stdout))
	require.NoError(t, o.RunInvestigation(ctx, id))
	require.LessOrEqual(t, fake.maxActive, 2)
	require.Greater(t, fake.maxActive, 0)
}

func TestRunInvestigation_clampsRequestedConcurrency(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	id, err := f.investigations.Create(ctx, "survey shops", 99, contacts("A", "B", "C", "D", "E"))
	require.NoError(t, err)

	fake := &fakeRunner{
		hold: 20 * time.Millisecond,
		run: func(runner.Input, int) (*runner.Output, error) {
			return &runner.Output{TranscriptText: "t", Finding: finding("ok", 50)}, nil
		},
	}
	o := orchestrator.New(f.investigations, f.calls, fake, fastRetryPolicy(), testhelpers.NewLogger(os.Stdout))
	require.NoError(t, o.RunInvestigation(ctx, id))
	require.LessOrEqual(t, fake.maxActive, 3)
}

func TestRunInvestigation_retriesTransientFailure(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	id, err := f.investigations.Create(ctx, "2BHK under 30k", 1, contacts("Asha"))
	require.NoError(t, err)

	fake := &fakeRunner{run: func(_ runner.Input, attempt int) (*runner.Output, error) {
		if attempt == 1 {
			return nil, errors.New("provider network timeout")
		}
		return &runner.Output{TranscriptText: "t", Finding: finding("28k available", 90)}, nil
	}}
	o := orchestrator.New(f.investigations, f.calls, fake, fastRetryPolicy(), testhelpers.NewLogger(os.Stdout))
	require.NoError(t, o.RunInvestigation(ctx, id))

	require.Equal(t, 2, fake.attemptsByKey["Asha"])

	calls, err := f.investigations.CallsWithContacts(ctx, id)
	require.NoError(t, err)
	require.Equal(t, models.CallStatusCompleted, calls[0].Call.Status)
	require.Nil(t, calls[0].Call.FailureReason)

	snapshot, err := f.calls.TranscriptSnapshot(ctx, calls[0].Call.ID)
	require.NoError(t, err)
	require.Contains(t, snapshot.Text, "Retry attempt 2/3 after transient error.")
}

func TestRunInvestigation_terminalFailureStaysContained(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	id, err := f.investigations.Create(ctx, "2BHK under 30k", 2, contacts("Asha", "Binod"))
	require.NoError(t, err)

	fake := &fakeRunner{run: func(input runner.Input, _ int) (*runner.Output, error) {
		if input.Contact.Name == "Asha" {
			return nil, errors.Wrap(runner.ErrNoTranscript, "wait for conversation")
		}
		return &runner.Output{TranscriptText: "t", Finding: finding("available", 75)}, nil
	}}
	o := orchestrator.New(f.investigations, f.calls, fake, fastRetryPolicy(), testhelpers.NewLogger(os.Stdout))
	require.NoError(t, o.RunInvestigation(ctx, id))

	require.Equal(t, 1, fake.attemptsByKey["Asha"])

	investigation, err := f.investigations.Get(ctx, id)
	require.NoError(t, err)
	require.Equal(t, models.InvestigationStatusCompleted, investigation.Status)

	calls, err := f.investigations.CallsWithContacts(ctx, id)
	require.NoError(t, err)
	require.Equal(t, models.CallStatusFailed, calls[0].Call.Status)
	require.NotNil(t, calls[0].Call.FailureReason)
	require.Equal(t, models.CallStatusCompleted, calls[1].Call.Status)

	results, err := f.investigations.Results(ctx, id)
	require.NoError(t, err)
	require.Len(t, results.Ranked, 1)
	require.Equal(t, "Binod", results.Ranked[0].ContactName)
}

func TestRunInvestigation_transientExhaustionFailsCall(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	id, err := f.investigations.Create(ctx, "2BHK under 30k", 1, contacts("Asha"))
	require.NoError(t, err)

	fake := &fakeRunner{run: func(runner.Input, int) (*runner.Output, error) {
		return nil, errors.New("dial timeout")
	}}
	o := orchestrator.New(f.investigations, f.calls, fake, fastRetryPolicy(), testhelpers.NewLogger(os.Stdout))
	require.NoError(t, o.RunInvestigation(ctx, id))

	require.Equal(t, 3, fake.attemptsByKey["Asha"])

	calls, err := f.investigations.CallsWithContacts(ctx, id)
	require.NoError(t, err)
	require.Equal(t, models.CallStatusFailed, calls[0].Call.Status)
	require.Contains(t, *calls[0].Call.FailureReason, "dial timeout")

	// No call produced data, so the recommendation says exactly that.
	results, err := f.investigations.Results(ctx, id)
	require.NoError(t, err)
	require.Equal(t,
		"No completed call produced enough structured data to recommend an option yet.",
		results.RecommendationSummary)
}

func TestRunInvestigation_missingInvestigationFails(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	o := orchestrator.New(f.investigations, f.calls,
		&fakeRunner{run: func(runner.Input, int) (*runner.Output, error) { return nil, nil }},
		fastRetryPolicy(), testhelpers.NewLogger(os.Stdout))
	err := o.RunInvestigation(context.Background(), "missing")
	require.ErrorIs(t, err, repositories.ErrInvestigationNotFound)
}
