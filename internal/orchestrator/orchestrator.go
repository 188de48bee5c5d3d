// Package orchestrator fans an investigation's queued calls out to the runner
// under a bounded concurrency gate, retries transient failures per call, and
// folds the surviving findings into a ranked recommendation.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/myrjola/callagent/internal/errors"
	"github.com/myrjola/callagent/internal/logging"
	"github.com/myrjola/callagent/internal/models"
	"github.com/myrjola/callagent/internal/recommend"
	"github.com/myrjola/callagent/internal/repositories"
	"github.com/myrjola/callagent/internal/retry"
	"github.com/myrjola/callagent/internal/runner"
)

const (
	minConcurrency = 1
	maxConcurrency = 3
)

// CallRunner is the per-call state machine the orchestrator drives.
type CallRunner interface {
	Run(ctx context.Context, input runner.Input, observer runner.Observer) (*runner.Output, error)
}

type Orchestrator struct {
	investigations *repositories.InvestigationRepository
	calls          *repositories.CallRepository
	runner         CallRunner
	retryPolicy    retry.Policy
	logger         *slog.Logger
}

// DefaultRetryPolicy gives each call three attempts with exponential backoff,
// retrying only transient failures.
func DefaultRetryPolicy() retry.Policy {
	return retry.Policy{
		MaxAttempts: 3,
		Backoff:     retry.ExponentialBackoff(time.Second),
		Retryable:   retry.Transient,
	}
}

func New(
	investigations *repositories.InvestigationRepository,
	calls *repositories.CallRepository,
	callRunner CallRunner,
	retryPolicy retry.Policy,
	logger *slog.Logger,
) *Orchestrator {
	return &Orchestrator{
		investigations: investigations,
		calls:          calls,
		runner:         callRunner,
		retryPolicy:    retryPolicy,
		logger:         logger.With("source", "Orchestrator"),
	}
}

// RunInvestigation executes every queued call of the investigation and records
// the recommendation. A call that fails terminally stays contained: the other
// calls keep going and ranking proceeds over whatever completed. Only
// process-level faults (storage, missing investigation) fail the investigation
// itself.
func (o *Orchestrator) RunInvestigation(ctx context.Context, investigationID string) error {
	ctx = logging.WithAttrs(ctx, slog.String("investigation_id", investigationID))

	investigation, err := o.investigations.Get(ctx, investigationID)
	if err != nil {
		return o.fail(ctx, investigationID, err)
	}
	calls, err := o.investigations.CallsWithContacts(ctx, investigationID)
	if err != nil {
		return o.fail(ctx, investigationID, err)
	}
	if err = o.investigations.MarkRunning(ctx, investigationID); err != nil {
		return o.fail(ctx, investigationID, err)
	}

	concurrency := min(max(investigation.Concurrency, minConcurrency), maxConcurrency)
	o.logger.LogAttrs(ctx, slog.LevelInfo, "investigation starting",
		slog.Int("calls", len(calls)), slog.Int("concurrency", concurrency))

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(concurrency)
	for _, call := range calls {
		group.Go(func() error {
			o.runCall(groupCtx, investigation, call)
			return nil
		})
	}
	if err = group.Wait(); err != nil {
		return o.fail(ctx, investigationID, err)
	}

	candidates, err := o.investigations.Candidates(ctx, investigationID)
	if err != nil {
		return o.fail(ctx, investigationID, err)
	}
	ranked := recommend.Build(investigation.Requirement, candidates)
	summary := recommend.Summary(investigation.Requirement, ranked)
	actionItems := recommend.ActionItems(investigation.Requirement, ranked)

	if err = o.investigations.Complete(ctx, investigationID, ranked, actionItems, summary); err != nil {
		return o.fail(ctx, investigationID, err)
	}
	o.logger.LogAttrs(ctx, slog.LevelInfo, "investigation completed",
		slog.Int("ranked", len(ranked)))
	return nil
}

// runCall drives one call through the retry policy. Its error never escapes;
// a terminally failed call is recorded on the call row and the investigation
// moves on.
func (o *Orchestrator) runCall(ctx context.Context, investigation *models.Investigation, call repositories.CallWithContact) {
	ctx = logging.WithAttrs(ctx, slog.String("call_id", call.Call.ID))
	observer := &storeObserver{calls: o.calls, callID: call.Call.ID}

	if _, err := o.calls.UpdateStatus(ctx, repositories.UpdateCallStatus{
		CallID: call.Call.ID,
		Status: models.CallStatusDialing,
	}); err != nil {
		o.logger.LogAttrs(ctx, slog.LevelError, "call status update failed", errors.SlogError(err))
		return
	}

	onRetry := func(ctx context.Context, attempt int) error {
		o.logger.LogAttrs(ctx, slog.LevelWarn, "retrying call", slog.Int("attempt", attempt))
		if _, err := o.calls.UpdateStatus(ctx, repositories.UpdateCallStatus{
			CallID:             call.Call.ID,
			Status:             models.CallStatusDialing,
			ClearFailureReason: true,
		}); err != nil {
			return err
		}
		_, err := o.calls.AppendTranscript(ctx, call.Call.ID, models.SpeakerSystem,
			fmt.Sprintf("Retry attempt %d/%d after transient error.", attempt, o.retryPolicy.MaxAttempts))
		return err
	}

	err := retry.Do(ctx, o.retryPolicy, onRetry, func(ctx context.Context) error {
		output, err := o.runner.Run(ctx, runner.Input{
			InvestigationID: investigation.ID,
			CallID:          call.Call.ID,
			Requirement:     investigation.Requirement,
			Contact:         call.Contact,
		}, observer)
		if err != nil {
			return err
		}
		return o.completeCall(ctx, call.Call.ID, output.Finding)
	})
	if err != nil {
		o.failCall(ctx, call.Call.ID, err)
	}
}

func (o *Orchestrator) completeCall(ctx context.Context, callID string, finding *models.ExtractedFinding) error {
	if _, err := o.calls.UpdateStatus(ctx, repositories.UpdateCallStatus{
		CallID: callID,
		Status: models.CallStatusAnalyzing,
	}); err != nil {
		return err
	}
	if err := o.calls.SaveFinding(ctx, callID, *finding); err != nil {
		return err
	}
	score := finding.Score
	_, err := o.calls.UpdateStatus(ctx, repositories.UpdateCallStatus{
		CallID: callID,
		Status: models.CallStatusCompleted,
		Score:  &score,
	})
	return err
}

func (o *Orchestrator) failCall(ctx context.Context, callID string, cause error) {
	o.logger.LogAttrs(ctx, slog.LevelError, "call failed", errors.SlogError(cause))
	reason := cause.Error()
	if _, err := o.calls.UpdateStatus(ctx, repositories.UpdateCallStatus{
		CallID:        callID,
		Status:        models.CallStatusFailed,
		FailureReason: &reason,
	}); err != nil {
		o.logger.LogAttrs(ctx, slog.LevelError, "recording call failure failed", errors.SlogError(err))
	}
}

func (o *Orchestrator) fail(ctx context.Context, investigationID string, cause error) error {
	o.logger.LogAttrs(ctx, slog.LevelError, "investigation failed", errors.SlogError(cause))
	if err := o.investigations.Fail(ctx, investigationID, cause.Error()); err != nil {
		o.logger.LogAttrs(ctx, slog.LevelError, "recording investigation failure failed", errors.SlogError(err))
	}
	return cause
}

// storeObserver persists runner side effects through the call state store so
// each one lands in the event log.
type storeObserver struct {
	calls  *repositories.CallRepository
	callID string
}

func (s *storeObserver) OnStatus(ctx context.Context, status models.CallStatus, details *runner.SessionDetails) error {
	update := repositories.UpdateCallStatus{CallID: s.callID, Status: status}
	if details != nil {
		update.RoomName = &details.RoomName
		update.ParticipantIdentity = &details.ParticipantIdentity
		update.ProviderCallID = &details.ProviderCallID
	}
	_, err := s.calls.UpdateStatus(ctx, update)
	return err
}

func (s *storeObserver) OnTranscript(ctx context.Context, speaker models.TranscriptSpeaker, text string) error {
	_, err := s.calls.AppendTranscript(ctx, s.callID, speaker, text)
	return err
}

func (s *storeObserver) OnRecordingReady(ctx context.Context, recordingURL string) error {
	return s.calls.PublishRecording(ctx, s.callID, recordingURL)
}
