// Package runner drives a single investigation call through its state
// machine: dial, connect, converse, record, extract. Every side effect goes
// through the observer so the whole run is visible in the event feed while it
// happens, not just at completion.
package runner

import (
	"context"
	"log/slog"
	"time"

	"github.com/myrjola/callagent/internal/errors"
	"github.com/myrjola/callagent/internal/logging"
	"github.com/myrjola/callagent/internal/models"
	"github.com/myrjola/callagent/internal/repositories"
	"github.com/myrjola/callagent/internal/telephony"
)

// ErrNoTranscript marks a call where the agent and contact never produced
// conversational content. Retrying is pointless without the voice agent.
var ErrNoTranscript = errors.NewSentinel("no transcript captured from the live call, ensure the voice agent is running and dispatched")

// SessionDetails carries the external session handles attached once the dial
// succeeds.
type SessionDetails struct {
	RoomName            string
	ParticipantIdentity string
	ProviderCallID      string
}

// Observer receives every side effect of a run. Implementations funnel these
// into the call state store, which appends each one to the event log.
type Observer interface {
	OnStatus(ctx context.Context, status models.CallStatus, details *SessionDetails) error
	OnTranscript(ctx context.Context, speaker models.TranscriptSpeaker, text string) error
	OnRecordingReady(ctx context.Context, recordingURL string) error
}

// Extractor distills a transcript into a structured finding.
type Extractor interface {
	ExtractFinding(ctx context.Context, requirement, transcriptText string) (*models.ExtractedFinding, error)
}

// TranscriptSource exposes the current transcript of a call. The runner polls
// it because transcript lines arrive from the voice agent, not from the
// runner itself.
type TranscriptSource interface {
	TranscriptSnapshot(ctx context.Context, callID string) (repositories.TranscriptSnapshot, error)
}

// Config bounds the externally-waiting phases of a run.
type Config struct {
	// SessionTimeout caps how long one call may stay connected.
	SessionTimeout time.Duration
	// TranscriptWaitAttempts is how many times to poll for conversational
	// content before giving up, one TranscriptPollInterval apart.
	TranscriptWaitAttempts int
	TranscriptPollInterval time.Duration
}

func DefaultConfig() Config {
	return Config{
		SessionTimeout:         8 * time.Minute,
		TranscriptWaitAttempts: 12,
		TranscriptPollInterval: time.Second,
	}
}

type Runner struct {
	dialer      telephony.Dialer
	recorder    telephony.Recorder
	extractor   Extractor
	transcripts TranscriptSource
	config      Config
	logger      *slog.Logger
}

func New(
	dialer telephony.Dialer,
	recorder telephony.Recorder,
	extractor Extractor,
	transcripts TranscriptSource,
	config Config,
	logger *slog.Logger,
) *Runner {
	return &Runner{
		dialer:      dialer,
		recorder:    recorder,
		extractor:   extractor,
		transcripts: transcripts,
		config:      config,
		logger:      logger.With("source", "Runner"),
	}
}

// Input identifies one call attempt.
type Input struct {
	InvestigationID string
	CallID          string
	Requirement     string
	Contact         models.Contact
}

// Output is the result of a successful run.
type Output struct {
	TranscriptText string
	Finding        *models.ExtractedFinding
}

// Run executes one attempt of the call state machine. A failure in any step
// aborts the remaining sequence; the orchestrator decides whether to retry.
func (r *Runner) Run(ctx context.Context, input Input, observer Observer) (*Output, error) {
	ctx = logging.WithAttrs(ctx,
		slog.String("investigation_id", input.InvestigationID),
		slog.String("call_id", input.CallID))
	r.logger.LogAttrs(ctx, slog.LevelInfo, "call run starting",
		slog.String("contact", input.Contact.Name), logging.Phone(input.Contact.Phone))

	roomName := telephony.RoomName(input.InvestigationID, input.CallID)
	if err := r.dialer.Dispatch(ctx, roomName, telephony.DispatchMetadata{
		InvestigationID: input.InvestigationID,
		CallID:          input.CallID,
		Requirement:     input.Requirement,
		Language:        input.Contact.Language,
		ContactName:     input.Contact.Name,
		ContactPhone:    input.Contact.Phone,
	}); err != nil {
		return nil, err
	}

	if err := observer.OnStatus(ctx, models.CallStatusRinging, nil); err != nil {
		return nil, err
	}

	dialResult, err := r.dialer.Dial(ctx, input.Contact.Phone, input.Contact.Name, roomName)
	if err != nil {
		return nil, err
	}

	if err = observer.OnStatus(ctx, models.CallStatusConnected, &SessionDetails{
		RoomName:            dialResult.RoomName,
		ParticipantIdentity: dialResult.ParticipantIdentity,
		ProviderCallID:      dialResult.ProviderCallID,
	}); err != nil {
		return nil, err
	}
	r.logger.LogAttrs(ctx, slog.LevelInfo, "call connected",
		slog.String("room", dialResult.RoomName),
		slog.String("participant", dialResult.ParticipantIdentity))

	if err = observer.OnTranscript(ctx, models.SpeakerSystem,
		"Call connected to "+input.Contact.Name+". Voice agent started."); err != nil {
		return nil, err
	}

	// Recording is best-effort from here on; a failed recording never fails
	// the call.
	recordingID, recErr := r.recorder.Start(ctx, dialResult.RoomName)
	if recErr != nil {
		r.logger.LogAttrs(ctx, slog.LevelWarn, "recording start failed", errors.SlogError(recErr))
		recordingID = ""
	}

	exitReason, err := r.dialer.WaitForExit(ctx, dialResult.RoomName, dialResult.ParticipantIdentity, r.config.SessionTimeout)
	if err != nil {
		return nil, err
	}
	r.logger.LogAttrs(ctx, slog.LevelInfo, "call wait finished", slog.String("exit_reason", string(exitReason)))

	if exitReason == telephony.ExitTimeout {
		if err = observer.OnTranscript(ctx, models.SpeakerSystem,
			"Call hit session timeout. Ending the call to keep workflow moving."); err != nil {
			return nil, err
		}
		r.dialer.Hangup(ctx, dialResult.RoomName, dialResult.ParticipantIdentity)
	}

	if err = r.publishRecording(ctx, dialResult.RoomName, recordingID, observer); err != nil {
		return nil, err
	}

	transcriptText, err := r.waitForConversation(ctx, input.CallID)
	if err != nil {
		return nil, err
	}
	r.logger.LogAttrs(ctx, slog.LevelInfo, "transcript captured", slog.Int("length", len(transcriptText)))

	finding, err := r.extractor.ExtractFinding(ctx, input.Requirement, transcriptText)
	if err != nil {
		return nil, err
	}
	r.logger.LogAttrs(ctx, slog.LevelInfo, "extraction completed",
		slog.Int("score", finding.Score), slog.Float64("confidence", finding.Confidence))

	return &Output{
		TranscriptText: transcriptText,
		Finding:        finding,
	}, nil
}

func (r *Runner) publishRecording(ctx context.Context, roomName, recordingID string, observer Observer) error {
	recordingURL := ""
	if recordingID != "" {
		var err error
		if recordingURL, err = r.recorder.Finalize(ctx, roomName, recordingID); err != nil {
			r.logger.LogAttrs(ctx, slog.LevelWarn, "recording finalize failed", errors.SlogError(err))
			recordingURL = ""
		}
	}

	if recordingURL == "" {
		return observer.OnTranscript(ctx, models.SpeakerSystem, "Call recording is unavailable for this call.")
	}
	if err := observer.OnRecordingReady(ctx, recordingURL); err != nil {
		return err
	}
	return observer.OnTranscript(ctx, models.SpeakerSystem, "Call recording is available.")
}

// waitForConversation polls the transcript store until the agent or contact
// has spoken. System lines alone do not count.
func (r *Runner) waitForConversation(ctx context.Context, callID string) (string, error) {
	attempts := max(1, r.config.TranscriptWaitAttempts)
	for i := 0; i < attempts; i++ {
		snapshot, err := r.transcripts.TranscriptSnapshot(ctx, callID)
		if err != nil {
			return "", err
		}
		if snapshot.HasConversation && snapshot.Text != "" {
			return snapshot.Text, nil
		}

		timer := time.NewTimer(r.config.TranscriptPollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return "", errors.Wrap(ctx.Err(), "transcript wait interrupted")
		case <-timer.C:
		}
	}
	return "", errors.Wrap(ErrNoTranscript, "wait for conversation", slog.String("call_id", callID))
}
