package runner_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/myrjola/callagent/internal/errors"
	"github.com/myrjola/callagent/internal/models"
	"github.com/myrjola/callagent/internal/repositories"
	"github.com/myrjola/callagent/internal/runner"
	"github.com/myrjola/callagent/internal/telephony"
	"github.com/myrjola/callagent/internal/testhelpers"
)

type fakeDialer struct {
	dispatchErr error
	dialErr     error
	exitReason  telephony.ExitReason
	exitErr     error
	hangups     int
}

func (f *fakeDialer) Dispatch(context.Context, string, telephony.DispatchMetadata) error {
	return f.dispatchErr
}

func (f *fakeDialer) Dial(_ context.Context, _ string, _ string, roomName string) (telephony.DialResult, error) {
	if f.dialErr != nil {
		return telephony.DialResult{}, f.dialErr
	}
	return telephony.DialResult{
		RoomName:            roomName,
		ParticipantIdentity: "sip-asha",
		ProviderCallID:      "provider-1",
	}, nil
}

func (f *fakeDialer) WaitForExit(context.Context, string, string, time.Duration) (telephony.ExitReason, error) {
	if f.exitErr != nil {
		return "", f.exitErr
	}
	return f.exitReason, nil
}

func (f *fakeDialer) Hangup(context.Context, string, string) {
	f.hangups++
}

type fakeRecorder struct {
	startErr    error
	finalizeErr error
	url         string
	finalized   int
}

func (f *fakeRecorder) Start(context.Context, string) (string, error) {
	if f.startErr != nil {
		return "", f.startErr
	}
	return "egress-1", nil
}

func (f *fakeRecorder) Finalize(context.Context, string, string) (string, error) {
	f.finalized++
	if f.finalizeErr != nil {
		return "", f.finalizeErr
	}
	return f.url, nil
}

type fakeExtractor struct {
	finding *models.ExtractedFinding
	err     error
}

func (f *fakeExtractor) ExtractFinding(context.Context, string, string) (*models.ExtractedFinding, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.finding, nil
}

type fakeTranscripts struct {
	snapshots []repositories.TranscriptSnapshot
	polls     int
}

func (f *fakeTranscripts) TranscriptSnapshot(context.Context, string) (repositories.TranscriptSnapshot, error) {
	index := min(f.polls, len(f.snapshots)-1)
	f.polls++
	return f.snapshots[index], nil
}

type observedEffect struct {
	kind   string
	status models.CallStatus
	text   string
}

type recordingObserver struct {
	effects []observedEffect
	details *runner.SessionDetails
}

func (o *recordingObserver) OnStatus(_ context.Context, status models.CallStatus, details *runner.SessionDetails) error {
	o.effects = append(o.effects, observedEffect{kind: "status", status: status})
	if details != nil {
		o.details = details
	}
	return nil
}

func (o *recordingObserver) OnTranscript(_ context.Context, speaker models.TranscriptSpeaker, text string) error {
	o.effects = append(o.effects, observedEffect{kind: "transcript." + string(speaker), text: text})
	return nil
}

func (o *recordingObserver) OnRecordingReady(_ context.Context, url string) error {
	o.effects = append(o.effects, observedEffect{kind: "recording", text: url})
	return nil
}

func testConfig() runner.Config {
	return runner.Config{
		SessionTimeout:         time.Second,
		TranscriptWaitAttempts: 3,
		TranscriptPollInterval: time.Millisecond,
	}
}

func testInput() runner.Input {
	return runner.Input{
		InvestigationID: "inv-1",
		CallID:          "call-1",
		Requirement:     "2BHK under 30k",
		Contact:         models.Contact{Name: "Asha", Phone: "+919000000001", Language: "english"},
	}
}

func conversationSnapshot() repositories.TranscriptSnapshot {
	return repositories.TranscriptSnapshot{
		Text:            "agent: Hello\ncontact: The flat is available at 28k",
		LineCount:       2,
		HasConversation: true,
	}
}

func newRunner(dialer *fakeDialer, recorder *fakeRecorder, extractor *fakeExtractor, transcripts *fakeTranscripts) *runner.Runner {
	return runner.New(dialer, recorder, extractor, transcripts, testConfig(), testhelpers.NewLogger(os.Stdout))
}

func TestRunner_happyPath(t *testing.T) {
	t.Parallel()
	dialer := &fakeDialer{exitReason: telephony.ExitDisconnected}
	recorder := &fakeRecorder{url: "https://recordings.example.com/call.ogg"}
	finding := &models.ExtractedFinding{Summary: "28k, available", Confidence: 0.8, Score: 80}
	transcripts := &fakeTranscripts{snapshots: []repositories.TranscriptSnapshot{conversationSnapshot()}}
	observer := &recordingObserver{}

	output, err := newRunner(dialer, recorder, &fakeExtractor{finding: finding}, transcripts).
		Run(context.Background(), testInput(), observer)
	require.NoError(t, err)
	require.Equal(t, finding, output.Finding)
	require.Contains(t, output.TranscriptText, "available at 28k")

	require.Equal(t, []observedEffect{
		{kind: "status", status: models.CallStatusRinging},
		{kind: "status", status: models.CallStatusConnected},
		{kind: "transcript.system", text: "Call connected to Asha. Voice agent started."},
		{kind: "recording", text: "https://recordings.example.com/call.ogg"},
		{kind: "transcript.system", text: "Call recording is available."},
	}, observer.effects)
	require.NotNil(t, observer.details)
	require.Equal(t, "sip-asha", observer.details.ParticipantIdentity)
	require.Zero(t, dialer.hangups)
}

func TestRunner_sessionTimeoutHangsUp(t *testing.T) {
	t.Parallel()
	dialer := &fakeDialer{exitReason: telephony.ExitTimeout}
	recorder := &fakeRecorder{url: "https://recordings.example.com/call.ogg"}
	transcripts := &fakeTranscripts{snapshots: []repositories.TranscriptSnapshot{conversationSnapshot()}}
	observer := &recordingObserver{}

	_, err := newRunner(dialer, recorder, &fakeExtractor{finding: &models.ExtractedFinding{Summary: "ok"}}, transcripts).
		Run(context.Background(), testInput(), observer)
	require.NoError(t, err)
	require.Equal(t, 1, dialer.hangups)

	var texts []string
	for _, effect := range observer.effects {
		if effect.kind == "transcript.system" {
			texts = append(texts, effect.text)
		}
	}
	require.Contains(t, texts, "Call hit session timeout. Ending the call to keep workflow moving.")
}

func TestRunner_recordingFailureIsNotFatal(t *testing.T) {
	t.Parallel()
	dialer := &fakeDialer{exitReason: telephony.ExitDisconnected}
	recorder := &fakeRecorder{startErr: errors.New("egress unavailable")}
	transcripts := &fakeTranscripts{snapshots: []repositories.TranscriptSnapshot{conversationSnapshot()}}
	observer := &recordingObserver{}

	_, err := newRunner(dialer, recorder, &fakeExtractor{finding: &models.ExtractedFinding{Summary: "ok"}}, transcripts).
		Run(context.Background(), testInput(), observer)
	require.NoError(t, err)
	require.Zero(t, recorder.finalized)

	var texts []string
	for _, effect := range observer.effects {
		if effect.kind == "transcript.system" {
			texts = append(texts, effect.text)
		}
	}
	require.Contains(t, texts, "Call recording is unavailable for this call.")
	for _, effect := range observer.effects {
		require.NotEqual(t, "recording", effect.kind)
	}
}

func TestRunner_finalizeFailureIsNotFatal(t *testing.T) {
	t.Parallel()
	dialer := &fakeDialer{exitReason: telephony.ExitDisconnected}
	recorder := &fakeRecorder{finalizeErr: errors.New("egress aborted")}
	transcripts := &fakeTranscripts{snapshots: []repositories.TranscriptSnapshot{conversationSnapshot()}}
	observer := &recordingObserver{}

	_, err := newRunner(dialer, recorder, &fakeExtractor{finding: &models.ExtractedFinding{Summary: "ok"}}, transcripts).
		Run(context.Background(), testInput(), observer)
	require.NoError(t, err)
	require.Equal(t, 1, recorder.finalized)
}

func TestRunner_waitsForLateTranscript(t *testing.T) {
	t.Parallel()
	dialer := &fakeDialer{exitReason: telephony.ExitDisconnected}
	recorder := &fakeRecorder{url: "https://recordings.example.com/call.ogg"}
	transcripts := &fakeTranscripts{snapshots: []repositories.TranscriptSnapshot{
		{},
		{},
		conversationSnapshot(),
	}}
	observer := &recordingObserver{}

	output, err := newRunner(dialer, recorder, &fakeExtractor{finding: &models.ExtractedFinding{Summary: "ok"}}, transcripts).
		Run(context.Background(), testInput(), observer)
	require.NoError(t, err)
	require.NotEmpty(t, output.TranscriptText)
	require.Equal(t, 3, transcripts.polls)
}

func TestRunner_noConversationFails(t *testing.T) {
	t.Parallel()
	dialer := &fakeDialer{exitReason: telephony.ExitDisconnected}
	recorder := &fakeRecorder{url: "https://recordings.example.com/call.ogg"}
	transcripts := &fakeTranscripts{snapshots: []repositories.TranscriptSnapshot{
		{Text: "system: Call connected to Asha. Voice agent started.", LineCount: 1},
	}}
	observer := &recordingObserver{}

	_, err := newRunner(dialer, recorder, &fakeExtractor{finding: &models.ExtractedFinding{Summary: "ok"}}, transcripts).
		Run(context.Background(), testInput(), observer)
	require.ErrorIs(t, err, runner.ErrNoTranscript)
	require.Equal(t, 3, transcripts.polls)
}

func TestRunner_dialErrorAborts(t *testing.T) {
	t.Parallel()
	dialFailure := errors.New("sip trunk rejected the call")
	dialer := &fakeDialer{dialErr: dialFailure}
	observer := &recordingObserver{}

	_, err := newRunner(dialer, &fakeRecorder{}, &fakeExtractor{}, &fakeTranscripts{snapshots: []repositories.TranscriptSnapshot{{}}}).
		Run(context.Background(), testInput(), observer)
	require.ErrorIs(t, err, dialFailure)

	// Ringing was reported before the dial, nothing after it.
	require.Equal(t, []observedEffect{{kind: "status", status: models.CallStatusRinging}}, observer.effects)
}

func TestRunner_extractionErrorAborts(t *testing.T) {
	t.Parallel()
	extractionFailure := errors.New("model returned empty summary")
	dialer := &fakeDialer{exitReason: telephony.ExitDisconnected}
	transcripts := &fakeTranscripts{snapshots: []repositories.TranscriptSnapshot{conversationSnapshot()}}

	_, err := newRunner(dialer, &fakeRecorder{url: "u"}, &fakeExtractor{err: extractionFailure}, transcripts).
		Run(context.Background(), testInput(), &recordingObserver{})
	require.ErrorIs(t, err, extractionFailure)
}
