// Package telephony defines the narrow contracts the call runner uses to
// reach the outside world: dispatching a conversational agent into a room,
// dialing a contact over the provider's SIP bridge, and recording the room.
// The provider's internals stay behind these interfaces.
package telephony

import (
	"context"
	"fmt"
	"time"

	"github.com/myrjola/callagent/internal/errors"
)

// ErrInsecureTransport marks a dial rejected because the outbound trunk is
// misconfigured for secure media. This is a configuration problem; retrying
// the call cannot fix it.
var ErrInsecureTransport = errors.NewSentinel("outbound trunk requires TLS transport and secure media")

// ExitReason tells why waiting for the remote participant ended.
type ExitReason string

const (
	ExitDisconnected ExitReason = "disconnected"
	ExitTimeout      ExitReason = "timeout"
)

// DispatchMetadata travels with the agent into the room so the conversation
// can be steered per contact.
type DispatchMetadata struct {
	InvestigationID string `json:"investigationId"`
	CallID          string `json:"callId"`
	Requirement     string `json:"requirement"`
	Language        string `json:"language"`
	ContactName     string `json:"contactName"`
	ContactPhone    string `json:"contactPhone"`
}

// DialResult carries the external session handles attached to a call once the
// telephony leg is answered.
type DialResult struct {
	RoomName            string
	ParticipantIdentity string
	ProviderCallID      string
}

// Dialer drives one provider-backed phone call. Dispatch must be idempotent
// per call id: a retry dispatches into a fresh room. Hangup is best-effort
// cleanup and never returns an error.
type Dialer interface {
	Dispatch(ctx context.Context, roomName string, metadata DispatchMetadata) error
	Dial(ctx context.Context, phoneNumber, participantName, roomName string) (DialResult, error)
	WaitForExit(ctx context.Context, roomName, participantIdentity string, timeout time.Duration) (ExitReason, error)
	Hangup(ctx context.Context, roomName, participantIdentity string)
}

// Recorder optionally captures room audio. Start returns a provider-side
// recording id; Finalize stops the recording and returns a public reference
// URL, or empty when no recording is available. Recording failures never fail
// the call.
type Recorder interface {
	Start(ctx context.Context, roomName string) (string, error)
	Finalize(ctx context.Context, roomName, recordingID string) (string, error)
}

// RoomName builds the unique per-call room identifier. Retries create fresh
// rooms because the call id stays stable but each attempt re-dispatches.
func RoomName(investigationID, callID string) string {
	return fmt.Sprintf("callagent-%s-%s", tail(investigationID), tail(callID))
}

func tail(id string) string {
	const n = 8
	if len(id) <= n {
		return id
	}
	return id[len(id)-n:]
}
