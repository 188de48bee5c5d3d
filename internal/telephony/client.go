package telephony

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/myrjola/callagent/internal/errors"
	"github.com/myrjola/callagent/internal/logging"
	"golang.org/x/time/rate"
)

// Config carries the provider connection settings, populated from the
// environment with envstruct.
type Config struct {
	// URL is the provider API endpoint. ws(s) schemes are accepted and
	// rewritten to http(s).
	URL       string `env:"TELEPHONY_URL"`
	APIKey    string `env:"TELEPHONY_API_KEY"`
	APISecret string `env:"TELEPHONY_API_SECRET"`
	TrunkID   string `env:"TELEPHONY_SIP_TRUNK_ID"`
	// FromNumber is the caller id, optional.
	FromNumber string `env:"TELEPHONY_SIP_NUMBER" envDefault:""`
	AgentName  string `env:"TELEPHONY_AGENT_NAME" envDefault:"assistant"`
}

// dialsPerSecond throttles outbound dials proactively: each dial claims a
// scarce SIP channel on the trunk, and the provider rate-limits bursts.
const dialsPerSecond = 0.5

const (
	dialRingingTimeout = 45 * time.Second
	exitPollInterval   = 1500 * time.Millisecond
)

var secureMediaPattern = regexp.MustCompile(`(?i)32208|secure media|srtp`)

// Client talks to the telephony provider's REST API. It implements Dialer and
// Recorder.
type Client struct {
	httpClient  *http.Client
	baseURL     string
	config      Config
	dialLimiter *rate.Limiter
	logger      *slog.Logger
}

func NewClient(config Config, logger *slog.Logger) *Client {
	return &Client{
		httpClient:  &http.Client{Timeout: 30 * time.Second},
		baseURL:     toAPIHost(config.URL),
		config:      config,
		dialLimiter: rate.NewLimiter(rate.Limit(dialsPerSecond), 1),
		logger:      logger.With("source", "telephony.Client"),
	}
}

// toAPIHost rewrites websocket URLs to their HTTP form.
func toAPIHost(endpoint string) string {
	switch {
	case strings.HasPrefix(endpoint, "wss://"):
		return "https://" + strings.TrimPrefix(endpoint, "wss://")
	case strings.HasPrefix(endpoint, "ws://"):
		return "http://" + strings.TrimPrefix(endpoint, "ws://")
	}
	return endpoint
}

// Dispatch asks the provider to start a conversational agent in the room.
func (c *Client) Dispatch(ctx context.Context, roomName string, metadata DispatchMetadata) error {
	body := map[string]any{
		"roomName":  roomName,
		"agentName": c.config.AgentName,
		"metadata":  metadata,
	}
	c.logger.LogAttrs(ctx, slog.LevelInfo, "dispatching agent",
		slog.String("room", roomName), slog.String("agent", c.config.AgentName))
	if _, err := c.post(ctx, "/v1/agent/dispatch", body); err != nil {
		return errors.Wrap(err, "dispatch agent", slog.String("room", roomName))
	}
	return nil
}

// Dial places the outbound call and blocks until the leg is answered or the
// provider gives up ringing. Secure-media misconfiguration is surfaced as
// ErrInsecureTransport so callers can fail the call without retrying.
func (c *Client) Dial(ctx context.Context, phoneNumber, participantName, roomName string) (DialResult, error) {
	if err := c.dialLimiter.Wait(ctx); err != nil {
		return DialResult{}, errors.Wrap(err, "dial rate limit wait")
	}

	participantIdentity := "sip-" + roomName
	body := map[string]any{
		"trunkId":             c.config.TrunkID,
		"phoneNumber":         phoneNumber,
		"roomName":            roomName,
		"participantIdentity": participantIdentity,
		"participantName":     participantName,
		"fromNumber":          c.config.FromNumber,
		"waitUntilAnswered":   true,
		"ringingTimeoutSecs":  int(dialRingingTimeout.Seconds()),
	}
	c.logger.LogAttrs(ctx, slog.LevelInfo, "dialing contact",
		slog.String("room", roomName), logging.Phone(phoneNumber))

	payload, err := c.post(ctx, "/v1/sip/participants", body)
	if err != nil {
		if secureMediaPattern.MatchString(err.Error()) {
			return DialResult{}, errors.Wrap(ErrInsecureTransport, "dial contact",
				slog.String("trunk_id", c.config.TrunkID))
		}
		return DialResult{}, errors.Wrap(err, "dial contact", slog.String("room", roomName))
	}

	var result struct {
		ParticipantIdentity string `json:"participantIdentity"`
		SIPCallID           string `json:"sipCallId"`
	}
	if err = json.Unmarshal(payload, &result); err != nil {
		return DialResult{}, errors.Wrap(err, "decode dial response")
	}
	if result.ParticipantIdentity == "" {
		result.ParticipantIdentity = participantIdentity
	}
	return DialResult{
		RoomName:            roomName,
		ParticipantIdentity: result.ParticipantIdentity,
		ProviderCallID:      result.SIPCallID,
	}, nil
}

// WaitForExit polls the room until the remote participant disappears or the
// timeout elapses.
func (c *Client) WaitForExit(ctx context.Context, roomName, participantIdentity string, timeout time.Duration) (ExitReason, error) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		gone, err := c.participantGone(ctx, roomName, participantIdentity)
		if err != nil {
			// Poll errors are transient; keep waiting until the deadline.
			c.logger.LogAttrs(ctx, slog.LevelWarn, "participant poll failed",
				slog.String("room", roomName), errors.SlogError(err))
		} else if gone {
			return ExitDisconnected, nil
		}

		timer := time.NewTimer(exitPollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return "", errors.Wrap(ctx.Err(), "wait for exit interrupted")
		case <-timer.C:
		}
	}
	return ExitTimeout, nil
}

// Hangup removes the participant from the room. The call may already be gone,
// so failures are logged and swallowed.
func (c *Client) Hangup(ctx context.Context, roomName, participantIdentity string) {
	path := fmt.Sprintf("/v1/rooms/%s/participants/%s", url.PathEscape(roomName), url.PathEscape(participantIdentity))
	if err := c.delete(ctx, path); err != nil {
		c.logger.LogAttrs(ctx, slog.LevelWarn, "hangup failed",
			slog.String("room", roomName), errors.SlogError(err))
	}
}

// Start begins an audio-only room recording and returns the provider-side id.
func (c *Client) Start(ctx context.Context, roomName string) (string, error) {
	payload, err := c.post(ctx, "/v1/egress/start", map[string]any{
		"roomName":  roomName,
		"audioOnly": true,
	})
	if err != nil {
		return "", errors.Wrap(err, "start recording", slog.String("room", roomName))
	}
	var result struct {
		EgressID string `json:"egressId"`
	}
	if err = json.Unmarshal(payload, &result); err != nil {
		return "", errors.Wrap(err, "decode recording response")
	}
	return result.EgressID, nil
}

// Finalize stops the recording and polls until the provider publishes the
// file location. Returns empty when the recording never materializes.
func (c *Client) Finalize(ctx context.Context, roomName, recordingID string) (string, error) {
	if recordingID == "" {
		return "", nil
	}
	stopPath := fmt.Sprintf("/v1/egress/%s/stop", url.PathEscape(recordingID))
	if _, err := c.post(ctx, stopPath, nil); err != nil {
		c.logger.LogAttrs(ctx, slog.LevelWarn, "stop recording failed",
			slog.String("room", roomName), errors.SlogError(err))
	}

	const maxWait = 40
	for attempt := 0; attempt < maxWait; attempt++ {
		payload, err := c.get(ctx, "/v1/egress/"+url.PathEscape(recordingID))
		if err != nil {
			return "", errors.Wrap(err, "poll recording", slog.String("recording_id", recordingID))
		}
		var status struct {
			Status   string `json:"status"`
			Location string `json:"location"`
		}
		if err = json.Unmarshal(payload, &status); err != nil {
			return "", errors.Wrap(err, "decode recording status")
		}
		switch status.Status {
		case "complete":
			return status.Location, nil
		case "failed", "aborted", "limit_reached":
			return "", nil
		}

		timer := time.NewTimer(time.Second)
		select {
		case <-ctx.Done():
			timer.Stop()
			return "", errors.Wrap(ctx.Err(), "finalize recording interrupted")
		case <-timer.C:
		}
	}
	return "", nil
}

func (c *Client) participantGone(ctx context.Context, roomName, participantIdentity string) (bool, error) {
	path := fmt.Sprintf("/v1/rooms/%s/participants/%s", url.PathEscape(roomName), url.PathEscape(participantIdentity))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return false, errors.Wrap(err, "build participant request")
	}
	c.authorize(req)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, errors.Wrap(err, "poll participant")
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode == http.StatusNotFound {
		return true, nil
	}
	if resp.StatusCode >= 400 {
		return false, errors.New("participant poll status", slog.Int("status", resp.StatusCode))
	}
	return false, nil
}

func (c *Client) post(ctx context.Context, path string, body any) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, errors.Wrap(err, "encode request body")
		}
		reader = bytes.NewReader(encoded)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, reader)
	if err != nil {
		return nil, errors.Wrap(err, "build request")
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)
	return c.do(req)
}

func (c *Client) get(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, errors.Wrap(err, "build request")
	}
	c.authorize(req)
	return c.do(req)
}

func (c *Client) delete(ctx context.Context, path string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.baseURL+path, nil)
	if err != nil {
		return errors.Wrap(err, "build request")
	}
	c.authorize(req)
	_, err = c.do(req)
	return err
}

func (c *Client) authorize(req *http.Request) {
	req.SetBasicAuth(c.config.APIKey, c.config.APISecret)
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "provider request")
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, errors.Wrap(err, "read provider response")
	}
	if resp.StatusCode >= 400 {
		return nil, errors.New(fmt.Sprintf("provider returned %d: %s", resp.StatusCode, strings.TrimSpace(string(payload))))
	}
	return payload, nil
}
