package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/myrjola/callagent/internal/errors"
	"github.com/myrjola/callagent/internal/models"
	"github.com/sashabaranov/go-openai"
)

// ErrBadExtraction marks a malformed or empty structured-extraction payload.
// There is no point retrying the call for it; the transcript is already
// captured and the model output is broken.
var ErrBadExtraction = errors.NewSentinel("malformed extraction payload")

const extractionModel = openai.GPT3Dot5Turbo1106

type Client struct {
	client *openai.Client
}

func NewClient(apiKey string) Client {
	return Client{
		client: openai.NewClient(apiKey),
	}
}

const MaxTokens = 4096

const extractionSystemPrompt = `You analyze a phone call transcript collected for a purchase or rental
requirement. Answer with a single JSON object with fields: summary (string),
price (number or null), availability (string or null), locationFit (string or
null), constraints (array of strings), keyFacts (array of strings),
confidence (number 0-1), score (number 0-100). Base everything strictly on
the transcript; use null when the call did not cover a field.`

type extractionPayload struct {
	Summary      string   `json:"summary"`
	Price        *float64 `json:"price"`
	Availability *string  `json:"availability"`
	LocationFit  *string  `json:"locationFit"`
	Constraints  []string `json:"constraints"`
	KeyFacts     []string `json:"keyFacts"`
	Confidence   float64  `json:"confidence"`
	Score        float64  `json:"score"`
}

// ExtractFinding distills the call transcript into a structured finding.
// Malformed or missing model output is a hard error wrapping ErrBadExtraction.
func (c *Client) ExtractFinding(ctx context.Context, requirement, transcriptText string) (*models.ExtractedFinding, error) {
	completion, err := c.client.CreateChatCompletion(
		ctx,
		openai.ChatCompletionRequest{ //nolint:exhaustruct // this is better for readability
			Model:     extractionModel,
			MaxTokens: MaxTokens,
			ResponseFormat: &openai.ChatCompletionResponseFormat{
				Type: openai.ChatCompletionResponseFormatTypeJSONObject,
			},
			Messages: []openai.ChatCompletionMessage{
				{Role: openai.ChatMessageRoleSystem, Content: extractionSystemPrompt},
				{
					Role: openai.ChatMessageRoleUser,
					Content: fmt.Sprintf("Requirement:\n%s\n\nTranscript:\n%s",
						requirement, transcriptText),
				},
			},
		},
	)
	if err != nil {
		return nil, errors.Wrap(err, "create extraction completion")
	}
	if len(completion.Choices) == 0 || strings.TrimSpace(completion.Choices[0].Message.Content) == "" {
		return nil, errors.Wrap(ErrBadExtraction, "empty extraction response")
	}

	var payload extractionPayload
	if err = json.Unmarshal([]byte(completion.Choices[0].Message.Content), &payload); err != nil {
		return nil, errors.Wrap(ErrBadExtraction, "decode extraction response")
	}
	if strings.TrimSpace(payload.Summary) == "" {
		return nil, errors.Wrap(ErrBadExtraction, "extraction missing summary")
	}

	finding := models.ExtractedFinding{
		Summary:      strings.TrimSpace(payload.Summary),
		Price:        payload.Price,
		Availability: payload.Availability,
		LocationFit:  payload.LocationFit,
		Constraints:  payload.Constraints,
		KeyFacts:     payload.KeyFacts,
		Confidence:   math.Max(0, math.Min(1, payload.Confidence)),
		Score:        int(math.Round(math.Max(0, math.Min(100, payload.Score)))),
	}
	if finding.Constraints == nil {
		finding.Constraints = []string{}
	}
	if finding.KeyFacts == nil {
		finding.KeyFacts = []string{}
	}
	return &finding, nil
}
