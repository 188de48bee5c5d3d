package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/myrjola/callagent/internal/errors"
	"github.com/myrjola/callagent/internal/models"
	"github.com/sashabaranov/go-openai"
)

var (
	ErrIntakeTooShort   = errors.NewSentinel("intake text too short, include requirement and contact numbers")
	ErrIntakeNoContacts = errors.NewSentinel("no valid contact numbers found in intake text")
)

// ParsedIntake is the structured form of a freeform investigation request.
type ParsedIntake struct {
	Requirement   string
	Contacts      []models.ContactInput
	QuestionHints []string
}

const intakeSystemPrompt = `You turn a freeform investigation request into JSON with fields:
requirement (string), generalQuestions (array of strings), contacts (array of
objects with name, phone, language, questions). Phone numbers must be copied
verbatim from the input. Language is one of english, hindi, kannada, tamil
when the input gives a signal, otherwise english.`

type intakeContactPayload struct {
	Name      string   `json:"name"`
	Phone     string   `json:"phone"`
	Language  string   `json:"language"`
	Questions []string `json:"questions"`
}

type intakePayload struct {
	Requirement      string                 `json:"requirement"`
	GeneralQuestions []string               `json:"generalQuestions"`
	Contacts         []intakeContactPayload `json:"contacts"`
}

var (
	phonePattern    = regexp.MustCompile(`\+?\d[\d\s\-()]{7,}\d`)
	nonDigitPattern = regexp.MustCompile(`[^\d+]`)
	questionPattern = regexp.MustCompile(`(?m)^.*\?\s*$`)
)

// ParseIntake extracts a requirement and contact list from freeform text. The
// model output is merged with regex-detected phone candidates so that a
// number the model drops is still called.
func (c *Client) ParseIntake(ctx context.Context, rawText string) (*ParsedIntake, error) {
	raw := strings.TrimSpace(rawText)
	if len(raw) < 12 {
		return nil, ErrIntakeTooShort
	}

	regexPhones := phonePattern.FindAllString(raw, -1)

	completion, err := c.client.CreateChatCompletion(
		ctx,
		openai.ChatCompletionRequest{ //nolint:exhaustruct // this is better for readability
			Model:     extractionModel,
			MaxTokens: MaxTokens,
			ResponseFormat: &openai.ChatCompletionResponseFormat{
				Type: openai.ChatCompletionResponseFormatTypeJSONObject,
			},
			Messages: []openai.ChatCompletionMessage{
				{Role: openai.ChatMessageRoleSystem, Content: intakeSystemPrompt},
				{Role: openai.ChatMessageRoleUser, Content: raw},
			},
		},
	)
	if err != nil {
		return nil, errors.Wrap(err, "create intake completion")
	}

	var payload intakePayload
	if len(completion.Choices) > 0 {
		// A broken intake payload is not fatal: the regex fallback below still
		// yields contacts.
		_ = json.Unmarshal([]byte(completion.Choices[0].Message.Content), &payload)
	}

	contacts := mergeContacts(payload.Contacts, regexPhones)
	if len(contacts) == 0 {
		return nil, ErrIntakeNoContacts
	}

	requirement := strings.TrimSpace(payload.Requirement)
	if len(requirement) < 6 {
		requirement = fallbackRequirement(raw)
	}

	var hints []string
	hints = append(hints, payload.GeneralQuestions...)
	for _, contact := range payload.Contacts {
		hints = append(hints, contact.Questions...)
	}
	hints = append(hints, questionPattern.FindAllString(raw, -1)...)

	return &ParsedIntake{
		Requirement:   requirement,
		Contacts:      contacts,
		QuestionHints: normalizeStringList(hints),
	}, nil
}

func mergeContacts(aiContacts []intakeContactPayload, fallbackPhones []string) []models.ContactInput {
	var contacts []models.ContactInput
	seen := map[string]bool{}

	for _, contact := range aiContacts {
		phone := normalizePhone(contact.Phone)
		if !validPhone(phone) || seen[phone] {
			continue
		}
		seen[phone] = true

		name := strings.TrimSpace(contact.Name)
		if name == "" {
			name = fmt.Sprintf("Contact %d", len(contacts)+1)
		}
		contacts = append(contacts, models.ContactInput{
			Name:     name,
			Phone:    phone,
			Language: normalizeLanguage(contact.Language),
		})
	}

	for _, candidate := range fallbackPhones {
		phone := normalizePhone(candidate)
		if !validPhone(phone) || seen[phone] {
			continue
		}
		seen[phone] = true
		contacts = append(contacts, models.ContactInput{
			Name:     fmt.Sprintf("Contact %d", len(contacts)+1),
			Phone:    phone,
			Language: "english",
		})
	}
	return contacts
}

func normalizePhone(phone string) string {
	normalized := nonDigitPattern.ReplaceAllString(strings.TrimSpace(phone), "")
	if idx := strings.LastIndex(normalized, "+"); idx > 0 {
		normalized = strings.ReplaceAll(normalized, "+", "")
	}
	return normalized
}

func validPhone(phone string) bool {
	digits := strings.TrimPrefix(phone, "+")
	return len(digits) >= 8 && len(digits) <= 15
}

func normalizeLanguage(language string) string {
	switch strings.ToLower(strings.TrimSpace(language)) {
	case "hindi":
		return "hindi"
	case "kannada":
		return "kannada"
	case "tamil":
		return "tamil"
	default:
		return "english"
	}
}

func fallbackRequirement(raw string) string {
	line := raw
	if idx := strings.IndexByte(raw, '\n'); idx > 0 {
		line = raw[:idx]
	}
	line = strings.TrimSpace(line)
	const maxLen = 160
	if len(line) > maxLen {
		line = line[:maxLen]
	}
	return line
}

func normalizeStringList(values []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, value := range values {
		normalized := strings.TrimSpace(value)
		if normalized == "" {
			continue
		}
		key := strings.ToLower(normalized)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, normalized)
	}
	return out
}
