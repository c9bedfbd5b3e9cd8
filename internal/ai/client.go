package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sashabaranov/go-openai"
)

type Client struct {
	client *openai.Client
	model  string
}

func New(apiKey, baseURL, model string) *Client {
	config := openai.DefaultConfig(apiKey)
	config.BaseURL = baseURL

	return &Client{
		client: openai.NewClientWithConfig(config),
		model:  model,
	}
}

// ReminderDraft is the structured form of a natural-language reminder
// request, to be confirmed by the user before it becomes a record.
type ReminderDraft struct {
	Kind       string   `json:"kind"` // "medication" or "appointment"
	Label      string   `json:"label"`
	Detail     string   `json:"detail"`
	TimeOfDay  string   `json:"time_of_day"` // "HH:MM" (medication)
	StartDate  string   `json:"start_date"`  // "YYYY-MM-DD" (medication)
	Frequency  string   `json:"frequency"`   // once|daily|every_x_days|weekly|monthly
	EveryXDays int      `json:"every_x_days"`
	WeeklyDays []string `json:"weekly_days"` // ["monday", ...]
	MonthlyDay int      `json:"monthly_day"`
	Date       string   `json:"date"` // "YYYY-MM-DD" (appointment)
	Time       string   `json:"time"` // "HH:MM" (appointment)
	Confidence float64  `json:"confidence"`
	Question   string   `json:"question"` // set when more information is needed
}

const systemPromptTemplate = `You turn natural-language medication and appointment reminder requests into JSON.

Current time: %s

Respond with a single JSON object:
- kind: "medication" for pills/doses, "appointment" for doctor visits
- label: medicine name or appointment title
- detail: dose and notes, or doctor/location
- for medication: time_of_day ("HH:MM"), start_date ("YYYY-MM-DD", default today),
  frequency (one of: once, daily, every_x_days, weekly, monthly),
  every_x_days (int, only with frequency=every_x_days),
  weekly_days (lowercase weekday names, only with frequency=weekly),
  monthly_day (1-31, only with frequency=monthly)
- for appointment: date ("YYYY-MM-DD") and time ("HH:MM")
- confidence: 0.0-1.0
- question: if the request is ambiguous or missing a time, ask for the missing detail and leave the other fields empty

Examples:
"take aspirin 100mg every 2 days at 9am" -> {"kind":"medication","label":"aspirin","detail":"100mg","time_of_day":"09:00","frequency":"every_x_days","every_x_days":2,...}
"cardiologist Dr. Lim next friday 14:30 at City Clinic" -> {"kind":"appointment","label":"Cardiologist","detail":"Dr. Lim, City Clinic","date":"...","time":"14:30",...}`

// ParseReminder asks the model to interpret a reminder request. Returns a
// draft whose Question field is set when the model needs a follow-up.
func (c *Client) ParseReminder(ctx context.Context, text string, now time.Time) (*ReminderDraft, error) {
	systemPrompt := fmt.Sprintf(systemPromptTemplate, now.Format("2006-01-02 15:04 Monday"))

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: text},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Temperature: 0.1,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to call AI: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("AI returned no choices")
	}

	draft := &ReminderDraft{}
	if err := json.Unmarshal([]byte(resp.Choices[0].Message.Content), draft); err != nil {
		return nil, fmt.Errorf("failed to parse AI response: %w", err)
	}
	return draft, nil
}
