package handlers

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/nvasilev/careminder/internal/ai"
	"github.com/nvasilev/careminder/internal/models"
)

func (h *Handlers) handleAIMessage(ctx context.Context, msg *tgbotapi.Message) {
	if h.ai == nil {
		h.sendMessage(msg.Chat.ID, "Natural-language input is not configured, see /help for commands")
		return
	}

	draft, err := h.ai.ParseReminder(ctx, msg.Text, time.Now())
	if err != nil {
		log.Printf("Failed to parse message with AI: %v", err)
		h.sendMessage(msg.Chat.ID, "I could not work that out, see /help for commands")
		return
	}

	if draft.Question != "" {
		h.sendMessage(msg.Chat.ID, draft.Question)
		return
	}
	if draft.Confidence < 0.5 {
		h.sendMessage(msg.Chat.ID, "I am not sure what you meant, could you rephrase? See /help for the command forms.")
		return
	}

	reminder, err := reminderFromDraft(draft, msg.From.ID)
	if err != nil {
		log.Printf("AI draft rejected: %v", err)
		h.sendMessage(msg.Chat.ID, "I could not build a valid schedule from that, see /help for the command forms")
		return
	}

	h.createReminder(ctx, msg.Chat.ID, reminder)
}

var weekdayNames = map[string]time.Weekday{
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
	"sunday":    time.Sunday,
}

func reminderFromDraft(draft *ai.ReminderDraft, ownerID int64) (*models.Reminder, error) {
	switch draft.Kind {
	case "appointment":
		at, err := time.ParseInLocation("2006-01-02 15:04", draft.Date+" "+draft.Time, time.Local)
		if err != nil {
			return nil, fmt.Errorf("bad appointment date/time %q %q: %w", draft.Date, draft.Time, err)
		}
		return &models.Reminder{
			OwnerID: ownerID,
			Kind:    models.KindAppointment,
			Label:   draft.Label,
			Detail:  draft.Detail,
			Active:  true,
			At:      &at,
		}, nil

	case "medication":
		start := time.Now()
		if draft.StartDate != "" {
			parsed, err := time.ParseInLocation("2006-01-02", draft.StartDate, time.Local)
			if err != nil {
				return nil, fmt.Errorf("bad start date %q: %w", draft.StartDate, err)
			}
			start = parsed
		}

		rule := &models.RecurrenceRule{
			StartDate:  start,
			Frequency:  models.Frequency(draft.Frequency),
			EveryXDays: draft.EveryXDays,
			MonthlyDay: draft.MonthlyDay,
		}
		for _, name := range draft.WeeklyDays {
			wd, ok := weekdayNames[strings.ToLower(name)]
			if !ok {
				return nil, fmt.Errorf("bad weekday %q", name)
			}
			rule.WeeklyDays = append(rule.WeeklyDays, wd)
		}
		if err := rule.Validate(); err != nil {
			return nil, err
		}

		return &models.Reminder{
			OwnerID:   ownerID,
			Kind:      models.KindMedication,
			Label:     draft.Label,
			Detail:    draft.Detail,
			Active:    true,
			TimeOfDay: draft.TimeOfDay,
			Rule:      rule,
		}, nil
	}
	return nil, fmt.Errorf("unknown reminder kind %q", draft.Kind)
}
