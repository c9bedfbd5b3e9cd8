package handlers

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/nvasilev/careminder/internal/models"
	"github.com/nvasilev/careminder/internal/occurrence"
	"github.com/nvasilev/careminder/internal/recurrence"
)

func (h *Handlers) handlePill(ctx context.Context, msg *tgbotapi.Message) {
	args := strings.Fields(msg.CommandArguments())
	if len(args) < 2 {
		h.sendMessage(msg.Chat.ID, "Usage: /pill <HH:MM> <name> [dose]\nExample: /pill 09:00 Aspirin 100mg")
		return
	}

	timeOfDay := args[0]
	if _, err := time.Parse("15:04", timeOfDay); err != nil {
		h.sendMessage(msg.Chat.ID, "Bad time, use HH:MM (for example 09:00)")
		return
	}

	name := args[1]
	detail := strings.Join(args[2:], " ")

	now := time.Now()
	reminder := &models.Reminder{
		OwnerID:   msg.From.ID,
		Kind:      models.KindMedication,
		Label:     name,
		Detail:    detail,
		Active:    true,
		TimeOfDay: timeOfDay,
		Rule: &models.RecurrenceRule{
			StartDate: now,
			Frequency: models.FreqDaily,
		},
	}

	h.createReminder(ctx, msg.Chat.ID, reminder)
}

func (h *Handlers) handleAppointment(ctx context.Context, msg *tgbotapi.Message) {
	args := strings.Fields(msg.CommandArguments())
	if len(args) < 3 {
		h.sendMessage(msg.Chat.ID, "Usage: /appt <YYYY-MM-DD> <HH:MM> <title>\nExample: /appt 2025-09-15 14:30 Cardiologist")
		return
	}

	at, err := time.ParseInLocation("2006-01-02 15:04", args[0]+" "+args[1], time.Local)
	if err != nil {
		h.sendMessage(msg.Chat.ID, "Bad date or time, use YYYY-MM-DD HH:MM")
		return
	}
	if !at.After(time.Now()) {
		h.sendMessage(msg.Chat.ID, "That appointment is in the past")
		return
	}

	reminder := &models.Reminder{
		OwnerID: msg.From.ID,
		Kind:    models.KindAppointment,
		Label:   strings.Join(args[2:], " "),
		Active:  true,
		At:      &at,
	}

	h.createReminder(ctx, msg.Chat.ID, reminder)
}

// createReminder persists the record and registers its alarms, rolling the
// record back if the rule turns out to be invalid.
func (h *Handlers) createReminder(ctx context.Context, chatID int64, reminder *models.Reminder) {
	if err := h.repos.Reminder.Create(ctx, reminder); err != nil {
		log.Printf("Failed to create reminder: %v", err)
		h.sendMessage(chatID, "Failed to save the reminder, please try again")
		return
	}

	if err := h.sched.OnReminderCreated(ctx, reminder); err != nil {
		if errors.Is(err, models.ErrInvalidRule) {
			if delErr := h.repos.Reminder.Delete(ctx, reminder.ReminderID, reminder.OwnerID); delErr != nil {
				log.Printf("Failed to roll back reminder %d: %v", reminder.ReminderID, delErr)
			}
			h.sendMessage(chatID, "That schedule is not valid: "+err.Error())
			return
		}
		log.Printf("Failed to arm reminder %d: %v", reminder.ReminderID, err)
	}

	h.sendMessage(chatID, h.describeReminder(reminder, "✅ Reminder set"))
}

func (h *Handlers) describeReminder(r *models.Reminder, heading string) string {
	var sb strings.Builder
	sb.WriteString(heading + "\n\n")
	sb.WriteString(fmt.Sprintf("**%s**", r.Label))
	if r.Detail != "" {
		sb.WriteString(" (" + r.Detail + ")")
	}
	sb.WriteString("\n")

	switch r.Kind {
	case models.KindMedication:
		sb.WriteString(fmt.Sprintf("💊 %s at %s", recurrence.Describe(r.Rule), r.TimeOfDay))
	case models.KindAppointment:
		sb.WriteString("📅 " + r.At.Format("2006-01-02 15:04"))
		sb.WriteString("\nYou will be reminded a day before, an hour before, and at the time.")
	}
	sb.WriteString(fmt.Sprintf("\nid: `%d`", r.ReminderID))
	return sb.String()
}

func (h *Handlers) handleList(ctx context.Context, msg *tgbotapi.Message) {
	reminders, err := h.repos.Reminder.GetByOwnerID(ctx, msg.From.ID)
	if err != nil {
		log.Printf("Failed to list reminders for %d: %v", msg.From.ID, err)
		h.sendMessage(msg.Chat.ID, "Failed to fetch your reminders, please try again")
		return
	}

	if len(reminders) == 0 {
		h.sendMessage(msg.Chat.ID, "You have no reminders yet. Try /pill or /appt.")
		return
	}

	var sb strings.Builder
	sb.WriteString("**Your reminders**\n\n")
	for _, r := range reminders {
		status := "🔔"
		if !r.Active {
			status = "🔕"
		}
		sb.WriteString(fmt.Sprintf("%s `%d` **%s**", status, r.ReminderID, r.Label))
		if r.Detail != "" {
			sb.WriteString(" (" + r.Detail + ")")
		}
		sb.WriteString("\n")

		switch r.Kind {
		case models.KindMedication:
			sb.WriteString(fmt.Sprintf("   💊 %s at %s", recurrence.Describe(r.Rule), r.TimeOfDay))
		case models.KindAppointment:
			if r.At != nil {
				sb.WriteString("   📅 " + r.At.Format("2006-01-02 15:04"))
			}
		}
		if r.SnoozedUntil != nil && r.SnoozedUntil.After(time.Now()) {
			sb.WriteString(fmt.Sprintf("\n   😴 snoozed until %s", r.SnoozedUntil.Format("15:04")))
		}
		sb.WriteString("\n\n")
	}
	h.sendMessage(msg.Chat.ID, sb.String())
}

func (h *Handlers) handleDelete(ctx context.Context, msg *tgbotapi.Message) {
	reminderID, err := strconv.ParseInt(strings.TrimSpace(msg.CommandArguments()), 10, 64)
	if err != nil {
		h.sendMessage(msg.Chat.ID, "Usage: /delete <id>")
		return
	}

	// Cancel alarms before removing the record: nothing stale may fire for
	// a deleted reminder.
	if err := h.sched.OnReminderDeleted(ctx, reminderID); err != nil {
		log.Printf("Failed to cancel alarms for reminder %d: %v", reminderID, err)
		h.sendMessage(msg.Chat.ID, "Failed to delete the reminder, please try again")
		return
	}
	if err := h.repos.Reminder.Delete(ctx, reminderID, msg.From.ID); err != nil {
		log.Printf("Failed to delete reminder %d: %v", reminderID, err)
		h.sendMessage(msg.Chat.ID, "Failed to delete the reminder, please try again")
		return
	}
	h.sendMessage(msg.Chat.ID, "🗑 Reminder deleted")
}

func (h *Handlers) handleExport(ctx context.Context, msg *tgbotapi.Message) {
	reminderID, err := strconv.ParseInt(strings.TrimSpace(msg.CommandArguments()), 10, 64)
	if err != nil {
		h.sendMessage(msg.Chat.ID, "Usage: /export <id>")
		return
	}

	reminder, err := h.repos.Reminder.GetByID(ctx, reminderID)
	if err != nil || reminder.OwnerID != msg.From.ID {
		h.sendMessage(msg.Chat.ID, "No such reminder")
		return
	}

	rule, err := exportRule(reminder)
	if err != nil {
		log.Printf("Failed to export reminder %d: %v", reminderID, err)
		h.sendMessage(msg.Chat.ID, "Only medication reminders with a schedule can be exported")
		return
	}
	h.sendMessage(msg.Chat.ID, "`"+rule+"`")
}

// exportRule renders a medication schedule as its RFC 5545 recurrence set.
func exportRule(r *models.Reminder) (string, error) {
	if r.Kind != models.KindMedication || r.Rule == nil {
		return "", fmt.Errorf("reminder %d has no recurrence rule", r.ReminderID)
	}
	hour, minute, err := occurrence.ParseTimeOfDay(r.TimeOfDay)
	if err != nil {
		return "", err
	}
	return recurrence.RRuleString(r.Rule, hour, minute)
}

func (h *Handlers) handleSkip(ctx context.Context, msg *tgbotapi.Message) {
	args := strings.Fields(msg.CommandArguments())
	if len(args) != 2 {
		h.sendMessage(msg.Chat.ID, "Usage: /skip <id> <YYYY-MM-DD>")
		return
	}

	reminderID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		h.sendMessage(msg.Chat.ID, "Usage: /skip <id> <YYYY-MM-DD>")
		return
	}
	date, err := time.ParseInLocation("2006-01-02", args[1], time.Local)
	if err != nil {
		h.sendMessage(msg.Chat.ID, "Bad date, use YYYY-MM-DD")
		return
	}

	reminder, err := h.repos.Reminder.GetByID(ctx, reminderID)
	if err != nil || reminder.OwnerID != msg.From.ID {
		h.sendMessage(msg.Chat.ID, "No such reminder")
		return
	}
	if reminder.Kind != models.KindMedication || reminder.Rule == nil {
		h.sendMessage(msg.Chat.ID, "Only medication reminders can skip dates")
		return
	}

	reminder.Rule.SkippedDates = append(reminder.Rule.SkippedDates, date)
	if err := h.repos.Reminder.Update(ctx, reminder); err != nil {
		log.Printf("Failed to update reminder %d: %v", reminderID, err)
		h.sendMessage(msg.Chat.ID, "Failed to update the reminder, please try again")
		return
	}
	if err := h.sched.OnReminderUpdated(ctx, reminder); err != nil {
		log.Printf("Failed to re-arm reminder %d: %v", reminderID, err)
	}
	h.sendMessage(msg.Chat.ID, fmt.Sprintf("⏭ %s will be skipped on %s", reminder.Label, date.Format("2006-01-02")))
}
