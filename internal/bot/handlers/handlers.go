package handlers

import (
	"context"
	"log"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/nvasilev/careminder/internal/ai"
	"github.com/nvasilev/careminder/internal/alarm"
	"github.com/nvasilev/careminder/internal/format"
	"github.com/nvasilev/careminder/internal/repository"
	"github.com/nvasilev/careminder/internal/scheduler"
)

type Repositories struct {
	Patient  *repository.PatientRepository
	Reminder *repository.ReminderRepository
}

type Handlers struct {
	api        *tgbotapi.BotAPI
	repos      *Repositories
	ai         *ai.Client
	dispatcher *alarm.Dispatcher
	sched      *scheduler.Service
}

func New(api *tgbotapi.BotAPI, repos *Repositories, aiClient *ai.Client, dispatcher *alarm.Dispatcher, sched *scheduler.Service) *Handlers {
	return &Handlers{
		api:        api,
		repos:      repos,
		ai:         aiClient,
		dispatcher: dispatcher,
		sched:      sched,
	}
}

func (h *Handlers) HandleCommand(ctx context.Context, msg *tgbotapi.Message) {
	// Ensure the patient exists
	_, err := h.repos.Patient.GetOrCreate(ctx, msg.From.ID, msg.From.UserName)
	if err != nil {
		log.Printf("Failed to get/create patient: %v", err)
		return
	}

	switch msg.Command() {
	case "start":
		h.handleStart(ctx, msg)
	case "help":
		h.handleHelp(ctx, msg)
	case "pill":
		h.handlePill(ctx, msg)
	case "appt":
		h.handleAppointment(ctx, msg)
	case "list":
		h.handleList(ctx, msg)
	case "delete":
		h.handleDelete(ctx, msg)
	case "skip":
		h.handleSkip(ctx, msg)
	case "export":
		h.handleExport(ctx, msg)
	default:
		h.sendMessage(msg.Chat.ID, "Unknown command, see /help")
	}
}

func (h *Handlers) HandleMessage(ctx context.Context, msg *tgbotapi.Message) {
	_, err := h.repos.Patient.GetOrCreate(ctx, msg.From.ID, msg.From.UserName)
	if err != nil {
		log.Printf("Failed to get/create patient: %v", err)
		return
	}

	h.handleAIMessage(ctx, msg)
}

// HandleCallbackQuery consumes the snooze/dismiss buttons attached to
// alerts.
func (h *Handlers) HandleCallbackQuery(ctx context.Context, callback *tgbotapi.CallbackQuery) {
	// Answer callback to remove loading state
	answer := tgbotapi.NewCallback(callback.ID, "")
	if _, err := h.api.Request(answer); err != nil {
		log.Printf("Failed to answer callback: %v", err)
	}

	parts := strings.Split(callback.Data, ":")
	if len(parts) != 2 {
		return
	}
	action := parts[0]
	reminderID, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return
	}

	// The buttons only ever reach the reminder's owner, but verify anyway.
	reminder, err := h.repos.Reminder.GetByID(ctx, reminderID)
	if err != nil || reminder.OwnerID != callback.From.ID {
		h.answerCallbackWithAlert(callback.ID, "This reminder is not yours")
		return
	}

	switch action {
	case "snooze":
		if err := h.dispatcher.Snooze(ctx, reminderID); err != nil {
			log.Printf("Failed to snooze reminder %d: %v", reminderID, err)
			h.answerCallbackWithAlert(callback.ID, "Snooze failed, try again")
			return
		}
		h.sendMessage(callback.Message.Chat.ID, "😴 Snoozed for 5 minutes")
	case "dismiss":
		if err := h.dispatcher.Dismiss(ctx, reminderID); err != nil {
			log.Printf("Failed to dismiss reminder %d: %v", reminderID, err)
			return
		}
		h.sendMessage(callback.Message.Chat.ID, "✅ Marked as taken")
	}
}

func (h *Handlers) handleStart(ctx context.Context, msg *tgbotapi.Message) {
	h.sendMessage(msg.Chat.ID, "👋 Welcome to **careminder**\n\nI keep track of medications and appointments and ring you when they are due.\n\nSee /help for commands, or just tell me things like \"remind me to take aspirin every morning at 9\".")
}

func (h *Handlers) handleHelp(ctx context.Context, msg *tgbotapi.Message) {
	h.sendMessage(msg.Chat.ID, `**Commands**

/pill <HH:MM> <name> [dose] - daily medication reminder
/appt <YYYY-MM-DD> <HH:MM> <title> - appointment (reminds a day before, an hour before, and at the time)
/list - your reminders
/delete <id> - remove a reminder
/skip <id> <YYYY-MM-DD> - skip one date of a medication
/export <id> - the schedule as an RFC 5545 rule, for calendar apps

Or describe the reminder in plain language.`)
}

func (h *Handlers) sendMessage(chatID int64, text string) {
	parsed := format.ParseMarkdown(text)
	msg := tgbotapi.NewMessage(chatID, parsed.Text)
	msg.Entities = parsed.Entities
	if _, err := h.api.Send(msg); err != nil {
		log.Printf("Failed to send message: %v", err)
	}
}

func (h *Handlers) answerCallbackWithAlert(callbackID, text string) {
	answer := tgbotapi.NewCallbackWithAlert(callbackID, text)
	if _, err := h.api.Request(answer); err != nil {
		log.Printf("Failed to answer callback with alert: %v", err)
	}
}
