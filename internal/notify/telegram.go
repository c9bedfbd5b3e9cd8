// Package notify renders fired alarms onto Telegram. A passive notification
// is a plain message; the intrusive escalation tier is a loud, pinned-style
// alert message carrying snooze/dismiss buttons.
package notify

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/nvasilev/careminder/internal/alarm"
	"github.com/nvasilev/careminder/internal/format"
)

type Telegram struct {
	api *tgbotapi.BotAPI
}

func NewTelegram(api *tgbotapi.BotAPI) *Telegram {
	return &Telegram{api: api}
}

func channelEmoji(channel string) string {
	if channel == alarm.ChannelAppointment {
		return "📅"
	}
	return "💊"
}

// PostNotification sends a regular message. Default-priority notifications
// are delivered silently; high-priority ones ring the client.
func (t *Telegram) PostNotification(ctx context.Context, ownerID int64, title, body, channel, priority string) error {
	text := fmt.Sprintf("%s **%s**\n\n%s", channelEmoji(channel), title, body)

	parsed := format.ParseMarkdown(text)
	msg := tgbotapi.NewMessage(ownerID, parsed.Text)
	msg.Entities = parsed.Entities
	msg.DisableNotification = priority != alarm.PriorityHigh

	if _, err := t.api.Send(msg); err != nil {
		return fmt.Errorf("failed to send notification: %w", err)
	}
	return nil
}

// PresentFullScreenAlert sends the intrusive tier: an alert message with
// snooze and dismiss actions attached.
func (t *Telegram) PresentFullScreenAlert(ctx context.Context, ownerID, reminderID int64, title, body string) error {
	text := fmt.Sprintf("🚨 **%s**\n\n%s", title, body)

	parsed := format.ParseMarkdown(text)
	msg := tgbotapi.NewMessage(ownerID, parsed.Text)
	msg.Entities = parsed.Entities
	msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("😴 Snooze 5 min", fmt.Sprintf("snooze:%d", reminderID)),
			tgbotapi.NewInlineKeyboardButtonData("✅ Taken", fmt.Sprintf("dismiss:%d", reminderID)),
		),
	)

	if _, err := t.api.Send(msg); err != nil {
		return fmt.Errorf("failed to send alert: %w", err)
	}
	return nil
}
