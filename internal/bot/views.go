package bot

import (
	"context"
	"fmt"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"movingmen/internal/journal"
	"movingmen/internal/models"
)

const itemsPerPage = 8

func formatWindow(b *models.Booking, loc *time.Location) string {
	if b.Start.IsZero() {
		return b.Date.In(loc).Format("Mon 2 Jan 2006")
	}
	return fmt.Sprintf("%s %s–%s",
		b.Start.In(loc).Format("Mon 2 Jan 2006"),
		b.Start.In(loc).Format("15:04"),
		b.End.In(loc).Format("15:04"))
}

func formatBooking(b *models.Booking, loc *time.Location) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "📄 %s\n", b.PONumber)
	fmt.Fprintf(&sb, "👤 %s\n", b.Name)
	if b.Phone != "" {
		fmt.Fprintf(&sb, "📞 %s\n", b.Phone)
	}
	fmt.Fprintf(&sb, "From: %s\n", b.FromAddress)
	fmt.Fprintf(&sb, "To: %s\n", b.ToAddress)
	if !b.Date.IsZero() {
		fmt.Fprintf(&sb, "🗓 %s\n", formatWindow(b, loc))
	}
	fmt.Fprintf(&sb, "🚚 %s\n", b.Service)
	if b.Notes != "" {
		fmt.Fprintf(&sb, "📝 %s\n", b.Notes)
	}
	return strings.TrimRight(sb.String(), "\n")
}

func bookingKeyboard() tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("🔁 Rebook", "rebook"),
			tgbotapi.NewInlineKeyboardButtonData("❌ Cancel booking", "cancel"),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("⬅️ Back to search", "back"),
		),
	)
}

func cancelKeyboard() tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("Yes, cancel it", "cancel:yes"),
			tgbotapi.NewInlineKeyboardButtonData("No, keep it", "cancel:no"),
		),
	)
}

func confirmKeyboard() tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("✅ Save", "submit"),
			tgbotapi.NewInlineKeyboardButtonData("⬅️ Discard", "back"),
		),
	)
}

func (b *Bot) sendBookingCard(chatID int64, bk *models.Booking) {
	if bk == nil {
		return
	}
	b.replyWithKeyboard(chatID, formatBooking(bk, b.loc), bookingKeyboard())
}

// sendUpcoming renders one page of upcoming bookings. A non-zero messageID
// edits the existing list in place.
func (b *Bot) sendUpcoming(ctx context.Context, chatID int64, messageID, page int) {
	upcoming, err := b.ctrl.Upcoming(ctx, b.today())
	if err != nil {
		b.replyError(ctx, chatID, err)
		return
	}
	if len(upcoming) == 0 {
		b.reply(chatID, "No upcoming bookings.")
		return
	}

	text, markup := renderUpcomingPage(upcoming, page, b.loc)
	if messageID != 0 {
		b.send(tgbotapi.NewEditMessageTextAndMarkup(chatID, messageID, text, markup))
		return
	}
	b.replyWithKeyboard(chatID, text, markup)
}

func renderUpcomingPage(upcoming []models.Booking, page int, loc *time.Location) (string, tgbotapi.InlineKeyboardMarkup) {
	pages := (len(upcoming) + itemsPerPage - 1) / itemsPerPage
	if page < 0 {
		page = 0
	}
	if page >= pages {
		page = pages - 1
	}
	startIdx := page * itemsPerPage
	endIdx := startIdx + itemsPerPage
	if endIdx > len(upcoming) {
		endIdx = len(upcoming)
	}

	var message strings.Builder
	fmt.Fprintf(&message, "Upcoming bookings (page %d of %d)\n\n", page+1, pages)

	var keyboard [][]tgbotapi.InlineKeyboardButton
	for i, bk := range upcoming[startIdx:endIdx] {
		fmt.Fprintf(&message, "%d. %s %s, %s\n", startIdx+i+1, bk.PONumber, bk.Name, formatWindow(&bk, loc))
		label := fmt.Sprintf("%s %s %s", bk.Start.In(loc).Format("2 Jan 15:04"), bk.PONumber, bk.Name)
		keyboard = append(keyboard, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(label, fmt.Sprintf("view:%d", bk.RowIndex)),
		))
	}

	var nav []tgbotapi.InlineKeyboardButton
	if page > 0 {
		nav = append(nav, tgbotapi.NewInlineKeyboardButtonData("⬅️ Previous", fmt.Sprintf("upc:%d", page-1)))
	}
	if endIdx < len(upcoming) {
		nav = append(nav, tgbotapi.NewInlineKeyboardButtonData("Next ➡️", fmt.Sprintf("upc:%d", page+1)))
	}
	if len(nav) > 0 {
		keyboard = append(keyboard, nav)
	}
	return message.String(), tgbotapi.NewInlineKeyboardMarkup(keyboard...)
}

func formatIssues(entries []journal.Entry, loc *time.Location) (string, tgbotapi.InlineKeyboardMarkup) {
	var sb strings.Builder
	sb.WriteString("These writes left the calendar and the sheet out of step. Check them by hand, then mark them resolved.\n\n")

	var keyboard [][]tgbotapi.InlineKeyboardButton
	for _, e := range entries {
		fmt.Fprintf(&sb, "#%d %s %s %s (row %d)\n", e.ID, e.CreatedAt.In(loc).Format("2 Jan 15:04"), e.Op, e.PONumber, e.RowIndex)
		fmt.Fprintf(&sb, "   %s", e.Outcome)
		if e.OldEventID != "" {
			fmt.Fprintf(&sb, ", old event %s", e.OldEventID)
		}
		if e.EventID != "" {
			fmt.Fprintf(&sb, ", event %s", e.EventID)
		}
		if e.Detail != "" {
			fmt.Fprintf(&sb, ": %s", e.Detail)
		}
		sb.WriteString("\n")
		keyboard = append(keyboard, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(fmt.Sprintf("Resolved #%d", e.ID), fmt.Sprintf("resolve:%d", e.ID)),
		))
	}
	return sb.String(), tgbotapi.NewInlineKeyboardMarkup(keyboard...)
}
