package bot

import (
	"fmt"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"movingmen/internal/models"
	"movingmen/internal/slots"
)

const monthLayout = "2006-01"

// GenerateCalendarKeyboard builds a Monday-first month grid. Days before today
// are shown as "·" and do nothing when pressed.
func GenerateCalendarKeyboard(month, today time.Time) tgbotapi.InlineKeyboardMarkup {
	loc := today.Location()
	first := time.Date(month.Year(), month.Month(), 1, 0, 0, 0, 0, loc)
	todayStart := time.Date(today.Year(), today.Month(), today.Day(), 0, 0, 0, 0, loc)
	weekdayOffset := int(first.Weekday())
	if weekdayOffset == 0 {
		weekdayOffset = 7
	}
	daysInMonth := daysIn(first.Month(), first.Year())

	rows := make([][]tgbotapi.InlineKeyboardButton, 0, 9)

	prev := tgbotapi.NewInlineKeyboardButtonData(" ", "noop")
	if first.After(todayStart) {
		prev = tgbotapi.NewInlineKeyboardButtonData("◀️", "month:"+first.AddDate(0, -1, 0).Format(monthLayout))
	}
	next := tgbotapi.NewInlineKeyboardButtonData("▶️", "month:"+first.AddDate(0, 1, 0).Format(monthLayout))
	rows = append(rows, []tgbotapi.InlineKeyboardButton{
		prev,
		tgbotapi.NewInlineKeyboardButtonData(fmt.Sprintf("%s %d", first.Month(), first.Year()), "noop"),
		next,
	})

	header := make([]tgbotapi.InlineKeyboardButton, 0, 7)
	for _, d := range []string{"Mo", "Tu", "We", "Th", "Fr", "Sa", "Su"} {
		header = append(header, tgbotapi.NewInlineKeyboardButtonData(d, "noop"))
	}
	rows = append(rows, header)

	day := 1
	for day <= daysInMonth {
		row := make([]tgbotapi.InlineKeyboardButton, 0, 7)
		for col := 1; col <= 7; col++ {
			if (len(rows) == 2 && col < weekdayOffset) || day > daysInMonth {
				row = append(row, tgbotapi.NewInlineKeyboardButtonData(" ", "noop"))
				continue
			}
			date := time.Date(first.Year(), first.Month(), day, 0, 0, 0, 0, loc)
			if date.Before(todayStart) {
				row = append(row, tgbotapi.NewInlineKeyboardButtonData("·", "noop"))
			} else {
				row = append(row, tgbotapi.NewInlineKeyboardButtonData(fmt.Sprintf("%d", day), "date:"+date.Format(models.DateLayout)))
			}
			day++
		}
		rows = append(rows, row)
	}

	rows = append(rows, []tgbotapi.InlineKeyboardButton{
		tgbotapi.NewInlineKeyboardButtonData("⬅️ Back to search", "back"),
	})
	return tgbotapi.InlineKeyboardMarkup{InlineKeyboard: rows}
}

// GenerateSlotsKeyboard lists the free start times, three per row.
func GenerateSlotsKeyboard(available []slots.Slot) tgbotapi.InlineKeyboardMarkup {
	rows := make([][]tgbotapi.InlineKeyboardButton, 0)
	var current []tgbotapi.InlineKeyboardButton
	for _, s := range slots.ToSlotInfo(available) {
		label := fmt.Sprintf("%s–%s", s.Start, s.End)
		current = append(current, tgbotapi.NewInlineKeyboardButtonData(label, fmt.Sprintf("slot:%02d", s.Hour)))
		if len(current) == 3 {
			rows = append(rows, current)
			current = nil
		}
	}
	if len(current) > 0 {
		rows = append(rows, current)
	}
	rows = append(rows, []tgbotapi.InlineKeyboardButton{
		tgbotapi.NewInlineKeyboardButtonData("📅 Other date", "pickdate"),
	})
	return tgbotapi.InlineKeyboardMarkup{InlineKeyboard: rows}
}

// GenerateServicesKeyboard offers every service, marking the current one.
func GenerateServicesKeyboard(current models.Service) tgbotapi.InlineKeyboardMarkup {
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(models.Services))
	for i, svc := range models.Services {
		label := string(svc)
		if svc == current {
			label = "✅ " + label
		}
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(label, fmt.Sprintf("svc:%d", i)),
		))
	}
	return tgbotapi.InlineKeyboardMarkup{InlineKeyboard: rows}
}

func parseMonth(raw string, loc *time.Location) (time.Time, error) {
	return time.ParseInLocation(monthLayout, raw, loc)
}

func daysIn(m time.Month, year int) int {
	return time.Date(year, m+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
