package bot

import (
	"context"
	"fmt"
	"time"

	"movingmen/internal/booking"
	"movingmen/internal/events"
)

// SubscribeNotifications tells the other staff chats about every booking
// change made through the bot.
func (b *Bot) SubscribeNotifications(bus *events.EventBus) {
	for _, et := range []string{booking.EventBookingCreated, booking.EventBookingRebooked, booking.EventBookingCancelled} {
		bus.Subscribe(et, b.notifyStaff)
	}
}

func (b *Bot) notifyStaff(e events.Event) error {
	var ev booking.BookingEvent
	if err := e.Decode(&ev); err != nil {
		return fmt.Errorf("decode %s: %w", e.Type, err)
	}
	b.broadcast(context.Background(), notificationText(e.Type, &ev, b.loc), ev.ChatID)
	return nil
}

func notificationText(eventType string, ev *booking.BookingEvent, loc *time.Location) string {
	bk := &ev.Booking
	var text string
	switch eventType {
	case booking.EventBookingCreated:
		text = fmt.Sprintf("🆕 %s booked for %s, %s.", bk.PONumber, bk.Name, formatWindow(bk, loc))
	case booking.EventBookingRebooked:
		text = fmt.Sprintf("🔁 %s (%s) moved to %s.", bk.PONumber, bk.Name, formatWindow(bk, loc))
	case booking.EventBookingCancelled:
		text = fmt.Sprintf("❌ %s (%s) on %s was cancelled.", bk.PONumber, bk.Name, formatWindow(bk, loc))
	default:
		text = fmt.Sprintf("%s: %s", eventType, bk.PONumber)
	}
	if ev.Warning != "" {
		text += "\n⚠️ " + ev.Warning
	}
	return text
}
