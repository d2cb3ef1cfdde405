package bot

import (
	"context"
	"fmt"
	"strings"
	"time"

	"movingmen/internal/models"
)

// StartReminders sends tomorrow's jobs to every staff chat once a day at hour.
func (b *Bot) StartReminders(ctx context.Context, hour int) {
	if b == nil || len(b.staff) == 0 {
		return
	}

	go func() {
		timer := time.NewTimer(timeUntilNextHour(b.now(), hour, b.loc))
		defer timer.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-timer.C:
				b.sendTomorrowReminders(ctx)
				timer.Reset(timeUntilNextHour(b.now(), hour, b.loc))
			}
		}
	}()
}

func (b *Bot) sendTomorrowReminders(ctx context.Context) {
	tomorrow := b.today().AddDate(0, 0, 1)
	jobs, err := b.ctrl.OnDate(ctx, tomorrow)
	if err != nil {
		b.logger.Error().Err(err).Msg("reminder: load tomorrow's bookings")
		return
	}
	if len(jobs) == 0 {
		b.logger.Debug().Msg("reminder: no jobs tomorrow")
		return
	}

	sent := b.broadcast(ctx, formatReminderMessage(tomorrow, jobs, b.loc), 0)
	b.logger.Info().Int("jobs", len(jobs)).Int("staff", sent).Msg("Sent tomorrow's reminders")
}

func formatReminderMessage(day time.Time, jobs []models.Booking, loc *time.Location) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Tomorrow, %s: %d job(s)\n", day.In(loc).Format("Mon 2 Jan"), len(jobs))
	for _, j := range jobs {
		fmt.Fprintf(&sb, "\n%s–%s %s %s\n", j.Start.In(loc).Format("15:04"), j.End.In(loc).Format("15:04"), j.PONumber, j.Name)
		fmt.Fprintf(&sb, "   %s → %s (%s)\n", j.FromAddress, j.ToAddress, j.Service)
		if j.Phone != "" {
			fmt.Fprintf(&sb, "   📞 %s\n", j.Phone)
		}
	}
	return strings.TrimRight(sb.String(), "\n")
}

// timeUntilNextHour is the wait from now until the next hour:00 in loc.
func timeUntilNextHour(now time.Time, hour int, loc *time.Location) time.Duration {
	now = now.In(loc)
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, 0, 0, 0, loc)
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next.Sub(now)
}
