package google

import (
	"context"
	"fmt"
	"strings"
	"time"

	"movingmen/internal/metrics"
	"movingmen/internal/models"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"
)

// CalendarService lists, creates and deletes job events on one calendar.
type CalendarService struct {
	service    *calendar.Service
	calendarID string
	loc        *time.Location
	limiter    *rate.Limiter
	logger     *zerolog.Logger
}

func NewCalendarService(ctx context.Context, calendarID string, loc *time.Location, limiter *rate.Limiter, logger *zerolog.Logger, opts ...option.ClientOption) (*CalendarService, error) {
	srv, err := calendar.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("unable to create calendar service: %w", err)
	}
	if calendarID == "" {
		calendarID = "primary"
	}
	if loc == nil {
		loc = time.Local
	}
	if limiter == nil {
		limiter = NewLimiter(0)
	}
	return &CalendarService{service: srv, calendarID: calendarID, loc: loc, limiter: limiter, logger: logger}, nil
}

// ListEvents returns the expanded single events overlapping [timeMin, timeMax),
// ordered by start time, across all result pages.
func (c *CalendarService) ListEvents(ctx context.Context, timeMin, timeMax time.Time) ([]models.CalendarEvent, error) {
	call := c.service.Events.List(c.calendarID).
		TimeMin(timeMin.Format(time.RFC3339)).
		TimeMax(timeMax.Format(time.RFC3339)).
		SingleEvents(true).
		OrderBy("startTime").
		MaxResults(250)

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	var out []models.CalendarEvent
	started := time.Now()
	err := call.Pages(ctx, func(page *calendar.Events) error {
		for _, item := range page.Items {
			if item.Status == "cancelled" {
				continue
			}
			ev, err := c.convert(item)
			if err != nil {
				c.logger.Warn().Err(err).Str("event_id", item.Id).Msg("Skipping unreadable calendar event")
				continue
			}
			out = append(out, ev)
		}
		if page.NextPageToken != "" {
			return c.limiter.Wait(ctx)
		}
		return nil
	})
	metrics.ObserveGoogleCall("calendar", "list", started, err)
	if err != nil {
		return nil, fmt.Errorf("unable to list events: %w", err)
	}
	return out, nil
}

func (c *CalendarService) convert(item *calendar.Event) (models.CalendarEvent, error) {
	ev := models.CalendarEvent{ID: item.Id, Summary: item.Summary, Description: item.Description}
	if item.Start == nil || item.End == nil {
		return ev, fmt.Errorf("event %s has no start or end", item.Id)
	}

	if item.Start.DateTime == "" {
		ev.AllDay = true
		start, err := time.ParseInLocation(models.DateLayout, item.Start.Date, c.loc)
		if err != nil {
			return ev, err
		}
		end, err := time.ParseInLocation(models.DateLayout, item.End.Date, c.loc)
		if err != nil {
			return ev, err
		}
		ev.Start, ev.End = start, end
		return ev, nil
	}

	start, err := time.Parse(time.RFC3339, item.Start.DateTime)
	if err != nil {
		return ev, err
	}
	end, err := time.Parse(time.RFC3339, item.End.DateTime)
	if err != nil {
		return ev, err
	}
	ev.Start, ev.End = start.In(c.loc), end.In(c.loc)
	return ev, nil
}

// InsertEvent creates a timed event and returns its ID.
func (c *CalendarService) InsertEvent(ctx context.Context, summary, description string, start, end time.Time) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", err
	}
	ev := &calendar.Event{
		Summary:     summary,
		Description: description,
		Start:       c.eventTime(start),
		End:         c.eventTime(end),
	}

	started := time.Now()
	created, err := c.service.Events.Insert(c.calendarID, ev).Context(ctx).Do()
	metrics.ObserveGoogleCall("calendar", "insert", started, err)
	if err != nil {
		return "", fmt.Errorf("unable to create event: %w", err)
	}
	return created.Id, nil
}

func (c *CalendarService) eventTime(t time.Time) *calendar.EventDateTime {
	edt := &calendar.EventDateTime{DateTime: t.In(c.loc).Format(time.RFC3339)}
	// the API only accepts IANA zone names
	if name := c.loc.String(); strings.Contains(name, "/") {
		edt.TimeZone = name
	}
	return edt
}

// DeleteEvent removes an event. An event that is already gone counts as
// deleted.
func (c *CalendarService) DeleteEvent(ctx context.Context, eventID string) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	started := time.Now()
	err := c.service.Events.Delete(c.calendarID, eventID).Context(ctx).Do()
	if isGone(err) {
		c.logger.Debug().Str("event_id", eventID).Msg("Event already deleted")
		err = nil
	}
	metrics.ObserveGoogleCall("calendar", "delete", started, err)
	if err != nil {
		return fmt.Errorf("unable to delete event %s: %w", eventID, err)
	}
	return nil
}
