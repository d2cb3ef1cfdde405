package slots

import (
	"context"
	"fmt"
	"time"

	"movingmen/internal/models"
)

// Slot represents a candidate job window.
type Slot struct {
	StartTime time.Time
	EndTime   time.Time
}

// SlotInfo is a simplified representation for UI.
type SlotInfo struct {
	Start string `json:"start"` // "07:00"
	End   string `json:"end"`   // "11:00"
	Hour  int    `json:"hour"`
}

// ScheduleInfo contains the business-day parameters.
type ScheduleInfo struct {
	OpenHour  int
	CloseHour int
	Block     time.Duration
}

// DefaultSchedule is 07:00–18:00 with 4-hour jobs.
var DefaultSchedule = ScheduleInfo{
	OpenHour:  7,
	CloseHour: 18,
	Block:     models.BlockDuration,
}

// EventLister reads calendar events within a time range.
type EventLister interface {
	ListEvents(ctx context.Context, timeMin, timeMax time.Time) ([]models.CalendarEvent, error)
}

// CalendarError wraps a failure to read the calendar store.
type CalendarError struct {
	Err error
}

func (e *CalendarError) Error() string {
	return fmt.Sprintf("list calendar events: %v", e.Err)
}

func (e *CalendarError) Unwrap() error {
	return e.Err
}

// Generator computes available job slots for a date.
type Generator struct {
	events   EventLister
	schedule ScheduleInfo
	loc      *time.Location
}

// NewGenerator creates a slot generator working in loc.
func NewGenerator(events EventLister, schedule ScheduleInfo, loc *time.Location) *Generator {
	if schedule.Block <= 0 {
		schedule.Block = DefaultSchedule.Block
	}
	if schedule.CloseHour <= schedule.OpenHour {
		schedule.OpenHour = DefaultSchedule.OpenHour
		schedule.CloseHour = DefaultSchedule.CloseHour
	}
	if loc == nil {
		loc = time.Local
	}
	return &Generator{events: events, schedule: schedule, loc: loc}
}

// Location returns the fixed zone all slots are computed in.
func (g *Generator) Location() *time.Location {
	return g.loc
}

// Candidates returns every window that fits the business day, booked or not.
func (g *Generator) Candidates(date time.Time) []Slot {
	open, closing := g.dayBounds(date)
	var out []Slot
	for cursor := open; !cursor.Add(g.schedule.Block).After(closing); cursor = cursor.Add(time.Hour) {
		out = append(out, Slot{StartTime: cursor, EndTime: cursor.Add(g.schedule.Block)})
	}
	return out
}

// AvailableSlots returns the free windows on date in ascending order.
// Events whose IDs are in exclude are ignored. The calendar is queried on
// every call.
func (g *Generator) AvailableSlots(ctx context.Context, date time.Time, exclude ...string) ([]Slot, error) {
	open, closing := g.dayBounds(date)

	events, err := g.events.ListEvents(ctx, open, closing)
	if err != nil {
		return nil, &CalendarError{Err: err}
	}

	skip := make(map[string]struct{}, len(exclude))
	for _, id := range exclude {
		if id != "" {
			skip[id] = struct{}{}
		}
	}

	var available []Slot
	for _, slot := range g.Candidates(date) {
		if !blocked(slot, events, skip) {
			available = append(available, slot)
		}
	}
	return available, nil
}

// IsAvailable re-checks that a window starting at start is still free.
func (g *Generator) IsAvailable(ctx context.Context, start time.Time, exclude ...string) (bool, error) {
	available, err := g.AvailableSlots(ctx, start, exclude...)
	if err != nil {
		return false, err
	}
	return Contains(available, start), nil
}

func (g *Generator) dayBounds(date time.Time) (time.Time, time.Time) {
	d := date.In(g.loc)
	open := time.Date(d.Year(), d.Month(), d.Day(), g.schedule.OpenHour, 0, 0, 0, g.loc)
	closing := time.Date(d.Year(), d.Month(), d.Day(), g.schedule.CloseHour, 0, 0, 0, g.loc)
	return open, closing
}

func blocked(slot Slot, events []models.CalendarEvent, skip map[string]struct{}) bool {
	for _, ev := range events {
		if ev.AllDay || ev.Start.IsZero() || ev.End.IsZero() {
			continue
		}
		if _, ok := skip[ev.ID]; ok {
			continue
		}
		if isOverlapping(slot.StartTime, slot.EndTime, ev.Start, ev.End) {
			return true
		}
	}
	return false
}

// Contains reports whether a slot starting at start is in slots.
func Contains(slots []Slot, start time.Time) bool {
	for _, s := range slots {
		if s.StartTime.Equal(start) {
			return true
		}
	}
	return false
}

// ToSlotInfo converts slots to SlotInfo for UI.
func ToSlotInfo(slots []Slot) []SlotInfo {
	result := make([]SlotInfo, len(slots))
	for i, s := range slots {
		result[i] = SlotInfo{
			Start: s.StartTime.Format("15:04"),
			End:   s.EndTime.Format("15:04"),
			Hour:  s.StartTime.Hour(),
		}
	}
	return result
}

// Half-open intervals: touching windows do not overlap.
func isOverlapping(start1, end1, start2, end2 time.Time) bool {
	return start1.Before(end2) && start2.Before(end1)
}
