package booking

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"movingmen/internal/journal"
	"movingmen/internal/models"
	"movingmen/internal/slots"

	"github.com/rs/zerolog"
)

// RecordStore is the bookings sheet.
type RecordStore interface {
	GetAllRecords(ctx context.Context) ([]models.Booking, error)
	AppendRow(ctx context.Context, b *models.Booking) (int, error)
	UpdateRow(ctx context.Context, rowIndex int, b *models.Booking) error
	BlankRow(ctx context.Context, rowIndex int) error
}

// CalendarStore is the jobs calendar.
type CalendarStore interface {
	slots.EventLister
	InsertEvent(ctx context.Context, summary, description string, start, end time.Time) (string, error)
	DeleteEvent(ctx context.Context, eventID string) error
}

// Journal records the outcome of every write that touches both stores.
type Journal interface {
	Record(ctx context.Context, e journal.Entry) error
	HighestPO(ctx context.Context) (string, error)
}

// EventPublisher publishes booking domain events.
type EventPublisher interface {
	PublishJSON(eventType string, payload interface{}) error
}

const (
	EventBookingCreated   = "booking.created"
	EventBookingRebooked  = "booking.rebooked"
	EventBookingCancelled = "booking.cancelled"
)

// BookingEvent is the payload of the booking.* events.
type BookingEvent struct {
	Booking    models.Booking `json:"booking"`
	OldEventID string         `json:"old_event_id,omitempty"`
	ChatID     int64          `json:"chat_id"`
	Warning    string         `json:"warning,omitempty"`
}

// Result is a completed write. Warning is set when a best-effort step
// failed, e.g. the old calendar event could not be deleted.
type Result struct {
	Booking *models.Booking
	Warning error
}

// Controller runs the booking lifecycle for staff sessions.
type Controller struct {
	records  RecordStore
	calendar CalendarStore
	slots    *slots.Generator
	fsm      *FSM
	counter  *POCounter
	journal  Journal
	bus      EventPublisher
	logger   *zerolog.Logger

	// serialises writes so two sessions cannot take the same slot or PO number
	writeMu sync.Mutex
}

// NewController wires the controller. journal and bus may be nil.
func NewController(records RecordStore, calendar CalendarStore, generator *slots.Generator, j Journal, bus EventPublisher, logger *zerolog.Logger) *Controller {
	if logger == nil {
		l := zerolog.Nop()
		logger = &l
	}
	return &Controller{
		records:  records,
		calendar: calendar,
		slots:    generator,
		fsm:      NewFSM(),
		counter:  NewPOCounter(1),
		journal:  j,
		bus:      bus,
		logger:   logger,
	}
}

// Init seeds the PO counter from the record store and the journal. The
// sheet read drops trailing cleared rows, so a cancelled booking at the end
// is only remembered by its journalled create.
func (c *Controller) Init(ctx context.Context) error {
	records, err := c.records.GetAllRecords(ctx)
	if err != nil {
		return &RecordStoreError{Op: OpRead, Err: err}
	}
	c.counter.Seed(records)

	var journalled string
	if c.journal != nil {
		journalled, err = c.journal.HighestPO(ctx)
		if err != nil {
			c.logger.Warn().Err(err).Msg("Failed to read journalled PO numbers")
		} else if n, ok := models.ParsePO(journalled); ok {
			c.counter.SeedAtLeast(n)
		}
	}

	c.logger.Info().
		Int("rows", len(records)).
		Str("journal_po", journalled).
		Str("next_po", c.counter.Peek()).
		Msg("PO counter seeded")
	return nil
}

// Counter exposes the PO sequence.
func (c *Controller) Counter() *POCounter {
	return c.counter
}

// Location is the fixed business time zone.
func (c *Controller) Location() *time.Location {
	return c.slots.Location()
}

func (c *Controller) log(ctx context.Context) *zerolog.Logger {
	if l := zerolog.Ctx(ctx); l.GetLevel() != zerolog.Disabled {
		return l
	}
	return c.logger
}

// Find returns the first non-blank booking, in sheet order, whose name
// contains name (case-insensitive) or whose phone ends in the same digits as
// phone. Empty query fields never match.
func (c *Controller) Find(ctx context.Context, name, phone string) (*models.Booking, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	suffix := models.PhoneSuffix(phone)
	if name == "" && suffix == "" {
		return nil, ErrNotFound
	}

	records, err := c.records.GetAllRecords(ctx)
	if err != nil {
		return nil, &RecordStoreError{Op: OpRead, Err: err}
	}
	for i := range records {
		b := &records[i]
		if b.IsBlank() {
			continue
		}
		if name != "" && strings.Contains(strings.ToLower(b.Name), name) {
			return b.Clone(), nil
		}
		if suffix != "" && models.PhoneSuffix(b.Phone) == suffix {
			return b.Clone(), nil
		}
	}
	return nil, ErrNotFound
}

// Search looks up a booking for the session. A hit opens it; a miss returns
// ErrNotFound and starts a new booking prefilled with the query.
func (c *Controller) Search(ctx context.Context, s *models.Session, name, phone string, today time.Time) (*models.Booking, error) {
	if !c.fsm.CanTransition(s.State, ActionSearchHit) {
		return nil, fmt.Errorf("%w: search in %s", ErrInvalidTransition, s.State)
	}

	found, err := c.Find(ctx, name, phone)
	switch {
	case err == nil:
		s.Current = found
		s.Draft = nil
		s.Mode = models.ModeNone
		return found, c.fsm.Apply(s, ActionSearchHit)
	case errors.Is(err, ErrNotFound):
		draft := c.newDraft(today)
		draft.Name = strings.TrimSpace(name)
		draft.Phone = strings.TrimSpace(phone)
		s.Current = nil
		s.Draft = draft
		s.Mode = models.ModeNew
		if aerr := c.fsm.Apply(s, ActionSearchMiss); aerr != nil {
			return nil, aerr
		}
		return nil, ErrNotFound
	default:
		return nil, err
	}
}

// Select opens the booking stored at rowIndex, e.g. from the upcoming list.
func (c *Controller) Select(ctx context.Context, s *models.Session, rowIndex int) (*models.Booking, error) {
	if !c.fsm.CanTransition(s.State, ActionSelect) {
		return nil, fmt.Errorf("%w: select in %s", ErrInvalidTransition, s.State)
	}
	b, err := c.loadRow(ctx, rowIndex)
	if err != nil {
		return nil, err
	}
	if b == nil || b.IsBlank() {
		return nil, ErrNotFound
	}
	s.Current = b
	return b, c.fsm.Apply(s, ActionSelect)
}

// NewBooking starts an empty draft dated today.
func (c *Controller) NewBooking(s *models.Session, today time.Time) error {
	if err := c.fsm.Apply(s, ActionNew); err != nil {
		return err
	}
	s.Current = nil
	s.Draft = c.newDraft(today)
	s.Mode = models.ModeNew
	return nil
}

func (c *Controller) newDraft(today time.Time) *models.Booking {
	return &models.Booking{
		PONumber: c.counter.Peek(),
		Date:     c.dayStart(today),
		Service:  models.SmallTruck1Man,
	}
}

// Rebook starts editing a copy of the held booking.
func (c *Controller) Rebook(s *models.Session) error {
	if s.Current == nil {
		return ErrNoBookingHeld
	}
	if err := c.fsm.Apply(s, ActionRebook); err != nil {
		return err
	}
	s.Draft = s.Current.Clone()
	s.Mode = models.ModeRebook
	return nil
}

// RequestCancel asks for confirmation before cancelling the held booking.
func (c *Controller) RequestCancel(s *models.Session) error {
	if s.Current == nil {
		return ErrNoBookingHeld
	}
	return c.fsm.Apply(s, ActionCancel)
}

// DeclineCancel returns to the held booking.
func (c *Controller) DeclineCancel(s *models.Session) error {
	return c.fsm.Apply(s, ActionDecline)
}

// Back discards any draft or held booking and returns to search.
func (c *Controller) Back(s *models.Session) error {
	if err := c.fsm.Apply(s, ActionBack); err != nil {
		return err
	}
	s.Reset()
	return nil
}

// Slots sets the draft date and returns the free windows on it. When
// rebooking, the booking's own event does not block.
func (c *Controller) Slots(ctx context.Context, s *models.Session, date, today time.Time) ([]slots.Slot, error) {
	if s.State != models.StateEditing || s.Draft == nil {
		return nil, ErrNoDraft
	}
	day := c.dayStart(date)
	if day.Before(c.dayStart(today)) {
		return nil, validationError("The date is in the past. Choose today or a later date.")
	}

	available, err := c.slots.AvailableSlots(ctx, day, c.exclude(s)...)
	if err != nil {
		return nil, &CalendarStoreError{Op: OpList, Err: err}
	}
	if len(available) == 0 {
		return nil, ErrNoSlotsAvailable
	}
	s.Draft.Date = day
	if !s.Draft.Start.IsZero() {
		s.Draft.SetStart(s.Draft.Start.Hour())
	}
	return available, nil
}

func (c *Controller) exclude(s *models.Session) []string {
	if s.Mode == models.ModeRebook && s.Draft != nil && s.Draft.EventID != "" {
		return []string{s.Draft.EventID}
	}
	return nil
}

func (c *Controller) validate(b *models.Booking, today time.Time) error {
	if strings.TrimSpace(b.Name) == "" {
		return validationError("Customer name is required.")
	}
	if b.Date.IsZero() {
		return validationError("Choose a date for the job.")
	}
	if c.dayStart(b.Date).Before(c.dayStart(today)) {
		return validationError("The date is in the past. Choose today or a later date.")
	}
	if _, err := models.ParseService(string(b.Service)); err != nil {
		return validationError("Choose a service.")
	}
	return nil
}

// Submit creates or rebooks the draft at startHour. On error the session is
// left as it was, draft included.
func (c *Controller) Submit(ctx context.Context, s *models.Session, startHour int, today time.Time) (*Result, error) {
	if s.State != models.StateEditing || s.Draft == nil {
		return nil, ErrNoDraft
	}
	draft := s.Draft.Clone()
	if err := c.validate(draft, today); err != nil {
		return nil, err
	}
	draft.Date = c.dayStart(draft.Date)
	draft.SetStart(startHour)

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	ok, err := c.slots.IsAvailable(ctx, draft.Start, c.exclude(s)...)
	if err != nil {
		return nil, &CalendarStoreError{Op: OpList, Err: err}
	}
	if !ok {
		return nil, c.unavailable(ctx, s, draft.Date)
	}

	var res *Result
	if s.Mode == models.ModeRebook {
		res, err = c.rebook(ctx, s, draft)
	} else {
		res, err = c.create(ctx, s, draft)
	}
	if err != nil {
		return nil, err
	}

	if err := c.fsm.Apply(s, ActionSubmit); err != nil {
		return nil, err
	}
	s.Reset()
	return res, nil
}

// unavailable tells a taken start apart from a day with no room left.
func (c *Controller) unavailable(ctx context.Context, s *models.Session, day time.Time) error {
	available, err := c.slots.AvailableSlots(ctx, day, c.exclude(s)...)
	if err != nil {
		return &CalendarStoreError{Op: OpList, Err: err}
	}
	if len(available) == 0 {
		return ErrNoSlotsAvailable
	}
	return ErrSlotUnavailable
}

func (c *Controller) create(ctx context.Context, s *models.Session, draft *models.Booking) (*Result, error) {
	logger := c.log(ctx)
	draft.PONumber = c.counter.Peek()
	draft.EventID = ""
	draft.RowIndex = 0

	eventID, err := c.calendar.InsertEvent(ctx, draft.Summary(), draft.Description(), draft.Start, draft.End)
	if err != nil {
		c.record(ctx, journal.Entry{Op: "create", PONumber: draft.PONumber, Outcome: journal.OutcomeFailed, Detail: err.Error()})
		return nil, &CalendarStoreError{Op: OpInsert, Err: err}
	}
	draft.EventID = eventID

	row, err := c.records.AppendRow(ctx, draft)
	if err != nil {
		entry := journal.Entry{Op: "create", PONumber: draft.PONumber, EventID: eventID, Outcome: journal.OutcomeCompensated, Detail: err.Error()}
		if derr := c.calendar.DeleteEvent(ctx, eventID); derr != nil {
			entry.Outcome = journal.OutcomeDiverged
			entry.Detail = fmt.Sprintf("%v; delete new event: %v", err, derr)
			logger.Error().Err(derr).Str("event_id", eventID).Msg("Failed to remove event after row append failed")
		}
		c.record(ctx, entry)
		return nil, &RecordStoreError{Op: OpAppend, Err: err}
	}
	draft.RowIndex = row
	c.counter.Advance()

	c.record(ctx, journal.Entry{Op: "create", PONumber: draft.PONumber, RowIndex: row, EventID: eventID, Outcome: journal.OutcomeOK})
	c.publish(ctx, EventBookingCreated, BookingEvent{Booking: *draft, ChatID: s.ChatID})
	logger.Info().
		Str("po", draft.PONumber).
		Int("row", row).
		Str("event_id", eventID).
		Time("start", draft.Start).
		Msg("Booking created")
	return &Result{Booking: draft}, nil
}

func (c *Controller) rebook(ctx context.Context, s *models.Session, draft *models.Booking) (*Result, error) {
	logger := c.log(ctx)

	stored, err := c.locate(ctx, draft)
	if err != nil {
		return nil, err
	}
	if stored == nil {
		return nil, ErrNotFound
	}
	if stored.RowIndex != draft.RowIndex {
		logger.Warn().Str("po", draft.PONumber).Int("held_row", draft.RowIndex).Int("row", stored.RowIndex).Msg("Booking moved to another row")
		draft.RowIndex = stored.RowIndex
	}

	oldEventID := stored.EventID
	entry := journal.Entry{Op: "rebook", PONumber: draft.PONumber, RowIndex: draft.RowIndex, OldEventID: oldEventID}

	var warning error
	oldDeleted := oldEventID == ""
	if oldEventID != "" {
		if derr := c.calendar.DeleteEvent(ctx, oldEventID); derr != nil {
			warning = &CalendarStoreError{Op: OpDelete, Err: derr}
			logger.Warn().Err(derr).Str("event_id", oldEventID).Msg("Failed to delete old event, continuing rebook")
		} else {
			oldDeleted = true
		}
	}

	eventID, err := c.calendar.InsertEvent(ctx, draft.Summary(), draft.Description(), draft.Start, draft.End)
	if err != nil {
		entry.Outcome = journal.OutcomeFailed
		entry.Detail = err.Error()
		if oldDeleted && oldEventID != "" {
			// row still points at the deleted event
			entry.Outcome = journal.OutcomeDiverged
		}
		c.record(ctx, entry)
		return nil, &CalendarStoreError{Op: OpInsert, Err: err}
	}
	draft.EventID = eventID
	entry.EventID = eventID

	if err := c.records.UpdateRow(ctx, draft.RowIndex, draft); err != nil {
		entry.Outcome = journal.OutcomeCompensated
		entry.Detail = err.Error()
		if oldDeleted && oldEventID != "" {
			entry.Outcome = journal.OutcomeDiverged
		}
		if derr := c.calendar.DeleteEvent(ctx, eventID); derr != nil {
			entry.Outcome = journal.OutcomeDiverged
			entry.Detail = fmt.Sprintf("%v; delete new event: %v", err, derr)
			logger.Error().Err(derr).Str("event_id", eventID).Msg("Failed to remove event after row update failed")
		}
		c.record(ctx, entry)
		return nil, &RecordStoreError{Op: OpUpdate, Err: err}
	}

	entry.Outcome = journal.OutcomeOK
	if warning != nil {
		entry.Outcome = journal.OutcomeWarning
		entry.Detail = warning.Error()
	}
	c.record(ctx, entry)

	ev := BookingEvent{Booking: *draft, OldEventID: oldEventID, ChatID: s.ChatID}
	if warning != nil {
		ev.Warning = warning.Error()
	}
	c.publish(ctx, EventBookingRebooked, ev)
	logger.Info().
		Str("po", draft.PONumber).
		Int("row", draft.RowIndex).
		Str("old_event_id", oldEventID).
		Str("event_id", eventID).
		Time("start", draft.Start).
		Msg("Booking rebooked")
	return &Result{Booking: draft, Warning: warning}, nil
}

// ConfirmCancel deletes the held booking's event and blanks its row. A
// failed event delete is reported as a warning. A booking whose PO is no
// longer in the sheet is a no-op.
func (c *Controller) ConfirmCancel(ctx context.Context, s *models.Session) (*Result, error) {
	if !c.fsm.CanTransition(s.State, ActionConfirm) {
		return nil, fmt.Errorf("%w: confirm in %s", ErrInvalidTransition, s.State)
	}
	if s.Current == nil {
		return nil, ErrNoBookingHeld
	}
	logger := c.log(ctx)
	held := s.Current

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	stored, err := c.locate(ctx, held)
	if err != nil {
		return nil, err
	}
	if stored == nil {
		logger.Info().Str("po", held.PONumber).Msg("Booking already cancelled")
		return &Result{Booking: held}, c.finishCancel(s)
	}

	entry := journal.Entry{Op: "cancel", PONumber: stored.PONumber, RowIndex: stored.RowIndex, OldEventID: stored.EventID}
	var warning error
	eventDeleted := false
	if stored.EventID != "" {
		if derr := c.calendar.DeleteEvent(ctx, stored.EventID); derr != nil {
			warning = &CalendarStoreError{Op: OpDelete, Err: derr}
			logger.Warn().Err(derr).Str("event_id", stored.EventID).Msg("Failed to delete event, blanking row anyway")
		} else {
			eventDeleted = true
		}
	}

	if err := c.records.BlankRow(ctx, stored.RowIndex); err != nil {
		entry.Outcome = journal.OutcomeFailed
		entry.Detail = err.Error()
		if eventDeleted {
			entry.Outcome = journal.OutcomeDiverged
		}
		c.record(ctx, entry)
		return nil, &RecordStoreError{Op: OpBlank, Err: err}
	}

	entry.Outcome = journal.OutcomeOK
	ev := BookingEvent{Booking: *stored, OldEventID: stored.EventID, ChatID: s.ChatID}
	if warning != nil {
		entry.Outcome = journal.OutcomeWarning
		entry.Detail = warning.Error()
		ev.Warning = warning.Error()
	}
	c.record(ctx, entry)
	c.publish(ctx, EventBookingCancelled, ev)
	logger.Info().
		Str("po", stored.PONumber).
		Int("row", stored.RowIndex).
		Str("event_id", stored.EventID).
		Msg("Booking cancelled")
	return &Result{Booking: stored, Warning: warning}, c.finishCancel(s)
}

func (c *Controller) finishCancel(s *models.Session) error {
	if err := c.fsm.Apply(s, ActionConfirm); err != nil {
		return err
	}
	s.Reset()
	return nil
}

// Upcoming returns bookings dated today or later, earliest first.
func (c *Controller) Upcoming(ctx context.Context, today time.Time) ([]models.Booking, error) {
	records, err := c.records.GetAllRecords(ctx)
	if err != nil {
		return nil, &RecordStoreError{Op: OpRead, Err: err}
	}
	from := c.dayStart(today)

	var out []models.Booking
	for i := range records {
		b := records[i]
		if b.IsBlank() || b.Date.IsZero() || b.Date.Before(from) {
			continue
		}
		out = append(out, b)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.Before(out[j].Date)
		}
		return out[i].Start.Before(out[j].Start)
	})
	return out, nil
}

// OnDate returns the non-blank bookings on the given day, earliest first.
func (c *Controller) OnDate(ctx context.Context, date time.Time) ([]models.Booking, error) {
	upcoming, err := c.Upcoming(ctx, date)
	if err != nil {
		return nil, err
	}
	day := c.dayStart(date)
	var out []models.Booking
	for _, b := range upcoming {
		if c.dayStart(b.Date).Equal(day) {
			out = append(out, b)
		}
	}
	return out, nil
}

func (c *Controller) loadRow(ctx context.Context, rowIndex int) (*models.Booking, error) {
	if rowIndex <= 0 {
		return nil, nil
	}
	records, err := c.records.GetAllRecords(ctx)
	if err != nil {
		return nil, &RecordStoreError{Op: OpRead, Err: err}
	}
	for i := range records {
		if records[i].RowIndex == rowIndex {
			return records[i].Clone(), nil
		}
	}
	return nil, nil
}

// locate finds the held booking in the sheet by PO number, preferring the
// row it was read from. nil means the PO is no longer in the sheet.
func (c *Controller) locate(ctx context.Context, held *models.Booking) (*models.Booking, error) {
	if held.PONumber == "" {
		return nil, nil
	}
	records, err := c.records.GetAllRecords(ctx)
	if err != nil {
		return nil, &RecordStoreError{Op: OpRead, Err: err}
	}
	var found *models.Booking
	for i := range records {
		if records[i].PONumber != held.PONumber {
			continue
		}
		if records[i].RowIndex == held.RowIndex {
			return records[i].Clone(), nil
		}
		if found == nil {
			found = records[i].Clone()
		}
	}
	return found, nil
}

func (c *Controller) dayStart(t time.Time) time.Time {
	loc := c.Location()
	t = t.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}

func (c *Controller) record(ctx context.Context, e journal.Entry) {
	if c.journal == nil {
		return
	}
	if err := c.journal.Record(ctx, e); err != nil {
		c.log(ctx).Error().Err(err).Str("op", e.Op).Str("po", e.PONumber).Msg("Failed to journal booking operation")
	}
}

func (c *Controller) publish(ctx context.Context, eventType string, ev BookingEvent) {
	if c.bus == nil {
		return
	}
	if err := c.bus.PublishJSON(eventType, ev); err != nil {
		c.log(ctx).Error().Err(err).Str("event", eventType).Msg("Failed to publish booking event")
	}
}
