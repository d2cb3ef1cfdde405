package booking

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"movingmen/internal/journal"
	"movingmen/internal/models"
	"movingmen/internal/slots"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var testLoc = time.FixedZone("AEST", 10*60*60)

type fakeRecords struct {
	rows      []models.Booking
	readErr   error
	appendErr error
	updateErr error
	blankErr  error
}

func (f *fakeRecords) GetAllRecords(ctx context.Context) ([]models.Booking, error) {
	if f.readErr != nil {
		return nil, f.readErr
	}
	out := make([]models.Booking, len(f.rows))
	copy(out, f.rows)
	return out, nil
}

func (f *fakeRecords) AppendRow(ctx context.Context, b *models.Booking) (int, error) {
	if f.appendErr != nil {
		return 0, f.appendErr
	}
	row := *b
	row.RowIndex = len(f.rows) + 2
	f.rows = append(f.rows, row)
	return row.RowIndex, nil
}

func (f *fakeRecords) UpdateRow(ctx context.Context, rowIndex int, b *models.Booking) error {
	if f.updateErr != nil {
		return f.updateErr
	}
	row := *b
	row.RowIndex = rowIndex
	f.rows[rowIndex-2] = row
	return nil
}

// insertAt pushes rowIndex and every later row down one, the way a sheet
// insert does.
func (f *fakeRecords) insertAt(rowIndex int, b models.Booking) {
	i := rowIndex - 2
	f.rows = append(f.rows[:i], append([]models.Booking{b}, f.rows[i:]...)...)
	for j := range f.rows {
		f.rows[j].RowIndex = j + 2
	}
}

func (f *fakeRecords) BlankRow(ctx context.Context, rowIndex int) error {
	if f.blankErr != nil {
		return f.blankErr
	}
	f.rows[rowIndex-2] = models.Booking{RowIndex: rowIndex}
	return nil
}

type mockCalendar struct {
	mock.Mock
}

func (m *mockCalendar) ListEvents(ctx context.Context, timeMin, timeMax time.Time) ([]models.CalendarEvent, error) {
	args := m.Called(ctx, timeMin, timeMax)
	return args.Get(0).([]models.CalendarEvent), args.Error(1)
}

func (m *mockCalendar) InsertEvent(ctx context.Context, summary, description string, start, end time.Time) (string, error) {
	args := m.Called(ctx, summary, description, start, end)
	return args.String(0), args.Error(1)
}

func (m *mockCalendar) DeleteEvent(ctx context.Context, eventID string) error {
	return m.Called(ctx, eventID).Error(0)
}

type mockJournal struct {
	mock.Mock
}

func (m *mockJournal) Record(ctx context.Context, e journal.Entry) error {
	return m.Called(ctx, e).Error(0)
}

func (m *mockJournal) HighestPO(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}

func (m *mockJournal) last(t *testing.T) journal.Entry {
	t.Helper()
	for i := len(m.Calls) - 1; i >= 0; i-- {
		if m.Calls[i].Method == "Record" {
			return m.Calls[i].Arguments.Get(1).(journal.Entry)
		}
	}
	t.Fatal("nothing journalled")
	return journal.Entry{}
}

type mockBus struct {
	mock.Mock
}

func (m *mockBus) PublishJSON(et string, p interface{}) error { return m.Called(et, p).Error(0) }

type fixture struct {
	ctrl    *Controller
	records *fakeRecords
	cal     *mockCalendar
	journal *mockJournal
	bus     *mockBus
}

var (
	today  = time.Date(2025, 3, 10, 8, 30, 0, 0, testLoc)
	jobDay = time.Date(2025, 3, 12, 0, 0, 0, 0, testLoc)
	noneEv = []models.CalendarEvent{}
)

func newFixture(t *testing.T, rows ...models.Booking) *fixture {
	t.Helper()
	records := &fakeRecords{}
	for _, r := range rows {
		r.RowIndex = len(records.rows) + 2
		records.rows = append(records.rows, r)
	}
	cal := new(mockCalendar)
	j := new(mockJournal)
	j.On("Record", mock.Anything, mock.Anything).Return(nil)
	j.On("HighestPO", mock.Anything).Return("", nil)
	bus := new(mockBus)
	bus.On("PublishJSON", mock.Anything, mock.Anything).Return(nil)

	logger := zerolog.New(io.Discard)
	gen := slots.NewGenerator(cal, slots.DefaultSchedule, testLoc)
	ctrl := NewController(records, cal, gen, j, bus, &logger)
	require.NoError(t, ctrl.Init(context.Background()))

	return &fixture{ctrl: ctrl, records: records, cal: cal, journal: j, bus: bus}
}

func storedBooking(po, name, phone string, day time.Time, hour int, eventID string) models.Booking {
	b := models.Booking{
		PONumber:    po,
		Name:        name,
		Phone:       phone,
		FromAddress: "1 Queen St",
		ToAddress:   "2 King St",
		Date:        day,
		Service:     models.BigTruck2Men,
		EventID:     eventID,
	}
	b.SetStart(hour)
	return b
}

func event(id string, day time.Time, from, to int) models.CalendarEvent {
	return models.CalendarEvent{
		ID:    id,
		Start: day.Add(time.Duration(from) * time.Hour),
		End:   day.Add(time.Duration(to) * time.Hour),
	}
}

func fillDraft(s *models.Session) {
	s.Draft.Name = "Jane Smith"
	s.Draft.Phone = "0412 345 678"
	s.Draft.FromAddress = "10 Ann St"
	s.Draft.ToAddress = "20 Adelaide St"
	s.Draft.Date = jobDay
	s.Draft.Service = models.SmallTruck2Men
	s.Draft.Notes = "piano"
}

func TestController_CreateThenSearch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := models.NewSession(1)

	require.NoError(t, f.ctrl.NewBooking(s, today))
	assert.Equal(t, models.StateEditing, s.State)
	assert.Equal(t, "E000001", s.Draft.PONumber)
	fillDraft(s)

	start := jobDay.Add(9 * time.Hour)
	f.cal.On("ListEvents", mock.Anything, mock.Anything, mock.Anything).Return(noneEv, nil)
	at := func(want time.Time) interface{} {
		return mock.MatchedBy(func(got time.Time) bool { return got.Equal(want) })
	}
	f.cal.On("InsertEvent", mock.Anything, "E000001 – Jane Smith – Small Truck + 2 Men", mock.Anything, at(start), at(start.Add(4*time.Hour))).
		Return("ev1", nil).Once()

	res, err := f.ctrl.Submit(ctx, s, 9, today)
	require.NoError(t, err)
	assert.Nil(t, res.Warning)
	assert.Equal(t, "E000001", res.Booking.PONumber)
	assert.Equal(t, 2, res.Booking.RowIndex)
	assert.Equal(t, "ev1", res.Booking.EventID)
	assert.Equal(t, models.StateSearch, s.State)
	assert.Nil(t, s.Draft)
	assert.Equal(t, "E000002", f.ctrl.Counter().Peek())

	assert.Equal(t, journal.OutcomeOK, f.journal.last(t).Outcome)
	f.bus.AssertCalled(t, "PublishJSON", EventBookingCreated, mock.Anything)

	byPhone, err := f.ctrl.Search(ctx, models.NewSession(2), "", "+61 412 345 678", today)
	require.NoError(t, err)
	byName, err := f.ctrl.Search(ctx, models.NewSession(3), "smi", "", today)
	require.NoError(t, err)

	for _, got := range []*models.Booking{byPhone, byName} {
		assert.Equal(t, res.Booking.PONumber, got.PONumber)
		assert.Equal(t, "Jane Smith", got.Name)
		assert.Equal(t, "10 Ann St", got.FromAddress)
		assert.Equal(t, "piano", got.Notes)
		assert.True(t, got.Start.Equal(start))
		assert.Equal(t, "ev1", got.EventID)
	}
	f.cal.AssertExpectations(t)
}

func TestController_SearchFirstMatchSkipsBlank(t *testing.T) {
	f := newFixture(t,
		models.Booking{},
		storedBooking("E000002", "Tom Brown", "0400000001", jobDay, 7, "a"),
		storedBooking("E000003", "Tommy Lee", "0400000002", jobDay, 12, "b"),
	)
	s := models.NewSession(1)

	got, err := f.ctrl.Search(context.Background(), s, "TOM", "", today)
	require.NoError(t, err)
	assert.Equal(t, "E000002", got.PONumber)
	assert.Equal(t, models.StateView, s.State)
	assert.Equal(t, got, s.Current)
}

func TestController_SearchMissStartsNewBooking(t *testing.T) {
	f := newFixture(t, storedBooking("E000001", "Tom Brown", "0400000001", jobDay, 7, "a"))
	s := models.NewSession(1)

	_, err := f.ctrl.Search(context.Background(), s, "Alice", "0499 999 999", today)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, models.StateEditing, s.State)
	assert.Equal(t, models.ModeNew, s.Mode)
	require.NotNil(t, s.Draft)
	assert.Equal(t, "Alice", s.Draft.Name)
	assert.Equal(t, "0499 999 999", s.Draft.Phone)
	assert.Equal(t, "E000002", s.Draft.PONumber)
	assert.Equal(t, models.SmallTruck1Man, s.Draft.Service)
}

func TestController_SearchEmptyQueryNeverMatches(t *testing.T) {
	f := newFixture(t, storedBooking("E000001", "Tom Brown", "", jobDay, 7, "a"))

	_, err := f.ctrl.Find(context.Background(), "  ", "")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestController_SubmitRejectsTakenSlot(t *testing.T) {
	f := newFixture(t)
	s := models.NewSession(1)
	require.NoError(t, f.ctrl.NewBooking(s, today))
	fillDraft(s)

	f.cal.On("ListEvents", mock.Anything, mock.Anything, mock.Anything).
		Return([]models.CalendarEvent{event("x", jobDay, 9, 13)}, nil)

	_, err := f.ctrl.Submit(context.Background(), s, 10, today)
	assert.ErrorIs(t, err, ErrSlotUnavailable)
	assert.Equal(t, models.StateEditing, s.State)
	assert.Equal(t, "Jane Smith", s.Draft.Name)
	f.cal.AssertNotCalled(t, "InsertEvent", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestController_SubmitNoSlots(t *testing.T) {
	f := newFixture(t)
	s := models.NewSession(1)
	require.NoError(t, f.ctrl.NewBooking(s, today))
	fillDraft(s)

	f.cal.On("ListEvents", mock.Anything, mock.Anything, mock.Anything).
		Return([]models.CalendarEvent{event("x", jobDay, 7, 18)}, nil)

	_, err := f.ctrl.Submit(context.Background(), s, 7, today)
	assert.ErrorIs(t, err, ErrNoSlotsAvailable)
	assert.Equal(t, models.StateEditing, s.State)
}

func TestController_SubmitValidation(t *testing.T) {
	f := newFixture(t)
	s := models.NewSession(1)
	require.NoError(t, f.ctrl.NewBooking(s, today))
	fillDraft(s)
	s.Draft.Date = today.AddDate(0, 0, -1)

	_, err := f.ctrl.Submit(context.Background(), s, 9, today)
	var valErr *ValidationError
	assert.ErrorAs(t, err, &valErr)

	s.Draft.Date = jobDay
	s.Draft.Name = ""
	_, err = f.ctrl.Submit(context.Background(), s, 9, today)
	assert.ErrorAs(t, err, &valErr)
	assert.Equal(t, models.StateEditing, s.State)
}

func TestController_SubmitCalendarInsertFails(t *testing.T) {
	f := newFixture(t)
	s := models.NewSession(1)
	require.NoError(t, f.ctrl.NewBooking(s, today))
	fillDraft(s)

	f.cal.On("ListEvents", mock.Anything, mock.Anything, mock.Anything).Return(noneEv, nil)
	f.cal.On("InsertEvent", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return("", errors.New("quota exceeded"))

	_, err := f.ctrl.Submit(context.Background(), s, 9, today)
	var calErr *CalendarStoreError
	require.ErrorAs(t, err, &calErr)
	assert.Equal(t, OpInsert, calErr.Op)

	assert.Empty(t, f.records.rows)
	assert.Equal(t, "E000001", f.ctrl.Counter().Peek())
	assert.Equal(t, models.StateEditing, s.State)
	assert.Equal(t, journal.OutcomeFailed, f.journal.last(t).Outcome)
	f.bus.AssertNotCalled(t, "PublishJSON", mock.Anything, mock.Anything)
}

func TestController_SubmitAppendFailsCompensates(t *testing.T) {
	f := newFixture(t)
	f.records.appendErr = errors.New("sheet locked")
	s := models.NewSession(1)
	require.NoError(t, f.ctrl.NewBooking(s, today))
	fillDraft(s)

	f.cal.On("ListEvents", mock.Anything, mock.Anything, mock.Anything).Return(noneEv, nil)
	f.cal.On("InsertEvent", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return("ev1", nil)
	f.cal.On("DeleteEvent", mock.Anything, "ev1").Return(nil).Once()

	_, err := f.ctrl.Submit(context.Background(), s, 9, today)
	var recErr *RecordStoreError
	require.ErrorAs(t, err, &recErr)
	assert.Equal(t, OpAppend, recErr.Op)
	assert.Equal(t, "E000001", f.ctrl.Counter().Peek())
	assert.Equal(t, journal.OutcomeCompensated, f.journal.last(t).Outcome)
	f.cal.AssertExpectations(t)
}

func TestController_SubmitAppendFailsCompensationFails(t *testing.T) {
	f := newFixture(t)
	f.records.appendErr = errors.New("sheet locked")
	s := models.NewSession(1)
	require.NoError(t, f.ctrl.NewBooking(s, today))
	fillDraft(s)

	f.cal.On("ListEvents", mock.Anything, mock.Anything, mock.Anything).Return(noneEv, nil)
	f.cal.On("InsertEvent", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return("ev1", nil)
	f.cal.On("DeleteEvent", mock.Anything, "ev1").Return(errors.New("503"))

	_, err := f.ctrl.Submit(context.Background(), s, 9, today)
	require.Error(t, err)
	entry := f.journal.last(t)
	assert.Equal(t, journal.OutcomeDiverged, entry.Outcome)
	assert.Equal(t, "ev1", entry.EventID)
}

func TestController_Rebook(t *testing.T) {
	f := newFixture(t, storedBooking("E000001", "Tom Brown", "0400000001", jobDay, 9, "old"))
	ctx := context.Background()
	s := models.NewSession(1)

	_, err := f.ctrl.Select(ctx, s, 2)
	require.NoError(t, err)
	require.NoError(t, f.ctrl.Rebook(s))
	assert.Equal(t, models.ModeRebook, s.Mode)

	// the booking's own event must not block the overlapping slot
	f.cal.On("ListEvents", mock.Anything, mock.Anything, mock.Anything).
		Return([]models.CalendarEvent{event("old", jobDay, 9, 13)}, nil)

	var order []string
	f.cal.On("DeleteEvent", mock.Anything, "old").Return(nil).
		Run(func(mock.Arguments) { order = append(order, "delete") })
	f.cal.On("InsertEvent", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return("new", nil).
		Run(func(mock.Arguments) { order = append(order, "insert") })

	res, err := f.ctrl.Submit(ctx, s, 10, today)
	require.NoError(t, err)
	assert.Nil(t, res.Warning)
	assert.Equal(t, []string{"delete", "insert"}, order)

	assert.Equal(t, "E000001", res.Booking.PONumber)
	assert.Equal(t, 2, res.Booking.RowIndex)
	assert.Equal(t, "new", res.Booking.EventID)
	assert.Equal(t, 10, res.Booking.Start.Hour())
	assert.Equal(t, 14, res.Booking.End.Hour())

	stored := f.records.rows[0]
	assert.Equal(t, "E000001", stored.PONumber)
	assert.Equal(t, "new", stored.EventID)
	assert.Len(t, f.records.rows, 1)
	assert.Equal(t, "E000002", f.ctrl.Counter().Peek())
	f.bus.AssertCalled(t, "PublishJSON", EventBookingRebooked, mock.Anything)
}

func TestController_RebookOldDeleteFailsWarns(t *testing.T) {
	f := newFixture(t, storedBooking("E000001", "Tom Brown", "0400000001", jobDay, 9, "old"))
	ctx := context.Background()
	s := models.NewSession(1)
	_, err := f.ctrl.Select(ctx, s, 2)
	require.NoError(t, err)
	require.NoError(t, f.ctrl.Rebook(s))

	f.cal.On("ListEvents", mock.Anything, mock.Anything, mock.Anything).Return(noneEv, nil)
	f.cal.On("DeleteEvent", mock.Anything, "old").Return(errors.New("forbidden"))
	f.cal.On("InsertEvent", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return("new", nil)

	res, err := f.ctrl.Submit(ctx, s, 13, today)
	require.NoError(t, err)
	var calErr *CalendarStoreError
	require.ErrorAs(t, res.Warning, &calErr)
	assert.Equal(t, OpDelete, calErr.Op)
	assert.Equal(t, "new", f.records.rows[0].EventID)
	assert.Equal(t, journal.OutcomeWarning, f.journal.last(t).Outcome)
}

func TestController_RebookUpdateFailsCompensates(t *testing.T) {
	f := newFixture(t, storedBooking("E000001", "Tom Brown", "0400000001", jobDay, 9, "old"))
	ctx := context.Background()
	s := models.NewSession(1)
	_, err := f.ctrl.Select(ctx, s, 2)
	require.NoError(t, err)
	require.NoError(t, f.ctrl.Rebook(s))
	f.records.updateErr = errors.New("sheet locked")

	f.cal.On("ListEvents", mock.Anything, mock.Anything, mock.Anything).Return(noneEv, nil)
	f.cal.On("DeleteEvent", mock.Anything, "old").Return(nil)
	f.cal.On("InsertEvent", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return("new", nil)
	f.cal.On("DeleteEvent", mock.Anything, "new").Return(nil).Once()

	_, err = f.ctrl.Submit(ctx, s, 13, today)
	var recErr *RecordStoreError
	require.ErrorAs(t, err, &recErr)
	assert.Equal(t, OpUpdate, recErr.Op)
	assert.Equal(t, models.StateEditing, s.State)
	assert.Equal(t, "old", f.records.rows[0].EventID)
	// old event is already gone, so the row now points at nothing
	assert.Equal(t, journal.OutcomeDiverged, f.journal.last(t).Outcome)
	f.cal.AssertCalled(t, "DeleteEvent", mock.Anything, "new")
}

func TestController_RebookRowReused(t *testing.T) {
	f := newFixture(t, storedBooking("E000001", "Tom Brown", "0400000001", jobDay, 9, "old"))
	ctx := context.Background()
	s := models.NewSession(1)
	_, err := f.ctrl.Select(ctx, s, 2)
	require.NoError(t, err)
	require.NoError(t, f.ctrl.Rebook(s))

	f.records.rows[0] = storedBooking("E000005", "Someone Else", "0400000009", jobDay, 14, "other")
	f.records.rows[0].RowIndex = 2
	f.cal.On("ListEvents", mock.Anything, mock.Anything, mock.Anything).Return(noneEv, nil)

	_, err = f.ctrl.Submit(ctx, s, 7, today)
	assert.ErrorIs(t, err, ErrNotFound)
	f.cal.AssertNotCalled(t, "DeleteEvent", mock.Anything, mock.Anything)
}

func TestController_RebookAfterRowsShifted(t *testing.T) {
	f := newFixture(t,
		storedBooking("E000001", "Tom Brown", "0400000001", jobDay, 9, "ev1"),
		storedBooking("E000002", "Ann Lee", "0400000002", jobDay, 14, "ev2"),
	)
	ctx := context.Background()
	s := models.NewSession(1)
	_, err := f.ctrl.Select(ctx, s, 3)
	require.NoError(t, err)
	require.NoError(t, f.ctrl.Rebook(s))

	f.records.insertAt(3, storedBooking("E000003", "Bob Ray", "0400000003", jobDay, 7, "ev3"))
	f.cal.On("ListEvents", mock.Anything, mock.Anything, mock.Anything).Return(noneEv, nil)
	f.cal.On("DeleteEvent", mock.Anything, "ev2").Return(nil)
	f.cal.On("InsertEvent", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return("new", nil)

	res, err := f.ctrl.Submit(ctx, s, 10, today)
	require.NoError(t, err)
	assert.Equal(t, 4, res.Booking.RowIndex)
	assert.Equal(t, "E000003", f.records.rows[1].PONumber)
	assert.Equal(t, "ev3", f.records.rows[1].EventID)
	assert.Equal(t, "E000002", f.records.rows[2].PONumber)
	assert.Equal(t, "new", f.records.rows[2].EventID)
	f.cal.AssertNotCalled(t, "DeleteEvent", mock.Anything, "ev3")
}

func TestController_CancelAfterRowsShifted(t *testing.T) {
	f := newFixture(t,
		storedBooking("E000001", "Tom Brown", "0400000001", jobDay, 9, "ev1"),
		storedBooking("E000002", "Ann Lee", "0400000002", jobDay, 14, "ev2"),
	)
	ctx := context.Background()
	s := models.NewSession(1)
	_, err := f.ctrl.Select(ctx, s, 3)
	require.NoError(t, err)
	require.NoError(t, f.ctrl.RequestCancel(s))

	f.records.insertAt(3, storedBooking("E000003", "Bob Ray", "0400000003", jobDay, 7, "ev3"))
	f.cal.On("DeleteEvent", mock.Anything, "ev2").Return(nil)

	res, err := f.ctrl.ConfirmCancel(ctx, s)
	require.NoError(t, err)
	assert.Equal(t, "E000002", res.Booking.PONumber)
	assert.Equal(t, 4, res.Booking.RowIndex)
	assert.Equal(t, "E000003", f.records.rows[1].PONumber)
	assert.True(t, f.records.rows[2].IsBlank())
	f.cal.AssertCalled(t, "DeleteEvent", mock.Anything, "ev2")
	f.cal.AssertNumberOfCalls(t, "DeleteEvent", 1)
	assert.Equal(t, 4, f.journal.last(t).RowIndex)
}

func TestController_CancelRowHoldsOtherBooking(t *testing.T) {
	f := newFixture(t, storedBooking("E000001", "Tom Brown", "0400000001", jobDay, 9, "ev1"))
	ctx := context.Background()
	s := models.NewSession(1)
	_, err := f.ctrl.Select(ctx, s, 2)
	require.NoError(t, err)
	require.NoError(t, f.ctrl.RequestCancel(s))

	// held PO is gone from the sheet entirely
	f.records.rows[0] = storedBooking("E000005", "Someone Else", "0400000009", jobDay, 14, "other")
	f.records.rows[0].RowIndex = 2

	_, err = f.ctrl.ConfirmCancel(ctx, s)
	require.NoError(t, err)
	assert.Equal(t, models.StateSearch, s.State)
	assert.Equal(t, "E000005", f.records.rows[0].PONumber)
	f.cal.AssertNotCalled(t, "DeleteEvent", mock.Anything, mock.Anything)
}

func TestController_InitSeedsFromJournal(t *testing.T) {
	f := newFixture(t,
		storedBooking("E000001", "Tom Brown", "0400000001", jobDay, 9, "ev1"),
		storedBooking("E000002", "Ann Lee", "0400000002", jobDay, 14, "ev2"),
	)
	assert.Equal(t, "E000003", f.ctrl.Counter().Peek())

	// the last row was cancelled and the sheet read no longer returns it
	f.records.rows = f.records.rows[:1]

	j := new(mockJournal)
	j.On("HighestPO", mock.Anything).Return("E000002", nil)
	logger := zerolog.New(io.Discard)
	restarted := NewController(f.records, f.cal, slots.NewGenerator(f.cal, slots.DefaultSchedule, testLoc), j, f.bus, &logger)
	require.NoError(t, restarted.Init(context.Background()))
	assert.Equal(t, "E000003", restarted.Counter().Peek())

	// an unreadable journal falls back to the sheet
	j = new(mockJournal)
	j.On("HighestPO", mock.Anything).Return("", errors.New("disk I/O error"))
	restarted = NewController(f.records, f.cal, slots.NewGenerator(f.cal, slots.DefaultSchedule, testLoc), j, f.bus, &logger)
	require.NoError(t, restarted.Init(context.Background()))
	assert.Equal(t, "E000002", restarted.Counter().Peek())
}

func TestController_Cancel(t *testing.T) {
	f := newFixture(t, storedBooking("E000001", "Tom Brown", "0400000001", jobDay, 9, "ev1"))
	ctx := context.Background()

	s1 := models.NewSession(1)
	s2 := models.NewSession(2)
	for _, s := range []*models.Session{s1, s2} {
		_, err := f.ctrl.Select(ctx, s, 2)
		require.NoError(t, err)
		require.NoError(t, f.ctrl.RequestCancel(s))
		assert.Equal(t, models.StateConfirmCancel, s.State)
	}

	f.cal.On("DeleteEvent", mock.Anything, "ev1").Return(nil)

	res, err := f.ctrl.ConfirmCancel(ctx, s1)
	require.NoError(t, err)
	assert.Nil(t, res.Warning)
	assert.True(t, f.records.rows[0].IsBlank())
	assert.Equal(t, models.StateSearch, s1.State)
	assert.Nil(t, s1.Current)
	f.bus.AssertCalled(t, "PublishJSON", EventBookingCancelled, mock.Anything)

	// second cancel of the same booking is a no-op
	_, err = f.ctrl.ConfirmCancel(ctx, s2)
	require.NoError(t, err)
	assert.Equal(t, models.StateSearch, s2.State)
	f.cal.AssertNumberOfCalls(t, "DeleteEvent", 1)

	// blank rows keep their PO number reserved
	assert.Equal(t, "E000002", f.ctrl.Counter().Peek())
}

func TestController_CancelEventDeleteFails(t *testing.T) {
	f := newFixture(t, storedBooking("E000001", "Tom Brown", "0400000001", jobDay, 9, "ev1"))
	ctx := context.Background()
	s := models.NewSession(1)
	_, err := f.ctrl.Select(ctx, s, 2)
	require.NoError(t, err)
	require.NoError(t, f.ctrl.RequestCancel(s))

	f.cal.On("DeleteEvent", mock.Anything, "ev1").Return(errors.New("forbidden"))

	res, err := f.ctrl.ConfirmCancel(ctx, s)
	require.NoError(t, err)
	require.Error(t, res.Warning)
	assert.True(t, f.records.rows[0].IsBlank())
	assert.Equal(t, journal.OutcomeWarning, f.journal.last(t).Outcome)
}

func TestController_CancelBlankFails(t *testing.T) {
	f := newFixture(t, storedBooking("E000001", "Tom Brown", "0400000001", jobDay, 9, "ev1"))
	ctx := context.Background()
	s := models.NewSession(1)
	_, err := f.ctrl.Select(ctx, s, 2)
	require.NoError(t, err)
	require.NoError(t, f.ctrl.RequestCancel(s))
	f.records.blankErr = errors.New("sheet locked")

	f.cal.On("DeleteEvent", mock.Anything, "ev1").Return(nil)

	_, err = f.ctrl.ConfirmCancel(ctx, s)
	var recErr *RecordStoreError
	require.ErrorAs(t, err, &recErr)
	assert.Equal(t, OpBlank, recErr.Op)
	assert.Equal(t, models.StateConfirmCancel, s.State)
	assert.Equal(t, journal.OutcomeDiverged, f.journal.last(t).Outcome)
}

func TestController_DeclineAndBack(t *testing.T) {
	f := newFixture(t, storedBooking("E000001", "Tom Brown", "0400000001", jobDay, 9, "ev1"))
	ctx := context.Background()
	s := models.NewSession(1)
	_, err := f.ctrl.Select(ctx, s, 2)
	require.NoError(t, err)
	require.NoError(t, f.ctrl.RequestCancel(s))
	require.NoError(t, f.ctrl.DeclineCancel(s))
	assert.Equal(t, models.StateView, s.State)
	assert.NotNil(t, s.Current)

	require.NoError(t, f.ctrl.Rebook(s))
	require.NoError(t, f.ctrl.Back(s))
	assert.Equal(t, models.StateSearch, s.State)
	assert.Nil(t, s.Draft)
	assert.Nil(t, s.Current)

	assert.ErrorIs(t, f.ctrl.Rebook(s), ErrNoBookingHeld)
	assert.ErrorIs(t, f.ctrl.RequestCancel(s), ErrNoBookingHeld)
	_, err = f.ctrl.ConfirmCancel(ctx, s)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestController_Slots(t *testing.T) {
	f := newFixture(t, storedBooking("E000001", "Tom Brown", "0400000001", jobDay, 9, "own"))
	ctx := context.Background()

	f.cal.On("ListEvents", mock.Anything, mock.Anything, mock.Anything).
		Return([]models.CalendarEvent{event("own", jobDay, 9, 13)}, nil)

	s := models.NewSession(1)
	require.NoError(t, f.ctrl.NewBooking(s, today))
	got, err := f.ctrl.Slots(ctx, s, jobDay, today)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, 13, got[0].StartTime.Hour())
	assert.True(t, s.Draft.Date.Equal(jobDay))

	r := models.NewSession(2)
	_, err = f.ctrl.Select(ctx, r, 2)
	require.NoError(t, err)
	require.NoError(t, f.ctrl.Rebook(r))
	got, err = f.ctrl.Slots(ctx, r, jobDay, today)
	require.NoError(t, err)
	assert.Len(t, got, 8)

	_, err = f.ctrl.Slots(ctx, s, today.AddDate(0, 0, -2), today)
	var valErr *ValidationError
	assert.ErrorAs(t, err, &valErr)

	_, err = f.ctrl.Slots(ctx, models.NewSession(3), jobDay, today)
	assert.ErrorIs(t, err, ErrNoDraft)
}

func TestController_SlotsCalendarDown(t *testing.T) {
	f := newFixture(t)
	f.cal.On("ListEvents", mock.Anything, mock.Anything, mock.Anything).
		Return([]models.CalendarEvent(nil), errors.New("unavailable"))

	s := models.NewSession(1)
	require.NoError(t, f.ctrl.NewBooking(s, today))
	_, err := f.ctrl.Slots(context.Background(), s, jobDay, today)
	var calErr *CalendarStoreError
	require.ErrorAs(t, err, &calErr)
	assert.Equal(t, OpList, calErr.Op)
}

func TestController_Upcoming(t *testing.T) {
	yesterday := time.Date(2025, 3, 9, 0, 0, 0, 0, testLoc)
	todayStart := time.Date(2025, 3, 10, 0, 0, 0, 0, testLoc)
	f := newFixture(t,
		storedBooking("E000001", "Past", "1", yesterday, 9, "a"),
		storedBooking("E000002", "Later", "2", jobDay, 13, "b"),
		models.Booking{},
		storedBooking("E000004", "Earlier", "4", jobDay, 7, "d"),
		storedBooking("E000005", "Today", "5", todayStart, 14, "e"),
	)

	got, err := f.ctrl.Upcoming(context.Background(), today)
	require.NoError(t, err)
	var names []string
	for _, b := range got {
		names = append(names, b.Name)
	}
	assert.Equal(t, []string{"Today", "Earlier", "Later"}, names)

	onDay, err := f.ctrl.OnDate(context.Background(), jobDay)
	require.NoError(t, err)
	assert.Len(t, onDay, 2)
}

func TestController_RecordStoreDown(t *testing.T) {
	f := newFixture(t)
	f.records.readErr = errors.New("timeout")

	_, err := f.ctrl.Upcoming(context.Background(), today)
	var recErr *RecordStoreError
	require.ErrorAs(t, err, &recErr)
	assert.Equal(t, OpRead, recErr.Op)

	s := models.NewSession(1)
	_, err = f.ctrl.Search(context.Background(), s, "Tom", "", today)
	require.Error(t, err)
	assert.Equal(t, models.StateSearch, s.State)
}

func TestUserMessage(t *testing.T) {
	assert.Empty(t, UserMessage(nil))
	assert.Contains(t, UserMessage(ErrNoSlotsAvailable), "No 4-hour slots")
	assert.Equal(t, "That booking is no longer open. Search for it again.", UserMessage(ErrNoBookingHeld))
	assert.Contains(t, UserMessage(&CalendarStoreError{Op: OpInsert, Err: errors.New("x")}), "nothing was saved")
	assert.Contains(t, UserMessage(&RecordStoreError{Op: OpAppend, Err: errors.New("x")}), "bookings sheet")
	assert.Equal(t, "Choose a service.", UserMessage(validationError("Choose a service.")))
}
