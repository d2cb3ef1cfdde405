package models

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// BlockDuration is the length of every moving job.
const BlockDuration = 4 * time.Hour

const (
	DateLayout = "2006-01-02"
	TimeLayout = "15:04:05"
)

// Columns is the fixed header of the bookings sheet, columns A–K.
var Columns = []string{
	"PO No",
	"Name",
	"Phone",
	"From Address",
	"To Address",
	"Date",
	"Time",
	"End Time",
	"Service",
	"Notes",
	"Event ID",
}

// Service is the truck and crew combination sold for a job.
type Service string

const (
	SmallTruck1Man Service = "Small Truck + 1 Man"
	SmallTruck2Men Service = "Small Truck + 2 Men"
	BigTruck1Man   Service = "Big Truck + 1 Man"
	BigTruck2Men   Service = "Big Truck + 2 Men"
)

// Services lists the offered services in display order.
var Services = []Service{SmallTruck1Man, SmallTruck2Men, BigTruck1Man, BigTruck2Men}

// ParseService maps a stored label back to a Service.
func ParseService(s string) (Service, error) {
	s = strings.TrimSpace(s)
	for _, svc := range Services {
		if strings.EqualFold(string(svc), s) {
			return svc, nil
		}
	}
	return "", fmt.Errorf("unknown service %q", s)
}

// Booking is one moving job, backed by a sheet row and a calendar event.
type Booking struct {
	PONumber    string    `json:"po_number"`
	Name        string    `json:"name"`
	Phone       string    `json:"phone"`
	FromAddress string    `json:"from_address"`
	ToAddress   string    `json:"to_address"`
	Date        time.Time `json:"date"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
	Service     Service   `json:"service"`
	Notes       string    `json:"notes"`
	EventID     string    `json:"event_id"`
	RowIndex    int       `json:"row_index"` // 0 until the row exists
}

// FormatPO renders a sequence number as a PO number, e.g. 1 -> "E000001".
func FormatPO(n int) string {
	return fmt.Sprintf("E%06d", n)
}

// ParsePO extracts the sequence number from a PO number.
func ParsePO(po string) (int, bool) {
	po = strings.TrimSpace(po)
	if len(po) < 2 || (po[0] != 'E' && po[0] != 'e') {
		return 0, false
	}
	n, err := strconv.Atoi(po[1:])
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

// IsBlank reports whether the booking's row has been cleared by a cancellation.
func (b *Booking) IsBlank() bool {
	return b.PONumber == "" && b.Name == "" && b.Phone == "" && b.EventID == "" && b.Date.IsZero()
}

// SetStart places the job on its date at the given hour and derives the end.
func (b *Booking) SetStart(hour int) {
	b.Start = time.Date(b.Date.Year(), b.Date.Month(), b.Date.Day(), hour, 0, 0, 0, b.Date.Location())
	b.End = b.Start.Add(BlockDuration)
}

// Summary is the calendar event title.
func (b *Booking) Summary() string {
	return fmt.Sprintf("%s – %s – %s", b.PONumber, b.Name, b.Service)
}

// Description is the calendar event body.
func (b *Booking) Description() string {
	return fmt.Sprintf("Phone: %s\nFrom: %s\nTo: %s\nNotes: %s", b.Phone, b.FromAddress, b.ToAddress, b.Notes)
}

// Clone returns a copy that can be edited as a draft.
func (b *Booking) Clone() *Booking {
	if b == nil {
		return nil
	}
	c := *b
	return &c
}

// RowValues returns the booking as the 11 sheet cells in column order.
func (b *Booking) RowValues() []interface{} {
	var date, start, end string
	if !b.Date.IsZero() {
		date = b.Date.Format(DateLayout)
	}
	if !b.Start.IsZero() {
		start = b.Start.Format(TimeLayout)
	}
	if !b.End.IsZero() {
		end = b.End.Format(TimeLayout)
	}
	return []interface{}{
		b.PONumber,
		b.Name,
		b.Phone,
		b.FromAddress,
		b.ToAddress,
		date,
		start,
		end,
		string(b.Service),
		b.Notes,
		b.EventID,
	}
}

// BlankRowValues clears all 11 columns of a row.
func BlankRowValues() []interface{} {
	values := make([]interface{}, len(Columns))
	for i := range values {
		values[i] = ""
	}
	return values
}

// BookingFromRow parses sheet cells into a Booking. Short rows are padded;
// a fully empty row yields a blank booking.
func BookingFromRow(row []interface{}, rowIndex int, loc *time.Location) (*Booking, error) {
	if loc == nil {
		loc = time.Local
	}
	cell := func(i int) string {
		if i >= len(row) || row[i] == nil {
			return ""
		}
		return strings.TrimSpace(fmt.Sprint(row[i]))
	}

	b := &Booking{
		PONumber:    cell(0),
		Name:        cell(1),
		Phone:       cell(2),
		FromAddress: cell(3),
		ToAddress:   cell(4),
		Notes:       cell(9),
		EventID:     cell(10),
		RowIndex:    rowIndex,
	}

	if raw := cell(5); raw != "" {
		date, err := parseDate(raw, loc)
		if err != nil {
			return nil, fmt.Errorf("row %d: date: %w", rowIndex, err)
		}
		b.Date = date
	}
	if raw := cell(6); raw != "" && !b.Date.IsZero() {
		start, err := parseClock(b.Date, raw)
		if err != nil {
			return nil, fmt.Errorf("row %d: time: %w", rowIndex, err)
		}
		b.Start = start
		b.End = start.Add(BlockDuration)
	}
	if raw := cell(7); raw != "" && !b.Date.IsZero() {
		if end, err := parseClock(b.Date, raw); err == nil {
			b.End = end
		}
	}
	if raw := cell(8); raw != "" {
		svc, err := ParseService(raw)
		if err != nil {
			// keep unknown labels so they survive a rebook round trip
			svc = Service(raw)
		}
		b.Service = svc
	}
	return b, nil
}

func parseDate(raw string, loc *time.Location) (time.Time, error) {
	layouts := []string{DateLayout, "2006-01-02 15:04:05", "02/01/2006", "2/1/2006"}
	for _, layout := range layouts {
		if t, err := time.ParseInLocation(layout, raw, loc); err == nil {
			return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc), nil
		}
	}
	return time.Time{}, fmt.Errorf("cannot parse date: %s", raw)
}

func parseClock(date time.Time, raw string) (time.Time, error) {
	for _, layout := range []string{TimeLayout, "15:04"} {
		if t, err := time.Parse(layout, raw); err == nil {
			return time.Date(date.Year(), date.Month(), date.Day(), t.Hour(), t.Minute(), t.Second(), 0, date.Location()), nil
		}
	}
	return time.Time{}, fmt.Errorf("cannot parse time: %s", raw)
}

// PhoneSuffix returns the last 9 digits of a phone number, so that
// "+61 412 345 678" and "0412345678" compare equal.
func PhoneSuffix(phone string) string {
	digits := FilterDigits(phone)
	if len(digits) > 9 {
		return digits[len(digits)-9:]
	}
	return digits
}

// FilterDigits drops every non-digit rune.
func FilterDigits(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
